// Package raytrace drives the engine's experimental ray tracing: it finds
// the component on the primary camera, clones it, and renders extra passes
// with a different mode by rewriting the mode byte around the native draw.
package raytrace

import (
	"strings"
)

// Type is the user-facing ray trace mode. The engine's raw mode value is
// Type-1; Disabled leaves the game's choice alone.
type Type int32

const (
	Disabled Type = iota
	Default
	DebugView
	DebugLighting
	PathSpaceFilter
	ScreenSpacePhotonMapping
	Hybrid
	ASVGF
	Pure
)

var typeNames = [...]string{
	"Disabled",
	"Default",
	"Debug View",
	"Debug Lighting",
	"Path Space Filter",
	"Screen Space Photon Mapping",
	"Hybrid",
	"ASVGF",
	"Pure",
}

func (t Type) String() string {
	if t < 0 || int(t) >= len(typeNames) {
		return "Unknown"
	}
	return typeNames[t]
}

// Raw is the value the engine stores for t.
func (t Type) Raw() int32 {
	return int32(t) - 1
}

// enabled reports whether the pass configured with t should run.
func (t Type) enabled() bool {
	return t > Disabled
}

// tracesPaths reports whether bounce and sample settings apply.
func (t Type) tracesPaths() bool {
	return t == Hybrid || t == Pure
}

// IsPrimaryCameraName reports whether a camera node name looks like the
// main view: a "main" prefix in any case, or containing "DefaultCamera".
func IsPrimaryCameraName(name string) bool {
	return strings.HasPrefix(strings.ToLower(name), "main") || strings.Contains(name, "DefaultCamera")
}
