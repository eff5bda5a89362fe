// Package config holds the per-build variant table and the user options.
package config

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/BurntSushi/toml"
)

const (
	// DefaultAspect is the ratio the games are authored for.
	DefaultAspect = float32(16.0 / 9.0)
	// ASVGF-1, the raw mode value the RT draw function compares against.
	defaultSentinel = 6
	defaultBudget   = 1000
)

//go:embed variants.toml
var variantsTOML []byte

// Variant describes one supported game build.
type Variant struct {
	Name        string   `toml:"-"`
	Executables []string `toml:"executables"`
	TDB         int      `toml:"tdb"`
	// MinAspect is the letterbox threshold, MaxAspect the pillarbox one.
	MinAspect float32 `toml:"min_aspect"`
	MaxAspect float32 `toml:"max_aspect"`

	RayTracing    bool   `toml:"ray_tracing"`
	RTSettingsRef string `toml:"rt_settings_ref"`
	RTDrawRef     string `toml:"rt_draw_ref"`
	RTSentinel    int64  `toml:"rt_sentinel"`
	ScanBudget    int    `toml:"scan_budget"`

	CrashFix              bool     `toml:"crash_fix"`
	HiddenGUI             []string `toml:"hidden_gui"`
	InventoryGUI          []string `toml:"inventory_gui"`
	ScopeTweaks           bool     `toml:"scope_tweaks"`
	SkipUpdateBehaviorFix bool     `toml:"skip_update_behavior_fix"`
	FixGUIViews           bool     `toml:"fix_gui_views"`
	// DisplayTypeFit is the via.DisplayType value that disables bars.
	DisplayTypeFit int32 `toml:"display_type_fit"`
}

// Hidden reports whether a GUI element of that name is always hidden.
func (v *Variant) Hidden(name string) bool {
	return contains(v.HiddenGUI, name)
}

// Inventory reports whether name is one of the inventory screens.
func (v *Variant) Inventory(name string) bool {
	return contains(v.InventoryGUI, name)
}

func contains(list []string, s string) bool {
	for _, e := range list {
		if e == s {
			return true
		}
	}
	return false
}

func (v *Variant) defaults() {
	if v.MinAspect == 0 {
		v.MinAspect = DefaultAspect
	}
	if v.MaxAspect == 0 {
		v.MaxAspect = DefaultAspect
	}
	if v.RTSettingsRef == "" {
		v.RTSettingsRef = "RayTraceSettings"
	}
	if v.RTDrawRef == "" {
		v.RTDrawRef = "Bounce2"
	}
	if v.RTSentinel == 0 {
		v.RTSentinel = defaultSentinel
	}
	if v.ScanBudget == 0 {
		v.ScanBudget = defaultBudget
	}
}

var (
	variantsOnce sync.Once
	variants     map[string]*Variant
	variantsErr  error
)

// Variants returns the embedded variant table keyed by name.
func Variants() (map[string]*Variant, error) {
	variantsOnce.Do(func() {
		variants, variantsErr = ParseVariants(variantsTOML)
	})
	return variants, variantsErr
}

// ParseVariants decodes a variant table.
func ParseVariants(data []byte) (map[string]*Variant, error) {
	var m map[string]*Variant
	md, err := toml.Decode(string(data), &m)
	if err != nil {
		return nil, fmt.Errorf("parse variants: %w", err)
	}
	if keys := md.Undecoded(); len(keys) > 0 {
		return nil, fmt.Errorf("parse variants: unknown keys %v", keys)
	}
	if _, ok := m["generic"]; !ok {
		return nil, fmt.Errorf("parse variants: no generic entry")
	}
	for name, v := range m {
		v.Name = name
		v.defaults()
	}
	return m, nil
}

// Names returns the variant names in order.
func Names(m map[string]*Variant) []string {
	names := make([]string, 0, len(m))
	for n := range m {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Detect picks the variant for an executable path, matched by file name
// without regard to case. It falls back to the generic variant.
func Detect(exe string) (*Variant, error) {
	m, err := Variants()
	if err != nil {
		return nil, err
	}
	base := strings.ToLower(filepath.Base(strings.ReplaceAll(exe, `\`, "/")))
	for _, name := range Names(m) {
		for _, e := range m[name].Executables {
			if strings.ToLower(e) == base {
				return m[name], nil
			}
		}
	}
	return m["generic"], nil
}

// Lookup returns a variant by name.
func Lookup(name string) (*Variant, bool) {
	m, err := Variants()
	if err != nil {
		return nil, false
	}
	v, ok := m[strings.ToLower(name)]
	return v, ok
}

// Options are the user-facing toggles.
type Options struct {
	Ultrawide UltrawideOptions `toml:"ultrawide"`
	RayTrace  RayTraceOptions  `toml:"ray_trace"`
	GUI       GUIOptions       `toml:"gui"`
	Scope     ScopeOptions     `toml:"scope"`

	ForceRenderResToWindow bool `toml:"force_render_res_to_window"`
}

type UltrawideOptions struct {
	Fix         bool    `toml:"fix"`
	VerticalFOV bool    `toml:"vertical_fov"`
	CustomFOV   bool    `toml:"custom_fov"`
	Multiplier  float32 `toml:"fov_multiplier"`
}

// RayTraceOptions use the raytrace.Type values; 0 disables a pass.
type RayTraceOptions struct {
	Tweaks          bool  `toml:"tweaks"`
	Type            int32 `toml:"type"`
	CloneTypePre    int32 `toml:"clone_type_pre"`
	CloneTypePost   int32 `toml:"clone_type_post"`
	CloneTypeTrue   int32 `toml:"clone_type_true"`
	BounceCount     int32 `toml:"bounce_count"`
	SamplesPerPixel int32 `toml:"samples_per_pixel"`
}

type GUIOptions struct {
	Disable bool `toml:"disable"`
}

type ScopeOptions struct {
	Tweaks       bool  `toml:"tweaks"`
	Interlaced   bool  `toml:"interlaced"`
	ImageQuality int32 `toml:"image_quality"`
}

// DefaultOptions returns the options used when nothing is configured.
func DefaultOptions() Options {
	return Options{
		Ultrawide: UltrawideOptions{Fix: true, Multiplier: 1},
		RayTrace: RayTraceOptions{
			Type:            1,
			BounceCount:     1,
			SamplesPerPixel: 1,
		},
	}
}

// LoadOptions reads TOML options over the defaults. A missing file yields
// the defaults.
func LoadOptions(path string) (Options, error) {
	opts := DefaultOptions()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return opts, nil
		}
		return opts, fmt.Errorf("cannot read %s: %w", path, err)
	}
	if err := toml.Unmarshal(data, &opts); err != nil {
		return DefaultOptions(), fmt.Errorf("parse error in %s: %w", path, err)
	}
	return opts, nil
}

// Store shares options between the UI and the frame callbacks.
type Store struct {
	mu   sync.RWMutex
	opts Options
}

func NewStore(opts Options) *Store {
	return &Store{opts: opts}
}

// Get returns a copy of the current options.
func (s *Store) Get() Options {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.opts
}

// Update mutates the options under the lock.
func (s *Store) Update(fn func(*Options)) {
	s.mu.Lock()
	fn(&s.opts)
	s.mu.Unlock()
}
