// Package native turns Go functions into code pointers a detour can jump
// to, and calls native code through a pointer.
package native

import (
	"errors"
)

// ErrUnsupported is returned where the platform has no callback mechanism.
var ErrUnsupported = errors.New("native calls are not supported on this platform")

// Natives is the boundary between Go and the host's native ABI.
type Natives interface {
	// Callback returns a native entry point for fn, a func whose arguments
	// and result are uintptr-sized.
	Callback(fn any) (uintptr, error)
	// Call invokes the function at addr.
	Call(addr uintptr, args ...uintptr) uintptr
}

// Default returns the natives of the running platform.
func Default() Natives {
	return platform{}
}
