package native

import (
	"syscall"

	"golang.org/x/sys/windows"
)

type platform struct{}

// Callbacks are never freed; the runtime allows about two thousand.
func (platform) Callback(fn any) (uintptr, error) {
	return windows.NewCallback(fn), nil
}

func (platform) Call(addr uintptr, args ...uintptr) uintptr {
	r, _, _ := syscall.SyscallN(addr, args...)
	return r
}
