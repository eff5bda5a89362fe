//go:build !windows

package native

type platform struct{}

func (platform) Callback(fn any) (uintptr, error) {
	return 0, ErrUnsupported
}

func (platform) Call(addr uintptr, args ...uintptr) uintptr {
	panic(ErrUnsupported)
}
