package mem

import (
	"golang.org/x/sys/windows"
)

// protection is a PAGE_* constant.
type protection = uint32

// protectPages makes the range writable and returns the protection of its
// first page, which reProtectPages puts back.
func protectPages(addr, size uintptr) (protection, error) {
	var old uint32
	err := windows.VirtualProtect(addr, size, windows.PAGE_EXECUTE_READWRITE, &old)
	return old, err
}

func reProtectPages(addr, size uintptr, old protection) error {
	var cur uint32
	return windows.VirtualProtect(addr, size, old, &cur)
}

func allocExec(size int) (uintptr, error) {
	return windows.VirtualAlloc(0, uintptr(size),
		windows.MEM_COMMIT|windows.MEM_RESERVE, windows.PAGE_EXECUTE_READWRITE)
}
