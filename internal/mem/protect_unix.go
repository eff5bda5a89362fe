//go:build !windows

package mem

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

var pageSize = uintptr(unix.Getpagesize())

// protection is a PROT_* mask.
type protection = int

// reProtectPages applies old to every page of the range.
func reProtectPages(addr, size uintptr, old protection) error {
	start := pageSize * (addr / pageSize)
	length := pageSize * ((addr + size + pageSize - 1 - start) / pageSize)
	for i := uintptr(0); i < length; i += pageSize {
		data := makeSlice(start+i, pageSize)
		err := unix.Mprotect(data, old)
		if err != nil {
			return err
		}
	}
	return nil
}

// protectPages makes the range writable. mprotect cannot report the
// previous mask, so code pages are assumed to be read and execute.
func protectPages(addr, size uintptr) (protection, error) {
	start := pageSize * (addr / pageSize)
	length := pageSize * ((addr + size + pageSize - 1 - start) / pageSize)
	for i := uintptr(0); i < length; i += pageSize {
		data := makeSlice(start+i, pageSize)
		err := unix.Mprotect(data, unix.PROT_EXEC|unix.PROT_READ|unix.PROT_WRITE)
		if err != nil {
			return 0, err
		}
	}
	return unix.PROT_EXEC | unix.PROT_READ, nil
}

func allocExec(size int) (uintptr, error) {
	b, err := unix.Mmap(-1, 0, size,
		unix.PROT_READ|unix.PROT_WRITE|unix.PROT_EXEC,
		unix.MAP_PRIVATE|unix.MAP_ANON)
	if err != nil {
		return 0, err
	}
	return uintptr(unsafe.Pointer(&b[0])), nil
}
