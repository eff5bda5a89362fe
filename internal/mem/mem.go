// Package mem gives the rest of the module a narrow view of an address
// space: the live process, or a mapped image held in a byte buffer.
package mem

import (
	"encoding/binary"
	"errors"
	"unsafe"
)

var (
	// ErrRange means the address is outside the readable space
	ErrRange = errors.New("address out of range")
	// ErrWidth means a field width other than 1, 2, 4 or 8
	ErrWidth = errors.New("unsupported field width")
)

// Reader reads bytes of an address space. Read may return fewer than n
// bytes when the space ends before addr+n.
type Reader interface {
	Read(addr uintptr, n int) ([]byte, error)
}

// Memory is a Reader that can also be written. WriteCode is used for
// executable pages and takes care of page protection.
type Memory interface {
	Reader
	Write(addr uintptr, b []byte) error
	WriteCode(addr uintptr, b []byte) error
}

// Buffer is a flat address space starting at Base.
type Buffer struct {
	Base uintptr
	Data []byte
}

// NewBuffer allocates a zeroed buffer of size bytes mapped at base.
func NewBuffer(base uintptr, size int) *Buffer {
	return &Buffer{Base: base, Data: make([]byte, size)}
}

// Contains reports whether addr is inside the buffer.
func (b *Buffer) Contains(addr uintptr) bool {
	return addr >= b.Base && addr < b.Base+uintptr(len(b.Data))
}

func (b *Buffer) Read(addr uintptr, n int) ([]byte, error) {
	if !b.Contains(addr) || n < 0 {
		return nil, ErrRange
	}
	off := int(addr - b.Base)
	end := off + n
	if end > len(b.Data) {
		end = len(b.Data)
	}
	return b.Data[off:end:end], nil
}

func (b *Buffer) Write(addr uintptr, p []byte) error {
	if len(p) == 0 {
		return nil
	}
	if !b.Contains(addr) || !b.Contains(addr+uintptr(len(p))-1) {
		return ErrRange
	}
	copy(b.Data[addr-b.Base:], p)
	return nil
}

func (b *Buffer) WriteCode(addr uintptr, p []byte) error {
	return b.Write(addr, p)
}

// ReadU32 reads a little-endian uint32.
func ReadU32(r Reader, addr uintptr) (uint32, error) {
	p, err := r.Read(addr, 4)
	if err != nil {
		return 0, err
	}
	if len(p) < 4 {
		return 0, ErrRange
	}
	return binary.LittleEndian.Uint32(p), nil
}

// ReadU64 reads a little-endian uint64.
func ReadU64(r Reader, addr uintptr) (uint64, error) {
	p, err := r.Read(addr, 8)
	if err != nil {
		return 0, err
	}
	if len(p) < 8 {
		return 0, ErrRange
	}
	return binary.LittleEndian.Uint64(p), nil
}

type process struct{}

// Process returns the address space of the current process. Reads are
// zero-copy views over the process memory; nothing validates that the
// pages are mapped.
func Process() Memory {
	return process{}
}

func (process) Read(addr uintptr, n int) ([]byte, error) {
	if addr == 0 || n < 0 {
		return nil, ErrRange
	}
	return makeSlice(addr, uintptr(n)), nil
}

func (process) Write(addr uintptr, b []byte) error {
	if addr == 0 {
		return ErrRange
	}
	copy(makeSlice(addr, uintptr(len(b))), b)
	return nil
}

func (process) WriteCode(addr uintptr, b []byte) error {
	if addr == 0 {
		return ErrRange
	}
	old, err := protectPages(addr, uintptr(len(b)))
	if err != nil {
		return err
	}
	copy(makeSlice(addr, uintptr(len(b))), b)
	return reProtectPages(addr, uintptr(len(b)), old)
}

func makeSlice(addr, size uintptr) []byte {
	return unsafe.Slice((*byte)(pointer(addr)), size)
}

// pointer is the one place a raw address becomes a pointer. The memory
// belongs to the host process, never to the Go heap, so reading the
// uintptr's bits as a pointer is sound.
func pointer(addr uintptr) unsafe.Pointer {
	return *(*unsafe.Pointer)(unsafe.Pointer(&addr))
}
