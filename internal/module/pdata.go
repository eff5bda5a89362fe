package module

import (
	"encoding/binary"
	"errors"
	"sort"

	"github.com/k2io/gamehook/internal/mem"
)

// ErrNotPE means the image has no PE32+ headers
var ErrNotPE = errors.New("not a PE32+ image")

// RuntimeFunction is an entry of the PE exception directory. Begin and End
// are RVAs.
type RuntimeFunction struct {
	Begin  uint32
	End    uint32
	Unwind uint32
}

const (
	peMagic64        = 0x20b
	exceptionDirSlot = 3
)

// FunctionTable reads the exception directory of the PE image mapped at
// base. The result is sorted by Begin.
func FunctionTable(r mem.Reader, base uintptr) ([]RuntimeFunction, error) {
	lfanew, err := mem.ReadU32(r, base+0x3c)
	if err != nil {
		return nil, err
	}
	nt := base + uintptr(lfanew)
	sig, err := mem.ReadU32(r, nt)
	if err != nil {
		return nil, err
	}
	if sig != 0x4550 {
		return nil, ErrNotPE
	}
	opt := nt + 24
	hdr, err := r.Read(opt, 2)
	if err != nil || len(hdr) < 2 {
		return nil, ErrNotPE
	}
	if binary.LittleEndian.Uint16(hdr) != peMagic64 {
		return nil, ErrNotPE
	}
	dir := opt + 112 + exceptionDirSlot*8
	rva, err := mem.ReadU32(r, dir)
	if err != nil {
		return nil, err
	}
	size, err := mem.ReadU32(r, dir+4)
	if err != nil {
		return nil, err
	}
	if rva == 0 || size == 0 {
		return nil, nil
	}
	data, err := r.Read(base+uintptr(rva), int(size))
	if err != nil {
		return nil, err
	}
	funcs := make([]RuntimeFunction, 0, len(data)/12)
	for i := 0; i+12 <= len(data); i += 12 {
		f := RuntimeFunction{
			Begin:  binary.LittleEndian.Uint32(data[i:]),
			End:    binary.LittleEndian.Uint32(data[i+4:]),
			Unwind: binary.LittleEndian.Uint32(data[i+8:]),
		}
		if f.End > f.Begin {
			funcs = append(funcs, f)
		}
	}
	sort.Slice(funcs, func(i, j int) bool { return funcs[i].Begin < funcs[j].Begin })
	return funcs, nil
}
