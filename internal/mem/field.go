package mem

import (
	"encoding/binary"
	"fmt"
)

// Field is a view of an integer at a fixed offset inside a foreign
// structure whose layout is only known after discovery.
type Field struct {
	Offset uintptr
	Width  int
}

// NewField validates the width once so Get and Set never have to.
func NewField(offset uintptr, width int) (Field, error) {
	switch width {
	case 1, 2, 4, 8:
		return Field{Offset: offset, Width: width}, nil
	}
	return Field{}, fmt.Errorf("%w: %d", ErrWidth, width)
}

// Valid reports whether the field came from NewField.
func (f Field) Valid() bool {
	return f.Width != 0
}

// Get reads the field of the structure at base.
func (f Field) Get(r Reader, base uintptr) (uint64, error) {
	p, err := r.Read(base+f.Offset, f.Width)
	if err != nil {
		return 0, err
	}
	if len(p) < f.Width {
		return 0, ErrRange
	}
	switch f.Width {
	case 1:
		return uint64(p[0]), nil
	case 2:
		return uint64(binary.LittleEndian.Uint16(p)), nil
	case 4:
		return uint64(binary.LittleEndian.Uint32(p)), nil
	case 8:
		return binary.LittleEndian.Uint64(p), nil
	}
	return 0, ErrWidth
}

// Set writes the field of the structure at base.
func (f Field) Set(m Memory, base uintptr, v uint64) error {
	var p [8]byte
	binary.LittleEndian.PutUint64(p[:], v)
	if f.Width == 0 {
		return ErrWidth
	}
	return m.Write(base+f.Offset, p[:f.Width])
}
