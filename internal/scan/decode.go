// Package scan decodes and searches x86-64 code in a module image.
package scan

import (
	"golang.org/x/arch/x86/x86asm"

	"github.com/k2io/gamehook/internal/mem"
)

// maxInstLen is the architectural limit of one x86 instruction.
const maxInstLen = 15

// Instruction is a decoded instruction at a known address.
type Instruction struct {
	x86asm.Inst
	Addr uintptr
	// Raw holds the instruction bytes.
	Raw []byte
	// DispSize is the width in bytes of the memory displacement, 0 when
	// the instruction has none.
	DispSize int
}

// Decode decodes one instruction at addr.
func Decode(r mem.Reader, addr uintptr) (Instruction, error) {
	src, err := r.Read(addr, maxInstLen)
	if err != nil {
		return Instruction{}, err
	}
	inst, err := x86asm.Decode(src, 64)
	if err != nil {
		return Instruction{}, err
	}
	in := Instruction{Inst: inst, Addr: addr, Raw: src[:inst.Len:inst.Len]}
	for _, a := range inst.Args {
		if a == nil {
			break
		}
		if _, ok := a.(x86asm.Mem); ok {
			in.DispSize = dispSize(in.Raw)
			break
		}
	}
	return in, nil
}

// Mnemonic is the upper-case operation name, e.g. "CMP".
func (i *Instruction) Mnemonic() string {
	return i.Op.String()
}

// End is the address of the next instruction.
func (i *Instruction) End() uintptr {
	return i.Addr + uintptr(i.Len)
}

// Mem returns argument n if it is a memory operand.
func (i *Instruction) Mem(n int) (x86asm.Mem, bool) {
	if n >= len(i.Args) || i.Args[n] == nil {
		return x86asm.Mem{}, false
	}
	m, ok := i.Args[n].(x86asm.Mem)
	return m, ok
}

// Imm returns argument n if it is an immediate.
func (i *Instruction) Imm(n int) (int64, bool) {
	if n >= len(i.Args) || i.Args[n] == nil {
		return 0, false
	}
	v, ok := i.Args[n].(x86asm.Imm)
	return int64(v), ok
}

// Rel returns the target of a relative branch or call.
func (i *Instruction) Rel() (uintptr, bool) {
	for _, a := range i.Args {
		if a == nil {
			break
		}
		if rel, ok := a.(x86asm.Rel); ok {
			return uintptr(int64(i.End()) + int64(rel)), true
		}
	}
	return 0, false
}

// RIPTarget returns the address a RIP-relative memory operand points at.
func (i *Instruction) RIPTarget() (uintptr, bool) {
	for _, a := range i.Args {
		if a == nil {
			break
		}
		if m, ok := a.(x86asm.Mem); ok && m.Base == x86asm.RIP {
			return uintptr(int64(i.End()) + m.Disp), true
		}
	}
	return 0, false
}

// dispSize reads the ModRM/SIB encoding to find the displacement width.
// VEX/EVEX encodings are not handled and report 0.
func dispSize(raw []byte) int {
	i := 0
prefixes:
	for i < len(raw) {
		switch raw[i] {
		case 0x26, 0x2e, 0x36, 0x3e, 0x64, 0x65, 0x66, 0x67, 0xf0, 0xf2, 0xf3:
			i++
		default:
			break prefixes
		}
	}
	if i < len(raw) && raw[i]&0xf0 == 0x40 {
		i++
	}
	if i >= len(raw) {
		return 0
	}
	if raw[i] == 0x0f {
		i++
		if i < len(raw) && (raw[i] == 0x38 || raw[i] == 0x3a) {
			i++
		}
	}
	i++
	if i >= len(raw) {
		return 0
	}
	modrm := raw[i]
	mod, rm := modrm>>6, modrm&7
	switch mod {
	case 1:
		return 1
	case 2:
		return 4
	case 3:
		return 0
	}
	if rm == 5 {
		return 4
	}
	if rm == 4 && i+1 < len(raw) && raw[i+1]&7 == 5 {
		return 4
	}
	return 0
}
