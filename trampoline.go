// Copyright (C) 2022 K2 Cyber Security Inc.
/*
Detours on x86-64 code.

TARGET FUNCTION
 - its first whole instructions (at least as long as the jump) are
   overwritten with a jump to the DETOUR, the remainder padded with NOP

TRAMPOLINE
 - holds the moved instructions followed by an absolute jump back to
   the first instruction after the overwritten area
 - calling it runs the original function

The jump into the detour is JMP rel32 when the detour is within 2GB of the
target and MOV R11, imm64; JMP R11 otherwise. R11 is swapped for RAX when
the moved instructions write R11.
*/

package gamehook

import (
	"strings"

	"golang.org/x/arch/x86/x86asm"
)

const (
	jmp32relLen = 5
	absJmpLen   = 13
	// enough for any prologue covering absJmpLen plus one long instruction
	prologueWindow = 32
)

type info struct {
	length      int
	relocatable bool
	// the moved code returns or jumps away before length
	terminated bool
	regAX      bool
	regR11     bool
}

// applyHook writes the trampoline, hands the hook to publish and only then
// writes the jump, so a detour entered at once finds its trampoline.
func (r *Registry) applyHook(target, detour uintptr, publish func(*hook)) (*hook, error) {
	patchLen := jmp32relLen
	if overflowsS32(target+jmp32relLen, detour) {
		patchLen = absJmpLen
	}
	src, err := r.mem.Read(target, prologueWindow)
	if err != nil {
		return nil, err
	}
	inf, err := ensureLength(src, patchLen)
	if err != nil {
		return nil, err
	}
	if !inf.relocatable {
		return nil, ErrRelativeAddr
	}
	if inf.terminated {
		return nil, ErrShortFunction
	}
	if inf.regAX && inf.regR11 {
		return nil, ErrNoScratch
	}
	useR11 := !inf.regR11

	jumper, err := r.alloc.Alloc(inf.length + absJmpLen)
	if err != nil {
		return nil, err
	}
	saved := append([]byte(nil), src[:inf.length]...)
	tramp := append(append([]byte(nil), saved...), absJump(target+uintptr(inf.length), useR11)...)
	if err := r.mem.WriteCode(jumper, tramp); err != nil {
		return nil, err
	}

	h := &hook{target: target, detour: detour, saved: saved, jumper: jumper}
	publish(h)

	var jmp []byte
	if patchLen == jmp32relLen {
		jmp = relJump(target, detour)
	} else {
		jmp = absJump(detour, useR11)
	}
	for len(jmp) < inf.length {
		jmp = append(jmp, 0x90) // NOP
	}
	if err := r.mem.WriteCode(target, jmp); err != nil {
		return nil, err
	}
	return h, nil
}

func relJump(from, to uintptr) []byte {
	addr := to - from - jmp32relLen
	return []byte{
		0xe9,                        // JMP rel32
		byte(addr), byte(addr >> 8), // .
		byte(addr >> 16), byte(addr >> 24), // .
	}
}

func absJump(addr uintptr, useR11 bool) []byte {
	if useR11 {
		return []byte{
			0x49, 0xbb, // MOV R11, addr64
			byte(addr), byte(addr >> 8), // .
			byte(addr >> 16), byte(addr >> 24), // .
			byte(addr >> 32), byte(addr >> 40), // .
			byte(addr >> 48), byte(addr >> 56), // .
			0x41, 0xff, 0xe3, // JMP R11
		}
	}
	return []byte{
		0x48, 0xb8, // MOV RAX, addr
		byte(addr), byte(addr >> 8), // .
		byte(addr >> 16), byte(addr >> 24), // .
		byte(addr >> 32), byte(addr >> 40), // .
		byte(addr >> 48), byte(addr >> 56), // .
		0xff, 0xe0, // JMP RAX
	}
}

func overflowsS32(v1, v2 uintptr) bool {
	diff := v2 - v1
	if v1 > v2 {
		diff = v1 - v2
	}
	return diff > 1<<31-1
}

func ensureLength(src []byte, size int) (info, error) {
	var inf info
	inf.relocatable = true
	for inf.length < size {
		i, err := analysis(src)
		if err != nil {
			return inf, err
		}
		inf.relocatable = inf.relocatable && i.relocatable
		inf.terminated = inf.terminated || i.terminated
		inf.regAX = inf.regAX || i.regAX
		inf.regR11 = inf.regR11 || i.regR11
		inf.length += i.length
		src = src[i.length:]
	}
	return inf, nil
}

func analysis(src []byte) (inf info, err error) {
	inst, err := x86asm.Decode(src, 64)
	if err != nil {
		return
	}
	inf.length = inst.Len
	inf.relocatable = true
	switch inst.Op {
	case x86asm.RET, x86asm.JMP, x86asm.INT:
		inf.terminated = true
	case x86asm.CMP, x86asm.TEST, x86asm.PUSH:
	default:
		if inst.Args[0] != nil {
			inf.regAX, inf.regR11 = writesScratch(inst.Args[0].String())
		}
	}
	if strings.HasPrefix(inst.Op.String(), "XCHG") && inst.Args[1] != nil {
		a, b := writesScratch(inst.Args[1].String())
		inf.regAX = inf.regAX || a
		inf.regR11 = inf.regR11 || b
	}
	for _, a := range inst.Args {
		if a == nil {
			break
		}
		if mem, ok := a.(x86asm.Mem); ok {
			if mem.Base == x86asm.RIP {
				inf.relocatable = false
				return
			}
		} else if _, ok := a.(x86asm.Rel); ok {
			inf.relocatable = false
			return
		}
	}
	return
}

func writesScratch(s string) (ax, r11 bool) {
	switch s {
	case "RAX", "EAX", "AX", "AH", "AL":
		ax = true
	case "R11", "R11L", "R11W", "R11B":
		r11 = true
	}
	return
}
