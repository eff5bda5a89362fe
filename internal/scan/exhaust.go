package scan

import (
	"errors"

	"golang.org/x/arch/x86/x86asm"

	"github.com/k2io/gamehook/internal/mem"
)

// Result tells Exhaust how to continue after an instruction.
type Result int

const (
	// Continue advances to the next instruction and descends into direct calls.
	Continue Result = iota
	// StepOver treats a call as a single instruction.
	StepOver
	// Break ends the sweep.
	Break
)

// maxDepth bounds how many calls deep Continue may descend.
const maxDepth = 16

// Context is passed to the visitor for every decoded instruction.
type Context struct {
	Inst Instruction
	// Depth is the number of calls descended into.
	Depth int
}

// Visitor is called once per decoded instruction.
type Visitor func(ctx *Context) Result

// Exhaust sweeps forward from start, calling visit for at most budget
// instructions. Forward unconditional jumps are followed, backward ones end
// the path, conditional jumps fall through. Bytes that fail to decode are
// skipped one at a time. It returns the number of instructions consumed.
func Exhaust(r mem.Reader, start uintptr, budget int, visit Visitor) int {
	var stack []uintptr
	entered := map[uintptr]bool{start: true}
	ip := start
	n := 0
	for n < budget {
		inst, err := Decode(r, ip)
		if err != nil {
			if errors.Is(err, mem.ErrRange) {
				if len(stack) == 0 {
					return n
				}
				ip, stack = stack[len(stack)-1], stack[:len(stack)-1]
				continue
			}
			n++
			ip++
			continue
		}
		n++
		ctx := Context{Inst: inst, Depth: len(stack)}
		res := visit(&ctx)
		if res == Break {
			return n
		}
		next := inst.End()
		end := false
		switch inst.Op {
		case x86asm.CALL:
			if res != Continue {
				break
			}
			target, ok := inst.Rel()
			if ok && !entered[target] && len(stack) < maxDepth {
				entered[target] = true
				stack = append(stack, next)
				next = target
			}
		case x86asm.RET:
			end = true
		case x86asm.JMP:
			if target, ok := inst.Rel(); ok && target > ip {
				next = target
			} else {
				end = true
			}
		default:
			end = inst.Raw[0] == 0xcc
		}
		if end {
			if len(stack) == 0 {
				return n
			}
			next, stack = stack[len(stack)-1], stack[:len(stack)-1]
		}
		ip = next
	}
	return n
}
