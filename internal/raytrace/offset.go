package raytrace

import (
	"golang.org/x/arch/x86/x86asm"

	"github.com/k2io/gamehook/internal/mem"
	"github.com/k2io/gamehook/internal/scan"
)

// Vote is how often one displacement was compared against the sentinel.
type Vote struct {
	Offset int64
	Count  int
}

// CountModeComparisons sweeps the function at fn, stepping over calls, and
// tallies every CMP [reg+disp32], imm whose immediate equals sentinel.
// Votes are in first-encounter order.
func CountModeComparisons(r mem.Reader, fn uintptr, budget int, sentinel int64) []Vote {
	var votes []Vote
	index := map[int64]int{}
	scan.Exhaust(r, fn, budget, func(ctx *scan.Context) scan.Result {
		in := &ctx.Inst
		switch in.Op {
		case x86asm.CALL:
			return scan.StepOver
		case x86asm.CMP:
		default:
			return scan.Continue
		}
		m, ok := in.Mem(0)
		if !ok || m.Base == 0 || m.Base == x86asm.RIP || in.DispSize != 4 {
			return scan.Continue
		}
		imm, ok := in.Imm(1)
		if !ok || imm&0xffffffff != sentinel&0xffffffff {
			return scan.Continue
		}
		if i, seen := index[m.Disp]; seen {
			votes[i].Count++
		} else {
			index[m.Disp] = len(votes)
			votes = append(votes, Vote{Offset: m.Disp, Count: 1})
		}
		return scan.Continue
	})
	return votes
}

// PickOffset returns the most voted displacement. Ties go to the one seen
// first.
func PickOffset(votes []Vote) (Vote, bool) {
	if len(votes) == 0 {
		return Vote{}, false
	}
	best := votes[0]
	for _, v := range votes[1:] {
		if v.Count > best.Count {
			best = v
		}
	}
	return best, true
}

// DiscoverModeOffset finds the mode byte of the ray trace implementation
// object by voting over the comparisons in its draw function.
func DiscoverModeOffset(r mem.Reader, fn uintptr, budget int, sentinel int64) (mem.Field, []Vote, bool) {
	votes := CountModeComparisons(r, fn, budget, sentinel)
	best, ok := PickOffset(votes)
	if !ok || best.Offset < 0 {
		return mem.Field{}, votes, false
	}
	f, err := mem.NewField(uintptr(best.Offset), 1)
	if err != nil {
		return mem.Field{}, votes, false
	}
	return f, votes, true
}
