package scan

import (
	"encoding/binary"
	"testing"

	"golang.org/x/arch/x86/x86asm"

	"github.com/k2io/gamehook/internal/mem"
	"github.com/k2io/gamehook/internal/module"
)

const imageBase = 0x140001000

func put(b *mem.Buffer, off int, p ...byte) {
	copy(b.Data[off:], p)
}

func rel32(from, to int) []byte {
	return binary.LittleEndian.AppendUint32(nil, uint32(int32(to-from)))
}

func TestDispSize(t *testing.T) {
	cases := []struct {
		raw  []byte
		want int
	}{
		{[]byte{0x83, 0xb9, 0x10, 0x00, 0x00, 0x00, 0x06}, 4},
		{[]byte{0x83, 0x79, 0x10, 0x06}, 1},
		{[]byte{0x83, 0x39, 0x06}, 0},
		{[]byte{0x48, 0x8d, 0x15, 0, 0, 0, 0}, 4},
		{[]byte{0x66, 0x41, 0x83, 0xbc, 0x24, 0x10, 0x00, 0x00, 0x00, 0x06}, 4},
		{[]byte{0x0f, 0xb6, 0x41, 0x08}, 1},
	}
	for _, c := range cases {
		if got := dispSize(c.raw); got != c.want {
			t.Errorf("dispSize(% x) = %d, want %d", c.raw, got, c.want)
		}
	}
}

func TestDecodeCmpOperands(t *testing.T) {
	b := mem.NewBuffer(0x1000, 16)
	put(b, 0, 0x83, 0xb9, 0x34, 0x12, 0x00, 0x00, 0x06)
	inst, err := Decode(b, 0x1000)
	if err != nil {
		t.Fatal(err)
	}
	if inst.Mnemonic() != "CMP" || inst.Len != 7 {
		t.Fatalf("got %s len %d", inst.Mnemonic(), inst.Len)
	}
	m, ok := inst.Mem(0)
	if !ok || m.Base != x86asm.RCX || m.Disp != 0x1234 {
		t.Fatalf("mem operand %+v %v", m, ok)
	}
	if imm, ok := inst.Imm(1); !ok || imm != 6 {
		t.Fatalf("imm %d %v", imm, ok)
	}
	if inst.DispSize != 4 {
		t.Fatalf("disp size %d", inst.DispSize)
	}
}

// callImage: a call at 0 into a callee at 0x40 that holds a marker
// compare (imm 0x7f); the caller compares against 6 after the call.
func callImage() *mem.Buffer {
	b := mem.NewBuffer(0x1000, 0x80)
	put(b, 0x00, 0xe8)
	put(b, 0x01, rel32(0x05, 0x40)...)
	put(b, 0x05, 0x83, 0xb9, 0x10, 0x00, 0x00, 0x00, 0x06)
	put(b, 0x0c, 0xc3)
	put(b, 0x40, 0x83, 0xb9, 0xef, 0xbe, 0x00, 0x00, 0x7f)
	put(b, 0x47, 0xc3)
	return b
}

func immediates(b *mem.Buffer, onCall Result) []int64 {
	var seen []int64
	Exhaust(b, 0x1000, 100, func(ctx *Context) Result {
		if ctx.Inst.Op == x86asm.CALL {
			return onCall
		}
		if imm, ok := ctx.Inst.Imm(1); ok {
			seen = append(seen, imm)
		}
		return Continue
	})
	return seen
}

func TestExhaustStepOverSkipsCallee(t *testing.T) {
	seen := immediates(callImage(), StepOver)
	if len(seen) != 1 || seen[0] != 6 {
		t.Fatalf("step over visited %v", seen)
	}
}

func TestExhaustContinueDescends(t *testing.T) {
	seen := immediates(callImage(), Continue)
	if len(seen) != 2 || seen[0] != 0x7f || seen[1] != 6 {
		t.Fatalf("continue visited %v", seen)
	}
}

func TestExhaustBudget(t *testing.T) {
	b := mem.NewBuffer(0x1000, 0x20)
	for i := range b.Data {
		b.Data[i] = 0x90
	}
	visits := 0
	n := Exhaust(b, 0x1000, 5, func(*Context) Result {
		visits++
		return Continue
	})
	if n != 5 || visits != 5 {
		t.Fatalf("consumed %d visited %d", n, visits)
	}
}

func TestExhaustBreak(t *testing.T) {
	b := callImage()
	visits := 0
	Exhaust(b, 0x1000, 100, func(*Context) Result {
		visits++
		return Break
	})
	if visits != 1 {
		t.Fatalf("visited %d after Break", visits)
	}
}

func TestExhaustSkipsUndecodable(t *testing.T) {
	b := mem.NewBuffer(0x1000, 3)
	// FF /7 does not exist; CLC; RET
	put(b, 0, 0xff, 0xf8, 0xc3)
	var ops []x86asm.Op
	Exhaust(b, 0x1000, 10, func(ctx *Context) Result {
		ops = append(ops, ctx.Inst.Op)
		return Continue
	})
	if len(ops) != 2 || ops[0] != x86asm.CLC || ops[1] != x86asm.RET {
		t.Fatalf("visited %v", ops)
	}
}

func TestExhaustBackwardJumpEnds(t *testing.T) {
	b := mem.NewBuffer(0x1000, 0x10)
	put(b, 0, 0x90, 0xeb, 0xfd, 0x90, 0xc3) // NOP; JMP -3; NOP; RET
	visits := 0
	Exhaust(b, 0x1000, 100, func(*Context) Result {
		visits++
		return Continue
	})
	if visits != 2 {
		t.Fatalf("visited %d, backward jump followed", visits)
	}
}

func TestSignature(t *testing.T) {
	sig, err := ParseSignature("48 8B ?? CE")
	if err != nil {
		t.Fatal(err)
	}
	if sig.String() != "48 8B ?? CE" {
		t.Fatalf("round trip %q", sig.String())
	}
	b := mem.NewBuffer(0x1000, 8)
	put(b, 2, 0x48, 0x8b, 0x9c, 0xce)
	if !Match(b, 0x1002, sig) {
		t.Fatal("no match at 0x1002")
	}
	if Match(b, 0x1003, sig) {
		t.Fatal("match at 0x1003")
	}
	if Match(b, 0x1006, sig) {
		t.Fatal("match past end of buffer")
	}
	if _, err := ParseSignature("48 XX"); err == nil {
		t.Fatal("bad byte accepted")
	}
}

// testImage lays out a tiny module:
//
//	0x020 called function (NOP NOP RET)
//	0x040 uncalled chunk: LEA RDX, [RIP+"RayTraceSettings"]; RET
//	0x060 MOV RAX, &"Bounce2"; RET
//	0x200 CALL 0x020
//	0x300 vtable slot -> 0x040
//	0x400 "RayTraceSettings", 0x480 "Bounce2", 0x500 L"Bounce2"
func testImage() (*mem.Buffer, module.Region) {
	b := mem.NewBuffer(imageBase, 0x1000)
	for i := 0; i < 0x20; i++ {
		b.Data[i] = 0xcc
	}
	put(b, 0x20, 0x90, 0x90, 0xc3)
	for i := 0x23; i < 0x40; i++ {
		b.Data[i] = 0xcc
	}
	put(b, 0x40, 0x48, 0x8d, 0x15)
	put(b, 0x43, rel32(0x47, 0x400)...)
	put(b, 0x47, 0xc3)
	for i := 0x48; i < 0x60; i++ {
		b.Data[i] = 0xcc
	}
	put(b, 0x60, 0x48, 0xb8)
	put(b, 0x62, binary.LittleEndian.AppendUint64(nil, imageBase+0x480)...)
	put(b, 0x6a, 0xc3)
	put(b, 0x200, 0xe8)
	put(b, 0x201, rel32(0x205, 0x20)...)
	put(b, 0x300, binary.LittleEndian.AppendUint64(nil, imageBase+0x40)...)
	put(b, 0x400, []byte("RayTraceSettings\x00")...)
	put(b, 0x480, []byte("Bounce2\x00")...)
	put(b, 0x500, encodeString("Bounce2", true)...)
	return b, module.Region{Base: imageBase, Size: 0x1000}
}

func TestFindString(t *testing.T) {
	b, region := testImage()
	l := NewLocator(b, region, nil)
	if a, ok := l.FindString("Bounce2", false); !ok || a != imageBase+0x480 {
		t.Fatalf("narrow: %x %v", a, ok)
	}
	if a, ok := l.FindString("Bounce2", true); !ok || a != imageBase+0x500 {
		t.Fatalf("wide: %x %v", a, ok)
	}
	if _, ok := l.FindString("Bounce3", false); ok {
		t.Fatal("found missing string")
	}
}

func TestFindStringRef(t *testing.T) {
	b, region := testImage()
	l := NewLocator(b, region, nil)
	if a, ok := l.FindStringRef("RayTraceSettings", false); !ok || a != imageBase+0x40 {
		t.Fatalf("rip-relative: %x %v", a, ok)
	}
	if a, ok := l.FindStringRef("Bounce2", false); !ok || a != imageBase+0x60 {
		t.Fatalf("absolute: %x %v", a, ok)
	}
	if _, ok := l.FindStringRef("Bounce2", true); ok {
		t.Fatal("wide literal has no reference")
	}
}

func TestFindFunctionStartHeuristic(t *testing.T) {
	b, region := testImage()
	l := NewLocator(b, region, nil)
	if fn, ok := l.FindFunctionStart(imageBase + 0x45); !ok || fn != imageBase+0x40 {
		t.Fatalf("start: %x %v", fn, ok)
	}
	if fn, ok := l.FindFunctionStartWithCall(imageBase + 0x45); !ok || fn != imageBase+0x20 {
		t.Fatalf("with call: %x %v", fn, ok)
	}
	if fn, ok := l.FindVirtualFunctionStart(imageBase + 0x45); !ok || fn != imageBase+0x40 {
		t.Fatalf("virtual: %x %v", fn, ok)
	}
	if _, ok := l.FindFunctionStart(imageBase + 0x2000); ok {
		t.Fatal("start outside module")
	}
}

func TestFindFunctionStartTable(t *testing.T) {
	b, region := testImage()
	funcs := []module.RuntimeFunction{{Begin: 0x20, End: 0x23}, {Begin: 0x40, End: 0x48}}
	l := NewLocator(b, region, funcs)
	if fn, ok := l.FindFunctionStart(imageBase + 0x45); !ok || fn != imageBase+0x40 {
		t.Fatalf("start: %x %v", fn, ok)
	}
	if _, ok := l.FindFunctionStart(imageBase + 0x30); ok {
		t.Fatal("padding resolved to a function")
	}
	if fn, ok := l.FindFunctionStartWithCall(imageBase + 0x45); !ok || fn != imageBase+0x20 {
		t.Fatalf("with call: %x %v", fn, ok)
	}
}

func TestFindSignature(t *testing.T) {
	b, region := testImage()
	l := NewLocator(b, region, nil)
	if a, ok := l.FindSignature(MustSignature("48 8D 15 ?? ?? ?? ?? C3")); !ok || a != imageBase+0x40 {
		t.Fatalf("got %x %v", a, ok)
	}
	if _, ok := l.FindSignature(MustSignature("DE AD BE EF")); ok {
		t.Fatal("found missing signature")
	}
}

func TestCallTargetsBuiltOnce(t *testing.T) {
	b, region := testImage()
	l := NewLocator(b, region, nil)
	if fn, ok := l.FindFunctionStartWithCall(imageBase + 0x45); !ok || fn != imageBase+0x20 {
		t.Fatalf("first: %x %v", fn, ok)
	}
	// A call to the chunk added after the first search is not rescanned.
	put(b, 0x210, 0xe8)
	put(b, 0x211, rel32(0x215, 0x40)...)
	if fn, ok := l.FindFunctionStartWithCall(imageBase + 0x45); !ok || fn != imageBase+0x20 {
		t.Fatalf("cached: %x %v", fn, ok)
	}
	if fn, ok := NewLocator(b, region, nil).FindFunctionStartWithCall(imageBase + 0x45); !ok || fn != imageBase+0x40 {
		t.Fatalf("fresh: %x %v", fn, ok)
	}
}

func BenchmarkFindFunctionStartWithCall(b *testing.B) {
	buf, region := testImage()
	l := NewLocator(buf, region, nil)
	for i := 0; i < b.N; i++ {
		l.FindFunctionStartWithCall(imageBase + 0x45)
	}
}
