package scan

import (
	"bytes"
	"encoding/binary"
	"sort"
	"sync"
	"unicode/utf16"

	"github.com/k2io/gamehook/internal/mem"
	"github.com/k2io/gamehook/internal/module"
)

const (
	// maxPaddingWalk bounds the backward walk when no function table exists.
	maxPaddingWalk = 0x4000
	// maxCandidates bounds how many function starts the *WithCall and
	// virtual searches try before giving up.
	maxCandidates = 64
)

// Locator finds functions and literals inside one module.
type Locator struct {
	r      mem.Reader
	region module.Region
	funcs  []module.RuntimeFunction

	once  sync.Once
	image []byte

	callsOnce sync.Once
	calls     map[uintptr]struct{}
}

// NewLocator returns a locator over region. funcs may be nil, in which
// case function starts are found by padding heuristics.
func NewLocator(r mem.Reader, region module.Region, funcs []module.RuntimeFunction) *Locator {
	return &Locator{r: r, region: region, funcs: funcs}
}

// Region returns the module being searched.
func (l *Locator) Region() module.Region {
	return l.region
}

// Reader returns the address space the module lives in.
func (l *Locator) Reader() mem.Reader {
	return l.r
}

func (l *Locator) bytes() []byte {
	l.once.Do(func() {
		p, err := l.r.Read(l.region.Base, int(l.region.Size))
		if err == nil {
			l.image = p
		}
	})
	return l.image
}

func (l *Locator) addr(off int) uintptr {
	return l.region.Base + uintptr(off)
}

// FindSignature returns the first match of sig in the module.
func (l *Locator) FindSignature(sig Signature) (uintptr, bool) {
	img := l.bytes()
	for i := 0; i+len(sig) <= len(img); i++ {
		if sig.matches(img[i:]) {
			return l.addr(i), true
		}
	}
	return 0, false
}

func encodeString(s string, wide bool) []byte {
	if !wide {
		return append([]byte(s), 0)
	}
	u := utf16.Encode([]rune(s))
	out := make([]byte, 0, 2*len(u)+2)
	for _, c := range u {
		out = binary.LittleEndian.AppendUint16(out, c)
	}
	return append(out, 0, 0)
}

func (l *Locator) stringsAt(s string, wide bool) []uintptr {
	img := l.bytes()
	needle := encodeString(s, wide)
	var out []uintptr
	for off := 0; off < len(img); {
		i := bytes.Index(img[off:], needle)
		if i < 0 {
			break
		}
		out = append(out, l.addr(off+i))
		off += i + 1
	}
	return out
}

// FindString returns the address of the zero-terminated literal.
func (l *Locator) FindString(s string, wide bool) (uintptr, bool) {
	found := l.stringsAt(s, wide)
	if len(found) == 0 {
		return 0, false
	}
	return found[0], true
}

// FindStringRef returns the start of the first instruction that references
// the literal, either RIP-relative or as a 64-bit immediate.
func (l *Locator) FindStringRef(s string, wide bool) (uintptr, bool) {
	for _, str := range l.stringsAt(s, wide) {
		if ref, ok := l.FindReference(str); ok {
			return ref, true
		}
	}
	return 0, false
}

// FindReference returns the start of the first instruction whose operand
// resolves to target.
func (l *Locator) FindReference(target uintptr) (uintptr, bool) {
	img := l.bytes()
	for i := 0; i+4 <= len(img); i++ {
		disp := int32(binary.LittleEndian.Uint32(img[i:]))
		if uintptr(int64(l.addr(i+4))+int64(disp)) != target {
			continue
		}
		if start, ok := l.resolveRIPRelative(l.addr(i), target); ok {
			return start, true
		}
	}
	for i := 2; i+8 <= len(img); i++ {
		if uintptr(binary.LittleEndian.Uint64(img[i:])) != target {
			continue
		}
		// MOV r64, imm64
		if img[i-2]&0xf8 == 0x48 && img[i-1]&0xf8 == 0xb8 {
			return l.addr(i - 2), true
		}
	}
	return 0, false
}

// resolveRIPRelative finds the instruction that owns the disp32 at dispAddr.
func (l *Locator) resolveRIPRelative(dispAddr, target uintptr) (uintptr, bool) {
	refers := func(start uintptr) bool {
		if start < l.region.Base {
			return false
		}
		inst, err := Decode(l.r, start)
		if err != nil || inst.End() < dispAddr+4 {
			return false
		}
		t, ok := inst.RIPTarget()
		return ok && t == target
	}
	for back := uintptr(1); back < maxInstLen; back++ {
		start := dispAddr - back
		if !refers(start) {
			continue
		}
		// The shortest decode may have dropped a REX prefix.
		if p, err := l.r.Read(start-1, 1); err == nil && len(p) == 1 && p[0]&0xf0 == 0x40 && refers(start-1) {
			return start - 1, true
		}
		return start, true
	}
	return 0, false
}

// FindFunctionStart returns the entry of the function containing addr.
func (l *Locator) FindFunctionStart(addr uintptr) (uintptr, bool) {
	if !l.region.Contains(addr) {
		return 0, false
	}
	if len(l.funcs) > 0 {
		rva := uint32(addr - l.region.Base)
		i := sort.Search(len(l.funcs), func(i int) bool { return l.funcs[i].End > rva })
		if i < len(l.funcs) && l.funcs[i].Begin <= rva {
			return l.addr(int(l.funcs[i].Begin)), true
		}
		return 0, false
	}
	img := l.bytes()
	for p := addr &^ 15; p > l.region.Base && addr-p < maxPaddingWalk; p -= 16 {
		off := int(p - l.region.Base)
		if off >= len(img) {
			continue
		}
		prev := img[off-1]
		if img[off] != 0xcc && (prev == 0xcc || prev == 0xc3) {
			return p, true
		}
	}
	return 0, false
}

func (l *Locator) previousStart(fn uintptr) (uintptr, bool) {
	if fn <= l.region.Base {
		return 0, false
	}
	if len(l.funcs) > 0 {
		rva := uint32(fn - l.region.Base)
		i := sort.Search(len(l.funcs), func(i int) bool { return l.funcs[i].Begin >= rva })
		if i == 0 {
			return 0, false
		}
		return l.addr(int(l.funcs[i-1].Begin)), true
	}
	return l.FindFunctionStart(fn - 1)
}

func (l *Locator) walkStarts(addr uintptr, accept func(fn uintptr) bool) (uintptr, bool) {
	fn, ok := l.FindFunctionStart(addr)
	for i := 0; ok && i < maxCandidates; i++ {
		if accept(fn) {
			return fn, true
		}
		fn, ok = l.previousStart(fn)
	}
	return 0, false
}

// FindFunctionStartWithCall walks function starts backward from addr and
// returns the first one that some CALL rel32 in the module targets. This
// skips split-off chunks that the function table lists separately.
func (l *Locator) FindFunctionStartWithCall(addr uintptr) (uintptr, bool) {
	return l.walkStarts(addr, l.isCallTarget)
}

// FindVirtualFunctionStart is FindFunctionStartWithCall for functions that
// are only reached through a vtable slot.
func (l *Locator) FindVirtualFunctionStart(addr uintptr) (uintptr, bool) {
	return l.walkStarts(addr, l.isPointerTarget)
}

// callTargets returns every address some CALL rel32 in the module lands
// on. It is built on first use.
func (l *Locator) callTargets() map[uintptr]struct{} {
	l.callsOnce.Do(func() {
		img := l.bytes()
		l.calls = map[uintptr]struct{}{}
		for i := 0; i+5 <= len(img); i++ {
			if img[i] != 0xe8 {
				continue
			}
			rel := int32(binary.LittleEndian.Uint32(img[i+1:]))
			t := uintptr(int64(l.addr(i+5)) + int64(rel))
			if l.region.Contains(t) {
				l.calls[t] = struct{}{}
			}
		}
	})
	return l.calls
}

func (l *Locator) isCallTarget(fn uintptr) bool {
	_, ok := l.callTargets()[fn]
	return ok
}

func (l *Locator) isPointerTarget(fn uintptr) bool {
	img := l.bytes()
	for i := 0; i+8 <= len(img); i += 8 {
		if uintptr(binary.LittleEndian.Uint64(img[i:])) == fn {
			return true
		}
	}
	return false
}
