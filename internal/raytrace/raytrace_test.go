package raytrace

import (
	"encoding/binary"
	"testing"

	"github.com/k2io/gamehook"
	"github.com/k2io/gamehook/internal/config"
	"github.com/k2io/gamehook/internal/logging"
	"github.com/k2io/gamehook/internal/mem"
	"github.com/k2io/gamehook/internal/module"
	"github.com/k2io/gamehook/internal/scan"
	"github.com/k2io/gamehook/internal/sdk"
	"github.com/k2io/gamehook/internal/sdk/sdktest"
)

const imageBase = 0x140000000

func put(b *mem.Buffer, off int, p ...byte) int {
	copy(b.Data[off:], p)
	return off + len(p)
}

func rel32(from, to int) []byte {
	return binary.LittleEndian.AppendUint32(nil, uint32(int32(to-from)))
}

// CMP dword [RCX+disp], imm
func cmp(disp, imm byte) []byte {
	return []byte{0x83, 0xb9, disp, 0, 0, 0, imm}
}

// rtImage lays out
//
//	0x100 draw impl: prologue, mode comparisons {0x10:2, 0x20:5, 0x30:3},
//	      a CALL to 0x600, LEA of "RayTraceSettings", RET
//	0x200 draw: prologue, LEA of "Bounce2", RET
//	0x600 helper comparing 0x50 ten times
//	0x800 CALL 0x100
//	0x900 vtable slot -> 0x200
//	0xa00 "Bounce2", 0xa80 "RayTraceSettings"
func rtImage(withStrings bool) *mem.Buffer {
	b := mem.NewBuffer(imageBase, 0x10000)
	for i := 0; i < 0x1000; i++ {
		b.Data[i] = 0xcc
	}
	off := put(b, 0x100, 0x48, 0x89, 0x5c, 0x24, 0x08, 0x57)
	for _, d := range []byte{0x10, 0x20, 0x30, 0x10, 0x20, 0x30, 0x20, 0x30, 0x20, 0x20} {
		off = put(b, off, cmp(d, 6)...)
	}
	off = put(b, off, cmp(0x40, 5)...)
	off = put(b, off, 0xe8)
	off = put(b, off, rel32(off+4, 0x600)...)
	off = put(b, off, 0x48, 0x8d, 0x15)
	off = put(b, off, rel32(off+4, 0xa80)...)
	put(b, off, 0x5f, 0xc3)

	off = put(b, 0x200, 0x48, 0x89, 0x5c, 0x24, 0x08, 0x57, 0x90, 0x90, 0x48, 0x8d, 0x15)
	off = put(b, off, rel32(off+4, 0xa00)...)
	put(b, off, 0x5f, 0xc3)

	off = 0x600
	for i := 0; i < 10; i++ {
		off = put(b, off, cmp(0x50, 6)...)
	}
	put(b, off, 0xc3)

	put(b, 0x800, 0xe8)
	put(b, 0x801, rel32(0x805, 0x100)...)
	put(b, 0x900, binary.LittleEndian.AppendUint64(nil, imageBase+0x200)...)
	if withStrings {
		put(b, 0xa00, []byte("Bounce2\x00")...)
		put(b, 0xa80, []byte("RayTraceSettings\x00")...)
	}
	return b
}

type bumpAlloc struct {
	next uintptr
}

func (a *bumpAlloc) Alloc(n int) (uintptr, error) {
	p := a.next
	a.next += uintptr(n+15) &^ 15
	return p, nil
}

type nativeCall struct {
	addr uintptr
	args []uintptr
}

type fakeNatives struct {
	next   uintptr
	calls  []nativeCall
	onCall func(n int, args []uintptr)
}

func (f *fakeNatives) Callback(fn any) (uintptr, error) {
	f.next += 0x100
	return f.next, nil
}

func (f *fakeNatives) Call(addr uintptr, args ...uintptr) uintptr {
	f.calls = append(f.calls, nativeCall{addr: addr, args: args})
	if f.onCall != nil {
		f.onCall(len(f.calls), args)
	}
	return uintptr(100 + len(f.calls))
}

func generic(t *testing.T) *config.Variant {
	t.Helper()
	v, ok := config.Lookup("generic")
	if !ok {
		t.Fatal("no generic variant")
	}
	return v
}

func newController(t *testing.T, b *mem.Buffer, rt sdk.Runtime, opts config.Options) (*Controller, *fakeNatives) {
	t.Helper()
	n := &fakeNatives{next: imageBase + 0x3000}
	log := logging.Discard()
	return NewController(Deps{
		Runtime: rt,
		Store:   config.NewStore(opts),
		Variant: generic(t),
		Locator: scan.NewLocator(b, module.Region{Base: imageBase, Size: uintptr(len(b.Data))}, nil),
		Memory:  b,
		Hooks:   gamehook.NewRegistry(b, &bumpAlloc{next: imageBase + 0x8000}, log),
		Natives: n,
		Log:     logging.For(log, "RayTrace"),
	}), n
}

func TestPickOffset(t *testing.T) {
	tests := []struct {
		votes []Vote
		want  int64
	}{
		{[]Vote{{0xa, 2}, {0xb, 5}, {0xc, 3}}, 0xb},
		{[]Vote{{0xa, 3}, {0xb, 3}}, 0xa},
		{[]Vote{{0xc, 1}}, 0xc},
	}
	for _, tt := range tests {
		v, ok := PickOffset(tt.votes)
		if !ok || v.Offset != tt.want {
			t.Errorf("PickOffset(%v) = %v", tt.votes, v)
		}
	}
	if _, ok := PickOffset(nil); ok {
		t.Error("picked from no votes")
	}
}

func TestCountModeComparisons(t *testing.T) {
	b := rtImage(true)
	votes := CountModeComparisons(b, imageBase+0x100, 1000, 6)
	want := []Vote{{0x10, 2}, {0x20, 5}, {0x30, 3}}
	if len(votes) != len(want) {
		t.Fatalf("votes %v, want %v", votes, want)
	}
	for i := range want {
		if votes[i] != want[i] {
			t.Fatalf("votes %v, want %v", votes, want)
		}
	}
	f, _, ok := DiscoverModeOffset(b, imageBase+0x100, 1000, 6)
	if !ok || f.Offset != 0x20 || f.Width != 1 {
		t.Fatalf("field %+v %v", f, ok)
	}
	if _, _, ok := DiscoverModeOffset(b, imageBase+0x200, 1000, 6); ok {
		t.Fatal("offset found in a function without comparisons")
	}
}

func TestDiscover(t *testing.T) {
	b := rtImage(true)
	c, _ := newController(t, b, sdktest.New(), config.DefaultOptions())
	d, err := Discover(c.Locator, c.Variant)
	if err != nil {
		t.Fatal(err)
	}
	if d.DrawImpl != imageBase+0x100 || d.Draw != imageBase+0x200 || d.ModeField.Offset != 0x20 {
		t.Fatalf("discovery %+v", d)
	}
}

func TestSetupHooksBothFunctions(t *testing.T) {
	b := rtImage(true)
	c, _ := newController(t, b, sdktest.New(), config.DefaultOptions())
	c.Setup()
	if !c.Ready() {
		t.Fatal("setup failed")
	}
	if c.ModeField().Offset != 0x20 {
		t.Fatalf("mode field %+v", c.ModeField())
	}
	if b.Data[0x100] != 0xe9 || b.Data[0x200] != 0xe9 {
		t.Fatalf("targets not patched: %x %x", b.Data[0x100], b.Data[0x200])
	}
	if c.drawImplOrig.Load() != imageBase+0x8000 {
		t.Fatalf("draw impl trampoline %x", c.drawImplOrig.Load())
	}
	orig := c.drawOrig.Load()
	c.Setup()
	if c.drawOrig.Load() != orig {
		t.Fatal("second setup reinstalled the draw hook")
	}
}

func TestSetupFailureDisablesFeature(t *testing.T) {
	b := rtImage(false)
	c, _ := newController(t, b, sdktest.New(), config.DefaultOptions())
	c.Setup()
	if c.Ready() || c.ModeField().Valid() {
		t.Fatal("setup succeeded without strings")
	}
	if b.Data[0x100] != 0x48 {
		t.Fatal("draw impl hooked")
	}
}

func TestDrawImplRestoresMode(t *testing.T) {
	obj := mem.NewBuffer(0x50000000, 0x100)
	obj.Data[0x20] = 3
	opts := config.DefaultOptions()
	opts.RayTrace.Tweaks = true
	opts.RayTrace.CloneTypePre = int32(Pure)
	opts.RayTrace.CloneTypePost = int32(ASVGF)

	c, n := newController(t, rtImage(true), sdktest.New(), opts)
	c.Memory = obj
	c.modeField = mem.Field{Offset: 0x20, Width: 1}
	c.drawImplOrig.Store(0x1234)
	var seen []byte
	n.onCall = func(_ int, args []uintptr) { seen = append(seen, obj.Data[0x20]) }

	res := c.DrawImpl(0x50000000, 1, 2, 3, 4)
	if string(seen) != string([]byte{7, 3, 6}) {
		t.Fatalf("modes during passes %v", seen)
	}
	if obj.Data[0x20] != 3 {
		t.Fatalf("mode left at %d", obj.Data[0x20])
	}
	if res != 102 {
		t.Fatalf("result %d, want the main pass result", res)
	}
	for _, call := range n.calls {
		if call.addr != 0x1234 || len(call.args) != 5 || call.args[4] != 4 {
			t.Fatalf("call %+v", call)
		}
	}
}

func TestDrawImplWithoutTweaks(t *testing.T) {
	obj := mem.NewBuffer(0x50000000, 0x100)
	obj.Data[0x20] = 3
	opts := config.DefaultOptions()
	opts.RayTrace.CloneTypePre = int32(Pure)

	c, n := newController(t, rtImage(true), sdktest.New(), opts)
	c.Memory = obj
	c.modeField = mem.Field{Offset: 0x20, Width: 1}
	c.drawImplOrig.Store(0x1234)
	c.DrawImpl(0x50000000, 0, 0, 0, 0)
	if len(n.calls) != 1 || obj.Data[0x20] != 3 {
		t.Fatalf("%d calls, mode %d", len(n.calls), obj.Data[0x20])
	}
}

func TestDrawSwapsClone(t *testing.T) {
	rt := sdktest.New()
	rt.AddType(ComponentType)
	comp := rt.NewObject()
	g := rt.AddGameObject("MainCamera", comp)
	rt.AttachComponent(g.Transform, ComponentType, comp)
	clone := rt.NewObject()

	opts := config.DefaultOptions()
	opts.RayTrace.Tweaks = true
	opts.RayTrace.CloneTypeTrue = int32(ASVGF)
	c, n := newController(t, rtImage(true), rt, opts)
	c.drawOrig.Store(0x4321)
	c.cloned = sdk.Hold(rt, clone)

	var slots []sdk.Object
	n.onCall = func(_ int, _ []uintptr) { slots = append(slots, rt.Components[g.Transform][ComponentType]) }
	res := c.Draw(uintptr(comp), 1, 2, 3)

	if len(n.calls) != 2 || n.calls[0].args[0] != uintptr(comp) || n.calls[1].args[0] != uintptr(clone) {
		t.Fatalf("calls %+v", n.calls)
	}
	if slots[0] != comp || slots[1] != clone {
		t.Fatalf("slot during draws %v", slots)
	}
	if rt.Components[g.Transform][ComponentType] != comp {
		t.Fatal("slot not restored")
	}
	if res != 101 {
		t.Fatalf("result %d", res)
	}
}

func TestDrawWithoutClone(t *testing.T) {
	rt := sdktest.New()
	c, n := newController(t, rtImage(true), rt, config.DefaultOptions())
	c.drawOrig.Store(0x4321)
	c.Draw(0x10, 0, 0, 0)
	if len(n.calls) != 1 {
		t.Fatalf("%d calls", len(n.calls))
	}
}

func TestDetoursWithoutTrampoline(t *testing.T) {
	opts := config.DefaultOptions()
	opts.RayTrace.Tweaks = true
	c, n := newController(t, rtImage(true), sdktest.New(), opts)
	if c.DrawImpl(imageBase+0xc00, 0, 0, 0, 0) != 0 || c.Draw(0x10, 0, 0, 0) != 0 {
		t.Fatal("detour returned a result without an original")
	}
	if len(n.calls) != 0 {
		t.Fatalf("native calls %+v", n.calls)
	}
}

// enteringMem runs a callback right after a jump lands on a watched
// address, as a render thread would when it reaches the function.
type enteringMem struct {
	*mem.Buffer
	enter map[uintptr]func()
}

func (m *enteringMem) WriteCode(addr uintptr, p []byte) error {
	if err := m.Buffer.WriteCode(addr, p); err != nil {
		return err
	}
	if f := m.enter[addr]; f != nil && len(p) > 0 && p[0] == 0xe9 {
		delete(m.enter, addr)
		f()
	}
	return nil
}

func TestDetourEnteredDuringInstall(t *testing.T) {
	b := rtImage(true)
	c, n := newController(t, b, sdktest.New(), config.DefaultOptions())
	m := &enteringMem{Buffer: b}
	c.Hooks = gamehook.NewRegistry(m, &bumpAlloc{next: imageBase + 0x8000}, logging.Discard())

	var implRes, drawRes uintptr
	m.enter = map[uintptr]func(){
		imageBase + 0x100: func() { implRes = c.DrawImpl(imageBase+0xc00, 1, 2, 3, 4) },
		imageBase + 0x200: func() { drawRes = c.Draw(0x10, 1, 2, 3) },
	}
	c.Setup()
	if !c.Ready() {
		t.Fatal("setup failed")
	}
	if len(m.enter) != 0 {
		t.Fatal("detours not entered")
	}
	if len(n.calls) != 2 || implRes == 0 || drawRes == 0 {
		t.Fatalf("calls %+v", n.calls)
	}
	if n.calls[0].addr != c.drawImplHook.Original() || n.calls[0].addr != imageBase+0x8000 {
		t.Fatalf("draw impl called %x", n.calls[0].addr)
	}
	if n.calls[1].addr != c.drawHook.Original() || n.calls[1].addr == 0 {
		t.Fatalf("draw called %x", n.calls[1].addr)
	}
}

func TestIsPrimaryCameraName(t *testing.T) {
	tests := map[string]bool{
		"MainCamera":           true,
		"main_cam":             true,
		"Player_DefaultCamera": true,
		"SubCamera":            false,
		"ScopeCamera":          false,
		"defaultcamera":        false,
		"":                     false,
	}
	for name, want := range tests {
		if got := IsPrimaryCameraName(name); got != want {
			t.Errorf("IsPrimaryCameraName(%q) = %v", name, got)
		}
	}
}

func rtRuntime(camera string) (*sdktest.Runtime, *sdktest.Type, *sdk.GameObject) {
	rt := sdktest.New()
	typ := rt.AddType(ComponentType)
	cam := rt.AddCamera(camera, sdktest.Camera{FOV: 90})
	return rt, typ, rt.GameObjects[cam]
}

func TestSetupComponentFindsExisting(t *testing.T) {
	rt, _, g := rtRuntime("MainCamera")
	comp := rt.NewObject()
	rt.AttachComponent(g.Transform, ComponentType, comp)
	c, _ := newController(t, rtImage(true), rt, config.DefaultOptions())

	c.SetupComponent()
	c.SetupComponent()
	if live, clone := c.Components(); live != comp || clone != 0 {
		t.Fatalf("components %x %x", live, clone)
	}
	if rt.RefCount(comp) != 1 {
		t.Fatalf("refcount %d", rt.RefCount(comp))
	}
	c.Reset()
	if rt.RefCount(comp) != 0 {
		t.Fatalf("refcount %d after reset", rt.RefCount(comp))
	}
}

func TestSetupComponentIgnoresSecondaryCamera(t *testing.T) {
	rt, _, g := rtRuntime("SubCamera")
	rt.AttachComponent(g.Transform, ComponentType, rt.NewObject())
	c, _ := newController(t, rtImage(true), rt, config.DefaultOptions())
	c.SetupComponent()
	if live, _ := c.Components(); live != 0 {
		t.Fatal("component taken from a secondary camera")
	}
}

func TestSetupComponentCreatesAndClones(t *testing.T) {
	rt, typ, g := rtRuntime("MainCamera")
	created := rt.NewObject()
	var sig string
	var arg sdk.Value
	rt.CallObjectFn = func(o sdk.Object, signature string, args []sdk.Value) (sdk.Value, bool) {
		if o != g.Handle {
			return 0, false
		}
		sig, arg = signature, args[0]
		return sdk.Obj(created), true
	}
	cloned := rt.NewObject()
	fulls := 0
	typ.Create = func(full bool) sdk.Object {
		if full {
			fulls++
		}
		return cloned
	}
	opts := config.DefaultOptions()
	opts.RayTrace.CloneTypeTrue = int32(ASVGF)
	c, _ := newController(t, rtImage(true), rt, opts)

	c.SetupComponent()
	if sig != "createComponent(System.Type)" || arg.Object() != typ.Runtime {
		t.Fatalf("created with %q %x", sig, arg)
	}
	live, clone := c.Components()
	if live != created || clone != cloned || fulls != 0 {
		t.Fatalf("components %x %x", live, clone)
	}
	if rt.RefCount(created) != 1 || rt.RefCount(cloned) != 1 {
		t.Fatal("handles not held")
	}

	rt.CallObjectFn = nil
	c.SetupComponent()
	if live, _ := c.Components(); live != 0 || rt.RefCount(created) != 0 {
		t.Fatal("lost component still held")
	}
}

func TestApplyTweaks(t *testing.T) {
	rt, typ, g := rtRuntime("MainCamera")
	comp := rt.NewObject()
	rt.AttachComponent(g.Transform, ComponentType, comp)
	cloned := rt.NewObject()
	typ.Create = func(bool) sdk.Object { return cloned }
	setMode := typ.On("set_RaytracingMode", nil)
	setBounce := typ.On("setBounce", nil)
	setSpp := typ.On("setSpp", nil)

	opts := config.DefaultOptions()
	opts.RayTrace.Type = int32(Pure)
	opts.RayTrace.CloneTypeTrue = int32(ASVGF)
	opts.RayTrace.BounceCount = 3
	opts.RayTrace.SamplesPerPixel = 4
	c, _ := newController(t, rtImage(true), rt, opts)
	c.ApplyTweaks()

	modes := setMode.Calls()
	if len(modes) != 2 || modes[0].This != comp || modes[0].Args[0].Int() != 7 || modes[1].This != cloned || modes[1].Args[0].Int() != 6 {
		t.Fatalf("set_RaytracingMode calls %+v", modes)
	}
	if b := setBounce.Calls(); len(b) != 1 || b[0].This != comp || b[0].Args[0].Int() != 3 {
		t.Fatalf("setBounce calls %+v", b)
	}
	if s := setSpp.Calls(); len(s) != 1 || s[0].Args[0].Int() != 4 {
		t.Fatalf("setSpp calls %+v", s)
	}
}
