package mod

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/k2io/gamehook"
	"github.com/k2io/gamehook/internal/crash"
	"github.com/k2io/gamehook/internal/logging"
	"github.com/k2io/gamehook/internal/mem"
	"github.com/k2io/gamehook/internal/module"
	"github.com/k2io/gamehook/internal/raytrace"
	"github.com/k2io/gamehook/internal/sdk/sdktest"
)

const imageBase = 0x140000000

type fakeNatives struct{}

func (fakeNatives) Callback(any) (uintptr, error)    { return imageBase + 0x3000, nil }
func (fakeNatives) Call(uintptr, ...uintptr) uintptr { return 0 }

type fakeDumps struct {
	paths []string
}

func (f *fakeDumps) WriteDump(path string, _ *crash.Context) error {
	f.paths = append(f.paths, path)
	return nil
}

type fixture struct {
	rt        *sdktest.Runtime
	image     *mem.Buffer
	dumps     *fakeDumps
	installed *crash.Handler
	out       *bytes.Buffer
	host      Host
}

func newFixture(t *testing.T, exe, options string) *fixture {
	dir := t.TempDir()
	if options != "" {
		if err := os.WriteFile(filepath.Join(dir, OptionsFileName), []byte(options), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	f := &fixture{
		rt:    sdktest.New(),
		image: mem.NewBuffer(imageBase, 0x2000),
		dumps: &fakeDumps{},
		out:   &bytes.Buffer{},
	}
	log := logging.New(f.out)
	region := module.Region{Base: imageBase, Size: 0x2000, Path: exe}
	f.host = Host{
		Runtime:    f.rt,
		Dir:        dir,
		Log:        log,
		Executable: func() (string, error) { return exe, nil },
		Modules:    func() (*module.Table, error) { return module.NewTable(region), nil },
		Memory:     f.image,
		Hooks:      gamehook.NewRegistry(f.image, nil, log),
		Natives:    fakeNatives{},
		Dumps:      f.dumps,
		InstallCrash: func(h *crash.Handler) error {
			f.installed = h
			return nil
		},
	}
	return f
}

func TestAttachDrivesFrame(t *testing.T) {
	f := newFixture(t, `C:\Games\re2.exe`, "[ray_trace]\ntweaks = true\ntype = 2\n")
	cam := f.rt.AddCamera("MainCamera", sdktest.Camera{FOV: 90})
	typ := f.rt.AddType(raytrace.ComponentType)
	setMode := typ.On("set_RaytracingMode", nil)
	comp := f.rt.NewObject()
	f.rt.AttachComponent(f.rt.GameObjects[cam].Transform, raytrace.ComponentType, comp)

	m, err := Attach(f.host)
	if err != nil {
		t.Fatal(err)
	}
	if m.Variant() != "re2" {
		t.Fatalf("variant %q", m.Variant())
	}
	if !m.Options().RayTrace.Tweaks {
		t.Fatal("options file not loaded")
	}

	m.OnFrame()
	c := setMode.Calls()
	if len(c) != 1 || c[0].This != comp || c[0].Args[0].Int() != raytrace.DebugView.Raw() {
		t.Fatalf("set_RaytracingMode calls %+v", c)
	}
	if !strings.Contains(f.out.String(), "Setting up path trace hook") {
		t.Fatalf("frame did not run ray trace setup:\n%s", f.out)
	}

	m.UpdateOptions(func(o *Options) { o.RayTrace.Tweaks = false })
	m.OnFrame()
	if f.rt.RefCount(comp) != 0 {
		t.Fatal("disabling tweaks kept the component")
	}
}

func TestAttachInstallsCrashHandler(t *testing.T) {
	f := newFixture(t, `C:\Games\re8.exe`, "")
	m, err := Attach(f.host)
	if err != nil {
		t.Fatal(err)
	}
	if f.installed == nil || f.installed != m.CrashHandler() {
		t.Fatal("crash handler not installed")
	}
	ctx := &crash.Context{Code: 0xc0000005, Rip: imageBase + 0x10, Rsp: imageBase + 0x1000}
	if d := m.CrashHandler().Handle(ctx); d != crash.Terminate {
		t.Fatalf("disposition %v", d)
	}
	want := filepath.Join(f.host.Dir, crash.DumpFileName)
	if len(f.dumps.paths) != 1 || f.dumps.paths[0] != want {
		t.Fatalf("dumps %v, want %s", f.dumps.paths, want)
	}
}

func TestAttachFallbacks(t *testing.T) {
	f := newFixture(t, "/opt/game/unknown", "not = [toml")
	f.host.InstallCrash = func(*crash.Handler) error { return crash.ErrUnsupported }
	m, err := Attach(f.host)
	if err != nil {
		t.Fatal(err)
	}
	if m.Variant() != "generic" {
		t.Fatalf("variant %q", m.Variant())
	}
	if !m.Options().Ultrawide.Fix {
		t.Fatal("broken options file did not fall back to the defaults")
	}
	out := f.out.String()
	for _, want := range []string{"Using default options", "Crash handler not installed", "No function table"} {
		if !strings.Contains(out, want) {
			t.Errorf("log lacks %q:\n%s", want, out)
		}
	}
	m.OnFrame()
}

func TestAttachErrors(t *testing.T) {
	if _, err := Attach(Host{}); !errors.Is(err, ErrNoRuntime) {
		t.Fatalf("got %v", err)
	}
	f := newFixture(t, "re2.exe", "")
	boom := errors.New("boom")
	f.host.Modules = func() (*module.Table, error) { return nil, boom }
	if _, err := Attach(f.host); !errors.Is(err, boom) {
		t.Fatalf("got %v", err)
	}
	f.host.Executable = func() (string, error) { return "", boom }
	if _, err := Attach(f.host); !errors.Is(err, boom) {
		t.Fatalf("got %v", err)
	}
}
