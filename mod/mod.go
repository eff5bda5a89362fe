// Package mod is the entry point for the host's mod layer. Attach detects
// the running build, loads the user options, installs the crash handler
// and returns the graphics callbacks the host drives every frame.
package mod

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"github.com/k2io/gamehook"
	"github.com/k2io/gamehook/internal/config"
	"github.com/k2io/gamehook/internal/crash"
	"github.com/k2io/gamehook/internal/graphics"
	"github.com/k2io/gamehook/internal/logging"
	"github.com/k2io/gamehook/internal/mem"
	"github.com/k2io/gamehook/internal/module"
	"github.com/k2io/gamehook/internal/native"
	"github.com/k2io/gamehook/internal/raytrace"
	"github.com/k2io/gamehook/internal/scan"
	"github.com/k2io/gamehook/internal/sdk"
)

// OptionsFileName is read from the persistent directory on Attach.
const OptionsFileName = "gamehook.toml"

// ErrNoRuntime means Attach was called without a host runtime
var ErrNoRuntime = errors.New("no host runtime")

// Types the host implements or passes to the callbacks.
type (
	Runtime    = sdk.Runtime
	Object     = sdk.Object
	Surface    = graphics.Surface
	SceneLayer = graphics.SceneLayer
	Options    = config.Options
)

// Host is what the embedding layer provides. Only Runtime is required.
type Host struct {
	Runtime Runtime
	// Dir is the persistent directory holding the options and crash dumps.
	Dir string
	Log *logrus.Logger
	// HMDActive reports a running VR session.
	HMDActive func() bool
	// HideGUIPressed reports a fresh press of the hide-GUI key.
	HideGUIPressed func() bool

	// The rest select the running process when left empty.
	Executable   func() (string, error)
	Modules      func() (*module.Table, error)
	Memory       mem.Memory
	Hooks        *gamehook.Registry
	Natives      native.Natives
	Dumps        crash.DumpWriter
	InstallCrash func(*crash.Handler) error
}

func (h *Host) defaults() {
	if h.Log == nil {
		h.Log = logging.New(nil)
	}
	if h.Executable == nil {
		h.Executable = os.Executable
	}
	if h.Modules == nil {
		h.Modules = module.Current
	}
	if h.Memory == nil {
		h.Memory = mem.Process()
	}
	if h.Hooks == nil {
		h.Hooks = gamehook.Default()
	}
	if h.Natives == nil {
		h.Natives = native.Default()
	}
	if h.InstallCrash == nil {
		h.InstallCrash = crash.Install
	}
}

// Mod is an attached instance. The graphics callbacks (OnFrame, OnPresent,
// OnPreApplicationEntry and the rest) are promoted from the embedded mod.
type Mod struct {
	*graphics.Mod

	store    *config.Store
	variant  *config.Variant
	rayTrace *raytrace.Controller
	crash    *crash.Handler
	log      *logrus.Entry
}

// Attach wires every component for the running build. A missing or broken
// options file falls back to the defaults, and a platform without an
// exception filter runs without the crash handler.
func Attach(host Host) (*Mod, error) {
	if host.Runtime == nil {
		return nil, ErrNoRuntime
	}
	host.defaults()
	log := logging.For(host.Log, "Mod")

	path := filepath.Join(host.Dir, OptionsFileName)
	opts, err := config.LoadOptions(path)
	if err != nil {
		log.WithError(err).Warn("Using default options")
	}

	exe, err := host.Executable()
	if err != nil {
		return nil, fmt.Errorf("cannot locate executable: %w", err)
	}
	variant, err := config.Detect(exe)
	if err != nil {
		return nil, fmt.Errorf("cannot detect build: %w", err)
	}
	log.Infof("Detected %s from %s", variant.Name, filepath.Base(exe))

	mods, err := host.Modules()
	if err != nil {
		return nil, fmt.Errorf("cannot list modules: %w", err)
	}
	region := mods.Executable()
	funcs, err := module.FunctionTable(host.Memory, region.Base)
	if err != nil {
		log.WithError(err).Warn("No function table, using padding heuristics")
	}

	m := &Mod{
		store:   config.NewStore(opts),
		variant: variant,
		log:     log,
	}
	if variant.RayTracing {
		m.rayTrace = raytrace.NewController(raytrace.Deps{
			Runtime: host.Runtime,
			Store:   m.store,
			Variant: variant,
			Locator: scan.NewLocator(host.Memory, region, funcs),
			Memory:  host.Memory,
			Hooks:   host.Hooks,
			Natives: host.Natives,
			Log:     logging.For(host.Log, "RayTrace"),
		})
	}
	m.Mod = graphics.New(graphics.Deps{
		Runtime:        host.Runtime,
		Store:          m.store,
		Variant:        variant,
		Log:            host.Log,
		RayTrace:       m.rayTrace,
		HMDActive:      host.HMDActive,
		HideGUIPressed: host.HideGUIPressed,
	})

	m.crash = crash.NewHandler(crash.Options{
		Log:      host.Log,
		Modules:  host.Modules,
		Memory:   host.Memory,
		Patches:  host.Hooks,
		CrashFix: variant.CrashFix,
		Dumps:    host.Dumps,
		Dir:      host.Dir,
	})
	if err := host.InstallCrash(m.crash); err != nil {
		log.WithError(err).Warn("Crash handler not installed")
	}
	return m, nil
}

// Variant is the detected build.
func (m *Mod) Variant() string {
	return m.variant.Name
}

// Options returns a copy of the current options.
func (m *Mod) Options() Options {
	return m.store.Get()
}

// UpdateOptions changes the options seen by the next callbacks.
func (m *Mod) UpdateOptions(fn func(*Options)) {
	m.store.Update(fn)
}

// CrashHandler is the handler given to the exception filter.
func (m *Mod) CrashHandler() *crash.Handler {
	return m.crash
}
