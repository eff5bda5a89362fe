package crash

import (
	"encoding/binary"
	"errors"
	"fmt"
	"path/filepath"
	"runtime/debug"

	"github.com/davecgh/go-spew/spew"
	"github.com/sirupsen/logrus"

	"github.com/k2io/gamehook"
	"github.com/k2io/gamehook/internal/logging"
	"github.com/k2io/gamehook/internal/mem"
	"github.com/k2io/gamehook/internal/module"
	"github.com/k2io/gamehook/internal/scan"
)

// DumpFileName is created in the persistent directory, replacing any
// previous dump.
const DumpFileName = "reframework_crash.dmp"

// stackScanSlots is how many stack qwords are checked for return addresses.
const stackScanSlots = 64

var (
	// ErrDumpLibrary means the minidump library could not be loaded
	ErrDumpLibrary = errors.New("cannot load dump library")
	// ErrDumpFile means the dump file could not be created
	ErrDumpFile = errors.New("cannot create dump file")
	// ErrUnsupported means the platform has no unhandled-exception filter
	ErrUnsupported = errors.New("crash handler not supported on this platform")
)

// MOV RBX, [RSI+RCX*8+disp32] reading with an index of -1.
var overlayDrawSig = scan.MustSignature("48 8B 9C CE")

// DumpWriter writes a crash dump of the current process.
type DumpWriter interface {
	WriteDump(path string, ctx *Context) error
}

// Options configure a Handler.
type Options struct {
	Log *logrus.Logger
	// Modules returns the current module table.
	Modules func() (*module.Table, error)
	Memory  mem.Memory
	// Patches applies the in-place crash fix.
	Patches *gamehook.Registry
	// CrashFix enables the overlay draw fix for this build.
	CrashFix bool
	Dumps    DumpWriter
	// Dir is the persistent directory the dump is written to.
	Dir string
}

// Handler classifies faults. It is safe to enter from any thread and to
// re-enter from the thread already inside it.
type Handler struct {
	opts Options
	log  *logrus.Entry
	mu   recursiveMutex
}

func NewHandler(opts Options) *Handler {
	if opts.Log == nil {
		opts.Log = logging.New(nil)
	}
	if opts.Modules == nil {
		opts.Modules = module.Current
	}
	if opts.Dumps == nil {
		opts.Dumps = DefaultDumpWriter()
	}
	if opts.Memory == nil {
		opts.Memory = mem.Process()
	}
	if opts.Patches == nil {
		opts.Patches = gamehook.Default()
	}
	return &Handler{
		opts: opts,
		log:  logging.For(opts.Log, "Crash"),
		mu:   recursiveMutex{tid: threadID},
	}
}

// Handle logs the fault and decides what the OS does next. A failure
// inside the handler itself, such as a fault reading memory, hands the
// exception on to the next handler.
func (h *Handler) Handle(ctx *Context) (d Disposition) {
	h.mu.Lock()
	defer h.mu.Unlock()
	defer debug.SetPanicOnFault(debug.SetPanicOnFault(true))
	defer func() {
		if v := recover(); v != nil {
			h.log.Errorf("Crash handler failed: %v", v)
			d = Delegate
		}
	}()

	logging.FlushOnError(h.opts.Log)

	h.log.Errorf("Exception occurred: %x", ctx.Code)
	for _, r := range ctx.registers() {
		h.log.Errorf("%s: %x", r.name, r.value)
	}
	if h.opts.Log.IsLevelEnabled(logrus.DebugLevel) {
		sp := spew.NewDefaultConfig()
		sp.MaxDepth = 2
		h.log.Debug(sp.Sdump(ctx))
	}

	mods, err := h.opts.Modules()
	if err != nil {
		h.log.WithError(err).Error("Cannot list modules")
		mods = module.NewTable(module.Region{})
	}
	h.logStack(ctx, mods)

	rip := uintptr(ctx.Rip)
	if region, ok := mods.Within(rip); ok {
		if h.opts.CrashFix && region.Base == mods.Executable().Base && uint32(ctx.Rcx) == 0xffffffff {
			if h.fixOverlayDraw(rip) {
				return Resume
			}
		}
		h.log.Errorf("Module: %x %s", region.Base, region.Path)
	} else {
		h.log.Error("Module: Unknown")
	}

	path := filepath.Join(h.opts.Dir, DumpFileName)
	h.log.Errorf("Attempting to write dump to %s", path)
	err = h.opts.Dumps.WriteDump(path, ctx)
	switch {
	case errors.Is(err, ErrDumpFile):
		h.log.WithError(err).Error("Exception occurred, but could not create dump file")
		return Delegate
	case errors.Is(err, ErrDumpLibrary):
		h.log.WithError(err).Error("Exception occurred, but could not load dbghelp.dll")
	case err != nil:
		h.log.WithError(err).Error("Failed to write dump")
	}
	return Terminate
}

// logStack reports every stack slot that points into a known module.
func (h *Handler) logStack(ctx *Context, mods *module.Table) {
	p, err := readCopy(h.opts.Memory, uintptr(ctx.Rsp), stackScanSlots*8)
	if err != nil {
		h.log.WithError(err).Error("Cannot read stack")
		return
	}
	h.log.Error("Stack:")
	for i := 0; i+8 <= len(p); i += 8 {
		v := uintptr(binary.LittleEndian.Uint64(p[i:]))
		region, ok := mods.Within(v)
		if !ok {
			continue
		}
		h.log.Errorf("  [RSP+%x] %s+%x", i, filepath.Base(region.Path), v-region.Base)
	}
}

// fixOverlayDraw rewrites MOV RBX, [RSI+RCX*8+disp32] at rip into
// MOV RBX, [RSI+disp32]; NOP so the -1 index is no longer applied.
func (h *Handler) fixOverlayDraw(rip uintptr) bool {
	h.log.Info("Attempting to fix overlay draw crash...")
	if !scan.Match(h.opts.Memory, rip, overlayDrawSig) {
		h.log.Info("Instructions did not match overlay draw crash.")
		return false
	}
	disp, err := mem.ReadU32(h.opts.Memory, rip+4)
	if err != nil {
		h.log.WithError(err).Error("Cannot read displacement")
		return false
	}
	fix := binary.LittleEndian.AppendUint32([]byte{0x48, 0x8b, 0x9e}, disp)
	fix = append(fix, 0x90)
	if _, err := h.opts.Patches.PatchBytes(rip, fix); err != nil {
		h.log.WithError(err).Error("Failed to patch overlay draw crash")
		return false
	}
	h.log.Info("Successfully patched overlay draw crash.")
	return true
}

// readCopy copies n bytes at addr, turning a fault on an unmapped page
// into an error. The caller must have enabled panic on fault.
func readCopy(r mem.Reader, addr uintptr, n int) (out []byte, err error) {
	defer func() {
		if v := recover(); v != nil {
			out, err = nil, fmt.Errorf("read %x: %v", addr, v)
		}
	}()
	p, err := r.Read(addr, n)
	if err != nil {
		return nil, err
	}
	return append([]byte(nil), p...), nil
}
