package crash

import (
	"encoding/binary"
	"fmt"
	"sync/atomic"
	"unsafe"

	"golang.org/x/sys/windows"
)

const miniDumpNormal = 0

type miniDumpWriter struct {
	dbghelp *windows.LazyDLL
}

// DefaultDumpWriter writes minidumps with dbghelp.dll.
func DefaultDumpWriter() DumpWriter {
	return &miniDumpWriter{dbghelp: windows.NewLazySystemDLL("dbghelp.dll")}
}

func (w *miniDumpWriter) WriteDump(path string, ctx *Context) error {
	proc := w.dbghelp.NewProc("MiniDumpWriteDump")
	if err := proc.Find(); err != nil {
		return fmt.Errorf("%w: %v", ErrDumpLibrary, err)
	}
	name, err := windows.UTF16PtrFromString(path)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDumpFile, err)
	}
	f, err := windows.CreateFile(name, windows.GENERIC_WRITE, windows.FILE_SHARE_WRITE, nil,
		windows.CREATE_ALWAYS, windows.FILE_ATTRIBUTE_NORMAL, 0)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDumpFile, err)
	}
	defer windows.CloseHandle(f)

	// MINIDUMP_EXCEPTION_INFORMATION is 4-byte packed.
	var info [16]byte
	var infoPtr uintptr
	if ctx.Raw != 0 {
		binary.LittleEndian.PutUint32(info[0:], windows.GetCurrentThreadId())
		binary.LittleEndian.PutUint64(info[4:], uint64(ctx.Raw))
		infoPtr = uintptr(unsafe.Pointer(&info))
	}
	r, _, callErr := proc.Call(uintptr(windows.CurrentProcess()), uintptr(windows.GetCurrentProcessId()),
		uintptr(f), miniDumpNormal, infoPtr, 0, 0)
	if r == 0 {
		return fmt.Errorf("MiniDumpWriteDump: %w", callErr)
	}
	return nil
}

type exceptionRecord struct {
	Code             uint32
	Flags            uint32
	Record           uintptr
	Address          uintptr
	NumberParameters uint32
	Information      [15]uintptr
}

// winContext is the prefix of the amd64 CONTEXT up to Rip.
type winContext struct {
	PHome                      [6]uint64
	ContextFlags               uint32
	MxCsr                      uint32
	SegCs, SegDs, SegEs, SegFs uint16
	SegGs, SegSs               uint16
	EFlags                     uint32
	Dr0, Dr1, Dr2, Dr3         uint64
	Dr6, Dr7                   uint64
	Rax, Rcx, Rdx, Rbx         uint64
	Rsp, Rbp, Rsi, Rdi         uint64
	R8, R9, R10, R11           uint64
	R12, R13, R14, R15         uint64
	Rip                        uint64
}

type exceptionPointers struct {
	Record  *exceptionRecord
	Context *winContext
}

var installed atomic.Pointer[Handler]

// Install makes h the process's top-level unhandled-exception filter.
func Install(h *Handler) error {
	proc := windows.NewLazySystemDLL("kernel32.dll").NewProc("SetUnhandledExceptionFilter")
	if err := proc.Find(); err != nil {
		return err
	}
	installed.Store(h)
	proc.Call(windows.NewCallback(filter))
	return nil
}

func filter(ep *exceptionPointers) uintptr {
	h := installed.Load()
	if h == nil || ep == nil || ep.Record == nil || ep.Context == nil {
		return 0
	}
	c := ep.Context
	ctx := &Context{
		Code:   ep.Record.Code,
		Rip:    c.Rip,
		Rsp:    c.Rsp,
		Rax:    c.Rax,
		Rbx:    c.Rbx,
		Rcx:    c.Rcx,
		Rdx:    c.Rdx,
		Rbp:    c.Rbp,
		Rsi:    c.Rsi,
		Rdi:    c.Rdi,
		R8:     c.R8,
		R9:     c.R9,
		R10:    c.R10,
		R11:    c.R11,
		R12:    c.R12,
		R13:    c.R13,
		R14:    c.R14,
		R15:    c.R15,
		EFlags: c.EFlags,
		SegCs:  c.SegCs,
		SegDs:  c.SegDs,
		SegEs:  c.SegEs,
		SegFs:  c.SegFs,
		SegGs:  c.SegGs,
		SegSs:  c.SegSs,
		Raw:    uintptr(unsafe.Pointer(ep)),
	}
	return uintptr(int64(h.Handle(ctx).FilterResult()))
}
