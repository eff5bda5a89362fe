// Package crash is the last-chance fault handler: it logs the machine
// state, patches one known engine crash in place, and writes a minidump
// for everything else.
package crash

// Context is the machine state of a faulting thread.
type Context struct {
	Code uint32

	Rip, Rsp            uint64
	Rax, Rbx, Rcx, Rdx  uint64
	Rbp, Rsi, Rdi       uint64
	R8, R9, R10, R11    uint64
	R12, R13, R14, R15  uint64
	EFlags              uint32
	SegCs, SegDs, SegEs uint16
	SegFs, SegGs, SegSs uint16

	// Raw points at the OS exception pointers, handed to the dump writer.
	Raw uintptr
}

type register struct {
	name  string
	value uint64
}

func (c *Context) registers() []register {
	return []register{
		{"RIP", c.Rip}, {"RSP", c.Rsp},
		{"RCX", c.Rcx}, {"RDX", c.Rdx},
		{"R8", c.R8}, {"R9", c.R9}, {"R10", c.R10}, {"R11", c.R11},
		{"R12", c.R12}, {"R13", c.R13}, {"R14", c.R14}, {"R15", c.R15},
		{"RAX", c.Rax}, {"RBX", c.Rbx}, {"RBP", c.Rbp},
		{"RSI", c.Rsi}, {"RDI", c.Rdi},
		{"EFLAGS", uint64(c.EFlags)},
		{"CS", uint64(c.SegCs)}, {"DS", uint64(c.SegDs)}, {"ES", uint64(c.SegEs)},
		{"FS", uint64(c.SegFs)}, {"GS", uint64(c.SegGs)}, {"SS", uint64(c.SegSs)},
	}
}

// Disposition tells the OS what to do after the handler returns.
type Disposition int

const (
	// Terminate runs the default top-level handling; the process exits.
	Terminate Disposition = iota
	// Resume retries the faulting instruction.
	Resume
	// Delegate lets other handlers in the chain look at the fault.
	Delegate
)

func (d Disposition) String() string {
	switch d {
	case Resume:
		return "continue execution"
	case Delegate:
		return "continue search"
	default:
		return "execute handler"
	}
}

// FilterResult is the value an unhandled-exception filter returns.
func (d Disposition) FilterResult() int32 {
	switch d {
	case Resume:
		return -1 // EXCEPTION_CONTINUE_EXECUTION
	case Delegate:
		return 0 // EXCEPTION_CONTINUE_SEARCH
	default:
		return 1 // EXCEPTION_EXECUTE_HANDLER
	}
}
