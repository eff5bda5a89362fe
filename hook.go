// Package gamehook installs detours and byte patches into x86-64 code of
// the running process and keeps every installed modification alive for
// the process lifetime.
package gamehook

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"github.com/k2io/gamehook/internal/logging"
	"github.com/k2io/gamehook/internal/mem"
)

type hook struct {
	target uintptr
	detour uintptr
	// the overwritten instructions
	saved []byte
	// the moved and jump back instructions
	jumper uintptr
}

var (
	// ErrDoubleHook means already hooked
	ErrDoubleHook = errors.New("double hook")
	// ErrHookNotFound means the hook not found
	ErrHookNotFound = errors.New("hook not found")
	// ErrRelativeAddr means the prologue cannot be moved
	ErrRelativeAddr = errors.New("relative address in instruction")
	// ErrNoScratch means both scratch registers are written by the prologue
	ErrNoScratch = errors.New("no scratch reg found")
	// ErrShortFunction means the function ends inside the patch area
	ErrShortFunction = errors.New("function shorter than patch")
	// ErrDoublePatch means a patch already exists at the address
	ErrDoublePatch = errors.New("double patch")
	// ErrEmptyPatch means a patch without bytes
	ErrEmptyPatch = errors.New("empty patch")
)

// Registry owns every hook and patch applied to one address space. Entries
// are keyed by target address and are never removed.
type Registry struct {
	mem   mem.Memory
	alloc mem.Allocator
	log   *logrus.Entry

	// protect the maps
	lock    sync.Mutex
	hooks   map[uintptr]*hook
	patches map[uintptr]*Patch
}

var (
	defaultRegistry *Registry
	defaultOnce     sync.Once
)

// Default returns the registry for the current process, created on first use.
func Default() *Registry {
	defaultOnce.Do(func() {
		defaultRegistry = NewRegistry(mem.Process(), mem.NewArena(), logging.New(nil))
	})
	return defaultRegistry
}

// NewRegistry returns a registry writing through m and placing trampolines
// in memory from alloc.
func NewRegistry(m mem.Memory, alloc mem.Allocator, log *logrus.Logger) *Registry {
	return &Registry{
		mem:     m,
		alloc:   alloc,
		log:     logging.For(log, "Hook"),
		hooks:   make(map[uintptr]*hook),
		patches: make(map[uintptr]*Patch),
	}
}

// Hook redirects target to detour and returns the address of a trampoline
// that runs the original code.
func (r *Registry) Hook(target, detour uintptr) (uintptr, error) {
	return r.hook(target, detour, nil)
}

// hook installs the detour. ready receives the trampoline before the jump
// is written and 0 if writing the jump fails.
func (r *Registry) hook(target, detour uintptr, ready func(original uintptr)) (uintptr, error) {
	r.lock.Lock()
	defer r.lock.Unlock()
	if _, ok := r.hooks[target]; ok {
		return 0, ErrDoubleHook
	}
	published := false
	h, err := r.applyHook(target, detour, func(h *hook) {
		r.hooks[target] = h
		published = true
		if ready != nil {
			ready(h.jumper)
		}
	})
	if err != nil {
		if published {
			delete(r.hooks, target)
			if ready != nil {
				ready(0)
			}
		}
		r.log.WithError(err).Errorf("Failed to hook %x", target)
		return 0, err
	}
	r.log.Infof("Hooked %x -> %x (original @ %x)", target, detour, h.jumper)
	return h.jumper, nil
}

// Original returns the trampoline of the hook installed at target.
func (r *Registry) Original(target uintptr) (uintptr, error) {
	r.lock.Lock()
	defer r.lock.Unlock()
	h, ok := r.hooks[target]
	if !ok {
		return 0, ErrHookNotFound
	}
	return h.jumper, nil
}

// FunctionHook is one detour owned by the component that created it.
type FunctionHook struct {
	reg      *Registry
	target   uintptr
	detour   uintptr
	original atomic.Uintptr
	bound    *atomic.Uintptr
	err      error
}

// NewFunctionHook prepares a hook in the process registry.
func NewFunctionHook(target, detour uintptr) *FunctionHook {
	return Default().NewFunctionHook(target, detour)
}

// NewFunctionHook prepares a hook; nothing is written until Create.
func (r *Registry) NewFunctionHook(target, detour uintptr) *FunctionHook {
	return &FunctionHook{reg: r, target: target, detour: detour}
}

// Bind makes Create store the trampoline in dst before the jump goes
// live. A detour reading dst never sees 0 once it can be entered.
func (h *FunctionHook) Bind(dst *atomic.Uintptr) *FunctionHook {
	h.bound = dst
	return h
}

// Create installs the hook. On false the detour is not active and
// Original returns 0.
func (h *FunctionHook) Create() bool {
	if h.original.Load() != 0 {
		return true
	}
	_, h.err = h.reg.hook(h.target, h.detour, func(original uintptr) {
		h.original.Store(original)
		if h.bound != nil {
			h.bound.Store(original)
		}
	})
	return h.err == nil
}

// Original is the trampoline address, 0 unless Create succeeded.
func (h *FunctionHook) Original() uintptr {
	return h.original.Load()
}

// Active reports whether Create succeeded.
func (h *FunctionHook) Active() bool {
	return h.original.Load() != 0
}

// Target is the hooked address.
func (h *FunctionHook) Target() uintptr {
	return h.target
}

// Err is the reason Create failed.
func (h *FunctionHook) Err() error {
	return h.err
}
