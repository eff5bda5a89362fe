package mem

import (
	"errors"
	"sync"
)

// ErrArenaFull means a single allocation is larger than a chunk
var ErrArenaFull = errors.New("allocation larger than arena chunk")

const chunkSize = 64 << 10

// Allocator hands out executable memory for trampolines.
type Allocator interface {
	Alloc(n int) (uintptr, error)
}

// Arena is a bump allocator over executable chunks. Memory is never freed.
type Arena struct {
	mu    sync.Mutex
	alloc func(size int) (uintptr, error)
	base  uintptr
	used  int
}

// NewArena returns an arena backed by fresh RWX pages.
func NewArena() *Arena {
	return &Arena{alloc: allocExec}
}

// Alloc returns n bytes aligned to 16.
func (a *Arena) Alloc(n int) (uintptr, error) {
	if n > chunkSize {
		return 0, ErrArenaFull
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.used = (a.used + 15) &^ 15
	if a.base == 0 || a.used+n > chunkSize {
		base, err := a.alloc(chunkSize)
		if err != nil {
			return 0, err
		}
		a.base = base
		a.used = 0
	}
	p := a.base + uintptr(a.used)
	a.used += n
	return p, nil
}
