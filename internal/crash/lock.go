package crash

import (
	"sync"
	"sync/atomic"
)

// recursiveMutex may be locked again by the thread holding it, so a fault
// raised while handling a fault does not deadlock. A zero thread id means
// the platform cannot tell threads apart and the lock does not recurse.
type recursiveMutex struct {
	mu    sync.Mutex
	owner atomic.Int64
	depth int
	tid   func() int64
}

func (m *recursiveMutex) Lock() {
	m.lockAs(m.tid())
}

func (m *recursiveMutex) lockAs(id int64) {
	if id != 0 && m.owner.Load() == id {
		m.depth++
		return
	}
	m.mu.Lock()
	m.owner.Store(id)
	m.depth = 1
}

func (m *recursiveMutex) Unlock() {
	m.depth--
	if m.depth == 0 {
		m.owner.Store(0)
		m.mu.Unlock()
	}
}
