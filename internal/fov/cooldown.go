package fov

import (
	"sync"
	"time"
)

// InventoryWindow is how long FOV changes stay suppressed after an
// inventory screen was drawn.
const InventoryWindow = 100 * time.Millisecond

// Cooldown remembers when a UI state last changed. It is read every frame
// and written rarely.
type Cooldown struct {
	mu     sync.RWMutex
	last   time.Time
	window time.Duration
	now    func() time.Time
}

// NewCooldown returns a cooldown; now may be nil to use the wall clock.
func NewCooldown(window time.Duration, now func() time.Time) *Cooldown {
	if now == nil {
		now = time.Now
	}
	return &Cooldown{window: window, now: now}
}

// Mark starts the window.
func (c *Cooldown) Mark() {
	t := c.now()
	c.mu.Lock()
	c.last = t
	c.mu.Unlock()
}

// Active reports whether the window started by the last Mark is still open.
func (c *Cooldown) Active() bool {
	c.mu.RLock()
	last := c.last
	c.mu.RUnlock()
	if last.IsZero() {
		return false
	}
	return c.now().Sub(last) < c.window
}
