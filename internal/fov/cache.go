package fov

import (
	"sync"

	"github.com/k2io/gamehook/internal/sdk"
)

type fovEntry struct {
	ref   *sdk.Ref
	value float32
}

type verticalEntry struct {
	ref   *sdk.Ref
	value bool
}

// Cache remembers the FOV and vertical flag of every camera changed since
// the last restore. A camera is in a map exactly while that map holds a
// reference on it.
type Cache struct {
	rt sdk.Runtime

	mu       sync.RWMutex
	fov      map[sdk.Object]fovEntry
	vertical map[sdk.Object]verticalEntry
}

func NewCache(rt sdk.Runtime) *Cache {
	return &Cache{
		rt:       rt,
		fov:      map[sdk.Object]fovEntry{},
		vertical: map[sdk.Object]verticalEntry{},
	}
}

// SaveFOV records the camera's FOV, taking a reference on first sight.
func (c *Cache) SaveFOV(cam sdk.Object, v float32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.fov[cam]
	if !ok {
		e.ref = sdk.Hold(c.rt, cam)
	}
	e.value = v
	c.fov[cam] = e
}

// SaveVertical records the camera's vertical flag, taking a reference on
// first sight.
func (c *Cache) SaveVertical(cam sdk.Object, v bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.vertical[cam]
	if !ok {
		e.ref = sdk.Hold(c.rt, cam)
	}
	e.value = v
	c.vertical[cam] = e
}

func (c *Cache) SavedFOV(cam sdk.Object) (float32, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.fov[cam]
	return e.value, ok
}

func (c *Cache) SavedVertical(cam sdk.Object) (bool, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.vertical[cam]
	return e.value, ok
}

// Tracked reports whether either map holds cam.
func (c *Cache) Tracked(cam sdk.Object) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, f := c.fov[cam]
	_, v := c.vertical[cam]
	return f || v
}

// Len returns the number of FOV and vertical entries.
func (c *Cache) Len() (fov, vertical int) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.fov), len(c.vertical)
}

// RestoreAll writes every saved value back, releases the references and
// empties the maps. A nil setter leaves its map untouched, as when the
// setter method does not exist in this build.
func (c *Cache) RestoreAll(setFOV func(sdk.Object, float32), setVertical func(sdk.Object, bool)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if setFOV != nil {
		for cam, e := range c.fov {
			setFOV(cam, e.value)
			e.ref.Release()
		}
		clear(c.fov)
	}
	if setVertical != nil {
		for cam, e := range c.vertical {
			setVertical(cam, e.value)
			e.ref.Release()
		}
		clear(c.vertical)
	}
}

// DropFOV forgets every saved FOV without writing it back.
func (c *Cache) DropFOV() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, e := range c.fov {
		e.ref.Release()
	}
	clear(c.fov)
}
