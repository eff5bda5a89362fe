// Package module describes the images loaded in an address space.
package module

import (
	"sort"
	"sync"
)

// Region is a loaded image.
type Region struct {
	Base uintptr
	Size uintptr
	Path string
}

// End is one past the last byte of the image.
func (r Region) End() uintptr {
	return r.Base + r.Size
}

// Contains reports whether addr falls inside the image.
func (r Region) Contains(addr uintptr) bool {
	return addr >= r.Base && addr < r.End()
}

// Table is a sorted set of regions. The first region added with
// exe set is the main executable.
type Table struct {
	mu      sync.RWMutex
	regions []Region
	exe     Region
}

// NewTable builds a table; exe is the main executable and is also a member.
func NewTable(exe Region, others ...Region) *Table {
	t := &Table{exe: exe}
	t.regions = append(t.regions, exe)
	t.regions = append(t.regions, others...)
	sort.Slice(t.regions, func(i, j int) bool { return t.regions[i].Base < t.regions[j].Base })
	return t
}

// Executable returns the main executable.
func (t *Table) Executable() Region {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.exe
}

// Within returns the region containing addr.
func (t *Table) Within(addr uintptr) (Region, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	i := sort.Search(len(t.regions), func(i int) bool { return t.regions[i].End() > addr })
	if i < len(t.regions) && t.regions[i].Contains(addr) {
		return t.regions[i], true
	}
	return Region{}, false
}

// Path returns the file path of the region containing addr.
func (t *Table) Path(addr uintptr) (string, bool) {
	r, ok := t.Within(addr)
	if !ok || r.Path == "" {
		return "", false
	}
	return r.Path, true
}

// Regions returns a copy of every region.
func (t *Table) Regions() []Region {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return append([]Region(nil), t.regions...)
}
