package gamehook

import (
	"fmt"
)

// Patch is a byte-level overwrite of code. Patches are permanent: the
// registry keeps them for the process lifetime and nothing reverts them.
type Patch struct {
	Addr uintptr
	// Bytes are the replacement; -1 keeps the original byte.
	Bytes []int16
	// Original holds the bytes that were overwritten.
	Original []byte
}

// Patch overwrites code at addr. The caller must already have confirmed
// with a signature that addr..addr+len(bytes) covers whole instructions.
func (r *Registry) Patch(addr uintptr, bytes []int16) (*Patch, error) {
	if len(bytes) == 0 {
		return nil, ErrEmptyPatch
	}
	r.lock.Lock()
	defer r.lock.Unlock()
	if _, ok := r.patches[addr]; ok {
		return nil, ErrDoublePatch
	}
	cur, err := r.mem.Read(addr, len(bytes))
	if err != nil {
		return nil, err
	}
	if len(cur) < len(bytes) {
		return nil, fmt.Errorf("patch %x: %d bytes readable, need %d", addr, len(cur), len(bytes))
	}
	p := &Patch{
		Addr:     addr,
		Bytes:    append([]int16(nil), bytes...),
		Original: append([]byte(nil), cur...),
	}
	out := make([]byte, len(bytes))
	for i, b := range bytes {
		if b < 0 {
			out[i] = p.Original[i]
			continue
		}
		out[i] = byte(b)
	}
	if err := r.mem.WriteCode(addr, out); err != nil {
		return nil, err
	}
	r.patches[addr] = p
	r.log.Infof("Patched %d bytes @ %x", len(out), addr)
	return p, nil
}

// PatchBytes is Patch without wildcards.
func (r *Registry) PatchBytes(addr uintptr, b []byte) (*Patch, error) {
	v := make([]int16, len(b))
	for i, x := range b {
		v[i] = int16(x)
	}
	return r.Patch(addr, v)
}

// Patches returns every applied patch.
func (r *Registry) Patches() []*Patch {
	r.lock.Lock()
	defer r.lock.Unlock()
	out := make([]*Patch, 0, len(r.patches))
	for _, p := range r.patches {
		out = append(out, p)
	}
	return out
}
