package sdk

import (
	"sync"
)

// Ref owns one reference count on a managed object: Hold increments it,
// Release decrements it exactly once.
type Ref struct {
	rt   Runtime
	obj  Object
	once sync.Once
}

// Hold takes a reference on o. It returns nil for a nil object.
func Hold(rt Runtime, o Object) *Ref {
	if o == 0 {
		return nil
	}
	rt.AddRef(o)
	return &Ref{rt: rt, obj: o}
}

// Get returns the object, or 0 once released or for a nil Ref.
func (r *Ref) Get() Object {
	if r == nil {
		return 0
	}
	return r.obj
}

// Release drops the reference. Further calls do nothing.
func (r *Ref) Release() {
	if r == nil {
		return
	}
	r.once.Do(func() {
		r.rt.Release(r.obj)
		r.obj = 0
	})
}
