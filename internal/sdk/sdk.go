// Package sdk is the narrow view this module has of the host's managed
// object system. The host bridge implements Runtime; nothing here touches
// managed memory directly.
package sdk

import (
	"math"
)

// Object is an opaque handle to a managed object.
type Object uintptr

// Value is one raw argument or return slot of a method call.
type Value uint64

func Float(f float32) Value { return Value(math.Float32bits(f)) }
func Int(i int32) Value     { return Value(uint32(i)) }
func Obj(o Object) Value    { return Value(o) }

func Bool(b bool) Value {
	if b {
		return 1
	}
	return 0
}

func (v Value) Float() float32 { return math.Float32frombits(uint32(v)) }
func (v Value) Int() int32     { return int32(uint32(v)) }
func (v Value) Bool() bool     { return uint8(v) != 0 }
func (v Value) Object() Object { return Object(v) }

// Method is a resolved method of a managed type.
type Method interface {
	Call(this Object, args ...Value) Value
}

// Type is a managed type definition.
type Type interface {
	Name() string
	// Method returns nil when the signature does not exist in this build.
	Method(signature string) Method
	// RuntimeType is the System.Type instance.
	RuntimeType() Object
	// CreateInstance creates a new object of the type, 0 on failure.
	CreateInstance(full bool) Object
}

// GameObject is the scene-graph node owning a component.
type GameObject struct {
	Handle    Object
	Transform Object
	Name      string
	Draw      bool
	Update    bool
}

// Slot is the storage of a component inside its owner, used to swap a
// component for one call.
type Slot interface {
	Get() Object
	Set(Object)
}

// Runtime is the reflection/invoke bridge into the host.
type Runtime interface {
	// FindType returns nil when the type does not exist in this build.
	FindType(name string) Type
	AddRef(o Object)
	Release(o Object)
	PrimaryCamera() Object
	MainView() Object
	GameObject(component Object) (GameObject, bool)
	SetDraw(gameObject Object, draw bool)
	// FindComponent returns 0 when owner, a transform or a game object,
	// has no such component.
	FindComponent(owner Object, t Type) Object
	// ComponentSlot returns nil when the transform has no such component.
	ComponentSlot(transform Object, t Type) Slot
	// CallObject invokes a method by signature on any object.
	CallObject(o Object, signature string, args ...Value) (Value, bool)
}

// MethodOf resolves a method, tolerating a missing type.
func MethodOf(t Type, signature string) Method {
	if t == nil {
		return nil
	}
	return t.Method(signature)
}

// Call invokes m when it resolved; ok is false otherwise.
func Call(m Method, this Object, args ...Value) (v Value, ok bool) {
	if m == nil || this == 0 {
		return 0, false
	}
	return m.Call(this, args...), true
}
