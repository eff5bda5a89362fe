// Package sdktest provides an in-memory sdk.Runtime for tests.
package sdktest

import (
	"sync"

	"github.com/k2io/gamehook/internal/sdk"
)

// MethodCall records one invocation.
type MethodCall struct {
	This sdk.Object
	Args []sdk.Value
}

// Method is a scripted sdk.Method.
type Method struct {
	mu    sync.Mutex
	Fn    func(this sdk.Object, args []sdk.Value) sdk.Value
	calls []MethodCall
}

func (m *Method) Call(this sdk.Object, args ...sdk.Value) sdk.Value {
	m.mu.Lock()
	m.calls = append(m.calls, MethodCall{This: this, Args: args})
	fn := m.Fn
	m.mu.Unlock()
	if fn == nil {
		return 0
	}
	return fn(this, args)
}

// Calls returns every recorded invocation.
func (m *Method) Calls() []MethodCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]MethodCall(nil), m.calls...)
}

// Type is a scripted sdk.Type.
type Type struct {
	TypeName string
	Methods  map[string]*Method
	Runtime  sdk.Object
	Create   func(full bool) sdk.Object
}

func (t *Type) Name() string { return t.TypeName }

func (t *Type) Method(signature string) sdk.Method {
	m, ok := t.Methods[signature]
	if !ok {
		return nil
	}
	return m
}

func (t *Type) RuntimeType() sdk.Object { return t.Runtime }

func (t *Type) CreateInstance(full bool) sdk.Object {
	if t.Create == nil {
		return 0
	}
	return t.Create(full)
}

// On adds or replaces a method.
func (t *Type) On(signature string, fn func(this sdk.Object, args []sdk.Value) sdk.Value) *Method {
	m := &Method{Fn: fn}
	t.Methods[signature] = m
	return m
}

// Camera is the state behind the fake via.Camera methods.
type Camera struct {
	FOV      float32
	Vertical bool
	Aspect   float32
}

// Runtime is an in-memory sdk.Runtime. Exported maps may be edited by
// tests before use.
type Runtime struct {
	mu   sync.Mutex
	next sdk.Object
	refs map[sdk.Object]int

	Types        map[string]*Type
	Camera       sdk.Object
	View         sdk.Object
	Cameras      map[sdk.Object]*Camera
	GameObjects  map[sdk.Object]*sdk.GameObject
	Components   map[sdk.Object]map[string]sdk.Object
	CallObjectFn func(o sdk.Object, signature string, args []sdk.Value) (sdk.Value, bool)
}

// New returns an empty runtime.
func New() *Runtime {
	return &Runtime{
		next:        0x10000,
		refs:        map[sdk.Object]int{},
		Types:       map[string]*Type{},
		Cameras:     map[sdk.Object]*Camera{},
		GameObjects: map[sdk.Object]*sdk.GameObject{},
		Components:  map[sdk.Object]map[string]sdk.Object{},
	}
}

// NewObject allocates a fresh handle.
func (r *Runtime) NewObject() sdk.Object {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.next += 0x100
	return r.next
}

// AddType registers an empty type.
func (r *Runtime) AddType(name string) *Type {
	t := &Type{TypeName: name, Methods: map[string]*Method{}, Runtime: r.NewObject()}
	r.Types[name] = t
	return t
}

// AddGameObject registers a node and its transform; component belongs to it.
func (r *Runtime) AddGameObject(name string, component sdk.Object) *sdk.GameObject {
	g := &sdk.GameObject{
		Handle:    r.NewObject(),
		Transform: r.NewObject(),
		Name:      name,
		Draw:      true,
		Update:    true,
	}
	r.GameObjects[component] = g
	return g
}

// AttachComponent puts a component of type name on transform, or on a
// game object handle.
func (r *Runtime) AttachComponent(transform sdk.Object, name string, c sdk.Object) {
	if r.Components[transform] == nil {
		r.Components[transform] = map[string]sdk.Object{}
	}
	r.Components[transform][name] = c
}

// AddCamera creates a camera on a node called name and makes it primary
// when none is set. The via.Camera methods read and write Cameras.
func (r *Runtime) AddCamera(name string, state Camera) sdk.Object {
	cam := r.NewObject()
	r.Cameras[cam] = &state
	r.AddGameObject(name, cam)
	if r.Camera == 0 {
		r.Camera = cam
	}
	if _, ok := r.Types["via.Camera"]; ok {
		return cam
	}
	t := r.AddType("via.Camera")
	t.On("get_FOV", func(this sdk.Object, _ []sdk.Value) sdk.Value { return sdk.Float(r.Cameras[this].FOV) })
	t.On("set_FOV", func(this sdk.Object, a []sdk.Value) sdk.Value { r.Cameras[this].FOV = a[0].Float(); return 0 })
	t.On("get_VerticalEnable", func(this sdk.Object, _ []sdk.Value) sdk.Value { return sdk.Bool(r.Cameras[this].Vertical) })
	t.On("set_VerticalEnable", func(this sdk.Object, a []sdk.Value) sdk.Value { r.Cameras[this].Vertical = a[0].Bool(); return 0 })
	t.On("get_AspectRatio", func(this sdk.Object, _ []sdk.Value) sdk.Value { return sdk.Float(r.Cameras[this].Aspect) })
	return cam
}

// RefCount is the net number of references taken on o.
func (r *Runtime) RefCount(o sdk.Object) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.refs[o]
}

func (r *Runtime) FindType(name string) sdk.Type {
	t, ok := r.Types[name]
	if !ok {
		return nil
	}
	return t
}

func (r *Runtime) AddRef(o sdk.Object) {
	r.mu.Lock()
	r.refs[o]++
	r.mu.Unlock()
}

func (r *Runtime) Release(o sdk.Object) {
	r.mu.Lock()
	r.refs[o]--
	r.mu.Unlock()
}

func (r *Runtime) PrimaryCamera() sdk.Object { return r.Camera }
func (r *Runtime) MainView() sdk.Object      { return r.View }

func (r *Runtime) GameObject(component sdk.Object) (sdk.GameObject, bool) {
	g, ok := r.GameObjects[component]
	if !ok {
		return sdk.GameObject{}, false
	}
	return *g, true
}

func (r *Runtime) SetDraw(gameObject sdk.Object, draw bool) {
	for _, g := range r.GameObjects {
		if g.Handle == gameObject {
			g.Draw = draw
		}
	}
}

func (r *Runtime) FindComponent(owner sdk.Object, t sdk.Type) sdk.Object {
	return r.Components[owner][t.Name()]
}

type slot struct {
	r         *Runtime
	transform sdk.Object
	name      string
}

func (s slot) Get() sdk.Object  { return s.r.Components[s.transform][s.name] }
func (s slot) Set(o sdk.Object) { s.r.Components[s.transform][s.name] = o }

func (r *Runtime) ComponentSlot(transform sdk.Object, t sdk.Type) sdk.Slot {
	if r.Components[transform][t.Name()] == 0 {
		return nil
	}
	return slot{r: r, transform: transform, name: t.Name()}
}

func (r *Runtime) CallObject(o sdk.Object, signature string, args ...sdk.Value) (sdk.Value, bool) {
	if r.CallObjectFn == nil {
		return 0, false
	}
	return r.CallObjectFn(o, signature, args)
}
