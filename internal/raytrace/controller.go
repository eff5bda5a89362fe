package raytrace

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"github.com/k2io/gamehook"
	"github.com/k2io/gamehook/internal/config"
	"github.com/k2io/gamehook/internal/mem"
	"github.com/k2io/gamehook/internal/native"
	"github.com/k2io/gamehook/internal/scan"
	"github.com/k2io/gamehook/internal/sdk"
)

// ComponentType is the managed type of the ray trace settings component.
const ComponentType = "via.render.ExperimentalRayTrace"

var (
	// ErrSettingsRef means the settings string is not referenced by code
	ErrSettingsRef = errors.New("settings string reference not found")
	// ErrDrawImpl means no called function contains the settings reference
	ErrDrawImpl = errors.New("draw impl function not found")
	// ErrModeOffset means the mode comparisons could not be found
	ErrModeOffset = errors.New("mode offset not found")
	// ErrDrawRef means the draw string is not referenced by code
	ErrDrawRef = errors.New("draw string reference not found")
	// ErrDraw means no virtual function contains the draw reference
	ErrDraw = errors.New("draw function not found")
)

// Discovery is what Discover found, possibly partially.
type Discovery struct {
	DrawImpl  uintptr
	ModeField mem.Field
	Votes     []Vote
	Draw      uintptr
}

// Discover locates the draw-impl function, the mode byte and the draw
// function in the executable. On error the fields found so far are set.
func Discover(loc *scan.Locator, v *config.Variant) (Discovery, error) {
	var d Discovery
	ref, ok := loc.FindStringRef(v.RTSettingsRef, false)
	if !ok {
		return d, fmt.Errorf("%w: %q", ErrSettingsRef, v.RTSettingsRef)
	}
	fn, ok := loc.FindFunctionStartWithCall(ref)
	if !ok {
		return d, fmt.Errorf("%w: reference @ %x", ErrDrawImpl, ref)
	}
	field, votes, ok := DiscoverModeOffset(loc.Reader(), fn, v.ScanBudget, v.RTSentinel)
	d.Votes = votes
	if !ok {
		return d, fmt.Errorf("%w: function @ %x", ErrModeOffset, fn)
	}
	d.DrawImpl, d.ModeField = fn, field

	ref, ok = loc.FindStringRef(v.RTDrawRef, false)
	if !ok {
		return d, fmt.Errorf("%w: %q", ErrDrawRef, v.RTDrawRef)
	}
	d.Draw, ok = loc.FindVirtualFunctionStart(ref)
	if !ok {
		return d, fmt.Errorf("%w: reference @ %x", ErrDraw, ref)
	}
	return d, nil
}

// Deps are the collaborators of a Controller.
type Deps struct {
	Runtime sdk.Runtime
	Store   *config.Store
	Variant *config.Variant
	// Locator searches the main executable.
	Locator *scan.Locator
	// Memory holds the ray trace implementation objects.
	Memory  mem.Memory
	Hooks   *gamehook.Registry
	Natives native.Natives
	Log     *logrus.Entry
}

// Controller owns the ray trace hooks and component handles.
type Controller struct {
	Deps

	// setup runs from the frame thread only
	attempted    bool
	modeField    mem.Field
	drawImplHook *gamehook.FunctionHook
	drawHook     *gamehook.FunctionHook
	// trampolines, read by the detours on the render thread
	drawImplOrig atomic.Uintptr
	drawOrig     atomic.Uintptr

	mu        sync.Mutex
	component *sdk.Ref
	cloned    *sdk.Ref

	typeOnce  sync.Once
	rtType    sdk.Type
	setMode   sdk.Method
	setBounce sdk.Method
	setSpp    sdk.Method
}

func NewController(deps Deps) *Controller {
	return &Controller{Deps: deps}
}

func (c *Controller) resolve() sdk.Type {
	c.typeOnce.Do(func() {
		c.rtType = c.Runtime.FindType(ComponentType)
		c.setMode = sdk.MethodOf(c.rtType, "set_RaytracingMode")
		c.setBounce = sdk.MethodOf(c.rtType, "setBounce")
		c.setSpp = sdk.MethodOf(c.rtType, "setSpp")
	})
	return c.rtType
}

// Setup discovers and hooks the draw functions. It runs once per process;
// a failure is logged and leaves the feature off.
func (c *Controller) Setup() {
	if c.attempted {
		return
	}
	c.attempted = true
	c.Log.Info("Setting up path trace hook")

	d, err := Discover(c.Locator, c.Variant)
	for _, v := range d.Votes {
		c.Log.Infof("Encountered a CMP offset @ %x (%d times)", v.Offset, v.Count)
	}
	if d.DrawImpl == 0 {
		c.Log.WithError(err).Error("Failed to find RT type offset")
		return
	}
	c.modeField = d.ModeField
	c.Log.Infof("Found RT type offset @ %x in %x", d.ModeField.Offset, d.DrawImpl)

	detour, cbErr := c.Natives.Callback(c.DrawImpl)
	if cbErr != nil {
		c.Log.WithError(cbErr).Error("Failed to create path trace draw impl callback")
		return
	}
	c.drawImplHook = c.Hooks.NewFunctionHook(d.DrawImpl, detour).Bind(&c.drawImplOrig)
	if !c.drawImplHook.Create() {
		c.Log.WithError(c.drawImplHook.Err()).Error("Failed to create path trace draw impl hook")
		return
	}

	if err != nil {
		c.Log.WithError(err).Error("Failed to find path trace draw function")
		return
	}
	detour, cbErr = c.Natives.Callback(c.Draw)
	if cbErr != nil {
		c.Log.WithError(cbErr).Error("Failed to create path trace draw callback")
		return
	}
	c.drawHook = c.Hooks.NewFunctionHook(d.Draw, detour).Bind(&c.drawOrig)
	if !c.drawHook.Create() {
		c.Log.WithError(c.drawHook.Err()).Error("Failed to create path trace draw hook")
		return
	}
	c.Log.Info("Path trace hook set up")
}

// Ready reports whether both draw hooks are installed.
func (c *Controller) Ready() bool {
	return c.drawImplOrig.Load() != 0 && c.drawOrig.Load() != 0
}

// ModeField is the discovered mode byte, invalid before Setup succeeds.
func (c *Controller) ModeField() mem.Field {
	return c.modeField
}

// SetupComponent finds or creates the ray trace component on the primary
// camera and creates the clone when a true clone pass is configured. The
// held component is dropped when it cannot be found this frame.
func (c *Controller) SetupComponent() {
	t := c.resolve()
	if t == nil {
		return
	}
	cam := c.Runtime.PrimaryCamera()
	if cam == 0 {
		return
	}
	g, ok := c.Runtime.GameObject(cam)
	if !ok || g.Transform == 0 || !IsPrimaryCameraName(g.Name) {
		return
	}

	comp := c.Runtime.FindComponent(g.Transform, t)
	if comp == 0 {
		if v, ok := c.Runtime.CallObject(g.Handle, "createComponent(System.Type)", sdk.Obj(t.RuntimeType())); ok && v != 0 {
			comp = v.Object()
			c.Log.Infof("Successfully created new RT component @ %x", comp)
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if comp == 0 {
		c.component.Release()
		c.component = nil
		return
	}
	if c.component.Get() != comp {
		c.component.Release()
		c.component = sdk.Hold(c.Runtime, comp)
	}
	if c.cloned.Get() == 0 && Type(c.Store.Get().RayTrace.CloneTypeTrue).enabled() {
		c.cloned = sdk.Hold(c.Runtime, t.CreateInstance(false))
		if c.cloned != nil {
			c.Log.Infof("Successfully cloned RT component @ %x", c.cloned.Get())
		}
	}
}

// Components returns the live and cloned components, 0 when absent.
func (c *Controller) Components() (live, clone sdk.Object) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.component.Get(), c.cloned.Get()
}

// ApplyTweaks pushes the configured modes onto the live and cloned
// components.
func (c *Controller) ApplyTweaks() {
	c.SetupComponent()
	live, clone := c.Components()
	if live == 0 {
		return
	}
	opts := c.Store.Get().RayTrace
	c.tweak(live, Type(opts.Type), opts)
	c.tweak(clone, Type(opts.CloneTypeTrue), opts)
}

func (c *Controller) tweak(target sdk.Object, t Type, opts config.RayTraceOptions) {
	if target == 0 {
		return
	}
	if t.enabled() {
		sdk.Call(c.setMode, target, sdk.Int(t.Raw()))
	}
	if t.tracesPaths() {
		sdk.Call(c.setBounce, target, sdk.Int(opts.BounceCount))
		sdk.Call(c.setSpp, target, sdk.Int(opts.SamplesPerPixel))
	}
}

// Reset drops both component handles.
func (c *Controller) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.component.Release()
	c.cloned.Release()
	c.component, c.cloned = nil, nil
}
