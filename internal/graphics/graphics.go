// Package graphics is the mod layer's entry point into the rendering
// fixes. The host calls the On* methods from its frame, present and
// application-entry callbacks.
package graphics

import (
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/k2io/gamehook/internal/config"
	"github.com/k2io/gamehook/internal/fov"
	"github.com/k2io/gamehook/internal/logging"
	"github.com/k2io/gamehook/internal/raytrace"
	"github.com/k2io/gamehook/internal/sdk"
)

// Application entry names around which the ultrawide fix runs.
const (
	EntryUpdateBehavior = "UpdateBehavior"
	EntryLockScene      = "LockScene"
	EntryUnlockScene    = "UnlockScene"
)

// Surface is the swapchain of the active graphics API.
type Surface interface {
	// BackbufferSize returns false when there is no swapchain yet.
	BackbufferSize() (w, h uint32, ok bool)
}

// SceneLayer is a scene render layer about to update.
type SceneLayer interface {
	Camera() sdk.Object
	Enabled() bool
}

// Deps are the collaborators of a Mod.
type Deps struct {
	Runtime sdk.Runtime
	Store   *config.Store
	Variant *config.Variant
	Log     *logrus.Logger
	// RayTrace may be nil for builds without ray tracing.
	RayTrace *raytrace.Controller
	// HMDActive reports a running VR session.
	HMDActive func() bool
	// HideGUIPressed reports a fresh press of the hide-GUI key.
	HideGUIPressed func() bool
}

// Mod holds the cross-frame graphics state.
type Mod struct {
	rt       sdk.Runtime
	store    *config.Store
	variant  *config.Variant
	log      *logrus.Entry
	rayTrace *raytrace.Controller
	hideKey  func() bool

	cooldown  *fov.Cooldown
	ultrawide *fov.Ultrawide

	sizeMu  sync.RWMutex
	size    [2]uint32
	hasSize bool
}

func New(d Deps) *Mod {
	if d.Log == nil {
		d.Log = logging.New(nil)
	}
	log := logging.For(d.Log, "Graphics")
	m := &Mod{
		rt:       d.Runtime,
		store:    d.Store,
		variant:  d.Variant,
		log:      log,
		rayTrace: d.RayTrace,
		hideKey:  d.HideGUIPressed,
		cooldown: fov.NewCooldown(fov.InventoryWindow, nil),
	}
	m.ultrawide = fov.NewUltrawide(d.Runtime, d.Store, d.Variant, m.cooldown, log)
	m.ultrawide.Backbuffer = m.BackbufferSize
	m.ultrawide.HMDActive = d.HMDActive
	return m
}

// Ultrawide exposes the FOV controller.
func (m *Mod) Ultrawide() *fov.Ultrawide {
	return m.ultrawide
}

// OnFrame toggles the GUI on key press and keeps the ray tracing tweaks
// applied.
func (m *Mod) OnFrame() {
	if m.hideKey != nil && m.hideKey() {
		m.ToggleGUI()
	}
	if m.rayTrace == nil || !m.variant.RayTracing {
		return
	}
	if !m.store.Get().RayTrace.Tweaks {
		m.rayTrace.Reset()
		return
	}
	m.rayTrace.Setup()
	m.rayTrace.ApplyTweaks()
}

// OnPresent refreshes the backbuffer size.
func (m *Mod) OnPresent(s Surface) {
	if s == nil {
		return
	}
	w, h, ok := s.BackbufferSize()
	if !ok {
		return
	}
	m.sizeMu.Lock()
	m.size = [2]uint32{w, h}
	m.hasSize = true
	m.sizeMu.Unlock()
}

// BackbufferSize is the last size seen by OnPresent.
func (m *Mod) BackbufferSize() (w, h uint32, ok bool) {
	m.sizeMu.RLock()
	defer m.sizeMu.RUnlock()
	return m.size[0], m.size[1], m.hasSize
}

// OnPreApplicationEntry runs before the named engine entry. The fix around
// UpdateBehavior corrects world-space GUI icons.
func (m *Mod) OnPreApplicationEntry(name string) {
	switch name {
	case EntryUpdateBehavior:
		if !m.variant.SkipUpdateBehaviorFix {
			m.ultrawide.Fix()
		}
	case EntryUnlockScene:
		m.ultrawide.Restore(false)
	}
}

// OnApplicationEntry runs after the named engine entry. The fix around
// LockScene is the one that changes rendering.
func (m *Mod) OnApplicationEntry(name string) {
	switch name {
	case EntryUpdateBehavior:
		if !m.variant.SkipUpdateBehaviorFix {
			m.ultrawide.Restore(false)
		}
	case EntryLockScene:
		m.ultrawide.Fix()
	}
}

// OnPreGUIDrawElement returns false to skip drawing element.
func (m *Mod) OnPreGUIDrawElement(element sdk.Object) bool {
	opts := m.store.Get()
	if opts.GUI.Disable {
		return false
	}
	if !opts.Ultrawide.Fix {
		return true
	}
	if m.variant.FixGUIViews {
		m.fixGUIView(element)
	}
	g, ok := m.rt.GameObject(element)
	if !ok || g.Transform == 0 {
		return true
	}
	if m.variant.Hidden(g.Name) {
		m.rt.SetDraw(g.Handle, false)
		return false
	}
	if m.variant.Inventory(g.Name) && g.Draw && g.Update {
		m.cooldown.Mark()
	}
	return true
}

// OnViewGetSize overrides the render size of a scene view with the
// backbuffer size when configured.
func (m *Mod) OnViewGetSize(result *[2]float32) {
	if !m.store.Get().ForceRenderResToWindow {
		return
	}
	w, h, ok := m.BackbufferSize()
	if !ok {
		return
	}
	result[0], result[1] = float32(w), float32(h)
}

// SetUltrawideEnabled switches the fix; disabling it restores every
// tracked camera.
func (m *Mod) SetUltrawideEnabled(enabled bool) {
	m.store.Update(func(o *config.Options) { o.Ultrawide.Fix = enabled })
	if !enabled {
		m.ultrawide.Restore(true)
	}
}

// ToggleGUI flips the hide-GUI option.
func (m *Mod) ToggleGUI() {
	m.store.Update(func(o *config.Options) { o.GUI.Disable = !o.GUI.Disable })
}
