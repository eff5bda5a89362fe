package fov

import (
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/k2io/gamehook/internal/config"
	"github.com/k2io/gamehook/internal/sdk"
)

// Ultrawide applies the FOV fix to the primary camera around the game's
// own camera update and undoes it afterwards.
type Ultrawide struct {
	rt       sdk.Runtime
	store    *config.Store
	variant  *config.Variant
	cache    *Cache
	cooldown *Cooldown
	log      *logrus.Entry

	// Backbuffer returns the last known output size.
	Backbuffer func() (w, h uint32, ok bool)
	// HMDActive reports a running VR session, which owns the cameras.
	HMDActive func() bool

	once           sync.Once
	getVertical    sdk.Method
	setVertical    sdk.Method
	getFOV         sdk.Method
	setFOV         sdk.Method
	getAspect      sdk.Method
	setDisplayType sdk.Method
}

func NewUltrawide(rt sdk.Runtime, store *config.Store, variant *config.Variant, cooldown *Cooldown, log *logrus.Entry) *Ultrawide {
	return &Ultrawide{
		rt:       rt,
		store:    store,
		variant:  variant,
		cache:    NewCache(rt),
		cooldown: cooldown,
		log:      log,
	}
}

// Cache exposes the saved camera state.
func (u *Ultrawide) Cache() *Cache {
	return u.cache
}

func (u *Ultrawide) resolve() {
	u.once.Do(func() {
		cam := u.rt.FindType("via.Camera")
		if cam == nil {
			u.log.Error("via.Camera not found")
		}
		u.getVertical = sdk.MethodOf(cam, "get_VerticalEnable")
		u.setVertical = sdk.MethodOf(cam, "set_VerticalEnable")
		u.getFOV = sdk.MethodOf(cam, "get_FOV")
		u.setFOV = sdk.MethodOf(cam, "set_FOV")
		u.getAspect = sdk.MethodOf(cam, "get_AspectRatio")
		u.setDisplayType = sdk.MethodOf(u.rt.FindType("via.SceneView"), "set_DisplayType")
	})
}

func (u *Ultrawide) hmd() bool {
	return u.HMDActive != nil && u.HMDActive()
}

func (u *Ultrawide) targetAspect() float32 {
	if u.Backbuffer == nil {
		return config.DefaultAspect
	}
	w, h, ok := u.Backbuffer()
	if !ok || w == 0 || h == 0 {
		return config.DefaultAspect
	}
	return float32(w) / float32(h)
}

// SetFOV saves the primary camera's state, switches its vertical mode to
// useVertical and writes the corrected FOV.
func (u *Ultrawide) SetFOV(useVertical bool) {
	cam := u.rt.PrimaryCamera()
	if cam == 0 {
		return
	}
	u.resolve()

	allow := true
	if u.cooldown != nil && u.cooldown.Active() {
		// Cached values are stale once an inventory screen scaled the view.
		allow = false
		useVertical = false
		u.cache.DropFOV()
	}

	wasVertical := false
	if v, ok := sdk.Call(u.getVertical, cam); ok {
		wasVertical = v.Bool()
		u.cache.SaveVertical(cam, wasVertical)
	}
	isVertical := false
	if _, ok := sdk.Call(u.setVertical, cam, sdk.Bool(useVertical)); ok {
		isVertical = useVertical
	}
	if !allow || u.getFOV == nil || u.setFOV == nil {
		return
	}

	fov := u.getFOV.Call(cam).Float()
	u.cache.SaveFOV(cam, fov)

	opts := u.store.Get().Ultrawide
	if opts.CustomFOV {
		u.setFOV.Call(cam, sdk.Float(Scaled(fov, opts.Multiplier)))
		return
	}

	camAspect := config.DefaultAspect
	if v, ok := sdk.Call(u.getAspect, cam); ok {
		camAspect = v.Float()
	}
	c := Correct(Input{
		FOV:          fov,
		CameraAspect: camAspect,
		TargetAspect: u.targetAspect(),
		WasVertical:  wasVertical,
		UseVertical:  isVertical,
		MinAspect:    u.variant.MinAspect,
		MaxAspect:    u.variant.MaxAspect,
	})
	if c.Apply {
		u.setFOV.Call(cam, sdk.Float(c.Value))
	}
}

// Fix runs SetFOV with the configured vertical mode and removes the
// pillarbox/letterbox of the main view. The display type cannot be
// restored afterwards.
func (u *Ultrawide) Fix() {
	opts := u.store.Get().Ultrawide
	if !opts.Fix || u.hmd() {
		return
	}
	u.SetFOV(opts.VerticalFOV)
	if u.cooldown != nil && u.cooldown.Active() {
		return
	}
	view := u.rt.MainView()
	if view == 0 {
		return
	}
	sdk.Call(u.setDisplayType, view, sdk.Int(u.variant.DisplayTypeFit))
}

// Restore writes back every saved camera value. With force it runs even
// when the fix is disabled or the cooldown is open, which is what
// disabling the fix needs.
func (u *Ultrawide) Restore(force bool) {
	if !force && !u.store.Get().Ultrawide.Fix {
		return
	}
	if u.hmd() {
		return
	}
	if !force && u.cooldown != nil && u.cooldown.Active() {
		return
	}
	u.resolve()

	var setFOV func(sdk.Object, float32)
	if u.setFOV != nil {
		setFOV = func(cam sdk.Object, v float32) { u.setFOV.Call(cam, sdk.Float(v)) }
	}
	var setVertical func(sdk.Object, bool)
	if u.setVertical != nil {
		setVertical = func(cam sdk.Object, v bool) { u.setVertical.Call(cam, sdk.Bool(v)) }
	}
	u.cache.RestoreAll(setFOV, setVertical)
}
