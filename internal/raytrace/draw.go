package raytrace

import (
	"github.com/k2io/gamehook/internal/sdk"
)

// DrawImpl replaces the native draw implementation. Around the game's own
// pass it runs the configured pre and post passes, each with the mode byte
// of impl temporarily rewritten.
// Without a trampoline it returns 0 and draws nothing.
func (c *Controller) DrawImpl(impl, ctx, r8, r9, unk uintptr) uintptr {
	// loaded first: it orders the mode field written before the hook
	orig := c.drawImplOrig.Load()
	if orig == 0 {
		return 0
	}
	call := func() uintptr {
		return c.Natives.Call(orig, impl, ctx, r8, r9, unk)
	}
	opts := c.Store.Get().RayTrace
	old, err := c.modeField.Get(c.Memory, impl)
	if err != nil || !opts.Tweaks {
		return call()
	}
	pass := func(t Type) {
		if !t.enabled() {
			return
		}
		if c.modeField.Set(c.Memory, impl, uint64(uint8(t.Raw()))) != nil {
			return
		}
		call()
		c.modeField.Set(c.Memory, impl, old)
	}

	pass(Type(opts.CloneTypePre))
	res := call()
	pass(Type(opts.CloneTypePost))
	return res
}

// Draw replaces the native draw of a ray trace component. After the real
// draw it swaps the clone into the component's slot for one more draw.
func (c *Controller) Draw(rt, ctx, r8, r9 uintptr) uintptr {
	orig := c.drawOrig.Load()
	if orig == 0 {
		return 0
	}
	res := c.Natives.Call(orig, rt, ctx, r8, r9)

	_, clone := c.Components()
	if clone == 0 {
		return res
	}
	opts := c.Store.Get().RayTrace
	if !opts.Tweaks || !Type(opts.CloneTypeTrue).enabled() {
		return res
	}
	g, ok := c.Runtime.GameObject(sdk.Object(rt))
	if !ok || g.Transform == 0 {
		return res
	}
	t := c.resolve()
	if t == nil {
		return res
	}
	slot := c.Runtime.ComponentSlot(g.Transform, t)
	if slot == nil {
		return res
	}
	slot.Set(clone)
	c.Natives.Call(orig, uintptr(clone), ctx, r8, r9)
	slot.Set(sdk.Object(rt))
	return res
}
