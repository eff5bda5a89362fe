package graphics

import (
	"github.com/k2io/gamehook/internal/sdk"
)

// scopeCamera is the node rendering the picture inside weapon scopes.
const scopeCamera = "ScopeCamera"

// OnSceneLayerUpdate applies the scope render tweaks on builds that
// support them.
func (m *Mod) OnSceneLayerUpdate(layer SceneLayer) {
	if !m.variant.ScopeTweaks || layer == nil {
		return
	}
	opts := m.store.Get().Scope
	if !opts.Tweaks {
		return
	}
	camera := layer.Camera()
	if camera == 0 || !layer.Enabled() {
		return
	}
	g, ok := m.rt.GameObject(camera)
	if !ok || g.Name != scopeCamera {
		return
	}
	t := m.rt.FindType("via.render.RenderOutput")
	if t == nil {
		return
	}
	out := m.rt.FindComponent(g.Handle, t)
	if out == 0 {
		return
	}
	sdk.Call(t.Method("set_ImageQuality"), out, sdk.Int(opts.ImageQuality))
	sdk.Call(t.Method("set_Interleave"), out, sdk.Bool(opts.Interlaced))
}
