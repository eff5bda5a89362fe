package graphics

import (
	"github.com/k2io/gamehook/internal/sdk"
)

// via.gui enum values used by fixGUIView.
const (
	viewTypeScreen        = 0
	adjustFitSmallRatio   = 1
	adjustAnchorCenterMid = 4
)

// fixGUIView makes a screen-space GUI view scale to the smaller axis and
// stay centred, so it is not stretched across an ultrawide output.
func (m *Mod) fixGUIView(element sdk.Object) {
	if element == 0 {
		return
	}
	g, ok := m.rt.GameObject(element)
	if !ok || g.Transform == 0 {
		return
	}
	guiT := m.rt.FindType("via.gui.GUI")
	viewT := m.rt.FindType("via.gui.View")
	if guiT == nil || viewT == nil {
		return
	}
	gui := m.rt.FindComponent(g.Transform, guiT)
	if gui == 0 {
		return
	}
	setScale := viewT.Method("set_ResAdjustScale(via.gui.ResolutionAdjustScale)")
	setAnchor := viewT.Method("set_ResAdjustAnchor(via.gui.ResolutionAdjustAnchor)")
	setAdjust := viewT.Method("set_ResolutionAdjust(System.Boolean)")
	getType := viewT.Method("get_ViewType")
	if setScale == nil || setAnchor == nil || setAdjust == nil || getType == nil {
		return
	}
	v, ok := sdk.Call(guiT.Method("get_View"), gui)
	if !ok || v == 0 {
		return
	}
	view := v.Object()
	if getType.Call(view).Int() != viewTypeScreen {
		return
	}
	setScale.Call(view, sdk.Int(adjustFitSmallRatio))
	setAnchor.Call(view, sdk.Int(adjustAnchorCenterMid))
	// applies the two settings above
	setAdjust.Call(view, sdk.Bool(true))
}
