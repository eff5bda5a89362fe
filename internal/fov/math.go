// Package fov corrects camera field of view for non 16:9 outputs and
// remembers what it changed so it can be put back.
package fov

import (
	"math"
)

const (
	minFOV = 1
	maxFOV = 179
)

func horToVer(fov, aspect float64) float64 {
	return 2 * math.Atan(math.Tan(fov*math.Pi/360)/aspect) * 180 / math.Pi
}

func verToHor(fov, aspect float64) float64 {
	return 2 * math.Atan(math.Tan(fov*math.Pi/360)*aspect) * 180 / math.Pi
}

// HorToVer converts a horizontal FOV in degrees to the vertical FOV at aspect.
func HorToVer(fov, aspect float32) float32 {
	return float32(horToVer(float64(fov), float64(aspect)))
}

// VerToHor converts a vertical FOV in degrees to the horizontal FOV at aspect.
func VerToHor(fov, aspect float32) float32 {
	return float32(verToHor(float64(fov), float64(aspect)))
}

// Scaled applies a user multiplier, clamped to what the engine accepts.
func Scaled(fov, multiplier float32) float32 {
	v := fov * multiplier
	if v < minFOV {
		return minFOV
	}
	if v > maxFOV {
		return maxFOV
	}
	return v
}

// Input describes one camera as seen by the correction.
type Input struct {
	FOV          float32
	CameraAspect float32
	TargetAspect float32
	// WasVertical is the camera's vertical mode before this frame's change.
	WasVertical bool
	// UseVertical is the mode just written to the camera.
	UseVertical bool
	MinAspect   float32
	MaxAspect   float32
}

// Correction is the result of Correct. Value is what gets written to the
// camera and is only meaningful when Apply is set.
type Correction struct {
	VFOV  float32
	HFOV  float32
	Value float32
	Apply bool
}

// Correct computes the Hor+ FOV for in. A camera that was already in
// vertical mode needs nothing. Targets at least MinAspect wide keep the
// vertical framing of the camera's own (clamped) aspect; narrower targets
// are letterboxed, so the vertical framing is widened back to MinAspect.
func Correct(in Input) Correction {
	if in.WasVertical {
		return Correction{}
	}
	var v, h float64
	target := float64(in.TargetAspect)
	if in.TargetAspect >= in.MinAspect {
		a := clamp(in.CameraAspect, in.MinAspect, in.MaxAspect)
		v = horToVer(float64(in.FOV), float64(a))
		h = verToHor(v, target)
	} else {
		v = horToVer(float64(in.FOV), target)
		h = verToHor(v, float64(in.MinAspect))
	}
	c := Correction{VFOV: float32(v), HFOV: float32(h), Apply: true}
	if in.UseVertical {
		c.Value = c.VFOV
	} else {
		c.Value = c.HFOV
	}
	return c
}

func clamp(v, lo, hi float32) float32 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
