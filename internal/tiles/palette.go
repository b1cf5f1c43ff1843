package tiles

import "image/color"

// Stop is one point on the piecewise-linear severity color ramp.
type Stop struct {
	Value float64
	Color color.NRGBA
}

// Palette is the stable severity color ramp from spec.md §6.6: green at
// zero, through yellow/orange/red, to dark red at 50+ t/ha/yr. Outside the
// polygon mask pixels are always fully transparent, handled separately in
// mask.go, not here.
var Palette = []Stop{
	{0, color.NRGBA{R: 34, G: 139, B: 34, A: 255}},
	{5, color.NRGBA{R: 255, G: 215, B: 0, A: 255}},
	{15, color.NRGBA{R: 255, G: 140, B: 0, A: 255}},
	{30, color.NRGBA{R: 220, G: 20, B: 60, A: 255}},
	{50, color.NRGBA{R: 139, G: 0, B: 0, A: 255}},
}

// ColorForValue returns the continuous, bilinearly-interpolated color for
// a soil-loss value, clamping to the end stops outside the ramp's range.
func ColorForValue(value float64) color.NRGBA {
	if value <= Palette[0].Value {
		return Palette[0].Color
	}
	last := len(Palette) - 1
	if value >= Palette[last].Value {
		return Palette[last].Color
	}

	for i := 0; i < last; i++ {
		lo, hi := Palette[i], Palette[i+1]
		if value >= lo.Value && value <= hi.Value {
			t := (value - lo.Value) / (hi.Value - lo.Value)
			return lerpColor(lo.Color, hi.Color, t)
		}
	}

	return Palette[last].Color
}

func lerpColor(a, b color.NRGBA, t float64) color.NRGBA {
	lerp := func(x, y uint8) uint8 {
		return uint8(float64(x) + (float64(y)-float64(x))*t)
	}
	return color.NRGBA{
		R: lerp(a.R, b.R),
		G: lerp(a.G, b.G),
		B: lerp(a.B, b.B),
		A: 255,
	}
}
