package gradient

import (
	"math"
	"strconv"
)

// RGB is an opaque 8-bit colour.
type RGB struct {
	R, G, B uint8
}

// String formats c as a CSS rgb() function.
func (c RGB) String() string {
	return "rgb(" + c.channels() + ")"
}

// RGBA formats c as a CSS rgba() function with the given alpha.
func (c RGB) RGBA(alpha float64) string {
	return "rgba(" + c.channels() + ", " + strconv.FormatFloat(alpha, 'f', -1, 64) + ")"
}

func (c RGB) channels() string {
	return strconv.Itoa(int(c.R)) + ", " + strconv.Itoa(int(c.G)) + ", " + strconv.Itoa(int(c.B))
}

// HSL holds hue in degrees [0, 360) and saturation and lightness in
// percent [0, 100].
type HSL struct {
	H, S, L float64
}

func RGBToHSL(c RGB) HSL {
	r, g, b := float64(c.R)/255, float64(c.G)/255, float64(c.B)/255
	hi, lo := max(r, g, b), min(r, g, b)
	l := (hi + lo) / 2

	if hi == lo {
		return HSL{0, 0, l * 100}
	}

	d := hi - lo
	var s float64
	if l > 0.5 {
		s = d / (2 - hi - lo)
	} else {
		s = d / (hi + lo)
	}

	var h float64
	switch hi {
	case r:
		h = (g - b) / d
		if g < b {
			h += 6
		}
	case g:
		h = (b-r)/d + 2
	default:
		h = (r-g)/d + 4
	}
	return HSL{h / 6 * 360, s * 100, l * 100}
}

func HSLToRGB(c HSL) RGB {
	h, s, l := c.H/360, c.S/100, c.L/100
	if s == 0 {
		v := channel(l)
		return RGB{v, v, v}
	}

	var q float64
	if l < 0.5 {
		q = l * (1 + s)
	} else {
		q = l + s - l*s
	}
	p := 2*l - q

	return RGB{
		R: channel(hueToRGB(p, q, h+1.0/3)),
		G: channel(hueToRGB(p, q, h)),
		B: channel(hueToRGB(p, q, h-1.0/3)),
	}
}

func hueToRGB(p, q, t float64) float64 {
	if t < 0 {
		t++
	}
	if t > 1 {
		t--
	}
	switch {
	case t < 1.0/6:
		return p + (q-p)*6*t
	case t < 1.0/2:
		return q
	case t < 2.0/3:
		return p + (q-p)*(2.0/3-t)*6
	}
	return p
}

func channel(v float64) uint8 {
	return uint8(min(max(math.Round(v*255), 0), 255))
}

// Enhance boosts saturation and pulls lightness into a mid band so the
// colour still reads at 20% opacity.
func Enhance(c RGB) RGB {
	hsl := RGBToHSL(c)

	s := min(100, hsl.S*1.4)
	if s < 50 {
		s = min(100, s+30)
	}

	l := hsl.L
	switch {
	case l < 35:
		l = 35
	case l > 65:
		l = 65
	default:
		l = l*0.9 + 5
	}

	return HSLToRGB(HSL{hsl.H, s, l})
}

// hueDistance is the shortest angular distance between two hues.
func hueDistance(a, b float64) float64 {
	d := math.Abs(a - b)
	if d > 180 {
		d = 360 - d
	}
	return d
}
