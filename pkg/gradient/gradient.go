// Package gradient picks two complementary colours out of an avatar image
// for use as a faint profile banner gradient.
package gradient

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"math"
	"slices"

	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

const (
	sampleSize    = 100
	sampleStep    = 3
	maxCandidates = 15

	// Alpha applied to both stops by CSS.
	bannerAlpha = 0.2

	// MaxDimension bounds the width and height Decode will allocate for.
	MaxDimension = 4096
)

// ErrNotEnoughColour is returned when fewer than two pixels are vivid
// enough to build a gradient from.
var ErrNotEnoughColour = errors.New("not enough colour in image")

// ErrImageTooLarge is returned by Decode for images wider or taller than
// MaxDimension.
var ErrImageTooLarge = errors.New("image dimensions too large")

// Default is used whenever no gradient can be extracted.
var Default = Gradient{
	From: RGB{255, 102, 170},
	To:   RGB{102, 136, 255},
}

// Gradient is a pair of colour stops. Fallback is set when the stops are
// Default rather than taken from an image.
type Gradient struct {
	From     RGB
	To       RGB
	Fallback bool
}

// CSS renders the banner background value.
func (g Gradient) CSS() string {
	return "linear-gradient(to bottom right, " + g.From.RGBA(bannerAlpha) + ", " + g.To.RGBA(bannerAlpha) + ")"
}

// Fallback returns Default marked as a fallback.
func Fallback() Gradient {
	g := Default
	g.Fallback = true
	return g
}

type candidate struct {
	rgb   RGB
	hue   float64
	score float64
}

// Extract scales img down, scores a sample of its pixels by vibrancy and
// returns the strongest colour paired with the best-separated runner-up.
func Extract(img image.Image) (Gradient, error) {
	dst := image.NewNRGBA(image.Rect(0, 0, sampleSize, sampleSize))
	draw.BiLinear.Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Src, nil)

	var candidates []candidate
	for p := 0; p < sampleSize*sampleSize; p += sampleStep {
		px := dst.Pix[p*4 : p*4+4]
		r, g, b, a := px[0], px[1], px[2], px[3]
		if a < 200 || int(r)+int(g)+int(b) < 60 {
			continue
		}

		c := RGB{r, g, b}
		hsl := RGBToHSL(c)
		if score := vibrancy(hsl); score > 0.3 {
			candidates = append(candidates, candidate{rgb: c, hue: hsl.H, score: score})
		}
	}

	if len(candidates) < 2 {
		return Gradient{}, ErrNotEnoughColour
	}

	slices.SortStableFunc(candidates, func(a, b candidate) int {
		switch {
		case a.score > b.score:
			return -1
		case a.score < b.score:
			return 1
		}
		return 0
	})
	top := candidates[:min(maxCandidates, len(candidates))]

	first, second := top[0], top[1]
	best := 0.0
	for _, c := range top[1:] {
		separation := 0.5
		if d := hueDistance(first.hue, c.hue); d > 30 && d < 150 {
			separation = 1
		}
		if pair := separation*0.6 + (first.score+c.score)/2*0.4; pair > best {
			best = pair
			second = c
		}
	}

	if hueDistance(first.hue, second.hue) < 20 && len(top) > 2 {
		for _, c := range top[2:] {
			if hueDistance(first.hue, c.hue) > 40 {
				second = c
				break
			}
		}
	}

	return Gradient{From: Enhance(first.rgb), To: Enhance(second.rgb)}, nil
}

// vibrancy favours saturated mid-lightness colours and penalises greys.
func vibrancy(c HSL) float64 {
	lightness := 0.3
	if c.L > 30 && c.L < 70 {
		lightness = 1 - math.Abs(c.L-50)/20
	}
	grey := 1.0
	if c.S < 10 {
		grey = 0
	}
	return c.S/100*0.5 + lightness*0.3 + grey*0.2
}

// Decode reads a png, jpeg, gif or webp image and extracts its gradient.
// The header is checked against MaxDimension before any pixels are decoded.
func Decode(r io.Reader) (Gradient, error) {
	var header bytes.Buffer
	cfg, _, err := image.DecodeConfig(io.TeeReader(r, &header))
	if err != nil {
		return Gradient{}, fmt.Errorf("decode image config: %w", err)
	}
	if cfg.Width > MaxDimension || cfg.Height > MaxDimension {
		return Gradient{}, fmt.Errorf("%w: %dx%d", ErrImageTooLarge, cfg.Width, cfg.Height)
	}

	img, _, err := image.Decode(io.MultiReader(&header, r))
	if err != nil {
		return Gradient{}, fmt.Errorf("decode image: %w", err)
	}
	return Extract(img)
}

// FromReader is Decode that falls back to Default on any error.
func FromReader(r io.Reader) Gradient {
	g, err := Decode(r)
	if err != nil {
		return Fallback()
	}
	return g
}
