// Package render draws the animated ball-flight tracer onto decoded video
// frames. All path math happens in normalized [0,1] coordinates and is mapped
// to pixels with the dimensions of the frame being drawn, so the renderer
// works unchanged whether the source was decoded at native or capped
// resolution.
package render

import (
	"fmt"
	"image"
	"image/color"
	"math"
	"strconv"
	"strings"

	"github.com/rjsullivan/shottrace/internal/trajectory"
)

// referenceHeight is the frame height the stroke width is expressed
// against; smaller frames get proportionally thinner strokes.
const referenceHeight = 1080.0

// tipTaper is the stroke radius multiplier at the leading edge relative to
// the flight start.
const tipTaper = 0.65

// glowLayers are rendered outer-to-inner over the same polyline. The outer
// layers are wider and fainter, giving the tracer its soft edge; the last
// layer is the opaque core line.
var glowLayers = []struct {
	widthScale float64
	alpha      uint8
}{
	{3.2, 44},
	{1.9, 110},
	{1.0, 255},
}

// Style configures tracer appearance. Color and width are inputs rather
// than constants so callers can vary them per export.
type Style struct {
	Color color.RGBA
	Width float64
}

// DefaultStyle returns the stock red tracer.
func DefaultStyle() Style {
	return Style{
		Color: color.RGBA{R: 0xff, G: 0x2d, B: 0x2d, A: 0xff},
		Width: 6,
	}
}

// ParseColor parses "#RRGGBB" into an opaque RGBA color.
func ParseColor(s string) (color.RGBA, error) {
	s = strings.TrimPrefix(s, "#")
	if len(s) != 6 {
		return color.RGBA{}, fmt.Errorf("invalid color %q: want #RRGGBB", s)
	}
	v, err := strconv.ParseUint(s, 16, 32)
	if err != nil {
		return color.RGBA{}, fmt.Errorf("invalid color %q: %w", s, err)
	}
	return color.RGBA{R: uint8(v >> 16), G: uint8(v >> 8), B: uint8(v), A: 0xff}, nil
}

// Tracer renders the flight path overlay. One Tracer serves a whole clip;
// the scratch mask is reused across frames to avoid per-frame allocation.
type Tracer struct {
	style Style
	mask  *coverageMask
}

// NewTracer creates a tracer renderer with the given style.
func NewTracer(style Style) *Tracer {
	if style.Width <= 0 {
		style.Width = DefaultStyle().Width
	}
	if style.Color.A == 0 {
		style.Color = DefaultStyle().Color
	}
	return &Tracer{style: style}
}

// Draw composites the portion of the flight path visible at absolute time
// now onto the frame, in place. Before impact, and with fewer than two
// trajectory points, the frame passes through untouched.
func (t *Tracer) Draw(frame *image.RGBA, now float64, traj trajectory.Trajectory, impact float64) {
	if !traj.Renderable() || now < impact {
		return
	}

	edge, last, ok := traj.LeadingEdge(now)
	if !ok {
		return
	}

	b := frame.Bounds()
	w, h := b.Dx(), b.Dy()
	if w < 2 || h < 2 {
		return
	}

	// Pixel-space polyline: whole points up to the bracketing one, then the
	// interpolated leading edge.
	xs := make([]float64, 0, last+2)
	ys := make([]float64, 0, last+2)
	for i := 0; i <= last; i++ {
		xs = append(xs, traj[i].X*float64(w-1))
		ys = append(ys, traj[i].Y*float64(h-1))
	}
	ex, ey := edge.X*float64(w-1), edge.Y*float64(h-1)
	if ex != xs[len(xs)-1] || ey != ys[len(ys)-1] {
		xs = append(xs, ex)
		ys = append(ys, ey)
	}
	if len(xs) < 2 {
		return
	}

	baseRadius := t.style.Width / 2 * float64(h) / referenceHeight
	if baseRadius < 0.75 {
		baseRadius = 0.75
	}

	if t.mask == nil || t.mask.w != w || t.mask.h != h {
		t.mask = newCoverageMask(w, h)
	}

	segs := len(xs) - 1
	for _, layer := range glowLayers {
		t.mask.reset()
		r := baseRadius * layer.widthScale
		for i := 0; i < segs; i++ {
			f0 := float64(i) / float64(segs)
			f1 := float64(i+1) / float64(segs)
			r0 := r * taper(f0)
			r1 := r * taper(f1)
			t.mask.stampSegment(xs[i], ys[i], xs[i+1], ys[i+1], r0, r1)
		}
		t.mask.composite(frame, t.style.Color, layer.alpha)
	}
}

// taper narrows the stroke toward the leading edge.
func taper(frac float64) float64 {
	return 1 - (1-tipTaper)*math.Min(1, math.Max(0, frac))
}
