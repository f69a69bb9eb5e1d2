package render

import (
	"image"
	"image/color"
	"math"
)

// coverageMask accumulates per-pixel coverage for one glow pass. Stamping
// into a mask and compositing once keeps the pass alpha uniform: blending
// overlapping translucent discs directly would darken wherever stamps
// overlap, which is every few pixels along the path.
type coverageMask struct {
	w, h int
	pix  []uint8
}

func newCoverageMask(w, h int) *coverageMask {
	return &coverageMask{w: w, h: h, pix: make([]uint8, w*h)}
}

func (m *coverageMask) reset() {
	for i := range m.pix {
		m.pix[i] = 0
	}
}

// stampDisc marks all pixels within radius r of (cx, cy).
func (m *coverageMask) stampDisc(cx, cy, r float64) {
	if r <= 0 {
		return
	}
	x0 := int(math.Floor(cx - r))
	x1 := int(math.Ceil(cx + r))
	y0 := int(math.Floor(cy - r))
	y1 := int(math.Ceil(cy + r))
	if x0 < 0 {
		x0 = 0
	}
	if y0 < 0 {
		y0 = 0
	}
	if x1 >= m.w {
		x1 = m.w - 1
	}
	if y1 >= m.h {
		y1 = m.h - 1
	}

	rr := r * r
	for y := y0; y <= y1; y++ {
		dy := float64(y) - cy
		row := y * m.w
		for x := x0; x <= x1; x++ {
			dx := float64(x) - cx
			if dx*dx+dy*dy <= rr {
				m.pix[row+x] = 0xff
			}
		}
	}
}

// stampSegment draws a thick segment by walking discs from (x0,y0) to
// (x1,y1), interpolating the radius from r0 to r1 along the way.
func (m *coverageMask) stampSegment(x0, y0, x1, y1, r0, r1 float64) {
	dx := x1 - x0
	dy := y1 - y0
	length := math.Hypot(dx, dy)

	minR := math.Min(r0, r1)
	step := minR * 0.5
	if step < 0.75 {
		step = 0.75
	}

	steps := int(length/step) + 1
	for i := 0; i <= steps; i++ {
		frac := float64(i) / float64(steps)
		m.stampDisc(x0+dx*frac, y0+dy*frac, r0+(r1-r0)*frac)
	}
}

// composite blends the mask onto dst with the given color and pass alpha
// using source-over.
func (m *coverageMask) composite(dst *image.RGBA, col color.RGBA, alpha uint8) {
	if alpha == 0 {
		return
	}
	b := dst.Bounds()
	a := uint32(alpha)
	sr := uint32(col.R) * a / 0xff
	sg := uint32(col.G) * a / 0xff
	sb := uint32(col.B) * a / 0xff
	inv := 0xff - a

	for y := 0; y < m.h && y < b.Dy(); y++ {
		row := y * m.w
		for x := 0; x < m.w && x < b.Dx(); x++ {
			if m.pix[row+x] == 0 {
				continue
			}
			off := dst.PixOffset(b.Min.X+x, b.Min.Y+y)
			dst.Pix[off+0] = uint8(sr + uint32(dst.Pix[off+0])*inv/0xff)
			dst.Pix[off+1] = uint8(sg + uint32(dst.Pix[off+1])*inv/0xff)
			dst.Pix[off+2] = uint8(sb + uint32(dst.Pix[off+2])*inv/0xff)
			dst.Pix[off+3] = uint8(a + uint32(dst.Pix[off+3])*inv/0xff)
		}
	}
}
