// Package trajectory models the ball-flight path handed over by the review
// step: an ordered list of normalized positions with absolute source-video
// timestamps. The renderer consumes it read-only.
package trajectory

import (
	"fmt"
	"sort"
)

// Point is one sample of the ball-flight path. X and Y are normalized to
// [0,1] relative to frame width/height; Time is absolute source-video seconds.
type Point struct {
	X    float64 `json:"x"`
	Y    float64 `json:"y"`
	Time float64 `json:"t"`
}

// Trajectory is an ordered (ascending Time) list of flight points.
type Trajectory []Point

// Renderable reports whether the trajectory has enough points to draw a
// line. Fewer than 2 points is a valid state, not an error: the export
// passes frames through untouched.
func (tr Trajectory) Renderable() bool {
	return len(tr) >= 2
}

// Start returns the timestamp of the first point.
func (tr Trajectory) Start() float64 {
	if len(tr) == 0 {
		return 0
	}
	return tr[0].Time
}

// End returns the timestamp of the last point.
func (tr Trajectory) End() float64 {
	if len(tr) == 0 {
		return 0
	}
	return tr[len(tr)-1].Time
}

// Validate checks ordering and coordinate ranges.
func (tr Trajectory) Validate() error {
	for i, p := range tr {
		if p.X < 0 || p.X > 1 || p.Y < 0 || p.Y > 1 {
			return fmt.Errorf("point %d: coordinates (%.4f, %.4f) outside [0,1]", i, p.X, p.Y)
		}
		if i > 0 && p.Time < tr[i-1].Time {
			return fmt.Errorf("point %d: timestamp %.4f before previous %.4f", i, p.Time, tr[i-1].Time)
		}
	}
	return nil
}

// LeadingEdge returns the interpolated tip of the tracer at absolute time t,
// plus the index of the last whole point at or before t. The interpolation
// between bracketing points is what keeps the animation smooth when the frame
// rate exceeds the trajectory's point density.
//
// ok is false when t is before the first point (nothing to draw yet). Past
// the last point the full path is visible and the edge pins to the end.
func (tr Trajectory) LeadingEdge(t float64) (edge Point, last int, ok bool) {
	if len(tr) < 2 || t < tr[0].Time {
		return Point{}, 0, false
	}
	if t >= tr[len(tr)-1].Time {
		return tr[len(tr)-1], len(tr) - 1, true
	}

	// First point strictly after t. Point counts are bounded (a few hundred)
	// so the binary search is a nicety, not a necessity.
	i := sort.Search(len(tr), func(i int) bool { return tr[i].Time > t })
	a, b := tr[i-1], tr[i]

	span := b.Time - a.Time
	if span <= 0 {
		return a, i - 1, true
	}
	frac := (t - a.Time) / span
	return Point{
		X:    a.X + (b.X-a.X)*frac,
		Y:    a.Y + (b.Y-a.Y)*frac,
		Time: t,
	}, i - 1, true
}
