package render

import (
	"bytes"
	"image"
	"testing"

	"github.com/rjsullivan/shottrace/internal/trajectory"
)

func blackFrame(w, h int) *image.RGBA {
	frame := image.NewRGBA(image.Rect(0, 0, w, h))
	for i := 3; i < len(frame.Pix); i += 4 {
		frame.Pix[i] = 0xff
	}
	return frame
}

func flightPath() trajectory.Trajectory {
	// Straight horizontal flight across the middle of the frame, 3s long.
	return trajectory.Trajectory{
		{X: 0.10, Y: 0.5, Time: 10.0},
		{X: 0.35, Y: 0.5, Time: 11.0},
		{X: 0.60, Y: 0.5, Time: 12.0},
		{X: 0.90, Y: 0.5, Time: 13.0},
	}
}

func redPixels(frame *image.RGBA) int {
	n := 0
	for i := 0; i < len(frame.Pix); i += 4 {
		if frame.Pix[i] > 0 {
			n++
		}
	}
	return n
}

func TestPassThroughWithoutTrajectory(t *testing.T) {
	tests := []struct {
		name string
		traj trajectory.Trajectory
	}{
		{"empty", nil},
		{"single point", trajectory.Trajectory{{X: 0.5, Y: 0.5, Time: 10}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			frame := blackFrame(320, 180)
			want := append([]uint8(nil), frame.Pix...)

			NewTracer(DefaultStyle()).Draw(frame, 12.0, tt.traj, 10.0)

			if !bytes.Equal(frame.Pix, want) {
				t.Error("frame was modified; expected pixel-identical pass-through")
			}
		})
	}
}

func TestNothingDrawnBeforeImpact(t *testing.T) {
	frame := blackFrame(320, 180)
	want := append([]uint8(nil), frame.Pix...)

	// Trajectory exists from t=10 but impact is anchored at t=10; frame
	// at t=9.9 precedes the strike.
	NewTracer(DefaultStyle()).Draw(frame, 9.9, flightPath(), 10.0)

	if !bytes.Equal(frame.Pix, want) {
		t.Error("tracer pixels drawn before impact time")
	}
}

func TestTracerVisibleFromImpact(t *testing.T) {
	frame := blackFrame(320, 180)

	NewTracer(DefaultStyle()).Draw(frame, 10.5, flightPath(), 10.0)

	if redPixels(frame) == 0 {
		t.Error("no tracer pixels drawn on the first post-impact frame")
	}
}

func TestGlowHasDistinctAlphaBands(t *testing.T) {
	frame := blackFrame(640, 360)

	NewTracer(DefaultStyle()).Draw(frame, 13.0, flightPath(), 10.0)

	levels := make(map[uint8]bool)
	for i := 0; i < len(frame.Pix); i += 4 {
		if frame.Pix[i] > 0 {
			levels[frame.Pix[i]] = true
		}
	}
	if len(levels) < 2 {
		t.Errorf("got %d distinct intensity levels, want at least 2 (outer glow vs core)", len(levels))
	}
}

// The drawn extent must advance strictly between two frames inside the same
// trajectory segment.
func TestLeadingEdgeAdvancesBetweenFrames(t *testing.T) {
	extent := func(now float64) int {
		frame := blackFrame(640, 360)
		NewTracer(DefaultStyle()).Draw(frame, now, flightPath(), 10.0)

		maxX := -1
		for y := 0; y < 360; y++ {
			for x := 0; x < 640; x++ {
				if frame.Pix[frame.PixOffset(x, y)] > 0 && x > maxX {
					maxX = x
				}
			}
		}
		return maxX
	}

	e1 := extent(11.2)
	e2 := extent(11.7)
	if e1 < 0 || e2 < 0 {
		t.Fatal("expected tracer pixels in both frames")
	}
	if e2 <= e1 {
		t.Errorf("drawn extent did not advance: %d then %d", e1, e2)
	}
}

func TestResolutionIndependence(t *testing.T) {
	// The same trajectory on two frame sizes must land the tracer at the
	// same normalized position.
	for _, size := range []struct{ w, h int }{{320, 180}, {1280, 720}} {
		frame := blackFrame(size.w, size.h)
		NewTracer(DefaultStyle()).Draw(frame, 13.0, flightPath(), 10.0)

		midY := size.h / 2
		if frame.Pix[frame.PixOffset(size.w/2, midY)] == 0 {
			t.Errorf("%dx%d: no tracer at frame center where the path crosses", size.w, size.h)
		}
	}
}

func TestParseColor(t *testing.T) {
	c, err := ParseColor("#FF2D2D")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.R != 0xff || c.G != 0x2d || c.B != 0x2d || c.A != 0xff {
		t.Errorf("parsed %+v", c)
	}

	if _, err := ParseColor("red"); err == nil {
		t.Error("expected error for non-hex color")
	}
}
