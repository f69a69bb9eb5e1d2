package trajectory

import (
	"math"
	"testing"
)

func line(times ...float64) Trajectory {
	tr := make(Trajectory, len(times))
	for i, t := range times {
		frac := float64(i) / float64(len(times)-1)
		tr[i] = Point{X: 0.1 + 0.8*frac, Y: 0.5, Time: t}
	}
	return tr
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		traj    Trajectory
		wantErr bool
	}{
		{"empty", Trajectory{}, false},
		{"single point", Trajectory{{X: 0.5, Y: 0.5, Time: 1}}, false},
		{"ordered", line(10, 11, 12), false},
		{"out of order", Trajectory{{X: 0.1, Y: 0.5, Time: 2}, {X: 0.2, Y: 0.5, Time: 1}}, true},
		{"x out of range", Trajectory{{X: 1.2, Y: 0.5, Time: 1}}, true},
		{"y negative", Trajectory{{X: 0.5, Y: -0.1, Time: 1}}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.traj.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestLeadingEdgeBeforeStart(t *testing.T) {
	tr := line(10, 11, 12)

	if _, _, ok := tr.LeadingEdge(9.5); ok {
		t.Error("expected no edge before the first point")
	}
}

func TestLeadingEdgeTooFewPoints(t *testing.T) {
	tr := Trajectory{{X: 0.5, Y: 0.5, Time: 10}}

	if _, _, ok := tr.LeadingEdge(10.5); ok {
		t.Error("expected no edge with a single point")
	}
}

func TestLeadingEdgePinsToEnd(t *testing.T) {
	tr := line(10, 11, 12)

	edge, last, ok := tr.LeadingEdge(99)
	if !ok {
		t.Fatal("expected an edge past the end")
	}
	if last != len(tr)-1 {
		t.Errorf("last = %d, want %d", last, len(tr)-1)
	}
	if edge != tr[len(tr)-1] {
		t.Errorf("edge = %+v, want last point %+v", edge, tr[len(tr)-1])
	}
}

func TestLeadingEdgeInterpolates(t *testing.T) {
	tr := Trajectory{
		{X: 0.2, Y: 0.8, Time: 10},
		{X: 0.6, Y: 0.4, Time: 12},
	}

	edge, last, ok := tr.LeadingEdge(11)
	if !ok {
		t.Fatal("expected an edge inside the segment")
	}
	if last != 0 {
		t.Errorf("last = %d, want 0", last)
	}
	if math.Abs(edge.X-0.4) > 1e-9 || math.Abs(edge.Y-0.6) > 1e-9 {
		t.Errorf("edge = (%.4f, %.4f), want (0.4, 0.6)", edge.X, edge.Y)
	}
}

// Two frame times inside the same segment must see the edge strictly
// further along at the later time; a backward jump would make the tracer
// visibly flicker.
func TestLeadingEdgeMonotonicWithinSegment(t *testing.T) {
	tr := line(10, 13)

	prev := -1.0
	for frameT := 10.0; frameT < 13.0; frameT += 0.25 {
		edge, _, ok := tr.LeadingEdge(frameT)
		if !ok {
			t.Fatalf("no edge at t=%.2f", frameT)
		}
		if edge.X <= prev {
			t.Fatalf("edge.X %.4f at t=%.2f did not advance past %.4f", edge.X, frameT, prev)
		}
		prev = edge.X
	}
}
