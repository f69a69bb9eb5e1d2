package clips

import (
	"fmt"

	"github.com/rjsullivan/shottrace/internal/trajectory"
)

// MinClipSeconds is the minimum viable clip length. It matches the trim
// constraint enforced upstream where clips are approved.
const MinClipSeconds = 0.5

// Clip is one approved shot: a time range in absolute source-video seconds,
// the moment of ball contact, and the flight path to draw. Impact <= 0 means
// unset, in which case the tracer anchors to the clip start.
type Clip struct {
	ID         string                `json:"id,omitempty"`
	Start      float64               `json:"start"`
	End        float64               `json:"end"`
	Impact     float64               `json:"impact,omitempty"`
	Trajectory trajectory.Trajectory `json:"trajectory,omitempty"`
}

// Duration returns the clip length in seconds.
func (c *Clip) Duration() float64 {
	return c.End - c.Start
}

// ImpactTime returns the tracer anchor, defaulting to the clip start.
func (c *Clip) ImpactTime() float64 {
	if c.Impact > 0 {
		return c.Impact
	}
	return c.Start
}

// Validate checks the range invariants and the trajectory.
func (c *Clip) Validate() error {
	if c.End <= c.Start {
		return fmt.Errorf("clip %s: end %.3f not after start %.3f", c.ID, c.End, c.Start)
	}
	if c.Duration() < MinClipSeconds {
		return fmt.Errorf("clip %s: duration %.3fs below minimum %.1fs", c.ID, c.Duration(), MinClipSeconds)
	}
	if c.Impact > 0 && (c.Impact < c.Start || c.Impact > c.End) {
		return fmt.Errorf("clip %s: impact %.3f outside clip range", c.ID, c.Impact)
	}
	if err := c.Trajectory.Validate(); err != nil {
		return fmt.Errorf("clip %s: %w", c.ID, err)
	}
	return nil
}
