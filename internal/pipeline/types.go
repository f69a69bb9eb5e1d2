package pipeline

import (
	"context"
	"errors"
	"fmt"
	"image"
	"time"

	"github.com/rjsullivan/shottrace/internal/clips"
	"github.com/rjsullivan/shottrace/internal/encode"
	"github.com/rjsullivan/shottrace/internal/source"
	"github.com/rjsullivan/shottrace/internal/trajectory"
)

// Phase is the pipeline state for one clip export. Failed is reachable from
// every non-terminal phase.
type Phase string

const (
	PhaseIdle        Phase = "idle"
	PhasePreparing   Phase = "preparing"
	PhaseProbing     Phase = "probing"
	PhaseCompositing Phase = "compositing"
	PhaseEncoding    Phase = "encoding"
	PhaseComplete    Phase = "complete"
	PhaseFailed      Phase = "failed"
)

// IndeterminatePercent marks sub-phases with no meaningful percent.
const IndeterminatePercent = -1

// Progress is one discrete progress event. Percent is -1 for indeterminate
// sub-phases and 0-100 otherwise.
type Progress struct {
	ClipID  string
	Phase   Phase
	Percent int
}

// Opener hands the pipeline its frame source once Preparing starts. The
// orchestrator stages the source into the engine scratch space inside this
// callback so staging cost lands in the right phase.
type Opener func(ctx context.Context) (source.FrameSource, error)

// Renderer draws the tracer overlay onto a frame in place.
type Renderer interface {
	Draw(frame *image.RGBA, now float64, traj trajectory.Trajectory, impact float64)
}

// Request is everything one clip export consumes. Built once per clip,
// consumed by exactly one Run, then discarded.
type Request struct {
	Clip     *clips.Clip
	Open     Opener
	Renderer Renderer
	Encoder  encode.Encoder
	Encode   encode.Options

	// Progress receives one event per phase change and one per batch
	// during compositing. Optional.
	Progress chan<- Progress
}

// TimeoutError means the wall-clock deadline for the whole pipeline
// invocation was exceeded. It records how far the export got.
type TimeoutError struct {
	Phase      Phase
	FrameIndex int
	Budget     time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("export deadline (%s) exceeded in %s at frame %d", e.Budget, e.Phase, e.FrameIndex)
}

// ErrCancelled is returned when the caller's context is cancelled. It is
// user-initiated, distinct from failure.
var ErrCancelled = errors.New("export cancelled")
