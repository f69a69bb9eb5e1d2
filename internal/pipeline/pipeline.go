// Package pipeline drives one clip export end to end: acquire decoded
// frames, composite the tracer onto each, stream them into the encoder, and
// finalize the container. It owns the memory and time budgets: frames move
// through in small batches, nothing holds more than one batch live, and a
// single wall-clock deadline covers the whole invocation so a stuck decode
// or encode can never hang an export silently.
package pipeline

import (
	"context"
	"errors"
	"io"
	"math"
	"time"

	"github.com/rjsullivan/shottrace/internal/source"
	"github.com/rs/zerolog"
)

// Pipeline runs clip exports. One instance is reusable across clips but
// never runs two clips concurrently; the orchestrator serializes access.
type Pipeline struct {
	logger    zerolog.Logger
	batchSize int
	deadline  time.Duration
}

// New creates a pipeline with the given batch size and per-clip deadline.
func New(logger zerolog.Logger, batchSize int, deadline time.Duration) *Pipeline {
	if batchSize <= 0 {
		batchSize = 10
	}
	if deadline <= 0 {
		deadline = 3 * time.Minute
	}
	return &Pipeline{
		logger:    logger.With().Str("component", "pipeline").Logger(),
		batchSize: batchSize,
		deadline:  deadline,
	}
}

// Run executes one clip export and returns the finished container blob.
// On any error the encoder state is discarded and no partial output is
// returned.
func (p *Pipeline) Run(ctx context.Context, req Request) (blob []byte, err error) {
	clip := req.Clip
	deadline := time.Now().Add(p.deadline)
	phase := PhaseIdle
	frameIndex := 0

	log := p.logger.With().Str("clip", clip.ID).Logger()
	log.Info().
		Float64("start", clip.Start).
		Float64("end", clip.End).
		Int("trajectory_points", len(clip.Trajectory)).
		Msg("starting clip export")

	defer func() {
		if err != nil {
			req.Encoder.Discard()
			p.emit(ctx, req, PhaseFailed, IndeterminatePercent)
			log.Error().Err(err).Str("phase", string(phase)).Int("frame", frameIndex).Msg("clip export failed")
		}
	}()

	check := func() error {
		if cerr := ctx.Err(); cerr != nil {
			if errors.Is(cerr, context.Canceled) {
				return ErrCancelled
			}
			return cerr
		}
		if time.Now().After(deadline) {
			return &TimeoutError{Phase: phase, FrameIndex: frameIndex, Budget: p.deadline}
		}
		return nil
	}

	// Preparing: open the source, probe container metadata, apply the
	// decode policy.
	phase = PhasePreparing
	p.emit(ctx, req, phase, IndeterminatePercent)

	src, err := req.Open(ctx)
	if err != nil {
		return nil, err
	}
	defer src.Close()

	if err = src.CheckRange(clip.Start, clip.End); err != nil {
		return nil, err
	}

	// Probing: decode a single frame to establish the actual pixel
	// dimensions; container metadata is not always trustworthy.
	phase = PhaseProbing
	p.emit(ctx, req, phase, IndeterminatePercent)

	probe, err := src.ProbeFrame(ctx, clip.Start)
	if err != nil {
		return nil, err
	}
	width := probe.Image.Bounds().Dx()
	height := probe.Image.Bounds().Dy()
	probe = nil

	fps := src.EffectiveFPS(clip.Duration())
	expected := int(math.Round(clip.Duration() * fps))
	if expected < 1 {
		expected = 1
	}

	opts := req.Encode
	opts.HasAudio = opts.HasAudio && src.Info().HasAudio
	if err = req.Encoder.Configure(ctx, width, height, fps, opts); err != nil {
		return nil, err
	}

	log.Debug().
		Int("width", width).
		Int("height", height).
		Float64("fps", fps).
		Int("expected_frames", expected).
		Msg("probe complete")

	// Compositing: pull frames in batches, draw the tracer, feed the
	// encoder. Batch boundaries are the suspension points: deadline and
	// cancellation are checked there, progress is reported there, and no
	// frame survives past its submit.
	phase = PhaseCompositing
	p.emit(ctx, req, phase, 0)

	iter, err := src.Frames(ctx, clip.Start, clip.End, fps)
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	impact := clip.ImpactTime()
	done := false
	for !done {
		if err = check(); err != nil {
			return nil, err
		}

		for n := 0; n < p.batchSize; n++ {
			frame, ferr := iter.Next()
			if ferr != nil {
				if errors.Is(ferr, io.EOF) {
					done = true
					break
				}
				// A mid-batch decode failure submits nothing further.
				err = ferr
				return nil, err
			}

			req.Renderer.Draw(frame.Image, frame.Time, clip.Trajectory, impact)
			if err = req.Encoder.Submit(frame.Image, frame.Time); err != nil {
				return nil, err
			}
			frame.Image = nil
			frameIndex++
		}

		percent := frameIndex * 100 / expected
		if percent > 100 {
			percent = 100
		}
		p.emit(ctx, req, phase, percent)
	}

	if frameIndex == 0 {
		err = &source.DecodeError{FrameIndex: 0, Err: errors.New("decoder produced no frames for range")}
		return nil, err
	}

	// Encoding: all frames submitted, finalize the container. The deadline
	// still applies; Finish gets a context that expires with it.
	phase = PhaseEncoding
	p.emit(ctx, req, phase, IndeterminatePercent)

	finishCtx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	blob, err = req.Encoder.Finish(finishCtx)
	if err != nil {
		// The encoder surfaces the context error from a killed finalization;
		// a user cancel keeps its distinct kind, a deadline overrun becomes
		// the pipeline's timeout.
		if errors.Is(ctx.Err(), context.Canceled) || errors.Is(err, context.Canceled) {
			err = ErrCancelled
		} else if errors.Is(err, context.DeadlineExceeded) || time.Now().After(deadline) {
			err = &TimeoutError{Phase: phase, FrameIndex: frameIndex, Budget: p.deadline}
		}
		return nil, err
	}

	phase = PhaseComplete
	p.emit(ctx, req, phase, 100)

	log.Info().
		Int("frames", frameIndex).
		Int("bytes", len(blob)).
		Msg("clip export complete")
	return blob, nil
}

// emit sends a progress event without ever wedging the pipeline on a
// deaf receiver.
func (p *Pipeline) emit(ctx context.Context, req Request, phase Phase, percent int) {
	if req.Progress == nil {
		return
	}
	ev := Progress{ClipID: req.Clip.ID, Phase: phase, Percent: percent}
	select {
	case req.Progress <- ev:
	case <-ctx.Done():
	}
}
