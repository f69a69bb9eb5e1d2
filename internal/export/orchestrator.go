// Package export iterates over the approved clips of a project and runs one
// compositing pipeline per clip, strictly sequentially. Per-clip failures
// are isolated: a clip that cannot export is recorded and the batch moves
// on. The orchestrator owns the engine lifecycle, clearing its scratch
// space between clips so nothing leaks from one export into the next.
package export

import (
	"context"
	"errors"
	"path/filepath"

	"github.com/rjsullivan/shottrace/internal/clips"
	"github.com/rjsullivan/shottrace/internal/encode"
	"github.com/rjsullivan/shottrace/internal/ffmpeg"
	"github.com/rjsullivan/shottrace/internal/pipeline"
	"github.com/rjsullivan/shottrace/internal/render"
	"github.com/rjsullivan/shottrace/internal/source"
	"github.com/rs/zerolog"
)

// Result is the terminal state of one clip's export: a blob or an error,
// never both, never partial output.
type Result struct {
	ClipID string
	Blob   []byte
	Err    error
}

// Failed reports whether the clip ended in the failed state.
func (r *Result) Failed() bool { return r.Err != nil }

// Sink receives each finished blob. In the CLI this writes the output file;
// the surrounding app treats it as the download hand-off.
type Sink func(clipID string, blob []byte) error

// Options configures a batch export.
type Options struct {
	Tier     encode.Tier
	Policy   source.Policy
	Style    render.Style
	Progress func(pipeline.Progress)
	Sink     Sink
}

// Engine is the slice of the shared decode/encode engine the orchestrator
// manages: exclusive access per clip plus scratch hygiene between clips.
type Engine interface {
	Acquire()
	Release()
	Clear() error
}

// Orchestrator drives multi-clip exports against the shared engine.
type Orchestrator struct {
	logger zerolog.Logger
	engine Engine
	pipe   *pipeline.Pipeline

	openSource func(ctx context.Context, video string, pol source.Policy) (source.FrameSource, error)
	newEncoder func(tier encode.Tier) encode.Encoder
}

// New creates an orchestrator bound to the process-wide engine. The engine
// is reused across clips; the orchestrator is the only component that
// acquires it.
func New(logger zerolog.Logger, engine *ffmpeg.Executor, pipe *pipeline.Pipeline) *Orchestrator {
	log := logger.With().Str("component", "orchestrator").Logger()
	return &Orchestrator{
		logger: log,
		engine: engine,
		pipe:   pipe,
		openSource: func(ctx context.Context, video string, pol source.Policy) (source.FrameSource, error) {
			// The source enters the engine by being staged into scratch; the
			// per-clip Clear reclaims the copy when the clip is done.
			staged, err := engine.Stage("source"+filepath.Ext(video), video)
			if err != nil {
				return nil, err
			}
			return source.Open(ctx, engine, staged, pol, log)
		},
		newEncoder: func(tier encode.Tier) encode.Encoder {
			return encode.ForTier(engine, tier, log)
		},
	}
}

// Export runs every clip in the project to a terminal state and returns one
// Result per clip, in input order. The returned error is non-nil only when
// the batch as a whole stopped early (cancellation); individual clip
// failures live in the results.
func (o *Orchestrator) Export(ctx context.Context, proj *clips.Project, opts Options) ([]Result, error) {
	results := make([]Result, 0, len(proj.Clips))

	for i, clip := range proj.Clips {
		o.logger.Info().
			Str("clip", clip.ID).
			Int("index", i+1).
			Int("total", len(proj.Clips)).
			Msg("exporting clip")

		blob, err := o.exportOne(ctx, proj.Video, clip, opts)

		if err != nil && errors.Is(err, pipeline.ErrCancelled) {
			results = append(results, Result{ClipID: clip.ID, Err: err})
			o.logger.Warn().Str("clip", clip.ID).Msg("export cancelled, abandoning remaining clips")
			return results, err
		}

		if err != nil {
			// Clip-scoped failure: record it and keep going.
			o.logger.Error().Err(err).Str("clip", clip.ID).Msg("clip failed")
			results = append(results, Result{ClipID: clip.ID, Err: err})
			continue
		}

		if opts.Sink != nil {
			if serr := opts.Sink(clip.ID, blob); serr != nil {
				results = append(results, Result{ClipID: clip.ID, Err: serr})
				continue
			}
		}
		results = append(results, Result{ClipID: clip.ID, Blob: blob})
	}

	o.logger.Info().
		Int("clips", len(results)).
		Int("failed", countFailed(results)).
		Msg("all clips finished")
	return results, nil
}

func (o *Orchestrator) exportOne(ctx context.Context, video string, clip *clips.Clip, opts Options) ([]byte, error) {
	// One clip at a time against the shared engine, with clean scratch
	// state on both sides of the run.
	o.engine.Acquire()
	defer o.engine.Release()

	if err := o.engine.Clear(); err != nil {
		return nil, err
	}
	defer func() {
		if err := o.engine.Clear(); err != nil {
			o.logger.Warn().Err(err).Msg("failed to clear engine scratch")
		}
	}()

	progressCh, done := o.forwardProgress(opts.Progress)
	defer func() {
		close(progressCh)
		<-done
	}()

	req := pipeline.Request{
		Clip: clip,
		Open: func(ctx context.Context) (source.FrameSource, error) {
			return o.openSource(ctx, video, opts.Policy)
		},
		Renderer: render.NewTracer(opts.Style),
		Encoder:  o.newEncoder(opts.Tier),
		Encode: encode.Options{
			Tier:          opts.Tier,
			SourcePath:    video,
			HasAudio:      opts.Tier != encode.TierDraft,
			AudioStart:    clip.Start,
			AudioDuration: clip.Duration(),
		},
		Progress: progressCh,
	}

	return o.pipe.Run(ctx, req)
}

// forwardProgress decouples the pipeline's progress channel from the
// caller's callback so a slow consumer cannot stall compositing batches.
func (o *Orchestrator) forwardProgress(fn func(pipeline.Progress)) (chan pipeline.Progress, <-chan struct{}) {
	ch := make(chan pipeline.Progress, 16)
	done := make(chan struct{})

	go func() {
		defer close(done)
		for ev := range ch {
			o.logger.Debug().
				Str("clip", ev.ClipID).
				Str("phase", string(ev.Phase)).
				Int("percent", ev.Percent).
				Msg("progress")
			if fn != nil {
				fn(ev)
			}
		}
	}()

	return ch, done
}

func countFailed(results []Result) int {
	n := 0
	for _, r := range results {
		if r.Failed() {
			n++
		}
	}
	return n
}
