package encode

import (
	"context"
	"errors"
	"fmt"
	"image"

	"github.com/google/uuid"
	"github.com/rjsullivan/shottrace/internal/ffmpeg"
	"github.com/rjsullivan/shottrace/pkg/util"
	"github.com/rs/zerolog"
)

// minBlobBytes guards against the black-frame/near-zero-byte export defect:
// a finished container smaller than this cannot hold real frames.
const minBlobBytes = 256

// ffmpegEncoder streams raw RGBA frames into an ffmpeg process that encodes
// x264 and muxes into MP4 in the engine's scratch directory.
type ffmpegEncoder struct {
	engine *ffmpeg.Executor
	logger zerolog.Logger

	pipe      *ffmpeg.Pipe
	outName   string
	width     int
	height    int
	norm      timestampNormalizer
	submitted int
	finished  bool
}

func newFFmpegEncoder(engine *ffmpeg.Executor, logger zerolog.Logger) Encoder {
	return &ffmpegEncoder{
		engine: engine,
		logger: logger.With().Str("component", "encoder").Str("backend", "x264").Logger(),
	}
}

func (e *ffmpegEncoder) Configure(ctx context.Context, width, height int, fps float64, opts Options) error {
	if e.pipe != nil {
		return fmt.Errorf("encoder already configured")
	}
	params, ok := tierParams[opts.Tier]
	if !ok {
		return fmt.Errorf("unknown quality tier %q", opts.Tier)
	}

	e.width = width
	e.height = height
	e.outName = fmt.Sprintf("export-%s.mp4", uuid.NewString())

	args := []string{
		"-f", "rawvideo",
		"-pix_fmt", "rgba",
		"-s", fmt.Sprintf("%dx%d", width, height),
		"-r", fmt.Sprintf("%.4f", fps),
		"-i", "pipe:0",
	}

	if opts.HasAudio && opts.SourcePath != "" {
		args = append(args,
			"-ss", util.FormatSeconds(opts.AudioStart),
			"-t", util.FormatSeconds(opts.AudioDuration),
			"-i", opts.SourcePath,
			"-map", "0:v", "-map", "1:a?",
			"-c:a", "aac",
			"-shortest",
		)
	} else {
		args = append(args, "-map", "0:v")
	}

	args = append(args,
		"-c:v", "libx264",
		"-preset", params.Preset,
		"-crf", fmt.Sprintf("%d", params.CRF),
		"-pix_fmt", "yuv420p",
		"-movflags", "+faststart",
		e.engine.ScratchPath(e.outName),
	)

	pipe, err := e.engine.StartEncode(ctx, args, func(p *ffmpeg.Progress) {
		e.logger.Debug().Int("frame", p.Frame).Str("speed", p.Speed).Msg("encode progress")
	})
	if err != nil {
		return &MuxError{Status: -1, Detail: "failed to start encoder", Err: err}
	}
	e.pipe = pipe

	e.logger.Debug().
		Int("width", width).
		Int("height", height).
		Float64("fps", fps).
		Str("preset", params.Preset).
		Int("crf", params.CRF).
		Bool("audio", opts.HasAudio).
		Msg("encoder configured")
	return nil
}

func (e *ffmpegEncoder) Submit(img *image.RGBA, presentationTime float64) error {
	if e.pipe == nil {
		return fmt.Errorf("encoder not configured")
	}
	b := img.Bounds()
	if b.Dx() != e.width || b.Dy() != e.height {
		return fmt.Errorf("frame size %dx%d does not match configured %dx%d", b.Dx(), b.Dy(), e.width, e.height)
	}

	if _, err := e.norm.push(presentationTime); err != nil {
		return err
	}

	if _, err := e.pipe.Stdin.Write(img.Pix); err != nil {
		// A write failure usually means the encoder died; its stderr has
		// the real story.
		e.pipe.Kill()
		werr := e.pipe.Wait()
		var exit *ffmpeg.ExitError
		if errors.As(werr, &exit) {
			return &MuxError{Status: exit.Code, Detail: exit.Stderr, Err: err}
		}
		return &MuxError{Status: -1, Err: err}
	}
	e.submitted++
	return nil
}

func (e *ffmpegEncoder) Finish(ctx context.Context) ([]byte, error) {
	if e.pipe == nil {
		return nil, fmt.Errorf("encoder not configured")
	}
	if e.finished {
		return nil, fmt.Errorf("encoder already finished")
	}
	e.finished = true

	if err := e.pipe.Stdin.Close(); err != nil {
		return nil, &MuxError{Status: -1, Detail: "failed to close encoder input", Err: err}
	}

	// Finalization must not outlive the caller's deadline: WaitContext kills
	// the process on expiry and surfaces the context error untranslated.
	if err := e.pipe.WaitContext(ctx); err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return nil, err
		}
		var exit *ffmpeg.ExitError
		if errors.As(err, &exit) {
			return nil, &MuxError{Status: exit.Code, Detail: exit.Stderr, Err: err}
		}
		return nil, &MuxError{Status: -1, Err: err}
	}

	blob, err := e.engine.Collect(e.outName)
	if err != nil {
		return nil, &MuxError{Status: 0, Detail: "output missing after successful exit", Err: err}
	}
	if len(blob) < minBlobBytes {
		return nil, &MuxError{Status: 0, Detail: fmt.Sprintf("output suspiciously small (%d bytes)", len(blob))}
	}

	e.logger.Info().
		Int("frames", e.submitted).
		Int("bytes", len(blob)).
		Msg("encode finished")
	return blob, nil
}

func (e *ffmpegEncoder) Discard() {
	if e.pipe != nil && !e.finished {
		e.finished = true
		e.pipe.Kill()
	}
}
