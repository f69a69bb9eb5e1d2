// Package source produces decoded raster frames for a clip time range. It
// hides container/codec differences behind the FrameSource interface and
// owns the downscale and frame-rate policy: oversized sources are reduced at
// decode time, before any compositing buffer exists, because that is the
// cheapest place to shed pixels.
package source

import (
	"context"
	"fmt"
	"image"

	"github.com/rjsullivan/shottrace/internal/ffmpeg"
	"github.com/rs/zerolog"
)

// Frame is one decoded image at an absolute presentation time. The source
// owns a frame only until Next returns it; after that the caller composites
// and submits it, and nothing retains it past the encoder hand-off.
type Frame struct {
	Image *image.RGBA
	Time  float64
	Index int
}

// Info describes an opened source after the decode policy has been applied.
type Info struct {
	NativeWidth  int
	NativeHeight int
	Width        int
	Height       int
	NativeFPS    float64
	Duration     float64
	SizeBytes    int64
	HasAudio     bool
	Downscaled   bool
}

// FrameSource yields decoded frames for clip ranges of one opened source.
type FrameSource interface {
	Info() *Info
	// CheckRange verifies the clip range is coverable before any frame
	// work begins.
	CheckRange(start, end float64) error
	// ProbeFrame decodes a single frame at time t. Container metadata is
	// not always trustworthy; the pixel dimensions of this frame are.
	ProbeFrame(ctx context.Context, t float64) (*Frame, error)
	// EffectiveFPS returns the decode frame rate for a clip of the given
	// duration after the frame-count cap is applied.
	EffectiveFPS(duration float64) float64
	// Frames starts decoding the range at the given rate. The sequence is
	// finite, yielded in non-decreasing timestamp order, and not
	// restartable: a fresh call re-opens decode from the seek point.
	Frames(ctx context.Context, start, end, fps float64) (Iterator, error)
	Close() error
}

// Iterator pulls frames one at a time so the caller controls residency.
type Iterator interface {
	// Next returns the next frame, io.EOF after the last one, or a
	// DecodeError if the stream fails mid-range.
	Next() (*Frame, error)
	Close()
}

// Open probes the file and applies the decode policy. It fails with
// UnsupportedMediaError when the file has no decodable video stream.
func Open(ctx context.Context, engine *ffmpeg.Executor, path string, pol Policy, logger zerolog.Logger) (FrameSource, error) {
	probe, err := engine.Probe(ctx, path)
	if err != nil {
		return nil, &UnsupportedMediaError{Path: path, Err: err}
	}

	w, h, downscaled := pol.DecodeSize(probe.Width, probe.Height, probe.SizeBytes)

	info := &Info{
		NativeWidth:  probe.Width,
		NativeHeight: probe.Height,
		Width:        w,
		Height:       h,
		NativeFPS:    probe.FPS,
		Duration:     probe.Duration.Seconds(),
		SizeBytes:    probe.SizeBytes,
		HasAudio:     probe.HasAudio,
		Downscaled:   downscaled,
	}

	log := logger.With().Str("component", "source").Logger()
	log.Debug().
		Str("path", path).
		Int("native_width", probe.Width).
		Int("native_height", probe.Height).
		Int("decode_width", w).
		Int("decode_height", h).
		Bool("downscaled", downscaled).
		Msg("source opened")

	return &ffmpegSource{
		engine: engine,
		path:   path,
		info:   info,
		policy: pol,
		logger: log,
	}, nil
}

type ffmpegSource struct {
	engine *ffmpeg.Executor
	path   string
	info   *Info
	policy Policy
	logger zerolog.Logger
}

func (s *ffmpegSource) Info() *Info { return s.info }

func (s *ffmpegSource) CheckRange(start, end float64) error {
	// Containers round duration; allow a frame's worth of slack at the end.
	slack := 0.1
	if s.info.NativeFPS > 0 {
		slack = 1 / s.info.NativeFPS
	}
	if start < 0 || end > s.info.Duration+slack {
		return &SeekOutOfRangeError{Start: start, End: end, Duration: s.info.Duration}
	}
	return nil
}

func (s *ffmpegSource) EffectiveFPS(duration float64) float64 {
	return s.policy.EffectiveFPS(s.info.NativeFPS, duration)
}

func (s *ffmpegSource) ProbeFrame(ctx context.Context, t float64) (*Frame, error) {
	iter, err := s.start(ctx, t, 0, 0, 1)
	if err != nil {
		return nil, err
	}
	defer iter.Close()
	return iter.Next()
}

func (s *ffmpegSource) Frames(ctx context.Context, start, end, fps float64) (Iterator, error) {
	if fps <= 0 {
		return nil, fmt.Errorf("invalid frame rate %.3f", fps)
	}
	return s.start(ctx, start, end-start, fps, 0)
}

func (s *ffmpegSource) Close() error { return nil }
