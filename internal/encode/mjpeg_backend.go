package encode

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"math"

	"github.com/google/uuid"
	"github.com/icza/mjpeg"
	"github.com/rjsullivan/shottrace/internal/ffmpeg"
	"github.com/rs/zerolog"
	xdraw "golang.org/x/image/draw"
)

// draftMaxHeight caps draft output resolution. Drafts exist to check tracer
// placement, not pixel quality.
const draftMaxHeight = 720

const draftJPEGQuality = 80

// mjpegEncoder is the draft-tier backend: an in-process MJPEG/AVI writer.
// No subprocess, no audio, encode speed bounded by JPEG compression only.
type mjpegEncoder struct {
	engine *ffmpeg.Executor
	logger zerolog.Logger

	writer   mjpeg.AviWriter
	outName  string
	width    int
	height   int
	outW     int
	outH     int
	scaled   *image.RGBA
	norm     timestampNormalizer
	jpegBuf  bytes.Buffer
	frames   int
	finished bool
}

func newMJPEGEncoder(engine *ffmpeg.Executor, logger zerolog.Logger) Encoder {
	return &mjpegEncoder{
		engine: engine,
		logger: logger.With().Str("component", "encoder").Str("backend", "mjpeg").Logger(),
	}
}

func (e *mjpegEncoder) Configure(ctx context.Context, width, height int, fps float64, opts Options) error {
	if e.writer != nil {
		return fmt.Errorf("encoder already configured")
	}

	e.width = width
	e.height = height
	e.outW, e.outH = width, height
	if height > draftMaxHeight {
		scale := float64(draftMaxHeight) / float64(height)
		e.outW = int(float64(width)*scale) &^ 1
		e.outH = draftMaxHeight
		e.scaled = image.NewRGBA(image.Rect(0, 0, e.outW, e.outH))
	}

	e.outName = fmt.Sprintf("draft-%s.avi", uuid.NewString())
	writer, err := mjpeg.New(e.engine.ScratchPath(e.outName), int32(e.outW), int32(e.outH), int32(math.Round(fps)))
	if err != nil {
		return &MuxError{Status: -1, Detail: "failed to create avi writer", Err: err}
	}
	e.writer = writer

	e.logger.Debug().
		Int("width", e.outW).
		Int("height", e.outH).
		Float64("fps", fps).
		Msg("draft encoder configured")
	return nil
}

func (e *mjpegEncoder) Submit(img *image.RGBA, presentationTime float64) error {
	if e.writer == nil {
		return fmt.Errorf("encoder not configured")
	}
	b := img.Bounds()
	if b.Dx() != e.width || b.Dy() != e.height {
		return fmt.Errorf("frame size %dx%d does not match configured %dx%d", b.Dx(), b.Dy(), e.width, e.height)
	}

	if _, err := e.norm.push(presentationTime); err != nil {
		return err
	}

	out := img
	if e.scaled != nil {
		xdraw.ApproxBiLinear.Scale(e.scaled, e.scaled.Bounds(), img, b, xdraw.Src, nil)
		out = e.scaled
	}

	e.jpegBuf.Reset()
	if err := jpeg.Encode(&e.jpegBuf, out, &jpeg.Options{Quality: draftJPEGQuality}); err != nil {
		return fmt.Errorf("jpeg encode: %w", err)
	}
	if err := e.writer.AddFrame(e.jpegBuf.Bytes()); err != nil {
		return &MuxError{Status: -1, Detail: "failed to add frame", Err: err}
	}
	e.frames++
	return nil
}

func (e *mjpegEncoder) Finish(ctx context.Context) ([]byte, error) {
	if e.writer == nil {
		return nil, fmt.Errorf("encoder not configured")
	}
	if e.finished {
		return nil, fmt.Errorf("encoder already finished")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	e.finished = true

	if err := e.writer.Close(); err != nil {
		return nil, &MuxError{Status: -1, Detail: "failed to finalize avi", Err: err}
	}

	blob, err := e.engine.Collect(e.outName)
	if err != nil {
		return nil, &MuxError{Status: 0, Detail: "output missing after close", Err: err}
	}
	if len(blob) < minBlobBytes {
		return nil, &MuxError{Status: 0, Detail: fmt.Sprintf("output suspiciously small (%d bytes)", len(blob))}
	}

	e.logger.Info().
		Int("frames", e.frames).
		Int("bytes", len(blob)).
		Msg("draft encode finished")
	return blob, nil
}

func (e *mjpegEncoder) Discard() {
	if e.writer != nil && !e.finished {
		e.finished = true
		_ = e.writer.Close()
		_, _ = e.engine.Collect(e.outName)
	}
}
