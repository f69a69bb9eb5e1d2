package source

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"

	"github.com/rjsullivan/shottrace/internal/ffmpeg"
	"github.com/rjsullivan/shottrace/pkg/util"
)

// start launches a raw RGBA decode over a stdout pipe. frameLimit > 0 caps
// the number of frames (used by ProbeFrame); fps <= 0 keeps the native rate.
func (s *ffmpegSource) start(ctx context.Context, at, duration, fps float64, frameLimit int) (*rawIterator, error) {
	args := []string{"-ss", util.FormatSeconds(at)}
	if duration > 0 {
		args = append(args, "-t", util.FormatSeconds(duration))
	}
	args = append(args, "-i", s.path)

	vf := fmt.Sprintf("scale=%d:%d", s.info.Width, s.info.Height)
	if fps > 0 {
		vf += fmt.Sprintf(",fps=%.4f", fps)
	}
	args = append(args, "-vf", vf)

	if frameLimit > 0 {
		args = append(args, "-frames:v", fmt.Sprintf("%d", frameLimit))
	}

	args = append(args,
		"-f", "rawvideo",
		"-pix_fmt", "rgba",
		"-an",
		"pipe:1",
	)

	pipe, err := s.engine.StartDecode(ctx, args)
	if err != nil {
		return nil, &DecodeError{FrameIndex: 0, Err: err}
	}

	return &rawIterator{
		pipe:   pipe,
		width:  s.info.Width,
		height: s.info.Height,
		start:  at,
		fps:    fps,
	}, nil
}

type rawIterator struct {
	pipe   *ffmpeg.Pipe
	width  int
	height int
	start  float64
	fps    float64
	index  int
	done   bool
}

func (it *rawIterator) Next() (*Frame, error) {
	if it.done {
		return nil, io.EOF
	}

	// A fresh buffer per frame: ownership moves downstream and the frame
	// becomes reclaimable the moment the encoder is done with it.
	buf := make([]uint8, it.width*it.height*4)
	n, err := io.ReadFull(it.pipe.Stdout, buf)
	if err != nil {
		it.done = true
		if n == 0 && (errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF)) {
			// Clean end of range; surface the decoder's verdict if it
			// actually failed.
			if werr := it.pipe.Wait(); werr != nil {
				return nil, &DecodeError{FrameIndex: it.index, Err: werr}
			}
			return nil, io.EOF
		}
		it.pipe.Kill()
		return nil, &DecodeError{FrameIndex: it.index, Err: err}
	}

	t := it.start
	if it.fps > 0 {
		t += float64(it.index) / it.fps
	}

	frame := &Frame{
		Image: &image.RGBA{
			Pix:    buf,
			Stride: it.width * 4,
			Rect:   image.Rect(0, 0, it.width, it.height),
		},
		Time:  t,
		Index: it.index,
	}
	it.index++
	return frame, nil
}

func (it *rawIterator) Close() {
	if !it.done {
		it.done = true
		it.pipe.Kill()
		return
	}
	_ = it.pipe.Wait()
}
