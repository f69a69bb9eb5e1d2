package source

import "fmt"

// UnsupportedMediaError means the source cannot be opened or decoded at all.
// Fatal for the clip; no frame work is attempted.
type UnsupportedMediaError struct {
	Path string
	Err  error
}

func (e *UnsupportedMediaError) Error() string {
	return fmt.Sprintf("unsupported media %s: %v", e.Path, e.Err)
}

func (e *UnsupportedMediaError) Unwrap() error { return e.Err }

// SeekOutOfRangeError means the clip range falls outside the source
// duration. Detected before any frame work begins.
type SeekOutOfRangeError struct {
	Start    float64
	End      float64
	Duration float64
}

func (e *SeekOutOfRangeError) Error() string {
	return fmt.Sprintf("clip range [%.3f, %.3f] exceeds source duration %.3fs", e.Start, e.End, e.Duration)
}

// DecodeError is a mid-stream decode failure. Fatal for the clip; frames
// already composited are discarded by the caller.
type DecodeError struct {
	FrameIndex int
	Err        error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode failed at frame %d: %v", e.FrameIndex, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }
