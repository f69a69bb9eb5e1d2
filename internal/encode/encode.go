// Package encode turns composited frames into a finished container blob.
// Two backends satisfy the same contract: the ffmpeg x264 backend used for
// preview and final exports (muxes clip audio back in when present), and a
// pure-Go MJPEG/AVI backend for draft exports where encode latency matters
// more than size.
package encode

import (
	"context"
	"fmt"
	"image"

	"github.com/rjsullivan/shottrace/internal/ffmpeg"
	"github.com/rs/zerolog"
)

// Tier selects the encoder speed/quality trade-off. The mapping to encoder
// parameters is a fixed table, never inferred.
type Tier string

const (
	TierDraft   Tier = "draft"
	TierPreview Tier = "preview"
	TierFinal   Tier = "final"
)

// tierParams is the deterministic tier -> (CRF, preset) table for the x264
// backend.
var tierParams = map[Tier]struct {
	CRF    int
	Preset string
}{
	TierDraft:   {CRF: 32, Preset: "ultrafast"},
	TierPreview: {CRF: 23, Preset: "veryfast"},
	TierFinal:   {CRF: 18, Preset: "slow"},
}

// ParseTier validates a tier name.
func ParseTier(s string) (Tier, error) {
	t := Tier(s)
	if _, ok := tierParams[t]; !ok {
		return "", fmt.Errorf("unknown quality tier %q (want draft, preview or final)", s)
	}
	return t, nil
}

// Options configures one clip's encode.
type Options struct {
	Tier Tier
	// SourcePath and the audio range let the ffmpeg backend re-encode the
	// clip's audio alongside the composited video. Ignored when HasAudio
	// is false and by the draft backend, which is video-only.
	SourcePath    string
	HasAudio      bool
	AudioStart    float64
	AudioDuration float64
}

// Encoder accepts composited frames in presentation-time order and produces
// a single container blob. Implementations normalize timestamps so the
// first submitted frame lands at exactly zero; callers keep feeding
// absolute source-video times.
type Encoder interface {
	Configure(ctx context.Context, width, height int, fps float64, opts Options) error
	Submit(img *image.RGBA, presentationTime float64) error
	// Finish finalizes the container and returns the blob. Called exactly
	// once; it fails with MuxError if the backend reports failure, and
	// never silently returns an empty blob.
	Finish(ctx context.Context) ([]byte, error)
	// Discard abandons the encode without finalizing, for cancellation.
	Discard()
}

// ForTier builds the encoder backend for a quality tier.
func ForTier(engine *ffmpeg.Executor, tier Tier, logger zerolog.Logger) Encoder {
	if tier == TierDraft {
		return newMJPEGEncoder(engine, logger)
	}
	return newFFmpegEncoder(engine, logger)
}

// MuxError means the encoder or muxer reported a failure at finalization.
// The status is checked explicitly at the adapter boundary: a successful-
// looking completion with an empty or corrupt output is the worst defect
// class this component can produce.
type MuxError struct {
	Status int
	Detail string
	Err    error
}

func (e *MuxError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("mux failed (status %d): %s", e.Status, e.Detail)
	}
	return fmt.Sprintf("mux failed (status %d)", e.Status)
}

func (e *MuxError) Unwrap() error { return e.Err }

// timestampNormalizer offsets absolute presentation times so the first
// sample is zero, and rejects out-of-order submissions. Many muxers refuse
// a first sample with a nonzero timestamp; the offset is the adapter's job,
// not the caller's.
type timestampNormalizer struct {
	started bool
	first   float64
	last    float64
}

func (n *timestampNormalizer) push(pt float64) (float64, error) {
	if !n.started {
		n.started = true
		n.first = pt
		n.last = pt
		return 0, nil
	}
	if pt < n.last {
		return 0, fmt.Errorf("presentation time %.4f before previous %.4f", pt, n.last)
	}
	n.last = pt
	return pt - n.first, nil
}
