package source

import "math"

// maxPixels is the 1080p-equivalent pixel count the decode resolution is
// capped to. 4K-frame compositing is the dominant cause of memory
// exhaustion, so the cap applies regardless of orientation.
const maxPixels = 1920 * 1080

// Policy decides decode resolution and frame rate. The source applies it,
// not the caller, so every consumer gets the same memory guarantees.
type Policy struct {
	// MaxHeight caps the shorter frame dimension, whatever the orientation,
	// so portrait phone footage downscales the same as landscape.
	MaxHeight int
	// SizeThreshold is the encoded byte size beyond which downscaling
	// kicks in even when the resolution alone would be acceptable.
	SizeThreshold int64
	// MaxFrames bounds the total frame count for one clip.
	MaxFrames int
	// MinFPS is the floor the effective rate never drops below.
	MinFPS float64
}

// DefaultPolicy returns the policy tuned for large 4K/60fps sources.
func DefaultPolicy() Policy {
	return Policy{
		MaxHeight:     1080,
		SizeThreshold: 50 << 20,
		MaxFrames:     450,
		MinFPS:        24,
	}
}

// DecodeSize returns the resolution frames are decoded at. Dimensions are
// forced even so the encoder accepts them.
func (p Policy) DecodeSize(nativeW, nativeH int, sizeBytes int64) (w, h int, downscaled bool) {
	w, h = nativeW, nativeH

	trigger := (p.SizeThreshold > 0 && sizeBytes > p.SizeThreshold) ||
		nativeW*nativeH > maxPixels
	if trigger {
		scale := 1.0
		if nativeW*nativeH > maxPixels {
			scale = math.Sqrt(float64(maxPixels) / float64(nativeW*nativeH))
		}
		short := nativeH
		if nativeW < nativeH {
			short = nativeW
		}
		if p.MaxHeight > 0 && float64(short)*scale > float64(p.MaxHeight) {
			scale = float64(p.MaxHeight) / float64(short)
		}
		if scale < 1 {
			w = int(float64(nativeW) * scale)
			h = int(float64(nativeH) * scale)
			downscaled = true
		}
	}

	w, h = evenDim(w), evenDim(h)
	return w, h, downscaled
}

// EffectiveFPS reduces the decode rate so duration*fps stays within the
// frame cap. The floor wins over the cap: dropping below MinFPS would make
// the tracer animation visibly stutter.
func (p Policy) EffectiveFPS(native, duration float64) float64 {
	fps := native
	if fps <= 0 {
		fps = 30
	}
	if p.MaxFrames > 0 && duration > 0 && duration*fps > float64(p.MaxFrames) {
		fps = float64(p.MaxFrames) / duration
	}
	if p.MinFPS > 0 && fps < p.MinFPS {
		fps = p.MinFPS
	}
	return fps
}

func evenDim(v int) int {
	if v < 2 {
		return 2
	}
	return v &^ 1
}
