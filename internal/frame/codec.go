package frame

import (
	"fmt"
	"image"
	"image/color"
	"time"

	"github.com/disintegration/imaging"

	"uwrangler/internal/geometry"
	"uwrangler/internal/uwerr"
)

var blackOpaque = color.NRGBA{A: 0xFF}

// EncoderVersion identifies the codec's output format and fit policy.
// Bumping it invalidates every previously cached artifact.
const EncoderVersion = 2

// Convert renders a decoded clip into a frame sequence matching the target
// geometry exactly: uniform scale preserving aspect ratio, letterboxed or
// pillarboxed onto black, never cropped. Output pixels are RGB24, row-major,
// top-left origin. Deterministic and safe for concurrent use.
func Convert(clip *Clip, geom geometry.Geometry, defaultDuration time.Duration) (*Sequence, error) {
	if err := geom.Validate(); err != nil {
		return nil, uwerr.Wrap(uwerr.ErrConfiguration, "codec", "convert", "", err)
	}
	if clip == nil || clip.FrameCount() == 0 {
		return nil, uwerr.Wrap(uwerr.ErrDecode, "codec", "convert", "clip has no frames", nil)
	}
	if defaultDuration <= 0 {
		defaultDuration = 66 * time.Millisecond
	}

	seq := &Sequence{
		Geometry:  geom,
		Loop:      clip.Loop,
		Frames:    make([][]byte, 0, clip.FrameCount()),
		Durations: make([]time.Duration, 0, clip.FrameCount()),
	}
	for i, src := range clip.Frames {
		if src == nil {
			return nil, uwerr.Wrap(uwerr.ErrDecode, "codec", "convert", fmt.Sprintf("frame %d is nil", i), nil)
		}
		bounds := src.Bounds()
		if bounds.Dx() == 0 || bounds.Dy() == 0 {
			return nil, uwerr.Wrap(uwerr.ErrDecode, "codec", "convert", fmt.Sprintf("frame %d is empty", i), nil)
		}
		seq.Frames = append(seq.Frames, renderFrame(src, geom))

		duration := defaultDuration
		if i < len(clip.Durations) && clip.Durations[i] > 0 {
			duration = clip.Durations[i]
		}
		seq.Durations = append(seq.Durations, duration)
	}
	// A still image plays as a single frame held forever.
	if seq.FrameCount() == 1 {
		seq.Loop = true
	}
	return seq, nil
}

// renderFrame scales one source frame onto a black canvas and flattens it to
// RGB24 bytes.
func renderFrame(src image.Image, geom geometry.Geometry) []byte {
	bounds := src.Bounds()
	scaleW, scaleH := fitWithin(bounds.Dx(), bounds.Dy(), geom.Width, geom.Height)

	scaled := imaging.Resize(src, scaleW, scaleH, imaging.Lanczos)
	canvas := imaging.New(geom.Width, geom.Height, blackOpaque)
	composed := imaging.PasteCenter(canvas, scaled)

	out := make([]byte, geom.FrameBytes())
	pix := composed.Pix
	stride := composed.Stride
	idx := 0
	for y := 0; y < geom.Height; y++ {
		row := pix[y*stride:]
		for x := 0; x < geom.Width; x++ {
			out[idx] = row[x*4]
			out[idx+1] = row[x*4+1]
			out[idx+2] = row[x*4+2]
			idx += 3
		}
	}
	return out
}

// fitWithin computes the largest scaled size preserving aspect ratio that
// fits inside the target, upscaling small sources. At least one pixel per
// axis survives extreme aspect mismatches.
func fitWithin(srcW, srcH, dstW, dstH int) (int, int) {
	scaleX := float64(dstW) / float64(srcW)
	scaleY := float64(dstH) / float64(srcH)
	scale := scaleX
	if scaleY < scale {
		scale = scaleY
	}
	w := int(float64(srcW)*scale + 0.5)
	h := int(float64(srcH)*scale + 0.5)
	if w < 1 {
		w = 1
	}
	if w > dstW {
		w = dstW
	}
	if h < 1 {
		h = 1
	}
	if h > dstH {
		h = dstH
	}
	return w, h
}
