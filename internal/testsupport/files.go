package testsupport

import (
	"image"
	"image/color"
	"image/gif"
	"image/png"
	"os"
	"path/filepath"
	"testing"
	"time"

	"uwrangler/internal/frame"
	"uwrangler/internal/geometry"
)

// WritePNG writes a solid-color PNG fixture at the target path.
func WritePNG(t testing.TB, path string, width, height int, fill color.Color) {
	t.Helper()

	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, fill)
		}
	}
	mustMkdirAll(t, filepath.Dir(path))
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create %s: %v", path, err)
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		t.Fatalf("encode png %s: %v", path, err)
	}
}

// WriteGIF writes an animated GIF fixture with the given number of frames.
// Each frame alternates between two colors and carries a 100ms delay.
func WriteGIF(t testing.TB, path string, width, height, frames int) {
	t.Helper()

	palette := color.Palette{
		color.RGBA{A: 0xFF},
		color.RGBA{R: 0xFF, A: 0xFF},
		color.RGBA{G: 0xFF, A: 0xFF},
	}
	anim := &gif.GIF{LoopCount: 0}
	for i := 0; i < frames; i++ {
		img := image.NewPaletted(image.Rect(0, 0, width, height), palette)
		fill := uint8(1 + i%2)
		for p := range img.Pix {
			img.Pix[p] = fill
		}
		anim.Image = append(anim.Image, img)
		anim.Delay = append(anim.Delay, 10)
	}
	mustMkdirAll(t, filepath.Dir(path))
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create %s: %v", path, err)
	}
	defer f.Close()
	if err := gif.EncodeAll(f, anim); err != nil {
		t.Fatalf("encode gif %s: %v", path, err)
	}
}

// NewSequence builds a synthetic frame sequence for store and stream tests
// without running the conversion pipeline.
func NewSequence(t testing.TB, geom geometry.Geometry, frames int) *frame.Sequence {
	t.Helper()

	seq := &frame.Sequence{
		Geometry: geom,
		Loop:     true,
	}
	payload := geom.FrameBytes()
	for i := 0; i < frames; i++ {
		buf := make([]byte, payload)
		for p := range buf {
			buf[p] = byte(i + 1)
		}
		seq.Frames = append(seq.Frames, buf)
		seq.Durations = append(seq.Durations, 66*time.Millisecond)
	}
	return seq
}

// WriteFile fills the target path with the requested number of bytes using a
// simple repeating pattern. A size <= 0 writes a single byte.
func WriteFile(t testing.TB, path string, size int64) {
	t.Helper()

	if size <= 0 {
		size = 1
	}
	mustMkdirAll(t, filepath.Dir(path))
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create %s: %v", path, err)
	}
	defer f.Close()

	const chunkSize = 32 * 1024
	buf := make([]byte, chunkSize)
	for i := range buf {
		buf[i] = 0x42
	}

	remaining := size
	for remaining > 0 {
		toWrite := int64(chunkSize)
		if remaining < toWrite {
			toWrite = remaining
		}
		if _, err := f.Write(buf[:toWrite]); err != nil {
			t.Fatalf("write %s: %v", path, err)
		}
		remaining -= toWrite
	}
}

func mustMkdirAll(t testing.TB, dir string) {
	t.Helper()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir %s: %v", dir, err)
	}
}
