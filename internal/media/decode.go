package media

import (
	"image"
	"image/draw"
	"image/gif"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"time"

	_ "golang.org/x/image/webp"

	"uwrangler/internal/frame"
	"uwrangler/internal/uwerr"
)

// DecodeImage decodes a still or animated image file into a composed clip.
// Video sources go through the encoder package instead.
func DecodeImage(path string, kind Kind) (*frame.Clip, error) {
	switch kind {
	case KindAnimated:
		return decodeGIF(path)
	case KindStill:
		return decodeStill(path)
	default:
		return nil, uwerr.Wrap(uwerr.ErrDecode, "media", "decode", "unsupported kind "+string(kind), nil)
	}
}

func decodeStill(path string) (*frame.Clip, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, uwerr.Wrap(uwerr.ErrDecode, "media", "open", path, err)
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, uwerr.Wrap(uwerr.ErrDecode, "media", "decode", path, err)
	}
	return &frame.Clip{Frames: []image.Image{img}, Loop: true}, nil
}

// decodeGIF composes each GIF frame onto the logical screen, honoring frame
// disposal so partial frames render the way a browser shows them.
func decodeGIF(path string) (*frame.Clip, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, uwerr.Wrap(uwerr.ErrDecode, "media", "open", path, err)
	}
	defer f.Close()

	anim, err := gif.DecodeAll(f)
	if err != nil {
		return nil, uwerr.Wrap(uwerr.ErrDecode, "media", "decode gif", path, err)
	}
	if len(anim.Image) == 0 {
		return nil, uwerr.Wrap(uwerr.ErrDecode, "media", "decode gif", "no frames in "+path, nil)
	}

	screen := logicalScreen(anim)
	canvas := image.NewRGBA(screen)
	clip := &frame.Clip{
		Frames:    make([]image.Image, 0, len(anim.Image)),
		Durations: make([]time.Duration, 0, len(anim.Image)),
		// LoopCount 0 means loop forever in GIF89a.
		Loop: anim.LoopCount == 0 || len(anim.Image) == 1,
	}

	for i, src := range anim.Image {
		var restore *image.RGBA
		disposal := byte(gif.DisposalNone)
		if i < len(anim.Disposal) {
			disposal = anim.Disposal[i]
		}
		if disposal == gif.DisposalPrevious {
			restore = cloneRGBA(canvas)
		}

		draw.Draw(canvas, src.Bounds(), src, src.Bounds().Min, draw.Over)
		clip.Frames = append(clip.Frames, cloneRGBA(canvas))

		duration := time.Duration(0)
		if i < len(anim.Delay) {
			// GIF delays are hundredths of a second.
			duration = time.Duration(anim.Delay[i]) * 10 * time.Millisecond
		}
		clip.Durations = append(clip.Durations, duration)

		switch disposal {
		case gif.DisposalBackground:
			draw.Draw(canvas, src.Bounds(), image.Transparent, image.Point{}, draw.Src)
		case gif.DisposalPrevious:
			canvas = restore
		}
	}
	return clip, nil
}

func logicalScreen(anim *gif.GIF) image.Rectangle {
	if anim.Config.Width > 0 && anim.Config.Height > 0 {
		return image.Rect(0, 0, anim.Config.Width, anim.Config.Height)
	}
	return anim.Image[0].Bounds()
}

func cloneRGBA(src *image.RGBA) *image.RGBA {
	dst := image.NewRGBA(src.Bounds())
	copy(dst.Pix, src.Pix)
	return dst
}
