package frame

import (
	"image"
	"time"
)

// Clip is a decoded source: full composed frames in source resolution with
// native timing. It is the codec's input and carries no target-geometry
// knowledge.
type Clip struct {
	Frames    []image.Image
	Durations []time.Duration
	Loop      bool
}

// FrameCount returns the number of frames in the clip.
func (c *Clip) FrameCount() int {
	if c == nil {
		return 0
	}
	return len(c.Frames)
}
