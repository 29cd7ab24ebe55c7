package geometry

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Geometry is one target display resolution, identified by its "WxH" tag.
type Geometry struct {
	Width  int
	Height int
}

// Parse converts a tag such as "32x32" into a Geometry.
func Parse(tag string) (Geometry, error) {
	trimmed := strings.ToLower(strings.TrimSpace(tag))
	parts := strings.Split(trimmed, "x")
	if len(parts) != 2 {
		return Geometry{}, fmt.Errorf("geometry %q: expected WxH", tag)
	}
	width, err := strconv.Atoi(parts[0])
	if err != nil {
		return Geometry{}, fmt.Errorf("geometry %q: width: %w", tag, err)
	}
	height, err := strconv.Atoi(parts[1])
	if err != nil {
		return Geometry{}, fmt.Errorf("geometry %q: height: %w", tag, err)
	}
	geom := Geometry{Width: width, Height: height}
	if err := geom.Validate(); err != nil {
		return Geometry{}, err
	}
	return geom, nil
}

// ParseSet parses a list of tags, rejecting duplicates and returning the
// geometries in a stable order (smallest frame first).
func ParseSet(tags []string) ([]Geometry, error) {
	seen := make(map[Geometry]struct{}, len(tags))
	geoms := make([]Geometry, 0, len(tags))
	for _, tag := range tags {
		geom, err := Parse(tag)
		if err != nil {
			return nil, err
		}
		if _, dup := seen[geom]; dup {
			return nil, fmt.Errorf("geometry %q listed twice", geom.Tag())
		}
		seen[geom] = struct{}{}
		geoms = append(geoms, geom)
	}
	sort.Slice(geoms, func(i, j int) bool {
		if geoms[i].PixelCount() != geoms[j].PixelCount() {
			return geoms[i].PixelCount() < geoms[j].PixelCount()
		}
		return geoms[i].Tag() < geoms[j].Tag()
	})
	return geoms, nil
}

// Validate rejects geometries that cannot describe a physical panel.
func (g Geometry) Validate() error {
	if g.Width <= 0 || g.Height <= 0 {
		return fmt.Errorf("geometry %dx%d: dimensions must be positive", g.Width, g.Height)
	}
	return nil
}

// Tag returns the canonical "WxH" identifier.
func (g Geometry) Tag() string {
	return fmt.Sprintf("%dx%d", g.Width, g.Height)
}

// PixelCount returns the number of pixels in one frame.
func (g Geometry) PixelCount() int {
	return g.Width * g.Height
}

// FrameBytes returns the byte length of one RGB24 frame payload.
func (g Geometry) FrameBytes() int {
	return g.PixelCount() * 3
}

func (g Geometry) String() string {
	return g.Tag()
}
