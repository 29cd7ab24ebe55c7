package stream

import (
	"fmt"
	"strconv"
	"strings"

	"uwrangler/internal/geometry"
	"uwrangler/internal/uwerr"
)

// Request is a parsed handshake line:
//
//	STREAM:<width>:<height>:<from>[-<to>][:<name>]
//
// From defaults to 0 and To to the end of the sequence (-1 until resolved).
// An empty Name asks the server to pick from the rotation.
type Request struct {
	Geometry geometry.Geometry
	From     int
	To       int
	Name     string

	// Ranged is set when the client named an explicit end frame; the
	// session closes after that range instead of looping or rotating.
	Ranged bool
}

// ParseRequest parses a handshake line. Malformed numeric fields fall back
// to their defaults the way the original dialect tolerated them; only a
// missing STREAM verb or unusable geometry is an error.
func ParseRequest(line string) (*Request, error) {
	parts := strings.Split(strings.TrimSpace(line), ":")
	if len(parts) < 4 || parts[0] != "STREAM" {
		return nil, uwerr.Wrap(uwerr.ErrStreamIO, "stream", "handshake", "invalid command", nil)
	}
	width, werr := strconv.Atoi(parts[1])
	height, herr := strconv.Atoi(parts[2])
	if werr != nil || herr != nil {
		return nil, uwerr.Wrap(uwerr.ErrStreamIO, "stream", "handshake", "invalid command", nil)
	}
	geom := geometry.Geometry{Width: width, Height: height}
	if err := geom.Validate(); err != nil {
		return nil, uwerr.Wrap(uwerr.ErrStreamIO, "stream", "handshake", err.Error(), nil)
	}

	req := &Request{Geometry: geom, From: 0, To: -1}
	rangePart := parts[3]
	if from, to, ok := strings.Cut(rangePart, "-"); ok {
		if v, err := strconv.Atoi(from); err == nil && v >= 0 {
			req.From = v
		}
		if v, err := strconv.Atoi(to); err == nil && v >= 0 {
			req.To = v
			req.Ranged = true
		}
	} else if v, err := strconv.Atoi(rangePart); err == nil && v >= 0 {
		req.From = v
	}
	if len(parts) > 4 && parts[4] != "" {
		req.Name = parts[4]
	}
	return req, nil
}

// ClampRange resolves the request's frame window against an actual frame
// count, mirroring the tolerant clamping of the original dialect: an
// out-of-range start resets to 0, a missing or oversized end snaps to the
// last frame, and an inverted window plays to the end.
func (r *Request) ClampRange(frameCount int) (from, to int) {
	from = r.From
	to = r.To
	if to < 0 || to >= frameCount {
		to = frameCount - 1
	}
	if from < 0 || from >= frameCount {
		from = 0
	}
	if to < from {
		to = frameCount - 1
	}
	return from, to
}

func infoLine(geom geometry.Geometry, from, to int, name string, frameCount int) string {
	return fmt.Sprintf("INFO:%d:%d:%d-%d:%s:%d\n", geom.Width, geom.Height, from, to, name, frameCount)
}

func errorLine(reason string) string {
	return "ERROR:" + reason + "\n"
}

func notReadyLine(name string) string {
	return "NOTREADY:" + name + "\n"
}
