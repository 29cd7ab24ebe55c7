package frame

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"time"

	"uwrangler/internal/geometry"
	"uwrangler/internal/uwerr"
)

// Artifact container layout, all integers big-endian:
//
//	magic    [4]byte "UWFA"
//	version  uint16
//	width    uint16
//	height   uint16
//	flags    uint8 (bit 0: loop)
//	reserved uint8
//	frames   uint32
//	then per frame: duration_ms uint32, payload [width*height*3]byte
const (
	containerMagic = "UWFA"
	flagLoop       = 1 << 0
	headerSize     = 4 + 2 + 2 + 2 + 1 + 1 + 4
)

// Sequence is a converted, ready-to-stream frame sequence for one geometry.
type Sequence struct {
	Geometry  geometry.Geometry
	Loop      bool
	Frames    [][]byte
	Durations []time.Duration
}

// FrameCount returns the number of frames in the sequence.
func (s *Sequence) FrameCount() int {
	if s == nil {
		return 0
	}
	return len(s.Frames)
}

// ByteSize returns the serialized container size.
func (s *Sequence) ByteSize() int64 {
	if s == nil {
		return 0
	}
	return int64(headerSize) + int64(s.FrameCount())*int64(4+s.Geometry.FrameBytes())
}

// WriteTo serializes the sequence in container format.
func (s *Sequence) WriteTo(w io.Writer) (int64, error) {
	bw := bufio.NewWriter(w)
	var written int64

	header := make([]byte, headerSize)
	copy(header, containerMagic)
	binary.BigEndian.PutUint16(header[4:], EncoderVersion)
	binary.BigEndian.PutUint16(header[6:], uint16(s.Geometry.Width))
	binary.BigEndian.PutUint16(header[8:], uint16(s.Geometry.Height))
	if s.Loop {
		header[10] = flagLoop
	}
	binary.BigEndian.PutUint32(header[12:], uint32(s.FrameCount()))
	n, err := bw.Write(header)
	written += int64(n)
	if err != nil {
		return written, err
	}

	want := s.Geometry.FrameBytes()
	var durBuf [4]byte
	for i, payload := range s.Frames {
		if len(payload) != want {
			return written, fmt.Errorf("frame %d payload is %d bytes, want %d", i, len(payload), want)
		}
		binary.BigEndian.PutUint32(durBuf[:], uint32(s.Durations[i]/time.Millisecond))
		n, err = bw.Write(durBuf[:])
		written += int64(n)
		if err != nil {
			return written, err
		}
		n, err = bw.Write(payload)
		written += int64(n)
		if err != nil {
			return written, err
		}
	}
	return written, bw.Flush()
}

// Encode serializes the sequence to a byte slice.
func (s *Sequence) Encode() ([]byte, error) {
	var buf bytes.Buffer
	buf.Grow(int(s.ByteSize()))
	if _, err := s.WriteTo(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// ReadSequence parses a full container from r.
func ReadSequence(r io.Reader) (*Sequence, error) {
	reader, err := NewReader(r)
	if err != nil {
		return nil, err
	}
	seq := &Sequence{
		Geometry:  reader.Geometry(),
		Loop:      reader.Loop(),
		Frames:    make([][]byte, 0, reader.FrameCount()),
		Durations: make([]time.Duration, 0, reader.FrameCount()),
	}
	for {
		payload, duration, err := reader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		seq.Frames = append(seq.Frames, payload)
		seq.Durations = append(seq.Durations, duration)
	}
	if seq.FrameCount() != reader.FrameCount() {
		return nil, uwerr.Wrap(uwerr.ErrDecode, "container", "read", fmt.Sprintf("truncated sequence: %d of %d frames", seq.FrameCount(), reader.FrameCount()), nil)
	}
	return seq, nil
}

// Reader streams frames from a container without holding the whole sequence
// in memory. Sessions use it to pace delivery straight from disk.
type Reader struct {
	r          *bufio.Reader
	geom       geometry.Geometry
	loop       bool
	frameCount int
	read       int
}

// NewReader validates the container header and prepares frame iteration.
func NewReader(r io.Reader) (*Reader, error) {
	br := bufio.NewReader(r)
	header := make([]byte, headerSize)
	if _, err := io.ReadFull(br, header); err != nil {
		return nil, uwerr.Wrap(uwerr.ErrDecode, "container", "header", "short read", err)
	}
	if string(header[:4]) != containerMagic {
		return nil, uwerr.Wrap(uwerr.ErrDecode, "container", "header", "bad magic", nil)
	}
	version := binary.BigEndian.Uint16(header[4:])
	if version != EncoderVersion {
		return nil, uwerr.Wrap(uwerr.ErrDecode, "container", "header", fmt.Sprintf("encoder version %d, want %d", version, EncoderVersion), nil)
	}
	geom := geometry.Geometry{
		Width:  int(binary.BigEndian.Uint16(header[6:])),
		Height: int(binary.BigEndian.Uint16(header[8:])),
	}
	if err := geom.Validate(); err != nil {
		return nil, uwerr.Wrap(uwerr.ErrDecode, "container", "header", "", err)
	}
	return &Reader{
		r:          br,
		geom:       geom,
		loop:       header[10]&flagLoop != 0,
		frameCount: int(binary.BigEndian.Uint32(header[12:])),
	}, nil
}

// Geometry returns the container's frame geometry.
func (r *Reader) Geometry() geometry.Geometry { return r.geom }

// Loop reports whether the sequence should repeat.
func (r *Reader) Loop() bool { return r.loop }

// FrameCount returns the declared number of frames.
func (r *Reader) FrameCount() int { return r.frameCount }

// Next returns the next frame payload and its display duration. io.EOF
// signals the end of the declared frames.
func (r *Reader) Next() ([]byte, time.Duration, error) {
	if r.read >= r.frameCount {
		return nil, 0, io.EOF
	}
	var durBuf [4]byte
	if _, err := io.ReadFull(r.r, durBuf[:]); err != nil {
		return nil, 0, uwerr.Wrap(uwerr.ErrDecode, "container", "frame", fmt.Sprintf("frame %d duration", r.read), err)
	}
	payload := make([]byte, r.geom.FrameBytes())
	if _, err := io.ReadFull(r.r, payload); err != nil {
		return nil, 0, uwerr.Wrap(uwerr.ErrDecode, "container", "frame", fmt.Sprintf("frame %d payload", r.read), err)
	}
	r.read++
	duration := time.Duration(binary.BigEndian.Uint32(durBuf[:])) * time.Millisecond
	return payload, duration, nil
}
