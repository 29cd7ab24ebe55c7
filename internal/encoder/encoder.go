package encoder

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	_ "image/png"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"uwrangler/internal/frame"
	"uwrangler/internal/uwerr"
)

var commandContext = exec.CommandContext

// Info describes a probed video source.
type Info struct {
	Width    int
	Height   int
	Duration time.Duration
	FPS      float64
}

// Client defines the external decoding behaviour the pipeline needs for
// video sources.
type Client interface {
	Probe(ctx context.Context, inputPath string) (Info, error)
	ExtractFrames(ctx context.Context, inputPath string, fps, maxFrames int) (*frame.Clip, error)
}

// Option configures the CLI client.
type Option func(*CLI)

// WithFFmpeg overrides the default ffmpeg binary.
func WithFFmpeg(binary string) Option {
	return func(c *CLI) {
		if binary != "" {
			c.ffmpeg = binary
		}
	}
}

// WithFFprobe overrides the default ffprobe binary.
func WithFFprobe(binary string) Option {
	return func(c *CLI) {
		if binary != "" {
			c.ffprobe = binary
		}
	}
}

// CLI wraps the ffmpeg and ffprobe command-line tools.
type CLI struct {
	ffmpeg  string
	ffprobe string
}

// NewCLI constructs a CLI client using defaults.
func NewCLI(opts ...Option) *CLI {
	cli := &CLI{ffmpeg: "ffmpeg", ffprobe: "ffprobe"}
	for _, opt := range opts {
		opt(cli)
	}
	return cli
}

// Probe runs ffprobe and returns the primary video stream's dimensions,
// duration, and frame rate.
func (c *CLI) Probe(ctx context.Context, inputPath string) (Info, error) {
	if inputPath == "" {
		return Info{}, errors.New("input path required")
	}
	args := []string{
		"-v", "error",
		"-select_streams", "v:0",
		"-show_entries", "stream=width,height,avg_frame_rate:format=duration",
		"-of", "json",
		inputPath,
	}
	cmd := commandContext(ctx, c.ffprobe, args...) //nolint:gosec
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return Info{}, uwerr.Wrap(uwerr.ErrExternalTool, "encoder", "ffprobe", strings.TrimSpace(stderr.String()), err)
	}

	var payload struct {
		Streams []struct {
			Width        int    `json:"width"`
			Height       int    `json:"height"`
			AvgFrameRate string `json:"avg_frame_rate"`
		} `json:"streams"`
		Format struct {
			Duration string `json:"duration"`
		} `json:"format"`
	}
	if err := json.Unmarshal(stdout.Bytes(), &payload); err != nil {
		return Info{}, uwerr.Wrap(uwerr.ErrExternalTool, "encoder", "ffprobe", "parse output", err)
	}
	if len(payload.Streams) == 0 {
		return Info{}, uwerr.Wrap(uwerr.ErrDecode, "encoder", "ffprobe", "no video stream in "+inputPath, nil)
	}

	stream := payload.Streams[0]
	info := Info{Width: stream.Width, Height: stream.Height}
	if seconds, err := strconv.ParseFloat(payload.Format.Duration, 64); err == nil && seconds > 0 {
		info.Duration = time.Duration(seconds * float64(time.Second))
	}
	info.FPS = parseFrameRate(stream.AvgFrameRate)
	if info.Width <= 0 || info.Height <= 0 {
		return Info{}, uwerr.Wrap(uwerr.ErrDecode, "encoder", "ffprobe", "stream has no dimensions", nil)
	}
	return info, nil
}

// ExtractFrames samples the video at the requested rate into PNG frames and
// composes them into a clip. Video clips loop by default so short uploads
// behave like animations on the panel.
func (c *CLI) ExtractFrames(ctx context.Context, inputPath string, fps, maxFrames int) (*frame.Clip, error) {
	if inputPath == "" {
		return nil, errors.New("input path required")
	}
	if fps <= 0 {
		fps = 15
	}
	if maxFrames <= 0 {
		maxFrames = 1800
	}

	tmpDir, err := os.MkdirTemp("", "uwrangler-frames-*")
	if err != nil {
		return nil, fmt.Errorf("create frame directory: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	pattern := filepath.Join(tmpDir, "frame_%06d.png")
	args := []string{
		"-hide_banner", "-loglevel", "error",
		"-i", inputPath,
		"-vf", fmt.Sprintf("fps=%d", fps),
		"-frames:v", strconv.Itoa(maxFrames),
		pattern,
	}
	cmd := commandContext(ctx, c.ffmpeg, args...) //nolint:gosec
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, uwerr.Wrap(uwerr.ErrDecode, "encoder", "ffmpeg", strings.TrimSpace(stderr.String()), err)
	}

	names, err := filepath.Glob(filepath.Join(tmpDir, "frame_*.png"))
	if err != nil {
		return nil, fmt.Errorf("list extracted frames: %w", err)
	}
	if len(names) == 0 {
		return nil, uwerr.Wrap(uwerr.ErrDecode, "encoder", "ffmpeg", "no frames extracted from "+inputPath, nil)
	}
	sort.Strings(names)

	frameDuration := time.Second / time.Duration(fps)
	clip := &frame.Clip{
		Frames:    make([]image.Image, 0, len(names)),
		Durations: make([]time.Duration, 0, len(names)),
		Loop:      true,
	}
	for _, name := range names {
		img, err := decodePNG(name)
		if err != nil {
			return nil, err
		}
		clip.Frames = append(clip.Frames, img)
		clip.Durations = append(clip.Durations, frameDuration)
	}
	return clip, nil
}

func decodePNG(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open frame %s: %w", path, err)
	}
	defer f.Close()
	img, _, err := image.Decode(f)
	if err != nil {
		return nil, uwerr.Wrap(uwerr.ErrDecode, "encoder", "decode frame", path, err)
	}
	return img, nil
}

func parseFrameRate(value string) float64 {
	value = strings.TrimSpace(value)
	if value == "" || value == "0/0" {
		return 0
	}
	if num, den, ok := strings.Cut(value, "/"); ok {
		n, errN := strconv.ParseFloat(num, 64)
		d, errD := strconv.ParseFloat(den, 64)
		if errN != nil || errD != nil || d == 0 {
			return 0
		}
		return n / d
	}
	rate, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0
	}
	return rate
}

var _ Client = (*CLI)(nil)
