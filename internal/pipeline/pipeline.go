package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"uwrangler/internal/config"
	"uwrangler/internal/encoder"
	"uwrangler/internal/frame"
	"uwrangler/internal/geometry"
	"uwrangler/internal/logging"
	"uwrangler/internal/media"
	"uwrangler/internal/store"
	"uwrangler/internal/uwerr"
)

// Pipeline converts one source into cached frame sequences for every target
// geometry. Decode happens once per source; per-geometry resampling and
// storage fan out concurrently.
type Pipeline struct {
	cfg        *config.Config
	enc        encoder.Client
	store      *store.Store
	logger     *slog.Logger
	geometries []geometry.Geometry
}

// New builds a pipeline from validated configuration. A nil encoder client
// gets the default ffmpeg CLI wrapper.
func New(cfg *config.Config, enc encoder.Client, st *store.Store, logger *slog.Logger) (*Pipeline, error) {
	geoms, err := cfg.TargetGeometries()
	if err != nil {
		return nil, err
	}
	if enc == nil {
		enc = encoder.NewCLI(
			encoder.WithFFmpeg(cfg.Convert.FFmpegPath),
			encoder.WithFFprobe(cfg.Convert.FFprobePath),
		)
	}
	return &Pipeline{
		cfg:        cfg,
		enc:        enc,
		store:      st,
		logger:     logging.NewComponentLogger(logger, "pipeline"),
		geometries: geoms,
	}, nil
}

// Geometries returns the configured conversion targets.
func (p *Pipeline) Geometries() []geometry.Geometry {
	return p.geometries
}

// Convert decodes the source at path and produces one artifact per target
// geometry. Every geometry gets an outcome; the returned error is non-nil
// when any geometry failed.
func (p *Pipeline) Convert(ctx context.Context, src *store.Source, path string) ([]store.GeometryOutcome, error) {
	started := time.Now()
	clip, err := p.loadClip(ctx, src, path)
	if err != nil {
		// Decode failure fails every geometry identically.
		outcomes := make([]store.GeometryOutcome, 0, len(p.geometries))
		for _, geom := range p.geometries {
			outcomes = append(outcomes, store.GeometryOutcome{
				Geometry: geom.Tag(),
				Status:   string(store.JobFailed),
				Error:    err.Error(),
			})
		}
		return outcomes, err
	}

	defaultDuration := time.Duration(p.cfg.Convert.DefaultFrameMillis) * time.Millisecond
	results := make([]store.GeometryOutcome, len(p.geometries))

	var wg sync.WaitGroup
	for i, geom := range p.geometries {
		wg.Add(1)
		go func(slot int, geom geometry.Geometry) {
			defer wg.Done()
			results[slot] = p.convertOne(ctx, src, clip, geom, defaultDuration)
		}(i, geom)
	}
	wg.Wait()

	var failed int
	for _, outcome := range results {
		if outcome.Status != string(store.JobSucceeded) {
			failed++
		}
	}
	p.logger.Info("conversion finished",
		logging.String(logging.FieldSource, src.ID),
		logging.String("name", src.Name),
		logging.Int("geometries", len(results)),
		logging.Int("failed", failed),
		logging.Duration("elapsed", time.Since(started)))

	if failed > 0 {
		return results, fmt.Errorf("%d of %d geometries failed", failed, len(results))
	}
	return results, nil
}

func (p *Pipeline) convertOne(ctx context.Context, src *store.Source, clip *frame.Clip, geom geometry.Geometry, defaultDuration time.Duration) store.GeometryOutcome {
	outcome := store.GeometryOutcome{Geometry: geom.Tag()}

	if existing, err := p.store.Peek(ctx, src.ID, geom); err == nil && existing.EncoderVersion == frame.EncoderVersion {
		outcome.Status = string(store.JobSucceeded)
		outcome.Frames = existing.FrameCount
		outcome.Bytes = existing.ByteSize
		return outcome
	}

	seq, err := frame.Convert(clip, geom, defaultDuration)
	if err != nil {
		outcome.Status = string(store.JobFailed)
		outcome.Error = err.Error()
		return outcome
	}
	meta, err := p.store.Put(ctx, src.ID, seq)
	if err != nil {
		outcome.Status = string(store.JobFailed)
		outcome.Error = err.Error()
		return outcome
	}

	outcome.Status = string(store.JobSucceeded)
	outcome.Frames = meta.FrameCount
	outcome.Bytes = meta.ByteSize
	return outcome
}

// loadClip decodes the source into a geometry-independent clip. Stills and
// animations decode in-process; video goes through ffmpeg frame extraction.
func (p *Pipeline) loadClip(ctx context.Context, src *store.Source, path string) (*frame.Clip, error) {
	var (
		clip *frame.Clip
		err  error
	)
	switch src.Kind {
	case media.KindStill, media.KindAnimated:
		clip, err = media.DecodeImage(path, src.Kind)
	case media.KindVideo:
		if _, err := p.enc.Probe(ctx, path); err != nil {
			return nil, uwerr.Wrap(uwerr.ErrExternalTool, "pipeline", "probe", src.Name, err)
		}
		clip, err = p.enc.ExtractFrames(ctx, path, p.cfg.Convert.VideoFPS, p.cfg.Convert.MaxFrames)
	default:
		return nil, uwerr.Wrap(uwerr.ErrDecode, "pipeline", "load",
			fmt.Sprintf("unsupported kind %q", src.Kind), nil)
	}
	if err != nil {
		return nil, err
	}
	if clip.FrameCount() == 0 {
		return nil, uwerr.Wrap(uwerr.ErrDecode, "pipeline", "load", "source decoded to zero frames", nil)
	}
	if limit := p.cfg.Convert.MaxFrames; limit > 0 && clip.FrameCount() > limit {
		clip.Frames = clip.Frames[:limit]
		clip.Durations = clip.Durations[:limit]
	}
	return clip, nil
}

// SortOutcomes orders outcomes by geometry tag for stable presentation.
func SortOutcomes(outcomes []store.GeometryOutcome) {
	sort.Slice(outcomes, func(i, j int) bool {
		return outcomes[i].Geometry < outcomes[j].Geometry
	})
}
