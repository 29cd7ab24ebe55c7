package testsupport

import (
	"os"
	"path/filepath"
	"testing"

	"uwrangler/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// It defaults common fields and applies any provided options.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.SourceDir = filepath.Join(base, "media")
	cfgVal.Paths.CacheRoot = filepath.Join(base, "cache")
	cfgVal.Paths.DBPath = filepath.Join(base, "uwrangler.db")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Paths.LockPath = filepath.Join(base, "convert.lock")
	cfgVal.Paths.APIBind = "127.0.0.1:0"
	cfgVal.Stream.Bind = "127.0.0.1:0"
	cfgVal.Scheduler.ScanIntervalSeconds = 1

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}

	for _, opt := range opts {
		opt(builder)
	}

	return builder.cfg
}

// WithGeometries overrides the conversion targets on the test config.
func WithGeometries(tags ...string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Convert.Geometries = append([]string(nil), tags...)
	}
}

// WithCacheBounds sets the artifact store capacity limits.
func WithCacheBounds(maxBytes int64, maxArtifacts int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Cache.MaxBytes = maxBytes
		b.cfg.Cache.MaxArtifacts = maxArtifacts
	}
}

// WithStubbedBinaries writes stub executables for the provided names and
// prepends them to PATH. If names is empty, the default external binaries
// are stubbed.
func WithStubbedBinaries(names ...string) ConfigOption {
	return func(b *configBuilder) {
		if len(names) == 0 {
			names = []string{"ffmpeg", "ffprobe"}
		}
		binDir := filepath.Join(b.baseDir, "bin")
		if err := os.MkdirAll(binDir, 0o755); err != nil {
			b.t.Fatalf("mkdir bin dir: %v", err)
		}
		script := []byte("#!/bin/sh\nexit 0\n")
		for _, name := range names {
			target := filepath.Join(binDir, name)
			if err := os.WriteFile(target, script, 0o755); err != nil {
				b.t.Fatalf("write stub %s: %v", name, err)
			}
		}

		oldPath := os.Getenv("PATH")
		if err := os.Setenv("PATH", binDir+string(os.PathListSeparator)+oldPath); err != nil {
			b.t.Fatalf("set PATH: %v", err)
		}
		b.t.Cleanup(func() {
			_ = os.Setenv("PATH", oldPath)
		})
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.CacheRoot)
}
