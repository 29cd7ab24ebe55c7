package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"uwrangler/internal/uwerr"
)

func setHome(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("UW_CONFIG", "")
	t.Setenv("UW_SOURCE_DIR", "")
	t.Setenv("UW_CACHE_ROOT", "")
	return home
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	home := setHome(t)

	cfg, path, exists, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if exists {
		t.Fatalf("expected no config file at %s", path)
	}
	if !strings.HasPrefix(cfg.Paths.SourceDir, home) {
		t.Fatalf("source dir %q not expanded under home %q", cfg.Paths.SourceDir, home)
	}
	if cfg.Stream.Bind != "0.0.0.0:8766" {
		t.Fatalf("unexpected stream bind %q", cfg.Stream.Bind)
	}
	if cfg.Cache.MaxBytes == 0 {
		t.Fatal("default cache byte bound must be set")
	}
	geoms, err := cfg.TargetGeometries()
	if err != nil {
		t.Fatalf("TargetGeometries: %v", err)
	}
	if len(geoms) != 3 {
		t.Fatalf("expected 3 default geometries, got %d", len(geoms))
	}
}

func TestLoadParsesAndExpandsPaths(t *testing.T) {
	home := setHome(t)

	path := filepath.Join(home, "config.toml")
	content := `
[paths]
source_dir = "~/media"
cache_root = "~/cache"

[convert]
geometries = ["8x8"]
default_frame_millis = 120
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, resolved, exists, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !exists || resolved != path {
		t.Fatalf("resolved = %q exists = %v", resolved, exists)
	}
	if cfg.Paths.SourceDir != filepath.Join(home, "media") {
		t.Fatalf("source dir %q not expanded", cfg.Paths.SourceDir)
	}
	if cfg.Convert.DefaultFrameMillis != 120 {
		t.Fatalf("default_frame_millis = %d", cfg.Convert.DefaultFrameMillis)
	}
	geoms, err := cfg.TargetGeometries()
	if err != nil {
		t.Fatalf("TargetGeometries: %v", err)
	}
	if len(geoms) != 1 || geoms[0].Tag() != "8x8" {
		t.Fatalf("unexpected geometries %v", geoms)
	}
}

func TestLoadHonorsConfigEnv(t *testing.T) {
	home := setHome(t)

	path := filepath.Join(home, "custom.toml")
	if err := os.WriteFile(path, []byte("[listing]\nitems_per_page = 7\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("UW_CONFIG", path)

	cfg, resolved, exists, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !exists || resolved != path {
		t.Fatalf("resolved = %q exists = %v", resolved, exists)
	}
	if cfg.Listing.ItemsPerPage != 7 {
		t.Fatalf("items_per_page = %d", cfg.Listing.ItemsPerPage)
	}
}

func TestSourceDirEnvOverride(t *testing.T) {
	home := setHome(t)

	override := filepath.Join(home, "elsewhere")
	t.Setenv("UW_SOURCE_DIR", override)

	cfg, _, _, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Paths.SourceDir != override {
		t.Fatalf("source dir = %q, want %q", cfg.Paths.SourceDir, override)
	}
}

func TestValidateRejectsSharedSourceAndCacheDir(t *testing.T) {
	home := setHome(t)

	path := filepath.Join(home, "config.toml")
	content := `
[paths]
source_dir = "~/data"
cache_root = "~/data"
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	_, _, _, err := Load(path)
	if err == nil {
		t.Fatal("expected validation error")
	}
	if !errors.Is(err, uwerr.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestValidateRequiresCacheBound(t *testing.T) {
	home := setHome(t)

	path := filepath.Join(home, "config.toml")
	if err := os.WriteFile(path, []byte("[cache]\nmax_bytes = 0\nmax_artifacts = 0\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	_, _, _, err := Load(path)
	if !errors.Is(err, uwerr.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestValidateRejectsBadGeometry(t *testing.T) {
	home := setHome(t)

	path := filepath.Join(home, "config.toml")
	if err := os.WriteFile(path, []byte("[convert]\ngeometries = [\"wide\"]\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	_, _, _, err := Load(path)
	if !errors.Is(err, uwerr.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestSampleConfigLoads(t *testing.T) {
	home := setHome(t)

	path := filepath.Join(home, "sample.toml")
	if err := os.WriteFile(path, []byte(SampleConfig()), 0o644); err != nil {
		t.Fatalf("write sample: %v", err)
	}

	cfg, _, _, err := Load(path)
	if err != nil {
		t.Fatalf("sample config must load cleanly: %v", err)
	}
	if cfg.Logging.Format != "console" {
		t.Fatalf("logging format = %q", cfg.Logging.Format)
	}
}
