package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory and bind address configuration.
type Paths struct {
	SourceDir string `toml:"source_dir"`
	CacheRoot string `toml:"cache_root"`
	DBPath    string `toml:"db_path"`
	LogDir    string `toml:"log_dir"`
	LockPath  string `toml:"lock_path"`
	APIBind   string `toml:"api_bind"`
}

// Cache contains capacity bounds for the artifact store.
type Cache struct {
	// MaxBytes bounds the total size of stored artifacts. 0 disables the bound.
	MaxBytes int64 `toml:"max_bytes"`
	// MaxArtifacts bounds the number of stored artifacts. 0 disables the bound.
	MaxArtifacts int `toml:"max_artifacts"`
}

// Convert contains conversion pipeline settings.
type Convert struct {
	// Geometries lists the target display resolutions as "WxH" tags.
	Geometries []string `toml:"geometries"`
	// DefaultFrameMillis is the per-frame duration used when the source
	// carries no native timing.
	DefaultFrameMillis int    `toml:"default_frame_millis"`
	FFmpegPath         string `toml:"ffmpeg_path"`
	FFprobePath        string `toml:"ffprobe_path"`
	// VideoFPS is the sampling rate used when extracting video frames.
	VideoFPS int `toml:"video_fps"`
	// MaxFrames caps the frame count extracted from any one source.
	MaxFrames int `toml:"max_frames"`
}

// Scheduler contains discovery and retry settings for the conversion worker.
type Scheduler struct {
	ScanIntervalSeconds int `toml:"scan_interval_seconds"`
	MaxRetries          int `toml:"max_retries"`
	RetryBackoffSeconds int `toml:"retry_backoff_seconds"`
	LockWaitSeconds     int `toml:"lock_wait_seconds"`
}

// Stream contains stream server settings.
type Stream struct {
	Bind string `toml:"bind"`
	// HandshakeTimeoutSeconds bounds how long a client may take to send its
	// handshake line.
	HandshakeTimeoutSeconds int `toml:"handshake_timeout_seconds"`
	// NotReadyWaitSeconds bounds how long a session waits on a pending
	// conversion before re-signalling NOTREADY.
	NotReadyWaitSeconds int `toml:"not_ready_wait_seconds"`
	// SendBufferFrames is the per-session outbound buffer; frames are dropped
	// for that session once it is full.
	SendBufferFrames int `toml:"send_buffer_frames"`
	// ActivityLogSize is the number of recent session events retained in memory.
	ActivityLogSize int `toml:"activity_log_size"`
}

// Listing contains settings for the metadata listing API.
type Listing struct {
	ItemsPerPage int `toml:"items_per_page"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for the daemon and CLI.
//
// Configuration sections by subsystem:
//   - Paths: source/cache directories, metadata DB, lock file, API bind
//   - Cache: artifact store capacity bounds
//   - Convert: target geometries, frame timing, ffmpeg binaries
//   - Scheduler: discovery interval and retry policy
//   - Stream: stream server bind and per-session pacing knobs
//   - Listing: pagination for metadata queries
//   - Logging: log format and level
type Config struct {
	Paths     Paths     `toml:"paths"`
	Cache     Cache     `toml:"cache"`
	Convert   Convert   `toml:"convert"`
	Scheduler Scheduler `toml:"scheduler"`
	Stream    Stream    `toml:"stream"`
	Listing   Listing   `toml:"listing"`
	Logging   Logging   `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/uwrangler/config.toml")
}

// Load locates, parses, normalizes, and validates a configuration file.
// The returned config has all path fields expanded and absolute.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path == "" {
		if env := strings.TrimSpace(os.Getenv("UW_CONFIG")); env != "" {
			path = env
		}
	}
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("uwrangler.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates the directories the daemon needs at runtime.
func (c *Config) EnsureDirectories() error {
	dirs := []string{c.Paths.SourceDir, c.Paths.CacheRoot, c.Paths.LogDir}
	if c.Paths.DBPath != "" {
		dirs = append(dirs, filepath.Dir(c.Paths.DBPath))
	}
	if c.Paths.LockPath != "" {
		dirs = append(dirs, filepath.Dir(c.Paths.LockPath))
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// SampleConfig returns the embedded annotated sample configuration file.
func SampleConfig() string {
	return sampleConfig
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}
