package config

import (
	"fmt"
	"os"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeCache()
	c.normalizeConvert()
	c.normalizeScheduler()
	c.normalizeStream()
	c.normalizeListing()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if env := strings.TrimSpace(os.Getenv("UW_SOURCE_DIR")); env != "" {
		c.Paths.SourceDir = env
	}
	if env := strings.TrimSpace(os.Getenv("UW_CACHE_ROOT")); env != "" {
		c.Paths.CacheRoot = env
	}
	if c.Paths.SourceDir, err = expandPath(c.Paths.SourceDir); err != nil {
		return fmt.Errorf("paths.source_dir: %w", err)
	}
	if c.Paths.CacheRoot, err = expandPath(c.Paths.CacheRoot); err != nil {
		return fmt.Errorf("paths.cache_root: %w", err)
	}
	if c.Paths.DBPath, err = expandPath(c.Paths.DBPath); err != nil {
		return fmt.Errorf("paths.db_path: %w", err)
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	if c.Paths.LockPath, err = expandPath(c.Paths.LockPath); err != nil {
		return fmt.Errorf("paths.lock_path: %w", err)
	}
	c.Paths.APIBind = strings.TrimSpace(c.Paths.APIBind)
	if c.Paths.APIBind == "" {
		c.Paths.APIBind = defaultAPIBind
	}
	return nil
}

func (c *Config) normalizeCache() {
	if c.Cache.MaxBytes < 0 {
		c.Cache.MaxBytes = 0
	}
	if c.Cache.MaxArtifacts < 0 {
		c.Cache.MaxArtifacts = 0
	}
}

func (c *Config) normalizeConvert() {
	if len(c.Convert.Geometries) == 0 {
		c.Convert.Geometries = append([]string(nil), defaultGeometries...)
	}
	if c.Convert.DefaultFrameMillis <= 0 {
		c.Convert.DefaultFrameMillis = defaultFrameMillis
	}
	c.Convert.FFmpegPath = strings.TrimSpace(c.Convert.FFmpegPath)
	if env := strings.TrimSpace(os.Getenv("UW_FFMPEG")); env != "" {
		c.Convert.FFmpegPath = env
	}
	if c.Convert.FFmpegPath == "" {
		c.Convert.FFmpegPath = "ffmpeg"
	}
	c.Convert.FFprobePath = strings.TrimSpace(c.Convert.FFprobePath)
	if env := strings.TrimSpace(os.Getenv("UW_FFPROBE")); env != "" {
		c.Convert.FFprobePath = env
	}
	if c.Convert.FFprobePath == "" {
		c.Convert.FFprobePath = "ffprobe"
	}
	if c.Convert.VideoFPS <= 0 {
		c.Convert.VideoFPS = defaultVideoFPS
	}
	if c.Convert.MaxFrames <= 0 {
		c.Convert.MaxFrames = defaultMaxFrames
	}
}

func (c *Config) normalizeScheduler() {
	if c.Scheduler.ScanIntervalSeconds <= 0 {
		c.Scheduler.ScanIntervalSeconds = defaultScanInterval
	}
	if c.Scheduler.MaxRetries < 0 {
		c.Scheduler.MaxRetries = 0
	}
	if c.Scheduler.RetryBackoffSeconds <= 0 {
		c.Scheduler.RetryBackoffSeconds = defaultRetryBackoff
	}
	if c.Scheduler.LockWaitSeconds <= 0 {
		c.Scheduler.LockWaitSeconds = defaultLockWait
	}
}

func (c *Config) normalizeStream() {
	c.Stream.Bind = strings.TrimSpace(c.Stream.Bind)
	if c.Stream.Bind == "" {
		c.Stream.Bind = defaultStreamBind
	}
	if c.Stream.HandshakeTimeoutSeconds <= 0 {
		c.Stream.HandshakeTimeoutSeconds = defaultHandshakeTimeout
	}
	if c.Stream.NotReadyWaitSeconds <= 0 {
		c.Stream.NotReadyWaitSeconds = defaultNotReadyWait
	}
	if c.Stream.SendBufferFrames <= 0 {
		c.Stream.SendBufferFrames = defaultSendBufferFrames
	}
	if c.Stream.ActivityLogSize <= 0 {
		c.Stream.ActivityLogSize = defaultActivityLogSize
	}
}

func (c *Config) normalizeListing() {
	if c.Listing.ItemsPerPage <= 0 {
		c.Listing.ItemsPerPage = defaultItemsPerPage
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	switch c.Logging.Format {
	case "", "console":
		c.Logging.Format = "console"
	case "json":
	default:
		c.Logging.Format = "console"
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}
