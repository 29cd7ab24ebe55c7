package config

const (
	defaultSourceDir        = "~/.local/share/uwrangler/media"
	defaultCacheRoot        = "~/.local/share/uwrangler/cache"
	defaultDBPath           = "~/.local/share/uwrangler/uwrangler.db"
	defaultLogDir           = "~/.local/share/uwrangler/logs"
	defaultLockPath         = "~/.local/share/uwrangler/convert.lock"
	defaultAPIBind          = "127.0.0.1:8767"
	defaultStreamBind       = "0.0.0.0:8766"
	defaultCacheMaxBytes    = int64(512) * 1024 * 1024
	defaultFrameMillis      = 66
	defaultVideoFPS         = 15
	defaultMaxFrames        = 1800
	defaultScanInterval     = 300
	defaultMaxRetries       = 3
	defaultRetryBackoff     = 30
	defaultLockWait         = 10
	defaultHandshakeTimeout = 10
	defaultNotReadyWait     = 2
	defaultSendBufferFrames = 8
	defaultActivityLogSize  = 256
	defaultItemsPerPage     = 20
	defaultLogFormat        = "console"
	defaultLogLevel         = "info"
)

var defaultGeometries = []string{"16x16", "32x32", "53x11"}

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			SourceDir: defaultSourceDir,
			CacheRoot: defaultCacheRoot,
			DBPath:    defaultDBPath,
			LogDir:    defaultLogDir,
			LockPath:  defaultLockPath,
			APIBind:   defaultAPIBind,
		},
		Cache: Cache{
			MaxBytes: defaultCacheMaxBytes,
		},
		Convert: Convert{
			Geometries:         append([]string(nil), defaultGeometries...),
			DefaultFrameMillis: defaultFrameMillis,
			FFmpegPath:         "ffmpeg",
			FFprobePath:        "ffprobe",
			VideoFPS:           defaultVideoFPS,
			MaxFrames:          defaultMaxFrames,
		},
		Scheduler: Scheduler{
			ScanIntervalSeconds: defaultScanInterval,
			MaxRetries:          defaultMaxRetries,
			RetryBackoffSeconds: defaultRetryBackoff,
			LockWaitSeconds:     defaultLockWait,
		},
		Stream: Stream{
			Bind:                    defaultStreamBind,
			HandshakeTimeoutSeconds: defaultHandshakeTimeout,
			NotReadyWaitSeconds:     defaultNotReadyWait,
			SendBufferFrames:        defaultSendBufferFrames,
			ActivityLogSize:         defaultActivityLogSize,
		},
		Listing: Listing{
			ItemsPerPage: defaultItemsPerPage,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
