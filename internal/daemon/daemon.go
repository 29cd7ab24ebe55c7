package daemon

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"

	"log/slog"

	"github.com/gofrs/flock"

	"uwrangler/internal/config"
	"uwrangler/internal/deps"
	"uwrangler/internal/logging"
	"uwrangler/internal/pipeline"
	"uwrangler/internal/scheduler"
	"uwrangler/internal/store"
	"uwrangler/internal/stream"
)

// Daemon owns the long-running process: the artifact store, the conversion
// scheduler, the stream server, and the management API share one lifecycle.
type Daemon struct {
	cfg       *config.Config
	logger    *slog.Logger
	store     *store.Store
	scheduler *scheduler.Scheduler
	streamSrv *stream.Server
	api       *apiServer

	lockPath string
	lock     *flock.Flock

	running atomic.Bool
	ctx     context.Context
	cancel  context.CancelFunc
}

// New wires all subsystems from validated configuration.
func New(cfg *config.Config, logger *slog.Logger) (*Daemon, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	st, err := store.Open(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	p, err := pipeline.New(cfg, nil, st, logger)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("build pipeline: %w", err)
	}

	lockPath := filepath.Join(filepath.Dir(cfg.Paths.DBPath), "uwrangler.daemon.lock")
	d := &Daemon{
		cfg:       cfg,
		logger:    logging.NewComponentLogger(logger, "daemon"),
		store:     st,
		scheduler: scheduler.New(cfg, st, p, logger),
		streamSrv: stream.NewServer(cfg, st, logger),
		lockPath:  lockPath,
		lock:      flock.New(lockPath),
	}
	d.api = newAPIServer(cfg, d, logger)
	return d, nil
}

// Start acquires the instance lock and launches every subsystem.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire daemon lock: %w", err)
	}
	if !ok {
		return errors.New("another uwrangler daemon instance is already running")
	}

	d.ctx, d.cancel = context.WithCancel(ctx)
	if err := d.scheduler.Start(d.ctx); err != nil {
		d.teardown()
		return fmt.Errorf("start scheduler: %w", err)
	}
	if err := d.streamSrv.Start(d.ctx); err != nil {
		d.scheduler.Stop()
		d.teardown()
		return fmt.Errorf("start stream server: %w", err)
	}
	if err := d.api.start(d.ctx); err != nil {
		d.streamSrv.Stop()
		d.scheduler.Stop()
		d.teardown()
		return fmt.Errorf("start api server: %w", err)
	}

	for _, dep := range deps.CheckBinaries(deps.Requirements(d.cfg)) {
		if !dep.Available {
			d.logger.Warn("external tool unavailable",
				logging.String("tool", dep.Name),
				logging.String("detail", dep.Detail))
		}
	}

	d.running.Store(true)
	d.logger.Info("daemon started",
		logging.String("lock", d.lockPath),
		logging.String("stream", d.streamSrv.Addr()))
	return nil
}

// Stop shuts every subsystem down in reverse start order and releases the
// instance lock.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}
	d.running.Store(false)

	d.api.stop()
	d.streamSrv.Stop()
	d.scheduler.Stop()
	d.teardown()
	d.logger.Info("daemon stopped")
}

func (d *Daemon) teardown() {
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
		d.ctx = nil
	}
	if err := d.store.Close(); err != nil {
		d.logger.Warn("close store failed", logging.Error(err))
	}
	_ = d.lock.Unlock()
}

// Running reports whether Start has completed and Stop has not.
func (d *Daemon) Running() bool {
	return d.running.Load()
}

// ScanNow asks the scheduler for an immediate discovery pass.
func (d *Daemon) ScanNow() {
	d.scheduler.ScanNow()
}

// StreamAddr returns the bound stream listener address.
func (d *Daemon) StreamAddr() string {
	return d.streamSrv.Addr()
}

// APIAddr returns the bound management API address, or empty when the API
// is disabled.
func (d *Daemon) APIAddr() string {
	return d.api.addr()
}

// Status summarizes daemon state for the API and CLI.
type Status struct {
	Running    bool        `json:"running"`
	PID        int         `json:"pid"`
	DBPath     string      `json:"db_path"`
	SourceDir  string      `json:"source_dir"`
	CacheRoot  string      `json:"cache_root"`
	StreamAddr string      `json:"stream_addr"`
	QueueDepth int         `json:"queue_depth"`
	Cache      store.Stats `json:"cache"`
}

// Status gathers the current process and cache summary.
func (d *Daemon) Status(ctx context.Context) Status {
	status := Status{
		Running:    d.running.Load(),
		PID:        os.Getpid(),
		DBPath:     d.cfg.Paths.DBPath,
		SourceDir:  d.cfg.Paths.SourceDir,
		CacheRoot:  d.cfg.Paths.CacheRoot,
		StreamAddr: d.streamSrv.Addr(),
	}
	if stats, err := d.store.Stats(ctx); err == nil {
		status.Cache = stats
	}
	if depth, err := d.store.QueueDepth(ctx); err == nil {
		status.QueueDepth = depth
	}
	return status
}
