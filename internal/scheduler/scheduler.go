package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"

	"uwrangler/internal/config"
	"uwrangler/internal/logging"
	"uwrangler/internal/media"
	"uwrangler/internal/pipeline"
	"uwrangler/internal/schedlock"
	"uwrangler/internal/store"
	"uwrangler/internal/uwerr"
)

// debounce delays a scan after filesystem events so a burst of writes, such
// as a file still being copied in, coalesces into one pass.
const debounce = 2 * time.Second

// Scheduler discovers source media, keeps the conversion queue filled, and
// runs the single conversion worker. Discovery is content-hash based: a file
// whose bytes change is a new source, and sources whose files vanish are
// removed along with their artifacts.
type Scheduler struct {
	cfg      *config.Config
	store    *store.Store
	pipeline *pipeline.Pipeline
	lock     *schedlock.Lock
	logger   *slog.Logger
	runID    string

	scanNow  chan struct{}
	jobsHint chan struct{}

	wg     sync.WaitGroup
	cancel context.CancelFunc
	mu     sync.Mutex
}

// New wires a scheduler. The run ID tags every job enqueued by this process
// so overlapping restarts remain distinguishable in the queue history.
func New(cfg *config.Config, st *store.Store, p *pipeline.Pipeline, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		cfg:      cfg,
		store:    st,
		pipeline: p,
		lock:     schedlock.New(cfg.Paths.LockPath, logger),
		logger:   logging.NewComponentLogger(logger, "scheduler"),
		runID:    uuid.NewString(),
		scanNow:  make(chan struct{}, 1),
		jobsHint: make(chan struct{}, 1),
	}
}

// Start launches discovery and the conversion worker. Jobs stranded in
// running state by a previous crash return to the queue first.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return errors.New("scheduler already running")
	}

	reset, err := s.store.ResetStaleJobs(ctx)
	if err != nil {
		return err
	}
	if reset > 0 {
		s.logger.Info("requeued jobs from interrupted run", logging.Int("count", reset))
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	s.wg.Add(2)
	go s.discoveryLoop(runCtx)
	go s.workerLoop(runCtx)
	return nil
}

// Stop halts discovery and the worker and waits for in-flight work.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	s.wg.Wait()
}

// ScanNow requests an immediate discovery pass. A pass already pending
// absorbs the request.
func (s *Scheduler) ScanNow() {
	select {
	case s.scanNow <- struct{}{}:
	default:
	}
}

func (s *Scheduler) discoveryLoop(ctx context.Context) {
	defer s.wg.Done()

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		s.logger.Warn("filesystem watcher unavailable; relying on periodic scans", logging.Error(err))
	} else {
		defer watcher.Close()
		if err := watcher.Add(s.cfg.Paths.SourceDir); err != nil {
			s.logger.Warn("watch source directory failed", logging.Error(err))
		}
	}

	interval := time.Duration(s.cfg.Scheduler.ScanIntervalSeconds) * time.Second
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var pending *time.Timer
	pendingC := make(chan time.Time)
	schedule := func() {
		if pending != nil {
			pending.Stop()
		}
		pending = time.AfterFunc(debounce, func() {
			select {
			case pendingC <- time.Now():
			case <-ctx.Done():
			}
		})
	}

	s.runScan(ctx)
	for {
		var events chan fsnotify.Event
		var watchErrs chan error
		if watcher != nil {
			events = watcher.Events
			watchErrs = watcher.Errors
		}
		select {
		case <-ctx.Done():
			if pending != nil {
				pending.Stop()
			}
			return
		case <-ticker.C:
			s.runScan(ctx)
		case <-s.scanNow:
			s.runScan(ctx)
		case <-pendingC:
			s.runScan(ctx)
		case event := <-events:
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) != 0 {
				schedule()
			}
		case err := <-watchErrs:
			if err != nil {
				s.logger.Warn("filesystem watcher error", logging.Error(err))
			}
		}
	}
}

// runScan reconciles the source directory against the registry: new or
// changed files become sources with queued jobs, and sources whose files are
// gone are deleted together with their artifacts.
func (s *Scheduler) runScan(ctx context.Context) {
	seen := make(map[string]struct{})
	entries, err := os.ReadDir(s.cfg.Paths.SourceDir)
	if err != nil {
		s.logger.Warn("read source directory failed", logging.Error(err))
		return
	}

	enqueued := 0
	for _, entry := range entries {
		if ctx.Err() != nil {
			return
		}
		if entry.IsDir() {
			continue
		}
		kind, ok := media.KindForPath(entry.Name())
		if !ok {
			continue
		}
		path := filepath.Join(s.cfg.Paths.SourceDir, entry.Name())
		info, err := entry.Info()
		if err != nil {
			continue
		}
		id, err := media.HashFile(path)
		if err != nil {
			s.logger.Warn("hash source failed",
				logging.String("path", path), logging.Error(err))
			continue
		}
		seen[id] = struct{}{}

		created, err := s.store.UpsertSource(ctx, store.Source{
			ID:        id,
			Name:      media.DisplayName(entry.Name()),
			Filename:  entry.Name(),
			Kind:      kind,
			ByteSize:  info.Size(),
			FirstSeen: time.Now().UTC(),
		})
		if err != nil {
			s.logger.Warn("register source failed",
				logging.String(logging.FieldSource, id), logging.Error(err))
			continue
		}
		if created {
			s.logger.Info("discovered source",
				logging.String(logging.FieldSource, id),
				logging.String("file", entry.Name()))
		}
		needs, err := s.needsConversion(ctx, id)
		if err != nil {
			s.logger.Warn("check conversion state failed",
				logging.String(logging.FieldSource, id), logging.Error(err))
			continue
		}
		if needs {
			if _, err := s.store.EnqueueJob(ctx, s.runID, id); err != nil {
				s.logger.Warn("enqueue job failed",
					logging.String(logging.FieldSource, id), logging.Error(err))
				continue
			}
			enqueued++
		}
	}

	removed := s.removeVanished(ctx, seen)
	if enqueued > 0 || removed > 0 {
		s.logger.Info("scan complete",
			logging.Int("sources", len(seen)),
			logging.Int("enqueued", enqueued),
			logging.Int("removed", removed))
	}
	if enqueued > 0 {
		select {
		case s.jobsHint <- struct{}{}:
		default:
		}
	}
}

// needsConversion reports whether a source is missing any current-version
// artifact for the configured geometries.
func (s *Scheduler) needsConversion(ctx context.Context, sourceID string) (bool, error) {
	have, err := s.store.ArtifactGeometries(ctx, sourceID)
	if err != nil {
		return false, err
	}
	haveTags := make(map[string]struct{}, len(have))
	for _, geom := range have {
		haveTags[geom.Tag()] = struct{}{}
	}
	for _, geom := range s.pipeline.Geometries() {
		if _, ok := haveTags[geom.Tag()]; !ok {
			return true, nil
		}
	}
	return false, nil
}

func (s *Scheduler) removeVanished(ctx context.Context, seen map[string]struct{}) int {
	known, err := s.store.SourceIDs(ctx)
	if err != nil {
		s.logger.Warn("list sources failed", logging.Error(err))
		return 0
	}
	removed := 0
	for id := range known {
		if _, ok := seen[id]; ok {
			continue
		}
		if err := s.store.DeleteSource(ctx, id); err != nil {
			s.logger.Warn("remove vanished source failed",
				logging.String(logging.FieldSource, id), logging.Error(err))
			continue
		}
		removed++
	}
	return removed
}

func (s *Scheduler) workerLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-s.jobsHint:
		}
		s.drainQueue(ctx)
	}
}

func (s *Scheduler) drainQueue(ctx context.Context) {
	for ctx.Err() == nil {
		job, err := s.store.NextQueuedJob(ctx)
		if errors.Is(err, uwerr.ErrNotFound) {
			return
		}
		if err != nil {
			s.logger.Error("claim job failed", logging.Error(err))
			return
		}
		s.runJob(ctx, job)
	}
}

func (s *Scheduler) runJob(ctx context.Context, job *store.Job) {
	logger := s.logger.With(logging.Int64(logging.FieldJob, job.ID),
		logging.String(logging.FieldSource, job.SourceID))

	lockWait := time.Duration(s.cfg.Scheduler.LockWaitSeconds) * time.Second
	if err := s.lock.Acquire(ctx, lockWait); err != nil {
		logger.Warn("conversion lock unavailable; job returns to queue", logging.Error(err))
		if rqErr := s.store.RequeueJob(ctx, job.ID); rqErr != nil {
			logger.Error("requeue after lock contention failed", logging.Error(rqErr))
		}
		return
	}
	defer func() {
		if err := s.lock.Release(); err != nil {
			logger.Warn("release conversion lock failed", logging.Error(err))
		}
	}()

	src, err := s.store.GetSource(ctx, job.SourceID)
	if err != nil {
		s.finishJob(ctx, logger, job, nil, err)
		return
	}
	path := filepath.Join(s.cfg.Paths.SourceDir, src.Filename)
	outcomes, err := s.pipeline.Convert(ctx, src, path)
	pipeline.SortOutcomes(outcomes)
	s.finishJob(ctx, logger, job, outcomes, err)
}

func (s *Scheduler) finishJob(ctx context.Context, logger *slog.Logger, job *store.Job, outcomes []store.GeometryOutcome, convErr error) {
	if convErr == nil {
		if err := s.store.CompleteJob(ctx, job.ID, store.JobSucceeded, outcomes, ""); err != nil {
			logger.Error("record job success failed", logging.Error(err))
		}
		return
	}

	if job.Attempts < s.cfg.Scheduler.MaxRetries && !uwerr.IsFatal(convErr) && ctx.Err() == nil {
		backoff := time.Duration(s.cfg.Scheduler.RetryBackoffSeconds) * time.Second * time.Duration(job.Attempts)
		logger.Warn("conversion failed; retrying",
			logging.Int("attempt", job.Attempts),
			logging.Duration("backoff", backoff),
			logging.Error(convErr))
		// The backoff is a queue eligibility window, not a sleep, so the
		// conversion lock is released while the job waits.
		if err := s.store.RequeueJobAfter(ctx, job.ID, backoff); err != nil {
			logger.Error("requeue job failed", logging.Error(err))
		}
		return
	}

	logger.Error("conversion failed permanently",
		logging.Int("attempt", job.Attempts), logging.Error(convErr))
	if err := s.store.CompleteJob(ctx, job.ID, store.JobFailed, outcomes, uwerr.Reason(convErr)); err != nil {
		logger.Error("record job failure failed", logging.Error(err))
	}
}
