package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"uwrangler/internal/uwerr"
)

// JobStatus tracks a conversion job through its lifecycle.
type JobStatus string

const (
	JobQueued    JobStatus = "queued"
	JobRunning   JobStatus = "running"
	JobSucceeded JobStatus = "succeeded"
	JobFailed    JobStatus = "failed"
)

// GeometryOutcome records the fate of one geometry within a conversion job.
type GeometryOutcome struct {
	Geometry string `json:"geometry"`
	Status   string `json:"status"`
	Frames   int    `json:"frames,omitempty"`
	Bytes    int64  `json:"bytes,omitempty"`
	Error    string `json:"error,omitempty"`
}

// Job is one queued or completed conversion of a source across the
// configured geometries. The scheduler is the only writer; the CLI and the
// management API read.
type Job struct {
	ID        int64             `json:"id"`
	RunID     string            `json:"run_id"`
	SourceID  string            `json:"source_id"`
	Status    JobStatus         `json:"status"`
	Attempts  int               `json:"attempts"`
	Outcomes  []GeometryOutcome `json:"outcomes,omitempty"`
	Error     string            `json:"error,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// EnqueueJob creates a queued conversion job for a source. A source with a
// job already queued or running keeps that job; the existing one is
// returned.
func (s *Store) EnqueueJob(ctx context.Context, runID, sourceID string) (*Job, error) {
	if existing, err := s.ActiveJob(ctx, sourceID); err == nil {
		return existing, nil
	} else if !errors.Is(err, uwerr.ErrNotFound) {
		return nil, err
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	res, err := s.execWithRetry(ctx,
		`INSERT INTO jobs (run_id, source_id, status, attempts, outcomes, error, created_at, updated_at)
         VALUES (?, ?, ?, 0, '[]', '', ?, ?)`,
		runID, sourceID, JobQueued, now, now)
	if err != nil {
		return nil, fmt.Errorf("enqueue job: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("enqueue job id: %w", err)
	}
	return s.GetJob(ctx, id)
}

// NextQueuedJob claims the oldest eligible queued job, marking it running
// and counting the attempt. Jobs whose backoff window has not elapsed are
// skipped. A drained queue is an uwerr.ErrNotFound.
func (s *Store) NextQueuedJob(ctx context.Context) (*Job, error) {
	var job *Job
	err := s.withTxRetry(ctx, func(tx *sql.Tx) error {
		now := time.Now().UTC()
		row := tx.QueryRowContext(ctx,
			`SELECT `+jobColumns+` FROM jobs
             WHERE status = ? AND (not_before IS NULL OR not_before <= ?)
             ORDER BY id ASC LIMIT 1`,
			JobQueued, now.Format(time.RFC3339))
		claimed, err := scanJob(row)
		if errors.Is(err, sql.ErrNoRows) {
			return uwerr.Wrap(uwerr.ErrNotFound, "store", "claim job", "queue empty", nil)
		}
		if err != nil {
			return fmt.Errorf("claim job: %w", err)
		}

		claimed.Status = JobRunning
		claimed.Attempts++
		claimed.UpdatedAt = now
		if _, err := tx.ExecContext(ctx,
			`UPDATE jobs SET status = ?, attempts = ?, not_before = NULL, updated_at = ? WHERE id = ?`,
			claimed.Status, claimed.Attempts, claimed.UpdatedAt.Format(time.RFC3339Nano), claimed.ID); err != nil {
			return fmt.Errorf("mark job running: %w", err)
		}
		job = claimed
		return nil
	})
	if err != nil {
		return nil, err
	}
	return job, nil
}

// CompleteJob records the terminal state of a running job along with its
// per-geometry outcomes.
func (s *Store) CompleteJob(ctx context.Context, id int64, status JobStatus, outcomes []GeometryOutcome, jobErr string) error {
	if status != JobSucceeded && status != JobFailed {
		return fmt.Errorf("job %d: %q is not a terminal status", id, status)
	}
	encoded, err := json.Marshal(outcomes)
	if err != nil {
		return fmt.Errorf("encode outcomes: %w", err)
	}
	res, err := s.execWithRetry(ctx,
		`UPDATE jobs SET status = ?, outcomes = ?, error = ?, updated_at = ? WHERE id = ?`,
		status, string(encoded), jobErr, time.Now().UTC().Format(time.RFC3339Nano), id)
	if err != nil {
		return fmt.Errorf("complete job: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return uwerr.Wrap(uwerr.ErrNotFound, "store", "complete job", fmt.Sprintf("job %d", id), nil)
	}
	return nil
}

// RequeueJob returns a failed job to the queue for an immediate retry.
func (s *Store) RequeueJob(ctx context.Context, id int64) error {
	return s.RequeueJobAfter(ctx, id, 0)
}

// RequeueJobAfter returns a job to the queue, eligible for claim only once
// the delay elapses. The backoff lives in the queue row, so the worker and
// the conversion lock are free while the job waits.
func (s *Store) RequeueJobAfter(ctx context.Context, id int64, delay time.Duration) error {
	now := time.Now().UTC()
	var notBefore any
	if delay > 0 {
		notBefore = now.Add(delay).Format(time.RFC3339)
	}
	res, err := s.execWithRetry(ctx,
		`UPDATE jobs SET status = ?, not_before = ?, updated_at = ? WHERE id = ?`,
		JobQueued, notBefore, now.Format(time.RFC3339Nano), id)
	if err != nil {
		return fmt.Errorf("requeue job: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return uwerr.Wrap(uwerr.ErrNotFound, "store", "requeue job", fmt.Sprintf("job %d", id), nil)
	}
	return nil
}

// ResetStaleJobs returns jobs stranded in running state by a crashed worker
// to the queue. Called once at startup before the worker begins.
func (s *Store) ResetStaleJobs(ctx context.Context) (int, error) {
	res, err := s.execWithRetry(ctx,
		`UPDATE jobs SET status = ?, not_before = NULL, updated_at = ? WHERE status = ?`,
		JobQueued, time.Now().UTC().Format(time.RFC3339Nano), JobRunning)
	if err != nil {
		return 0, fmt.Errorf("reset stale jobs: %w", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// GetJob fetches a job by id.
func (s *Store) GetJob(ctx context.Context, id int64) (*Job, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, uwerr.Wrap(uwerr.ErrNotFound, "store", "job", fmt.Sprintf("%d", id), nil)
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

// ListJobs returns the most recent jobs, newest first.
func (s *Store) ListJobs(ctx context.Context, limit int) ([]*Job, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+jobColumns+` FROM jobs ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// QueueDepth counts jobs awaiting work.
func (s *Store) QueueDepth(ctx context.Context) (int, error) {
	var depth int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM jobs WHERE status IN (?, ?)`, JobQueued, JobRunning).Scan(&depth)
	if err != nil {
		return 0, fmt.Errorf("queue depth: %w", err)
	}
	return depth, nil
}

// ActiveJob returns the queued or running job for a source, if any.
func (s *Store) ActiveJob(ctx context.Context, sourceID string) (*Job, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE source_id = ? AND status IN (?, ?) ORDER BY id DESC LIMIT 1`,
		sourceID, JobQueued, JobRunning)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, uwerr.Wrap(uwerr.ErrNotFound, "store", "active job", sourceID, nil)
	}
	if err != nil {
		return nil, fmt.Errorf("active job: %w", err)
	}
	return job, nil
}

const jobColumns = "id, run_id, source_id, status, attempts, outcomes, error, created_at, updated_at"

func scanJob(scanner interface{ Scan(dest ...any) error }) (*Job, error) {
	var (
		job         Job
		status      string
		outcomesRaw string
		createdRaw  string
		updatedRaw  string
	)
	if err := scanner.Scan(&job.ID, &job.RunID, &job.SourceID, &status, &job.Attempts,
		&outcomesRaw, &job.Error, &createdRaw, &updatedRaw); err != nil {
		return nil, err
	}
	job.Status = JobStatus(status)
	if outcomesRaw != "" && outcomesRaw != "[]" {
		if err := json.Unmarshal([]byte(outcomesRaw), &job.Outcomes); err != nil {
			return nil, fmt.Errorf("job %d has bad outcomes: %w", job.ID, err)
		}
	}
	if created, err := time.Parse(time.RFC3339Nano, createdRaw); err == nil {
		job.CreatedAt = created
	}
	if updated, err := time.Parse(time.RFC3339Nano, updatedRaw); err == nil {
		job.UpdatedAt = updated
	}
	return &job, nil
}
