package schedlock

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	"golang.org/x/sys/unix"

	"uwrangler/internal/logging"
	"uwrangler/internal/uwerr"
)

const pollInterval = 500 * time.Millisecond

// Owner describes the process holding the conversion lock. The record is
// written into the lock file so a contending process can report who holds it
// and detect a record left behind by a dead owner.
type Owner struct {
	PID        int       `json:"pid"`
	Hostname   string    `json:"hostname"`
	AcquiredAt time.Time `json:"acquired_at"`
}

// Lock serializes conversion work across processes. The kernel flock is the
// actual mutual exclusion; the owner record is diagnostics and stale-record
// cleanup for the case where the file outlives its writer.
type Lock struct {
	path   string
	fl     *flock.Flock
	logger *slog.Logger
}

// New creates a lock at path. The lock is not held until Acquire succeeds.
func New(path string, logger *slog.Logger) *Lock {
	return &Lock{
		path:   path,
		fl:     flock.New(path),
		logger: logging.NewComponentLogger(logger, "schedlock"),
	}
}

// Path returns the lock file location.
func (l *Lock) Path() string { return l.path }

// Acquire takes the lock, waiting up to wait for a current holder to release
// it. Contention past the deadline is an uwerr.ErrLockContention naming the
// holder when one is known.
func (l *Lock) Acquire(ctx context.Context, wait time.Duration) error {
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return fmt.Errorf("create lock directory: %w", err)
	}

	deadline := time.Now().Add(wait)
	for {
		ok, err := l.fl.TryLock()
		if err != nil {
			return fmt.Errorf("acquire conversion lock: %w", err)
		}
		if ok {
			if err := l.writeOwner(); err != nil {
				l.logger.Warn("write lock owner record failed", logging.Error(err))
			}
			return nil
		}

		if owner, err := ReadOwner(l.path); err == nil && !ownerAlive(owner) {
			// The flock itself released when the owner died; the stale
			// record just needs clearing before the next attempt.
			l.logger.Warn("clearing lock record from dead owner",
				logging.Int("pid", owner.PID),
				logging.String("hostname", owner.Hostname))
			_ = os.Truncate(l.path, 0)
		}

		if time.Now().After(deadline) {
			detail := "held by unknown process"
			if owner, err := ReadOwner(l.path); err == nil {
				detail = fmt.Sprintf("held by pid %d on %s since %s",
					owner.PID, owner.Hostname, owner.AcquiredAt.Format(time.RFC3339))
			}
			return uwerr.Wrap(uwerr.ErrLockContention, "schedlock", "acquire", detail, nil)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(pollInterval):
		}
	}
}

// Release clears the owner record and drops the flock.
func (l *Lock) Release() error {
	if err := os.Truncate(l.path, 0); err != nil && !errors.Is(err, os.ErrNotExist) {
		l.logger.Warn("clear lock owner record failed", logging.Error(err))
	}
	if err := l.fl.Unlock(); err != nil {
		return fmt.Errorf("release conversion lock: %w", err)
	}
	return nil
}

// ReadOwner parses the owner record from a lock file. An empty or missing
// file has no owner.
func ReadOwner(path string) (*Owner, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, errors.New("lock file has no owner record")
	}
	var owner Owner
	if err := json.Unmarshal(data, &owner); err != nil {
		return nil, fmt.Errorf("parse lock owner record: %w", err)
	}
	return &owner, nil
}

func (l *Lock) writeOwner() error {
	host, _ := os.Hostname()
	record, err := json.Marshal(Owner{
		PID:        os.Getpid(),
		Hostname:   host,
		AcquiredAt: time.Now().UTC(),
	})
	if err != nil {
		return err
	}
	f, err := os.OpenFile(l.path, os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.Write(record)
	return err
}

// ownerAlive reports whether the recorded owner process still exists on this
// host. Records from other hosts are assumed alive.
func ownerAlive(owner *Owner) bool {
	host, _ := os.Hostname()
	if owner.Hostname != host {
		return true
	}
	if owner.PID <= 0 {
		return false
	}
	err := unix.Kill(owner.PID, 0)
	return err == nil || errors.Is(err, unix.EPERM)
}
