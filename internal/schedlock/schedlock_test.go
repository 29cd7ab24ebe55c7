package schedlock_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"uwrangler/internal/logging"
	"uwrangler/internal/schedlock"
	"uwrangler/internal/uwerr"
)

func TestAcquireAndRelease(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "convert.lock")
	lock := schedlock.New(path, logging.NewNop())

	if err := lock.Acquire(context.Background(), time.Second); err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	owner, err := schedlock.ReadOwner(path)
	if err != nil {
		t.Fatalf("ReadOwner: %v", err)
	}
	if owner.PID != os.Getpid() {
		t.Fatalf("owner pid %d, want %d", owner.PID, os.Getpid())
	}

	if err := lock.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if _, err := schedlock.ReadOwner(path); err == nil {
		t.Fatal("owner record should be cleared after release")
	}
}

func TestAcquireContention(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "convert.lock")
	holder := schedlock.New(path, logging.NewNop())
	if err := holder.Acquire(context.Background(), time.Second); err != nil {
		t.Fatalf("holder Acquire: %v", err)
	}
	defer holder.Release()

	contender := schedlock.New(path, logging.NewNop())
	err := contender.Acquire(context.Background(), 0)
	if !errors.Is(err, uwerr.ErrLockContention) {
		t.Fatalf("expected ErrLockContention, got %v", err)
	}
}

func TestAcquireHonorsContextCancel(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "convert.lock")
	holder := schedlock.New(path, logging.NewNop())
	if err := holder.Acquire(context.Background(), time.Second); err != nil {
		t.Fatalf("holder Acquire: %v", err)
	}
	defer holder.Release()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	contender := schedlock.New(path, logging.NewNop())
	err := contender.Acquire(ctx, time.Minute)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestReacquireAfterRelease(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "convert.lock")
	lock := schedlock.New(path, logging.NewNop())

	for i := 0; i < 3; i++ {
		if err := lock.Acquire(context.Background(), time.Second); err != nil {
			t.Fatalf("Acquire %d: %v", i, err)
		}
		if err := lock.Release(); err != nil {
			t.Fatalf("Release %d: %v", i, err)
		}
	}
}
