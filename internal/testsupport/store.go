package testsupport

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"testing"
	"time"

	"uwrangler/internal/config"
	"uwrangler/internal/logging"
	"uwrangler/internal/media"
	"uwrangler/internal/store"
)

// MustOpenStore opens a store.Store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *store.Store {
	t.Helper()

	st, err := store.Open(cfg, logging.NewNop())
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() {
		st.Close()
	})
	return st
}

// NewSource registers a synthetic source for tests. The ID is derived from
// the name so repeated calls with the same name are idempotent, matching
// content-hash identity.
func NewSource(t testing.TB, st *store.Store, name string, kind media.Kind) *store.Source {
	t.Helper()

	sum := sha256.Sum256([]byte(name))
	src := store.Source{
		ID:        hex.EncodeToString(sum[:]),
		Name:      name,
		Filename:  name + ".gif",
		Kind:      kind,
		ByteSize:  int64(len(name)),
		FirstSeen: time.Now().UTC(),
	}
	if _, err := st.UpsertSource(context.Background(), src); err != nil {
		t.Fatalf("store.UpsertSource: %v", err)
	}
	return &src
}
