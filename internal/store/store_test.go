package store_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"uwrangler/internal/frame"
	"uwrangler/internal/geometry"
	"uwrangler/internal/media"
	"uwrangler/internal/store"
	"uwrangler/internal/testsupport"
	"uwrangler/internal/uwerr"
)

func mustGeometry(t *testing.T, tag string) geometry.Geometry {
	t.Helper()
	geom, err := geometry.Parse(tag)
	if err != nil {
		t.Fatalf("geometry.Parse(%q): %v", tag, err)
	}
	return geom
}

func TestUpsertSourceIsIdempotent(t *testing.T) {
	t.Parallel()

	st := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()

	src := testsupport.NewSource(t, st, "nyan", media.KindAnimated)
	// A second upsert of the same content hash must not create a new row.
	testsupport.NewSource(t, st, "nyan", media.KindAnimated)

	ids, err := st.SourceIDs(ctx)
	if err != nil {
		t.Fatalf("SourceIDs: %v", err)
	}
	if len(ids) != 1 {
		t.Fatalf("expected 1 source, got %d", len(ids))
	}

	got, err := st.GetSource(ctx, src.ID)
	if err != nil {
		t.Fatalf("GetSource: %v", err)
	}
	if got.Name != "nyan" {
		t.Fatalf("unexpected name %q", got.Name)
	}
}

func TestGetSourceMissing(t *testing.T) {
	t.Parallel()

	st := testsupport.MustOpenStore(t, testsupport.NewConfig(t))

	_, err := st.GetSource(context.Background(), "deadbeef")
	if !errors.Is(err, uwerr.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestPutAndGetArtifact(t *testing.T) {
	t.Parallel()

	st := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()
	geom := mustGeometry(t, "16x16")

	src := testsupport.NewSource(t, st, "clip", media.KindAnimated)
	seq := testsupport.NewSequence(t, geom, 3)

	meta, err := st.Put(ctx, src.ID, seq)
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if meta.FrameCount != 3 || !meta.Loop {
		t.Fatalf("unexpected meta: %+v", meta)
	}
	if meta.ByteSize != seq.ByteSize() {
		t.Fatalf("byte size mismatch: %d vs %d", meta.ByteSize, seq.ByteSize())
	}
	if _, err := os.Stat(st.ArtifactPath(src.ID, geom)); err != nil {
		t.Fatalf("artifact file missing: %v", err)
	}

	got, err := st.Get(ctx, src.ID, geom)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.ServedCount != 1 || got.LastServed == nil {
		t.Fatalf("serve not recorded: %+v", got)
	}

	rc, err := st.OpenArtifact(got)
	if err != nil {
		t.Fatalf("OpenArtifact: %v", err)
	}
	defer rc.Close()
	decoded, err := frame.ReadSequence(rc)
	if err != nil {
		t.Fatalf("ReadSequence: %v", err)
	}
	if decoded.FrameCount() != 3 || decoded.Geometry != geom {
		t.Fatalf("round trip mismatch: %d frames, %s", decoded.FrameCount(), decoded.Geometry)
	}
}

func TestPutIsIdempotentPerEncoderVersion(t *testing.T) {
	t.Parallel()

	st := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()
	geom := mustGeometry(t, "16x16")

	src := testsupport.NewSource(t, st, "clip", media.KindAnimated)
	seq := testsupport.NewSequence(t, geom, 2)

	if _, err := st.Put(ctx, src.ID, seq); err != nil {
		t.Fatalf("first Put: %v", err)
	}
	if _, err := st.Get(ctx, src.ID, geom); err != nil {
		t.Fatalf("Get: %v", err)
	}

	meta, err := st.Put(ctx, src.ID, seq)
	if err != nil {
		t.Fatalf("second Put: %v", err)
	}
	// The re-put must not reset serve accounting.
	if meta.ServedCount != 1 {
		t.Fatalf("re-put reset served count: %+v", meta)
	}
}

func TestPutRejectsOversizedArtifact(t *testing.T) {
	t.Parallel()

	geom := mustGeometry(t, "16x16")
	seq := testsupport.NewSequence(t, geom, 4)

	cfg := testsupport.NewConfig(t, testsupport.WithCacheBounds(seq.ByteSize()-1, 0))
	st := testsupport.MustOpenStore(t, cfg)
	src := testsupport.NewSource(t, st, "big", media.KindAnimated)

	_, err := st.Put(context.Background(), src.ID, seq)
	if !errors.Is(err, uwerr.ErrCapacity) {
		t.Fatalf("expected ErrCapacity, got %v", err)
	}
}

func TestPutEvictsLeastRecentlyServed(t *testing.T) {
	t.Parallel()

	geom := mustGeometry(t, "16x16")
	one := testsupport.NewSequence(t, geom, 2)
	// Bound fits exactly two artifacts of this size.
	cfg := testsupport.NewConfig(t, testsupport.WithCacheBounds(one.ByteSize()*2, 0))
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	srcA := testsupport.NewSource(t, st, "alpha", media.KindAnimated)
	srcB := testsupport.NewSource(t, st, "beta", media.KindAnimated)
	srcC := testsupport.NewSource(t, st, "gamma", media.KindAnimated)

	if _, err := st.Put(ctx, srcA.ID, testsupport.NewSequence(t, geom, 2)); err != nil {
		t.Fatalf("put alpha: %v", err)
	}
	if _, err := st.Put(ctx, srcB.ID, testsupport.NewSequence(t, geom, 2)); err != nil {
		t.Fatalf("put beta: %v", err)
	}
	// Serving alpha makes beta the eviction candidate.
	if _, err := st.Get(ctx, srcA.ID, geom); err != nil {
		t.Fatalf("serve alpha: %v", err)
	}

	if _, err := st.Put(ctx, srcC.ID, testsupport.NewSequence(t, geom, 2)); err != nil {
		t.Fatalf("put gamma: %v", err)
	}

	if _, err := st.Peek(ctx, srcB.ID, geom); !errors.Is(err, uwerr.ErrNotFound) {
		t.Fatalf("expected beta evicted, got %v", err)
	}
	if _, err := st.Peek(ctx, srcA.ID, geom); err != nil {
		t.Fatalf("alpha should survive: %v", err)
	}
	if _, err := os.Stat(st.ArtifactPath(srcB.ID, geom)); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("evicted artifact bytes still on disk: %v", err)
	}
}

func TestDeleteSourceRemovesArtifacts(t *testing.T) {
	t.Parallel()

	st := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()
	geom := mustGeometry(t, "16x16")

	src := testsupport.NewSource(t, st, "gone", media.KindAnimated)
	if _, err := st.Put(ctx, src.ID, testsupport.NewSequence(t, geom, 2)); err != nil {
		t.Fatalf("Put: %v", err)
	}
	path := st.ArtifactPath(src.ID, geom)

	if err := st.DeleteSource(ctx, src.ID); err != nil {
		t.Fatalf("DeleteSource: %v", err)
	}
	if _, err := st.GetSource(ctx, src.ID); !errors.Is(err, uwerr.ErrNotFound) {
		t.Fatalf("source row should be gone, got %v", err)
	}
	if _, err := st.Peek(ctx, src.ID, geom); !errors.Is(err, uwerr.ErrNotFound) {
		t.Fatalf("artifact row should be gone, got %v", err)
	}
	if _, err := os.Stat(path); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("artifact bytes should be gone, got %v", err)
	}
}

func TestPickRotationPrefersLeastServed(t *testing.T) {
	t.Parallel()

	st := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()
	geom := mustGeometry(t, "32x32")

	srcA := testsupport.NewSource(t, st, "alpha", media.KindAnimated)
	srcB := testsupport.NewSource(t, st, "beta", media.KindAnimated)
	for _, src := range []*store.Source{srcA, srcB} {
		if _, err := st.Put(ctx, src.ID, testsupport.NewSequence(t, geom, 2)); err != nil {
			t.Fatalf("put %s: %v", src.Name, err)
		}
	}

	if _, err := st.Get(ctx, srcA.ID, geom); err != nil {
		t.Fatalf("serve alpha: %v", err)
	}

	next, err := st.PickRotation(ctx, geom)
	if err != nil {
		t.Fatalf("PickRotation: %v", err)
	}
	if next.ID != srcB.ID {
		t.Fatalf("expected never-served beta, got %s", next.Name)
	}

	// After beta is served twice, alpha becomes least served again.
	if _, err := st.Get(ctx, srcB.ID, geom); err != nil {
		t.Fatalf("serve beta: %v", err)
	}
	if _, err := st.Get(ctx, srcB.ID, geom); err != nil {
		t.Fatalf("serve beta again: %v", err)
	}
	next, err = st.PickRotation(ctx, geom)
	if err != nil {
		t.Fatalf("PickRotation: %v", err)
	}
	if next.ID != srcA.ID {
		t.Fatalf("expected alpha, got %s", next.Name)
	}
}

func TestPickRotationEmpty(t *testing.T) {
	t.Parallel()

	st := testsupport.MustOpenStore(t, testsupport.NewConfig(t))

	_, err := st.PickRotation(context.Background(), mustGeometry(t, "16x16"))
	if !errors.Is(err, uwerr.ErrNotFound) {
		t.Fatalf("expected ErrNotFound on empty cache, got %v", err)
	}
}

func TestReclaimOrphans(t *testing.T) {
	t.Parallel()

	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()
	geom := mustGeometry(t, "16x16")

	src := testsupport.NewSource(t, st, "kept", media.KindAnimated)
	if _, err := st.Put(ctx, src.ID, testsupport.NewSequence(t, geom, 1)); err != nil {
		t.Fatalf("Put: %v", err)
	}

	geomDir := filepath.Dir(st.ArtifactPath(src.ID, geom))
	orphan := filepath.Join(geomDir, "0000000000000000000000000000000000000000000000000000000000000000.uwfa")
	testsupport.WriteFile(t, orphan, 64)
	stray := filepath.Join(geomDir, "leftover.uwfa.123.tmp")
	testsupport.WriteFile(t, stray, 16)

	removed, err := st.ReclaimOrphans(ctx)
	if err != nil {
		t.Fatalf("ReclaimOrphans: %v", err)
	}
	if removed != 2 {
		t.Fatalf("expected 2 reclaimed files, got %d", removed)
	}
	if _, err := os.Stat(orphan); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("orphan should be gone: %v", err)
	}
	if _, err := os.Stat(st.ArtifactPath(src.ID, geom)); err != nil {
		t.Fatalf("tracked artifact must survive reclaim: %v", err)
	}
}

func TestStats(t *testing.T) {
	t.Parallel()

	st := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()
	geom := mustGeometry(t, "16x16")

	src := testsupport.NewSource(t, st, "one", media.KindStill)
	seq := testsupport.NewSequence(t, geom, 1)
	if _, err := st.Put(ctx, src.ID, seq); err != nil {
		t.Fatalf("Put: %v", err)
	}

	stats, err := st.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.Sources != 1 || stats.Artifacts != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if stats.ArtifactBytes != seq.ByteSize() {
		t.Fatalf("byte accounting off: %+v", stats)
	}
}

func TestPutConcurrentGeometries(t *testing.T) {
	t.Parallel()

	st := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()
	src := testsupport.NewSource(t, st, "burst", media.KindAnimated)

	tags := []string{"8x8", "16x16", "32x16", "32x32", "64x32", "64x64"}
	geoms := make([]geometry.Geometry, len(tags))
	for i, tag := range tags {
		geoms[i] = mustGeometry(t, tag)
	}

	errs := make(chan error, len(geoms))
	var wg sync.WaitGroup
	for _, geom := range geoms {
		wg.Add(1)
		go func(geom geometry.Geometry) {
			defer wg.Done()
			_, err := st.Put(ctx, src.ID, testsupport.NewSequence(t, geom, 3))
			errs <- err
		}(geom)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("concurrent Put: %v", err)
		}
	}

	stats, err := st.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.Artifacts != len(geoms) {
		t.Fatalf("artifacts = %d, want %d", stats.Artifacts, len(geoms))
	}
}

func TestRequeueJobAfterDefersClaim(t *testing.T) {
	t.Parallel()

	st := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()
	src := testsupport.NewSource(t, st, "flaky", media.KindAnimated)

	if _, err := st.EnqueueJob(ctx, "run", src.ID); err != nil {
		t.Fatalf("EnqueueJob: %v", err)
	}
	job, err := st.NextQueuedJob(ctx)
	if err != nil {
		t.Fatalf("NextQueuedJob: %v", err)
	}

	if err := st.RequeueJobAfter(ctx, job.ID, 30*time.Minute); err != nil {
		t.Fatalf("RequeueJobAfter: %v", err)
	}
	if _, err := st.NextQueuedJob(ctx); !errors.Is(err, uwerr.ErrNotFound) {
		t.Fatalf("job claimable inside its backoff window: %v", err)
	}

	if err := st.RequeueJob(ctx, job.ID); err != nil {
		t.Fatalf("RequeueJob: %v", err)
	}
	claimed, err := st.NextQueuedJob(ctx)
	if err != nil {
		t.Fatalf("claim after immediate requeue: %v", err)
	}
	if claimed.ID != job.ID || claimed.Attempts != 2 {
		t.Fatalf("unexpected claim %+v", claimed)
	}
}
