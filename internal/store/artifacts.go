package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sys/unix"

	"uwrangler/internal/frame"
	"uwrangler/internal/geometry"
	"uwrangler/internal/logging"
	"uwrangler/internal/uwerr"
)

// freeSpaceFloor is the minimum free-space ratio tolerated on the cache
// filesystem before eviction runs regardless of the configured bound.
const freeSpaceFloor = 0.05

// Put persists a converted sequence for one source. The write is an
// idempotent upsert keyed by (source, geometry, encoder version): an existing
// artifact with the current encoder version is left untouched, a stale
// version is replaced. Capacity bounds are enforced by evicting the
// least-recently-served artifacts first (ties broken by oldest creation);
// a sequence that alone exceeds the bound is rejected.
func (s *Store) Put(ctx context.Context, sourceID string, seq *frame.Sequence) (*ArtifactMeta, error) {
	if sourceID == "" {
		return nil, errors.New("source id is required")
	}
	if seq == nil || seq.FrameCount() == 0 {
		return nil, errors.New("sequence is empty")
	}
	size := seq.ByteSize()
	if s.maxBytes > 0 && size > s.maxBytes {
		return nil, uwerr.Wrap(uwerr.ErrCapacity, "store", "put",
			fmt.Sprintf("artifact %d bytes exceeds cache bound %d", size, s.maxBytes), nil)
	}

	existing, err := s.getMeta(ctx, sourceID, seq.Geometry)
	if err != nil && !errors.Is(err, uwerr.ErrNotFound) {
		return nil, err
	}
	if existing != nil && existing.EncoderVersion == frame.EncoderVersion {
		// Idempotent re-put: same key, same encoder. Served-count and
		// timestamps stay untouched.
		return existing, nil
	}

	evictable, err := s.evictionPlan(ctx, sourceID, seq.Geometry, size)
	if err != nil {
		return nil, err
	}

	// Bytes land on disk before the row commits, so a crash can only leave
	// an orphaned file, never a row without bytes. Orphans are reclaimed on
	// the next open and by the scheduler's maintenance pass.
	finalPath := s.ArtifactPath(sourceID, seq.Geometry)
	if err := writeArtifactFile(finalPath, seq); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	err = s.withTxRetry(ctx, func(tx *sql.Tx) error {
		for _, victim := range evictable {
			if _, err := tx.ExecContext(ctx,
				`DELETE FROM artifacts WHERE source_id = ? AND geometry = ?`,
				victim.SourceID, victim.Geometry.Tag()); err != nil {
				return fmt.Errorf("evict artifact row: %w", err)
			}
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO artifacts (source_id, geometry, encoder_version, frame_count, loop, byte_size, created_at, last_served, served_count)
             VALUES (?, ?, ?, ?, ?, ?, ?, NULL, 0)
             ON CONFLICT(source_id, geometry) DO UPDATE SET
                 encoder_version=excluded.encoder_version, frame_count=excluded.frame_count,
                 loop=excluded.loop, byte_size=excluded.byte_size, created_at=excluded.created_at,
                 last_served=NULL, served_count=0`,
			sourceID, seq.Geometry.Tag(), frame.EncoderVersion, seq.FrameCount(),
			boolToInt(seq.Loop), size, now.Format(time.RFC3339Nano)); err != nil {
			return fmt.Errorf("insert artifact row: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	for _, victim := range evictable {
		path := s.ArtifactPath(victim.SourceID, victim.Geometry)
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			s.logger.Warn("remove evicted artifact failed; orphan reclaim will retry",
				logging.String("path", path), logging.Error(err))
		}
		s.logger.Info("evicted artifact",
			logging.String(logging.FieldSource, victim.SourceID),
			logging.String(logging.FieldGeometry, victim.Geometry.Tag()),
			logging.Int64("bytes", victim.ByteSize))
	}

	return &ArtifactMeta{
		SourceID:       sourceID,
		Geometry:       seq.Geometry,
		EncoderVersion: frame.EncoderVersion,
		FrameCount:     seq.FrameCount(),
		Loop:           seq.Loop,
		ByteSize:       size,
		CreatedAt:      now,
	}, nil
}

// Get returns the artifact metadata for (source, geometry) and records the
// serve: last-served timestamp and served-count advance on every hit. A miss
// is an uwerr.ErrNotFound, not a failure.
func (s *Store) Get(ctx context.Context, sourceID string, geom geometry.Geometry) (*ArtifactMeta, error) {
	meta, err := s.getMeta(ctx, sourceID, geom)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	if _, err := s.execWithRetry(ctx,
		`UPDATE artifacts SET last_served = ?, served_count = served_count + 1
         WHERE source_id = ? AND geometry = ?`,
		now.Format(time.RFC3339Nano), sourceID, geom.Tag()); err != nil {
		return nil, fmt.Errorf("touch artifact: %w", err)
	}
	meta.LastServed = &now
	meta.ServedCount++
	return meta, nil
}

// Peek returns artifact metadata without recording a serve.
func (s *Store) Peek(ctx context.Context, sourceID string, geom geometry.Geometry) (*ArtifactMeta, error) {
	return s.getMeta(ctx, sourceID, geom)
}

// OpenArtifact opens the artifact's byte stream for frame iteration.
func (s *Store) OpenArtifact(meta *ArtifactMeta) (io.ReadCloser, error) {
	if meta == nil {
		return nil, errors.New("artifact meta is nil")
	}
	f, err := os.Open(s.ArtifactPath(meta.SourceID, meta.Geometry))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, uwerr.Wrap(uwerr.ErrNotFound, "store", "open artifact", meta.SourceID, nil)
		}
		return nil, fmt.Errorf("open artifact: %w", err)
	}
	return f, nil
}

// PickRotation chooses the next source the server should stream for a
// geometry when the client names none: the least-served ready artifact,
// oldest serve first.
func (s *Store) PickRotation(ctx context.Context, geom geometry.Geometry) (*Source, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+prefixedSourceColumns+` FROM sources s
         JOIN artifacts a ON a.source_id = s.id
         WHERE a.geometry = ? AND a.encoder_version = ?
         ORDER BY a.served_count ASC,
                  CASE WHEN a.last_served IS NULL THEN 0 ELSE 1 END,
                  a.last_served ASC
         LIMIT 1`,
		geom.Tag(), frame.EncoderVersion)
	src, err := scanSource(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, uwerr.Wrap(uwerr.ErrNotFound, "store", "rotation", geom.Tag(), nil)
	}
	if err != nil {
		return nil, fmt.Errorf("pick rotation: %w", err)
	}
	return src, nil
}

// ArtifactGeometries reports which geometries have a ready artifact for a
// source under the current encoder version.
func (s *Store) ArtifactGeometries(ctx context.Context, sourceID string) ([]geometry.Geometry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT geometry FROM artifacts WHERE source_id = ? AND encoder_version = ? ORDER BY geometry`,
		sourceID, frame.EncoderVersion)
	if err != nil {
		return nil, fmt.Errorf("artifact geometries: %w", err)
	}
	defer rows.Close()

	var geoms []geometry.Geometry
	for rows.Next() {
		var tag string
		if err := rows.Scan(&tag); err != nil {
			return nil, err
		}
		geom, err := geometry.Parse(tag)
		if err != nil {
			continue
		}
		geoms = append(geoms, geom)
	}
	return geoms, rows.Err()
}

// ReclaimOrphans removes artifact files that have no metadata row, the
// residue of crashes between byte write and row commit, or of interrupted
// deletes.
func (s *Store) ReclaimOrphans(ctx context.Context) (int, error) {
	known := make(map[string]struct{})
	rows, err := s.db.QueryContext(ctx, `SELECT source_id, geometry FROM artifacts`)
	if err != nil {
		return 0, fmt.Errorf("list artifact rows: %w", err)
	}
	for rows.Next() {
		var id, tag string
		if err := rows.Scan(&id, &tag); err != nil {
			rows.Close()
			return 0, err
		}
		known[filepath.Join(tag, id+".uwfa")] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return 0, err
	}
	rows.Close()

	removed := 0
	geomDirs, err := os.ReadDir(s.cacheRoot)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, nil
		}
		return 0, fmt.Errorf("list cache root: %w", err)
	}
	for _, dir := range geomDirs {
		if !dir.IsDir() {
			continue
		}
		if _, err := geometry.Parse(dir.Name()); err != nil {
			continue
		}
		entries, err := os.ReadDir(filepath.Join(s.cacheRoot, dir.Name()))
		if err != nil {
			continue
		}
		for _, entry := range entries {
			if entry.IsDir() {
				continue
			}
			name := entry.Name()
			if strings.HasSuffix(name, ".tmp") {
				_ = os.Remove(filepath.Join(s.cacheRoot, dir.Name(), name))
				removed++
				continue
			}
			if !strings.HasSuffix(name, ".uwfa") {
				continue
			}
			if _, ok := known[filepath.Join(dir.Name(), name)]; ok {
				continue
			}
			if err := os.Remove(filepath.Join(s.cacheRoot, dir.Name(), name)); err == nil {
				removed++
			}
		}
	}
	if removed > 0 {
		s.logger.Info("reclaimed orphaned artifact files", logging.Int("count", removed))
	}
	return removed, nil
}

func (s *Store) getMeta(ctx context.Context, sourceID string, geom geometry.Geometry) (*ArtifactMeta, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT source_id, geometry, encoder_version, frame_count, loop, byte_size, created_at, last_served, served_count
         FROM artifacts WHERE source_id = ? AND geometry = ?`,
		sourceID, geom.Tag())
	meta, err := scanArtifact(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, uwerr.Wrap(uwerr.ErrNotFound, "store", "artifact", sourceID+"@"+geom.Tag(), nil)
	}
	if err != nil {
		return nil, fmt.Errorf("get artifact: %w", err)
	}
	return meta, nil
}

// evictionPlan selects the artifacts to remove so the new write fits the
// configured bounds and the free-space floor. The new artifact's own key is
// never a victim.
func (s *Store) evictionPlan(ctx context.Context, sourceID string, geom geometry.Geometry, newSize int64) ([]*ArtifactMeta, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT source_id, geometry, encoder_version, frame_count, loop, byte_size, created_at, last_served, served_count
         FROM artifacts
         ORDER BY CASE WHEN last_served IS NULL THEN 0 ELSE 1 END,
                  last_served ASC, created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("eviction scan: %w", err)
	}
	defer rows.Close()

	var candidates []*ArtifactMeta
	var totalBytes int64
	totalCount := 0
	for rows.Next() {
		meta, err := scanArtifact(rows)
		if err != nil {
			return nil, err
		}
		totalBytes += meta.ByteSize
		totalCount++
		if meta.SourceID == sourceID && meta.Geometry == geom {
			// Replacing this row; its bytes never count against the bound.
			totalBytes -= meta.ByteSize
			totalCount--
			continue
		}
		candidates = append(candidates, meta)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	needFree := s.statfsPressure()
	var victims []*ArtifactMeta
	for _, candidate := range candidates {
		overBytes := s.maxBytes > 0 && totalBytes+newSize > s.maxBytes
		overCount := s.maxArtifacts > 0 && totalCount+1 > s.maxArtifacts
		if !overBytes && !overCount && !needFree {
			break
		}
		victims = append(victims, candidate)
		totalBytes -= candidate.ByteSize
		totalCount--
		if needFree {
			needFree = false
		}
	}

	if s.maxBytes > 0 && totalBytes+newSize > s.maxBytes {
		return nil, uwerr.Wrap(uwerr.ErrCapacity, "store", "put",
			fmt.Sprintf("cache bound %d cannot fit %d more bytes", s.maxBytes, newSize), nil)
	}
	if s.maxArtifacts > 0 && totalCount+1 > s.maxArtifacts {
		return nil, uwerr.Wrap(uwerr.ErrCapacity, "store", "put",
			fmt.Sprintf("cache bound %d artifacts reached", s.maxArtifacts), nil)
	}
	return victims, nil
}

// statfsPressure reports whether the cache filesystem is under the
// free-space floor.
func (s *Store) statfsPressure() bool {
	total, free, err := s.statfs(s.cacheRoot)
	if err != nil || total == 0 {
		return false
	}
	return float64(free)/float64(total) < freeSpaceFloor
}

// writeArtifactFile lands the serialized sequence with a temp-write, fsync,
// rename so readers never observe a partial container.
func writeArtifactFile(finalPath string, seq *frame.Sequence) error {
	if err := os.MkdirAll(filepath.Dir(finalPath), 0o755); err != nil {
		return fmt.Errorf("create artifact directory: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(finalPath), filepath.Base(finalPath)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create artifact temp file: %w", err)
	}
	tmpPath := tmp.Name()
	cleanup := func() {
		tmp.Close()
		os.Remove(tmpPath)
	}
	if _, err := seq.WriteTo(tmp); err != nil {
		cleanup()
		return fmt.Errorf("write artifact: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		cleanup()
		return fmt.Errorf("sync artifact: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close artifact: %w", err)
	}
	if err := os.Rename(tmpPath, finalPath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("publish artifact: %w", err)
	}
	return nil
}

func scanArtifact(scanner interface{ Scan(dest ...any) error }) (*ArtifactMeta, error) {
	var (
		meta       ArtifactMeta
		tag        string
		loop       int
		createdRaw string
		servedRaw  sql.NullString
	)
	if err := scanner.Scan(&meta.SourceID, &tag, &meta.EncoderVersion, &meta.FrameCount,
		&loop, &meta.ByteSize, &createdRaw, &servedRaw, &meta.ServedCount); err != nil {
		return nil, err
	}
	geom, err := geometry.Parse(tag)
	if err != nil {
		return nil, fmt.Errorf("artifact row has bad geometry %q: %w", tag, err)
	}
	meta.Geometry = geom
	meta.Loop = loop != 0
	if created, err := time.Parse(time.RFC3339Nano, createdRaw); err == nil {
		meta.CreatedAt = created
	}
	if servedRaw.Valid {
		if served, err := time.Parse(time.RFC3339Nano, servedRaw.String); err == nil {
			meta.LastServed = &served
		}
	}
	return &meta, nil
}

func (s *Store) artifactsForSource(ctx context.Context, sourceID string) ([]*ArtifactMeta, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT source_id, geometry, encoder_version, frame_count, loop, byte_size, created_at, last_served, served_count
         FROM artifacts WHERE source_id = ?`, sourceID)
	if err != nil {
		return nil, fmt.Errorf("artifacts for source: %w", err)
	}
	defer rows.Close()

	var metas []*ArtifactMeta
	for rows.Next() {
		meta, err := scanArtifact(rows)
		if err != nil {
			return nil, err
		}
		metas = append(metas, meta)
	}
	return metas, rows.Err()
}

func boolToInt(value bool) int {
	if value {
		return 1
	}
	return 0
}

const prefixedSourceColumns = "s.id, s.name, s.filename, s.kind, s.byte_size, s.first_seen"

func realStatfs(path string) (uint64, uint64, error) {
	var stat unix.Statfs_t
	if err := unix.Statfs(path, &stat); err != nil {
		return 0, 0, err
	}
	total := stat.Blocks * uint64(stat.Bsize)
	free := stat.Bavail * uint64(stat.Bsize)
	return total, free, nil
}
