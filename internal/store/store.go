package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"uwrangler/internal/config"
	"uwrangler/internal/geometry"
	"uwrangler/internal/logging"
	"uwrangler/internal/media"
	"uwrangler/internal/uwerr"
)

// statfsFunc allows tests to stub filesystem stats.
type statfsFunc func(path string) (total uint64, free uint64, err error)

// Store owns cache metadata and artifact bytes. It is the sole writer of
// both; every other component reads through its API.
type Store struct {
	db           *sql.DB
	dbPath       string
	cacheRoot    string
	maxBytes     int64
	maxArtifacts int
	logger       *slog.Logger
	statfs       statfsFunc
}

// Open connects to the metadata database, applies the schema, and reclaims
// artifact bytes orphaned by an earlier crash.
func Open(cfg *config.Config, logger *slog.Logger) (*Store, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("ensure directories: %w", err)
	}

	db, err := sql.Open("sqlite", cfg.Paths.DBPath)
	if err != nil {
		return nil, uwerr.Wrap(uwerr.ErrStorageIntegrity, "store", "open", cfg.Paths.DBPath, err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, uwerr.Wrap(uwerr.ErrStorageIntegrity, "store", "pragma", pragma, execErr)
		}
	}

	s := &Store{
		db:           db,
		dbPath:       cfg.Paths.DBPath,
		cacheRoot:    cfg.Paths.CacheRoot,
		maxBytes:     cfg.Cache.MaxBytes,
		maxArtifacts: cfg.Cache.MaxArtifacts,
		logger:       logging.NewComponentLogger(logger, "store"),
		statfs:       realStatfs,
	}
	if err := applySchema(context.Background(), db); err != nil {
		_ = db.Close()
		return nil, uwerr.Wrap(uwerr.ErrStorageIntegrity, "store", "schema", "", err)
	}
	if _, err := s.ReclaimOrphans(context.Background()); err != nil {
		s.logger.Warn("orphan reclaim at open failed", logging.Error(err))
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// UpsertSource registers a source file, replacing any record with the same
// identity. Returns true when the row was newly created.
func (s *Store) UpsertSource(ctx context.Context, src Source) (bool, error) {
	if src.ID == "" {
		return false, errors.New("source id is required")
	}
	if src.FirstSeen.IsZero() {
		src.FirstSeen = time.Now().UTC()
	}
	res, err := s.execWithRetry(
		ctx,
		`INSERT INTO sources (id, name, filename, kind, byte_size, first_seen)
         VALUES (?, ?, ?, ?, ?, ?)
         ON CONFLICT(id) DO UPDATE SET name=excluded.name, filename=excluded.filename,
             kind=excluded.kind, byte_size=excluded.byte_size`,
		src.ID, src.Name, src.Filename, string(src.Kind), src.ByteSize,
		src.FirstSeen.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return false, fmt.Errorf("upsert source: %w", err)
	}
	affected, _ := res.RowsAffected()
	return affected > 0, nil
}

// GetSource fetches one source by identity.
func (s *Store) GetSource(ctx context.Context, id string) (*Source, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sourceColumns+` FROM sources WHERE id = ?`, id)
	src, err := scanSource(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, uwerr.Wrap(uwerr.ErrNotFound, "store", "source", id, nil)
	}
	if err != nil {
		return nil, fmt.Errorf("get source: %w", err)
	}
	return src, nil
}

// FindSourceByName fetches one source by its display name.
func (s *Store) FindSourceByName(ctx context.Context, name string) (*Source, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sourceColumns+` FROM sources WHERE name = ? ORDER BY first_seen LIMIT 1`, name)
	src, err := scanSource(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, uwerr.Wrap(uwerr.ErrNotFound, "store", "source", name, nil)
	}
	if err != nil {
		return nil, fmt.Errorf("find source by name: %w", err)
	}
	return src, nil
}

// SourceIDs returns the identity set of every known source.
func (s *Store) SourceIDs(ctx context.Context) (map[string]struct{}, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM sources`)
	if err != nil {
		return nil, fmt.Errorf("list source ids: %w", err)
	}
	defer rows.Close()

	ids := make(map[string]struct{})
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids[id] = struct{}{}
	}
	return ids, rows.Err()
}

// DeleteSource removes a source and cascades to all of its artifacts, both
// metadata and bytes.
func (s *Store) DeleteSource(ctx context.Context, id string) error {
	metas, err := s.artifactsForSource(ctx, id)
	if err != nil {
		return err
	}

	// Foreign key cascade removes artifact rows; jobs keep their history.
	err = s.withTxRetry(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM sources WHERE id = ?`, id); err != nil {
			return fmt.Errorf("delete source: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	for _, meta := range metas {
		path := s.ArtifactPath(meta.SourceID, meta.Geometry)
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			s.logger.Warn("remove artifact bytes failed; orphan reclaim will retry",
				logging.String("path", path), logging.Error(err))
		}
	}
	return nil
}

// Stats summarizes cache occupancy.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	stats := Stats{MaxBytes: s.maxBytes, MaxArtifacts: s.maxArtifacts}
	row := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sources`)
	if err := row.Scan(&stats.Sources); err != nil {
		return stats, fmt.Errorf("count sources: %w", err)
	}
	row = s.db.QueryRowContext(ctx, `SELECT COUNT(*), COALESCE(SUM(byte_size), 0) FROM artifacts`)
	if err := row.Scan(&stats.Artifacts, &stats.ArtifactBytes); err != nil {
		return stats, fmt.Errorf("count artifacts: %w", err)
	}
	return stats, nil
}

// ArtifactPath returns the on-disk location for one artifact's bytes.
func (s *Store) ArtifactPath(sourceID string, geom geometry.Geometry) string {
	return filepath.Join(s.cacheRoot, geom.Tag(), sourceID+".uwfa")
}

const sourceColumns = "id, name, filename, kind, byte_size, first_seen"

func scanSource(scanner interface{ Scan(dest ...any) error }) (*Source, error) {
	var (
		src     Source
		kind    string
		seenRaw string
	)
	if err := scanner.Scan(&src.ID, &src.Name, &src.Filename, &kind, &src.ByteSize, &seenRaw); err != nil {
		return nil, err
	}
	src.Kind = media.Kind(kind)
	if seen, err := time.Parse(time.RFC3339Nano, seenRaw); err == nil {
		src.FirstSeen = seen
	}
	return &src, nil
}
