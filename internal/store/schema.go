package store

import (
	"context"
	"database/sql"
	"fmt"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS sources (
    id          TEXT PRIMARY KEY,
    name        TEXT NOT NULL,
    filename    TEXT NOT NULL,
    kind        TEXT NOT NULL,
    byte_size   INTEGER NOT NULL,
    first_seen  TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS artifacts (
    source_id       TEXT NOT NULL REFERENCES sources(id) ON DELETE CASCADE,
    geometry        TEXT NOT NULL,
    encoder_version INTEGER NOT NULL,
    frame_count     INTEGER NOT NULL,
    loop            INTEGER NOT NULL,
    byte_size       INTEGER NOT NULL,
    created_at      TEXT NOT NULL,
    last_served     TEXT,
    served_count    INTEGER NOT NULL DEFAULT 0,
    PRIMARY KEY (source_id, geometry)
);

CREATE INDEX IF NOT EXISTS idx_artifacts_geometry ON artifacts(geometry);

CREATE TABLE IF NOT EXISTS jobs (
    id           INTEGER PRIMARY KEY,
    run_id       TEXT NOT NULL,
    source_id    TEXT NOT NULL,
    status       TEXT NOT NULL,
    attempts     INTEGER NOT NULL DEFAULT 0,
    not_before   TEXT,
    outcomes     TEXT,
    error        TEXT,
    created_at   TEXT NOT NULL,
    updated_at   TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_jobs_source ON jobs(source_id);
CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status);
`

func applySchema(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}
