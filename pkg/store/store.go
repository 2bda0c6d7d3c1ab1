// Package store is the SQLite-backed document store for scrape fingerprints, jobs and
// scraped datasets.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite" // registers the "sqlite" driver
)

// Common errors.
var (
	ErrNotFound          = errors.New("not found")
	ErrJobClaimed        = errors.New("job already claimed")
	ErrInvalidTransition = errors.New("invalid job status transition")
)

// Schema holds the three logical collections consumed by the pipeline.
const Schema = `
CREATE TABLE IF NOT EXISTS scrape_fingerprints (
    fingerprint   TEXT PRIMARY KEY,
    actor_name    TEXT NOT NULL,
    payload       TEXT NOT NULL,
    executed_at   INTEGER NOT NULL,
    dataset_ref   TEXT NOT NULL DEFAULT '',
    record_count  INTEGER NOT NULL DEFAULT 0,
    metadata_json TEXT NOT NULL DEFAULT '{}',
    expires_at    INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_fingerprints_expires ON scrape_fingerprints(expires_at);

CREATE TABLE IF NOT EXISTS jobs (
    id            TEXT PRIMARY KEY,
    status        TEXT NOT NULL,
    query         TEXT NOT NULL,
    metadata_json TEXT NOT NULL DEFAULT '{}',
    result_json   TEXT,
    quality_json  TEXT,
    error         TEXT NOT NULL DEFAULT '',
    created_at    INTEGER NOT NULL,
    updated_at    INTEGER NOT NULL,
    started_at    INTEGER,
    completed_at  INTEGER
);
CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status, created_at);

CREATE TABLE IF NOT EXISTS datasets (
    id              TEXT PRIMARY KEY,
    actor_name      TEXT NOT NULL,
    record_count    INTEGER NOT NULL,
    normalized_json TEXT,
    created_at      INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS records (
    dataset_id TEXT NOT NULL REFERENCES datasets(id) ON DELETE CASCADE,
    idx        INTEGER NOT NULL,
    raw_json   TEXT NOT NULL,
    PRIMARY KEY (dataset_id, idx)
);
`

// Store wraps the database.
type Store struct {
	DB *sql.DB
}

// Open opens (creating if needed) the database at path and applies the schema.
// Use ":memory:" for an ephemeral store.
func Open(ctx context.Context, path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
			return nil, fmt.Errorf("create db directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if path == ":memory:" {
		// Each pooled connection would otherwise see its own empty database.
		db.SetMaxOpenConns(1)
	}
	for _, pragma := range []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 10000",
		"PRAGMA synchronous = NORMAL",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close() //nolint:errcheck,gosec // already failing
			return nil, fmt.Errorf("apply %q: %w", pragma, err)
		}
	}
	if _, err := db.ExecContext(ctx, Schema); err != nil {
		db.Close() //nolint:errcheck,gosec // already failing
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{DB: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.DB.Close()
}

// Ping checks the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.DB.PingContext(ctx)
}
