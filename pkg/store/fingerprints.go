package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/codeGROOVE-dev/fandomgraph/pkg/fingerprint"
)

// GetFingerprint returns the stored fingerprint, or (nil, nil) if there is none.
func (s *Store) GetFingerprint(ctx context.Context, fp string) (*fingerprint.ScrapeFingerprint, error) {
	row := s.DB.QueryRowContext(ctx, `
		SELECT fingerprint, actor_name, payload, executed_at, dataset_ref, record_count, metadata_json, expires_at
		FROM scrape_fingerprints WHERE fingerprint = ?`, fp)

	var (
		f          fingerprint.ScrapeFingerprint
		payload    string
		meta       string
		executedAt int64
		expiresAt  int64
	)
	err := row.Scan(&f.Fingerprint, &f.ActorName, &payload, &executedAt, &f.DatasetRef, &f.RecordCount, &meta, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil //nolint:nilnil // unknown fingerprint is not an error
	}
	if err != nil {
		return nil, fmt.Errorf("get fingerprint: %w", err)
	}
	f.Payload = json.RawMessage(payload)
	f.ExecutedAt = time.UnixMilli(executedAt).UTC()
	f.ExpiresAt = time.UnixMilli(expiresAt).UTC()
	if err := json.Unmarshal([]byte(meta), &f.Metadata); err != nil {
		return nil, fmt.Errorf("decode fingerprint metadata: %w", err)
	}
	return &f, nil
}

// PutFingerprint upserts by fingerprint, so a restarted worker recording the same
// scrape twice leaves exactly one row.
func (s *Store) PutFingerprint(ctx context.Context, f *fingerprint.ScrapeFingerprint) error {
	meta, err := json.Marshal(f.Metadata)
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}
	_, err = s.DB.ExecContext(ctx, `
		INSERT INTO scrape_fingerprints
			(fingerprint, actor_name, payload, executed_at, dataset_ref, record_count, metadata_json, expires_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(fingerprint) DO UPDATE SET
			actor_name = excluded.actor_name,
			payload = excluded.payload,
			executed_at = excluded.executed_at,
			dataset_ref = excluded.dataset_ref,
			record_count = excluded.record_count,
			metadata_json = excluded.metadata_json,
			expires_at = excluded.expires_at`,
		f.Fingerprint, f.ActorName, string(f.Payload), f.ExecutedAt.UnixMilli(),
		f.DatasetRef, f.RecordCount, string(meta), f.ExpiresAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("put fingerprint: %w", err)
	}
	return nil
}

// PurgeExpiredFingerprints deletes fingerprints whose expiry is before now.
func (s *Store) PurgeExpiredFingerprints(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.DB.ExecContext(ctx, `DELETE FROM scrape_fingerprints WHERE expires_at < ?`, now.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("purge fingerprints: %w", err)
	}
	return res.RowsAffected()
}
