package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Dataset is a stored scraper result set.
type Dataset struct {
	ID          string           `json:"id"`
	ActorName   string           `json:"actorName"`
	RecordCount int              `json:"recordCount"`
	CreatedAt   time.Time        `json:"createdAt"`
	Records     []map[string]any `json:"records,omitempty"`
	Normalized  json.RawMessage  `json:"normalized,omitempty"`
}

// SaveDataset stores raw records and (optionally) their normalized form, returning the
// new dataset id.
func (s *Store) SaveDataset(ctx context.Context, actorName string, records []map[string]any, normalized any) (string, error) {
	id := uuid.NewString()
	var norm sql.NullString
	if normalized != nil {
		b, err := json.Marshal(normalized)
		if err != nil {
			return "", fmt.Errorf("encode normalized records: %w", err)
		}
		norm = sql.NullString{String: string(b), Valid: true}
	}

	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO datasets (id, actor_name, record_count, normalized_json, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		id, actorName, len(records), norm, time.Now().UTC().UnixMilli()); err != nil {
		return "", fmt.Errorf("insert dataset: %w", err)
	}
	for i, rec := range records {
		raw, err := json.Marshal(rec)
		if err != nil {
			return "", fmt.Errorf("encode record %d: %w", i, err)
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO records (dataset_id, idx, raw_json) VALUES (?, ?, ?)`,
			id, i, string(raw)); err != nil {
			return "", fmt.Errorf("insert record %d: %w", i, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("commit dataset: %w", err)
	}
	return id, nil
}

// LoadDataset returns a dataset with its raw records in original order.
func (s *Store) LoadDataset(ctx context.Context, id string) (*Dataset, error) {
	var (
		d       Dataset
		created int64
		norm    sql.NullString
	)
	err := s.DB.QueryRowContext(ctx, `
		SELECT id, actor_name, record_count, normalized_json, created_at FROM datasets WHERE id = ?`, id).
		Scan(&d.ID, &d.ActorName, &d.RecordCount, &norm, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load dataset: %w", err)
	}
	d.CreatedAt = time.UnixMilli(created).UTC()
	if norm.Valid {
		d.Normalized = json.RawMessage(norm.String)
	}

	rows, err := s.DB.QueryContext(ctx, `SELECT raw_json FROM records WHERE dataset_id = ? ORDER BY idx`, id)
	if err != nil {
		return nil, fmt.Errorf("load records: %w", err)
	}
	defer rows.Close() //nolint:errcheck // read-only

	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		var rec map[string]any
		dec := json.NewDecoder(strings.NewReader(raw))
		dec.UseNumber()
		if err := dec.Decode(&rec); err != nil {
			return nil, fmt.Errorf("decode record: %w", err)
		}
		d.Records = append(d.Records, rec)
	}
	return &d, rows.Err()
}
