package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Status is a job's position in queued → processing → {completed | failed}.
type Status string

// Job statuses.
const (
	StatusQueued     Status = "queued"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Terminal reports whether no further transition is allowed.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Job is one analysis request.
type Job struct {
	ID          string          `json:"id"`
	Status      Status          `json:"status"`
	Query       string          `json:"query"`
	Metadata    map[string]any  `json:"metadata,omitempty"`
	Result      json.RawMessage `json:"result,omitempty"`
	Quality     json.RawMessage `json:"quality,omitempty"`
	Error       string          `json:"error,omitempty"`
	CreatedAt   time.Time       `json:"createdAt"`
	UpdatedAt   time.Time       `json:"updatedAt"`
	StartedAt   *time.Time      `json:"startedAt,omitempty"`
	CompletedAt *time.Time      `json:"completedAt,omitempty"`
}

// CreateJob enqueues a job.
func (s *Store) CreateJob(ctx context.Context, query string, metadata map[string]any) (*Job, error) {
	if metadata == nil {
		metadata = map[string]any{}
	}
	metadata["query"] = query
	meta, err := json.Marshal(metadata)
	if err != nil {
		return nil, fmt.Errorf("encode job metadata: %w", err)
	}
	now := time.Now().UTC()
	job := &Job{
		ID:        uuid.NewString(),
		Status:    StatusQueued,
		Query:     query,
		Metadata:  metadata,
		CreatedAt: now,
		UpdatedAt: now,
	}
	_, err = s.DB.ExecContext(ctx, `
		INSERT INTO jobs (id, status, query, metadata_json, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		job.ID, job.Status, query, string(meta), now.UnixMilli(), now.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("insert job: %w", err)
	}
	return job, nil
}

// GetJob loads a job by id.
func (s *Store) GetJob(ctx context.Context, id string) (*Job, error) {
	row := s.DB.QueryRowContext(ctx, `
		SELECT id, status, query, metadata_json, result_json, quality_json, error,
		       created_at, updated_at, started_at, completed_at
		FROM jobs WHERE id = ?`, id)
	return scanJob(row)
}

// JobStatus returns the current status of a job.
func (s *Store) JobStatus(ctx context.Context, id string) (Status, error) {
	var st string
	err := s.DB.QueryRowContext(ctx, `SELECT status FROM jobs WHERE id = ?`, id).Scan(&st)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("job status: %w", err)
	}
	return Status(st), nil
}

// ClaimJob moves a queued job to processing. The update is conditional on the job
// still being queued, so two workers cannot both claim it.
func (s *Store) ClaimJob(ctx context.Context, id string) (*Job, error) {
	now := time.Now().UTC().UnixMilli()
	res, err := s.DB.ExecContext(ctx, `
		UPDATE jobs SET status = ?, started_at = ?, updated_at = ?
		WHERE id = ? AND status = ?`,
		StatusProcessing, now, now, id, StatusQueued)
	if err != nil {
		return nil, fmt.Errorf("claim job: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("claim job: %w", err)
	}
	if n == 0 {
		if _, err := s.JobStatus(ctx, id); err != nil {
			return nil, err
		}
		return nil, ErrJobClaimed
	}
	return s.GetJob(ctx, id)
}

// ClaimNextJob claims the oldest queued job. It returns (nil, nil) when the queue is empty.
func (s *Store) ClaimNextJob(ctx context.Context) (*Job, error) {
	for range 5 {
		var id string
		err := s.DB.QueryRowContext(ctx, `
			SELECT id FROM jobs WHERE status = ? ORDER BY created_at ASC, id ASC LIMIT 1`,
			StatusQueued).Scan(&id)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil //nolint:nilnil // empty queue
		}
		if err != nil {
			return nil, fmt.Errorf("next job: %w", err)
		}
		job, err := s.ClaimJob(ctx, id)
		if errors.Is(err, ErrJobClaimed) {
			continue // another worker won; try the next one
		}
		return job, err
	}
	return nil, nil //nolint:nilnil // lost every race; poll again later
}

// CompleteJob stores the result and marks a processing job completed.
// Completing an already-completed job is a no-op.
func (s *Store) CompleteJob(ctx context.Context, id string, result, quality any) error {
	res, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	q, err := json.Marshal(quality)
	if err != nil {
		return fmt.Errorf("encode quality: %w", err)
	}
	return s.finish(ctx, id, StatusCompleted, `result_json = ?, quality_json = ?, error = ''`, string(res), string(q))
}

// FailJob marks a queued or processing job failed with msg.
// Failing an already-failed job is a no-op; a completed job is left untouched.
func (s *Store) FailJob(ctx context.Context, id, msg string) error {
	return s.finish(ctx, id, StatusFailed, `error = ?`, msg)
}

func (s *Store) finish(ctx context.Context, id string, to Status, set string, args ...any) error {
	now := time.Now().UTC().UnixMilli()
	from := []any{StatusProcessing, StatusProcessing}
	if to == StatusFailed {
		from = []any{StatusQueued, StatusProcessing}
	}
	query := `UPDATE jobs SET status = ?, ` + set + `, updated_at = ?, completed_at = ?
		WHERE id = ? AND status IN (?, ?)`
	params := append([]any{to}, args...)
	params = append(params, now, now, id)
	params = append(params, from...)

	res, err := s.DB.ExecContext(ctx, query, params...)
	if err != nil {
		return fmt.Errorf("update job %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update job %s: %w", id, err)
	}
	if n > 0 {
		return nil
	}

	cur, err := s.JobStatus(ctx, id)
	if err != nil {
		return err
	}
	if cur == to {
		return nil
	}
	return fmt.Errorf("%w: %s → %s", ErrInvalidTransition, cur, to)
}

// ListJobs returns jobs with the given status, oldest first.
func (s *Store) ListJobs(ctx context.Context, status Status, limit int) ([]*Job, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.DB.QueryContext(ctx, `
		SELECT id, status, query, metadata_json, result_json, quality_json, error,
		       created_at, updated_at, started_at, completed_at
		FROM jobs WHERE status = ? ORDER BY created_at ASC LIMIT ?`, status, limit)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close() //nolint:errcheck // read-only

	var jobs []*Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanJob(row scanner) (*Job, error) {
	var (
		j                  Job
		status, meta       string
		result, quality    sql.NullString
		created, updated   int64
		started, completed sql.NullInt64
	)
	err := row.Scan(&j.ID, &status, &j.Query, &meta, &result, &quality, &j.Error,
		&created, &updated, &started, &completed)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan job: %w", err)
	}
	j.Status = Status(status)
	if err := json.Unmarshal([]byte(meta), &j.Metadata); err != nil {
		return nil, fmt.Errorf("decode job metadata: %w", err)
	}
	if result.Valid {
		j.Result = json.RawMessage(result.String)
	}
	if quality.Valid {
		j.Quality = json.RawMessage(quality.String)
	}
	j.CreatedAt = time.UnixMilli(created).UTC()
	j.UpdatedAt = time.UnixMilli(updated).UTC()
	if started.Valid {
		t := time.UnixMilli(started.Int64).UTC()
		j.StartedAt = &t
	}
	if completed.Valid {
		t := time.UnixMilli(completed.Int64).UTC()
		j.CompletedAt = &t
	}
	return &j, nil
}
