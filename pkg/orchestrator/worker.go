package orchestrator

import (
	"context"
	"errors"
	"time"
)

// Worker polls the job queue and processes one job at a time.
type Worker struct {
	svc      *Service
	interval time.Duration
}

// NewWorker creates a Worker that sleeps interval between polls of an empty queue.
func NewWorker(svc *Service, interval time.Duration) *Worker {
	if interval <= 0 {
		interval = svc.cfg.PollInterval
	}
	return &Worker{svc: svc, interval: interval}
}

// Run processes jobs until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	w.svc.logger.InfoContext(ctx, "worker started", "poll_interval", w.interval)
	for {
		processed, err := w.Once(ctx)
		if ctx.Err() != nil {
			w.svc.logger.InfoContext(ctx, "worker stopped")
			return nil
		}
		if err != nil && !errors.Is(err, ErrCancelled) {
			w.svc.logger.ErrorContext(ctx, "job failed", "error", err)
		}
		if processed {
			continue
		}
		select {
		case <-ctx.Done():
			w.svc.logger.InfoContext(ctx, "worker stopped")
			return nil
		case <-time.After(w.interval):
		}
	}
}

// Once claims and processes the oldest queued job. It reports whether a job was claimed.
func (w *Worker) Once(ctx context.Context) (bool, error) {
	job, err := w.svc.store.ClaimNextJob(ctx)
	if err != nil {
		return false, err
	}
	if job == nil {
		return false, nil
	}
	w.svc.logger.InfoContext(ctx, "job claimed", "job_id", job.ID, "query", job.Query)
	return true, w.svc.Process(ctx, job)
}
