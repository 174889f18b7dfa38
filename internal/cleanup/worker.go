package cleanup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/timkrebs/image-resampler/internal/models"
	"github.com/timkrebs/image-resampler/internal/storage"
)

// JobStore is the part of the job repository the worker needs
type JobStore interface {
	GetJobsToCleanup(ctx context.Context, limit int) ([]*models.Job, error)
	DeleteJob(ctx context.Context, id uuid.UUID) error
}

// ObjectStore deletes stored originals and results
type ObjectStore interface {
	Delete(ctx context.Context, key string) error
}

// Worker handles periodic cleanup of expired jobs and their stored images
type Worker struct {
	jobs      JobStore
	objects   ObjectStore
	logger    *slog.Logger
	interval  time.Duration
	batchSize int
}

// Config holds cleanup worker configuration
type Config struct {
	Interval  time.Duration
	BatchSize int
}

// NewWorker creates a new cleanup worker
func NewWorker(jobs JobStore, objects ObjectStore, cfg Config, logger *slog.Logger) *Worker {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Minute
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}

	return &Worker{
		jobs:      jobs,
		objects:   objects,
		logger:    logger,
		interval:  cfg.Interval,
		batchSize: cfg.BatchSize,
	}
}

// Start runs a cleanup cycle right away and then on every tick until ctx is done
func (w *Worker) Start(ctx context.Context) {
	w.logger.Info("cleanup worker started", "interval", w.interval, "batch_size", w.batchSize)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		if _, err := w.cleanup(ctx); err != nil && ctx.Err() == nil {
			w.logger.Error("cleanup failed", "error", err)
		}

		select {
		case <-ctx.Done():
			w.logger.Info("cleanup worker stopped")
			return
		case <-ticker.C:
		}
	}
}

// cleanup performs a single cleanup cycle and returns how many jobs it removed
func (w *Worker) cleanup(ctx context.Context) (int, error) {
	startTime := time.Now()

	jobs, err := w.jobs.GetJobsToCleanup(ctx, w.batchSize)
	if err != nil {
		return 0, err
	}

	if len(jobs) == 0 {
		w.logger.Debug("no jobs to cleanup")
		return 0, nil
	}

	cleaned := 0
	failed := 0
	for _, job := range jobs {
		if err := w.cleanupJob(ctx, job); err != nil {
			w.logger.Error("failed to cleanup job", "job_id", job.ID, "error", err)
			failed++
			continue
		}
		cleaned++
	}

	w.logger.Info("cleanup cycle completed",
		"duration_ms", time.Since(startTime).Milliseconds(),
		"cleaned", cleaned,
		"errors", failed,
		"total", len(jobs),
	)

	return cleaned, nil
}

// cleanupJob removes the stored images of a job, then its record. The record
// stays when an image could not be deleted so the next cycle retries.
func (w *Worker) cleanupJob(ctx context.Context, job *models.Job) error {
	var errs []error
	for _, key := range []string{job.OriginalKey, job.ProcessedKey} {
		if key == "" {
			continue
		}
		if err := w.objects.Delete(ctx, key); err != nil && !storage.IsNotFound(err) {
			errs = append(errs, fmt.Errorf("failed to delete %s: %w", key, err))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return err
	}

	if err := w.jobs.DeleteJob(ctx, job.ID); err != nil {
		return err
	}

	w.logger.Debug("job cleaned up", "job_id", job.ID)
	return nil
}
