package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/timkrebs/image-resampler/internal/models"
)

var (
	// ErrNotFound is returned when a job is not found
	ErrNotFound = errors.New("job not found")
	// ErrInvalidState is returned when a job is not in a status that allows
	// the requested transition
	ErrInvalidState = errors.New("job is not in a valid state for this operation")
)

const jobColumns = `id, status, original_key, processed_key, original_name, content_type, output_type,
		       file_size, operations, error, progress, worker_id, output_width, output_height,
		       created_at, updated_at, started_at, completed_at, processing_time_ms, delete_at`

// JobRepository handles job database operations
type JobRepository struct {
	db *DB
}

// NewJobRepository creates a new job repository
func NewJobRepository(db *DB) *JobRepository {
	return &JobRepository{db: db}
}

type rowScanner interface {
	Scan(dest ...any) error
}

// scanJob reads one row selected with jobColumns
func scanJob(row rowScanner) (*models.Job, error) {
	job := &models.Job{}
	var processedKey, outputType, errorMsg, workerID sql.NullString
	var outputWidth, outputHeight sql.NullInt32
	var startedAt, completedAt, deleteAt sql.NullTime
	var processingTime sql.NullInt64

	err := row.Scan(
		&job.ID,
		&job.Status,
		&job.OriginalKey,
		&processedKey,
		&job.OriginalName,
		&job.ContentType,
		&outputType,
		&job.FileSize,
		&job.OperationsJSON,
		&errorMsg,
		&job.Progress,
		&workerID,
		&outputWidth,
		&outputHeight,
		&job.CreatedAt,
		&job.UpdatedAt,
		&startedAt,
		&completedAt,
		&processingTime,
		&deleteAt,
	)
	if err != nil {
		return nil, err
	}

	job.ProcessedKey = processedKey.String
	job.OutputType = outputType.String
	job.Error = errorMsg.String
	job.WorkerID = workerID.String
	job.OutputWidth = int(outputWidth.Int32)
	job.OutputHeight = int(outputHeight.Int32)
	if startedAt.Valid {
		job.StartedAt = &startedAt.Time
	}
	if completedAt.Valid {
		job.CompletedAt = &completedAt.Time
	}
	if processingTime.Valid {
		job.ProcessingTime = &processingTime.Int64
	}
	if deleteAt.Valid {
		job.DeleteAt = &deleteAt.Time
	}

	if err := job.UnmarshalOperations(); err != nil {
		return nil, fmt.Errorf("failed to unmarshal operations: %w", err)
	}
	return job, nil
}

func (r *JobRepository) queryJobs(ctx context.Context, operation, query string, args ...any) (jobs []*models.Job, err error) {
	start := time.Now()
	defer func() { r.db.observe(operation, start, err) }()

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// exec runs a statement that must touch exactly one row, returning missing
// when it touched none
func (r *JobRepository) exec(ctx context.Context, operation string, missing error, query string, args ...any) (err error) {
	start := time.Now()
	defer func() { r.db.observe(operation, start, err) }()

	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return missing
	}
	return nil
}

// Create inserts a new job into the database
func (r *JobRepository) Create(ctx context.Context, job *models.Job) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := job.MarshalOperations(); err != nil {
		return fmt.Errorf("failed to marshal operations: %w", err)
	}

	query := `
		INSERT INTO jobs (id, status, original_key, original_name, content_type, file_size, operations, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	err := r.exec(ctx, "create_job", nil, query,
		job.ID,
		job.Status,
		job.OriginalKey,
		job.OriginalName,
		job.ContentType,
		job.FileSize,
		job.OperationsJSON,
		job.CreatedAt,
		job.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create job: %w", err)
	}

	return nil
}

// GetByID retrieves a job by its ID
func (r *JobRepository) GetByID(ctx context.Context, id uuid.UUID) (job *models.Job, err error) {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	start := time.Now()
	defer func() {
		if errors.Is(err, ErrNotFound) {
			r.db.observe("get_job", start, nil)
			return
		}
		r.db.observe("get_job", start, err)
	}()

	job, err = scanJob(r.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}

	return job, nil
}

// List retrieves a paginated list of jobs, newest first. An empty status lists
// jobs in every status.
func (r *JobRepository) List(ctx context.Context, status models.JobStatus, page, pageSize int) ([]*models.Job, int, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 10
	}
	offset := (page - 1) * pageSize

	var total int
	countQuery := `SELECT COUNT(*) FROM jobs WHERE ($1::text = '' OR status = $1)`
	if err := r.db.QueryRowContext(ctx, countQuery, string(status)).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count jobs: %w", err)
	}

	query := `SELECT ` + jobColumns + `
		FROM jobs
		WHERE ($1::text = '' OR status = $1)
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`

	jobs, err := r.queryJobs(ctx, "list_jobs", query, string(status), pageSize, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list jobs: %w", err)
	}

	return jobs, total, nil
}

// UpdateStatus updates the status of a job
func (r *JobRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status models.JobStatus) error {
	err := r.exec(ctx, "update_status", ErrNotFound, `UPDATE jobs SET status = $1 WHERE id = $2`, status, id)
	if err != nil {
		return fmt.Errorf("failed to update job status: %w", err)
	}
	return nil
}

// UpdateProgress updates the progress of a job
func (r *JobRepository) UpdateProgress(ctx context.Context, id uuid.UUID, progress int) error {
	err := r.exec(ctx, "update_progress", ErrNotFound, `UPDATE jobs SET progress = $1 WHERE id = $2`, progress, id)
	if err != nil {
		return fmt.Errorf("failed to update job progress: %w", err)
	}
	return nil
}

// StartProcessing marks a pending or queued job as processing and records the
// worker ID. Jobs canceled in the meantime return ErrInvalidState.
func (r *JobRepository) StartProcessing(ctx context.Context, id uuid.UUID, workerID string) error {
	query := `
		UPDATE jobs
		SET status = $1, worker_id = $2, started_at = $3
		WHERE id = $4 AND status IN ($5, $6)
	`
	err := r.exec(ctx, "start_processing", ErrInvalidState, query,
		models.JobStatusProcessing, workerID, time.Now(), id,
		models.JobStatusPending, models.JobStatusQueued,
	)
	if err != nil {
		return fmt.Errorf("failed to start job: %w", err)
	}
	return nil
}

// CompleteJob marks a job as completed and schedules it for deletion after
// the retention period
func (r *JobRepository) CompleteJob(ctx context.Context, id uuid.UUID, result models.JobResult, retention time.Duration) error {
	now := time.Now()

	query := `
		UPDATE jobs
		SET status = $1, processed_key = $2, output_type = $3, output_width = $4, output_height = $5,
		    progress = 100, completed_at = $6,
		    processing_time_ms = CAST(EXTRACT(EPOCH FROM ($6::timestamptz - COALESCE(started_at, $6::timestamptz))) * 1000 AS BIGINT),
		    delete_at = $7
		WHERE id = $8
	`
	err := r.exec(ctx, "complete_job", ErrNotFound, query,
		models.JobStatusCompleted, result.ProcessedKey, result.ContentType, result.Width, result.Height,
		now, now.Add(retention), id,
	)
	if err != nil {
		return fmt.Errorf("failed to complete job: %w", err)
	}
	return nil
}

// FailJob marks a job as failed with an error message. Its original is kept
// for the retention period.
func (r *JobRepository) FailJob(ctx context.Context, id uuid.UUID, errorMsg string, retention time.Duration) error {
	now := time.Now()
	query := `
		UPDATE jobs
		SET status = $1, error = $2, completed_at = $3, delete_at = $4
		WHERE id = $5
	`
	err := r.exec(ctx, "fail_job", ErrNotFound, query, models.JobStatusFailed, errorMsg, now, now.Add(retention), id)
	if err != nil {
		return fmt.Errorf("failed to fail job: %w", err)
	}
	return nil
}

// CancelJob marks a pending or queued job as canceled and makes it eligible
// for cleanup right away
func (r *JobRepository) CancelJob(ctx context.Context, id uuid.UUID) error {
	query := `
		UPDATE jobs
		SET status = $1, delete_at = NOW()
		WHERE id = $2 AND status IN ($3, $4)
	`
	err := r.exec(ctx, "cancel_job", ErrInvalidState, query,
		models.JobStatusCancelled,
		id,
		models.JobStatusPending,
		models.JobStatusQueued,
	)
	if err != nil {
		return fmt.Errorf("failed to cancel job: %w", err)
	}
	return nil
}

// GetJobsToCleanup returns jobs that should be deleted (delete_at < now)
func (r *JobRepository) GetJobsToCleanup(ctx context.Context, limit int) ([]*models.Job, error) {
	query := `SELECT ` + jobColumns + `
		FROM jobs
		WHERE delete_at IS NOT NULL AND delete_at < NOW()
		ORDER BY delete_at ASC
		LIMIT $1
	`

	jobs, err := r.queryJobs(ctx, "jobs_to_cleanup", query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get jobs to cleanup: %w", err)
	}
	return jobs, nil
}

// DeleteJob permanently deletes a job from the database
func (r *JobRepository) DeleteJob(ctx context.Context, id uuid.UUID) error {
	if err := r.exec(ctx, "delete_job", ErrNotFound, `DELETE FROM jobs WHERE id = $1`, id); err != nil {
		return fmt.Errorf("failed to delete job: %w", err)
	}
	return nil
}
