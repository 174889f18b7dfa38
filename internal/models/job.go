package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// JobStatus represents the current state of a resize job
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusQueued     JobStatus = "queued"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
	JobStatusCancelled  JobStatus = "canceled"
)

// IsTerminal reports whether the job will not change status again
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed || s == JobStatusCancelled
}

// OperationType names a pixel operation applied by the worker
type OperationType string

const (
	// OperationResize scales with the separable filter resampler
	OperationResize OperationType = "resize"
	// OperationReduce downscales with the box-average reducer
	OperationReduce OperationType = "reduce"
	// OperationThumbnail resizes to cover a square and crops the center
	OperationThumbnail OperationType = "thumbnail"
)

// OperationTypes lists every supported operation
var OperationTypes = []OperationType{
	OperationResize,
	OperationReduce,
	OperationThumbnail,
}

// Operation represents a single step of a job
type Operation struct {
	Parameters map[string]interface{} `json:"parameters,omitempty"`
	Operation  OperationType          `json:"operation"`
}

// Job represents a resize job
type Job struct {
	Operations     []Operation `json:"operations" db:"-"`
	StartedAt      *time.Time  `json:"started_at,omitempty" db:"started_at"`
	CompletedAt    *time.Time  `json:"completed_at,omitempty" db:"completed_at"`
	DeleteAt       *time.Time  `json:"delete_at,omitempty" db:"delete_at"`
	ProcessingTime *int64      `json:"processing_time_ms,omitempty" db:"processing_time_ms"`
	OriginalKey    string      `json:"original_key" db:"original_key"`
	ProcessedKey   string      `json:"processed_key,omitempty" db:"processed_key"`
	OriginalName   string      `json:"original_name" db:"original_name"`
	ContentType    string      `json:"content_type" db:"content_type"`
	OutputType     string      `json:"output_type,omitempty" db:"output_type"`
	OperationsJSON string      `json:"-" db:"operations"`
	Error          string      `json:"error,omitempty" db:"error"`
	WorkerID       string      `json:"worker_id,omitempty" db:"worker_id"`
	ID             uuid.UUID   `json:"id" db:"id"`
	CreatedAt      time.Time   `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time   `json:"updated_at" db:"updated_at"`
	FileSize       int64       `json:"file_size" db:"file_size"`
	Status         JobStatus   `json:"status" db:"status"`
	Progress       int         `json:"progress" db:"progress"`
	OutputWidth    int         `json:"output_width,omitempty" db:"output_width"`
	OutputHeight   int         `json:"output_height,omitempty" db:"output_height"`
}

// NewJob creates a pending job for an uploaded original
func NewJob(originalKey, originalName, contentType string, fileSize int64, operations []Operation) *Job {
	now := time.Now()
	return &Job{
		ID:           uuid.New(),
		Status:       JobStatusPending,
		OriginalKey:  originalKey,
		OriginalName: originalName,
		ContentType:  contentType,
		FileSize:     fileSize,
		Operations:   operations,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// MarshalOperations serializes operations to JSON for database storage
func (j *Job) MarshalOperations() error {
	data, err := json.Marshal(j.Operations)
	if err != nil {
		return err
	}
	j.OperationsJSON = string(data)
	return nil
}

// UnmarshalOperations deserializes operations from JSON
func (j *Job) UnmarshalOperations() error {
	if j.OperationsJSON == "" {
		j.Operations = []Operation{}
		return nil
	}
	return json.Unmarshal([]byte(j.OperationsJSON), &j.Operations)
}

// JobResult describes the output of a finished job
type JobResult struct {
	ProcessedKey string
	ContentType  string
	Width        int
	Height       int
}

// JobMessage represents a job message in the queue
type JobMessage struct {
	Operations []Operation `json:"operations"`
	JobID      uuid.UUID   `json:"job_id"`
}

// JobListResponse represents a paginated list of jobs
type JobListResponse struct {
	Jobs       []*Job `json:"jobs"`
	Total      int    `json:"total"`
	Page       int    `json:"page"`
	PageSize   int    `json:"page_size"`
	TotalPages int    `json:"total_pages"`
}

// QueueStats represents queue statistics
type QueueStats struct {
	StreamLength    int64 `json:"stream_length"`
	PendingMessages int64 `json:"pending_messages"`
	ConsumerCount   int64 `json:"consumer_count"`
}
