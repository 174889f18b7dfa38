package api

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/timkrebs/image-resampler/internal/database"
	"github.com/timkrebs/image-resampler/internal/metrics"
	"github.com/timkrebs/image-resampler/internal/models"
	"github.com/timkrebs/image-resampler/internal/processor"
	"github.com/timkrebs/image-resampler/internal/storage"
)

// JobStore persists resize jobs
type JobStore interface {
	Create(ctx context.Context, job *models.Job) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Job, error)
	List(ctx context.Context, status models.JobStatus, page, pageSize int) ([]*models.Job, int, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status models.JobStatus) error
	CancelJob(ctx context.Context, id uuid.UUID) error
}

// ObjectStore holds uploaded originals and resize results
type ObjectStore interface {
	Upload(ctx context.Context, key string, reader io.Reader, size int64, contentType string) error
	Download(ctx context.Context, key string) (*storage.Object, error)
	Delete(ctx context.Context, key string) error
	PresignedURL(ctx context.Context, key string, expiry time.Duration) (string, error)
	Health(ctx context.Context) error
}

// JobQueue hands jobs to the workers
type JobQueue interface {
	Enqueue(ctx context.Context, msg *models.JobMessage) error
	GetStats(ctx context.Context, consumerGroup string) (*models.QueueStats, error)
}

// HealthChecker reports whether a dependency is reachable
type HealthChecker interface {
	Health(ctx context.Context) error
}

// Handlers holds all HTTP handlers
type Handlers struct {
	jobRepo    JobStore
	storage    ObjectStore
	producer   JobQueue
	db         HealthChecker
	processor  *processor.Processor
	logger     *slog.Logger
	jobMetrics *metrics.JobMetrics
	groupName  string
}

// NewHandlers creates a new handlers instance
func NewHandlers(
	jobRepo JobStore,
	storage ObjectStore,
	producer JobQueue,
	db HealthChecker,
	proc *processor.Processor,
	groupName string,
	logger *slog.Logger,
) *Handlers {
	return &Handlers{
		jobRepo:   jobRepo,
		storage:   storage,
		producer:  producer,
		db:        db,
		processor: proc,
		groupName: groupName,
		logger:    logger,
	}
}

// SetMetrics injects metrics collectors into handlers
func (h *Handlers) SetMetrics(jobMetrics *metrics.JobMetrics) {
	h.jobMetrics = jobMetrics
}

// writeJSON writes a JSON response
func (h *Handlers) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode JSON response", "error", err)
	}
}

// writeError writes an error response
func (h *Handlers) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}

// upload is an image file taken from a multipart request
type upload struct {
	file        io.ReadCloser
	filename    string
	contentType string
	size        int64
	operations  []models.Operation
}

// readUpload parses the image file and its operations from a multipart form.
// On failure it has already written the error response.
func (h *Handlers) readUpload(w http.ResponseWriter, r *http.Request) (*upload, bool) {
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		h.writeError(w, http.StatusBadRequest, "failed to parse form: "+err.Error())
		return nil, false
	}

	file, header, err := r.FormFile("image")
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "image file is required")
		return nil, false
	}

	contentType := header.Header.Get("Content-Type")
	if !isValidImageType(contentType) {
		contentType = detectContentType(header.Filename)
		if !isValidImageType(contentType) {
			file.Close()
			h.writeError(w, http.StatusBadRequest, "invalid image type, must be JPEG, PNG, GIF, WebP, BMP or TIFF")
			return nil, false
		}
	}

	var operations []models.Operation
	if operationsJSON := r.FormValue("operations"); operationsJSON != "" {
		if err := json.Unmarshal([]byte(operationsJSON), &operations); err != nil {
			file.Close()
			h.writeError(w, http.StatusBadRequest, "invalid operations JSON: "+err.Error())
			return nil, false
		}
	}

	return &upload{
		file:        file,
		filename:    header.Filename,
		contentType: normalizeContentType(contentType),
		size:        header.Size,
		operations:  operations,
	}, true
}

// CreateJob handles POST /api/v1/jobs
func (h *Handlers) CreateJob(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	up, ok := h.readUpload(w, r)
	if !ok {
		return
	}
	defer up.file.Close()

	operations := up.operations
	if len(operations) == 0 {
		operations = []models.Operation{
			{Operation: models.OperationThumbnail, Parameters: map[string]interface{}{"size": 150}},
		}
	}
	if err := h.processor.Validate(operations); err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	id := uuid.New()
	originalKey := storage.OriginalKey(id, up.filename)

	if err := h.storage.Upload(ctx, originalKey, up.file, up.size, up.contentType); err != nil {
		h.logger.Error("failed to upload file", "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to upload file")
		return
	}

	job := models.NewJob(originalKey, filepath.Base(up.filename), up.contentType, up.size, operations)
	job.ID = id

	if err := h.jobRepo.Create(ctx, job); err != nil {
		h.logger.Error("failed to create job", "error", err)
		if delErr := h.storage.Delete(ctx, originalKey); delErr != nil {
			h.logger.Error("failed to remove orphaned upload", "key", originalKey, "error", delErr)
		}
		h.writeError(w, http.StatusInternalServerError, "failed to create job")
		return
	}

	if err := h.jobRepo.UpdateStatus(ctx, job.ID, models.JobStatusQueued); err != nil {
		h.logger.Error("failed to update job status", "job_id", job.ID, "error", err)
	}
	job.Status = models.JobStatusQueued

	msg := &models.JobMessage{
		JobID:      job.ID,
		Operations: operations,
	}
	if err := h.producer.Enqueue(ctx, msg); err != nil {
		h.logger.Error("failed to enqueue job", "job_id", job.ID, "error", err)
		if updateErr := h.jobRepo.UpdateStatus(ctx, job.ID, models.JobStatusPending); updateErr != nil {
			h.logger.Error("failed to update job status", "job_id", job.ID, "error", updateErr)
		}
		h.writeError(w, http.StatusInternalServerError, "failed to queue job")
		return
	}

	if h.jobMetrics != nil {
		h.jobMetrics.JobsTotal.WithLabelValues(string(models.JobStatusQueued)).Inc()
	}

	h.logger.Info("job created", "job_id", job.ID, "operations", len(operations))
	h.writeJSON(w, http.StatusCreated, job)
}

// jobFromRequest loads the job named by the {id} URL parameter. On failure it
// has already written the error response.
func (h *Handlers) jobFromRequest(w http.ResponseWriter, r *http.Request) (*models.Job, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid job ID")
		return nil, false
	}

	job, err := h.jobRepo.GetByID(r.Context(), id)
	if errors.Is(err, database.ErrNotFound) {
		h.writeError(w, http.StatusNotFound, "job not found")
		return nil, false
	}
	if err != nil {
		h.logger.Error("failed to get job", "job_id", id, "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to get job")
		return nil, false
	}
	return job, true
}

// GetJob handles GET /api/v1/jobs/{id}
func (h *Handlers) GetJob(w http.ResponseWriter, r *http.Request) {
	job, ok := h.jobFromRequest(w, r)
	if !ok {
		return
	}
	h.writeJSON(w, http.StatusOK, job)
}

// ListJobs handles GET /api/v1/jobs
func (h *Handlers) ListJobs(w http.ResponseWriter, r *http.Request) {
	page, pageSize := parsePagination(r)

	status := models.JobStatus(r.URL.Query().Get("status"))
	if status != "" && !isValidStatus(status) {
		h.writeError(w, http.StatusBadRequest, "invalid status filter")
		return
	}

	jobs, total, err := h.jobRepo.List(r.Context(), status, page, pageSize)
	if err != nil {
		h.logger.Error("failed to list jobs", "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to list jobs")
		return
	}
	if jobs == nil {
		jobs = []*models.Job{}
	}

	h.writeJSON(w, http.StatusOK, models.JobListResponse{
		Jobs:       jobs,
		Total:      total,
		Page:       page,
		PageSize:   pageSize,
		TotalPages: (total + pageSize - 1) / pageSize,
	})
}

// CancelJob handles DELETE /api/v1/jobs/{id}
func (h *Handlers) CancelJob(w http.ResponseWriter, r *http.Request) {
	job, ok := h.jobFromRequest(w, r)
	if !ok {
		return
	}

	if err := h.jobRepo.CancelJob(r.Context(), job.ID); err != nil {
		if errors.Is(err, database.ErrInvalidState) {
			h.writeError(w, http.StatusConflict, fmt.Sprintf("job cannot be canceled in status %s", job.Status))
			return
		}
		h.logger.Error("failed to cancel job", "job_id", job.ID, "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to cancel job")
		return
	}

	if h.jobMetrics != nil {
		h.jobMetrics.JobsTotal.WithLabelValues(string(models.JobStatusCancelled)).Inc()
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": string(models.JobStatusCancelled)})
}

// presignedExpiry bounds the lifetime of redirect URLs handed out by GetImage
const presignedExpiry = 15 * time.Minute

// GetImage handles GET /api/v1/images/{id}. It serves the job result, or the
// original upload with ?original=true. With ?redirect=true it answers with a
// redirect to a presigned storage URL instead of streaming the bytes.
func (h *Handlers) GetImage(w http.ResponseWriter, r *http.Request) {
	job, ok := h.jobFromRequest(w, r)
	if !ok {
		return
	}

	key, name := job.ProcessedKey, resultName(job)
	if r.URL.Query().Get("original") == "true" {
		key, name = job.OriginalKey, job.OriginalName
	} else if job.Status != models.JobStatusCompleted || key == "" {
		h.writeError(w, http.StatusConflict, fmt.Sprintf("image not ready, job is %s", job.Status))
		return
	}

	if r.URL.Query().Get("redirect") == "true" {
		url, err := h.storage.PresignedURL(r.Context(), key, presignedExpiry)
		if err != nil {
			h.logger.Error("failed to presign image URL", "job_id", job.ID, "error", err)
			h.writeError(w, http.StatusInternalServerError, "failed to presign image URL")
			return
		}
		http.Redirect(w, r, url, http.StatusTemporaryRedirect)
		return
	}

	obj, err := h.storage.Download(r.Context(), key)
	if errors.Is(err, storage.ErrObjectNotFound) {
		h.writeError(w, http.StatusNotFound, "image not found")
		return
	}
	if err != nil {
		h.logger.Error("failed to download image", "job_id", job.ID, "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to download image")
		return
	}
	defer obj.Close()

	w.Header().Set("Content-Type", obj.ContentType)
	w.Header().Set("Content-Length", strconv.FormatInt(obj.Size, 10))
	w.Header().Set("Content-Disposition", fmt.Sprintf("inline; filename=%q", name))
	if _, err := io.Copy(w, obj); err != nil {
		h.logger.Error("failed to stream image", "job_id", job.ID, "error", err)
	}
}

// GetQueueStats handles GET /api/v1/stats/queue
func (h *Handlers) GetQueueStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.producer.GetStats(r.Context(), h.groupName)
	if err != nil {
		h.logger.Error("failed to get queue stats", "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to get queue stats")
		return
	}

	h.writeJSON(w, http.StatusOK, stats)
}

// StreamJobStatus handles GET /api/v1/jobs/{id}/stream
// Streams job status updates using Server-Sent Events (SSE)
func (h *Handlers) StreamJobStatus(w http.ResponseWriter, r *http.Request) {
	job, ok := h.jobFromRequest(w, r)
	if !ok {
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		h.writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	send := func(job *models.Job) {
		data, err := json.Marshal(job)
		if err != nil {
			h.logger.Error("failed to marshal job", "job_id", job.ID, "error", err)
			return
		}
		fmt.Fprintf(w, "data: %s\n\n", data)
		flusher.Flush()
	}

	send(job)
	if job.Status.IsTerminal() {
		return
	}

	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	ctx := r.Context()
	id := job.ID
	lastStatus, lastProgress := job.Status, job.Progress
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			job, err := h.jobRepo.GetByID(ctx, id)
			if err != nil {
				if ctx.Err() == nil {
					h.logger.Error("failed to get job during stream", "error", err)
				}
				return
			}

			if job.Status != lastStatus || job.Progress != lastProgress {
				send(job)
				lastStatus, lastProgress = job.Status, job.Progress
			}
			if job.Status.IsTerminal() {
				return
			}
		}
	}
}

// Health handles GET /api/v1/health
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "healthy"
	checks := make(map[string]interface{})

	check := func(name string, fn func(context.Context) error, details map[string]interface{}) {
		if err := fn(ctx); err != nil {
			status = "unhealthy"
			checks[name] = map[string]string{"status": "unhealthy", "error": err.Error()}
			return
		}
		result := map[string]interface{}{"status": "healthy"}
		for k, v := range details {
			result[k] = v
		}
		checks[name] = result
	}

	var dbDetails map[string]interface{}
	if s, ok := h.db.(interface{ Stats() sql.DBStats }); ok {
		stats := s.Stats()
		dbDetails = map[string]interface{}{
			"open_connections": stats.OpenConnections,
			"in_use":           stats.InUse,
			"idle":             stats.Idle,
		}
	}
	check("database", h.db.Health, dbDetails)
	check("storage", h.storage.Health, nil)
	check("redis", func(ctx context.Context) error {
		_, err := h.producer.GetStats(ctx, h.groupName)
		return err
	}, nil)

	statusCode := http.StatusOK
	if status == "unhealthy" {
		statusCode = http.StatusServiceUnavailable
	}

	h.writeJSON(w, statusCode, map[string]interface{}{
		"status": status,
		"checks": checks,
	})
}

// Helper functions

var validImageTypes = []string{
	"image/jpeg",
	"image/jpg",
	"image/png",
	"image/gif",
	"image/webp",
	"image/bmp",
	"image/tiff",
}

func isValidImageType(contentType string) bool {
	for _, t := range validImageTypes {
		if strings.EqualFold(contentType, t) {
			return true
		}
	}
	return false
}

func normalizeContentType(contentType string) string {
	contentType = strings.ToLower(contentType)
	if contentType == "image/jpg" {
		return "image/jpeg"
	}
	return contentType
}

func detectContentType(filename string) string {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".gif":
		return "image/gif"
	case ".webp":
		return "image/webp"
	case ".bmp":
		return "image/bmp"
	case ".tif", ".tiff":
		return "image/tiff"
	default:
		return "application/octet-stream"
	}
}

func isValidStatus(status models.JobStatus) bool {
	switch status {
	case models.JobStatusPending, models.JobStatusQueued, models.JobStatusProcessing,
		models.JobStatusCompleted, models.JobStatusFailed, models.JobStatusCancelled:
		return true
	}
	return false
}

func parsePagination(r *http.Request) (page, pageSize int) {
	page, _ = strconv.Atoi(r.URL.Query().Get("page"))
	if page < 1 {
		page = 1
	}
	pageSize, _ = strconv.Atoi(r.URL.Query().Get("page_size"))
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}
	return page, pageSize
}

// resultName derives a download name for a job result from the original name
func resultName(job *models.Job) string {
	base := strings.TrimSuffix(job.OriginalName, filepath.Ext(job.OriginalName))
	if base == "" {
		base = job.ID.String()
	}
	return base + "-resized" + storage.ExtensionFor(job.OutputType)
}
