package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/timkrebs/image-resampler/internal/database"
	"github.com/timkrebs/image-resampler/internal/models"
	"github.com/timkrebs/image-resampler/internal/processor"
	"github.com/timkrebs/image-resampler/internal/storage"
)

type fakeJobStore struct {
	mu        sync.Mutex
	jobs      map[uuid.UUID]*models.Job
	createErr error
}

func newFakeJobStore() *fakeJobStore {
	return &fakeJobStore{jobs: make(map[uuid.UUID]*models.Job)}
}

func (f *fakeJobStore) Create(_ context.Context, job *models.Job) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return f.createErr
	}
	copied := *job
	f.jobs[job.ID] = &copied
	return nil
}

func (f *fakeJobStore) GetByID(_ context.Context, id uuid.UUID) (*models.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	job, ok := f.jobs[id]
	if !ok {
		return nil, database.ErrNotFound
	}
	copied := *job
	return &copied, nil
}

func (f *fakeJobStore) List(_ context.Context, status models.JobStatus, page, pageSize int) ([]*models.Job, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var jobs []*models.Job
	for _, job := range f.jobs {
		if status == "" || job.Status == status {
			jobs = append(jobs, job)
		}
	}
	return jobs, len(jobs), nil
}

func (f *fakeJobStore) UpdateStatus(_ context.Context, id uuid.UUID, status models.JobStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	job, ok := f.jobs[id]
	if !ok {
		return database.ErrNotFound
	}
	job.Status = status
	return nil
}

func (f *fakeJobStore) CancelJob(_ context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	job, ok := f.jobs[id]
	if !ok || (job.Status != models.JobStatusPending && job.Status != models.JobStatusQueued) {
		return fmt.Errorf("failed to cancel job: %w", database.ErrInvalidState)
	}
	job.Status = models.JobStatusCancelled
	return nil
}

type storedObject struct {
	data        []byte
	contentType string
}

type fakeObjectStore struct {
	mu        sync.Mutex
	objects   map[string]storedObject
	healthErr error
}

func newFakeObjectStore() *fakeObjectStore {
	return &fakeObjectStore{objects: make(map[string]storedObject)}
}

func (f *fakeObjectStore) Upload(_ context.Context, key string, reader io.Reader, _ int64, contentType string) error {
	data, err := io.ReadAll(reader)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[key] = storedObject{data: data, contentType: contentType}
	return nil
}

func (f *fakeObjectStore) Download(_ context.Context, key string) (*storage.Object, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	obj, ok := f.objects[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", storage.ErrObjectNotFound, key)
	}
	return &storage.Object{
		ReadCloser:  io.NopCloser(bytes.NewReader(obj.data)),
		ContentType: obj.contentType,
		Size:        int64(len(obj.data)),
	}, nil
}

func (f *fakeObjectStore) Delete(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, key)
	return nil
}

func (f *fakeObjectStore) PresignedURL(_ context.Context, key string, expiry time.Duration) (string, error) {
	return fmt.Sprintf("http://storage.test/%s?expires=%d", key, int(expiry.Seconds())), nil
}

func (f *fakeObjectStore) Health(context.Context) error { return f.healthErr }

type fakeQueue struct {
	mu         sync.Mutex
	messages   []*models.JobMessage
	enqueueErr error
}

func (f *fakeQueue) Enqueue(_ context.Context, msg *models.JobMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.enqueueErr != nil {
		return f.enqueueErr
	}
	f.messages = append(f.messages, msg)
	return nil
}

func (f *fakeQueue) GetStats(context.Context, string) (*models.QueueStats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return &models.QueueStats{StreamLength: int64(len(f.messages))}, nil
}

type healthFunc func(context.Context) error

func (f healthFunc) Health(ctx context.Context) error { return f(ctx) }

type testDeps struct {
	jobs    *fakeJobStore
	objects *fakeObjectStore
	queue   *fakeQueue
}

func newTestHandlers() (*Handlers, *testDeps) {
	deps := &testDeps{jobs: newFakeJobStore(), objects: newFakeObjectStore(), queue: &fakeQueue{}}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := NewHandlers(deps.jobs, deps.objects, deps.queue,
		healthFunc(func(context.Context) error { return nil }),
		processor.New(processor.DefaultSettings()), "workers", logger)
	return h, deps
}

func newTestRouter(h *Handlers) http.Handler {
	return NewRouter(h, nil, 10<<20, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func testPNG(t *testing.T, width, height int) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, color.NRGBA{R: uint8(x * 255 / width), G: uint8(y * 255 / height), B: 90, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("png.Encode() error = %v", err)
	}
	return buf.Bytes()
}

// multipartRequest builds a multipart upload with an image part and plain fields
func multipartRequest(t *testing.T, target, filename string, data []byte, fields map[string]string) *http.Request {
	t.Helper()
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	if filename != "" {
		part, err := writer.CreateFormFile("image", filename)
		if err != nil {
			t.Fatalf("CreateFormFile() error = %v", err)
		}
		part.Write(data)
	}
	for k, v := range fields {
		writer.WriteField(k, v)
	}
	writer.Close()

	req := httptest.NewRequest(http.MethodPost, target, body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	return req
}

func decodeError(t *testing.T, body io.Reader) string {
	t.Helper()
	var result map[string]string
	if err := json.NewDecoder(body).Decode(&result); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	return result["error"]
}

func TestIsValidImageType(t *testing.T) {
	tests := []struct {
		contentType string
		want        bool
	}{
		{"image/jpeg", true},
		{"image/jpg", true},
		{"image/png", true},
		{"image/gif", true},
		{"image/webp", true},
		{"image/bmp", true},
		{"image/tiff", true},
		{"IMAGE/JPEG", true},
		{"Image/PNG", true},
		{"image/svg+xml", false},
		{"application/json", false},
		{"text/html", false},
		{"", false},
	}

	for _, tt := range tests {
		t.Run(tt.contentType, func(t *testing.T) {
			got := isValidImageType(tt.contentType)
			if got != tt.want {
				t.Errorf("isValidImageType(%q) = %v, want %v", tt.contentType, got, tt.want)
			}
		})
	}
}

func TestDetectContentType(t *testing.T) {
	tests := []struct {
		filename string
		want     string
	}{
		{"image.jpg", "image/jpeg"},
		{"photo.JPEG", "image/jpeg"},
		{"IMAGE.PNG", "image/png"},
		{"image.gif", "image/gif"},
		{"image.webp", "image/webp"},
		{"scan.tif", "image/tiff"},
		{"scan.bmp", "image/bmp"},
		{"file.pdf", "application/octet-stream"},
		{"file", "application/octet-stream"},
		{"", "application/octet-stream"},
	}

	for _, tt := range tests {
		t.Run(tt.filename, func(t *testing.T) {
			got := detectContentType(tt.filename)
			if got != tt.want {
				t.Errorf("detectContentType(%q) = %q, want %q", tt.filename, got, tt.want)
			}
		})
	}
}

func TestParsePagination(t *testing.T) {
	tests := []struct {
		name         string
		query        string
		wantPage     int
		wantPageSize int
	}{
		{"default", "", 1, 20},
		{"custom page", "?page=3", 3, 20},
		{"custom page_size", "?page_size=50", 1, 50},
		{"both custom", "?page=2&page_size=30", 2, 30},
		{"page too low", "?page=0", 1, 20},
		{"page_size too high", "?page_size=200", 1, 20},
		{"negative page", "?page=-5", 1, 20},
		{"not a number", "?page=abc", 1, 20},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/v1/jobs"+tt.query, nil)
			page, pageSize := parsePagination(req)
			if page != tt.wantPage || pageSize != tt.wantPageSize {
				t.Errorf("parsePagination() = %d, %d, want %d, %d", page, pageSize, tt.wantPage, tt.wantPageSize)
			}
		})
	}
}

func TestHandlers_WriteJSON(t *testing.T) {
	h, _ := newTestHandlers()
	recorder := httptest.NewRecorder()

	h.writeJSON(recorder, http.StatusOK, map[string]string{"message": "test"})

	if recorder.Code != http.StatusOK {
		t.Errorf("Status = %d, want %d", recorder.Code, http.StatusOK)
	}
	if ct := recorder.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}

	var result map[string]string
	if err := json.NewDecoder(recorder.Body).Decode(&result); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if result["message"] != "test" {
		t.Errorf("Response message = %q, want test", result["message"])
	}
}

func TestHandlers_InvalidID(t *testing.T) {
	tests := []struct {
		method string
		path   string
	}{
		{http.MethodGet, "/api/v1/jobs/invalid-uuid"},
		{http.MethodDelete, "/api/v1/jobs/not-a-uuid"},
		{http.MethodGet, "/api/v1/images/bad-id"},
		{http.MethodGet, "/api/v1/jobs/invalid/stream"},
	}

	h, _ := newTestHandlers()
	router := newTestRouter(h)
	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			recorder := httptest.NewRecorder()
			router.ServeHTTP(recorder, httptest.NewRequest(tt.method, tt.path, nil))

			if recorder.Code != http.StatusBadRequest {
				t.Errorf("Status = %d, want %d", recorder.Code, http.StatusBadRequest)
			}
		})
	}
}

func TestHandlers_GetJob(t *testing.T) {
	h, deps := newTestHandlers()
	job := models.NewJob("originals/x/a.png", "a.png", "image/png", 10, nil)
	deps.jobs.jobs[job.ID] = job

	r := chi.NewRouter()
	r.Get("/api/v1/jobs/{id}", h.GetJob)

	recorder := httptest.NewRecorder()
	r.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/api/v1/jobs/"+job.ID.String(), nil))
	if recorder.Code != http.StatusOK {
		t.Fatalf("Status = %d, want %d", recorder.Code, http.StatusOK)
	}
	var got models.Job
	if err := json.NewDecoder(recorder.Body).Decode(&got); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if got.ID != job.ID {
		t.Errorf("ID = %v, want %v", got.ID, job.ID)
	}

	recorder = httptest.NewRecorder()
	r.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/api/v1/jobs/"+uuid.New().String(), nil))
	if recorder.Code != http.StatusNotFound {
		t.Errorf("Status for unknown job = %d, want %d", recorder.Code, http.StatusNotFound)
	}
}

func TestHandlers_CreateJob(t *testing.T) {
	h, deps := newTestHandlers()
	req := multipartRequest(t, "/api/v1/jobs", "photo.png", testPNG(t, 32, 16), map[string]string{
		"operations": `[{"operation":"resize","parameters":{"width":16,"filter":"cubic"}}]`,
	})
	recorder := httptest.NewRecorder()

	newTestRouter(h).ServeHTTP(recorder, req)

	if recorder.Code != http.StatusCreated {
		t.Fatalf("Status = %d, want %d: %s", recorder.Code, http.StatusCreated, recorder.Body.String())
	}
	var job models.Job
	if err := json.NewDecoder(recorder.Body).Decode(&job); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if job.Status != models.JobStatusQueued {
		t.Errorf("Status = %q, want queued", job.Status)
	}
	if job.ContentType != "image/png" {
		t.Errorf("ContentType = %q, want image/png", job.ContentType)
	}
	if want := storage.OriginalKey(job.ID, "photo.png"); job.OriginalKey != want {
		t.Errorf("OriginalKey = %q, want %q", job.OriginalKey, want)
	}
	if _, ok := deps.objects.objects[job.OriginalKey]; !ok {
		t.Error("original should be uploaded")
	}
	if len(deps.queue.messages) != 1 || deps.queue.messages[0].JobID != job.ID {
		t.Fatalf("queue messages = %+v, want one message for %v", deps.queue.messages, job.ID)
	}
	if deps.jobs.jobs[job.ID].Status != models.JobStatusQueued {
		t.Errorf("stored status = %q, want queued", deps.jobs.jobs[job.ID].Status)
	}
}

func TestHandlers_CreateJob_DefaultsToThumbnail(t *testing.T) {
	h, deps := newTestHandlers()
	req := multipartRequest(t, "/api/v1/jobs", "photo.jpg", []byte("opaque bytes"), nil)
	recorder := httptest.NewRecorder()

	h.CreateJob(recorder, req)

	if recorder.Code != http.StatusCreated {
		t.Fatalf("Status = %d, want %d", recorder.Code, http.StatusCreated)
	}
	ops := deps.queue.messages[0].Operations
	if len(ops) != 1 || ops[0].Operation != models.OperationThumbnail {
		t.Errorf("Operations = %+v, want a single thumbnail", ops)
	}
}

func TestHandlers_CreateJob_EnqueueFailure(t *testing.T) {
	h, deps := newTestHandlers()
	deps.queue.enqueueErr = errors.New("redis down")
	req := multipartRequest(t, "/api/v1/jobs", "photo.png", testPNG(t, 4, 4), nil)
	recorder := httptest.NewRecorder()

	h.CreateJob(recorder, req)

	if recorder.Code != http.StatusInternalServerError {
		t.Errorf("Status = %d, want %d", recorder.Code, http.StatusInternalServerError)
	}
	for _, job := range deps.jobs.jobs {
		if job.Status != models.JobStatusPending {
			t.Errorf("Status = %q, want pending after enqueue failure", job.Status)
		}
	}
}

func TestHandlers_CreateJob_CreateFailureRemovesUpload(t *testing.T) {
	h, deps := newTestHandlers()
	deps.jobs.createErr = errors.New("database down")
	req := multipartRequest(t, "/api/v1/jobs", "photo.png", testPNG(t, 4, 4), nil)
	recorder := httptest.NewRecorder()

	h.CreateJob(recorder, req)

	if recorder.Code != http.StatusInternalServerError {
		t.Errorf("Status = %d, want %d", recorder.Code, http.StatusInternalServerError)
	}
	if len(deps.objects.objects) != 0 {
		t.Errorf("objects = %d, want 0", len(deps.objects.objects))
	}
}

func TestHandlers_CreateJob_BadRequests(t *testing.T) {
	tests := []struct {
		name     string
		filename string
		fields   map[string]string
		wantErr  string
	}{
		{"no file", "", nil, "image file is required"},
		{"invalid operations JSON", "test.jpg", map[string]string{"operations": "not valid json"}, "invalid operations JSON"},
		{"unknown operation", "test.jpg", map[string]string{"operations": `[{"operation":"sepia"}]`}, "invalid operation"},
		{"bad parameters", "test.jpg", map[string]string{"operations": `[{"operation":"reduce","parameters":{"width":10,"sharp":1.5}}]`}, "sharp"},
		{"invalid image type", "document.pdf", nil, "invalid image type"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, deps := newTestHandlers()
			req := multipartRequest(t, "/api/v1/jobs", tt.filename, []byte("fake image data"), tt.fields)
			recorder := httptest.NewRecorder()

			h.CreateJob(recorder, req)

			if recorder.Code != http.StatusBadRequest {
				t.Errorf("Status = %d, want %d", recorder.Code, http.StatusBadRequest)
			}
			if msg := decodeError(t, recorder.Body); !strings.Contains(msg, tt.wantErr) {
				t.Errorf("Error = %q, want to contain %q", msg, tt.wantErr)
			}
			if len(deps.objects.objects) != 0 {
				t.Error("nothing should be uploaded for a bad request")
			}
		})
	}
}

func TestHandlers_ListJobs(t *testing.T) {
	h, deps := newTestHandlers()
	for i := 0; i < 3; i++ {
		job := models.NewJob(fmt.Sprintf("originals/%d", i), "a.png", "image/png", 1, nil)
		if i == 0 {
			job.Status = models.JobStatusCompleted
		}
		deps.jobs.jobs[job.ID] = job
	}
	router := newTestRouter(h)

	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/api/v1/jobs?status=completed", nil))
	if recorder.Code != http.StatusOK {
		t.Fatalf("Status = %d, want %d", recorder.Code, http.StatusOK)
	}
	var resp models.JobListResponse
	if err := json.NewDecoder(recorder.Body).Decode(&resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if resp.Total != 1 || len(resp.Jobs) != 1 || resp.TotalPages != 1 {
		t.Errorf("response = %+v, want one completed job", resp)
	}

	recorder = httptest.NewRecorder()
	router.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/api/v1/jobs?status=bogus", nil))
	if recorder.Code != http.StatusBadRequest {
		t.Errorf("Status for bogus status = %d, want %d", recorder.Code, http.StatusBadRequest)
	}
}

func TestHandlers_CancelJob(t *testing.T) {
	h, deps := newTestHandlers()
	queued := models.NewJob("originals/q", "q.png", "image/png", 1, nil)
	queued.Status = models.JobStatusQueued
	done := models.NewJob("originals/d", "d.png", "image/png", 1, nil)
	done.Status = models.JobStatusCompleted
	deps.jobs.jobs[queued.ID] = queued
	deps.jobs.jobs[done.ID] = done
	router := newTestRouter(h)

	tests := []struct {
		name string
		id   uuid.UUID
		want int
	}{
		{"queued", queued.ID, http.StatusOK},
		{"completed", done.ID, http.StatusConflict},
		{"unknown", uuid.New(), http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			recorder := httptest.NewRecorder()
			router.ServeHTTP(recorder, httptest.NewRequest(http.MethodDelete, "/api/v1/jobs/"+tt.id.String(), nil))
			if recorder.Code != tt.want {
				t.Errorf("Status = %d, want %d", recorder.Code, tt.want)
			}
		})
	}
}

func TestHandlers_GetImage(t *testing.T) {
	h, deps := newTestHandlers()
	router := newTestRouter(h)

	pending := models.NewJob("originals/p/cat.png", "cat.png", "image/png", 3, nil)
	deps.jobs.jobs[pending.ID] = pending
	deps.objects.objects[pending.OriginalKey] = storedObject{data: []byte("raw"), contentType: "image/png"}

	done := models.NewJob("originals/d/dog.png", "dog.png", "image/png", 3, nil)
	done.Status = models.JobStatusCompleted
	done.ProcessedKey = storage.ResultKey(done.ID, "image/png")
	done.OutputType = "image/png"
	deps.jobs.jobs[done.ID] = done
	deps.objects.objects[done.ProcessedKey] = storedObject{data: []byte("resized"), contentType: "image/png"}

	tests := []struct {
		name     string
		path     string
		want     int
		wantBody string
	}{
		{"not ready", "/api/v1/images/" + pending.ID.String(), http.StatusConflict, ""},
		{"original of pending job", "/api/v1/images/" + pending.ID.String() + "?original=true", http.StatusOK, "raw"},
		{"result", "/api/v1/images/" + done.ID.String(), http.StatusOK, "resized"},
		{"missing original object", "/api/v1/images/" + done.ID.String() + "?original=true", http.StatusNotFound, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			recorder := httptest.NewRecorder()
			router.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, tt.path, nil))
			if recorder.Code != tt.want {
				t.Fatalf("Status = %d, want %d", recorder.Code, tt.want)
			}
			if tt.wantBody != "" && recorder.Body.String() != tt.wantBody {
				t.Errorf("Body = %q, want %q", recorder.Body.String(), tt.wantBody)
			}
		})
	}

	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/api/v1/images/"+done.ID.String()+"?redirect=true", nil))
	if recorder.Code != http.StatusTemporaryRedirect {
		t.Errorf("redirect Status = %d, want %d", recorder.Code, http.StatusTemporaryRedirect)
	}
	if loc := recorder.Header().Get("Location"); loc != "http://storage.test/"+done.ProcessedKey+"?expires=900" {
		t.Errorf("Location = %q", loc)
	}

	recorder = httptest.NewRecorder()
	router.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/api/v1/images/"+done.ID.String(), nil))
	if cd := recorder.Header().Get("Content-Disposition"); cd != `inline; filename="dog-resized.png"` {
		t.Errorf("Content-Disposition = %q", cd)
	}
}

func TestHandlers_StreamJobStatus_Terminal(t *testing.T) {
	h, deps := newTestHandlers()
	job := models.NewJob("originals/s", "s.png", "image/png", 1, nil)
	job.Status = models.JobStatusFailed
	job.Error = "boom"
	deps.jobs.jobs[job.ID] = job

	recorder := httptest.NewRecorder()
	newTestRouter(h).ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/api/v1/jobs/"+job.ID.String()+"/stream", nil))

	if ct := recorder.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Content-Type = %q, want text/event-stream", ct)
	}
	body := recorder.Body.String()
	if strings.Count(body, "data: ") != 1 || !strings.Contains(body, `"status":"failed"`) {
		t.Errorf("Body = %q, want a single failed event", body)
	}
}

func TestHandlers_ResizeImage(t *testing.T) {
	h, _ := newTestHandlers()
	router := newTestRouter(h)

	req := multipartRequest(t, "/api/v1/resize", "in.png", testPNG(t, 40, 20), map[string]string{
		"width":  "10",
		"filter": "hermite",
	})
	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, req)

	if recorder.Code != http.StatusOK {
		t.Fatalf("Status = %d, want %d: %s", recorder.Code, http.StatusOK, recorder.Body.String())
	}
	if ct := recorder.Header().Get("Content-Type"); ct != "image/png" {
		t.Errorf("Content-Type = %q, want image/png", ct)
	}
	if w, hh := recorder.Header().Get("X-Image-Width"), recorder.Header().Get("X-Image-Height"); w != "10" || hh != "5" {
		t.Errorf("X-Image size = %sx%s, want 10x5", w, hh)
	}
	img, err := png.Decode(recorder.Body)
	if err != nil {
		t.Fatalf("png.Decode() error = %v", err)
	}
	if b := img.Bounds(); b.Dx() != 10 || b.Dy() != 5 {
		t.Errorf("bounds = %v, want 10x5", b)
	}
}

func TestHandlers_ResizeImage_Errors(t *testing.T) {
	tests := []struct {
		name   string
		data   []byte
		fields map[string]string
		want   int
	}{
		{"width not a number", nil, map[string]string{"width": "ten"}, http.StatusBadRequest},
		{"wrap not a boolean", nil, map[string]string{"width": "10", "wrap": "maybe"}, http.StatusBadRequest},
		{"unknown mode", nil, map[string]string{"mode": "blur", "width": "10"}, http.StatusBadRequest},
		{"missing dimensions", nil, map[string]string{"mode": "reduce"}, http.StatusBadRequest},
		{"reduce enlarges", nil, map[string]string{"mode": "reduce", "width": "80", "height": "80"}, http.StatusUnprocessableEntity},
		{"corrupt image", []byte("garbage"), map[string]string{"width": "10"}, http.StatusBadRequest},
	}

	h, _ := newTestHandlers()
	router := newTestRouter(h)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := tt.data
			if data == nil {
				data = testPNG(t, 20, 20)
			}
			recorder := httptest.NewRecorder()
			router.ServeHTTP(recorder, multipartRequest(t, "/api/v1/resize", "in.png", data, tt.fields))

			if recorder.Code != tt.want {
				t.Errorf("Status = %d, want %d: %s", recorder.Code, tt.want, recorder.Body.String())
			}
		})
	}
}

func TestHandlers_ListFilters(t *testing.T) {
	h, _ := newTestHandlers()
	recorder := httptest.NewRecorder()

	newTestRouter(h).ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/api/v1/filters", nil))

	if recorder.Code != http.StatusOK {
		t.Fatalf("Status = %d, want %d", recorder.Code, http.StatusOK)
	}
	var resp struct {
		Filters  []processor.FilterInfo `json:"filters"`
		Defaults processor.Settings     `json:"defaults"`
	}
	if err := json.NewDecoder(recorder.Body).Decode(&resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if len(resp.Filters) != 5 {
		t.Errorf("len(filters) = %d, want 5", len(resp.Filters))
	}
	if resp.Defaults.Filter != "lanczos3" {
		t.Errorf("default filter = %q, want lanczos3", resp.Defaults.Filter)
	}
}

func TestHandlers_Health(t *testing.T) {
	h, deps := newTestHandlers()
	router := newTestRouter(h)

	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/api/v1/health", nil))
	if recorder.Code != http.StatusOK {
		t.Errorf("Status = %d, want %d", recorder.Code, http.StatusOK)
	}

	deps.objects.healthErr = errors.New("minio unreachable")
	recorder = httptest.NewRecorder()
	router.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/api/v1/health", nil))
	if recorder.Code != http.StatusServiceUnavailable {
		t.Errorf("Status = %d, want %d", recorder.Code, http.StatusServiceUnavailable)
	}
	var resp struct {
		Status string                       `json:"status"`
		Checks map[string]map[string]string `json:"checks"`
	}
	if err := json.NewDecoder(recorder.Body).Decode(&resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if resp.Checks["storage"]["error"] != "minio unreachable" {
		t.Errorf("storage check = %v", resp.Checks["storage"])
	}
}

func TestHandlers_GetQueueStats(t *testing.T) {
	h, deps := newTestHandlers()
	deps.queue.messages = []*models.JobMessage{{JobID: uuid.New()}, {JobID: uuid.New()}}

	recorder := httptest.NewRecorder()
	newTestRouter(h).ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/api/v1/stats/queue", nil))

	var stats models.QueueStats
	if err := json.NewDecoder(recorder.Body).Decode(&stats); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if stats.StreamLength != 2 {
		t.Errorf("StreamLength = %d, want 2", stats.StreamLength)
	}
}
