package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"reflect"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/timkrebs/image-resampler/internal/models"
)

type fakeRow struct {
	values []any
	err    error
}

func (r fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	if len(dest) != len(r.values) {
		return fmt.Errorf("got %d destinations, want %d", len(dest), len(r.values))
	}
	for i, d := range dest {
		if s, ok := d.(sql.Scanner); ok {
			if err := s.Scan(r.values[i]); err != nil {
				return err
			}
			continue
		}
		reflect.ValueOf(d).Elem().Set(reflect.ValueOf(r.values[i]))
	}
	return nil
}

func TestScanJob(t *testing.T) {
	id := uuid.New()
	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	completed := created.Add(2 * time.Second)

	row := fakeRow{values: []any{
		id.String(),
		models.JobStatusCompleted,
		"originals/a.png",
		"results/a.png",
		"a.png",
		"image/png",
		"image/png",
		int64(4096),
		`[{"operation":"resize","parameters":{"width":64}}]`,
		nil,
		100,
		"worker-1",
		int64(64),
		int64(48),
		created,
		completed,
		created,
		completed,
		int64(2000),
		nil,
	}}

	job, err := scanJob(row)
	if err != nil {
		t.Fatalf("scanJob() error = %v", err)
	}
	if job.ID != id {
		t.Errorf("ID = %v, want %v", job.ID, id)
	}
	if job.ProcessedKey != "results/a.png" || job.WorkerID != "worker-1" {
		t.Errorf("ProcessedKey = %q, WorkerID = %q", job.ProcessedKey, job.WorkerID)
	}
	if job.Error != "" {
		t.Errorf("Error = %q, want empty", job.Error)
	}
	if job.OutputWidth != 64 || job.OutputHeight != 48 {
		t.Errorf("output = %dx%d, want 64x48", job.OutputWidth, job.OutputHeight)
	}
	if job.ProcessingTime == nil || *job.ProcessingTime != 2000 {
		t.Errorf("ProcessingTime = %v, want 2000", job.ProcessingTime)
	}
	if job.DeleteAt != nil {
		t.Errorf("DeleteAt = %v, want nil", job.DeleteAt)
	}
	if len(job.Operations) != 1 || job.Operations[0].Operation != models.OperationResize {
		t.Errorf("Operations = %+v, want one resize", job.Operations)
	}
}

func TestScanJob_Error(t *testing.T) {
	_, err := scanJob(fakeRow{err: sql.ErrNoRows})
	if !errors.Is(err, sql.ErrNoRows) {
		t.Errorf("scanJob() error = %v, want %v", err, sql.ErrNoRows)
	}
}

// Integration tests require a running Postgres instance
func getTestDB(t *testing.T) *DB {
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set, skipping integration test")
	}

	db, err := New(url, 5)
	if err != nil {
		t.Skipf("Postgres not available: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := db.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	return db
}

func TestJobRepository_Lifecycle(t *testing.T) {
	db := getTestDB(t)
	repo := NewJobRepository(db)
	ctx := context.Background()

	job := models.NewJob("originals/test.png", "test.png", "image/png", 1024, []models.Operation{
		{Operation: models.OperationReduce, Parameters: map[string]interface{}{"width": 32.0}},
	})
	if err := repo.Create(ctx, job); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	t.Cleanup(func() { repo.DeleteJob(context.Background(), job.ID) })

	if err := repo.UpdateStatus(ctx, job.ID, models.JobStatusQueued); err != nil {
		t.Fatalf("UpdateStatus() error = %v", err)
	}
	if err := repo.StartProcessing(ctx, job.ID, "worker-test"); err != nil {
		t.Fatalf("StartProcessing() error = %v", err)
	}
	if err := repo.StartProcessing(ctx, job.ID, "worker-other"); !errors.Is(err, ErrInvalidState) {
		t.Errorf("second StartProcessing() error = %v, want %v", err, ErrInvalidState)
	}
	if err := repo.CancelJob(ctx, job.ID); !errors.Is(err, ErrInvalidState) {
		t.Errorf("CancelJob() error = %v, want %v", err, ErrInvalidState)
	}

	result := models.JobResult{ProcessedKey: "results/test.png", ContentType: "image/png", Width: 32, Height: 24}
	if err := repo.CompleteJob(ctx, job.ID, result, -time.Minute); err != nil {
		t.Fatalf("CompleteJob() error = %v", err)
	}

	got, err := repo.GetByID(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if got.Status != models.JobStatusCompleted || got.Progress != 100 {
		t.Errorf("Status = %s, Progress = %d, want completed, 100", got.Status, got.Progress)
	}
	if got.OutputWidth != 32 || got.OutputHeight != 24 || got.OutputType != "image/png" {
		t.Errorf("output = %dx%d %s, want 32x24 image/png", got.OutputWidth, got.OutputHeight, got.OutputType)
	}

	jobs, total, err := repo.List(ctx, models.JobStatusCompleted, 1, 100)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if total < 1 || len(jobs) < 1 {
		t.Errorf("List() = %d jobs, total %d, want at least 1", len(jobs), total)
	}

	expired, err := repo.GetJobsToCleanup(ctx, 1000)
	if err != nil {
		t.Fatalf("GetJobsToCleanup() error = %v", err)
	}
	found := false
	for _, j := range expired {
		found = found || j.ID == job.ID
	}
	if !found {
		t.Error("expired job should be returned for cleanup")
	}

	if err := repo.DeleteJob(ctx, job.ID); err != nil {
		t.Fatalf("DeleteJob() error = %v", err)
	}
	if _, err := repo.GetByID(ctx, job.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetByID() after delete error = %v, want %v", err, ErrNotFound)
	}
}
