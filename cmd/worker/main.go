package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/timkrebs/image-resampler/internal/cleanup"
	"github.com/timkrebs/image-resampler/internal/config"
	"github.com/timkrebs/image-resampler/internal/database"
	"github.com/timkrebs/image-resampler/internal/metrics"
	"github.com/timkrebs/image-resampler/internal/models"
	"github.com/timkrebs/image-resampler/internal/processor"
	"github.com/timkrebs/image-resampler/internal/queue"
	"github.com/timkrebs/image-resampler/internal/storage"
)

const (
	metricsNamespace = "resampler_worker"
	// finishTimeout bounds the job state writes made after a shutdown began
	finishTimeout = 5 * time.Second
)

// errInterrupted marks a job abandoned because the worker is shutting down.
// Its message stays pending so the job runs again after a restart.
var errInterrupted = errors.New("interrupted by shutdown")

// jobStore is the part of the job repository a worker needs
type jobStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Job, error)
	StartProcessing(ctx context.Context, id uuid.UUID, workerID string) error
	UpdateStatus(ctx context.Context, id uuid.UUID, status models.JobStatus) error
	UpdateProgress(ctx context.Context, id uuid.UUID, progress int) error
	CompleteJob(ctx context.Context, id uuid.UUID, result models.JobResult, retention time.Duration) error
	FailJob(ctx context.Context, id uuid.UUID, errorMsg string, retention time.Duration) error
}

type objectStore interface {
	Download(ctx context.Context, key string) (*storage.Object, error)
	Upload(ctx context.Context, key string, reader io.Reader, size int64, contentType string) error
}

type Worker struct {
	id         string
	jobRepo    jobStore
	storage    objectStore
	processor  *processor.Processor
	jobMetrics *metrics.JobMetrics
	retention  time.Duration
	logger     *slog.Logger
}

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	workerID := resolveWorkerID(cfg.WorkerID)
	logger := cfg.Logger().With("worker_id", workerID)
	slog.SetDefault(logger)

	// Connect to database
	db, err := database.New(cfg.DatabaseURL, cfg.DatabaseMaxConn)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	if err := db.Migrate(ctx); err != nil {
		cancel()
		logger.Error("failed to migrate database", "error", err)
		os.Exit(1)
	}
	cancel()
	logger.Info("connected to database")

	jobRepo := database.NewJobRepository(db)

	// Connect to Redis
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	defer redisClient.Close()

	ctx, cancel = context.WithTimeout(context.Background(), 10*time.Second)
	if err := redisClient.Ping(ctx).Err(); err != nil {
		cancel()
		logger.Error("failed to connect to redis", "error", err)
		os.Exit(1)
	}
	cancel()
	logger.Info("connected to redis")

	// Connect to MinIO
	storageClient, err := storage.New(storage.Config{
		Endpoint:  cfg.MinIOEndpoint,
		AccessKey: cfg.MinIOAccessKey,
		SecretKey: cfg.MinIOSecretKey,
		Bucket:    cfg.MinIOBucket,
		UseSSL:    cfg.MinIOUseSSL,
	})
	if err != nil {
		logger.Error("failed to create storage client", "error", err)
		os.Exit(1)
	}

	ctx, cancel = context.WithTimeout(context.Background(), 10*time.Second)
	if err := storageClient.EnsureBucket(ctx); err != nil {
		cancel()
		logger.Error("failed to ensure bucket", "error", err)
		os.Exit(1)
	}
	cancel()
	logger.Info("connected to minio", "bucket", cfg.MinIOBucket)

	// Initialize metrics
	queueMetrics := metrics.NewQueueMetrics(metricsNamespace)
	storageClient.SetMetrics(metrics.NewStorageMetrics(metricsNamespace))
	db.SetMetrics(metrics.NewDatabaseMetrics(metricsNamespace))

	imageProcessor := processor.New(processor.SettingsFromConfig(cfg))
	imageProcessor.SetMetrics(metrics.NewResampleMetrics(metricsNamespace))

	worker := &Worker{
		id:         workerID,
		jobRepo:    jobRepo,
		storage:    storageClient,
		processor:  imageProcessor,
		jobMetrics: metrics.NewJobMetrics(metricsNamespace),
		retention:  cfg.ResultRetention,
		logger:     logger,
	}

	newConsumer := func(name string) *queue.Consumer {
		consumer := queue.NewConsumer(redisClient, queue.ConsumerConfig{
			StreamName:    cfg.QueueStreamName,
			ConsumerGroup: cfg.QueueConsumerGroup,
			ConsumerName:  name,
			PollTimeout:   cfg.WorkerPollTimeout,
		}, logger)
		consumer.SetMetrics(queueMetrics)
		return consumer
	}

	ctx, cancel = context.WithTimeout(context.Background(), 10*time.Second)
	if err := newConsumer(workerID).EnsureGroup(ctx); err != nil {
		cancel()
		logger.Error("failed to ensure consumer group", "error", err)
		os.Exit(1)
	}
	cancel()

	go startHealthServer(cfg.HTTPPort, db, logger)

	ctx, cancel = context.WithCancel(context.Background())
	defer cancel()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	var wg sync.WaitGroup

	// Expired jobs and their objects are removed by the workers
	cleaner := cleanup.NewWorker(jobRepo, storageClient, cleanup.Config{
		Interval:  cfg.CleanupInterval,
		BatchSize: cfg.CleanupBatchSize,
	}, logger)
	wg.Add(1)
	go func() {
		defer wg.Done()
		cleaner.Start(ctx)
	}()

	// Each goroutine reads as its own consumer. Names are stable across restarts
	// so entries left pending by a shutdown are read again first.
	for i := 0; i < cfg.WorkerConcurrency; i++ {
		consumer := newConsumer(fmt.Sprintf("%s-%d", workerID, i))
		wg.Add(1)
		go func(workerNum int) {
			defer wg.Done()
			worker.run(ctx, consumer, workerNum)
		}(i)
	}

	logger.Info("worker started", "concurrency", cfg.WorkerConcurrency)

	<-quit
	logger.Info("shutting down worker...")
	cancel()

	wg.Wait()
	logger.Info("worker stopped")
}

func (w *Worker) run(ctx context.Context, consumer *queue.Consumer, workerNum int) {
	logger := w.logger.With("goroutine", workerNum)

	for {
		select {
		case <-ctx.Done():
			logger.Info("worker goroutine stopping")
			return
		default:
		}

		msg, err := consumer.Consume(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, queue.ErrMalformedMessage) {
				continue
			}
			logger.Error("failed to consume message", "error", err)
			time.Sleep(time.Second)
			continue
		}
		if msg == nil {
			continue
		}

		if err := w.processJob(ctx, msg.Job); err != nil {
			if errors.Is(err, errInterrupted) {
				logger.Warn("job interrupted, leaving message pending", "job_id", msg.Job.JobID, "error", err)
				continue
			}
			logger.Error("failed to process job", "job_id", msg.Job.JobID, "error", err)
		}

		// Use a fresh context so a shutdown does not leave the entry pending
		ackCtx, ackCancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := consumer.Acknowledge(ackCtx, msg.ID); err != nil {
			logger.Error("failed to acknowledge message", "error", err)
		}
		ackCancel()
	}
}

func (w *Worker) processJob(ctx context.Context, msg *models.JobMessage) error {
	jobID := msg.JobID
	logger := w.logger.With("job_id", jobID)
	start := time.Now()

	job, err := w.jobRepo.GetByID(ctx, jobID)
	if errors.Is(err, database.ErrNotFound) {
		logger.Warn("job not found, skipping")
		return nil
	}
	if err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("%w: %w", errInterrupted, err)
		}
		return fmt.Errorf("failed to get job: %w", err)
	}

	if err := w.jobRepo.StartProcessing(ctx, jobID, w.id); err != nil {
		if errors.Is(err, database.ErrInvalidState) {
			logger.Info("job no longer runnable, skipping", "status", job.Status)
			return nil
		}
		if ctx.Err() != nil {
			return fmt.Errorf("%w: %w", errInterrupted, err)
		}
		return fmt.Errorf("failed to start processing: %w", err)
	}

	if w.jobMetrics != nil {
		active := w.jobMetrics.JobsActive.WithLabelValues(string(models.JobStatusProcessing))
		active.Inc()
		defer active.Dec()
	}

	operations := msg.Operations
	if len(operations) == 0 {
		operations = job.Operations
	}

	logger.Info("downloading original image", "key", job.OriginalKey)
	stage := time.Now()
	original, err := w.storage.Download(ctx, job.OriginalKey)
	if err != nil {
		return w.fail(ctx, jobID, start, "failed to download image", err)
	}
	defer original.Close()
	w.observeStage("download", stage)
	w.progress(ctx, jobID, 20)

	logger.Info("resizing image", "operations", len(operations))
	stage = time.Now()
	result, err := w.processor.Process(original, job.ContentType, operations)
	if err != nil {
		return w.fail(ctx, jobID, start, "failed to process image", err)
	}
	w.observeStage("process", stage)
	w.progress(ctx, jobID, 80)

	resultKey := storage.ResultKey(jobID, result.ContentType)
	logger.Info("uploading result", "key", resultKey, "size", len(result.Data))
	stage = time.Now()
	if err := w.storage.Upload(ctx, resultKey, bytes.NewReader(result.Data), int64(len(result.Data)), result.ContentType); err != nil {
		return w.fail(ctx, jobID, start, "failed to upload result", err)
	}
	w.observeStage("upload", stage)

	// The result is stored; record it even if a shutdown began meanwhile
	finishCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finishTimeout)
	defer cancel()
	err = w.jobRepo.CompleteJob(finishCtx, jobID, models.JobResult{
		ProcessedKey: resultKey,
		ContentType:  result.ContentType,
		Width:        result.Width,
		Height:       result.Height,
	}, w.retention)
	if err != nil {
		return w.fail(ctx, jobID, start, "failed to complete job", err)
	}

	w.observeJob(models.JobStatusCompleted, start)
	logger.Info("job completed", "width", result.Width, "height", result.Height)
	return nil
}

// fail records a failed job and returns the cause wrapped with msg. When the
// failure comes from a shutdown, the job is put back in the queued state
// instead and the returned error wraps errInterrupted.
func (w *Worker) fail(ctx context.Context, jobID uuid.UUID, start time.Time, msg string, cause error) error {
	err := fmt.Errorf("%s: %w", msg, cause)
	interrupted := ctx.Err() != nil

	finishCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finishTimeout)
	defer cancel()

	if interrupted {
		if updateErr := w.jobRepo.UpdateStatus(finishCtx, jobID, models.JobStatusQueued); updateErr != nil {
			w.logger.Error("failed to requeue interrupted job", "job_id", jobID, "error", updateErr)
		}
		return fmt.Errorf("%w: %w", errInterrupted, err)
	}

	if failErr := w.jobRepo.FailJob(finishCtx, jobID, err.Error(), w.retention); failErr != nil {
		w.logger.Error("failed to mark job failed", "job_id", jobID, "error", failErr)
	}
	w.observeJob(models.JobStatusFailed, start)
	return err
}

// resolveWorkerID returns the configured worker ID, or one derived from the
// host name so it survives restarts
func resolveWorkerID(configured string) string {
	if configured != "" {
		return configured
	}
	if host, err := os.Hostname(); err == nil && host != "" {
		return "worker-" + host
	}
	return fmt.Sprintf("worker-%s", uuid.New().String()[:8])
}

func (w *Worker) progress(ctx context.Context, jobID uuid.UUID, progress int) {
	if err := w.jobRepo.UpdateProgress(ctx, jobID, progress); err != nil {
		w.logger.Warn("failed to update progress", "job_id", jobID, "error", err)
	}
}

func (w *Worker) observeJob(status models.JobStatus, start time.Time) {
	if w.jobMetrics == nil {
		return
	}
	w.jobMetrics.JobsTotal.WithLabelValues(string(status)).Inc()
	metrics.RecordDuration(start, w.jobMetrics.ProcessingDuration.WithLabelValues(string(status)))
}

func (w *Worker) observeStage(stage string, start time.Time) {
	if w.jobMetrics == nil {
		return
	}
	metrics.RecordDuration(start, w.jobMetrics.OperationDuration.WithLabelValues(stage))
}

func startHealthServer(port int, db *database.DB, logger *slog.Logger) {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy"}`))
	})

	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := db.Health(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"status":"not ready"}`))
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ready"}`))
	})

	mux.Handle("/metrics", promhttp.Handler())

	addr := fmt.Sprintf(":%d", port)
	logger.Info("starting health server", "addr", addr)

	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Error("health server error", "error", err)
	}
}
