package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/timkrebs/image-resampler/internal/api"
	"github.com/timkrebs/image-resampler/internal/config"
	"github.com/timkrebs/image-resampler/internal/database"
	"github.com/timkrebs/image-resampler/internal/metrics"
	"github.com/timkrebs/image-resampler/internal/processor"
	"github.com/timkrebs/image-resampler/internal/queue"
	"github.com/timkrebs/image-resampler/internal/storage"
)

const metricsNamespace = "resampler_api"

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := cfg.Logger()
	slog.SetDefault(logger)

	// Connect to database
	db, err := database.New(cfg.DatabaseURL, cfg.DatabaseMaxConn)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := db.Close(); err != nil {
			logger.Error("failed to close database", "error", err)
		}
	}()

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
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Error("failed to close redis", "error", err)
		}
	}()

	ctx, cancel = context.WithTimeout(context.Background(), 10*time.Second)
	if err := redisClient.Ping(ctx).Err(); err != nil {
		cancel()
		logger.Error("failed to connect to redis", "error", err)
		os.Exit(1)
	}
	cancel()
	logger.Info("connected to redis")

	producer := queue.NewProducer(redisClient, cfg.QueueStreamName)

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
	httpMetrics := metrics.NewHTTPMetrics(metricsNamespace)
	jobMetrics := metrics.NewJobMetrics(metricsNamespace)
	storageClient.SetMetrics(metrics.NewStorageMetrics(metricsNamespace))
	db.SetMetrics(metrics.NewDatabaseMetrics(metricsNamespace))
	producer.SetMetrics(metrics.NewQueueMetrics(metricsNamespace))

	// Synchronous resizes run in the API process
	imageProcessor := processor.New(processor.SettingsFromConfig(cfg))
	imageProcessor.SetMetrics(metrics.NewResampleMetrics(metricsNamespace))

	handlers := api.NewHandlers(jobRepo, storageClient, producer, db, imageProcessor, cfg.QueueConsumerGroup, logger)
	handlers.SetMetrics(jobMetrics)

	router := api.NewRouter(handlers, httpMetrics, cfg.MaxUploadSize, logger)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	go func() {
		logger.Info("starting API server", "port", cfg.HTTPPort)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down server...")

	ctx, cancel = context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
	}

	logger.Info("server stopped")
}
