package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"mediagen/internal/adapter/repo"
	"mediagen/internal/barrier"
	"mediagen/internal/infra"
	"mediagen/internal/providers/generation"
	"mediagen/internal/queue"
	"mediagen/internal/retry"
	"mediagen/internal/storage"
	"mediagen/internal/workflow"
)

func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv, "worker")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := infra.NewDBPool(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: db connection failed")
	}
	defer pool.Close()

	if err := infra.EnsureSchema(ctx, pool); err != nil {
		logger.Fatal().Err(err).Msg("worker: schema bootstrap failed")
	}

	redisClient, err := infra.NewRedisClient(cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: redis setup failed")
	}
	defer redisClient.Close()

	amqpConn, err := infra.NewAMQPConn(cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: amqp connection failed")
	}
	defer amqpConn.Close()

	taskQueue, err := queue.NewAMQPQueue(amqpConn, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: task queue setup failed")
	}

	s3Client, err := infra.NewS3Client(cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: s3 client setup failed")
	}
	store, err := storage.NewS3Store(ctx, s3Client, cfg.S3Bucket, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: storage setup failed")
	}

	generator, err := generation.New(generation.Settings{
		Provider:          generation.Provider(cfg.MediaProvider),
		ReplicateAPIToken: cfg.ReplicateAPIToken,
		ReplicateBaseURL:  cfg.ReplicateBaseURL,
		HTTPClient:        &http.Client{Timeout: 120 * time.Second},
		Logger:            &logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: generation provider setup failed")
	}

	coordinator := workflow.New(
		repo.NewJobRepository(pool),
		taskQueue,
		barrier.NewRedis(redisClient),
		generator,
		store,
		retry.Policy{
			InitialDelay: cfg.InitialRetryDelay,
			MaxDelay:     cfg.MaxRetryDelay,
			MaxAttempts:  cfg.MaxRetryAttempts,
		},
		logger,
	)

	taskQueue.OnDrop = coordinator.RecordDropped

	logger.Info().Str("provider", cfg.MediaProvider).Msg("worker: started")
	if err := taskQueue.Consume(ctx, coordinator.Handlers()); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal().Err(err).Msg("worker: stopped with error")
	}
	logger.Info().Msg("worker: stopped")
}
