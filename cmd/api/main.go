package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"mediagen/internal/adapter/repo"
	"mediagen/internal/http/handlers"
	"mediagen/internal/http/httpapi"
	"mediagen/internal/infra"
	"mediagen/internal/queue"
	"mediagen/internal/storage"
)

func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv, "api")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := infra.NewDBPool(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("api: db connection failed")
	}
	defer pool.Close()

	if err := infra.EnsureSchema(ctx, pool); err != nil {
		logger.Fatal().Err(err).Msg("api: schema bootstrap failed")
	}

	amqpConn, err := infra.NewAMQPConn(cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("api: amqp connection failed")
	}
	defer amqpConn.Close()

	taskQueue, err := queue.NewAMQPQueue(amqpConn, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("api: task queue setup failed")
	}

	s3Client, err := infra.NewS3Client(cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("api: s3 client setup failed")
	}
	store, err := storage.NewS3Store(ctx, s3Client, cfg.S3Bucket, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("api: storage setup failed")
	}

	app := handlers.NewApp(repo.NewJobRepository(pool), taskQueue, store, cfg.PresignTTL, logger)
	server := infra.NewHTTPServer(cfg, httpapi.NewRouter(app), logger)

	go func() {
		if err := server.Start(); err != nil {
			logger.Fatal().Err(err).Msg("api: http server failed")
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("api: shutdown failed")
	}
	logger.Info().Msg("api: stopped")
}
