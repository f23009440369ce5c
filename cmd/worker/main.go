package main

import (
	"context"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"classattend/internal/config"
	"classattend/internal/logging"
	"classattend/internal/observability"
	"classattend/internal/queue"
	"classattend/internal/scanlog"
	"classattend/internal/store"
)

// Worker drains scan events from Redis into the scan_events table.
func main() {
	cfg := config.Load()

	log, err := logging.Init(cfg.LogLevel, cfg.Env)
	if err != nil {
		panic(err)
	}
	defer func() { _ = log.Sync() }()

	flush, err := observability.InitSentry(cfg.SentryDSN, cfg.Env, "worker")
	if err != nil {
		log.Warn("sentry disabled", zap.Error(err))
	}
	defer flush()

	if cfg.QueueBackend == "memory" {
		log.Fatal("worker needs QUEUE_BACKEND=redis; the memory queue is drained inside the api process")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := store.NewDB(cfg.DatabaseURL)
	if err != nil {
		log.Fatal("db connect failed", zap.Error(err))
	}
	defer db.Close()

	if err := store.Migrate(ctx, db.Client); err != nil {
		log.Fatal("migrate failed", zap.Error(err))
	}

	redisClient := store.NewRedis(cfg.RedisAddr)
	defer redisClient.Close()
	if !redisClient.Healthy(ctx) {
		log.Warn("redis not reachable yet, consumer will keep retrying", zap.String("addr", cfg.RedisAddr))
	}

	q := queue.NewRedisQueue(redisClient.Client, queue.DefaultKey)
	messages, err := q.Consume(ctx)
	if err != nil {
		log.Fatal("queue consume init failed", zap.Error(err))
	}

	log.Info("worker started, waiting for scan events", zap.String("queue", queue.DefaultKey))
	scanlog.NewSink(scanlog.NewRepository(db.Client), log.Named("scanlog")).Run(ctx, messages)
	log.Info("worker stopped")
}
