package main

import (
	"context"
	"flag"
	"time"

	"go.uber.org/zap"

	"classattend/internal/config"
	"classattend/internal/logging"
	"classattend/internal/store"
)

// Seed applies migrations and loads a demo course for local testing.
func main() {
	startIn := flag.Duration("start-in", 0, "offset from now for the demo schedule start (e.g. -10m)")
	flag.Parse()

	cfg := config.Load()
	log, err := logging.Init(cfg.LogLevel, cfg.Env)
	if err != nil {
		panic(err)
	}
	defer func() { _ = log.Sync() }()

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	db, err := store.NewDB(cfg.DatabaseURL)
	if err != nil {
		log.Fatal("db connect failed", zap.Error(err))
	}
	defer db.Close()

	if err := store.Migrate(ctx, db.Client); err != nil {
		log.Fatal("migrate failed", zap.Error(err))
	}

	start := time.Now().UTC().Add(*startIn).Truncate(time.Minute)
	demo, err := store.SeedDemo(ctx, db.Client, start)
	if err != nil {
		log.Fatal("seed failed", zap.Error(err))
	}

	log.Info("demo data ready",
		zap.String("course_id", demo.CourseID),
		zap.String("schedule_id", demo.ScheduleID),
		zap.Time("start", start),
		zap.Strings("students", demo.StudentIDs))
}
