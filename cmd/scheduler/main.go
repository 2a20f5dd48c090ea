// The scheduler runs once per invocation: wait out the inter-run pacing,
// query the catalogue for due URLs and dispatch them to the worker queue.
// Its container is restarted on a cadence; exiting is the normal end of a
// run.
package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"drksrch/internal/catalogue"
	"drksrch/internal/config"
	"drksrch/internal/database"
	"drksrch/internal/queue"
	"drksrch/internal/scheduler"
	"drksrch/internal/sleeper"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	cfg, err := config.Load(config.ActivePath())
	if err != nil {
		logger.Error("loading config failed", "error", err)
		exitForConfig(err)
	}
	if err := cfg.RequireSchedulerWindow(); err != nil {
		logger.Error("scheduler window not configured", "error", err)
		os.Exit(3)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	pool, err := database.NewPool(ctx, cfg.Postgres)
	if err != nil {
		logger.Error("connecting to postgres failed", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	bus, err := queue.Dial(cfg.MQ.URL(), []string{cfg.MQ.WorkerQueue, cfg.MQ.ProcessorQueue}, logger)
	if err != nil {
		logger.Error("connecting to broker failed", "error", err)
		exitForBroker(err)
	}
	defer bus.Close()

	store := catalogue.NewStore(pool)
	slp := sleeper.New(sleeper.DefaultPath, logger)

	s := scheduler.New(cfg.Scheduler, cfg.MQ.WorkerQueue, store, bus, slp, logger)
	if err := s.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("scheduler run failed", "error", err)
		os.Exit(1)
	}
}

func exitForConfig(err error) {
	var missing *config.ErrMissingSection
	if errors.As(err, &missing) {
		os.Exit(3)
	}
	os.Exit(1)
}

func exitForBroker(err error) {
	if errors.Is(err, queue.ErrChannel) {
		os.Exit(2)
	}
	os.Exit(1)
}
