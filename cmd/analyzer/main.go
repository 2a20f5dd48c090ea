// The analyzer serves the search RPC and keeps the topic model fresh,
// retraining it on a fixed period and hot-swapping it under live queries.
package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"drksrch/internal/analyzer"
	"drksrch/internal/catalogue"
	"drksrch/internal/config"
	"drksrch/internal/database"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	addr, key, err := config.Uplink()
	if err != nil {
		logger.Error("uplink not configured", "error", err)
		os.Exit(1)
	}

	cfg, err := config.Load(config.ActivePath())
	if err != nil {
		logger.Error("loading config failed", "error", err)
		exitForConfig(err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	pool, err := database.NewPool(ctx, cfg.Postgres)
	if err != nil {
		logger.Error("connecting to postgres failed", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	manager := analyzer.NewManager(cfg.Analyzer, catalogue.NewStore(pool), config.TrainerThreads(), logger)
	manager.Start(ctx)
	defer manager.Close()

	server := analyzer.NewServer(manager, key, logger)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("analyzer listening", "addr", addr, "retrain_hours", cfg.Analyzer.RetrainHours)
		errCh <- server.Listen(addr)
	}()

	select {
	case <-ctx.Done():
		if err := server.Shutdown(); err != nil {
			logger.Error("shutdown failed", "error", err)
		}
	case err := <-errCh:
		logger.Error("listener failed", "error", err)
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
