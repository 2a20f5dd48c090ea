// The scraper is the Tor worker: it consumes URLs from the worker queue,
// fetches them through the local Tor proxy and publishes extracted results
// for the processor.
package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"drksrch/internal/cache"
	"drksrch/internal/config"
	"drksrch/internal/queue"
	"drksrch/internal/scraper"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	cfg, err := config.Load(config.ActivePath())
	if err != nil {
		logger.Error("loading config failed", "error", err)
		exitForConfig(err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	rdb, err := cache.NewRedisClient(ctx, cfg.Redis)
	if err != nil {
		logger.Error("connecting to redis failed", "error", err)
		os.Exit(1)
	}
	defer rdb.Close()

	fetcher, err := scraper.NewFetcher(cfg.Scraper.TorProxy, cfg.Scraper.RequestTimeoutSecs)
	if err != nil {
		logger.Error("building tor fetcher failed", "error", err)
		os.Exit(1)
	}

	archive, err := scraper.NewArchive(ctx, cfg.MinIO)
	if err != nil {
		logger.Error("connecting to minio failed", "error", err)
		os.Exit(1)
	}
	if archive == nil {
		logger.Info("html archiving disabled, no minio endpoint configured")
	}

	var tor *scraper.TorControl
	if cfg.Scraper.TorControl != "" {
		tor = scraper.NewTorControl(cfg.Scraper.TorControl, os.Getenv("TOR_CONTROL_PASSWORD"))
	}

	bus, err := queue.Dial(cfg.MQ.URL(), []string{cfg.MQ.WorkerQueue, cfg.MQ.ProcessorQueue}, logger)
	if err != nil {
		logger.Error("connecting to broker failed", "error", err)
		exitForBroker(err)
	}
	defer bus.Close()

	worker := scraper.New(
		cfg.Scraper,
		cfg.MQ.ProcessorQueue,
		fetcher,
		scraper.NewPacer(rdb),
		scraper.NewRobotsChecker(fetcher, rdb, logger),
		tor,
		archive,
		bus,
		logger,
	)

	logger.Info("scraper consuming", "queue", cfg.MQ.WorkerQueue, "proxy", cfg.Scraper.TorProxy)
	if err := bus.Consume(ctx, cfg.MQ.WorkerQueue, worker.Handle); err != nil {
		logger.Error("consume ended with error", "error", err)
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
