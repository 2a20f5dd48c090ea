// The processor consumes scrape results, writes them into the page catalogue
// and records newly discovered links. It runs until signalled.
package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"drksrch/internal/blacklist"
	"drksrch/internal/catalogue"
	"drksrch/internal/config"
	"drksrch/internal/database"
	"drksrch/internal/processor"
	"drksrch/internal/queue"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	cfg, err := config.Load(config.ActivePath())
	if err != nil {
		logger.Error("loading config failed", "error", err)
		exitForConfig(err)
	}

	// No blacklist means no safe way to filter: shut down cleanly rather
	// than catalogue anything we shouldn't.
	bl, err := blacklist.Load(cfg.Scraper.BlacklistFile)
	if err != nil {
		logger.Error("blacklist unavailable, refusing to run", "file", cfg.Scraper.BlacklistFile, "error", err)
		os.Exit(0)
	}
	logger.Info("blacklist loaded", "digests", bl.Len())

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

	p := processor.New(catalogue.NewStore(pool), bl, logger)

	logger.Info("processor consuming", "queue", cfg.MQ.ProcessorQueue)
	if err := bus.Consume(ctx, cfg.MQ.ProcessorQueue, p.Handle); err != nil {
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
