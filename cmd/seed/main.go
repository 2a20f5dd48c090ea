// Seeds the catalogue from a file of onion URLs. Run once against a fresh
// deployment; re-running is harmless, known URLs are skipped.
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
	"drksrch/internal/seeder"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	if len(os.Args) != 2 {
		logger.Error("usage: seed <seed-file>")
		os.Exit(1)
	}
	seedFile := os.Args[1]

	cfg, err := config.Load(config.ActivePath())
	if err != nil {
		logger.Error("loading config failed", "error", err)
		exitForConfig(err)
	}

	bl, err := blacklist.Load(cfg.Scraper.BlacklistFile)
	if err != nil {
		logger.Error("blacklist unavailable, refusing to seed", "file", cfg.Scraper.BlacklistFile, "error", err)
		os.Exit(0)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	pool, err := database.NewPool(ctx, cfg.Postgres)
	if err != nil {
		logger.Error("connecting to postgres failed", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	if _, err := seeder.Seed(ctx, seedFile, catalogue.NewStore(pool), bl, logger); err != nil {
		logger.Error("seeding failed", "error", err)
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
