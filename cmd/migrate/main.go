// Applies the catalogue schema. Run once before the other services.
package main

import (
	"errors"
	"log/slog"
	"os"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"

	"drksrch/internal/config"
)

const defaultMigrationsPath = "file://internal/database/migrations"

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	cfg, err := config.Load(config.ActivePath())
	if err != nil {
		logger.Error("loading config failed", "error", err)
		exitForConfig(err)
	}

	path := defaultMigrationsPath
	if v := os.Getenv("MIGRATIONS_PATH"); v != "" {
		path = v
	}

	logger.Info("running migrations", "host", cfg.Postgres.Host, "db", cfg.Postgres.Database)

	m, err := migrate.New(path, cfg.Postgres.DSN())
	if err != nil {
		logger.Error("creating migrator failed", "error", err)
		os.Exit(1)
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		logger.Error("migration failed", "error", err)
		os.Exit(1)
	}

	logger.Info("migrations completed")
}

func exitForConfig(err error) {
	var missing *config.ErrMissingSection
	if errors.As(err, &missing) {
		os.Exit(3)
	}
	os.Exit(1)
}
