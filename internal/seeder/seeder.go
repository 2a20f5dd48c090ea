// Package seeder bootstraps an empty catalogue from a file of onion URLs.
// The scheduler only dispatches URLs the catalogue already knows, so a fresh
// deployment needs at least one seeded row before anything crawls.
package seeder

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"drksrch/internal/blacklist"
	"drksrch/internal/links"
)

// Store is the slice of the catalogue the seeder needs.
type Store interface {
	GetAllURLs(ctx context.Context) (map[string]struct{}, error)
	InsertPlaceholder(ctx context.Context, url, parentURL string) error
}

// Seed reads one URL per line (blank lines and # comments skipped), keeps the
// valid onion URLs that are neither blacklisted nor already catalogued, and
// inserts them as new rows. Returns how many were inserted.
func Seed(ctx context.Context, path string, store Store, bl *blacklist.Blacklist, logger *slog.Logger) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("opening seed file: %w", err)
	}
	defer f.Close()

	known, err := store.GetAllURLs(ctx)
	if err != nil {
		return 0, fmt.Errorf("querying known urls: %w", err)
	}

	count := 0
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		normalized, ok := links.Normalize(nil, line)
		if !ok {
			logger.Warn("invalid seed url, skipping", "url", line)
			continue
		}
		if bl.Contains(normalized) {
			logger.Warn("blacklisted seed url, skipping", "url", normalized)
			continue
		}
		if _, exists := known[normalized]; exists {
			logger.Info("seed url already catalogued", "url", normalized)
			continue
		}

		if err := store.InsertPlaceholder(ctx, normalized, ""); err != nil {
			logger.Error("inserting seed url failed", "url", normalized, "error", err)
			continue
		}
		known[normalized] = struct{}{}
		count++
		logger.Info("seeded url", "url", normalized)
	}
	if err := scanner.Err(); err != nil {
		return count, fmt.Errorf("reading seed file: %w", err)
	}

	logger.Info("seeding complete", "inserted", count)
	return count, nil
}
