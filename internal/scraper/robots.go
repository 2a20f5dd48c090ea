package scraper

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/temoto/robotstxt"
)

const robotsCacheTTL = 1 * time.Hour

// RobotsChecker answers "may we fetch this URL" per onion domain. The
// robots.txt itself is fetched through Tor with the same fetcher the worker
// uses, and cached in redis so replicas share the answer. Onion services
// rarely publish one, so every failure mode allows.
type RobotsChecker struct {
	fetcher *Fetcher
	rdb     *redis.Client
	logger  *slog.Logger
}

func NewRobotsChecker(fetcher *Fetcher, rdb *redis.Client, logger *slog.Logger) *RobotsChecker {
	return &RobotsChecker{fetcher: fetcher, rdb: rdb, logger: logger}
}

func (c *RobotsChecker) IsAllowed(ctx context.Context, rawURL, domain string) bool {
	body, err := c.robotsText(ctx, domain)
	if err != nil {
		c.logger.Warn("robots.txt unavailable, allowing", "domain", domain, "error", err)
		return true
	}
	if body == "" {
		return true
	}

	robots, err := robotstxt.FromString(body)
	if err != nil {
		c.logger.Warn("robots.txt unparsable, allowing", "domain", domain, "error", err)
		return true
	}

	group := robots.FindGroup("*")
	if group == nil {
		return true
	}
	return group.Test(rawURL)
}

// robotsText returns the cached robots.txt body for a domain, fetching it
// through Tor on a cache miss. An empty body is cached too: a site without
// robots.txt should not be probed for one on every page.
func (c *RobotsChecker) robotsText(ctx context.Context, domain string) (string, error) {
	key := fmt.Sprintf("robots:%s", domain)

	cached, err := c.rdb.Get(ctx, key).Result()
	if err == nil {
		return cached, nil
	}
	if err != redis.Nil {
		return "", fmt.Errorf("redis get robots: %w", err)
	}

	body := ""
	fetched, status, err := c.fetcher.Fetch(ctx, fmt.Sprintf("http://%s/robots.txt", domain))
	if err == nil && status == http.StatusOK {
		body = string(fetched)
	}

	if err := c.rdb.Set(ctx, key, body, robotsCacheTTL).Err(); err != nil {
		c.logger.Warn("caching robots.txt failed", "domain", domain, "error", err)
	}
	return body, nil
}
