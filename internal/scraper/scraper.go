// Package scraper implements the Tor worker: it consumes URLs from the worker
// queue, fetches each page through the local Tor proxy, extracts the
// searchable text and outbound links, and publishes the result for the
// processor to catalogue.
package scraper

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"

	"drksrch/internal/config"
	"drksrch/internal/links"
	"drksrch/internal/queue"
)

// newIdentityAfter is how many consecutive fetch failures it takes before the
// worker asks Tor for a fresh circuit.
const newIdentityAfter = 5

// Publisher is the slice of the bus client the worker needs.
type Publisher interface {
	Publish(ctx context.Context, queue string, body []byte, contentType string) error
}

type Worker struct {
	cfg            config.ScraperConfig
	processorQueue string
	fetcher        *Fetcher
	pacer          *Pacer
	robots         *RobotsChecker
	tor            *TorControl
	archive        *Archive
	bus            Publisher
	logger         *slog.Logger

	failures atomic.Int32
}

// New wires a worker. tor and archive may be nil: circuit rotation and raw
// HTML snapshots are optional.
func New(
	cfg config.ScraperConfig,
	processorQueue string,
	fetcher *Fetcher,
	pacer *Pacer,
	robots *RobotsChecker,
	tor *TorControl,
	archive *Archive,
	bus Publisher,
	logger *slog.Logger,
) *Worker {
	return &Worker{
		cfg:            cfg,
		processorQueue: processorQueue,
		fetcher:        fetcher,
		pacer:          pacer,
		robots:         robots,
		tor:            tor,
		archive:        archive,
		bus:            bus,
		logger:         logger,
	}
}

// Handle is the consume handler for the worker queue. The message body is a
// bare URL. Only a failed publish requeues: every other outcome acks, because
// an unfetched page simply stays due and resurfaces through the scheduler.
func (w *Worker) Handle(ctx context.Context, body []byte) queue.Disposition {
	rawURL := strings.TrimSpace(string(body))
	logger := w.logger.With("url", rawURL)

	target, ok := w.validate(rawURL)
	if !ok {
		logger.Warn("invalid worker url, dropping")
		return queue.Drop
	}
	domain := links.FLD(target)

	if !w.robots.IsAllowed(ctx, rawURL, domain) {
		logger.Info("disallowed by robots.txt, skipping")
		return queue.Ack
	}

	if err := w.pacer.Wait(ctx, domain, w.cfg.CrawlDelayMs); err != nil {
		logger.Warn("pacing interrupted", "error", err)
		return queue.Requeue
	}

	html, status, err := w.fetcher.Fetch(ctx, rawURL)
	if err != nil {
		logger.Warn("fetch failed", "error", err)
		w.noteFailure(ctx, logger)
		return queue.Ack
	}
	if status != http.StatusOK {
		logger.Info("non-200 response, skipping", "status", status)
		w.failures.Store(0)
		return queue.Ack
	}
	w.failures.Store(0)

	if w.archive != nil {
		if err := w.archive.Put(ctx, rawURL, html); err != nil {
			logger.Warn("archiving html failed", "error", err)
		}
	}

	result, err := Extract(rawURL, html)
	if err != nil {
		logger.Warn("extraction failed, dropping", "error", err)
		return queue.Drop
	}

	payload, err := json.Marshal(result)
	if err != nil {
		logger.Error("encoding result failed, dropping", "error", err)
		return queue.Drop
	}

	if err := w.bus.Publish(ctx, w.processorQueue, payload, "application/json"); err != nil {
		logger.Error("publishing result failed, requeueing", "error", err)
		return queue.Requeue
	}

	logger.Info("page scraped", "links", len(result.Links), "bytes", len(html))
	return queue.Ack
}

// validate enforces the worker's hard precondition: an absolute http(s) URL
// on a .onion domain. Anything else never reaches the Tor proxy.
func (w *Worker) validate(rawURL string) (*url.URL, bool) {
	if rawURL == "" {
		return nil, false
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, false
	}
	if !links.IsOnion(u) {
		return nil, false
	}
	return u, true
}

// noteFailure counts consecutive fetch failures and rotates the Tor circuit
// once they pile up. A bad exit node poisons every request until it is
// replaced.
func (w *Worker) noteFailure(ctx context.Context, logger *slog.Logger) {
	n := w.failures.Add(1)
	if n < newIdentityAfter || w.tor == nil {
		return
	}
	w.failures.Store(0)
	if err := w.tor.Rotate(ctx); err != nil {
		logger.Warn("tor identity rotation failed", "error", err)
		return
	}
	logger.Info("tor identity rotated", "after_failures", n)
}
