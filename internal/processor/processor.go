// Package processor consumes scrape results, updates the page catalogue and
// records newly discovered links as placeholder rows. Every terminal state
// acknowledges the message: the catalogue, not the queue, is the source of
// truth, and a lost result resurfaces through the scheduler's due-URL query.
package processor

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"drksrch/internal/blacklist"
	"drksrch/internal/catalogue"
	"drksrch/internal/links"
	"drksrch/internal/queue"
)

// Result classifies how one message was handled.
type Result int

const (
	Success Result = iota
	ProcessingFailed
	SaveFailed
)

func (r Result) String() string {
	switch r {
	case Success:
		return "success"
	case ProcessingFailed:
		return "processing_failed"
	case SaveFailed:
		return "save_failed"
	default:
		return "unknown"
	}
}

var requiredFields = []string{"url", "page_title", "page_content", "meta_tags", "links"}

// Store is the slice of the catalogue the processor needs.
type Store interface {
	GetByURL(ctx context.Context, url string) (*catalogue.Page, error)
	UpdateScraped(ctx context.Context, url string, result catalogue.ScrapeResult) error
	InsertScraped(ctx context.Context, result catalogue.ScrapeResult) error
	InsertPlaceholder(ctx context.Context, url, parentURL string) error
	GetAllURLs(ctx context.Context) (map[string]struct{}, error)
}

type Processor struct {
	store     Store
	blacklist *blacklist.Blacklist
	logger    *slog.Logger
}

func New(store Store, bl *blacklist.Blacklist, logger *slog.Logger) *Processor {
	return &Processor{store: store, blacklist: bl, logger: logger}
}

// Handle is the consume handler for the processor queue.
func (p *Processor) Handle(ctx context.Context, body []byte) queue.Disposition {
	switch p.process(ctx, body) {
	case ProcessingFailed:
		return queue.Drop
	default:
		// Success and SaveFailed both ack; a failed save is retried when the
		// scheduler re-dispatches the URL after the access window.
		return queue.Ack
	}
}

func (p *Processor) process(ctx context.Context, body []byte) Result {
	result, ok := p.decode(body)
	if !ok {
		return ProcessingFailed
	}

	logger := p.logger.With("url", result.URL)

	if p.blacklist.Contains(result.URL) {
		logger.Info("blacklisted url, dropping result")
		return Success
	}

	if res := p.save(ctx, logger, result); res != Success {
		return res
	}

	p.discoverLinks(ctx, logger, result)
	logger.Info("result processed")
	return Success
}

// decode enforces the wire contract: valid JSON carrying all five fields.
// null values are fine, absent keys are not.
func (p *Processor) decode(body []byte) (catalogue.ScrapeResult, bool) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		p.logger.Warn("undecodable result payload", "error", err)
		return catalogue.ScrapeResult{}, false
	}
	for _, field := range requiredFields {
		if _, ok := raw[field]; !ok {
			p.logger.Warn("result payload missing field", "field", field)
			return catalogue.ScrapeResult{}, false
		}
	}

	var result catalogue.ScrapeResult
	if err := json.Unmarshal(body, &result); err != nil {
		p.logger.Warn("malformed result payload", "error", err)
		return catalogue.ScrapeResult{}, false
	}
	if result.URL == "" {
		p.logger.Warn("result payload has empty url")
		return catalogue.ScrapeResult{}, false
	}
	return result, true
}

func (p *Processor) save(ctx context.Context, logger *slog.Logger, result catalogue.ScrapeResult) Result {
	_, err := p.store.GetByURL(ctx, result.URL)
	switch {
	case err == nil:
		if err := p.store.UpdateScraped(ctx, result.URL, result); err != nil {
			logger.Error("updating scraped page failed", "error", err)
			return SaveFailed
		}
	case errors.Is(err, catalogue.ErrNotFound):
		// The scheduler only dispatches known URLs, so this is unexpected,
		// but a result in hand is worth a row.
		logger.Warn("scrape result for unknown url, inserting")
		if err := p.store.InsertScraped(ctx, result); err != nil {
			logger.Error("inserting scraped page failed", "error", err)
			return SaveFailed
		}
	default:
		logger.Error("looking up page failed", "error", err)
		return SaveFailed
	}
	return Success
}

// discoverLinks inserts a placeholder row for every outbound link the
// catalogue has not seen. Failures are logged and skipped: the link will be
// re-offered the next time its source page is scraped.
func (p *Processor) discoverLinks(ctx context.Context, logger *slog.Logger, result catalogue.ScrapeResult) {
	if len(result.Links) == 0 {
		return
	}

	known, err := p.store.GetAllURLs(ctx)
	if err != nil {
		logger.Warn("querying known urls failed, skipping link discovery", "error", err)
		return
	}

	discovered := 0
	for _, link := range result.Links {
		link = links.StripQuotes(link)
		if link == "" {
			continue
		}
		if p.blacklist.Contains(link) {
			continue
		}
		if _, ok := known[link]; ok {
			continue
		}
		if err := p.store.InsertPlaceholder(ctx, link, result.URL); err != nil {
			logger.Warn("inserting placeholder failed", "link", link, "error", err)
			continue
		}
		known[link] = struct{}{}
		discovered++
	}

	if discovered > 0 {
		logger.Info("new links discovered", "count", discovered)
	}
}
