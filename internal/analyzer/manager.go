// Package analyzer owns the topic model lifecycle and the search it backs.
// One manager holds the live model; a supervisor goroutine retrains it on a
// fixed period and swaps the fresh model in without dropping queries that are
// already running.
package analyzer

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"drksrch/internal/catalogue"
	"drksrch/internal/config"
	"drksrch/internal/model"
)

// ErrSettingUp is returned while no model exists yet: the service is up but
// cannot answer until the first training pass lands.
var ErrSettingUp = errors.New("analyzer: model still setting up")

// stablePoll is how often waiters re-check the manager status during a swap.
const stablePoll = 50 * time.Millisecond

const (
	minResults = 1
	maxResults = 1000
)

type Status int

const (
	SettingUp Status = iota
	Ready
	Updating
)

func (s Status) String() string {
	switch s {
	case SettingUp:
		return "setting_up"
	case Ready:
		return "ready"
	case Updating:
		return "updating"
	default:
		return "unknown"
	}
}

// Store is the slice of the catalogue the analyzer needs.
type Store interface {
	ListTrainable(ctx context.Context) ([]catalogue.Page, error)
	SearchByURLs(ctx context.Context, urls []string) ([]catalogue.Page, error)
}

// PageView is the search result shape served over RPC.
type PageView struct {
	URL         string `json:"url"`
	Title       string `json:"title"`
	Description string `json:"description"`
}

type Manager struct {
	cfg     config.AnalyzerConfig
	store   Store
	threads int
	logger  *slog.Logger

	statusMu sync.Mutex
	status   Status
	mdl      *model.Model

	inflightMu sync.Mutex
	inflight   int

	done chan struct{}
	wg   sync.WaitGroup
}

// NewManager builds a manager and tries to restore the last saved model so a
// restart serves queries immediately instead of waiting out a full training
// pass.
func NewManager(cfg config.AnalyzerConfig, store Store, threads int, logger *slog.Logger) *Manager {
	m := &Manager{
		cfg:     cfg,
		store:   store,
		threads: threads,
		logger:  logger,
		status:  SettingUp,
		done:    make(chan struct{}),
	}

	mdl, err := model.Load(cfg.ModelDir)
	if err != nil {
		logger.Info("no saved model, starting cold", "dir", cfg.ModelDir, "error", err)
		return m
	}
	mdl.Index()
	m.mdl = mdl
	m.status = Ready
	logger.Info("saved model restored", "documents", len(mdl.Docs))
	return m
}

// Start launches the retrain supervisor. When the manager booted cold the
// first pass runs immediately; afterwards one pass per retrain period.
func (m *Manager) Start(ctx context.Context) {
	m.wg.Add(1)
	go m.supervise(ctx)
}

// Close stops the supervisor and joins an in-progress training pass.
func (m *Manager) Close() {
	close(m.done)
	m.wg.Wait()
}

func (m *Manager) supervise(ctx context.Context) {
	defer m.wg.Done()

	if m.CurrentStatus() == SettingUp {
		m.retrain(ctx)
	}

	period := time.Duration(m.cfg.RetrainHours) * time.Hour
	timer := time.NewTimer(period)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.done:
			return
		case <-timer.C:
			m.retrain(ctx)
			timer.Reset(period)
		}
	}
}

// retrain runs one full training pass: train against the current catalogue,
// drain in-flight queries, persist the new model and swap it in. A failed
// pass leaves the previous model serving.
func (m *Manager) retrain(ctx context.Context) {
	start := time.Now()

	pages, err := m.store.ListTrainable(ctx)
	if err != nil {
		m.logger.Error("querying trainable pages failed, keeping current model", "error", err)
		return
	}

	docs := make([]model.TrainingDoc, 0, len(pages))
	for _, p := range pages {
		if p.PageContent == nil {
			continue
		}
		docs = append(docs, model.TrainingDoc{URL: p.URL, Content: *p.PageContent})
	}

	trained, err := model.Train(docs, m.threads)
	if err != nil {
		m.logger.Warn("training produced no model, keeping current", "pages", len(pages), "error", err)
		return
	}

	// Only an already-serving model transitions through Updating; a cold
	// boot stays SettingUp so callers keep getting the sentinel, not a spin.
	wasReady := m.CurrentStatus() == Ready
	if wasReady {
		m.setStatus(Updating)
	}
	if !m.drain(ctx) {
		if wasReady {
			m.setStatus(Ready)
		}
		return
	}

	// Persist before indexing: if the save fails we still serve the new
	// model, but the artifact on disk must never be one the process hasn't
	// finished building.
	if err := trained.Save(m.cfg.ModelDir); err != nil {
		m.logger.Error("saving model failed, serving it unsaved", "error", err)
	}
	trained.Index()

	m.statusMu.Lock()
	m.mdl = trained
	m.status = Ready
	m.statusMu.Unlock()

	m.logger.Info("model swapped in",
		"documents", len(trained.Docs),
		"vocabulary", len(trained.Vocab),
		"took", time.Since(start).Round(time.Millisecond))
}

// drain waits until no query holds the model. Returns false when shut down
// mid-wait.
func (m *Manager) drain(ctx context.Context) bool {
	for {
		m.inflightMu.Lock()
		n := m.inflight
		m.inflightMu.Unlock()
		if n == 0 {
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-m.done:
			return false
		case <-time.After(stablePoll):
		}
	}
}

func (m *Manager) CurrentStatus() Status {
	m.statusMu.Lock()
	defer m.statusMu.Unlock()
	return m.status
}

func (m *Manager) setStatus(s Status) {
	m.statusMu.Lock()
	m.status = s
	m.statusMu.Unlock()
}

// GetPages answers one search: top-n pages for the query text, mapped to
// their catalogue records. n is clamped to [1,1000]. While a swap is in
// progress the call waits it out; before the first model exists it returns
// ErrSettingUp.
func (m *Manager) GetPages(ctx context.Context, query string, n int) ([]PageView, error) {
	if n < minResults {
		n = minResults
	}
	if n > maxResults {
		n = maxResults
	}

	mdl, err := m.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer m.release()

	matches, err := mdl.Query(query, n)
	if err != nil {
		return nil, err
	}
	if len(matches) == 0 {
		return []PageView{}, nil
	}

	urls := make([]string, len(matches))
	for i, match := range matches {
		urls[i] = match.URL
	}
	pages, err := m.store.SearchByURLs(ctx, urls)
	if err != nil {
		return nil, err
	}

	byURL := make(map[string]catalogue.Page, len(pages))
	for _, p := range pages {
		byURL[p.URL] = p
	}

	// The store returns rows in arbitrary order; the model's ranking wins.
	views := make([]PageView, 0, len(matches))
	for _, match := range matches {
		p, ok := byURL[match.URL]
		if !ok {
			continue
		}
		views = append(views, PageView{
			URL:         p.URL,
			Title:       p.Title(),
			Description: p.Description(),
		})
	}
	return views, nil
}

// acquire waits for a stable Ready status and pins the current model with the
// inflight counter so a concurrent swap drains behind it.
func (m *Manager) acquire(ctx context.Context) (*model.Model, error) {
	for {
		m.statusMu.Lock()
		switch m.status {
		case SettingUp:
			m.statusMu.Unlock()
			return nil, ErrSettingUp
		case Ready:
			mdl := m.mdl
			m.inflightMu.Lock()
			m.inflight++
			m.inflightMu.Unlock()
			m.statusMu.Unlock()
			return mdl, nil
		default:
			m.statusMu.Unlock()
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(stablePoll):
		}
	}
}

func (m *Manager) release() {
	m.inflightMu.Lock()
	m.inflight--
	m.inflightMu.Unlock()
}
