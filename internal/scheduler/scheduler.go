// Package scheduler implements the single-shot dispatch run: wait out the
// inter-run pacing, query the catalogue for due URLs and push each one onto
// the worker queue. The container is re-run on a cron-like cadence; one
// invocation is one run.
package scheduler

import (
	"context"
	"log/slog"

	"drksrch/internal/config"
	"drksrch/internal/sleeper"
)

// Store is the slice of the catalogue the scheduler needs.
type Store interface {
	ListDue(ctx context.Context, accessDayDifference int) ([]string, error)
}

// Publisher is the slice of the bus client the scheduler needs.
type Publisher interface {
	Publish(ctx context.Context, queue string, body []byte, contentType string) error
}

type Scheduler struct {
	cfg         config.SchedulerConfig
	workerQueue string
	store       Store
	bus         Publisher
	sleeper     *sleeper.Sleeper
	logger      *slog.Logger
}

func New(cfg config.SchedulerConfig, workerQueue string, store Store, bus Publisher, slp *sleeper.Sleeper, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		cfg:         cfg,
		workerQueue: workerQueue,
		store:       store,
		bus:         bus,
		sleeper:     slp,
		logger:      logger,
	}
}

// Run performs one dispatch pass. A publish failure stops the loop instead of
// retrying: the unpublished remainder still satisfies the due-URL predicate
// and will be picked up by the next invocation, whereas retrying here would
// risk double-dispatching on a flaky broker.
func (s *Scheduler) Run(ctx context.Context) error {
	s.sleeper.Sleep(ctx, s.cfg.SleepHours)
	if ctx.Err() != nil {
		s.logger.Info("run interrupted before dispatch")
		return nil
	}

	urls, err := s.store.ListDue(ctx, s.cfg.AccessDayDifference)
	if err != nil {
		// A signal landing mid-query is still the normal end of a run.
		if ctx.Err() != nil {
			s.logger.Info("run interrupted during due-url query")
			return nil
		}
		return err
	}
	s.logger.Info("due urls queried", "count", len(urls), "window_days", s.cfg.AccessDayDifference)

	published := 0
	for _, u := range urls {
		if ctx.Err() != nil {
			break
		}
		if err := s.bus.Publish(ctx, s.workerQueue, []byte(u), "text/plain"); err != nil {
			s.logger.Error("publish failed, stopping run", "url", u, "error", err)
			break
		}
		published++
	}

	s.logger.Info("scheduler run complete", "published", published, "due", len(urls))
	return nil
}
