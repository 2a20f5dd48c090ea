// Package sleeper enforces a minimum spacing between scheduler runs that
// survives container restarts: the last completion time lives in a file, and
// a fresh run stalls until the configured number of hours has passed since
// that timestamp.
package sleeper

import (
	"context"
	"log/slog"
	"os"
	"strings"
	"time"
)

const (
	// timeLayout matches the historical on-disk format, e.g.
	// "2022-Jun-03 14:05:59".
	timeLayout   = "2006-Jan-02 15:04:05"
	pollInterval = 500 * time.Millisecond
)

// DefaultPath is where scheduler containers keep the timestamp file.
const DefaultPath = "sleeper.txt"

type Sleeper struct {
	path   string
	logger *slog.Logger
}

func New(path string, logger *slog.Logger) *Sleeper {
	return &Sleeper{path: path, logger: logger}
}

// Sleep stalls until the given number of hours has passed since the last
// recorded completion, polling in 500 ms slices so ctx cancellation is
// honored promptly. The wait is anchored to the last completion, not the last
// start: a crash mid-sleep does not reset the clock. On return (including
// cancellation) the current time is persisted as the new anchor.
func (s *Sleeper) Sleep(ctx context.Context, hours int) {
	if hours < 0 {
		hours = 0
	}

	if last, ok := s.readLast(); ok && hours > 0 {
		s.wait(ctx, last.Add(time.Duration(hours)*time.Hour))
	}

	s.writeNow()
}

func (s *Sleeper) wait(ctx context.Context, target time.Time) {
	for {
		remaining := time.Until(target)
		if remaining <= 0 {
			return
		}
		slice := pollInterval
		if remaining < slice {
			slice = remaining
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(slice):
		}
	}
}

// readLast parses the timestamp file. A missing or malformed file means this
// is a first-ever run and no wait is needed.
func (s *Sleeper) readLast() (time.Time, bool) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return time.Time{}, false
	}
	last, err := time.ParseInLocation(timeLayout, strings.TrimSpace(string(data)), time.Local)
	if err != nil {
		s.logger.Warn("malformed sleeper timestamp, ignoring", "path", s.path, "error", err)
		return time.Time{}, false
	}
	return last, true
}

func (s *Sleeper) writeNow() {
	stamp := time.Now().Format(timeLayout)
	if err := os.WriteFile(s.path, []byte(stamp), 0o644); err != nil {
		s.logger.Warn("failed to persist sleeper timestamp", "path", s.path, "error", err)
	}
}
