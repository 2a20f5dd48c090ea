package scraper

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newRobotsChecker(t *testing.T, srv *httptest.Server) (*RobotsChecker, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewRobotsChecker(newProxyFetcher(t, srv), rdb, logger), rdb
}

func TestIsAllowed_DisallowedPath(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("User-agent: *\nDisallow: /private/\n"))
	}))
	defer srv.Close()

	c, _ := newRobotsChecker(t, srv)

	if c.IsAllowed(context.Background(), "http://abc.onion/private/page", "abc.onion") {
		t.Error("disallowed path was allowed")
	}
	if !c.IsAllowed(context.Background(), "http://abc.onion/public", "abc.onion") {
		t.Error("public path was blocked")
	}
}

func TestIsAllowed_MissingRobotsAllows(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c, _ := newRobotsChecker(t, srv)

	if !c.IsAllowed(context.Background(), "http://abc.onion/anything", "abc.onion") {
		t.Error("missing robots.txt should allow")
	}
}

func TestIsAllowed_BodyIsCached(t *testing.T) {
	t.Parallel()
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Write([]byte("User-agent: *\nDisallow: /private/\n"))
	}))
	defer srv.Close()

	c, _ := newRobotsChecker(t, srv)

	for i := 0; i < 3; i++ {
		c.IsAllowed(context.Background(), "http://abc.onion/page", "abc.onion")
	}
	if n := hits.Load(); n != 1 {
		t.Errorf("robots.txt fetched %d times, want 1", n)
	}
}

func TestIsAllowed_NegativeResultIsCached(t *testing.T) {
	t.Parallel()
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c, _ := newRobotsChecker(t, srv)

	for i := 0; i < 3; i++ {
		if !c.IsAllowed(context.Background(), "http://abc.onion/page", "abc.onion") {
			t.Fatal("missing robots.txt should allow")
		}
	}
	if n := hits.Load(); n != 1 {
		t.Errorf("missing robots.txt probed %d times, want 1", n)
	}
}

func TestIsAllowed_RedisDownFailsOpen(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("User-agent: *\nDisallow: /\n"))
	}))
	defer srv.Close()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	c := NewRobotsChecker(newProxyFetcher(t, srv), rdb, logger)
	mr.Close()

	if !c.IsAllowed(context.Background(), "http://abc.onion/page", "abc.onion") {
		t.Error("redis outage should fail open")
	}
}
