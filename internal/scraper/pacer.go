package scraper

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/redis/go-redis/v9"
)

var slidingWindowScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])

redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window)
local count = redis.call('ZCARD', key)

if count < limit then
    redis.call('ZADD', key, now, now .. '-' .. math.random(1000000))
    redis.call('EXPIRE', key, math.ceil(window / 1000))
    return 1
end
return 0
`)

// Pacer spreads requests to one onion service over time. The window lives in
// redis so every worker replica shares the same budget per domain.
type Pacer struct {
	client *redis.Client
}

func NewPacer(client *redis.Client) *Pacer {
	return &Pacer{client: client}
}

// Allow reports whether a request to the domain fits the sliding window.
// windowMs is the window size in milliseconds, limit the number of requests
// allowed inside it.
func (p *Pacer) Allow(ctx context.Context, domain string, windowMs, limit int) (bool, error) {
	key := fmt.Sprintf("pace:%s", domain)
	now := time.Now().UnixMilli()

	result, err := slidingWindowScript.Run(ctx, p.client, []string{key}, now, windowMs, limit).Int()
	if err != nil {
		return false, fmt.Errorf("pacing script: %w", err)
	}

	return result == 1, nil
}

// Wait blocks until the domain's window has room, sleeping with jitter so
// workers stuck behind the same domain don't thunder in lockstep.
func (p *Pacer) Wait(ctx context.Context, domain string, crawlDelayMs int) error {
	for {
		allowed, err := p.Allow(ctx, domain, crawlDelayMs, 1)
		if err != nil {
			return err
		}
		if allowed {
			return nil
		}

		jitter := time.Duration(float64(crawlDelayMs)*0.5*rand.Float64()) * time.Millisecond
		wait := time.Duration(crawlDelayMs)*time.Millisecond/2 + jitter

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}
