// Package ratelimit enforces minimum inter-request spacing per platform.
// The next-allowed timestamp lives in Redis so the limit is aggregate
// across every worker and process hitting a platform.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/pricesense/price-crawler/internal/core"
	"github.com/pricesense/price-crawler/internal/metrics"
)

// reserveScript atomically reads the platform's next-allowed timestamp,
// reserves a slot by advancing it, and returns how long the caller must
// wait for its slot. Keys expire once the backlog drains so idle platforms
// leave no state behind.
var reserveScript = redis.NewScript(`
local next = tonumber(redis.call('GET', KEYS[1]) or '0')
local now = tonumber(ARGV[1])
local delay = tonumber(ARGV[2])
if next < now then
  next = now
end
redis.call('SET', KEYS[1], next + delay, 'PX', next + 2 * delay - now)
return next - now
`)

// DelayFunc returns the configured spacing for a platform.
type DelayFunc func(platform core.Platform) time.Duration

// Limiter implements core.RateLimiter on shared Redis state.
type Limiter struct {
	client    *redis.Client
	keyPrefix string
	delay     DelayFunc
}

// New creates a Limiter. delay must never return a value below one second;
// platform courtesy limits do not go faster than 1 req/s.
func New(client *redis.Client, keyPrefix string, delay DelayFunc) *Limiter {
	if keyPrefix == "" {
		keyPrefix = "pricesense:rate"
	}
	return &Limiter{client: client, keyPrefix: keyPrefix, delay: delay}
}

// Acquire blocks the calling task until its reserved slot arrives. Only the
// caller waits; tasks for other platforms proceed unaffected. A canceled
// context abandons the slot, which simply lapses.
func (l *Limiter) Acquire(ctx context.Context, platform core.Platform) error {
	delay := l.delay(platform)
	if delay < time.Second {
		delay = time.Second
	}
	key := fmt.Sprintf("%s:%s", l.keyPrefix, platform)
	now := time.Now()

	waitMs, err := reserveScript.Run(ctx, l.client, []string{key},
		now.UnixMilli(), delay.Milliseconds()).Int64()
	if err != nil {
		return fmt.Errorf("reserve rate slot: %w", err)
	}
	if waitMs <= 0 {
		return nil
	}

	wait := time.Duration(waitMs) * time.Millisecond
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("rate limit wait: %w", ctx.Err())
	case <-timer.C:
	}
	metrics.ObserveRateLimitDelay(string(platform), wait)
	return nil
}
