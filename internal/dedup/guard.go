// Package dedup suppresses redundant observation writes per product inside
// a trailing window. The window claim is a single SET NX PX, so the
// check-then-act is atomic across workers and processes.
package dedup

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Guard implements core.DedupGuard on Redis.
type Guard struct {
	client    *redis.Client
	keyPrefix string
	window    time.Duration
}

// New creates a Guard with the given suppression window.
func New(client *redis.Client, keyPrefix string, window time.Duration) *Guard {
	if keyPrefix == "" {
		keyPrefix = "pricesense:dedup"
	}
	if window <= 0 {
		window = 10 * time.Minute
	}
	return &Guard{client: client, keyPrefix: keyPrefix, window: window}
}

func (g *Guard) key(productID int64) string {
	return fmt.Sprintf("%s:%d", g.keyPrefix, productID)
}

// ShouldPersist claims the product's dedup window. It returns true when no
// write happened inside the window; the claim and the check are one atomic
// SET NX, so exactly one of any number of concurrent callers wins. A losing
// call leaves the existing entry's timestamp untouched.
func (g *Guard) ShouldPersist(ctx context.Context, productID int64, now time.Time) (bool, error) {
	ok, err := g.client.SetNX(ctx, g.key(productID), now.UnixMilli(), g.window).Result()
	if err != nil {
		return false, fmt.Errorf("claim dedup window: %w", err)
	}
	return ok, nil
}

// Release drops the product's window claim. The claim marks a durable
// write; when the batch carrying that write rolls back, the claim must go
// with it or the task's own retry gets suppressed.
func (g *Guard) Release(ctx context.Context, productID int64) error {
	if err := g.client.Del(ctx, g.key(productID)).Err(); err != nil {
		return fmt.Errorf("release dedup window: %w", err)
	}
	return nil
}

// LastRecorded reports the timestamp of the current window claim, if any.
// Used by the ops surface; the pipeline itself only needs ShouldPersist.
func (g *Guard) LastRecorded(ctx context.Context, productID int64) (time.Time, bool, error) {
	ms, err := g.client.Get(ctx, g.key(productID)).Int64()
	if err == redis.Nil {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("read dedup entry: %w", err)
	}
	return time.UnixMilli(ms), true, nil
}
