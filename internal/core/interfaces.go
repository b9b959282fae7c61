package core

import (
	"context"
	"time"
)

// TaskQueue provides intake, requeue and dead-letter semantics over the
// shared work queue.
type TaskQueue interface {
	// Enqueue pushes a task onto the queue matching its priority.
	Enqueue(ctx context.Context, task Task) error
	// Dequeue blocks until a task is available or the context ends,
	// draining the high-priority queue strictly before normal.
	Dequeue(ctx context.Context) (Task, error)
	// Requeue puts a task back at the same priority after a retryable
	// failure.
	Requeue(ctx context.Context, task Task) error
	// PushDeadLetter moves a terminally failed task to the dead-letter
	// channel.
	PushDeadLetter(ctx context.Context, letter DeadLetter) error
	// Stats returns current queue depths.
	Stats(ctx context.Context) (QueueStats, error)
}

// Extractor is the per-platform extraction capability. Implementations live
// outside the orchestration core and are registered by platform.
type Extractor interface {
	Extract(ctx context.Context, url string) (RawExtraction, error)
}

// Publisher pushes completion and failure events to the result channel.
type Publisher interface {
	Publish(ctx context.Context, payload any) (string, error)
}

// RateLimiter enforces minimum inter-request spacing per platform. The
// backing state is shared across all workers and processes.
type RateLimiter interface {
	// Acquire blocks the calling task until its reserved slot arrives,
	// then advances the platform's next-allowed timestamp.
	Acquire(ctx context.Context, platform Platform) error
}

// DedupGuard suppresses redundant writes for a product inside the trailing
// dedup window. The check-then-act is atomic per product across workers.
type DedupGuard interface {
	// ShouldPersist returns true when no write happened for the product
	// within the window, claiming the window as a side effect.
	ShouldPersist(ctx context.Context, productID int64, now time.Time) (bool, error)
	// Release drops the product's window claim. Called when the claimed
	// write never became durable, so the retry is not suppressed by its
	// own failed attempt.
	Release(ctx context.Context, productID int64) error
}

// Batcher accumulates validated writes for atomic batched persistence.
type Batcher interface {
	Add(ctx context.Context, write PendingWrite) error
}

// LogStore writes single crawl log rows outside the batch path, used for
// partial and failed attempts so log visibility is not coupled to batching.
type LogStore interface {
	InsertLog(ctx context.Context, entry CrawlLogEntry) error
}

// Clock returns the current time (swap out for tests).
type Clock interface {
	Now() time.Time
}
