package postgres

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/pricesense/price-crawler/internal/core"
	"github.com/pricesense/price-crawler/internal/metrics"
)

// BatcherConfig controls flush triggers and the batch's own retry loop.
type BatcherConfig struct {
	// MaxItems triggers a flush when the accumulator reaches this size.
	MaxItems int
	// FlushInterval triggers a flush for a non-empty accumulator even when
	// MaxItems is not reached.
	FlushInterval time.Duration
	// MaxAttempts bounds how often a failing batch is retried as a unit.
	MaxAttempts int
	// RetryDelay is the linear backoff step between batch attempts.
	RetryDelay time.Duration
}

// Batcher accumulates pending writes and flushes them in atomic batches.
// After a flush, OnCommit runs per write; after retries are exhausted,
// OnFail runs per write so each task gets its own retry decision instead of
// the batch failing silently.
type Batcher struct {
	store  *Store
	cfg    BatcherConfig
	logger *zap.Logger

	OnCommit func(write core.PendingWrite)
	OnFail   func(write core.PendingWrite, err error)

	mu      sync.Mutex
	pending []core.PendingWrite
	kick    chan struct{}
}

// NewBatcher constructs a Batcher over the store.
func NewBatcher(store *Store, cfg BatcherConfig, logger *zap.Logger) *Batcher {
	if cfg.MaxItems <= 0 {
		cfg.MaxItems = 100
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 5 * time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 500 * time.Millisecond
	}
	return &Batcher{
		store:  store,
		cfg:    cfg,
		logger: logger,
		kick:   make(chan struct{}, 1),
	}
}

// Add queues a write for the next flush. Never blocks on the database.
func (b *Batcher) Add(ctx context.Context, write core.PendingWrite) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("batch add canceled: %w", err)
	}
	b.mu.Lock()
	b.pending = append(b.pending, write)
	full := len(b.pending) >= b.cfg.MaxItems
	b.mu.Unlock()

	if full {
		select {
		case b.kick <- struct{}{}:
		default:
		}
	}
	return nil
}

// Run drives interval and size-triggered flushes until the context ends,
// then drains whatever is still pending.
func (b *Batcher) Run(ctx context.Context) {
	ticker := time.NewTicker(b.cfg.FlushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			// Final drain gets its own deadline; the worker context is
			// already gone.
			drainCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
			b.flush(drainCtx)
			cancel()
			return
		case <-ticker.C:
			b.flush(ctx)
		case <-b.kick:
			b.flush(ctx)
		}
	}
}

func (b *Batcher) take() []core.PendingWrite {
	b.mu.Lock()
	defer b.mu.Unlock()
	writes := b.pending
	b.pending = nil
	return writes
}

// Pending reports the accumulator size, for the ops surface and tests.
func (b *Batcher) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

func (b *Batcher) flush(ctx context.Context) {
	writes := b.take()
	if len(writes) == 0 {
		return
	}

	var err error
	for attempt := 1; attempt <= b.cfg.MaxAttempts; attempt++ {
		err = b.store.FlushBatch(ctx, writes)
		if err == nil {
			metrics.ObserveBatchFlush(len(writes))
			b.logger.Debug("batch committed", zap.Int("size", len(writes)))
			if b.OnCommit != nil {
				for _, w := range writes {
					b.OnCommit(w)
				}
			}
			return
		}
		b.logger.Warn("batch flush failed",
			zap.Int("attempt", attempt),
			zap.Int("size", len(writes)),
			zap.Error(err),
		)
		if attempt < b.cfg.MaxAttempts {
			timer := time.NewTimer(time.Duration(attempt) * b.cfg.RetryDelay)
			select {
			case <-ctx.Done():
				timer.Stop()
			case <-timer.C:
				timer.Stop()
				continue
			}
		}
		break
	}

	metrics.ObserveBatchFailure()
	cause := fmt.Errorf("batch of %d: %v: %w", len(writes), err, core.ErrPersistence)
	if b.OnFail != nil {
		for _, w := range writes {
			b.OnFail(w, cause)
		}
	}
}
