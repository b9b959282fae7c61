// Package retry implements the retry and dead-letter manager: bounded
// exponential backoff for transient failures and terminal routing for
// everything else. Retry state rides in the task payload (retry_count), so
// it survives process restarts.
package retry

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/pricesense/price-crawler/internal/core"
	"github.com/pricesense/price-crawler/internal/metrics"
)

// Config controls retry behavior.
type Config struct {
	// MaxRetries bounds requeues per task.
	MaxRetries int
	// BackoffBase is doubled per retry: base * 2^retry_count.
	BackoffBase time.Duration
	// BackoffMax caps the pre-multiplier backoff.
	BackoffMax time.Duration
	// BlockedMultiplier enlarges backoff after anti-bot detection to avoid
	// compounding detection risk. Applied after the cap so Blocked delays
	// stay strictly above other transient delays at the same retry count.
	BlockedMultiplier int
}

// Manager routes failed tasks to requeue or the dead-letter channel.
type Manager struct {
	queue     core.TaskQueue
	publisher core.Publisher
	clock     core.Clock
	cfg       Config
	logger    *zap.Logger

	wg       sync.WaitGroup
	stop     chan struct{}
	stopOnce sync.Once
}

// New constructs a Manager.
func New(queue core.TaskQueue, publisher core.Publisher, clock core.Clock, cfg Config, logger *zap.Logger) *Manager {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = time.Minute
	}
	if cfg.BackoffMax <= 0 {
		cfg.BackoffMax = 15 * time.Minute
	}
	if cfg.BlockedMultiplier <= 0 {
		cfg.BlockedMultiplier = 3
	}
	return &Manager{
		queue:     queue,
		publisher: publisher,
		clock:     clock,
		cfg:       cfg,
		logger:    logger,
		stop:      make(chan struct{}),
	}
}

// Backoff computes the delay before requeueing a task that has already
// failed retryCount times. Deterministic so successive delays for one task
// are non-decreasing.
func (m *Manager) Backoff(cause error, retryCount int) time.Duration {
	delay := m.cfg.BackoffBase << uint(retryCount)
	if delay > m.cfg.BackoffMax {
		delay = m.cfg.BackoffMax
	}
	if core.CodeFor(cause) == core.CodeBlocked {
		delay *= time.Duration(m.cfg.BlockedMultiplier)
	}
	return delay
}

// Handle applies the retry state machine to a failed task. Retryable causes
// with budget left requeue at the same priority after backoff; everything
// else transitions to dead. The per-attempt crawl log is the caller's
// responsibility; Handle owns events and dead letters.
func (m *Manager) Handle(ctx context.Context, task core.Task, cause error) {
	if core.Retryable(cause) && task.RetryCount < m.cfg.MaxRetries {
		m.requeue(ctx, task, cause)
		return
	}
	m.bury(ctx, task, cause)
}

func (m *Manager) requeue(ctx context.Context, task core.Task, cause error) {
	delay := m.Backoff(cause, task.RetryCount)
	task.RetryCount++
	task.State = core.TaskStateRetrying
	task.LastError = cause.Error()
	retryAt := m.clock.Now().Add(delay)
	task.RetryAt = &retryAt

	metrics.ObserveRetry(string(core.CodeFor(cause)))
	m.logger.Info("task scheduled for retry",
		zap.String("task_id", task.TaskID.String()),
		zap.Int("retry_count", task.RetryCount),
		zap.Duration("backoff", delay),
		zap.String("code", string(core.CodeFor(cause))),
	)

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
		case <-m.stop:
			// Requeue immediately on shutdown; a delay held only in process
			// memory would otherwise lose the task with the process.
		case <-timer.C:
		}
		requeueCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		if err := m.queue.Requeue(requeueCtx, task); err != nil {
			m.logger.Error("requeue failed, task lost to the producer's visibility timeout",
				zap.String("task_id", task.TaskID.String()),
				zap.Error(err),
			)
		}
	}()
}

func (m *Manager) bury(ctx context.Context, task core.Task, cause error) {
	task.State = core.TaskStateDead
	task.LastError = cause.Error()
	now := m.clock.Now()

	letter := core.DeadLetter{
		Task:       task,
		FinalError: cause.Error(),
		ErrorCode:  core.CodeFor(cause),
		FailedAt:   now,
	}
	if err := m.queue.PushDeadLetter(ctx, letter); err != nil {
		m.logger.Error("dead letter push failed",
			zap.String("task_id", task.TaskID.String()),
			zap.Error(err),
		)
	}
	metrics.ObserveDeadLetter(string(letter.ErrorCode))

	// Permanent failures notify the result channel; exhausted tasks are
	// visible on the dead-letter channel instead.
	if !core.Retryable(cause) {
		event := core.NewFailureEvent(task, cause, now)
		if _, err := m.publisher.Publish(ctx, event); err != nil {
			m.logger.Error("failure event publish failed",
				zap.String("task_id", task.TaskID.String()),
				zap.Error(err),
			)
		}
	}

	m.logger.Warn("task dead-lettered",
		zap.String("task_id", task.TaskID.String()),
		zap.String("code", string(letter.ErrorCode)),
		zap.Int("retry_count", task.RetryCount),
	)
}

// Drain cancels remaining backoff delays and waits for the scheduled
// requeues to land, used during shutdown. Tasks go back on the queue
// immediately rather than waiting out delays that only exist in memory.
func (m *Manager) Drain() {
	m.stopOnce.Do(func() { close(m.stop) })
	m.wg.Wait()
}
