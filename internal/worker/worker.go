// Package worker implements the queue handler: the loop that turns an
// inbound task into a validated, deduplicated, durably recorded observation
// or a terminal failure.
package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/pricesense/price-crawler/internal/core"
	"github.com/pricesense/price-crawler/internal/metrics"
)

// ExtractorRunner dispatches extraction for a platform under the hard
// timeout. Implemented by extract.Registry.
type ExtractorRunner interface {
	Run(ctx context.Context, platform core.Platform, url string, timeout time.Duration) (core.RawExtraction, error)
}

// Validator scores a raw extraction. Implemented by validate.Validator.
type Validator interface {
	Validate(productID int64, raw core.RawExtraction, now time.Time) (core.Observation, error)
}

// FailureHandler applies the retry state machine to a failed task.
// Implemented by retry.Manager.
type FailureHandler interface {
	Handle(ctx context.Context, task core.Task, cause error)
}

// Config controls Worker behavior.
type Config struct {
	ExtractTimeout time.Duration
}

// Worker consumes queue tasks and executes the crawl pipeline. Each worker
// runs one task at a time, start to finish; concurrency comes from running
// several workers over the same queue.
type Worker struct {
	queue      core.TaskQueue
	limiter    core.RateLimiter
	extractors ExtractorRunner
	validator  Validator
	dedup      core.DedupGuard
	batcher    core.Batcher
	retrier    FailureHandler
	reporter   *Reporter
	clock      core.Clock
	cfg        Config
	logger     *zap.Logger
}

// New constructs a Worker.
func New(
	queue core.TaskQueue,
	limiter core.RateLimiter,
	extractors ExtractorRunner,
	validator Validator,
	dedup core.DedupGuard,
	batcher core.Batcher,
	retrier FailureHandler,
	reporter *Reporter,
	clock core.Clock,
	cfg Config,
	logger *zap.Logger,
) *Worker {
	if cfg.ExtractTimeout <= 0 {
		cfg.ExtractTimeout = 30 * time.Second
	}
	return &Worker{
		queue:      queue,
		limiter:    limiter,
		extractors: extractors,
		validator:  validator,
		dedup:      dedup,
		batcher:    batcher,
		retrier:    retrier,
		reporter:   reporter,
		clock:      clock,
		cfg:        cfg,
		logger:     logger,
	}
}

// Run blocks, consuming tasks until the context finishes. Shutdown only
// suppresses further dequeues; the task in flight always runs to
// completion.
func (w *Worker) Run(ctx context.Context) {
	for {
		task, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.logger.Error("queue dequeue failed", zap.Error(err))
			continue
		}
		w.logger.Debug("dequeued task",
			zap.String("task_id", task.TaskID.String()),
			zap.String("platform", string(task.Platform)),
			zap.String("priority", string(task.Priority)),
		)
		w.processTask(context.WithoutCancel(ctx), task)
	}
}

func (w *Worker) processTask(ctx context.Context, task core.Task) {
	metrics.WorkerStarted()
	defer metrics.WorkerStopped()

	start := w.clock.Now()
	task.State = core.TaskStateInFlight

	if err := w.limiter.Acquire(ctx, task.Platform); err != nil {
		w.failAttempt(ctx, task, fmt.Errorf("rate limiter: %w", err), start)
		return
	}

	raw, err := w.extractors.Run(ctx, task.Platform, task.URL, w.cfg.ExtractTimeout)
	if err != nil {
		w.failAttempt(ctx, task, err, start)
		return
	}

	now := w.clock.Now()
	obs, err := w.validator.Validate(task.ProductID, raw, now)
	if err != nil {
		if errors.Is(err, core.ErrLowConfidence) {
			w.partialAttempt(ctx, task, err, start)
			return
		}
		w.failAttempt(ctx, task, err, start)
		return
	}

	persist, err := w.dedup.ShouldPersist(ctx, task.ProductID, now)
	if err != nil {
		w.failAttempt(ctx, task, fmt.Errorf("dedup guard: %w", err), start)
		return
	}

	execMS := w.clock.Now().Sub(start).Milliseconds()
	entry := core.CrawlLogEntry{
		ProductID:       task.ProductID,
		Platform:        task.Platform,
		Status:          core.LogStatusSuccess,
		ExecutionTimeMS: execMS,
		CreatedAt:       w.clock.Now(),
	}

	if !persist {
		// The data was validly extracted; dedup is a storage optimization,
		// so the task still succeeds.
		metrics.ObserveDedupSuppressed()
		w.reporter.WriteLog(ctx, entry)
		w.reporter.ReportSuccess(ctx, task, obs, execMS, true)
		metrics.ObserveTask(string(task.Platform), "success", time.Duration(execMS)*time.Millisecond)
		return
	}

	if err := w.batcher.Add(ctx, core.PendingWrite{Task: task, Observation: obs, Log: entry}); err != nil {
		w.failAttempt(ctx, task, fmt.Errorf("batch add: %v: %w", err, core.ErrPersistence), start)
		return
	}
	// The completion event follows once the batch commits; see
	// Reporter.BatchCommitted.
}

// failAttempt records the attempt's log row and hands the task to the
// retry manager.
func (w *Worker) failAttempt(ctx context.Context, task core.Task, cause error, start time.Time) {
	elapsed := w.clock.Now().Sub(start)
	w.reporter.WriteLog(ctx, core.CrawlLogEntry{
		ProductID:       task.ProductID,
		Platform:        task.Platform,
		Status:          core.LogStatusFailed,
		ErrorMessage:    cause.Error(),
		ExecutionTimeMS: elapsed.Milliseconds(),
		CreatedAt:       w.clock.Now(),
	})
	w.logger.Warn("task attempt failed",
		zap.String("task_id", task.TaskID.String()),
		zap.String("code", string(core.CodeFor(cause))),
		zap.Error(cause),
	)
	metrics.ObserveTask(string(task.Platform), "failed", elapsed)
	w.retrier.Handle(ctx, task, cause)
}

// partialAttempt records a below-gate extraction. Terminal: low confidence
// is not a transient condition.
func (w *Worker) partialAttempt(ctx context.Context, task core.Task, cause error, start time.Time) {
	elapsed := w.clock.Now().Sub(start)
	w.reporter.WriteLog(ctx, core.CrawlLogEntry{
		ProductID:       task.ProductID,
		Platform:        task.Platform,
		Status:          core.LogStatusPartial,
		ErrorMessage:    cause.Error(),
		ExecutionTimeMS: elapsed.Milliseconds(),
		CreatedAt:       w.clock.Now(),
	})
	w.logger.Info("task extraction below confidence gate",
		zap.String("task_id", task.TaskID.String()),
		zap.Error(cause),
	)
	metrics.ObserveTask(string(task.Platform), "partial", elapsed)
	w.retrier.Handle(ctx, task, cause)
}
