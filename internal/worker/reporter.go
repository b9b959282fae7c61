package worker

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/pricesense/price-crawler/internal/core"
	"github.com/pricesense/price-crawler/internal/metrics"
)

// Reporter owns success-side output: completion events and crawl log rows
// written outside the batch. It also provides the batcher's callbacks, so
// completion events for batched observations go out only after their batch
// commits.
type Reporter struct {
	publisher core.Publisher
	logs      core.LogStore
	retrier   FailureHandler
	dedup     core.DedupGuard
	clock     core.Clock
	logger    *zap.Logger
}

// NewReporter constructs a Reporter.
func NewReporter(publisher core.Publisher, logs core.LogStore, retrier FailureHandler, dedup core.DedupGuard, clock core.Clock, logger *zap.Logger) *Reporter {
	return &Reporter{
		publisher: publisher,
		logs:      logs,
		retrier:   retrier,
		dedup:     dedup,
		clock:     clock,
		logger:    logger,
	}
}

// ReportSuccess publishes a completion event.
func (r *Reporter) ReportSuccess(ctx context.Context, task core.Task, obs core.Observation, execMS int64, deduplicated bool) {
	event := core.NewCompletionEvent(task, obs, execMS, deduplicated, r.clock.Now())
	if _, err := r.publisher.Publish(ctx, event); err != nil {
		r.logger.Error("completion event publish failed",
			zap.String("task_id", task.TaskID.String()),
			zap.Error(err),
		)
		return
	}
	r.logger.Info("task completed",
		zap.String("task_id", task.TaskID.String()),
		zap.Int64("product_id", task.ProductID),
		zap.Bool("deduplicated", deduplicated),
		zap.Int64("execution_time_ms", execMS),
	)
}

// WriteLog records a single crawl log row, fire-and-forget: a logging
// failure never changes the task outcome.
func (r *Reporter) WriteLog(ctx context.Context, entry core.CrawlLogEntry) {
	if err := r.logs.InsertLog(ctx, entry); err != nil {
		r.logger.Error("crawl log insert failed",
			zap.Int64("product_id", entry.ProductID),
			zap.String("status", string(entry.Status)),
			zap.Error(err),
		)
	}
}

// BatchCommitted is the batcher's OnCommit hook: the write is durable, so
// the task's completion event goes out now.
func (r *Reporter) BatchCommitted(write core.PendingWrite) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	r.ReportSuccess(ctx, write.Task, write.Observation, write.Log.ExecutionTimeMS, false)
	metrics.ObserveTask(string(write.Task.Platform), "success",
		time.Duration(write.Log.ExecutionTimeMS)*time.Millisecond)
}

// BatchFailed is the batcher's OnFail hook: the batch rolled back, so the
// attempt's success log row never landed. Record the attempt as failed and
// give the task its own retry decision.
func (r *Reporter) BatchFailed(write core.PendingWrite, cause error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	r.WriteLog(ctx, core.CrawlLogEntry{
		ProductID:       write.Task.ProductID,
		Platform:        write.Task.Platform,
		Status:          core.LogStatusFailed,
		ErrorMessage:    cause.Error(),
		ExecutionTimeMS: write.Log.ExecutionTimeMS,
		CreatedAt:       r.clock.Now(),
	})
	// The dedup window was claimed for a write that never became durable.
	// Release it so the retry is not suppressed by its own failed attempt.
	if err := r.dedup.Release(ctx, write.Task.ProductID); err != nil {
		r.logger.Error("dedup window release failed",
			zap.Int64("product_id", write.Task.ProductID),
			zap.Error(err),
		)
	}
	r.retrier.Handle(ctx, write.Task, cause)
}
