package worker

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/pricesense/price-crawler/internal/core"
	memorypublisher "github.com/pricesense/price-crawler/internal/publisher/memory"
	queueMemory "github.com/pricesense/price-crawler/internal/queue/memory"
	"github.com/pricesense/price-crawler/internal/retry"
	"github.com/pricesense/price-crawler/internal/validate"
)

type fakeClock struct{ now time.Time }

func (c fakeClock) Now() time.Time { return c.now }

type fakeLimiter struct {
	mu       sync.Mutex
	acquires []core.Platform
	err      error
}

func (l *fakeLimiter) Acquire(_ context.Context, platform core.Platform) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return l.err
	}
	l.acquires = append(l.acquires, platform)
	return nil
}

// fakeRunner returns its scripted outcomes in order, repeating the last one.
type fakeRunner struct {
	mu    sync.Mutex
	raws  []core.RawExtraction
	errs  []error
	calls int
}

func (r *fakeRunner) Run(context.Context, core.Platform, string, time.Duration) (core.RawExtraction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	idx := r.calls
	if idx >= len(r.errs) {
		idx = len(r.errs) - 1
	}
	r.calls++
	return r.raws[idx], r.errs[idx]
}

type fakeDedup struct {
	mu       sync.Mutex
	persist  bool
	err      error
	released []int64
}

func (d *fakeDedup) ShouldPersist(context.Context, int64, time.Time) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.persist, d.err
}

func (d *fakeDedup) Release(_ context.Context, productID int64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.released = append(d.released, productID)
	return nil
}

func (d *fakeDedup) releasedSnapshot() []int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]int64, len(d.released))
	copy(out, d.released)
	return out
}

type fakeBatcher struct {
	mu     sync.Mutex
	writes []core.PendingWrite
	err    error
}

func (b *fakeBatcher) Add(_ context.Context, write core.PendingWrite) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err != nil {
		return b.err
	}
	b.writes = append(b.writes, write)
	return nil
}

func (b *fakeBatcher) snapshot() []core.PendingWrite {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]core.PendingWrite, len(b.writes))
	copy(out, b.writes)
	return out
}

type fakeLogStore struct {
	mu      sync.Mutex
	entries []core.CrawlLogEntry
}

func (s *fakeLogStore) InsertLog(_ context.Context, entry core.CrawlLogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, entry)
	return nil
}

func (s *fakeLogStore) snapshot() []core.CrawlLogEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]core.CrawlLogEntry, len(s.entries))
	copy(out, s.entries)
	return out
}

type pipeline struct {
	queue     *queueMemory.Queue
	publisher *memorypublisher.Publisher
	batcher   *fakeBatcher
	logs      *fakeLogStore
	retrier   *retry.Manager
	reporter  *Reporter
	worker    *Worker
}

func newPipeline(t *testing.T, runner *fakeRunner, dedup *fakeDedup) *pipeline {
	t.Helper()
	queue := queueMemory.NewQueue(16)
	publisher := memorypublisher.New()
	batcher := &fakeBatcher{}
	logs := &fakeLogStore{}
	clock := fakeClock{now: time.Unix(1_700_000_000, 0).UTC()}

	retrier := retry.New(queue, publisher, clock, retry.Config{
		MaxRetries:  3,
		BackoffBase: time.Millisecond,
		BackoffMax:  2 * time.Millisecond,
	}, zap.NewNop())
	reporter := NewReporter(publisher, logs, retrier, dedup, clock, zap.NewNop())

	w := New(
		queue,
		&fakeLimiter{},
		runner,
		validate.New(0.70),
		dedup,
		batcher,
		retrier,
		reporter,
		clock,
		Config{ExtractTimeout: time.Second},
		zap.NewNop(),
	)
	return &pipeline{
		queue:     queue,
		publisher: publisher,
		batcher:   batcher,
		logs:      logs,
		retrier:   retrier,
		reporter:  reporter,
		worker:    w,
	}
}

func goodExtraction() core.RawExtraction {
	name := "Apple AirPods Pro 2"
	price := 299000.0
	stock := "available"
	image := "https://img.example.com/airpods.jpg"
	return core.RawExtraction{
		Name:        &name,
		Price:       &price,
		StockStatus: &stock,
		ImageURL:    &image,
	}
}

func newPipelineTask() core.Task {
	return core.Task{
		TaskID:    uuid.New(),
		ProductID: 42,
		URL:       "https://www.coupang.com/vp/products/42",
		Platform:  core.PlatformCoupang,
		Priority:  core.PriorityNormal,
	}
}

func TestWorker_SuccessFlowBatchesThenPublishes(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{
		raws: []core.RawExtraction{goodExtraction()},
		errs: []error{nil},
	}
	p := newPipeline(t, runner, &fakeDedup{persist: true})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, p.queue.Enqueue(ctx, newPipelineTask()))
	go p.worker.Run(ctx)

	require.Eventually(t, func() bool {
		return len(p.batcher.snapshot()) == 1
	}, time.Second, 10*time.Millisecond)

	writes := p.batcher.snapshot()
	require.InDelta(t, 299000.0, writes[0].Observation.Price, 0.001)
	require.Equal(t, core.LogStatusSuccess, writes[0].Log.Status)
	// No completion event until the batch commits.
	require.Empty(t, p.publisher.Messages())

	p.reporter.BatchCommitted(writes[0])
	msgs := p.publisher.Messages()
	require.Len(t, msgs, 1)
	event, ok := msgs[0].(core.CompletionEvent)
	require.True(t, ok)
	require.Equal(t, core.EventStatusSuccess, event.Status)
	require.False(t, event.Deduplicated)
	require.InDelta(t, 299000.0, event.Data.Price, 0.001)
}

func TestWorker_TransientFailureRetriesThenSucceeds(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{
		raws: []core.RawExtraction{{}, {}, goodExtraction()},
		errs: []error{
			fmt.Errorf("fetch: %w", core.ErrTimeout),
			fmt.Errorf("fetch: %w", core.ErrTimeout),
			nil,
		},
	}
	p := newPipeline(t, runner, &fakeDedup{persist: true})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, p.queue.Enqueue(ctx, newPipelineTask()))
	go p.worker.Run(ctx)

	require.Eventually(t, func() bool {
		return len(p.batcher.snapshot()) == 1
	}, 2*time.Second, 10*time.Millisecond)

	writes := p.batcher.snapshot()
	require.Equal(t, 2, writes[0].Task.RetryCount)
	require.Empty(t, p.queue.DeadLetters())

	// Two failed attempts logged before the successful one.
	var failed int
	for _, entry := range p.logs.snapshot() {
		if entry.Status == core.LogStatusFailed {
			failed++
		}
	}
	require.Equal(t, 2, failed)
}

func TestWorker_PermanentFailureDeadLettersWithoutRetry(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{
		raws: []core.RawExtraction{{}},
		errs: []error{fmt.Errorf("status 404: %w", core.ErrNotFound)},
	}
	p := newPipeline(t, runner, &fakeDedup{persist: true})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	task := newPipelineTask()
	require.NoError(t, p.queue.Enqueue(ctx, task))
	go p.worker.Run(ctx)

	require.Eventually(t, func() bool {
		return len(p.queue.DeadLetters()) == 1
	}, time.Second, 10*time.Millisecond)

	letters := p.queue.DeadLetters()
	require.Equal(t, core.CodeNotFound, letters[0].ErrorCode)
	require.Zero(t, letters[0].Task.RetryCount)

	msgs := p.publisher.Messages()
	require.Len(t, msgs, 1)
	event, ok := msgs[0].(core.FailureEvent)
	require.True(t, ok)
	require.Equal(t, core.CodeNotFound, event.ErrorCode)
	require.Equal(t, task.TaskID, event.TaskID)
	require.Empty(t, p.batcher.snapshot())
}

func TestWorker_LowConfidenceLogsPartialAndDeadLetters(t *testing.T) {
	t.Parallel()

	// Price only: enough penalties accumulate to land under the gate.
	price := 19999.0
	runner := &fakeRunner{
		raws: []core.RawExtraction{{Price: &price}},
		errs: []error{nil},
	}
	p := newPipeline(t, runner, &fakeDedup{persist: true})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, p.queue.Enqueue(ctx, newPipelineTask()))
	go p.worker.Run(ctx)

	require.Eventually(t, func() bool {
		return len(p.queue.DeadLetters()) == 1
	}, time.Second, 10*time.Millisecond)

	entries := p.logs.snapshot()
	require.Len(t, entries, 1)
	require.Equal(t, core.LogStatusPartial, entries[0].Status)
	require.Empty(t, p.batcher.snapshot())
}

func TestWorker_DedupSuppressedStillSucceeds(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{
		raws: []core.RawExtraction{goodExtraction()},
		errs: []error{nil},
	}
	p := newPipeline(t, runner, &fakeDedup{persist: false})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, p.queue.Enqueue(ctx, newPipelineTask()))
	go p.worker.Run(ctx)

	require.Eventually(t, func() bool {
		return len(p.publisher.Messages()) == 1
	}, time.Second, 10*time.Millisecond)

	msgs := p.publisher.Messages()
	event, ok := msgs[0].(core.CompletionEvent)
	require.True(t, ok)
	require.Equal(t, core.EventStatusSuccess, event.Status)
	require.True(t, event.Deduplicated)
	// The write was suppressed; the attempt's log row still landed.
	require.Empty(t, p.batcher.snapshot())
	entries := p.logs.snapshot()
	require.Len(t, entries, 1)
	require.Equal(t, core.LogStatusSuccess, entries[0].Status)
	require.Empty(t, p.queue.DeadLetters())
}

func TestWorker_BatchFailureGetsRetryDecision(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{
		raws: []core.RawExtraction{goodExtraction()},
		errs: []error{nil},
	}
	dedup := &fakeDedup{persist: true}
	p := newPipeline(t, runner, dedup)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, p.queue.Enqueue(ctx, newPipelineTask()))
	go p.worker.Run(ctx)

	require.Eventually(t, func() bool {
		return len(p.batcher.snapshot()) == 1
	}, time.Second, 10*time.Millisecond)
	cancel()

	write := p.batcher.snapshot()[0]
	cause := fmt.Errorf("batch of 1: connection refused: %w", core.ErrPersistence)
	p.reporter.BatchFailed(write, cause)
	p.retrier.Drain()

	// The rolled-back write's dedup claim is released, so the retry's
	// own persistence attempt is not suppressed as a duplicate.
	require.Equal(t, []int64{write.Task.ProductID}, dedup.releasedSnapshot())

	// Persistence failures are transient; the task goes back on the queue.
	requeueCtx, requeueCancel := context.WithTimeout(context.Background(), time.Second)
	defer requeueCancel()
	got, err := p.queue.Dequeue(requeueCtx)
	require.NoError(t, err)
	require.Equal(t, write.Task.TaskID, got.TaskID)
	require.Equal(t, 1, got.RetryCount)
}
