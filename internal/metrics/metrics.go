// Package metrics exposes Prometheus collectors for the crawl worker.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	tasksTotal            *prometheus.CounterVec
	taskDurationSeconds   *prometheus.HistogramVec
	retriesTotal          *prometheus.CounterVec
	deadLettersTotal      *prometheus.CounterVec
	rateLimitDelaySeconds *prometheus.HistogramVec
	dedupSuppressedTotal  prometheus.Counter
	batchFlushSize        prometheus.Histogram
	batchFlushFailures    prometheus.Counter
	queueDepth            *prometheus.GaugeVec
	activeWorkers         prometheus.Gauge

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		tasksTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_tasks_total",
				Help: "Total tasks processed, labeled by platform and outcome.",
			},
			[]string{"platform", "outcome"},
		)

		taskDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "crawler_task_duration_seconds",
				Help:    "End-to-end pipeline duration per task, labeled by platform.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"platform"},
		)

		retriesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_retries_total",
				Help: "Total task requeues, labeled by error code.",
			},
			[]string{"code"},
		)

		deadLettersTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_dead_letters_total",
				Help: "Total tasks routed to the dead-letter channel, labeled by error code.",
			},
			[]string{"code"},
		)

		rateLimitDelaySeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "crawler_rate_limit_delay_seconds",
				Help:    "Time tasks spent waiting on the per-platform rate limiter.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"platform"},
		)

		dedupSuppressedTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "crawler_dedup_suppressed_total",
				Help: "Total observation writes suppressed by the dedup guard.",
			},
		)

		batchFlushSize = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "crawler_batch_flush_size",
				Help:    "Number of pending writes per batch flush.",
				Buckets: []float64{1, 5, 10, 25, 50, 100},
			},
		)

		batchFlushFailures = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "crawler_batch_flush_failures_total",
				Help: "Total batch flushes that exhausted their retries.",
			},
		)

		queueDepth = promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "crawler_queue_depth",
				Help: "Current depth of the Redis queues.",
			},
			[]string{"queue"},
		)

		activeWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "crawler_active_workers",
				Help: "Workers currently executing a task.",
			},
		)
	})
}

// ObserveTask records a terminal task outcome and its duration.
func ObserveTask(platform, outcome string, duration time.Duration) {
	if tasksTotal == nil {
		return
	}
	tasksTotal.WithLabelValues(platform, outcome).Inc()
	taskDurationSeconds.WithLabelValues(platform).Observe(duration.Seconds())
}

// ObserveRetry counts a requeue.
func ObserveRetry(code string) {
	if retriesTotal == nil {
		return
	}
	retriesTotal.WithLabelValues(code).Inc()
}

// ObserveDeadLetter counts a dead-letter routing.
func ObserveDeadLetter(code string) {
	if deadLettersTotal == nil {
		return
	}
	deadLettersTotal.WithLabelValues(code).Inc()
}

// ObserveRateLimitDelay records time spent waiting on the limiter.
func ObserveRateLimitDelay(platform string, d time.Duration) {
	if rateLimitDelaySeconds == nil {
		return
	}
	rateLimitDelaySeconds.WithLabelValues(platform).Observe(d.Seconds())
}

// ObserveDedupSuppressed counts a suppressed write.
func ObserveDedupSuppressed() {
	if dedupSuppressedTotal == nil {
		return
	}
	dedupSuppressedTotal.Inc()
}

// ObserveBatchFlush records the size of a committed batch.
func ObserveBatchFlush(size int) {
	if batchFlushSize == nil {
		return
	}
	batchFlushSize.Observe(float64(size))
}

// ObserveBatchFailure counts a batch that exhausted its retries.
func ObserveBatchFailure() {
	if batchFlushFailures == nil {
		return
	}
	batchFlushFailures.Inc()
}

// SetQueueDepth publishes a queue depth gauge.
func SetQueueDepth(queue string, depth int64) {
	if queueDepth == nil {
		return
	}
	queueDepth.WithLabelValues(queue).Set(float64(depth))
}

// WorkerStarted marks a worker as busy.
func WorkerStarted() {
	if activeWorkers != nil {
		activeWorkers.Inc()
	}
}

// WorkerStopped marks a worker as idle.
func WorkerStopped() {
	if activeWorkers != nil {
		activeWorkers.Dec()
	}
}
