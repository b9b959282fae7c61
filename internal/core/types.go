// Package core defines the domain types shared across the crawl
// orchestration pipeline.
package core

import (
	"time"

	"github.com/google/uuid"
)

// Priority selects which queue a task is routed through. High drains
// strictly before normal.
type Priority string

// Task priorities accepted on the wire.
const (
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
)

// Platform identifies the e-commerce platform a task targets. The set is
// open: extractors register themselves per platform at startup.
type Platform string

// Platforms with bundled extractor configurations.
const (
	PlatformCoupang       Platform = "coupang"
	PlatformNaverShopping Platform = "naver_shopping"
	PlatformSmartStore    Platform = "smart_store"
	PlatformGmarket       Platform = "gmarket"
	PlatformElevenSt      Platform = "eleven_st"
)

// StockStatus is the fixed enumeration persisted in stock rows.
type StockStatus string

// Stock status values.
const (
	StockAvailable  StockStatus = "available"
	StockLimited    StockStatus = "limited"
	StockCritical   StockStatus = "critical"
	StockOutOfStock StockStatus = "out_of_stock"
	StockPreorder   StockStatus = "preorder"
	StockUnknown    StockStatus = "unknown"
)

// TaskState tracks the retry state machine for a task. The state is carried
// in the payload so it survives process restarts.
type TaskState string

// Task lifecycle states.
const (
	TaskStatePending  TaskState = "pending"
	TaskStateInFlight TaskState = "in_flight"
	TaskStateRetrying TaskState = "retrying"
	TaskStateSuccess  TaskState = "success"
	TaskStateDead     TaskState = "dead"
)

// LogStatus is the per-attempt outcome recorded in the crawl log.
type LogStatus string

// Crawl log statuses.
const (
	LogStatusSuccess LogStatus = "success"
	LogStatusFailed  LogStatus = "failed"
	LogStatusPartial LogStatus = "partial"
)

// Task is one unit of crawl work, as delivered on the intake queue.
// Immutable once enqueued except RetryCount and the retry bookkeeping
// fields, which the dead-letter manager updates on each requeue.
type Task struct {
	TaskID     uuid.UUID `json:"task_id"`
	ProductID  int64     `json:"product_id"`
	URL        string    `json:"url"`
	Platform   Platform  `json:"platform"`
	Priority   Priority  `json:"priority"`
	RetryCount int       `json:"retry_count"`
	UserID     int64     `json:"user_id"`
	CreatedAt  time.Time `json:"created_at"`

	State     TaskState  `json:"state,omitempty"`
	LastError string     `json:"last_error,omitempty"`
	RetryAt   *time.Time `json:"retry_at,omitempty"`
}

// RawExtraction is the untyped bag of fields a platform extractor returns.
// Nothing here is guaranteed present or correct; the validator owns turning
// it into an Observation.
type RawExtraction struct {
	Name          *string  `json:"name,omitempty"`
	Price         *float64 `json:"price,omitempty"`
	OriginalPrice *float64 `json:"original_price,omitempty"`
	DiscountRate  *float64 `json:"discount_rate,omitempty"`
	StockStatus   *string  `json:"stock_status,omitempty"`
	StockQuantity *int     `json:"stock_quantity,omitempty"`
	PromotionInfo *string  `json:"promotion_info,omitempty"`
	ImageURL      *string  `json:"image_url,omitempty"`
	Rating        *float64 `json:"rating,omitempty"`
}

// Observation is the validated price/stock record eligible for persistence.
// Immutable once created.
type Observation struct {
	ProductID       int64       `json:"product_id"`
	Price           float64     `json:"price"`
	DiscountRate    *float64    `json:"discount_rate,omitempty"`
	StockStatus     StockStatus `json:"stock_status"`
	StockQuantity   *int        `json:"stock_quantity,omitempty"`
	PromotionInfo   *string     `json:"promotion_info,omitempty"`
	ImageURL        *string     `json:"image_url,omitempty"`
	ConfidenceScore float64     `json:"confidence_score"`
	RecordedAt      time.Time   `json:"recorded_at"`
}

// CrawlLogEntry records one task attempt. Exactly one entry is written per
// attempt regardless of outcome.
type CrawlLogEntry struct {
	ProductID       int64     `json:"product_id"`
	Platform        Platform  `json:"platform"`
	Status          LogStatus `json:"status"`
	ErrorMessage    string    `json:"error_message,omitempty"`
	ExecutionTimeMS int64     `json:"execution_time_ms"`
	CreatedAt       time.Time `json:"created_at"`
}

// PendingWrite bundles everything the batch persister needs to commit one
// successful attempt and report its outcome afterwards.
type PendingWrite struct {
	Task        Task
	Observation Observation
	Log         CrawlLogEntry
}

// DeadLetter wraps an exhausted or permanently failed task, unmodified plus
// the failure cause, for the dead-letter channel.
type DeadLetter struct {
	Task       Task      `json:"task"`
	FinalError string    `json:"final_error"`
	ErrorCode  ErrorCode `json:"error_code"`
	FailedAt   time.Time `json:"failed_at"`
}

// QueueStats reports queue depths for the ops endpoint and gauges.
type QueueStats struct {
	High       int64 `json:"crawl_high"`
	Normal     int64 `json:"crawl_normal"`
	Result     int64 `json:"result"`
	DeadLetter int64 `json:"dead_letter"`
}
