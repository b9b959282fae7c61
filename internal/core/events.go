package core

import (
	"time"

	"github.com/google/uuid"
)

// Event statuses on the result channel.
const (
	EventStatusSuccess = "success"
	EventStatusFailed  = "failed"
)

// ObservationData is the payload block of a completion event.
type ObservationData struct {
	Price           float64     `json:"price"`
	DiscountRate    *float64    `json:"discount_rate,omitempty"`
	StockStatus     StockStatus `json:"stock_status"`
	StockQuantity   *int        `json:"stock_quantity,omitempty"`
	PromotionInfo   *string     `json:"promotion_info,omitempty"`
	ConfidenceScore float64     `json:"confidence_score"`
	ImageURL        *string     `json:"image_url,omitempty"`
}

// CompletionEvent is published on the result channel when a task succeeds.
// Deduplicated marks a success whose write was suppressed by the dedup
// guard; the data was validly extracted either way.
type CompletionEvent struct {
	TaskID          uuid.UUID       `json:"task_id"`
	Status          string          `json:"status"`
	Data            ObservationData `json:"data"`
	Deduplicated    bool            `json:"deduplicated,omitempty"`
	ExecutionTimeMS int64           `json:"execution_time_ms"`
	CompletedAt     time.Time       `json:"completed_at"`
}

// FailureEvent is published on the result channel for permanent failures.
type FailureEvent struct {
	TaskID      uuid.UUID `json:"task_id"`
	Status      string    `json:"status"`
	Error       string    `json:"error"`
	ErrorCode   ErrorCode `json:"error_code"`
	RetryCount  int       `json:"retry_count"`
	CompletedAt time.Time `json:"completed_at"`
}

// NewCompletionEvent builds the success payload for a task and its
// observation.
func NewCompletionEvent(task Task, obs Observation, execMS int64, deduplicated bool, at time.Time) CompletionEvent {
	return CompletionEvent{
		TaskID: task.TaskID,
		Status: EventStatusSuccess,
		Data: ObservationData{
			Price:           obs.Price,
			DiscountRate:    obs.DiscountRate,
			StockStatus:     obs.StockStatus,
			StockQuantity:   obs.StockQuantity,
			PromotionInfo:   obs.PromotionInfo,
			ConfidenceScore: obs.ConfidenceScore,
			ImageURL:        obs.ImageURL,
		},
		Deduplicated:    deduplicated,
		ExecutionTimeMS: execMS,
		CompletedAt:     at,
	}
}

// NewFailureEvent builds the failure payload for a terminally failed task.
func NewFailureEvent(task Task, cause error, at time.Time) FailureEvent {
	return FailureEvent{
		TaskID:      task.TaskID,
		Status:      EventStatusFailed,
		Error:       cause.Error(),
		ErrorCode:   CodeFor(cause),
		RetryCount:  task.RetryCount,
		CompletedAt: at,
	}
}
