package core

import "errors"

// ErrorCode is the failure taxonomy exposed on events and dead letters.
type ErrorCode string

// Error codes on failure events.
const (
	CodeNotFound    ErrorCode = "PRODUCT_NOT_FOUND"
	CodeTimeout     ErrorCode = "TIMEOUT"
	CodeBlocked     ErrorCode = "BLOCKED"
	CodeParse       ErrorCode = "PARSE_ERROR"
	CodePersistence ErrorCode = "PERSISTENCE_FAILURE"
)

// Sentinel failures produced by the pipeline stages. Extractors and stores
// wrap these so callers can classify with errors.Is.
var (
	// ErrNotFound means the product page does not exist. Permanent.
	ErrNotFound = errors.New("product not found")
	// ErrTimeout means the extraction exceeded its hard deadline. Transient.
	ErrTimeout = errors.New("extraction timed out")
	// ErrBlocked means the platform surfaced anti-bot detection. Transient,
	// but retried with an enlarged backoff.
	ErrBlocked = errors.New("blocked by platform")
	// ErrParse means the page was fetched but could not be interpreted.
	// Permanent.
	ErrParse = errors.New("page could not be parsed")
	// ErrLowConfidence means extraction succeeded but scored below the
	// persistence gate. Permanent; logged as a partial attempt.
	ErrLowConfidence = errors.New("confidence below persistence threshold")
	// ErrPersistence means a batch transaction failed after its own retries.
	// Transient from the task's point of view.
	ErrPersistence = errors.New("persistence failure")
)

// Retryable reports whether a failure is transient. Unknown errors are
// treated as transient infrastructure failures so they get the bounded
// retry path rather than dying on a Redis blip.
func Retryable(err error) bool {
	switch {
	case errors.Is(err, ErrNotFound),
		errors.Is(err, ErrParse),
		errors.Is(err, ErrLowConfidence):
		return false
	default:
		return true
	}
}

// CodeFor maps a failure to its wire error code. Low confidence surfaces as
// PARSE_ERROR; transient infrastructure errors surface as TIMEOUT since the
// taxonomy has no dedicated slot for them.
func CodeFor(err error) ErrorCode {
	switch {
	case errors.Is(err, ErrNotFound):
		return CodeNotFound
	case errors.Is(err, ErrBlocked):
		return CodeBlocked
	case errors.Is(err, ErrParse), errors.Is(err, ErrLowConfidence):
		return CodeParse
	case errors.Is(err, ErrPersistence):
		return CodePersistence
	default:
		return CodeTimeout
	}
}
