package collector

import "errors"

// Sentinel errors for the collector package.
var (
	ErrClientIDRequired  = errors.New("X-Client-Id header is required")
	ErrVisitorIDRequired = errors.New("X-Visitor-Id header is required")
	ErrEmptyBatch        = errors.New("at least one event is required")
	ErrBatchTooLarge     = errors.New("batch exceeds maximum event count")
	ErrInvalidBody       = errors.New("body must be a JSON array of events")
	ErrBodyTooLarge      = errors.New("request body too large")

	// Per-event validation errors
	ErrNameRequired     = errors.New("name is required")
	ErrInvalidCreatedAt = errors.New("created_at must be an ISO-8601 timestamp")
)
