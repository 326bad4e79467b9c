package domain

import "errors"

// Common domain errors
var (
	ErrInvalidConfig        = errors.New("invalid configuration")
	ErrSerialization        = errors.New("serialization failed")
	ErrUnsupportedAlgorithm = errors.New("unsupported compression algorithm")
	ErrCompressionFailed    = errors.New("compression failed")
	ErrMethodNotAllowed     = errors.New("method not allowed")
)

// ErrorResponse defines the standard JSON error model returned by the admin API.
// It intentionally avoids exposing sensitive details while providing a stable machine-readable code.
type ErrorResponse struct {
	Code      string `json:"code"`                 // Machine-readable error code (e.g., METHOD_NOT_ALLOWED)
	Message   string `json:"message"`              // Human-readable message (safe for logs)
	RequestID string `json:"request_id,omitempty"` // Optional correlation ID
}
