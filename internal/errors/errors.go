package errors

import (
	"fmt"
	"time"
)

/**
 * Error taxonomy for the card recognition pipeline
 *
 * Every stage reports a typed error; the coordinator alone decides which
 * outcome the surface sees.
 */

// ErrorCode enum for structured error handling
type ErrorCode string

const (
	// Capture / extraction errors
	ErrorCaptureFailed    ErrorCode = "CAPTURE_FAILED"
	ErrorExtractionFailed ErrorCode = "EXTRACTION_FAILED"
	ErrorQueryEmpty       ErrorCode = "QUERY_EMPTY"

	// Lookup errors
	ErrorLookupHTTPStatus ErrorCode = "LOOKUP_HTTP_STATUS"
	ErrorLookupMalformed  ErrorCode = "LOOKUP_MALFORMED"
	ErrorLookupTransport  ErrorCode = "LOOKUP_TRANSPORT"

	// Queue errors
	ErrorProcessingTimeout ErrorCode = "PROCESSING_TIMEOUT"

	// Not a failure; recorded for history only
	ErrorSessionCancelled ErrorCode = "SESSION_CANCELLED"
)

// PipelineError represents a structured pipeline error
type PipelineError struct {
	Code      ErrorCode
	Message   string
	SessionID string
	Timestamp time.Time
	Details   map[string]interface{}
	Cause     error
}

func (e *PipelineError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *PipelineError) Unwrap() error {
	return e.Cause
}

// Retryable reports whether the user can act on the error by retrying the lookup
// rather than retaking the photo.
func (e *PipelineError) Retryable() bool {
	switch e.Code {
	case ErrorLookupHTTPStatus, ErrorLookupMalformed, ErrorLookupTransport:
		return true
	}
	return false
}

// Factory functions for common errors

func NewCaptureError(sessionID string, cause error) *PipelineError {
	return &PipelineError{
		Code:      ErrorCaptureFailed,
		Message:   "Frame capture failed",
		SessionID: sessionID,
		Timestamp: time.Now(),
		Cause:     cause,
	}
}

func NewExtractionError(sessionID string, engine string, cause error) *PipelineError {
	return &PipelineError{
		Code:      ErrorExtractionFailed,
		Message:   fmt.Sprintf("Text extraction failed on engine: %s", engine),
		SessionID: sessionID,
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"ocr_engine": engine,
		},
		Cause: cause,
	}
}

func NewQueryEmptyError(sessionID string) *PipelineError {
	return &PipelineError{
		Code:      ErrorQueryEmpty,
		Message:   "No usable text found in frame",
		SessionID: sessionID,
		Timestamp: time.Now(),
	}
}

func NewLookupHTTPStatusError(sessionID string, statusCode int, details string) *PipelineError {
	return &PipelineError{
		Code:      ErrorLookupHTTPStatus,
		Message:   fmt.Sprintf("Lookup returned HTTP %d", statusCode),
		SessionID: sessionID,
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"status_code": statusCode,
			"details":     details,
		},
	}
}

func NewLookupMalformedError(sessionID string, cause error) *PipelineError {
	return &PipelineError{
		Code:      ErrorLookupMalformed,
		Message:   "Lookup response was malformed",
		SessionID: sessionID,
		Timestamp: time.Now(),
		Cause:     cause,
	}
}

func NewLookupTransportError(sessionID string, cause error) *PipelineError {
	return &PipelineError{
		Code:      ErrorLookupTransport,
		Message:   "Lookup request failed in transport",
		SessionID: sessionID,
		Timestamp: time.Now(),
		Cause:     cause,
	}
}

func NewCancelledError(sessionID string, supersededBy string) *PipelineError {
	return &PipelineError{
		Code:      ErrorSessionCancelled,
		Message:   "Session superseded by a newer capture",
		SessionID: sessionID,
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"superseded_by": supersededBy,
		},
	}
}

func NewProcessingTimeoutError(captureID string, timeout time.Duration, cause error) *PipelineError {
	return &PipelineError{
		Code:      ErrorProcessingTimeout,
		Message:   fmt.Sprintf("Capture processing exceeded timeout of %v", timeout),
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"capture_id": captureID,
			"timeout_ms": timeout.Milliseconds(),
		},
		Cause: cause,
	}
}

// ToMap converts error to map for database storage
func (e *PipelineError) ToMap() map[string]interface{} {
	result := map[string]interface{}{
		"error_code": string(e.Code),
		"message":    e.Message,
		"timestamp":  e.Timestamp,
	}

	for k, v := range e.Details {
		result[k] = v
	}

	if e.Cause != nil {
		result["cause"] = e.Cause.Error()
	}

	return result
}
