package capture

import (
	"errors"
	"fmt"
)

// CaptureError describes a failure on the capture path. It is never returned
// to instrumented code; Record logs it and keeps its text as LastError.
type CaptureError struct {
	// Code identifies the error category.
	Code ErrorCode

	// Message is a human-readable description.
	Message string

	// CorrelationID identifies the affected report.
	CorrelationID string

	// Checkpoint is the name of the checkpoint being recorded, if any.
	Checkpoint string
}

// ErrorCode categorizes capture errors.
type ErrorCode string

const (
	// ErrCodeUnknownCorrelation indicates a non-start checkpoint for a
	// correlation id with no report in progress.
	ErrCodeUnknownCorrelation ErrorCode = "UNKNOWN_CORRELATION"

	// ErrCodeInvalidType indicates an unknown checkpoint type.
	ErrCodeInvalidType ErrorCode = "INVALID_TYPE"

	// ErrCodeEncode indicates the message could not be encoded.
	ErrCodeEncode ErrorCode = "ENCODE"

	// ErrCodeLimit indicates a report exceeded the checkpoint limit.
	ErrCodeLimit ErrorCode = "LIMIT"

	// ErrCodePanic indicates a recovered panic.
	ErrCodePanic ErrorCode = "PANIC"

	// ErrCodeClosed indicates the engine was shut down.
	ErrCodeClosed ErrorCode = "CLOSED"
)

// Error implements the error interface.
func (e *CaptureError) Error() string {
	if e.CorrelationID != "" && e.Checkpoint != "" {
		return fmt.Sprintf("%s: %s (correlation=%s, checkpoint=%s)", e.Code, e.Message, e.CorrelationID, e.Checkpoint)
	}
	if e.CorrelationID != "" {
		return fmt.Sprintf("%s: %s (correlation=%s)", e.Code, e.Message, e.CorrelationID)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func newCaptureError(code ErrorCode, cid, checkpoint, format string, args ...any) *CaptureError {
	return &CaptureError{
		Code:          code,
		Message:       fmt.Sprintf(format, args...),
		CorrelationID: cid,
		Checkpoint:    checkpoint,
	}
}

// IsUnknownCorrelation returns true for checkpoints sent to a correlation id
// without a report in progress. Uses errors.As to handle wrapped errors.
func IsUnknownCorrelation(err error) bool {
	var ce *CaptureError
	if errors.As(err, &ce) {
		return ce.Code == ErrCodeUnknownCorrelation
	}
	return false
}
