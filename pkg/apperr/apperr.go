// Package apperr defines the collector's standardized error type and the
// error codes from spec §7: QueueFull, Filtered, SinkUnavailable,
// SinkPermanentFailure, InvalidConfig, UnknownSession, Fatal.
package apperr

import (
	"fmt"
	"time"
)

// Code names one of the error kinds from spec §7.
type Code string

const (
	CodeQueueFull             Code = "QUEUE_FULL"
	CodeFiltered              Code = "FILTERED"
	CodeSinkUnavailable       Code = "SINK_UNAVAILABLE"
	CodeSinkPermanentFailure  Code = "SINK_PERMANENT_FAILURE"
	CodeInvalidConfig         Code = "INVALID_CONFIG"
	CodeUnknownSession        Code = "UNKNOWN_SESSION"
	CodeFatal                 Code = "FATAL"
)

// Severity classifies how the error should be handled upstream.
type Severity string

const (
	SeverityRetryable    Severity = "retryable"
	SeverityNonRetryable Severity = "non_retryable"
	SeverityFatal        Severity = "fatal"
)

// AppError is the collector's standard error envelope.
type AppError struct {
	Code      Code
	Component string
	Operation string
	Message   string
	Severity  Severity
	Cause     error
	Timestamp time.Time
}

// New constructs an AppError with SeverityNonRetryable.
func New(code Code, component, operation, message string) *AppError {
	return &AppError{
		Code:      code,
		Component: component,
		Operation: operation,
		Message:   message,
		Severity:  SeverityNonRetryable,
		Timestamp: time.Now(),
	}
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s:%s] %s: %s: %v", e.Component, e.Operation, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s:%s] %s: %s", e.Component, e.Operation, e.Code, e.Message)
}

// Unwrap exposes the wrapped cause for errors.Is/errors.As.
func (e *AppError) Unwrap() error { return e.Cause }

// Wrap attaches a cause and returns the receiver for chaining.
func (e *AppError) Wrap(cause error) *AppError {
	e.Cause = cause
	return e
}

// WithSeverity overrides the default severity and returns the receiver.
func (e *AppError) WithSeverity(s Severity) *AppError {
	e.Severity = s
	return e
}

// Retryable reports whether the error's severity permits the retry engine
// to re-attempt delivery.
func (e *AppError) Retryable() bool {
	return e.Severity == SeverityRetryable
}

// QueueFull builds the spec's QueueFull error for a submit rejection.
func QueueFull(component string) *AppError {
	return New(CodeQueueFull, component, "submit", "queue at capacity")
}

// SinkUnavailable builds a retryable sink error.
func SinkUnavailable(component, sink string, cause error) *AppError {
	return New(CodeSinkUnavailable, component, "send", fmt.Sprintf("sink %q unavailable", sink)).
		WithSeverity(SeverityRetryable).
		Wrap(cause)
}

// SinkPermanentFailure builds a non-retryable sink error.
func SinkPermanentFailure(component, sink, message string) *AppError {
	return New(CodeSinkPermanentFailure, component, "send", fmt.Sprintf("sink %q: %s", sink, message))
}

// InvalidConfig builds the error returned by Initialize on bad config.
func InvalidConfig(component, message string) *AppError {
	return New(CodeInvalidConfig, component, "initialize", message)
}

// UnknownSession builds the error for a transport call against a stale id.
func UnknownSession(sessionID uint64) *AppError {
	return New(CodeUnknownSession, "transport", "lookup", fmt.Sprintf("unknown session %d", sessionID))
}

// Fatal builds a process-level fatal error.
func Fatal(component, operation, message string, cause error) *AppError {
	return New(CodeFatal, component, operation, message).WithSeverity(SeverityFatal).Wrap(cause)
}
