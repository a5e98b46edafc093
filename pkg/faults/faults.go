// Package faults provides the classified error taxonomy shared by the analysis
// pipeline: configuration, connection, permission, execution, and persistence
// failures, each with retry metadata.
package faults

import (
	"errors"
	"fmt"
	"time"
)

// ErrorType represents the category of a pipeline error.
type ErrorType int8

const (
	// ErrorTypeConfig represents invalid or unreadable configuration.
	// Fatal at startup: no analysis can run.
	ErrorTypeConfig ErrorType = iota
	// ErrorTypeConnection represents an unreachable tool provider after
	// bounded connect attempts. Transient; retried by the caller with backoff.
	ErrorTypeConnection
	// ErrorTypeResourceUnavailable represents pool exhaustion beyond the
	// bounded acquire wait. Transient; retried by the caller with backoff.
	ErrorTypeResourceUnavailable
	// ErrorTypePermission represents an agent invoking a tool outside its
	// declared set. Always a configuration defect; never retried.
	ErrorTypePermission
	// ErrorTypeToolInvocation represents a provider-side tool call failure,
	// wrapping the provider's error detail.
	ErrorTypeToolInvocation
	// ErrorTypeAgentExecution represents an unreachable or failing capability
	// endpoint. Phase-fatal for required phases, claim-scoped for verification.
	ErrorTypeAgentExecution
	// ErrorTypeMalformedResult represents an agent result that does not match
	// the expected shape for its task kind.
	ErrorTypeMalformedResult
	// ErrorTypePersistence represents a storage failure. Fatal for the
	// analysis: an unpersisted phase result cannot be assumed committed.
	ErrorTypePersistence
)

// String returns the string representation of the error type.
func (et ErrorType) String() string {
	switch et {
	case ErrorTypeConfig:
		return "config"
	case ErrorTypeConnection:
		return "connection"
	case ErrorTypeResourceUnavailable:
		return "resource_unavailable"
	case ErrorTypePermission:
		return "permission"
	case ErrorTypeToolInvocation:
		return "tool_invocation"
	case ErrorTypeAgentExecution:
		return "agent_execution"
	case ErrorTypeMalformedResult:
		return "malformed_result"
	case ErrorTypePersistence:
		return "persistence"
	default:
		return "invalid"
	}
}

// RetryConfig defines exponential backoff configuration for an error type.
type RetryConfig struct {
	MaxRetries    int           // Maximum number of retry attempts
	InitialDelay  time.Duration // Initial delay for exponential backoff
	MaxDelay      time.Duration // Maximum delay between retries
	BackoffFactor float64       // Multiplier for exponential backoff
}

// DefaultRetryConfigs provides default retry configurations per error type.
// Non-retryable types carry MaxRetries 0.
//
//nolint:gochecknoglobals // Configuration map - acceptable for package defaults
var DefaultRetryConfigs = map[ErrorType]RetryConfig{
	ErrorTypeConnection: {
		MaxRetries:    3,
		InitialDelay:  500 * time.Millisecond,
		MaxDelay:      10 * time.Second,
		BackoffFactor: 2.0,
	},
	ErrorTypeResourceUnavailable: {
		MaxRetries:    3,
		InitialDelay:  250 * time.Millisecond,
		MaxDelay:      5 * time.Second,
		BackoffFactor: 2.0,
	},
}

// Error represents a classified pipeline error.
type Error struct {
	Err     error     // Wrapped underlying error
	Message string    // Human-readable error message
	Type    ErrorType // Classified error type
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Message != "" && e.Err != nil {
		return fmt.Sprintf("%s error: %s: %v", e.Type.String(), e.Message, e.Err)
	}
	if e.Message != "" {
		return fmt.Sprintf("%s error: %s", e.Type.String(), e.Message)
	}
	return fmt.Sprintf("%s error: %v", e.Type.String(), e.Err)
}

// Unwrap returns the underlying error for error unwrapping.
func (e *Error) Unwrap() error {
	return e.Err
}

// IsRetryable returns whether this error type should be retried by the caller.
// Only connection and pool-exhaustion failures are transient; everything else
// is a defect or a definitive outcome.
func (e *Error) IsRetryable() bool {
	switch e.Type {
	case ErrorTypeConnection, ErrorTypeResourceUnavailable:
		return true
	default:
		return false
	}
}

// GetRetryConfig returns the retry configuration for this error type.
// Non-retryable types get a zero config.
func (e *Error) GetRetryConfig() RetryConfig {
	if config, exists := DefaultRetryConfigs[e.Type]; exists {
		return config
	}
	return RetryConfig{}
}

// Is checks if an error is of a specific type.
func Is(err error, errorType ErrorType) bool {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Type == errorType
	}
	return false
}

// TypeOf returns the error type of an error, or -1 if not classified.
func TypeOf(err error) (ErrorType, bool) {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Type, true
	}
	return 0, false
}

// IsRetryable reports whether err is a classified transient error.
func IsRetryable(err error) bool {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.IsRetryable()
	}
	return false
}

// New creates a new classified error.
func New(errorType ErrorType, message string) *Error {
	return &Error{
		Type:    errorType,
		Message: message,
	}
}

// Newf creates a new classified error with a formatted message.
func Newf(errorType ErrorType, format string, args ...any) *Error {
	return &Error{
		Type:    errorType,
		Message: fmt.Sprintf(format, args...),
	}
}

// WithCause creates a new classified error wrapping another error.
func WithCause(errorType ErrorType, cause error, message string) *Error {
	return &Error{
		Type:    errorType,
		Err:     cause,
		Message: message,
	}
}
