// Package errors provides the error taxonomy used across the miner.
//
// Every failure that crosses a component boundary is a *ServiceError carrying
// an ErrorType. The type decides how the session reacts: connection and
// authorization failures end the session, protocol errors and share
// rejections are logged and mining continues.
package errors

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrorType represents different categories of errors
type ErrorType string

const (
	// ErrorTypeConnection means the pool transport could not be established or was lost
	ErrorTypeConnection ErrorType = "connection"
	// ErrorTypeProtocol means a message could not be decoded
	ErrorTypeProtocol ErrorType = "protocol"
	// ErrorTypeAuthorization means the pool denied mining.authorize
	ErrorTypeAuthorization ErrorType = "authorization"
	// ErrorTypeShareRejected means the pool answered a submit with a failure
	ErrorTypeShareRejected ErrorType = "share_rejected"
	// ErrorTypeNetwork represents transient network errors on auxiliary backends
	ErrorTypeNetwork ErrorType = "network"
	// ErrorTypeValidation represents validation errors
	ErrorTypeValidation ErrorType = "validation"
	// ErrorTypeDatabase represents database-related errors
	ErrorTypeDatabase ErrorType = "database"
	// ErrorTypeKafka represents Kafka messaging errors
	ErrorTypeKafka ErrorType = "kafka"
	// ErrorTypeTimeout represents timeout errors
	ErrorTypeTimeout ErrorType = "timeout"
	// ErrorTypeInternal represents internal/unknown errors
	ErrorTypeInternal ErrorType = "internal"
)

// ServiceError represents a structured error with context
type ServiceError struct {
	Type      ErrorType
	Operation string
	Message   string
	Cause     error
	Context   map[string]any
	Timestamp time.Time
	Retryable bool
}

// Error implements the error interface
func (e *ServiceError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s operation '%s' failed: %s (caused by: %v)", e.Type, e.Operation, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s operation '%s' failed: %s", e.Type, e.Operation, e.Message)
}

// Unwrap returns the underlying cause for error unwrapping
func (e *ServiceError) Unwrap() error {
	return e.Cause
}

// IsRetryable returns whether this error should be retried
func (e *ServiceError) IsRetryable() bool {
	return e.Retryable
}

// WithContext adds additional context to the error
func (e *ServiceError) WithContext(key string, value any) *ServiceError {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// New creates a new ServiceError
func New(errorType ErrorType, operation, message string) *ServiceError {
	return &ServiceError{
		Type:      errorType,
		Operation: operation,
		Message:   message,
		Timestamp: time.Now(),
		Retryable: isRetryableByType(errorType),
	}
}

// Wrap wraps an existing error with context
func Wrap(err error, errorType ErrorType, operation, message string) *ServiceError {
	if err == nil {
		return nil
	}

	if se, ok := err.(*ServiceError); ok {
		return &ServiceError{
			Type:      errorType,
			Operation: operation,
			Message:   message,
			Cause:     se,
			Timestamp: time.Now(),
			Retryable: se.Retryable,
		}
	}

	return &ServiceError{
		Type:      errorType,
		Operation: operation,
		Message:   message,
		Cause:     err,
		Timestamp: time.Now(),
		Retryable: isRetryableByDefault(err) || (isRetryableByType(errorType) && !isContextError(err)),
	}
}

// Connection builds a ConnectionError.
func Connection(operation string, cause error) *ServiceError {
	if cause == nil {
		return New(ErrorTypeConnection, operation, "pool connection failed")
	}
	return Wrap(cause, ErrorTypeConnection, operation, "pool connection failed")
}

// Protocol builds a ProtocolError.
func Protocol(operation, message string) *ServiceError {
	return New(ErrorTypeProtocol, operation, message)
}

// Authorization builds an AuthorizationError.
func Authorization(user, reason string) *ServiceError {
	return New(ErrorTypeAuthorization, "authorize", reason).WithContext("user", user)
}

// ShareRejected builds a ShareRejected error carrying the pool-supplied reason.
func ShareRejected(jobID, reason string) *ServiceError {
	return New(ErrorTypeShareRejected, "submit", reason).WithContext("job_id", jobID)
}

// isRetryableByType determines if an error type is generally retryable
func isRetryableByType(errorType ErrorType) bool {
	switch errorType {
	case ErrorTypeConnection, ErrorTypeNetwork, ErrorTypeTimeout, ErrorTypeKafka, ErrorTypeDatabase:
		return true
	default:
		return false
	}
}

func isContextError(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// isRetryableByDefault checks if an error is retryable based on common patterns
func isRetryableByDefault(err error) bool {
	if err == nil {
		return false
	}

	if isContextError(err) {
		return false
	}

	errStr := strings.ToLower(err.Error())

	networkErrors := []string{
		"connection refused",
		"connection reset",
		"network unreachable",
		"no route to host",
		"i/o timeout",
		"timeout",
		"temporary failure",
	}

	for _, netErr := range networkErrors {
		if strings.Contains(errStr, netErr) {
			return true
		}
	}

	return false
}

// IsType checks if an error is of a specific type
func IsType(err error, errorType ErrorType) bool {
	var se *ServiceError
	for errors.As(err, &se) {
		if se.Type == errorType {
			return true
		}
		err = se.Cause
	}
	return false
}

// IsFatal reports whether err must terminate the mining session.
func IsFatal(err error) bool {
	return IsType(err, ErrorTypeConnection) || IsType(err, ErrorTypeAuthorization)
}

// IsRetryable checks if an error should be retried
func IsRetryable(err error) bool {
	var se *ServiceError
	if errors.As(err, &se) {
		return se.IsRetryable()
	}
	return isRetryableByDefault(err)
}

// GetContext retrieves context from a ServiceError
func GetContext(err error) map[string]any {
	var se *ServiceError
	if errors.As(err, &se) {
		return se.Context
	}
	return nil
}
