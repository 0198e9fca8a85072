package repositories

import (
	"errors"
	"fmt"
)

// CounterErrorCode enumerates failure reasons for counter operations.
type CounterErrorCode string

const (
	// CounterErrorUnknown represents an unspecified failure.
	CounterErrorUnknown CounterErrorCode = "counter_unknown"
	// CounterErrorInvalidInput indicates the caller supplied invalid arguments.
	CounterErrorInvalidInput CounterErrorCode = "counter_invalid_input"
	// CounterErrorContention indicates the transaction kept aborting on concurrent writers.
	CounterErrorContention CounterErrorCode = "counter_contention"
)

// CounterError wraps counter-specific failures with machine readable codes.
type CounterError struct {
	Op      string
	Code    CounterErrorCode
	Message string
	Err     error
}

// Error implements the error interface.
func (e *CounterError) Error() string {
	if e == nil {
		return ""
	}
	if e.Op != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}
	return e.Message
}

// Unwrap exposes the underlying error, if any.
func (e *CounterError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// IsNotFound reports false; missing counters are created on first use.
func (e *CounterError) IsNotFound() bool { return false }

// IsConflict reports whether the failure came from write contention.
func (e *CounterError) IsConflict() bool {
	return e != nil && e.Code == CounterErrorContention
}

// IsUnavailable reports whether the wrapped error is a retryable backend failure.
func (e *CounterError) IsUnavailable() bool {
	if e == nil {
		return false
	}
	var repoErr RepositoryError
	if errors.As(e.Err, &repoErr) {
		return repoErr.IsUnavailable()
	}
	return e.Code == CounterErrorUnknown
}

// NewCounterError constructs a typed counter error.
func NewCounterError(op string, code CounterErrorCode, message string, err error) *CounterError {
	if message == "" {
		message = string(code)
	}
	return &CounterError{
		Op:      op,
		Code:    code,
		Message: message,
		Err:     err,
	}
}
