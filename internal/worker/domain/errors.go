package domain

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrTimeout is returned when a budgeted wait expires
	ErrTimeout = errors.New("timed out")

	// ErrNotFound is returned when the expected artifact is missing
	ErrNotFound = errors.New("artifact not found")

	// ErrRemoteApplication is returned when a well-formed response reports failure
	ErrRemoteApplication = errors.New("remote application error")

	// ErrTransientNetwork marks connection and timeout failures
	ErrTransientNetwork = errors.New("transient network error")

	// ErrLocalIO is returned for filesystem copy/delete failures
	ErrLocalIO = errors.New("local io error")

	// ErrNoActivity is returned when the producer never wrote anything
	ErrNoActivity = errors.New("no filesystem activity observed")

	// ErrMissingJobID is returned when a job cannot be addressed on the queue
	ErrMissingJobID = errors.New("job has no id")
)

// RetryableError wraps transient errors that should trigger another attempt
type RetryableError struct {
	Err error
}

func (e *RetryableError) Error() string {
	return "retryable error: " + e.Err.Error()
}

func (e *RetryableError) Unwrap() error {
	return e.Err
}

// Is lets errors.Is(err, ErrTransientNetwork) match any RetryableError
func (e *RetryableError) Is(target error) bool {
	return target == ErrTransientNetwork
}

// NewRetryableError creates a new retryable error
func NewRetryableError(err error) error {
	return &RetryableError{Err: err}
}

// IsRetryable reports whether err is worth another attempt
func IsRetryable(err error) bool {
	var retryableErr *RetryableError
	return errors.As(err, &retryableErr)
}

// RemoteError is a well-formed response from a remote service that reports
// failure, either through its HTTP status or an application status field.
type RemoteError struct {
	Op         string
	StatusCode int
	Message    string
}

func (e *RemoteError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s: remote reported failure (http %d)", e.Op, e.StatusCode)
	}
	return fmt.Sprintf("%s: remote reported failure (http %d): %s", e.Op, e.StatusCode, e.Message)
}

func (e *RemoteError) Unwrap() error {
	return ErrRemoteApplication
}

// Error classes reported in logs and run history
const (
	ClassTimeout           = "Timeout"
	ClassNotFound          = "NotFound"
	ClassRemoteApplication = "RemoteApplicationError"
	ClassTransientNetwork  = "TransientNetwork"
	ClassLocalIO           = "LocalIO"
	ClassNoActivity        = "NoActivity"
	ClassCanceled          = "Canceled"
	ClassOther             = "Other"
)

// Classify maps err onto the error taxonomy
func Classify(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrTimeout):
		return ClassTimeout
	case errors.Is(err, ErrNotFound):
		return ClassNotFound
	case errors.Is(err, ErrRemoteApplication):
		return ClassRemoteApplication
	case errors.Is(err, ErrTransientNetwork):
		return ClassTransientNetwork
	case errors.Is(err, ErrLocalIO):
		return ClassLocalIO
	case errors.Is(err, ErrNoActivity):
		return ClassNoActivity
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return ClassCanceled
	default:
		return ClassOther
	}
}
