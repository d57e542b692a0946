package llm

import (
	"errors"
)

// Error types for classifying provider errors. Transient-ness drives the
// retry loop; callers never inspect error strings.

// ErrEmptyResponse is returned when a provider answers 200 with no usable
// text. Treated as permanent: the same prompt is unlikely to fare better.
var ErrEmptyResponse = errors.New("provider returned empty response")

// TransientError represents a temporary error that may succeed on retry
// (429, 5xx, gateway failures, timeouts, aborted connections).
type TransientError struct {
	err error
}

func (e *TransientError) Error() string {
	return e.err.Error()
}

func (e *TransientError) Unwrap() error {
	return e.err
}

// NewTransientError wraps an error as transient (retryable).
func NewTransientError(err error) error {
	return &TransientError{err: err}
}

// FatalError represents a permanent error that should not be retried
// (auth failures, bad requests, missing configuration).
type FatalError struct {
	err error
}

func (e *FatalError) Error() string {
	return e.err.Error()
}

func (e *FatalError) Unwrap() error {
	return e.err
}

// NewFatalError wraps an error as fatal (non-retryable).
func NewFatalError(err error) error {
	return &FatalError{err: err}
}

// IsTransient returns true if the error is transient and should be retried.
func IsTransient(err error) bool {
	var transient *TransientError
	return errors.As(err, &transient)
}

// IsFatal returns true if the error is fatal and should not be retried.
func IsFatal(err error) bool {
	var fatal *FatalError
	return errors.As(err, &fatal)
}
