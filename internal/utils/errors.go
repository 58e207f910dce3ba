package utils

import (
	"context"
	"errors"
	"fmt"
)

// AppError wraps an operation, human-facing message, and underlying error.
type AppError struct {
	Op  string
	Msg string
	Err error
}

func (e *AppError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Msg)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Msg, e.Err)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// NewAppError constructs an AppError.
func NewAppError(op, msg string, err error) error {
	return &AppError{Op: op, Msg: msg, Err: err}
}

// Failure taxonomy for the analysis pipeline. Analysis-path errors abort the
// whole request; escalation-path errors stay scoped to one finding's task.
var (
	// ErrMalformedAnalysis marks LLM output that failed JSON parsing. Terminal,
	// never retried, never coerced into a partial result.
	ErrMalformedAnalysis = errors.New("malformed analysis result")

	// ErrUpstreamTimeout marks an LLM, retrieval, storage or notification call
	// that exceeded its deadline.
	ErrUpstreamTimeout = errors.New("upstream timeout")

	// ErrConfigurationInvalid marks unusable runtime configuration (unknown
	// provider, missing credentials, non-positive budgets).
	ErrConfigurationInvalid = errors.New("configuration invalid")

	// ErrAllocationDegraded marks a report-ID allocation that fell back to a
	// placeholder identifier because storage was unreachable.
	ErrAllocationDegraded = errors.New("report id allocation degraded")
)

// AsTimeout rewraps context deadline expiry as ErrUpstreamTimeout so callers
// surface a single taxonomy error for hung collaborators.
func AsTimeout(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return NewAppError(op, "deadline exceeded", fmt.Errorf("%w: %v", ErrUpstreamTimeout, err))
	}
	return err
}
