package engine

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrDuplicateTask     = errors.New("duplicate task id")
	ErrUnknownDependency = errors.New("unknown dependency")
	ErrDependencyFailed  = errors.New("dependency failed")
	ErrInvalidSchedule   = errors.New("invalid schedule")
	ErrNilWork           = errors.New("task work is nil")
	ErrTimeout           = errors.New("task timed out")
	ErrCancelled         = errors.New("task cancelled")
	ErrNotFound          = errors.New("task not found")
	ErrStopped           = errors.New("task engine stopped")
)

// DependencyFailedError is stored as the result error of a task that was
// failed because one of its dependencies did not complete successfully.
type DependencyFailedError struct {
	TaskID     string
	Dependency string
	Status     Status
}

func (e *DependencyFailedError) Error() string {
	return fmt.Sprintf("task %s: dependency %s ended %s", e.TaskID, e.Dependency, e.Status)
}

func (e *DependencyFailedError) Unwrap() error { return ErrDependencyFailed }

// TaskError ties a work error to the task it came from.
type TaskError struct {
	TaskID string
	Err    error
}

func (e *TaskError) Error() string { return fmt.Sprintf("task %s: %v", e.TaskID, e.Err) }
func (e *TaskError) Unwrap() error { return e.Err }

// PanicError is the error recorded when task work panics.
type PanicError struct {
	Value any
	Stack string
}

func (e *PanicError) Error() string { return fmt.Sprintf("panic: %v", e.Value) }

// NoRetry marks an error as non-retryable.
//
// Work can wrap validation errors or other permanent failures with NoRetry
// so the engine fails the task without spending its retry budget.
//
// Example:
//
//	return nil, engine.NoRetry(fmt.Errorf("bad input: %w", err))
func NoRetry(err error) error {
	if err == nil {
		return nil
	}
	return noRetryError{err: err}
}

// IsNoRetry reports whether err is wrapped with NoRetry.
func IsNoRetry(err error) bool {
	var e noRetryError
	return errors.As(err, &e)
}

type noRetryError struct{ err error }

func (e noRetryError) Error() string { return fmt.Sprintf("no-retry: %v", e.err) }
func (e noRetryError) Unwrap() error { return e.err }

// RetryAfter carries a minimum delay before the next attempt, e.g. from an
// HTTP 429 Retry-After header. The engine uses the larger of the hint and
// its own exponential delay.
func RetryAfter(err error, after time.Duration) error {
	if err == nil {
		return nil
	}
	if after < 0 {
		after = 0
	}
	return retryAfterError{err: err, after: after}
}

// RetryAfterError is implemented by errors that carry an explicit retry delay.
type RetryAfterError interface {
	error
	RetryAfter() time.Duration
}

type retryAfterError struct {
	err   error
	after time.Duration
}

func (e retryAfterError) Error() string             { return fmt.Sprintf("retry-after(%s): %v", e.after, e.err) }
func (e retryAfterError) Unwrap() error             { return e.err }
func (e retryAfterError) RetryAfter() time.Duration { return e.after }
