package sched

import (
	"context"
	"errors"
	"fmt"

	"github.com/docvet/scheduler/internal/credential"
	"github.com/google/uuid"
)

// Common errors returned by the scheduler.
var (
	// ErrTaskNotFound is returned when no task with the given ID exists
	// in the registry.
	ErrTaskNotFound = errors.New("task not found")

	// ErrStillRunning is returned by GetResult when the task has not
	// reached a terminal status before the deadline.
	ErrStillRunning = errors.New("task still running")

	// ErrTaskCancelled is returned by GetResult for cancelled tasks.
	ErrTaskCancelled = errors.New("task cancelled")

	// ErrQueueFull is returned by Submit when the destination queue has
	// reached its configured capacity.
	ErrQueueFull = errors.New("queue is full")

	// ErrUnknownCategory is returned by Submit for categories outside the
	// closed set.
	ErrUnknownCategory = errors.New("unknown task category")

	// ErrNilWork is returned by Submit when no work function is supplied.
	ErrNilWork = errors.New("work function cannot be nil")

	// ErrInvalidPriority is returned by Submit for explicit priorities
	// outside 1-10.
	ErrInvalidPriority = errors.New("priority must be between 1 and 10")

	// ErrManagerClosed is returned after Close.
	ErrManagerClosed = errors.New("scheduler is closed")

	// ErrTransient marks an error as retryable. Wrap with Transient or
	// fmt.Errorf("%w: ...", ErrTransient).
	ErrTransient = errors.New("transient failure")
)

// TaskError carries the terminal failure of a task out of GetResult.
type TaskError struct {
	TaskID uuid.UUID
	Err    error
}

func (e *TaskError) Error() string {
	return fmt.Sprintf("task %s failed: %v", e.TaskID, e.Err)
}

func (e *TaskError) Unwrap() error {
	return e.Err
}

// Transient wraps err so the worker pool classifies it as retryable.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrTransient, err)
}

// IsTransient reports whether the error should be retried. Credential
// exhaustion and deadline expiry are transient without explicit wrapping;
// everything else is permanent unless marked with ErrTransient.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, ErrTransient) ||
		errors.Is(err, credential.ErrNoneAvailable) ||
		errors.Is(err, context.DeadlineExceeded)
}
