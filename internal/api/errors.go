package api

import (
	"errors"
	"net/http"

	"github.com/docvet/scheduler/internal/credential"
	"github.com/docvet/scheduler/internal/sched"
)

// MapErrorToStatusCode maps internal errors to appropriate HTTP status
// codes based on the error type. This prevents leaking internal error
// types or messages to clients.
func MapErrorToStatusCode(err error) int {
	switch {
	case errors.Is(err, sched.ErrTaskNotFound):
		return http.StatusNotFound

	case errors.Is(err, sched.ErrUnknownCategory),
		errors.Is(err, sched.ErrInvalidPriority),
		errors.Is(err, sched.ErrNilWork):
		return http.StatusBadRequest

	case errors.Is(err, sched.ErrQueueFull):
		return http.StatusTooManyRequests

	case errors.Is(err, sched.ErrManagerClosed):
		return http.StatusServiceUnavailable

	case errors.Is(err, sched.ErrTaskCancelled):
		return http.StatusConflict

	case errors.Is(err, sched.ErrStillRunning):
		return http.StatusAccepted

	case errors.Is(err, credential.ErrNoneAvailable):
		return http.StatusServiceUnavailable

	default:
		return http.StatusInternalServerError
	}
}

// GetSafeErrorMessage returns a sanitized, user-friendly error message
// based on the error type.
func GetSafeErrorMessage(err error) string {
	if err == nil {
		return "An unexpected error occurred"
	}

	switch {
	case errors.Is(err, sched.ErrTaskNotFound):
		return "Task not found"

	case errors.Is(err, sched.ErrUnknownCategory):
		return "Unknown task category"

	case errors.Is(err, sched.ErrInvalidPriority):
		return "Priority must be between 1 and 10"

	case errors.Is(err, sched.ErrNilWork):
		return "Task work cannot be empty"

	case errors.Is(err, sched.ErrQueueFull):
		return "Queue is at capacity, retry later"

	case errors.Is(err, sched.ErrManagerClosed):
		return "Scheduler is shutting down"

	case errors.Is(err, sched.ErrTaskCancelled):
		return "Task was cancelled"

	case errors.Is(err, sched.ErrStillRunning):
		return "Task is still running"

	case errors.Is(err, credential.ErrNoneAvailable):
		return "Service temporarily unavailable"

	default:
		return "An unexpected error occurred"
	}
}
