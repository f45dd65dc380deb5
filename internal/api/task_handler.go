package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/docvet/scheduler/internal/api/shared"
	"github.com/docvet/scheduler/internal/platform/logger"
	"github.com/docvet/scheduler/internal/sched"
)

// TaskService is the scheduler surface the task endpoints need.
type TaskService interface {
	GetStatus(id uuid.UUID) (sched.TaskSnapshot, error)
	Cancel(id uuid.UUID) bool
}

// TaskHandler handles task status and cancellation requests.
type TaskHandler struct {
	tasks  TaskService
	logger *slog.Logger
}

// NewTaskHandler creates a new TaskHandler.
func NewTaskHandler(tasks TaskService, logger *slog.Logger) *TaskHandler {
	if tasks == nil {
		// ALLOW-PANIC: Constructor enforcing required dependency
		panic("task service cannot be nil for TaskHandler")
	}
	if logger == nil {
		// ALLOW-PANIC: Constructor enforcing required dependency
		panic("logger cannot be nil for TaskHandler")
	}

	return &TaskHandler{
		tasks:  tasks,
		logger: logger.With(slog.String("component", "task_handler")),
	}
}

// GetTask handles GET /api/tasks/{id} requests. It returns the task's
// status contract, including progress and the current step.
func (h *TaskHandler) GetTask(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContextOrDefault(r.Context(), h.logger)

	id, ok := h.taskIDFromPath(w, r)
	if !ok {
		return
	}

	snap, err := h.tasks.GetStatus(id)
	if err != nil {
		shared.RespondWithErrorAndLog(w, r,
			MapErrorToStatusCode(err), GetSafeErrorMessage(err), err)
		return
	}

	log.Debug("task status retrieved",
		slog.String("task_id", id.String()),
		slog.String("status", string(snap.Status)))
	shared.RespondWithJSON(w, r, http.StatusOK, taskToResponse(snap))
}

// CancelTask handles DELETE /api/tasks/{id} requests. Pending tasks cancel
// immediately; running tasks get the cooperative cancellation signal and
// the response reports them still running until the worker yields.
func (h *TaskHandler) CancelTask(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContextOrDefault(r.Context(), h.logger)

	id, ok := h.taskIDFromPath(w, r)
	if !ok {
		return
	}

	if !h.tasks.Cancel(id) {
		// Unknown task or already terminal; GetStatus tells them apart.
		snap, err := h.tasks.GetStatus(id)
		if err != nil {
			shared.RespondWithErrorAndLog(w, r,
				MapErrorToStatusCode(err), GetSafeErrorMessage(err), err)
			return
		}

		log.Debug("cancel requested for finished task",
			slog.String("task_id", id.String()),
			slog.String("status", string(snap.Status)))
		shared.RespondWithError(w, r, http.StatusConflict, "Task already finished")
		return
	}

	snap, err := h.tasks.GetStatus(id)
	if err != nil {
		// Cancelled and already swept; report the cancellation anyway.
		snap = sched.TaskSnapshot{ID: id, Status: sched.StatusCancelled}
	}

	log.Info("task cancellation requested",
		slog.String("task_id", id.String()),
		slog.String("status", string(snap.Status)))
	shared.RespondWithJSON(w, r, http.StatusAccepted, CancelResponse{
		TaskID: id.String(),
		Status: string(snap.Status),
	})
}

// taskIDFromPath extracts and parses the {id} URL parameter, writing the
// error response itself when the ID is missing or malformed.
func (h *TaskHandler) taskIDFromPath(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	raw := chi.URLParam(r, "id")
	if raw == "" {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Task ID is required")
		return uuid.Nil, false
	}

	id, err := uuid.Parse(raw)
	if err != nil {
		h.logger.Warn("invalid task ID format", slog.String("task_id", raw))
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid task ID format")
		return uuid.Nil, false
	}

	return id, true
}
