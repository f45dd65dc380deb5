package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/docvet/scheduler/internal/api"
	"github.com/docvet/scheduler/internal/api/shared"
	"github.com/docvet/scheduler/internal/platform/logger"
	"github.com/docvet/scheduler/internal/sched"
)

// SubmitTaskRequest defines the payload for the task submission endpoint.
// Work closures cannot cross HTTP, so the category selects a
// server-registered work signature and the prompt parameterizes it.
type SubmitTaskRequest struct {
	Category string `json:"category" validate:"required,oneof=extraction processing validation cleanup"`
	Prompt   string `json:"prompt"   validate:"required_unless=Category cleanup,max=100000"`
	Priority int    `json:"priority" validate:"gte=0,lte=10"`
}

// SubmitTaskResponse confirms an accepted submission.
type SubmitTaskResponse struct {
	TaskID string `json:"task_id"`
	Status string `json:"status"`
}

// submitService is the scheduler surface the submission endpoint needs.
type submitService interface {
	Submit(ctx context.Context, spec sched.TaskSpec) (uuid.UUID, error)
}

// submitHandler handles POST /api/tasks requests: it maps the category
// onto a work factory backed by the rotating LLM client and submits the
// resulting task.
type submitHandler struct {
	scheduler submitService
	llm       textGenerator
	throttler api.Throttler
	validate  *validator.Validate
	logger    *slog.Logger
}

func newSubmitHandler(
	scheduler submitService,
	llm textGenerator,
	throttler api.Throttler,
	log *slog.Logger,
) *submitHandler {
	return &submitHandler{
		scheduler: scheduler,
		llm:       llm,
		throttler: throttler,
		validate:  validator.New(),
		logger:    log.With(slog.String("component", "submit_handler")),
	}
}

// SubmitTask handles POST /api/tasks requests.
func (h *submitHandler) SubmitTask(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContextOrDefault(r.Context(), h.logger)

	if h.throttler.ShouldThrottle() {
		shared.RespondWithError(w, r, http.StatusTooManyRequests,
			"Scheduler is under load, retry later")
		return
	}

	var req SubmitTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid request format")
		return
	}

	if err := h.validate.Struct(req); err != nil {
		log.Debug("submission failed validation", slog.String("error", err.Error()))
		shared.RespondWithError(w, r, http.StatusBadRequest, "Validation error")
		return
	}

	category := sched.Category(req.Category)
	id, err := h.scheduler.Submit(r.Context(), sched.TaskSpec{
		Category: category,
		Priority: req.Priority,
		Work:     h.buildWork(category, req.Prompt),
	})
	if err != nil {
		shared.RespondWithErrorAndLog(w, r,
			api.MapErrorToStatusCode(err), api.GetSafeErrorMessage(err), err)
		return
	}

	log.Info("task submitted",
		slog.String("task_id", id.String()),
		slog.String("category", req.Category),
		slog.Int("priority", req.Priority))

	shared.RespondWithJSON(w, r, http.StatusAccepted, SubmitTaskResponse{
		TaskID: id.String(),
		Status: string(sched.StatusPending),
	})
}

// buildWork maps a category onto its registered work signature. Cleanup
// is pure bookkeeping; every other category runs one paced model call
// with progress checkpoints around it.
func (h *submitHandler) buildWork(cat sched.Category, prompt string) sched.WorkFunc {
	if cat == sched.CategoryCleanup {
		return func(ctx context.Context, reporter *sched.Reporter) (any, error) {
			reporter.Report(50, "removing intermediate artifacts")
			return "cleanup complete", nil
		}
	}

	var preparing, calling, assembling, template string
	switch cat {
	case sched.CategoryExtraction:
		preparing = "parsing document"
		calling = "extracting fields"
		assembling = "assembling extraction result"
		template = "Extract every field name and value from the following document text:\n\n%s"
	case sched.CategoryProcessing:
		preparing = "normalizing fields"
		calling = "cross-referencing sources"
		assembling = "merging results"
		template = "Cross-reference and reconcile the following extracted fields:\n\n%s"
	default: // validation
		preparing = "loading extraction output"
		calling = "validating fields"
		assembling = "scoring validation"
		template = "Check the following extracted fields for consistency and plausibility:\n\n%s"
	}

	fullPrompt := fmt.Sprintf(template, prompt)

	return func(ctx context.Context, reporter *sched.Reporter) (any, error) {
		reporter.Report(10, preparing)
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		reporter.Report(30, calling)
		text, err := h.llm.GenerateText(ctx, fullPrompt)
		if err != nil {
			return nil, err
		}

		reporter.Report(90, assembling)
		return text, nil
	}
}
