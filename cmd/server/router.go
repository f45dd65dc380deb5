package main

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/docvet/scheduler/internal/api"
	apiMiddleware "github.com/docvet/scheduler/internal/api/middleware"
)

// setupRouter creates and configures the application router with all
// routes and middleware.
func (app *application) setupRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(apiMiddleware.TraceMiddleware)

	taskHandler := api.NewTaskHandler(app.manager, app.logger)
	statsHandler := api.NewStatsHandler(
		app.manager,
		app.rotator,
		app.monitor,
		app.balancer,
		app.config.Scheduler.UnavailableAfter,
		app.logger,
	)
	submitHandler := newSubmitHandler(app.manager, app.llm, app.balancer, app.logger)

	r.Route("/api", func(r chi.Router) {
		r.Post("/tasks", submitHandler.SubmitTask)
		r.Get("/tasks/{id}", taskHandler.GetTask)
		r.Delete("/tasks/{id}", taskHandler.CancelTask)
		r.Get("/stats", statsHandler.GetStats)
	})

	r.Get("/health", statsHandler.HealthCheck)

	return r
}
