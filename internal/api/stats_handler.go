package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/docvet/scheduler/internal/api/shared"
	"github.com/docvet/scheduler/internal/credential"
	"github.com/docvet/scheduler/internal/platform/logger"
	"github.com/docvet/scheduler/internal/sched"
	"github.com/docvet/scheduler/internal/sysmon"
)

// SchedulerStats is the aggregate-statistics surface of the task registry.
type SchedulerStats interface {
	Stats() sched.ManagerStats
}

// CredentialStats is the rotator surface the stats endpoint reads.
type CredentialStats interface {
	Stats() credential.Stats
	AllBlacklistedSince() (time.Time, bool)
}

// Throttler reports whether resource pressure currently calls for backing
// off submissions.
type Throttler interface {
	ShouldThrottle() bool
}

// StatsHandler serves the aggregate statistics and health endpoints.
type StatsHandler struct {
	scheduler   SchedulerStats
	credentials CredentialStats
	sampler     sysmon.Sampler
	throttler   Throttler

	// unavailableAfter is how long the credential pool must stay fully
	// blacklisted before the service reports itself unavailable.
	unavailableAfter time.Duration

	logger *slog.Logger
	now    func() time.Time
}

// NewStatsHandler creates a new StatsHandler.
func NewStatsHandler(
	scheduler SchedulerStats,
	credentials CredentialStats,
	sampler sysmon.Sampler,
	throttler Throttler,
	unavailableAfter time.Duration,
	log *slog.Logger,
) *StatsHandler {
	if scheduler == nil || credentials == nil || sampler == nil || throttler == nil {
		// ALLOW-PANIC: Constructor enforcing required dependencies
		panic("all stats sources are required for StatsHandler")
	}
	if log == nil {
		// ALLOW-PANIC: Constructor enforcing required dependency
		panic("logger cannot be nil for StatsHandler")
	}

	return &StatsHandler{
		scheduler:        scheduler,
		credentials:      credentials,
		sampler:          sampler,
		throttler:        throttler,
		unavailableAfter: unavailableAfter,
		logger:           log.With(slog.String("component", "stats_handler")),
		now:              time.Now,
	}
}

// GetStats handles GET /api/stats requests.
func (h *StatsHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContextOrDefault(r.Context(), h.logger)

	managerStats := h.scheduler.Stats()
	queues := make(map[string]QueueStatsResponse, len(managerStats.Queues))
	for name, qs := range managerStats.Queues {
		queues[name] = QueueStatsResponse{
			Length:          qs.Length,
			Active:          qs.Active,
			AvgCompletionMS: float64(qs.AvgCompletion) / float64(time.Millisecond),
		}
	}

	credStats := h.credentials.Stats()
	sample := h.sampler.Sample()

	response := StatsResponse{
		ActiveTasks: managerStats.ActiveTasks,
		Queues:      queues,
		Credentials: CredentialStatsResponse{
			Total:       credStats.Total,
			Available:   credStats.Available,
			Blacklisted: credStats.Blacklisted,
		},
		Resource: ResourceStatsResponse{
			CPUPercent: sample.CPUPercent,
			MemPercent: sample.MemPercent,
			Stale:      sample.Stale,
		},
		Throttled:          h.throttler.ShouldThrottle(),
		ServiceUnavailable: h.serviceUnavailable(),
	}

	if response.ServiceUnavailable {
		log.Warn("service reporting unavailable, credential pool exhausted",
			slog.Int("blacklisted", credStats.Blacklisted))
	}

	shared.RespondWithJSON(w, r, http.StatusOK, response)
}

// HealthCheck handles GET /health requests.
func (h *StatsHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	shared.RespondWithJSON(w, r, http.StatusOK, map[string]string{"status": "ok"})
}

// serviceUnavailable reports whether every credential has been blacklisted
// for longer than the configured grace period. Brief full-pool blackouts
// are expected during correlated rate limiting and are not reported.
func (h *StatsHandler) serviceUnavailable() bool {
	since, exhausted := h.credentials.AllBlacklistedSince()
	if !exhausted {
		return false
	}
	return h.now().Sub(since) >= h.unavailableAfter
}
