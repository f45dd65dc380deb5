package api

import (
	"github.com/docvet/scheduler/internal/sched"
)

// TaskResponse is the status contract for a single task.
type TaskResponse struct {
	TaskID       string `json:"task_id"`
	Category     string `json:"category"`
	Queue        string `json:"queue"`
	Status       string `json:"status"`
	Progress     int    `json:"progress"`
	CurrentStep  string `json:"current_step,omitempty"`
	RetryCount   int    `json:"retry_count"`
	ErrorMessage string `json:"error_message,omitempty"`
}

// CancelResponse confirms a cancellation request. Status reflects the task
// state after the request: pending tasks cancel immediately, running tasks
// finish on the worker's terms.
type CancelResponse struct {
	TaskID string `json:"task_id"`
	Status string `json:"status"`
}

// QueueStatsResponse aggregates one queue's state.
type QueueStatsResponse struct {
	Length          int     `json:"length"`
	Active          int     `json:"active"`
	AvgCompletionMS float64 `json:"avg_completion_ms"`
}

// CredentialStatsResponse summarizes the credential pool.
type CredentialStatsResponse struct {
	Total       int `json:"total"`
	Available   int `json:"available"`
	Blacklisted int `json:"blacklisted"`
}

// ResourceStatsResponse is the most recent resource pressure sample. Stale
// means the probe failed and the values are last known good.
type ResourceStatsResponse struct {
	CPUPercent float64 `json:"cpu_percent"`
	MemPercent float64 `json:"mem_percent"`
	Stale      bool    `json:"stale"`
}

// StatsResponse is the aggregate statistics contract.
type StatsResponse struct {
	ActiveTasks        int                           `json:"active_tasks"`
	Queues             map[string]QueueStatsResponse `json:"queues"`
	Credentials        CredentialStatsResponse       `json:"credentials"`
	Resource           ResourceStatsResponse         `json:"resource"`
	Throttled          bool                          `json:"throttled"`
	ServiceUnavailable bool                          `json:"service_unavailable"`
}

// taskToResponse maps a registry snapshot onto the response contract.
func taskToResponse(snap sched.TaskSnapshot) TaskResponse {
	return TaskResponse{
		TaskID:       snap.ID.String(),
		Category:     string(snap.Category),
		Queue:        snap.Queue,
		Status:       string(snap.Status),
		Progress:     snap.Progress,
		CurrentStep:  snap.CurrentStep,
		RetryCount:   snap.RetryCount,
		ErrorMessage: snap.ErrorMessage,
	}
}
