package sched

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Status represents the current state of a task.
type Status string

// Possible task status values.
const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether the status is final.
func (s Status) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailed || s == StatusCancelled
}

// Category classifies a task. The set is closed; submission validates
// membership so unknown categories fail fast instead of at execution time.
type Category string

// The supported task categories.
const (
	CategoryExtraction Category = "extraction"
	CategoryProcessing Category = "processing"
	CategoryValidation Category = "validation"
	CategoryCleanup    Category = "cleanup"
)

// Categories lists every valid category in a stable order.
func Categories() []Category {
	return []Category{
		CategoryExtraction,
		CategoryProcessing,
		CategoryValidation,
		CategoryCleanup,
	}
}

// Valid reports whether the category is a member of the closed set.
func (c Category) Valid() bool {
	switch c {
	case CategoryExtraction, CategoryProcessing, CategoryValidation, CategoryCleanup:
		return true
	}
	return false
}

// Priority bounds. Higher is more urgent.
const (
	MinPriority = 1
	MaxPriority = 10
)

// WorkFunc is the caller-supplied unit of work. The context carries
// cooperative cancellation and any soft time limit; the reporter publishes
// progress and exposes the cancellation flag for safe-point checks. The
// returned value becomes the task result on success.
type WorkFunc func(ctx context.Context, reporter *Reporter) (any, error)

// ProgressSink receives progress updates for a task, if the submitter
// asked for them. Calls are sequential per task and carry monotonically
// non-decreasing progress values.
type ProgressSink func(taskID uuid.UUID, progress int, step string)

// TaskSpec describes one submission.
type TaskSpec struct {
	// Category selects the default queue and priority tier.
	Category Category

	// Work is the function executed by the worker pool.
	Work WorkFunc

	// Priority, when non-zero, overrides the balancer's assignment.
	// Valid values are 1-10.
	Priority int

	// Sink, when non-nil, receives progress updates.
	Sink ProgressSink
}

// TaskSnapshot is a consistent read-only copy of a task's state, safe to
// retain after the call that produced it.
type TaskSnapshot struct {
	ID           uuid.UUID
	Category     Category
	Queue        string
	Priority     int
	Status       Status
	Progress     int
	CurrentStep  string
	SubmittedAt  time.Time
	StartedAt    time.Time
	FinishedAt   time.Time
	RetryCount   int
	ErrorMessage string
	Result       any
}

// QueueStats aggregates one queue's state for balancing and monitoring.
type QueueStats struct {
	Length        int
	Active        int
	AvgCompletion time.Duration
}

// ManagerStats is the aggregate statistics contract exposed for external
// monitoring collaborators.
type ManagerStats struct {
	ActiveTasks int
	Queues      map[string]QueueStats
}

// taskRecord is the registry-owned mutable task state, guarded by the
// manager mutex. Snapshots are taken under the lock; the record itself
// never escapes the package.
type taskRecord struct {
	id          uuid.UUID
	category    Category
	queue       string
	priority    int
	status      Status
	progress    int
	currentStep string

	submittedAt time.Time
	startedAt   time.Time
	finishedAt  time.Time

	retryCount int
	lastErr    error
	result     any

	work WorkFunc
	sink ProgressSink

	// seq orders equal-priority tasks by submission (stable FIFO).
	seq uint64

	// heapIndex is maintained by the queue heap; -1 when not enqueued.
	heapIndex int

	// cancelRequested is the cooperative cancellation flag; cancelWork
	// cancels the running work context, when one exists.
	cancelRequested bool
	cancelWork      context.CancelFunc

	// done is closed exactly once on reaching a terminal status.
	done chan struct{}
}

func (t *taskRecord) snapshot() TaskSnapshot {
	snap := TaskSnapshot{
		ID:          t.id,
		Category:    t.category,
		Queue:       t.queue,
		Priority:    t.priority,
		Status:      t.status,
		Progress:    t.progress,
		CurrentStep: t.currentStep,
		SubmittedAt: t.submittedAt,
		StartedAt:   t.startedAt,
		FinishedAt:  t.finishedAt,
		RetryCount:  t.retryCount,
		Result:      t.result,
	}
	if t.lastErr != nil {
		snap.ErrorMessage = t.lastErr.Error()
	}
	return snap
}
