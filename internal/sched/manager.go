package sched

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// QueueSelector chooses the destination queue and priority for a category.
// Satisfied by the load balancer; tests supply fixed selectors.
type QueueSelector interface {
	SelectQueue(category Category) (queueName string, priority int)
}

// QueueSelectorFunc adapts a function to the QueueSelector interface.
type QueueSelectorFunc func(category Category) (string, int)

// SelectQueue calls the wrapped function.
func (f QueueSelectorFunc) SelectQueue(category Category) (string, int) {
	return f(category)
}

// Default queue names. Queues are configuration; these are the defaults
// the balancer and manager agree on out of the box.
const (
	QueueHeavy      = "heavy"
	QueueStandard   = "standard"
	QueueBackground = "background"
)

// QueueConfig describes one named queue.
type QueueConfig struct {
	// Name identifies the queue to the balancer and in stats.
	Name string

	// Share is the queue's weight in the worker pool's round-robin scan.
	// Higher shares get proportionally more executor attention.
	Share int

	// Capacity bounds the number of pending tasks; zero means unbounded.
	Capacity int
}

// CategoryConfig maps a category onto its home queue.
type CategoryConfig struct {
	// Queue is the category's default destination.
	Queue string

	// SoftTimeLimit, when non-zero, bounds each execution attempt with a
	// context deadline. Expiry is classified as transient.
	SoftTimeLimit time.Duration
}

// ManagerConfig holds configuration for the queue manager.
type ManagerConfig struct {
	Queues     []QueueConfig
	Categories map[Category]CategoryConfig

	// ResultRetention is how long terminal tasks remain retrievable.
	// Zero disables eviction.
	ResultRetention time.Duration

	// SweepInterval is how often the retention sweeper runs.
	// If zero, defaults to 1 minute.
	SweepInterval time.Duration
}

// DefaultManagerConfig returns a ManagerConfig with the default queue
// topology: a high-throughput heavy queue, a standard queue, and a
// low-concurrency background queue.
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		Queues: []QueueConfig{
			{Name: QueueHeavy, Share: 3, Capacity: 1000},
			{Name: QueueStandard, Share: 2, Capacity: 1000},
			{Name: QueueBackground, Share: 1, Capacity: 1000},
		},
		Categories: map[Category]CategoryConfig{
			CategoryExtraction: {Queue: QueueHeavy},
			CategoryProcessing: {Queue: QueueStandard},
			CategoryValidation: {Queue: QueueBackground},
			CategoryCleanup:    {Queue: QueueBackground},
		},
		ResultRetention: time.Hour,
		SweepInterval:   time.Minute,
	}
}

// Manager owns the task registry and the per-queue priority heaps. All
// task state lives here; the worker pool and callers mutate it only
// through Manager methods. There is no package-level state: every
// Manager is independent and injectable.
type Manager struct {
	mu         sync.Mutex
	cfg        ManagerConfig
	selector   QueueSelector
	tasks      map[uuid.UUID]*taskRecord
	queues     map[string]*queue
	queueOrder []string
	seq        uint64
	closed     bool

	// wake is signalled (non-blocking) whenever a task becomes
	// dequeueable, so idle workers need not poll.
	wake chan struct{}

	cancelSweep context.CancelFunc
	wg          sync.WaitGroup

	logger *slog.Logger

	// now is replaceable in tests
	now func() time.Time
}

// NewManager creates a Manager with the given configuration and queue
// selector. Every configured category must reference a configured queue.
func NewManager(cfg ManagerConfig, selector QueueSelector, logger *slog.Logger) (*Manager, error) {
	if len(cfg.Queues) == 0 {
		return nil, fmt.Errorf("at least one queue is required")
	}
	if selector == nil {
		return nil, fmt.Errorf("queue selector cannot be nil")
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = time.Minute
	}
	if cfg.Categories == nil {
		cfg.Categories = DefaultManagerConfig().Categories
	}

	m := &Manager{
		cfg:      cfg,
		selector: selector,
		tasks:    make(map[uuid.UUID]*taskRecord),
		queues:   make(map[string]*queue, len(cfg.Queues)),
		wake:     make(chan struct{}, 1),
		logger:   logger.With("component", "queue_manager"),
		now:      time.Now,
	}

	for _, qc := range cfg.Queues {
		if qc.Name == "" {
			return nil, fmt.Errorf("queue name cannot be empty")
		}
		if _, exists := m.queues[qc.Name]; exists {
			return nil, fmt.Errorf("duplicate queue %q", qc.Name)
		}
		m.queues[qc.Name] = newQueue(qc.Name, qc.Share, qc.Capacity)
		m.queueOrder = append(m.queueOrder, qc.Name)
	}

	for cat, cc := range cfg.Categories {
		if _, ok := m.queues[cc.Queue]; !ok {
			return nil, fmt.Errorf("category %q references unknown queue %q", cat, cc.Queue)
		}
	}

	return m, nil
}

// Start launches the retention sweeper. It returns immediately.
func (m *Manager) Start(ctx context.Context) {
	if m.cfg.ResultRetention <= 0 {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	m.mu.Lock()
	m.cancelSweep = cancel
	m.mu.Unlock()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()

		ticker := time.NewTicker(m.cfg.SweepInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.sweep()
			}
		}
	}()
}

// Close stops accepting submissions and halts the sweeper. In-flight
// tasks finish under the worker pool's own shutdown.
func (m *Manager) Close() {
	m.mu.Lock()
	m.closed = true
	cancel := m.cancelSweep
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	m.wg.Wait()
}

// Submit validates the task spec, asks the queue selector for a destination
// unless the priority is explicitly overridden, and enqueues the task.
// It never blocks on queue pressure: a full queue returns ErrQueueFull
// immediately.
func (m *Manager) Submit(ctx context.Context, spec TaskSpec) (uuid.UUID, error) {
	if !spec.Category.Valid() {
		return uuid.Nil, fmt.Errorf("%w: %q", ErrUnknownCategory, spec.Category)
	}
	if spec.Work == nil {
		return uuid.Nil, ErrNilWork
	}
	if spec.Priority != 0 && (spec.Priority < MinPriority || spec.Priority > MaxPriority) {
		return uuid.Nil, fmt.Errorf("%w: got %d", ErrInvalidPriority, spec.Priority)
	}

	// Advisory read of shared load state; deliberately outside the lock.
	queueName, priority := m.selector.SelectQueue(spec.Category)
	if spec.Priority != 0 {
		priority = spec.Priority
	}
	priority = clampPriority(priority)

	m.mu.Lock()

	if m.closed {
		m.mu.Unlock()
		return uuid.Nil, ErrManagerClosed
	}

	q, ok := m.queues[queueName]
	if !ok {
		// The balancer named a queue this manager does not carry; fall
		// back to the category's home queue.
		home := m.cfg.Categories[spec.Category].Queue
		q = m.queues[home]
		m.logger.Warn("selector returned unknown queue, using category default",
			"selected_queue", queueName,
			"category", spec.Category,
			"fallback_queue", home)
		queueName = home
	}

	m.seq++
	rec := &taskRecord{
		id:          uuid.New(),
		category:    spec.Category,
		queue:       queueName,
		priority:    priority,
		status:      StatusPending,
		submittedAt: m.now(),
		work:        spec.Work,
		sink:        spec.Sink,
		seq:         m.seq,
		heapIndex:   -1,
		done:        make(chan struct{}),
	}

	if err := q.push(rec); err != nil {
		m.mu.Unlock()
		return uuid.Nil, fmt.Errorf("%w: queue %q", err, queueName)
	}
	m.tasks[rec.id] = rec

	m.mu.Unlock()
	m.signalWake()

	m.logger.Debug("task submitted",
		"task_id", rec.id,
		"category", spec.Category,
		"queue", queueName,
		"priority", priority)

	return rec.id, nil
}

// GetStatus returns a consistent snapshot of the task, or ErrTaskNotFound.
func (m *Manager) GetStatus(id uuid.UUID) (TaskSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.tasks[id]
	if !ok {
		return TaskSnapshot{}, ErrTaskNotFound
	}
	return rec.snapshot(), nil
}

// Done returns a channel closed when the task reaches a terminal status.
func (m *Manager) Done(id uuid.UUID) (<-chan struct{}, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.tasks[id]
	if !ok {
		return nil, ErrTaskNotFound
	}
	return rec.done, nil
}

// GetResult waits up to timeout for the task to finish. A zero timeout is
// non-blocking: if the task is not terminal, ErrStillRunning is returned
// and the caller should poll again. Failures come back as a *TaskError;
// cancellation as ErrTaskCancelled. The wait is a notification wait on the
// task's done channel, never a poll loop.
func (m *Manager) GetResult(ctx context.Context, id uuid.UUID, timeout time.Duration) (any, error) {
	m.mu.Lock()
	rec, ok := m.tasks[id]
	if !ok {
		m.mu.Unlock()
		return nil, ErrTaskNotFound
	}
	if rec.status.Terminal() {
		defer m.mu.Unlock()
		return m.resultLocked(rec)
	}
	if timeout <= 0 {
		m.mu.Unlock()
		return nil, ErrStillRunning
	}
	done := rec.done
	m.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-done:
	case <-timer.C:
		return nil, ErrStillRunning
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	return m.resultLocked(rec)
}

// resultLocked maps a terminal record onto the GetResult contract.
func (m *Manager) resultLocked(rec *taskRecord) (any, error) {
	switch rec.status {
	case StatusSucceeded:
		return rec.result, nil
	case StatusFailed:
		return nil, &TaskError{TaskID: rec.id, Err: rec.lastErr}
	case StatusCancelled:
		return nil, ErrTaskCancelled
	default:
		return nil, ErrStillRunning
	}
}

// Cancel cancels a task. Pending tasks transition to cancelled
// immediately; running tasks get the cooperative cancellation flag and
// their work context cancelled, and finish on the worker's terms. Returns
// false when the task is unknown or already terminal.
func (m *Manager) Cancel(id uuid.UUID) bool {
	m.mu.Lock()

	rec, ok := m.tasks[id]
	if !ok || rec.status.Terminal() {
		m.mu.Unlock()
		return false
	}

	switch rec.status {
	case StatusPending:
		m.queues[rec.queue].remove(rec)
		rec.status = StatusCancelled
		rec.finishedAt = m.now()
		close(rec.done)
		m.mu.Unlock()

		m.logger.Debug("pending task cancelled", "task_id", id)
		return true

	case StatusRunning:
		rec.cancelRequested = true
		cancel := rec.cancelWork
		m.mu.Unlock()

		if cancel != nil {
			cancel()
		}
		m.logger.Debug("running task marked for cancellation", "task_id", id)
		return true
	}

	m.mu.Unlock()
	return false
}

// Evict removes a terminal task from the registry ahead of the retention
// sweeper, for external persistence collaborators that have copied the
// record out. Returns false while the task is still live.
func (m *Manager) Evict(id uuid.UUID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.tasks[id]
	if !ok || !rec.status.Terminal() {
		return false
	}
	delete(m.tasks, id)
	return true
}

// Stats returns the aggregate scheduling statistics.
func (m *Manager) Stats() ManagerStats {
	m.mu.Lock()
	defer m.mu.Unlock()

	stats := ManagerStats{Queues: make(map[string]QueueStats, len(m.queues))}
	for _, name := range m.queueOrder {
		q := m.queues[name]
		stats.Queues[name] = QueueStats{
			Length:        q.heap.Len(),
			Active:        q.active,
			AvgCompletion: time.Duration(q.avgCompletion()),
		}
		stats.ActiveTasks += q.active
	}
	return stats
}

// QueueStats reports per-queue state for the load balancer's advisory
// length adjustments.
func (m *Manager) QueueStats() map[string]QueueStats {
	return m.Stats().Queues
}

// reportProgress publishes a progress update for a running task. Progress
// is clamped to 0-100 and never decreases; the step label is last-write-
// wins. The sink, when present, is invoked outside the lock.
func (m *Manager) reportProgress(id uuid.UUID, progress int, step string) {
	if progress < 0 {
		progress = 0
	}
	if progress > 100 {
		progress = 100
	}

	m.mu.Lock()
	rec, ok := m.tasks[id]
	if !ok || rec.status != StatusRunning {
		m.mu.Unlock()
		return
	}
	if progress > rec.progress {
		rec.progress = progress
	}
	if step != "" {
		rec.currentStep = step
	}
	published := rec.progress
	sink := rec.sink
	m.mu.Unlock()

	if sink != nil {
		sink(id, published, step)
	}
}

// cancelRequested reports the cooperative cancellation flag for a task.
func (m *Manager) cancelRequested(id uuid.UUID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.tasks[id]
	return ok && rec.cancelRequested
}

// tryDequeue pops the highest-priority pending task from the named queue.
func (m *Manager) tryDequeue(queueName string) *taskRecord {
	m.mu.Lock()
	defer m.mu.Unlock()

	q, ok := m.queues[queueName]
	if !ok {
		return nil
	}
	return q.pop()
}

// markRunning transitions a dequeued task to running and derives its work
// context from parent, honoring the category's soft time limit. Returns
// ok=false when the task was cancelled between dequeue and start.
func (m *Manager) markRunning(parent context.Context, rec *taskRecord) (context.Context, context.CancelFunc, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if rec.status != StatusPending || rec.cancelRequested {
		return nil, nil, false
	}

	rec.status = StatusRunning
	if rec.startedAt.IsZero() {
		rec.startedAt = m.now()
	}
	m.queues[rec.queue].active++

	var ctx context.Context
	var cancel context.CancelFunc
	if limit := m.cfg.Categories[rec.category].SoftTimeLimit; limit > 0 {
		ctx, cancel = context.WithTimeout(parent, limit)
	} else {
		ctx, cancel = context.WithCancel(parent)
	}
	rec.cancelWork = cancel

	return ctx, cancel, true
}

// finish transitions a running task to a terminal status and notifies
// waiters. Safe against double completion.
func (m *Manager) finish(rec *taskRecord, status Status, result any, err error) {
	m.mu.Lock()
	m.finishLocked(rec, status, result, err)
	m.mu.Unlock()
}

func (m *Manager) finishLocked(rec *taskRecord, status Status, result any, err error) {
	if rec.status.Terminal() {
		return
	}

	wasRunning := rec.status == StatusRunning
	rec.status = status
	rec.finishedAt = m.now()
	rec.cancelWork = nil

	if status == StatusSucceeded {
		rec.result = result
		rec.progress = 100
	}
	if err != nil {
		rec.lastErr = err
	}

	q := m.queues[rec.queue]
	if wasRunning {
		q.active--
	}
	if status == StatusSucceeded && !rec.startedAt.IsZero() {
		q.recordCompletion(rec.finishedAt.Sub(rec.startedAt).Nanoseconds())
	}

	close(rec.done)
}

// retryOrFail decides the fate of a transiently failed running task: when
// attempts remain it moves the task back to pending (the caller
// re-enqueues it after backoff via enqueueRetry) and returns the new
// attempt number; otherwise it fails the task with the final error.
func (m *Manager) retryOrFail(rec *taskRecord, err error, maxRetries int) (scheduled bool, attempt int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if rec.status != StatusRunning {
		return false, rec.retryCount
	}

	if rec.retryCount < maxRetries {
		rec.status = StatusPending
		rec.retryCount++
		rec.lastErr = err
		rec.cancelWork = nil
		m.queues[rec.queue].active--
		return true, rec.retryCount
	}

	m.finishLocked(rec, StatusFailed, nil, err)
	return false, rec.retryCount
}

// enqueueRetry puts a retried task back into its queue once its backoff
// has elapsed. No-op if the task was cancelled or the manager closed in
// the meantime; a full queue fails the task.
func (m *Manager) enqueueRetry(rec *taskRecord) {
	m.mu.Lock()

	if m.closed || rec.status != StatusPending {
		m.mu.Unlock()
		return
	}

	if err := m.queues[rec.queue].push(rec); err != nil {
		rec.status = StatusFailed
		rec.finishedAt = m.now()
		rec.lastErr = fmt.Errorf("requeue failed: %w", err)
		close(rec.done)
		m.mu.Unlock()

		m.logger.Error("failed to requeue task, queue full",
			"task_id", rec.id,
			"queue", rec.queue)
		return
	}

	m.mu.Unlock()
	m.signalWake()
}

// sweep evicts terminal tasks older than the retention window.
func (m *Manager) sweep() {
	cutoff := m.now().Add(-m.cfg.ResultRetention)

	m.mu.Lock()
	evicted := 0
	for id, rec := range m.tasks {
		if rec.status.Terminal() && rec.finishedAt.Before(cutoff) {
			delete(m.tasks, id)
			evicted++
		}
	}
	m.mu.Unlock()

	if evicted > 0 {
		m.logger.Debug("evicted expired task records", "count", evicted)
	}
}

// queueShares returns the configured queues and shares for the worker
// pool's weighted round-robin scan order.
func (m *Manager) queueShares() []QueueConfig {
	return m.cfg.Queues
}

// wakeSignal exposes the wake channel to the worker pool.
func (m *Manager) wakeSignal() <-chan struct{} {
	return m.wake
}

func (m *Manager) signalWake() {
	select {
	case m.wake <- struct{}{}:
	default:
	}
}

func clampPriority(p int) int {
	if p < MinPriority {
		return MinPriority
	}
	if p > MaxPriority {
		return MaxPriority
	}
	return p
}
