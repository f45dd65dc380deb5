// Package futures is the compatibility façade for callers written
// against a simple thread-pool submit/await idiom. A Future wraps a
// scheduler task ID; AsCompleted yields futures in completion order.
// Both are thin adapters over the queue manager's notification waits,
// with no polling loops.
package futures

import (
	"context"
	"sync"
	"time"

	"github.com/docvet/scheduler/internal/sched"
	"github.com/google/uuid"
)

// Future represents one submitted unit of work.
type Future struct {
	m  *sched.Manager
	id uuid.UUID

	// submitErr pre-fails the future when submission itself was
	// rejected; the batch as a whole still goes through.
	submitErr error
}

// TaskID returns the underlying task identifier, or uuid.Nil for a
// future whose submission failed.
func (f *Future) TaskID() uuid.UUID {
	return f.id
}

// Result waits up to timeout for the task to finish, mapping straight
// onto the manager's GetResult contract: sched.ErrStillRunning when the
// deadline passes first, a *sched.TaskError on failure, and
// sched.ErrTaskCancelled after cancellation.
func (f *Future) Result(ctx context.Context, timeout time.Duration) (any, error) {
	if f.submitErr != nil {
		return nil, f.submitErr
	}
	return f.m.GetResult(ctx, f.id, timeout)
}

// Done reports whether the task has reached a terminal status.
func (f *Future) Done() bool {
	if f.submitErr != nil {
		return true
	}
	snap, err := f.m.GetStatus(f.id)
	if err != nil {
		// Evicted after completion; there is nothing left to wait for.
		return true
	}
	return snap.Status.Terminal()
}

// Cancel requests cancellation of the underlying task.
func (f *Future) Cancel() bool {
	if f.submitErr != nil {
		return false
	}
	return f.m.Cancel(f.id)
}

// Err returns the submission error for a pre-failed future, nil
// otherwise.
func (f *Future) Err() error {
	return f.submitErr
}

// Executor submits batches of work to the scheduler.
type Executor struct {
	m *sched.Manager
}

// NewExecutor creates an Executor over the given manager.
func NewExecutor(m *sched.Manager) *Executor {
	return &Executor{m: m}
}

// Submit submits a single spec and returns its future. A submission
// error yields a pre-failed future rather than an error return, so call
// sites can treat every submission uniformly.
func (e *Executor) Submit(ctx context.Context, spec sched.TaskSpec) *Future {
	id, err := e.m.Submit(ctx, spec)
	if err != nil {
		return &Future{m: e.m, submitErr: err}
	}
	return &Future{m: e.m, id: id}
}

// SubmitAll submits every spec and returns one future per spec, in
// submission order. Individual rejections pre-fail their future; the
// rest of the batch proceeds.
func (e *Executor) SubmitAll(ctx context.Context, specs []sched.TaskSpec) []*Future {
	futs := make([]*Future, 0, len(specs))
	for _, spec := range specs {
		futs = append(futs, e.Submit(ctx, spec))
	}
	return futs
}

// AsCompleted returns a channel that yields each future as it completes,
// in completion order, then closes. The sequence is finite and
// single-pass. Waiting rides the manager's done-channel notifications;
// ctx cancellation abandons the remainder and closes the channel.
func AsCompleted(ctx context.Context, futs []*Future) <-chan *Future {
	out := make(chan *Future)

	var wg sync.WaitGroup
	for _, f := range futs {
		wg.Add(1)
		go func(f *Future) {
			defer wg.Done()

			if f.submitErr == nil {
				done, err := f.m.Done(f.id)
				if err == nil {
					select {
					case <-done:
					case <-ctx.Done():
						return
					}
				}
				// An evicted task counts as completed.
			}

			select {
			case out <- f:
			case <-ctx.Done():
			}
		}(f)
	}

	go func() {
		wg.Wait()
		close(out)
	}()

	return out
}
