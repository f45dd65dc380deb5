package sched

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/docvet/scheduler/internal/credential"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastPoolConfig(workers int) PoolConfig {
	return PoolConfig{
		Workers:          workers,
		MaxRetries:       3,
		RetryBaseDelay:   time.Millisecond,
		RetryMaxDelay:    5 * time.Millisecond,
		IdlePollInterval: 5 * time.Millisecond,
	}
}

func waitForStatus(t *testing.T, m *Manager, id uuid.UUID, want Status) TaskSnapshot {
	t.Helper()

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		snap, err := m.GetStatus(id)
		require.NoError(t, err)
		if snap.Status == want {
			return snap
		}
		time.Sleep(5 * time.Millisecond)
	}

	snap, _ := m.GetStatus(id)
	t.Fatalf("task %s never reached %s, last status %s", id, want, snap.Status)
	return TaskSnapshot{}
}

func TestPoolExecutesTask(t *testing.T) {
	m := newTestManager(t)
	p := NewPool(m, fastPoolConfig(2), testLogger())
	p.Start(context.Background())
	defer p.Stop()

	id, err := m.Submit(context.Background(), TaskSpec{
		Category: CategoryExtraction,
		Work: func(ctx context.Context, reporter *Reporter) (any, error) {
			reporter.Report(50, "halfway")
			return "done", nil
		},
	})
	require.NoError(t, err)

	snap := waitForStatus(t, m, id, StatusSucceeded)
	assert.Equal(t, 100, snap.Progress)

	result, err := m.GetResult(context.Background(), id, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "done", result)
}

func TestSingleWorkerCompletesInSubmissionOrder(t *testing.T) {
	// Five equal-priority tasks through a one-executor pool must finish
	// in submission order.
	m := newTestManager(t)

	var mu sync.Mutex
	var completed []uuid.UUID

	var ids []uuid.UUID
	for i := 0; i < 5; i++ {
		id, err := m.Submit(context.Background(), TaskSpec{
			Category: CategoryProcessing,
			Work: func(ctx context.Context, reporter *Reporter) (any, error) {
				mu.Lock()
				completed = append(completed, reporter.TaskID())
				mu.Unlock()
				return nil, nil
			},
		})
		require.NoError(t, err)
		ids = append(ids, id)
	}

	p := NewPool(m, fastPoolConfig(1), testLogger())
	p.Start(context.Background())
	defer p.Stop()

	for _, id := range ids {
		waitForStatus(t, m, id, StatusSucceeded)
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, ids, completed)
}

func TestTransientFailureRetriesExactlyMaxRetries(t *testing.T) {
	m := newTestManager(t)

	var mu sync.Mutex
	attempts := 0

	id, err := m.Submit(context.Background(), TaskSpec{
		Category: CategoryExtraction,
		Work: func(ctx context.Context, reporter *Reporter) (any, error) {
			mu.Lock()
			attempts++
			mu.Unlock()
			return nil, Transient(errors.New("upstream timeout"))
		},
	})
	require.NoError(t, err)

	cfg := fastPoolConfig(1)
	cfg.MaxRetries = 3
	p := NewPool(m, cfg, testLogger())
	p.Start(context.Background())
	defer p.Stop()

	snap := waitForStatus(t, m, id, StatusFailed)
	assert.Equal(t, 3, snap.RetryCount)
	assert.Contains(t, snap.ErrorMessage, "upstream timeout")

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 4, attempts) // initial attempt + 3 retries
}

func TestPermanentFailureDoesNotRetry(t *testing.T) {
	m := newTestManager(t)

	var mu sync.Mutex
	attempts := 0

	id, err := m.Submit(context.Background(), TaskSpec{
		Category: CategoryProcessing,
		Work: func(ctx context.Context, reporter *Reporter) (any, error) {
			mu.Lock()
			attempts++
			mu.Unlock()
			return nil, errors.New("malformed input")
		},
	})
	require.NoError(t, err)

	p := NewPool(m, fastPoolConfig(1), testLogger())
	p.Start(context.Background())
	defer p.Stop()

	snap := waitForStatus(t, m, id, StatusFailed)
	assert.Equal(t, 0, snap.RetryCount)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, attempts)
}

func TestCredentialExhaustionIsTransient(t *testing.T) {
	m := newTestManager(t)

	id, err := m.Submit(context.Background(), TaskSpec{
		Category: CategoryExtraction,
		Work: func(ctx context.Context, reporter *Reporter) (any, error) {
			return nil, credential.ErrNoneAvailable
		},
	})
	require.NoError(t, err)

	cfg := fastPoolConfig(1)
	cfg.MaxRetries = 2
	p := NewPool(m, cfg, testLogger())
	p.Start(context.Background())
	defer p.Stop()

	snap := waitForStatus(t, m, id, StatusFailed)
	assert.Equal(t, 2, snap.RetryCount)
}

func TestPanicFailsTaskPermanently(t *testing.T) {
	m := newTestManager(t)

	id, err := m.Submit(context.Background(), TaskSpec{
		Category: CategoryCleanup,
		Work: func(ctx context.Context, reporter *Reporter) (any, error) {
			panic("unexpected payload shape")
		},
	})
	require.NoError(t, err)

	p := NewPool(m, fastPoolConfig(1), testLogger())
	p.Start(context.Background())
	defer p.Stop()

	snap := waitForStatus(t, m, id, StatusFailed)
	assert.Equal(t, 0, snap.RetryCount)
	assert.Contains(t, snap.ErrorMessage, "panicked")
}

func TestCooperativeCancellation(t *testing.T) {
	m := newTestManager(t)

	started := make(chan struct{})
	release := make(chan struct{})

	id, err := m.Submit(context.Background(), TaskSpec{
		Category: CategoryExtraction,
		Work: func(ctx context.Context, reporter *Reporter) (any, error) {
			close(started)
			<-release
			if reporter.Cancelled() {
				return nil, errors.New("stopping at safe point")
			}
			return "finished", nil
		},
	})
	require.NoError(t, err)

	p := NewPool(m, fastPoolConfig(1), testLogger())
	p.Start(context.Background())
	defer p.Stop()

	<-started
	require.True(t, m.Cancel(id))
	close(release)

	waitForStatus(t, m, id, StatusCancelled)

	_, err = m.GetResult(context.Background(), id, time.Second)
	assert.ErrorIs(t, err, ErrTaskCancelled)
}

func TestWeightedFairnessAcrossQueues(t *testing.T) {
	// A flood of high-priority extraction tasks must not starve the
	// background queue: its tasks still complete while the heavy queue
	// drains.
	m := newTestManager(t)

	slow := func(ctx context.Context, reporter *Reporter) (any, error) {
		time.Sleep(2 * time.Millisecond)
		return nil, nil
	}

	for i := 0; i < 30; i++ {
		_, err := m.Submit(context.Background(), TaskSpec{
			Category: CategoryExtraction,
			Work:     slow,
			Priority: 10,
		})
		require.NoError(t, err)
	}

	var backgroundIDs []uuid.UUID
	for i := 0; i < 3; i++ {
		id, err := m.Submit(context.Background(), TaskSpec{
			Category: CategoryValidation,
			Work:     slow,
			Priority: 1,
		})
		require.NoError(t, err)
		backgroundIDs = append(backgroundIDs, id)
	}

	p := NewPool(m, fastPoolConfig(4), testLogger())
	p.Start(context.Background())
	defer p.Stop()

	for _, id := range backgroundIDs {
		waitForStatus(t, m, id, StatusSucceeded)
	}
}

func TestRunningNeverExceedsWorkerCount(t *testing.T) {
	m := newTestManager(t)

	const workers = 3
	var mu sync.Mutex
	running, maxRunning := 0, 0

	var ids []uuid.UUID
	for i := 0; i < 12; i++ {
		id, err := m.Submit(context.Background(), TaskSpec{
			Category: CategoryProcessing,
			Work: func(ctx context.Context, reporter *Reporter) (any, error) {
				mu.Lock()
				running++
				if running > maxRunning {
					maxRunning = running
				}
				mu.Unlock()

				time.Sleep(2 * time.Millisecond)

				mu.Lock()
				running--
				mu.Unlock()
				return nil, nil
			},
		})
		require.NoError(t, err)
		ids = append(ids, id)
	}

	p := NewPool(m, fastPoolConfig(workers), testLogger())
	p.Start(context.Background())
	defer p.Stop()

	for _, id := range ids {
		waitForStatus(t, m, id, StatusSucceeded)
	}

	mu.Lock()
	defer mu.Unlock()
	assert.LessOrEqual(t, maxRunning, workers)
}

func TestSoftTimeLimitExpiresAsTransient(t *testing.T) {
	cfg := DefaultManagerConfig()
	cfg.Categories[CategoryExtraction] = CategoryConfig{
		Queue:         QueueHeavy,
		SoftTimeLimit: 10 * time.Millisecond,
	}
	m, err := NewManager(cfg, fixedSelector(5), testLogger())
	require.NoError(t, err)

	id, err := m.Submit(context.Background(), TaskSpec{
		Category: CategoryExtraction,
		Work: func(ctx context.Context, reporter *Reporter) (any, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
	})
	require.NoError(t, err)

	poolCfg := fastPoolConfig(1)
	poolCfg.MaxRetries = 1
	p := NewPool(m, poolCfg, testLogger())
	p.Start(context.Background())
	defer p.Stop()

	snap := waitForStatus(t, m, id, StatusFailed)
	assert.Equal(t, 1, snap.RetryCount)
	assert.Contains(t, snap.ErrorMessage, "deadline")
}
