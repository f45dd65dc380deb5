package sched

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"runtime"
	"sync"
	"time"
)

// PoolConfig holds configuration options for the worker pool.
type PoolConfig struct {
	// Workers determines how many concurrent executors run.
	// If zero or negative, defaults to the host CPU count.
	Workers int

	// MaxRetries bounds requeues of transiently failing tasks. A task
	// that exhausts its retries is failed with the last error recorded.
	MaxRetries int

	// RetryBaseDelay is the backoff before the first retry; each further
	// retry doubles it, with jitter, capped at RetryMaxDelay.
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration

	// IdlePollInterval bounds how long an idle worker sleeps between
	// queue scans when no wake signal arrives. If zero, defaults to
	// 100 milliseconds.
	IdlePollInterval time.Duration
}

// DefaultPoolConfig returns a PoolConfig with reasonable defaults.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		Workers:          runtime.NumCPU(),
		MaxRetries:       3,
		RetryBaseDelay:   500 * time.Millisecond,
		RetryMaxDelay:    30 * time.Second,
		IdlePollInterval: 100 * time.Millisecond,
	}
}

// Pool is a fixed set of concurrent executors pulling tasks from the
// manager's queues. Executors scan queues in a weighted round-robin
// order proportional to each queue's configured share, so priority
// pressure in one category cannot starve the others. The pool size is
// the hard ceiling on concurrently running tasks.
type Pool struct {
	manager *Manager
	cfg     PoolConfig

	// scanOrder lists queue names with each queue repeated share times;
	// workers rotate their starting offset through it.
	scanOrder []string

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// retryTimers tracks pending backoff timers so Stop can halt them.
	timerMu     sync.Mutex
	retryTimers map[*time.Timer]struct{}

	logger *slog.Logger
}

// NewPool creates a worker pool over the manager's queues.
func NewPool(m *Manager, cfg PoolConfig, logger *slog.Logger) *Pool {
	if cfg.Workers <= 0 {
		cfg.Workers = runtime.NumCPU()
		if cfg.Workers < 1 {
			cfg.Workers = 1
		}
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.RetryBaseDelay <= 0 {
		cfg.RetryBaseDelay = DefaultPoolConfig().RetryBaseDelay
	}
	if cfg.RetryMaxDelay < cfg.RetryBaseDelay {
		cfg.RetryMaxDelay = DefaultPoolConfig().RetryMaxDelay
	}
	if cfg.IdlePollInterval <= 0 {
		cfg.IdlePollInterval = DefaultPoolConfig().IdlePollInterval
	}

	var order []string
	for _, qc := range m.queueShares() {
		share := qc.Share
		if share < 1 {
			share = 1
		}
		for i := 0; i < share; i++ {
			order = append(order, qc.Name)
		}
	}

	return &Pool{
		manager:     m,
		cfg:         cfg,
		scanOrder:   order,
		retryTimers: make(map[*time.Timer]struct{}),
		logger:      logger.With("component", "worker_pool"),
	}
}

// Start launches the executors. It returns immediately.
func (p *Pool) Start(ctx context.Context) {
	p.ctx, p.cancel = context.WithCancel(ctx)

	p.logger.Info("starting worker pool",
		"workers", p.cfg.Workers,
		"max_retries", p.cfg.MaxRetries)

	for i := 0; i < p.cfg.Workers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
}

// Stop cancels all executors and waits for in-flight tasks to finish
// their current attempt. Pending backoff timers are stopped.
func (p *Pool) Stop() {
	if p.cancel != nil {
		p.cancel()
	}

	p.timerMu.Lock()
	for t := range p.retryTimers {
		t.Stop()
	}
	p.retryTimers = make(map[*time.Timer]struct{})
	p.timerMu.Unlock()

	p.wg.Wait()
	p.logger.Info("worker pool stopped")
}

// worker is one executor loop. Each worker starts its queue scan at a
// different rotating offset so the pool's attention spreads across
// queues proportionally to their shares.
func (p *Pool) worker(id int) {
	defer p.wg.Done()

	p.logger.Debug("starting worker", "worker_id", id)

	offset := id
	wake := p.manager.wakeSignal()

	for {
		select {
		case <-p.ctx.Done():
			p.logger.Debug("stopping worker", "worker_id", id)
			return
		default:
		}

		rec := p.nextTask(offset)
		offset++

		if rec == nil {
			select {
			case <-p.ctx.Done():
				p.logger.Debug("stopping worker", "worker_id", id)
				return
			case <-wake:
			case <-time.After(p.cfg.IdlePollInterval):
			}
			continue
		}

		p.execute(rec, id)
	}
}

// nextTask scans the weighted queue order once, starting at offset.
func (p *Pool) nextTask(offset int) *taskRecord {
	n := len(p.scanOrder)
	if n == 0 {
		return nil
	}

	seen := make(map[string]bool, n)
	for i := 0; i < n; i++ {
		name := p.scanOrder[(offset+i)%n]
		if seen[name] {
			continue
		}
		seen[name] = true
		if rec := p.manager.tryDequeue(name); rec != nil {
			return rec
		}
	}
	return nil
}

// execute runs one task attempt and settles its outcome.
func (p *Pool) execute(rec *taskRecord, workerID int) {
	ctx, cancel, ok := p.manager.markRunning(p.ctx, rec)
	if !ok {
		// Cancelled between dequeue and start.
		return
	}
	defer cancel()

	logger := p.logger.With(
		"task_id", rec.id,
		"category", rec.category,
		"queue", rec.queue,
		"worker_id", workerID,
	)
	logger.Debug("executing task")

	reporter := &Reporter{m: p.manager, id: rec.id}

	var result any
	var err error
	func() {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("work function panicked: %v", r)
			}
		}()
		result, err = rec.work(ctx, reporter)
	}()

	switch {
	case err == nil:
		p.manager.finish(rec, StatusSucceeded, result, nil)
		logger.Info("task succeeded")

	case p.manager.cancelRequested(rec.id):
		p.manager.finish(rec, StatusCancelled, nil, nil)
		logger.Info("task cancelled")

	case errors.Is(err, context.Canceled):
		// Pool shutdown, not a task failure; leave the final word to a
		// future run. The manager records it as failed only when retries
		// are exhausted.
		p.settleTransient(rec, err, logger)

	case IsTransient(err):
		p.settleTransient(rec, err, logger)

	default:
		p.manager.finish(rec, StatusFailed, nil, err)
		logger.Warn("task failed permanently", "error", err)
	}
}

// settleTransient requeues a transiently failed task with backoff, or
// fails it once retries are exhausted.
func (p *Pool) settleTransient(rec *taskRecord, err error, logger *slog.Logger) {
	scheduled, attempt := p.manager.retryOrFail(rec, err, p.cfg.MaxRetries)
	if !scheduled {
		logger.Warn("task failed after exhausting retries",
			"retries", attempt,
			"error", err)
		return
	}

	delay := p.backoff(attempt)
	logger.Debug("retrying task after transient failure",
		"attempt", attempt,
		"delay", delay,
		"error", err)

	var timer *time.Timer
	timer = time.AfterFunc(delay, func() {
		p.timerMu.Lock()
		delete(p.retryTimers, timer)
		p.timerMu.Unlock()

		p.manager.enqueueRetry(rec)
	})

	p.timerMu.Lock()
	p.retryTimers[timer] = struct{}{}
	p.timerMu.Unlock()
}

// backoff computes base x 2^(attempt-1) with jitter in [0.5, 1.0),
// capped at RetryMaxDelay.
func (p *Pool) backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	d := p.cfg.RetryBaseDelay << uint(attempt-1)
	if d > p.cfg.RetryMaxDelay || d <= 0 {
		d = p.cfg.RetryMaxDelay
	}
	d = time.Duration(float64(d) * (0.5 + 0.5*rand.Float64()))
	return d
}
