package balance

import (
	"log/slog"
	"sync"
	"time"

	"github.com/docvet/scheduler/internal/sched"
	"github.com/docvet/scheduler/internal/sysmon"
)

// QueueStater reports per-queue state for length-aware adjustments.
// Satisfied by the queue manager.
type QueueStater interface {
	QueueStats() map[string]sched.QueueStats
}

// CategoryPolicy holds the balancing defaults for one task category.
type CategoryPolicy struct {
	// Queue is the category's destination under normal load.
	Queue string

	// Fallback is the lower-concurrency destination under high load.
	Fallback string

	// BasePriority is the category's default priority tier (1-10).
	// The urgent tier (9-10) stays reachable via explicit priority
	// override at submission.
	BasePriority int

	// BaseBatch is the recommended submission batch size under
	// moderate load.
	BaseBatch int
}

// Config holds the balancer thresholds. Every value is a tunable; the
// defaults carry the empirically chosen constants this balancer shipped
// with and are not load-bearing behavior.
type Config struct {
	// HighWaterCPU and HighWaterMem mark the load above which priorities
	// drop and tasks steer to their fallback queue.
	HighWaterCPU float64
	HighWaterMem float64

	// ThrottleCPU and ThrottleMem are the ceilings above which
	// ShouldThrottle advises submitters to back off.
	ThrottleCPU float64
	ThrottleMem float64

	// SustainWindow is how long load must stay above the throttle
	// ceiling before throttling engages. Zero engages immediately;
	// a single sample below both ceilings resets the window.
	SustainWindow time.Duration

	// ReduceStep is subtracted from the base priority under high load,
	// floored at the minimum priority.
	ReduceStep int

	// LongQueue and ShortQueue are the queue lengths at which priority
	// is nudged down or up by one.
	LongQueue  int
	ShortQueue int

	// Batch scaling thresholds: above the high marks the batch halves,
	// below both low marks it doubles, clamped to MinBatch..MaxBatch.
	BatchHighCPU float64
	BatchHighMem float64
	BatchLowCPU  float64
	BatchLowMem  float64
	MinBatch     int
	MaxBatch     int

	// Categories maps each category onto its policy.
	Categories map[sched.Category]CategoryPolicy
}

// DefaultConfig returns a Config with the default thresholds and
// category policies aligned with the manager's default queue topology.
func DefaultConfig() Config {
	return Config{
		HighWaterCPU:  80,
		HighWaterMem:  85,
		ThrottleCPU:   85,
		ThrottleMem:   90,
		SustainWindow: 0,
		ReduceStep:    1,
		LongQueue:     50,
		ShortQueue:    10,
		BatchHighCPU:  70,
		BatchHighMem:  75,
		BatchLowCPU:   30,
		BatchLowMem:   40,
		MinBatch:      1,
		MaxBatch:      10,
		Categories: map[sched.Category]CategoryPolicy{
			sched.CategoryExtraction: {
				Queue:        sched.QueueHeavy,
				Fallback:     sched.QueueStandard,
				BasePriority: 8,
				BaseBatch:    3,
			},
			sched.CategoryProcessing: {
				Queue:        sched.QueueStandard,
				Fallback:     sched.QueueBackground,
				BasePriority: 5,
				BaseBatch:    5,
			},
			sched.CategoryValidation: {
				Queue:        sched.QueueBackground,
				Fallback:     sched.QueueBackground,
				BasePriority: 3,
				BaseBatch:    2,
			},
			sched.CategoryCleanup: {
				Queue:        sched.QueueBackground,
				Fallback:     sched.QueueBackground,
				BasePriority: 2,
				BaseBatch:    4,
			},
		},
	}
}

// Balancer makes queue, priority, throttle, and batch-size decisions
// from the latest load sample and queue depths. Safe for concurrent use.
type Balancer struct {
	sampler sysmon.Sampler
	cfg     Config
	logger  *slog.Logger

	mu     sync.Mutex
	queues QueueStater

	// overSince tracks how long load has been above the throttle
	// ceiling, for the sustain window.
	overSince time.Time

	// now is replaceable in tests
	now func() time.Time
}

// New creates a Balancer over the given sampler. Queue state is bound
// separately via BindQueueStats because the manager is constructed with
// the balancer as its selector.
func New(sampler sysmon.Sampler, cfg Config, logger *slog.Logger) *Balancer {
	if cfg.Categories == nil {
		cfg.Categories = DefaultConfig().Categories
	}
	if cfg.MinBatch < 1 {
		cfg.MinBatch = 1
	}
	if cfg.MaxBatch < cfg.MinBatch {
		cfg.MaxBatch = cfg.MinBatch
	}

	return &Balancer{
		sampler: sampler,
		cfg:     cfg,
		logger:  logger.With("component", "load_balancer"),
		now:     time.Now,
	}
}

// BindQueueStats attaches the queue-state source. Until bound, queue
// length adjustments are skipped.
func (b *Balancer) BindQueueStats(qs QueueStater) {
	b.mu.Lock()
	b.queues = qs
	b.mu.Unlock()
}

// SelectQueue returns the destination queue and priority for a category.
// Under high load the priority drops by ReduceStep (floored at the
// minimum) and the task steers to the category's fallback queue; a long
// destination queue nudges priority down one more, a short one nudges it
// up.
func (b *Balancer) SelectQueue(cat sched.Category) (string, int) {
	policy, ok := b.cfg.Categories[cat]
	if !ok {
		// Unknown categories are rejected upstream at submission; land
		// anything that slips through in the standard tier.
		policy = CategoryPolicy{
			Queue:        sched.QueueStandard,
			Fallback:     sched.QueueBackground,
			BasePriority: 4,
			BaseBatch:    3,
		}
	}

	sample := b.sampler.Sample()
	queueName := policy.Queue
	priority := policy.BasePriority

	if sample.CPUPercent > b.cfg.HighWaterCPU || sample.MemPercent > b.cfg.HighWaterMem {
		priority -= b.cfg.ReduceStep
		queueName = policy.Fallback

		b.logger.Debug("high load, steering to fallback queue",
			"category", cat,
			"cpu_percent", sample.CPUPercent,
			"mem_percent", sample.MemPercent,
			"queue", queueName)
	}

	if length, ok := b.queueLength(queueName); ok {
		switch {
		case length > b.cfg.LongQueue:
			priority--
		case length < b.cfg.ShortQueue:
			priority++
		}
	}

	if priority < sched.MinPriority {
		priority = sched.MinPriority
	}
	if priority > sched.MaxPriority {
		priority = sched.MaxPriority
	}

	return queueName, priority
}

// ShouldThrottle reports whether submitters should back off. True once
// CPU or memory has stayed above its ceiling for the sustain window; a
// sample below both ceilings resets the window.
func (b *Balancer) ShouldThrottle() bool {
	sample := b.sampler.Sample()
	over := sample.CPUPercent > b.cfg.ThrottleCPU || sample.MemPercent > b.cfg.ThrottleMem

	b.mu.Lock()
	defer b.mu.Unlock()

	if !over {
		b.overSince = time.Time{}
		return false
	}

	now := b.now()
	if b.overSince.IsZero() {
		b.overSince = now
	}
	return now.Sub(b.overSince) >= b.cfg.SustainWindow
}

// RecommendedBatchSize returns the submission batch size for a category,
// scaled inversely with current load: halved under heavy load, doubled
// when the host is quiet, clamped to the configured bounds.
func (b *Balancer) RecommendedBatchSize(cat sched.Category) int {
	policy, ok := b.cfg.Categories[cat]
	if !ok {
		policy = CategoryPolicy{BaseBatch: 3}
	}

	sample := b.sampler.Sample()
	size := policy.BaseBatch

	switch {
	case sample.CPUPercent > b.cfg.BatchHighCPU || sample.MemPercent > b.cfg.BatchHighMem:
		size /= 2
	case sample.CPUPercent < b.cfg.BatchLowCPU && sample.MemPercent < b.cfg.BatchLowMem:
		size *= 2
	}

	if size < b.cfg.MinBatch {
		size = b.cfg.MinBatch
	}
	if size > b.cfg.MaxBatch {
		size = b.cfg.MaxBatch
	}
	return size
}

func (b *Balancer) queueLength(queueName string) (int, bool) {
	b.mu.Lock()
	qs := b.queues
	b.mu.Unlock()

	if qs == nil {
		return 0, false
	}
	stats, ok := qs.QueueStats()[queueName]
	if !ok {
		return 0, false
	}
	return stats.Length, true
}
