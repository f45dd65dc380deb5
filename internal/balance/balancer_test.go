package balance

import (
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/docvet/scheduler/internal/sched"
	"github.com/docvet/scheduler/internal/sysmon"
	"github.com/stretchr/testify/assert"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))
}

func newTestBalancer(cpu, mem float64) *Balancer {
	sampler := sysmon.FixedSampler{CPUPercent: cpu, MemPercent: mem}
	return New(sampler, DefaultConfig(), testLogger())
}

// fixedStats satisfies QueueStater with static queue lengths.
type fixedStats map[string]sched.QueueStats

func (f fixedStats) QueueStats() map[string]sched.QueueStats {
	return f
}

func TestSelectQueueLowLoad(t *testing.T) {
	// Extraction at 20% CPU stays in the heavy queue at priority 8.
	b := newTestBalancer(20, 30)

	queueName, priority := b.SelectQueue(sched.CategoryExtraction)

	assert.Equal(t, sched.QueueHeavy, queueName)
	assert.Equal(t, 8, priority)
	assert.False(t, b.ShouldThrottle())
}

func TestSelectQueueHighLoad(t *testing.T) {
	// The same task at 92% CPU drops to priority 7, steers to the
	// fallback queue, and the balancer advises throttling.
	b := newTestBalancer(92, 30)

	queueName, priority := b.SelectQueue(sched.CategoryExtraction)

	assert.Equal(t, sched.QueueStandard, queueName)
	assert.Equal(t, 7, priority)
	assert.True(t, b.ShouldThrottle())
}

func TestSelectQueuePriorityFloor(t *testing.T) {
	// Cleanup at base priority 2 with a big reduce step floors at 1.
	cfg := DefaultConfig()
	cfg.ReduceStep = 5
	sampler := sysmon.FixedSampler{CPUPercent: 95, MemPercent: 95}
	b := New(sampler, cfg, testLogger())

	_, priority := b.SelectQueue(sched.CategoryCleanup)
	assert.Equal(t, sched.MinPriority, priority)
}

func TestSelectQueueCategoryDefaults(t *testing.T) {
	b := newTestBalancer(50, 50)

	tests := []struct {
		category sched.Category
		queue    string
		priority int
	}{
		{sched.CategoryExtraction, sched.QueueHeavy, 8},
		{sched.CategoryProcessing, sched.QueueStandard, 5},
		{sched.CategoryValidation, sched.QueueBackground, 3},
		{sched.CategoryCleanup, sched.QueueBackground, 2},
	}

	for _, tt := range tests {
		t.Run(string(tt.category), func(t *testing.T) {
			queueName, priority := b.SelectQueue(tt.category)
			assert.Equal(t, tt.queue, queueName)
			assert.Equal(t, tt.priority, priority)
		})
	}
}

func TestSelectQueueLengthAdjustments(t *testing.T) {
	b := newTestBalancer(50, 50)

	t.Run("long queue lowers priority", func(t *testing.T) {
		b.BindQueueStats(fixedStats{sched.QueueHeavy: {Length: 60}})
		_, priority := b.SelectQueue(sched.CategoryExtraction)
		assert.Equal(t, 7, priority)
	})

	t.Run("short queue raises priority", func(t *testing.T) {
		b.BindQueueStats(fixedStats{sched.QueueHeavy: {Length: 2}})
		_, priority := b.SelectQueue(sched.CategoryExtraction)
		assert.Equal(t, 9, priority)
	})

	t.Run("moderate queue leaves priority alone", func(t *testing.T) {
		b.BindQueueStats(fixedStats{sched.QueueHeavy: {Length: 25}})
		_, priority := b.SelectQueue(sched.CategoryExtraction)
		assert.Equal(t, 8, priority)
	})
}

func TestShouldThrottleThresholds(t *testing.T) {
	tests := []struct {
		name string
		cpu  float64
		mem  float64
		want bool
	}{
		{name: "both low", cpu: 20, mem: 30, want: false},
		{name: "cpu at ceiling", cpu: 85, mem: 30, want: false},
		{name: "cpu above ceiling", cpu: 86, mem: 30, want: true},
		{name: "mem above ceiling", cpu: 20, mem: 95, want: true},
		{name: "both above ceiling", cpu: 99, mem: 99, want: true},
		{name: "just below both", cpu: 84.9, mem: 89.9, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := newTestBalancer(tt.cpu, tt.mem)
			assert.Equal(t, tt.want, b.ShouldThrottle())
		})
	}
}

func TestShouldThrottleSustainWindow(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SustainWindow = 10 * time.Second
	sampler := sysmon.FixedSampler{CPUPercent: 95, MemPercent: 50}
	b := New(sampler, cfg, testLogger())

	base := time.Now()
	b.now = func() time.Time { return base }

	// A fresh spike does not throttle yet.
	assert.False(t, b.ShouldThrottle())

	// Still inside the window.
	b.now = func() time.Time { return base.Add(5 * time.Second) }
	assert.False(t, b.ShouldThrottle())

	// Sustained past the window.
	b.now = func() time.Time { return base.Add(11 * time.Second) }
	assert.True(t, b.ShouldThrottle())
}

func TestShouldThrottleWindowResets(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SustainWindow = 10 * time.Second

	sample := sysmon.LoadSample{CPUPercent: 95, MemPercent: 50}
	sampler := &swappableSampler{sample: sample}
	b := New(sampler, cfg, testLogger())

	base := time.Now()
	b.now = func() time.Time { return base }
	assert.False(t, b.ShouldThrottle())

	// Load dips below both ceilings; the window resets.
	sampler.sample = sysmon.LoadSample{CPUPercent: 40, MemPercent: 40}
	b.now = func() time.Time { return base.Add(6 * time.Second) }
	assert.False(t, b.ShouldThrottle())

	// Load spikes again; the old window does not carry over.
	sampler.sample = sysmon.LoadSample{CPUPercent: 95, MemPercent: 50}
	b.now = func() time.Time { return base.Add(12 * time.Second) }
	assert.False(t, b.ShouldThrottle())
}

type swappableSampler struct {
	sample sysmon.LoadSample
}

func (s *swappableSampler) Sample() sysmon.LoadSample {
	return s.sample
}

func TestRecommendedBatchSize(t *testing.T) {
	tests := []struct {
		name     string
		cpu      float64
		mem      float64
		category sched.Category
		want     int
	}{
		{name: "moderate load uses base", cpu: 50, mem: 50, category: sched.CategoryExtraction, want: 3},
		{name: "heavy load halves", cpu: 80, mem: 50, category: sched.CategoryProcessing, want: 2},
		{name: "heavy memory halves", cpu: 50, mem: 80, category: sched.CategoryProcessing, want: 2},
		{name: "quiet host doubles", cpu: 20, mem: 30, category: sched.CategoryProcessing, want: 10},
		{name: "halving floors at one", cpu: 90, mem: 90, category: sched.CategoryValidation, want: 1},
		{name: "doubling caps at max", cpu: 10, mem: 10, category: sched.CategoryExtraction, want: 6},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := newTestBalancer(tt.cpu, tt.mem)
			assert.Equal(t, tt.want, b.RecommendedBatchSize(tt.category))
		})
	}
}

func TestBatchSizeSmallerUnderLoadThanIdle(t *testing.T) {
	idle := newTestBalancer(20, 30)
	loaded := newTestBalancer(92, 30)

	assert.Less(t,
		loaded.RecommendedBatchSize(sched.CategoryExtraction),
		idle.RecommendedBatchSize(sched.CategoryExtraction))
}
