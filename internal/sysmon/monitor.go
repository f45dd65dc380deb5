package sysmon

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/mem"
)

// LoadSample is an immutable snapshot of host resource utilization.
// A new sample supersedes the previous one; samples are never mutated
// after publication.
type LoadSample struct {
	// CPUPercent is total CPU utilization in the range 0-100.
	CPUPercent float64

	// MemPercent is virtual memory utilization in the range 0-100.
	MemPercent float64

	// SampledAt is when the underlying probe last succeeded.
	SampledAt time.Time

	// Stale indicates the probe failed and this sample carries
	// last-known-good (or neutral default) values.
	Stale bool
}

// Sampler provides the current load snapshot. Consumers accept this
// interface so tests can inject fixed samples.
type Sampler interface {
	Sample() LoadSample
}

// FixedSampler returns the same sample on every call. Useful in tests
// and as a stand-in when monitoring is disabled.
type FixedSampler LoadSample

// Sample returns the fixed sample.
func (f FixedSampler) Sample() LoadSample {
	return LoadSample(f)
}

// Probe reads current CPU and memory utilization percentages.
// Implementations may block briefly; errors leave the monitor on its
// last-known-good sample.
type Probe func() (cpuPercent, memPercent float64, err error)

// MonitorConfig holds configuration for the resource monitor.
type MonitorConfig struct {
	// Interval determines how often the background refresher samples
	// and how old a cached sample may be before an on-demand Sample()
	// call triggers a refresh. If zero, defaults to 2 seconds.
	Interval time.Duration
}

// DefaultMonitorConfig returns a MonitorConfig with reasonable defaults.
func DefaultMonitorConfig() MonitorConfig {
	return MonitorConfig{
		Interval: 2 * time.Second,
	}
}

// Monitor caches the most recent load sample and refreshes it on a fixed
// interval. Probe failures never surface to callers: Sample() always
// returns a usable snapshot, flagged stale when the probe is failing.
type Monitor struct {
	mu         sync.Mutex
	probe      Probe
	interval   time.Duration
	last       LoadSample
	haveSample bool
	refreshing bool

	cancel context.CancelFunc
	wg     sync.WaitGroup
	logger *slog.Logger

	// now is replaceable in tests
	now func() time.Time
}

// NewMonitor creates a Monitor backed by gopsutil host probes.
func NewMonitor(cfg MonitorConfig, logger *slog.Logger) *Monitor {
	return NewMonitorWithProbe(cfg, hostProbe, logger)
}

// NewMonitorWithProbe creates a Monitor with a custom probe. Tests use
// this to script probe successes and failures.
func NewMonitorWithProbe(cfg MonitorConfig, probe Probe, logger *slog.Logger) *Monitor {
	interval := cfg.Interval
	if interval <= 0 {
		interval = DefaultMonitorConfig().Interval
	}

	return &Monitor{
		probe:    probe,
		interval: interval,
		logger:   logger.With("component", "sysmon"),
		now:      time.Now,
	}
}

// hostProbe reads utilization from the host via gopsutil.
func hostProbe() (float64, float64, error) {
	percents, err := cpu.Percent(0, false)
	if err != nil {
		return 0, 0, err
	}

	vm, err := mem.VirtualMemory()
	if err != nil {
		return 0, 0, err
	}

	var cpuPercent float64
	if len(percents) > 0 {
		cpuPercent = percents[0]
	}

	return cpuPercent, vm.UsedPercent, nil
}

// Start launches the background refresher. It returns immediately; the
// refresher stops when ctx is cancelled or Stop is called.
func (m *Monitor) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)

	m.mu.Lock()
	m.cancel = cancel
	m.mu.Unlock()

	// Prime the cache so the first Sample() call does not race the ticker.
	m.refresh()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()

		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.refresh()
			}
		}
	}()
}

// Stop halts the background refresher and waits for it to exit.
func (m *Monitor) Stop() {
	m.mu.Lock()
	cancel := m.cancel
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	m.wg.Wait()
}

// Sample returns the cached snapshot, refreshing synchronously when the
// cache is older than the configured interval. At most one refresh runs
// at a time; concurrent callers reuse the cached value.
func (m *Monitor) Sample() LoadSample {
	m.mu.Lock()
	fresh := m.haveSample && m.now().Sub(m.last.SampledAt) < m.interval
	if fresh || m.refreshing {
		sample := m.last
		m.mu.Unlock()
		return sample
	}
	m.refreshing = true
	m.mu.Unlock()

	m.refresh()

	m.mu.Lock()
	m.refreshing = false
	sample := m.last
	m.mu.Unlock()

	return sample
}

// refresh runs the probe and publishes a new sample. On probe failure the
// previous values are kept and flagged stale; before any success a neutral
// 50/50 sample is published so load-based decisions have a midpoint to
// work from.
func (m *Monitor) refresh() {
	cpuPercent, memPercent, err := m.probe()

	m.mu.Lock()
	defer m.mu.Unlock()

	if err != nil {
		m.logger.Warn("resource probe failed, keeping last-known-good sample",
			"error", err,
			"have_sample", m.haveSample)

		if !m.haveSample {
			m.last = LoadSample{
				CPUPercent: 50,
				MemPercent: 50,
				SampledAt:  m.now(),
				Stale:      true,
			}
			m.haveSample = true
			return
		}

		m.last.Stale = true
		return
	}

	m.last = LoadSample{
		CPUPercent: cpuPercent,
		MemPercent: memPercent,
		SampledAt:  m.now(),
	}
	m.haveSample = true
}
