package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docvet/scheduler/internal/credential"
	"github.com/docvet/scheduler/internal/sched"
	"github.com/docvet/scheduler/internal/sysmon"
)

type mockSchedulerStats struct {
	stats sched.ManagerStats
}

func (m *mockSchedulerStats) Stats() sched.ManagerStats { return m.stats }

type mockCredentialStats struct {
	stats          credential.Stats
	exhaustedSince time.Time
	exhausted      bool
}

func (m *mockCredentialStats) Stats() credential.Stats { return m.stats }

func (m *mockCredentialStats) AllBlacklistedSince() (time.Time, bool) {
	return m.exhaustedSince, m.exhausted
}

type throttlerFunc func() bool

func (f throttlerFunc) ShouldThrottle() bool { return f() }

func TestGetStats(t *testing.T) {
	scheduler := &mockSchedulerStats{stats: sched.ManagerStats{
		ActiveTasks: 2,
		Queues: map[string]sched.QueueStats{
			"heavy":    {Length: 5, Active: 2, AvgCompletion: 1500 * time.Millisecond},
			"standard": {Length: 0, Active: 0},
		},
	}}
	credentials := &mockCredentialStats{
		stats: credential.Stats{Total: 3, Available: 2, Blacklisted: 1},
	}
	sampler := sysmon.FixedSampler{CPUPercent: 42.5, MemPercent: 61.0}

	handler := NewStatsHandler(
		scheduler, credentials, sampler,
		throttlerFunc(func() bool { return true }),
		time.Minute, testLogger())

	req := httptest.NewRequest(http.MethodGet, "/api/stats", nil)
	rec := httptest.NewRecorder()
	handler.GetStats(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp StatsResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))

	assert.Equal(t, 2, resp.ActiveTasks)
	assert.Equal(t, 5, resp.Queues["heavy"].Length)
	assert.Equal(t, 2, resp.Queues["heavy"].Active)
	assert.InDelta(t, 1500.0, resp.Queues["heavy"].AvgCompletionMS, 0.001)
	assert.Equal(t, 3, resp.Credentials.Total)
	assert.Equal(t, 2, resp.Credentials.Available)
	assert.Equal(t, 1, resp.Credentials.Blacklisted)
	assert.InDelta(t, 42.5, resp.Resource.CPUPercent, 0.001)
	assert.InDelta(t, 61.0, resp.Resource.MemPercent, 0.001)
	assert.False(t, resp.Resource.Stale)
	assert.True(t, resp.Throttled)
	assert.False(t, resp.ServiceUnavailable)
}

func TestGetStatsStaleSample(t *testing.T) {
	handler := NewStatsHandler(
		&mockSchedulerStats{},
		&mockCredentialStats{},
		sysmon.FixedSampler{CPUPercent: 50, MemPercent: 50, Stale: true},
		throttlerFunc(func() bool { return false }),
		time.Minute, testLogger())

	req := httptest.NewRequest(http.MethodGet, "/api/stats", nil)
	rec := httptest.NewRecorder()
	handler.GetStats(rec, req)

	var resp StatsResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.True(t, resp.Resource.Stale)
}

func TestServiceUnavailableSignal(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name        string
		exhausted   bool
		since       time.Time
		unavailable bool
	}{
		{name: "credentials available", exhausted: false, unavailable: false},
		{name: "briefly exhausted", exhausted: true, since: base.Add(-30 * time.Second), unavailable: false},
		{name: "exhausted past grace period", exhausted: true, since: base.Add(-2 * time.Minute), unavailable: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			handler := NewStatsHandler(
				&mockSchedulerStats{},
				&mockCredentialStats{
					stats:          credential.Stats{Total: 2, Blacklisted: 2},
					exhausted:      tc.exhausted,
					exhaustedSince: tc.since,
				},
				sysmon.FixedSampler{},
				throttlerFunc(func() bool { return false }),
				time.Minute, testLogger())
			handler.now = func() time.Time { return base }

			req := httptest.NewRequest(http.MethodGet, "/api/stats", nil)
			rec := httptest.NewRecorder()
			handler.GetStats(rec, req)

			var resp StatsResponse
			require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
			assert.Equal(t, tc.unavailable, resp.ServiceUnavailable)
		})
	}
}

func TestHealthCheck(t *testing.T) {
	handler := NewStatsHandler(
		&mockSchedulerStats{},
		&mockCredentialStats{},
		sysmon.FixedSampler{},
		throttlerFunc(func() bool { return false }),
		time.Minute, testLogger())

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	handler.HealthCheck(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}
