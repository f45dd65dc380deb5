package credential

import (
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/docvet/scheduler/internal/redact"
)

// ErrNoneAvailable is returned by Select when every credential is
// blacklisted and still inside its cooldown. Callers must treat this as
// retryable, not fatal.
var ErrNoneAvailable = errors.New("no credentials available")

// latencyWindow bounds the rolling response-time history per credential.
const latencyWindow = 10

// Config holds tunables for blacklist and cooldown behavior.
type Config struct {
	// BlacklistThreshold is the consecutive-error count at which a
	// credential is blacklisted. If zero, defaults to 3.
	BlacklistThreshold int

	// BaseCooldown is the cooldown applied at the threshold; each further
	// consecutive error doubles it. If zero, defaults to 30 seconds.
	BaseCooldown time.Duration

	// MaxCooldown caps the computed cooldown. If zero, defaults to 10 minutes.
	MaxCooldown time.Duration

	// BackoffCap bounds the doubling exponent. If zero, defaults to 5.
	BackoffCap int
}

// DefaultConfig returns a Config with reasonable defaults.
func DefaultConfig() Config {
	return Config{
		BlacklistThreshold: 3,
		BaseCooldown:       30 * time.Second,
		MaxCooldown:        10 * time.Minute,
		BackoffCap:         5,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.BlacklistThreshold <= 0 {
		c.BlacklistThreshold = d.BlacklistThreshold
	}
	if c.BaseCooldown <= 0 {
		c.BaseCooldown = d.BaseCooldown
	}
	if c.MaxCooldown <= 0 {
		c.MaxCooldown = d.MaxCooldown
	}
	if c.BackoffCap <= 0 {
		c.BackoffCap = d.BackoffCap
	}
	return c
}

// Status is a read-only snapshot of one credential's state.
type Status struct {
	ID                string
	UsageCount        int64
	SuccessCount      int64
	ConsecutiveErrors int
	Blacklisted       bool
	BlacklistedUntil  time.Time
	AvgResponseTime   time.Duration
}

// Stats summarizes the rotator for the aggregate statistics contract.
type Stats struct {
	Total       int
	Available   int
	Blacklisted int
}

// credentialState is the mutable per-credential record, guarded by the
// rotator mutex.
type credentialState struct {
	id                string
	order             int
	usageCount        int64
	successCount      int64
	consecutiveErrors int
	blacklistedUntil  time.Time
	latencies         []time.Duration
}

// blacklisted reports whether the credential is inside an active cooldown.
// Cooldown expiry is implicit un-blacklisting; no reset call exists.
func (c *credentialState) blacklisted(now time.Time) bool {
	return now.Before(c.blacklistedUntil)
}

// Rotator owns credential state and selects the least-loaded eligible
// credential per outbound call. Safe for concurrent use.
type Rotator struct {
	mu    sync.Mutex
	creds []*credentialState
	byID  map[string]*credentialState
	cfg   Config

	// exhaustedSince is set when the last eligible credential gets
	// blacklisted, and cleared once any credential is eligible again.
	exhaustedSince time.Time

	logger *slog.Logger

	// now and jitter are replaceable in tests
	now    func() time.Time
	jitter func() float64
}

// NewRotator creates a Rotator over the given credential identifiers.
// The slice order defines tie-breaking priority for Select. Empty and
// duplicate identifiers are rejected.
func NewRotator(ids []string, cfg Config, logger *slog.Logger) (*Rotator, error) {
	if len(ids) == 0 {
		return nil, errors.New("at least one credential is required")
	}

	r := &Rotator{
		byID:   make(map[string]*credentialState, len(ids)),
		cfg:    cfg.withDefaults(),
		logger: logger.With("component", "credential_rotator"),
		now:    time.Now,
		jitter: rand.Float64,
	}

	for i, id := range ids {
		if id == "" {
			return nil, fmt.Errorf("credential %d is empty", i)
		}
		if _, exists := r.byID[id]; exists {
			return nil, fmt.Errorf("duplicate credential %s", redact.CredentialID(id))
		}
		state := &credentialState{id: id, order: i}
		r.creds = append(r.creds, state)
		r.byID[id] = state
	}

	r.logger.Info("credential rotator initialized", "credentials", len(r.creds))
	return r, nil
}

// Select returns the identifier of the non-blacklisted credential with the
// lowest cumulative usage count, ties broken by configuration order. When
// every credential is inside its cooldown, ErrNoneAvailable is returned.
func (r *Rotator) Select() (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()

	var best *credentialState
	for _, c := range r.creds {
		if c.blacklisted(now) {
			continue
		}
		if best == nil || c.usageCount < best.usageCount {
			best = c
		}
	}

	if best == nil {
		if r.exhaustedSince.IsZero() {
			r.exhaustedSince = now
		}
		return "", ErrNoneAvailable
	}

	r.exhaustedSince = time.Time{}
	return best.id, nil
}

// ReportOutcome records the result of an outbound call made with the
// credential. Success resets the consecutive-error count; failure may
// blacklist the credential with an exponential-backoff cooldown.
func (r *Rotator) ReportOutcome(id string, success bool) {
	r.ReportLatency(id, success, 0)
}

// ReportLatency is ReportOutcome with an observed response time, folded
// into a rolling per-credential average.
func (r *Rotator) ReportLatency(id string, success bool, elapsed time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.byID[id]
	if !ok {
		r.logger.Warn("outcome reported for unknown credential",
			"credential", redact.CredentialID(id))
		return
	}

	c.usageCount++

	if elapsed > 0 {
		c.latencies = append(c.latencies, elapsed)
		if len(c.latencies) > latencyWindow {
			c.latencies = c.latencies[len(c.latencies)-latencyWindow:]
		}
	}

	if success {
		c.successCount++
		c.consecutiveErrors = 0
		return
	}

	c.consecutiveErrors++
	if c.consecutiveErrors < r.cfg.BlacklistThreshold {
		return
	}

	cooldown := r.cooldown(c.consecutiveErrors)
	c.blacklistedUntil = r.now().Add(cooldown)

	r.logger.Warn("credential blacklisted",
		"credential", redact.CredentialID(id),
		"consecutive_errors", c.consecutiveErrors,
		"cooldown", cooldown)

	if r.eligibleCountLocked() == 0 && r.exhaustedSince.IsZero() {
		r.exhaustedSince = r.now()
		r.logger.Error("all credentials blacklisted")
	}
}

// cooldown computes base x 2^min(errors-threshold, cap), scaled by jitter
// in [0.5, 1.0) and capped at MaxCooldown.
func (r *Rotator) cooldown(consecutiveErrors int) time.Duration {
	exp := consecutiveErrors - r.cfg.BlacklistThreshold
	if exp > r.cfg.BackoffCap {
		exp = r.cfg.BackoffCap
	}
	if exp < 0 {
		exp = 0
	}

	d := r.cfg.BaseCooldown << uint(exp)
	d = time.Duration(float64(d) * (0.5 + 0.5*r.jitter()))
	if d > r.cfg.MaxCooldown {
		d = r.cfg.MaxCooldown
	}
	return d
}

func (r *Rotator) eligibleCountLocked() int {
	now := r.now()
	count := 0
	for _, c := range r.creds {
		if !c.blacklisted(now) {
			count++
		}
	}
	return count
}

// Snapshot returns the state of every credential, ordered by identifier.
func (r *Rotator) Snapshot() []Status {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	statuses := make([]Status, 0, len(r.creds))
	for _, c := range r.creds {
		statuses = append(statuses, Status{
			ID:                c.id,
			UsageCount:        c.usageCount,
			SuccessCount:      c.successCount,
			ConsecutiveErrors: c.consecutiveErrors,
			Blacklisted:       c.blacklisted(now),
			BlacklistedUntil:  c.blacklistedUntil,
			AvgResponseTime:   avgLatency(c.latencies),
		})
	}

	sort.Slice(statuses, func(i, j int) bool { return statuses[i].ID < statuses[j].ID })
	return statuses
}

// Stats returns aggregate counts for the monitoring contract.
func (r *Rotator) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()

	available := r.eligibleCountLocked()
	return Stats{
		Total:       len(r.creds),
		Available:   available,
		Blacklisted: len(r.creds) - available,
	}
}

// AllBlacklistedSince reports when the rotator last became fully
// exhausted, if it currently is. The scheduler uses this to surface a
// sustained service-unavailable signal.
func (r *Rotator) AllBlacklistedSince() (time.Time, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.eligibleCountLocked() > 0 {
		r.exhaustedSince = time.Time{}
		return time.Time{}, false
	}
	if r.exhaustedSince.IsZero() {
		r.exhaustedSince = r.now()
	}
	return r.exhaustedSince, true
}

func avgLatency(latencies []time.Duration) time.Duration {
	if len(latencies) == 0 {
		return 0
	}
	var total time.Duration
	for _, l := range latencies {
		total += l
	}
	return total / time.Duration(len(latencies))
}
