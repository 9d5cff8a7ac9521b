// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package health

import (
	"sync"
	"time"

	ragerr "github.com/ragd-dev/ragd/pkg/errors"
)

const (
	DefaultCooldown    = 30 * time.Second
	DefaultMaxCooldown = 5 * time.Minute
)

// Tracker marks an upstream unavailable after a failure. The cooldown
// starts at base and doubles with each consecutive failure up to a ceiling; one
// success resets it. Once a cooldown elapses the upstream is tried again.
type Tracker struct {
	mu          sync.RWMutex
	base        time.Duration
	ceiling     time.Duration
	consecutive int
	failures    int64
	failedAt    time.Time
	now         func() time.Time
}

// NewTracker returns a healthy Tracker. base must be positive and ceiling
// at least base.
func NewTracker(base, ceiling time.Duration) (*Tracker, error) {
	if base <= 0 {
		return nil, ragerr.Errorf(ragerr.CodeConfigValidateInvalidValue,
			"health cooldown must be positive, got %s", base)
	}
	if ceiling < base {
		return nil, ragerr.Errorf(ragerr.CodeConfigValidateInvalidValue,
			"max health cooldown %s is shorter than base %s", ceiling, base)
	}
	return &Tracker{base: base, ceiling: ceiling, now: time.Now}, nil
}

// NewDefaultTracker uses DefaultCooldown and DefaultMaxCooldown.
func NewDefaultTracker() *Tracker {
	return &Tracker{base: DefaultCooldown, ceiling: DefaultMaxCooldown, now: time.Now}
}

// SetClock replaces the time source. Tests only.
func (t *Tracker) SetClock(now func() time.Time) {
	t.mu.Lock()
	t.now = now
	t.mu.Unlock()
}

// cooldownLocked is the wait after the current run of failures.
func (t *Tracker) cooldownLocked() time.Duration {
	d := t.base
	for i := 1; i < t.consecutive; i++ {
		d *= 2
		if d >= t.ceiling {
			return t.ceiling
		}
	}
	return d
}

func (t *Tracker) healthyLocked() bool {
	if t.consecutive == 0 {
		return true
	}
	return t.now().Sub(t.failedAt) >= t.cooldownLocked()
}

// IsHealthy reports whether calls should be sent upstream.
func (t *Tracker) IsHealthy() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.healthyLocked()
}

func (t *Tracker) RecordSuccess() {
	t.mu.Lock()
	t.consecutive = 0
	t.mu.Unlock()
}

func (t *Tracker) RecordFailure() {
	t.mu.Lock()
	t.consecutive++
	t.failures++
	t.failedAt = t.now()
	t.mu.Unlock()
}

// HealthMetrics implements Reporter. FailureCount is cumulative and
// survives successes.
func (t *Tracker) HealthMetrics() Metrics {
	t.mu.RLock()
	defer t.mu.RUnlock()

	m := Metrics{FailureCount: t.failures, Available: t.healthyLocked()}
	if t.failures > 0 {
		at := t.failedAt
		m.LastFailureAt = &at
	}
	if t.consecutive > 0 {
		until := t.failedAt.Add(t.cooldownLocked())
		m.CooldownUntil = &until
	}
	return m
}
