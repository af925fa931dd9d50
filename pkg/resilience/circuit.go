// Copyright 2025 Settlenet

package resilience

import (
	"sync"
	"time"

	domainerrors "github.com/settlenet/engine/pkg/errors"
	"github.com/settlenet/engine/pkg/logging"
	"github.com/settlenet/engine/pkg/metrics"
)

// CircuitState is the brick monitor's state (spec.md §4.8).
type CircuitState int

const (
	CircuitClosed CircuitState = iota
	CircuitTripped
)

// BrickMonitor is a rolling-window success/failure circuit breaker that
// trips after K consecutive failures (or N failures within a window T) and
// refuses new commits until a cool-down elapses with a successful probe.
type BrickMonitor struct {
	mu sync.Mutex

	name       string
	k          int           // consecutive-failure threshold
	window     time.Duration // sliding window for the N-failures-in-T rule
	nFailures  int           // threshold within window
	cooldown   time.Duration

	consecutiveFailures int
	failureTimestamps   []time.Time
	state               CircuitState
	trippedAt           time.Time

	now func() time.Time

	log     *logging.Logger
	metrics *metrics.Metrics
}

// NewBrickMonitor constructs a monitor. nFailures <= 0 disables the
// windowed rule and relies on the consecutive-failure threshold alone.
func NewBrickMonitor(name string, k int, window, cooldown time.Duration, nFailures int, log *logging.Logger, m *metrics.Metrics) *BrickMonitor {
	return &BrickMonitor{
		name: name, k: k, window: window, cooldown: cooldown, nFailures: nFailures,
		now: time.Now, log: log, metrics: m,
	}
}

// Allow reports whether a new commit may proceed. It performs the
// cool-down-then-probe transition: once cooldown has elapsed since
// tripping, calls are let through until RecordSuccess or RecordFailure
// settles the state. Allow does not limit how many calls pass meanwhile.
func (b *BrickMonitor) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == CircuitClosed {
		return nil
	}

	if b.now().Sub(b.trippedAt) < b.cooldown {
		return domainerrors.Reject("resilience", "BrickMonitor.Allow", domainerrors.CodeCircuitTripped, nil).
			WithField("watchdog", b.name)
	}
	// Cooldown elapsed: let the probe through without resetting state
	// yet. RecordSuccess/RecordFailure decide the outcome.
	return nil
}

// RecordSuccess resets the breaker to closed.
func (b *BrickMonitor) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.consecutiveFailures = 0
	b.failureTimestamps = nil
	if b.state == CircuitTripped && b.log != nil {
		b.log.Info("brick monitor probe succeeded, closing circuit", "watchdog", b.name)
	}
	b.state = CircuitClosed
	b.setGauge(0)
}

// RecordFailure records a failure and trips the circuit if the
// consecutive-failure threshold or the windowed threshold is reached.
func (b *BrickMonitor) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	b.consecutiveFailures++
	b.failureTimestamps = append(b.failureTimestamps, now)
	b.failureTimestamps = pruneOlderThan(b.failureTimestamps, now, b.window)

	trip := b.consecutiveFailures >= b.k
	if b.nFailures > 0 && len(b.failureTimestamps) >= b.nFailures {
		trip = true
	}

	if trip && b.state == CircuitClosed {
		b.state = CircuitTripped
		b.trippedAt = now
		if b.log != nil {
			b.log.Error("brick monitor tripped", "watchdog", b.name, "consecutive_failures", b.consecutiveFailures)
		}
		b.setGauge(1)
	} else if b.state == CircuitTripped {
		// A failed probe during the tripped state restarts the cooldown
		// rather than leaving the original trip time in place.
		b.trippedAt = now
	}
}

func (b *BrickMonitor) setGauge(v float64) {
	if b.metrics != nil {
		b.metrics.CircuitState.WithLabelValues(b.name).Set(v)
	}
}

func pruneOlderThan(ts []time.Time, now time.Time, window time.Duration) []time.Time {
	cutoff := now.Add(-window)
	kept := ts[:0]
	for _, t := range ts {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	return kept
}
