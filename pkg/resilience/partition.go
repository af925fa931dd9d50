// Copyright 2025 Settlenet

package resilience

import (
	"sync"
	"time"

	domainerrors "github.com/settlenet/engine/pkg/errors"
	"github.com/settlenet/engine/pkg/logging"
	"github.com/settlenet/engine/pkg/metrics"
)

// PartitionGuard tracks the last-seen ledger slot and declares PARTITIONED
// if it has not advanced in more than its threshold (spec.md §4.8). While
// partitioned, commits are refused but intent ingestion continues — this
// guard only gates C5, never C1/C2.
type PartitionGuard struct {
	mu         sync.Mutex
	threshold  time.Duration
	lastSlot   uint64
	lastSeenAt time.Time
	now        func() time.Time
	log        *logging.Logger
	metrics    *metrics.Metrics
}

// NewPartitionGuard constructs a guard with the given threshold.
func NewPartitionGuard(threshold time.Duration, log *logging.Logger, m *metrics.Metrics) *PartitionGuard {
	return &PartitionGuard{threshold: threshold, now: time.Now, log: log, metrics: m, lastSeenAt: time.Now()}
}

// Observe records a newly seen slot from the ledger (e.g. via polling or
// the settlement subscription).
func (g *PartitionGuard) Observe(slot uint64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if slot > g.lastSlot {
		g.lastSlot = slot
		g.lastSeenAt = g.now()
	}
}

// Allow returns an error if the guard considers the ledger partitioned.
func (g *PartitionGuard) Allow() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.now().Sub(g.lastSeenAt) > g.threshold {
		if g.log != nil {
			g.log.Error("network partition guard tripped", "last_slot", g.lastSlot, "since", g.lastSeenAt)
		}
		if g.metrics != nil {
			g.metrics.PartitionedGauge.Set(1)
		}
		return domainerrors.Reject("resilience", "PartitionGuard.Allow", domainerrors.CodePartitioned, nil)
	}
	if g.metrics != nil {
		g.metrics.PartitionedGauge.Set(0)
	}
	return nil
}
