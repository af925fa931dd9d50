// Copyright 2025 Settlenet
//
// Package resilience implements C8: the fake-confirmation detector, brick
// monitor, and network-partition guard, watching settlement-tx
// confirmations reported by the settlement ledger.
package resilience

import (
	"context"
	"fmt"
	"sync"

	domainerrors "github.com/settlenet/engine/pkg/errors"
	"github.com/settlenet/engine/pkg/ledger"
	"github.com/settlenet/engine/pkg/logging"
	"github.com/settlenet/engine/pkg/metrics"
)

// FakeConfirmationDetector implements commitment.Confirmer: it rejects a
// reported confirmation whose slot does not increase monotonically versus
// the last verified slot across all submissions (spec.md §4.8). The ledger's
// slot sequence is system-wide, not per-tx — every SubmitSettlement gets a
// fresh tx_ref (see pkg/ledger), so keying this by tx_ref would make the
// check a no-op. It tracks one running slot value instead, the way
// PartitionGuard tracks one running lastSlot.
type FakeConfirmationDetector struct {
	mu       sync.Mutex
	seen     bool
	lastSlot uint64
	log      *logging.Logger
	metrics  *metrics.Metrics
}

// NewFakeConfirmationDetector constructs a detector.
func NewFakeConfirmationDetector(log *logging.Logger, m *metrics.Metrics) *FakeConfirmationDetector {
	return &FakeConfirmationDetector{log: log, metrics: m}
}

// Verify checks status against the ledger's authoritative record for
// txRef. A pending or not-found status returns a plain error, not a
// CONFIRMATION_FAKE rejection, and leaves the running slot unchanged; a
// non-monotonic committed slot is rejected outright with CONFIRMATION_FAKE.
func (d *FakeConfirmationDetector) Verify(_ context.Context, txRef string, status ledger.TxStatus) error {
	if status.Pending {
		return fmt.Errorf("resilience: confirmation still pending for %s", txRef)
	}
	if !status.Found {
		return fmt.Errorf("resilience: tx %s not found on canonical chain", txRef)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.seen && status.CommittedSlot <= d.lastSlot {
		if d.log != nil {
			d.log.Error("fake confirmation detected", "tx_ref", txRef, "prev_slot", d.lastSlot, "reported_slot", status.CommittedSlot)
		}
		if d.metrics != nil {
			d.metrics.FakeConfirmations.Inc()
		}
		return domainerrors.Reject("resilience", "FakeConfirmationDetector.Verify", domainerrors.CodeConfirmationFake, nil).
			WithField("tx_ref", txRef)
	}

	d.seen = true
	d.lastSlot = status.CommittedSlot
	return nil
}
