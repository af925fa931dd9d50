// Copyright 2025 Settlenet

package resilience

import (
	"context"
	"testing"

	"github.com/settlenet/engine/pkg/ledger"
)

func TestFakeConfirmationDetector_AllowsIncreasingSlotsAcrossDistinctTxRefs(t *testing.T) {
	d := NewFakeConfirmationDetector(nil, nil)

	if err := d.Verify(context.Background(), "tx-1", ledger.TxStatus{Found: true, CommittedSlot: 10}); err != nil {
		t.Fatalf("unexpected error on first confirmation: %v", err)
	}
	if err := d.Verify(context.Background(), "tx-2", ledger.TxStatus{Found: true, CommittedSlot: 11}); err != nil {
		t.Fatalf("unexpected error on second confirmation: %v", err)
	}
}

func TestFakeConfirmationDetector_RejectsNonIncreasingSlotAcrossDistinctTxRefs(t *testing.T) {
	d := NewFakeConfirmationDetector(nil, nil)

	// Every submission gets a fresh tx_ref, so the regression must be caught
	// against the detector's running slot, not against tx-1's own history.
	if err := d.Verify(context.Background(), "tx-1", ledger.TxStatus{Found: true, CommittedSlot: 10}); err != nil {
		t.Fatalf("unexpected error on first confirmation: %v", err)
	}
	if err := d.Verify(context.Background(), "tx-2", ledger.TxStatus{Found: true, CommittedSlot: 10}); err == nil {
		t.Fatal("expected a non-increasing committed slot on a new tx_ref to be rejected")
	}
}

func TestFakeConfirmationDetector_PendingAndNotFoundAreNotFake(t *testing.T) {
	d := NewFakeConfirmationDetector(nil, nil)

	if err := d.Verify(context.Background(), "tx-1", ledger.TxStatus{Pending: true}); err == nil {
		t.Fatal("expected pending status to return an error without tripping the detector")
	}
	if err := d.Verify(context.Background(), "tx-2", ledger.TxStatus{Found: false}); err == nil {
		t.Fatal("expected not-found status to return an error without tripping the detector")
	}
	// Neither prior call should have advanced lastSlot/seen.
	if err := d.Verify(context.Background(), "tx-3", ledger.TxStatus{Found: true, CommittedSlot: 0}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
