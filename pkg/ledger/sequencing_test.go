// Copyright 2025 Settlenet

package ledger

import (
	"context"
	"testing"
)

func TestFakeLedger_S6_CommitSequence(t *testing.T) {
	ctx := context.Background()
	l := NewFakeLedger()

	last, err := l.LastCommittedBatchID(ctx)
	if err != nil || last != 0 {
		t.Fatalf("expected initial last_committed_batch_id=0, got %d err=%v", last, err)
	}

	if _, err := l.SubmitSettlement(ctx, 1, [32]byte{1}, [32]byte{}, 10, 2); err != nil {
		t.Fatalf("first submission should succeed: %v", err)
	}
	if _, err := l.SubmitSettlement(ctx, 2, [32]byte{2}, [32]byte{}, 5, 1); err != nil {
		t.Fatalf("second submission should succeed: %v", err)
	}

	// A concurrent submission that tries batch_id=1 again after the ledger
	// has advanced to 2 must be rejected with a sequence conflict.
	if _, err := l.SubmitSettlement(ctx, 1, [32]byte{3}, [32]byte{}, 1, 1); err != ErrSequenceConflict {
		t.Fatalf("expected ErrSequenceConflict, got %v", err)
	}

	// Retrying with the refreshed sequence succeeds.
	last, _ = l.LastCommittedBatchID(ctx)
	if _, err := l.SubmitSettlement(ctx, last+1, [32]byte{4}, [32]byte{}, 1, 1); err != nil {
		t.Fatalf("retry with refreshed sequence should succeed: %v", err)
	}

	final, _ := l.LastCommittedBatchID(ctx)
	if final != 3 {
		t.Fatalf("expected last_committed_batch_id=3, got %d", final)
	}
}
