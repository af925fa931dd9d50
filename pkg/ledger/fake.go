// Copyright 2025 Settlenet

package ledger

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// FakeLedger is an in-process Ledger used by tests and local development.
// It enforces the same batchID == last+1 invariant a real ledger would.
type FakeLedger struct {
	mu            sync.Mutex
	lastCommitted uint64
	txStatus      map[string]TxStatus
	subscribers   []chan SettlementEvent
	nextSlot      uint64
}

// NewFakeLedger constructs an empty fake ledger.
func NewFakeLedger() *FakeLedger {
	return &FakeLedger{txStatus: make(map[string]TxStatus)}
}

func (f *FakeLedger) LastCommittedBatchID(_ context.Context) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastCommitted, nil
}

func (f *FakeLedger) SubmitSettlement(_ context.Context, batchID uint64, root, daHash [32]byte, numIntents, numItems uint64) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if batchID != f.lastCommitted+1 {
		return "", ErrSequenceConflict
	}
	f.lastCommitted = batchID
	f.nextSlot++
	slot := f.nextSlot

	txRef := uuid.NewString()
	f.txStatus[txRef] = TxStatus{Pending: false, Found: true, CommittedSlot: slot}

	event := SettlementEvent{
		BatchID: batchID, Root: root, DAHash: daHash,
		NumIntents: numIntents, NumItems: numItems, Slot: slot,
	}
	for _, ch := range f.subscribers {
		select {
		case ch <- event:
		default:
		}
	}

	return txRef, nil
}

func (f *FakeLedger) GetTxStatus(_ context.Context, txRef string) (TxStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	status, ok := f.txStatus[txRef]
	if !ok {
		return TxStatus{}, nil
	}
	return status, nil
}

func (f *FakeLedger) Subscribe(ctx context.Context) (<-chan SettlementEvent, error) {
	ch := make(chan SettlementEvent, 64)
	f.mu.Lock()
	f.subscribers = append(f.subscribers, ch)
	f.mu.Unlock()

	go func() {
		<-ctx.Done()
		f.mu.Lock()
		defer f.mu.Unlock()
		for i, sub := range f.subscribers {
			if sub == ch {
				f.subscribers = append(f.subscribers[:i], f.subscribers[i+1:]...)
				break
			}
		}
		close(ch)
	}()

	return ch, nil
}
