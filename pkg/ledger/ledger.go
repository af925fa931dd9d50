// Copyright 2025 Settlenet
//
// Package ledger defines the client-side interface to the external
// settlement ledger (spec.md §1, §6 — explicitly out of scope to implement;
// only the interface this core consumes is specified): a thin client to an
// external, authority-signed ledger.
package ledger

import (
	"context"
	"errors"
)

// TxStatus is the ledger's reported status for a submitted tx
// (spec.md §6 get_tx_status).
type TxStatus struct {
	Pending       bool
	CommittedSlot uint64 // valid iff !Pending && Found
	Found         bool
}

// SettlementEvent is what the ledger's subscription yields for each
// committed settlement (spec.md §6).
type SettlementEvent struct {
	BatchID    uint64
	Root       [32]byte
	DAHash     [32]byte
	NumIntents uint64
	NumItems   uint64
	Slot       uint64
	Timestamp  int64
}

var (
	// ErrSequenceConflict is returned by Submit when batchID does not equal
	// LastCommittedBatchID()+1 (the on-ledger replay defence, spec.md §3).
	ErrSequenceConflict = errors.New("ledger: submitted batch_id is not last_committed_batch_id + 1")
	ErrRejected         = errors.New("ledger: settlement submission rejected")
)

// Ledger is the external settlement ledger primitives this core consumes
// (spec.md §6). Implementations are expected to be a thin wrapper around
// an RPC/HTTP client to the actual ledger service; this core never
// implements ledger consensus or storage itself.
type Ledger interface {
	// LastCommittedBatchID returns the ledger's current sequence counter.
	LastCommittedBatchID(ctx context.Context) (uint64, error)

	// SubmitSettlement submits (batchID, root, daHash, numIntents, numItems)
	// signed by the operator authority. The ledger must enforce
	// batchID == LastCommittedBatchID()+1, returning ErrSequenceConflict
	// otherwise (spec.md §3, §4.5).
	SubmitSettlement(ctx context.Context, batchID uint64, root, daHash [32]byte, numIntents, numItems uint64) (txRef string, err error)

	// GetTxStatus polls for inclusion (spec.md §6 get_tx_status).
	GetTxStatus(ctx context.Context, txRef string) (TxStatus, error)

	// Subscribe streams committed settlement events until ctx is
	// cancelled, used by the shadow indexer (C6).
	Subscribe(ctx context.Context) (<-chan SettlementEvent, error)
}
