// Copyright 2025 Settlenet
//
// Package indexer implements C6, the shadow indexer: it turns settled
// batches into the ownership and balance read-path projections via a
// subscribe-and-apply loop with idempotent, per-key upserts.
package indexer

import (
	"context"
	"fmt"

	"github.com/settlenet/engine/pkg/batch"
	"github.com/settlenet/engine/pkg/domain"
	"github.com/settlenet/engine/pkg/ledger"
	"github.com/settlenet/engine/pkg/logging"
	"github.com/settlenet/engine/pkg/metrics"
)

// Indexer applies settled batches to the ownership/balance projections
// (spec.md §4.6). It can be driven two ways: synchronously via NotifySettled
// when colocated with the batch.Manager, or by subscribing to the ledger's
// settlement event stream when run as a separate read-path process.
type Indexer struct {
	Repo    Repository
	Batches batch.Repository
	Ledger  ledger.Ledger
	Log     *logging.Logger
	Metrics *metrics.Metrics
}

// New wires an Indexer from its dependencies.
func New(repo Repository, batches batch.Repository, led ledger.Ledger, log *logging.Logger, m *metrics.Metrics) *Indexer {
	return &Indexer{Repo: repo, Batches: batches, Ledger: led, Log: log, Metrics: m}
}

// NotifySettled implements batch.Notifier, applying a just-settled batch
// without waiting on the ledger's event stream.
func (ix *Indexer) NotifySettled(b *domain.NettingBatch) {
	ctx := context.Background()
	if err := ix.Apply(ctx, b); err != nil {
		if ix.Log != nil {
			ix.Log.Error("indexer apply failed", "batch_id", b.BatchID, "sequence", b.SettlementID, "error", err)
		}
		if ix.Metrics != nil {
			ix.Metrics.IndexerApplyFail.Inc()
		}
	}
}

// Run subscribes to the ledger's settlement stream and applies each event
// to the matching local batch, serving as the indexer's event-driven path
// when it runs detached from the batch manager (spec.md §4.6 step 1).
func (ix *Indexer) Run(ctx context.Context) error {
	events, err := ix.Ledger.Subscribe(ctx)
	if err != nil {
		return fmt.Errorf("indexer: subscribe: %w", err)
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if err := ix.handleEvent(ctx, ev); err != nil {
				if ix.Log != nil {
					ix.Log.Error("indexer handle event failed", "batch_id", ev.BatchID, "error", err)
				}
				if ix.Metrics != nil {
					ix.Metrics.IndexerApplyFail.Inc()
				}
			}
		}
	}
}

// handleEvent resolves a ledger settlement event to the local batch it
// settled and applies it. Matching is by the ledger-assigned sequence
// number (a stronger join than pragmatic count-matching, since this core's
// SettlementID already equals the ledger's batch_id) with the event's
// merkle root checked against the locally retained one as corroboration.
func (ix *Indexer) handleEvent(ctx context.Context, ev ledger.SettlementEvent) error {
	b, err := ix.Batches.GetBySettlementID(ctx, ev.BatchID)
	if err != nil {
		return fmt.Errorf("indexer: no local batch for settlement %d: %w", ev.BatchID, err)
	}
	if len(b.BatchHash) == 32 && [32]byte(b.BatchHash) != ev.Root {
		return fmt.Errorf("indexer: merkle root mismatch for settlement %d", ev.BatchID)
	}
	return ix.Apply(ctx, b)
}

// Apply runs the four-step projection update of spec.md §4.6 for a single
// settled batch and advances the cursor. It is safe to call more than
// once for the same batch: every per-key write is guarded by the
// last-applied-batch comparison in Repository.
func (ix *Indexer) Apply(ctx context.Context, b *domain.NettingBatch) error {
	if b.State != domain.BatchStateSettled && b.State != domain.BatchStateIndexed {
		return fmt.Errorf("indexer: batch %s is not settled (state=%s)", b.BatchID, b.State)
	}
	if b.Result == nil {
		return fmt.Errorf("indexer: batch %s has no netting result", b.BatchID)
	}

	for item, owner := range b.Result.FinalOwners {
		game := b.Result.ItemGames[item]
		existing, _, err := ix.Repo.GetOwnership(ctx, item, game)
		if err != nil {
			return fmt.Errorf("indexer: read prior owner for %s/%s: %w", item, game, err)
		}
		fromOwner := existing.Owner
		if _, err := ix.Repo.ApplyOwnership(ctx, item, game, fromOwner, owner, b.SettlementID); err != nil {
			return fmt.Errorf("indexer: apply ownership for %s/%s: %w", item, game, err)
		}
	}

	for wallet, delta := range b.Result.NetCashDeltas {
		game := b.Result.WalletGames[wallet]
		if _, err := ix.Repo.ApplyBalance(ctx, wallet, game, delta, b.SettlementID); err != nil {
			return fmt.Errorf("indexer: apply balance for %s/%s: %w", wallet, game, err)
		}
	}

	if err := ix.Repo.AdvanceCursor(ctx, b.SettlementID); err != nil {
		return fmt.Errorf("indexer: advance cursor: %w", err)
	}

	if b.State == domain.BatchStateSettled {
		b.State = domain.BatchStateIndexed
		if err := ix.Batches.Save(ctx, b); err != nil {
			return fmt.Errorf("indexer: mark indexed: %w", err)
		}
	}

	if ix.Log != nil {
		ix.Log.Info("batch indexed", "batch_id", b.BatchID, "sequence", b.SettlementID, "num_items", len(b.Result.FinalOwners), "num_wallets", len(b.Result.NetCashDeltas))
	}
	if ix.Metrics != nil {
		ix.Metrics.IndexerCursorLag.Set(0)
	}

	return nil
}

// Resync replays every SETTLED batch not yet indexed, in ascending
// settlement order, so a fresh or recovering indexer instance catches up
// to the current ledger state without re-subscribing from the start
// (spec.md §4.6 resync).
func (ix *Indexer) Resync(ctx context.Context) (int, error) {
	pending, err := ix.Batches.ListByState(ctx, domain.BatchStateSettled)
	if err != nil {
		return 0, fmt.Errorf("indexer: list settled batches: %w", err)
	}

	if ix.Metrics != nil {
		ix.Metrics.IndexerCursorLag.Set(float64(len(pending)))
	}

	applied := 0
	for _, b := range pending {
		if err := ix.Apply(ctx, b); err != nil {
			return applied, fmt.Errorf("indexer: resync batch %s: %w", b.BatchID, err)
		}
		applied++
	}
	return applied, nil
}
