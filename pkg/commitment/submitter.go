// Copyright 2025 Settlenet

package commitment

import (
	"context"
	"time"

	"github.com/settlenet/engine/pkg/config"
	"github.com/settlenet/engine/pkg/da"
	"github.com/settlenet/engine/pkg/domain"
	domainerrors "github.com/settlenet/engine/pkg/errors"
	"github.com/settlenet/engine/pkg/ledger"
	"github.com/settlenet/engine/pkg/logging"
	"github.com/settlenet/engine/pkg/merkle"
	"github.com/settlenet/engine/pkg/metrics"
)

// Confirmer verifies that a ledger-reported confirmation is legitimate
// (C8's fake-confirmation detector). Commit treats a nil Confirmer as
// "confirmation trusted", which production wiring must never do — see
// pkg/resilience.FakeConfirmationDetector.
type Confirmer interface {
	Verify(ctx context.Context, txRef string, status ledger.TxStatus) error
}

// Submitter drives the commit/settle submission protocol of spec.md §4.5.
type Submitter struct {
	Ledger    ledger.Ledger
	DA        da.Store
	Confirmer Confirmer
	DAProvider config.DAProvider
	Timeout   time.Duration
	Log       *logging.Logger
	Metrics   *metrics.Metrics
}

// Outcome captures everything a successful Commit produces, to be
// persisted by the batch manager (C4) in its own transaction.
type Outcome struct {
	TxRef       string
	SettlementID uint64
	Root        [32]byte
	DAHash      [32]byte
}

// Commit builds the leaf set and Merkle root, writes the DA blob, and
// submits the settlement record to the ledger, enforcing the monotonic
// batch_id = last_committed_batch_id + 1 rule (spec.md §4.5, §3).
//
// expectedSeq is the sequence the batch manager derived for this batch
// from its own read of the ledger's last_committed_batch_id + 1; a
// mismatch against the ledger's next sequence as read here is
// SEQUENCE_SKEW, not a retryable condition.
func (s *Submitter) Commit(ctx context.Context, batch *domain.NettingBatch, expectedSeq uint64, now time.Time) (*Outcome, error) {
	const op = "commitment.Submitter.Commit"
	start := time.Now()

	if len(batch.Result.FinalOwners) == 0 {
		return nil, domainerrors.Reject("commitment", op, domainerrors.CodeBatchEmpty, nil)
	}

	ctx, cancel := context.WithTimeout(ctx, s.Timeout)
	defer cancel()

	tree, err := merkle.BuildFromOwners(batch.Result.FinalOwners)
	if err != nil {
		return nil, domainerrors.Reject("commitment", op, domainerrors.CodeBatchEmpty, err)
	}
	root := tree.Root()

	blob := BuildBlob(batch.BatchID, now.Unix(), batch.Result)
	blobBytes, err := CanonicalJSON(blob)
	if err != nil {
		return nil, domainerrors.Reject("commitment", op, domainerrors.CodeBatchEmpty, err)
	}

	daHash := s.writeDA(ctx, blobBytes)

	lastCommitted, err := s.Ledger.LastCommittedBatchID(ctx)
	if err != nil {
		s.countFailure("ledger_unreachable")
		return nil, domainerrors.Reject("commitment", op, domainerrors.CodeLedgerReject, err)
	}
	next := lastCommitted + 1
	if next != expectedSeq {
		s.countFailure("sequence_skew")
		return nil, domainerrors.Reject("commitment", op, domainerrors.CodeSequenceSkew, nil).
			WithField("expected", expectedSeq).WithField("ledger_next", next)
	}

	numIntents := uint64(len(batch.Result.ConsumedIDs))
	numItems := uint64(batch.Result.NumItems)

	txRef, err := s.Ledger.SubmitSettlement(ctx, next, root, daHash, numIntents, numItems)
	if err != nil {
		s.countFailure("ledger_reject")
		return nil, domainerrors.Reject("commitment", op, domainerrors.CodeLedgerReject, err)
	}

	status, err := s.Ledger.GetTxStatus(ctx, txRef)
	if err != nil {
		// Cancelled/unknown fate: treat this as possibly-committed, not
		// aborted, since the submission may still land. The caller (batch
		// manager) is responsible for leaving the batch in COMMITTED and
		// letting the resilience layer resolve it later.
		return nil, domainerrors.Reject("commitment", op, domainerrors.CodeLedgerReject, err).
			WithField("tx_ref", txRef).WithField("possibly_committed", true)
	}
	if status.Pending {
		// Not yet included: the fate is unknown, as above.
		return nil, domainerrors.Reject("commitment", op, domainerrors.CodeLedgerReject, nil).
			WithField("tx_ref", txRef).WithField("possibly_committed", true)
	}

	if s.Confirmer != nil {
		if err := s.Confirmer.Verify(ctx, txRef, status); err != nil {
			s.countFailure("confirmation_fake")
			return nil, domainerrors.Reject("commitment", op, domainerrors.CodeConfirmationFake, err).
				WithField("tx_ref", txRef)
		}
	}

	if s.Metrics != nil {
		s.Metrics.SettlementDuration.Observe(time.Since(start).Seconds())
		s.Metrics.LastCommittedBatchID.Set(float64(next))
	}

	return &Outcome{TxRef: txRef, SettlementID: next, Root: root, DAHash: daHash}, nil
}

// writeDA writes blobBytes to the DA store and derives the on-ledger
// pointer. A write failure does not abort settlement (spec.md §4.5): the
// pointer falls back to a hash of the blob itself and the failure is
// logged as the operator's "degraded-but-progressing" policy.
func (s *Submitter) writeDA(ctx context.Context, blobBytes []byte) [32]byte {
	cid, err := s.DA.Put(ctx, blobBytes)
	contentAddressed := s.DAProvider == config.DAProviderContentAddressed
	if err != nil {
		if s.Log != nil {
			s.Log.Error("DA write failed, falling back to hash-only pointer", "error", err)
		}
		if s.Metrics != nil {
			s.Metrics.SettlementFailures.WithLabelValues("da_write_failed").Inc()
		}
		// No store_return_id exists to hash on a write failure, so the
		// fallback pointer is always SHA-256(blob) regardless of provider
		// mode (spec.md §6), not SHA-256("") from an empty store id.
		return da.PointerFor(true, blobBytes, "")
	}
	return da.PointerFor(contentAddressed, blobBytes, cid)
}

func (s *Submitter) countFailure(reason string) {
	if s.Metrics != nil {
		s.Metrics.SettlementFailures.WithLabelValues(reason).Inc()
	}
}
