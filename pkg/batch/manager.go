// Copyright 2025 Settlenet
//
// Package batch implements C4: the batch manager state machine that
// assembles, nets, commits, and finalises netting batches, driven by a
// window-policy ticker and claiming pending work into a batch under a
// mutex.
package batch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/settlenet/engine/pkg/commitment"
	"github.com/settlenet/engine/pkg/config"
	"github.com/settlenet/engine/pkg/domain"
	domainerrors "github.com/settlenet/engine/pkg/errors"
	"github.com/settlenet/engine/pkg/ledger"
	"github.com/settlenet/engine/pkg/logging"
	"github.com/settlenet/engine/pkg/metrics"
	"github.com/settlenet/engine/pkg/netting"
	"github.com/settlenet/engine/pkg/queue"
	"github.com/settlenet/engine/pkg/resilience"
)

// Notifier is notified once a batch reaches SETTLED, so the shadow
// indexer (C6) can apply the settlement without itself polling the
// batch manager's internal state.
type Notifier interface {
	NotifySettled(batch *domain.NettingBatch)
}

// Manager drives the OPEN -> NETTED -> COMMITTED -> SETTLED lifecycle of
// spec.md §4.4. INDEXED is applied by the indexer itself once it has
// durably applied the projection (spec.md §4.6).
type Manager struct {
	mu sync.Mutex

	Queue      queue.Queue
	Repo       Repository
	Ledger     ledger.Ledger
	Commitment *commitment.Submitter
	Circuit    *resilience.BrickMonitor
	Partition  *resilience.PartitionGuard
	Notifier   Notifier

	Config config.BatchSettings
	Log    *logging.Logger
	Metrics *metrics.Metrics

	now    func() time.Time
	newID  func() string

	// pendingHandles tracks the queue.Handle issued for each in-flight
	// batch_id between FormBatch and Commit/Abort. It is process-local:
	// a restart between NETTED and COMMITTED loses the handle, leaving
	// those items locked until an operator runs a manual recovery sweep
	// (spec.md does not define an automated recovery path for this case).
	pendingHandles handleStore
}

type handleStore struct {
	mu sync.Mutex
	m  map[string]*queue.Handle
}

func (s *handleStore) store(batchID string, h *queue.Handle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.m == nil {
		s.m = make(map[string]*queue.Handle)
	}
	s.m[batchID] = h
}

func (s *handleStore) take(batchID string) (*queue.Handle, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.m[batchID]
	if ok {
		delete(s.m, batchID)
	}
	return h, ok
}

// NewManager wires a Manager from its dependencies, defaulting the clock
// and ID generator to production behaviour.
func NewManager(q queue.Queue, repo Repository, led ledger.Ledger, sub *commitment.Submitter, cfg config.BatchSettings, log *logging.Logger, m *metrics.Metrics) *Manager {
	return &Manager{
		Queue: q, Repo: repo, Ledger: led, Commitment: sub, Config: cfg,
		Log: log, Metrics: m,
		now: time.Now, newID: func() string { return uuid.New().String() },
	}
}

// ReadyToForm reports whether the window policy (spec.md §4.4) is met:
// the oldest pending intent has aged past the window, or the pending
// count has reached the max — and in either case only once the pending
// count has reached the configured minimum.
func (m *Manager) ReadyToForm(ctx context.Context) (bool, []*domain.TradeIntent, error) {
	limit := m.Config.MaxIntentsPerBatch
	pending, err := m.Queue.Peek(ctx, limit, 0)
	if err != nil {
		return false, nil, fmt.Errorf("batch: peek: %w", err)
	}
	if len(pending) < m.Config.MinIntentsPerBatch {
		return false, nil, nil
	}

	ageTrigger := false
	if len(pending) > 0 {
		oldest := pending[0].CreatedAt
		ageTrigger = m.now().Sub(oldest) >= time.Duration(m.Config.WindowSeconds)*time.Second
	}
	countTrigger := m.Config.MaxIntentsPerBatch > 0 && len(pending) >= m.Config.MaxIntentsPerBatch

	if !ageTrigger && !countTrigger {
		return false, nil, nil
	}
	return true, pending, nil
}

// FormBatch claims the currently eligible intents, nets them, and
// persists the OPEN->NETTED transition in one call (spec.md §4.4).
func (m *Manager) FormBatch(ctx context.Context) (*domain.NettingBatch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ready, pending, err := m.ReadyToForm(ctx)
	if err != nil {
		return nil, err
	}
	if !ready {
		return nil, nil
	}

	batchID := m.newID()
	handle, err := m.Queue.Lock(ctx, batchID, pending)
	if err != nil {
		return nil, fmt.Errorf("batch: lock: %w", err)
	}

	outcome, err := netting.Net(handle.Intents)
	if err != nil {
		// Conservation failures are an accounting bug, not a skip: abort
		// the whole batch and return the intents per policy.
		_ = m.Queue.Finalise(ctx, handle, queue.OutcomeAborted, m.Config.RequeueSkipped)
		if m.Metrics != nil {
			m.Metrics.BatchLifecycle.WithLabelValues(string(domain.BatchStateAborted)).Inc()
		}
		return nil, domainerrors.Reject("batch", "Manager.FormBatch", domainerrors.CodeArithmeticOverflow, err)
	}

	if m.Config.OverflowOnArithmetic == config.OverflowAbortBatch {
		for _, s := range outcome.Skips {
			if s.Reason == netting.SkipArithmeticOverflow {
				_ = m.Queue.Finalise(ctx, handle, queue.OutcomeAborted, m.Config.RequeueSkipped)
				if m.Metrics != nil {
					m.Metrics.BatchLifecycle.WithLabelValues(string(domain.BatchStateAborted)).Inc()
				}
				return nil, domainerrors.Reject("batch", "Manager.FormBatch", domainerrors.CodeArithmeticOverflow, nil).
					WithField("intent_id", s.IntentID)
			}
		}
	}

	if len(outcome.Skips) > 0 && m.Log != nil {
		for _, s := range outcome.Skips {
			m.Log.Error("intent skipped during netting", "intent_id", s.IntentID, "reason", s.Reason)
		}
	}
	if m.Metrics != nil {
		for _, sk := range outcome.Skips {
			m.Metrics.IntentsSkipped.WithLabelValues(string(sk.Reason)).Inc()
		}
	}

	nettedAt := m.now()
	nb := &domain.NettingBatch{
		BatchID:   batchID,
		CreatedAt: nettedAt,
		NettedAt:  &nettedAt,
		IntentIDs: handle.IntentIDs,
		Result:    outcome.Result,
		State:     domain.BatchStateNetted,
	}

	if err := m.Repo.Save(ctx, nb); err != nil {
		_ = m.Queue.Finalise(ctx, handle, queue.OutcomeAborted, m.Config.RequeueSkipped)
		return nil, fmt.Errorf("batch: persist netted batch: %w", err)
	}

	m.pendingHandles.store(batchID, handle)

	if m.Metrics != nil {
		m.Metrics.BatchesFormed.Inc()
		m.Metrics.BatchSize.Observe(float64(len(handle.IntentIDs)))
		m.Metrics.BatchLifecycle.WithLabelValues(string(domain.BatchStateNetted)).Inc()
	}
	if m.Log != nil {
		m.Log.Info("batch netted", "batch_id", batchID, "num_intents", len(handle.IntentIDs), "num_items", outcome.Result.NumItems)
	}

	return nb, nil
}

// Commit drives NETTED -> COMMITTED -> SETTLED via C5 (spec.md §4.4/§4.5).
// Re-invoking Commit on an already-settled batch is a no-op returning the
// stored tx_ref (idempotency, spec.md §4.4).
func (m *Manager) Commit(ctx context.Context, b *domain.NettingBatch) error {
	if b.State == domain.BatchStateSettled || b.State == domain.BatchStateIndexed {
		return nil
	}
	if !domain.CanTransition(b.State, domain.BatchStateCommitted) {
		return domainerrors.Reject("batch", "Manager.Commit", domainerrors.CodeChainSequenceMismatch, nil).
			WithField("from_state", string(b.State))
	}

	if m.Partition != nil {
		if err := m.Partition.Allow(); err != nil {
			return err
		}
	}
	if m.Circuit != nil {
		if err := m.Circuit.Allow(); err != nil {
			return err
		}
	}

	lastCommitted, err := m.Ledger.LastCommittedBatchID(ctx)
	if err != nil {
		if m.Circuit != nil {
			m.Circuit.RecordFailure()
		}
		return domainerrors.Reject("batch", "Manager.Commit", domainerrors.CodeLedgerReject, err)
	}
	expectedSeq := lastCommitted + 1

	out, err := m.Commitment.Commit(ctx, b, expectedSeq, m.now())
	if err != nil {
		if m.Circuit != nil {
			m.Circuit.RecordFailure()
		}
		var de *domainerrors.Error
		if domainerrors.As(err, &de) && de.Fields["possibly_committed"] == true {
			// The submission may still land: keep the batch COMMITTED.
			b.State = domain.BatchStateCommitted
			_ = m.Repo.Save(ctx, b)
			return err
		}
		b.State = domain.BatchStateAborted
		_ = m.Repo.Save(ctx, b)
		if m.Metrics != nil {
			m.Metrics.BatchLifecycle.WithLabelValues(string(domain.BatchStateAborted)).Inc()
		}
		return err
	}
	if m.Circuit != nil {
		m.Circuit.RecordSuccess()
	}

	b.SettlementID = out.SettlementID
	b.TxRef = out.TxRef
	b.BatchHash = out.Root[:]
	b.DAHash = out.DAHash[:]
	b.State = domain.BatchStateSettled

	if err := m.Repo.Save(ctx, b); err != nil {
		return fmt.Errorf("batch: persist settled batch: %w", err)
	}

	if handle, ok := m.pendingHandles.take(b.BatchID); ok {
		if err := m.Queue.Finalise(ctx, handle, queue.OutcomeSettled, false); err != nil {
			return fmt.Errorf("batch: finalise queue: %w", err)
		}
	}

	if m.Metrics != nil {
		m.Metrics.BatchLifecycle.WithLabelValues(string(domain.BatchStateSettled)).Inc()
	}
	if m.Log != nil {
		m.Log.Info("batch settled", "batch_id", b.BatchID, "sequence", b.SettlementID, "tx_ref", b.TxRef)
	}

	if m.Notifier != nil {
		m.Notifier.NotifySettled(b)
	}

	return nil
}

// Abort moves an OPEN or NETTED batch (or a COMMITTED one whose
// settlement could not be confirmed) to ABORTED, releasing its intents
// back to the queue per the requeue_skipped policy (spec.md §4.4, §9).
func (m *Manager) Abort(ctx context.Context, b *domain.NettingBatch, reason string) error {
	if !domain.CanTransition(b.State, domain.BatchStateAborted) {
		return domainerrors.Reject("batch", "Manager.Abort", domainerrors.CodeChainSequenceMismatch, nil).
			WithField("from_state", string(b.State))
	}

	if handle, ok := m.pendingHandles.take(b.BatchID); ok {
		if err := m.Queue.Finalise(ctx, handle, queue.OutcomeAborted, m.Config.RequeueSkipped); err != nil {
			return fmt.Errorf("batch: finalise aborted queue: %w", err)
		}
	}

	b.State = domain.BatchStateAborted
	if err := m.Repo.Save(ctx, b); err != nil {
		return fmt.Errorf("batch: persist aborted batch: %w", err)
	}
	if m.Metrics != nil {
		m.Metrics.BatchLifecycle.WithLabelValues(string(domain.BatchStateAborted)).Inc()
	}
	if m.Log != nil {
		m.Log.Error("batch aborted", "batch_id", b.BatchID, "reason", reason)
	}
	return nil
}
