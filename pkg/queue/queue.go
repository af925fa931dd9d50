// Copyright 2025 Settlenet
//
// Package queue implements C2: the durable FIFO intent queue with replay
// protection and the locked-item set used while a batch is in flight,
// using a repository-per-concern persistence pattern with row-level
// claiming for the locked-item set.
package queue

import (
	"context"
	"time"

	"github.com/settlenet/engine/pkg/domain"
	domainerrors "github.com/settlenet/engine/pkg/errors"
	"github.com/settlenet/engine/pkg/session"
)

// Outcome is the terminal disposition Finalise applies to a locked batch
// (spec.md §4.2).
type Outcome int

const (
	// OutcomeSettled moves every locked intent ID into the processed set
	// and releases its items from the locked-item set.
	OutcomeSettled Outcome = iota
	// OutcomeAborted releases the locked items and, per the configured
	// requeue_skipped policy, either returns intents to the pending queue
	// or marks them terminally skipped.
	OutcomeAborted
)

// Handle identifies a set of intents a single batcher has claimed via
// Lock. Its fields are readable by callers, but Finalise must be called
// on the Queue that issued it.
type Handle struct {
	BatchID   string
	IntentIDs []string
	Items     []string
	Intents   []*domain.TradeIntent
}

// Queue is the C2 contract. Implementations must serialise Submit/Lock so
// that at most one caller ever claims a given intent (spec.md §4.2,
// "tolerate multiple concurrent batchers").
type Queue interface {
	// Submit validates intent via the session gate and, on acceptance,
	// appends it to the pending queue.
	Submit(ctx context.Context, intent *domain.TradeIntent) error

	// Peek returns up to maxCount pending intents younger than maxAge,
	// in FIFO insertion order, excluding any whose item is currently
	// locked by another in-flight batch.
	Peek(ctx context.Context, maxCount int, maxAge time.Duration) ([]*domain.TradeIntent, error)

	// Lock claims the given intents into a new batch handle, atomically
	// removing them from the pending queue and adding their items to the
	// locked-item set. Fails if any intent has already been claimed.
	Lock(ctx context.Context, batchID string, intents []*domain.TradeIntent) (*Handle, error)

	// Finalise resolves a locked batch according to outcome.
	Finalise(ctx context.Context, handle *Handle, outcome Outcome, requeueSkipped bool) error
}

// Submitter holds the dependencies Submit needs to run the C1 gate before
// a queue implementation appends an intent; both implementations embed
// this so the validation pipeline is written once.
type Submitter struct {
	Gate *session.Gate
}

// validate runs the C1 gate. Callers still own dedup/replay checks
// (steps 1-2 of spec.md §4.2) since those require the queue's own state.
func (s *Submitter) validate(ctx context.Context, intent *domain.TradeIntent) error {
	if s.Gate == nil {
		return domainerrors.Reject("queue", "Submitter.validate", domainerrors.CodeNoPolicy, nil)
	}
	_, err := s.Gate.Validate(ctx, intent)
	return err
}
