// Copyright 2025 Settlenet

package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/settlenet/engine/pkg/domain"
	domainerrors "github.com/settlenet/engine/pkg/errors"
	"github.com/settlenet/engine/pkg/session"
)

type nonceKey struct {
	session string
	nonce   int64
}

// MemoryQueue is an in-process Queue used by tests and by single-node
// deployments that accept restart data loss in exchange for not running
// Postgres (SPEC_FULL.md §4.2 names PostgresQueue as the durable option).
type MemoryQueue struct {
	Submitter

	mu sync.Mutex

	pending   []*domain.TradeIntent
	usedNonce map[nonceKey]bool
	processed map[string]bool
	queuedIDs map[string]bool
	lockedItems map[string]string // item -> batch_id
	handles     map[string]*Handle

	now func() time.Time
}

// NewMemoryQueue constructs an empty queue.
func NewMemoryQueue(gate *session.Gate) *MemoryQueue {
	return &MemoryQueue{
		Submitter:   Submitter{Gate: gate},
		usedNonce:   make(map[nonceKey]bool),
		processed:   make(map[string]bool),
		queuedIDs:   make(map[string]bool),
		lockedItems: make(map[string]string),
		handles:     make(map[string]*Handle),
		now:         time.Now,
	}
}

func (q *MemoryQueue) Submit(ctx context.Context, intent *domain.TradeIntent) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.processed[intent.ID] || q.queuedIDs[intent.ID] {
		return domainerrors.Reject("queue", "MemoryQueue.Submit", domainerrors.CodeDuplicateID, nil).
			WithField("id", intent.ID)
	}
	key := nonceKey{session: string(intent.Session), nonce: intent.Nonce}
	if q.usedNonce[key] {
		return domainerrors.Reject("queue", "MemoryQueue.Submit", domainerrors.CodeNonceReused, nil).
			WithField("session", string(intent.Session)).WithField("nonce", intent.Nonce)
	}

	if err := q.validate(ctx, intent); err != nil {
		return err
	}

	q.pending = append(q.pending, intent)
	q.usedNonce[key] = true
	q.queuedIDs[intent.ID] = true
	return nil
}

func (q *MemoryQueue) Peek(_ context.Context, maxCount int, maxAge time.Duration) ([]*domain.TradeIntent, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	cutoff := q.now().Add(-maxAge)
	out := make([]*domain.TradeIntent, 0, maxCount)
	for _, intent := range q.pending {
		if maxAge > 0 && intent.CreatedAt.Before(cutoff) {
			continue
		}
		if _, locked := q.lockedItems[intent.Item]; locked {
			continue
		}
		out = append(out, intent)
		if maxCount > 0 && len(out) >= maxCount {
			break
		}
	}
	return out, nil
}

func (q *MemoryQueue) Lock(_ context.Context, batchID string, intents []*domain.TradeIntent) (*Handle, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, intent := range intents {
		if owner, locked := q.lockedItems[intent.Item]; locked {
			return nil, domainerrors.Reject("queue", "MemoryQueue.Lock", domainerrors.CodeChainSequenceMismatch, nil).
				WithField("item", intent.Item).WithField("locked_by", owner)
		}
	}

	handle := &Handle{BatchID: batchID}
	kept := q.pending[:0]
	claimed := make(map[string]bool, len(intents))
	for _, intent := range intents {
		claimed[intent.ID] = true
	}
	for _, intent := range q.pending {
		if claimed[intent.ID] {
			handle.IntentIDs = append(handle.IntentIDs, intent.ID)
			handle.Items = append(handle.Items, intent.Item)
			handle.Intents = append(handle.Intents, intent)
			q.lockedItems[intent.Item] = batchID
			continue
		}
		kept = append(kept, intent)
	}
	q.pending = kept
	q.handles[batchID] = handle
	return handle, nil
}

func (q *MemoryQueue) Finalise(_ context.Context, handle *Handle, outcome Outcome, requeueSkipped bool) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, ok := q.handles[handle.BatchID]; !ok {
		return fmt.Errorf("queue: unknown batch handle %s", handle.BatchID)
	}
	delete(q.handles, handle.BatchID)

	for _, item := range handle.Items {
		delete(q.lockedItems, item)
	}

	switch outcome {
	case OutcomeSettled:
		for _, id := range handle.IntentIDs {
			delete(q.queuedIDs, id)
			q.processed[id] = true
		}
	case OutcomeAborted:
		for _, intent := range handle.Intents {
			if requeueSkipped {
				q.pending = append(q.pending, intent)
				continue
			}
			delete(q.queuedIDs, intent.ID)
			q.processed[intent.ID] = true
		}
	}
	return nil
}
