// Copyright 2025 Settlenet
//
// Package session implements C1, the signature & policy gate: Ed25519
// verification plus session-key policy enforcement (expiry, allowed
// actions, cumulative cap).
package session

import (
	"context"
	"crypto/ed25519"
	"time"

	"github.com/settlenet/engine/pkg/domain"
	domainerrors "github.com/settlenet/engine/pkg/errors"
	"github.com/settlenet/engine/pkg/logging"
)

// PolicyStore resolves session-key policies and atomically tracks the
// cumulative spent counter (spec.md §3 SpentCounter, §4.1 step 7).
type PolicyStore interface {
	// GetPolicy returns the policy for (owner, session), or
	// domainerrors.ErrNotFound if none is registered.
	GetPolicy(ctx context.Context, owner, session ed25519.PublicKey) (*domain.SessionKeyPolicy, error)

	// IncrementSpent atomically adds amount to the stored spent counter for
	// (owner, session) iff the result would not exceed cap, returning the
	// post-increment spent value. It must return domainerrors.ErrConflict
	// (mapped by the caller to OVER_CAP) when the increment would overrun
	// the cap, with no partial state change.
	IncrementSpent(ctx context.Context, owner, session ed25519.PublicKey, amount domain.Amount, cap domain.Amount) (domain.Amount, error)
}

// Gate implements the seven-step validation pipeline of spec.md §4.1.
type Gate struct {
	store  PolicyStore
	now    func() time.Time
	log    *logging.Logger
}

// NewGate constructs a Gate backed by store.
func NewGate(store PolicyStore, log *logging.Logger) *Gate {
	return &Gate{store: store, now: time.Now, log: log}
}

// Validate runs the gate's seven ordered checks against intent and, on
// success, returns the policy that authorised it. No state changes are
// made unless every earlier check has passed (spec.md §4.1 "Failure
// semantics").
func (g *Gate) Validate(ctx context.Context, intent *domain.TradeIntent) (*domain.SessionKeyPolicy, error) {
	const op = "session.Gate.Validate"

	// Step 1+2: decode and verify the Ed25519 signature. This is the single
	// gate and has no production bypass (enforced at config-load time by
	// pkg/config.Validate, not here — by the time a Gate exists the
	// invariant already holds).
	payload := CanonicalPayload(intent)
	if !ed25519.Verify(ed25519.PublicKey(intent.Session), payload, intent.Signature) {
		return nil, domainerrors.Reject("session", op, domainerrors.CodeBadSignature, nil).
			WithField("intent_id", intent.ID)
	}

	// Step 3: policy lookup.
	policy, err := g.store.GetPolicy(ctx, intent.Owner, intent.Session)
	if err != nil {
		return nil, domainerrors.Reject("session", op, domainerrors.CodeNoPolicy, err).
			WithField("intent_id", intent.ID)
	}

	// Step 4: expiry.
	now := g.now()
	if !policy.Live(now) {
		return nil, domainerrors.Reject("session", op, domainerrors.CodeExpired, nil).
			WithField("intent_id", intent.ID)
	}

	// Step 5: allowed-action set.
	action := intent.EffectiveAction()
	if !policy.Allowed.Allows(action) {
		return nil, domainerrors.Reject("session", op, domainerrors.CodeActionNotAllowed, nil).
			WithField("intent_id", intent.ID).WithField("action", action)
	}

	// Steps 6+7: fetch-and-atomically-increment spent counter. The store is
	// responsible for the CAS/transactional semantics; Validate never reads
	// spent separately from incrementing it, which is what eliminates the
	// race the specification's design notes call out (§9, "Session-key
	// spent counter split across in-memory and external store").
	if _, err := g.store.IncrementSpent(ctx, intent.Owner, intent.Session, intent.Amount, policy.Cap); err != nil {
		if g.log != nil {
			g.log.Warn("intent over cap", "intent_id", intent.ID, "amount", intent.Amount.String())
		}
		return nil, domainerrors.Reject("session", op, domainerrors.CodeOverCap, err).
			WithField("intent_id", intent.ID)
	}

	return policy, nil
}
