// Copyright 2025 Settlenet

package session

import (
	"context"
	"crypto/ed25519"
	"testing"
	"time"

	"github.com/settlenet/engine/pkg/domain"
	domainerrors "github.com/settlenet/engine/pkg/errors"
)

func signedIntent(t *testing.T, pub ed25519.PublicKey, priv ed25519.PrivateKey, owner ed25519.PublicKey, amount int64, nonce int64, action domain.Action) *domain.TradeIntent {
	t.Helper()
	intent := &domain.TradeIntent{
		ID:        "i1",
		Session:   pub,
		Owner:     owner,
		Item:      "it1",
		From:      "A",
		To:        "B",
		Amount:    domain.NewAmount(amount),
		Nonce:     nonce,
		CreatedAt: time.Now(),
		Action:    action,
	}
	intent.Signature = ed25519.Sign(priv, CanonicalPayload(intent))
	return intent
}

func TestGate_Validate_S4_OverCap(t *testing.T) {
	ownerPub, _, _ := ed25519.GenerateKey(nil)
	sessPub, sessPriv, _ := ed25519.GenerateKey(nil)

	store := NewMemoryPolicyStore()
	store.Register(&domain.SessionKeyPolicy{
		Owner:   ownerPub,
		Session: sessPub,
		Cap:     domain.NewAmount(100),
		Expiry:  time.Now().Add(time.Hour),
		Allowed: domain.NewActionSet(domain.ActionTrade),
	})
	gate := NewGate(store, nil)

	i1 := signedIntent(t, sessPub, sessPriv, ownerPub, 60, 1, domain.ActionTrade)
	if _, err := gate.Validate(context.Background(), i1); err != nil {
		t.Fatalf("first intent should be accepted: %v", err)
	}

	i1.ID = "i2"
	i1.Nonce = 2
	i1.Signature = ed25519.Sign(sessPriv, CanonicalPayload(i1))
	i1.Amount = domain.NewAmount(50)
	i1.Signature = ed25519.Sign(sessPriv, CanonicalPayload(i1))

	_, err := gate.Validate(context.Background(), i1)
	if err == nil {
		t.Fatalf("expected OVER_CAP rejection")
	}
	code, ok := domainerrors.CodeOf(err)
	if !ok || code != domainerrors.CodeOverCap {
		t.Fatalf("expected OVER_CAP, got %v", err)
	}

	spent := store.spent[policyKey(ownerPub, sessPub)]
	if spent.Cmp(domain.NewAmount(60)) != 0 {
		t.Fatalf("spent should remain 60 after rejection, got %s", spent.String())
	}
}

func TestGate_Validate_BadSignature(t *testing.T) {
	ownerPub, _, _ := ed25519.GenerateKey(nil)
	sessPub, _, _ := ed25519.GenerateKey(nil)
	_, otherPriv, _ := ed25519.GenerateKey(nil)

	store := NewMemoryPolicyStore()
	store.Register(&domain.SessionKeyPolicy{
		Owner: ownerPub, Session: sessPub,
		Cap: domain.NewAmount(100), Expiry: time.Now().Add(time.Hour),
		Allowed: domain.NewActionSet(domain.ActionTrade),
	})
	gate := NewGate(store, nil)

	intent := signedIntent(t, sessPub, otherPriv, ownerPub, 10, 1, domain.ActionTrade)
	_, err := gate.Validate(context.Background(), intent)
	code, ok := domainerrors.CodeOf(err)
	if !ok || code != domainerrors.CodeBadSignature {
		t.Fatalf("expected BAD_SIGNATURE, got %v", err)
	}
}

func TestGate_Validate_Expired(t *testing.T) {
	ownerPub, _, _ := ed25519.GenerateKey(nil)
	sessPub, sessPriv, _ := ed25519.GenerateKey(nil)

	store := NewMemoryPolicyStore()
	store.Register(&domain.SessionKeyPolicy{
		Owner: ownerPub, Session: sessPub,
		Cap: domain.NewAmount(100), Expiry: time.Now().Add(-time.Second),
		Allowed: domain.NewActionSet(domain.ActionTrade),
	})
	gate := NewGate(store, nil)

	intent := signedIntent(t, sessPub, sessPriv, ownerPub, 10, 1, domain.ActionTrade)
	_, err := gate.Validate(context.Background(), intent)
	code, ok := domainerrors.CodeOf(err)
	if !ok || code != domainerrors.CodeExpired {
		t.Fatalf("expected EXPIRED, got %v", err)
	}
}

func TestGate_Validate_ActionNotAllowed(t *testing.T) {
	ownerPub, _, _ := ed25519.GenerateKey(nil)
	sessPub, sessPriv, _ := ed25519.GenerateKey(nil)

	store := NewMemoryPolicyStore()
	store.Register(&domain.SessionKeyPolicy{
		Owner: ownerPub, Session: sessPub,
		Cap: domain.NewAmount(100), Expiry: time.Now().Add(time.Hour),
		Allowed: domain.NewActionSet(domain.ActionBid),
	})
	gate := NewGate(store, nil)

	intent := signedIntent(t, sessPub, sessPriv, ownerPub, 10, 1, domain.ActionTrade)
	_, err := gate.Validate(context.Background(), intent)
	code, ok := domainerrors.CodeOf(err)
	if !ok || code != domainerrors.CodeActionNotAllowed {
		t.Fatalf("expected ACTION_NOT_ALLOWED, got %v", err)
	}
}
