// Copyright 2025 Settlenet

package server

import (
	"bytes"
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/settlenet/engine/pkg/batch"
	"github.com/settlenet/engine/pkg/domain"
	"github.com/settlenet/engine/pkg/indexer"
	"github.com/settlenet/engine/pkg/queue"
	"github.com/settlenet/engine/pkg/session"
)

func newTestHandlers(t *testing.T) (*Handlers, ed25519.PublicKey, ed25519.PrivateKey, ed25519.PublicKey) {
	t.Helper()
	ownerPub, _, _ := ed25519.GenerateKey(nil)
	sessPub, sessPriv, _ := ed25519.GenerateKey(nil)

	store := session.NewMemoryPolicyStore()
	store.Register(&domain.SessionKeyPolicy{
		Owner:   ownerPub,
		Session: sessPub,
		Cap:     domain.NewAmount(1_000_000),
		Expiry:  time.Now().Add(time.Hour),
		Allowed: domain.NewActionSet(domain.ActionTrade),
	})
	gate := session.NewGate(store, nil)
	q := queue.NewMemoryQueue(gate)
	batches := batch.NewMemoryRepository()
	idx := indexer.NewMemoryRepository()

	return New(q, batches, idx, nil), ownerPub, sessPriv, sessPub
}

func TestHandlePending_ReflectsQueueState(t *testing.T) {
	h, owner, sessPriv, sessPub := newTestHandlers(t)

	payload := submitIntentRequest{
		ID: "i1", Session: base64.StdEncoding.EncodeToString(sessPub), Owner: base64.StdEncoding.EncodeToString(owner),
		Item: "it1", From: "A", To: "B", Amount: "100", Nonce: 1, Action: "TRADE",
	}
	intent := &domain.TradeIntent{
		ID: payload.ID, Session: sessPub, Owner: owner, Item: payload.Item, From: payload.From, To: payload.To,
		Amount: domain.NewAmount(100), Nonce: 1, CreatedAt: time.Now(), Action: domain.ActionTrade,
	}
	payload.Signature = base64.StdEncoding.EncodeToString(ed25519.Sign(sessPriv, session.CanonicalPayload(intent)))

	body, _ := json.Marshal(payload)
	req := httptest.NewRequest(http.MethodPost, "/intent", bytes.NewReader(body))
	rr := httptest.NewRecorder()
	h.Mux().ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var resp map[string]string
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp["status"] != "accepted" {
		t.Fatalf("expected accepted, got %+v", resp)
	}

	pendingReq := httptest.NewRequest(http.MethodGet, "/pending", nil)
	pendingRR := httptest.NewRecorder()
	h.Mux().ServeHTTP(pendingRR, pendingReq)
	var pendingResp map[string]int
	if err := json.Unmarshal(pendingRR.Body.Bytes(), &pendingResp); err != nil {
		t.Fatalf("decode pending response: %v", err)
	}
	if pendingResp["pending"] != 1 {
		t.Fatalf("expected 1 pending intent, got %+v", pendingResp)
	}
}

func TestHandleSubmitIntent_RejectsBadSignature(t *testing.T) {
	h, owner, _, sessPub := newTestHandlers(t)

	payload := submitIntentRequest{
		ID: "i1", Session: base64.StdEncoding.EncodeToString(sessPub), Owner: base64.StdEncoding.EncodeToString(owner),
		Item: "it1", From: "A", To: "B", Amount: "100", Nonce: 1, Action: "TRADE",
		Signature: base64.StdEncoding.EncodeToString([]byte("not-a-real-signature-000000000000")),
	}
	body, _ := json.Marshal(payload)
	req := httptest.NewRequest(http.MethodPost, "/intent", bytes.NewReader(body))
	rr := httptest.NewRecorder()
	h.Mux().ServeHTTP(rr, req)

	var resp map[string]string
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp["status"] != "rejected" || resp["reason"] != "BAD_SIGNATURE" {
		t.Fatalf("expected rejected/BAD_SIGNATURE, got %+v", resp)
	}
}

func TestHandleBatch_UnsettledReturnsNotSettled(t *testing.T) {
	h, _, _, _ := newTestHandlers(t)

	req := httptest.NewRequest(http.MethodGet, "/batch/does-not-exist", nil)
	rr := httptest.NewRecorder()
	h.Mux().ServeHTTP(rr, req)

	var resp map[string]bool
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp["settled"] {
		t.Fatalf("expected settled=false for unknown batch, got %+v", resp)
	}
}

func TestHandleInventoryAndBalance_ReflectIndexedState(t *testing.T) {
	h, _, _, _ := newTestHandlers(t)
	ctx := httptest.NewRequest(http.MethodGet, "/inventory", nil).Context()

	if _, err := h.Index.(*indexer.MemoryRepository).ApplyOwnership(ctx, "it1", "", "A", "B", 1); err != nil {
		t.Fatalf("seed ownership: %v", err)
	}
	if _, err := h.Index.(*indexer.MemoryRepository).ApplyBalance(ctx, "B", "", domain.NewAmount(-100), 1); err != nil {
		t.Fatalf("seed balance: %v", err)
	}

	invReq := httptest.NewRequest(http.MethodGet, "/inventory?owner=B", nil)
	invRR := httptest.NewRecorder()
	h.Mux().ServeHTTP(invRR, invReq)
	var invResp map[string]any
	if err := json.Unmarshal(invRR.Body.Bytes(), &invResp); err != nil {
		t.Fatalf("decode inventory: %v", err)
	}
	items, _ := invResp["items"].([]any)
	if len(items) != 1 {
		t.Fatalf("expected 1 item owned by B, got %+v", invResp)
	}

	balReq := httptest.NewRequest(http.MethodGet, "/balance?wallet=B&game=", nil)
	balRR := httptest.NewRecorder()
	h.Mux().ServeHTTP(balRR, balReq)
	var balResp map[string]any
	if err := json.Unmarshal(balRR.Body.Bytes(), &balResp); err != nil {
		t.Fatalf("decode balance: %v", err)
	}
	if balResp["balance"] != "-100" {
		t.Fatalf("expected balance -100, got %+v", balResp)
	}
}
