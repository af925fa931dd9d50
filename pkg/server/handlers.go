// Copyright 2025 Settlenet

package server

import (
	"crypto/ed25519"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/settlenet/engine/pkg/domain"
	domainerrors "github.com/settlenet/engine/pkg/errors"
	"github.com/settlenet/engine/pkg/merkle"
	"github.com/settlenet/engine/pkg/session"
)

// GET /inventory?owner=W&game=G (game optional) -> items owned by W with
// last-update batch (spec.md §4.7).
func (h *Handlers) handleInventory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		h.methodNotAllowed(w, "GET")
		return
	}
	owner := r.URL.Query().Get("owner")
	if owner == "" {
		h.writeError(w, http.StatusBadRequest, domainerrors.CodeMalformed, "owner is required")
		return
	}

	entries, err := h.Index.ListByOwner(r.Context(), owner)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, domainerrors.CodeMalformed, "failed to list inventory")
		return
	}
	if game := r.URL.Query().Get("game"); game != "" {
		filtered := entries[:0]
		for _, e := range entries {
			if e.Game == game {
				filtered = append(filtered, e)
			}
		}
		entries = filtered
	}

	h.writeJSON(w, http.StatusOK, map[string]any{"owner": owner, "items": entries})
}

// GET /balance?wallet=W&game=G -> signed integer (spec.md §4.7).
func (h *Handlers) handleBalance(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		h.methodNotAllowed(w, "GET")
		return
	}
	wallet := r.URL.Query().Get("wallet")
	game := r.URL.Query().Get("game")
	if wallet == "" {
		h.writeError(w, http.StatusBadRequest, domainerrors.CodeMalformed, "wallet is required")
		return
	}

	entry, _, err := h.Index.GetBalance(r.Context(), wallet, game)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, domainerrors.CodeMalformed, "failed to read balance")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"wallet": wallet, "game": game, "balance": entry.DeltaSum.String(), "last_batch_id": entry.LastBatchID,
	})
}

// GET /batch/{id} -> batch summary including counts, root (hex), da_hash
// (hex), settled status, tx_ref (spec.md §4.7). Returns {settled: false}
// until the indexer has applied the batch (spec.md §7).
func (h *Handlers) handleBatch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		h.methodNotAllowed(w, "GET")
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/batch/")
	if id == "" {
		h.writeError(w, http.StatusBadRequest, domainerrors.CodeMalformed, "batch id is required")
		return
	}

	b, err := h.Batches.Get(r.Context(), id)
	if err != nil {
		h.writeJSON(w, http.StatusOK, map[string]any{"settled": false})
		return
	}

	numItems, numWallets := 0, 0
	if b.Result != nil {
		numItems = b.Result.NumItems
		numWallets = b.Result.NumWallets
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"batch_id":     b.BatchID,
		"sequence":     b.SettlementID,
		"state":        b.State,
		"settled":      b.State == domain.BatchStateIndexed,
		"num_items":    numItems,
		"num_wallets":  numWallets,
		"root":         hex.EncodeToString(b.BatchHash),
		"da_hash":      hex.EncodeToString(b.DAHash),
		"tx_ref":       b.TxRef,
	})
}

// GET /proof?item=I&batch=B -> Merkle proof for the item's leaf in batch B
// (spec.md §4.7). Recomputed on demand from the batch's stored leaf set,
// never persisted. Returns 404 until the batch is settled (spec.md §7).
func (h *Handlers) handleProof(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		h.methodNotAllowed(w, "GET")
		return
	}
	item := r.URL.Query().Get("item")
	batchID := r.URL.Query().Get("batch")
	if item == "" || batchID == "" {
		h.writeError(w, http.StatusBadRequest, domainerrors.CodeMalformed, "item and batch are required")
		return
	}

	b, err := h.Batches.Get(r.Context(), batchID)
	if err != nil || b.Result == nil || (b.State != domain.BatchStateSettled && b.State != domain.BatchStateIndexed) {
		h.writeError(w, http.StatusNotFound, domainerrors.CodeMalformed, "batch not settled")
		return
	}

	tree, err := merkle.BuildFromOwners(b.Result.FinalOwners)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, domainerrors.CodeMalformed, "failed to rebuild merkle tree")
		return
	}
	proof, err := tree.ProofForItem(item)
	if err != nil {
		h.writeError(w, http.StatusNotFound, domainerrors.CodeMalformed, "item not found in batch")
		return
	}

	siblings := make([]string, len(proof.Siblings))
	for i, s := range proof.Siblings {
		siblings[i] = hex.EncodeToString(s[:])
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"item":       item,
		"batch_id":   batchID,
		"owner":      b.Result.FinalOwners[item],
		"leaf_hash":  hex.EncodeToString(proof.LeafHash[:]),
		"siblings":   siblings,
		"leaf_index": proof.LeafIndex,
		"tree_size":  proof.TreeSize,
		"root":       tree.RootHex(),
	})
}

// GET /pending -> current pending-intent count (spec.md §4.7).
func (h *Handlers) handlePending(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		h.methodNotAllowed(w, "GET")
		return
	}
	pending, err := h.Queue.Peek(r.Context(), 0, 0)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, domainerrors.CodeMalformed, "failed to read pending count")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"pending": len(pending)})
}

// submitIntentRequest is the wire shape accepted by POST /intent,
// mirroring the canonical signed-payload fields of spec.md §6 plus the
// signature and optional metadata fields the canonical payload excludes.
type submitIntentRequest struct {
	ID        string `json:"id"`
	Session   string `json:"session"`   // base64 Ed25519 public key
	Owner     string `json:"owner"`     // base64 Ed25519 public key
	Item      string `json:"item"`
	From      string `json:"from"`
	To        string `json:"to"`
	Amount    string `json:"amount"`
	Nonce     int64  `json:"nonce"`
	Action    string `json:"action"`
	Signature string `json:"signature"`
	Game      string `json:"game"`
	Listing   string `json:"listing"`
}

// POST intent(intent_payload) -> {accepted | rejected(reason)} (spec.md §6).
func (h *Handlers) handleSubmitIntent(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.methodNotAllowed(w, "POST")
		return
	}

	var req submitIntentRequest
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeRejection(w, domainerrors.CodeMalformed)
		return
	}

	sessionKey, err := base64.StdEncoding.DecodeString(req.Session)
	if err != nil {
		h.writeRejection(w, domainerrors.CodeMalformed)
		return
	}
	ownerKey, err := base64.StdEncoding.DecodeString(req.Owner)
	if err != nil {
		h.writeRejection(w, domainerrors.CodeMalformed)
		return
	}
	sig, err := session.DecodeSignature(req.Signature)
	if err != nil {
		h.writeRejection(w, domainerrors.CodeMalformed)
		return
	}
	amount, err := domain.ParseAmount(req.Amount)
	if err != nil {
		h.writeRejection(w, domainerrors.CodeMalformed)
		return
	}

	intent := &domain.TradeIntent{
		ID:        req.ID,
		Session:   ed25519.PublicKey(sessionKey),
		Owner:     ed25519.PublicKey(ownerKey),
		Item:      req.Item,
		From:      req.From,
		To:        req.To,
		Amount:    amount,
		Nonce:     req.Nonce,
		Signature: sig,
		CreatedAt: time.Now(),
		Game:      req.Game,
		Listing:   req.Listing,
		Action:    domain.Action(req.Action),
	}

	if err := h.Queue.Submit(r.Context(), intent); err != nil {
		code, ok := domainerrors.CodeOf(err)
		if !ok {
			code = domainerrors.CodeMalformed
		}
		h.writeRejection(w, code)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]string{"status": "accepted", "id": intent.ID})
}

func (h *Handlers) writeRejection(w http.ResponseWriter, code domainerrors.Code) {
	h.writeJSON(w, http.StatusOK, map[string]any{
		"status": "rejected",
		"reason": string(code),
	})
}

