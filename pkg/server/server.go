// Copyright 2025 Settlenet
//
// Package server exposes the read-only client-facing API of spec.md §4.7
// plus intent submission: one struct per concern wrapping its
// dependencies, net/http.ServeMux routing with no third-party router,
// and a shared writeJSON/writeError helper pair.
package server

import (
	"encoding/json"
	"net/http"

	"github.com/settlenet/engine/pkg/batch"
	domainerrors "github.com/settlenet/engine/pkg/errors"
	"github.com/settlenet/engine/pkg/indexer"
	"github.com/settlenet/engine/pkg/logging"
	"github.com/settlenet/engine/pkg/queue"
)

// Handlers serves the read API and intent submission endpoint.
type Handlers struct {
	Queue   queue.Queue
	Batches batch.Repository
	Index   indexer.Repository
	Log     *logging.Logger
}

// New wires Handlers from its dependencies.
func New(q queue.Queue, batches batch.Repository, idx indexer.Repository, log *logging.Logger) *Handlers {
	return &Handlers{Queue: q, Batches: batches, Index: idx, Log: log}
}

// Mux builds the net/http.ServeMux routing every endpoint in spec.md §4.7
// plus intent submission and a health check.
func (h *Handlers) Mux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", h.handleHealth)
	mux.HandleFunc("/inventory", h.handleInventory)
	mux.HandleFunc("/balance", h.handleBalance)
	mux.HandleFunc("/batch/", h.handleBatch)
	mux.HandleFunc("/proof", h.handleProof)
	mux.HandleFunc("/pending", h.handlePending)
	mux.HandleFunc("/intent", h.handleSubmitIntent)
	return mux
}

func (h *Handlers) handleHealth(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handlers) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil && h.Log != nil {
		h.Log.Error("encode response failed", "error", err)
	}
}

func (h *Handlers) writeError(w http.ResponseWriter, status int, code domainerrors.Code, message string) {
	h.writeJSON(w, status, map[string]any{
		"error": map[string]string{
			"code":    string(code),
			"message": message,
		},
	})
}

func (h *Handlers) methodNotAllowed(w http.ResponseWriter, allowed string) {
	h.writeError(w, http.StatusMethodNotAllowed, domainerrors.CodeMalformed, "method not allowed, expected "+allowed)
}
