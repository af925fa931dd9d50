// Copyright 2025 Settlenet
//
// Package da defines the client-side interface to the external
// data-availability store (IPFS/Arweave-shaped, spec.md §1, §6 —
// explicitly out of scope to implement): a thin client to an external
// content-addressed document store.
package da

import (
	"context"
	"crypto/sha256"
	"errors"
)

// Sentinel errors returned by Store implementations.
var (
	ErrNotFound    = errors.New("da: blob not found")
	ErrWriteFailed = errors.New("da: write failed")
)

// Store is the external data-availability primitives this core consumes
// (spec.md §6): put/get against a content-addressed blob store.
type Store interface {
	// Put writes blob and returns its content identifier.
	Put(ctx context.Context, blob []byte) (cid string, err error)
	// Get fetches the blob previously stored under cid.
	Get(ctx context.Context, cid string) ([]byte, error)
}

// PointerFor derives the on-ledger DA pointer for a blob per spec.md §4.5:
// SHA-256(canonical_bytes) for a content-addressed store, or
// SHA-256(store_return_id) otherwise.
func PointerFor(contentAddressed bool, blob []byte, storeReturnID string) [32]byte {
	if contentAddressed {
		return sha256.Sum256(blob)
	}
	return sha256.Sum256([]byte(storeReturnID))
}
