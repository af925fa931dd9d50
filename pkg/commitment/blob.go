// Copyright 2025 Settlenet
//
// Package commitment builds the deterministic batch diff blob and drives
// the commit/settle submission protocol of spec.md §4.5 (C5).
package commitment

import (
	"encoding/json"

	"github.com/settlenet/engine/pkg/domain"
)

// Blob is the canonical, serialisable batch diff written to the
// data-availability store (spec.md §4.5 "Data-availability write").
type Blob struct {
	BatchID       string            `json:"batch_id"`
	Timestamp     int64             `json:"timestamp"`
	NumIntents    int               `json:"num_intents"`
	NumItems      int               `json:"num_items"`
	NumWallets    int               `json:"num_wallets"`
	FinalOwners   map[string]string `json:"final_owners"`
	NetCashDeltas map[string]string `json:"net_cash_deltas"`
}

// CanonicalJSON serialises a Blob deterministically. encoding/json sorts
// map[string]T keys before encoding, so a plain Marshal already gives
// byte-identical output for byte-identical input, which the DA pointer's
// hash depends on (spec.md §4.5).
func CanonicalJSON(b *Blob) ([]byte, error) {
	return json.Marshal(b)
}

// BuildBlob converts a netted batch result into its DA blob representation.
func BuildBlob(batchID string, timestamp int64, result *domain.NettingResult) *Blob {
	deltas := make(map[string]string, len(result.NetCashDeltas))
	for wallet, amount := range result.NetCashDeltas {
		deltas[wallet] = amount.String()
	}
	return &Blob{
		BatchID:       batchID,
		Timestamp:     timestamp,
		NumIntents:    len(result.ConsumedIDs),
		NumItems:      result.NumItems,
		NumWallets:    result.NumWallets,
		FinalOwners:   result.FinalOwners,
		NetCashDeltas: deltas,
	}
}
