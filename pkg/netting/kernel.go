// Copyright 2025 Settlenet
//
// Package netting implements C3, the netting kernel: a pure, deterministic
// function collapsing an ordered list of trade intents into a final
// ownership map and a set of net cash deltas. It performs no I/O,
// building its output structure purely from its input slice.
package netting

import (
	"github.com/settlenet/engine/pkg/domain"
)

// SkipReason records why an intent did not contribute to the result.
type SkipReason string

const (
	SkipChainSequenceMismatch SkipReason = "CHAIN_SEQUENCE_MISMATCH"
	SkipArithmeticOverflow    SkipReason = "ARITHMETIC_OVERFLOW"
)

// Skip pairs an intent ID with the reason it was skipped, surfaced to
// callers that need more than the bare ID list in domain.NettingResult.
type Skip struct {
	IntentID string
	Reason   SkipReason
}

// Outcome is Net's full output, including the skip reasons the pure
// domain.NettingResult (spec.md §3) does not carry.
type Outcome struct {
	Result *domain.NettingResult
	Skips  []Skip
}

// ConservationError is returned when the sum of net cash deltas is
// nonzero after processing, which spec.md §4.3 step 4 treats as an
// arithmetic or accounting bug serious enough to abort the batch.
type ConservationError struct {
	Sum domain.Amount
}

func (e *ConservationError) Error() string {
	return "netting: conservation violated, sum of deltas = " + e.Sum.String()
}

// Net runs the single-pass, per-item algorithm of spec.md §4.3 over
// intents in their given (insertion) order. It never reorders input.
func Net(intents []*domain.TradeIntent) (*Outcome, error) {
	owner := make(map[string]string)     // item -> current owner
	delta := make(map[string]domain.Amount) // wallet -> running delta
	consumed := make([]string, 0, len(intents))
	skipped := make([]string, 0)
	skips := make([]Skip, 0)

	touchedItems := make(map[string]struct{})
	itemGame := make(map[string]string)
	walletGames := make(map[string]map[string]struct{})

	touchWallet := func(wallet, game string) {
		if game == "" {
			return
		}
		if walletGames[wallet] == nil {
			walletGames[wallet] = make(map[string]struct{})
		}
		walletGames[wallet][game] = struct{}{}
	}

	for _, in := range intents {
		currentOwner, known := owner[in.Item]
		if !known {
			// First intent seen for this item establishes the seller as the
			// current owner of record (spec.md §4.3 step 1).
			currentOwner = in.From
		}

		if currentOwner != in.From {
			skipped = append(skipped, in.ID)
			skips = append(skips, Skip{IntentID: in.ID, Reason: SkipChainSequenceMismatch})
			continue
		}

		fromDelta := delta[in.From]
		toDelta := delta[in.To]

		newFromDelta, err := fromDelta.Add(in.Amount)
		if err != nil {
			skipped = append(skipped, in.ID)
			skips = append(skips, Skip{IntentID: in.ID, Reason: SkipArithmeticOverflow})
			continue
		}
		newToDelta, err := toDelta.Sub(in.Amount)
		if err != nil {
			skipped = append(skipped, in.ID)
			skips = append(skips, Skip{IntentID: in.ID, Reason: SkipArithmeticOverflow})
			continue
		}

		owner[in.Item] = in.To
		delta[in.From] = newFromDelta
		delta[in.To] = newToDelta
		consumed = append(consumed, in.ID)
		touchedItems[in.Item] = struct{}{}
		if in.Game != "" {
			itemGame[in.Item] = in.Game
		}
		touchWallet(in.From, in.Game)
		touchWallet(in.To, in.Game)
	}

	// Step 4: conservation check.
	sum := domain.ZeroAmount()
	for _, v := range delta {
		var err error
		sum, err = sum.Add(v)
		if err != nil {
			return nil, &ConservationError{Sum: sum}
		}
	}
	if !sum.IsZero() {
		return nil, &ConservationError{Sum: sum}
	}

	// Step 5: drop zero-delta wallets and count touched items/wallets.
	deltas := make(map[string]domain.Amount, len(delta))
	numWallets := 0
	for wallet, v := range delta {
		if v.IsZero() {
			continue
		}
		deltas[wallet] = v
		numWallets++
	}

	walletGame := make(map[string]string, len(deltas))
	for wallet := range deltas {
		games := walletGames[wallet]
		if len(games) == 1 {
			for g := range games {
				walletGame[wallet] = g
			}
		} else {
			walletGame[wallet] = ""
		}
	}

	return &Outcome{
		Result: &domain.NettingResult{
			FinalOwners:   owner,
			NetCashDeltas: deltas,
			ConsumedIDs:   consumed,
			SkippedIDs:    skipped,
			NumItems:      len(touchedItems),
			NumWallets:    numWallets,
			ItemGames:     itemGame,
			WalletGames:   walletGame,
		},
		Skips: skips,
	}, nil
}
