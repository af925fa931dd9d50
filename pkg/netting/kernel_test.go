// Copyright 2025 Settlenet

package netting

import (
	"testing"

	"github.com/settlenet/engine/pkg/domain"
)

func intent(id, item, from, to string, amount int64) *domain.TradeIntent {
	return &domain.TradeIntent{
		ID: id, Item: item, From: from, To: to, Amount: domain.NewAmount(amount),
	}
}

func TestNet_EmptyIntentList(t *testing.T) {
	out, err := Net(nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out.Result.FinalOwners) != 0 || len(out.Result.NetCashDeltas) != 0 {
		t.Fatalf("expected empty result, got %+v", out.Result)
	}
}

func TestNet_S1_SingleTransfer(t *testing.T) {
	out, err := Net([]*domain.TradeIntent{intent("i1", "it1", "A", "B", 100)})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	r := out.Result
	if r.FinalOwners["it1"] != "B" {
		t.Fatalf("expected it1 owned by B, got %s", r.FinalOwners["it1"])
	}
	if r.NetCashDeltas["A"].Cmp(domain.NewAmount(100)) != 0 {
		t.Fatalf("expected A delta +100, got %s", r.NetCashDeltas["A"].String())
	}
	if r.NetCashDeltas["B"].Cmp(domain.NewAmount(-100)) != 0 {
		t.Fatalf("expected B delta -100, got %s", r.NetCashDeltas["B"].String())
	}
}

func TestNet_S2_ThreeHopChain(t *testing.T) {
	intents := []*domain.TradeIntent{
		intent("i1", "it1", "A", "B", 50),
		intent("i2", "it1", "B", "C", 50),
		intent("i3", "it1", "C", "D", 50),
	}
	out, err := Net(intents)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	r := out.Result
	if r.FinalOwners["it1"] != "D" {
		t.Fatalf("expected it1 owned by D, got %s", r.FinalOwners["it1"])
	}
	if _, ok := r.NetCashDeltas["B"]; ok {
		t.Fatalf("B's delta should be pruned to zero")
	}
	if _, ok := r.NetCashDeltas["C"]; ok {
		t.Fatalf("C's delta should be pruned to zero")
	}
	if r.NetCashDeltas["A"].Cmp(domain.NewAmount(50)) != 0 {
		t.Fatalf("expected A +50, got %s", r.NetCashDeltas["A"].String())
	}
	if r.NetCashDeltas["D"].Cmp(domain.NewAmount(-50)) != 0 {
		t.Fatalf("expected D -50, got %s", r.NetCashDeltas["D"].String())
	}
	if len(r.ConsumedIDs) != 3 {
		t.Fatalf("expected all 3 intents consumed, got %v", r.ConsumedIDs)
	}
}

func TestNet_S3_BrokenChain(t *testing.T) {
	intents := []*domain.TradeIntent{
		intent("i1", "it1", "A", "B", 10),
		intent("i2", "it1", "C", "D", 10), // C is not the current owner
	}
	out, err := Net(intents)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	r := out.Result
	if r.FinalOwners["it1"] != "B" {
		t.Fatalf("expected it1 owned by B, got %s", r.FinalOwners["it1"])
	}
	if len(r.SkippedIDs) != 1 || r.SkippedIDs[0] != "i2" {
		t.Fatalf("expected i2 skipped, got %v", r.SkippedIDs)
	}
	if r.NetCashDeltas["A"].Cmp(domain.NewAmount(10)) != 0 {
		t.Fatalf("expected A +10, got %s", r.NetCashDeltas["A"].String())
	}
}

func TestNet_ArithmeticOverflowSkipsIntent(t *testing.T) {
	huge, err := domain.ParseAmount("170141183460469231731687303715884105727") // 2^127 - 1
	if err != nil {
		t.Fatalf("unexpected parse error: %v", err)
	}
	i1 := intent("i1", "it1", "A", "B", 1)
	i1.Amount = huge
	// A sells a second item for the same amount, so delta[A] would exceed
	// 2^127 - 1 and the second intent must be skipped.
	i2 := &domain.TradeIntent{ID: "i2", Item: "it2", From: "A", To: "C", Amount: huge}

	out, err := Net([]*domain.TradeIntent{i1, i2})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out.Skips) != 1 || out.Skips[0].Reason != SkipArithmeticOverflow {
		t.Fatalf("expected second intent skipped for overflow, got %+v", out.Skips)
	}
}

func TestNet_ConservationViolationIsUnreachableUnderNormalOperation(t *testing.T) {
	// Sanity: a well-formed chain always nets to zero.
	intents := []*domain.TradeIntent{
		intent("i1", "it1", "A", "B", 30),
		intent("i2", "it2", "X", "Y", 70),
	}
	out, err := Net(intents)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	sum := domain.ZeroAmount()
	for _, v := range out.Result.NetCashDeltas {
		sum, _ = sum.Add(v)
	}
	if !sum.IsZero() {
		t.Fatalf("conservation violated: sum=%s", sum.String())
	}
}
