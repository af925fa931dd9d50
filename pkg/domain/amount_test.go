// Copyright 2025 Settlenet

package domain

import (
	"math/big"
	"testing"
)

func TestAmount_AddWithinRange(t *testing.T) {
	a := NewAmount(100)
	b := NewAmount(-40)
	sum, err := a.Add(b)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sum.String() != "60" {
		t.Fatalf("expected 60, got %s", sum.String())
	}
}

func TestAmount_AddOverflowsSigned128(t *testing.T) {
	bound := new(big.Int).Lsh(big.NewInt(1), maxAmountBits)
	max, err := ParseAmount(new(big.Int).Sub(bound, big.NewInt(1)).String())
	if err != nil {
		t.Fatalf("max should be representable: %v", err)
	}
	if _, err := max.Add(NewAmount(1)); err != ErrAmountOverflow {
		t.Fatalf("expected ErrAmountOverflow, got %v", err)
	}
}

func TestAmount_SubUnderflowsSigned128(t *testing.T) {
	bound := new(big.Int).Lsh(big.NewInt(1), maxAmountBits)
	min, err := ParseAmount(new(big.Int).Neg(bound).String())
	if err != nil {
		t.Fatalf("min should be representable: %v", err)
	}
	if _, err := min.Sub(NewAmount(1)); err != ErrAmountOverflow {
		t.Fatalf("expected ErrAmountOverflow, got %v", err)
	}
}

func TestAmount_ParseAmountRejectsOutOfRange(t *testing.T) {
	bound := new(big.Int).Lsh(big.NewInt(1), maxAmountBits)
	if _, err := ParseAmount(bound.String()); err != ErrAmountOverflow {
		t.Fatalf("expected ErrAmountOverflow for 2^127, got %v", err)
	}
}

func TestAmount_JSONRoundTrip(t *testing.T) {
	a := NewAmount(-12345)
	encoded, err := a.MarshalJSON()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded Amount
	if err := decoded.UnmarshalJSON(encoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded.Cmp(a) != 0 {
		t.Fatalf("expected round-trip equality, got %s vs %s", decoded.String(), a.String())
	}
}

func TestAmount_IsNegativeAndIsZero(t *testing.T) {
	if !NewAmount(-1).IsNegative() {
		t.Fatal("expected -1 to be negative")
	}
	if !ZeroAmount().IsZero() {
		t.Fatal("expected zero amount to report IsZero")
	}
	if NewAmount(5).IsNegative() {
		t.Fatal("expected 5 to not be negative")
	}
}
