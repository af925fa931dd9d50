// Copyright 2025 Settlenet
//
// Package domain holds the core data types shared by the netting engine's
// packages (session policy, intents, batches, settlement records,
// ownership/balance projections) — the shared vocabulary its
// repositories and handlers are built against.
package domain

import (
	"fmt"
	"math/big"
)

// maxAmountBits is the signed 128-bit bound named throughout the
// specification ("amounts and deltas are exact 128-bit signed integers").
const maxAmountBits = 127

// Amount is an exact signed integer bounded to 128 bits. It wraps
// math/big.Int because the standard library has no native 128-bit type and
// the retrieval pack carries no third-party signed 128-bit integer either
// (the nearest candidate, holiman/uint256, is unsigned 256-bit and arrives
// only transitively through a dependency this spec does not need).
type Amount struct {
	v *big.Int
}

// ErrAmountOverflow is returned when an arithmetic operation would produce
// a value outside the signed 128-bit range (spec.md §4.3, §8).
var ErrAmountOverflow = fmt.Errorf("amount overflows signed 128-bit range")

// NewAmount builds an Amount from an int64, which always fits in 128 bits.
func NewAmount(v int64) Amount {
	return Amount{v: big.NewInt(v)}
}

// ZeroAmount is the additive identity.
func ZeroAmount() Amount { return NewAmount(0) }

// ParseAmount parses a base-10 string (spec.md §4.1's amount_as_decimal_string).
func ParseAmount(s string) (Amount, error) {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return Amount{}, fmt.Errorf("invalid decimal amount %q", s)
	}
	a := Amount{v: v}
	if !a.within128() {
		return Amount{}, ErrAmountOverflow
	}
	return a, nil
}

func (a Amount) within128() bool {
	if a.v == nil {
		return true
	}
	bound := new(big.Int).Lsh(big.NewInt(1), maxAmountBits)
	neg := new(big.Int).Neg(bound)
	return a.v.Cmp(neg) >= 0 && a.v.Cmp(bound) < 0
}

func (a Amount) big() *big.Int {
	if a.v == nil {
		return big.NewInt(0)
	}
	return a.v
}

// Add returns a+b, or ErrAmountOverflow if the result exceeds 128 bits.
func (a Amount) Add(b Amount) (Amount, error) {
	sum := new(big.Int).Add(a.big(), b.big())
	r := Amount{v: sum}
	if !r.within128() {
		return Amount{}, ErrAmountOverflow
	}
	return r, nil
}

// Sub returns a-b, or ErrAmountOverflow if the result exceeds 128 bits.
func (a Amount) Sub(b Amount) (Amount, error) {
	diff := new(big.Int).Sub(a.big(), b.big())
	r := Amount{v: diff}
	if !r.within128() {
		return Amount{}, ErrAmountOverflow
	}
	return r, nil
}

// Neg returns -a.
func (a Amount) Neg() Amount {
	return Amount{v: new(big.Int).Neg(a.big())}
}

// Cmp compares a to b (-1, 0, 1), matching big.Int.Cmp.
func (a Amount) Cmp(b Amount) int { return a.big().Cmp(b.big()) }

// IsZero reports whether a is exactly zero.
func (a Amount) IsZero() bool { return a.big().Sign() == 0 }

// IsNegative reports whether a is strictly negative.
func (a Amount) IsNegative() bool { return a.big().Sign() < 0 }

// String renders a as a base-10 decimal string.
func (a Amount) String() string { return a.big().String() }

// MarshalJSON renders the amount as a JSON string to avoid float64 precision
// loss for large values, matching the decimal-string convention of spec.md §4.5.
func (a Amount) MarshalJSON() ([]byte, error) {
	return []byte(`"` + a.String() + `"`), nil
}

// UnmarshalJSON parses a JSON string amount.
func (a *Amount) UnmarshalJSON(data []byte) error {
	s := string(data)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}
	parsed, err := ParseAmount(s)
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}
