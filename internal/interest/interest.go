// Package interest computes what a borrower owes on a fixed-term loan that
// compounds continuously at an annual rate expressed in basis points.
//
// e^x is approximated by the first Terms terms of its Maclaurin series, each
// term floored to whole asset units. Every term is non-negative and every
// floor rounds down, so the result never overstates the true compounded value.
package interest

import (
	"errors"
	"math/big"

	"github.com/holiman/uint256"
)

const (
	SecondsPerYear = 31_536_000
	BPS            = 10_000

	// Terms is the number of series terms after the constant one. With
	// x <= MaxExponent the first omitted term, x^7/7! * e^x, stays below one
	// part in 10^9 of the owed amount.
	Terms = 6

	// MaxExponent is the largest rate*time product (as a fraction, not bps)
	// for which the truncation error bound above holds.
	MaxExponent = 0.17

	// MaxRateTime is MaxExponent in seconds*bps: duration * annual bps may
	// not exceed it.
	MaxRateTime uint64 = 17 * SecondsPerYear * BPS / 100
)

var (
	ErrInvalidPrincipal = errors.New("interest: principal must be a non-negative 128-bit amount")
	ErrOverflow         = errors.New("interest: owed amount exceeds 128 bits")
)

var (
	yearBPS    = uint256.NewInt(SecondsPerYear * BPS)
	maxUint128 = new(uint256.Int).Sub(new(uint256.Int).Lsh(uint256.NewInt(1), 128), uint256.NewInt(1))
)

// Owed returns principal plus the interest accrued over elapsed seconds.
func Owed(principal *big.Int, elapsed uint64, annualBPS uint16) (*big.Int, error) {
	p, err := toUint128(principal)
	if err != nil {
		return nil, err
	}
	acc, err := accrue(p, elapsed, annualBPS)
	if err != nil {
		return nil, err
	}
	owed, overflow := new(uint256.Int).AddOverflow(p, acc)
	if overflow || owed.Gt(maxUint128) {
		return nil, ErrOverflow
	}
	return owed.ToBig(), nil
}

// Accrued returns only the interest part of Owed.
func Accrued(principal *big.Int, elapsed uint64, annualBPS uint16) (*big.Int, error) {
	owed, err := Owed(principal, elapsed, annualBPS)
	if err != nil {
		return nil, err
	}
	return owed.Sub(owed, principal), nil
}

// accrue sums term_k = floor(term_{k-1} * t * bps / (k * YEAR_BPS)) for
// k = 1..Terms, starting from term_0 = principal.
func accrue(principal *uint256.Int, elapsed uint64, annualBPS uint16) (*uint256.Int, error) {
	// At most 64 + 16 bits.
	x := new(uint256.Int).Mul(uint256.NewInt(elapsed), uint256.NewInt(uint64(annualBPS)))

	term := principal.Clone()
	sum := new(uint256.Int)
	for k := uint64(1); k <= Terms; k++ {
		if term.IsZero() {
			break
		}
		num, overflow := new(uint256.Int).MulOverflow(term, x)
		if overflow {
			return nil, ErrOverflow
		}
		den := new(uint256.Int).Mul(uint256.NewInt(k), yearBPS)
		term = num.Div(num, den)

		var sumOverflow bool
		sum, sumOverflow = sum.AddOverflow(sum, term)
		// All terms are non-negative: once the partial sum passes the
		// ceiling the full sum does too.
		if sumOverflow || sum.Gt(maxUint128) {
			return nil, ErrOverflow
		}
	}
	return sum, nil
}

func toUint128(v *big.Int) (*uint256.Int, error) {
	if v == nil || v.Sign() < 0 {
		return nil, ErrInvalidPrincipal
	}
	u, overflow := uint256.FromBig(v)
	if overflow || u.Gt(maxUint128) {
		return nil, ErrInvalidPrincipal
	}
	return u, nil
}

// WithinBound reports whether a loan of duration seconds at annualBPS keeps
// the series within MaxExponent.
func WithinBound(duration uint64, annualBPS uint16) bool {
	return annualBPS == 0 || duration <= MaxRateTime/uint64(annualBPS)
}

// FitsUint128 reports whether v is a non-negative amount below 2^128.
func FitsUint128(v *big.Int) bool {
	return v != nil && v.Sign() >= 0 && v.BitLen() <= 128
}
