// Package fixedpoint implements the integer-only arithmetic the engine
// requires: e6-scaled prices, bps/e2bps ratios, and the checked/saturating
// policies spec'd for u128/i128 accounting. No floating point is used
// anywhere in this package.
package fixedpoint

import (
	"errors"
	"math/big"

	"github.com/holiman/uint256"
)

const (
	// E6 is the fixed-point scale used for prices.
	E6 = 1_000_000
	// E12 is the widened numerator used when inverting a price.
	E12 = 1_000_000_000_000
	// Bps is the basis-point denominator.
	Bps = 10_000
	// E2Bps is the basis-point-of-basis-point denominator used for
	// sub-bps precision rates (funding premium, oracle cap).
	E2Bps = 1_000_000
)

// ErrOverflow indicates a checked-arithmetic site could not represent the
// result in the engine's 256-bit accounting width. A saturating site never
// returns this error.
var ErrOverflow = errors.New("fixedpoint: checked arithmetic overflow")

// ErrDivideByZero indicates a ratio helper was asked to divide by zero.
var ErrDivideByZero = errors.New("fixedpoint: divide by zero")

// Zero and commonly reused constants.
var (
	zero = big.NewInt(0)
)

// fitsWidth reports whether the magnitude of x (which may be negative) fits
// the unsigned 256-bit range the uint256 conversion supports, bounding the engine's
// "checked" policy the way a u128/i128 overflow check would in a narrower
// width system.
func fitsWidth(x *big.Int) bool {
	abs := new(big.Int).Abs(x)
	_, overflow := uint256.FromBig(abs)
	return !overflow
}

// CheckedAdd returns a+b, failing with ErrOverflow if the magnitude cannot be
// represented in the engine's accounting width. Use at user-facing sites
// where an overflow indicates malformed input rather than a prior
// accounting bug.
func CheckedAdd(a, b *big.Int) (*big.Int, error) {
	sum := new(big.Int).Add(a, b)
	if !fitsWidth(sum) {
		return nil, ErrOverflow
	}
	return sum, nil
}

// CheckedSub returns a-b, failing with ErrOverflow on a width violation.
func CheckedSub(a, b *big.Int) (*big.Int, error) {
	diff := new(big.Int).Sub(a, b)
	if !fitsWidth(diff) {
		return nil, ErrOverflow
	}
	return diff, nil
}

// CheckedMul returns a*b, failing with ErrOverflow on a width violation.
func CheckedMul(a, b *big.Int) (*big.Int, error) {
	product := new(big.Int).Mul(a, b)
	if !fitsWidth(product) {
		return nil, ErrOverflow
	}
	return product, nil
}

// MulDivChecked computes a*b/d using a widening multiply followed by an
// integer divide, truncating toward zero. It fails closed: a zero divisor or
// a product outside the engine's accounting width is reported rather than
// silently wrapped.
func MulDivChecked(a, b, d *big.Int) (*big.Int, error) {
	if d == nil || d.Sign() == 0 {
		return nil, ErrDivideByZero
	}
	product := new(big.Int).Mul(a, b)
	if !fitsWidth(product) {
		return nil, ErrOverflow
	}
	return new(big.Int).Quo(product, d), nil
}

// MulDivSat is the saturating counterpart of MulDivChecked: callers at
// internal accounting sites use this when a clamp (rather than a revert) is
// the semantically correct response to an impossible input, e.g. decrementing
// a counter below zero. The result is clamped to [0, +inf).
func MulDivSat(a, b, d *big.Int) *big.Int {
	if d == nil || d.Sign() == 0 {
		return new(big.Int)
	}
	product := new(big.Int).Mul(a, b)
	result := new(big.Int).Quo(product, d)
	if result.Sign() < 0 {
		return new(big.Int)
	}
	return result
}

// MulDivSigned computes a*b/d using a widening multiply and truncating
// integer divide, preserving sign. Used for legitimately signed quantities
// (mark-to-market PnL, funding deltas) where MulDivSat's clamp-to-zero
// behavior would silently destroy a negative result.
func MulDivSigned(a, b, d *big.Int) *big.Int {
	if a == nil || b == nil || d == nil || d.Sign() == 0 {
		return new(big.Int)
	}
	product := new(big.Int).Mul(a, b)
	return product.Quo(product, d)
}

// MulBps computes x*bps/10_000, rounding toward zero as required by the
// spec's rounding rule for ratio helpers. bps may exceed 10_000 (e.g. a
// liquidation-bonus multiplier of 11_000).
func MulBps(x *big.Int, bps uint64) *big.Int {
	if x == nil || x.Sign() == 0 || bps == 0 {
		return new(big.Int)
	}
	num := new(big.Int).Mul(x, new(big.Int).SetUint64(bps))
	return num.Quo(num, big.NewInt(Bps))
}

// MulE2Bps computes x*e2bps/1_000_000, rounding toward zero. Used for
// funding premium and oracle-cap style micro-rates.
func MulE2Bps(x *big.Int, e2bps uint64) *big.Int {
	if x == nil || x.Sign() == 0 || e2bps == 0 {
		return new(big.Int)
	}
	num := new(big.Int).Mul(x, new(big.Int).SetUint64(e2bps))
	return num.Quo(num, big.NewInt(E2Bps))
}

// SatSub returns max(0, a-b): the saturating decrement used for counters
// such as loss_accum or total_open_interest where underflow indicates a
// prior accounting bug but must never corrupt state.
func SatSub(a, b *big.Int) *big.Int {
	if a == nil {
		a = zero
	}
	if b == nil {
		b = zero
	}
	diff := new(big.Int).Sub(a, b)
	if diff.Sign() < 0 {
		return new(big.Int)
	}
	return diff
}

// SatAdd returns a+b, clamped to never go negative (both operands are
// expected non-negative; this guards against a malformed negative operand
// rather than true overflow, which big.Int cannot exhibit).
func SatAdd(a, b *big.Int) *big.Int {
	if a == nil {
		a = zero
	}
	if b == nil {
		b = zero
	}
	sum := new(big.Int).Add(a, b)
	if sum.Sign() < 0 {
		return new(big.Int)
	}
	return sum
}

// Max0 clamps x to zero when negative.
func Max0(x *big.Int) *big.Int {
	if x == nil || x.Sign() < 0 {
		return new(big.Int)
	}
	return new(big.Int).Set(x)
}

// MinBig returns the smaller of a and b.
func MinBig(a, b *big.Int) *big.Int {
	if a.Cmp(b) <= 0 {
		return new(big.Int).Set(a)
	}
	return new(big.Int).Set(b)
}

// MaxBig returns the larger of a and b.
func MaxBig(a, b *big.Int) *big.Int {
	if a.Cmp(b) >= 0 {
		return new(big.Int).Set(a)
	}
	return new(big.Int).Set(b)
}

// MaxU64 returns the larger of a and b.
func MaxU64(a, b uint64) uint64 {
	if a >= b {
		return a
	}
	return b
}

// InvertPriceE6 computes the reciprocal price used by inverted markets:
// 1e12 / price_e6, itself again in e6 scale. Rejects non-positive input.
func InvertPriceE6(priceE6 *big.Int) (*big.Int, error) {
	if priceE6 == nil || priceE6.Sign() <= 0 {
		return nil, errors.New("fixedpoint: cannot invert non-positive price")
	}
	num := big.NewInt(E12)
	return new(big.Int).Quo(num, priceE6), nil
}
