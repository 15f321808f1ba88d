// Package warmup implements the linear-in-slots gating of realized PnL into
// withdrawable reserved_pnl, bounded by the market's insurance-backed
// warmup budget.
package warmup

import (
	"math/big"

	"perpcore/account"
	"perpcore/fixedpoint"
)

// Slope recomputes warmup_slope_per_step for an account, per the conforming
// floor of 0 lamports/slot (the reference implementation's max(1, slope)
// floor let a 1-lamport PnL warm up in a single slot).
func Slope(a *account.Account, warmupPeriodSlots uint64) *big.Int {
	periods := fixedpoint.MaxU64(1, warmupPeriodSlots)
	availGross := fixedpoint.Max0(new(big.Int).Sub(a.Pnl, a.ReservedPnl))
	return new(big.Int).Quo(availGross, new(big.Int).SetUint64(periods))
}

// Budget computes the market-wide warmup budget gating positive-PnL
// conversion: warmed_neg_total + max(0, insurance.balance - threshold_floor)
// - warmed_pos_total. A non-positive result means no warmup may occur this
// step.
func Budget(warmedNegTotal, insuranceBalance, thresholdFloor, warmedPosTotal *big.Int) *big.Int {
	spendable := fixedpoint.Max0(new(big.Int).Sub(insuranceBalance, thresholdFloor))
	budget := new(big.Int).Add(warmedNegTotal, spendable)
	budget.Sub(budget, warmedPosTotal)
	return budget
}

// HaircutRatio computes the e6 fixed-point ratio applied to positive
// realized PnL by the margin engine: min(1e6, warmed_pos_total * 1e6 /
// pnl_pos_total). Identity (1e6) when pnl_pos_total is zero.
func HaircutRatio(warmedPosTotal, pnlPosTotal *big.Int) *big.Int {
	if pnlPosTotal.Sign() == 0 {
		return big.NewInt(fixedpoint.E6)
	}
	ratio := fixedpoint.MulDivSat(warmedPosTotal, big.NewInt(fixedpoint.E6), pnlPosTotal)
	if ratio.Cmp(big.NewInt(fixedpoint.E6)) > 0 {
		return big.NewInt(fixedpoint.E6)
	}
	return ratio
}

// Conversion is the result of applying one warmup touch to an account.
type Conversion struct {
	MoveAmt *big.Int
}

// Touch advances an account's warmup conversion at slot `now`, subject to
// the market-wide budget. It mutates a (ReservedPnl, WarmupSlopePerStep,
// WarmupStartedAtSlot) in place, leaving Pnl unchanged, and returns the amount moved so the caller
// can update the engine-level warmed_pos_total aggregate.
func Touch(a *account.Account, now uint64, warmupPeriodSlots uint64, budget *big.Int, paused bool) Conversion {
	if paused {
		a.WarmupStartedAtSlot = now
		return Conversion{MoveAmt: new(big.Int)}
	}
	availGross := fixedpoint.Max0(new(big.Int).Sub(a.Pnl, a.ReservedPnl))
	a.WarmupSlopePerStep = Slope(a, warmupPeriodSlots)

	if availGross.Sign() == 0 || budget.Sign() <= 0 {
		a.WarmupStartedAtSlot = now
		return Conversion{MoveAmt: new(big.Int)}
	}

	var dt uint64
	if now > a.WarmupStartedAtSlot {
		dt = now - a.WarmupStartedAtSlot
	}
	cap := new(big.Int).Mul(a.WarmupSlopePerStep, new(big.Int).SetUint64(dt))

	moveAmt := fixedpoint.MinBig(cap, availGross)
	moveAmt = fixedpoint.MinBig(moveAmt, fixedpoint.Max0(budget))

	a.ReservedPnl = new(big.Int).Add(a.ReservedPnl, moveAmt)
	a.WarmupStartedAtSlot = now

	return Conversion{MoveAmt: moveAmt}
}
