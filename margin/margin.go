// Package margin computes account equity and margin requirements, the
// subsystem that every trade, withdrawal, and liquidation check routes
// through before touching the slab.
package margin

import (
	"math/big"

	"perpcore/account"
	"perpcore/fixedpoint"
)

// MtmPnl returns the unrealized mark-to-market PnL of a position at the
// given oracle price, without mutating the account.
func MtmPnl(positionSize, entryPriceE6, priceE6 *big.Int) *big.Int {
	diff := new(big.Int).Sub(priceE6, entryPriceE6)
	return fixedpoint.MulDivSigned(positionSize, diff, big.NewInt(fixedpoint.E6))
}

// EffectivePnl applies the haircut ratio to the unreserved residual of
// positive realized PnL; negative PnL (a loss) is never haircut. reservedPnl
// is already safely withdrawable and is added separately by Equity, so only
// pnl-reservedPnl (the still-unwarmed portion) is subject to the haircut —
// applying the haircut to the full pnl field would double-count the
// already-reserved portion.
func EffectivePnl(pnl, reservedPnl *big.Int, haircutE6 *big.Int) *big.Int {
	if pnl.Sign() <= 0 {
		return new(big.Int).Set(pnl)
	}
	residual := fixedpoint.Max0(new(big.Int).Sub(pnl, reservedPnl))
	return fixedpoint.MulDivSigned(residual, haircutE6, big.NewInt(fixedpoint.E6))
}

// Equity computes effective equity: capital + reserved_pnl +
// haircut(unreserved pnl) + fee_credits + mark-to-market PnL.
func Equity(a *account.Account, priceE6 *big.Int, haircutE6 *big.Int) *big.Int {
	mtm := MtmPnl(a.PositionSize, a.EntryPriceE6, priceE6)
	eff := EffectivePnl(a.Pnl, a.ReservedPnl, haircutE6)
	equity := new(big.Int).Add(a.Capital, a.ReservedPnl)
	equity.Add(equity, eff)
	equity.Add(equity, a.FeeCredits)
	equity.Add(equity, mtm)
	return equity
}

// Notional returns |position_size| * price / 1e6.
func Notional(positionSize, priceE6 *big.Int) *big.Int {
	abs := new(big.Int).Abs(positionSize)
	return fixedpoint.MulDivSat(abs, priceE6, big.NewInt(fixedpoint.E6))
}

// Requirements returns (maintenance_req, initial_req) for a position at the
// given price and margin bps.
func Requirements(positionSize, priceE6 *big.Int, maintenanceBps, initialBps uint64) (maintenance, initial *big.Int) {
	notional := Notional(positionSize, priceE6)
	maintenance = fixedpoint.MulBps(notional, maintenanceBps)
	initial = fixedpoint.MulBps(notional, initialBps)
	return maintenance, initial
}

// IsRiskIncreasing reports whether moving from oldSize to newSize grows the
// absolute position — the case that must be IM-gated, not MM-gated (the
// reference implementation's bug used MM here; this is Finding L).
func IsRiskIncreasing(oldSize, newSize *big.Int) bool {
	return new(big.Int).Abs(newSize).Cmp(new(big.Int).Abs(oldSize)) > 0
}

// IsLiquidatable reports whether equity has fallen below the maintenance
// requirement.
func IsLiquidatable(equity, maintenanceReq *big.Int) bool {
	return equity.Cmp(maintenanceReq) < 0
}
