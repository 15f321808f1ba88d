// Package liquidation implements eligibility detection, the close-amount
// solver, and the execution/bad-debt path of spec.md §4.10.
package liquidation

import (
	"math/big"

	"perpcore/account"
	"perpcore/fixedpoint"
	"perpcore/margin"
	"perpcore/risk"
	"perpcore/slab"
)

// Eligible reports whether equity has fallen below the maintenance
// requirement, spec.md §4.10's sole eligibility test.
func Eligible(equity, maintenanceReq *big.Int) bool {
	return margin.IsLiquidatable(equity, maintenanceReq)
}

// CloseNotional computes the minimum notional reduction needed to restore
// equity to at least maintenance_req + buffer, solving for the fee drain
// caused by the close itself rather than checking it after the fact
// (SPEC_FULL.md §5 supplement 3; spec.md §9 Finding D). Given
//
//	reqBps = maintenanceBps + bufferBps
//	E0 - fee(ΔN) >= reqBps/10000 * (notional - ΔN)
//
// and fee(ΔN) = ΔN*liqFeeBps/10000 in the uncapped region, this solves
// directly for the minimal ΔN rather than iterating. When the fee rate
// would outrun the shrinking requirement (reqBps <= liqFeeBps) no partial
// close converges and the position is closed in full.
func CloseNotional(equity, notional *big.Int, maintenanceBps, bufferBps, liqFeeBps uint64, feeCap, minAbsNotional *big.Int) *big.Int {
	reqBps := maintenanceBps + bufferBps
	reqNow := fixedpoint.MulBps(notional, reqBps)
	if equity.Cmp(reqNow) >= 0 {
		return big.NewInt(0)
	}
	deficit := new(big.Int).Sub(reqNow, equity)

	coeffBps := int64(reqBps) - int64(liqFeeBps)
	var closeNotional *big.Int
	if coeffBps <= 0 {
		closeNotional = new(big.Int).Set(notional)
	} else {
		num := new(big.Int).Mul(deficit, big.NewInt(fixedpoint.Bps))
		closeNotional = ceilDiv(num, big.NewInt(coeffBps))
	}

	if minAbsNotional != nil && minAbsNotional.Sign() > 0 && closeNotional.Cmp(minAbsNotional) < 0 {
		closeNotional = new(big.Int).Set(minAbsNotional)
	}
	if closeNotional.Cmp(notional) > 0 {
		closeNotional = new(big.Int).Set(notional)
	}
	return closeNotional
}

func ceilDiv(num, den *big.Int) *big.Int {
	q, r := new(big.Int).QuoRem(num, den, new(big.Int))
	if r.Sign() != 0 {
		q.Add(q, big.NewInt(1))
	}
	return q
}

// SizeFromNotional converts a notional amount back to a signed position
// size at priceE6, clamped to the account's current absolute position.
func SizeFromNotional(notional, priceE6, currentAbsSize *big.Int) *big.Int {
	if priceE6.Sign() <= 0 {
		return big.NewInt(0)
	}
	size := fixedpoint.MulDivSat(notional, big.NewInt(fixedpoint.E6), priceE6)
	return fixedpoint.MinBig(size, currentAbsSize)
}

// Result captures the outcome of one liquidation execution, for the caller
// to fold into engine-level OI and lifetime aggregates.
type Result struct {
	ClosedSize     *big.Int
	LiquidationFee *big.Int
	BadDebt        *big.Int
	FullyClosed    bool
}

// Execute reduces target's position toward zero by closeSize at priceE6,
// charges the liquidation fee to target.Capital, credits it to
// liquidator.Capital, and runs the post-liquidation bad-debt check of
// spec.md §4.10: any residual shortfall is drained from insurance, with the
// uncovered remainder accumulated into loss_accum, risk-reduction mode
// entered, and the global haircut of §4.11 applied across accounts
// proportional to the resulting loss_accum.
func Execute(accounts []account.Account, target, liquidator *account.Account, closeSize, priceE6 *big.Int, riskParams slab.RiskParameters, engine *slab.EngineState, haircutE6 *big.Int) Result {
	result := Result{ClosedSize: big.NewInt(0), LiquidationFee: big.NewInt(0), BadDebt: big.NewInt(0)}
	if closeSize == nil || closeSize.Sign() <= 0 {
		return result
	}

	sign := int64(1)
	if target.PositionSize.Sign() < 0 {
		sign = -1
	}
	reduceBy := new(big.Int).Mul(closeSize, big.NewInt(sign))

	pnlBefore := fixedpoint.Max0(target.Pnl)
	realizedDelta := fixedpoint.MulDivSigned(reduceBy, new(big.Int).Sub(priceE6, target.EntryPriceE6), big.NewInt(fixedpoint.E6))
	target.Pnl = new(big.Int).Add(target.Pnl, realizedDelta)
	target.PositionSize = new(big.Int).Sub(target.PositionSize, reduceBy)
	pnlAfter := fixedpoint.Max0(target.Pnl)
	switch pnlAfter.Cmp(pnlBefore) {
	case 1:
		engine.PnlPosTotal = fixedpoint.SatAdd(engine.PnlPosTotal, new(big.Int).Sub(pnlAfter, pnlBefore))
	case -1:
		engine.PnlPosTotal = fixedpoint.SatSub(engine.PnlPosTotal, new(big.Int).Sub(pnlBefore, pnlAfter))
	}
	// liquidator is the market's LP, the standing counterparty to every
	// position (package funding's skew signal); closing a user position
	// here must mirror into the LP's book the same way a direct trade
	// would, or open interest goes uncompensated.
	liquidator.PositionSize = new(big.Int).Add(liquidator.PositionSize, reduceBy)

	notionalClosed := fixedpoint.MulDivSat(closeSize, priceE6, big.NewInt(fixedpoint.E6))
	fee := fixedpoint.MulBps(notionalClosed, riskParams.LiquidationFeeBps)
	if riskParams.LiquidationFeeCap != nil && riskParams.LiquidationFeeCap.Sign() > 0 && fee.Cmp(riskParams.LiquidationFeeCap) > 0 {
		fee = new(big.Int).Set(riskParams.LiquidationFeeCap)
	}
	target.Capital = new(big.Int).Sub(target.Capital, fee)
	liquidator.Capital = new(big.Int).Add(liquidator.Capital, fee)
	target.LiquidationsTaken++

	result.ClosedSize = new(big.Int).Set(closeSize)
	result.LiquidationFee = fee

	eff := margin.EffectivePnl(target.Pnl, target.ReservedPnl, haircutE6)
	netCapital := new(big.Int).Add(target.Capital, eff)
	if netCapital.Sign() < 0 {
		shortfall := new(big.Int).Neg(netCapital)
		covered := fixedpoint.MinBig(shortfall, engine.InsuranceBalance)
		engine.InsuranceBalance = new(big.Int).Sub(engine.InsuranceBalance, covered)
		target.Capital = new(big.Int).Add(target.Capital, covered)
		uncovered := new(big.Int).Sub(shortfall, covered)
		if uncovered.Sign() > 0 {
			engine.LossAccum = fixedpoint.SatAdd(engine.LossAccum, uncovered)
			// bad debt is written off against the target's own ledger so
			// capital never reports negative; the uncovered portion is
			// the market's loss, tracked in loss_accum, not the account's.
			target.Capital = new(big.Int).Add(target.Capital, uncovered)
			risk.EnterRiskReduction(engine)
			risk.ApplyHaircut(accounts, engine)
		}
		result.BadDebt = shortfall
	}
	if target.PositionSize.Sign() == 0 {
		result.FullyClosed = true
	}
	return result
}
