// Package risk implements market-wide loss socialization and the
// risk-reduction/recovery state machine of spec.md §4.11.
package risk

import (
	"math/big"

	"perpcore/account"
	"perpcore/fixedpoint"
	"perpcore/slab"
)

// ApplyHaircut applies the global socialization formula of spec.md §4.11
// (I-7): the haircut pool is loss_accum alone, never stranded capital plus
// loss_accum, distributed pro rata across every account with positive Pnl.
// engine.PnlPosTotal is drawn down by the same amount that is taken from
// accounts, keeping the §4.7 ratio's denominator consistent with the ledger
// it describes.
func ApplyHaircut(accounts []account.Account, engine *slab.EngineState) *big.Int {
	lossAccum := engine.LossAccum
	if lossAccum == nil || lossAccum.Sign() <= 0 {
		return big.NewInt(0)
	}
	pnlPosTotal := big.NewInt(0)
	for i := range accounts {
		if accounts[i].Pnl != nil && accounts[i].Pnl.Sign() > 0 {
			pnlPosTotal = new(big.Int).Add(pnlPosTotal, accounts[i].Pnl)
		}
	}
	if pnlPosTotal.Sign() == 0 {
		return big.NewInt(0)
	}
	haircutAmount := fixedpoint.MinBig(lossAccum, pnlPosTotal)
	taken := big.NewInt(0)
	for i := range accounts {
		if accounts[i].Pnl == nil || accounts[i].Pnl.Sign() <= 0 {
			continue
		}
		share := fixedpoint.MulDivSat(accounts[i].Pnl, haircutAmount, pnlPosTotal)
		accounts[i].Pnl = fixedpoint.SatSub(accounts[i].Pnl, share)
		taken = new(big.Int).Add(taken, share)
	}
	engine.PnlPosTotal = fixedpoint.SatSub(engine.PnlPosTotal, taken)
	return haircutAmount
}

// EnterRiskReduction flips the market into the degraded mode of spec.md
// §4.11: warmup is paused and risk-increasing trades are blocked.
func EnterRiskReduction(engine *slab.EngineState) {
	engine.RiskReductionOnly = true
	engine.WarmupPaused = true
}

// CanAutoRecover reports whether the automatic recovery condition of
// spec.md §4.11 is met: the market is in risk-reduction with outstanding
// loss_accum, and every position has been closed out (zero open interest).
func CanAutoRecover(engine *slab.EngineState) bool {
	return engine.RiskReductionOnly &&
		engine.LossAccum != nil && engine.LossAccum.Sign() > 0 &&
		engine.TotalOpenInterest != nil && engine.TotalOpenInterest.Sign() == 0
}

// AutoRecover executes the recovery path of spec.md §4.11: any phantom
// positive Pnl left over with zero OI is zeroed, loss_accum is cleared, and
// any surplus sitting in the vault beyond what accounts + insurance account
// for is swept into insurance.
//
// Pnl is floored to ReservedPnl rather than to zero outright: an account can
// already have warmed some of its positive Pnl into withdrawable
// ReservedPnl (I-4, reserved_pnl <= max(0, pnl)), and zeroing Pnl out from
// under that reservation would break the invariant instead of just clearing
// the phantom, unwarmed residual.
func AutoRecover(accounts []account.Account, engine *slab.EngineState) {
	for i := range accounts {
		if accounts[i].Pnl != nil && accounts[i].Pnl.Sign() > 0 {
			before := fixedpoint.Max0(accounts[i].Pnl)
			accounts[i].Pnl = fixedpoint.MinBig(accounts[i].Pnl, fixedpoint.Max0(accounts[i].ReservedPnl))
			after := fixedpoint.Max0(accounts[i].Pnl)
			engine.PnlPosTotal = fixedpoint.SatSub(engine.PnlPosTotal, new(big.Int).Sub(before, after))
		}
	}
	engine.LossAccum = big.NewInt(0)

	totalCapital := big.NewInt(0)
	for i := range accounts {
		if accounts[i].Capital != nil {
			totalCapital = new(big.Int).Add(totalCapital, accounts[i].Capital)
		}
	}
	accountedFor := new(big.Int).Add(totalCapital, engine.InsuranceBalance)
	surplus := fixedpoint.SatSub(engine.Vault, accountedFor)
	if surplus.Sign() > 0 {
		engine.InsuranceBalance = new(big.Int).Add(engine.InsuranceBalance, surplus)
	}

	engine.RiskReductionOnly = false
	engine.WarmupPaused = false
	engine.LifetimeAutoRecoveries++
}

// TopUpInsurance implements the admin escape hatch of spec.md §4.11: an
// external deposit into insurance that, if large enough to cover the
// outstanding loss_accum plus the configured risk-reduction threshold,
// clears risk-reduction immediately without waiting for open interest to
// reach zero.
func TopUpInsurance(engine *slab.EngineState, amount, riskReductionThreshold *big.Int) {
	if amount == nil || amount.Sign() <= 0 {
		return
	}
	engine.InsuranceBalance = new(big.Int).Add(engine.InsuranceBalance, amount)
	engine.Vault = new(big.Int).Add(engine.Vault, amount)

	if !engine.RiskReductionOnly {
		return
	}
	threshold := big.NewInt(0)
	if riskReductionThreshold != nil {
		threshold = riskReductionThreshold
	}
	required := new(big.Int).Add(threshold, engine.LossAccum)
	if engine.InsuranceBalance.Cmp(required) >= 0 {
		engine.LossAccum = big.NewInt(0)
		engine.RiskReductionOnly = false
		engine.WarmupPaused = false
	}
}
