// Package funding implements mark-to-oracle settlement and funding-index
// accrual, spec.md §4.5: the single source of truth for converting
// unrealized PnL and funding obligations into an account's realized pnl.
package funding

import (
	"math/big"

	"perpcore/account"
	"perpcore/fixedpoint"
	"perpcore/slab"
)

// SettleMarkToOracle realizes the unrealized mark-to-market delta since the
// account's last touch into Pnl and resets EntryPriceE6 to the current
// oracle price. PositionSize is unchanged; only Pnl and EntryPriceE6 move.
// engine.PnlPosTotal, the §4.7 haircut ratio's denominator, is adjusted by
// the same call so it never drifts from the accounts it sums.
func SettleMarkToOracle(a *account.Account, priceE6 *big.Int, engine *slab.EngineState) {
	before := fixedpoint.Max0(a.Pnl)
	delta := fixedpoint.MulDivSigned(a.PositionSize, new(big.Int).Sub(priceE6, a.EntryPriceE6), big.NewInt(fixedpoint.E6))
	a.Pnl = new(big.Int).Add(a.Pnl, delta)
	a.EntryPriceE6 = new(big.Int).Set(priceE6)
	adjustPnlPosTotal(engine, before, a.Pnl)
}

// SettleFunding applies an account's funding obligation since its last
// touch — (funding_index_now - snapshot) * position_size / 1e6 — into Pnl,
// then advances the account's snapshot to indexNowE6. See SettleMarkToOracle
// for the PnlPosTotal bookkeeping this also performs.
func SettleFunding(a *account.Account, indexNowE6 *big.Int, engine *slab.EngineState) {
	before := fixedpoint.Max0(a.Pnl)
	delta := fixedpoint.MulDivSigned(new(big.Int).Sub(indexNowE6, a.FundingIndexSnapshot), a.PositionSize, big.NewInt(fixedpoint.E6))
	a.Pnl = new(big.Int).Add(a.Pnl, delta)
	a.FundingIndexSnapshot = new(big.Int).Set(indexNowE6)
	adjustPnlPosTotal(engine, before, a.Pnl)
}

// adjustPnlPosTotal folds one account's Pnl change into engine.PnlPosTotal
// in O(1), rather than the sweep re-summing every account's positive Pnl.
// before is the account's positive Pnl (Max0) prior to the mutation that
// produced its new afterPnl.
func adjustPnlPosTotal(engine *slab.EngineState, before, afterPnl *big.Int) {
	after := fixedpoint.Max0(afterPnl)
	switch after.Cmp(before) {
	case 1:
		engine.PnlPosTotal = fixedpoint.SatAdd(engine.PnlPosTotal, new(big.Int).Sub(after, before))
	case -1:
		engine.PnlPosTotal = fixedpoint.SatSub(engine.PnlPosTotal, new(big.Int).Sub(before, after))
	}
}

// clampAbs bounds x to [-maxAbs, +maxAbs].
func clampAbs(x *big.Int, maxAbs uint64) *big.Int {
	limit := new(big.Int).SetUint64(maxAbs)
	if new(big.Int).Abs(x).Cmp(limit) <= 0 {
		return new(big.Int).Set(x)
	}
	if x.Sign() < 0 {
		return new(big.Int).Neg(limit)
	}
	return new(big.Int).Set(limit)
}

// Rate computes the instantaneous per-slot funding rate in bps from the
// LP's current net position, the skew signal of spec.md §4.5. A short LP
// (negative position) means users are net long, which should push the
// premium positive (longs pay shorts); the sign is flipped accordingly.
// The premium is first clamped by funding_max_premium_bps, spread across
// funding_horizon_slots, then clamped again by funding_max_bps_per_slot.
func Rate(market slab.MarketConfig, lpPositionSize, priceE6 *big.Int) *big.Int {
	if market.InvScaleNotionalE6 == nil || market.InvScaleNotionalE6.Sign() == 0 {
		return big.NewInt(0)
	}
	skewNotional := fixedpoint.MulDivSigned(lpPositionSize, priceE6, big.NewInt(fixedpoint.E6))
	premium := fixedpoint.MulDivSigned(
		new(big.Int).Neg(skewNotional),
		new(big.Int).SetUint64(market.FundingKBps),
		market.InvScaleNotionalE6,
	)
	premium = clampAbs(premium, market.FundingMaxPremiumBps)

	ratePerSlot := premium
	if market.FundingHorizonSlots > 0 {
		ratePerSlot = new(big.Int).Quo(premium, new(big.Int).SetUint64(market.FundingHorizonSlots))
	}
	return clampAbs(ratePerSlot, market.FundingMaxBpsPerSlot)
}

// Accrue advances the cumulative funding index by one step: ΔF = price *
// rate * dt / 10_000, added to FundingIndexQpbE6. Per SPEC_FULL.md §5
// supplement 1 (spec.md §9's "known design concern"), the elapsed dt used
// within a single call is capped at maxStalenessSlots: a keeper that lets
// the crank go stale for a very long time does not get to apply one
// point-in-time skew reading over the whole gap at full weight. Subsequent
// crank calls resample the LP's current skew. LastFundingSlot still advances
// to nowSlot, so the slots beyond the cap accrue no funding.
func Accrue(market slab.MarketConfig, maxStalenessSlots uint64, engine *slab.EngineState, lpPositionSize, priceE6 *big.Int, nowSlot uint64) {
	if nowSlot <= engine.LastFundingSlot {
		engine.LastFundingSlot = nowSlot
		return
	}
	dt := nowSlot - engine.LastFundingSlot
	if maxStalenessSlots > 0 && dt > maxStalenessSlots {
		dt = maxStalenessSlots
	}

	rate := Rate(market, lpPositionSize, priceE6)
	delta := fixedpoint.MulDivSigned(new(big.Int).Mul(priceE6, rate), new(big.Int).SetUint64(dt), big.NewInt(fixedpoint.Bps))
	engine.FundingIndexQpbE6 = new(big.Int).Add(engine.FundingIndexQpbE6, delta)
	engine.LastFundingSlot = nowSlot
}
