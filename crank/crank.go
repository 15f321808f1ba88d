// Package crank implements the 16-step round-robin keeper crank of
// spec.md §4.12: a bounded amount of work per invocation — funding accrual,
// partitioned account settlement, garbage collection, and auto-recovery —
// so that a single call never exceeds a compute budget regardless of how
// many accounts the market holds. Progress survives across calls via the
// persisted cursors in slab.EngineState.
package crank

import (
	"math/big"

	"github.com/google/uuid"

	"perpcore/account"
	"perpcore/fixedpoint"
	"perpcore/funding"
	"perpcore/liquidation"
	"perpcore/margin"
	"perpcore/metrics"
	"perpcore/risk"
	"perpcore/slab"
	"perpcore/warmup"
)

// TotalSteps is the length of one full crank cycle.
const TotalSteps = 16

const (
	stepSweepStart        uint8 = 0
	stepFunding           uint8 = 1
	stepAccountSweepFirst uint8 = 2
	stepAccountSweepLast  uint8 = 13
	stepGC                uint8 = 14
	stepRecovery          uint8 = 15
)

// Config tunes how much work a single Step call may perform.
type Config struct {
	// BatchSize caps the number of accounts visited per account-sweep or
	// GC step, bounding the per-call compute cost independent of
	// max_accounts.
	BatchSize int
	// Metrics, if set, receives per-step and per-event observations. A nil
	// Metrics is safe to use; every recorder method no-ops on a nil receiver.
	Metrics *metrics.Metrics
}

// DefaultConfig returns the batch size used absent an operator override.
func DefaultConfig() Config {
	return Config{BatchSize: 32}
}

// Step advances the crank by exactly one of its 16 steps, mutating s in
// place. priceE6 is the already-validated current oracle price; the caller
// (package engine) owns the oracle round-trip so a stale or rejected read
// fails the whole KeeperCrank instruction before any state here is touched.
// The returned correlation ID identifies this one step invocation in the
// engine's crank log line (it is not passed to metrics), so an operator can trace a single step across a crank that
// replays over several calls because of a compute-budget split.
func (cfg Config) Step(s *slab.Slab, priceE6 *big.Int, nowSlot uint64) string {
	correlationID := uuid.NewString()
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 32
	}
	e := &s.Engine
	e.CurrentSlot = nowSlot

	switch e.CrankStep {
	case stepSweepStart:
		e.LastFullSweepStartSlot = nowSlot
		e.SweepHaircutE6 = haircutToUint64(warmup.HaircutRatio(e.WarmedPosTotal, e.PnlPosTotal))
		e.LiqCursor = 0
		e.GCCursor = 0

	case stepFunding:
		lpPos := big.NewInt(0)
		if e.LPIndex != slab.NoLPIndex {
			if lp, err := s.Account(int(e.LPIndex)); err == nil {
				lpPos = lp.PositionSize
			}
		}
		funding.Accrue(s.Market, s.Risk.MaxCrankStalenessSlots, e, lpPos, priceE6, nowSlot)

	case stepGC:
		cfg.sweepGC(s)

	case stepRecovery:
		cfg.finishSweep(s, nowSlot)

	default:
		cfg.sweepAccounts(s, priceE6, nowSlot)
	}

	cfg.Metrics.ObserveCrankStep(e.CrankStep)
	e.CrankStep = (e.CrankStep + 1) % TotalSteps
	e.LastCrankSlot = nowSlot
	return correlationID
}

// RunFullSweep drives 16 consecutive Step calls, one full crank cycle. It
// exists for tests and for deployments willing to pay the whole cost in one
// call; production callers under a real compute budget should invoke Step
// once per instruction and let the persisted CrankStep/cursors carry
// progress across calls.
func (cfg Config) RunFullSweep(s *slab.Slab, priceE6 *big.Int, nowSlot uint64) {
	for i := 0; i < TotalSteps; i++ {
		cfg.Step(s, priceE6, nowSlot)
	}
}

func haircutToUint64(ratioE6 *big.Int) uint64 {
	if ratioE6 == nil || !ratioE6.IsUint64() {
		return fixedpoint.E6
	}
	return ratioE6.Uint64()
}

// batchBounds walks the live bitmap starting at *cursor, visiting up to
// batchSize slots (live or not) and invoking fn on every live one, then
// advances *cursor to resume from. It is a no-op on an empty bitmap.
func batchBounds(b *slab.Bitmap, cursor *uint32, batchSize int, fn func(idx int)) {
	cap := b.Cap()
	if cap == 0 {
		return
	}
	start, ok := b.Next(int(*cursor) % cap)
	if !ok {
		return
	}
	i := start
	visited := 0
	for visited < batchSize && visited < cap {
		if b.IsSet(i) {
			fn(i)
		}
		visited++
		i = (i + 1) % cap
	}
	*cursor = uint32(i)
}

// sweepAccounts performs the combined per-account settlement of spec.md
// §4.12 steps 2-13: mark-to-oracle settlement, funding settlement, warmup
// conversion, maintenance-fee drain, and liquidation eligibility/execution,
// all in a single pass over each account so an account is never left
// partially settled between sub-steps.
func (cfg Config) sweepAccounts(s *slab.Slab, priceE6 *big.Int, nowSlot uint64) {
	e := &s.Engine
	haircutE6 := new(big.Int).SetUint64(e.SweepHaircutE6)
	budget := warmup.Budget(e.WarmedNegTotal, e.InsuranceBalance, s.Market.ThresholdFloor, e.WarmedPosTotal)

	batchBounds(&s.Bitmap, &e.LiqCursor, cfg.BatchSize, func(idx int) {
		a := &s.Accounts[idx]
		cfg.touchAccount(s, idx, a, priceE6, nowSlot, haircutE6, budget)
	})
}

func (cfg Config) touchAccount(s *slab.Slab, idx int, a *account.Account, priceE6 *big.Int, nowSlot uint64, haircutE6, budget *big.Int) {
	e := &s.Engine

	funding.SettleMarkToOracle(a, priceE6, e)
	funding.SettleFunding(a, e.FundingIndexQpbE6, e)

	if !a.IsLP() {
		conv := warmup.Touch(a, nowSlot, s.Risk.WarmupPeriodSlots, budget, e.WarmupPaused)
		if conv.MoveAmt.Sign() > 0 {
			e.WarmedPosTotal = new(big.Int).Add(e.WarmedPosTotal, conv.MoveAmt)
			budget = fixedpoint.SatSub(budget, conv.MoveAmt)
			cfg.Metrics.ObserveWarmupConversion(bigToFloat(conv.MoveAmt))
		}
	}

	if nowSlot > a.LastFeeSlot {
		feeOwed := new(big.Int).Mul(s.Risk.MaintenanceFeePerSlot, new(big.Int).SetUint64(nowSlot-a.LastFeeSlot))
		if feeOwed.Sign() > 0 {
			a.FeeCredits = new(big.Int).Sub(a.FeeCredits, feeOwed)
			a.TotalFeesPaidWei = new(big.Int).Add(a.TotalFeesPaidWei, feeOwed)
			e.InsuranceFeeRevenue = new(big.Int).Add(e.InsuranceFeeRevenue, feeOwed)
		}
		a.LastFeeSlot = nowSlot
	}

	if a.IsLP() || e.LPIndex == slab.NoLPIndex || int(e.LPIndex) == idx {
		return
	}
	equity := margin.Equity(a, priceE6, haircutE6)
	maintenanceReq, _ := margin.Requirements(a.PositionSize, priceE6, s.Risk.MaintenanceMarginBps, s.Risk.InitialMarginBps)
	if !liquidation.Eligible(equity, maintenanceReq) {
		return
	}
	lp, err := s.Account(int(e.LPIndex))
	if err != nil {
		return
	}
	notional := margin.Notional(a.PositionSize, priceE6)
	closeNotional := liquidation.CloseNotional(
		equity, notional,
		s.Risk.MaintenanceMarginBps, s.Risk.LiquidationBufferBps, s.Risk.LiquidationFeeBps,
		s.Risk.LiquidationFeeCap, s.Risk.MinLiquidationAbs,
	)
	closeSize := liquidation.SizeFromNotional(closeNotional, priceE6, new(big.Int).Abs(a.PositionSize))
	if closeSize.Sign() <= 0 {
		return
	}
	res := liquidation.Execute(s.Accounts, a, lp, closeSize, priceE6, s.Risk, e, haircutE6)
	e.TotalOpenInterest = fixedpoint.SatSub(e.TotalOpenInterest, res.ClosedSize)
	e.LifetimeLiquidations++

	outcome := "clean"
	if res.FullyClosed {
		outcome = "full_close"
	}
	if res.BadDebt.Sign() > 0 {
		outcome = "bad_debt"
	}
	cfg.Metrics.ObserveLiquidation(outcome, res.BadDebt.Sign() > 0)
}

func bigToFloat(v *big.Int) float64 {
	f := new(big.Float).SetInt(v)
	out, _ := f.Float64()
	return out
}

// sweepGC closes every account eligible for garbage collection within this
// batch's window, freeing its bitmap slot for reuse.
func (cfg Config) sweepGC(s *slab.Slab) {
	e := &s.Engine
	var toClose []int
	batchBounds(&s.Bitmap, &e.GCCursor, cfg.BatchSize, func(idx int) {
		if s.Accounts[idx].IsEligibleForGC() {
			toClose = append(toClose, idx)
		}
	})
	for _, idx := range toClose {
		_ = s.CloseAccount(idx)
	}
}

// finishSweep implements crank step 15: the auto-recovery check of spec.md
// §4.11, followed by marking the sweep complete.
func (cfg Config) finishSweep(s *slab.Slab, nowSlot uint64) {
	e := &s.Engine
	if risk.CanAutoRecover(e) {
		risk.AutoRecover(s.Accounts, e)
		cfg.Metrics.ObserveAutoRecovery()
	}
	e.LastFullSweepCompletedSlot = nowSlot
	cfg.Metrics.SetGauges(
		bigToFloat(e.InsuranceBalance), bigToFloat(e.LossAccum), bigToFloat(e.TotalOpenInterest),
		e.RiskReductionOnly,
	)
}
