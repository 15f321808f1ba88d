// Package engine wires every subsystem — slab, account, margin, warmup,
// funding, oracle, matcher, liquidation, risk, and crank — into the
// instruction set of spec.md §6.1. Each exported method here is one
// instruction: it operates on a local, in-memory Slab and either returns a
// fully-committed result or an error with the Slab left untouched by the
// caller's perspective (callers are expected to discard an Engine whose
// method returned an error rather than continue using it, matching the
// revert-on-failure model of spec.md §5).
package engine

import (
	"log/slog"
	"math/big"
	"time"

	"perpcore/account"
	"perpcore/crank"
	"perpcore/engineerr"
	"perpcore/fixedpoint"
	"perpcore/funding"
	"perpcore/identity"
	"perpcore/liquidation"
	"perpcore/margin"
	"perpcore/matcher"
	"perpcore/metrics"
	"perpcore/observability/logging"
	"perpcore/oracle"
	"perpcore/risk"
	"perpcore/slab"
	"perpcore/warmup"
)

// Engine is the orchestrator over one market's Slab.
type Engine struct {
	Slab    *slab.Slab
	Feed    oracle.FeedSource
	Breaker *oracle.Breaker
	Crank   crank.Config
	Logger  *slog.Logger
}

// New wraps an already-constructed Slab (e.g. freshly built by InitMarket,
// or decoded from persisted bytes) with the runtime dependencies an Engine
// needs to execute instructions.
func New(s *slab.Slab, feed oracle.FeedSource, breaker *oracle.Breaker) *Engine {
	return &Engine{Slab: s, Feed: feed, Breaker: breaker, Crank: crank.DefaultConfig()}
}

// WithMetrics attaches a Metrics recorder to the engine's crank, so every
// KeeperCrank call observes step counts, liquidation outcomes, warmup
// conversions, and engine-wide gauges. Safe to skip; an Engine with no
// Metrics attached simply doesn't instrument.
func (e *Engine) WithMetrics(m *metrics.Metrics) *Engine {
	e.Crank.Metrics = m
	return e
}

// WithLogger attaches a structured logger for trade, liquidation, and
// risk-reduction events. Account owners are masked the same way the chain's
// logging package redacts any non-allowlisted field; an Engine with no
// Logger attached simply doesn't log.
func (e *Engine) WithLogger(l *slog.Logger) *Engine {
	e.Logger = l
	return e
}

func (e *Engine) logInfo(msg string, args ...any) {
	if e.Logger == nil {
		return
	}
	e.Logger.Info(msg, args...)
}

func ownerField(owner identity.Pubkey) slog.Attr {
	return logging.MaskField("owner", owner.String())
}

// InitMarket implements wire tag 0: one-shot market construction, seeding
// last_effective_price_e6 from the feed per SPEC_FULL.md's resolution of
// spec.md §9's open question.
func InitMarket(admin, oracleAuthority identity.Pubkey, market slab.MarketConfig, riskParams slab.RiskParameters, feed oracle.FeedSource, breaker *oracle.Breaker, nowSlot uint64) (*Engine, error) {
	if err := riskParams.Validate(); err != nil {
		return nil, engineerr.Validation(err)
	}
	s := slab.New(market, riskParams)
	s.Engine.Admin = admin
	s.Engine.OracleAuthority = oracleAuthority

	seed, err := oracle.SeedFromFeed(feed, s.Market, nowSlot)
	if err != nil {
		return nil, err
	}
	s.Engine.LastEffectivePriceE6 = seed
	s.Engine.LastFundingSlot = nowSlot
	s.Engine.LastCrankSlot = nowSlot
	s.Engine.LastFullSweepStartSlot = nowSlot
	s.Engine.LastFullSweepCompletedSlot = nowSlot

	return New(s, feed, breaker), nil
}

func (e *Engine) currentPrice(nowSlot uint64) (*big.Int, error) {
	return oracle.GetPriceE6(e.Feed, e.Slab.Market, nowSlot)
}

func (e *Engine) requireCrankFresh(nowSlot uint64) error {
	maxStale := e.Slab.Risk.MaxCrankStalenessSlots
	if maxStale == 0 {
		return nil
	}
	eng := &e.Slab.Engine
	if nowSlot > eng.LastFullSweepCompletedSlot && nowSlot-eng.LastFullSweepCompletedSlot > maxStale {
		return engineerr.Liveness(engineerr.ErrCrankStale)
	}
	return nil
}

func (e *Engine) requireWithdrawFresh(nowSlot uint64) error {
	if err := e.requireCrankFresh(nowSlot); err != nil {
		return err
	}
	maxStale := e.Slab.Risk.MaxCrankStalenessSlots
	if maxStale == 0 {
		return nil
	}
	eng := &e.Slab.Engine
	if nowSlot > eng.LastCrankSlot && nowSlot-eng.LastCrankSlot > maxStale {
		return engineerr.Liveness(engineerr.ErrSweepStale)
	}
	if nowSlot > eng.LastFullSweepStartSlot && nowSlot-eng.LastFullSweepStartSlot > maxStale {
		return engineerr.Liveness(engineerr.ErrSweepStale)
	}
	return nil
}

// InitLP implements wire tag 1.
func (e *Engine) InitLP(owner, matcherProgram, matcherContext identity.Pubkey, feePayment *big.Int) (int, error) {
	if feePayment == nil || feePayment.Sign() < 0 {
		return 0, engineerr.Validation(engineerr.ErrZeroAmount)
	}
	if matcherProgram.IsZero() {
		return 0, engineerr.Validation(engineerr.ErrWrongAccountKind)
	}
	idx, a, err := e.Slab.CreateAccount(account.KindLP, owner, uint64(e.Slab.Engine.LifetimeAccountsCreated))
	if err != nil {
		return 0, engineerr.Validation(engineerr.ErrSlabFull)
	}
	a.MatcherProgram = matcherProgram
	a.MatcherContext = matcherContext
	if feePayment.Sign() > 0 {
		e.Slab.Engine.InsuranceFeeRevenue = new(big.Int).Add(e.Slab.Engine.InsuranceFeeRevenue, feePayment)
		e.Slab.Engine.Vault = new(big.Int).Add(e.Slab.Engine.Vault, feePayment)
	}
	if e.Slab.Engine.LPIndex == slab.NoLPIndex {
		e.Slab.Engine.LPIndex = uint32(idx)
	}
	return idx, nil
}

// InitUser implements wire tag 2.
func (e *Engine) InitUser(owner identity.Pubkey, feePayment *big.Int) (int, error) {
	if feePayment == nil || feePayment.Sign() < 0 {
		return 0, engineerr.Validation(engineerr.ErrZeroAmount)
	}
	idx, _, err := e.Slab.CreateAccount(account.KindUser, owner, uint64(e.Slab.Engine.LifetimeAccountsCreated))
	if err != nil {
		return 0, engineerr.Validation(engineerr.ErrSlabFull)
	}
	if feePayment.Sign() > 0 {
		e.Slab.Engine.InsuranceFeeRevenue = new(big.Int).Add(e.Slab.Engine.InsuranceFeeRevenue, feePayment)
		e.Slab.Engine.Vault = new(big.Int).Add(e.Slab.Engine.Vault, feePayment)
	}
	return idx, nil
}

// Deposit implements wire tag 3.
func (e *Engine) Deposit(idx int, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return engineerr.Validation(engineerr.ErrZeroAmount)
	}
	a, err := e.Slab.Account(idx)
	if err != nil {
		return engineerr.Validation(engineerr.ErrAccountNotFound)
	}
	a.Capital = new(big.Int).Add(a.Capital, amount)
	e.Slab.Engine.Vault = new(big.Int).Add(e.Slab.Engine.Vault, amount)
	e.Slab.Engine.LifetimeDeposits++
	return nil
}

func pendingFeeDebt(a *account.Account) *big.Int {
	if a.FeeCredits.Sign() >= 0 {
		return big.NewInt(0)
	}
	return new(big.Int).Neg(a.FeeCredits)
}

// Withdraw implements wire tag 4: owner-gated, crank-fresh, IM-gated when a
// position remains open.
func (e *Engine) Withdraw(idx int, owner identity.Pubkey, amount *big.Int, nowSlot uint64) error {
	if amount == nil || amount.Sign() <= 0 {
		return engineerr.Validation(engineerr.ErrZeroAmount)
	}
	if err := e.requireWithdrawFresh(nowSlot); err != nil {
		return err
	}
	a, err := e.Slab.Account(idx)
	if err != nil {
		return engineerr.Validation(engineerr.ErrAccountNotFound)
	}
	if a.Owner != owner {
		return engineerr.Validation(engineerr.ErrUnauthorizedAccount)
	}

	available := new(big.Int).Add(a.Capital, a.ReservedPnl)
	available.Sub(available, pendingFeeDebt(a))
	if amount.Cmp(available) > 0 {
		return engineerr.Margin(engineerr.ErrInsufficientMargin)
	}

	if !a.IsFlat() {
		priceE6, err := e.currentPrice(nowSlot)
		if err != nil {
			return err
		}
		haircutE6 := warmup.HaircutRatio(e.Slab.Engine.WarmedPosTotal, e.Slab.Engine.PnlPosTotal)
		postCapital := new(big.Int).Sub(a.Capital, amount)
		if postCapital.Sign() < 0 {
			postCapital = new(big.Int)
		}
		simulated := *a
		simulated.Capital = postCapital
		equity := margin.Equity(&simulated, priceE6, haircutE6)
		_, initialReq := margin.Requirements(a.PositionSize, priceE6, e.Slab.Risk.MaintenanceMarginBps, e.Slab.Risk.InitialMarginBps)
		if equity.Cmp(initialReq) < 0 {
			return engineerr.Margin(engineerr.ErrInsufficientMargin)
		}
	}

	remaining := new(big.Int).Set(amount)
	fromCapital := fixedpoint.MinBig(remaining, a.Capital)
	a.Capital = new(big.Int).Sub(a.Capital, fromCapital)
	remaining.Sub(remaining, fromCapital)
	if remaining.Sign() > 0 {
		a.ReservedPnl = new(big.Int).Sub(a.ReservedPnl, remaining)
	}
	e.Slab.Engine.Vault = new(big.Int).Sub(e.Slab.Engine.Vault, amount)
	e.Slab.Engine.LifetimeWithdrawals++
	return nil
}

func isRiskReducing(oldSize, requestedSize *big.Int) bool {
	newSize := new(big.Int).Add(oldSize, requestedSize)
	return new(big.Int).Abs(newSize).Cmp(new(big.Int).Abs(oldSize)) <= 0
}

// blendEntryPrice recomputes a position's cost basis after a fill, per
// spec.md §4.8 step 5: the size-weighted average of the prior entry and
// this fill, except across a sign flip, where the old position's cost
// basis carries no meaning for the newly (re-)opened side.
func blendEntryPrice(oldSize, oldEntry, fillSize, fillPrice, newSize *big.Int) *big.Int {
	if newSize.Sign() == 0 {
		return new(big.Int).Set(fillPrice)
	}
	if oldSize.Sign() != 0 && newSize.Sign() != oldSize.Sign() {
		return new(big.Int).Set(fillPrice)
	}
	oldAbs := new(big.Int).Abs(oldSize)
	fillAbs := new(big.Int).Abs(fillSize)
	num := new(big.Int).Add(new(big.Int).Mul(oldAbs, oldEntry), new(big.Int).Mul(fillAbs, fillPrice))
	return new(big.Int).Quo(num, new(big.Int).Abs(newSize))
}

// trade implements the shared body of TradeNoCPI and TradeCPI (spec.md
// §4.8); the two wire operations differ only in which Matcher executes the
// fill.
func (e *Engine) trade(userIdx, lpIdx int, requestedSize *big.Int, m matcher.Matcher, nowSlot uint64) error {
	if requestedSize == nil || requestedSize.Sign() == 0 {
		return engineerr.Validation(engineerr.ErrZeroAmount)
	}
	user, err := e.Slab.Account(userIdx)
	if err != nil {
		return engineerr.Validation(engineerr.ErrAccountNotFound)
	}
	lp, err := e.Slab.Account(lpIdx)
	if err != nil {
		return engineerr.Validation(engineerr.ErrAccountNotFound)
	}
	if !lp.IsLP() {
		return engineerr.Validation(engineerr.ErrWrongAccountKind)
	}

	if e.Slab.Engine.RiskReductionOnly && !isRiskReducing(user.PositionSize, requestedSize) {
		return engineerr.Liveness(engineerr.ErrRiskReductionOnly)
	}
	if err := e.requireCrankFresh(nowSlot); err != nil {
		return err
	}

	priceE6, err := e.currentPrice(nowSlot)
	if err != nil {
		return err
	}

	budget := warmup.Budget(e.Slab.Engine.WarmedNegTotal, e.Slab.Engine.InsuranceBalance, e.Slab.Market.ThresholdFloor, e.Slab.Engine.WarmedPosTotal)
	haircutE6 := warmup.HaircutRatio(e.Slab.Engine.WarmedPosTotal, e.Slab.Engine.PnlPosTotal)
	for _, a := range []*account.Account{user, lp} {
		funding.SettleMarkToOracle(a, priceE6, &e.Slab.Engine)
		funding.SettleFunding(a, e.Slab.Engine.FundingIndexQpbE6, &e.Slab.Engine)
		conv := warmup.Touch(a, nowSlot, e.Slab.Risk.WarmupPeriodSlots, budget, e.Slab.Engine.WarmupPaused)
		if conv.MoveAmt.Sign() > 0 {
			e.Slab.Engine.WarmedPosTotal = new(big.Int).Add(e.Slab.Engine.WarmedPosTotal, conv.MoveAmt)
			budget = fixedpoint.SatSub(budget, conv.MoveAmt)
		}
	}

	execSize, execPriceE6, err := m.Match(lp.Owner, lp.MatcherContext, requestedSize, priceE6)
	if err != nil {
		return engineerr.Matcher(engineerr.ErrMatcherRejected)
	}
	if err := matcher.Validate(requestedSize, execSize, execPriceE6, priceE6, e.Slab.Risk.MaxExecutionDeviationBps); err != nil {
		return err
	}

	oldUserSize := new(big.Int).Set(user.PositionSize)
	newUserSize := new(big.Int).Add(user.PositionSize, execSize)
	user.EntryPriceE6 = blendEntryPrice(oldUserSize, user.EntryPriceE6, execSize, execPriceE6, newUserSize)
	user.PositionSize = newUserSize

	lpFill := new(big.Int).Neg(execSize)
	oldLPSize := new(big.Int).Set(lp.PositionSize)
	newLPSize := new(big.Int).Add(lp.PositionSize, lpFill)
	lp.EntryPriceE6 = blendEntryPrice(oldLPSize, lp.EntryPriceE6, lpFill, execPriceE6, newLPSize)
	lp.PositionSize = newLPSize

	notional := fixedpoint.MulDivSat(new(big.Int).Abs(execSize), priceE6, big.NewInt(fixedpoint.E6))
	fee := fixedpoint.MulBps(notional, e.Slab.Risk.TradingFeeBps)
	user.Capital = new(big.Int).Sub(user.Capital, fee)
	e.Slab.Engine.InsuranceFeeRevenue = new(big.Int).Add(e.Slab.Engine.InsuranceFeeRevenue, fee)
	user.TradesExecuted++
	lp.TradesExecuted++

	userEquity := margin.Equity(user, priceE6, haircutE6)
	userMaintReq, userInitReq := margin.Requirements(user.PositionSize, priceE6, e.Slab.Risk.MaintenanceMarginBps, e.Slab.Risk.InitialMarginBps)
	userReq := userMaintReq
	if margin.IsRiskIncreasing(oldUserSize, user.PositionSize) {
		userReq = userInitReq
	}
	if userEquity.Cmp(userReq) < 0 {
		return engineerr.Margin(engineerr.ErrInsufficientMargin)
	}
	lpEquity := margin.Equity(lp, priceE6, haircutE6)
	_, lpInitReq := margin.Requirements(lp.PositionSize, priceE6, e.Slab.Risk.MaintenanceMarginBps, e.Slab.Risk.InitialMarginBps)
	if lpEquity.Cmp(lpInitReq) < 0 {
		return engineerr.Margin(engineerr.ErrInsufficientMargin)
	}

	oiDelta := new(big.Int).Sub(new(big.Int).Abs(user.PositionSize), new(big.Int).Abs(oldUserSize))
	e.Slab.Engine.TotalOpenInterest = fixedpoint.SatAdd(e.Slab.Engine.TotalOpenInterest, fixedpoint.Max0(oiDelta))
	e.Slab.Engine.TotalOpenInterest = fixedpoint.SatSub(e.Slab.Engine.TotalOpenInterest, fixedpoint.Max0(new(big.Int).Neg(oiDelta)))
	e.Slab.Engine.LifetimeTrades++
	e.logInfo("trade executed", ownerField(user.Owner), slog.String("exec_size", execSize.String()), slog.String("exec_price_e6", execPriceE6.String()))
	return nil
}

// TradeNoCPI implements wire tag 5: a full fill at the oracle price with no
// external program invocation.
func (e *Engine) TradeNoCPI(userIdx, lpIdx int, requestedSize *big.Int, nowSlot uint64) error {
	return e.trade(userIdx, lpIdx, requestedSize, matcher.DirectMatcher{}, nowSlot)
}

// TradeCPI implements wire tag 6: a fill determined by the LP's external
// matcher program.
func (e *Engine) TradeCPI(userIdx, lpIdx int, requestedSize *big.Int, m matcher.Matcher, nowSlot uint64) error {
	return e.trade(userIdx, lpIdx, requestedSize, m, nowSlot)
}

// KeeperCrank implements wire tag 7: advances exactly one crank step.
// The wire caller index (65535 for a permissionless call) is not taken
// here; the engine applies no caller check since the crank carries no
// privileged side effects.
func (e *Engine) KeeperCrank(nowSlot uint64) error {
	priceE6, err := e.currentPrice(nowSlot)
	if err != nil {
		return err
	}
	correlationID := e.Crank.Step(e.Slab, priceE6, nowSlot)
	e.logInfo("keeper crank step", slog.String("correlation_id", correlationID), slog.Uint64("slot", nowSlot))
	return nil
}

// Liquidate implements wire tag 8. liquidatorIdx receives the liquidation
// fee and, in this market's single-LP architecture, is expected to be the
// LP account that also absorbs the closed position as counterparty.
func (e *Engine) Liquidate(targetIdx, liquidatorIdx int, nowSlot uint64) (liquidation.Result, error) {
	var zero liquidation.Result
	target, err := e.Slab.Account(targetIdx)
	if err != nil {
		return zero, engineerr.Validation(engineerr.ErrAccountNotFound)
	}
	liquidator, err := e.Slab.Account(liquidatorIdx)
	if err != nil {
		return zero, engineerr.Validation(engineerr.ErrAccountNotFound)
	}
	priceE6, err := e.currentPrice(nowSlot)
	if err != nil {
		return zero, err
	}
	haircutE6 := warmup.HaircutRatio(e.Slab.Engine.WarmedPosTotal, e.Slab.Engine.PnlPosTotal)

	funding.SettleMarkToOracle(target, priceE6, &e.Slab.Engine)
	funding.SettleFunding(target, e.Slab.Engine.FundingIndexQpbE6, &e.Slab.Engine)

	equity := margin.Equity(target, priceE6, haircutE6)
	maintenanceReq, _ := margin.Requirements(target.PositionSize, priceE6, e.Slab.Risk.MaintenanceMarginBps, e.Slab.Risk.InitialMarginBps)
	if !liquidation.Eligible(equity, maintenanceReq) {
		return zero, engineerr.Margin(engineerr.ErrNotLiquidatable)
	}

	notional := margin.Notional(target.PositionSize, priceE6)
	closeNotional := liquidation.CloseNotional(
		equity, notional,
		e.Slab.Risk.MaintenanceMarginBps, e.Slab.Risk.LiquidationBufferBps, e.Slab.Risk.LiquidationFeeBps,
		e.Slab.Risk.LiquidationFeeCap, e.Slab.Risk.MinLiquidationAbs,
	)
	closeSize := liquidation.SizeFromNotional(closeNotional, priceE6, new(big.Int).Abs(target.PositionSize))

	res := liquidation.Execute(e.Slab.Accounts, target, liquidator, closeSize, priceE6, e.Slab.Risk, &e.Slab.Engine, haircutE6)
	e.Slab.Engine.TotalOpenInterest = fixedpoint.SatSub(e.Slab.Engine.TotalOpenInterest, res.ClosedSize)
	e.Slab.Engine.LifetimeLiquidations++
	e.logInfo("account liquidated", ownerField(target.Owner), slog.String("closed_size", res.ClosedSize.String()), slog.String("bad_debt", res.BadDebt.String()))
	if e.Slab.Engine.RiskReductionOnly {
		e.logInfo("market entered risk-reduction mode", slog.String("loss_accum", e.Slab.Engine.LossAccum.String()))
	}
	return res, nil
}

// TopUpInsurance implements wire tag 9.
func (e *Engine) TopUpInsurance(amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return engineerr.Validation(engineerr.ErrZeroAmount)
	}
	risk.TopUpInsurance(&e.Slab.Engine, amount, e.Slab.Risk.RiskReductionThreshold)
	return nil
}

// CloseAccount implements wire tag 10, additionally requiring crank
// freshness and a recent sweep per spec.md §9 Finding O.
func (e *Engine) CloseAccount(idx int, nowSlot uint64) error {
	if err := e.requireWithdrawFresh(nowSlot); err != nil {
		return err
	}
	a, err := e.Slab.Account(idx)
	if err != nil {
		return engineerr.Validation(engineerr.ErrAccountNotFound)
	}
	if !a.IsEligibleForClose() {
		return engineerr.Validation(engineerr.ErrWrongAccountKind)
	}
	residual := new(big.Int).Add(a.Capital, a.ReservedPnl)
	e.Slab.Engine.Vault = new(big.Int).Sub(e.Slab.Engine.Vault, residual)
	return e.Slab.CloseAccount(idx)
}

// SetRiskThreshold implements wire tag 11.
func (e *Engine) SetRiskThreshold(newThreshold *big.Int) error {
	if newThreshold == nil || newThreshold.Sign() < 0 {
		return engineerr.Validation(engineerr.ErrZeroAmount)
	}
	e.Slab.Risk.RiskReductionThreshold = newThreshold
	return nil
}

// pushTime converts the instruction's wire-carried unix timestamp into the
// wall-clock time the rate limiter inside Breaker expects.
func pushTime(unixSeconds int64) time.Time {
	return time.Unix(unixSeconds, 0)
}

// PushOraclePrice implements wire tag 12: oracle-authority-gated, circuit
// breaker applied.
func (e *Engine) PushOraclePrice(caller identity.Pubkey, priceE6 *big.Int, now int64) error {
	if caller != e.Slab.Engine.OracleAuthority {
		return engineerr.Oracle(engineerr.ErrOracleUnauthorizedPush)
	}
	accepted, err := e.Breaker.Push(pushTime(now), e.Slab.Engine.LastEffectivePriceE6, priceE6, e.Slab.Market.OraclePriceCapE2Bps)
	if err != nil {
		return err
	}
	e.Slab.Engine.LastEffectivePriceE6 = accepted
	return nil
}

// SetOracleAuthority implements wire tag 13.
func (e *Engine) SetOracleAuthority(newAuthority identity.Pubkey) error {
	e.Slab.Engine.OracleAuthority = newAuthority
	return nil
}

// UpdateConfig implements wire tag 14: admin mutates funding/threshold
// parameters via mutate, then the combined result is re-validated.
func (e *Engine) UpdateConfig(mutate func(*slab.MarketConfig, *slab.RiskParameters)) error {
	market := e.Slab.Market
	riskParams := e.Slab.Risk
	mutate(&market, &riskParams)
	if err := riskParams.Validate(); err != nil {
		return engineerr.Validation(err)
	}
	e.Slab.Market = market
	e.Slab.Risk = riskParams
	return nil
}

// SetMaintenanceFee implements wire tag 15.
func (e *Engine) SetMaintenanceFee(newFee *big.Int) error {
	if newFee == nil || newFee.Sign() < 0 {
		return engineerr.Validation(engineerr.ErrZeroAmount)
	}
	e.Slab.Risk.MaintenanceFeePerSlot = newFee
	return nil
}

// CloseSlab implements wire tag 16: admin-only, terminal. The caller is
// expected to have already verified every account has been closed; the
// engine itself only asserts the bitmap is empty, never mutates on behalf
// of the admin to force it.
func (e *Engine) CloseSlab() error {
	if e.Slab.Engine.AccountCount != 0 {
		return engineerr.Validation(engineerr.ErrWrongAccountKind)
	}
	return nil
}
