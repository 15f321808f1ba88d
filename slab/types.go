package slab

import (
	"math/big"

	"perpcore/identity"
)

// NoLPIndex is the sentinel EngineState.LPIndex value before InitLP runs.
const NoLPIndex uint32 = 1<<32 - 1

// OracleKind discriminates the two supported price-feed flavors, dispatched
// by a one-byte tag the way spec.md §4.4/§9 requires (no trait objects, no
// dynamic dispatch).
type OracleKind uint8

const (
	// OraclePull is a pull-style feed: price/exponent/publish_slot/conf read
	// directly from a feed account.
	OraclePull OracleKind = iota
	// OraclePush is the authority-push path gated by the circuit breaker.
	OraclePush
)

// MarketConfig is the immutable-except-via-admin market definition of
// spec.md §3.2.
type MarketConfig struct {
	CollateralMint identity.Pubkey
	Vault          identity.Pubkey
	OracleID       identity.Pubkey
	OracleKind     OracleKind

	MaxStalenessSecs uint64
	ConfFilterBps    uint64
	Invert           bool
	UnitScale        uint64

	FundingHorizonSlots  uint64
	FundingKBps          uint64
	InvScaleNotionalE6   *big.Int
	FundingMaxPremiumBps uint64
	FundingMaxBpsPerSlot uint64

	ThresholdFloor               *big.Int
	ThresholdRiskBps             uint64
	ThresholdUpdateIntervalSlots uint64
	ThresholdStep                *big.Int
	ThresholdAlphaE6             uint64
	ThresholdMin                 *big.Int
	ThresholdMax                 *big.Int
	ThresholdMinStep             *big.Int

	OraclePriceCapE2Bps uint64
}

// RiskParameters is the admin-mutable set of risk limits from spec.md §3.2.
type RiskParameters struct {
	WarmupPeriodSlots        uint64
	MaintenanceMarginBps     uint64 // MM
	InitialMarginBps         uint64 // IM, must be >= MM
	TradingFeeBps            uint64
	MaxAccounts              uint32
	NewAccountFee            *big.Int
	RiskReductionThreshold   *big.Int
	MaintenanceFeePerSlot    *big.Int
	MaxCrankStalenessSlots   uint64
	LiquidationFeeBps        uint64
	LiquidationFeeCap        *big.Int
	LiquidationBufferBps     uint64
	MinLiquidationAbs        *big.Int
	MaxExecutionDeviationBps uint64
}

// EngineState is the mutable, slot-driven market state of spec.md §3.2.
type EngineState struct {
	Admin           identity.Pubkey
	OracleAuthority identity.Pubkey

	Vault                *big.Int
	InsuranceBalance     *big.Int
	InsuranceFeeRevenue  *big.Int
	LastEffectivePriceE6 *big.Int

	CurrentSlot       uint64
	FundingIndexQpbE6 *big.Int
	LastFundingSlot   uint64
	LossAccum         *big.Int
	RiskReductionOnly bool
	WarmupPaused      bool

	LastCrankSlot              uint64
	LastFullSweepStartSlot     uint64
	LastFullSweepCompletedSlot uint64
	CrankStep                  uint8
	LiqCursor                  uint32
	GCCursor                   uint32
	SweepHaircutE6             uint64 // snapshotted at crank step 0 for the duration of one sweep

	TotalOpenInterest       *big.Int
	WarmedPosTotal          *big.Int
	WarmedNegTotal          *big.Int
	WarmupInsuranceReserved *big.Int
	PnlPosTotal             *big.Int

	AccountCount uint32
	// LPIndex is the account-array slot of the market's sole LP (the
	// counterparty to every user position). NoLPIndex means no LP has been
	// created yet.
	LPIndex uint32

	LifetimeTrades            uint64
	LifetimeLiquidations      uint64
	LifetimeDeposits          uint64
	LifetimeWithdrawals       uint64
	LifetimeAccountsCreated   uint64
	LifetimeAccountsClosed    uint64
	LifetimeAutoRecoveries    uint64
}

// ensureDefaults repairs nil big.Int fields after a zero-value construction
// or a partial decode, so arithmetic never dereferences nil.
func (c *MarketConfig) ensureDefaults() {
	if c.InvScaleNotionalE6 == nil {
		c.InvScaleNotionalE6 = big.NewInt(0)
	}
	if c.ThresholdFloor == nil {
		c.ThresholdFloor = big.NewInt(0)
	}
	if c.ThresholdStep == nil {
		c.ThresholdStep = big.NewInt(0)
	}
	if c.ThresholdMin == nil {
		c.ThresholdMin = big.NewInt(0)
	}
	if c.ThresholdMax == nil {
		c.ThresholdMax = big.NewInt(0)
	}
	if c.ThresholdMinStep == nil {
		c.ThresholdMinStep = big.NewInt(0)
	}
}

func (r *RiskParameters) ensureDefaults() {
	if r.NewAccountFee == nil {
		r.NewAccountFee = big.NewInt(0)
	}
	if r.RiskReductionThreshold == nil {
		r.RiskReductionThreshold = big.NewInt(0)
	}
	if r.MaintenanceFeePerSlot == nil {
		r.MaintenanceFeePerSlot = big.NewInt(0)
	}
	if r.LiquidationFeeCap == nil {
		r.LiquidationFeeCap = big.NewInt(0)
	}
	if r.MinLiquidationAbs == nil {
		r.MinLiquidationAbs = big.NewInt(0)
	}
}

func (e *EngineState) ensureDefaults() {
	if e.Vault == nil {
		e.Vault = big.NewInt(0)
	}
	if e.InsuranceBalance == nil {
		e.InsuranceBalance = big.NewInt(0)
	}
	if e.InsuranceFeeRevenue == nil {
		e.InsuranceFeeRevenue = big.NewInt(0)
	}
	if e.LastEffectivePriceE6 == nil {
		e.LastEffectivePriceE6 = big.NewInt(0)
	}
	if e.FundingIndexQpbE6 == nil {
		e.FundingIndexQpbE6 = big.NewInt(0)
	}
	if e.LossAccum == nil {
		e.LossAccum = big.NewInt(0)
	}
	if e.TotalOpenInterest == nil {
		e.TotalOpenInterest = big.NewInt(0)
	}
	if e.WarmedPosTotal == nil {
		e.WarmedPosTotal = big.NewInt(0)
	}
	if e.WarmedNegTotal == nil {
		e.WarmedNegTotal = big.NewInt(0)
	}
	if e.WarmupInsuranceReserved == nil {
		e.WarmupInsuranceReserved = big.NewInt(0)
	}
	if e.PnlPosTotal == nil {
		e.PnlPosTotal = big.NewInt(0)
	}
}

// Validate enforces the cross-parameter invariants of spec.md §3.2.
func (r RiskParameters) Validate() error {
	if r.InitialMarginBps < r.MaintenanceMarginBps {
		return errInitialBelowMaintenance
	}
	if r.MaintenanceMarginBps == 0 || r.MaintenanceMarginBps > 10_000 {
		return errMarginBpsRange
	}
	if r.InitialMarginBps > 10_000 {
		return errMarginBpsRange
	}
	if r.TradingFeeBps > 10_000 || r.LiquidationFeeBps > 10_000 || r.LiquidationBufferBps > 10_000 {
		return errBpsRange
	}
	if r.MaxAccounts == 0 {
		return errMaxAccountsZero
	}
	return nil
}
