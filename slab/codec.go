package slab

import (
	"bytes"
	"encoding/binary"
	"math/big"

	"github.com/ethereum/go-ethereum/rlp"
	"lukechampine.com/blake3"

	"perpcore/account"
	"perpcore/identity"
)

const headerLen = 8 + 2 + 32 // magic + version + blake3 checksum

type wireMarketConfig struct {
	CollateralMint identity.Pubkey
	Vault          identity.Pubkey
	OracleID       identity.Pubkey
	OracleKind     uint8

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

type wireRiskParameters struct {
	WarmupPeriodSlots        uint64
	MaintenanceMarginBps     uint64
	InitialMarginBps         uint64
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

type wireEngineState struct {
	Admin           identity.Pubkey
	OracleAuthority identity.Pubkey

	Vault                *big.Int
	InsuranceBalance     *big.Int
	InsuranceFeeRevenue  *big.Int
	LastEffectivePriceE6 *big.Int

	CurrentSlot       uint64
	FundingIndexQpbE6 sbig
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
	SweepHaircutE6             uint64

	TotalOpenInterest       *big.Int
	WarmedPosTotal          *big.Int
	WarmedNegTotal          *big.Int
	WarmupInsuranceReserved *big.Int
	PnlPosTotal             *big.Int

	AccountCount uint32
	LPIndex      uint32

	LifetimeTrades          uint64
	LifetimeLiquidations    uint64
	LifetimeDeposits        uint64
	LifetimeWithdrawals     uint64
	LifetimeAccountsCreated uint64
	LifetimeAccountsClosed  uint64
	LifetimeAutoRecoveries  uint64
}

type wireAccount struct {
	Kind      uint8
	Owner     identity.Pubkey
	AccountID uint64

	Capital             *big.Int
	Pnl                 sbig
	ReservedPnl         *big.Int
	WarmupStartedAtSlot uint64
	WarmupSlopePerStep  *big.Int

	PositionSize         sbig
	EntryPriceE6         *big.Int
	FundingIndexSnapshot sbig

	MatcherProgram identity.Pubkey
	MatcherContext identity.Pubkey

	FeeCredits  sbig
	LastFeeSlot uint64

	TradesExecuted    uint64
	LiquidationsTaken uint64
	TotalFeesPaidWei  *big.Int
}

type wireSlab struct {
	Version     uint16
	Market      wireMarketConfig
	Risk        wireRiskParameters
	Engine      wireEngineState
	BitmapWords []uint64
	BitmapCap   uint32
	Accounts    []wireAccount
}

func toWireMarket(m MarketConfig) wireMarketConfig {
	return wireMarketConfig{
		CollateralMint: m.CollateralMint, Vault: m.Vault, OracleID: m.OracleID,
		OracleKind: uint8(m.OracleKind), MaxStalenessSecs: m.MaxStalenessSecs,
		ConfFilterBps: m.ConfFilterBps, Invert: m.Invert, UnitScale: m.UnitScale,
		FundingHorizonSlots: m.FundingHorizonSlots, FundingKBps: m.FundingKBps,
		InvScaleNotionalE6: nonNil(m.InvScaleNotionalE6), FundingMaxPremiumBps: m.FundingMaxPremiumBps,
		FundingMaxBpsPerSlot: m.FundingMaxBpsPerSlot, ThresholdFloor: nonNil(m.ThresholdFloor),
		ThresholdRiskBps: m.ThresholdRiskBps, ThresholdUpdateIntervalSlots: m.ThresholdUpdateIntervalSlots,
		ThresholdStep: nonNil(m.ThresholdStep), ThresholdAlphaE6: m.ThresholdAlphaE6,
		ThresholdMin: nonNil(m.ThresholdMin), ThresholdMax: nonNil(m.ThresholdMax),
		ThresholdMinStep: nonNil(m.ThresholdMinStep), OraclePriceCapE2Bps: m.OraclePriceCapE2Bps,
	}
}

func fromWireMarket(w wireMarketConfig) MarketConfig {
	return MarketConfig{
		CollateralMint: w.CollateralMint, Vault: w.Vault, OracleID: w.OracleID,
		OracleKind: OracleKind(w.OracleKind), MaxStalenessSecs: w.MaxStalenessSecs,
		ConfFilterBps: w.ConfFilterBps, Invert: w.Invert, UnitScale: w.UnitScale,
		FundingHorizonSlots: w.FundingHorizonSlots, FundingKBps: w.FundingKBps,
		InvScaleNotionalE6: w.InvScaleNotionalE6, FundingMaxPremiumBps: w.FundingMaxPremiumBps,
		FundingMaxBpsPerSlot: w.FundingMaxBpsPerSlot, ThresholdFloor: w.ThresholdFloor,
		ThresholdRiskBps: w.ThresholdRiskBps, ThresholdUpdateIntervalSlots: w.ThresholdUpdateIntervalSlots,
		ThresholdStep: w.ThresholdStep, ThresholdAlphaE6: w.ThresholdAlphaE6,
		ThresholdMin: w.ThresholdMin, ThresholdMax: w.ThresholdMax,
		ThresholdMinStep: w.ThresholdMinStep, OraclePriceCapE2Bps: w.OraclePriceCapE2Bps,
	}
}

func toWireRisk(r RiskParameters) wireRiskParameters {
	return wireRiskParameters{
		WarmupPeriodSlots: r.WarmupPeriodSlots, MaintenanceMarginBps: r.MaintenanceMarginBps,
		InitialMarginBps: r.InitialMarginBps, TradingFeeBps: r.TradingFeeBps,
		MaxAccounts: r.MaxAccounts, NewAccountFee: nonNil(r.NewAccountFee),
		RiskReductionThreshold: nonNil(r.RiskReductionThreshold), MaintenanceFeePerSlot: nonNil(r.MaintenanceFeePerSlot),
		MaxCrankStalenessSlots: r.MaxCrankStalenessSlots, LiquidationFeeBps: r.LiquidationFeeBps,
		LiquidationFeeCap: nonNil(r.LiquidationFeeCap), LiquidationBufferBps: r.LiquidationBufferBps,
		MinLiquidationAbs: nonNil(r.MinLiquidationAbs), MaxExecutionDeviationBps: r.MaxExecutionDeviationBps,
	}
}

func fromWireRisk(w wireRiskParameters) RiskParameters {
	return RiskParameters{
		WarmupPeriodSlots: w.WarmupPeriodSlots, MaintenanceMarginBps: w.MaintenanceMarginBps,
		InitialMarginBps: w.InitialMarginBps, TradingFeeBps: w.TradingFeeBps,
		MaxAccounts: w.MaxAccounts, NewAccountFee: w.NewAccountFee,
		RiskReductionThreshold: w.RiskReductionThreshold, MaintenanceFeePerSlot: w.MaintenanceFeePerSlot,
		MaxCrankStalenessSlots: w.MaxCrankStalenessSlots, LiquidationFeeBps: w.LiquidationFeeBps,
		LiquidationFeeCap: w.LiquidationFeeCap, LiquidationBufferBps: w.LiquidationBufferBps,
		MinLiquidationAbs: w.MinLiquidationAbs, MaxExecutionDeviationBps: w.MaxExecutionDeviationBps,
	}
}

func toWireEngine(e EngineState) wireEngineState {
	return wireEngineState{
		Admin: e.Admin, OracleAuthority: e.OracleAuthority, Vault: nonNil(e.Vault),
		InsuranceBalance: nonNil(e.InsuranceBalance), InsuranceFeeRevenue: nonNil(e.InsuranceFeeRevenue),
		LastEffectivePriceE6: nonNil(e.LastEffectivePriceE6), CurrentSlot: e.CurrentSlot,
		FundingIndexQpbE6: newSBig(e.FundingIndexQpbE6), LastFundingSlot: e.LastFundingSlot,
		LossAccum: nonNil(e.LossAccum), RiskReductionOnly: e.RiskReductionOnly, WarmupPaused: e.WarmupPaused,
		LastCrankSlot: e.LastCrankSlot, LastFullSweepStartSlot: e.LastFullSweepStartSlot,
		LastFullSweepCompletedSlot: e.LastFullSweepCompletedSlot, CrankStep: e.CrankStep,
		LiqCursor: e.LiqCursor, GCCursor: e.GCCursor, SweepHaircutE6: e.SweepHaircutE6,
		TotalOpenInterest: nonNil(e.TotalOpenInterest), WarmedPosTotal: nonNil(e.WarmedPosTotal),
		WarmedNegTotal: nonNil(e.WarmedNegTotal), WarmupInsuranceReserved: nonNil(e.WarmupInsuranceReserved),
		PnlPosTotal: nonNil(e.PnlPosTotal), AccountCount: e.AccountCount, LPIndex: e.LPIndex,
		LifetimeTrades: e.LifetimeTrades, LifetimeLiquidations: e.LifetimeLiquidations,
		LifetimeDeposits: e.LifetimeDeposits, LifetimeWithdrawals: e.LifetimeWithdrawals,
		LifetimeAccountsCreated: e.LifetimeAccountsCreated, LifetimeAccountsClosed: e.LifetimeAccountsClosed,
		LifetimeAutoRecoveries: e.LifetimeAutoRecoveries,
	}
}

func fromWireEngine(w wireEngineState) EngineState {
	return EngineState{
		Admin: w.Admin, OracleAuthority: w.OracleAuthority, Vault: w.Vault,
		InsuranceBalance: w.InsuranceBalance, InsuranceFeeRevenue: w.InsuranceFeeRevenue,
		LastEffectivePriceE6: w.LastEffectivePriceE6, CurrentSlot: w.CurrentSlot,
		FundingIndexQpbE6: w.FundingIndexQpbE6.V, LastFundingSlot: w.LastFundingSlot,
		LossAccum: w.LossAccum, RiskReductionOnly: w.RiskReductionOnly, WarmupPaused: w.WarmupPaused,
		LastCrankSlot: w.LastCrankSlot, LastFullSweepStartSlot: w.LastFullSweepStartSlot,
		LastFullSweepCompletedSlot: w.LastFullSweepCompletedSlot, CrankStep: w.CrankStep,
		LiqCursor: w.LiqCursor, GCCursor: w.GCCursor, SweepHaircutE6: w.SweepHaircutE6,
		TotalOpenInterest: w.TotalOpenInterest, WarmedPosTotal: w.WarmedPosTotal,
		WarmedNegTotal: w.WarmedNegTotal, WarmupInsuranceReserved: w.WarmupInsuranceReserved,
		PnlPosTotal: w.PnlPosTotal, AccountCount: w.AccountCount, LPIndex: w.LPIndex,
		LifetimeTrades: w.LifetimeTrades, LifetimeLiquidations: w.LifetimeLiquidations,
		LifetimeDeposits: w.LifetimeDeposits, LifetimeWithdrawals: w.LifetimeWithdrawals,
		LifetimeAccountsCreated: w.LifetimeAccountsCreated, LifetimeAccountsClosed: w.LifetimeAccountsClosed,
		LifetimeAutoRecoveries: w.LifetimeAutoRecoveries,
	}
}

func toWireAccount(a account.Account) wireAccount {
	return wireAccount{
		Kind: uint8(a.Kind), Owner: a.Owner, AccountID: a.AccountID,
		Capital: nonNil(a.Capital), Pnl: newSBig(a.Pnl), ReservedPnl: nonNil(a.ReservedPnl),
		WarmupStartedAtSlot: a.WarmupStartedAtSlot, WarmupSlopePerStep: nonNil(a.WarmupSlopePerStep),
		PositionSize: newSBig(a.PositionSize), EntryPriceE6: nonNil(a.EntryPriceE6),
		FundingIndexSnapshot: newSBig(a.FundingIndexSnapshot), MatcherProgram: a.MatcherProgram,
		MatcherContext: a.MatcherContext, FeeCredits: newSBig(a.FeeCredits), LastFeeSlot: a.LastFeeSlot,
		TradesExecuted: a.TradesExecuted, LiquidationsTaken: a.LiquidationsTaken,
		TotalFeesPaidWei: nonNil(a.TotalFeesPaidWei),
	}
}

func fromWireAccount(w wireAccount) account.Account {
	return account.Account{
		Kind: account.Kind(w.Kind), Owner: w.Owner, AccountID: w.AccountID,
		Capital: w.Capital, Pnl: w.Pnl.V, ReservedPnl: w.ReservedPnl,
		WarmupStartedAtSlot: w.WarmupStartedAtSlot, WarmupSlopePerStep: w.WarmupSlopePerStep,
		PositionSize: w.PositionSize.V, EntryPriceE6: w.EntryPriceE6,
		FundingIndexSnapshot: w.FundingIndexSnapshot.V, MatcherProgram: w.MatcherProgram,
		MatcherContext: w.MatcherContext, FeeCredits: w.FeeCredits.V, LastFeeSlot: w.LastFeeSlot,
		TradesExecuted: w.TradesExecuted, LiquidationsTaken: w.LiquidationsTaken,
		TotalFeesPaidWei: w.TotalFeesPaidWei,
	}
}

func nonNil(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return v
}

// Encode serializes the slab to its bit-exact wire form: an 8-byte magic, a
// 2-byte version, a 32-byte BLAKE3 checksum of the payload, then the
// RLP-encoded payload. Third-party indexers (spec.md §6.3) validate magic,
// version, and checksum before trusting the payload.
func Encode(s *Slab) ([]byte, error) {
	wire := wireSlab{
		Version:     CurrentVersion,
		Market:      toWireMarket(s.Market),
		Risk:        toWireRisk(s.Risk),
		Engine:      toWireEngine(s.Engine),
		BitmapWords: s.Bitmap.Words(),
		BitmapCap:   uint32(s.Bitmap.Cap()),
		Accounts:    make([]wireAccount, len(s.Accounts)),
	}
	for i, a := range s.Accounts {
		wire.Accounts[i] = toWireAccount(a)
	}

	payload, err := rlp.EncodeToBytes(wire)
	if err != nil {
		return nil, err
	}

	checksum := blake3.Sum256(payload)

	out := make([]byte, 0, headerLen+len(payload))
	var magicBuf [8]byte
	binary.LittleEndian.PutUint64(magicBuf[:], Magic)
	out = append(out, magicBuf[:]...)
	var verBuf [2]byte
	binary.LittleEndian.PutUint16(verBuf[:], CurrentVersion)
	out = append(out, verBuf[:]...)
	out = append(out, checksum[:]...)
	out = append(out, payload...)
	return out, nil
}

// Decode validates the header and checksum, then deserializes the payload
// into a Slab.
func Decode(data []byte) (*Slab, error) {
	if len(data) < headerLen {
		return nil, ErrBadMagic
	}
	magic := binary.LittleEndian.Uint64(data[0:8])
	if magic != Magic {
		return nil, ErrBadMagic
	}
	version := binary.LittleEndian.Uint16(data[8:10])
	if version != CurrentVersion {
		return nil, ErrBadVersion
	}
	wantChecksum := data[10:42]
	payload := data[headerLen:]
	gotChecksum := blake3.Sum256(payload)
	if !bytes.Equal(wantChecksum, gotChecksum[:]) {
		return nil, ErrChecksumMismatch
	}

	var wire wireSlab
	if err := rlp.DecodeBytes(payload, &wire); err != nil {
		return nil, err
	}

	s := &Slab{
		Version: wire.Version,
		Market:  fromWireMarket(wire.Market),
		Risk:    fromWireRisk(wire.Risk),
		Engine:  fromWireEngine(wire.Engine),
	}
	s.Bitmap.SetWords(wire.BitmapWords, int(wire.BitmapCap))
	s.Accounts = make([]account.Account, len(wire.Accounts))
	for i, w := range wire.Accounts {
		s.Accounts[i] = fromWireAccount(w)
	}
	return s, nil
}
