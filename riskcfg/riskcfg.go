// Package riskcfg loads the operator-tunable market and risk parameters
// used to bootstrap a market, mirroring the Config+EnsureDefaults TOML idiom
// of the native lending module's own configuration.
package riskcfg

import (
	"math/big"
	"os"

	"github.com/BurntSushi/toml"

	"perpcore/slab"
)

// Config is the TOML-loaded shape of everything an operator tunes ahead of
// InitMarket or via UpdateConfig, kept distinct from slab.MarketConfig and
// slab.RiskParameters so the wire-persisted slab layout never has to carry
// a TOML struct tag.
type Config struct {
	WarmupPeriodSlots        uint64   `toml:"WarmupPeriodSlots"`
	MaintenanceMarginBps     uint64   `toml:"MaintenanceMarginBps"`
	InitialMarginBps         uint64   `toml:"InitialMarginBps"`
	TradingFeeBps            uint64   `toml:"TradingFeeBps"`
	MaxAccounts              uint32   `toml:"MaxAccounts"`
	NewAccountFee            *big.Int `toml:"NewAccountFee"`
	RiskReductionThreshold   *big.Int `toml:"RiskReductionThreshold"`
	MaintenanceFeePerSlot    *big.Int `toml:"MaintenanceFeePerSlot"`
	MaxCrankStalenessSlots   uint64   `toml:"MaxCrankStalenessSlots"`
	LiquidationFeeBps        uint64   `toml:"LiquidationFeeBps"`
	LiquidationFeeCap        *big.Int `toml:"LiquidationFeeCap"`
	LiquidationBufferBps     uint64   `toml:"LiquidationBufferBps"`
	MinLiquidationAbs        *big.Int `toml:"MinLiquidationAbs"`
	MaxExecutionDeviationBps uint64   `toml:"MaxExecutionDeviationBps"`

	Funding   FundingConfig   `toml:"funding"`
	Threshold ThresholdConfig `toml:"threshold"`
}

// FundingConfig mirrors the funding-rate fields of slab.MarketConfig.
type FundingConfig struct {
	HorizonSlots       uint64   `toml:"HorizonSlots"`
	KBps               uint64   `toml:"KBps"`
	InvScaleNotionalE6 *big.Int `toml:"InvScaleNotionalE6"`
	MaxPremiumBps      uint64   `toml:"MaxPremiumBps"`
	MaxBpsPerSlot      uint64   `toml:"MaxBpsPerSlot"`
}

// ThresholdConfig mirrors the dynamic-threshold fields of slab.MarketConfig.
type ThresholdConfig struct {
	Floor               *big.Int `toml:"Floor"`
	RiskBps             uint64   `toml:"RiskBps"`
	UpdateIntervalSlots uint64   `toml:"UpdateIntervalSlots"`
	Step                *big.Int `toml:"Step"`
	AlphaE6             uint64   `toml:"AlphaE6"`
	Min                 *big.Int `toml:"Min"`
	Max                 *big.Int `toml:"Max"`
	MinStep             *big.Int `toml:"MinStep"`
}

// EnsureDefaults repairs nil big.Int fields after a partial TOML decode, the
// same nil-guard pattern native/lending's Config.EnsureDefaults uses.
func (c *Config) EnsureDefaults() {
	if c.NewAccountFee == nil {
		c.NewAccountFee = big.NewInt(0)
	}
	if c.RiskReductionThreshold == nil {
		c.RiskReductionThreshold = big.NewInt(0)
	}
	if c.MaintenanceFeePerSlot == nil {
		c.MaintenanceFeePerSlot = big.NewInt(0)
	}
	if c.LiquidationFeeCap == nil {
		c.LiquidationFeeCap = big.NewInt(0)
	}
	if c.MinLiquidationAbs == nil {
		c.MinLiquidationAbs = big.NewInt(0)
	}
	if c.Funding.InvScaleNotionalE6 == nil {
		c.Funding.InvScaleNotionalE6 = big.NewInt(0)
	}
	if c.Threshold.Floor == nil {
		c.Threshold.Floor = big.NewInt(0)
	}
	if c.Threshold.Step == nil {
		c.Threshold.Step = big.NewInt(0)
	}
	if c.Threshold.Min == nil {
		c.Threshold.Min = big.NewInt(0)
	}
	if c.Threshold.Max == nil {
		c.Threshold.Max = big.NewInt(0)
	}
	if c.Threshold.MinStep == nil {
		c.Threshold.MinStep = big.NewInt(0)
	}
}

// Load reads a TOML risk configuration from path, writing a documented
// default file if none exists yet — the same bootstrap-on-first-run
// behavior as the chain's own config.Load.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	cfg.EnsureDefaults()
	return cfg, nil
}

func createDefault(path string) (*Config, error) {
	cfg := defaultConfig()
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	if err := toml.NewEncoder(f).Encode(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func defaultConfig() *Config {
	return &Config{
		WarmupPeriodSlots:        216_000,
		MaintenanceMarginBps:     500,
		InitialMarginBps:         1_000,
		TradingFeeBps:            10,
		MaxAccounts:              10_000,
		NewAccountFee:            big.NewInt(0),
		RiskReductionThreshold:   big.NewInt(0),
		MaintenanceFeePerSlot:    big.NewInt(0),
		MaxCrankStalenessSlots:   1_000,
		LiquidationFeeBps:        50,
		LiquidationFeeCap:        big.NewInt(0),
		LiquidationBufferBps:     50,
		MinLiquidationAbs:        big.NewInt(0),
		MaxExecutionDeviationBps: 200,
		Funding: FundingConfig{
			HorizonSlots:       10_800,
			KBps:               10,
			InvScaleNotionalE6: big.NewInt(1_000_000_000_000),
			MaxPremiumBps:      1_000,
			MaxBpsPerSlot:      50,
		},
		Threshold: ThresholdConfig{
			Floor:               big.NewInt(0),
			RiskBps:             100,
			UpdateIntervalSlots: 10_800,
			Step:                big.NewInt(0),
			AlphaE6:             500_000,
			Min:                 big.NewInt(0),
			Max:                 big.NewInt(0),
			MinStep:             big.NewInt(0),
		},
	}
}

// ApplyTo maps the loaded configuration onto the slab.MarketConfig and
// slab.RiskParameters pair InitMarket (package engine) requires.
func (c Config) ApplyTo(market *slab.MarketConfig, risk *slab.RiskParameters) {
	risk.WarmupPeriodSlots = c.WarmupPeriodSlots
	risk.MaintenanceMarginBps = c.MaintenanceMarginBps
	risk.InitialMarginBps = c.InitialMarginBps
	risk.TradingFeeBps = c.TradingFeeBps
	risk.MaxAccounts = c.MaxAccounts
	risk.NewAccountFee = c.NewAccountFee
	risk.RiskReductionThreshold = c.RiskReductionThreshold
	risk.MaintenanceFeePerSlot = c.MaintenanceFeePerSlot
	risk.MaxCrankStalenessSlots = c.MaxCrankStalenessSlots
	risk.LiquidationFeeBps = c.LiquidationFeeBps
	risk.LiquidationFeeCap = c.LiquidationFeeCap
	risk.LiquidationBufferBps = c.LiquidationBufferBps
	risk.MinLiquidationAbs = c.MinLiquidationAbs
	risk.MaxExecutionDeviationBps = c.MaxExecutionDeviationBps

	market.FundingHorizonSlots = c.Funding.HorizonSlots
	market.FundingKBps = c.Funding.KBps
	market.InvScaleNotionalE6 = c.Funding.InvScaleNotionalE6
	market.FundingMaxPremiumBps = c.Funding.MaxPremiumBps
	market.FundingMaxBpsPerSlot = c.Funding.MaxBpsPerSlot

	market.ThresholdFloor = c.Threshold.Floor
	market.ThresholdRiskBps = c.Threshold.RiskBps
	market.ThresholdUpdateIntervalSlots = c.Threshold.UpdateIntervalSlots
	market.ThresholdStep = c.Threshold.Step
	market.ThresholdAlphaE6 = c.Threshold.AlphaE6
	market.ThresholdMin = c.Threshold.Min
	market.ThresholdMax = c.Threshold.Max
	market.ThresholdMinStep = c.Threshold.MinStep
}
