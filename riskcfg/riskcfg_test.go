package riskcfg

import (
	"math/big"
	"path/filepath"
	"testing"

	"perpcore/slab"
)

func bi(v int64) *big.Int { return big.NewInt(v) }

func TestLoadWritesDefaultWhenMissing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "risk.toml")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.MaintenanceMarginBps != 500 {
		t.Fatalf("expected default MaintenanceMarginBps=500, got %d", cfg.MaintenanceMarginBps)
	}

	again, err := Load(path)
	if err != nil {
		t.Fatalf("second Load: %v", err)
	}
	if again.InitialMarginBps != cfg.InitialMarginBps {
		t.Fatalf("expected round-tripped config to match, got %d vs %d", again.InitialMarginBps, cfg.InitialMarginBps)
	}
}

func TestEnsureDefaultsRepairsNilBigInts(t *testing.T) {
	cfg := &Config{}
	cfg.EnsureDefaults()
	if cfg.NewAccountFee == nil || cfg.NewAccountFee.Sign() != 0 {
		t.Fatal("expected NewAccountFee repaired to zero")
	}
	if cfg.Funding.InvScaleNotionalE6 == nil {
		t.Fatal("expected Funding.InvScaleNotionalE6 repaired")
	}
	if cfg.Threshold.Min == nil || cfg.Threshold.Max == nil {
		t.Fatal("expected Threshold bounds repaired")
	}
}

func TestApplyToPopulatesMarketAndRisk(t *testing.T) {
	cfg := defaultConfig()
	cfg.MaintenanceMarginBps = 600
	cfg.Funding.KBps = 25

	var market slab.MarketConfig
	var risk slab.RiskParameters
	cfg.ApplyTo(&market, &risk)

	if risk.MaintenanceMarginBps != 600 {
		t.Fatalf("expected MaintenanceMarginBps=600, got %d", risk.MaintenanceMarginBps)
	}
	if market.FundingKBps != 25 {
		t.Fatalf("expected FundingKBps=25, got %d", market.FundingKBps)
	}
	if market.ThresholdFloor.Cmp(cfg.Threshold.Floor) != 0 {
		t.Fatalf("expected ThresholdFloor to carry over, got %s", market.ThresholdFloor)
	}
	if risk.LiquidationFeeBps != cfg.LiquidationFeeBps {
		t.Fatalf("expected LiquidationFeeBps to carry over, got %d", risk.LiquidationFeeBps)
	}
}
