package engine

import (
	"bytes"
	"log/slog"
	"math/big"
	"strings"
	"testing"

	"perpcore/identity"
	"perpcore/metrics"
	"perpcore/oracle"
	"perpcore/slab"
)

func bi(v int64) *big.Int { return big.NewInt(v) }

type fakeFeed struct {
	price *big.Int
	slot  uint64
}

func (f fakeFeed) Owner(identity.Pubkey) (oracle.FeedKind, error) { return oracle.FeedPyth, nil }
func (f fakeFeed) Read(identity.Pubkey, oracle.FeedKind) (oracle.Reading, error) {
	return oracle.Reading{PriceE6: f.price, PublishSlot: f.slot, ConfE6: bi(0)}, nil
}

func newTestMarket() (slab.MarketConfig, slab.RiskParameters) {
	market := slab.MarketConfig{
		OracleID:             identity.Pubkey{1},
		MaxStalenessSecs:     1_000,
		ConfFilterBps:        1_000,
		FundingHorizonSlots:  100,
		FundingKBps:          10,
		InvScaleNotionalE6:   bi(1_000_000_000),
		FundingMaxPremiumBps: 1_000,
		FundingMaxBpsPerSlot: 100,
		ThresholdFloor:       bi(0),
		OraclePriceCapE2Bps:  1_000_000, // 100%, unclamped for test simplicity
	}
	risk := slab.RiskParameters{
		WarmupPeriodSlots:     1_000,
		MaintenanceMarginBps:  500,
		InitialMarginBps:      1_000,
		TradingFeeBps:         100,
		MaxAccounts:           16,
		NewAccountFee:         bi(0),
		MaintenanceFeePerSlot: bi(0),
		MaxCrankStalenessSlots: 10_000,
		LiquidationFeeBps:     100,
		LiquidationFeeCap:     bi(0),
		LiquidationBufferBps:  100,
		MinLiquidationAbs:     bi(0),
	}
	return market, risk
}

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	market, risk := newTestMarket()
	feed := fakeFeed{price: bi(1_000_000), slot: 0}
	breaker := oracle.NewBreaker(100, 10)
	e, err := InitMarket(identity.Pubkey{9}, identity.Pubkey{8}, market, risk, feed, breaker, 0)
	if err != nil {
		t.Fatalf("InitMarket: %v", err)
	}
	return e
}

func TestInitMarketSeedsLastEffectivePrice(t *testing.T) {
	e := newTestEngine(t)
	if e.Slab.Engine.LastEffectivePriceE6.Cmp(bi(1_000_000)) != 0 {
		t.Fatalf("expected seeded price 1_000_000, got %s", e.Slab.Engine.LastEffectivePriceE6)
	}
}

func TestInitLPAndUserDepositAndTrade(t *testing.T) {
	e := newTestEngine(t)
	lpIdx, err := e.InitLP(identity.Pubkey{2}, identity.Pubkey{0xAA}, identity.Pubkey{0xBB}, bi(0))
	if err != nil {
		t.Fatalf("InitLP: %v", err)
	}
	userIdx, err := e.InitUser(identity.Pubkey{3}, bi(0))
	if err != nil {
		t.Fatalf("InitUser: %v", err)
	}

	if err := e.Deposit(lpIdx, bi(1_000_000_000)); err != nil {
		t.Fatalf("LP deposit: %v", err)
	}
	if err := e.Deposit(userIdx, bi(1_000_000)); err != nil {
		t.Fatalf("user deposit: %v", err)
	}

	if err := e.TradeNoCPI(userIdx, lpIdx, bi(100_000), 1); err != nil {
		t.Fatalf("TradeNoCPI: %v", err)
	}

	user, _ := e.Slab.Account(userIdx)
	lp, _ := e.Slab.Account(lpIdx)
	if user.PositionSize.Cmp(bi(100_000)) != 0 {
		t.Fatalf("expected user position 100000, got %s", user.PositionSize)
	}
	if lp.PositionSize.Cmp(bi(-100_000)) != 0 {
		t.Fatalf("expected LP position -100000, got %s", lp.PositionSize)
	}
	if user.Capital.Cmp(bi(1_000_000)) >= 0 {
		t.Fatal("expected trading fee to have been debited from user capital")
	}
	if e.Slab.Engine.LifetimeTrades != 1 {
		t.Fatalf("expected LifetimeTrades=1, got %d", e.Slab.Engine.LifetimeTrades)
	}
}

func TestWithdrawRejectsBeyondAvailable(t *testing.T) {
	e := newTestEngine(t)
	owner := identity.Pubkey{3}
	userIdx, err := e.InitUser(owner, bi(0))
	if err != nil {
		t.Fatalf("InitUser: %v", err)
	}
	if err := e.Deposit(userIdx, bi(100)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if err := e.Withdraw(userIdx, owner, bi(200), 1); err == nil {
		t.Fatal("expected withdraw beyond available to fail")
	}
	if err := e.Withdraw(userIdx, owner, bi(50), 1); err != nil {
		t.Fatalf("expected valid withdraw to succeed, got %v", err)
	}
}

func TestWithdrawRejectsWrongOwner(t *testing.T) {
	e := newTestEngine(t)
	userIdx, err := e.InitUser(identity.Pubkey{3}, bi(0))
	if err != nil {
		t.Fatalf("InitUser: %v", err)
	}
	_ = e.Deposit(userIdx, bi(100))
	if err := e.Withdraw(userIdx, identity.Pubkey{99}, bi(10), 1); err == nil {
		t.Fatal("expected unauthorized owner to fail")
	}
}

func TestKeeperCrankAdvancesStep(t *testing.T) {
	e := newTestEngine(t)
	before := e.Slab.Engine.CrankStep
	if err := e.KeeperCrank(1); err != nil {
		t.Fatalf("KeeperCrank: %v", err)
	}
	if e.Slab.Engine.CrankStep == before {
		t.Fatal("expected crank step to advance")
	}
}

func TestLiquidateRejectsHealthyAccount(t *testing.T) {
	e := newTestEngine(t)
	lpIdx, err := e.InitLP(identity.Pubkey{2}, identity.Pubkey{0xAA}, identity.Pubkey{0xBB}, bi(0))
	if err != nil {
		t.Fatalf("InitLP: %v", err)
	}
	userIdx, err := e.InitUser(identity.Pubkey{3}, bi(0))
	if err != nil {
		t.Fatalf("InitUser: %v", err)
	}
	_ = e.Deposit(userIdx, bi(1_000_000))
	if _, err := e.Liquidate(userIdx, lpIdx, 1); err == nil {
		t.Fatal("expected liquidation of a flat, well-capitalized account to fail")
	}
}

func TestTopUpInsuranceIncreasesBalance(t *testing.T) {
	e := newTestEngine(t)
	if err := e.TopUpInsurance(bi(500)); err != nil {
		t.Fatalf("TopUpInsurance: %v", err)
	}
	if e.Slab.Engine.InsuranceBalance.Cmp(bi(500)) != 0 {
		t.Fatalf("expected insurance balance 500, got %s", e.Slab.Engine.InsuranceBalance)
	}
}

func TestPushOraclePriceRejectsWrongAuthority(t *testing.T) {
	e := newTestEngine(t)
	if err := e.PushOraclePrice(identity.Pubkey{123}, bi(1_010_000), 0); err == nil {
		t.Fatal("expected unauthorized push to fail")
	}
}

func TestPushOraclePriceAcceptsAuthority(t *testing.T) {
	e := newTestEngine(t)
	if err := e.PushOraclePrice(identity.Pubkey{8}, bi(1_005_000), 0); err != nil {
		t.Fatalf("PushOraclePrice: %v", err)
	}
	if e.Slab.Engine.LastEffectivePriceE6.Cmp(bi(1_005_000)) != 0 {
		t.Fatalf("expected last effective price updated, got %s", e.Slab.Engine.LastEffectivePriceE6)
	}
}

func TestCloseSlabRejectsWhileAccountsRemain(t *testing.T) {
	e := newTestEngine(t)
	if _, err := e.InitUser(identity.Pubkey{3}, bi(0)); err != nil {
		t.Fatalf("InitUser: %v", err)
	}
	if err := e.CloseSlab(); err == nil {
		t.Fatal("expected CloseSlab to fail while accounts remain")
	}
}

func TestWithLoggerEmitsMaskedTradeLog(t *testing.T) {
	e := newTestEngine(t)
	var buf bytes.Buffer
	e.WithLogger(slog.New(slog.NewJSONHandler(&buf, nil)))

	lpIdx, err := e.InitLP(identity.Pubkey{2}, identity.Pubkey{0xAA}, identity.Pubkey{0xBB}, bi(0))
	if err != nil {
		t.Fatalf("InitLP: %v", err)
	}
	userIdx, err := e.InitUser(identity.Pubkey{3}, bi(0))
	if err != nil {
		t.Fatalf("InitUser: %v", err)
	}
	_ = e.Deposit(lpIdx, bi(1_000_000_000))
	_ = e.Deposit(userIdx, bi(1_000_000))
	if err := e.TradeNoCPI(userIdx, lpIdx, bi(100_000), 1); err != nil {
		t.Fatalf("TradeNoCPI: %v", err)
	}

	out := buf.String()
	if !strings.Contains(out, "trade executed") {
		t.Fatalf("expected a trade log line, got %q", out)
	}
	if !strings.Contains(out, "[REDACTED]") {
		t.Fatalf("expected the owner field to be masked, got %q", out)
	}
}

func TestKeeperCrankLogsCorrelationID(t *testing.T) {
	e := newTestEngine(t)
	var buf bytes.Buffer
	e.WithLogger(slog.New(slog.NewJSONHandler(&buf, nil)))
	e.WithMetrics(metrics.New())

	if err := e.KeeperCrank(1); err != nil {
		t.Fatalf("KeeperCrank: %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, "correlation_id") {
		t.Fatalf("expected a correlation_id field in the crank log, got %q", out)
	}
}
