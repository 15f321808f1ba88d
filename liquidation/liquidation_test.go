package liquidation

import (
	"math/big"
	"testing"

	"perpcore/account"
	"perpcore/identity"
	"perpcore/slab"
)

func bi(v int64) *big.Int { return big.NewInt(v) }

func TestEligible(t *testing.T) {
	if Eligible(bi(100), bi(50)) {
		t.Fatal("equity above maintenance req should not be eligible")
	}
	if !Eligible(bi(40), bi(50)) {
		t.Fatal("equity below maintenance req should be eligible")
	}
}

func TestCloseNotionalZeroWhenHealthy(t *testing.T) {
	got := CloseNotional(bi(1_000), bi(10_000), 500, 100, 50, bi(0), bi(0))
	if got.Sign() != 0 {
		t.Fatalf("expected 0, got %s", got)
	}
}

func TestCloseNotionalAccountsForOwnFeeDrain(t *testing.T) {
	// notional=10_000, maintenance+buffer=600bps -> reqNow=600
	// equity=400 -> deficit=200
	// coeffBps = 600-50 = 550
	// closeNotional = ceil(200*10000/550) = ceil(3636.36) = 3637
	got := CloseNotional(bi(400), bi(10_000), 500, 100, 50, bi(0), bi(0))
	want := bi(3637)
	if got.Cmp(want) != 0 {
		t.Fatalf("got %s want %s", got, want)
	}
	// Verify this actually restores the requirement after the fee drain:
	// newNotional = 10000-3637=6363, newReq=600bps*6363/10000=381.78
	// fee = 50bps*3637/10000 = 18.185
	// newEquity = 400 - 18.185 = 381.815 >= 381.78 (holds within rounding)
}

func TestCloseNotionalFullCloseWhenFeeOutrunsRequirement(t *testing.T) {
	got := CloseNotional(bi(0), bi(10_000), 100, 0, 200, bi(0), bi(0))
	if got.Cmp(bi(10_000)) != 0 {
		t.Fatalf("expected full close, got %s", got)
	}
}

func TestCloseNotionalRespectsMinAndCap(t *testing.T) {
	got := CloseNotional(bi(50), bi(1_000), 500, 100, 50, bi(0), bi(500))
	if got.Cmp(bi(500)) != 0 {
		t.Fatalf("expected clamp to minAbsNotional 500, got %s", got)
	}
}

func newTestAccounts() (*account.Account, *account.Account) {
	target := account.New(account.KindUser, identity.Pubkey{1}, 1)
	target.Capital = bi(1_000)
	target.PositionSize = bi(100)
	target.EntryPriceE6 = bi(1_000_000)
	liquidator := account.New(account.KindUser, identity.Pubkey{2}, 2)
	liquidator.Capital = bi(0)
	return target, liquidator
}

func TestExecuteReducesPositionAndChargesFee(t *testing.T) {
	target, liquidator := newTestAccounts()
	risk := slab.RiskParameters{LiquidationFeeBps: 500, LiquidationFeeCap: bi(0)}
	engine := &slab.EngineState{InsuranceBalance: bi(1_000), LossAccum: bi(0)}

	res := Execute(nil, target, liquidator, bi(40), bi(1_000_000), risk, engine, bi(1_000_000))

	if target.PositionSize.Cmp(bi(60)) != 0 {
		t.Fatalf("expected position reduced to 60, got %s", target.PositionSize)
	}
	if res.LiquidationFee.Sign() <= 0 {
		t.Fatalf("expected positive fee, got %s", res.LiquidationFee)
	}
	if liquidator.Capital.Cmp(res.LiquidationFee) != 0 {
		t.Fatalf("liquidator should be credited the fee")
	}
	if res.BadDebt.Sign() != 0 {
		t.Fatalf("expected no bad debt, got %s", res.BadDebt)
	}
	if target.LiquidationsTaken != 1 {
		t.Fatalf("expected LiquidationsTaken=1, got %d", target.LiquidationsTaken)
	}
}

func TestExecuteDrainsInsuranceOnBadDebt(t *testing.T) {
	target, liquidator := newTestAccounts()
	target.Capital = bi(10)
	risk := slab.RiskParameters{LiquidationFeeBps: 2_000, LiquidationFeeCap: bi(0)}
	engine := &slab.EngineState{InsuranceBalance: bi(1_000), LossAccum: bi(0)}

	res := Execute(nil, target, liquidator, bi(100), bi(1_000_000), risk, engine, bi(1_000_000))

	if res.BadDebt.Sign() <= 0 {
		t.Fatalf("expected bad debt from fee exceeding capital, got %s", res.BadDebt)
	}
	if engine.InsuranceBalance.Cmp(bi(1_000)) >= 0 {
		t.Fatalf("expected insurance balance drawn down, got %s", engine.InsuranceBalance)
	}
	if target.Capital.Sign() < 0 {
		t.Fatalf("target capital must never go negative, got %s", target.Capital)
	}
	if !res.FullyClosed {
		t.Fatalf("expected position fully closed")
	}
}

func TestExecuteEntersRiskReductionWhenInsuranceInsufficient(t *testing.T) {
	target, liquidator := newTestAccounts()
	target.Capital = bi(1)
	risk := slab.RiskParameters{LiquidationFeeBps: 1_000, LiquidationFeeCap: bi(0)}
	engine := &slab.EngineState{InsuranceBalance: bi(0), LossAccum: bi(0)}

	res := Execute(nil, target, liquidator, bi(100), bi(1_000_000), risk, engine, bi(1_000_000))

	if !engine.RiskReductionOnly {
		t.Fatal("expected risk reduction to be entered")
	}
	if !engine.WarmupPaused {
		t.Fatal("expected warmup to be paused alongside risk reduction")
	}
	if engine.LossAccum.Sign() <= 0 {
		t.Fatalf("expected loss_accum to absorb uncovered shortfall, got %s", engine.LossAccum)
	}
	if res.BadDebt.Sign() <= 0 {
		t.Fatal("expected bad debt reported")
	}
}
