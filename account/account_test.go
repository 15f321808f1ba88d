package account

import (
	"math/big"
	"testing"

	"perpcore/identity"
)

func bi(v int64) *big.Int { return big.NewInt(v) }

func TestNewZeroesAllBigIntFields(t *testing.T) {
	a := New(KindUser, identity.Pubkey{1}, 7)
	if a.Capital.Sign() != 0 || a.Pnl.Sign() != 0 || a.ReservedPnl.Sign() != 0 {
		t.Fatal("expected all monetary fields to start at zero")
	}
	if a.AccountID != 7 {
		t.Fatalf("expected AccountID 7, got %d", a.AccountID)
	}
}

func TestIsLPUsesMatcherProgramDiscriminant(t *testing.T) {
	user := New(KindUser, identity.Pubkey{1}, 0)
	if user.IsLP() {
		t.Fatal("expected a zero MatcherProgram account to not be an LP")
	}
	lp := New(KindLP, identity.Pubkey{1}, 0)
	lp.MatcherProgram = identity.Pubkey{9}
	if !lp.IsLP() {
		t.Fatal("expected a non-zero MatcherProgram account to be an LP")
	}
}

func TestEnsureDefaultsRepairsNilFields(t *testing.T) {
	a := &Account{}
	a.EnsureDefaults()
	if a.Capital == nil || a.Pnl == nil || a.PositionSize == nil || a.TotalFeesPaidWei == nil {
		t.Fatal("expected EnsureDefaults to repair every nil big.Int field")
	}
	if a.Capital.Sign() != 0 {
		t.Fatal("expected repaired fields to be zero")
	}
}

func TestIsFlat(t *testing.T) {
	a := New(KindUser, identity.Pubkey{1}, 0)
	if !a.IsFlat() {
		t.Fatal("expected a fresh account to be flat")
	}
	a.PositionSize = bi(1)
	if a.IsFlat() {
		t.Fatal("expected a nonzero position to not be flat")
	}
}

func TestIsEligibleForCloseRequiresFlatNonPositivePnlNoFeeDebt(t *testing.T) {
	a := New(KindUser, identity.Pubkey{1}, 0)
	if !a.IsEligibleForClose() {
		t.Fatal("expected a fresh flat account to be eligible for close")
	}
	a.FeeCredits = bi(-1)
	if a.IsEligibleForClose() {
		t.Fatal("expected outstanding fee debt to block close eligibility")
	}
	a.FeeCredits = bi(0)
	a.Pnl = bi(1)
	if a.IsEligibleForClose() {
		t.Fatal("expected positive pnl to block close eligibility")
	}
}

func TestIsEligibleForGCRequiresZeroCapitalFlatNonPositivePnl(t *testing.T) {
	a := New(KindUser, identity.Pubkey{1}, 0)
	if !a.IsEligibleForGC() {
		t.Fatal("expected a fresh zero-capital account to be GC eligible")
	}
	a.Capital = bi(1)
	if a.IsEligibleForGC() {
		t.Fatal("expected nonzero capital to block GC eligibility")
	}
}
