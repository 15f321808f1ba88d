package slab

import (
	"math/big"
	"testing"

	"perpcore/account"
	"perpcore/identity"
)

func bi(v int64) *big.Int { return big.NewInt(v) }

func newTestSlab(t *testing.T) *Slab {
	t.Helper()
	market := MarketConfig{
		CollateralMint: identity.Pubkey{1},
		Vault:          identity.Pubkey{2},
		OracleID:       identity.Pubkey{3},
		MaxStalenessSecs: 60,
		ConfFilterBps:    1_000,
		InvScaleNotionalE6: bi(1_000_000_000),
	}
	risk := RiskParameters{
		WarmupPeriodSlots:    1_000,
		MaintenanceMarginBps: 500,
		InitialMarginBps:     1_000,
		MaxAccounts:          4,
	}
	s := New(market, risk)
	s.Engine.Admin = identity.Pubkey{9}
	s.Engine.LastEffectivePriceE6 = bi(1_000_000)
	s.Engine.LossAccum = bi(42)

	idx, a, err := s.CreateAccount(account.KindUser, identity.Pubkey{5}, 1)
	if err != nil {
		t.Fatalf("CreateAccount: %v", err)
	}
	a.Capital = bi(1_000)
	a.PositionSize = bi(-500)
	a.Pnl = bi(-25)
	_ = idx
	return s
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	s := newTestSlab(t)
	encoded, err := Encode(s)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	decoded, err := Decode(encoded)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}

	if decoded.Market.MaxStalenessSecs != s.Market.MaxStalenessSecs {
		t.Fatalf("MaxStalenessSecs mismatch: got %d want %d", decoded.Market.MaxStalenessSecs, s.Market.MaxStalenessSecs)
	}
	if decoded.Engine.LastEffectivePriceE6.Cmp(s.Engine.LastEffectivePriceE6) != 0 {
		t.Fatalf("LastEffectivePriceE6 mismatch: got %s want %s", decoded.Engine.LastEffectivePriceE6, s.Engine.LastEffectivePriceE6)
	}
	if decoded.Engine.LossAccum.Cmp(s.Engine.LossAccum) != 0 {
		t.Fatalf("expected LossAccum to round-trip, got %s want %s", decoded.Engine.LossAccum, s.Engine.LossAccum)
	}
	if len(decoded.Accounts) != len(s.Accounts) {
		t.Fatalf("expected %d accounts, got %d", len(s.Accounts), len(decoded.Accounts))
	}
	if decoded.Accounts[0].PositionSize.Cmp(bi(-500)) != 0 {
		t.Fatalf("expected signed PositionSize to round-trip, got %s", decoded.Accounts[0].PositionSize)
	}
	if !decoded.Bitmap.IsSet(0) {
		t.Fatal("expected account 0's bitmap slot to round-trip as live")
	}
	if decoded.Bitmap.IsSet(1) {
		t.Fatal("expected account 1's bitmap slot to round-trip as free")
	}
}

func TestDecodeRejectsBadMagic(t *testing.T) {
	s := newTestSlab(t)
	encoded, err := Encode(s)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	corrupted := append([]byte(nil), encoded...)
	corrupted[0] ^= 0xFF
	if _, err := Decode(corrupted); err != ErrBadMagic {
		t.Fatalf("expected ErrBadMagic, got %v", err)
	}
}

func TestDecodeRejectsChecksumMismatch(t *testing.T) {
	s := newTestSlab(t)
	encoded, err := Encode(s)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	corrupted := append([]byte(nil), encoded...)
	corrupted[len(corrupted)-1] ^= 0xFF
	if _, err := Decode(corrupted); err != ErrChecksumMismatch {
		t.Fatalf("expected ErrChecksumMismatch, got %v", err)
	}
}

func TestDecodeRejectsShortInput(t *testing.T) {
	if _, err := Decode([]byte{1, 2, 3}); err != ErrBadMagic {
		t.Fatalf("expected ErrBadMagic on too-short input, got %v", err)
	}
}
