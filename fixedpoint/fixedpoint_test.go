package fixedpoint

import (
	"math/big"
	"testing"
)

func bi(v int64) *big.Int { return big.NewInt(v) }

func TestCheckedAddOverflows(t *testing.T) {
	huge := new(big.Int).Lsh(big.NewInt(1), 256)
	if _, err := CheckedAdd(huge, huge); err != ErrOverflow {
		t.Fatalf("expected ErrOverflow, got %v", err)
	}
}

func TestCheckedAddWithinWidth(t *testing.T) {
	sum, err := CheckedAdd(bi(100), bi(250))
	if err != nil {
		t.Fatalf("CheckedAdd: %v", err)
	}
	if sum.Cmp(bi(350)) != 0 {
		t.Fatalf("expected 350, got %s", sum)
	}
}

func TestCheckedSubOverflows(t *testing.T) {
	huge := new(big.Int).Lsh(big.NewInt(1), 256)
	if _, err := CheckedSub(new(big.Int).Neg(huge), huge); err != ErrOverflow {
		t.Fatalf("expected ErrOverflow, got %v", err)
	}
}

func TestMulDivCheckedRejectsZeroDivisor(t *testing.T) {
	if _, err := MulDivChecked(bi(10), bi(10), bi(0)); err != ErrDivideByZero {
		t.Fatalf("expected ErrDivideByZero, got %v", err)
	}
}

func TestMulDivCheckedTruncatesTowardZero(t *testing.T) {
	got, err := MulDivChecked(bi(7), bi(3), bi(2))
	if err != nil {
		t.Fatalf("MulDivChecked: %v", err)
	}
	if got.Cmp(bi(10)) != 0 {
		t.Fatalf("expected 10, got %s", got)
	}
}

func TestMulDivSatClampsNegativeToZero(t *testing.T) {
	got := MulDivSat(bi(-10), bi(5), bi(1))
	if got.Sign() != 0 {
		t.Fatalf("expected clamp to zero, got %s", got)
	}
}

func TestMulDivSatZeroDivisorReturnsZero(t *testing.T) {
	got := MulDivSat(bi(10), bi(5), bi(0))
	if got.Sign() != 0 {
		t.Fatalf("expected zero, got %s", got)
	}
}

func TestMulDivSignedPreservesSign(t *testing.T) {
	got := MulDivSigned(bi(-10), bi(5), bi(2))
	if got.Cmp(bi(-25)) != 0 {
		t.Fatalf("expected -25, got %s", got)
	}
}

func TestMulBpsRoundsTowardZero(t *testing.T) {
	got := MulBps(bi(1_000_000), 50) // 0.5%
	if got.Cmp(bi(5_000)) != 0 {
		t.Fatalf("expected 5000, got %s", got)
	}
}

func TestMulBpsAllowsOverTenThousand(t *testing.T) {
	got := MulBps(bi(1_000_000), 11_000) // 110%
	if got.Cmp(bi(1_100_000)) != 0 {
		t.Fatalf("expected 1100000, got %s", got)
	}
}

func TestMulE2BpsScalesByMillionths(t *testing.T) {
	got := MulE2Bps(bi(1_000_000), 1_000) // 0.1%
	if got.Cmp(bi(1_000)) != 0 {
		t.Fatalf("expected 1000, got %s", got)
	}
}

func TestSatSubNeverGoesNegative(t *testing.T) {
	got := SatSub(bi(5), bi(10))
	if got.Sign() != 0 {
		t.Fatalf("expected 0, got %s", got)
	}
}

func TestSatSubNilOperandsTreatedAsZero(t *testing.T) {
	got := SatSub(nil, nil)
	if got.Sign() != 0 {
		t.Fatalf("expected 0, got %s", got)
	}
}

func TestSatAddNilOperandsTreatedAsZero(t *testing.T) {
	got := SatAdd(nil, bi(7))
	if got.Cmp(bi(7)) != 0 {
		t.Fatalf("expected 7, got %s", got)
	}
}

func TestMax0ClampsNegative(t *testing.T) {
	if Max0(bi(-5)).Sign() != 0 {
		t.Fatal("expected clamp to zero")
	}
	if Max0(bi(5)).Cmp(bi(5)) != 0 {
		t.Fatal("expected positive value preserved")
	}
}

func TestMinMaxBig(t *testing.T) {
	if MinBig(bi(3), bi(7)).Cmp(bi(3)) != 0 {
		t.Fatal("expected MinBig(3,7) == 3")
	}
	if MaxBig(bi(3), bi(7)).Cmp(bi(7)) != 0 {
		t.Fatal("expected MaxBig(3,7) == 7")
	}
}

func TestMaxU64(t *testing.T) {
	if MaxU64(3, 7) != 7 {
		t.Fatal("expected MaxU64(3,7) == 7")
	}
}

func TestInvertPriceE6(t *testing.T) {
	got, err := InvertPriceE6(bi(2_000_000)) // price of 2.0
	if err != nil {
		t.Fatalf("InvertPriceE6: %v", err)
	}
	if got.Cmp(bi(500_000)) != 0 { // 1/2.0 == 0.5
		t.Fatalf("expected 500000, got %s", got)
	}
}

func TestInvertPriceE6RejectsNonPositive(t *testing.T) {
	if _, err := InvertPriceE6(bi(0)); err == nil {
		t.Fatal("expected error on zero price")
	}
	if _, err := InvertPriceE6(bi(-1)); err == nil {
		t.Fatal("expected error on negative price")
	}
}
