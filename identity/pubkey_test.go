package identity

import "testing"

func TestFromBytesRejectsWrongLength(t *testing.T) {
	if _, err := FromBytes([]byte{1, 2, 3}); err == nil {
		t.Fatal("expected error on short input")
	}
}

func TestFromBytesRoundTripsThroughBytes(t *testing.T) {
	src := make([]byte, Size)
	for i := range src {
		src[i] = byte(i)
	}
	pk, err := FromBytes(src)
	if err != nil {
		t.Fatalf("FromBytes: %v", err)
	}
	got := pk.Bytes()
	for i := range src {
		if got[i] != src[i] {
			t.Fatalf("byte %d: expected %d, got %d", i, src[i], got[i])
		}
	}
}

func TestIsZero(t *testing.T) {
	var zero Pubkey
	if !zero.IsZero() {
		t.Fatal("expected zero-value Pubkey to be IsZero")
	}
	nonZero := Pubkey{1}
	if nonZero.IsZero() {
		t.Fatal("expected non-zero Pubkey to not be IsZero")
	}
}

func TestStringParseRoundTrip(t *testing.T) {
	pk := Pubkey{9, 8, 7, 6, 5}
	encoded := pk.String()
	decoded, err := Parse(encoded)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if decoded != pk {
		t.Fatalf("expected round trip to preserve value, got %v want %v", decoded, pk)
	}
}

func TestZeroPubkeyStringIsWellKnownSentinel(t *testing.T) {
	var zero Pubkey
	if zero.String() != "11111111111111111111111111111111" {
		t.Fatalf("unexpected zero pubkey rendering: %s", zero.String())
	}
}

func TestHexIsPrefixedAndFixedWidth(t *testing.T) {
	pk := Pubkey{0xAB, 0xCD}
	hex := pk.Hex()
	if len(hex) != 2+Size*2 {
		t.Fatalf("expected hex length %d, got %d (%s)", 2+Size*2, len(hex), hex)
	}
	if hex[:4] != "0xab" {
		t.Fatalf("expected hex to start with 0xab, got %s", hex)
	}
}

func TestBytesReturnsDefensiveCopy(t *testing.T) {
	pk := Pubkey{1, 2, 3}
	b := pk.Bytes()
	b[0] = 0xFF
	if pk[0] == 0xFF {
		t.Fatal("expected Bytes() mutation to not affect the original Pubkey")
	}
}
