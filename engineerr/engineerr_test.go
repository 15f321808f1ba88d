package engineerr

import (
	"errors"
	"fmt"
	"testing"
)

func TestWrapPreservesErrorsIsAgainstSentinel(t *testing.T) {
	wrapped := Validation(ErrZeroAmount)
	if !errors.Is(wrapped, ErrZeroAmount) {
		t.Fatal("expected errors.Is to match the wrapped sentinel")
	}
}

func TestKindOfReportsTaxonomy(t *testing.T) {
	wrapped := Oracle(ErrOracleStale)
	kind, ok := KindOf(wrapped)
	if !ok {
		t.Fatal("expected KindOf to recognise a wrapped error")
	}
	if kind != KindOracle {
		t.Fatalf("expected KindOracle, got %s", kind)
	}
}

func TestKindOfFalseOnPlainError(t *testing.T) {
	if _, ok := KindOf(errors.New("unrelated")); ok {
		t.Fatal("expected KindOf to report false for a non-taxonomy error")
	}
}

func TestKindOfMatchesThroughFurtherWrapping(t *testing.T) {
	wrapped := fmt.Errorf("context: %w", Margin(ErrInsufficientMargin))
	kind, ok := KindOf(wrapped)
	if !ok || kind != KindMargin {
		t.Fatalf("expected KindMargin through fmt.Errorf wrapping, got %s (ok=%v)", kind, ok)
	}
	if !errors.Is(wrapped, ErrInsufficientMargin) {
		t.Fatal("expected errors.Is to still reach the innermost sentinel")
	}
}

func TestErrorMessageMatchesUnderlyingSentinel(t *testing.T) {
	wrapped := Liveness(ErrCrankStale)
	if wrapped.Error() != ErrCrankStale.Error() {
		t.Fatalf("expected message %q, got %q", ErrCrankStale.Error(), wrapped.Error())
	}
}
