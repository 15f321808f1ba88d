// Package matcher defines the external matcher program contract of
// spec.md §6.2 and the engine-side validation of its response required by
// §4.8 step 4.
package matcher

import (
	"math/big"

	"perpcore/engineerr"
	"perpcore/identity"
)

// Matcher is invoked during TradeCPI with the LP's identity/context, the
// requested signed size, and the current oracle price as a hint. It
// returns the actual execution size/price, or an error that aborts the
// whole trade (spec.md §6.2). The engine treats any non-return — including
// a panic recovered by the ambient runtime — as a transaction failure that
// reverts the operation (spec.md §5).
type Matcher interface {
	Match(lp, lpContext identity.Pubkey, requestedSize, oraclePriceE6 *big.Int) (execSize, execPriceE6 *big.Int, err error)
}

// MaxOraclePrice is the sanity ceiling on any execution price spec.md §4.8
// requires the engine to enforce independent of the oracle-proximity bound.
var MaxOraclePrice = new(big.Int).SetUint64(1_000_000_000_000_000)

// Validate enforces the engine-side checks on a matcher's response:
//   - exec_size has the same sign as requested_size (when both are nonzero)
//   - |exec_size| <= |requested_size|
//   - 0 < exec_price_e6 <= MaxOraclePrice
//   - (SPEC_FULL.md §5 supplement 4) exec_price_e6 is within
//     maxDeviationBps of oracle_price_e6; a zero maxDeviationBps disables
//     this check, leaving proximity to the matcher layer as spec.md §9
//     leaves as an option.
func Validate(requestedSize, execSize, execPriceE6, oraclePriceE6 *big.Int, maxDeviationBps uint64) error {
	if execSize == nil || execPriceE6 == nil {
		return engineerr.Matcher(engineerr.ErrMatcherRejected)
	}
	if requestedSize.Sign() != 0 && execSize.Sign() != 0 && sign(requestedSize) != sign(execSize) {
		return engineerr.Matcher(engineerr.ErrInvalidExecutionSize)
	}
	if new(big.Int).Abs(execSize).Cmp(new(big.Int).Abs(requestedSize)) > 0 {
		return engineerr.Matcher(engineerr.ErrInvalidExecutionSize)
	}
	if execPriceE6.Sign() <= 0 || execPriceE6.Cmp(MaxOraclePrice) > 0 {
		return engineerr.Matcher(engineerr.ErrInvalidExecutionPrice)
	}
	if maxDeviationBps > 0 && oraclePriceE6 != nil && oraclePriceE6.Sign() > 0 {
		diff := new(big.Int).Sub(execPriceE6, oraclePriceE6)
		diff.Abs(diff)
		bpsDiff := new(big.Int).Mul(diff, big.NewInt(10_000))
		bpsDiff.Quo(bpsDiff, oraclePriceE6)
		if bpsDiff.Cmp(new(big.Int).SetUint64(maxDeviationBps)) > 0 {
			return engineerr.Oracle(engineerr.ErrExecutionPriceDeviation)
		}
	}
	return nil
}

func sign(x *big.Int) int {
	if x.Sign() > 0 {
		return 1
	}
	return -1
}

// DirectMatcher implements TradeNoCPI (wire tag 5): the engine fills the
// entire requested size at the oracle price directly, with no external
// program invocation. It satisfies the Matcher interface so the trade
// executor can treat both trade paths uniformly.
type DirectMatcher struct{}

// Match always fills the full requested size at the supplied oracle price.
func (DirectMatcher) Match(_, _ identity.Pubkey, requestedSize, oraclePriceE6 *big.Int) (*big.Int, *big.Int, error) {
	return new(big.Int).Set(requestedSize), new(big.Int).Set(oraclePriceE6), nil
}
