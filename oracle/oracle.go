// Package oracle implements the price-feed adapter of spec.md §4.4: pull
// reads from one of two feed flavors (dispatched by the feed account's owner
// identity, never by a trait object or embedded discriminant byte inside the
// payload), staleness and confidence filtering, optional inversion and
// unit-scaling, and the authority-push path gated by a circuit breaker.
package oracle

import (
	"math/big"
	"time"

	"golang.org/x/time/rate"

	"perpcore/engineerr"
	"perpcore/fixedpoint"
	"perpcore/identity"
	"perpcore/slab"
)

// FeedKind discriminates the two supported pull-style feed flavors. Which
// flavor a given feed identity decodes as is resolved by FeedSource.Owner,
// not stored redundantly alongside the reading.
type FeedKind uint8

const (
	// FeedPyth decodes a Pyth-style price account.
	FeedPyth FeedKind = iota
	// FeedSwitchboard decodes a Switchboard-style aggregator account.
	FeedSwitchboard
)

// Reading is the raw tuple read from a feed account before any filtering,
// inversion, or unit-scaling is applied.
type Reading struct {
	PriceE6     *big.Int
	PublishSlot uint64
	// ConfE6 is the feed's reported confidence interval, same scale as
	// PriceE6.
	ConfE6 *big.Int
}

// FeedSource resolves a feed identity to the flavor it should be decoded as
// and then to a raw Reading. The ambient runtime owns the actual account
// storage; this package owns only the math applied to what comes back.
type FeedSource interface {
	Owner(feedID identity.Pubkey) (FeedKind, error)
	Read(feedID identity.Pubkey, kind FeedKind) (Reading, error)
}

// GetPriceE6 implements the full pull-path adapter contract of spec.md
// §4.4: read, reject non-positive, reject stale, reject low-confidence,
// invert if configured, and apply unit_scale. nowSlot is the caller's
// observed current slot (the crank's current_slot during a touch, or the
// instruction's own clock read for a standalone price check).
func GetPriceE6(src FeedSource, market slab.MarketConfig, nowSlot uint64) (*big.Int, error) {
	kind, err := src.Owner(market.OracleID)
	if err != nil {
		return nil, engineerr.Oracle(err)
	}
	reading, err := src.Read(market.OracleID, kind)
	if err != nil {
		return nil, engineerr.Oracle(err)
	}
	if reading.PriceE6 == nil || reading.PriceE6.Sign() <= 0 {
		return nil, engineerr.Oracle(engineerr.ErrOracleInvalidPrice)
	}

	maxStalenessSlots := market.MaxStalenessSecs
	if nowSlot > reading.PublishSlot && nowSlot-reading.PublishSlot > maxStalenessSlots {
		return nil, engineerr.Oracle(engineerr.ErrOracleStale)
	}

	if reading.ConfE6 != nil && reading.ConfE6.Sign() > 0 {
		confBps := fixedpoint.MulDivSat(reading.ConfE6, big.NewInt(fixedpoint.Bps), reading.PriceE6)
		if confBps.Cmp(new(big.Int).SetUint64(market.ConfFilterBps)) > 0 {
			return nil, engineerr.Oracle(engineerr.ErrOracleDeviation)
		}
	}

	price := reading.PriceE6
	if market.Invert {
		inv, err := fixedpoint.InvertPriceE6(price)
		if err != nil {
			return nil, engineerr.Oracle(engineerr.ErrOracleInvalidPrice)
		}
		price = inv
	}
	if market.UnitScale != 0 {
		price = new(big.Int).Mul(price, new(big.Int).SetUint64(market.UnitScale))
	}
	return price, nil
}

// Breaker implements the push-authority circuit breaker of spec.md §4.4 and
// §8.3 scenario S6: a pushed price is rejected unless it moves no more than
// oracle_price_cap_e2bps (e2bps, denominator 1e6) away from the last
// effective price. A token-bucket limiter sits in front of the magnitude
// check so a misbehaving authority cannot spam-push faster than the breaker
// can reject it economically — the push path is a real wall-clock-timed
// admin action, not part of the deterministic crank, so a time.Time-based
// limiter is appropriate here (unlike anywhere inside the slab state
// machine itself).
type Breaker struct {
	limiter *rate.Limiter
}

// NewBreaker constructs a push-rate limiter allowing r pushes/sec with the
// given burst.
func NewBreaker(r rate.Limit, burst int) *Breaker {
	return &Breaker{limiter: rate.NewLimiter(r, burst)}
}

// Push validates and, on success, returns the new last-effective price. The
// caller is responsible for writing it into EngineState.LastEffectivePriceE6.
// A zero lastEffective is treated as "never seeded" and is unclamped, but
// SPEC_FULL.md §5.2 requires InitMarket to seed it from the feed so this
// path should only ever be exercised once, defensively, never by design.
func (b *Breaker) Push(now time.Time, lastEffective, newPriceE6 *big.Int, capE2Bps uint64) (*big.Int, error) {
	if newPriceE6 == nil || newPriceE6.Sign() <= 0 {
		return nil, engineerr.Oracle(engineerr.ErrOracleInvalidPrice)
	}
	if b != nil && b.limiter != nil && !b.limiter.AllowN(now, 1) {
		return nil, engineerr.Oracle(engineerr.ErrOraclePriceCapExceeded)
	}
	if lastEffective == nil || lastEffective.Sign() == 0 {
		return new(big.Int).Set(newPriceE6), nil
	}
	diff := new(big.Int).Sub(newPriceE6, lastEffective)
	diff.Abs(diff)
	lhs := new(big.Int).Mul(diff, big.NewInt(fixedpoint.E2Bps))
	rhs := new(big.Int).Mul(lastEffective, new(big.Int).SetUint64(capE2Bps))
	if lhs.Cmp(rhs) > 0 {
		return nil, engineerr.Oracle(engineerr.ErrOraclePriceCapExceeded)
	}
	return new(big.Int).Set(newPriceE6), nil
}

// SeedFromFeed implements the decided Open Question from spec.md §9: the
// first push is clamp-checked like any other because last_effective is
// seeded from the pull feed at InitMarket rather than left at zero.
func SeedFromFeed(src FeedSource, market slab.MarketConfig, nowSlot uint64) (*big.Int, error) {
	return GetPriceE6(src, market, nowSlot)
}
