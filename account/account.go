// Package account defines the per-entity record the slab stores: one record
// per trading identity, sized and shaped so that repricing, settling, and
// liquidating a single account never needs to touch any other account.
package account

import (
	"math/big"

	"perpcore/identity"
)

// Kind discriminates a user account from a liquidity-provider account. Per
// spec.md §4.3, the authoritative discriminant is MatcherProgram being
// non-zero (robust against corruption of this tag); Kind is retained for
// fast-path checks and logging, and is kept in sync by the engine whenever an
// account is created or its matcher wiring changes.
type Kind uint8

const (
	KindUser Kind = iota
	KindLP
)

func (k Kind) String() string {
	if k == KindLP {
		return "LP"
	}
	return "USER"
}

// Account is the fixed-shape per-entity record described in spec.md §3.2 and
// §4.3. All monetary and position fields are arbitrary-precision signed/unsigned
// integers rather than fixed-width ints: width is bounded by the
// checked-arithmetic policy of package fixedpoint, and the slab codec
// (package slab) encodes them as arbitrary-length RLP integers with no
// further width check.
type Account struct {
	Kind Kind

	Owner     identity.Pubkey
	AccountID uint64

	// Capital is the deposited, always-withdrawable collateral balance
	// (lamport-denominated, non-negative).
	Capital *big.Int
	// Pnl is realized profit-and-loss, signed. Positive Pnl is not
	// withdrawable until warmed into ReservedPnl.
	Pnl *big.Int
	// ReservedPnl is the warmed (withdrawable) portion of positive Pnl.
	// Invariant I-4: ReservedPnl <= max(0, Pnl).
	ReservedPnl *big.Int

	WarmupStartedAtSlot uint64
	// WarmupSlopePerStep is lamports-per-slot of positive-Pnl conversion
	// eligibility, recomputed on each warmup touch.
	WarmupSlopePerStep *big.Int

	// PositionSize is signed: positive long, negative short.
	PositionSize *big.Int
	EntryPriceE6 *big.Int

	// FundingIndexSnapshot is the cumulative funding index value observed at
	// the account's last touch; the obligation since then is
	// (index_now - FundingIndexSnapshot) * PositionSize / 1e6.
	FundingIndexSnapshot *big.Int

	// MatcherProgram identifies the external matcher this account (when an
	// LP) delegates trade execution to. Non-zero iff the account is an LP.
	MatcherProgram identity.Pubkey
	MatcherContext identity.Pubkey

	// FeeCredits is signed; negative is an outstanding fee debt drained by
	// the keeper crank's maintenance-fee step.
	FeeCredits  *big.Int
	LastFeeSlot uint64

	// Lifetime counters surfaced for operator dashboards (SPEC_FULL §5.6).
	TradesExecuted    uint64
	LiquidationsTaken uint64
	TotalFeesPaidWei  *big.Int
}

// New constructs a zeroed account of the given kind, owner, and id with all
// big.Int fields initialized to non-nil zero values so arithmetic on a
// freshly created account never dereferences nil.
func New(kind Kind, owner identity.Pubkey, id uint64) *Account {
	return &Account{
		Kind:                 kind,
		Owner:                owner,
		AccountID:            id,
		Capital:              big.NewInt(0),
		Pnl:                  big.NewInt(0),
		ReservedPnl:          big.NewInt(0),
		WarmupSlopePerStep:   big.NewInt(0),
		PositionSize:         big.NewInt(0),
		EntryPriceE6:         big.NewInt(0),
		FundingIndexSnapshot: big.NewInt(0),
		FeeCredits:           big.NewInt(0),
		TotalFeesPaidWei:     big.NewInt(0),
	}
}

// IsLP reports whether the account is a liquidity provider, using the
// corruption-robust discriminant from spec.md §4.3.
func (a *Account) IsLP() bool {
	return !a.MatcherProgram.IsZero()
}

// EnsureDefaults repairs nil big.Int fields, used defensively after a slab
// load where an older/short record may be missing fields added later.
func (a *Account) EnsureDefaults() {
	if a.Capital == nil {
		a.Capital = big.NewInt(0)
	}
	if a.Pnl == nil {
		a.Pnl = big.NewInt(0)
	}
	if a.ReservedPnl == nil {
		a.ReservedPnl = big.NewInt(0)
	}
	if a.WarmupSlopePerStep == nil {
		a.WarmupSlopePerStep = big.NewInt(0)
	}
	if a.PositionSize == nil {
		a.PositionSize = big.NewInt(0)
	}
	if a.EntryPriceE6 == nil {
		a.EntryPriceE6 = big.NewInt(0)
	}
	if a.FundingIndexSnapshot == nil {
		a.FundingIndexSnapshot = big.NewInt(0)
	}
	if a.FeeCredits == nil {
		a.FeeCredits = big.NewInt(0)
	}
	if a.TotalFeesPaidWei == nil {
		a.TotalFeesPaidWei = big.NewInt(0)
	}
}

// IsFlat reports whether the account carries no open position.
func (a *Account) IsFlat() bool {
	return a.PositionSize.Sign() == 0
}

// IsEligibleForClose implements the gating of spec.md §4.9: flat position,
// non-positive realized pnl (or exactly zero after a recovery), and no fee
// debt.
func (a *Account) IsEligibleForClose() bool {
	return a.IsFlat() && a.Pnl.Sign() <= 0 && a.FeeCredits.Sign() >= 0
}

// IsEligibleForGC implements the crank-sweep garbage-collection predicate of
// spec.md §3.2: zero capital, flat position, non-positive pnl.
func (a *Account) IsEligibleForGC() bool {
	return a.Capital.Sign() == 0 && a.IsFlat() && a.Pnl.Sign() <= 0
}
