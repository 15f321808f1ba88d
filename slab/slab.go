// Package slab implements the single fixed-shape state container described
// in spec.md §4.2: header, market config, risk parameters, engine state,
// account bitmap, and account array. It is the sole unit of mutable state
// for a market; every engine operation reads a Slab, mutates a working copy,
// and either commits the result or discards it on failure.
package slab

import (
	"perpcore/account"
)

// CurrentVersion is bumped whenever the persisted layout changes in a way
// that is not purely additive at the wire-format's trailing edge.
const CurrentVersion uint16 = 1

// Magic is the distinct tag validated on every load, per spec.md §4.2.
const Magic uint64 = 0x5045525045524e47 // "PERPERNG" (ASCII-derived, not meaningful beyond uniqueness)

// Slab is the in-memory, decoded form of the persisted container.
type Slab struct {
	Version  uint16
	Market   MarketConfig
	Risk     RiskParameters
	Engine   EngineState
	Bitmap   Bitmap
	Accounts []account.Account
}

// New constructs an empty slab sized for risk.MaxAccounts accounts.
func New(market MarketConfig, risk RiskParameters) *Slab {
	market.ensureDefaults()
	risk.ensureDefaults()
	engine := EngineState{LPIndex: NoLPIndex}
	engine.ensureDefaults()
	s := &Slab{
		Version:  CurrentVersion,
		Market:   market,
		Risk:     risk,
		Engine:   engine,
		Bitmap:   NewBitmap(int(risk.MaxAccounts)),
		Accounts: make([]account.Account, risk.MaxAccounts),
	}
	return s
}

// Account returns a pointer to the account at idx, validating bounds and
// liveness. Callers mutate in place; the engine is responsible for calling
// PutAccount-equivalent bookkeeping (bitmap, counters) on create/close.
func (s *Slab) Account(idx int) (*account.Account, error) {
	if idx < 0 || idx >= len(s.Accounts) {
		return nil, ErrAccountIndexRange
	}
	if !s.Bitmap.IsSet(idx) {
		return nil, ErrAccountIndexRange
	}
	return &s.Accounts[idx], nil
}

// CreateAccount allocates the first free slot, initializes it, and marks it
// live. Returns ErrAccountIndexRange if no slot is free.
func (s *Slab) CreateAccount(kind account.Kind, owner [32]byte, id uint64) (int, *account.Account, error) {
	idx := s.Bitmap.FirstFree()
	if idx < 0 {
		return 0, nil, ErrAccountIndexRange
	}
	s.Accounts[idx] = *account.New(kind, owner, id)
	s.Bitmap.Set(idx)
	s.Engine.AccountCount++
	s.Engine.LifetimeAccountsCreated++
	return idx, &s.Accounts[idx], nil
}

// CloseAccount clears the bitmap slot and zeroes the record.
func (s *Slab) CloseAccount(idx int) error {
	if idx < 0 || idx >= len(s.Accounts) {
		return ErrAccountIndexRange
	}
	if !s.Bitmap.IsSet(idx) {
		return ErrBitmapInconsistent
	}
	s.Accounts[idx] = account.Account{}
	s.Bitmap.Clear(idx)
	if s.Engine.AccountCount > 0 {
		s.Engine.AccountCount--
	}
	s.Engine.LifetimeAccountsClosed++
	return nil
}

// LiveIndices returns the indices of every live account slot in ascending
// order. Intended for tests and property checks, not hot paths.
func (s *Slab) LiveIndices() []int {
	out := make([]int, 0, s.Engine.AccountCount)
	for i := 0; i < s.Bitmap.Cap(); i++ {
		if s.Bitmap.IsSet(i) {
			out = append(out, i)
		}
	}
	return out
}
