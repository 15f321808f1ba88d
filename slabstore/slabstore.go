// Package slabstore persists slab snapshots to a key-value store, the same
// Database abstraction the chain's storage package uses for its ledger state.
package slabstore

import (
	"errors"
	"fmt"

	"perpcore/identity"
	"perpcore/slab"
	"perpcore/storage"
)

// ErrNotFound is returned when no snapshot exists for a market yet.
var ErrNotFound = errors.New("slabstore: market not found")

const keyPrefix = "slab/"

func key(market identity.Pubkey) []byte {
	return append([]byte(keyPrefix), market.Bytes()...)
}

// Store snapshots slab.Slab state under a market's identity, backed by any
// storage.Database (in-memory for tests, LevelDB for a standalone keeper).
type Store struct {
	db storage.Database
}

// New wraps an existing storage.Database as a slab snapshot store.
func New(db storage.Database) *Store {
	return &Store{db: db}
}

// Save encodes and persists the given slab under market's key, overwriting
// any prior snapshot.
func (s *Store) Save(market identity.Pubkey, sl *slab.Slab) error {
	data, err := slab.Encode(sl)
	if err != nil {
		return fmt.Errorf("slabstore: encode: %w", err)
	}
	return s.db.Put(key(market), data)
}

// Load retrieves and decodes the most recent snapshot for market.
func (s *Store) Load(market identity.Pubkey) (*slab.Slab, error) {
	data, err := s.db.Get(key(market))
	if err != nil {
		return nil, ErrNotFound
	}
	sl, err := slab.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("slabstore: decode: %w", err)
	}
	return sl, nil
}

// Close releases the underlying database connection.
func (s *Store) Close() {
	s.db.Close()
}
