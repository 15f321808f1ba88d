// Package identity models the 32-byte program-derived and wallet identities
// the slab stores for admin, oracle, owner, and matcher-program fields.
// These identities are opaque fixed-size keys with no signing capability
// attached at this layer.
package identity

import (
	"encoding/hex"
	"fmt"

	"github.com/btcsuite/btcutil/base58"
)

// Size is the fixed byte width of a Pubkey, matching a Solana-style account
// identity.
const Size = 32

// Pubkey is a fixed-size, comparable identity. The zero value is the
// well-known "unset" identity (e.g. an LP's absent matcher_program).
type Pubkey [Size]byte

// Zero is the unset identity.
var Zero Pubkey

// FromBytes constructs a Pubkey from a byte slice, failing if the length is
// wrong.
func FromBytes(b []byte) (Pubkey, error) {
	var pk Pubkey
	if len(b) != Size {
		return pk, fmt.Errorf("identity: pubkey must be %d bytes, got %d", Size, len(b))
	}
	copy(pk[:], b)
	return pk, nil
}

// IsZero reports whether the identity is unset.
func (p Pubkey) IsZero() bool {
	return p == Zero
}

// Bytes returns a defensive copy of the underlying bytes.
func (p Pubkey) Bytes() []byte {
	out := make([]byte, Size)
	copy(out, p[:])
	return out
}

// String renders the identity using base58, the same encoding family a
// Solana-style pubkey uses and the encoding the teacher's own address type
// reaches for via btcutil (there for bech32; here for base58).
func (p Pubkey) String() string {
	if p.IsZero() {
		return "11111111111111111111111111111111"
	}
	return base58.Encode(p[:])
}

// Hex renders the identity as a 0x-prefixed hex string, used in structured
// log fields where base58's variable width is inconvenient to diff.
func (p Pubkey) Hex() string {
	return "0x" + hex.EncodeToString(p[:])
}

// Parse decodes a base58-rendered identity back into a Pubkey.
func Parse(s string) (Pubkey, error) {
	decoded := base58.Decode(s)
	return FromBytes(decoded)
}
