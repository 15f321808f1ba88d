package slab

import (
	"io"
	"math/big"

	"github.com/ethereum/go-ethereum/rlp"
)

// sbig adapts a signed big.Int to RLP, which natively only encodes
// non-negative integers. It stores a sign byte alongside the absolute-value
// magnitude, mirroring the "widening multiply, explicit sign" discipline of
// package fixedpoint.
type sbig struct {
	V *big.Int
}

type sbigWire struct {
	Sign uint8
	Abs  *big.Int
}

func newSBig(v *big.Int) sbig {
	if v == nil {
		return sbig{V: big.NewInt(0)}
	}
	return sbig{V: v}
}

// EncodeRLP implements rlp.Encoder.
func (s sbig) EncodeRLP(w io.Writer) error {
	v := s.V
	if v == nil {
		v = big.NewInt(0)
	}
	wire := sbigWire{Abs: new(big.Int).Abs(v)}
	if v.Sign() < 0 {
		wire.Sign = 1
	}
	return rlp.Encode(w, wire)
}

// DecodeRLP implements rlp.Decoder.
func (s *sbig) DecodeRLP(st *rlp.Stream) error {
	var wire sbigWire
	if err := st.Decode(&wire); err != nil {
		return err
	}
	v := new(big.Int)
	if wire.Abs != nil {
		v.Set(wire.Abs)
	}
	if wire.Sign == 1 {
		v.Neg(v)
	}
	s.V = v
	return nil
}
