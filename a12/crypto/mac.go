package crypto

import (
	"errors"

	"golang.org/x/crypto/blake2b"
)

// ErrKeySize reports an authentication key outside the 1..64 byte envelope
// blake2b's keyed init accepts.
var ErrKeySize = errors.New("crypto: key must be 1..64 bytes")

// MACSize is the width of a chained MAC on the wire.
const MACSize = 16

// MACChain computes the A12 per-packet chained MAC: the MAC of packet N is
// a keyed hash over (MAC of packet N-1 || kind byte || packet body). The
// keyed init state is derived once from the session's 1..64-byte
// authentication key and copied fresh for every packet.
type MACChain struct {
	key []byte
}

// NewMACChain derives a chain from a 1..64 byte authentication key.
func NewMACChain(key []byte) (*MACChain, error) {
	if len(key) < 1 || len(key) > 64 {
		return nil, ErrKeySize
	}
	k := make([]byte, len(key))
	copy(k, key)
	return &MACChain{key: k}, nil
}

// Next computes the MAC for a packet given the previous chained MAC, the
// packet's kind byte, and its body. It truncates blake2b's digest to the
// 16-byte MACSize carried on the wire.
func (m *MACChain) Next(prevMAC [MACSize]byte, kind byte, body []byte) ([MACSize]byte, error) {
	h, err := blake2b.New(MACSize, m.key)
	if err != nil {
		var zero [MACSize]byte
		return zero, err
	}
	h.Write(prevMAC[:])
	h.Write([]byte{kind})
	h.Write(body)

	var out [MACSize]byte
	sum := h.Sum(nil)
	copy(out[:], sum)
	return out, nil
}
