// Package block implements the three block variants of the storage model —
// immutable content-hashed blocks (CHB), mutable owner-signed blocks (OKB),
// and mutable ACL-protected blocks (ACB) — along with their address
// derivation, wire encoding, and cryptographic validation.
package block

import (
	"bytes"
	"crypto/ed25519"
	"encoding/hex"

	"github.com/silofs/silofs/pkg/crypto"
)

// AddressSize is the length in bytes of a block address.
const AddressSize = 32

// Low-bit flags carried in the last byte of an Address.
const (
	flagMutable       = 1 << 0
	flagWorldReadable = 1 << 1
)

// Address is the 32-byte content identifier of a block. Its low bits carry
// the mutable and world-readable flags; two addresses are equal iff all 32
// bytes (including flags) match.
type Address struct {
	bytes [AddressSize]byte
}

// NewAddress builds an Address from a raw 32-byte hash and the mutability /
// world-readability flags that are ORed into its low bits.
func NewAddress(hash [32]byte, mutable, worldReadable bool) Address {
	a := Address{bytes: hash}
	if mutable {
		a.bytes[31] |= flagMutable
	} else {
		a.bytes[31] &^= flagMutable
	}
	if worldReadable {
		a.bytes[31] |= flagWorldReadable
	} else {
		a.bytes[31] &^= flagWorldReadable
	}
	return a
}

// AddressFromBytes parses a 32-byte slice into an Address.
func AddressFromBytes(b []byte) (Address, error) {
	var a Address
	if len(b) != AddressSize {
		return a, errInvalidAddressLength
	}
	copy(a.bytes[:], b)
	return a, nil
}

// Bytes returns the raw 32 bytes of the address.
func (a Address) Bytes() []byte {
	out := make([]byte, AddressSize)
	copy(out, a.bytes[:])
	return out
}

// Mutable reports whether the address' mutable flag is set (OKB/ACB).
func (a Address) Mutable() bool {
	return a.bytes[31]&flagMutable != 0
}

// WorldReadable reports whether no ACL gating applies to this address.
func (a Address) WorldReadable() bool {
	return a.bytes[31]&flagWorldReadable != 0
}

// Equal compares two addresses including their flag bits.
func (a Address) Equal(other Address) bool {
	return bytes.Equal(a.bytes[:], other.bytes[:])
}

// String returns the lowercase hex encoding of the address, used as silo
// and journal filenames.
func (a Address) String() string {
	return hex.EncodeToString(a.bytes[:])
}

// AddressFromHex parses the hex form produced by String.
func AddressFromHex(s string) (Address, error) {
	raw, err := hex.DecodeString(s)
	if err != nil {
		return Address{}, err
	}
	return AddressFromBytes(raw)
}

// DeriveCHBAddress computes H(data ‖ owner_key ‖ salt), the address
// derivation rule for immutable content-hashed blocks.
func DeriveCHBAddress(data []byte, ownerKey ed25519.PublicKey, salt [32]byte) Address {
	hash := crypto.Hash(data, ownerKey, salt[:])
	return NewAddress(hash, false, false)
}

// DeriveMutableAddress computes H(owner_key ‖ salt), the address
// derivation rule shared by OKB and ACB.
func DeriveMutableAddress(ownerKey ed25519.PublicKey, salt [32]byte, worldReadable bool) Address {
	hash := crypto.Hash(ownerKey, salt[:])
	return NewAddress(hash, true, worldReadable)
}
