package block

import (
	"crypto/ed25519"
)

// Kind discriminates the three block variants. It is the wire
// discriminant byte and the tag of the Block sum type.
type Kind uint8

const (
	KindCHB Kind = iota + 1
	KindOKB
	KindACB
)

func (k Kind) String() string {
	switch k {
	case KindCHB:
		return "CHB"
	case KindOKB:
		return "OKB"
	case KindACB:
		return "ACB"
	default:
		return "unknown"
	}
}

// Block is the common envelope shared by all three variants: an address,
// opaque payload bytes, a signature over that payload, and the owner's
// public key. The concrete payload shape (raw ciphertext for CHB,
// versioned payload for OKB/ACB) is interpreted by the Kind-specific
// Decode/Encode functions in this package, not by Block itself — this is
// the tagged-enum substitute for the source's virtual Block hierarchy.
type Block struct {
	Kind      Kind
	Address   Address
	OwnerKey  ed25519.PublicKey
	Salt      [32]byte
	Data      []byte // opaque payload: see CHBPayload/OKBPayload/ACBPayload
	Signature []byte
}

// CHBPayload is the raw ciphertext of an immutable block; CHB blocks have
// no version and no extra envelope fields.
type CHBPayload struct {
	Ciphertext []byte
}

// OKBPayload is the versioned payload of an owner-key block.
type OKBPayload struct {
	Version uint32
	Data    []byte
}

// ACBPayload is the versioned, ACL-protected payload of an ACL-controlled
// block. EditorIndex is -1 when the owner wrote the block, else an index
// into the ACL referenced by ACLRef.
type ACBPayload struct {
	Version       uint32
	Ciphertext    []byte
	OwnerToken    []byte // payload key sealed with the owner's public key
	ACLRef        Address
	EditorIndex   int32
	DataSignature []byte // signature over (address, version, ciphertext, owner_token, acl_ref)
}

// ACLEntry is one row of an ACL block's entry list.
type ACLEntry struct {
	UserKey ed25519.PublicKey
	Read    bool
	Write   bool
	Token   []byte // payload key sealed with UserKey
}

// ACL is the payload of the immutable block an ACB's ACLRef points at.
type ACL struct {
	Entries []ACLEntry
}
