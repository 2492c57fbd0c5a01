package block

import (
	"crypto/ed25519"

	"github.com/silofs/silofs/pkg/crypto"
)

// ACLLookup resolves the ACL referenced by an ACB so ValidateACB can check
// write permission for a non-owner editor, without internal/block importing
// the silo layer that actually stores ACL blocks.
type ACLLookup func(ref Address) (ACL, error)

// ValidateCHB recomputes the content address of an immutable block and
// checks the owner's signature over it. CHB has no version to compare.
func ValidateCHB(b Block, payload CHBPayload) error {
	want := DeriveCHBAddress(payload.Ciphertext, b.OwnerKey, b.Salt)
	if !want.Equal(b.Address) {
		return ErrValidation("block", "CHB address does not match content hash")
	}
	if !ed25519.Verify(b.OwnerKey, signedCHBBytes(b.Address, payload), b.Signature) {
		return ErrValidation("block", "CHB signature verification failed")
	}
	return nil
}

// SignedCHBBytes exposes the bytes a CHB's signature covers, so a caller
// constructing a new block (the filesystem layer) can sign it without
// duplicating this package's hashing convention.
func SignedCHBBytes(addr Address, payload CHBPayload) []byte {
	return signedCHBBytes(addr, payload)
}

// SignedOKBBytes is OKB's counterpart to SignedCHBBytes.
func SignedOKBBytes(addr Address, payload OKBPayload) []byte {
	return signedOKBBytes(addr, payload)
}

// SignedACBEnvelopeBytes is ACB's envelope counterpart to SignedCHBBytes.
func SignedACBEnvelopeBytes(addr Address, payload ACBPayload) []byte {
	return signedACBEnvelopeBytes(addr, payload)
}

// SignedACBDataBytes is ACB's editor-signature counterpart.
func SignedACBDataBytes(addr Address, payload ACBPayload) []byte {
	return signedACBDataBytes(addr, payload)
}

func signedCHBBytes(addr Address, payload CHBPayload) []byte {
	h := crypto.Hash(addr.Bytes(), payload.Ciphertext)
	return h[:]
}

// ValidateOKB recomputes the owner-derived address and checks the owner's
// signature over (address, version, data). current, when non-nil, is the
// last validated version of this block; a version at or below current.Version
// is rejected as stale only once a newer, itself-validated version exists —
// callers that have no prior version pass nil.
func ValidateOKB(b Block, payload OKBPayload, current *OKBPayload) error {
	want := DeriveMutableAddress(b.OwnerKey, b.Salt, b.Address.WorldReadable())
	if !want.Equal(b.Address) {
		return ErrValidation("block", "OKB address does not match owner key derivation")
	}
	if !ed25519.Verify(b.OwnerKey, signedOKBBytes(b.Address, payload), b.Signature) {
		return ErrValidation("block", "OKB signature verification failed")
	}
	if current != nil && payload.Version <= current.Version {
		return ErrValidation("block", "OKB version is stale")
	}
	return nil
}

func signedOKBBytes(addr Address, payload OKBPayload) []byte {
	var versionBuf [4]byte
	versionBuf[0] = byte(payload.Version >> 24)
	versionBuf[1] = byte(payload.Version >> 16)
	versionBuf[2] = byte(payload.Version >> 8)
	versionBuf[3] = byte(payload.Version)
	h := crypto.Hash(addr.Bytes(), versionBuf[:], payload.Data)
	return h[:]
}

// ValidateACB recomputes the owner-derived address and verifies the owner's
// envelope signature, then — when EditorIndex is non-negative — resolves the
// ACL via lookup and verifies DataSignature against the editor entry's key,
// requiring write permission. A negative EditorIndex means the owner itself
// wrote the block and only the envelope signature applies.
func ValidateACB(b Block, payload ACBPayload, current *ACBPayload, lookup ACLLookup) error {
	want := DeriveMutableAddress(b.OwnerKey, b.Salt, b.Address.WorldReadable())
	if !want.Equal(b.Address) {
		return ErrValidation("block", "ACB address does not match owner key derivation")
	}
	if !ed25519.Verify(b.OwnerKey, signedACBEnvelopeBytes(b.Address, payload), b.Signature) {
		return ErrValidation("block", "ACB envelope signature verification failed")
	}
	if current != nil && payload.Version <= current.Version {
		return ErrValidation("block", "ACB version is stale")
	}
	if payload.EditorIndex < 0 {
		return nil
	}
	if lookup == nil {
		return ErrInvalidArgument("block", "ACB has a non-owner editor but no ACL lookup was provided")
	}
	acl, err := lookup(payload.ACLRef)
	if err != nil {
		return err
	}
	if int(payload.EditorIndex) >= len(acl.Entries) {
		return ErrValidation("block", "ACB editor index out of range")
	}
	entry := acl.Entries[payload.EditorIndex]
	if !entry.Write {
		return ErrValidation("block", "ACB editor lacks write permission")
	}
	if !ed25519.Verify(entry.UserKey, signedACBDataBytes(b.Address, payload), payload.DataSignature) {
		return ErrValidation("block", "ACB editor data signature verification failed")
	}
	return nil
}

func signedACBEnvelopeBytes(addr Address, payload ACBPayload) []byte {
	var versionBuf [4]byte
	versionBuf[0] = byte(payload.Version >> 24)
	versionBuf[1] = byte(payload.Version >> 16)
	versionBuf[2] = byte(payload.Version >> 8)
	versionBuf[3] = byte(payload.Version)
	h := crypto.Hash(addr.Bytes(), versionBuf[:], payload.Ciphertext, payload.OwnerToken, payload.ACLRef.Bytes())
	return h[:]
}

func signedACBDataBytes(addr Address, payload ACBPayload) []byte {
	var versionBuf [4]byte
	versionBuf[0] = byte(payload.Version >> 24)
	versionBuf[1] = byte(payload.Version >> 16)
	versionBuf[2] = byte(payload.Version >> 8)
	versionBuf[3] = byte(payload.Version)
	h := crypto.Hash(addr.Bytes(), versionBuf[:], payload.Ciphertext, payload.OwnerToken, payload.ACLRef.Bytes())
	return h[:]
}
