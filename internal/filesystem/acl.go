package filesystem

import (
	"context"
	"crypto/ed25519"
	"encoding/json"

	"github.com/silofs/silofs/internal/block"
	"github.com/silofs/silofs/internal/consensus"
	"github.com/silofs/silofs/pkg/crypto"
)

// aclEntryWire and aclWire are the JSON encoding of block.ACL: the block
// package only defines the in-memory ACLEntry/ACL shape, since the ACL
// itself is just the ciphertext of a CHB as far as internal/block is
// concerned. The filesystem layer owns the concrete wire format because it
// is the only layer that ever constructs or opens one.
type aclEntryWire struct {
	UserKey []byte `json:"user_key"`
	Read    bool   `json:"read"`
	Write   bool   `json:"write"`
	Token   []byte `json:"token"`
}

type aclWire struct {
	Entries []aclEntryWire `json:"entries"`
}

func encodeACL(acl block.ACL) []byte {
	w := aclWire{Entries: make([]aclEntryWire, len(acl.Entries))}
	for i, e := range acl.Entries {
		w.Entries[i] = aclEntryWire{UserKey: []byte(e.UserKey), Read: e.Read, Write: e.Write, Token: e.Token}
	}
	b, _ := json.Marshal(w)
	return b
}

func decodeACL(data []byte) (block.ACL, error) {
	var w aclWire
	if err := json.Unmarshal(data, &w); err != nil {
		return block.ACL{}, err
	}
	acl := block.ACL{Entries: make([]block.ACLEntry, len(w.Entries))}
	for i, e := range w.Entries {
		acl.Entries[i] = block.ACLEntry{UserKey: ed25519.PublicKey(e.UserKey), Read: e.Read, Write: e.Write, Token: e.Token}
	}
	return acl, nil
}

// storeEmptyACL writes a fresh immutable CHB holding an ACL with no
// entries and returns its address, the default ACLRef for a newly created
// directory or file before any group is granted access.
func (fs *Filesystem) storeEmptyACL(ctx context.Context) (block.Address, error) {
	return fs.storeACL(ctx, block.ACL{})
}

func (fs *Filesystem) storeACL(ctx context.Context, acl block.ACL) (block.Address, error) {
	salt, err := crypto.NewSalt()
	if err != nil {
		return block.Address{}, err
	}
	plaintext := encodeACL(acl)
	addr := block.DeriveCHBAddress(plaintext, fs.identity.Public, salt)
	sig := crypto.Sign(fs.identity.Private, block.SignedCHBBytes(addr, block.CHBPayload{Ciphertext: plaintext}))
	raw, err := block.EncodeCHB(addr, fs.identity.Public, salt, block.CHBPayload{Ciphertext: plaintext}, sig)
	if err != nil {
		return block.Address{}, err
	}
	if err := fs.cs.Store(ctx, addr, raw, consensus.ModeInsert, nil); err != nil {
		return block.Address{}, err
	}
	return addr, nil
}

// lookupACL fetches the ACL CHB at ref and decodes it. grantEditor and
// revokeEditor read the current ACL through it.
func (fs *Filesystem) lookupACL(ctx context.Context, ref block.Address) (block.ACL, error) {
	res, err := fs.cs.Fetch(ctx, ref, nil)
	if err != nil {
		return block.ACL{}, err
	}
	_, payload, err := block.DecodeCHB(res.Raw)
	if err != nil {
		return block.ACL{}, err
	}
	return decodeACL(payload.Ciphertext)
}

// encodeOwnerACB encrypts plaintext under a fresh payload key, seals that
// key to fs's own identity as the owner token, and signs the resulting
// envelope — the shape of every ACB this process writes as the owner
// (EditorIndex -1). True non-owner editor writes, which would need a
// second, editor-held signature the wire format has no independent slot
// for, are out of scope for this pass; see DESIGN.md.
func (fs *Filesystem) encodeOwnerACB(addr block.Address, salt [32]byte, version uint32, aclRef block.Address, plaintext []byte) ([]byte, error) {
	payloadKey, err := crypto.NewPayloadKey()
	if err != nil {
		return nil, err
	}
	ciphertext, err := crypto.EncryptChunk(payloadKey, plaintext)
	if err != nil {
		return nil, err
	}
	ownerToken, err := crypto.SealPayloadKey(payloadKey, fs.identity.Public, fs.sealingSecret)
	if err != nil {
		return nil, err
	}
	payload := block.ACBPayload{
		Version:     version,
		Ciphertext:  ciphertext,
		OwnerToken:  ownerToken,
		ACLRef:      aclRef,
		EditorIndex: -1,
	}
	payload.DataSignature = crypto.Sign(fs.identity.Private, block.SignedACBEnvelopeBytes(addr, payload))
	return block.EncodeACB(addr, fs.identity.Public, salt, payload)
}

// openACB recovers the plaintext payload of an ACB by opening its owner
// token with fs's own identity and sealing secret. Token entries in the
// referenced ACL are not consulted, so a block whose owner token fs cannot
// open returns crypto.ErrOpenFailed.
func (fs *Filesystem) openACB(payload block.ACBPayload) ([]byte, error) {
	payloadKey, err := crypto.OpenPayloadKey(payload.OwnerToken, fs.identity.Public, fs.sealingSecret)
	if err == nil {
		return crypto.DecryptChunk(payloadKey, payload.Ciphertext)
	}
	return nil, crypto.ErrOpenFailed
}
