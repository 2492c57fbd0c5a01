package block

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/silofs/silofs/pkg/crypto"
)

func mustKeyPair(t *testing.T) crypto.KeyPair {
	t.Helper()
	kp, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	return kp
}

func mustSalt(t *testing.T) [32]byte {
	t.Helper()
	salt, err := crypto.NewSalt()
	require.NoError(t, err)
	return salt
}

func TestCHBRoundTripAndValidate(t *testing.T) {
	kp := mustKeyPair(t)
	salt := mustSalt(t)
	data := []byte("hello silofs")

	addr := DeriveCHBAddress(data, kp.Public, salt)
	payload := CHBPayload{Ciphertext: data}
	sig := crypto.Sign(kp.Private, signedCHBBytes(addr, payload))

	encoded, err := EncodeCHB(addr, kp.Public, salt, payload, sig)
	require.NoError(t, err)

	decodedBlock, decodedPayload, err := DecodeCHB(encoded)
	require.NoError(t, err)
	require.True(t, addr.Equal(decodedBlock.Address))
	require.Equal(t, data, decodedPayload.Ciphertext)

	require.NoError(t, ValidateCHB(decodedBlock, decodedPayload))
}

func TestCHBValidateRejectsTamperedContent(t *testing.T) {
	kp := mustKeyPair(t)
	salt := mustSalt(t)
	payload := CHBPayload{Ciphertext: []byte("original")}
	addr := DeriveCHBAddress(payload.Ciphertext, kp.Public, salt)
	sig := crypto.Sign(kp.Private, signedCHBBytes(addr, payload))

	b := Block{Kind: KindCHB, Address: addr, OwnerKey: kp.Public, Salt: salt, Signature: sig}
	tampered := CHBPayload{Ciphertext: []byte("modified")}
	require.Error(t, ValidateCHB(b, tampered))
}

func TestOKBRoundTripAndVersionStaleness(t *testing.T) {
	kp := mustKeyPair(t)
	salt := mustSalt(t)
	addr := DeriveMutableAddress(kp.Public, salt, false)

	v1 := OKBPayload{Version: 1, Data: []byte("v1")}
	v1.Version = 1
	sig1 := crypto.Sign(kp.Private, signedOKBBytes(addr, v1))
	b1 := Block{Kind: KindOKB, Address: addr, OwnerKey: kp.Public, Salt: salt, Signature: sig1}
	require.NoError(t, ValidateOKB(b1, v1, nil))

	encoded, err := EncodeOKB(addr, kp.Public, salt, v1, sig1)
	require.NoError(t, err)
	decodedBlock, decodedPayload, err := DecodeOKB(encoded)
	require.NoError(t, err)
	require.Equal(t, v1.Data, decodedPayload.Data)
	require.NoError(t, ValidateOKB(decodedBlock, decodedPayload, nil))

	v2 := OKBPayload{Version: 2, Data: []byte("v2")}
	sig2 := crypto.Sign(kp.Private, signedOKBBytes(addr, v2))
	b2 := Block{Kind: KindOKB, Address: addr, OwnerKey: kp.Public, Salt: salt, Signature: sig2}
	require.NoError(t, ValidateOKB(b2, v2, &v1))

	require.Error(t, ValidateOKB(b1, v1, &v2), "stale version must be rejected once a newer one is known")
}

func TestACBOwnerWriteAndEditorPermission(t *testing.T) {
	owner := mustKeyPair(t)
	editor := mustKeyPair(t)
	salt := mustSalt(t)
	addr := DeriveMutableAddress(owner.Public, salt, false)

	aclRef := DeriveCHBAddress([]byte("acl"), owner.Public, mustSalt(t))
	acl := ACL{Entries: []ACLEntry{
		{UserKey: editor.Public, Read: true, Write: true},
	}}

	ownerPayload := ACBPayload{
		Version:     1,
		Ciphertext:  []byte("owner write"),
		ACLRef:      aclRef,
		EditorIndex: -1,
	}
	ownerSig := crypto.Sign(owner.Private, signedACBEnvelopeBytes(addr, ownerPayload))
	ownerBlock := Block{Kind: KindACB, Address: addr, OwnerKey: owner.Public, Salt: salt, Signature: ownerSig}
	require.NoError(t, ValidateACB(ownerBlock, ownerPayload, nil, nil))

	editorPayload := ACBPayload{
		Version:     2,
		Ciphertext:  []byte("editor write"),
		ACLRef:      aclRef,
		EditorIndex: 0,
	}
	editorPayload.DataSignature = crypto.Sign(editor.Private, signedACBDataBytes(addr, editorPayload))
	editorEnvelopeSig := crypto.Sign(owner.Private, signedACBEnvelopeBytes(addr, editorPayload))
	editorBlock := Block{Kind: KindACB, Address: addr, OwnerKey: owner.Public, Salt: salt, Signature: editorEnvelopeSig}

	lookup := func(ref Address) (ACL, error) { return acl, nil }
	require.NoError(t, ValidateACB(editorBlock, editorPayload, &ownerPayload, lookup))

	readOnlyACL := ACL{Entries: []ACLEntry{{UserKey: editor.Public, Read: true, Write: false}}}
	readOnlyLookup := func(ref Address) (ACL, error) { return readOnlyACL, nil }
	require.Error(t, ValidateACB(editorBlock, editorPayload, &ownerPayload, readOnlyLookup))
}
