package block

import (
	"bytes"
	"crypto/ed25519"
	"crypto/x509"
	"encoding/binary"
	"io"
)

// wire layout, all fields length-prefixed with a uint32 where the length
// isn't fixed:
//
//	header  = kind:u8 ‖ address:32B ‖ len(owner_key):u32 ‖ owner_key:DER ‖ salt:32B
//	CHB     = header ‖ len(payload):u32 ‖ payload ‖ len(sig):u32 ‖ sig
//	OKB     = header ‖ version:u32 ‖ len(payload):u32 ‖ payload ‖ len(sig):u32 ‖ sig
//	ACB     = header ‖ version:u32 ‖ len(ciphertext):u32 ‖ ciphertext ‖
//	          len(owner_token):u32 ‖ owner_token ‖ acl_ref:32B ‖ editor:i32 ‖
//	          len(sig):u32 ‖ sig

func writeUint32Prefixed(w *bytes.Buffer, b []byte) {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(b)))
	w.Write(lenBuf[:])
	w.Write(b)
}

func readUint32Prefixed(r *bytes.Reader) ([]byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

func encodeHeader(w *bytes.Buffer, b *Block) error {
	w.WriteByte(byte(b.Kind))
	w.Write(b.Address.Bytes())
	der, err := x509.MarshalPKIXPublicKey(b.OwnerKey)
	if err != nil {
		return err
	}
	writeUint32Prefixed(w, der)
	w.Write(b.Salt[:])
	return nil
}

func decodeHeader(r *bytes.Reader) (Block, error) {
	var b Block
	kindByte, err := r.ReadByte()
	if err != nil {
		return b, err
	}
	b.Kind = Kind(kindByte)

	addrBytes := make([]byte, AddressSize)
	if _, err := io.ReadFull(r, addrBytes); err != nil {
		return b, err
	}
	addr, err := AddressFromBytes(addrBytes)
	if err != nil {
		return b, err
	}
	b.Address = addr

	der, err := readUint32Prefixed(r)
	if err != nil {
		return b, err
	}
	pub, err := x509.ParsePKIXPublicKey(der)
	if err != nil {
		return b, err
	}
	edPub, ok := pub.(ed25519.PublicKey)
	if !ok {
		return b, errUnknownKind
	}
	b.OwnerKey = edPub

	if _, err := io.ReadFull(r, b.Salt[:]); err != nil {
		return b, err
	}
	return b, nil
}

// EncodeCHB serializes a CHB: header ‖ payload ‖ signature.
func EncodeCHB(addr Address, ownerKey ed25519.PublicKey, salt [32]byte, payload CHBPayload, sig []byte) ([]byte, error) {
	b := &Block{Kind: KindCHB, Address: addr, OwnerKey: ownerKey, Salt: salt, Signature: sig}
	var buf bytes.Buffer
	if err := encodeHeader(&buf, b); err != nil {
		return nil, err
	}
	writeUint32Prefixed(&buf, payload.Ciphertext)
	writeUint32Prefixed(&buf, sig)
	return buf.Bytes(), nil
}

// DecodeCHB parses the bytes produced by EncodeCHB.
func DecodeCHB(data []byte) (Block, CHBPayload, error) {
	r := bytes.NewReader(data)
	b, err := decodeHeader(r)
	if err != nil {
		return b, CHBPayload{}, err
	}
	if b.Kind != KindCHB {
		return b, CHBPayload{}, errUnknownKind
	}
	ciphertext, err := readUint32Prefixed(r)
	if err != nil {
		return b, CHBPayload{}, err
	}
	sig, err := readUint32Prefixed(r)
	if err != nil {
		return b, CHBPayload{}, err
	}
	b.Signature = sig
	return b, CHBPayload{Ciphertext: ciphertext}, nil
}

// EncodeOKB serializes an OKB: header ‖ version ‖ payload ‖ signature.
func EncodeOKB(addr Address, ownerKey ed25519.PublicKey, salt [32]byte, payload OKBPayload, sig []byte) ([]byte, error) {
	b := &Block{Kind: KindOKB, Address: addr, OwnerKey: ownerKey, Salt: salt}
	var buf bytes.Buffer
	if err := encodeHeader(&buf, b); err != nil {
		return nil, err
	}
	var versionBuf [4]byte
	binary.BigEndian.PutUint32(versionBuf[:], payload.Version)
	buf.Write(versionBuf[:])
	writeUint32Prefixed(&buf, payload.Data)
	writeUint32Prefixed(&buf, sig)
	return buf.Bytes(), nil
}

// DecodeOKB parses the bytes produced by EncodeOKB.
func DecodeOKB(data []byte) (Block, OKBPayload, error) {
	r := bytes.NewReader(data)
	b, err := decodeHeader(r)
	if err != nil {
		return b, OKBPayload{}, err
	}
	if b.Kind != KindOKB {
		return b, OKBPayload{}, errUnknownKind
	}
	var versionBuf [4]byte
	if _, err := io.ReadFull(r, versionBuf[:]); err != nil {
		return b, OKBPayload{}, err
	}
	version := binary.BigEndian.Uint32(versionBuf[:])

	payloadData, err := readUint32Prefixed(r)
	if err != nil {
		return b, OKBPayload{}, err
	}
	sig, err := readUint32Prefixed(r)
	if err != nil {
		return b, OKBPayload{}, err
	}
	b.Signature = sig
	return b, OKBPayload{Version: version, Data: payloadData}, nil
}

// EncodeACB serializes an ACB: header ‖ version ‖ ciphertext ‖ owner_token ‖
// acl_ref ‖ editor ‖ signature.
func EncodeACB(addr Address, ownerKey ed25519.PublicKey, salt [32]byte, payload ACBPayload) ([]byte, error) {
	b := &Block{Kind: KindACB, Address: addr, OwnerKey: ownerKey, Salt: salt}
	var buf bytes.Buffer
	if err := encodeHeader(&buf, b); err != nil {
		return nil, err
	}
	var versionBuf [4]byte
	binary.BigEndian.PutUint32(versionBuf[:], payload.Version)
	buf.Write(versionBuf[:])
	writeUint32Prefixed(&buf, payload.Ciphertext)
	writeUint32Prefixed(&buf, payload.OwnerToken)
	buf.Write(payload.ACLRef.Bytes())
	var editorBuf [4]byte
	binary.BigEndian.PutUint32(editorBuf[:], uint32(payload.EditorIndex))
	buf.Write(editorBuf[:])
	writeUint32Prefixed(&buf, payload.DataSignature)
	return buf.Bytes(), nil
}

// DecodeACB parses the bytes produced by EncodeACB.
func DecodeACB(data []byte) (Block, ACBPayload, error) {
	r := bytes.NewReader(data)
	b, err := decodeHeader(r)
	if err != nil {
		return b, ACBPayload{}, err
	}
	if b.Kind != KindACB {
		return b, ACBPayload{}, errUnknownKind
	}
	var versionBuf [4]byte
	if _, err := io.ReadFull(r, versionBuf[:]); err != nil {
		return b, ACBPayload{}, err
	}
	version := binary.BigEndian.Uint32(versionBuf[:])

	ciphertext, err := readUint32Prefixed(r)
	if err != nil {
		return b, ACBPayload{}, err
	}
	ownerToken, err := readUint32Prefixed(r)
	if err != nil {
		return b, ACBPayload{}, err
	}
	aclRefBytes := make([]byte, AddressSize)
	if _, err := io.ReadFull(r, aclRefBytes); err != nil {
		return b, ACBPayload{}, err
	}
	aclRef, err := AddressFromBytes(aclRefBytes)
	if err != nil {
		return b, ACBPayload{}, err
	}
	var editorBuf [4]byte
	if _, err := io.ReadFull(r, editorBuf[:]); err != nil {
		return b, ACBPayload{}, err
	}
	editorIndex := int32(binary.BigEndian.Uint32(editorBuf[:]))

	sig, err := readUint32Prefixed(r)
	if err != nil {
		return b, ACBPayload{}, err
	}
	b.Signature = sig

	return b, ACBPayload{
		Version:       version,
		Ciphertext:    ciphertext,
		OwnerToken:    ownerToken,
		ACLRef:        aclRef,
		EditorIndex:   editorIndex,
		DataSignature: sig,
	}, nil
}
