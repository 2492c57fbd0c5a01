// Package crypto provides the signing, hashing, and payload-sealing
// primitives the block layer uses to authenticate and encrypt data.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/ed25519"
	cryptorand "crypto/rand"
	"crypto/sha256"
	"errors"
	"io"

	"golang.org/x/crypto/hkdf"
	"golang.org/x/crypto/nacl/secretbox"
)

// KeySize is the length in bytes of an ed25519 public key, used throughout
// the block layer as the canonical "owner key" / "editor key" size.
const KeySize = ed25519.PublicKeySize

// PayloadKeySize is the length of a per-block or per-chunk symmetric key.
const PayloadKeySize = 32

var ErrOpenFailed = errors.New("crypto: open failed (wrong key or corrupt data)")

// KeyPair is an ed25519 signing identity: an owner, editor, or group
// control key.
type KeyPair struct {
	Public  ed25519.PublicKey
	Private ed25519.PrivateKey
}

// GenerateKeyPair creates a new ed25519 signing identity.
func GenerateKeyPair() (KeyPair, error) {
	pub, priv, err := ed25519.GenerateKey(cryptorand.Reader)
	if err != nil {
		return KeyPair{}, err
	}
	return KeyPair{Public: pub, Private: priv}, nil
}

// Sign signs data with the private key.
func Sign(priv ed25519.PrivateKey, data []byte) []byte {
	return ed25519.Sign(priv, data)
}

// Verify checks a signature against data and a public key.
func Verify(pub ed25519.PublicKey, data, sig []byte) bool {
	if len(pub) != ed25519.PublicKeySize {
		return false
	}
	return ed25519.Verify(pub, data, sig)
}

// Hash returns SHA-256 of the concatenation of all parts, used to derive
// block addresses (H(data ‖ owner_key ‖ salt) and H(owner_key ‖ salt)).
func Hash(parts ...[]byte) [32]byte {
	h := sha256.New()
	for _, p := range parts {
		h.Write(p)
	}
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

// NewSalt returns a fresh random salt used in address derivation.
func NewSalt() ([32]byte, error) {
	var salt [32]byte
	if _, err := io.ReadFull(cryptorand.Reader, salt[:]); err != nil {
		return salt, err
	}
	return salt, nil
}

// NewPayloadKey returns a fresh random symmetric key for sealing a block
// payload or a single file chunk.
func NewPayloadKey() ([PayloadKeySize]byte, error) {
	var key [PayloadKeySize]byte
	if _, err := io.ReadFull(cryptorand.Reader, key[:]); err != nil {
		return key, err
	}
	return key, nil
}

// deriveBoxKey derives a secretbox key bound to a recipient's public key,
// using HKDF so the derived key never directly leaks the recipient's
// signing key. This lets ACB tokens be "sealed to a public key" without
// needing an asymmetric KEM: the sender runs ECDH-free key wrapping by
// mixing the recipient key into HKDF's info parameter, with the shared
// secret provided by the caller (typically the payload key itself, for
// the owner's own token, or a fresh ephemeral secret for editor tokens).
func deriveBoxKey(secret, recipient []byte) [32]byte {
	var out [32]byte
	r := hkdf.New(sha256.New, secret, nil, recipient)
	io.ReadFull(r, out[:])
	return out
}

// SealPayloadKey seals a payload key so that only the holder of the
// recipient's ed25519 private key can recover it. The sealed form is an
// ACB `token` or `owner_token` entry.
func SealPayloadKey(payloadKey [PayloadKeySize]byte, recipientPub ed25519.PublicKey, sealingSecret []byte) ([]byte, error) {
	boxKey := deriveBoxKey(sealingSecret, recipientPub)
	var nonce [24]byte
	if _, err := io.ReadFull(cryptorand.Reader, nonce[:]); err != nil {
		return nil, err
	}
	sealed := secretbox.Seal(nonce[:], payloadKey[:], &nonce, &boxKey)
	return sealed, nil
}

// OpenPayloadKey reverses SealPayloadKey given the same sealing secret the
// recipient is able to reconstruct (e.g. the owner's private key material
// used as a KDF seed, agreed out of band by the passport/credential
// exchange; the core only needs the primitive, not that exchange).
func OpenPayloadKey(sealed []byte, recipientPub ed25519.PublicKey, sealingSecret []byte) ([PayloadKeySize]byte, error) {
	var out [PayloadKeySize]byte
	if len(sealed) < 24 {
		return out, ErrOpenFailed
	}
	var nonce [24]byte
	copy(nonce[:], sealed[:24])
	boxKey := deriveBoxKey(sealingSecret, recipientPub)
	opened, ok := secretbox.Open(nil, sealed[24:], &nonce, &boxKey)
	if !ok || len(opened) != PayloadKeySize {
		return out, ErrOpenFailed
	}
	copy(out[:], opened)
	return out, nil
}

// EncryptChunk encrypts a file chunk under its per-chunk key with
// AES-256-GCM, returning nonce‖ciphertext.
func EncryptChunk(key [PayloadKeySize]byte, plaintext []byte) ([]byte, error) {
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(cryptorand.Reader, nonce); err != nil {
		return nil, err
	}
	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

// DecryptChunk reverses EncryptChunk.
func DecryptChunk(key [PayloadKeySize]byte, ciphertext []byte) ([]byte, error) {
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	if len(ciphertext) < gcm.NonceSize() {
		return nil, ErrOpenFailed
	}
	nonce, ct := ciphertext[:gcm.NonceSize()], ciphertext[gcm.NonceSize():]
	return gcm.Open(nil, nonce, ct, nil)
}
