package block

import (
	"bytes"
	"crypto/ed25519"
)

// PeekHeader reads just the kind and address off an encoded block without
// validating or fully decoding its payload. The consensus layer uses this
// to route wire bytes (cache keys, journal replay, quorum comparisons)
// without caring about CHB/OKB/ACB-specific fields.
func PeekHeader(data []byte) (Kind, Address, error) {
	r := bytes.NewReader(data)
	b, err := decodeHeader(r)
	if err != nil {
		return 0, Address{}, err
	}
	return b.Kind, b.Address, nil
}

// PeekOwnerKey returns the owner public key off an encoded block's header.
// The Paxos layer compares it to break a tie between two Prepare answers
// at the same accepted round; version ties on the fetch path are broken by
// full block hash in the consensus layer instead.
func PeekOwnerKey(data []byte) (ed25519.PublicKey, error) {
	r := bytes.NewReader(data)
	b, err := decodeHeader(r)
	if err != nil {
		return nil, err
	}
	return b.OwnerKey, nil
}

// PeekVersion returns the version field of an OKB or ACB's encoded bytes,
// or 0 for a CHB (which has none). Used by the consensus layer to compare
// a locally cached copy against a freshly fetched one without needing the
// caller to have already decoded either.
func PeekVersion(data []byte) (uint32, error) {
	kind, _, err := PeekHeader(data)
	if err != nil {
		return 0, err
	}
	switch kind {
	case KindCHB:
		return 0, nil
	case KindOKB:
		_, payload, err := DecodeOKB(data)
		if err != nil {
			return 0, err
		}
		return payload.Version, nil
	case KindACB:
		_, payload, err := DecodeACB(data)
		if err != nil {
			return 0, err
		}
		return payload.Version, nil
	default:
		return 0, errUnknownKind
	}
}
