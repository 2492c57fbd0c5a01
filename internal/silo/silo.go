// Package silo implements the flat byte-keyed blob store that backs every
// other layer of silofs: an address maps to opaque bytes, with no knowledge
// of block kinds, signatures, or ACLs. Concrete backends (memory, local
// filesystem, S3) all satisfy the same Silo interface.
package silo

import (
	"context"
	stderrors "errors"

	siloerrors "github.com/silofs/silofs/pkg/errors"
)

// ErrCollision is returned by Set when insert=true but the key already
// exists.
var ErrCollision = stderrors.New("silo: key already exists")

// ErrMissingKey is returned by Get, Erase, and update-only Set when the key
// does not exist.
var ErrMissingKey = stderrors.New("silo: key does not exist")

// Status describes what a silo knows about a key without fetching it.
type Status int

const (
	// StatusUnknown means the silo cannot determine presence cheaply
	// (e.g. a remote backend that is temporarily unreachable).
	StatusUnknown Status = iota
	StatusExists
	StatusMissing
)

func (s Status) String() string {
	switch s {
	case StatusExists:
		return "exists"
	case StatusMissing:
		return "missing"
	default:
		return "unknown"
	}
}

// Silo is a flat byte-keyed blob store. Keys are hex-encoded 32-byte block
// addresses; values are opaque bytes. Implementations must be safe for
// concurrent callers.
type Silo interface {
	// Get retrieves the bytes stored under key, or ErrMissingKey.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores data under key according to insert/update:
	//   insert=true,  update=false -> create-only,  fails ErrCollision if present
	//   insert=false, update=true  -> update-only,   fails ErrMissingKey if absent
	//   insert=true,  update=true  -> upsert
	// It returns the signed delta in stored size (positive on growth,
	// negative on shrink, zero on no-op sized rewrites).
	Set(ctx context.Context, key string, data []byte, insert, update bool) (int64, error)

	// Erase removes key, returning the negative size delta, or
	// ErrMissingKey if absent.
	Erase(ctx context.Context, key string) (int64, error)

	// List returns every key currently stored. Backends with very large
	// key spaces may page internally but must return the complete set.
	List(ctx context.Context) ([]string, error)

	// Status reports presence without necessarily transferring bytes.
	Status(ctx context.Context, key string) Status

	// Capacity reports total and used bytes, or ok=false when the
	// backend cannot report capacity (e.g. S3).
	Capacity(ctx context.Context) (total, used int64, ok bool)
}

func errInvalidSetFlags() error {
	return siloerrors.New(siloerrors.ErrCodeInvalidArgument, "insert and update cannot both be false").
		WithComponent("silo")
}
