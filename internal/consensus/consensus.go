// Package consensus composes the journal, cache, and replication decorators
// into the single storage-facing API the filesystem layer calls: fetch,
// multifetch, store, remove. Each decorator wraps the next and only the
// innermost (replication) layer talks to internal/overlay.
package consensus

import (
	"context"
	stderrors "errors"

	"github.com/silofs/silofs/internal/block"
	"github.com/silofs/silofs/internal/resolver"
)

// Mode mirrors overlay.StoreMode at the consensus API boundary so callers
// don't need to import internal/overlay just to pick a store semantics.
type Mode int

const (
	ModeInsert Mode = iota
	ModeUpdate
	ModeAny
)

// ErrNotFound is returned by Fetch when no replica holds addr.
var ErrNotFound = stderrors.New("consensus: block not found")

// ErrStale is returned by Store when a mutable write loses a version or
// Paxos round race and the caller should re-read and retry.
var ErrStale = stderrors.New("consensus: write superseded by a newer version")

// ErrQuorumUnavailable is returned when fewer than the required number of
// peers answered a request, immutable-write or Paxos round.
var ErrQuorumUnavailable = stderrors.New("consensus: not enough peers responded to reach quorum")

// FetchResult pairs the raw wire bytes of a block with the version
// observed on the replica (if any) returning it, for callers doing
// optimistic local-version checks (multifetch negative caching, OKB/ACB
// read-modify-write loops).
type FetchResult struct {
	Raw     []byte
	Kind    block.Kind
	Version uint32
}

// Consensus is the storage API the filesystem layer is built on. It looks
// like a single-node Silo from the outside; underneath, fetch may consult
// a local cache before going to the network, and store may return before
// replication has finished if the async journal has accepted the write.
type Consensus interface {
	// Fetch returns the current bytes for addr. If localVersion is
	// non-nil, and the layer can confirm (from cache or a peer) that no
	// replica holds anything newer, it may return ErrStale-free nil,
	// meaning "your copy is still current" — callers pass a nil
	// localVersion when they just want the freshest copy outright.
	Fetch(ctx context.Context, addr block.Address, localVersion *uint32) (FetchResult, error)

	// Multifetch batches several addresses in one round, returning a
	// result (or error) per address in the same order as addrs. A
	// missing block is reported as ErrNotFound at that index, not a
	// failure of the whole batch.
	Multifetch(ctx context.Context, addrs []block.Address) ([]FetchResultOrError, error)

	// Store writes raw (the output of block.EncodeCHB/EncodeOKB/EncodeACB)
	// under addr with the given mode. For a mutable address under
	// concurrent edit, r is applied by the replication layer against
	// whatever the quorum currently holds rather than blindly overwriting
	// it — see the resolver package.
	Store(ctx context.Context, addr block.Address, raw []byte, mode Mode, r resolver.Resolver) error

	// Remove deletes addr everywhere it's held. removeSignature
	// authorizes the deletion the same way a write's block signature
	// authorizes a write; it is opaque to this layer.
	Remove(ctx context.Context, addr block.Address, removeSignature []byte) error

	// Close flushes any pending async-journal entries and releases
	// background resources. Callers should call this during an orderly
	// shutdown; an unclean exit relies on journal replay on next start.
	Close() error
}

// FetchResultOrError is one slot of a Multifetch response.
type FetchResultOrError struct {
	Result FetchResult
	Err    error
}
