// Package overlay defines the peer-allocation and peer-RPC contract between
// the consensus stack and the rest of the network. The actual peer-lookup
// algorithm (Kademlia/Kelips) and wire transport are out of scope for this
// core — this package only fixes the interface the consensus layer calls
// through, plus a StaticOverlay/LoopbackPeer pair good enough to run the
// whole stack single-process for tests and small deployments.
package overlay

import (
	"context"
	stderrors "errors"

	"github.com/silofs/silofs/internal/block"
)

// StoreMode mirrors the consensus layer's store semantics across the wire.
type StoreMode int

const (
	ModeInsert StoreMode = iota
	ModeUpdate
	ModeAny
)

// ErrPeerMissingBlock is returned by Fetch when the peer has no copy of
// the requested address.
var ErrPeerMissingBlock = stderrors.New("overlay: peer has no copy of this block")

// ErrRoundTooOld is returned by Prepare/Accept when round has already been
// superseded by a higher-numbered proposal this peer promised to.
var ErrRoundTooOld = stderrors.New("overlay: paxos round superseded")

// Overlay resolves a block address to a set of peers responsible for it.
type Overlay interface {
	// Allocate returns n peer handles for addr. For a given addr the
	// same overlay instance should return a stable-ish set across
	// calls, modulo membership churn, so replicas agree on who holds
	// what.
	Allocate(ctx context.Context, addr block.Address, n int) ([]PeerHandle, error)

	// Peers returns every peer currently known to the overlay. The
	// adapter uses it to register one health check per peer; nothing
	// scans peers for under-replicated blocks.
	Peers(ctx context.Context) []PeerHandle
}

// PeerHandle is the RPC surface the consensus layer speaks to a single
// replica. Every call carries its own deadline via ctx; on expiry the
// consensus layer is expected to rotate to another replica rather than
// retry this one. Blocks cross this boundary as their self-verifying wire
// encoding (the output of block.EncodeCHB/EncodeOKB/EncodeACB) — the peer
// never needs to understand payload semantics, only store and return bytes
// keyed by address, which is also exactly what a Silo does locally.
type PeerHandle interface {
	ID() string

	Fetch(ctx context.Context, addr block.Address) ([]byte, error)
	Store(ctx context.Context, addr block.Address, raw []byte, mode StoreMode) error
	Remove(ctx context.Context, addr block.Address, removeSignature []byte) error

	// Prepare and Accept are the two phases of a Paxos round for a
	// mutable block: Prepare asks the peer to promise not to accept any
	// proposal with a lower round number than the one offered and
	// report the highest-numbered proposal it has already accepted;
	// Accept asks it to actually adopt raw for the given round.
	Prepare(ctx context.Context, addr block.Address, round uint64) (promisedRound uint64, acceptedRound uint64, acceptedRaw []byte, err error)
	Accept(ctx context.Context, addr block.Address, round uint64, raw []byte) error
}
