package consensus

import (
	"bytes"
	"context"
	"crypto/sha256"
	"sync"
	"time"

	"github.com/silofs/silofs/internal/block"
	"github.com/silofs/silofs/internal/circuit"
	"github.com/silofs/silofs/internal/log"
	"github.com/silofs/silofs/internal/metrics"
	"github.com/silofs/silofs/internal/overlay"
	"github.com/silofs/silofs/internal/resolver"
)

// ReplicationConfig tunes the bottom-most consensus layer.
type ReplicationConfig struct {
	// ReplicationFactor is R, the number of peers each block is
	// allocated to.
	ReplicationFactor int
	// EvictionDelay is how long a peer may go unresponsive before
	// ReplicationLayer stops counting it toward quorum on new requests.
	EvictionDelay time.Duration
}

func (c ReplicationConfig) quorum() int {
	return c.ReplicationFactor/2 + 1
}

// ReplicationLayer is the innermost Consensus implementation: it fans
// fetch/store/remove out to the peers internal/overlay allocates for an
// address, requiring a quorum of acks for writes and running a simplified
// Paxos round (Prepare/Accept) for mutable stores that carry a Resolver.
type ReplicationLayer struct {
	ov      overlay.Overlay
	cfg     ReplicationConfig
	metrics *metrics.Collector

	mu        sync.Mutex
	lastSeen  map[string]time.Time // peer ID -> last successful RPC
	nextRound map[string]uint64    // address hex -> next Paxos round to propose
	breakers  map[string]*circuit.CircuitBreaker
}

// NewReplicationLayer builds the base of the consensus decorator chain.
func NewReplicationLayer(ov overlay.Overlay, cfg ReplicationConfig, collector *metrics.Collector) *ReplicationLayer {
	if cfg.ReplicationFactor <= 0 {
		cfg.ReplicationFactor = 1
	}
	return &ReplicationLayer{
		ov:        ov,
		cfg:       cfg,
		metrics:   collector,
		lastSeen:  make(map[string]time.Time),
		nextRound: make(map[string]uint64),
		breakers:  make(map[string]*circuit.CircuitBreaker),
	}
}

// breakerFor returns the per-peer circuit breaker, creating one on first
// use. A peer that keeps failing trips its breaker open, which short-
// circuits further RPCs to it without waiting out a dial/read timeout,
// independent of (but feeding the same quorum math as) preferLive's
// eviction_delay check.
func (r *ReplicationLayer) breakerFor(peerID string) *circuit.CircuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	cb, ok := r.breakers[peerID]
	if !ok {
		cb = circuit.NewCircuitBreaker(peerID, circuit.Config{})
		r.breakers[peerID] = cb
	}
	return cb
}

func (r *ReplicationLayer) markSeen(peerID string) {
	r.mu.Lock()
	r.lastSeen[peerID] = time.Now()
	r.mu.Unlock()
}

func (r *ReplicationLayer) isLive(peerID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	last, ok := r.lastSeen[peerID]
	if !ok {
		return true // never seen yet, give it a chance
	}
	return time.Since(last) < r.cfg.EvictionDelay
}

// preferLive drops peers this layer has marked as past their eviction
// delay, unless doing so would leave fewer than a quorum to try — an
// unreachable-but-required peer is still worth a shot over failing
// outright.
func (r *ReplicationLayer) preferLive(peers []overlay.PeerHandle) []overlay.PeerHandle {
	live := make([]overlay.PeerHandle, 0, len(peers))
	for _, p := range peers {
		if r.isLive(p.ID()) {
			live = append(live, p)
		}
	}
	if len(live) < r.cfg.quorum() {
		return peers
	}
	return live
}

// higherHash reports whether a's full block hash sorts above b's. Used to
// break a version tie between two peers' answers reproducibly: source
// ties in version break by comparing full block hashes, not by which
// reply happened to arrive first.
func higherHash(a, b []byte) bool {
	ha := sha256.Sum256(a)
	hb := sha256.Sum256(b)
	return bytes.Compare(ha[:], hb[:]) > 0
}

func (r *ReplicationLayer) record(op string, start time.Time, size int64, err error) {
	if r.metrics == nil {
		return
	}
	r.metrics.RecordOperation(op, time.Since(start), size, err == nil)
	if err != nil {
		r.metrics.RecordError(op, err)
	}
}

// Fetch queries every allocated peer concurrently and waits until a
// quorum of them have answered and at least one has returned a copy (or
// until all have answered). Of the copies received by then it returns the
// highest version, breaking a version tie by the higher full block hash.
func (r *ReplicationLayer) Fetch(ctx context.Context, addr block.Address, localVersion *uint32) (FetchResult, error) {
	start := time.Now()
	logger := log.WithAddress(log.WithComponent("consensus.replication"), addr.String())

	peers, err := r.ov.Allocate(ctx, addr, r.cfg.ReplicationFactor)
	if err != nil {
		r.record("fetch", start, 0, err)
		return FetchResult{}, err
	}
	peers = r.preferLive(peers)

	type answer struct {
		raw     []byte
		kind    block.Kind
		version uint32
		err     error
		peerID  string
	}
	results := make(chan answer, len(peers))
	for _, p := range peers {
		p := p
		go func() {
			var raw []byte
			err := r.breakerFor(p.ID()).Execute(func() error {
				var ferr error
				raw, ferr = p.Fetch(ctx, addr)
				return ferr
			})
			if err != nil {
				results <- answer{err: err, peerID: p.ID()}
				return
			}
			kind, _, herr := block.PeekHeader(raw)
			if herr != nil {
				results <- answer{err: herr, peerID: p.ID()}
				return
			}
			version, verr := block.PeekVersion(raw)
			if verr != nil {
				results <- answer{err: verr, peerID: p.ID()}
				return
			}
			results <- answer{raw: raw, kind: kind, version: version, peerID: p.ID()}
		}()
	}

	var best *answer
	responded := 0
	for i := 0; i < len(peers); i++ {
		a := <-results
		responded++
		if a.err == nil {
			r.markSeen(a.peerID)
			if best == nil || a.version > best.version || (a.version == best.version && higherHash(a.raw, best.raw)) {
				aCopy := a
				best = &aCopy
			}
		}
		if best != nil && responded >= r.cfg.quorum() {
			break
		}
	}

	if best == nil {
		logger.Debug().Int("peers_tried", responded).Msg("fetch found no copy")
		r.record("fetch", start, 0, ErrNotFound)
		return FetchResult{}, ErrNotFound
	}
	if localVersion != nil && best.kind != block.KindCHB && *localVersion >= best.version {
		r.record("fetch", start, int64(len(best.raw)), nil)
		return FetchResult{}, nil
	}
	r.record("fetch", start, int64(len(best.raw)), nil)
	return FetchResult{Raw: best.raw, Kind: best.kind, Version: best.version}, nil
}

// Multifetch runs Fetch per address concurrently; a missing address does
// not fail the batch.
func (r *ReplicationLayer) Multifetch(ctx context.Context, addrs []block.Address) ([]FetchResultOrError, error) {
	out := make([]FetchResultOrError, len(addrs))
	var wg sync.WaitGroup
	for i, addr := range addrs {
		i, addr := i, addr
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := r.Fetch(ctx, addr, nil)
			out[i] = FetchResultOrError{Result: res, Err: err}
		}()
	}
	wg.Wait()
	return out, nil
}

// Store writes raw to addr's allocated peers. Immutable (CHB) addresses
// and mutable stores with no Resolver are a plain quorum write of raw as
// given. A mutable store carrying a Resolver runs a Paxos round: propose
// a round number higher than any this layer has already tried for addr,
// collect the quorum's highest already-accepted value, return ErrStale if
// that value differs from raw, and otherwise accept raw.
func (r *ReplicationLayer) Store(ctx context.Context, addr block.Address, raw []byte, mode Mode, res resolver.Resolver) error {
	start := time.Now()
	peers, err := r.ov.Allocate(ctx, addr, r.cfg.ReplicationFactor)
	if err != nil {
		r.record("store", start, 0, err)
		return err
	}
	peers = r.preferLive(peers)

	if !addr.Mutable() || res == nil {
		err := r.plainQuorumStore(ctx, peers, addr, raw, mode)
		r.record("store", start, int64(len(raw)), err)
		return err
	}

	err = r.paxosStore(ctx, peers, addr, raw, res)
	r.record("store", start, int64(len(raw)), err)
	return err
}

func (r *ReplicationLayer) plainQuorumStore(ctx context.Context, peers []overlay.PeerHandle, addr block.Address, raw []byte, mode Mode) error {
	wireMode := overlay.StoreMode(mode)
	acks := make(chan error, len(peers))
	for _, p := range peers {
		p := p
		go func() {
			acks <- r.breakerFor(p.ID()).Execute(func() error {
				return p.Store(ctx, addr, raw, wireMode)
			})
		}()
	}
	ok := 0
	var lastErr error
	for i := 0; i < len(peers); i++ {
		if err := <-acks; err == nil {
			ok++
		} else {
			lastErr = err
		}
	}
	if ok < r.cfg.quorum() {
		if lastErr != nil {
			return lastErr
		}
		return ErrQuorumUnavailable
	}
	return nil
}

// paxosStore runs a single Paxos round to install raw at addr. res is
// accepted for API symmetry with Store/AsyncJournal (which uses its
// Squashable method to merge same-process queued edits before they ever
// reach this layer) but its Resolve method is deliberately never called
// here: raw is opaque, signed, and — for an ACB — still-encrypted wire
// bytes, and this layer holds no key to decrypt an ACB's ciphertext or to
// re-sign a payload on the writer's behalf. When this round discovers a
// quorum has already accepted a different value, the honest answer is to
// report the conflict (ErrStale) and let the writer re-fetch the current
// plaintext, replay its edit against it client-side with the same
// Resolver, and resubmit a freshly encrypted and signed block — the only
// place that can legitimately happen.
func (r *ReplicationLayer) paxosStore(ctx context.Context, peers []overlay.PeerHandle, addr block.Address, raw []byte, res resolver.Resolver) error {
	_ = res
	round := r.reserveRound(addr)

	type prep struct {
		promised uint64
		accepted uint64
		raw      []byte
		err      error
	}
	preps := make(chan prep, len(peers))
	for _, p := range peers {
		p := p
		go func() {
			var promised, accepted uint64
			var acceptedRaw []byte
			err := r.breakerFor(p.ID()).Execute(func() error {
				var perr error
				promised, accepted, acceptedRaw, perr = p.Prepare(ctx, addr, round)
				return perr
			})
			preps <- prep{promised, accepted, acceptedRaw, err}
		}()
	}
	ok := 0
	var best *prep
	for i := 0; i < len(peers); i++ {
		pr := <-preps
		if pr.err == nil {
			ok++
			if best == nil || pr.accepted > best.accepted || (pr.accepted == best.accepted && higherOwnerKey(pr.raw, best.raw)) {
				prCopy := pr
				best = &prCopy
			}
		}
	}
	if ok < r.cfg.quorum() {
		return ErrQuorumUnavailable
	}

	if best != nil && best.accepted > 0 && best.raw != nil && !bytes.Equal(best.raw, raw) {
		return ErrStale
	}
	toAccept := raw

	accepts := make(chan error, len(peers))
	for _, p := range peers {
		p := p
		go func() {
			accepts <- r.breakerFor(p.ID()).Execute(func() error {
				return p.Accept(ctx, addr, round, toAccept)
			})
		}()
	}
	accepted := 0
	var lastErr error
	for i := 0; i < len(peers); i++ {
		if err := <-accepts; err == nil {
			accepted++
		} else {
			lastErr = err
		}
	}
	if accepted < r.cfg.quorum() {
		if lastErr != nil {
			return lastErr
		}
		return ErrStale
	}
	return nil
}

// higherOwnerKey breaks a tie between two peers reporting the same
// already-accepted round for a Paxos Prepare by comparing the owner
// public key in each block's header. Every version of one address carries
// the same owner key, so for two blocks of the same address it reports
// false; editor keys are not compared.
func higherOwnerKey(a, b []byte) bool {
	if len(a) == 0 || len(b) == 0 {
		return false
	}
	ka, err := block.PeekOwnerKey(a)
	if err != nil {
		return false
	}
	kb, err := block.PeekOwnerKey(b)
	if err != nil {
		return false
	}
	return bytes.Compare(ka, kb) > 0
}

func (r *ReplicationLayer) reserveRound(addr block.Address) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := addr.String()
	next := r.nextRound[key] + 1
	r.nextRound[key] = next
	return next
}

// Remove deletes addr from every allocated peer, tolerating peers that
// already lack a copy.
func (r *ReplicationLayer) Remove(ctx context.Context, addr block.Address, removeSignature []byte) error {
	start := time.Now()
	peers, err := r.ov.Allocate(ctx, addr, r.cfg.ReplicationFactor)
	if err != nil {
		r.record("remove", start, 0, err)
		return err
	}
	acks := make(chan error, len(peers))
	for _, p := range peers {
		p := p
		go func() {
			acks <- r.breakerFor(p.ID()).Execute(func() error {
				return p.Remove(ctx, addr, removeSignature)
			})
		}()
	}
	ok := 0
	var lastErr error
	for i := 0; i < len(peers); i++ {
		if err := <-acks; err == nil {
			ok++
		} else {
			lastErr = err
		}
	}
	if ok < r.cfg.quorum() {
		if lastErr != nil {
			r.record("remove", start, 0, lastErr)
			return lastErr
		}
		r.record("remove", start, 0, ErrQuorumUnavailable)
		return ErrQuorumUnavailable
	}
	r.record("remove", start, 0, nil)
	return nil
}

// Close is a no-op at the replication layer; there is no background
// state to flush.
func (r *ReplicationLayer) Close() error { return nil }
