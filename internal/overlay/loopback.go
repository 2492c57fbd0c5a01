package overlay

import (
	"context"
	"sync"

	"github.com/silofs/silofs/internal/block"
	"github.com/silofs/silofs/internal/silo"
)

// LoopbackPeer is an in-process PeerHandle backed by a Silo, for running
// the full consensus stack without any real network — tests, and
// single-replica deployments where the overlay degenerates to "myself".
type LoopbackPeer struct {
	id   string
	silo silo.Silo

	mu         sync.Mutex
	paxosState map[string]*paxosSlot
}

type paxosSlot struct {
	promisedRound uint64
	acceptedRound uint64
	acceptedRaw   []byte
}

// NewLoopbackPeer wraps s as a peer named id.
func NewLoopbackPeer(id string, s silo.Silo) *LoopbackPeer {
	return &LoopbackPeer{id: id, silo: s, paxosState: make(map[string]*paxosSlot)}
}

func (p *LoopbackPeer) ID() string { return p.id }

func (p *LoopbackPeer) Fetch(ctx context.Context, addr block.Address) ([]byte, error) {
	raw, err := p.silo.Get(ctx, addr.String())
	if err == silo.ErrMissingKey {
		return nil, ErrPeerMissingBlock
	}
	return raw, err
}

func (p *LoopbackPeer) Store(ctx context.Context, addr block.Address, raw []byte, mode StoreMode) error {
	insert := mode == ModeInsert || mode == ModeAny
	update := mode == ModeUpdate || mode == ModeAny
	_, err := p.silo.Set(ctx, addr.String(), raw, insert, update)
	return err
}

func (p *LoopbackPeer) Remove(ctx context.Context, addr block.Address, removeSignature []byte) error {
	_, err := p.silo.Erase(ctx, addr.String())
	if err == silo.ErrMissingKey {
		return nil
	}
	return err
}

func (p *LoopbackPeer) Prepare(ctx context.Context, addr block.Address, round uint64) (uint64, uint64, []byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	key := addr.String()
	slot, ok := p.paxosState[key]
	if !ok {
		slot = &paxosSlot{}
		p.paxosState[key] = slot
	}
	if round <= slot.promisedRound {
		return slot.promisedRound, slot.acceptedRound, slot.acceptedRaw, ErrRoundTooOld
	}
	slot.promisedRound = round
	return slot.promisedRound, slot.acceptedRound, slot.acceptedRaw, nil
}

func (p *LoopbackPeer) Accept(ctx context.Context, addr block.Address, round uint64, raw []byte) error {
	p.mu.Lock()
	key := addr.String()
	slot, ok := p.paxosState[key]
	if !ok || round < slot.promisedRound {
		p.mu.Unlock()
		return ErrRoundTooOld
	}
	slot.acceptedRound = round
	slot.acceptedRaw = raw
	p.mu.Unlock()

	_, err := p.silo.Set(ctx, key, raw, true, true)
	return err
}
