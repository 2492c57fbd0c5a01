package overlay

import (
	"context"

	"github.com/silofs/silofs/internal/block"
)

// StaticOverlay allocates from a fixed, ordered peer list using a simple
// address-derived rotation so the same address maps to the same starting
// peer across calls, and wraps around to additional peers to fill out a
// replication factor greater than one.
type StaticOverlay struct {
	peers []PeerHandle
}

// NewStaticOverlay builds an overlay over a fixed peer set.
func NewStaticOverlay(peers ...PeerHandle) *StaticOverlay {
	return &StaticOverlay{peers: peers}
}

func (o *StaticOverlay) Allocate(ctx context.Context, addr block.Address, n int) ([]PeerHandle, error) {
	if len(o.peers) == 0 {
		return nil, nil
	}
	if n > len(o.peers) {
		n = len(o.peers)
	}
	start := addressStartIndex(addr, len(o.peers))
	out := make([]PeerHandle, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, o.peers[(start+i)%len(o.peers)])
	}
	return out, nil
}

func (o *StaticOverlay) Peers(ctx context.Context) []PeerHandle {
	out := make([]PeerHandle, len(o.peers))
	copy(out, o.peers)
	return out
}

func addressStartIndex(addr block.Address, mod int) int {
	b := addr.Bytes()
	var acc uint32
	for _, by := range b {
		acc = acc*31 + uint32(by)
	}
	return int(acc) % mod
}
