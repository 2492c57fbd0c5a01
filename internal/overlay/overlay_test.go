package overlay

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/silofs/silofs/internal/block"
	"github.com/silofs/silofs/internal/silo"
)

func TestLoopbackPeerStoreFetchRemove(t *testing.T) {
	ctx := context.Background()
	peer := NewLoopbackPeer("p0", silo.NewMemSilo())

	addr, err := block.AddressFromHex(strings.Repeat("00", block.AddressSize))
	require.NoError(t, err)

	_, err = peer.Fetch(ctx, addr)
	require.ErrorIs(t, err, ErrPeerMissingBlock)

	raw := []byte("encoded block bytes")
	require.NoError(t, peer.Store(ctx, addr, raw, ModeInsert))

	got, err := peer.Fetch(ctx, addr)
	require.NoError(t, err)
	require.Equal(t, raw, got)

	require.NoError(t, peer.Remove(ctx, addr, nil))
	_, err = peer.Fetch(ctx, addr)
	require.ErrorIs(t, err, ErrPeerMissingBlock)
}

func TestLoopbackPeerPaxosRoundOrdering(t *testing.T) {
	ctx := context.Background()
	peer := NewLoopbackPeer("p0", silo.NewMemSilo())
	addr, err := block.AddressFromHex(strings.Repeat("00", block.AddressSize))
	require.NoError(t, err)

	promised, _, _, err := peer.Prepare(ctx, addr, 2)
	require.NoError(t, err)
	require.Equal(t, uint64(2), promised)

	_, _, _, err = peer.Prepare(ctx, addr, 1)
	require.ErrorIs(t, err, ErrRoundTooOld)

	require.NoError(t, peer.Accept(ctx, addr, 2, []byte("payload")))

	_, acceptedRound, acceptedRaw, err := peer.Prepare(ctx, addr, 3)
	require.NoError(t, err)
	require.Equal(t, uint64(2), acceptedRound)
	require.Equal(t, []byte("payload"), acceptedRaw)
}

func TestStaticOverlayAllocateStableAndBounded(t *testing.T) {
	ctx := context.Background()
	s := silo.NewMemSilo()
	peers := []PeerHandle{
		NewLoopbackPeer("p0", s),
		NewLoopbackPeer("p1", s),
		NewLoopbackPeer("p2", s),
	}
	ov := NewStaticOverlay(peers...)

	addr, err := block.AddressFromHex(strings.Repeat("11", block.AddressSize))
	require.NoError(t, err)

	got1, err := ov.Allocate(ctx, addr, 2)
	require.NoError(t, err)
	require.Len(t, got1, 2)

	got2, err := ov.Allocate(ctx, addr, 2)
	require.NoError(t, err)
	require.Equal(t, got1[0].ID(), got2[0].ID())

	all, err := ov.Allocate(ctx, addr, 10)
	require.NoError(t, err)
	require.Len(t, all, 3)
}
