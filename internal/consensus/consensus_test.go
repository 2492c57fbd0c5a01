package consensus

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/silofs/silofs/internal/block"
	"github.com/silofs/silofs/internal/fsdata"
	"github.com/silofs/silofs/internal/overlay"
	"github.com/silofs/silofs/internal/resolver"
	"github.com/silofs/silofs/internal/silo"
	"github.com/silofs/silofs/pkg/crypto"
)

func threePeerOverlay() overlay.Overlay {
	return overlay.NewStaticOverlay(
		overlay.NewLoopbackPeer("p0", silo.NewMemSilo()),
		overlay.NewLoopbackPeer("p1", silo.NewMemSilo()),
		overlay.NewLoopbackPeer("p2", silo.NewMemSilo()),
	)
}

func mustKeyPair(t *testing.T) crypto.KeyPair {
	t.Helper()
	kp, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	return kp
}

func mustSalt(t *testing.T) [32]byte {
	t.Helper()
	salt, err := crypto.NewSalt()
	require.NoError(t, err)
	return salt
}

// encodedCHB builds a standalone, well-formed CHB wire blob. Nothing on
// the consensus path checks the signature, so an arbitrary byte string
// stands in for one here.
func encodedCHB(t *testing.T, data []byte) (block.Address, []byte) {
	t.Helper()
	kp := mustKeyPair(t)
	salt := mustSalt(t)
	addr := block.DeriveCHBAddress(data, kp.Public, salt)
	raw, err := block.EncodeCHB(addr, kp.Public, salt, block.CHBPayload{Ciphertext: data}, []byte("sig"))
	require.NoError(t, err)
	return addr, raw
}

// encodedOKB builds a standalone, well-formed mutable OKB wire blob at
// the given version.
func encodedOKB(t *testing.T, version uint32, data []byte) (block.Address, crypto.KeyPair, [32]byte, []byte) {
	t.Helper()
	kp := mustKeyPair(t)
	salt := mustSalt(t)
	addr := block.DeriveMutableAddress(kp.Public, salt, false)
	raw, err := block.EncodeOKB(addr, kp.Public, salt, block.OKBPayload{Version: version, Data: data}, []byte("sig"))
	require.NoError(t, err)
	return addr, kp, salt, raw
}

func TestReplicationLayerStoreAndFetchImmutable(t *testing.T) {
	ctx := context.Background()
	r := NewReplicationLayer(threePeerOverlay(), ReplicationConfig{ReplicationFactor: 3, EvictionDelay: time.Minute}, nil)

	addr, raw := encodedCHB(t, []byte("some content"))
	require.NoError(t, r.Store(ctx, addr, raw, ModeInsert, nil))

	res, err := r.Fetch(ctx, addr, nil)
	require.NoError(t, err)
	require.Equal(t, raw, res.Raw)
	require.Equal(t, block.KindCHB, res.Kind)
}

func TestReplicationLayerFetchMissingIsNotFound(t *testing.T) {
	ctx := context.Background()
	r := NewReplicationLayer(threePeerOverlay(), ReplicationConfig{ReplicationFactor: 3, EvictionDelay: time.Minute}, nil)

	addr, _ := encodedCHB(t, []byte("never stored"))
	_, err := r.Fetch(ctx, addr, nil)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestCacheLayerServesFromCacheAndTracksNegatives(t *testing.T) {
	ctx := context.Background()
	r := NewReplicationLayer(threePeerOverlay(), ReplicationConfig{ReplicationFactor: 3, EvictionDelay: time.Minute}, nil)
	cached := NewCacheLayer(r, CacheConfig{MaxSize: 1 << 20, MaxEntries: 100, TTL: time.Minute, NegativeTTL: time.Minute})
	defer cached.Close()

	addr, raw := encodedCHB(t, []byte("payload"))

	_, err := cached.Fetch(ctx, addr, nil)
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, r.Store(ctx, addr, raw, ModeInsert, nil))

	// Cache still remembers "absent" from the prior miss until it
	// expires or is explicitly invalidated by a Store through the cache
	// itself, not a write that bypassed it.
	_, err = cached.Fetch(ctx, addr, nil)
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, cached.Store(ctx, addr, raw, ModeInsert, nil))
	res, err := cached.Fetch(ctx, addr, nil)
	require.NoError(t, err)
	require.Equal(t, raw, res.Raw)
}

func TestAsyncJournalStoreIsAsyncAndDrains(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	r := NewReplicationLayer(threePeerOverlay(), ReplicationConfig{ReplicationFactor: 3, EvictionDelay: time.Minute}, nil)
	cached := NewCacheLayer(r, CacheConfig{MaxSize: 1 << 20, MaxEntries: 100})
	journal, err := NewAsyncJournal(cached, dir)
	require.NoError(t, err)

	addr, raw := encodedCHB(t, []byte("journaled payload"))
	require.NoError(t, journal.Store(ctx, addr, raw, ModeInsert, nil))
	require.NoError(t, journal.Close())

	res, err := cached.Fetch(ctx, addr, nil)
	require.NoError(t, err)
	require.Equal(t, raw, res.Raw)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Empty(t, entries, "journal should unspill once the write lands")
}

func TestAsyncJournalSquashesSequentialDirectoryEdits(t *testing.T) {
	ctx := context.Background()
	addr, _, _, raw := encodedOKB(t, 1, fsdata.EncodeDirectory(&fsdata.Directory{}))

	r := NewReplicationLayer(threePeerOverlay(), ReplicationConfig{ReplicationFactor: 3, EvictionDelay: time.Minute}, nil)
	// Seed the mutable address so the Paxos round has something to
	// operate against.
	require.NoError(t, r.Store(ctx, addr, raw, ModeInsert, nil))

	cached := NewCacheLayer(r, CacheConfig{})
	journal, err := NewAsyncJournal(cached, "")
	require.NoError(t, err)

	first := &resolver.DirectoryEdit{Op: resolver.OpInsert, TargetName: "a", TargetType: fsdata.EntryTypeFile, TargetAddr: addr}
	second := &resolver.DirectoryEdit{Op: resolver.OpRemove, TargetName: "a", TargetType: fsdata.EntryTypeFile, TargetAddr: addr}

	require.NoError(t, journal.Store(ctx, addr, raw, ModeUpdate, first))
	require.NoError(t, journal.Store(ctx, addr, raw, ModeUpdate, second))

	journal.mu.Lock()
	queued := len(journal.order)
	journal.mu.Unlock()
	require.Equal(t, 1, queued, "sequential edits to the same directory entry should squash into one pending entry")

	require.NoError(t, journal.Close())
}
