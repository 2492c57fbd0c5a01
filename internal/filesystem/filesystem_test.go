package filesystem

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/silofs/silofs/internal/consensus"
	"github.com/silofs/silofs/internal/overlay"
	"github.com/silofs/silofs/internal/silo"
	"github.com/silofs/silofs/pkg/crypto"
)

// newTestFilesystem builds a Filesystem over a synchronous three-peer
// in-memory consensus stack: replication + cache, no async journal, so a
// test can observe Store's success/ErrStale result immediately instead of
// racing a background drain goroutine.
func newTestFilesystem(t *testing.T) *Filesystem {
	t.Helper()
	ov := overlay.NewStaticOverlay(
		overlay.NewLoopbackPeer("p0", silo.NewMemSilo()),
		overlay.NewLoopbackPeer("p1", silo.NewMemSilo()),
		overlay.NewLoopbackPeer("p2", silo.NewMemSilo()),
	)
	r := consensus.NewReplicationLayer(ov, consensus.ReplicationConfig{ReplicationFactor: 3, EvictionDelay: time.Minute}, nil)
	cs := consensus.NewCacheLayer(r, consensus.CacheConfig{MaxSize: 1 << 20, MaxEntries: 1000, TTL: time.Minute})

	kp, err := crypto.GenerateKeyPair()
	require.NoError(t, err)

	return New(cs, kp, []byte("test-sealing-secret-0123456789ab"), Config{}, nil)
}

func mustRoot(t *testing.T, fs *Filesystem) *Directory {
	t.Helper()
	root, err := fs.CreateRoot(context.Background())
	require.NoError(t, err)
	return root
}
