// Package filesystem implements the POSIX-like directory and file
// abstractions backed by the block/consensus stack: directories are ACBs
// whose payload is a fsdata.Directory (name -> address entries), files are
// ACBs whose payload is a fsdata.File (inline prefix plus a FAT of
// content-addressed, per-chunk-encrypted blocks). Every mutation goes
// through internal/consensus with a resolver describing the edit, so
// concurrent writers converge instead of clobbering one another.
package filesystem

import (
	"context"
	"path"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/silofs/silofs/internal/block"
	"github.com/silofs/silofs/internal/consensus"
	"github.com/silofs/silofs/internal/fsdata"
	"github.com/silofs/silofs/internal/log"
	"github.com/silofs/silofs/internal/metrics"
	"github.com/silofs/silofs/internal/resolver"
	"github.com/silofs/silofs/pkg/crypto"
)

// Config tunes the layout rules and background task budgets for a
// Filesystem. Zero-valued fields fall back to the silofs on-disk defaults.
type Config struct {
	// MaxEmbedSize is the largest a file may be and still live entirely
	// in inline_data. Default 8192.
	MaxEmbedSize uint64
	// FirstBlockDataSize, once a file overflows MaxEmbedSize, is the
	// fixed inline prefix kept in the first block; the rest chunks into
	// the FAT. Default 0, meaning no inline prefix survives overflow.
	FirstBlockDataSize uint64
	// BlockSize is the target chunk size for FAT entries. Default 1 MiB.
	BlockSize uint32
	// PrefetchDepth/PrefetchFanout are stored but not read: Directory.List
	// does no background prefetching of child blocks at any value.
	PrefetchDepth  int
	PrefetchFanout int
	// CacheRAMSize/CacheRAMTTL bound the shared Directory/FileBuffer
	// cache OpenDirectory/OpenFile consult before allocating, the same
	// knobs consensus.CacheConfig uses to bound the block cache.
	CacheRAMSize int64
	CacheRAMTTL  time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxEmbedSize == 0 {
		c.MaxEmbedSize = 8192
	}
	if c.BlockSize == 0 {
		c.BlockSize = 1 << 20
	}
	if c.CacheRAMSize == 0 {
		c.CacheRAMSize = 64 << 20
	}
	if c.CacheRAMTTL == 0 {
		c.CacheRAMTTL = 5 * time.Minute
	}
	return c
}

// Filesystem is the root of the directory/file/handle object graph. It
// holds the local write identity (the owner or editor key used to sign
// blocks this process creates) and the consensus stack every operation
// reads and writes through.
type Filesystem struct {
	cs       consensus.Consensus
	identity crypto.KeyPair
	// sealingSecret stands in for the out-of-band secret a real deployment
	// negotiates via the passport/credential exchange (out of scope for
	// this core); see DESIGN.md for the simplification this represents.
	sealingSecret []byte
	cfg           Config
	metrics       *metrics.Collector
	// cache is the shared, LRU-evicted Directory/FileBuffer cache
	// OpenDirectory/OpenFile consult before allocating a fresh handle;
	// see cache.go.
	cache *objectCache
}

// New builds a Filesystem driven by cs, signing as identity.
func New(cs consensus.Consensus, identity crypto.KeyPair, sealingSecret []byte, cfg Config, collector *metrics.Collector) *Filesystem {
	cfg = cfg.withDefaults()
	return &Filesystem{
		cs:            cs,
		identity:      identity,
		sealingSecret: sealingSecret,
		cfg:           cfg,
		metrics:       collector,
		cache:         newObjectCache(objectCacheConfig{MaxSize: cfg.CacheRAMSize, TTL: cfg.CacheRAMTTL}),
	}
}

// Close stops the cache's background cleanup goroutine. It does not touch
// cs, which the caller owns and closes separately.
func (fs *Filesystem) Close() error {
	fs.cache.close()
	return nil
}

// CreateRoot bootstraps a fresh, empty root directory owned by fs's
// identity and returns a handle to it. Callers that already have a root
// address from a prior run should use OpenDirectory instead.
func (fs *Filesystem) CreateRoot(ctx context.Context) (*Directory, error) {
	salt, err := crypto.NewSalt()
	if err != nil {
		return nil, err
	}
	addr := block.DeriveMutableAddress(fs.identity.Public, salt, false)

	aclRef, err := fs.storeEmptyACL(ctx)
	if err != nil {
		return nil, err
	}

	dir := &fsdata.Directory{}
	raw, err := fs.encodeOwnerACB(addr, salt, 1, aclRef, fsdata.EncodeDirectory(dir))
	if err != nil {
		return nil, err
	}
	if err := fs.cs.Store(ctx, addr, raw, consensus.ModeInsert, nil); err != nil {
		return nil, err
	}
	root := &Directory{fs: fs, addr: addr, salt: salt, aclRef: aclRef, version: 1, data: dir}
	fs.cache.put(addr.String(), root, int64(len(fsdata.EncodeDirectory(dir))))
	return root, nil
}

// OpenDirectory returns the cached handle for addr if one is resident,
// so concurrent callers share a single view and see each other's commits;
// otherwise it loads the directory payload and caches the result.
func (fs *Filesystem) OpenDirectory(ctx context.Context, addr block.Address) (*Directory, error) {
	key := addr.String()
	if v, ok := fs.cache.get(key); ok {
		if dir, ok := v.(*Directory); ok {
			return dir, nil
		}
	}

	b, payload, err := fs.fetchACB(ctx, addr, nil)
	if err != nil {
		return nil, err
	}
	plaintext, err := fs.openACB(payload)
	if err != nil {
		return nil, err
	}
	dir, err := fsdata.DecodeDirectory(plaintext)
	if err != nil {
		return nil, ErrIO("open", addr.String(), err)
	}
	handle := &Directory{fs: fs, addr: addr, salt: b.Salt, aclRef: payload.ACLRef, version: payload.Version, data: dir}
	fs.cache.put(key, handle, int64(len(plaintext)))
	return handle, nil
}

// OpenFile returns the cached handle for addr if one is resident,
// otherwise it loads the file payload and caches the result.
func (fs *Filesystem) OpenFile(ctx context.Context, addr block.Address) (*FileBuffer, error) {
	key := addr.String()
	if v, ok := fs.cache.get(key); ok {
		if fb, ok := v.(*FileBuffer); ok {
			return fb, nil
		}
	}

	b, payload, err := fs.fetchACB(ctx, addr, nil)
	if err != nil {
		return nil, err
	}
	plaintext, err := fs.openACB(payload)
	if err != nil {
		return nil, err
	}
	f, err := fsdata.DecodeFile(plaintext)
	if err != nil {
		return nil, ErrIO("open", addr.String(), err)
	}
	fb := newFileBuffer(fs, addr, b.Salt, payload.ACLRef, payload.Version, f)
	fs.cache.put(key, fb, int64(len(plaintext)))
	return fb, nil
}

func (fs *Filesystem) fetchACB(ctx context.Context, addr block.Address, localVersion *uint32) (block.Block, block.ACBPayload, error) {
	res, err := fs.cs.Fetch(ctx, addr, localVersion)
	if err != nil {
		if err == consensus.ErrNotFound {
			return block.Block{}, block.ACBPayload{}, ErrNotExist("fetch", addr.String())
		}
		return block.Block{}, block.ACBPayload{}, ErrIO("fetch", addr.String(), err)
	}
	b, payload, err := block.DecodeACB(res.Raw)
	if err != nil {
		return block.Block{}, block.ACBPayload{}, ErrIO("fetch", addr.String(), err)
	}
	return b, payload, nil
}

// maxCommitRetries bounds the client-side optimistic-concurrency loop
// applyEdit runs against a genuinely conflicting concurrent writer, so a
// pathological hot-spot (many writers hammering one directory) fails loudly
// instead of retrying forever.
const maxCommitRetries = 8

// applyEdit runs res against the currently-stored plaintext of an ACB,
// submits a freshly encrypted and signed block at the next version, and —
// on consensus.ErrStale, meaning a quorum already accepted someone else's
// write first — re-fetches the new current plaintext, replays res against
// it, and resubmits. This is the client-side half of conflict resolution
// that the replication layer itself cannot do for an encrypted payload; see
// the comment on ReplicationLayer.paxosStore.
func (fs *Filesystem) applyEdit(ctx context.Context, addr block.Address, salt [32]byte, aclRef block.Address, version uint32, currentPlaintext []byte, res resolver.Resolver, path string) (uint32, []byte, error) {
	nextPlaintext, err := res.Resolve(currentPlaintext, currentPlaintext)
	if err != nil {
		return 0, nil, ErrIO(path, path, err)
	}

	for attempt := 0; attempt < maxCommitRetries; attempt++ {
		raw, err := fs.encodeOwnerACB(addr, salt, version+1, aclRef, nextPlaintext)
		if err != nil {
			return 0, nil, ErrIO(path, path, err)
		}
		err = fs.cs.Store(ctx, addr, raw, consensus.ModeUpdate, res)
		if err == nil {
			return version + 1, nextPlaintext, nil
		}
		if err != consensus.ErrStale {
			return 0, nil, ErrIO(path, path, err)
		}

		_, payload, ferr := fs.fetchACB(ctx, addr, nil)
		if ferr != nil {
			return 0, nil, ferr
		}
		curPlain, operr := fs.openACB(payload)
		if operr != nil {
			return 0, nil, ErrIO(path, path, operr)
		}
		nextPlaintext, err = res.Resolve(currentPlaintext, curPlain)
		if err != nil {
			return 0, nil, ErrIO(path, path, err)
		}
		currentPlaintext = curPlain
		version = payload.Version
	}
	return 0, nil, ErrIO(path, path, consensus.ErrStale)
}

// splitPath breaks a slash-separated path into its component names,
// dropping empty segments produced by a leading/trailing/doubled slash.
func splitPath(p string) []string {
	clean := path.Clean("/" + p)
	if clean == "/" {
		return nil
	}
	parts := strings.Split(strings.TrimPrefix(clean, "/"), "/")
	return parts
}

func (fs *Filesystem) logger(op string) zerolog.Logger {
	return log.WithComponent("filesystem." + op)
}
