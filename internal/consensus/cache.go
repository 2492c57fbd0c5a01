package consensus

import (
	"container/list"
	"context"
	stderrors "errors"
	"sync"
	"time"

	"github.com/silofs/silofs/internal/block"
	"github.com/silofs/silofs/internal/resolver"
)

// CacheConfig tunes the LRU layer. Sizing and eviction mirror a
// weighted-LRU byte-and-entry cache: evict on whichever of MaxSize or
// MaxEntries is hit first, with a background sweep for TTL expiry.
type CacheConfig struct {
	MaxSize         int64
	MaxEntries      int
	TTL             time.Duration
	NegativeTTL     time.Duration // how long a "known absent" entry is trusted
	CleanupInterval time.Duration
}

type cacheItem struct {
	key         string
	raw         []byte
	kind        block.Kind
	version     uint32
	negative    bool
	size        int64
	storedAt    time.Time
	accessTime  time.Time
	accessCount int64
	element     *list.Element
}

// CacheLayer sits between the journal and the replication layer, serving
// fetches from a bounded, TTL-expiring LRU before going to the network,
// and remembering "this address does not exist" so repeated misses (a
// common pattern when a directory probes for an optional file) don't
// each cost a quorum round.
type CacheLayer struct {
	next Consensus
	cfg  CacheConfig

	mu          sync.Mutex
	items       map[string]*cacheItem
	evictList   *list.List
	currentSize int64

	stopCleanup chan struct{}
}

// NewCacheLayer wraps next with an LRU cache.
func NewCacheLayer(next Consensus, cfg CacheConfig) *CacheLayer {
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = time.Minute
	}
	c := &CacheLayer{
		next:        next,
		cfg:         cfg,
		items:       make(map[string]*cacheItem),
		evictList:   list.New(),
		stopCleanup: make(chan struct{}),
	}
	go c.cleanupExpired()
	return c
}

func (c *CacheLayer) ttlFor(item *cacheItem) time.Duration {
	if item.negative {
		return c.cfg.NegativeTTL
	}
	return c.cfg.TTL
}

func (c *CacheLayer) isExpired(item *cacheItem) bool {
	ttl := c.ttlFor(item)
	if ttl == 0 {
		return false
	}
	return time.Since(item.storedAt) > ttl
}

func (c *CacheLayer) touch(item *cacheItem) {
	item.accessTime = time.Now()
	item.accessCount++
	c.evictList.MoveToFront(item.element)
}

func (c *CacheLayer) removeLocked(key string) {
	item, ok := c.items[key]
	if !ok {
		return
	}
	c.evictList.Remove(item.element)
	delete(c.items, key)
	c.currentSize -= item.size
}

func (c *CacheLayer) putLocked(item *cacheItem) {
	if existing, ok := c.items[item.key]; ok {
		c.evictList.Remove(existing.element)
		c.currentSize -= existing.size
	}
	item.element = c.evictList.PushFront(item.key)
	c.items[item.key] = item
	c.currentSize += item.size
	c.evictIfNeededLocked()
}

func (c *CacheLayer) evictIfNeededLocked() {
	for c.cfg.MaxSize > 0 && c.currentSize > c.cfg.MaxSize && c.evictList.Len() > 0 {
		c.evictOldestLocked()
	}
	for c.cfg.MaxEntries > 0 && len(c.items) > c.cfg.MaxEntries && c.evictList.Len() > 0 {
		c.evictOldestLocked()
	}
}

func (c *CacheLayer) evictOldestLocked() {
	elem := c.evictList.Back()
	if elem == nil {
		return
	}
	c.removeLocked(elem.Value.(string))
}

func (c *CacheLayer) cleanupExpired() {
	ticker := time.NewTicker(c.cfg.CleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.stopCleanup:
			return
		case <-ticker.C:
			c.mu.Lock()
			var expired []string
			for key, item := range c.items {
				if c.isExpired(item) {
					expired = append(expired, key)
				}
			}
			for _, key := range expired {
				c.removeLocked(key)
			}
			c.mu.Unlock()
		}
	}
}

// Fetch serves from cache when a fresh, non-expired entry is present;
// otherwise it delegates to next and populates the cache with the result,
// including a negative entry when next reports ErrNotFound.
func (c *CacheLayer) Fetch(ctx context.Context, addr block.Address, localVersion *uint32) (FetchResult, error) {
	key := addr.String()

	c.mu.Lock()
	item, ok := c.items[key]
	if ok && !c.isExpired(item) {
		c.touch(item)
		negative := item.negative
		raw, kind, version := item.raw, item.kind, item.version
		c.mu.Unlock()
		if negative {
			return FetchResult{}, ErrNotFound
		}
		if localVersion != nil && kind != block.KindCHB && *localVersion >= version {
			return FetchResult{}, nil
		}
		return FetchResult{Raw: raw, Kind: kind, Version: version}, nil
	}
	c.mu.Unlock()

	res, err := c.next.Fetch(ctx, addr, localVersion)
	switch {
	case stderrors.Is(err, ErrNotFound):
		c.mu.Lock()
		c.putLocked(&cacheItem{key: key, negative: true, size: 0, storedAt: time.Now(), accessTime: time.Now()})
		c.mu.Unlock()
		return res, err
	case err != nil:
		return res, err
	case res.Raw == nil:
		// caller's local copy confirmed current; nothing to cache.
		return res, nil
	default:
		c.mu.Lock()
		c.putLocked(&cacheItem{
			key: key, raw: res.Raw, kind: res.Kind, version: res.Version,
			size: int64(len(res.Raw)), storedAt: time.Now(), accessTime: time.Now(), accessCount: 1,
		})
		c.mu.Unlock()
		return res, nil
	}
}

// Multifetch fetches each address through Fetch so cache hits and misses
// are handled uniformly; it does not attempt to batch the underlying
// misses into a single next.Multifetch call, trading a little round-trip
// efficiency for simplicity at this layer.
func (c *CacheLayer) Multifetch(ctx context.Context, addrs []block.Address) ([]FetchResultOrError, error) {
	out := make([]FetchResultOrError, len(addrs))
	var wg sync.WaitGroup
	for i, addr := range addrs {
		i, addr := i, addr
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := c.Fetch(ctx, addr, nil)
			out[i] = FetchResultOrError{Result: res, Err: err}
		}()
	}
	wg.Wait()
	return out, nil
}

// Store invalidates any cached entry for addr before delegating, so a
// stale cached copy can never outlive a write this process issued.
func (c *CacheLayer) Store(ctx context.Context, addr block.Address, raw []byte, mode Mode, r resolver.Resolver) error {
	key := addr.String()
	c.mu.Lock()
	c.removeLocked(key)
	c.mu.Unlock()

	err := c.next.Store(ctx, addr, raw, mode, r)
	if err != nil {
		return err
	}

	if r == nil {
		kind, _, herr := block.PeekHeader(raw)
		if herr == nil {
			version, _ := block.PeekVersion(raw)
			c.mu.Lock()
			c.putLocked(&cacheItem{
				key: key, raw: raw, kind: kind, version: version,
				size: int64(len(raw)), storedAt: time.Now(), accessTime: time.Now(), accessCount: 1,
			})
			c.mu.Unlock()
		}
	}
	return nil
}

// Remove invalidates the cache entry and replaces it with a negative
// entry, then delegates to next.
func (c *CacheLayer) Remove(ctx context.Context, addr block.Address, removeSignature []byte) error {
	key := addr.String()
	err := c.next.Remove(ctx, addr, removeSignature)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.putLocked(&cacheItem{key: key, negative: true, size: 0, storedAt: time.Now(), accessTime: time.Now()})
	c.mu.Unlock()
	return nil
}

// Close stops the cleanup goroutine and closes next.
func (c *CacheLayer) Close() error {
	close(c.stopCleanup)
	return c.next.Close()
}
