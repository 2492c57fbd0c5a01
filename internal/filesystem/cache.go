package filesystem

import (
	"container/list"
	"sync"
	"time"
)

// objectCacheConfig tunes the shared Directory/FileBuffer cache the same
// way consensus.CacheConfig tunes the block cache it sits in front of:
// evict on whichever of MaxSize or MaxEntries is hit first, with a
// background sweep for TTL expiry.
type objectCacheConfig struct {
	MaxSize         int64
	MaxEntries      int
	TTL             time.Duration
	CleanupInterval time.Duration
}

type objectCacheItem struct {
	key      string
	value    interface{}
	size     int64
	storedAt time.Time
	element  *list.Element
}

// objectCache is a shared, address-keyed LRU of live *Directory and
// *FileBuffer handles. Repeated Open calls for the same address return the
// same instance instead of re-fetching and re-decoding the ACB, so two
// callers that both hold a handle to the same directory see each other's
// commits immediately instead of racing two independently-committing
// copies. size is the plaintext length at the time the object was cached,
// an approximation that goes stale as the object is mutated in place —
// good enough for a soft memory bound, not an exact accounting.
type objectCache struct {
	cfg objectCacheConfig

	mu          sync.Mutex
	items       map[string]*objectCacheItem
	evictList   *list.List
	currentSize int64
	stopCleanup chan struct{}
}

func newObjectCache(cfg objectCacheConfig) *objectCache {
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = time.Minute
	}
	c := &objectCache{
		cfg:         cfg,
		items:       make(map[string]*objectCacheItem),
		evictList:   list.New(),
		stopCleanup: make(chan struct{}),
	}
	go c.cleanupExpired()
	return c
}

func (c *objectCache) get(key string) (interface{}, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	item, ok := c.items[key]
	if !ok {
		return nil, false
	}
	if c.isExpired(item) {
		c.removeLocked(key)
		return nil, false
	}
	c.evictList.MoveToFront(item.element)
	return item.value, true
}

func (c *objectCache) put(key string, value interface{}, size int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if existing, ok := c.items[key]; ok {
		c.evictList.Remove(existing.element)
		c.currentSize -= existing.size
	}
	item := &objectCacheItem{key: key, value: value, size: size, storedAt: time.Now()}
	item.element = c.evictList.PushFront(key)
	c.items[key] = item
	c.currentSize += size
	c.evictIfNeededLocked()
}

// invalidate drops key from the cache, used when an object is removed
// out from under any handle that might still reference it.
func (c *objectCache) invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.removeLocked(key)
}

func (c *objectCache) removeLocked(key string) {
	item, ok := c.items[key]
	if !ok {
		return
	}
	c.evictList.Remove(item.element)
	delete(c.items, key)
	c.currentSize -= item.size
}

func (c *objectCache) evictIfNeededLocked() {
	for c.cfg.MaxSize > 0 && c.currentSize > c.cfg.MaxSize && c.evictList.Len() > 0 {
		c.evictOldestLocked()
	}
	for c.cfg.MaxEntries > 0 && len(c.items) > c.cfg.MaxEntries && c.evictList.Len() > 0 {
		c.evictOldestLocked()
	}
}

func (c *objectCache) evictOldestLocked() {
	elem := c.evictList.Back()
	if elem == nil {
		return
	}
	c.removeLocked(elem.Value.(string))
}

func (c *objectCache) isExpired(item *objectCacheItem) bool {
	if c.cfg.TTL == 0 {
		return false
	}
	return time.Since(item.storedAt) > c.cfg.TTL
}

func (c *objectCache) cleanupExpired() {
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

func (c *objectCache) close() {
	close(c.stopCleanup)
}
