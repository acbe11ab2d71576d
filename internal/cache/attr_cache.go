package cache

import (
	"sync"
	"time"

	"github.com/macos-fuse-t/go-smb2/vfs"
)

// AttrCache caches node attributes with TTL-based expiration.
//
// Thread-safe: Uses RWMutex for concurrent access.
type AttrCache struct {
	mu      sync.RWMutex
	entries map[uint64]*attrEntry
	ttl     time.Duration
	maxSize int

	hits   uint64
	misses uint64
}

type attrEntry struct {
	attrs   vfs.Attributes
	expires time.Time
}

// NewAttrCache creates a new attribute cache.
// ttl: Time-to-live for cached entries (use 0 for no expiration)
// maxSize: Maximum number of entries (use 0 for unlimited)
func NewAttrCache(ttl time.Duration, maxSize int) *AttrCache {
	return &AttrCache{
		entries: make(map[uint64]*attrEntry, 256),
		ttl:     ttl,
		maxSize: maxSize,
	}
}

// Get returns a copy of the cached attributes for ino, or nil on a miss.
func (c *AttrCache) Get(ino uint64) *vfs.Attributes {
	if Disabled {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[ino]
	if !ok || (c.ttl > 0 && time.Now().After(entry.expires)) {
		c.misses++
		return nil
	}
	c.hits++
	attrs := entry.attrs
	return &attrs
}

// Set stores a copy of attrs for ino.
// No-op if caching is disabled (WBKFS_CACHE=0).
func (c *AttrCache) Set(ino uint64, attrs *vfs.Attributes) {
	if Disabled || attrs == nil {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	if c.maxSize > 0 && len(c.entries) >= c.maxSize {
		if _, exists := c.entries[ino]; !exists {
			c.evictExpiredLocked(now)
			if len(c.entries) >= c.maxSize {
				return
			}
		}
	}

	expires := time.Time{}
	if c.ttl > 0 {
		expires = now.Add(c.ttl)
	}
	c.entries[ino] = &attrEntry{attrs: *attrs, expires: expires}
}

func (c *AttrCache) evictExpiredLocked(now time.Time) {
	if c.ttl <= 0 {
		return
	}
	for ino, e := range c.entries {
		if now.After(e.expires) {
			delete(c.entries, ino)
		}
	}
}

// Invalidate clears all entries from the cache.
func (c *AttrCache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.entries) > 0 {
		c.entries = make(map[uint64]*attrEntry, 256)
	}
}

// InvalidateIno removes the given inodes from the cache.
func (c *AttrCache) InvalidateIno(inos ...uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, ino := range inos {
		delete(c.entries, ino)
	}
}

// Size returns the current number of entries in the cache.
func (c *AttrCache) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// AttrCacheStats is a point-in-time view of the cache.
type AttrCacheStats struct {
	Size    int
	MaxSize int
	TTL     time.Duration
	Hits    uint64
	Misses  uint64
}

// Stats returns current cache statistics.
func (c *AttrCache) Stats() AttrCacheStats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return AttrCacheStats{
		Size:    len(c.entries),
		MaxSize: c.maxSize,
		TTL:     c.ttl,
		Hits:    c.hits,
		Misses:  c.misses,
	}
}
