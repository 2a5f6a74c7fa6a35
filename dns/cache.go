package dns

import (
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultCacheSize is the default DNS record cache capacity (spec §4.4).
const DefaultCacheSize = 128

type cacheEntry struct {
	record   Record
	cachedAt int64 // monotonic ms, per spec §5's two-time-domain rule
	hops     uint8
}

// recordCache is the TTL+LRU cache of spec §3/§4.4: at most one entry per
// normalized name, oldest-first eviction when full, lazy expiration during
// Poll. Built on hashicorp/golang-lru/v2 for the capacity-bounded eviction
// (its least-recently-used order approximates "oldest cached_at" well enough
// for the gossip horizon this cache serves; ties are broken by access
// order rather than strict insertion time, a deliberate simplification
// noted in DESIGN.md).
type recordCache struct {
	mu  sync.Mutex
	lru *lru.Cache[string, *cacheEntry]

	hits, misses uint64
}

func newRecordCache(capacity int) *recordCache {
	if capacity <= 0 {
		capacity = DefaultCacheSize
	}
	c, _ := lru.New[string, *cacheEntry](capacity)
	return &recordCache{lru: c}
}

// get returns the cached record for name if present and not expired as of
// nowUnixMS.
func (c *recordCache) get(name string, nowUnixMS uint64) (Record, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.lru.Get(name)
	if !ok {
		c.misses++
		return Record{}, false
	}
	if e.record.Expired(nowUnixMS) {
		c.misses++
		return Record{}, false
	}
	c.hits++
	return e.record, true
}

// peek looks up the raw cached record (including the cached-with timestamp)
// without touching hit/miss counters or recency order, for the
// superseded-by-newer-timestamp comparison in the REGISTER receiver
// algorithm.
func (c *recordCache) peek(name string) (Record, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.lru.Peek(name)
	if !ok {
		return Record{}, false
	}
	return e.record, true
}

// put inserts or replaces the cache entry for r.Name.
func (c *recordCache) put(r Record, hops uint8, nowMS int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Add(r.Name, &cacheEntry{record: r, cachedAt: nowMS, hops: hops})
}

// expire drops any cached record whose ttl has elapsed as of nowUnixMS and
// returns how many were removed (spec §4.4 "lazy expiration during poll").
func (c *recordCache) expire(nowUnixMS uint64) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, name := range c.lru.Keys() {
		e, ok := c.lru.Peek(name)
		if !ok {
			continue
		}
		if e.record.Expired(nowUnixMS) {
			c.lru.Remove(name)
			n++
		}
	}
	return n
}

func (c *recordCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

func (c *recordCache) stats() (hits, misses uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits, c.misses
}
