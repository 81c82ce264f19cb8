package behavior

import (
	"sync"
	"time"

	"github.com/fieldflywheel/ingest-flywheel/internal/model"
	"github.com/google/uuid"
)

// Cache is the process-wide store of each point's most recently published
// PointBehavior, keyed by point id rather than sequence id so the Pattern
// Matcher can look one up without a sequence-id round trip. Sharded like
// currentvalue.Cache, since it serves the same read-heavy, per-key-write
// access pattern.
type Cache struct {
	shards []*cacheShard
	mask   uint32
	ttl    time.Duration
}

type cacheShard struct {
	mu      sync.RWMutex
	entries map[uuid.UUID]cacheEntry
}

type cacheEntry struct {
	behavior model.PointBehavior
	storedAt time.Time
}

const cacheShardCount = 64

// NewCache builds a Cache that treats an entry older than ttl as absent.
// ttl <= 0 disables expiry.
func NewCache(ttl time.Duration) *Cache {
	c := &Cache{shards: make([]*cacheShard, cacheShardCount), mask: cacheShardCount - 1, ttl: ttl}
	for i := range c.shards {
		c.shards[i] = &cacheShard{entries: make(map[uuid.UUID]cacheEntry)}
	}
	return c
}

func (c *Cache) shardFor(id uuid.UUID) *cacheShard {
	var h uint32
	for _, b := range id {
		h = h*31 + uint32(b)
	}
	return c.shards[h&c.mask]
}

// Put stores b under b.PointID.
func (c *Cache) Put(b model.PointBehavior) {
	sh := c.shardFor(b.PointID)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	sh.entries[b.PointID] = cacheEntry{behavior: b, storedAt: time.Now()}
}

// Get returns the cached PointBehavior for pointID, if present and not
// past ttl.
func (c *Cache) Get(pointID uuid.UUID) (*model.PointBehavior, bool) {
	sh := c.shardFor(pointID)
	sh.mu.RLock()
	defer sh.mu.RUnlock()

	e, ok := sh.entries[pointID]
	if !ok {
		return nil, false
	}
	if c.ttl > 0 && time.Since(e.storedAt) > c.ttl {
		return nil, false
	}
	b := e.behavior
	return &b, true
}
