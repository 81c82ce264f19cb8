// Package currentvalue is the current-value cache: one latest Sample per
// sequence_id, rejecting writes whose timestamp is older than the stored
// one (§5 "only accepts updates whose timestamp is >= the stored
// timestamp", §8 "Monotone current-value cache").
package currentvalue

import (
	"sync"

	"github.com/fieldflywheel/ingest-flywheel/internal/model"
)

// Cache is the process-wide current-value store. Contention is per-point,
// matching §5's "per-key locks, not global".
type Cache struct {
	shards []*shard
	mask   uint32
}

type shard struct {
	mu     sync.RWMutex
	values map[int64]model.Sample
}

const defaultShardCount = 64

func New() *Cache {
	c := &Cache{shards: make([]*shard, defaultShardCount), mask: defaultShardCount - 1}
	for i := range c.shards {
		c.shards[i] = &shard{values: make(map[int64]model.Sample)}
	}
	return c
}

func (c *Cache) shardFor(seq int64) *shard {
	return c.shards[uint32(seq)&c.mask]
}

// Upsert applies sample if its timestamp is not older than the currently
// stored one for its point. Returns true if applied, false if rejected as
// stale (an Integrity-class error per §7, silently discarded and counted
// by the caller).
func (c *Cache) Upsert(sample model.Sample) bool {
	sh := c.shardFor(sample.SequenceID)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	existing, ok := sh.values[sample.SequenceID]
	if ok && sample.TimestampUTC.Before(existing.TimestampUTC) {
		return false
	}
	sh.values[sample.SequenceID] = sample
	return true
}

// Get returns the latest sample for seq, if any.
func (c *Cache) Get(seq int64) (model.Sample, bool) {
	sh := c.shardFor(seq)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	s, ok := sh.values[seq]
	return s, ok
}
