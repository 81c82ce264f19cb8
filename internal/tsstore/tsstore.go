// Package tsstore is the time-series store keyed by sequence_id + timestamp
// (§6 "Persisted layout"). Its on-disk format is explicitly out of scope
// (§1 Non-goals); Store is written and read as an opaque writer/reader, so
// the in-memory implementation here is the whole of it: one map per
// sequence_id keyed by timestamp, with a lazily rebuilt sorted key list.
package tsstore

import (
	"sort"
	"sync"
	"time"

	"github.com/fieldflywheel/ingest-flywheel/internal/model"
)

// Store is the opaque writer/reader contract the Ingestion Consumer and
// Correlation Engine depend on.
type Store interface {
	// WriteBatch persists samples in one call. A sample that repeats an
	// existing (sequence_id, timestamp_utc) overwrites the prior value at
	// that key rather than appending a duplicate row (§4.C idempotence,
	// §8 "Idempotent ingestion").
	WriteBatch(samples []model.Sample) error

	// RangeScan returns samples for seq with timestamp in [from, to],
	// ascending by time.
	RangeScan(seq int64, from, to time.Time) ([]model.Sample, error)

	// LastValue returns the most recent sample for seq, if any.
	LastValue(seq int64) (model.Sample, bool)

	// Close releases any held resources.
	Close() error
}

type series struct {
	mu      sync.RWMutex
	byTime  map[int64]model.Sample // key: UnixNano, deduplicates same-timestamp writes
	sorted  []int64                // cached sorted keys, rebuilt lazily
	dirty   bool
}

// MemoryStore is an in-memory Store, one series per sequence_id.
type MemoryStore struct {
	mu     sync.RWMutex
	series map[int64]*series
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{series: make(map[int64]*series)}
}

func (s *MemoryStore) seriesFor(seq int64) *series {
	s.mu.RLock()
	sr, ok := s.series[seq]
	s.mu.RUnlock()
	if ok {
		return sr
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if sr, ok := s.series[seq]; ok {
		return sr
	}
	sr = &series{byTime: make(map[int64]model.Sample)}
	s.series[seq] = sr
	return sr
}

func (s *MemoryStore) WriteBatch(samples []model.Sample) error {
	for _, sample := range samples {
		sr := s.seriesFor(sample.SequenceID)
		sr.mu.Lock()
		sr.byTime[sample.TimestampUTC.UnixNano()] = sample
		sr.dirty = true
		sr.mu.Unlock()
	}
	return nil
}

func (sr *series) ensureSorted() {
	if !sr.dirty {
		return
	}
	sorted := make([]int64, 0, len(sr.byTime))
	for k := range sr.byTime {
		sorted = append(sorted, k)
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	sr.sorted = sorted
	sr.dirty = false
}

func (s *MemoryStore) RangeScan(seq int64, from, to time.Time) ([]model.Sample, error) {
	sr := s.seriesFor(seq)
	sr.mu.Lock()
	sr.ensureSorted()
	keys := sr.sorted
	out := make([]model.Sample, 0, len(keys))
	fromNs, toNs := from.UnixNano(), to.UnixNano()
	lo := sort.Search(len(keys), func(i int) bool { return keys[i] >= fromNs })
	for i := lo; i < len(keys) && keys[i] <= toNs; i++ {
		out = append(out, sr.byTime[keys[i]])
	}
	sr.mu.Unlock()
	return out, nil
}

func (s *MemoryStore) LastValue(seq int64) (model.Sample, bool) {
	sr := s.seriesFor(seq)
	sr.mu.Lock()
	sr.ensureSorted()
	defer sr.mu.Unlock()
	if len(sr.sorted) == 0 {
		return model.Sample{}, false
	}
	return sr.byTime[sr.sorted[len(sr.sorted)-1]], true
}

func (s *MemoryStore) Close() error { return nil }
