// Package ingest is the Ingestion Consumer (§4.C): resolves each raw
// sample's sequence_id through an LRU-backed point cache, writes batches
// to the time-series store, upserts the current-value cache, and defers
// unknown-point samples to a short retry buffer before routing them to the
// DLQ.
package ingest

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/fieldflywheel/ingest-flywheel/internal/bus"
	"github.com/fieldflywheel/ingest-flywheel/internal/currentvalue"
	"github.com/fieldflywheel/ingest-flywheel/internal/errkind"
	"github.com/fieldflywheel/ingest-flywheel/internal/metrics"
	"github.com/fieldflywheel/ingest-flywheel/internal/model"
	"github.com/fieldflywheel/ingest-flywheel/internal/tsstore"
	"github.com/fieldflywheel/ingest-flywheel/pkg/log"
	lru "github.com/hashicorp/golang-lru/v2"
)

// PointResolver is the subset of *repository.Repository the consumer
// needs, named separately so component tests can fake it.
type PointResolver interface {
	PointByAddress(address string) (*model.Point, error)
}

// Consumer drives datapoints.raw into storage.
type Consumer struct {
	repo    PointResolver
	store   tsstore.Store
	current *currentvalue.Cache
	cache   *lru.Cache[string, *model.Point]

	retryTTL time.Duration

	mu      sync.Mutex
	pending map[string]*pendingSample // address -> oldest deferred sample

	onSample func(point *model.Point, sample model.Sample)
}

type pendingSample struct {
	sample   model.RawSample
	firstSeen time.Time
	raw       []byte // original payload, preserved for the DLQ (§4.C)
}

// New builds a Consumer with an LRU of the given capacity fronting repo's
// point-resolution reads, and a retry window for not-yet-known addresses.
func New(repo PointResolver, store tsstore.Store, current *currentvalue.Cache, lruSize int, retryTTL time.Duration) (*Consumer, error) {
	cache, err := lru.New[string, *model.Point](lruSize)
	if err != nil {
		return nil, err
	}
	return &Consumer{
		repo: repo, store: store, current: current, cache: cache,
		retryTTL: retryTTL, pending: make(map[string]*pendingSample),
	}, nil
}

// OnSample registers a hook invoked for every successfully resolved and
// stored sample, feeding the Behavioral Aggregator without coupling the
// consumer to it directly (§4.I "start consumer workers → start analysis
// workers").
func (c *Consumer) OnSample(fn func(point *model.Point, sample model.Sample)) {
	c.onSample = fn
}

// Handler returns the bus.Handler for datapoints.raw.
func (c *Consumer) Handler() bus.Handler {
	return func(ctx context.Context, msg *bus.Message) error {
		var batch model.RawSampleBatch
		if err := json.Unmarshal(msg.Data, &batch); err != nil {
			metrics.SamplesDropped.WithLabelValues("ingest", "decode").Inc()
			if termErr := msg.Term(); termErr != nil {
				return termErr
			}
			return errkind.Poison("ingest.decode", err)
		}

		if len(batch.Points) == 0 {
			return msg.Ack()
		}

		if err := c.processBatch(ctx, batch, msg.Data); err != nil {
			if _, transient := err.(*errkind.TransientRemoteError); transient {
				return msg.Nak()
			}
			log.Errorf("ingest: processing batch %s failed: %v", batch.BatchID, err)
			return msg.Term()
		}
		return msg.Ack()
	}
}

func (c *Consumer) processBatch(ctx context.Context, batch model.RawSampleBatch, raw []byte) error {
	var samples []model.Sample
	var points []*model.Point
	var unresolved []model.RawSample

	for _, rs := range batch.Points {
		point, err := c.resolve(rs.Address)
		if err != nil {
			return errkind.Transient("ingest.resolve", err)
		}
		if point == nil {
			unresolved = append(unresolved, rs)
			continue
		}
		samples = append(samples, model.Sample{
			SequenceID:   point.SequenceID,
			TimestampUTC: rs.TimestampUTC,
			Value:        model.Float(rs.Value),
			Quality:      rs.Quality,
		})
		points = append(points, point)
	}

	if len(samples) > 0 {
		if err := c.store.WriteBatch(samples); err != nil {
			return errkind.Transient("ingest.writeBatch", err)
		}
		for i, s := range samples {
			if c.onSample != nil {
				c.onSample(points[i], s)
			}
			c.current.Upsert(s)
		}
	}

	for _, rs := range unresolved {
		c.deferUnresolved(rs, raw)
	}
	return nil
}

// resolve looks up address, checking the LRU before falling through to
// the repository (§4.C, §9 "point-resolution cache: shared read-mostly,
// single-writer refresh on miss").
func (c *Consumer) resolve(address string) (*model.Point, error) {
	if p, ok := c.cache.Get(address); ok {
		return p, nil
	}
	p, err := c.repo.PointByAddress(address)
	if err != nil {
		return nil, err
	}
	if p != nil {
		c.cache.Add(address, p)
	}
	return p, nil
}

// deferUnresolved tracks an unresolvable sample for retryTTL; callers of
// ExpireUnresolved route anything still unresolved past that window to
// datapoints.dlq with its original payload.
func (c *Consumer) deferUnresolved(rs model.RawSample, raw []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.pending[rs.Address]; !exists {
		c.pending[rs.Address] = &pendingSample{sample: rs, firstSeen: time.Now(), raw: raw}
		metrics.RetriesDeferred.WithLabelValues("ingest").Inc()
	}
	metrics.QueueDepth.WithLabelValues("ingest.unresolved").Set(float64(len(c.pending)))
}

// ExpiredSample pairs a deferred sample with the original batch payload it
// arrived in, so a caller can route the DLQ publish off the exact bytes
// received rather than a re-marshaled reconstruction (§4.C "routed to
// datapoints.dlq with the original payload preserved").
type ExpiredSample struct {
	Sample model.RawSample
	Raw    []byte
}

// ExpireUnresolved returns, and clears, every address whose retry window
// has elapsed, for the caller to publish to datapoints.dlq (§4.C).
func (c *Consumer) ExpireUnresolved() []ExpiredSample {
	c.mu.Lock()
	defer c.mu.Unlock()

	var expired []ExpiredSample
	now := time.Now()
	for addr, p := range c.pending {
		if now.Sub(p.firstSeen) >= c.retryTTL {
			expired = append(expired, ExpiredSample{Sample: p.sample, Raw: p.raw})
			delete(c.pending, addr)
		}
	}
	metrics.QueueDepth.WithLabelValues("ingest.unresolved").Set(float64(len(c.pending)))
	return expired
}

// ResolvePending retries every currently-deferred address against the
// point store, removing any that now resolve. Intended to run on a short
// interval alongside ExpireUnresolved.
func (c *Consumer) ResolvePending() {
	c.mu.Lock()
	addrs := make([]string, 0, len(c.pending))
	for addr := range c.pending {
		addrs = append(addrs, addr)
	}
	c.mu.Unlock()

	for _, addr := range addrs {
		p, err := c.repo.PointByAddress(addr)
		if err != nil || p == nil {
			continue
		}
		c.cache.Add(addr, p)

		c.mu.Lock()
		pending, ok := c.pending[addr]
		if ok {
			delete(c.pending, addr)
			metrics.QueueDepth.WithLabelValues("ingest.unresolved").Set(float64(len(c.pending)))
		}
		c.mu.Unlock()

		if ok {
			sample := model.Sample{
				SequenceID: p.SequenceID, TimestampUTC: pending.sample.TimestampUTC,
				Value: model.Float(pending.sample.Value), Quality: pending.sample.Quality,
			}
			if err := c.store.WriteBatch([]model.Sample{sample}); err == nil {
				c.current.Upsert(sample)
			}
		}
	}
}
