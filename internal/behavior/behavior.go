// Package behavior is the Behavioral Aggregator (§4.D): a Welford online
// summary per point, a bounded reservoir of inter-sample intervals for
// median/P95, and a publish rule gating how often a PointBehavior is
// re-emitted.
package behavior

import (
	"math"
	"sync"
	"time"

	"github.com/fieldflywheel/ingest-flywheel/internal/model"
	"github.com/fieldflywheel/ingest-flywheel/internal/util"
)

const reservoirCapacity = 256

// summary is the mutable online state kept per point. Mean/variance use
// Welford's single-pass algorithm (§9 "two-pass variance on a stream is
// not acceptable").
type summary struct {
	sequenceID int64

	count      int64
	mean       float64
	m2         float64 // sum of squares of differences from the mean
	min, max   float64

	zeroCount   int64
	goodCount   int64
	changeCount int64
	lastValue   model.Float
	haveLast    bool

	windowStart time.Time
	windowEnd   time.Time
	lastSeen    time.Time // for LRU eviction

	intervals    []float64 // bounded reservoir, milliseconds
	lastSampleAt time.Time
}

func newSummary(seq int64) *summary {
	return &summary{sequenceID: seq, min: math.Inf(1), max: math.Inf(-1)}
}

func (s *summary) observe(sample model.Sample) {
	v := float64(sample.Value)

	s.count++
	delta := v - s.mean
	s.mean += delta / float64(s.count)
	delta2 := v - s.mean
	s.m2 += delta * delta2

	if v < s.min {
		s.min = v
	}
	if v > s.max {
		s.max = v
	}
	if v == 0 {
		s.zeroCount++
	}
	if sample.Quality == model.QualityGood {
		s.goodCount++
	}
	if s.haveLast && model.Float(v) != s.lastValue {
		s.changeCount++
	}
	s.lastValue = sample.Value
	s.haveLast = true

	if s.windowStart.IsZero() || sample.TimestampUTC.Before(s.windowStart) {
		s.windowStart = sample.TimestampUTC
	}
	if sample.TimestampUTC.After(s.windowEnd) {
		s.windowEnd = sample.TimestampUTC
	}

	if !s.lastSampleAt.IsZero() {
		intervalMs := sample.TimestampUTC.Sub(s.lastSampleAt).Milliseconds()
		if intervalMs > 0 {
			s.intervals = append(s.intervals, float64(intervalMs))
			if len(s.intervals) > reservoirCapacity {
				s.intervals = s.intervals[len(s.intervals)-reservoirCapacity:]
			}
		}
	}
	s.lastSampleAt = sample.TimestampUTC
	s.lastSeen = time.Now()
}

func (s *summary) variance() float64 {
	if s.count < 2 {
		return 0
	}
	return s.m2 / float64(s.count-1)
}

func (s *summary) stddev() float64 {
	return math.Sqrt(s.variance())
}

func (s *summary) toPointBehavior(pointID model.Point) model.PointBehavior {
	medianMs, _ := util.Median(s.intervals)
	p95Ms, _ := util.Percentile(s.intervals, 95)
	if len(s.intervals) == 0 {
		medianMs, p95Ms = 0, 0
	}

	var updateRateHz float64
	if medianMs > 0 {
		updateRateHz = 1000.0 / medianMs
	}

	goodRatio := 0.0
	if s.count > 0 {
		goodRatio = float64(s.goodCount) / float64(s.count)
	}

	changeFreq := 0.0
	if s.count > 1 {
		changeFreq = float64(s.changeCount) / float64(s.count-1)
	}

	return model.PointBehavior{
		PointID:          pointID.ID,
		SequenceID:       s.sequenceID,
		SampleCount:      s.count,
		WindowStart:      s.windowStart,
		WindowEnd:        s.windowEnd,
		Mean:             s.mean,
		StdDev:           s.stddev(),
		Min:              s.min,
		Max:              s.max,
		MedianUpdateMs:   medianMs,
		P95UpdateMs:      p95Ms,
		ZeroCount:        s.zeroCount,
		GoodQualityRatio: goodRatio,
		ChangeFrequency:  changeFreq,
		UpdateRateHz:     updateRateHz,
		ProducedAt:       time.Now().UTC(),
	}
}

// Aggregator maintains one summary per point and decides when a
// PointBehavior is worth publishing (§4.D publish rule).
type Aggregator struct {
	mu       sync.Mutex
	points   map[int64]*summary
	pointIDs map[int64]model.Point // sequence_id -> Point, for PointBehavior.PointID
	cfg      Config

	lastPublish map[int64]time.Time
}

// Config mirrors config.BehaviorConfig without importing the config
// package, so behavior stays independently testable.
type Config struct {
	MinSamplesForBehavior int64
	PublishIntervalS      int64
	MaxPointsInMemory     int
}

func New(cfg Config) *Aggregator {
	return &Aggregator{
		points:      make(map[int64]*summary),
		pointIDs:    make(map[int64]model.Point),
		cfg:         cfg,
		lastPublish: make(map[int64]time.Time),
	}
}

// Observe folds sample into its point's running summary, evicting the
// least-recently-updated 10% if the in-memory set exceeds capacity
// (§4.D). evict receives each evicted point's PointBehavior snapshot so
// the caller can persist it to the behavior cache before it's dropped.
func (a *Aggregator) Observe(point model.Point, sample model.Sample, evict func(model.PointBehavior)) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.pointIDs[point.SequenceID] = point
	s, ok := a.points[sample.SequenceID]
	if !ok {
		s = newSummary(sample.SequenceID)
		a.points[sample.SequenceID] = s
	}
	s.observe(sample)

	if a.cfg.MaxPointsInMemory > 0 && len(a.points) > a.cfg.MaxPointsInMemory {
		a.evictOldest(evict)
	}
}

func (a *Aggregator) evictOldest(evict func(model.PointBehavior)) {
	n := len(a.points) / 10
	if n == 0 {
		n = 1
	}

	type entry struct {
		seq      int64
		lastSeen time.Time
	}
	entries := make([]entry, 0, len(a.points))
	for seq, s := range a.points {
		entries = append(entries, entry{seq, s.lastSeen})
	}
	// partial selection of the n oldest, good enough at this cardinality
	for i := 0; i < n && i < len(entries); i++ {
		oldestIdx := i
		for j := i + 1; j < len(entries); j++ {
			if entries[j].lastSeen.Before(entries[oldestIdx].lastSeen) {
				oldestIdx = j
			}
		}
		entries[i], entries[oldestIdx] = entries[oldestIdx], entries[i]

		seq := entries[i].seq
		if s, ok := a.points[seq]; ok {
			if evict != nil {
				evict(s.toPointBehavior(a.pointIDs[seq]))
			}
			delete(a.points, seq)
		}
	}
}

// ShouldPublish reports whether the point's current summary qualifies for
// publication under the §4.D rule, given the last cached PointBehavior
// (nil if none yet). It also enforces the publish_interval rate limit.
func (a *Aggregator) ShouldPublish(seq int64, cached *model.PointBehavior) (model.PointBehavior, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	s, ok := a.points[seq]
	if !ok || s.count < a.cfg.MinSamplesForBehavior {
		return model.PointBehavior{}, false
	}

	interval := time.Duration(a.cfg.PublishIntervalS) * time.Second
	if last, ok := a.lastPublish[seq]; ok && time.Since(last) < interval {
		return model.PointBehavior{}, false
	}

	current := s.toPointBehavior(a.pointIDs[seq])
	if cached != nil && !materiallyDifferent(current, *cached) {
		return model.PointBehavior{}, false
	}

	a.lastPublish[seq] = time.Now()
	return current, true
}

const epsilon = 1e-9

// materiallyDifferent implements §4.D's three-way OR threshold.
func materiallyDifferent(current, cached model.PointBehavior) bool {
	meanDelta := math.Abs(current.Mean-cached.Mean) / math.Max(math.Abs(cached.Mean), epsilon)
	if meanDelta > 0.10 {
		return true
	}
	stddevDelta := math.Abs(current.StdDev-cached.StdDev) / math.Max(cached.StdDev, epsilon)
	if stddevDelta > 0.20 {
		return true
	}
	rateDelta := math.Abs(current.MedianUpdateMs-cached.MedianUpdateMs) / math.Max(cached.MedianUpdateMs, 1)
	return rateDelta > 0.30
}
