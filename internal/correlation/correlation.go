// Package correlation is the Correlation Engine (§4.E): on a points.behavior
// trigger it selects candidate partners sharing a data source, aligns their
// recent samples (by timestamp equality, falling back to forward-fill
// resampling onto the coarser grid), computes Pearson r, and upserts every
// pair crossing significant_r into the correlation cache.
package correlation

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/fieldflywheel/ingest-flywheel/internal/metrics"
	"github.com/fieldflywheel/ingest-flywheel/internal/model"
	"github.com/fieldflywheel/ingest-flywheel/internal/tsstore"
	"github.com/fieldflywheel/ingest-flywheel/pkg/log"
	"github.com/fieldflywheel/ingest-flywheel/pkg/resampler"
	"github.com/google/uuid"
)

// PointSource is the subset of *repository.Repository the engine needs to
// find candidate partners for a newly-behaved point.
type PointSource interface {
	PointBySequenceID(seq int64) (*model.Point, error)
	PointsByDataSource(dataSourceID uuid.UUID) ([]*model.Point, error)
}

// CorrelationStore is the subset of *repository.Repository the engine
// needs to persist results, named for independent testing.
type CorrelationStore interface {
	UpsertCorrelation(driver string, c *model.PairCorrelation) error
}

// Config mirrors config.CorrelationConfig.
type Config struct {
	MinOverlap   int64
	SignificantR float64
	MaxFFMs      int64
	MaxLagSteps  int
}

// Engine computes and persists pairwise correlations.
type Engine struct {
	points PointSource
	store  tsstore.Store
	corr   CorrelationStore
	driver string
	cfg    Config
}

func New(points PointSource, store tsstore.Store, corr CorrelationStore, driver string, cfg Config) *Engine {
	return &Engine{points: points, store: store, corr: corr, driver: driver, cfg: cfg}
}

// Process handles one points.behavior trigger for the point identified by
// seq, returning every pair it newly linked (or re-confirmed) for the
// caller to publish on correlations.updated. A failed individual pair is
// logged and skipped, not retried (§4.E "the next behavior event will
// re-enqueue it").
func (e *Engine) Process(seq int64, window time.Duration) ([]model.PairCorrelation, error) {
	point, err := e.points.PointBySequenceID(seq)
	if err != nil {
		return nil, fmt.Errorf("correlation: lookup point %d: %w", seq, err)
	}
	if point == nil || point.DataSourceID == nil {
		return nil, nil
	}

	candidates, err := e.points.PointsByDataSource(*point.DataSourceID)
	if err != nil {
		return nil, fmt.Errorf("correlation: candidates for %s: %w", point.DataSourceID, err)
	}

	now := time.Now().UTC()
	from := now.Add(-window)

	a, err := e.store.RangeScan(seq, from, now)
	if err != nil {
		return nil, fmt.Errorf("correlation: range scan %d: %w", seq, err)
	}

	var linked []model.PairCorrelation
	for _, c := range candidates {
		if c.SequenceID == seq {
			continue
		}
		pc, ok, err := e.correlatePair(point, c, a, from, now)
		if err != nil {
			log.Warnf("correlation: pair %s/%s failed: %v", point.ID, c.ID, err)
			metrics.SamplesDropped.WithLabelValues("correlation", "pair_failed").Inc()
			continue
		}
		if ok {
			linked = append(linked, pc)
		}
	}
	return linked, nil
}

func (e *Engine) correlatePair(a, b *model.Point, aSamples []model.Sample, from, to time.Time) (model.PairCorrelation, bool, error) {
	bSamples, err := e.store.RangeScan(b.SequenceID, from, to)
	if err != nil {
		return model.PairCorrelation{}, false, err
	}
	if len(aSamples) == 0 || len(bSamples) == 0 {
		return model.PairCorrelation{}, false, nil
	}

	xs, ys := alignSeries(aSamples, bSamples, time.Duration(e.cfg.MaxFFMs)*time.Millisecond)
	if int64(len(xs)) < e.cfg.MinOverlap {
		return model.PairCorrelation{}, false, nil
	}

	r, err := pearson(xs, ys)
	if err != nil {
		return model.PairCorrelation{}, false, err
	}
	if math.Abs(r) < e.cfg.SignificantR {
		return model.PairCorrelation{}, false, nil
	}

	lagMs, leading := e.searchLag(aSamples, bSamples, r)

	pc := model.PairCorrelation{
		PointA:      a.ID,
		PointB:      b.ID,
		R:           r,
		SampleCount: int64(len(xs)),
		WindowStart: from,
		WindowEnd:   to,
		UpdatedAt:   time.Now().UTC(),
	}
	if lagMs != nil {
		pc.LagMs = lagMs
		pc.Leading = &leading
	}

	if err := e.corr.UpsertCorrelation(e.driver, &pc); err != nil {
		return model.PairCorrelation{}, false, err
	}
	return pc, true, nil
}

// searchLag tries shifting b against a by {-L..+L} steps (§4.E), each step
// being the median inter-sample spacing of a, and returns the lag with the
// largest |r| if it beats the zero-lag r, else (nil, false).
func (e *Engine) searchLag(a, b []model.Sample, zeroLagR float64) (*int64, bool) {
	if e.cfg.MaxLagSteps <= 0 {
		return nil, false
	}
	step := medianSpacing(a)
	if step <= 0 {
		return nil, false
	}

	bestR := zeroLagR
	var bestLagMs int64
	var bestLeading bool
	found := false

	for step_i := -e.cfg.MaxLagSteps; step_i <= e.cfg.MaxLagSteps; step_i++ {
		if step_i == 0 {
			continue
		}
		shift := time.Duration(step_i) * step
		shiftedB := shiftSamples(b, shift)
		xs, ys := alignSeries(a, shiftedB, time.Duration(e.cfg.MaxFFMs)*time.Millisecond)
		if len(xs) < 2 {
			continue
		}
		r, err := pearson(xs, ys)
		if err != nil {
			continue
		}
		if math.Abs(r) > math.Abs(bestR) {
			bestR = r
			bestLagMs = shift.Milliseconds()
			bestLeading = step_i < 0 // b shifted earlier means b leads
			found = true
		}
	}
	if !found {
		return nil, false
	}
	return &bestLagMs, bestLeading
}

func shiftSamples(samples []model.Sample, by time.Duration) []model.Sample {
	out := make([]model.Sample, len(samples))
	for i, s := range samples {
		out[i] = s
		out[i].TimestampUTC = s.TimestampUTC.Add(by)
	}
	return out
}

func medianSpacing(samples []model.Sample) time.Duration {
	if len(samples) < 2 {
		return 0
	}
	gaps := make([]time.Duration, 0, len(samples)-1)
	for i := 1; i < len(samples); i++ {
		gaps = append(gaps, samples[i].TimestampUTC.Sub(samples[i-1].TimestampUTC))
	}
	sort.Slice(gaps, func(i, j int) bool { return gaps[i] < gaps[j] })
	return gaps[len(gaps)/2]
}

// alignSeries pairs up values from a and b. It first tries an exact
// timestamp-equality intersection; if that yields fewer than two points
// (timestamp density differs between the series), it resamples both onto
// the coarser of their two grids via forward-fill with maxStaleness.
func alignSeries(a, b []model.Sample, maxStaleness time.Duration) (xs, ys []float64) {
	xs, ys = alignByEquality(a, b)
	if len(xs) >= 2 {
		return xs, ys
	}
	return alignByForwardFill(a, b, maxStaleness)
}

func alignByEquality(a, b []model.Sample) (xs, ys []float64) {
	byTime := make(map[int64]float64, len(b))
	for _, s := range b {
		byTime[s.TimestampUTC.UnixNano()] = float64(s.Value)
	}
	for _, s := range a {
		if v, ok := byTime[s.TimestampUTC.UnixNano()]; ok {
			xs = append(xs, float64(s.Value))
			ys = append(ys, v)
		}
	}
	return xs, ys
}

func alignByForwardFill(a, b []model.Sample, maxStaleness time.Duration) (xs, ys []float64) {
	stepA, stepB := medianSpacing(a), medianSpacing(b)
	step := stepA
	if stepB > step {
		step = stepB
	}
	if step <= 0 {
		step = maxStaleness
	}
	if step <= 0 {
		return nil, nil
	}

	start := latestTime(a[0].TimestampUTC, b[0].TimestampUTC)
	end := earliestTime(a[len(a)-1].TimestampUTC, b[len(b)-1].TimestampUTC)
	if end.Before(start) {
		return nil, nil
	}

	grid := make([]time.Time, 0, int(end.Sub(start)/step)+1)
	for t := start; !t.After(end); t = t.Add(step) {
		grid = append(grid, t)
	}

	filledA := resampler.ForwardFillSeries(a, grid, maxStaleness)
	filledB := resampler.ForwardFillSeries(b, grid, maxStaleness)
	for i := range grid {
		if filledA[i] != nil && filledB[i] != nil {
			xs = append(xs, float64(filledA[i].Value))
			ys = append(ys, float64(filledB[i].Value))
		}
	}
	return xs, ys
}

func latestTime(a, b time.Time) time.Time {
	if a.After(b) {
		return a
	}
	return b
}

func earliestTime(a, b time.Time) time.Time {
	if a.Before(b) {
		return a
	}
	return b
}

// pearson computes the Pearson product-moment correlation coefficient.
func pearson(xs, ys []float64) (float64, error) {
	n := len(xs)
	if n != len(ys) || n < 2 {
		return 0, fmt.Errorf("pearson: need matching series of length >= 2, got %d/%d", len(xs), len(ys))
	}

	var sumX, sumY float64
	for i := 0; i < n; i++ {
		sumX += xs[i]
		sumY += ys[i]
	}
	meanX, meanY := sumX/float64(n), sumY/float64(n)

	var cov, varX, varY float64
	for i := 0; i < n; i++ {
		dx, dy := xs[i]-meanX, ys[i]-meanY
		cov += dx * dy
		varX += dx * dx
		varY += dy * dy
	}
	if varX == 0 || varY == 0 {
		return 0, nil
	}
	return cov / math.Sqrt(varX*varY), nil
}
