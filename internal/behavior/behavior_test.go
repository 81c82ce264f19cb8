package behavior

import (
	"math"
	"testing"
	"time"

	"github.com/fieldflywheel/ingest-flywheel/internal/model"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func feedSamples(a *Aggregator, point model.Point, values []float64, start time.Time, step time.Duration) {
	for i, v := range values {
		a.Observe(point, model.Sample{
			SequenceID:   point.SequenceID,
			TimestampUTC: start.Add(time.Duration(i) * step),
			Value:        model.Float(v),
			Quality:      model.QualityGood,
		}, nil)
	}
}

// TestWelfordMatchesTwoPass checks §8's "computed mean and variance of a
// sequence match the textbook two-pass definitions to within 1e-9
// relative error" property.
func TestWelfordMatchesTwoPass(t *testing.T) {
	values := []float64{2, 4, 4, 4, 5, 5, 7, 9, 12.5, 3.25, 18, 0.5}

	a := New(Config{MinSamplesForBehavior: 1})
	point := model.Point{ID: uuid.New(), SequenceID: 1}
	feedSamples(a, point, values, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), time.Second)

	var sum float64
	for _, v := range values {
		sum += v
	}
	wantMean := sum / float64(len(values))

	var sq float64
	for _, v := range values {
		sq += (v - wantMean) * (v - wantMean)
	}
	wantVariance := sq / float64(len(values)-1)

	s := a.points[1]
	assert.InEpsilon(t, wantMean, s.mean, 1e-9)
	assert.InEpsilon(t, wantVariance, s.variance(), 1e-9)
}

func TestShouldPublishBelowMinSamplesWithholds(t *testing.T) {
	a := New(Config{MinSamplesForBehavior: 10, PublishIntervalS: 0})
	point := model.Point{ID: uuid.New(), SequenceID: 1}
	feedSamples(a, point, []float64{1, 2, 3}, time.Now(), time.Second)

	_, ok := a.ShouldPublish(1, nil)
	assert.False(t, ok)
}

func TestShouldPublishFirstTimeAboveMinSamples(t *testing.T) {
	a := New(Config{MinSamplesForBehavior: 3, PublishIntervalS: 0})
	point := model.Point{ID: uuid.New(), SequenceID: 1}
	feedSamples(a, point, []float64{1, 2, 3}, time.Now(), time.Second)

	pb, ok := a.ShouldPublish(1, nil)
	assert.True(t, ok)
	assert.Equal(t, int64(3), pb.SampleCount)
}

func TestShouldPublishRateLimitedWithinInterval(t *testing.T) {
	a := New(Config{MinSamplesForBehavior: 1, PublishIntervalS: 3600})
	point := model.Point{ID: uuid.New(), SequenceID: 1}
	feedSamples(a, point, []float64{1}, time.Now(), time.Second)

	_, ok := a.ShouldPublish(1, nil)
	assert.True(t, ok)

	feedSamples(a, point, []float64{100}, time.Now(), time.Second)
	_, ok = a.ShouldPublish(1, nil)
	assert.False(t, ok, "second publish within publish_interval must be withheld")
}

func TestMateriallyDifferentMeanThreshold(t *testing.T) {
	cached := model.PointBehavior{Mean: 100, StdDev: 10, MedianUpdateMs: 1000}

	under := model.PointBehavior{Mean: 105, StdDev: 10, MedianUpdateMs: 1000}
	assert.False(t, materiallyDifferent(under, cached))

	over := model.PointBehavior{Mean: 115, StdDev: 10, MedianUpdateMs: 1000}
	assert.True(t, materiallyDifferent(over, cached))
}

func TestMateriallyDifferentStdDevThreshold(t *testing.T) {
	cached := model.PointBehavior{Mean: 100, StdDev: 10, MedianUpdateMs: 1000}
	over := model.PointBehavior{Mean: 100, StdDev: 13, MedianUpdateMs: 1000}
	assert.True(t, materiallyDifferent(over, cached))
}

func TestMateriallyDifferentRateThreshold(t *testing.T) {
	cached := model.PointBehavior{Mean: 100, StdDev: 10, MedianUpdateMs: 1000}
	over := model.PointBehavior{Mean: 100, StdDev: 10, MedianUpdateMs: 1400}
	assert.True(t, materiallyDifferent(over, cached))
}

func TestEvictOldestCallsEvictAndShrinks(t *testing.T) {
	a := New(Config{MinSamplesForBehavior: 1, MaxPointsInMemory: 10})
	now := time.Now()
	for i := int64(1); i <= 11; i++ {
		point := model.Point{ID: uuid.New(), SequenceID: i}
		a.Observe(point, model.Sample{SequenceID: i, TimestampUTC: now, Value: 1, Quality: model.QualityGood}, nil)
	}

	var evicted []model.PointBehavior
	a.evictOldest(func(pb model.PointBehavior) { evicted = append(evicted, pb) })

	assert.NotEmpty(t, evicted)
	// The 11th Observe already evicted one point (11 > 10); this call
	// evicts 10/10 = 1 more.
	assert.Len(t, a.points, 9)
}

func TestZeroCountAndChangeFrequency(t *testing.T) {
	a := New(Config{MinSamplesForBehavior: 1})
	point := model.Point{ID: uuid.New(), SequenceID: 1}
	feedSamples(a, point, []float64{0, 0, 5, 5, 5, 9}, time.Now(), time.Second)

	s := a.points[1]
	assert.Equal(t, int64(2), s.zeroCount)
	assert.Equal(t, int64(2), s.changeCount) // 0->5, 5->9
}

func TestStdDevNonNegativeAndFinite(t *testing.T) {
	a := New(Config{MinSamplesForBehavior: 1})
	point := model.Point{ID: uuid.New(), SequenceID: 1}
	feedSamples(a, point, []float64{5}, time.Now(), time.Second)

	s := a.points[1]
	assert.False(t, math.IsNaN(s.stddev()))
	assert.Equal(t, 0.0, s.stddev())
}
