package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestSamplesDroppedIncrements(t *testing.T) {
	SamplesDropped.WithLabelValues("ingest", "decode").Inc()
	got := testutil.ToFloat64(SamplesDropped.WithLabelValues("ingest", "decode"))
	assert.GreaterOrEqual(t, got, float64(1))
}

func TestQueueDepthSetsGauge(t *testing.T) {
	QueueDepth.WithLabelValues("test.queue").Set(3)
	assert.Equal(t, float64(3), testutil.ToFloat64(QueueDepth.WithLabelValues("test.queue")))

	QueueDepth.WithLabelValues("test.queue").Set(0)
	assert.Equal(t, float64(0), testutil.ToFloat64(QueueDepth.WithLabelValues("test.queue")))
}

func TestPatternConfidenceObserves(t *testing.T) {
	PatternConfidence.WithLabelValues("chiller.pair.test").Observe(0.65)
	count := testutil.CollectAndCount(PatternConfidence.WithLabelValues("chiller.pair.test").(prometheus.Histogram))
	assert.Equal(t, 1, count)
}
