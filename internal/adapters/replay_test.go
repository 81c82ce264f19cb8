package adapters

import (
	"testing"
	"time"

	"github.com/fieldflywheel/ingest-flywheel/internal/model"
	"github.com/stretchr/testify/assert"
)

func TestInterpolateMidpoint(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	rows := []ReplayRow{
		{Address: "a", TimestampUTC: base, Value: 0, Quality: model.QualityGood},
		{Address: "a", TimestampUTC: base.Add(10 * time.Second), Value: 10, Quality: model.QualityGood},
	}

	v, q, ok := interpolate(rows, base.Add(5*time.Second))
	assert.True(t, ok)
	assert.InDelta(t, 5.0, v, 1e-9)
	assert.Equal(t, model.QualityGood, q)
}

func TestInterpolateOutsideSpanRejected(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	rows := []ReplayRow{
		{Address: "a", TimestampUTC: base, Value: 0},
		{Address: "a", TimestampUTC: base.Add(10 * time.Second), Value: 10},
	}

	_, _, ok := interpolate(rows, base.Add(-time.Second))
	assert.False(t, ok)

	_, _, ok = interpolate(rows, base.Add(11*time.Second))
	assert.False(t, ok)
}

func TestInterpolateExactRowTimestamp(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	rows := []ReplayRow{
		{Address: "a", TimestampUTC: base, Value: 1},
		{Address: "a", TimestampUTC: base.Add(10 * time.Second), Value: 2},
	}

	v, _, ok := interpolate(rows, base.Add(10*time.Second))
	assert.True(t, ok)
	assert.InDelta(t, 2.0, v, 1e-9)
}
