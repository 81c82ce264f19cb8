package ingest

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/fieldflywheel/ingest-flywheel/internal/currentvalue"
	"github.com/fieldflywheel/ingest-flywheel/internal/model"
	"github.com/fieldflywheel/ingest-flywheel/internal/tsstore"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeResolver struct {
	points map[string]*model.Point
}

func (f *fakeResolver) PointByAddress(address string) (*model.Point, error) {
	return f.points[address], nil
}

func newTestConsumer(t *testing.T, points map[string]*model.Point) (*Consumer, *tsstore.MemoryStore, *currentvalue.Cache) {
	t.Helper()
	store := tsstore.NewMemoryStore()
	current := currentvalue.New()
	c, err := New(&fakeResolver{points: points}, store, current, 128, time.Minute)
	require.NoError(t, err)
	return c, store, current
}

func TestProcessBatchIdempotentOnReplay(t *testing.T) {
	points := map[string]*model.Point{
		"addr.a": {SequenceID: 1},
	}
	c, store, current := newTestConsumer(t, points)

	ts := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	batch := model.RawSampleBatch{
		BatchID: uuid.New(),
		Points: []model.RawSample{
			{Address: "addr.a", TimestampUTC: ts, Value: 1.5, Quality: model.QualityGood},
		},
	}

	require.NoError(t, c.processBatch(context.Background(), batch, nil))
	require.NoError(t, c.processBatch(context.Background(), batch, nil))

	rows, err := store.RangeScan(1, ts.Add(-time.Hour), ts.Add(time.Hour))
	require.NoError(t, err)
	assert.Len(t, rows, 1)

	last, ok := current.Get(1)
	assert.True(t, ok)
	assert.Equal(t, ts, last.TimestampUTC)
}

func TestProcessBatchDefersUnknownAddress(t *testing.T) {
	c, store, _ := newTestConsumer(t, map[string]*model.Point{})

	batch := model.RawSampleBatch{
		Points: []model.RawSample{
			{Address: "unknown.addr", TimestampUTC: time.Now().UTC(), Value: 1},
		},
	}
	payload, _ := json.Marshal(batch)

	require.NoError(t, c.processBatch(context.Background(), batch, payload))

	rows, _ := store.RangeScan(1, time.Time{}, time.Now().Add(time.Hour))
	assert.Empty(t, rows)

	expired := c.ExpireUnresolved()
	assert.Empty(t, expired)
}

func TestExpireUnresolvedAfterRetryWindow(t *testing.T) {
	c, _, _ := newTestConsumer(t, map[string]*model.Point{})
	c.retryTTL = 0

	batch := model.RawSampleBatch{
		Points: []model.RawSample{{Address: "ghost", TimestampUTC: time.Now().UTC(), Value: 1}},
	}
	payload, _ := json.Marshal(batch)
	require.NoError(t, c.processBatch(context.Background(), batch, payload))

	expired := c.ExpireUnresolved()
	assert.Len(t, expired, 1)
	assert.Equal(t, "ghost", expired[0].Sample.Address)
	assert.Equal(t, payload, expired[0].Raw, "the original batch payload must survive for the DLQ")
}
