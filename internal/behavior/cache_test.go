package behavior

import (
	"testing"
	"time"

	"github.com/fieldflywheel/ingest-flywheel/internal/model"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestCachePutGetRoundTrip(t *testing.T) {
	c := NewCache(0)
	id := uuid.New()
	c.Put(model.PointBehavior{PointID: id, Mean: 42})

	got, ok := c.Get(id)
	assert.True(t, ok)
	assert.Equal(t, 42.0, got.Mean)
}

func TestCacheGetMissing(t *testing.T) {
	c := NewCache(0)
	_, ok := c.Get(uuid.New())
	assert.False(t, ok)
}

func TestCacheExpiresPastTTL(t *testing.T) {
	c := NewCache(time.Millisecond)
	id := uuid.New()
	c.Put(model.PointBehavior{PointID: id})
	time.Sleep(5 * time.Millisecond)

	_, ok := c.Get(id)
	assert.False(t, ok)
}
