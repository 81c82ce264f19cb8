package cluster

import (
	"testing"
	"time"

	"github.com/fieldflywheel/ingest-flywheel/internal/model"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClusterStore struct {
	live     []*model.Cluster
	upserted []model.Cluster
}

func (f *fakeClusterStore) LiveClusters() ([]*model.Cluster, error) { return f.live, nil }
func (f *fakeClusterStore) UpsertCluster(driver string, c *model.Cluster) (*model.Cluster, error) {
	f.upserted = append(f.upserted, *c)
	return c, nil
}

func TestLouvainGroupsTwoTightTriangles(t *testing.T) {
	a1, a2, a3 := uuid.New(), uuid.New(), uuid.New()
	b1, b2, b3 := uuid.New(), uuid.New(), uuid.New()

	adjacency := map[uuid.UUID]map[uuid.UUID]float64{
		a1: {a2: 0.95, a3: 0.9},
		a2: {a1: 0.95, a3: 0.92},
		a3: {a1: 0.9, a2: 0.92},
		b1: {b2: 0.97, b3: 0.93},
		b2: {b1: 0.97, b3: 0.91},
		b3: {b1: 0.93, b2: 0.91},
	}

	groups := Louvain(adjacency, 100)
	assert.Len(t, groups, 2)
	for _, g := range groups {
		assert.Len(t, g, 3)
	}
}

func TestDBSCANFindsDenseCluster(t *testing.T) {
	a, b, c, isolated := uuid.New(), uuid.New(), uuid.New(), uuid.New()
	adjacency := map[uuid.UUID]map[uuid.UUID]float64{
		a:        {b: 0.9, c: 0.85},
		b:        {a: 0.9, c: 0.88},
		c:        {a: 0.85, b: 0.88},
		isolated: {},
	}

	groups := DBSCAN(adjacency, 0.3, 2)
	require.Len(t, groups, 1)
	assert.Len(t, groups[0], 3)
}

func TestScanAcceptsClusterMeetingBounds(t *testing.T) {
	a, b, c := uuid.New(), uuid.New(), uuid.New()
	store := &fakeClusterStore{}
	d := NewDetector(store, "sqlite3", Config{
		Algorithm: "louvain", MinClusterSize: 2, MaxClusterSize: 10,
		MinCohesion: 0.5, MaxIterations: 50, ClusterTTL: time.Hour,
	})

	d.Observe(model.PairCorrelation{PointA: a, PointB: b, R: 0.9})
	d.Observe(model.PairCorrelation{PointA: b, PointB: c, R: 0.85})
	d.Observe(model.PairCorrelation{PointA: a, PointB: c, R: 0.88})

	accepted, err := d.Scan(false)
	require.NoError(t, err)
	assert.NotEmpty(t, accepted)
	assert.NotEmpty(t, store.upserted)
}

func TestScanRejectsClusterBelowCohesion(t *testing.T) {
	a, b := uuid.New(), uuid.New()
	store := &fakeClusterStore{}
	d := NewDetector(store, "sqlite3", Config{
		Algorithm: "louvain", MinClusterSize: 2, MaxClusterSize: 10,
		MinCohesion: 0.95, MaxIterations: 50, ClusterTTL: time.Hour,
	})

	d.Observe(model.PairCorrelation{PointA: a, PointB: b, R: 0.5})

	accepted, err := d.Scan(false)
	require.NoError(t, err)
	assert.Empty(t, accepted)
}

func TestScanSkipsUnchangedLiveCluster(t *testing.T) {
	a, b := uuid.New(), uuid.New()
	store := &fakeClusterStore{
		live: []*model.Cluster{{MemberIDs: []uuid.UUID{a, b}, AverageCohesion: 0.9}},
	}
	d := NewDetector(store, "sqlite3", Config{
		Algorithm: "louvain", MinClusterSize: 2, MaxClusterSize: 10,
		MinCohesion: 0.5, MaxIterations: 50, ClusterTTL: time.Hour,
	})
	d.Observe(model.PairCorrelation{PointA: a, PointB: b, R: 0.9})

	accepted, err := d.Scan(false)
	require.NoError(t, err)
	assert.Empty(t, accepted, "cohesion within tolerance of the live cluster should not re-emit")
}
