package orchestrator

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/fieldflywheel/ingest-flywheel/internal/behavior"
	"github.com/fieldflywheel/ingest-flywheel/internal/bus"
	"github.com/fieldflywheel/ingest-flywheel/internal/cluster"
	"github.com/fieldflywheel/ingest-flywheel/internal/correlation"
	"github.com/fieldflywheel/ingest-flywheel/internal/currentvalue"
	"github.com/fieldflywheel/ingest-flywheel/internal/feedback"
	"github.com/fieldflywheel/ingest-flywheel/internal/ingest"
	"github.com/fieldflywheel/ingest-flywheel/internal/model"
	"github.com/fieldflywheel/ingest-flywheel/internal/pattern"
	"github.com/fieldflywheel/ingest-flywheel/internal/tsstore"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePointRepo struct {
	byAddress map[string]*model.Point
	bySeq     map[int64]*model.Point
	byID      map[uuid.UUID]*model.Point
}

func (f *fakePointRepo) PointByAddress(address string) (*model.Point, error) {
	return f.byAddress[address], nil
}

func (f *fakePointRepo) PointBySequenceID(seq int64) (*model.Point, error) {
	return f.bySeq[seq], nil
}

func (f *fakePointRepo) PointsByDataSource(dataSourceID uuid.UUID) ([]*model.Point, error) {
	var out []*model.Point
	for _, p := range f.bySeq {
		out = append(out, p)
	}
	return out, nil
}

func (f *fakePointRepo) PointsByIDs(ids []uuid.UUID) ([]*model.Point, error) {
	var out []*model.Point
	for _, id := range ids {
		if p, ok := f.byID[id]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

type fakeCorrStore struct{ upserts int }

func (f *fakeCorrStore) UpsertCorrelation(driver string, c *model.PairCorrelation) error {
	f.upserts++
	return nil
}

type fakeClusterStore struct{ live []*model.Cluster }

func (f *fakeClusterStore) UpsertCluster(driver string, c *model.Cluster) (*model.Cluster, error) {
	f.live = append(f.live, c)
	return c, nil
}

func (f *fakeClusterStore) LiveClusters() ([]*model.Cluster, error) { return f.live, nil }

type fakeSuggestionRepo struct {
	created  []*model.Suggestion
	patterns []*model.Pattern
}

func (f *fakeSuggestionRepo) CreateSuggestion(s *model.Suggestion) (*model.Suggestion, error) {
	f.created = append(f.created, s)
	return s, nil
}

func (f *fakeSuggestionRepo) ExpirePendingSuggestions(olderThan time.Time) (int64, error) {
	return 0, nil
}

func (f *fakeSuggestionRepo) ActivePatterns() ([]*model.Pattern, error) { return f.patterns, nil }

func (f *fakeSuggestionRepo) ExpiredClusters() ([]*model.Cluster, error) { return nil, nil }

func (f *fakeSuggestionRepo) SuggestionsByCluster(clusterID uuid.UUID) ([]*model.Suggestion, error) {
	return nil, nil
}

func (f *fakeSuggestionRepo) FeedbackForSuggestion(suggestionID uuid.UUID) ([]*model.FeedbackRecord, error) {
	return nil, nil
}

func (f *fakeSuggestionRepo) PatternByID(id uuid.UUID) (*model.Pattern, error) { return nil, nil }

func (f *fakeSuggestionRepo) DeleteCluster(id uuid.UUID) error { return nil }

type fakeFeedbackStore struct{}

func (fakeFeedbackStore) SuggestionByID(id uuid.UUID) (*model.Suggestion, error) { return nil, nil }
func (fakeFeedbackStore) PatternByID(id uuid.UUID) (*model.Pattern, error)       { return nil, nil }

func beginStub(driver string) (feedback.ApprovalTransaction, error) {
	return nil, nil
}

func newTestOrchestrator(t *testing.T) (*Orchestrator, *bus.MemoryBus, *fakeSuggestionRepo) {
	t.Helper()

	pointA := &model.Point{ID: uuid.New(), SequenceID: 1, Name: "supply.temp", Address: "addr.a"}
	pointB := &model.Point{ID: uuid.New(), SequenceID: 2, Name: "return.temp", Address: "addr.b"}
	repo := &fakePointRepo{
		byAddress: map[string]*model.Point{"addr.a": pointA, "addr.b": pointB},
		bySeq:     map[int64]*model.Point{1: pointA, 2: pointB},
		byID:      map[uuid.UUID]*model.Point{pointA.ID: pointA, pointB.ID: pointB},
	}

	memBus := bus.NewMemoryBus()
	suggestionRepo := &fakeSuggestionRepo{}

	current := currentvalue.New()
	store := tsstore.NewMemoryStore()
	consumer, err := ingest.New(repo, store, current, 128, time.Minute)
	require.NoError(t, err)

	agg := behavior.New(behavior.Config{MinSamplesForBehavior: 1, PublishIntervalS: 0, MaxPointsInMemory: 100})
	cache := behavior.NewCache(0)

	corr := correlation.New(repo, store, &fakeCorrStore{}, "sqlite3", correlation.Config{MinOverlap: 1, SignificantR: 0.5})
	det := cluster.NewDetector(&fakeClusterStore{}, "sqlite3", cluster.Config{Algorithm: "louvain", MinClusterSize: 2, MaxClusterSize: 10, MinCohesion: 0.1, MaxIterations: 10, ClusterTTL: time.Hour})
	matcher := pattern.New(repo, suggestionRepo, cache, pattern.Config{WNaming: 0.4, WCorrelation: 0.3, WRange: 0.2, WRate: 0.1, MinRoleScore: 0.1, MinOverall: 0.01, MaxPerCluster: 5})
	learner := feedback.New(fakeFeedbackStore{}, beginStub, memBus, "sqlite3", feedback.Config{DeltaUp: 0.05, DeltaDown: 0.1, ConfidenceFloor: 0.1})

	o, err := New(memBus, suggestionRepo, nil, consumer, agg, cache, corr, det, matcher, learner, Config{
		ClusterScanFallback:  time.Hour,
		CachePurgeInterval:   time.Hour,
		ConfidenceSnapshotIv: time.Hour,
		ExpirySweepInterval:  time.Hour,
		UnresolvedSweepIv:    time.Hour,
		CorrelationWindow:    time.Hour,
	})
	require.NoError(t, err)
	return o, memBus, suggestionRepo
}

func TestStartPublishesBehaviorOnFirstSample(t *testing.T) {
	o, memBus, _ := newTestOrchestrator(t)

	var captured []byte
	_, err := memBus.Subscribe(context.Background(), bus.TopicBehavior, bus.ConsumerGroup{}, func(ctx context.Context, msg *bus.Message) error {
		captured = msg.Data
		return msg.Ack()
	})
	require.NoError(t, err)

	require.NoError(t, o.Start(context.Background()))
	defer o.Stop()

	batch := model.RawSampleBatch{
		BatchID: uuid.New(),
		Points: []model.RawSample{
			{Address: "addr.a", TimestampUTC: time.Now().UTC(), Value: 21.5, Quality: model.QualityGood},
		},
	}
	data, err := json.Marshal(batch)
	require.NoError(t, err)

	require.NoError(t, memBus.Publish(context.Background(), bus.TopicRawSamples, "addr.a", data))

	require.NotNil(t, captured)
	var pb model.PointBehavior
	require.NoError(t, json.Unmarshal(captured, &pb))
	assert.Equal(t, int64(1), pb.SequenceID)
}

func TestClusterScanFallbackSkipsAfterRecentScan(t *testing.T) {
	o, _, _ := newTestOrchestrator(t)
	o.cfg.ClusterScanFallback = time.Hour
	o.markScanned()

	before := o.sinceLastScan()
	o.clusterScanFallback(context.Background())
	after := o.sinceLastScan()

	assert.True(t, after <= before, "scan should not have run again so recently")
}

func TestClusterScanFallbackRunsWhenStale(t *testing.T) {
	o, _, _ := newTestOrchestrator(t)
	o.cfg.ClusterScanFallback = time.Millisecond
	o.mu.Lock()
	o.lastScanAt = time.Now().Add(-time.Hour)
	o.mu.Unlock()

	o.clusterScanFallback(context.Background())

	assert.True(t, o.sinceLastScan() < time.Second)
}

func TestExpirySweepPublishesUnresolvedToDLQ(t *testing.T) {
	o, memBus, _ := newTestOrchestrator(t)
	o.ingestConsumer = mustConsumerWithZeroRetry(t, o)

	var dlq []byte
	_, err := memBus.Subscribe(context.Background(), bus.TopicDLQ, bus.ConsumerGroup{}, func(ctx context.Context, msg *bus.Message) error {
		dlq = msg.Data
		return msg.Ack()
	})
	require.NoError(t, err)
	_, err = memBus.Subscribe(context.Background(), bus.TopicRawSamples, bus.ConsumerGroup{}, o.ingestConsumer.Handler())
	require.NoError(t, err)

	batch := model.RawSampleBatch{
		BatchID: uuid.New(),
		Points:  []model.RawSample{{Address: "addr.unknown", TimestampUTC: time.Now().UTC(), Value: 1, Quality: model.QualityGood}},
	}
	payload := marshal(t, batch)
	require.NoError(t, memBus.Publish(context.Background(), bus.TopicRawSamples, "addr.unknown", payload))

	time.Sleep(2 * time.Millisecond)
	o.expirySweep()

	assert.Equal(t, payload, dlq, "datapoints.dlq must carry the original batch payload, not a re-marshaled sample")
}

func TestCachePurgeAndSnapshotDoNotError(t *testing.T) {
	o, _, repo := newTestOrchestrator(t)
	repo.patterns = []*model.Pattern{{ID: uuid.New(), Name: "chiller.pair", Confidence: 0.8}}

	o.cachePurge()
	o.patternConfidenceSnapshot()
}

func TestStopAfterStartDoesNotBlock(t *testing.T) {
	o, _, _ := newTestOrchestrator(t)
	require.NoError(t, o.Start(context.Background()))
	assert.NoError(t, o.Stop())
}

func mustConsumerWithZeroRetry(t *testing.T, o *Orchestrator) *ingest.Consumer {
	t.Helper()
	repo := &fakePointRepo{byAddress: map[string]*model.Point{}, bySeq: map[int64]*model.Point{}, byID: map[uuid.UUID]*model.Point{}}
	current := currentvalue.New()
	store := tsstore.NewMemoryStore()
	c, err := ingest.New(repo, store, current, 128, 0)
	require.NoError(t, err)
	return c
}

func marshal(t *testing.T, v any) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return data
}
