// Package orchestrator owns the flywheel's background service lifecycle
// (§4.I): start adapters, start consumer workers, start analysis workers,
// start scheduled jobs, and reverse that order cleanly on shutdown.
// Adapted from the teacher's internal/taskmanager (gocron-based scheduler)
// and cmd/cc-backend/main.go's sync.WaitGroup + signal shutdown sequence.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/fieldflywheel/ingest-flywheel/internal/archiver"
	"github.com/fieldflywheel/ingest-flywheel/internal/behavior"
	"github.com/fieldflywheel/ingest-flywheel/internal/bus"
	"github.com/fieldflywheel/ingest-flywheel/internal/cluster"
	"github.com/fieldflywheel/ingest-flywheel/internal/correlation"
	"github.com/fieldflywheel/ingest-flywheel/internal/feedback"
	"github.com/fieldflywheel/ingest-flywheel/internal/ingest"
	"github.com/fieldflywheel/ingest-flywheel/internal/metrics"
	"github.com/fieldflywheel/ingest-flywheel/internal/model"
	"github.com/fieldflywheel/ingest-flywheel/internal/pattern"
	"github.com/fieldflywheel/ingest-flywheel/pkg/log"
	"github.com/go-co-op/gocron/v2"
	"github.com/google/uuid"
)

// SuggestionRepository is the subset of *repository.Repository the
// orchestrator drives directly (the rest is reached through the
// component constructors passed into New). It also satisfies
// archiver.ArchiverRepository, so the cache-purge job can hand it straight
// to archiver.ArchiveExpiredClusters.
type SuggestionRepository interface {
	CreateSuggestion(s *model.Suggestion) (*model.Suggestion, error)
	ExpirePendingSuggestions(olderThan time.Time) (int64, error)
	ActivePatterns() ([]*model.Pattern, error)

	ExpiredClusters() ([]*model.Cluster, error)
	SuggestionsByCluster(clusterID uuid.UUID) ([]*model.Suggestion, error)
	FeedbackForSuggestion(suggestionID uuid.UUID) ([]*model.FeedbackRecord, error)
	PatternByID(id uuid.UUID) (*model.Pattern, error)
	DeleteCluster(id uuid.UUID) error
}

// AdapterRunner is one running source adapter, reduced to the single
// method the orchestrator needs to supervise it; cmd/flywheel builds the
// concrete adapters.Adapter and wraps its Run/Start method into this
// shape so the orchestrator stays decoupled from adapter kinds (§4.A
// "no inheritance hierarchy").
type AdapterRunner struct {
	Name string
	Run  func(ctx context.Context) error
}

// Config mirrors the scheduling-relevant slice of config.ProgramConfig.
type Config struct {
	ClusterScanFallback  time.Duration
	CachePurgeInterval   time.Duration
	ConfidenceSnapshotIv time.Duration
	ExpirySweepInterval  time.Duration
	SuggestionTTL        time.Duration
	UnresolvedSweepIv    time.Duration
	CorrelationWindow    time.Duration

	IngestGroup      bus.ConsumerGroup
	BehaviorGroup    bus.ConsumerGroup
	CorrelationGroup bus.ConsumerGroup
	ClusterGroup     bus.ConsumerGroup
	FeedbackGroup    bus.ConsumerGroup
}

// Orchestrator wires every pipeline stage together and owns their
// combined lifecycle.
type Orchestrator struct {
	bus      bus.Bus
	repo     SuggestionRepository
	adapters []AdapterRunner

	ingestConsumer *ingest.Consumer
	behaviorAgg    *behavior.Aggregator
	behaviorCache  *behavior.Cache
	corrEngine     *correlation.Engine
	clusterDet     *cluster.Detector
	matcher        *pattern.Matcher
	learner        *feedback.Learner

	cfg Config

	scheduler gocron.Scheduler

	mu         sync.Mutex
	lastScanAt time.Time
	subs       []bus.Subscription
	cancel     context.CancelFunc
	wg         sync.WaitGroup
}

// New assembles an Orchestrator from its already-constructed stages.
// Every stage is built by cmd/flywheel's init sequence and handed in
// fully formed, keeping this package free of storage/transport wiring
// concerns.
func New(
	b bus.Bus,
	repo SuggestionRepository,
	adapters []AdapterRunner,
	ingestConsumer *ingest.Consumer,
	behaviorAgg *behavior.Aggregator,
	behaviorCache *behavior.Cache,
	corrEngine *correlation.Engine,
	clusterDet *cluster.Detector,
	matcher *pattern.Matcher,
	learner *feedback.Learner,
	cfg Config,
) (*Orchestrator, error) {
	scheduler, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("orchestrator: create scheduler: %w", err)
	}
	return &Orchestrator{
		bus: b, repo: repo, adapters: adapters,
		ingestConsumer: ingestConsumer, behaviorAgg: behaviorAgg, behaviorCache: behaviorCache,
		corrEngine: corrEngine, clusterDet: clusterDet, matcher: matcher, learner: learner,
		cfg: cfg, scheduler: scheduler,
	}, nil
}

// Start brings up every stage in order: adapters, consumer workers,
// analysis workers, scheduled jobs (§4.I). It returns once everything is
// running; components continue in background goroutines until Stop.
func (o *Orchestrator) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	o.cancel = cancel

	o.ingestConsumer.OnSample(o.onSample)

	o.startAdapters(ctx)

	if err := o.subscribe(ctx, bus.TopicRawSamples, o.cfg.IngestGroup, o.ingestConsumer.Handler()); err != nil {
		return err
	}
	if err := o.subscribe(ctx, bus.TopicBehavior, o.cfg.BehaviorGroup, o.behaviorHandler()); err != nil {
		return err
	}
	if err := o.subscribe(ctx, bus.TopicCorrelations, o.cfg.CorrelationGroup, o.correlationHandler()); err != nil {
		return err
	}
	if err := o.subscribe(ctx, bus.TopicClusters, o.cfg.ClusterGroup, o.clusterHandler()); err != nil {
		return err
	}
	if err := o.subscribe(ctx, bus.TopicFeedback, o.cfg.FeedbackGroup, o.learner.Handler()); err != nil {
		return err
	}

	if err := o.registerScheduledJobs(ctx); err != nil {
		return err
	}
	o.scheduler.Start()

	log.Info("orchestrator: started")
	return nil
}

func (o *Orchestrator) startAdapters(ctx context.Context) {
	for _, a := range o.adapters {
		a := a
		o.wg.Add(1)
		go func() {
			defer o.wg.Done()
			if err := a.Run(ctx); err != nil && ctx.Err() == nil {
				log.Errorf("orchestrator: adapter %s stopped: %v", a.Name, err)
			}
		}()
	}
}

func (o *Orchestrator) subscribe(ctx context.Context, topic string, group bus.ConsumerGroup, handler bus.Handler) error {
	sub, err := o.bus.Subscribe(ctx, topic, group, handler)
	if err != nil {
		return fmt.Errorf("orchestrator: subscribe %s: %w", topic, err)
	}
	o.subs = append(o.subs, sub)
	return nil
}

// onSample feeds one resolved ingestion sample into the Behavioral
// Aggregator and publishes points.behavior when the publish rule fires
// (§4.D, §4.I consumer-to-analysis handoff).
func (o *Orchestrator) onSample(point *model.Point, sample model.Sample) {
	cached, _ := o.behaviorCache.Get(point.ID)
	o.behaviorAgg.Observe(*point, sample, func(evicted model.PointBehavior) {
		o.behaviorCache.Put(evicted)
	})

	pb, ok := o.behaviorAgg.ShouldPublish(point.SequenceID, cached)
	if !ok {
		return
	}
	pb.PointID = point.ID
	pb.ProducedAt = time.Now().UTC()
	o.behaviorCache.Put(pb)

	data, err := json.Marshal(pb)
	if err != nil {
		log.Warnf("orchestrator: marshal points.behavior for point %s failed: %v", point.ID, err)
		return
	}
	if err := o.bus.Publish(context.Background(), bus.TopicBehavior, point.ID.String(), data); err != nil {
		log.Warnf("orchestrator: publishing points.behavior for point %s failed: %v", point.ID, err)
	}
}

func (o *Orchestrator) behaviorHandler() bus.Handler {
	return func(ctx context.Context, msg *bus.Message) error {
		var pb model.PointBehavior
		if err := json.Unmarshal(msg.Data, &pb); err != nil {
			return firstErr(msg.Term())
		}

		pairs, err := o.corrEngine.Process(pb.SequenceID, o.cfg.CorrelationWindow)
		if err != nil {
			log.Warnf("orchestrator: correlation pass for point %s failed: %v", pb.PointID, err)
			return msg.Ack()
		}
		if len(pairs) == 0 {
			return msg.Ack()
		}

		event := model.CorrelationsUpdatedEvent{Pairs: pairs, ProducedAt: time.Now().UTC()}
		data, err := json.Marshal(event)
		if err != nil {
			log.Warnf("orchestrator: marshal correlations.updated failed: %v", err)
			return msg.Ack()
		}
		if err := o.bus.Publish(ctx, bus.TopicCorrelations, pb.PointID.String(), data); err != nil {
			log.Warnf("orchestrator: publishing correlations.updated failed: %v", err)
		}
		return msg.Ack()
	}
}

func (o *Orchestrator) correlationHandler() bus.Handler {
	return func(ctx context.Context, msg *bus.Message) error {
		var event model.CorrelationsUpdatedEvent
		if err := json.Unmarshal(msg.Data, &event); err != nil {
			return firstErr(msg.Term())
		}

		for _, pair := range event.Pairs {
			o.clusterDet.Observe(pair)
		}

		o.markScanned()
		clusters, err := o.clusterDet.Scan(false)
		if err != nil {
			log.Warnf("orchestrator: cluster scan failed: %v", err)
			return msg.Ack()
		}
		o.publishClusters(ctx, clusters)
		return msg.Ack()
	}
}

func (o *Orchestrator) clusterHandler() bus.Handler {
	return func(ctx context.Context, msg *bus.Message) error {
		var event model.ClustersCreatedEvent
		if err := json.Unmarshal(msg.Data, &event); err != nil {
			return firstErr(msg.Term())
		}

		var suggestions []model.Suggestion
		for _, c := range event.Clusters {
			matched, err := o.matcher.MatchCluster(c)
			if err != nil {
				log.Warnf("orchestrator: matching cluster %s failed: %v", c.ID, err)
				continue
			}
			for i := range matched {
				if o.cfg.SuggestionTTL > 0 {
					expires := time.Now().UTC().Add(o.cfg.SuggestionTTL)
					matched[i].ExpiresAt = &expires
				}
				stored, err := o.repo.CreateSuggestion(&matched[i])
				if err != nil {
					log.Warnf("orchestrator: storing suggestion for cluster %s failed: %v", c.ID, err)
					continue
				}
				suggestions = append(suggestions, *stored)
			}
		}
		if len(suggestions) == 0 {
			return msg.Ack()
		}

		data, err := json.Marshal(model.SuggestionsCreatedEvent{Suggestions: suggestions, ProducedAt: time.Now().UTC()})
		if err != nil {
			log.Warnf("orchestrator: marshal suggestions.created failed: %v", err)
			return msg.Ack()
		}
		if err := o.bus.Publish(ctx, bus.TopicSuggestions, "", data); err != nil {
			log.Warnf("orchestrator: publishing suggestions.created failed: %v", err)
		}
		return msg.Ack()
	}
}

func (o *Orchestrator) publishClusters(ctx context.Context, clusters []model.Cluster) {
	if len(clusters) == 0 {
		return
	}
	data, err := json.Marshal(model.ClustersCreatedEvent{Clusters: clusters, ProducedAt: time.Now().UTC()})
	if err != nil {
		log.Warnf("orchestrator: marshal clusters.created failed: %v", err)
		return
	}
	if err := o.bus.Publish(ctx, bus.TopicClusters, "", data); err != nil {
		log.Warnf("orchestrator: publishing clusters.created failed: %v", err)
	}
}

func (o *Orchestrator) markScanned() {
	o.mu.Lock()
	o.lastScanAt = time.Now()
	o.mu.Unlock()
}

func (o *Orchestrator) sinceLastScan() time.Duration {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.lastScanAt.IsZero() {
		return time.Hour * 24 * 365
	}
	return time.Since(o.lastScanAt)
}

// registerScheduledJobs wires the four background jobs named in §4.I
// (cluster-scan-fallback, cache-purge, pattern-confidence-snapshot,
// suggestion-cluster-expiry-sweep) plus unresolved-sweep, which retries
// the ingestion consumer's deferred samples.
func (o *Orchestrator) registerScheduledJobs(ctx context.Context) error {
	if o.cfg.ClusterScanFallback > 0 {
		if _, err := o.scheduler.NewJob(
			gocron.DurationJob(o.cfg.ClusterScanFallback),
			gocron.NewTask(func() { o.clusterScanFallback(ctx) }),
		); err != nil {
			return fmt.Errorf("orchestrator: register cluster-scan-fallback: %w", err)
		}
	}

	if o.cfg.CachePurgeInterval > 0 {
		if _, err := o.scheduler.NewJob(
			gocron.DurationJob(o.cfg.CachePurgeInterval),
			gocron.NewTask(func() { o.cachePurge() }),
		); err != nil {
			return fmt.Errorf("orchestrator: register cache-purge: %w", err)
		}
	}

	if o.cfg.ConfidenceSnapshotIv > 0 {
		if _, err := o.scheduler.NewJob(
			gocron.DurationJob(o.cfg.ConfidenceSnapshotIv),
			gocron.NewTask(func() { o.patternConfidenceSnapshot() }),
		); err != nil {
			return fmt.Errorf("orchestrator: register pattern-confidence-snapshot: %w", err)
		}
	}

	if o.cfg.ExpirySweepInterval > 0 {
		if _, err := o.scheduler.NewJob(
			gocron.DurationJob(o.cfg.ExpirySweepInterval),
			gocron.NewTask(func() { o.expirySweep() }),
		); err != nil {
			return fmt.Errorf("orchestrator: register suggestion-cluster-expiry-sweep: %w", err)
		}
	}

	if o.cfg.UnresolvedSweepIv > 0 {
		if _, err := o.scheduler.NewJob(
			gocron.DurationJob(o.cfg.UnresolvedSweepIv),
			gocron.NewTask(func() { o.ingestConsumer.ResolvePending() }),
		); err != nil {
			return fmt.Errorf("orchestrator: register unresolved-sweep: %w", err)
		}
	}

	return nil
}

// clusterScanFallback runs a full snapshot scan only if no event-driven
// scan fired within ClusterScanFallback, per §4.I's "fires only if no
// event-driven scan ran in the last T seconds".
func (o *Orchestrator) clusterScanFallback(ctx context.Context) {
	if o.sinceLastScan() < o.cfg.ClusterScanFallback {
		return
	}
	o.markScanned()
	clusters, err := o.clusterDet.Scan(true)
	if err != nil {
		log.Warnf("orchestrator: cluster-scan-fallback failed: %v", err)
		return
	}
	o.publishClusters(ctx, clusters)
}

func (o *Orchestrator) cachePurge() {
	n, err := archiver.ArchiveExpiredClusters(o.repo)
	if err != nil {
		log.Warnf("orchestrator: cache-purge failed: %v", err)
		return
	}
	if n > 0 {
		log.Infof("orchestrator: cache-purge archived and removed %d expired clusters", n)
	}
}

func (o *Orchestrator) patternConfidenceSnapshot() {
	patterns, err := o.repo.ActivePatterns()
	if err != nil {
		log.Warnf("orchestrator: pattern-confidence-snapshot failed: %v", err)
		return
	}
	for _, p := range patterns {
		log.Infof("orchestrator: pattern %q confidence=%.3f", p.Name, p.Confidence)
	}
}

func (o *Orchestrator) expirySweep() {
	n, err := o.repo.ExpirePendingSuggestions(time.Now().UTC())
	if err != nil {
		log.Warnf("orchestrator: suggestion-expiry-sweep failed: %v", err)
	} else if n > 0 {
		log.Infof("orchestrator: expired %d stale suggestions", n)
	}

	for _, exp := range o.ingestConsumer.ExpireUnresolved() {
		data := exp.Raw
		if len(data) == 0 {
			// No original payload on record (e.g. pre-fix state restored
			// from a snapshot): fall back to the parsed sample rather than
			// drop it silently.
			var err error
			data, err = json.Marshal(exp.Sample)
			if err != nil {
				continue
			}
		}
		if err := o.bus.Publish(context.Background(), bus.TopicDLQ, exp.Sample.Address, data); err != nil {
			log.Warnf("orchestrator: publishing to datapoints.dlq failed: %v", err)
			continue
		}
		metrics.DLQMessages.WithLabelValues(bus.TopicDLQ).Inc()
	}
}

// Stop reverses Start's order: cancel adapters so the bus drains, stop
// every subscription, shut down the scheduler, then wait for adapter
// goroutines to exit. It does not checkpoint aggregator state and does
// not close any store.
func (o *Orchestrator) Stop() error {
	if o.cancel != nil {
		o.cancel()
	}
	for _, sub := range o.subs {
		sub.Stop()
	}
	if err := o.scheduler.Shutdown(); err != nil {
		log.Warnf("orchestrator: scheduler shutdown: %v", err)
	}
	o.wg.Wait()
	log.Info("orchestrator: stopped")
	return nil
}

func firstErr(err error) error {
	if err != nil {
		return err
	}
	return fmt.Errorf("orchestrator: malformed message discarded")
}
