// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-backend.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Command flywheel runs the field data flywheel: source adapters feed
// samples through the ingestion bus into the behavioral, correlation,
// cluster and pattern-matching stages, which together surface naming
// suggestions a human reviewer approves or rejects.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"sync"
	"syscall"
	"time"

	"github.com/fieldflywheel/ingest-flywheel/internal/adapters"
	"github.com/fieldflywheel/ingest-flywheel/internal/behavior"
	"github.com/fieldflywheel/ingest-flywheel/internal/bus"
	"github.com/fieldflywheel/ingest-flywheel/internal/cluster"
	"github.com/fieldflywheel/ingest-flywheel/internal/config"
	"github.com/fieldflywheel/ingest-flywheel/internal/correlation"
	"github.com/fieldflywheel/ingest-flywheel/internal/currentvalue"
	"github.com/fieldflywheel/ingest-flywheel/internal/feedback"
	"github.com/fieldflywheel/ingest-flywheel/internal/ingest"
	"github.com/fieldflywheel/ingest-flywheel/internal/model"
	"github.com/fieldflywheel/ingest-flywheel/internal/orchestrator"
	"github.com/fieldflywheel/ingest-flywheel/internal/pattern"
	"github.com/fieldflywheel/ingest-flywheel/internal/repository"
	"github.com/fieldflywheel/ingest-flywheel/internal/runtimeEnv"
	"github.com/fieldflywheel/ingest-flywheel/internal/tsstore"
	"github.com/fieldflywheel/ingest-flywheel/internal/util"
	"github.com/fieldflywheel/ingest-flywheel/pkg/archive"
	"github.com/fieldflywheel/ingest-flywheel/pkg/log"
	pkgnats "github.com/fieldflywheel/ingest-flywheel/pkg/nats"
	"github.com/google/gops/agent"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/mattn/go-sqlite3"
)

func main() {
	parseFlags()

	log.SetLogLevel(flagLogLevel)
	log.SetLogDateTime(flagLogDateTime)

	if flagVersion {
		printVersion()
		return
	}

	if flagGops {
		if err := agent.Listen(agent.Options{}); err != nil {
			log.Fatalf("gops/agent.Listen failed: %s", err.Error())
		}
	}

	if err := runtimeEnv.LoadEnv("./.env"); err != nil && !os.IsNotExist(err) {
		log.Fatalf("parsing './.env' file failed: %s", err.Error())
	}

	if err := config.Init(flagConfigFile); err != nil {
		log.Fatal(err)
	}
	if err := config.WatchForReload(flagConfigFile); err != nil {
		log.Warnf("config: hot-reload watch not established: %v", err)
	}

	if dsn := os.Getenv("FLYWHEEL_DB"); dsn != "" {
		config.Keys.DB = dsn
	}

	repository.Connect(config.Keys.DBDriver, config.Keys.DB)
	repository.MigrateDB(config.Keys.DBDriver, config.Keys.DB)

	if flagMigrateDB {
		return
	}

	if err := pkgnats.Init(config.Keys.Nats); err != nil {
		log.Fatal(err)
	}
	pkgnats.Connect()

	if err := archive.Init(config.Keys.Archive); err != nil {
		log.Fatal(err)
	}

	repo := repository.GetRepository()

	b, closeBus, err := buildBus()
	if err != nil {
		log.Fatal(err)
	}
	defer closeBus()

	orch, err := buildOrchestrator(repo, b)
	if err != nil {
		log.Fatal(err)
	}

	if flagNoRun {
		return
	}

	debug.SetGCPercent(25)

	healthSrv := startHealthServer(config.Keys.HealthAddr)

	ctx := context.Background()
	if err := orch.Start(ctx); err != nil {
		log.Fatal(err)
	}
	log.Info("flywheel: orchestrator started")
	runtimeEnv.SystemdNotifiy(true, "running")

	var wg sync.WaitGroup
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	wg.Add(1)
	go func() {
		defer wg.Done()
		<-sigs
		runtimeEnv.SystemdNotifiy(false, "shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		healthSrv.Shutdown(shutdownCtx)

		if err := orch.Stop(); err != nil {
			log.Errorf("flywheel: error during shutdown: %s", err.Error())
		}
		if err := archive.GetHandle().Close(); err != nil {
			log.Errorf("flywheel: error closing archive backend: %s", err.Error())
		}
		util.FsWatcherShutdown()
	}()
	wg.Wait()
}

func printVersion() {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		fmt.Println("flywheel: version unknown")
		return
	}
	fmt.Printf("flywheel %s (%s)\n", info.Main.Version, info.GoVersion)
}

// startHealthServer exposes a minimal liveness endpoint and the
// Prometheus scrape endpoint; the admin dashboards, auth and GraphQL
// surfaces of the teacher's web UI are out of scope for this process
// entirely.
func startHealthServer(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Errorf("flywheel: health server: %s", err.Error())
		}
	}()
	return srv
}

// buildBus constructs the JetStream-backed bus. A nil NATS connection
// (address unset) falls back to the in-process memory bus so the
// process still runs standalone for local experimentation.
func buildBus() (bus.Bus, func(), error) {
	client := pkgnats.GetClient()
	if client == nil || !client.IsConnected() {
		log.Warn("flywheel: no NATS connection, using in-process memory bus")
		return bus.NewMemoryBus(), func() {}, nil
	}

	jb, err := bus.NewJetStreamBus(context.Background(), client.Connection(), bus.JetStreamConfig{})
	if err != nil {
		return nil, nil, fmt.Errorf("jetstream bus: %w", err)
	}
	return jb, func() {}, nil
}

// buildOrchestrator wires every analysis stage from config.Keys and
// returns the assembled, not-yet-started Orchestrator.
func buildOrchestrator(repo *repository.Repository, b bus.Bus) (*orchestrator.Orchestrator, error) {
	store := tsstore.NewMemoryStore()
	current := currentvalue.New()

	consumer, err := ingest.New(repo, store, current, 4096, 10*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("ingest consumer: %w", err)
	}

	agg := behavior.New(behavior.Config{
		MinSamplesForBehavior: config.Keys.Behavior.MinSamplesForBehavior,
		PublishIntervalS:      config.Keys.Behavior.PublishIntervalS,
		MaxPointsInMemory:     config.Keys.Behavior.MaxPointsInMemory,
	})
	cache := behavior.NewCache(time.Duration(config.Keys.Behavior.BehaviorCacheTTLH * float64(time.Hour)))

	corrEngine := correlation.New(repo, store, repo, config.Keys.DBDriver, correlation.Config{
		MinOverlap:   config.Keys.Correlation.MinOverlap,
		SignificantR: config.Keys.Correlation.SignificantR,
		MaxFFMs:      config.Keys.Correlation.MaxFFMs,
		MaxLagSteps:  config.Keys.Correlation.MaxLagSteps,
	})

	clusterDet := cluster.NewDetector(repo, config.Keys.DBDriver, cluster.Config{
		Algorithm:       config.Keys.Cluster.Algorithm,
		MinClusterSize:  config.Keys.Cluster.MinClusterSize,
		MaxClusterSize:  config.Keys.Cluster.MaxClusterSize,
		MinCohesion:     config.Keys.Cluster.MinCohesion,
		DBSCANEps:       config.Keys.Cluster.DBSCANEps,
		DBSCANMinPoints: config.Keys.Cluster.DBSCANMinPoints,
		MaxIterations:   config.Keys.Cluster.MaxIterations,
		ClusterTTL:      time.Duration(config.Keys.Cluster.ClusterTTLH * float64(time.Hour)),
	})

	matcher := pattern.New(repo, repo, cache, pattern.Config{
		WNaming:       config.Keys.Matching.WNaming,
		WCorrelation:  config.Keys.Matching.WCorrelation,
		WRange:        config.Keys.Matching.WRange,
		WRate:         config.Keys.Matching.WRate,
		MinRoleScore:  config.Keys.Matching.MinRoleScore,
		MinOverall:    config.Keys.Matching.MinOverall,
		MaxPerCluster: config.Keys.Matching.MaxPerCluster,
	})

	learner := feedback.New(repo, func(driver string) (feedback.ApprovalTransaction, error) {
		tx, err := repo.BeginApproval(driver)
		if err != nil {
			return nil, err
		}
		return tx, nil
	}, b, config.Keys.DBDriver, feedback.Config{
		DeltaUp:         config.Keys.Feedback.DeltaUp,
		DeltaDown:       config.Keys.Feedback.DeltaDown,
		ConfidenceFloor: config.Keys.Feedback.ConfidenceFloor,
	})

	runners, err := buildAdapters(repo, b)
	if err != nil {
		return nil, err
	}

	return orchestrator.New(b, repo, runners, consumer, agg, cache, corrEngine, clusterDet, matcher, learner, orchestrator.Config{
		ClusterScanFallback:  time.Duration(config.Keys.Cluster.ScanIntervalS) * time.Second,
		CachePurgeInterval:   time.Hour,
		ConfidenceSnapshotIv: time.Hour,
		ExpirySweepInterval:  15 * time.Minute,
		SuggestionTTL:        7 * 24 * time.Hour,
		UnresolvedSweepIv:    time.Minute,
		CorrelationWindow:    time.Duration(config.Keys.Correlation.MaxFFMs) * time.Millisecond,
		IngestGroup:          bus.ConsumerGroup{Name: "ingest"},
		BehaviorGroup:        bus.ConsumerGroup{Name: "behavior"},
		CorrelationGroup:     bus.ConsumerGroup{Name: "correlation"},
		ClusterGroup:         bus.ConsumerGroup{Name: "cluster"},
		FeedbackGroup:        bus.ConsumerGroup{Name: "feedback"},
	})
}

// buildAdapters resolves (creating if necessary) a DataSource row per
// configured adapter and builds its runnable loop via adapters.Build.
func buildAdapters(repo *repository.Repository, b bus.Bus) ([]orchestrator.AdapterRunner, error) {
	existing, err := repo.ListDataSources()
	if err != nil {
		return nil, fmt.Errorf("list data sources: %w", err)
	}
	byName := make(map[string]*model.DataSource, len(existing))
	for _, ds := range existing {
		byName[ds.Name] = ds
	}

	registerLineProtocolPushSources(config.Keys.Adapters)

	var runners []orchestrator.AdapterRunner
	for _, cfg := range config.Keys.Adapters {
		ds, ok := byName[cfg.Name]
		if !ok {
			ds, err = repo.CreateDataSource(&model.DataSource{
				ID:               uuid.New(),
				Name:             cfg.Name,
				Kind:             model.DataSourceKind(cfg.Kind),
				ConnectionConfig: []byte(cfg.Connection),
				Status:           model.DataSourceHealthy,
			})
			if err != nil {
				return nil, fmt.Errorf("create data source %q: %w", cfg.Name, err)
			}
		}

		dataSourceID := ds.ID
		emit := func(batch model.RawSampleBatch) {
			raw, err := json.Marshal(batch)
			if err != nil {
				log.Errorf("flywheel: marshal raw sample batch: %s", err.Error())
				return
			}
			if err := b.Publish(context.Background(), bus.TopicRawSamples, dataSourceID.String(), raw); err != nil {
				log.Errorf("flywheel: publish batch from %q: %s", cfg.Name, err.Error())
			}
		}

		name, run, err := adapters.Build(cfg, ds.ID, emit)
		if err != nil {
			log.Warnf("flywheel: adapter %q not started: %s", cfg.Name, err.Error())
			continue
		}
		runners = append(runners, orchestrator.AdapterRunner{Name: name, Run: run})
	}
	return runners, nil
}

// registerLineProtocolPushSources wires a pkgnats.LineProtocolSource for
// every push adapter whose connection config names a NATS subject,
// exercising the line-protocol/v2 decode path declared in SPEC_FULL.md.
func registerLineProtocolPushSources(cfgs []config.AdapterConfig) {
	for _, cfg := range cfgs {
		if cfg.Kind != "push" {
			continue
		}
		var conn struct {
			NatsSubject string `json:"nats_subject"`
		}
		if len(cfg.Connection) == 0 {
			continue
		}
		if err := json.Unmarshal(cfg.Connection, &conn); err != nil || conn.NatsSubject == "" {
			continue
		}
		client := pkgnats.GetClient()
		if client == nil {
			log.Warnf("flywheel: adapter %q wants NATS subject %q but no NATS connection is configured", cfg.Name, conn.NatsSubject)
			continue
		}
		adapters.RegisterPushSource(cfg.Name, pkgnats.NewLineProtocolSource(client, conn.NatsSubject))
	}
}
