// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"

	"github.com/fieldflywheel/ingest-flywheel/pkg/log"
)

// AdapterConfig configures one source-adapter instance (§6 "Adapter
// configuration options").
type AdapterConfig struct {
	Name                string          `json:"name"`
	Kind                string          `json:"kind"` // pull|push|replay
	PollIntervalMs      int64           `json:"poll_interval_ms"`
	PointFilters        []string        `json:"point_filters"`
	MaxDiscoveredPoints int             `json:"max_discovered_points"`
	BatchSize           int             `json:"batch_size"`
	ChannelCapacity     int             `json:"channel_capacity"`
	DropPolicy          string          `json:"drop_policy"` // oldest|block; adapters.Build ignores it, push adapters always drop oldest
	Connection          json.RawMessage `json:"connection"`
}

// BehaviorConfig holds the Behavioral Aggregator's tunables (§4.D, §6).
type BehaviorConfig struct {
	MinSamplesForBehavior int64   `json:"min_samples_for_behavior"`
	PublishIntervalS      int64   `json:"publish_interval_s"`
	BehaviorCacheTTLH     float64 `json:"behavior_cache_ttl_h"`
	MaxPointsInMemory     int     `json:"max_points_in_memory"`
}

// CorrelationConfig holds the Correlation Engine's tunables (§4.E, §6).
type CorrelationConfig struct {
	MinOverlap   int64   `json:"min_overlap"`
	SignificantR float64 `json:"significant_r"`
	MaxFFMs      int64   `json:"max_ff_ms"`
	MaxLagSteps  int     `json:"max_lag_steps"`
}

// ClusterConfig holds the Cluster Detector's tunables (§4.F, §6).
type ClusterConfig struct {
	Algorithm       string  `json:"cluster_algorithm"` // louvain|dbscan
	MinClusterSize  int     `json:"min_cluster_size"`
	MaxClusterSize  int     `json:"max_cluster_size"`
	MinCohesion     float64 `json:"min_cohesion"`
	DBSCANEps       float64 `json:"dbscan_eps"`
	DBSCANMinPoints int     `json:"dbscan_min_points"`
	MaxIterations   int     `json:"max_iterations"`
	ScanIntervalS   int64   `json:"scan_interval_s"`
	ClusterTTLH     float64 `json:"cluster_ttl_h"`
}

// MatchingConfig holds the Pattern Matcher's tunables (§4.G, §6).
type MatchingConfig struct {
	WNaming       float64 `json:"w_naming"`
	WCorrelation  float64 `json:"w_correlation"`
	WRange        float64 `json:"w_range"`
	WRate         float64 `json:"w_rate"`
	MinRoleScore  float64 `json:"min_role_score"`
	MinOverall    float64 `json:"min_overall"`
	MaxPerCluster int     `json:"max_per_cluster"`
}

// FeedbackConfig holds the Feedback Learner's tunables (§4.H, §6).
type FeedbackConfig struct {
	DeltaUp                  float64 `json:"delta_up"`
	DeltaDown                float64 `json:"delta_down"`
	ConfidenceFloor          float64 `json:"confidence_floor"`
	InitialPatternConfidence float64 `json:"initial_pattern_confidence"`
}

// ProgramConfig is the flywheel's top-level configuration document.
type ProgramConfig struct {
	HealthAddr string `json:"health_addr"`

	DBDriver string `json:"db_driver"`
	DB       string `json:"db"`

	Nats json.RawMessage `json:"nats"`

	Adapters []AdapterConfig `json:"adapters"`

	Behavior    BehaviorConfig    `json:"behavior"`
	Correlation CorrelationConfig `json:"correlation"`
	Cluster     ClusterConfig     `json:"cluster"`
	Matching    MatchingConfig    `json:"matching"`
	Feedback    FeedbackConfig    `json:"feedback"`

	Archive  json.RawMessage `json:"archive"`
	Validate bool            `json:"validate"`
}

var Keys ProgramConfig = ProgramConfig{
	HealthAddr: ":8090",
	DBDriver:   "sqlite3",
	DB:         "./var/flywheel.db",
	Behavior: BehaviorConfig{
		MinSamplesForBehavior: 30,
		PublishIntervalS:      60,
		BehaviorCacheTTLH:     24,
		MaxPointsInMemory:     50000,
	},
	Correlation: CorrelationConfig{
		MinOverlap:   30,
		SignificantR: 0.7,
		MaxFFMs:      60000,
		MaxLagSteps:  0,
	},
	Cluster: ClusterConfig{
		Algorithm:       "louvain",
		MinClusterSize:  2,
		MaxClusterSize:  32,
		MinCohesion:     0.6,
		DBSCANEps:       0.3,
		DBSCANMinPoints: 2,
		MaxIterations:   100,
		ScanIntervalS:   30,
		ClusterTTLH:     6,
	},
	Matching: MatchingConfig{
		WNaming:       0.4,
		WCorrelation:  0.3,
		WRange:        0.2,
		WRate:         0.1,
		MinRoleScore:  0.3,
		MinOverall:    0.6,
		MaxPerCluster: 3,
	},
	Feedback: FeedbackConfig{
		DeltaUp:                  0.05,
		DeltaDown:                0.10,
		ConfidenceFloor:          0.1,
		InitialPatternConfidence: 0.5,
	},
	Archive: json.RawMessage(`{"kind":"file","path":"./var/archive"}`),
}

// Init reads flagConfigFile, validates it against the embedded JSON schema
// when requested, and decodes it over the defaults in Keys. A missing file
// is not an error: the defaults above apply.
func Init(flagConfigFile string) error {
	raw, err := os.ReadFile(flagConfigFile)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&Keys); err != nil {
		return fmt.Errorf("decode config: %w", err)
	}

	if Keys.Validate {
		if err := Validate(ConfigSchema, raw); err != nil {
			return fmt.Errorf("validate config: %w", err)
		}
	}

	if len(Keys.Adapters) < 1 {
		log.Warn("no adapters configured")
	}

	return nil
}
