package cluster

import (
	"fmt"
	"time"

	"github.com/fieldflywheel/ingest-flywheel/internal/model"
	"github.com/fieldflywheel/ingest-flywheel/pkg/log"
	"github.com/google/uuid"
)

// ClusterStore is the subset of *repository.Repository the detector needs.
type ClusterStore interface {
	UpsertCluster(driver string, c *model.Cluster) (*model.Cluster, error)
	LiveClusters() ([]*model.Cluster, error)
}

// Config mirrors config.ClusterConfig.
type Config struct {
	Algorithm       string // "louvain" | "dbscan"
	MinClusterSize  int
	MaxClusterSize  int
	MinCohesion     float64
	DBSCANEps       float64
	DBSCANMinPoints int
	MaxIterations   int
	ClusterTTL      time.Duration
}

// Detector drives the correlation graph into candidate clusters and
// persists the accepted ones.
type Detector struct {
	graph  *Graph
	store  ClusterStore
	driver string
	cfg    Config
}

func NewDetector(store ClusterStore, driver string, cfg Config) *Detector {
	return &Detector{graph: NewGraph(), store: store, driver: driver, cfg: cfg}
}

// Observe folds one newly-linked pair into the correlation graph, marking
// its endpoints dirty for the next Scan.
func (d *Detector) Observe(pair model.PairCorrelation) {
	r := pair.R
	if r < 0 {
		r = -r
	}
	d.graph.AddEdge(pair.PointA, pair.PointB, r)
}

// Scan runs the configured algorithm over the dirty neighborhood (or, if
// full is true, the whole graph), accepts candidates meeting the size and
// cohesion bounds, de-duplicates against live clusters by MemberKey, and
// returns only clusters that are new or materially changed (§4.F).
func (d *Detector) Scan(full bool) ([]model.Cluster, error) {
	var adjacency map[uuid.UUID]map[uuid.UUID]float64
	if full {
		adjacency = d.graph.Snapshot()
	} else {
		adjacency = d.graph.DirtyNeighborhood()
	}
	if len(adjacency) == 0 {
		return nil, nil
	}

	var groups [][]uuid.UUID
	var algo model.ClusterAlgorithm
	switch d.cfg.Algorithm {
	case "dbscan":
		groups = DBSCAN(adjacency, d.cfg.DBSCANEps, d.cfg.DBSCANMinPoints)
		algo = model.ClusterAlgoDBSCAN
	default:
		groups = Louvain(adjacency, d.cfg.MaxIterations)
		algo = model.ClusterAlgoLouvain
	}

	live, err := d.store.LiveClusters()
	if err != nil {
		return nil, fmt.Errorf("cluster: load live clusters: %w", err)
	}
	liveByKey := make(map[string]*model.Cluster, len(live))
	for _, c := range live {
		liveByKey[c.MemberKey()] = c
	}

	var accepted []model.Cluster
	for _, members := range groups {
		if len(members) < d.cfg.MinClusterSize || len(members) > d.cfg.MaxClusterSize {
			continue
		}

		cohesion, minR, maxR := cohesionStats(adjacency, members)
		if cohesion < d.cfg.MinCohesion {
			continue
		}

		c := model.Cluster{
			ID:              uuid.New(),
			MemberIDs:       members,
			AverageCohesion: cohesion,
			MinCorrelation:  minR,
			MaxCorrelation:  maxR,
			Algorithm:       algo,
			Source:          model.ClusterSourceContinuous,
			DetectedAt:      time.Now().UTC(),
			ExpiresAt:       time.Now().UTC().Add(d.cfg.ClusterTTL),
		}
		if full {
			c.Source = model.ClusterSourceScheduled
		}

		key := c.MemberKey()
		if prior, ok := liveByKey[key]; ok && !materiallyChanged(c, *prior) {
			continue
		}

		stored, err := d.store.UpsertCluster(d.driver, &c)
		if err != nil {
			log.Warnf("cluster: upsert %s failed: %v", key, err)
			continue
		}
		accepted = append(accepted, *stored)
	}
	return accepted, nil
}

const cohesionTolerance = 0.02

func materiallyChanged(current, prior model.Cluster) bool {
	if current.MemberKey() != prior.MemberKey() {
		return true
	}
	delta := current.AverageCohesion - prior.AverageCohesion
	if delta < 0 {
		delta = -delta
	}
	return delta > cohesionTolerance
}

func cohesionStats(adjacency map[uuid.UUID]map[uuid.UUID]float64, members []uuid.UUID) (avg, min, max float64) {
	var sum float64
	var count int
	min, max = 1, 0

	for i := 0; i < len(members); i++ {
		for j := i + 1; j < len(members); j++ {
			w, ok := adjacency[members[i]][members[j]]
			if !ok {
				continue
			}
			sum += w
			count++
			if w < min {
				min = w
			}
			if w > max {
				max = w
			}
		}
	}
	if count == 0 {
		return 0, 0, 0
	}
	return sum / float64(count), min, max
}
