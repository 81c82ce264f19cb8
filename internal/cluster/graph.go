// Package cluster is the Cluster Detector (§4.F): an in-memory weighted
// undirected correlation graph, marked dirty by correlations.updated and
// periodically swept by a Louvain or DBSCAN pass.
package cluster

import (
	"sync"

	"github.com/google/uuid"
)

// Graph is a weighted undirected correlation graph: nodes are point ids,
// edges carry |r|. Reads take a snapshot under a short read lock rather
// than holding the lock across a full community-detection pass (§9
// Design Notes).
type Graph struct {
	mu        sync.RWMutex
	adjacency map[uuid.UUID]map[uuid.UUID]float64
	dirty     map[uuid.UUID]struct{}
}

func NewGraph() *Graph {
	return &Graph{
		adjacency: make(map[uuid.UUID]map[uuid.UUID]float64),
		dirty:     make(map[uuid.UUID]struct{}),
	}
}

// AddEdge records the correlation between a and b, marking both nodes
// dirty for the next scan.
func (g *Graph) AddEdge(a, b uuid.UUID, absR float64) {
	if a == b {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.adjacency[a] == nil {
		g.adjacency[a] = make(map[uuid.UUID]float64)
	}
	if g.adjacency[b] == nil {
		g.adjacency[b] = make(map[uuid.UUID]float64)
	}
	g.adjacency[a][b] = absR
	g.adjacency[b][a] = absR
	g.dirty[a] = struct{}{}
	g.dirty[b] = struct{}{}
}

// DirtyNeighborhood returns a snapshot of every dirty node plus its
// immediate neighbors, and clears the dirty set. The returned adjacency is
// a deep-enough copy that the caller can run Louvain/DBSCAN over it
// without holding Graph's lock.
func (g *Graph) DirtyNeighborhood() map[uuid.UUID]map[uuid.UUID]float64 {
	g.mu.Lock()
	dirty := g.dirty
	g.dirty = make(map[uuid.UUID]struct{})
	g.mu.Unlock()

	if len(dirty) == 0 {
		return nil
	}

	g.mu.RLock()
	defer g.mu.RUnlock()

	nodes := make(map[uuid.UUID]struct{})
	for n := range dirty {
		nodes[n] = struct{}{}
		for nb := range g.adjacency[n] {
			nodes[nb] = struct{}{}
		}
	}

	out := make(map[uuid.UUID]map[uuid.UUID]float64, len(nodes))
	for n := range nodes {
		edges := make(map[uuid.UUID]float64, len(g.adjacency[n]))
		for nb, w := range g.adjacency[n] {
			edges[nb] = w
		}
		out[n] = edges
	}
	return out
}

// Snapshot returns a full deep-enough copy of the graph for algorithms
// that need the whole thing (e.g. a scheduled full DBSCAN pass) rather
// than only the dirty neighborhood.
func (g *Graph) Snapshot() map[uuid.UUID]map[uuid.UUID]float64 {
	g.mu.RLock()
	defer g.mu.RUnlock()

	out := make(map[uuid.UUID]map[uuid.UUID]float64, len(g.adjacency))
	for n, edges := range g.adjacency {
		cp := make(map[uuid.UUID]float64, len(edges))
		for nb, w := range edges {
			cp[nb] = w
		}
		out[n] = cp
	}
	return out
}
