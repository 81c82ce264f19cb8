package cluster

import (
	"sort"

	"github.com/google/uuid"
)

// DBSCAN clusters adjacency using distance d = 1 - |r| (§4.F); two nodes
// with no recorded edge are treated as maximally distant (d = 1, never
// neighbors for any eps < 1). Noise points (not assigned to any cluster)
// are omitted from the result; callers apply size/cohesion bounds
// afterward. Deterministic node visitation order makes the core-point
// expansion reproducible, though the algorithm's noise/border assignment
// remains inherently order-sensitive per the textbook definition (§4.F
// "non-deterministic about noise points").
func DBSCAN(adjacency map[uuid.UUID]map[uuid.UUID]float64, eps float64, minPoints int) [][]uuid.UUID {
	nodes := sortedNodes(adjacency)
	visited := make(map[uuid.UUID]bool, len(nodes))
	assigned := make(map[uuid.UUID]bool, len(nodes))

	var clusters [][]uuid.UUID

	neighbors := func(n uuid.UUID) []uuid.UUID {
		var out []uuid.UUID
		for nb, w := range adjacency[n] {
			if 1-w <= eps {
				out = append(out, nb)
			}
		}
		sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
		return out
	}

	for _, n := range nodes {
		if visited[n] {
			continue
		}
		visited[n] = true

		neigh := neighbors(n)
		if len(neigh)+1 < minPoints {
			continue // noise, for now; may still be absorbed as a border point later
		}

		members := map[uuid.UUID]struct{}{n: {}}
		queue := append([]uuid.UUID{}, neigh...)

		for len(queue) > 0 {
			cur := queue[0]
			queue = queue[1:]

			if _, in := members[cur]; in {
				continue
			}

			if !visited[cur] {
				visited[cur] = true
				curNeigh := neighbors(cur)
				if len(curNeigh)+1 >= minPoints {
					queue = append(queue, curNeigh...)
				}
			}
			members[cur] = struct{}{}
		}

		var group []uuid.UUID
		for m := range members {
			group = append(group, m)
			assigned[m] = true
		}
		sort.Slice(group, func(i, j int) bool { return group[i].String() < group[j].String() })
		clusters = append(clusters, group)
	}

	return clusters
}
