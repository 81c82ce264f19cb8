package cluster

import (
	"sort"

	"github.com/google/uuid"
)

// Louvain runs one round of modularity-optimization community detection
// over adjacency (§4.F): every node starts in its own community; each
// pass, every node considers moving into the community of each neighbor
// and takes whichever move yields the largest modularity gain, breaking
// ties toward the smaller community id. Repeats until a full pass makes
// no move or maxIterations is reached.
func Louvain(adjacency map[uuid.UUID]map[uuid.UUID]float64, maxIterations int) [][]uuid.UUID {
	nodes := sortedNodes(adjacency)
	if len(nodes) == 0 {
		return nil
	}

	community := make(map[uuid.UUID]int, len(nodes))
	commWeight := make(map[int]float64, len(nodes)) // sum of node-degree per community
	degree := make(map[uuid.UUID]float64, len(nodes))
	var totalWeight float64

	for i, n := range nodes {
		community[n] = i
		var d float64
		for _, w := range adjacency[n] {
			d += w
		}
		degree[n] = d
		commWeight[i] = d
		totalWeight += d
	}
	if totalWeight == 0 {
		return singletonCommunities(nodes)
	}
	m2 := totalWeight // sum of weighted degrees over all nodes = 2m

	for iter := 0; iter < maxIterations; iter++ {
		moved := false

		for _, n := range nodes {
			curComm := community[n]
			commWeight[curComm] -= degree[n]

			neighborWeight := make(map[int]float64)
			for nb, w := range adjacency[n] {
				neighborWeight[community[nb]] += w
			}

			bestComm := curComm
			bestGain := neighborWeight[curComm] - degree[n]*commWeight[curComm]/m2
			candidates := make([]int, 0, len(neighborWeight))
			for c := range neighborWeight {
				candidates = append(candidates, c)
			}
			sort.Ints(candidates)

			for _, c := range candidates {
				gain := neighborWeight[c] - degree[n]*commWeight[c]/m2
				if gain > bestGain || (gain == bestGain && c < bestComm) {
					bestGain = gain
					bestComm = c
				}
			}

			commWeight[bestComm] += degree[n]
			if bestComm != curComm {
				community[n] = bestComm
				moved = true
			}
		}

		if !moved {
			break
		}
	}

	return groupByCommunity(nodes, community)
}

func sortedNodes(adjacency map[uuid.UUID]map[uuid.UUID]float64) []uuid.UUID {
	nodes := make([]uuid.UUID, 0, len(adjacency))
	for n := range adjacency {
		nodes = append(nodes, n)
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].String() < nodes[j].String() })
	return nodes
}

func singletonCommunities(nodes []uuid.UUID) [][]uuid.UUID {
	out := make([][]uuid.UUID, len(nodes))
	for i, n := range nodes {
		out[i] = []uuid.UUID{n}
	}
	return out
}

func groupByCommunity(nodes []uuid.UUID, community map[uuid.UUID]int) [][]uuid.UUID {
	byComm := make(map[int][]uuid.UUID)
	for _, n := range nodes {
		c := community[n]
		byComm[c] = append(byComm[c], n)
	}
	comms := make([]int, 0, len(byComm))
	for c := range byComm {
		comms = append(comms, c)
	}
	sort.Ints(comms)

	out := make([][]uuid.UUID, 0, len(comms))
	for _, c := range comms {
		members := byComm[c]
		sort.Slice(members, func(i, j int) bool { return members[i].String() < members[j].String() })
		out = append(out, members)
	}
	return out
}
