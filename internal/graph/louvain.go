package graph

import (
	"github.com/mcpgw/gateway/internal/domain"
	"github.com/mcpgw/gateway/internal/tools"
)

const louvainMaxPasses = 10

// computeLouvain runs one level of the Louvain modularity-optimization
// heuristic over the graph treated as undirected and weighted by combined
// edge weight (the strongest edge type in each direction; when both
// directions exist, their weights are added). Each
// node starts in its own community; nodes repeatedly move to the
// neighboring community that yields the largest modularity gain until no
// move improves modularity or louvainMaxPasses is reached. This is the
// single-level variant (no recursive community aggregation), sufficient
// at the node counts the spec targets (hundreds to low thousands, §5).
func computeLouvain(n int, indexToID []tools.Ident, idToIndex map[tools.Ident]int, adjOut, adjIn map[tools.Ident]map[tools.Ident]map[domain.EdgeType]*domain.Edge) []int {
	if n == 0 {
		return nil
	}

	neighborWeight := make([]map[int]float64, n)
	degree := make([]float64, n)
	var totalWeight float64
	for i := range neighborWeight {
		neighborWeight[i] = make(map[int]float64)
	}

	addUndirected := func(a, b int, w float64) {
		if a == b {
			return
		}
		neighborWeight[a][b] += w
		neighborWeight[b][a] += w
		degree[a] += w
		degree[b] += w
		totalWeight += w
	}

	for from, byTo := range adjOut {
		fi := idToIndex[from]
		for to, byType := range byTo {
			ti := idToIndex[to]
			var best float64
			for _, ed := range byType {
				w := domain.CombinedWeight(ed.Type, ed.Source)
				if w > best {
					best = w
				}
			}
			addUndirected(fi, ti, best)
		}
	}
	_ = adjIn // direction is irrelevant once folded into neighborWeight

	community := make([]int, n)
	communityDegree := make([]float64, n)
	for i := range community {
		community[i] = i
		communityDegree[i] = degree[i]
	}

	if totalWeight == 0 {
		return community
	}

	m2 := 2 * totalWeight
	for pass := 0; pass < louvainMaxPasses; pass++ {
		moved := false
		for node := 0; node < n; node++ {
			currentComm := community[node]
			communityDegree[currentComm] -= degree[node]

			gains := make(map[int]float64)
			for neighbor, w := range neighborWeight[node] {
				gains[community[neighbor]] += w
			}

			bestComm := currentComm
			bestGain := gains[currentComm] - communityDegree[currentComm]*degree[node]/m2
			for comm, wSum := range gains {
				gain := wSum - communityDegree[comm]*degree[node]/m2
				if gain > bestGain {
					bestGain = gain
					bestComm = comm
				}
			}

			community[node] = bestComm
			communityDegree[bestComm] += degree[node]
			if bestComm != currentComm {
				moved = true
			}
		}
		if !moved {
			break
		}
	}

	return normalizeCommunityIDs(community)
}

// normalizeCommunityIDs remaps arbitrary community labels to a dense
// 0..k-1 range in first-seen order, so results are stable and readable.
func normalizeCommunityIDs(community []int) []int {
	remap := make(map[int]int)
	out := make([]int, len(community))
	next := 0
	for i, c := range community {
		id, ok := remap[c]
		if !ok {
			id = next
			remap[c] = id
			next++
		}
		out[i] = id
	}
	return out
}
