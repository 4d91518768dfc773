package graph

import (
	"github.com/mcpgw/gateway/internal/domain"
	"github.com/mcpgw/gateway/internal/tools"
)

const (
	pageRankDamping    = 0.85
	pageRankIterations = 50
	pageRankEpsilon    = 1e-6
)

// computePageRank runs weighted power-iteration PageRank over the graph,
// indexed by the stable tool_id<->index bimap (spec.md §9). Edge weight is
// the combined weight (spec.md §3); a node with no out-edges distributes
// its rank uniformly (the standard dangling-node fix) so total rank mass
// is conserved. Output is normalized to [0,1] by dividing by the maximum
// score, so the result is a relative-importance score rather than a
// probability distribution.
func computePageRank(n int, indexToID []tools.Ident, idToIndex map[tools.Ident]int, adjOut map[tools.Ident]map[tools.Ident]map[domain.EdgeType]*domain.Edge) []float64 {
	if n == 0 {
		return nil
	}

	outWeight := make([]float64, n)
	weightedOut := make([]map[int]float64, n)
	for i := range weightedOut {
		weightedOut[i] = make(map[int]float64)
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
			weightedOut[fi][ti] += best
			outWeight[fi] += best
		}
	}

	rank := make([]float64, n)
	for i := range rank {
		rank[i] = 1.0 / float64(n)
	}

	base := (1 - pageRankDamping) / float64(n)
	for iter := 0; iter < pageRankIterations; iter++ {
		next := make([]float64, n)
		var danglingMass float64
		for i, r := range rank {
			if outWeight[i] == 0 {
				danglingMass += r
			}
		}
		danglingShare := pageRankDamping * danglingMass / float64(n)
		for i := range next {
			next[i] = base + danglingShare
		}
		for from := 0; from < n; from++ {
			if outWeight[from] == 0 {
				continue
			}
			r := rank[from]
			for to, w := range weightedOut[from] {
				next[to] += pageRankDamping * r * (w / outWeight[from])
			}
		}

		var delta float64
		for i := range rank {
			d := next[i] - rank[i]
			if d < 0 {
				d = -d
			}
			delta += d
		}
		rank = next
		if delta < pageRankEpsilon {
			break
		}
	}

	maxRank := 0.0
	for _, r := range rank {
		if r > maxRank {
			maxRank = r
		}
	}
	if maxRank > 0 {
		for i := range rank {
			rank[i] /= maxRank
		}
	}
	return rank
}
