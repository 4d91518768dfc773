package dagsuggester

import (
	"math"
	"sort"

	"github.com/mcpgw/gateway/internal/domain"
	"github.com/mcpgw/gateway/internal/tools"
)

// communityCap, coOccurrenceCap and the episodic bounds cap each prediction
// source's contribution before the final sort (spec.md §4.5).
const (
	communityCap     = 0.95
	coOccurrenceCap  = 0.95
	recencyBoostCap  = 0.10
	episodicBoostCap = 0.15
	episodicPenalty  = 0.15
)

// State is the input to PredictNextNodes: the last successful tool, and
// optionally a recency signal per candidate the caller can supply; 0 (or
// a missing entry) means "no recency information".
type State struct {
	LastTool tools.Ident
	Recency  map[tools.Ident]float64 // in [0,1], 1 = most recent
}

// PredictNextNodes scores likely next tools from Louvain community
// co-membership and direct out-neighbor co-occurrence of state.LastTool,
// drops blacklisted verbs, and sorts by descending confidence
// (spec.md §4.5).
func (s *Suggester) PredictNextNodes(state State) []Prediction {
	if state.LastTool == "" {
		return nil
	}

	seen := make(map[tools.Ident]bool)
	var out []Prediction

	for _, id := range s.communityCoMembers(state.LastTool, 5) {
		if seen[id] || isDangerous(id) {
			continue
		}
		seen[id] = true
		out = append(out, Prediction{
			ToolID:     id,
			Source:     domain.PredictionCommunity,
			Confidence: s.communityConfidence(state.LastTool, id),
		})
	}

	for _, id := range s.graph.OutNeighbors(state.LastTool) {
		if seen[id] || isDangerous(id) {
			continue
		}
		seen[id] = true
		out = append(out, Prediction{
			ToolID:     id,
			Source:     domain.PredictionCoOccurrence,
			Confidence: s.coOccurrenceConfidence(state.LastTool, id, state.Recency[id]),
		})
	}

	if s.episodic != nil {
		filtered := out[:0:0]
		for _, p := range out {
			failureRate := s.episodic.FailureRate(p.ToolID)
			if failureRate > 0.5 {
				continue
			}
			boost := math.Min(episodicBoostCap, s.episodic.SuccessRate(p.ToolID)*0.20)
			penalty := math.Min(episodicPenalty, failureRate*0.25)
			p.Confidence = clamp01(p.Confidence + boost - penalty)
			filtered = append(filtered, p)
		}
		out = filtered
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Confidence != out[j].Confidence {
			return out[i].Confidence > out[j].Confidence
		}
		return out[i].ToolID < out[j].ToolID
	})
	return out
}

// communityCoMembers returns up to k direct in- or out-neighbors of last
// that share its Louvain community, sorted for determinism. Community
// members that are not direct neighbors of last are not considered.
func (s *Suggester) communityCoMembers(last tools.Ident, k int) []tools.Ident {
	community := s.graph.Community(last)
	if community < 0 {
		return nil
	}
	var members []tools.Ident
	for _, id := range s.graph.OutNeighbors(last) {
		if s.graph.Community(id) == community {
			members = append(members, id)
		}
	}
	for _, id := range s.graph.InNeighbors(last) {
		if s.graph.Community(id) == community {
			members = append(members, id)
		}
	}
	sort.Slice(members, func(i, j int) bool { return members[i] < members[j] })
	deduped := members[:0:0]
	seen := make(map[tools.Ident]bool)
	for _, m := range members {
		if m == last || seen[m] {
			continue
		}
		seen[m] = true
		deduped = append(deduped, m)
	}
	if len(deduped) > k {
		deduped = deduped[:k]
	}
	return deduped
}

// communityConfidence implements the community scoring rule: base 0.40 +
// min(PR*2, 0.20) + min(edge_weight*0.25, 0.25) + min(aa/10, 0.10), capped
// at 0.95 (spec.md §4.5).
func (s *Suggester) communityConfidence(last, candidate tools.Ident) float64 {
	pr := s.graph.PageRank(candidate)
	edgeWeight := math.Max(s.graph.DirectEdgeWeight(last, candidate), s.graph.DirectEdgeWeight(candidate, last))
	aa := s.adamicAdarBetween(last, candidate)

	score := 0.40 + math.Min(pr*2, 0.20) + math.Min(edgeWeight*0.25, 0.25) + math.Min(aa*0.1, 0.10)
	return math.Min(score, communityCap)
}

// coOccurrenceConfidence implements the co-occurrence scoring rule: base
// min(edge_weight, 0.60) + min(log2(count+1)*0.05, 0.20) + up to 0.10
// recency boost, capped at 0.95 (spec.md §4.5).
func (s *Suggester) coOccurrenceConfidence(last, candidate tools.Ident, recency float64) float64 {
	ed, ok := s.graph.Edge(last, candidate)
	if !ok {
		return 0
	}
	edgeWeight := domain.CombinedWeight(ed.Type, ed.Source)
	recencyBoost := math.Min(recency, 1) * recencyBoostCap
	score := math.Min(edgeWeight, 0.60) + math.Min(math.Log2(float64(ed.ObservedCount+1))*0.05, 0.20) + recencyBoost
	return math.Min(score, coOccurrenceCap)
}

func (s *Suggester) adamicAdarBetween(a, b tools.Ident) float64 {
	for _, st := range s.graph.AdamicAdar(a, 0) {
		if st.ToolID == b {
			return st.Score
		}
	}
	return 0
}

func clamp01(f float64) float64 {
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}
