// Package retriever implements the Hybrid Retriever (spec.md §4.3): fuses
// semantic vector search with graph relatedness, adapting both the
// semantic-candidate expansion factor and the graph/semantic weighting to
// the current graph density.
package retriever

import (
	"context"
	"math"
	"sort"

	"github.com/mcpgw/gateway/internal/graph"
	"github.com/mcpgw/gateway/internal/tools"
	"github.com/mcpgw/gateway/internal/vectorindex"
)

// Result is one hit from SearchHybrid.
type Result struct {
	ToolID      tools.Ident
	ServerID    string
	ToolName    string
	Description string
	Schema      []byte
	FinalScore  float64
	Semantic    float64
	GraphScore  float64
	OftenBefore []tools.Ident
	OftenAfter  []tools.Ident
}

// Retriever is the Hybrid Retriever.
type Retriever struct {
	index *vectorindex.Index
	graph *graph.Engine
}

// New constructs a Retriever over index and engine.
func New(index *vectorindex.Index, engine *graph.Engine) *Retriever {
	return &Retriever{index: index, graph: engine}
}

// SearchHybrid implements the §4.3 algorithm: a density-adaptive
// expansion factor widens the semantic candidate pool, an
// adaptive weight alpha fuses semantic score with graph relatedness to
// contextTools, and results are sorted by final_score and truncated to
// limit. If includeRelated, each result is annotated with up to two
// in-neighbors (often_before) and two out-neighbors (often_after).
func (r *Retriever) SearchHybrid(ctx context.Context, query string, limit int, contextTools []tools.Ident, includeRelated bool) ([]Result, error) {
	if limit <= 0 {
		return nil, nil
	}

	density := r.graph.Density()
	alpha := alphaFor(density)
	if r.graph.EdgeCount() == 0 {
		alpha = 1 // graceful degradation to pure semantic search (spec.md §4.3)
	}

	f := expansionFactor(density)
	semanticK := int(math.Ceil(float64(limit) * f))

	hits, err := r.index.SearchTools(ctx, query, semanticK, 0, contextTools)
	if err != nil {
		return nil, err
	}

	out := make([]Result, 0, len(hits))
	for _, h := range hits {
		graphScore := r.graph.GraphRelatedness(h.ToolID, contextTools)
		final := alpha*h.Score + (1-alpha)*graphScore
		res := Result{
			ToolID:      h.ToolID,
			ServerID:    h.ServerID,
			ToolName:    h.ToolName,
			Description: h.Description,
			Schema:      h.Schema,
			Semantic:    h.Score,
			GraphScore:  graphScore,
			FinalScore:  final,
		}
		if includeRelated {
			res.OftenBefore = capped(r.graph.InNeighbors(h.ToolID), 2)
			res.OftenAfter = capped(r.graph.OutNeighbors(h.ToolID), 2)
		}
		out = append(out, res)
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].FinalScore != out[j].FinalScore {
			return out[i].FinalScore > out[j].FinalScore
		}
		return out[i].ToolID < out[j].ToolID
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// expansionFactor is the dynamic expansion factor f from spec.md §4.3.
func expansionFactor(density float64) float64 {
	switch {
	case density < 0.01:
		return 1.5
	case density < 0.10:
		return 2.0
	default:
		return 3.0
	}
}

// alphaFor is the adaptive semantic weight alpha = max(0.5, 1-2*density)
// from spec.md §4.3.
func alphaFor(density float64) float64 {
	a := 1 - 2*density
	if a < 0.5 {
		return 0.5
	}
	return a
}

func capped(ids []tools.Ident, n int) []tools.Ident {
	if len(ids) <= n {
		return ids
	}
	return ids[:n]
}
