package graph

import (
	"context"
	"time"

	"github.com/mcpgw/gateway/internal/domain"
)

// ImportStrategy controls how ImportPatterns merges incoming edges with
// the current graph (spec.md §4.5).
type ImportStrategy string

const (
	// StrategyReplace discards the current edge set before importing.
	StrategyReplace ImportStrategy = "replace"
	// StrategyMerge averages weights and sums counts for edges present in
	// both the current graph and the import.
	StrategyMerge ImportStrategy = "merge"
)

// ExportPatterns returns every edge currently in the graph, suitable for
// persistence or transfer to another gateway instance.
func (e *Engine) ExportPatterns() []domain.Edge {
	e.mu.Lock()
	defer e.mu.Unlock()

	var out []domain.Edge
	for _, byTo := range e.adjOut {
		for _, byType := range byTo {
			for _, ed := range byType {
				out = append(out, *ed)
			}
		}
	}
	return out
}

// ImportPatterns applies patterns to the graph under strategy. With
// StrategyReplace, the entire edge set is discarded first, so
// ImportPatterns(ExportPatterns(), replace) on an empty graph reproduces
// the original edge set exactly (spec.md §8). With StrategyMerge, an edge
// present in both the current graph and patterns has its confidence
// averaged and observed_count summed, and its source set to whichever of
// the two is strongest; merging the same export a second time is then
// idempotent in structure (spec.md §8).
func (e *Engine) ImportPatterns(ctx context.Context, patterns []domain.Edge, strategy ImportStrategy) error {
	e.mu.Lock()
	if strategy == StrategyReplace {
		for from := range e.adjOut {
			delete(e.adjOut, from)
		}
		for to := range e.adjIn {
			delete(e.adjIn, to)
		}
	}

	toPersist := make([]domain.Edge, 0, len(patterns))
	for _, p := range patterns {
		var merged domain.Edge
		existing := e.bestEdgeByTypeLocked(p.From, p.To, p.Type)
		switch {
		case strategy == StrategyReplace || existing == nil:
			merged = p
		default: // StrategyMerge with an existing edge
			merged = domain.Edge{
				From:          p.From,
				To:            p.To,
				Type:          p.Type,
				Source:        p.Source,
				Confidence:    clampConfidence((existing.Confidence + p.Confidence) / 2),
				ObservedCount: existing.ObservedCount + p.ObservedCount,
				LastObserved:  laterOf(existing.LastObserved, p.LastObserved),
			}
			if sourceStrength(existing.Source) > sourceStrength(merged.Source) {
				merged.Source = existing.Source
			}
		}
		e.putEdgeLocked(merged)
		toPersist = append(toPersist, merged)
	}
	e.maybeRecomputeLocked()
	e.mu.Unlock()

	if len(toPersist) == 0 {
		return nil
	}
	return e.storage.UpsertEdgesBatch(ctx, toPersist)
}

func laterOf(a, b time.Time) time.Time {
	if a.After(b) {
		return a
	}
	return b
}
