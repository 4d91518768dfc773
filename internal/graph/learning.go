package graph

import (
	"context"
	"sort"

	"github.com/mcpgw/gateway/internal/domain"
	"github.com/mcpgw/gateway/internal/tools"
)

// ExecutedDependency is one dependency edge realized by a completed DAG
// execution, as the Parallel Executor hands off to UpdateFromExecution.
type ExecutedDependency struct {
	From, To tools.Ident
}

// UpdateFromExecution upserts an inferred sequence edge for each
// dependency edge in the executed DAG (spec.md §4.4); AddOrUpdateEdge
// promotes a repeatedly seen edge to observed. It recomputes
// PageRank/communities (subject to the usual throttling), and persists.
func (e *Engine) UpdateFromExecution(ctx context.Context, deps []ExecutedDependency) error {
	for _, d := range deps {
		if err := e.AddOrUpdateEdge(ctx, d.From, d.To, domain.EdgeSequence, domain.SourceInferred); err != nil {
			e.logger.Warn(ctx, "graph: updateFromExecution edge upsert failed, skipping", "from", d.From, "to", d.To, "err", err)
		}
	}
	return nil
}

// UpdateFromCodeTraces reconstructs the parent/child hierarchy from a set
// of sandbox trace events using parent_trace_id, creating `contains` edges
// parent->child and `sequence` edges between temporal siblings sharing a
// parent. Top-level siblings without a parent also get `sequence` edges
// for back-compat (spec.md §4.4).
func (e *Engine) UpdateFromCodeTraces(ctx context.Context, traces []domain.TraceEvent) error {
	starts := make([]domain.TraceEvent, 0, len(traces))
	for _, t := range traces {
		if t.Type == domain.TraceToolStart || t.Type == domain.TraceCapabilityStart {
			starts = append(starts, t)
		}
	}
	sort.Slice(starts, func(i, j int) bool { return starts[i].Timestamp.Before(starts[j].Timestamp) })

	byParent := make(map[string][]domain.TraceEvent)
	for _, s := range starts {
		byParent[s.ParentTraceID] = append(byParent[s.ParentTraceID], s)
	}

	traceToolID := make(map[string]tools.Ident, len(starts))
	for _, s := range starts {
		traceToolID[s.TraceID] = tools.Ident(s.ToolOrCapabilityID)
	}

	for parentTraceID, siblings := range byParent {
		if parentTraceID != "" {
			if parentTool, ok := traceToolID[parentTraceID]; ok {
				for _, child := range siblings {
					childTool := tools.Ident(child.ToolOrCapabilityID)
					if err := e.AddOrUpdateEdge(ctx, parentTool, childTool, domain.EdgeContains, domain.SourceInferred); err != nil {
						e.logger.Warn(ctx, "graph: updateFromCodeTraces contains edge failed", "parent", parentTool, "child", childTool, "err", err)
					}
				}
			}
		}
		for i := 1; i < len(siblings); i++ {
			from := tools.Ident(siblings[i-1].ToolOrCapabilityID)
			to := tools.Ident(siblings[i].ToolOrCapabilityID)
			if err := e.AddOrUpdateEdge(ctx, from, to, domain.EdgeSequence, domain.SourceInferred); err != nil {
				e.logger.Warn(ctx, "graph: updateFromCodeTraces sequence edge failed", "from", from, "to", to, "err", err)
			}
		}
	}
	return nil
}
