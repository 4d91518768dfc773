package graph

import (
	"context"
	"time"

	"github.com/mcpgw/gateway/internal/domain"
	"github.com/mcpgw/gateway/internal/tools"
)

// confidenceStep is how far an edge's confidence moves toward 1.0 on each
// additional observation, before clamping.
const confidenceStep = 0.15

// AddOrUpdateEdge upserts the edge from->to of the given type, applying
// the confidence state machine (spec.md §3, §4.4):
//
//	absent        -> the caller's source, confidence 0.5
//	inferred      -> observed once observed_count >= 3
//	any -> template source only if no stronger source is already present
//
// Confidence always grows monotonically toward 1.0 and is clamped to
// [0.05, 1.0]. The in-memory graph is updated first; the Storage Adapter
// is written only after the in-memory update succeeds (spec.md §4.4).
func (e *Engine) AddOrUpdateEdge(ctx context.Context, from, to tools.Ident, t domain.EdgeType, source domain.EdgeSource) error {
	e.mu.Lock()
	existing := e.bestEdgeByTypeLocked(from, to, t)
	var updated domain.Edge
	if existing == nil {
		updated = domain.Edge{
			From:          from,
			To:            to,
			Type:          t,
			Source:        source,
			Confidence:    clampConfidence(0.5),
			ObservedCount: 1,
			LastObserved:  now(),
		}
		e.publish("graph.edge.created", map[string]any{"from": from, "to": to, "type": t})
	} else {
		updated = *existing
		updated.ObservedCount++
		updated.Confidence = clampConfidence(updated.Confidence + confidenceStep*(1-updated.Confidence))
		updated.LastObserved = now()
		// source only strengthens: template < inferred < observed, and a
		// fresh observation always counts toward promotion.
		if sourceStrength(source) > sourceStrength(updated.Source) {
			updated.Source = source
		}
		if updated.Source != domain.SourceObserved && updated.ObservedCount >= domain.ObservedCountPromotion {
			updated.Source = domain.SourceObserved
		}
		e.publish("graph.edge.updated", map[string]any{"from": from, "to": to, "type": t})
	}
	e.putEdgeLocked(updated)
	e.maybeRecomputeLocked()
	e.mu.Unlock()

	if err := e.storage.UpsertEdgesBatch(ctx, []domain.Edge{updated}); err != nil {
		e.logger.Warn(ctx, "graph: edge upsert to storage failed, in-memory graph kept", "from", from, "to", to, "err", err)
		return err
	}
	return nil
}

// bestEdgeByTypeLocked returns the existing edge of exactly type t between
// from and to, or nil. Caller must hold e.mu.
func (e *Engine) bestEdgeByTypeLocked(from, to tools.Ident, t domain.EdgeType) *domain.Edge {
	byTo, ok := e.adjOut[from]
	if !ok {
		return nil
	}
	byType, ok := byTo[to]
	if !ok {
		return nil
	}
	return byType[t]
}

func sourceStrength(s domain.EdgeSource) int {
	switch s {
	case domain.SourceObserved:
		return 2
	case domain.SourceInferred:
		return 1
	default:
		return 0
	}
}

func clampConfidence(c float64) float64 {
	if c < domain.MinConfidence {
		return domain.MinConfidence
	}
	if c > 1.0 {
		return 1.0
	}
	return c
}

// BootstrapFromTemplates seeds dependency/template edges with
// confidence = 1.0 * source_modifier(template) = 0.5 (spec.md §4.4), and
// never overwrites a stronger existing source.
func (e *Engine) BootstrapFromTemplates(ctx context.Context, templates []domain.Edge) error {
	e.mu.Lock()
	var toPersist []domain.Edge
	for _, tmpl := range templates {
		existing := e.bestEdgeByTypeLocked(tmpl.From, tmpl.To, tmpl.Type)
		if existing != nil && sourceStrength(existing.Source) >= sourceStrength(domain.SourceTemplate) {
			continue
		}
		ed := domain.Edge{
			From:          tmpl.From,
			To:            tmpl.To,
			Type:          tmpl.Type,
			Source:        domain.SourceTemplate,
			Confidence:    clampConfidence(1.0 * domain.SourceModifier[domain.SourceTemplate]),
			ObservedCount: 1,
			LastObserved:  now(),
		}
		e.putEdgeLocked(ed)
		toPersist = append(toPersist, ed)
	}
	e.maybeRecomputeLocked()
	e.mu.Unlock()

	if len(toPersist) == 0 {
		return nil
	}
	return e.storage.UpsertEdgesBatch(ctx, toPersist)
}

var now = time.Now
