// Package graph implements the Graph Engine (spec.md §4.4): the canonical
// in-process directed multigraph over tools, with a persistent mirror in
// the Storage Adapter. Structural writes land here first; the Storage
// Adapter is written after the in-memory update succeeds, so the graph
// never goes partially inconsistent with storage (spec.md §4.4).
//
// The graph is modeled as nodes/adj_out/adj_in maps over a stable
// tool_id<->index bimap, per the Design Notes (spec.md §9): PageRank and
// Louvain run over primitive arrays indexed by that bimap rather than
// walking the id-keyed maps directly.
package graph

import (
	"context"
	"sort"
	"sync"

	"github.com/mcpgw/gateway/internal/domain"
	"github.com/mcpgw/gateway/internal/eventbus"
	"github.com/mcpgw/gateway/internal/storage"
	"github.com/mcpgw/gateway/internal/telemetry"
	"github.com/mcpgw/gateway/internal/tools"
)

// recomputeThreshold bounds how often PageRank/Louvain recompute: at most
// once per N edge updates (spec.md §4.4 reference N=16).
const recomputeThreshold = 16

// minQuality is buildDAG's minimum average combined edge-weight along a
// path before it counts as a dependency (spec.md §4.4 reference 0.25).
const minQuality = 0.25

// Engine is the Graph Engine. All methods are safe for concurrent use; a
// single mutex serializes writes so concurrent workflows merge edge
// updates commutatively (spec.md §5).
type Engine struct {
	mu      sync.Mutex
	storage storage.Adapter
	bus     *eventbus.Bus
	logger  telemetry.Logger

	idToIndex map[tools.Ident]int
	indexToID []tools.Ident

	// adjOut[from][to] holds one edge per (from,to,type); the multigraph
	// keeps at most one edge per type between a given pair.
	adjOut map[tools.Ident]map[tools.Ident]map[domain.EdgeType]*domain.Edge
	adjIn  map[tools.Ident]map[tools.Ident]map[domain.EdgeType]*domain.Edge

	pagerank     []float64
	community    []int
	dirtyUpdates int
}

// Option configures a new Engine.
type Option func(*Engine)

// WithBus attaches an event bus the engine publishes graph.* events to.
func WithBus(bus *eventbus.Bus) Option { return func(e *Engine) { e.bus = bus } }

// WithLogger attaches a logger; defaults to a no-op logger.
func WithLogger(l telemetry.Logger) Option { return func(e *Engine) { e.logger = l } }

// New constructs an empty Engine backed by store.
func New(store storage.Adapter, opts ...Option) *Engine {
	e := &Engine{
		storage:   store,
		logger:    telemetry.NewNoopLogger(),
		idToIndex: make(map[tools.Ident]int),
		adjOut:    make(map[tools.Ident]map[tools.Ident]map[domain.EdgeType]*domain.Edge),
		adjIn:     make(map[tools.Ident]map[tools.Ident]map[domain.EdgeType]*domain.Edge),
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

func (e *Engine) publish(name string, payload any) {
	if e.bus == nil {
		return
	}
	e.bus.Publish(eventbus.Event{Name: name, Payload: payload})
}

// ensureNode registers id in the bimap if it isn't already present. Caller
// must hold e.mu.
func (e *Engine) ensureNode(id tools.Ident) int {
	if idx, ok := e.idToIndex[id]; ok {
		return idx
	}
	idx := len(e.indexToID)
	e.idToIndex[id] = idx
	e.indexToID = append(e.indexToID, id)
	e.pagerank = append(e.pagerank, 0)
	e.community = append(e.community, idx)
	return idx
}

// NodeCount returns the number of tools currently known to the graph.
func (e *Engine) NodeCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.indexToID)
}

// EdgeCount returns the total number of distinct (from,to,type) edges.
func (e *Engine) EdgeCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.edgeCountLocked()
}

func (e *Engine) edgeCountLocked() int {
	n := 0
	for _, byTo := range e.adjOut {
		for _, byType := range byTo {
			n += len(byType)
		}
	}
	return n
}

// Density returns edges / (n*(n-1)), the graph density used by the Hybrid
// Retriever and DAG Suggester to pick adaptive weights (spec.md §4.3,
// §4.5). Returns 0 for fewer than two nodes.
func (e *Engine) Density() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := len(e.indexToID)
	if n < 2 {
		return 0
	}
	return float64(e.edgeCountLocked()) / float64(n*(n-1))
}

// SyncFromStorage rebuilds the in-memory graph from the persisted tool and
// edge rows (spec.md §4.4).
func (e *Engine) SyncFromStorage(ctx context.Context) error {
	toolRows, err := e.storage.ListTools(ctx)
	if err != nil {
		return err
	}
	edgeRows, err := e.storage.ListEdges(ctx)
	if err != nil {
		return err
	}

	e.mu.Lock()
	e.idToIndex = make(map[tools.Ident]int)
	e.indexToID = nil
	e.adjOut = make(map[tools.Ident]map[tools.Ident]map[domain.EdgeType]*domain.Edge)
	e.adjIn = make(map[tools.Ident]map[tools.Ident]map[domain.EdgeType]*domain.Edge)
	e.pagerank = nil
	e.community = nil

	for _, t := range toolRows {
		e.ensureNode(t.ID)
	}
	for _, ed := range edgeRows {
		e.putEdgeLocked(ed)
	}
	e.mu.Unlock()

	e.recompute()
	e.publish("graph.synced", map[string]any{"nodes": len(toolRows), "edges": len(edgeRows)})
	return nil
}

// putEdgeLocked inserts or replaces an edge in both adjacency maps. Caller
// must hold e.mu.
func (e *Engine) putEdgeLocked(ed domain.Edge) {
	e.ensureNode(ed.From)
	e.ensureNode(ed.To)

	if e.adjOut[ed.From] == nil {
		e.adjOut[ed.From] = make(map[tools.Ident]map[domain.EdgeType]*domain.Edge)
	}
	if e.adjOut[ed.From][ed.To] == nil {
		e.adjOut[ed.From][ed.To] = make(map[domain.EdgeType]*domain.Edge)
	}
	cp := ed
	e.adjOut[ed.From][ed.To][ed.Type] = &cp

	if e.adjIn[ed.To] == nil {
		e.adjIn[ed.To] = make(map[tools.Ident]map[domain.EdgeType]*domain.Edge)
	}
	if e.adjIn[ed.To][ed.From] == nil {
		e.adjIn[ed.To][ed.From] = make(map[domain.EdgeType]*domain.Edge)
	}
	e.adjIn[ed.To][ed.From][ed.Type] = &cp
}

func (e *Engine) removeEdgeLocked(from, to tools.Ident, t domain.EdgeType) {
	if byTo, ok := e.adjOut[from]; ok {
		if byType, ok := byTo[to]; ok {
			delete(byType, t)
			if len(byType) == 0 {
				delete(byTo, to)
			}
		}
	}
	if byFrom, ok := e.adjIn[to]; ok {
		if byType, ok := byFrom[from]; ok {
			delete(byType, t)
			if len(byType) == 0 {
				delete(byFrom, from)
			}
		}
	}
}

// bestEdgeLocked returns the edge with the highest combined weight among
// all edge types connecting from->to, or nil if none exists.
func (e *Engine) bestEdgeLocked(from, to tools.Ident) *domain.Edge {
	byTo, ok := e.adjOut[from]
	if !ok {
		return nil
	}
	byType, ok := byTo[to]
	if !ok {
		return nil
	}
	var best *domain.Edge
	for _, ed := range byType {
		if best == nil || domain.CombinedWeight(ed.Type, ed.Source) > domain.CombinedWeight(best.Type, best.Source) {
			best = ed
		}
	}
	return best
}

// DirectEdgeWeight returns the combined weight of the strongest edge
// from->to, or 0 if no edge exists.
func (e *Engine) DirectEdgeWeight(from, to tools.Ident) float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	ed := e.bestEdgeLocked(from, to)
	if ed == nil {
		return 0
	}
	return domain.CombinedWeight(ed.Type, ed.Source)
}

// Edge returns a copy of the strongest from->to edge (by combined
// weight), or false if none exists. Used by callers (e.g. the DAG
// Suggester's next-node prediction) that need the raw confidence,
// observed_count, and last_observed fields rather than just the scalar
// combined weight.
func (e *Engine) Edge(from, to tools.Ident) (domain.Edge, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	ed := e.bestEdgeLocked(from, to)
	if ed == nil {
		return domain.Edge{}, false
	}
	return *ed, true
}

// OutNeighbors returns the out-neighbor tool ids of id, sorted for
// determinism.
func (e *Engine) OutNeighbors(id tools.Ident) []tools.Ident {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]tools.Ident, 0, len(e.adjOut[id]))
	for to := range e.adjOut[id] {
		out = append(out, to)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// InNeighbors returns the in-neighbor tool ids of id, sorted for
// determinism.
func (e *Engine) InNeighbors(id tools.Ident) []tools.Ident {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]tools.Ident, 0, len(e.adjIn[id]))
	for from := range e.adjIn[id] {
		out = append(out, from)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// PageRank returns the cached PageRank score for id in [0,1], or 0 if id
// is unknown to the graph.
func (e *Engine) PageRank(id tools.Ident) float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	idx, ok := e.idToIndex[id]
	if !ok || idx >= len(e.pagerank) {
		return 0
	}
	return e.pagerank[idx]
}

// Community returns the cached Louvain community id for id, or -1 if
// unknown.
func (e *Engine) Community(id tools.Ident) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	idx, ok := e.idToIndex[id]
	if !ok || idx >= len(e.community) {
		return -1
	}
	return e.community[idx]
}

// recompute runs PageRank and Louvain over the current graph and caches
// the results. Called directly by SyncFromStorage and indirectly, subject
// to throttling, by edge-mutating operations.
func (e *Engine) recompute() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.recomputeLocked()
}

func (e *Engine) recomputeLocked() {
	n := len(e.indexToID)
	if n == 0 {
		return
	}
	e.pagerank = computePageRank(n, e.indexToID, e.idToIndex, e.adjOut)
	e.community = computeLouvain(n, e.indexToID, e.idToIndex, e.adjOut, e.adjIn)
	e.dirtyUpdates = 0
	e.publish("graph.metrics.computed", map[string]any{"nodes": n})
}

// maybeRecomputeLocked increments the dirty counter and recomputes once it
// crosses recomputeThreshold. Caller must hold e.mu.
func (e *Engine) maybeRecomputeLocked() {
	e.dirtyUpdates++
	if e.dirtyUpdates >= recomputeThreshold {
		e.recomputeLocked()
	}
}
