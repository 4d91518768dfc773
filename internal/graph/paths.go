package graph

import (
	"container/heap"
	"math"
	"sort"

	"github.com/mcpgw/gateway/internal/domain"
	"github.com/mcpgw/gateway/internal/tools"
)

// ShortestPath returns the lowest-cost path from->to using edge weight
// 1/combined_weight (spec.md §4.4), or nil if no path exists. Dijkstra
// over the sparse adjacency map; the scope (hundreds to low thousands of
// nodes, §5) makes a binary-heap implementation more than sufficient.
func (e *Engine) ShortestPath(from, to tools.Ident) []tools.Ident {
	e.mu.Lock()
	defer e.mu.Unlock()

	if from == to {
		if _, ok := e.idToIndex[from]; ok {
			return []tools.Ident{from}
		}
		return nil
	}
	if _, ok := e.idToIndex[from]; !ok {
		return nil
	}
	if _, ok := e.idToIndex[to]; !ok {
		return nil
	}

	dist := map[tools.Ident]float64{from: 0}
	prev := map[tools.Ident]tools.Ident{}
	visited := map[tools.Ident]bool{}

	pq := &pathQueue{{id: from, dist: 0}}
	heap.Init(pq)

	for pq.Len() > 0 {
		cur := heap.Pop(pq).(pathItem)
		if visited[cur.id] {
			continue
		}
		visited[cur.id] = true
		if cur.id == to {
			break
		}
		for neighbor, byType := range e.adjOut[cur.id] {
			if visited[neighbor] {
				continue
			}
			var best float64
			for _, ed := range byType {
				w := domain.CombinedWeight(ed.Type, ed.Source)
				if w > best {
					best = w
				}
			}
			if best <= 0 {
				continue
			}
			alt := dist[cur.id] + 1.0/best
			if existing, ok := dist[neighbor]; !ok || alt < existing {
				dist[neighbor] = alt
				prev[neighbor] = cur.id
				heap.Push(pq, pathItem{id: neighbor, dist: alt})
			}
		}
	}

	if _, ok := dist[to]; !ok {
		return nil
	}
	var path []tools.Ident
	for cur := to; ; {
		path = append([]tools.Ident{cur}, path...)
		if cur == from {
			break
		}
		p, ok := prev[cur]
		if !ok {
			return nil
		}
		cur = p
	}
	return path
}

// AdamicAdar returns the top-k tools by Adamic-Adar similarity to id: the
// sum of 1/log(degree(common_neighbor)) over shared neighbors, using
// undirected neighbor sets (union of in- and out-neighbors). Results are
// sorted descending by score, ties broken by tool_id.
func (e *Engine) AdamicAdar(id tools.Ident, k int) []ScoredTool {
	e.mu.Lock()
	defer e.mu.Unlock()

	neighbors := e.undirectedNeighborsLocked(id)
	neighborSet := make(map[tools.Ident]bool, len(neighbors))
	for _, n := range neighbors {
		neighborSet[n] = true
	}

	scores := make(map[tools.Ident]float64)
	for _, common := range neighbors {
		deg := len(e.undirectedNeighborsLocked(common))
		if deg <= 1 {
			continue
		}
		weight := 1.0 / math.Log2(float64(deg))
		for _, candidate := range e.undirectedNeighborsLocked(common) {
			if candidate == id || neighborSet[candidate] {
				continue
			}
			scores[candidate] += weight
		}
	}

	out := make([]ScoredTool, 0, len(scores))
	for id2, s := range scores {
		out = append(out, ScoredTool{ToolID: id2, Score: s})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].ToolID < out[j].ToolID
	})
	if k > 0 && len(out) > k {
		out = out[:k]
	}
	return out
}

// ScoredTool pairs a tool id with a float score; used by AdamicAdar and
// other graph queries that rank tools.
type ScoredTool struct {
	ToolID tools.Ident
	Score  float64
}

func (e *Engine) undirectedNeighborsLocked(id tools.Ident) []tools.Ident {
	seen := make(map[tools.Ident]bool)
	for to := range e.adjOut[id] {
		seen[to] = true
	}
	for from := range e.adjIn[id] {
		seen[from] = true
	}
	out := make([]tools.Ident, 0, len(seen))
	for n := range seen {
		out = append(out, n)
	}
	return out
}

// GraphRelatedness computes, for id, the maximum of its direct-edge
// weight to any tool in context and min(adamicAdar(id,t)/2, 1), per
// spec.md §4.3's graph_score definition. Returns 0 if context is empty.
func (e *Engine) GraphRelatedness(id tools.Ident, context []tools.Ident) float64 {
	if len(context) == 0 {
		return 0
	}
	var best float64
	for _, ctxTool := range context {
		direct := e.DirectEdgeWeight(ctxTool, id)
		if direct > best {
			best = direct
		}
		reverse := e.DirectEdgeWeight(id, ctxTool)
		if reverse > best {
			best = reverse
		}
		aa := e.adamicAdarScore(id, ctxTool)
		capped := aa / 2
		if capped > 1 {
			capped = 1
		}
		if capped > best {
			best = capped
		}
	}
	return best
}

func (e *Engine) adamicAdarScore(a, b tools.Ident) float64 {
	for _, st := range e.AdamicAdar(a, 0) {
		if st.ToolID == b {
			return st.Score
		}
	}
	return 0
}

type pathItem struct {
	id   tools.Ident
	dist float64
}

type pathQueue []pathItem

func (q pathQueue) Len() int            { return len(q) }
func (q pathQueue) Less(i, j int) bool  { return q[i].dist < q[j].dist }
func (q pathQueue) Swap(i, j int)       { q[i], q[j] = q[j], q[i] }
func (q *pathQueue) Push(x any)         { *q = append(*q, x.(pathItem)) }
func (q *pathQueue) Pop() any {
	old := *q
	n := len(old)
	item := old[n-1]
	*q = old[:n-1]
	return item
}
