package graph

import (
	"sort"
	"strconv"

	"github.com/mcpgw/gateway/internal/domain"
	"github.com/mcpgw/gateway/internal/tools"
)

// Task is one node of a task DAG (spec.md §4.4): it names a candidate tool
// and the task ids it depends on.
type Task struct {
	ID        string
	Tool      tools.Ident
	Args      map[string]any
	DependsOn []string
}

// DAG is an ordered set of tasks forming a directed acyclic graph.
type DAG struct {
	Tasks []Task
}

// dagEdge is an internal dependency edge used while constructing a DAG:
// To depends on From (i.e. From must run first).
type dagEdge struct {
	From, To tools.Ident
	Weight   float64
}

// BuildDAG forms a directed edge j->i (j must run before i) whenever
// there is a path j⇝i in the graph of length <=3 hops whose average
// combined edge-weight is >= minQuality (spec.md §4.4 reference 0.25).
// Cycles among the selected candidates are broken by discarding the
// lower-weight direction; ties are resolved by lexicographic (from,to),
// keeping the lexicographically smaller pair (spec.md §8).
func (e *Engine) BuildDAG(candidates []tools.Ident) DAG {
	var edges []dagEdge
	for _, j := range candidates {
		for _, i := range candidates {
			if i == j {
				continue
			}
			if avg, ok := e.pathQuality(j, i, 3); ok && avg >= minQuality {
				edges = append(edges, dagEdge{From: j, To: i, Weight: avg})
			}
		}
	}

	edges = breakCycles(candidates, edges)
	return assembleDAG(candidates, edges)
}

// pathQuality finds the path from->to within maxHops hops with the
// highest average combined edge-weight, via bounded DFS. Returns
// (avgWeight, true) if any path exists, (0, false) otherwise.
func (e *Engine) pathQuality(from, to tools.Ident, maxHops int) (float64, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	var best float64
	found := false

	var visit func(cur tools.Ident, hops int, sumWeight float64, visited map[tools.Ident]bool)
	visit = func(cur tools.Ident, hops int, sumWeight float64, visited map[tools.Ident]bool) {
		if hops > maxHops {
			return
		}
		for next, byType := range e.adjOut[cur] {
			if visited[next] {
				continue
			}
			var w float64
			for _, ed := range byType {
				cw := domain.CombinedWeight(ed.Type, ed.Source)
				if cw > w {
					w = cw
				}
			}
			newSum := sumWeight + w
			newHops := hops + 1
			if next == to {
				avg := newSum / float64(newHops)
				if !found || avg > best {
					best = avg
					found = true
				}
				continue
			}
			if newHops >= maxHops {
				continue
			}
			visited[next] = true
			visit(next, newHops, newSum, visited)
			delete(visited, next)
		}
	}

	visited := map[tools.Ident]bool{from: true}
	visit(from, 0, 0, visited)
	return best, found
}

// breakCycles removes edges to restore acyclicity among candidates,
// preferring to drop the lower-weight edge of any 2-cycle/cycle pair.
func breakCycles(candidates []tools.Ident, edges []dagEdge) []dagEdge {
	for {
		cycleEdge, ok := findCycleEdgeToDrop(candidates, edges)
		if !ok {
			return edges
		}
		filtered := edges[:0:0]
		for _, ed := range edges {
			if ed == cycleEdge {
				continue
			}
			filtered = append(filtered, ed)
		}
		edges = filtered
	}
}

// findCycleEdgeToDrop runs Kahn's algorithm; if a cycle remains, it picks
// the weakest edge among the edges touching the unresolved (cyclic) nodes
// to drop, per the tie-break rule in spec.md §8.
func findCycleEdgeToDrop(candidates []tools.Ident, edges []dagEdge) (dagEdge, bool) {
	if toposortOK(candidates, edges) {
		return dagEdge{}, false
	}

	// Among all edges, find reciprocal or cyclic pairs by comparing weight;
	// the deterministic rule is: drop the globally weakest edge first,
	// re-checking acyclicity, since any cycle must contain a weakest link.
	sorted := append([]dagEdge(nil), edges...)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Weight != sorted[j].Weight {
			return sorted[i].Weight < sorted[j].Weight
		}
		// Higher lexicographic (from,to) is the "weaker" tie-break choice
		// to drop, so the lexicographically smaller pair survives.
		if sorted[i].From != sorted[j].From {
			return sorted[i].From > sorted[j].From
		}
		return sorted[i].To > sorted[j].To
	})
	return sorted[0], true
}

func toposortOK(candidates []tools.Ident, edges []dagEdge) bool {
	indeg := make(map[tools.Ident]int, len(candidates))
	adj := make(map[tools.Ident][]tools.Ident)
	for _, c := range candidates {
		indeg[c] = 0
	}
	for _, ed := range edges {
		indeg[ed.To]++
		adj[ed.From] = append(adj[ed.From], ed.To)
	}
	var queue []tools.Ident
	for _, c := range candidates {
		if indeg[c] == 0 {
			queue = append(queue, c)
		}
	}
	visited := 0
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		visited++
		for _, next := range adj[cur] {
			indeg[next]--
			if indeg[next] == 0 {
				queue = append(queue, next)
			}
		}
	}
	return visited == len(candidates)
}

func assembleDAG(candidates []tools.Ident, edges []dagEdge) DAG {
	dependsOn := make(map[tools.Ident][]tools.Ident)
	for _, ed := range edges {
		dependsOn[ed.To] = append(dependsOn[ed.To], ed.From)
	}

	idOf := make(map[tools.Ident]string, len(candidates))
	for i, c := range candidates {
		idOf[c] = taskID(i)
	}

	var tasks []Task
	for i, c := range candidates {
		deps := dependsOn[c]
		sort.Slice(deps, func(a, b int) bool { return deps[a] < deps[b] })
		depIDs := make([]string, 0, len(deps))
		for _, d := range deps {
			depIDs = append(depIDs, idOf[d])
		}
		tasks = append(tasks, Task{
			ID:        taskID(i),
			Tool:      c,
			Args:      map[string]any{},
			DependsOn: depIDs,
		})
	}
	return DAG{Tasks: tasks}
}

func taskID(i int) string {
	return "task_" + strconv.Itoa(i)
}
