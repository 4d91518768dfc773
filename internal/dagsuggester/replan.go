package dagsuggester

import (
	"context"
	"sort"
	"strconv"

	"github.com/mcpgw/gateway/internal/graph"
	"github.com/mcpgw/gateway/internal/tools"
)

// replanMinScore and replanTopK bound the vector search replanDAG runs for
// the new requirement (spec.md §4.5).
const (
	replanMinScore = 0.5
	replanTopK     = 3
)

// ReplanInput carries the state replanDAG needs to extend a running DAG.
type ReplanInput struct {
	CompletedTasks []graph.Task
	NewRequirement string
	AvailableContext []tools.Ident
}

// ReplanDAG searches the vector index for new_requirement, synthesizes new
// tasks depending on the last completed task, and validates acyclicity;
// on cycle it returns current unchanged (spec.md §4.5).
func (s *Suggester) ReplanDAG(ctx context.Context, current graph.DAG, in ReplanInput) (graph.DAG, error) {
	hits, err := s.index.SearchTools(ctx, in.NewRequirement, replanTopK*3, replanMinScore, in.AvailableContext)
	if err != nil {
		return current, err
	}
	if len(hits) == 0 {
		return current, nil
	}

	sort.SliceStable(hits, func(i, j int) bool {
		pi, pj := s.graph.PageRank(hits[i].ToolID), s.graph.PageRank(hits[j].ToolID)
		if pi != pj {
			return pi > pj
		}
		return hits[i].ToolID < hits[j].ToolID
	})
	if len(hits) > replanTopK {
		hits = hits[:replanTopK]
	}

	lastCompleted := lastCompletedTask(in.CompletedTasks)

	candidate := current
	nextIdx := len(candidate.Tasks)
	for i, h := range hits {
		task := graph.Task{
			ID:   taskIDForReplan(nextIdx + i),
			Tool: h.ToolID,
			Args: map[string]any{},
		}
		if lastCompleted != nil {
			task.DependsOn = []string{lastCompleted.ID}
		}
		candidate.Tasks = append(candidate.Tasks, task)
	}

	if !acyclic(candidate) {
		return current, nil
	}
	return candidate, nil
}

func lastCompletedTask(completed []graph.Task) *graph.Task {
	if len(completed) == 0 {
		return nil
	}
	last := completed[len(completed)-1]
	return &last
}

func taskIDForReplan(i int) string {
	return "task_" + strconv.Itoa(i)
}

// acyclic runs Kahn's algorithm over dag's depends_on edges.
func acyclic(dag graph.DAG) bool {
	indeg := make(map[string]int, len(dag.Tasks))
	adj := make(map[string][]string)
	ids := make(map[string]bool, len(dag.Tasks))
	for _, t := range dag.Tasks {
		ids[t.ID] = true
		if _, ok := indeg[t.ID]; !ok {
			indeg[t.ID] = 0
		}
	}
	for _, t := range dag.Tasks {
		for _, dep := range t.DependsOn {
			indeg[t.ID]++
			adj[dep] = append(adj[dep], t.ID)
		}
	}
	var queue []string
	for id := range ids {
		if indeg[id] == 0 {
			queue = append(queue, id)
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
	return visited == len(ids)
}
