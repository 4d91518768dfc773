// Package dagsuggester implements the DAG Suggester (spec.md §4.5): it
// turns an intent into a candidate task DAG with an explainable
// confidence, re-plans a running DAG against a new requirement, and
// predicts likely next tools from graph structure and co-occurrence.
package dagsuggester

import (
	"context"
	"sort"
	"strings"

	"github.com/mcpgw/gateway/internal/domain"
	"github.com/mcpgw/gateway/internal/graph"
	"github.com/mcpgw/gateway/internal/retriever"
	"github.com/mcpgw/gateway/internal/tools"
	"github.com/mcpgw/gateway/internal/vectorindex"
)

// warningThreshold and explicitThreshold are the confidence bands from
// spec.md §4.5/§4.11.
const (
	warningThreshold  = 0.50
	explicitThreshold = 0.80
)

// dangerousVerbs is the blacklist applied case-insensitively to predicted
// tool ids (spec.md §4.5).
var dangerousVerbs = []string{
	"delete", "remove", "deploy", "payment", "send_email",
	"execute_shell", "drop", "truncate", "transfer", "admin",
}

// Intent is the input to SuggestDAG.
type Intent struct {
	Text    string
	Context []tools.Ident
}

// DependencyPath annotates one explainability path in a suggested DAG.
type DependencyPath struct {
	From, To   tools.Ident
	Hops       int
	Confidence float64
}

// Suggestion is the outcome of SuggestDAG.
type Suggestion struct {
	DAG              graph.DAG
	Confidence       float64
	Rationale        string
	Warning          bool
	Alternatives     []tools.Ident
	DependencyPaths  []DependencyPath
	LowConfidence    bool
}

// Prediction is one scored next-tool guess from PredictNextNodes.
type Prediction struct {
	ToolID     tools.Ident
	Source     domain.PredictionSource
	Confidence float64
}

// EpisodicMemory is the optional episodic-memory collaborator
// PredictNextNodes consults when attached (spec.md §4.5).
type EpisodicMemory interface {
	// SuccessRate and FailureRate return this tool's historical outcome
	// rates in [0,1] for the current session/state.
	SuccessRate(tool tools.Ident) float64
	FailureRate(tool tools.Ident) float64
}

// Suggester is the DAG Suggester.
type Suggester struct {
	retriever *retriever.Retriever
	index     *vectorindex.Index
	graph     *graph.Engine
	episodic  EpisodicMemory
}

// Option configures a Suggester.
type Option func(*Suggester)

// WithEpisodicMemory attaches an episodic-memory collaborator used by
// PredictNextNodes to adjust confidence.
func WithEpisodicMemory(m EpisodicMemory) Option { return func(s *Suggester) { s.episodic = m } }

// New constructs a Suggester over r, idx, and eng.
func New(r *retriever.Retriever, idx *vectorindex.Index, eng *graph.Engine, opts ...Option) *Suggester {
	s := &Suggester{retriever: r, index: idx, graph: eng}
	for _, o := range opts {
		o(s)
	}
	return s
}

// SuggestDAG implements the §4.5 algorithm: hybrid search for candidates,
// re-rank by combined semantic/pagerank score, build a DAG over the top
// five, annotate dependency paths, and score overall confidence with
// density-adaptive weights.
func (s *Suggester) SuggestDAG(ctx context.Context, intent Intent) (Suggestion, error) {
	hits, err := s.retriever.SearchHybrid(ctx, intent.Text, 10, intent.Context, false)
	if err != nil {
		return Suggestion{}, err
	}
	if len(hits) == 0 {
		return Suggestion{LowConfidence: true, Rationale: "no candidate tools matched the intent"}, nil
	}

	type ranked struct {
		id       tools.Ident
		combined float64
	}
	rs := make([]ranked, 0, len(hits))
	for _, h := range hits {
		rs = append(rs, ranked{id: h.ToolID, combined: 0.8*h.FinalScore + 0.2*s.graph.PageRank(h.ToolID)})
	}
	sort.SliceStable(rs, func(i, j int) bool {
		if rs[i].combined != rs[j].combined {
			return rs[i].combined > rs[j].combined
		}
		return rs[i].id < rs[j].id
	})
	if len(rs) > 5 {
		rs = rs[:5]
	}

	candidates := make([]tools.Ident, 0, len(rs))
	for _, r := range rs {
		candidates = append(candidates, r.id)
	}

	dag := s.graph.BuildDAG(candidates)
	paths := dependencyPaths(s.graph, dag)

	density := s.graph.Density()
	wHybrid, wPagerank, wPath := confidenceWeights(density)

	avgHybrid := averageOf(rs, func(r ranked) float64 { return r.combined })
	avgPagerank := averagePageRank(s.graph, candidates)
	avgPath := averagePathConfidence(paths)

	confidence := wHybrid*avgHybrid + wPagerank*avgPagerank + wPath*avgPath

	suggestion := Suggestion{
		DAG:             dag,
		Confidence:      confidence,
		Rationale:       "built from top-ranked hybrid-search candidates and their learned dependencies",
		Warning:         confidence < warningThreshold,
		Alternatives:    alternativesBeyondTop(hits, candidates),
		DependencyPaths: paths,
	}
	return suggestion, nil
}

// confidenceWeights returns (w_hybrid, w_pagerank, w_path) for density per
// spec.md §4.5's density-adaptive table.
func confidenceWeights(density float64) (float64, float64, float64) {
	switch {
	case density < 0.01:
		return 0.85, 0.05, 0.10
	case density < 0.10:
		return 0.65, 0.20, 0.15
	default:
		return 0.55, 0.30, 0.15
	}
}

// dependencyPaths extracts explainability annotations for each dependency
// edge in dag, scoring confidence by hop count via the §4.5 table. The hop
// count is the length of the graph's ShortestPath between the two tools
// (BuildDAG admits paths of up to 3 hops), or 1 when no path is found.
func dependencyPaths(eng *graph.Engine, dag graph.DAG) []DependencyPath {
	var out []DependencyPath
	for _, task := range dag.Tasks {
		for _, depID := range task.DependsOn {
			from := toolForTaskID(dag, depID)
			hops := 1
			if path := eng.ShortestPath(from, task.Tool); len(path) > 0 {
				hops = len(path) - 1
			}
			out = append(out, DependencyPath{
				From:       from,
				To:         task.Tool,
				Hops:       hops,
				Confidence: hopConfidence(hops),
			})
		}
	}
	return out
}

func hopConfidence(hops int) float64 {
	switch hops {
	case 1:
		return 0.95
	case 2:
		return 0.80
	case 3:
		return 0.65
	default:
		return 0.50
	}
}

func toolForTaskID(dag graph.DAG, id string) tools.Ident {
	for _, t := range dag.Tasks {
		if t.ID == id {
			return t.Tool
		}
	}
	return ""
}

func averageOf[T any](items []T, f func(T) float64) float64 {
	if len(items) == 0 {
		return 0
	}
	var sum float64
	for _, it := range items {
		sum += f(it)
	}
	return sum / float64(len(items))
}

func averagePageRank(eng *graph.Engine, ids []tools.Ident) float64 {
	if len(ids) == 0 {
		return 0
	}
	var sum float64
	for _, id := range ids {
		sum += eng.PageRank(id)
	}
	return sum / float64(len(ids))
}

func averagePathConfidence(paths []DependencyPath) float64 {
	if len(paths) == 0 {
		return 1 // no dependencies to doubt; path confidence is vacuously full
	}
	var sum float64
	for _, p := range paths {
		sum += p.Confidence
	}
	return sum / float64(len(paths))
}

func alternativesBeyondTop(hits []retriever.Result, top []tools.Ident) []tools.Ident {
	inTop := make(map[tools.Ident]bool, len(top))
	for _, id := range top {
		inTop[id] = true
	}
	var out []tools.Ident
	for _, h := range hits {
		if !inTop[h.ToolID] {
			out = append(out, h.ToolID)
		}
	}
	return out
}

// RegisterHint upserts an inferred sequence edge from->to through the
// Graph Engine's AddOrUpdateEdge. It takes no confidence argument: a new
// hint edge starts at AddOrUpdateEdge's initial 0.5, and repeating a hint
// raises it by the engine's usual per-observation step.
func (s *Suggester) RegisterHint(ctx context.Context, from, to tools.Ident) error {
	return s.graph.AddOrUpdateEdge(ctx, from, to, domain.EdgeSequence, domain.SourceInferred)
}

// ExportPatterns delegates to the Graph Engine's export.
func (s *Suggester) ExportPatterns() []domain.Edge {
	return s.graph.ExportPatterns()
}

// ImportPatterns delegates to the Graph Engine's import.
func (s *Suggester) ImportPatterns(ctx context.Context, patterns []domain.Edge, strategy graph.ImportStrategy) error {
	return s.graph.ImportPatterns(ctx, patterns, strategy)
}

// isDangerous reports whether id contains any blacklisted verb substring,
// case-insensitively (spec.md §4.5).
func isDangerous(id tools.Ident) bool {
	lower := strings.ToLower(string(id))
	for _, v := range dangerousVerbs {
		if strings.Contains(lower, v) {
			return true
		}
	}
	return false
}
