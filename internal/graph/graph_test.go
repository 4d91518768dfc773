package graph

import (
	"context"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/require"

	"github.com/mcpgw/gateway/internal/domain"
	"github.com/mcpgw/gateway/internal/storage/memstore"
	"github.com/mcpgw/gateway/internal/tools"
)

func TestAddOrUpdateEdgeStartsInferredAtHalfConfidence(t *testing.T) {
	ctx := context.Background()
	e := New(memstore.New())

	require.NoError(t, e.AddOrUpdateEdge(ctx, "a", "b", domain.EdgeSequence, domain.SourceInferred))
	ed := e.bestEdgeByTypeLocked("a", "b", domain.EdgeSequence)
	require.InDelta(t, 0.5, ed.Confidence, 1e-9)
	require.Equal(t, domain.CombinedWeight(domain.EdgeSequence, domain.SourceInferred), e.DirectEdgeWeight("a", "b"))
}

func TestAddOrUpdateEdgeConfidenceGrowsMonotonicallyAndPromotes(t *testing.T) {
	ctx := context.Background()
	e := New(memstore.New())

	var last float64
	for i := 0; i < domain.ObservedCountPromotion+2; i++ {
		require.NoError(t, e.AddOrUpdateEdge(ctx, "a", "b", domain.EdgeSequence, domain.SourceInferred))
		ed := e.bestEdgeByTypeLocked("a", "b", domain.EdgeSequence)
		require.GreaterOrEqual(t, ed.Confidence, last)
		last = ed.Confidence
		require.GreaterOrEqual(t, ed.Confidence, domain.MinConfidence)
		require.LessOrEqual(t, ed.Confidence, 1.0)
	}
	ed := e.bestEdgeByTypeLocked("a", "b", domain.EdgeSequence)
	require.Equal(t, domain.SourceObserved, ed.Source)
	require.GreaterOrEqual(t, ed.ObservedCount, domain.ObservedCountPromotion)
}

func TestSourceOnlyStrengthensNeverWeakens(t *testing.T) {
	ctx := context.Background()
	e := New(memstore.New())

	require.NoError(t, e.AddOrUpdateEdge(ctx, "a", "b", domain.EdgeContains, domain.SourceObserved))
	require.NoError(t, e.AddOrUpdateEdge(ctx, "a", "b", domain.EdgeContains, domain.SourceTemplate))

	ed := e.bestEdgeByTypeLocked("a", "b", domain.EdgeContains)
	require.Equal(t, domain.SourceObserved, ed.Source)
}

func TestBootstrapFromTemplatesSkipsWhenStrongerSourceExists(t *testing.T) {
	ctx := context.Background()
	e := New(memstore.New())

	require.NoError(t, e.AddOrUpdateEdge(ctx, "a", "b", domain.EdgeDependency, domain.SourceObserved))
	observedConfidence := e.bestEdgeByTypeLocked("a", "b", domain.EdgeDependency).Confidence

	require.NoError(t, e.BootstrapFromTemplates(ctx, []domain.Edge{
		{From: "a", To: "b", Type: domain.EdgeDependency, Source: domain.SourceTemplate},
	}))

	ed := e.bestEdgeByTypeLocked("a", "b", domain.EdgeDependency)
	require.Equal(t, domain.SourceObserved, ed.Source)
	require.Equal(t, observedConfidence, ed.Confidence)
}

func TestPageRankRanksHubAboveLeaf(t *testing.T) {
	ctx := context.Background()
	e := New(memstore.New())

	// a,b,c all point to hub; hub points nowhere.
	require.NoError(t, e.AddOrUpdateEdge(ctx, "a", "hub", domain.EdgeSequence, domain.SourceObserved))
	require.NoError(t, e.AddOrUpdateEdge(ctx, "b", "hub", domain.EdgeSequence, domain.SourceObserved))
	require.NoError(t, e.AddOrUpdateEdge(ctx, "c", "hub", domain.EdgeSequence, domain.SourceObserved))
	e.recompute()

	require.Greater(t, e.PageRank("hub"), e.PageRank("a"))
	require.Equal(t, 1.0, e.PageRank("hub")) // normalized to [0,1] by max score
}

func TestLouvainGroupsDenselyConnectedClusterTogether(t *testing.T) {
	ctx := context.Background()
	e := New(memstore.New())

	// Dense triangle a-b-c, separate dense triangle x-y-z, one weak bridge.
	for _, pair := range [][2]tools.Ident{{"a", "b"}, {"b", "c"}, {"c", "a"}} {
		require.NoError(t, e.AddOrUpdateEdge(ctx, pair[0], pair[1], domain.EdgeDependency, domain.SourceObserved))
	}
	for _, pair := range [][2]tools.Ident{{"x", "y"}, {"y", "z"}, {"z", "x"}} {
		require.NoError(t, e.AddOrUpdateEdge(ctx, pair[0], pair[1], domain.EdgeDependency, domain.SourceObserved))
	}
	require.NoError(t, e.AddOrUpdateEdge(ctx, "c", "x", domain.EdgeSequence, domain.SourceInferred))
	e.recompute()

	require.Equal(t, e.Community("a"), e.Community("b"))
	require.Equal(t, e.Community("b"), e.Community("c"))
	require.Equal(t, e.Community("x"), e.Community("y"))
	require.Equal(t, e.Community("y"), e.Community("z"))
	require.NotEqual(t, e.Community("a"), e.Community("x"))
}

func TestShortestPathFindsCheapestRoute(t *testing.T) {
	ctx := context.Background()
	e := New(memstore.New())

	require.NoError(t, e.AddOrUpdateEdge(ctx, "a", "b", domain.EdgeDependency, domain.SourceObserved)) // weight 1.0, cheap
	require.NoError(t, e.AddOrUpdateEdge(ctx, "b", "c", domain.EdgeDependency, domain.SourceObserved))
	require.NoError(t, e.AddOrUpdateEdge(ctx, "a", "c", domain.EdgeSequence, domain.SourceTemplate)) // weight 0.5*0.5=0.25, expensive direct hop

	path := e.ShortestPath("a", "c")
	require.Equal(t, []tools.Ident{"a", "b", "c"}, path)
}

func TestShortestPathReturnsNilWhenUnreachable(t *testing.T) {
	ctx := context.Background()
	e := New(memstore.New())
	require.NoError(t, e.AddOrUpdateEdge(ctx, "a", "b", domain.EdgeDependency, domain.SourceObserved))
	e.ensureNodeForTest("isolated")

	require.Nil(t, e.ShortestPath("a", "isolated"))
}

func TestGraphRelatednessIsZeroForEmptyContext(t *testing.T) {
	e := New(memstore.New())
	require.Equal(t, 0.0, e.GraphRelatedness("a", nil))
}

func TestGraphRelatednessUsesDirectEdgeWeight(t *testing.T) {
	ctx := context.Background()
	e := New(memstore.New())
	require.NoError(t, e.AddOrUpdateEdge(ctx, "a", "b", domain.EdgeDependency, domain.SourceObserved))

	got := e.GraphRelatedness("b", []tools.Ident{"a"})
	require.Equal(t, e.DirectEdgeWeight("a", "b"), got)
}

func TestBuildDAGBreaksCycleKeepingHigherWeightEdge(t *testing.T) {
	ctx := context.Background()
	e := New(memstore.New())

	// X -> Y path average weight 1.0 (dependency/observed), Y -> X average 0.25 (sequence/template).
	require.NoError(t, e.AddOrUpdateEdge(ctx, "X", "Y", domain.EdgeDependency, domain.SourceObserved))
	require.NoError(t, e.AddOrUpdateEdge(ctx, "Y", "X", domain.EdgeSequence, domain.SourceTemplate))

	dag := e.BuildDAG([]tools.Ident{"X", "Y"})

	byTool := make(map[tools.Ident]Task, len(dag.Tasks))
	for _, task := range dag.Tasks {
		byTool[task.Tool] = task
	}
	require.Empty(t, byTool["X"].DependsOn)
	require.Equal(t, []string{byTool["X"].ID}, byTool["Y"].DependsOn)
}

func TestBuildDAGResultIsAlwaysAcyclic(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("buildDAG output always has a topological sort", prop.ForAll(
		func(pairs []int) bool {
			ctx := context.Background()
			e := New(memstore.New())
			candidates := []tools.Ident{"n0", "n1", "n2", "n3", "n4"}

			for i := 0; i+1 < len(pairs); i += 2 {
				from := candidates[pairs[i]%len(candidates)]
				to := candidates[pairs[i+1]%len(candidates)]
				if from == to {
					continue
				}
				_ = e.AddOrUpdateEdge(ctx, from, to, domain.EdgeDependency, domain.SourceObserved)
			}

			dag := e.BuildDAG(candidates)
			var edges []dagEdge
			idOf := make(map[string]tools.Ident, len(dag.Tasks))
			for _, task := range dag.Tasks {
				idOf[task.ID] = task.Tool
			}
			for _, task := range dag.Tasks {
				for _, dep := range task.DependsOn {
					edges = append(edges, dagEdge{From: idOf[dep], To: task.Tool, Weight: 1})
				}
			}
			return toposortOK(candidates, edges)
		},
		gen.SliceOfN(16, gen.IntRange(0, 4)),
	))

	properties.TestingRun(t)
}

func TestExportImportReplaceRoundTrips(t *testing.T) {
	ctx := context.Background()
	src := New(memstore.New())
	require.NoError(t, src.AddOrUpdateEdge(ctx, "a", "b", domain.EdgeSequence, domain.SourceObserved))
	require.NoError(t, src.AddOrUpdateEdge(ctx, "b", "c", domain.EdgeDependency, domain.SourceInferred))

	exported := src.ExportPatterns()

	dst := New(memstore.New())
	require.NoError(t, dst.ImportPatterns(ctx, exported, StrategyReplace))

	require.ElementsMatch(t, exported, dst.ExportPatterns())
}

func TestImportPatternsMergeIsIdempotent(t *testing.T) {
	ctx := context.Background()
	e := New(memstore.New())
	require.NoError(t, e.AddOrUpdateEdge(ctx, "a", "b", domain.EdgeSequence, domain.SourceObserved))

	exported := e.ExportPatterns()
	require.NoError(t, e.ImportPatterns(ctx, exported, StrategyMerge))
	firstMerge := e.ExportPatterns()

	require.NoError(t, e.ImportPatterns(ctx, firstMerge, StrategyMerge))
	secondMerge := e.ExportPatterns()

	require.ElementsMatch(t, firstMerge, secondMerge)
}

// ensureNodeForTest registers id with no edges, for tests that need an
// isolated node to exist in the bimap without any reachable path.
func (e *Engine) ensureNodeForTest(id tools.Ident) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.ensureNode(id)
}
