package dagsuggester

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mcpgw/gateway/internal/domain"
	"github.com/mcpgw/gateway/internal/embedding"
	"github.com/mcpgw/gateway/internal/graph"
	"github.com/mcpgw/gateway/internal/retriever"
	"github.com/mcpgw/gateway/internal/storage/memstore"
	"github.com/mcpgw/gateway/internal/tools"
	"github.com/mcpgw/gateway/internal/vectorindex"
)

func newSuggester(t *testing.T) (*Suggester, *graph.Engine, *vectorindex.Index) {
	t.Helper()
	store := memstore.New()
	embedder := embedding.NewLocal(8)
	idx := vectorindex.New(embedder, store)
	eng := graph.New(store)
	r := retriever.New(idx, eng)
	return New(r, idx, eng), eng, idx
}

func seedTool(t *testing.T, idx *vectorindex.Index, id tools.Ident, desc string) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, idx.EmbedAndStoreTool(ctx, domain.Tool{ID: id, Description: desc}))
}

func TestSuggestDAGReturnsLowConfidenceWhenNoCandidates(t *testing.T) {
	s, _, _ := newSuggester(t)
	got, err := s.SuggestDAG(context.Background(), Intent{Text: "do something"})
	require.NoError(t, err)
	require.True(t, got.LowConfidence)
}

func TestHopConfidenceTable(t *testing.T) {
	require.Equal(t, 0.95, hopConfidence(1))
	require.Equal(t, 0.80, hopConfidence(2))
	require.Equal(t, 0.65, hopConfidence(3))
	require.Equal(t, 0.50, hopConfidence(4))
}

func TestConfidenceWeightsTable(t *testing.T) {
	h, p, path := confidenceWeights(0.005)
	require.Equal(t, 0.85, h)
	require.Equal(t, 0.05, p)
	require.Equal(t, 0.10, path)

	h, p, path = confidenceWeights(0.05)
	require.Equal(t, 0.65, h)
	require.Equal(t, 0.20, p)
	require.Equal(t, 0.15, path)

	h, p, path = confidenceWeights(0.5)
	require.Equal(t, 0.55, h)
	require.Equal(t, 0.30, p)
	require.Equal(t, 0.15, path)
}

func TestIsDangerousMatchesCaseInsensitiveSubstring(t *testing.T) {
	require.True(t, isDangerous(tools.Ident("files:DELETE_all")))
	require.True(t, isDangerous(tools.Ident("payments:transfer_funds")))
	require.False(t, isDangerous(tools.Ident("files:read")))
}

func TestPredictNextNodesFiltersBlacklistAndEmptyState(t *testing.T) {
	s, eng, idx := newSuggester(t)
	ctx := context.Background()

	seedTool(t, idx, "files:read", "reads a file")
	seedTool(t, idx, "files:delete", "deletes a file")
	require.NoError(t, eng.AddOrUpdateEdge(ctx, "files:read", "files:delete", domain.EdgeSequence, domain.SourceObserved))

	require.Empty(t, s.PredictNextNodes(State{}))

	preds := s.PredictNextNodes(State{LastTool: "files:read"})
	for _, p := range preds {
		require.NotEqual(t, tools.Ident("files:delete"), p.ToolID)
	}
}

func TestPredictNextNodesSortsDescendingByConfidence(t *testing.T) {
	s, eng, idx := newSuggester(t)
	ctx := context.Background()

	seedTool(t, idx, "files:read", "reads a file")
	seedTool(t, idx, "files:write", "writes a file")
	seedTool(t, idx, "files:list", "lists files")
	require.NoError(t, eng.AddOrUpdateEdge(ctx, "files:read", "files:write", domain.EdgeDependency, domain.SourceObserved))
	require.NoError(t, eng.AddOrUpdateEdge(ctx, "files:read", "files:list", domain.EdgeSequence, domain.SourceTemplate))

	preds := s.PredictNextNodes(State{LastTool: "files:read"})
	for i := 1; i < len(preds); i++ {
		require.GreaterOrEqual(t, preds[i-1].Confidence, preds[i].Confidence)
	}
}

func TestReplanDAGReturnsOriginalOnNoMatches(t *testing.T) {
	s, _, _ := newSuggester(t)
	original := graph.DAG{Tasks: []graph.Task{{ID: "task_0", Tool: "files:read"}}}

	got, err := s.ReplanDAG(context.Background(), original, ReplanInput{
		CompletedTasks: original.Tasks,
		NewRequirement: "no such tool exists anywhere",
	})
	require.NoError(t, err)
	require.Equal(t, original, got)
}

func TestReplanDAGAppendsDependentTasks(t *testing.T) {
	s, _, idx := newSuggester(t)
	seedTool(t, idx, "files:summarize", "summarizes a file's contents")

	original := graph.DAG{Tasks: []graph.Task{{ID: "task_0", Tool: "files:read"}}}
	got, err := s.ReplanDAG(context.Background(), original, ReplanInput{
		CompletedTasks: original.Tasks,
		NewRequirement: "summarizes a file's contents",
	})
	require.NoError(t, err)
	require.Greater(t, len(got.Tasks), len(original.Tasks))
	require.True(t, acyclic(got))
}

func TestAcyclicDetectsCycle(t *testing.T) {
	cyclic := graph.DAG{Tasks: []graph.Task{
		{ID: "a", DependsOn: []string{"b"}},
		{ID: "b", DependsOn: []string{"a"}},
	}}
	require.False(t, acyclic(cyclic))
}
