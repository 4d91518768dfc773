package retriever

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mcpgw/gateway/internal/domain"
	"github.com/mcpgw/gateway/internal/embedding"
	"github.com/mcpgw/gateway/internal/graph"
	"github.com/mcpgw/gateway/internal/storage/memstore"
	"github.com/mcpgw/gateway/internal/tools"
	"github.com/mcpgw/gateway/internal/vectorindex"
)

func setup(t *testing.T) (*Retriever, *graph.Engine, *vectorindex.Index) {
	t.Helper()
	store := memstore.New()
	embedder := embedding.NewLocal(8)
	idx := vectorindex.New(embedder, store)
	eng := graph.New(store)
	return New(idx, eng), eng, idx
}

func TestSearchHybridReturnsEmptyOnEmptyIndex(t *testing.T) {
	ctx := context.Background()
	r, _, _ := setup(t)

	results, err := r.SearchHybrid(ctx, "reads a file", 5, nil, false)
	require.NoError(t, err)
	require.Empty(t, results) // empty index, but must not error
}

func TestExpansionFactorThresholds(t *testing.T) {
	require.Equal(t, 1.5, expansionFactor(0.0))
	require.Equal(t, 1.5, expansionFactor(0.009))
	require.Equal(t, 2.0, expansionFactor(0.01))
	require.Equal(t, 2.0, expansionFactor(0.099))
	require.Equal(t, 3.0, expansionFactor(0.10))
}

func TestAlphaForIsBoundedAtHalf(t *testing.T) {
	require.Equal(t, 1.0, alphaFor(0))
	require.Equal(t, 0.5, alphaFor(0.3))
	require.Equal(t, 0.5, alphaFor(0.9))
}

func TestSearchHybridRanksByFinalScoreAndAnnotatesNeighbors(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	embedder := embedding.NewLocal(8)
	idx := vectorindex.New(embedder, store)
	eng := graph.New(store)
	r := New(idx, eng)

	for _, id := range []tools.Ident{"files:read", "files:write"} {
		require.NoError(t, store.UpsertTool(ctx, domain.Tool{ID: id, ServerID: "files", Name: string(id), Description: "reads a file from disk", Active: true}))
		require.NoError(t, idx.EmbedAndStoreTool(ctx, domain.Tool{ID: id, Description: "reads a file from disk"}))
	}
	require.NoError(t, eng.AddOrUpdateEdge(ctx, "files:read", "files:write", domain.EdgeSequence, domain.SourceObserved))

	results, err := r.SearchHybrid(ctx, "reads a file from disk", 5, []tools.Ident{"files:read"}, true)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	for i := 1; i < len(results); i++ {
		require.GreaterOrEqual(t, results[i-1].FinalScore, results[i].FinalScore)
	}
	for _, res := range results {
		if res.ToolID == "files:write" {
			require.Contains(t, res.OftenBefore, tools.Ident("files:read"))
		}
	}
}
