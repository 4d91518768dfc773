package vectorindex

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mcpgw/gateway/internal/domain"
	"github.com/mcpgw/gateway/internal/embedding"
	"github.com/mcpgw/gateway/internal/storage/memstore"
	"github.com/mcpgw/gateway/internal/tools"
)

func TestSearchToolsReturnsEmptyOnEmptyIndex(t *testing.T) {
	ctx := context.Background()
	idx := New(embedding.NewLocal(8), memstore.New())

	got, err := idx.SearchTools(ctx, "read a file", 5, 0, nil)
	require.NoError(t, err)
	require.Empty(t, got)
}

func TestSearchToolsOrdersByScoreThenToolID(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	embedder := embedding.NewLocal(8)
	idx := New(embedder, store)

	for _, id := range []tools.Ident{"z-tool", "a-tool"} {
		require.NoError(t, store.UpsertTool(ctx, domain.Tool{ID: id, ServerID: "files", Name: string(id), Description: "reads a file", Active: true}))
		require.NoError(t, idx.EmbedAndStoreTool(ctx, domain.Tool{ID: id, Description: "reads a file"}))
	}

	got, err := idx.SearchTools(ctx, "reads a file", 5, 0, nil)
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, tools.Ident("a-tool"), got[0].ToolID)
	require.Equal(t, tools.Ident("z-tool"), got[1].ToolID)
}

func TestSearchToolsFiltersByMinScore(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	embedder := embedding.NewLocal(8)
	idx := New(embedder, store)

	require.NoError(t, store.UpsertTool(ctx, domain.Tool{ID: "unrelated", ServerID: "files", Name: "unrelated", Active: true}))
	require.NoError(t, idx.EmbedAndStoreTool(ctx, domain.Tool{ID: "unrelated", Description: "completely different concept entirely"}))

	got, err := idx.SearchTools(ctx, "reads a file", 5, 0.999999, nil)
	require.NoError(t, err)
	require.Empty(t, got)
}

func TestSearchToolsSkipsZeroK(t *testing.T) {
	ctx := context.Background()
	idx := New(embedding.NewLocal(8), memstore.New())
	got, err := idx.SearchTools(ctx, "x", 0, 0, nil)
	require.NoError(t, err)
	require.Nil(t, got)
}
