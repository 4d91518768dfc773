package main

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mcpgw/gateway/internal/domain"
	"github.com/mcpgw/gateway/internal/graph"
	"github.com/mcpgw/gateway/internal/storage/memstore"
	"github.com/mcpgw/gateway/internal/tools"
)

func TestExportThenImportReplaceReproducesEdgeSet(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	eng := graph.New(store)

	require.NoError(t, eng.AddOrUpdateEdge(ctx, tools.Ident("search"), tools.Ident("fetch"), domain.EdgeSequence, domain.SourceObserved))
	require.NoError(t, eng.AddOrUpdateEdge(ctx, tools.Ident("fetch"), tools.Ident("summarize"), domain.EdgeSequence, domain.SourceObserved))

	path := filepath.Join(t.TempDir(), "patterns.json")
	require.NoError(t, exportPatterns(eng, path))

	fresh := graph.New(memstore.New())
	require.NoError(t, importPatterns(ctx, fresh, path, graph.StrategyReplace))

	w, ok := fresh.Edge(tools.Ident("search"), tools.Ident("fetch"))
	require.True(t, ok)
	require.Equal(t, domain.EdgeSequence, w.Type)

	_, ok = fresh.Edge(tools.Ident("fetch"), tools.Ident("summarize"))
	require.True(t, ok)
}

func TestImportPatternsRejectsUnknownStrategy(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "patterns.json")
	require.NoError(t, exportPatterns(graph.New(memstore.New()), path))

	err := importPatterns(ctx, graph.New(memstore.New()), path, graph.ImportStrategy("bogus"))
	require.Error(t, err)
}

func TestImportPatternsFailsOnMissingFile(t *testing.T) {
	ctx := context.Background()
	err := importPatterns(ctx, graph.New(memstore.New()), filepath.Join(t.TempDir(), "missing.json"), graph.StrategyMerge)
	require.Error(t, err)
}
