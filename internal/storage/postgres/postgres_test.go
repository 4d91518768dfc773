package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/stretchr/testify/require"

	"github.com/mcpgw/gateway/internal/domain"
	"github.com/mcpgw/gateway/internal/embedding"
	"github.com/mcpgw/gateway/internal/tools"
)

// startStore spins up a disposable Postgres+pgvector container, runs
// InitSchema, and returns a ready Store. Skips if Docker isn't reachable so
// this test doesn't block unit-test-only runs.
func startStore(t *testing.T) *Store {
	t.Helper()
	ctx := context.Background()

	container, err := tcpostgres.Run(ctx,
		"pgvector/pgvector:pg17",
		tcpostgres.WithDatabase("gateway_test"),
		tcpostgres.WithUsername("test"),
		tcpostgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").WithOccurrence(2).WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		t.Skipf("postgres container unavailable: %v", err)
	}
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	pool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	store := NewWithPool(pool, "")
	require.NoError(t, store.InitSchema(ctx))
	return store
}

func TestToolUpsertAndGet(t *testing.T) {
	store := startStore(t)
	ctx := context.Background()

	tool := domain.Tool{ID: tools.Ident("files:read"), ServerID: "files", Name: "read", Description: "reads a file", Active: true}
	require.NoError(t, store.UpsertTool(ctx, tool))

	got, ok, err := store.GetTool(ctx, tool.ID)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, tool.ID, got.ID)
	require.Equal(t, tool.Name, got.Name)
}

func TestEdgeBatchUpsertCommitsAllRows(t *testing.T) {
	store := startStore(t)
	ctx := context.Background()

	edges := []domain.Edge{
		{From: "a", To: "b", Type: domain.EdgeSequence, Source: domain.SourceObserved, Confidence: 0.6, LastObserved: time.Now()},
		{From: "b", To: "c", Type: domain.EdgeDependency, Source: domain.SourceInferred, Confidence: 0.4, LastObserved: time.Now()},
	}
	require.NoError(t, store.UpsertEdgesBatch(ctx, edges))

	got, err := store.ListEdges(ctx)
	require.NoError(t, err)
	require.Len(t, got, 2)
}

func TestTopKFiltersByMinScore(t *testing.T) {
	store := startStore(t)
	ctx := context.Background()

	require.NoError(t, store.UpsertTool(ctx, domain.Tool{ID: "near", Active: true}))
	require.NoError(t, store.UpsertTool(ctx, domain.Tool{ID: "far", Active: true}))
	vec := make([]float32, embedding.Dimension)
	vec[0] = 1
	require.NoError(t, store.UpsertToolEmbedding(ctx, domain.ToolEmbedding{ToolID: "near", Vector: vec}))
	orth := make([]float32, embedding.Dimension)
	orth[1] = 1
	require.NoError(t, store.UpsertToolEmbedding(ctx, domain.ToolEmbedding{ToolID: "far", Vector: orth}))

	results, err := store.TopK(ctx, vec, 5, 0.5)
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, tools.Ident("near"), results[0].ToolID)
}
