package memstore

import (
	"context"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/require"

	"github.com/mcpgw/gateway/internal/domain"
	"github.com/mcpgw/gateway/internal/tools"
)

func TestToolUpsertRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := New()

	tool := domain.Tool{ID: tools.Ident("files:read"), ServerID: "files", Name: "read", Description: "reads a file", Active: true}
	require.NoError(t, s.UpsertTool(ctx, tool))

	got, ok, err := s.GetTool(ctx, tool.ID)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, tool, got)
}

func TestEdgeBatchUpsertStoresEveryEdge(t *testing.T) {
	ctx := context.Background()
	s := New()

	edges := []domain.Edge{
		{From: "a", To: "b", Type: domain.EdgeSequence, Source: domain.SourceObserved, Confidence: 0.6},
		{From: "b", To: "c", Type: domain.EdgeDependency, Source: domain.SourceInferred, Confidence: 0.4},
	}
	require.NoError(t, s.UpsertEdgesBatch(ctx, edges))

	got, err := s.ListEdges(ctx)
	require.NoError(t, err)
	require.Len(t, got, 2)
}

func TestTopKOrdersByScoreThenToolID(t *testing.T) {
	ctx := context.Background()
	s := New()

	require.NoError(t, s.UpsertToolEmbedding(ctx, domain.ToolEmbedding{ToolID: "z-tool", Vector: []float32{1, 0, 0}}))
	require.NoError(t, s.UpsertToolEmbedding(ctx, domain.ToolEmbedding{ToolID: "a-tool", Vector: []float32{1, 0, 0}}))
	require.NoError(t, s.UpsertToolEmbedding(ctx, domain.ToolEmbedding{ToolID: "orthogonal", Vector: []float32{0, 1, 0}}))

	results, err := s.TopK(ctx, []float32{1, 0, 0}, 5, 0.5)
	require.NoError(t, err)
	require.Len(t, results, 2)
	// identical cosine score: tie broken by tool_id ascending.
	require.Equal(t, tools.Ident("a-tool"), results[0].ToolID)
	require.Equal(t, tools.Ident("z-tool"), results[1].ToolID)
}

func TestTopKRespectsMinScore(t *testing.T) {
	ctx := context.Background()
	s := New()
	require.NoError(t, s.UpsertToolEmbedding(ctx, domain.ToolEmbedding{ToolID: "orthogonal", Vector: []float32{0, 1, 0}}))

	results, err := s.TopK(ctx, []float32{1, 0, 0}, 5, 0.5)
	require.NoError(t, err)
	require.Empty(t, results)
}

func TestContextCancellationShortCircuits(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s := New()

	_, err := s.ListTools(ctx)
	require.ErrorIs(t, err, context.Canceled)
}

// TestCapabilityUpsertRoundTripByHash verifies that upserting a capability
// and looking it up by its pattern hash always returns an equivalent record,
// for any usage/success counters and active flag.
func TestCapabilityUpsertRoundTripByHash(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("upsert then get-by-hash returns the same capability", prop.ForAll(
		func(id, hash, name string, usage, success int, active bool) bool {
			s := New()
			ctx := context.Background()
			c := domain.Capability{
				CapabilityID: id,
				Name:         name,
				PatternHash:  hash,
				UsageCount:   usage,
				SuccessCount: success,
				Active:       active,
			}
			if err := s.UpsertCapability(ctx, c); err != nil {
				return false
			}
			got, ok, err := s.GetCapabilityByHash(ctx, hash)
			if err != nil || !ok {
				return false
			}
			return got.CapabilityID == c.CapabilityID && got.PatternHash == c.PatternHash &&
				got.Name == c.Name && got.UsageCount == c.UsageCount &&
				got.SuccessCount == c.SuccessCount && got.Active == c.Active
		},
		gen.Identifier(),
		gen.Identifier(),
		gen.AlphaString(),
		gen.IntRange(0, 1000),
		gen.IntRange(0, 1000),
		gen.Bool(),
	))

	properties.TestingRun(t)
}
