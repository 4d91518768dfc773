package capability

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mcpgw/gateway/internal/embedding"
	"github.com/mcpgw/gateway/internal/storage/memstore"
)

func TestPromoteInsertsNewCapabilityOnFirstSeenCode(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	s := New(store, embedding.NewLocal(8))

	c, err := s.Promote(ctx, PromoteInput{Intent: "summarize a file", Code: "print(read(file))", Success: true})
	require.NoError(t, err)
	require.Equal(t, 1, c.UsageCount)
	require.Equal(t, 1, c.SuccessCount)
	require.True(t, c.Active)
}

func TestPromoteIncrementsExistingCapabilityByPatternHash(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	s := New(store, embedding.NewLocal(8))

	code := "print(read(file))"
	_, err := s.Promote(ctx, PromoteInput{Intent: "summarize a file", Code: code, Success: true})
	require.NoError(t, err)

	c2, err := s.Promote(ctx, PromoteInput{Intent: "summarize a file", Code: code, Success: false})
	require.NoError(t, err)
	require.Equal(t, 2, c2.UsageCount)
	require.Equal(t, 1, c2.SuccessCount)
}

func TestPromoteNormalizesWhitespaceBeforeHashing(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	s := New(store, embedding.NewLocal(8))

	_, err := s.Promote(ctx, PromoteInput{Intent: "x", Code: "print(  read(file)  )", Success: true})
	require.NoError(t, err)

	c2, err := s.Promote(ctx, PromoteInput{Intent: "x", Code: "print( read(file) )", Success: true})
	require.NoError(t, err)
	require.Equal(t, 2, c2.UsageCount)
}

func TestCapabilityRetiresAfterLowReliabilityPastUsageFloor(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	s := New(store, embedding.NewLocal(8))

	var id string
	for i := 0; i < retirementUses; i++ {
		got, err := s.Promote(ctx, PromoteInput{Intent: "flaky task", Code: "flaky()", Success: false})
		require.NoError(t, err)
		id = got.CapabilityID
	}
	active, err := store.ListActiveCapabilities(ctx)
	require.NoError(t, err)
	for _, a := range active {
		require.NotEqual(t, id, a.CapabilityID)
	}
}

func TestFindMatchRequiresReliabilityAboveFloor(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	s := New(store, embedding.NewLocal(8), WithIDGenerator(func() string { return "cap-1" }))

	_, err := s.Promote(ctx, PromoteInput{Intent: "summarize a file", Code: "print(read(file))", Success: true})
	require.NoError(t, err)

	_, _, found, err := s.FindMatch(ctx, "summarize a file", 0.9999)
	require.NoError(t, err)
	require.False(t, found) // one use, Laplace-smoothed reliability (1+1)/(1+2)=0.667 doesn't clear the 0.7 floor
}

func TestFindMatchReturnsFalseWhenStoreEmpty(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	s := New(store, embedding.NewLocal(8))

	_, _, found, err := s.FindMatch(ctx, "anything", 0)
	require.NoError(t, err)
	require.False(t, found)
}

func TestRecordUsageRetiresCapability(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	s := New(store, embedding.NewLocal(8), WithIDGenerator(func() string { return "cap-2" }))

	c, err := s.Promote(ctx, PromoteInput{Intent: "task", Code: "task()", Success: true})
	require.NoError(t, err)

	for i := 0; i < retirementUses; i++ {
		require.NoError(t, s.RecordUsage(ctx, c.CapabilityID, false))
	}

	active, err := store.ListActiveCapabilities(ctx)
	require.NoError(t, err)
	for _, a := range active {
		require.NotEqual(t, c.CapabilityID, a.CapabilityID)
	}
}
