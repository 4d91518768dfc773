// Package storage defines the Storage Adapter port (spec.md §4.1): a thin
// boundary over key-value blobs, typed record upserts, vector-similarity
// search, and range queries, backed in production by Postgres+pgvector
// (internal/storage/postgres) and in tests by an in-memory implementation
// (internal/storage/memstore).
package storage

import (
	"context"
	"time"

	"github.com/mcpgw/gateway/internal/domain"
	"github.com/mcpgw/gateway/internal/tools"
)

// ScoredTool is one hit from a vector-similarity query.
type ScoredTool struct {
	ToolID tools.Ident
	Score  float64
}

// MetricSample is one point read back from a metrics range query.
type MetricSample struct {
	Name      string
	Timestamp time.Time
	Value     float64
	Metadata  map[string]string
}

// Adapter is the Storage Adapter port. Every operation is atomic; batch
// upserts are all-or-nothing (spec.md §4.1). Implementations must be safe
// for concurrent use.
type Adapter interface {
	// Get/Set/Delete operate on opaque keyed blobs (capability code bodies,
	// exported pattern bundles, and other values with no dedicated table).
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error

	UpsertTool(ctx context.Context, t domain.Tool) error
	GetTool(ctx context.Context, id tools.Ident) (domain.Tool, bool, error)
	ListTools(ctx context.Context) ([]domain.Tool, error)

	UpsertToolEmbedding(ctx context.Context, e domain.ToolEmbedding) error

	// UpsertEdgesBatch applies the given edges transactionally: either all
	// apply or none do (ON CONFLICT DO UPDATE semantics per spec.md §5).
	UpsertEdgesBatch(ctx context.Context, edges []domain.Edge) error
	ListEdges(ctx context.Context) ([]domain.Edge, error)

	AppendWorkflowExecution(ctx context.Context, exec domain.WorkflowExecution) error
	AppendTraceEvents(ctx context.Context, events []domain.TraceEvent) error
	TraceEventsByWorkflow(ctx context.Context, workflowID string) ([]domain.TraceEvent, error)

	UpsertCapability(ctx context.Context, c domain.Capability) error
	GetCapabilityByHash(ctx context.Context, hash string) (domain.Capability, bool, error)
	ListActiveCapabilities(ctx context.Context) ([]domain.Capability, error)

	// TopK returns the k nearest tool embeddings to vector by cosine
	// similarity, filtered to score >= minScore, descending by score with
	// ties broken by tool_id (spec.md §4.2).
	TopK(ctx context.Context, vector []float32, k int, minScore float64) ([]ScoredTool, error)

	RecordMetric(ctx context.Context, name string, value float64, meta map[string]string) error
	MetricsRange(ctx context.Context, name string, from, to time.Time) ([]MetricSample, error)
}
