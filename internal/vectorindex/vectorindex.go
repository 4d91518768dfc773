// Package vectorindex implements the Vector Index (spec.md §4.2): semantic
// tool search over the Embedding Port and the Storage Adapter's vector
// topK query.
package vectorindex

import (
	"context"
	"sort"

	"github.com/mcpgw/gateway/internal/domain"
	"github.com/mcpgw/gateway/internal/embedding"
	"github.com/mcpgw/gateway/internal/storage"
	"github.com/mcpgw/gateway/internal/tools"
)

// Result is one hit from SearchTools.
type Result struct {
	ToolID      tools.Ident
	ServerID    string
	ToolName    string
	Score       float64
	Schema      []byte
	Description string
}

// Index is the Vector Index.
type Index struct {
	embedder embedding.Port
	storage  storage.Adapter
}

// New constructs an Index backed by embedder and store.
func New(embedder embedding.Port, store storage.Adapter) *Index {
	return &Index{embedder: embedder, storage: store}
}

// SearchTools embeds queryText, runs topK against the Storage Adapter, and
// returns hits with score >= minScore in descending score order, ties
// broken by tool_id (spec.md §4.2). contextTools is accepted for callers
// that want to thread it through to a hybrid search layer above this one;
// the Vector Index itself does no graph-aware reranking. Returns an empty
// slice, never an error, when the index has no embeddings yet.
func (idx *Index) SearchTools(ctx context.Context, queryText string, k int, minScore float64, contextTools []tools.Ident) ([]Result, error) {
	if k <= 0 {
		return nil, nil
	}

	vec, err := idx.embedder.Embed(ctx, queryText)
	if err != nil {
		return nil, err
	}

	hits, err := idx.storage.TopK(ctx, vec, k, minScore)
	if err != nil {
		return nil, err
	}

	out := make([]Result, 0, len(hits))
	for _, h := range hits {
		t, ok, err := idx.storage.GetTool(ctx, h.ToolID)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		out = append(out, Result{
			ToolID:      h.ToolID,
			ServerID:    t.ServerID,
			ToolName:    t.Name,
			Score:       h.Score,
			Schema:      []byte(t.Schema),
			Description: t.Description,
		})
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].ToolID < out[j].ToolID
	})
	return out, nil
}

// EmbedAndStoreTool embeds a tool's description and upserts its embedding,
// used by tool registration to populate the index (spec.md §6.2).
func (idx *Index) EmbedAndStoreTool(ctx context.Context, t domain.Tool) error {
	vec, err := idx.embedder.Embed(ctx, t.Description)
	if err != nil {
		return err
	}
	return idx.storage.UpsertToolEmbedding(ctx, domain.ToolEmbedding{
		ToolID: t.ID,
		Vector: vec,
	})
}
