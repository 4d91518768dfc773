// Package embedding defines the Embedding Port (spec.md §2, §4.2): a thin
// boundary around an external text-embedding capability. The gateway
// assumes embedding generation is provided by something else (a hosted
// model, a local encoder) and only depends on the `embed(text) -> vector`
// shape, mirrored on the Embedder interface the langgraphgo RAG engine
// depends on (rag.Embedder: EmbedDocument/GetDimension).
package embedding

import "context"

// Dimension is the fixed embedding width every vector in the gateway uses
// (spec.md §1 reference dimension D=1024).
const Dimension = 1024

// Port embeds text into fixed-dimension vectors.
type Port interface {
	// Embed returns the embedding for a single piece of text.
	Embed(ctx context.Context, text string) ([]float32, error)
	// EmbedBatch embeds multiple texts in one call; implementations should
	// batch the underlying request where the backing service supports it.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	// Dim reports the fixed dimension this port produces.
	Dim() int
}
