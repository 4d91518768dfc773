package embedding

import (
	"context"
	"math"
)

// Local is a deterministic, dependency-free Port implementation: the same
// text always embeds to the same vector. It exists because the spec treats
// embedding generation as an external capability the gateway assumes
// rather than implements (spec.md §1); Local gives every other component
// (Vector Index, Retriever, DAG Suggester, Capability Store) something
// concrete to run against in tests and single-node deployments, in place
// of a hosted embedding API. Grounded on the pack's MockEmbedder pattern:
// hash text into a fixed-width vector via a running sum, then L2-normalize.
type Local struct {
	dim int
}

var _ Port = (*Local)(nil)

// NewLocal constructs a Local embedder of the given dimension, defaulting
// to Dimension when dim <= 0.
func NewLocal(dim int) *Local {
	if dim <= 0 {
		dim = Dimension
	}
	return &Local{dim: dim}
}

func (l *Local) Dim() int { return l.dim }

func (l *Local) Embed(ctx context.Context, text string) ([]float32, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}
	return hashEmbed(text, l.dim), nil
}

func (l *Local) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := l.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func hashEmbed(text string, dim int) []float32 {
	vec := make([]float32, dim)
	for i := 0; i < dim; i++ {
		var sum float64
		for j, r := range text {
			sum += float64(r) * float64(i+j+1)
		}
		vec[i] = float32(math.Sin(sum / 1000.0))
	}
	var norm float32
	for _, v := range vec {
		norm += v * v
	}
	norm = float32(math.Sqrt(float64(norm)))
	if norm > 0 {
		for i := range vec {
			vec[i] /= norm
		}
	}
	return vec
}
