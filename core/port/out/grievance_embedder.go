package out

import "context"

// Embedder turns text into dense vectors. Implementations must be safe for
// concurrent use.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// ProbingEmbedder can check backend availability at startup.
type ProbingEmbedder interface {
	Embedder
	Probe(ctx context.Context) error
}

// EmbeddingCache is a shared second-tier cache for embeddings.
type EmbeddingCache interface {
	Get(ctx context.Context, key string) ([]float32, bool)
	Set(ctx context.Context, key string, embedding []float32) error
}
