package threading

import (
	"context"
	"fmt"
	"math"

	"grievance_server/core/domain"
	"grievance_server/core/port/out"
)

// SimilarityMatch is the most similar candidate and its cosine score.
type SimilarityMatch struct {
	Email *domain.GrievanceEmail
	Score float64
}

// SimilarityBackend ranks candidate records by embedding similarity.
// It never applies a threshold; that is the caller's decision.
type SimilarityBackend struct {
	embedder out.Embedder
}

// NewSimilarityBackend wraps an embedder.
func NewSimilarityBackend(embedder out.Embedder) *SimilarityBackend {
	return &SimilarityBackend{embedder: embedder}
}

// SimilarParent returns the candidate most similar to text. Ties keep the
// earliest candidate. An empty candidate list yields nil without calling
// the embedder.
func (b *SimilarityBackend) SimilarParent(ctx context.Context, text string, candidates []*domain.GrievanceEmail) (*SimilarityMatch, error) {
	if len(candidates) == 0 {
		return nil, nil
	}

	texts := make([]string, 0, len(candidates)+1)
	texts = append(texts, text)
	for _, c := range candidates {
		texts = append(texts, c.Content)
	}

	vectors, err := b.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("embed similarity candidates: %w", err)
	}
	if len(vectors) != len(texts) {
		return nil, fmt.Errorf("embedder returned %d vectors for %d texts", len(vectors), len(texts))
	}

	query := vectors[0]
	best := -1
	bestScore := math.Inf(-1)
	for i := range candidates {
		score := CosineSimilarity(query, vectors[i+1])
		if score > bestScore {
			best, bestScore = i, score
		}
	}
	return &SimilarityMatch{Email: candidates[best], Score: bestScore}, nil
}

// CosineSimilarity calculates the cosine similarity between two vectors.
// Mismatched, empty or zero vectors score 0.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dotProduct, normA, normB float64
	for i := range a {
		dotProduct += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 0
	}
	return dotProduct / (math.Sqrt(normA) * math.Sqrt(normB))
}
