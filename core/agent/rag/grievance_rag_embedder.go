// Package rag provides the embedding side of similarity threading.
package rag

import (
	"context"
	"fmt"
	"time"

	"grievance_server/pkg/metrics"
	"grievance_server/pkg/resilience"

	"github.com/sony/gobreaker"
)

const probeText = "grievance similarity probe"

// EmbeddingClient is the raw embedding API, satisfied by *llm.Client.
type EmbeddingClient interface {
	Embedding(ctx context.Context, text string) ([]float32, error)
	EmbeddingBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// EmbedderOptions tunes the call policy around the client.
type EmbedderOptions struct {
	Timeout time.Duration
	Breaker *gobreaker.CircuitBreaker
}

// Embedder guards an EmbeddingClient with a per-call timeout and a circuit
// breaker. While the breaker is open calls fail fast and the similarity layer
// is skipped.
type Embedder struct {
	client  EmbeddingClient
	breaker *gobreaker.CircuitBreaker
	timeout time.Duration
}

func NewEmbedder(client EmbeddingClient, opts EmbedderOptions) *Embedder {
	if opts.Breaker == nil {
		opts.Breaker = resilience.NewBreaker(resilience.DefaultBreakerConfig("embeddings"))
	}
	return &Embedder{
		client:  client,
		breaker: opts.Breaker,
		timeout: opts.Timeout,
	}
}

func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

func (e *Embedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	result, err := e.breaker.Execute(func() (interface{}, error) {
		callCtx := ctx
		if e.timeout > 0 {
			var cancel context.CancelFunc
			callCtx, cancel = context.WithTimeout(ctx, e.timeout)
			defer cancel()
		}

		start := time.Now()
		vectors, err := e.client.EmbeddingBatch(callCtx, texts)
		metrics.ObserveSince(metrics.EmbeddingLatency, start)
		if err != nil {
			return nil, err
		}
		if len(vectors) != len(texts) {
			return nil, fmt.Errorf("embedding client returned %d vectors for %d texts", len(vectors), len(texts))
		}
		return vectors, nil
	})
	if err != nil {
		if resilience.IsOpen(err) {
			return nil, fmt.Errorf("embeddings unavailable: %w", err)
		}
		return nil, err
	}
	return result.([][]float32), nil
}

// Probe embeds a fixed sentence to confirm the backend answers.
func (e *Embedder) Probe(ctx context.Context) error {
	v, err := e.Embed(ctx, probeText)
	if err != nil {
		return err
	}
	if len(v) == 0 {
		return fmt.Errorf("embedding probe returned an empty vector")
	}
	return nil
}

// State reports the breaker state, for readiness checks.
func (e *Embedder) State() gobreaker.State {
	return e.breaker.State()
}
