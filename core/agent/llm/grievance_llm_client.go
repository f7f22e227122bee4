// Package llm wraps the OpenAI-compatible embeddings API.
package llm

import (
	"context"
	"fmt"
	"net/http"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

const DefaultEmbeddingModel = openai.AdaEmbeddingV2

type Client struct {
	client *openai.Client
	model  openai.EmbeddingModel
}

type ClientConfig struct {
	APIKey  string
	BaseURL string // optional, for self-hosted OpenAI-compatible embedding servers
	Model   string
	Timeout time.Duration
}

func NewClient(apiKey string) *Client {
	return NewClientWithConfig(ClientConfig{APIKey: apiKey})
}

func NewClientWithConfig(cfg ClientConfig) *Client {
	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = cfg.BaseURL
	}
	if cfg.Timeout > 0 {
		oc.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	}
	model := DefaultEmbeddingModel
	if cfg.Model != "" {
		model = openai.EmbeddingModel(cfg.Model)
	}
	return &Client{
		client: openai.NewClientWithConfig(oc),
		model:  model,
	}
}

// Model returns the embedding model name.
func (c *Client) Model() string {
	return string(c.model)
}

func (c *Client) Embedding(ctx context.Context, text string) ([]float32, error) {
	vectors, err := c.EmbeddingBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

func (c *Client) EmbeddingBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	resp, err := c.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Model: c.model,
		Input: texts,
	})
	if err != nil {
		return nil, err
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("embedding response has %d vectors for %d inputs", len(resp.Data), len(texts))
	}

	// Data carries an index per input; every slot must be filled exactly once.
	result := make([][]float32, len(texts))
	for _, data := range resp.Data {
		idx := data.Index
		if idx < 0 || idx >= len(texts) {
			return nil, fmt.Errorf("embedding response index %d out of range for %d inputs", idx, len(texts))
		}
		if result[idx] != nil {
			return nil, fmt.Errorf("embedding response repeats index %d", idx)
		}
		if len(data.Embedding) == 0 {
			return nil, fmt.Errorf("embedding response has an empty vector at index %d", idx)
		}
		result[idx] = data.Embedding
	}
	return result, nil
}
