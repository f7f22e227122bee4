package out

import (
	"context"
	"time"
)

// IngestJob carries one raw message through the ingest stream.
type IngestJob struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Raw       []byte    `json:"raw"`
	CreatedAt time.Time `json:"created_at"`
}

// BatchJob asks a worker to pull and process a whole mail source.
type BatchJob struct {
	ID        string    `json:"id"`
	Source    string    `json:"source"` // dir, gmail
	CreatedAt time.Time `json:"created_at"`
}

// ReprocessJob asks a worker to recompute threading for all history.
type ReprocessJob struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
}

// JobProducer enqueues work for the worker process.
type JobProducer interface {
	PublishIngest(ctx context.Context, job *IngestJob) error
	PublishBatch(ctx context.Context, job *BatchJob) error
	PublishReprocess(ctx context.Context, job *ReprocessJob) error
}
