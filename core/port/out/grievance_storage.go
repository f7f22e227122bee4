package out

import (
	"context"
	"errors"
	"io"

	"grievance_server/core/domain"
)

// ErrObjectNotFound is returned by stores when a key does not exist.
var ErrObjectNotFound = errors.New("object not found")

// AttachmentStore holds attachment blobs under content-addressed keys.
type AttachmentStore interface {
	Put(ctx context.Context, key, contentType string, data []byte) error
	Open(ctx context.Context, key string) (io.ReadCloser, int64, error)
}

// RawEmailStore archives original .eml bytes for download.
type RawEmailStore interface {
	Save(ctx context.Context, fileName, emailID string, raw []byte) error
	Load(ctx context.Context, fileName string) ([]byte, error)
}

// ThreadGraphStore projects parent links into a graph for thread traversal.
type ThreadGraphStore interface {
	UpsertEmail(ctx context.Context, email *domain.GrievanceEmail) error
	Rebuild(ctx context.Context, emails []*domain.GrievanceEmail) error
	Thread(ctx context.Context, emailID string) ([]string, error)
}

// EventPublisher announces decided records to downstream consumers.
type EventPublisher interface {
	PublishDecision(ctx context.Context, email *domain.GrievanceEmail) error
}
