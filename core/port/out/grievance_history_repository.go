package out

import (
	"context"
	"errors"

	"grievance_server/core/domain"
)

// Repository sentinel errors.
var (
	ErrRecordNotFound  = errors.New("grievance record not found")
	ErrDuplicateRecord = errors.New("grievance record already stored")
)

// HistoryRepository persists processed grievance records.
//
// Records are append-only; ReplaceAll is reserved for full reprocessing and
// must keep every record's Seq.
type HistoryRepository interface {
	// LoadAll returns every record ordered by Seq.
	LoadAll(ctx context.Context) ([]*domain.GrievanceEmail, error)
	Append(ctx context.Context, email *domain.GrievanceEmail) error
	ReplaceAll(ctx context.Context, emails []*domain.GrievanceEmail) error
	Exists(ctx context.Context, emailID string) (bool, error)
	Get(ctx context.Context, emailID string) (*domain.GrievanceEmail, error)
	ListByCategory(ctx context.Context, category domain.Category) ([]*domain.GrievanceEmail, error)
	CategoryCounts(ctx context.Context) ([]domain.CategoryCount, error)
	MailTypeCounts(ctx context.Context) (*domain.DashboardStats, error)
	NextSeq(ctx context.Context) (int64, error)
	Close() error
}
