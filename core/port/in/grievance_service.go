package in

import (
	"context"

	"grievance_server/core/domain"
	"grievance_server/core/port/out"
)

// GrievanceService is the inbound API of the threading and categorization engine.
type GrievanceService interface {
	// Ingest classifies, threads and stores one parsed email.
	Ingest(ctx context.Context, parsed *out.ParsedEmail) (*domain.IngestResult, error)
	// ProcessBatch ingests raw messages; sender streams run in parallel.
	ProcessBatch(ctx context.Context, raws []out.RawEmail, source string) (*domain.BatchReport, error)
	// Reprocess recomputes threading for all history in arrival order.
	Reprocess(ctx context.Context) (*domain.ReprocessReport, error)

	Classify(text string) (domain.Category, map[domain.Category]int)
	Resolve(ctx context.Context, email *domain.GrievanceEmail) domain.ThreadDecision

	Categories(ctx context.Context) ([]domain.CategoryCount, error)
	EmailsByCategory(ctx context.Context, category domain.Category) ([]*domain.GrievanceEmail, error)
	Dashboard(ctx context.Context) (*domain.DashboardStats, error)
	Senders(ctx context.Context) ([]domain.SenderCount, error)
	Thread(ctx context.Context, emailID string) ([]*domain.GrievanceEmail, error)
	Email(ctx context.Context, emailID string) (*domain.GrievanceEmail, error)
}
