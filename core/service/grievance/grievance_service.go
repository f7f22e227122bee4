// Package grievance runs the categorization and threading pipeline over
// incoming grievance emails and serves queries over the processed history.
package grievance

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"grievance_server/core/domain"
	"grievance_server/core/port/in"
	"grievance_server/core/port/out"
	"grievance_server/core/service/classification"
	"grievance_server/core/service/threading"
	"grievance_server/pkg/apperr"
	"grievance_server/pkg/logger"
	"grievance_server/pkg/metrics"

	"github.com/rs/zerolog"
)

var _ in.GrievanceService = (*Service)(nil)

// Service owns the in-memory history and keeps it in step with the
// repository.
//
// Ingestion is serialized per call (one batch or one message at a time);
// parallelism happens inside a batch across independent sender streams.
// Reprocess excludes everything: reads wait on mu, ingestion on ingestMu.
type Service struct {
	repo       out.HistoryRepository
	parser     out.EmailParser
	classifier *classification.CategoryClassifier
	resolver   *threading.Resolver

	attachments out.AttachmentStore // optional
	rawStore    out.RawEmailStore   // optional
	graph       out.ThreadGraphStore
	publisher   out.EventPublisher

	workers int
	now     func() time.Time

	mu           sync.RWMutex
	ingestMu     sync.Mutex
	reprocessing atomic.Bool
	history      *threading.History
	seq          atomic.Int64

	log zerolog.Logger
}

// Deps are the collaborators of a Service. Repo, Parser, Classifier and
// Resolver are required.
type Deps struct {
	Repo        out.HistoryRepository
	Parser      out.EmailParser
	Classifier  *classification.CategoryClassifier
	Resolver    *threading.Resolver
	Attachments out.AttachmentStore
	RawStore    out.RawEmailStore
	Graph       out.ThreadGraphStore
	Publisher   out.EventPublisher
	Workers     int
	Now         func() time.Time
}

func NewService(deps Deps) *Service {
	if deps.Workers < 1 {
		deps.Workers = 1
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &Service{
		repo:        deps.Repo,
		parser:      deps.Parser,
		classifier:  deps.Classifier,
		resolver:    deps.Resolver,
		attachments: deps.Attachments,
		rawStore:    deps.RawStore,
		graph:       deps.Graph,
		publisher:   deps.Publisher,
		workers:     deps.Workers,
		now:         deps.Now,
		history:     threading.NewHistory(),
		log:         logger.Component("grievance_service"),
	}
}

// Load replaces the in-memory history with the repository contents and
// positions the arrival counter after the highest stored Seq.
func (s *Service) Load(ctx context.Context) error {
	records, err := s.repo.LoadAll(ctx)
	if err != nil {
		return apperr.StorageError("load history", err)
	}
	h, err := threading.NewHistoryFrom(records)
	if err != nil {
		return apperr.StorageError("index history", err)
	}
	next, err := s.repo.NextSeq(ctx)
	if err != nil {
		return apperr.StorageError("read next seq", err)
	}

	s.ingestMu.Lock()
	defer s.ingestMu.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = h
	last := h.MaxSeq()
	if next-1 > last {
		last = next - 1
	}
	s.seq.Store(last)

	s.log.Info().Int("records", h.Len()).Int64("last_seq", last).Msg("history loaded")
	return nil
}

// Ingest processes a single parsed email.
func (s *Service) Ingest(ctx context.Context, parsed *out.ParsedEmail) (*domain.IngestResult, error) {
	if parsed == nil || parsed.Email == nil {
		return nil, apperr.InvalidEmail("empty message")
	}
	if s.reprocessing.Load() {
		return nil, apperr.ReprocessInProgress()
	}
	s.ingestMu.Lock()
	defer s.ingestMu.Unlock()

	source := parsed.Email.EMLFile
	if dup := s.isKnown(parsed.Email.EmailID); dup {
		res := duplicateResult(source, parsed.Email.EmailID)
		metrics.EmailsIngested.WithLabelValues("single", string(res.Outcome)).Inc()
		return &res, nil
	}
	res := s.ingest(ctx, &batchItem{parsed: parsed, seq: s.seq.Add(1), source: source}, "single")
	if res.Outcome == domain.OutcomeError {
		return &res, apperr.Internal(res.Error)
	}
	return &res, nil
}

// isKnown reports whether an email_id is already in history. Records
// without an id are never duplicates.
func (s *Service) isKnown(emailID string) bool {
	if emailID == "" {
		return false
	}
	_, ok := s.history.Lookup(emailID)
	return ok
}

// ingest classifies, resolves and stores one record. The record is resolved
// against history strictly before its Seq, so the outcome does not depend
// on what other streams have appended meanwhile.
func (s *Service) ingest(ctx context.Context, item *batchItem, sourceName string) domain.IngestResult {
	email := item.parsed.Email
	email.Seq = item.seq
	email.ProcessedAt = s.now().UTC()

	email.Category = s.classifier.Classify(email.ClassificationText())
	metrics.EmailsClassified.WithLabelValues(string(email.Category)).Inc()

	decision := s.resolver.Resolve(ctx, email, s.history.Before(email.Seq))
	email.ApplyDecision(decision)

	s.storeAttachments(ctx, email, item.parsed.Attachments)
	s.archiveRaw(ctx, email, item.parsed.Raw)

	result := domain.IngestResult{
		Source:   item.source,
		EmailID:  email.EmailID,
		Category: email.Category,
		Decision: &decision,
	}

	if err := s.repo.Append(ctx, email); err != nil {
		if errors.Is(err, out.ErrDuplicateRecord) {
			result = duplicateResult(item.source, email.EmailID)
		} else {
			result.Outcome = domain.OutcomeError
			result.Error = err.Error()
			s.log.Error().Err(err).Str("email_id", email.EmailID).Msg("failed to store record")
		}
		metrics.EmailsIngested.WithLabelValues(sourceName, string(result.Outcome)).Inc()
		return result
	}
	if err := s.history.Append(email); err != nil {
		// Stored but already indexed under this id; the stored row wins.
		s.log.Warn().Err(err).Str("email_id", email.EmailID).Msg("history already holds record")
	}
	result.Outcome = domain.OutcomeStored
	metrics.EmailsIngested.WithLabelValues(sourceName, string(result.Outcome)).Inc()

	s.project(ctx, email)

	s.log.Debug().
		Str("email_id", email.EmailID).
		Int64("seq", email.Seq).
		Str("category", string(email.Category)).
		Str("mail_type", string(email.MailType)).
		Str("layer", string(email.ThreadLayer)).
		Msg("email processed")
	return result
}

func (s *Service) storeAttachments(ctx context.Context, email *domain.GrievanceEmail, blobs []out.AttachmentBlob) {
	if s.attachments == nil {
		return
	}
	for _, b := range blobs {
		if err := s.attachments.Put(ctx, b.Meta.Key, b.Meta.ContentType, b.Data); err != nil {
			s.log.Warn().Err(err).
				Str("email_id", email.EmailID).
				Str("attachment", b.Meta.Key).
				Msg("failed to store attachment")
		}
	}
}

func (s *Service) archiveRaw(ctx context.Context, email *domain.GrievanceEmail, raw []byte) {
	if s.rawStore == nil || len(raw) == 0 || email.EMLFile == "" {
		return
	}
	if err := s.rawStore.Save(ctx, email.EMLFile, email.EmailID, raw); err != nil {
		s.log.Warn().Err(err).Str("eml_file", email.EMLFile).Msg("failed to archive raw email")
	}
}

// project pushes a stored record to the thread graph and the decision
// stream. Both are derived views; failures are logged only.
func (s *Service) project(ctx context.Context, email *domain.GrievanceEmail) {
	if s.graph != nil {
		if err := s.graph.UpsertEmail(ctx, email); err != nil {
			s.log.Warn().Err(err).Str("email_id", email.EmailID).Msg("thread graph update failed")
		}
	}
	if s.publisher != nil {
		if err := s.publisher.PublishDecision(ctx, email); err != nil {
			s.log.Warn().Err(err).Str("email_id", email.EmailID).Msg("decision publish failed")
		}
	}
}

func duplicateResult(source, emailID string) domain.IngestResult {
	return domain.IngestResult{
		Source:  source,
		EmailID: emailID,
		Outcome: domain.OutcomeDuplicate,
	}
}

// Classify scores text against the category table.
func (s *Service) Classify(text string) (domain.Category, map[domain.Category]int) {
	c := s.classifier.ClassifyDetailed(text)
	return c.Category, c.ScoreMap()
}

// Resolve runs the resolver against the current history without storing
// anything.
func (s *Service) Resolve(ctx context.Context, email *domain.GrievanceEmail) domain.ThreadDecision {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.resolver.Resolve(ctx, email, s.history)
}
