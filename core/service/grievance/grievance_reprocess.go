package grievance

import (
	"context"
	"time"

	"grievance_server/core/domain"
	"grievance_server/core/service/threading"
	"grievance_server/pkg/apperr"
	"grievance_server/pkg/metrics"
)

// Reprocess clears every threading decision and recomputes them in Seq
// order against a history rebuilt from scratch. Categories are kept. Reads
// and ingestion wait until it finishes; a second concurrent call is refused.
func (s *Service) Reprocess(ctx context.Context) (*domain.ReprocessReport, error) {
	if !s.reprocessing.CompareAndSwap(false, true) {
		return nil, apperr.ReprocessInProgress()
	}
	defer s.reprocessing.Store(false)

	s.ingestMu.Lock()
	defer s.ingestMu.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()

	start := time.Now()
	defer metrics.ObserveSince(metrics.BatchDuration.WithLabelValues("reprocess"), start)

	records := s.history.All()
	report := &domain.ReprocessReport{Total: len(records)}

	rebuilt := threading.NewHistory()
	updated := make([]*domain.GrievanceEmail, 0, len(records))
	for _, old := range records {
		report.Before.Add(old)

		e := old.Clone()
		e.ResetThreading()
		d := s.resolver.Resolve(ctx, e, rebuilt)
		e.ApplyDecision(d)

		if err := rebuilt.Append(e); err != nil {
			return nil, apperr.Internal("rebuild history").WithError(err)
		}
		updated = append(updated, e)
		report.After.Add(e)
		if threadingChanged(old, e) {
			report.Changed++
		}
	}

	if err := s.repo.ReplaceAll(ctx, updated); err != nil {
		return nil, apperr.StorageError("replace history", err)
	}
	s.history = rebuilt

	if s.graph != nil {
		if err := s.graph.Rebuild(ctx, updated); err != nil {
			s.log.Warn().Err(err).Msg("thread graph rebuild failed")
		}
	}

	report.Duration = time.Since(start)
	s.log.Info().
		Int("total", report.Total).
		Int("changed", report.Changed).
		Int("fresh_before", report.Before.Fresh).
		Int("fresh_after", report.After.Fresh).
		Int("followup_before", report.Before.FollowUp).
		Int("followup_after", report.After.FollowUp).
		Dur("duration", report.Duration).
		Msg("reprocess complete")
	return report, nil
}

func threadingChanged(a, b *domain.GrievanceEmail) bool {
	return a.MailType != b.MailType ||
		a.FollowupCount != b.FollowupCount ||
		a.ThreadParentID != b.ThreadParentID
}
