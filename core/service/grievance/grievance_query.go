package grievance

import (
	"context"
	"errors"
	"sort"

	"grievance_server/core/domain"
	"grievance_server/core/port/out"
	"grievance_server/pkg/apperr"
)

// Categories lists every category with its record count, ordered by name.
func (s *Service) Categories(ctx context.Context) ([]domain.CategoryCount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts, err := s.repo.CategoryCounts(ctx)
	if err != nil {
		return nil, apperr.StorageError("count categories", err)
	}
	sort.Slice(counts, func(i, j int) bool { return counts[i].Name < counts[j].Name })
	return counts, nil
}

// EmailsByCategory returns the records of one category in arrival order.
// Unknown categories yield an empty list.
func (s *Service) EmailsByCategory(ctx context.Context, category domain.Category) ([]*domain.GrievanceEmail, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	emails, err := s.repo.ListByCategory(ctx, category)
	if err != nil {
		return nil, apperr.StorageError("list emails", err)
	}
	if emails == nil {
		emails = []*domain.GrievanceEmail{}
	}
	return emails, nil
}

func (s *Service) Dashboard(ctx context.Context) (*domain.DashboardStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats, err := s.repo.MailTypeCounts(ctx)
	if err != nil {
		return nil, apperr.StorageError("count mail types", err)
	}
	return stats, nil
}

// Senders lists the institutions found in From display names with their
// email counts, most frequent first. Senders without a usable display name
// are left out.
func (s *Service) Senders(_ context.Context) ([]domain.SenderCount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := make(map[string]int)
	for _, e := range s.history.All() {
		if name := domain.SenderDisplayName(e.Sender); name != "" {
			counts[name]++
		}
	}

	senders := make([]domain.SenderCount, 0, len(counts))
	for name, n := range counts {
		senders = append(senders, domain.SenderCount{Name: name, Count: n})
	}
	sort.Slice(senders, func(i, j int) bool {
		if senders[i].Count != senders[j].Count {
			return senders[i].Count > senders[j].Count
		}
		return senders[i].Name < senders[j].Name
	})
	return senders, nil
}

// Email returns one record by email_id.
func (s *Service) Email(ctx context.Context, emailID string) (*domain.GrievanceEmail, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if e, ok := s.history.Lookup(emailID); ok {
		return e.Clone(), nil
	}
	e, err := s.repo.Get(ctx, emailID)
	if errors.Is(err, out.ErrRecordNotFound) {
		return nil, apperr.NotFound("email")
	}
	if err != nil {
		return nil, apperr.StorageError("get email", err)
	}
	return e, nil
}

// Thread returns the whole thread containing emailID: the chain of parents
// up to the root and every descendant of that root, in arrival order. The
// thread graph answers when configured; history is the fallback.
func (s *Service) Thread(ctx context.Context, emailID string) ([]*domain.GrievanceEmail, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.history.Lookup(emailID); !ok {
		return nil, apperr.NotFound("email")
	}

	if s.graph != nil {
		ids, err := s.graph.Thread(ctx, emailID)
		if err == nil && len(ids) > 0 {
			return s.collect(ids), nil
		}
		if err != nil {
			s.log.Warn().Err(err).Str("email_id", emailID).Msg("thread graph lookup failed, using history")
		}
	}
	return s.collect(s.threadFromHistory(emailID)), nil
}

func (s *Service) threadFromHistory(emailID string) []string {
	root := emailID
	visited := map[string]bool{root: true}
	for {
		e, ok := s.history.Lookup(root)
		if !ok || e.ThreadParentID == "" || visited[e.ThreadParentID] {
			break
		}
		root = e.ThreadParentID
		visited[root] = true
	}

	children := make(map[string][]string)
	for _, e := range s.history.All() {
		if e.ThreadParentID != "" && e.EmailID != "" {
			children[e.ThreadParentID] = append(children[e.ThreadParentID], e.EmailID)
		}
	}

	ids := []string{root}
	seen := map[string]bool{root: true}
	for i := 0; i < len(ids); i++ {
		for _, c := range children[ids[i]] {
			if !seen[c] {
				seen[c] = true
				ids = append(ids, c)
			}
		}
	}
	return ids
}

// collect resolves ids against history and orders them by Seq.
func (s *Service) collect(ids []string) []*domain.GrievanceEmail {
	thread := make([]*domain.GrievanceEmail, 0, len(ids))
	for _, id := range ids {
		if e, ok := s.history.Lookup(id); ok {
			thread = append(thread, e.Clone())
		}
	}
	sort.Slice(thread, func(i, j int) bool { return thread[i].Seq < thread[j].Seq })
	return thread
}
