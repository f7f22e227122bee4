package persistence

import (
	"context"
	"sort"
	"sync"

	"grievance_server/core/domain"
	"grievance_server/core/port/out"
)

var _ out.HistoryRepository = (*MemoryHistoryAdapter)(nil)

// MemoryHistoryAdapter keeps records in process memory. Used for
// HISTORY_BACKEND=memory and tests.
type MemoryHistoryAdapter struct {
	mu      sync.RWMutex
	records []*domain.GrievanceEmail // ordered by Seq
	byID    map[string]*domain.GrievanceEmail
}

func NewMemoryHistoryAdapter() *MemoryHistoryAdapter {
	return &MemoryHistoryAdapter{byID: make(map[string]*domain.GrievanceEmail)}
}

func (a *MemoryHistoryAdapter) LoadAll(context.Context) ([]*domain.GrievanceEmail, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return cloneAll(a.records), nil
}

func (a *MemoryHistoryAdapter) Append(_ context.Context, email *domain.GrievanceEmail) error {
	if email == nil || email.Seq <= 0 {
		return ErrInvalidInput
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	if email.EmailID != "" {
		if _, dup := a.byID[email.EmailID]; dup {
			return ErrDuplicate
		}
	}

	rec := email.Clone()
	n := len(a.records)
	if n == 0 || a.records[n-1].Seq < rec.Seq {
		a.records = append(a.records, rec)
	} else {
		i := sort.Search(n, func(i int) bool { return a.records[i].Seq >= rec.Seq })
		if i < n && a.records[i].Seq == rec.Seq {
			return ErrDuplicate
		}
		a.records = append(a.records, nil)
		copy(a.records[i+1:], a.records[i:])
		a.records[i] = rec
	}
	if rec.EmailID != "" {
		a.byID[rec.EmailID] = rec
	}
	return nil
}

func (a *MemoryHistoryAdapter) ReplaceAll(_ context.Context, emails []*domain.GrievanceEmail) error {
	records := cloneAll(emails)
	sort.SliceStable(records, func(i, j int) bool { return records[i].Seq < records[j].Seq })

	seen := make(map[string]struct{}, len(records))
	for _, r := range records {
		if r.EmailID == "" {
			continue
		}
		if _, dup := seen[r.EmailID]; dup {
			return ErrDuplicate
		}
		seen[r.EmailID] = struct{}{}
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	a.records = records
	a.reindex()
	return nil
}

func (a *MemoryHistoryAdapter) reindex() {
	a.byID = make(map[string]*domain.GrievanceEmail, len(a.records))
	for _, r := range a.records {
		if r.EmailID != "" {
			a.byID[r.EmailID] = r
		}
	}
}

func (a *MemoryHistoryAdapter) Exists(_ context.Context, emailID string) (bool, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	_, ok := a.byID[emailID]
	return ok && emailID != "", nil
}

func (a *MemoryHistoryAdapter) Get(_ context.Context, emailID string) (*domain.GrievanceEmail, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	r, ok := a.byID[emailID]
	if !ok || emailID == "" {
		return nil, ErrNotFound
	}
	return r.Clone(), nil
}

func (a *MemoryHistoryAdapter) ListByCategory(_ context.Context, category domain.Category) ([]*domain.GrievanceEmail, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	var list []*domain.GrievanceEmail
	for _, r := range a.records {
		if r.Category == category {
			list = append(list, r.Clone())
		}
	}
	return list, nil
}

func (a *MemoryHistoryAdapter) CategoryCounts(context.Context) ([]domain.CategoryCount, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	counts := make(map[domain.Category]int)
	for _, r := range a.records {
		counts[r.Category]++
	}
	list := make([]domain.CategoryCount, 0, len(counts))
	for name, n := range counts {
		list = append(list, domain.CategoryCount{Name: name, Count: n})
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Name < list[j].Name })
	return list, nil
}

func (a *MemoryHistoryAdapter) MailTypeCounts(context.Context) (*domain.DashboardStats, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	stats := &domain.DashboardStats{}
	for _, r := range a.records {
		stats.Add(r)
	}
	return stats, nil
}

func (a *MemoryHistoryAdapter) NextSeq(context.Context) (int64, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if len(a.records) == 0 {
		return 1, nil
	}
	return a.records[len(a.records)-1].Seq + 1, nil
}

func (a *MemoryHistoryAdapter) Close() error { return nil }

func cloneAll(src []*domain.GrievanceEmail) []*domain.GrievanceEmail {
	dst := make([]*domain.GrievanceEmail, len(src))
	for i, e := range src {
		dst[i] = e.Clone()
	}
	return dst
}
