// Package threading decides whether a grievance email starts a new thread or
// continues an earlier one.
package threading

import (
	"errors"
	"sort"
	"sync"

	"grievance_server/core/domain"
)

// ErrDuplicateEmail is returned when an email_id is appended twice.
var ErrDuplicateEmail = errors.New("email already in history")

// HistoryReader is the read side the resolver layers consult. Returned
// records are shared and must not be modified.
type HistoryReader interface {
	Lookup(emailID string) (*domain.GrievanceEmail, bool)
	Recent(sender string, n int) []*domain.GrievanceEmail
	HasSender(sender string) bool
}

// History is the in-memory record log: ordered by Seq, keyed by email_id,
// and indexed per sender. Appends may come from several sender streams at
// once; each stream appends in Seq order.
type History struct {
	mu       sync.RWMutex
	records  []*domain.GrievanceEmail
	byID     map[string]*domain.GrievanceEmail
	bySender map[string][]*domain.GrievanceEmail
}

// NewHistory returns an empty history.
func NewHistory() *History {
	return &History{
		byID:     make(map[string]*domain.GrievanceEmail),
		bySender: make(map[string][]*domain.GrievanceEmail),
	}
}

// NewHistoryFrom builds a history from stored records in any order.
func NewHistoryFrom(records []*domain.GrievanceEmail) (*History, error) {
	h := NewHistory()
	sorted := append([]*domain.GrievanceEmail(nil), records...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Seq < sorted[j].Seq })
	for _, r := range sorted {
		if err := h.Append(r); err != nil {
			return nil, err
		}
	}
	return h, nil
}

// Append adds a decided record. Records without an email_id are kept but
// cannot be found by Lookup.
func (h *History) Append(e *domain.GrievanceEmail) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if e.EmailID != "" {
		if _, dup := h.byID[e.EmailID]; dup {
			return ErrDuplicateEmail
		}
		h.byID[e.EmailID] = e
	}
	h.records = insertBySeq(h.records, e)
	if key := domain.NormalizeSender(e.Sender); key != "" {
		h.bySender[key] = insertBySeq(h.bySender[key], e)
	}
	return nil
}

func insertBySeq(list []*domain.GrievanceEmail, e *domain.GrievanceEmail) []*domain.GrievanceEmail {
	n := len(list)
	if n == 0 || list[n-1].Seq <= e.Seq {
		return append(list, e)
	}
	i := sort.Search(n, func(i int) bool { return list[i].Seq > e.Seq })
	list = append(list, nil)
	copy(list[i+1:], list[i:])
	list[i] = e
	return list
}

// Lookup finds a record by email_id.
func (h *History) Lookup(emailID string) (*domain.GrievanceEmail, bool) {
	if emailID == "" {
		return nil, false
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	e, ok := h.byID[emailID]
	return e, ok
}

// Recent returns up to n of the sender's latest records, oldest first.
func (h *History) Recent(sender string, n int) []*domain.GrievanceEmail {
	return h.recentBefore(sender, n, 0)
}

// HasSender reports whether the sender has any record.
func (h *History) HasSender(sender string) bool {
	return len(h.Recent(sender, 1)) > 0
}

func (h *History) recentBefore(sender string, n int, bound int64) []*domain.GrievanceEmail {
	key := domain.NormalizeSender(sender)
	if key == "" || n <= 0 {
		return nil
	}
	h.mu.RLock()
	defer h.mu.RUnlock()

	list := h.bySender[key]
	end := len(list)
	if bound > 0 {
		end = sort.Search(len(list), func(i int) bool { return list[i].Seq >= bound })
	}
	start := end - n
	if start < 0 {
		start = 0
	}
	return append([]*domain.GrievanceEmail(nil), list[start:end]...)
}

// All returns every record ordered by Seq.
func (h *History) All() []*domain.GrievanceEmail {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return append([]*domain.GrievanceEmail(nil), h.records...)
}

// Len returns the number of records.
func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.records)
}

// MaxSeq returns the highest Seq in history, or 0 when empty.
func (h *History) MaxSeq() int64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if len(h.records) == 0 {
		return 0
	}
	return h.records[len(h.records)-1].Seq
}

// Reset drops every record.
func (h *History) Reset() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.records = nil
	h.byID = make(map[string]*domain.GrievanceEmail)
	h.bySender = make(map[string][]*domain.GrievanceEmail)
}

// Before returns a view that only sees records with Seq lower than seq, so a
// record is always resolved against exactly what preceded it in arrival
// order no matter which other streams have appended meanwhile. A seq of 0
// means no bound.
func (h *History) Before(seq int64) HistoryReader {
	if seq <= 0 {
		return h
	}
	return &historyView{h: h, bound: seq}
}

type historyView struct {
	h     *History
	bound int64
}

func (v *historyView) Lookup(emailID string) (*domain.GrievanceEmail, bool) {
	e, ok := v.h.Lookup(emailID)
	if !ok || e.Seq >= v.bound {
		return nil, false
	}
	return e, true
}

func (v *historyView) Recent(sender string, n int) []*domain.GrievanceEmail {
	return v.h.recentBefore(sender, n, v.bound)
}

func (v *historyView) HasSender(sender string) bool {
	return len(v.Recent(sender, 1)) > 0
}
