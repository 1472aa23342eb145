package moderation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// memStore is an in-memory Store for engine tests. Record can be made to fail.
type memStore struct {
	mu      sync.Mutex
	content map[ContentRef]ContentItem
	reports map[string]Report
	order   []string
	audit   []AuditEntry

	// recordFailures makes the next n Record calls fail
	recordFailures int
	recordCalls    int
}

var _ Store = (*memStore)(nil)

func newMemStore() *memStore {
	return &memStore{
		content: make(map[ContentRef]ContentItem),
		reports: make(map[string]Report),
	}
}

func (s *memStore) UpsertContent(_ context.Context, item ContentItem) (*ContentItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ref := item.Ref()
	if existing, ok := s.content[ref]; ok {
		item.Status = existing.Status
		item.ReportCount = existing.ReportCount
		item.LastReportReason = existing.LastReportReason
		if item.SpamScore == nil {
			item.SpamScore = existing.SpamScore
		}
		if item.CreatedAt.IsZero() {
			item.CreatedAt = existing.CreatedAt
		}
	}
	if item.Status == "" {
		item.Status = StatusPending
	}
	s.content[ref] = item
	return &item, nil
}

func (s *memStore) GetContent(_ context.Context, ref ContentRef) (*ContentItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.content[ref]
	if !ok {
		return nil, nil
	}
	return &item, nil
}

func (s *memStore) ListContent(_ context.Context, contentType ContentType) ([]ContentItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []ContentItem
	for _, item := range s.content {
		if contentType == "" || item.Type == contentType {
			out = append(out, item)
		}
	}
	return out, nil
}

func (s *memStore) CompareAndSetStatus(_ context.Context, ref ContentRef, from, to ContentStatus) (*ContentItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.content[ref]
	if !ok {
		return nil, ErrContentNotFound
	}
	if item.Status != from {
		return nil, fmt.Errorf("%w: %s is %s", ErrConflict, ref, item.Status)
	}
	item.Status = to
	s.content[ref] = item
	return &item, nil
}

func (s *memStore) SetSpamScore(_ context.Context, ref ContentRef, score int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.content[ref]
	if !ok {
		return ErrContentNotFound
	}
	item.SpamScore = &score
	s.content[ref] = item
	return nil
}

func (s *memStore) ResetReportCount(_ context.Context, ref ContentRef) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.content[ref]
	if !ok {
		return ErrContentNotFound
	}
	item.ReportCount = 0
	s.content[ref] = item
	return nil
}

func (s *memStore) CreateReport(_ context.Context, r Report) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.content[r.Content]
	if !ok {
		return 0, ErrContentNotFound
	}
	item.ReportCount++
	item.LastReportReason = r.Reason
	s.content[r.Content] = item
	s.reports[r.ID] = r
	s.order = append(s.order, r.ID)
	return item.ReportCount, nil
}

func (s *memStore) GetReport(_ context.Context, id string) (*Report, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.reports[id]
	if !ok {
		return nil, nil
	}
	return &r, nil
}

func (s *memStore) filterReports(keep func(Report) bool) []Report {
	var out []Report
	for _, id := range s.order {
		if r := s.reports[id]; keep(r) {
			out = append(out, r)
		}
	}
	return out
}

func (s *memStore) ListReports(context.Context) ([]Report, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.filterReports(func(Report) bool { return true }), nil
}

func (s *memStore) ListReportsForContent(_ context.Context, ref ContentRef) ([]Report, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.filterReports(func(r Report) bool { return r.Content == ref }), nil
}

func (s *memStore) ListReportsByReporter(_ context.Context, reporterID string) ([]Report, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.filterReports(func(r Report) bool { return r.ReporterID == reporterID }), nil
}

func resolve(r Report, res Resolution) Report {
	at := res.ResolvedAt
	r.Status = res.Status
	r.Outcome = res.Outcome
	r.ResolvedBy = res.ResolvedBy
	r.ResolutionNote = res.Note
	r.ResolvedAt = &at
	return r
}

func (s *memStore) ResolveReport(_ context.Context, id string, res Resolution) (*Report, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.reports[id]
	if !ok {
		return nil, ErrReportNotFound
	}
	if r.Status != ReportStatusPending {
		return nil, ErrInvalidStateTransition
	}
	r = resolve(r, res)
	s.reports[id] = r
	return &r, nil
}

func (s *memStore) ResolvePendingReports(_ context.Context, ref ContentRef, res Resolution) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, r := range s.reports {
		if r.Content == ref && r.Status == ReportStatusPending {
			s.reports[id] = resolve(r, res)
			n++
		}
	}
	return n, nil
}

func (s *memStore) CountReportsFromUserSince(_ context.Context, reporterID string, since time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.filterReports(func(r Report) bool { return r.ReporterID == reporterID && !r.CreatedAt.Before(since) })), nil
}

func (s *memStore) ReportStats(context.Context) (ReportStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stats := NewReportStats()
	for _, r := range s.reports {
		stats.Add(r)
	}
	return stats, nil
}

func (s *memStore) Record(_ context.Context, entry AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recordCalls++
	if s.recordFailures > 0 {
		s.recordFailures--
		return errors.New("audit log unavailable")
	}
	s.audit = append(s.audit, entry)
	return nil
}

func (s *memStore) History(_ context.Context, ref ContentRef) ([]AuditEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []AuditEntry
	for _, e := range s.audit {
		if e.Content == ref {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *memStore) ListAuditLog(_ context.Context, limit int) ([]AuditEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []AuditEntry
	for i := len(s.audit) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, s.audit[i])
	}
	return out, nil
}

func (s *memStore) Close() error { return nil }
