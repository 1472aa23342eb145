package boltstore

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"time"

	"forumguard/internal/moderation"

	bolt "go.etcd.io/bbolt"
)

// ModerationStore provides persistent storage for moderation data.
// bbolt serializes writers, so every read-modify-write runs inside a single
// Update transaction and is atomic.
type ModerationStore struct {
	db *bolt.DB
}

var _ moderation.Store = (*ModerationStore)(nil)

// Close closes the underlying database.
func (s *ModerationStore) Close() error {
	return s.db.Close()
}

// indexKey joins an index prefix and a member id with a NUL separator
func indexKey(prefix, member string) []byte {
	return append(indexPrefix(prefix), member...)
}

func indexPrefix(prefix string) []byte {
	return append([]byte(prefix), 0)
}

func seqKey(seq uint64) []byte {
	k := make([]byte, 8)
	binary.BigEndian.PutUint64(k, seq)
	return k
}

func getContent(b *bolt.Bucket, key string) (*moderation.ContentItem, error) {
	data := b.Get([]byte(key))
	if data == nil {
		return nil, nil
	}
	item := &moderation.ContentItem{}
	if err := json.Unmarshal(data, item); err != nil {
		return nil, fmt.Errorf("failed to unmarshal content %s: %w", key, err)
	}
	return item, nil
}

func putContent(b *bolt.Bucket, item *moderation.ContentItem) error {
	data, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("failed to marshal content: %w", err)
	}
	return b.Put([]byte(item.Ref().Key()), data)
}

// updateContent loads ref inside a write transaction, applies fn and stores the result.
func (s *ModerationStore) updateContent(ref moderation.ContentRef, fn func(item *moderation.ContentItem) error) (*moderation.ContentItem, error) {
	var out *moderation.ContentItem
	err := s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(BucketContent)
		item, err := getContent(bucket, ref.Key())
		if err != nil {
			return err
		}
		if item == nil {
			return fmt.Errorf("%w: %s", moderation.ErrContentNotFound, ref)
		}
		if err := fn(item); err != nil {
			return err
		}
		item.UpdatedAt = time.Now().UTC()
		out = item
		return putContent(bucket, item)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// UpsertContent inserts or refreshes a content projection.
func (s *ModerationStore) UpsertContent(ctx context.Context, item moderation.ContentItem) (*moderation.ContentItem, error) {
	var out *moderation.ContentItem
	err := s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(BucketContent)
		existing, err := getContent(bucket, item.Ref().Key())
		if err != nil {
			return err
		}
		if existing != nil {
			existing.Title = item.Title
			existing.Excerpt = item.Excerpt
			existing.AuthorID = item.AuthorID
			if !item.CreatedAt.IsZero() {
				existing.CreatedAt = item.CreatedAt
			}
			if item.SpamScore != nil {
				existing.SpamScore = item.SpamScore
			}
			item = *existing
		}
		if item.Status == "" {
			item.Status = moderation.StatusPending
		}
		if item.CreatedAt.IsZero() {
			item.CreatedAt = time.Now().UTC()
		}
		item.UpdatedAt = time.Now().UTC()
		out = &item
		return putContent(bucket, &item)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// GetContent retrieves a content projection, or nil if it is not tracked.
func (s *ModerationStore) GetContent(ctx context.Context, ref moderation.ContentRef) (*moderation.ContentItem, error) {
	var item *moderation.ContentItem
	err := s.db.View(func(tx *bolt.Tx) error {
		var err error
		item, err = getContent(tx.Bucket(BucketContent), ref.Key())
		return err
	})
	return item, err
}

// ListContent returns projections of one content type, or all when contentType is empty.
func (s *ModerationStore) ListContent(ctx context.Context, contentType moderation.ContentType) ([]moderation.ContentItem, error) {
	var items []moderation.ContentItem

	err := s.db.View(func(tx *bolt.Tx) error {
		cursor := tx.Bucket(BucketContent).Cursor()

		var prefix []byte
		if contentType != "" {
			prefix = []byte(string(contentType) + "/")
		}

		for k, v := cursor.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = cursor.Next() {
			var item moderation.ContentItem
			if err := json.Unmarshal(v, &item); err != nil {
				return fmt.Errorf("failed to unmarshal content %s: %w", k, err)
			}
			items = append(items, item)
		}
		return nil
	})

	return items, err
}

// CompareAndSetStatus moves ref from one status to another if it still holds `from`.
func (s *ModerationStore) CompareAndSetStatus(ctx context.Context, ref moderation.ContentRef, from, to moderation.ContentStatus) (*moderation.ContentItem, error) {
	return s.updateContent(ref, func(item *moderation.ContentItem) error {
		if item.Status != from {
			return fmt.Errorf("%w: %s is %s, expected %s", moderation.ErrConflict, ref, item.Status, from)
		}
		item.Status = to
		return nil
	})
}

// SetSpamScore records the latest spam score of ref.
func (s *ModerationStore) SetSpamScore(ctx context.Context, ref moderation.ContentRef, score int) error {
	_, err := s.updateContent(ref, func(item *moderation.ContentItem) error {
		item.SpamScore = &score
		return nil
	})
	return err
}

// ResetReportCount zeroes the report count of ref.
func (s *ModerationStore) ResetReportCount(ctx context.Context, ref moderation.ContentRef) error {
	_, err := s.updateContent(ref, func(item *moderation.ContentItem) error {
		item.ReportCount = 0
		return nil
	})
	return err
}

// CreateReport stores a new report and bumps its content's report count.
func (s *ModerationStore) CreateReport(ctx context.Context, report moderation.Report) (int, error) {
	var count int

	err := s.db.Update(func(tx *bolt.Tx) error {
		contentBucket := tx.Bucket(BucketContent)
		item, err := getContent(contentBucket, report.Content.Key())
		if err != nil {
			return err
		}
		if item == nil {
			return fmt.Errorf("%w: %s", moderation.ErrContentNotFound, report.Content)
		}

		data, err := json.Marshal(report)
		if err != nil {
			return fmt.Errorf("failed to marshal report: %w", err)
		}
		if err := tx.Bucket(BucketReports).Put([]byte(report.ID), data); err != nil {
			return err
		}

		// Index by content and by reporter
		if err := tx.Bucket(BucketReportsByContent).Put(indexKey(report.Content.Key(), report.ID), []byte(report.ID)); err != nil {
			return err
		}
		if err := tx.Bucket(BucketReportsByReporter).Put(indexKey(report.ReporterID, report.ID), []byte(report.ID)); err != nil {
			return err
		}

		item.ReportCount++
		item.LastReportReason = report.Reason
		item.UpdatedAt = time.Now().UTC()
		count = item.ReportCount
		return putContent(contentBucket, item)
	})

	return count, err
}

func getReport(b *bolt.Bucket, id []byte) (*moderation.Report, error) {
	data := b.Get(id)
	if data == nil {
		return nil, nil
	}
	report := &moderation.Report{}
	if err := json.Unmarshal(data, report); err != nil {
		return nil, fmt.Errorf("failed to unmarshal report %s: %w", id, err)
	}
	return report, nil
}

func putReport(b *bolt.Bucket, report *moderation.Report) error {
	data, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("failed to marshal report: %w", err)
	}
	return b.Put([]byte(report.ID), data)
}

// GetReport retrieves a report by ID.
func (s *ModerationStore) GetReport(ctx context.Context, id string) (*moderation.Report, error) {
	var report *moderation.Report

	err := s.db.View(func(tx *bolt.Tx) error {
		var err error
		report, err = getReport(tx.Bucket(BucketReports), []byte(id))
		return err
	})

	return report, err
}

// ListReports returns all reports, oldest first.
func (s *ModerationStore) ListReports(ctx context.Context) ([]moderation.Report, error) {
	var reports []moderation.Report

	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(BucketReports).ForEach(func(k, v []byte) error {
			var report moderation.Report
			if err := json.Unmarshal(v, &report); err != nil {
				return fmt.Errorf("failed to unmarshal report %s: %w", k, err)
			}
			reports = append(reports, report)
			return nil
		})
	})

	return reports, err
}

// listIndexed walks an index bucket under prefix and loads the referenced reports.
func (s *ModerationStore) listIndexed(index []byte, prefix string) ([]moderation.Report, error) {
	var reports []moderation.Report

	err := s.db.View(func(tx *bolt.Tx) error {
		reportsBucket := tx.Bucket(BucketReports)
		cursor := tx.Bucket(index).Cursor()
		p := indexPrefix(prefix)

		for k, v := cursor.Seek(p); k != nil && bytes.HasPrefix(k, p); k, v = cursor.Next() {
			report, err := getReport(reportsBucket, v)
			if err != nil {
				return err
			}
			if report != nil {
				reports = append(reports, *report)
			}
		}
		return nil
	})

	return reports, err
}

// ListReportsForContent returns the reports filed against ref, oldest first.
func (s *ModerationStore) ListReportsForContent(ctx context.Context, ref moderation.ContentRef) ([]moderation.Report, error) {
	return s.listIndexed(BucketReportsByContent, ref.Key())
}

// ListReportsByReporter returns the reports filed by reporterID, oldest first.
func (s *ModerationStore) ListReportsByReporter(ctx context.Context, reporterID string) ([]moderation.Report, error) {
	return s.listIndexed(BucketReportsByReporter, reporterID)
}

func applyResolution(report *moderation.Report, res moderation.Resolution) {
	resolvedAt := res.ResolvedAt
	report.Status = res.Status
	report.Outcome = res.Outcome
	report.ResolvedBy = res.ResolvedBy
	report.ResolutionNote = res.Note
	report.ResolvedAt = &resolvedAt
}

// ResolveReport closes a pending report.
func (s *ModerationStore) ResolveReport(ctx context.Context, id string, res moderation.Resolution) (*moderation.Report, error) {
	var out *moderation.Report

	err := s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(BucketReports)
		report, err := getReport(bucket, []byte(id))
		if err != nil {
			return err
		}
		if report == nil {
			return fmt.Errorf("%w: %s", moderation.ErrReportNotFound, id)
		}
		if report.Status != moderation.ReportStatusPending {
			return fmt.Errorf("%w: report %s is already %s", moderation.ErrInvalidStateTransition, id, report.Status)
		}

		applyResolution(report, res)
		out = report
		return putReport(bucket, report)
	})

	return out, err
}

// ResolvePendingReports closes every pending report filed against ref.
func (s *ModerationStore) ResolvePendingReports(ctx context.Context, ref moderation.ContentRef, res moderation.Resolution) (int, error) {
	var resolved int

	err := s.db.Update(func(tx *bolt.Tx) error {
		reportsBucket := tx.Bucket(BucketReports)
		cursor := tx.Bucket(BucketReportsByContent).Cursor()
		p := indexPrefix(ref.Key())

		for k, v := cursor.Seek(p); k != nil && bytes.HasPrefix(k, p); k, v = cursor.Next() {
			report, err := getReport(reportsBucket, v)
			if err != nil {
				return err
			}
			if report == nil || report.Status != moderation.ReportStatusPending {
				continue
			}
			applyResolution(report, res)
			if err := putReport(reportsBucket, report); err != nil {
				return err
			}
			resolved++
		}
		return nil
	})

	return resolved, err
}

// CountReportsFromUserSince counts reports submitted by a user after since.
func (s *ModerationStore) CountReportsFromUserSince(ctx context.Context, reporterID string, since time.Time) (int, error) {
	reports, err := s.ListReportsByReporter(ctx, reporterID)
	if err != nil {
		return 0, err
	}
	var count int
	for _, r := range reports {
		if r.CreatedAt.After(since) {
			count++
		}
	}
	return count, nil
}

// ReportStats aggregates counts over all reports.
func (s *ModerationStore) ReportStats(ctx context.Context) (moderation.ReportStats, error) {
	stats := moderation.NewReportStats()

	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(BucketReports).ForEach(func(k, v []byte) error {
			var report moderation.Report
			if err := json.Unmarshal(v, &report); err != nil {
				return nil // Skip malformed entries
			}
			stats.Add(report)
			return nil
		})
	})

	return stats, err
}

// Record appends an entry to the audit log.
func (s *ModerationStore) Record(ctx context.Context, entry moderation.AuditEntry) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(BucketAuditLog)

		data, err := json.Marshal(entry)
		if err != nil {
			return fmt.Errorf("failed to marshal audit entry: %w", err)
		}

		// The bucket sequence gives a total order even when timestamps collide
		seq, err := bucket.NextSequence()
		if err != nil {
			return err
		}
		key := seqKey(seq)
		if err := bucket.Put(key, data); err != nil {
			return err
		}

		return tx.Bucket(BucketAuditByContent).Put(append(indexPrefix(entry.Content.Key()), key...), key)
	})
}

// History returns the audit trail of ref, oldest first.
func (s *ModerationStore) History(ctx context.Context, ref moderation.ContentRef) ([]moderation.AuditEntry, error) {
	var entries []moderation.AuditEntry

	err := s.db.View(func(tx *bolt.Tx) error {
		logBucket := tx.Bucket(BucketAuditLog)
		cursor := tx.Bucket(BucketAuditByContent).Cursor()
		p := indexPrefix(ref.Key())

		for k, v := cursor.Seek(p); k != nil && bytes.HasPrefix(k, p); k, v = cursor.Next() {
			data := logBucket.Get(v)
			if data == nil {
				continue
			}
			var entry moderation.AuditEntry
			if err := json.Unmarshal(data, &entry); err != nil {
				return fmt.Errorf("failed to unmarshal audit entry: %w", err)
			}
			entries = append(entries, entry)
		}
		return nil
	})

	return entries, err
}

// ListAuditLog returns the most recent audit log entries.
// Entries are returned in reverse chronological order (newest first).
func (s *ModerationStore) ListAuditLog(ctx context.Context, limit int) ([]moderation.AuditEntry, error) {
	var entries []moderation.AuditEntry

	err := s.db.View(func(tx *bolt.Tx) error {
		cursor := tx.Bucket(BucketAuditLog).Cursor()

		for k, v := cursor.Last(); k != nil && len(entries) < limit; k, v = cursor.Prev() {
			var entry moderation.AuditEntry
			if err := json.Unmarshal(v, &entry); err != nil {
				continue // Skip malformed entries
			}
			entries = append(entries, entry)
		}
		return nil
	})

	return entries, err
}
