package sqlitestore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"forumguard/internal/moderation"
)

// ModerationStore implements moderation.Store using SQLite.
type ModerationStore struct {
	db *sql.DB
}

// NewModerationStore creates a ModerationStore backed by the given database.
// The database must already have the moderation schema applied (see Open).
func NewModerationStore(db *sql.DB) *ModerationStore {
	return &ModerationStore{db: db}
}

// Ensure ModerationStore implements the interface at compile time.
var _ moderation.Store = (*ModerationStore)(nil)

// Close closes the database handle.
func (s *ModerationStore) Close() error {
	return s.db.Close()
}

// timeLayout is fixed width so stored timestamps compare correctly as text
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(timeLayout, s)
	return t
}

// ========== Content projection ==========

const contentColumns = `content_type, content_id, title, excerpt, author_id, created_at, status,
	report_count, spam_score, last_report_reason, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanContent(row rowScanner) (*moderation.ContentItem, error) {
	var item moderation.ContentItem
	var createdAt, updatedAt, reason string
	var score sql.NullInt64
	if err := row.Scan(&item.Type, &item.ID, &item.Title, &item.Excerpt, &item.AuthorID, &createdAt,
		&item.Status, &item.ReportCount, &score, &reason, &updatedAt); err != nil {
		return nil, err
	}
	item.CreatedAt = parseTime(createdAt)
	item.UpdatedAt = parseTime(updatedAt)
	item.LastReportReason = moderation.ReportReason(reason)
	if score.Valid {
		v := int(score.Int64)
		item.SpamScore = &v
	}
	return &item, nil
}

func nullableScore(score *int) sql.NullInt64 {
	if score == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*score), Valid: true}
}

func (s *ModerationStore) UpsertContent(ctx context.Context, item moderation.ContentItem) (*moderation.ContentItem, error) {
	now := time.Now().UTC()
	if item.Status == "" {
		item.Status = moderation.StatusPending
	}
	// A zero createdAt on refresh keeps the stored value
	keepCreated := 0
	if item.CreatedAt.IsZero() {
		item.CreatedAt = now
		keepCreated = 1
	}

	row := s.db.QueryRowContext(ctx, `
		INSERT INTO moderation_content (content_type, content_id, title, excerpt, author_id, created_at,
			status, report_count, spam_score, last_report_reason, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, 0, ?, '', ?)
		ON CONFLICT(content_type, content_id) DO UPDATE SET
			title      = excluded.title,
			excerpt    = excluded.excerpt,
			author_id  = excluded.author_id,
			created_at = CASE WHEN ? = 1 THEN moderation_content.created_at ELSE excluded.created_at END,
			spam_score = COALESCE(excluded.spam_score, moderation_content.spam_score),
			updated_at = excluded.updated_at
		RETURNING `+contentColumns,
		item.Type, item.ID, item.Title, item.Excerpt, item.AuthorID, formatTime(item.CreatedAt),
		item.Status, nullableScore(item.SpamScore), formatTime(now), keepCreated)

	stored, err := scanContent(row)
	if err != nil {
		return nil, fmt.Errorf("upsert content: %w", err)
	}
	return stored, nil
}

func (s *ModerationStore) GetContent(ctx context.Context, ref moderation.ContentRef) (*moderation.ContentItem, error) {
	item, err := scanContent(s.db.QueryRowContext(ctx,
		`SELECT `+contentColumns+` FROM moderation_content WHERE content_type = ? AND content_id = ?`,
		ref.Type, ref.ID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return item, nil
}

func (s *ModerationStore) ListContent(ctx context.Context, contentType moderation.ContentType) ([]moderation.ContentItem, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+contentColumns+` FROM moderation_content
		WHERE ? = '' OR content_type = ?
		ORDER BY content_type, content_id`, contentType, contentType)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []moderation.ContentItem
	for rows.Next() {
		item, err := scanContent(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *item)
	}
	return items, rows.Err()
}

// missingOr returns ErrContentNotFound when ref is unknown, otherwise other
func (s *ModerationStore) missingOr(ctx context.Context, ref moderation.ContentRef, other error) error {
	item, err := s.GetContent(ctx, ref)
	if err != nil {
		return err
	}
	if item == nil {
		return fmt.Errorf("%w: %s", moderation.ErrContentNotFound, ref)
	}
	return other
}

func (s *ModerationStore) CompareAndSetStatus(ctx context.Context, ref moderation.ContentRef, from, to moderation.ContentStatus) (*moderation.ContentItem, error) {
	item, err := scanContent(s.db.QueryRowContext(ctx, `
		UPDATE moderation_content SET status = ?, updated_at = ?
		WHERE content_type = ? AND content_id = ? AND status = ?
		RETURNING `+contentColumns,
		to, formatTime(time.Now()), ref.Type, ref.ID, from))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, s.missingOr(ctx, ref, fmt.Errorf("%w: %s is no longer %s", moderation.ErrConflict, ref, from))
	}
	if err != nil {
		return nil, fmt.Errorf("set status: %w", err)
	}
	return item, nil
}

// updateContent runs a single-row UPDATE and maps "no row" to ErrContentNotFound
func (s *ModerationStore) updateContent(ctx context.Context, ref moderation.ContentRef, set string, args ...any) error {
	args = append(args, formatTime(time.Now()), ref.Type, ref.ID)
	res, err := s.db.ExecContext(ctx,
		`UPDATE moderation_content SET `+set+`, updated_at = ? WHERE content_type = ? AND content_id = ?`, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", moderation.ErrContentNotFound, ref)
	}
	return nil
}

func (s *ModerationStore) SetSpamScore(ctx context.Context, ref moderation.ContentRef, score int) error {
	return s.updateContent(ctx, ref, `spam_score = ?`, score)
}

func (s *ModerationStore) ResetReportCount(ctx context.Context, ref moderation.ContentRef) error {
	return s.updateContent(ctx, ref, `report_count = 0`)
}

// ========== Reports ==========

const reportColumns = `id, content_type, content_id, reporter_id, reason, description, status, outcome,
	created_at, resolved_by, resolution_note, resolved_at`

func scanReport(row rowScanner) (*moderation.Report, error) {
	var r moderation.Report
	var createdAt string
	var outcome string
	var resolvedAt sql.NullString
	if err := row.Scan(&r.ID, &r.Content.Type, &r.Content.ID, &r.ReporterID, &r.Reason, &r.Description,
		&r.Status, &outcome, &createdAt, &r.ResolvedBy, &r.ResolutionNote, &resolvedAt); err != nil {
		return nil, err
	}
	r.Outcome = moderation.ReportOutcome(outcome)
	r.CreatedAt = parseTime(createdAt)
	if resolvedAt.Valid {
		t := parseTime(resolvedAt.String)
		r.ResolvedAt = &t
	}
	return &r, nil
}

func scanReports(rows *sql.Rows) ([]moderation.Report, error) {
	defer rows.Close()
	var reports []moderation.Report
	for rows.Next() {
		r, err := scanReport(rows)
		if err != nil {
			return nil, err
		}
		reports = append(reports, *r)
	}
	return reports, rows.Err()
}

func (s *ModerationStore) CreateReport(ctx context.Context, report moderation.Report) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	// Write first so the transaction takes the write lock up front
	var count int
	err = tx.QueryRowContext(ctx, `
		UPDATE moderation_content
		SET report_count = report_count + 1, last_report_reason = ?, updated_at = ?
		WHERE content_type = ? AND content_id = ?
		RETURNING report_count
	`, report.Reason, formatTime(time.Now()), report.Content.Type, report.Content.ID).Scan(&count)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("%w: %s", moderation.ErrContentNotFound, report.Content)
	}
	if err != nil {
		return 0, fmt.Errorf("increment report count: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO moderation_reports (id, content_type, content_id, reporter_id, reason, description,
			status, outcome, created_at, resolved_by, resolution_note, resolved_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, '', '', NULL)
	`, report.ID, report.Content.Type, report.Content.ID, report.ReporterID, report.Reason, report.Description,
		report.Status, report.Outcome, formatTime(report.CreatedAt))
	if err != nil {
		return 0, fmt.Errorf("insert report: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return count, nil
}

func (s *ModerationStore) GetReport(ctx context.Context, id string) (*moderation.Report, error) {
	r, err := scanReport(s.db.QueryRowContext(ctx, `SELECT `+reportColumns+` FROM moderation_reports WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return r, err
}

func (s *ModerationStore) ListReports(ctx context.Context) ([]moderation.Report, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+reportColumns+` FROM moderation_reports ORDER BY id`)
	if err != nil {
		return nil, err
	}
	return scanReports(rows)
}

func (s *ModerationStore) ListReportsForContent(ctx context.Context, ref moderation.ContentRef) ([]moderation.Report, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+reportColumns+` FROM moderation_reports WHERE content_type = ? AND content_id = ? ORDER BY id`,
		ref.Type, ref.ID)
	if err != nil {
		return nil, err
	}
	return scanReports(rows)
}

func (s *ModerationStore) ListReportsByReporter(ctx context.Context, reporterID string) ([]moderation.Report, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+reportColumns+` FROM moderation_reports WHERE reporter_id = ? ORDER BY id`, reporterID)
	if err != nil {
		return nil, err
	}
	return scanReports(rows)
}

func (s *ModerationStore) ResolveReport(ctx context.Context, id string, res moderation.Resolution) (*moderation.Report, error) {
	r, err := scanReport(s.db.QueryRowContext(ctx, `
		UPDATE moderation_reports
		SET status = ?, outcome = ?, resolved_by = ?, resolution_note = ?, resolved_at = ?
		WHERE id = ? AND status = ?
		RETURNING `+reportColumns,
		res.Status, res.Outcome, res.ResolvedBy, res.Note, formatTime(res.ResolvedAt),
		id, moderation.ReportStatusPending))
	if errors.Is(err, sql.ErrNoRows) {
		existing, gerr := s.GetReport(ctx, id)
		if gerr != nil {
			return nil, gerr
		}
		if existing == nil {
			return nil, fmt.Errorf("%w: %s", moderation.ErrReportNotFound, id)
		}
		return nil, fmt.Errorf("%w: report %s is already %s", moderation.ErrInvalidStateTransition, id, existing.Status)
	}
	if err != nil {
		return nil, fmt.Errorf("resolve report: %w", err)
	}
	return r, nil
}

func (s *ModerationStore) ResolvePendingReports(ctx context.Context, ref moderation.ContentRef, res moderation.Resolution) (int, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE moderation_reports
		SET status = ?, outcome = ?, resolved_by = ?, resolution_note = ?, resolved_at = ?
		WHERE content_type = ? AND content_id = ? AND status = ?
	`, res.Status, res.Outcome, res.ResolvedBy, res.Note, formatTime(res.ResolvedAt),
		ref.Type, ref.ID, moderation.ReportStatusPending)
	if err != nil {
		return 0, fmt.Errorf("resolve pending reports: %w", err)
	}
	n, err := result.RowsAffected()
	return int(n), err
}

func (s *ModerationStore) CountReportsFromUserSince(ctx context.Context, reporterID string, since time.Time) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM moderation_reports WHERE reporter_id = ? AND created_at > ?`,
		reporterID, formatTime(since)).Scan(&count)
	return count, err
}

func (s *ModerationStore) ReportStats(ctx context.Context) (moderation.ReportStats, error) {
	stats := moderation.NewReportStats()
	rows, err := s.db.QueryContext(ctx, `
		SELECT status, reason, content_type, COUNT(*)
		FROM moderation_reports GROUP BY status, reason, content_type
	`)
	if err != nil {
		return stats, err
	}
	defer rows.Close()

	for rows.Next() {
		var status moderation.ReportStatus
		var reason moderation.ReportReason
		var contentType moderation.ContentType
		var n int
		if err := rows.Scan(&status, &reason, &contentType, &n); err != nil {
			return stats, err
		}
		stats.Total += n
		stats.ByStatus[status] += n
		stats.ByReason[reason] += n
		stats.ByContentType[contentType] += n
	}
	return stats, rows.Err()
}

// ========== Audit Log ==========

const auditColumns = `id, content_type, content_id, action, actor_id, reason, from_status, to_status,
	report_id, timestamp, auto_mod`

func scanAudit(rows *sql.Rows) ([]moderation.AuditEntry, error) {
	defer rows.Close()
	var entries []moderation.AuditEntry
	for rows.Next() {
		var e moderation.AuditEntry
		var ts string
		var autoMod int
		if err := rows.Scan(&e.ID, &e.Content.Type, &e.Content.ID, &e.Action, &e.ActorID, &e.Reason,
			&e.FromStatus, &e.ToStatus, &e.ReportID, &ts, &autoMod); err != nil {
			return nil, err
		}
		e.Timestamp = parseTime(ts)
		e.AutoMod = autoMod == 1
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (s *ModerationStore) Record(ctx context.Context, entry moderation.AuditEntry) error {
	autoMod := 0
	if entry.AutoMod {
		autoMod = 1
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO moderation_audit_log (id, content_type, content_id, action, actor_id, reason,
			from_status, to_status, report_id, timestamp, auto_mod)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, entry.ID, entry.Content.Type, entry.Content.ID, entry.Action, entry.ActorID, entry.Reason,
		entry.FromStatus, entry.ToStatus, entry.ReportID, formatTime(entry.Timestamp), autoMod)
	if err != nil {
		return fmt.Errorf("record audit entry: %w", err)
	}
	return nil
}

func (s *ModerationStore) History(ctx context.Context, ref moderation.ContentRef) ([]moderation.AuditEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+auditColumns+` FROM moderation_audit_log WHERE content_type = ? AND content_id = ? ORDER BY seq`,
		ref.Type, ref.ID)
	if err != nil {
		return nil, err
	}
	return scanAudit(rows)
}

func (s *ModerationStore) ListAuditLog(ctx context.Context, limit int) ([]moderation.AuditEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+auditColumns+` FROM moderation_audit_log ORDER BY seq DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	return scanAudit(rows)
}
