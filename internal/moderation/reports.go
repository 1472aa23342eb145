package moderation

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog/log"

	"forumguard/internal/metrics"
)

// Report description bounds, counted in characters after trimming
const (
	MinDescriptionLength = 10
	MaxDescriptionLength = 1000
)

// maxRelatedReports bounds the related list returned with a report detail
const maxRelatedReports = 20

// FileReport records a user report against ref.
func (e *Engine) FileReport(ctx context.Context, reporterID string, ref ContentRef, reason ReportReason, description string) (report *Report, err error) {
	ctx, span := tracingSpan(ctx, "file_report", reporterID, ref)
	defer func() { endSpan(span, err) }()

	if reporterID == "" {
		return nil, validationError("reporter is required")
	}
	if err := validateRef(ref); err != nil {
		return nil, err
	}
	if !reason.Valid() {
		return nil, validationError("unknown report reason %q", reason)
	}
	description = strings.TrimSpace(description)
	if n := utf8.RuneCountInString(description); n > 0 && (n < MinDescriptionLength || n > MaxDescriptionLength) {
		return nil, validationError("description must be between %d and %d characters", MinDescriptionLength, MaxDescriptionLength)
	}

	if err := e.admit(ctx, e.opts.ReportPolicy, reporterID); err != nil {
		return nil, err
	}

	item, err := e.resolveContent(ctx, ref)
	if err != nil {
		return nil, err
	}

	r := Report{
		ID:          newTID(),
		Content:     ref,
		ReporterID:  reporterID,
		Reason:      reason,
		Description: description,
		Status:      ReportStatusPending,
		CreatedAt:   e.now(),
	}
	count, err := e.store.CreateReport(ctx, r)
	if err != nil {
		return nil, storageError("create report", err)
	}

	metrics.ReportsTotal.WithLabelValues(string(reason), string(ref.Type)).Inc()
	log.Info().
		Str("report_id", r.ID).
		Str("content", ref.Key()).
		Str("reporter", reporterID).
		Str("reason", string(reason)).
		Int("report_count", count).
		Msg("moderation: report filed")

	e.emit(ctx, Event{
		Type:       EventReportFiled,
		Content:    ref,
		AuthorID:   item.AuthorID,
		ActorID:    reporterID,
		Reason:     string(reason),
		ReportID:   r.ID,
		OccurredAt: r.CreatedAt,
	})

	if e.opts.ReportFlagThreshold > 0 && count >= e.opts.ReportFlagThreshold && item.Status == StatusPending {
		item.ReportCount = count
		// The report is already stored, so a failed flag does not fail the call.
		if _, err := e.autoFlag(ctx, item, "reports", fmt.Sprintf("%d reports received", count)); err != nil {
			log.Error().Err(err).Str("content", ref.Key()).Msg("moderation: auto-flag after report failed")
		}
	}

	return &r, nil
}

// ReportSortField names a sortable report column
type ReportSortField string

const (
	ReportSortCreatedAt ReportSortField = "createdAt"
	ReportSortStatus    ReportSortField = "status"
	ReportSortReason    ReportSortField = "reason"
)

// ReportQuery filters and pages the report list
type ReportQuery struct {
	Status      ReportStatus
	Reason      ReportReason
	ContentType ContentType
	Page        int
	PageSize    int
	SortBy      ReportSortField
	SortOrder   SortOrder
}

// ListReports returns a filtered, sorted page of reports
func (e *Engine) ListReports(ctx context.Context, actorID string, q ReportQuery) (*Page[Report], error) {
	if err := e.authorize(actorID, PermissionViewReports); err != nil {
		return nil, err
	}
	if q.Status != "" && !q.Status.Valid() {
		return nil, validationError("unknown report status %q", q.Status)
	}
	if q.Reason != "" && !q.Reason.Valid() {
		return nil, validationError("unknown report reason %q", q.Reason)
	}
	if q.ContentType != "" && !q.ContentType.Valid() {
		return nil, validationError("unknown content type %q", q.ContentType)
	}
	if q.SortBy == "" {
		q.SortBy = ReportSortCreatedAt
	}
	order, err := parseSortOrder(q.SortOrder)
	if err != nil {
		return nil, err
	}

	var cmpFn func(a, b Report) int
	switch q.SortBy {
	case ReportSortCreatedAt:
		cmpFn = func(a, b Report) int { return a.CreatedAt.Compare(b.CreatedAt) }
	case ReportSortStatus:
		cmpFn = func(a, b Report) int { return cmp.Compare(a.Status, b.Status) }
	case ReportSortReason:
		cmpFn = func(a, b Report) int { return cmp.Compare(a.Reason, b.Reason) }
	default:
		return nil, validationError("unknown sort field %q", q.SortBy)
	}

	all, err := e.store.ListReports(ctx)
	if err != nil {
		return nil, storageError("list reports", err)
	}

	filtered := make([]Report, 0, len(all))
	for _, r := range all {
		if q.Status != "" && r.Status != q.Status {
			continue
		}
		if q.Reason != "" && r.Reason != q.Reason {
			continue
		}
		if q.ContentType != "" && r.Content.Type != q.ContentType {
			continue
		}
		filtered = append(filtered, r)
	}

	slices.SortStableFunc(filtered, func(a, b Report) int {
		c := cmpFn(a, b)
		if order == SortDesc {
			c = -c
		}
		if c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})

	page := paginate(filtered, q.Page, q.PageSize)
	return &page, nil
}

// ReportDetail is a single report with the context a moderator needs to judge it
type ReportDetail struct {
	Report  Report       `json:"report"`
	Content *ContentItem `json:"content,omitempty"`
	// RelatedReports are other reports on the same content, newest first
	RelatedReports []Report `json:"relatedReports"`
	RelatedTotal   int      `json:"relatedTotal"`
	// SameReporterCount is how many related reports come from the same reporter
	SameReporterCount int `json:"sameReporterCount"`
	// ReporterTotal and ReporterLast24h count every report filed by the reporter
	ReporterTotal   int `json:"reporterTotal"`
	ReporterLast24h int `json:"reporterLast24h"`
}

// GetReport returns a report with its related reports
func (e *Engine) GetReport(ctx context.Context, actorID, id string) (*ReportDetail, error) {
	if err := e.authorize(actorID, PermissionViewReports); err != nil {
		return nil, err
	}
	if id == "" {
		return nil, validationError("report id is required")
	}

	r, err := e.store.GetReport(ctx, id)
	if err != nil {
		return nil, storageError("get report", err)
	}
	if r == nil {
		return nil, fmt.Errorf("%w: %s", ErrReportNotFound, id)
	}

	item, err := e.store.GetContent(ctx, r.Content)
	if err != nil {
		return nil, storageError("get content", err)
	}

	siblings, err := e.store.ListReportsForContent(ctx, r.Content)
	if err != nil {
		return nil, storageError("list reports for content", err)
	}

	byReporter, err := e.store.ListReportsByReporter(ctx, r.ReporterID)
	if err != nil {
		return nil, storageError("list reports by reporter", err)
	}
	recent, err := e.store.CountReportsFromUserSince(ctx, r.ReporterID, e.now().Add(-24*time.Hour))
	if err != nil {
		return nil, storageError("count recent reports", err)
	}

	detail := &ReportDetail{
		Report:          *r,
		Content:         item,
		RelatedReports:  []Report{},
		ReporterTotal:   len(byReporter),
		ReporterLast24h: recent,
	}
	for _, s := range siblings {
		if s.ID == r.ID {
			continue
		}
		detail.RelatedTotal++
		if s.ReporterID == r.ReporterID {
			detail.SameReporterCount++
		}
		detail.RelatedReports = append(detail.RelatedReports, s)
	}
	slices.SortFunc(detail.RelatedReports, func(a, b Report) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(b.ID, a.ID)
	})
	if len(detail.RelatedReports) > maxRelatedReports {
		detail.RelatedReports = detail.RelatedReports[:maxRelatedReports]
	}
	return detail, nil
}

// ReportResolution is the decision a moderator records on a single report
type ReportResolution string

const (
	ResolutionViolation ReportResolution = "resolved_violation"
	ResolutionNoAction  ReportResolution = "resolved_no_action"
	ResolutionDismissed ReportResolution = "dismissed"
)

func (r ReportResolution) split() (ReportStatus, ReportOutcome, bool) {
	switch r {
	case ResolutionViolation:
		return ReportStatusResolved, OutcomeViolation, true
	case ResolutionNoAction:
		return ReportStatusResolved, OutcomeNoAction, true
	case ResolutionDismissed:
		return ReportStatusDismissed, "", true
	}
	return "", "", false
}

// ResolveReport closes a single pending report without changing its content's status.
func (e *Engine) ResolveReport(ctx context.Context, actorID, id string, resolution ReportResolution, note string) (report *Report, err error) {
	ctx, span := tracingSpan(ctx, "resolve_report", actorID, ContentRef{})
	defer func() { endSpan(span, err) }()

	status, outcome, ok := resolution.split()
	if !ok {
		return nil, validationError("unknown resolution %q", resolution)
	}
	if id == "" {
		return nil, validationError("report id is required")
	}
	note = strings.TrimSpace(note)
	if utf8.RuneCountInString(note) > MaxReasonLength {
		return nil, validationError("resolution note must be at most %d characters", MaxReasonLength)
	}
	if err := e.authorize(actorID, PermissionResolveReport); err != nil {
		return nil, err
	}
	if err := e.admit(ctx, e.opts.ActionPolicy, actorID); err != nil {
		return nil, err
	}

	now := e.now()
	resolved, err := e.store.ResolveReport(ctx, id, Resolution{
		Status:     status,
		Outcome:    outcome,
		ResolvedBy: actorID,
		Note:       note,
		ResolvedAt: now,
	})
	if err != nil {
		return nil, storageError("resolve report", err)
	}

	action := AuditActionResolveReport
	if status == ReportStatusDismissed {
		action = AuditActionDismissReport
	}
	entry := AuditEntry{
		ID:        newTID(),
		Content:   resolved.Content,
		Action:    action,
		ActorID:   actorID,
		Reason:    note,
		ReportID:  resolved.ID,
		Timestamp: now,
	}
	if err := e.recordAudit(context.WithoutCancel(ctx), entry); err != nil {
		return nil, err
	}

	metrics.ReportsResolvedTotal.WithLabelValues(string(status)).Inc()
	log.Info().
		Str("report_id", id).
		Str("content", resolved.Content.Key()).
		Str("moderator", actorID).
		Str("resolution", string(resolution)).
		Msg("moderation: report resolved")

	e.emit(ctx, Event{
		Type:       EventReportResolved,
		Content:    resolved.Content,
		ActorID:    actorID,
		Action:     action,
		Reason:     note,
		ReportID:   resolved.ID,
		OccurredAt: now,
	})
	return resolved, nil
}

// ReportStatistics returns aggregate report counts
func (e *Engine) ReportStatistics(ctx context.Context, actorID string) (ReportStats, error) {
	if err := e.authorize(actorID, PermissionViewReports); err != nil {
		return ReportStats{}, err
	}
	stats, err := e.store.ReportStats(ctx)
	if err != nil {
		return ReportStats{}, storageError("report stats", err)
	}
	return stats, nil
}

// ResetReports zeroes the report count of ref after its reports have been handled.
// Resetting an item whose count is already zero is a no-op and is not audited.
func (e *Engine) ResetReports(ctx context.Context, actorID string, ref ContentRef, reason string) (item *ContentItem, err error) {
	ctx, span := tracingSpan(ctx, "reset_reports", actorID, ref)
	defer func() { endSpan(span, err) }()

	if err := validateRef(ref); err != nil {
		return nil, err
	}
	reason = strings.TrimSpace(reason)
	if utf8.RuneCountInString(reason) > MaxReasonLength {
		return nil, validationError("reason must be at most %d characters", MaxReasonLength)
	}
	if err := e.authorize(actorID, PermissionResetReports); err != nil {
		return nil, err
	}
	if err := e.admit(ctx, e.opts.ActionPolicy, actorID); err != nil {
		return nil, err
	}

	item, err = e.store.GetContent(ctx, ref)
	if err != nil {
		return nil, storageError("get content", err)
	}
	if item == nil {
		return nil, fmt.Errorf("%w: %s", ErrContentNotFound, ref)
	}
	if item.ReportCount == 0 {
		return item, nil
	}

	if err := e.store.ResetReportCount(ctx, ref); err != nil {
		return nil, storageError("reset report count", err)
	}

	entry := AuditEntry{
		ID:         newTID(),
		Content:    ref,
		Action:     AuditActionResetReports,
		ActorID:    actorID,
		Reason:     reason,
		FromStatus: item.Status,
		ToStatus:   item.Status,
		Timestamp:  e.now(),
	}
	if err := e.recordAudit(context.WithoutCancel(ctx), entry); err != nil {
		return nil, err
	}

	log.Info().Str("content", ref.Key()).Str("moderator", actorID).Int("previous_count", item.ReportCount).Msg("moderation: report count reset")

	item.ReportCount = 0
	return item, nil
}
