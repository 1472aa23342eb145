package moderation

import (
	"context"
	"time"
)

// Store defines the persistence interface for moderation data.
// Implementations must be safe for concurrent use.
//
// Lookups of a single record return (nil, nil) when the record does not exist.
type Store interface {
	AuditLog

	// Content projection
	// UpsertContent inserts a new projection or refreshes the externally owned
	// fields (title, excerpt, author, createdAt, and spam score when non-nil) of an
	// existing one. Status and report count of an existing item are never
	// overwritten. It returns the stored item.
	UpsertContent(ctx context.Context, item ContentItem) (*ContentItem, error)
	GetContent(ctx context.Context, ref ContentRef) (*ContentItem, error)
	// ListContent returns every projected item of contentType, or of all types when empty.
	ListContent(ctx context.Context, contentType ContentType) ([]ContentItem, error)
	// CompareAndSetStatus moves ref from status `from` to `to`. It returns ErrConflict
	// when the stored status no longer equals from, and ErrContentNotFound when the
	// item is unknown.
	CompareAndSetStatus(ctx context.Context, ref ContentRef, from, to ContentStatus) (*ContentItem, error)
	SetSpamScore(ctx context.Context, ref ContentRef, score int) error
	ResetReportCount(ctx context.Context, ref ContentRef) error

	// Reports
	// CreateReport persists report and increments the report count of its content
	// item in the same transaction, returning the new count.
	CreateReport(ctx context.Context, report Report) (int, error)
	GetReport(ctx context.Context, id string) (*Report, error)
	ListReports(ctx context.Context) ([]Report, error)
	ListReportsForContent(ctx context.Context, ref ContentRef) ([]Report, error)
	ListReportsByReporter(ctx context.Context, reporterID string) ([]Report, error)
	// ResolveReport closes a pending report. Non-pending reports yield
	// ErrInvalidStateTransition, unknown ids ErrReportNotFound.
	ResolveReport(ctx context.Context, id string, res Resolution) (*Report, error)
	// ResolvePendingReports closes every pending report of ref and returns how many changed.
	ResolvePendingReports(ctx context.Context, ref ContentRef, res Resolution) (int, error)
	CountReportsFromUserSince(ctx context.Context, reporterID string, since time.Time) (int, error)
	ReportStats(ctx context.Context) (ReportStats, error)

	Close() error
}

// AuditLog is the append-only trail of moderation decisions.
// There is deliberately no update or delete.
type AuditLog interface {
	Record(ctx context.Context, entry AuditEntry) error
	// History returns the entries for ref, oldest first.
	History(ctx context.Context, ref ContentRef) ([]AuditEntry, error)
	// ListAuditLog returns the most recent entries across all content, newest first.
	ListAuditLog(ctx context.Context, limit int) ([]AuditEntry, error)
}

// ContentSource looks up content in the external content store.
// It returns (nil, nil) when the content does not exist.
type ContentSource interface {
	LookupContent(ctx context.Context, ref ContentRef) (*ContentItem, error)
}

// ScoreProvider supplies the externally computed 0-100 spam score for an item.
// ok is false when no score has been computed yet.
type ScoreProvider interface {
	Score(ctx context.Context, ref ContentRef) (score int, ok bool, err error)
}

// ScoreInvalidator is implemented by score providers that cache results. Sync
// drops the cached entry for ref before asking for a fresh score.
type ScoreInvalidator interface {
	Invalidate(ref ContentRef)
}

// Authorizer decides whether an actor holds a moderation capability
type Authorizer interface {
	HasPermission(actorID string, perm Permission) bool
}

// Dispatcher receives engine events for delivery by an external notification system
type Dispatcher interface {
	Dispatch(ctx context.Context, evt Event) error
}

// EventType names an engine event
type EventType string

const (
	EventReportFiled      EventType = "report.filed"
	EventReportResolved   EventType = "report.resolved"
	EventContentModerated EventType = "content.moderated"
	EventContentFlagged   EventType = "content.flagged"
)

// Event is emitted to the Dispatcher after a state change has been persisted
type Event struct {
	Type       EventType     `json:"type"`
	Content    ContentRef    `json:"content"`
	AuthorID   string        `json:"authorId,omitempty"`
	ActorID    string        `json:"actorId"`
	Action     AuditAction   `json:"action,omitempty"`
	Status     ContentStatus `json:"status,omitempty"`
	Reason     string        `json:"reason,omitempty"`
	ReportID   string        `json:"reportId,omitempty"`
	OccurredAt time.Time     `json:"occurredAt"`
}
