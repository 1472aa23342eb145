package moderation

import (
	"strings"
	"time"
)

// Permission represents a moderation capability that can be granted to a role
type Permission string

const (
	PermissionViewQueue     Permission = "view_queue"
	PermissionModerate      Permission = "moderate_content" // approve, reject, hide
	PermissionDeleteContent Permission = "delete_content"
	PermissionViewReports   Permission = "view_reports"
	PermissionResolveReport Permission = "resolve_report"
	PermissionViewAuditLog  Permission = "view_audit_log"
	PermissionResetReports  Permission = "reset_reports"
	PermissionSyncContent   Permission = "sync_content"
)

// AllPermissions returns all available permissions
func AllPermissions() []Permission {
	return []Permission{
		PermissionViewQueue,
		PermissionModerate,
		PermissionDeleteContent,
		PermissionViewReports,
		PermissionResolveReport,
		PermissionViewAuditLog,
		PermissionResetReports,
		PermissionSyncContent,
	}
}

// RoleName represents the name of a moderation role
type RoleName string

const (
	RoleAdmin     RoleName = "admin"
	RoleModerator RoleName = "moderator"
)

// Role defines a set of permissions for moderators
type Role struct {
	Name        RoleName     `json:"-"` // Set from map key during loading
	Description string       `json:"description"`
	Permissions []Permission `json:"permissions"`
}

// HasPermission checks if this role has the given permission
func (r *Role) HasPermission(perm Permission) bool {
	for _, p := range r.Permissions {
		if p == perm {
			return true
		}
	}
	return false
}

// ModeratorUser represents a user with moderation privileges
type ModeratorUser struct {
	ID     string   `json:"id"`
	Handle string   `json:"handle,omitempty"`
	Role   RoleName `json:"role"`
	Note   string   `json:"note,omitempty"`
}

// Config represents the moderator configuration loaded from JSON
type Config struct {
	Roles map[RoleName]*Role `json:"roles"`
	Users []ModeratorUser    `json:"users"`
}

// Validate checks that the config is valid
func (c *Config) Validate() error {
	if c.Roles == nil {
		c.Roles = make(map[RoleName]*Role)
	}

	for _, user := range c.Users {
		if user.ID == "" {
			return &ConfigError{Field: "users", Message: "user with empty id"}
		}
		if _, ok := c.Roles[user.Role]; !ok {
			return &ConfigError{
				Field:   "users",
				Message: "user " + user.ID + " references unknown role: " + string(user.Role),
			}
		}
	}

	known := make(map[Permission]bool)
	for _, p := range AllPermissions() {
		known[p] = true
	}

	// Set role names from map keys
	for name, role := range c.Roles {
		role.Name = name
		for _, p := range role.Permissions {
			if !known[p] {
				return &ConfigError{
					Field:   "roles",
					Message: "role " + string(name) + " grants unknown permission: " + string(p),
				}
			}
		}
	}

	return nil
}

// ConfigError represents a configuration validation error
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return "moderation config error in " + e.Field + ": " + e.Message
}

// ContentType identifies the kind of moderatable content
type ContentType string

const (
	ContentTypeArticle ContentType = "article"
	ContentTypeTopic   ContentType = "topic"
	ContentTypeReply   ContentType = "reply"
	ContentTypeJob     ContentType = "job"
)

// Valid reports whether t is one of the known content types
func (t ContentType) Valid() bool {
	switch t {
	case ContentTypeArticle, ContentTypeTopic, ContentTypeReply, ContentTypeJob:
		return true
	}
	return false
}

// ContentRef points at a single content item in the external content store
type ContentRef struct {
	Type ContentType `json:"type"`
	ID   string      `json:"id"`
}

// Key returns the canonical "type/id" form used as a storage key
func (r ContentRef) Key() string {
	return string(r.Type) + "/" + r.ID
}

func (r ContentRef) String() string {
	return r.Key()
}

// ParseContentRef parses a "type/id" key back into a ContentRef
func ParseContentRef(key string) (ContentRef, bool) {
	t, id, ok := strings.Cut(key, "/")
	if !ok || id == "" || !ContentType(t).Valid() {
		return ContentRef{}, false
	}
	return ContentRef{Type: ContentType(t), ID: id}, true
}

// ContentStatus is the single source of truth for an item's moderation state
type ContentStatus string

const (
	StatusPending  ContentStatus = "pending"
	StatusFlagged  ContentStatus = "flagged"
	StatusApproved ContentStatus = "approved"
	StatusRejected ContentStatus = "rejected"
	StatusHidden   ContentStatus = "hidden"
	StatusDeleted  ContentStatus = "deleted"
)

// Valid reports whether s is a known status
func (s ContentStatus) Valid() bool {
	switch s {
	case StatusPending, StatusFlagged, StatusApproved, StatusRejected, StatusHidden, StatusDeleted:
		return true
	}
	return false
}

// AwaitingDecision reports whether the item still needs a moderator
func (s ContentStatus) AwaitingDecision() bool {
	return s == StatusPending || s == StatusFlagged
}

// ContentItem is the engine's moderation projection of an externally owned content item
type ContentItem struct {
	Type             ContentType   `json:"type"`
	ID               string        `json:"id"`
	Title            string        `json:"title"`
	Excerpt          string        `json:"excerpt,omitempty"`
	AuthorID         string        `json:"authorId"`
	CreatedAt        time.Time     `json:"createdAt"`
	Status           ContentStatus `json:"status"`
	ReportCount      int           `json:"reportCount"`
	SpamScore        *int          `json:"spamScore"`
	LastReportReason ReportReason  `json:"lastReportReason,omitempty"`
	UpdatedAt        time.Time     `json:"updatedAt"`
}

// Ref returns the item's content reference
func (c ContentItem) Ref() ContentRef {
	return ContentRef{Type: c.Type, ID: c.ID}
}

// ReportReason is the closed set of reasons a user may give when reporting content
type ReportReason string

const (
	ReasonSpam           ReportReason = "spam"
	ReasonHarassment     ReportReason = "harassment"
	ReasonOffTopic       ReportReason = "off_topic"
	ReasonMisinformation ReportReason = "misinformation"
	ReasonCopyright      ReportReason = "copyright"
)

// AllReportReasons returns every accepted report reason
func AllReportReasons() []ReportReason {
	return []ReportReason{ReasonSpam, ReasonHarassment, ReasonOffTopic, ReasonMisinformation, ReasonCopyright}
}

// Valid reports whether r is an accepted reason
func (r ReportReason) Valid() bool {
	for _, known := range AllReportReasons() {
		if r == known {
			return true
		}
	}
	return false
}

// ReportStatus represents the status of a user report
type ReportStatus string

const (
	ReportStatusPending   ReportStatus = "pending"
	ReportStatusResolved  ReportStatus = "resolved"
	ReportStatusDismissed ReportStatus = "dismissed"
)

// Valid reports whether s is a known report status
func (s ReportStatus) Valid() bool {
	return s == ReportStatusPending || s == ReportStatusResolved || s == ReportStatusDismissed
}

// ReportOutcome records what a resolved report led to
type ReportOutcome string

const (
	OutcomeViolation ReportOutcome = "violation"
	OutcomeNoAction  ReportOutcome = "no_action"
)

// Report represents a user report on content
type Report struct {
	ID             string        `json:"id"` // TID
	Content        ContentRef    `json:"content"`
	ReporterID     string        `json:"reporterId"`
	Reason         ReportReason  `json:"reason"`
	Description    string        `json:"description,omitempty"`
	Status         ReportStatus  `json:"status"`
	Outcome        ReportOutcome `json:"outcome,omitempty"`
	CreatedAt      time.Time     `json:"createdAt"`
	ResolvedBy     string        `json:"resolvedBy,omitempty"`
	ResolutionNote string        `json:"resolutionNote,omitempty"`
	ResolvedAt     *time.Time    `json:"resolvedAt,omitempty"`
}

// Resolution carries the fields written when a pending report is closed
type Resolution struct {
	Status     ReportStatus
	Outcome    ReportOutcome
	ResolvedBy string
	Note       string
	ResolvedAt time.Time
}

// ReportStats aggregates report counts
type ReportStats struct {
	Total         int                  `json:"total"`
	ByStatus      map[ReportStatus]int `json:"byStatus"`
	ByReason      map[ReportReason]int `json:"byReason"`
	ByContentType map[ContentType]int  `json:"byContentType"`
}

// NewReportStats returns stats with every known key present and zeroed
func NewReportStats() ReportStats {
	stats := ReportStats{
		ByStatus:      make(map[ReportStatus]int),
		ByReason:      make(map[ReportReason]int),
		ByContentType: make(map[ContentType]int),
	}
	for _, s := range []ReportStatus{ReportStatusPending, ReportStatusResolved, ReportStatusDismissed} {
		stats.ByStatus[s] = 0
	}
	for _, r := range AllReportReasons() {
		stats.ByReason[r] = 0
	}
	for _, t := range []ContentType{ContentTypeArticle, ContentTypeTopic, ContentTypeReply, ContentTypeJob} {
		stats.ByContentType[t] = 0
	}
	return stats
}

// Add counts a single report
func (s *ReportStats) Add(r Report) {
	s.Total++
	s.ByStatus[r.Status]++
	s.ByReason[r.Reason]++
	s.ByContentType[r.Content.Type]++
}

// AuditAction represents a type of logged moderation decision
type AuditAction string

const (
	AuditActionApprove       AuditAction = "approve"
	AuditActionReject        AuditAction = "reject"
	AuditActionHide          AuditAction = "hide"
	AuditActionDelete        AuditAction = "delete"
	AuditActionFlag          AuditAction = "flag"
	AuditActionResolveReport AuditAction = "resolve_report"
	AuditActionDismissReport AuditAction = "dismiss_report"
	AuditActionResetReports  AuditAction = "reset_reports"
)

// AutoModActor is the actor id used for automatic decisions
const AutoModActor = "automod"

// AuditEntry represents a logged moderation decision
type AuditEntry struct {
	ID         string        `json:"id"`
	Content    ContentRef    `json:"content"`
	Action     AuditAction   `json:"action"`
	ActorID    string        `json:"actorId"` // moderator id or "automod"
	Reason     string        `json:"reason,omitempty"`
	FromStatus ContentStatus `json:"fromStatus,omitempty"`
	ToStatus   ContentStatus `json:"toStatus,omitempty"`
	ReportID   string        `json:"reportId,omitempty"`
	Timestamp  time.Time     `json:"timestamp"`
	AutoMod    bool          `json:"autoMod"`
}
