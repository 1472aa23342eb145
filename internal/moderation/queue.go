package moderation

import (
	"cmp"
	"context"
	"slices"
	"strings"
	"time"
)

const (
	DefaultPageSize = 20
	MaxPageSize     = 100

	// maxPriorityAgeHours caps the age contribution to queue priority
	maxPriorityAgeHours = 72
)

// QueueTab selects a predefined queue view
type QueueTab string

const (
	TabAll      QueueTab = "all"
	TabPending  QueueTab = "pending"
	TabReported QueueTab = "reported"
	TabFlagged  QueueTab = "flagged"
)

// SortField names a sortable queue column
type SortField string

const (
	SortCreatedAt    SortField = "createdAt"
	SortStatus       SortField = "status"
	SortReason       SortField = "reason"
	SortMostReported SortField = "most_reported"
	SortHighestSpam  SortField = "highest_spam"
	SortPriority     SortField = "priority"
)

// SortOrder is asc or desc
type SortOrder string

const (
	SortAsc  SortOrder = "asc"
	SortDesc SortOrder = "desc"
)

func parseSortOrder(o SortOrder) (SortOrder, error) {
	switch o {
	case "":
		return SortDesc, nil
	case SortAsc, SortDesc:
		return o, nil
	}
	return "", validationError("unknown sort order %q", o)
}

// QueueQuery filters, sorts and pages the moderation queue
type QueueQuery struct {
	Tab         QueueTab
	ContentType ContentType
	Status      ContentStatus
	Search      string
	SortBy      SortField
	SortOrder   SortOrder
	Page        int
	PageSize    int
}

// Page is one page of a filtered listing. Total and TotalPages describe the
// filtered set, not the whole corpus.
type Page[T any] struct {
	Items      []T `json:"items"`
	Total      int `json:"total"`
	TotalPages int `json:"totalPages"`
	Page       int `json:"page"`
	PageSize   int `json:"pageSize"`
}

func normalizePaging(page, pageSize int) (int, int) {
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	if pageSize > MaxPageSize {
		pageSize = MaxPageSize
	}
	return page, pageSize
}

func paginate[T any](items []T, page, pageSize int) Page[T] {
	page, pageSize = normalizePaging(page, pageSize)
	total := len(items)

	out := Page[T]{
		Items:      []T{},
		Total:      total,
		TotalPages: (total + pageSize - 1) / pageSize,
		Page:       page,
		PageSize:   pageSize,
	}
	start := (page - 1) * pageSize
	if start >= total {
		return out
	}
	end := min(start+pageSize, total)
	out.Items = items[start:end]
	return out
}

// Priority ranks an item for review: reports weigh most, then spam score, then age.
func Priority(item ContentItem, now time.Time) int {
	p := item.ReportCount * 10
	if item.SpamScore != nil {
		p += *item.SpamScore
	}
	age := int(now.Sub(item.CreatedAt).Hours())
	p += max(0, min(age, maxPriorityAgeHours))
	return p
}

// ListQueue returns the filtered, sorted, paginated moderation queue
func (e *Engine) ListQueue(ctx context.Context, actorID string, q QueueQuery) (result *Page[ContentItem], err error) {
	ctx, span := tracingSpan(ctx, "list_queue", actorID, ContentRef{})
	defer func() { endSpan(span, err) }()

	if err := e.authorize(actorID, PermissionViewQueue); err != nil {
		return nil, err
	}

	if q.Tab == "" {
		q.Tab = TabAll
	}
	switch q.Tab {
	case TabAll, TabPending, TabReported, TabFlagged:
	default:
		return nil, validationError("unknown tab %q", q.Tab)
	}
	if q.ContentType != "" && !q.ContentType.Valid() {
		return nil, validationError("unknown content type %q", q.ContentType)
	}
	if q.Status != "" && !q.Status.Valid() {
		return nil, validationError("unknown status %q", q.Status)
	}
	if q.SortBy == "" {
		q.SortBy = SortCreatedAt
	}
	order, err := parseSortOrder(q.SortOrder)
	if err != nil {
		return nil, err
	}

	now := e.now()
	var cmpFn func(a, b ContentItem) int
	switch q.SortBy {
	case SortCreatedAt:
		cmpFn = func(a, b ContentItem) int { return a.CreatedAt.Compare(b.CreatedAt) }
	case SortStatus:
		cmpFn = func(a, b ContentItem) int { return cmp.Compare(a.Status, b.Status) }
	case SortReason:
		cmpFn = func(a, b ContentItem) int { return cmp.Compare(a.LastReportReason, b.LastReportReason) }
	case SortMostReported:
		cmpFn = func(a, b ContentItem) int { return cmp.Compare(a.ReportCount, b.ReportCount) }
	case SortHighestSpam:
		cmpFn = func(a, b ContentItem) int { return cmp.Compare(scoreOrMinus(a.SpamScore), scoreOrMinus(b.SpamScore)) }
	case SortPriority:
		cmpFn = func(a, b ContentItem) int { return cmp.Compare(Priority(a, now), Priority(b, now)) }
	default:
		return nil, validationError("unknown sort field %q", q.SortBy)
	}

	items, err := e.store.ListContent(ctx, q.ContentType)
	if err != nil {
		return nil, storageError("list content", err)
	}

	search := strings.ToLower(strings.TrimSpace(q.Search))
	filtered := make([]ContentItem, 0, len(items))
	for _, item := range items {
		if !e.inTab(item, q.Tab) {
			continue
		}
		if q.Status != "" && item.Status != q.Status {
			continue
		}
		if search != "" &&
			!strings.Contains(strings.ToLower(item.Title), search) &&
			!strings.Contains(strings.ToLower(item.Excerpt), search) {
			continue
		}
		filtered = append(filtered, item)
	}

	slices.SortStableFunc(filtered, func(a, b ContentItem) int {
		c := cmpFn(a, b)
		if order == SortDesc {
			c = -c
		}
		if c != 0 {
			return c
		}
		return cmp.Compare(a.Ref().Key(), b.Ref().Key())
	})

	page := paginate(filtered, q.Page, q.PageSize)
	return &page, nil
}

func (e *Engine) inTab(item ContentItem, tab QueueTab) bool {
	switch tab {
	case TabPending:
		return item.Status.AwaitingDecision()
	case TabReported:
		return item.ReportCount > 0
	case TabFlagged:
		return item.Status.AwaitingDecision() && item.SpamScore != nil && *item.SpamScore > e.opts.FlagThreshold
	}
	return true
}

// unscored items sort below a score of zero
func scoreOrMinus(score *int) int {
	if score == nil {
		return -1
	}
	return *score
}
