package handlers

import (
	"net/http"

	"forumguard/internal/moderation"
	"forumguard/internal/spamscore"
)

// ActionRequest is the optional body of single content actions
type ActionRequest struct {
	Reason string `json:"reason,omitempty"`
}

// BulkItem addresses one item of a mixed-type bulk request
type BulkItem struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

// BulkRequest is the body of POST /content/bulk. Either contentType with contentIds,
// or items for a mixed-type batch.
type BulkRequest struct {
	ContentType string     `json:"contentType,omitempty"`
	ContentIDs  []string   `json:"contentIds,omitempty"`
	Items       []BulkItem `json:"items,omitempty"`
	Action      string     `json:"action"`
	Reason      string     `json:"reason,omitempty"`
}

// ContentResponse is a content item with its spam risk band
type ContentResponse struct {
	*moderation.ContentItem
	SpamBand spamscore.Band `json:"spamBand"`
}

func contentResponse(item *moderation.ContentItem) ContentResponse {
	return ContentResponse{ContentItem: item, SpamBand: spamscore.BandFor(item.SpamScore)}
}

// HandleQueue lists the moderation queue
func (h *Handler) HandleQueue(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, err := queryInt(r, "page")
	if err != nil {
		badRequest(w, r, "%s", err)
		return
	}
	limit, err := queryInt(r, "limit")
	if err != nil {
		badRequest(w, r, "%s", err)
		return
	}

	result, err := h.engine.ListQueue(r.Context(), actor(r), moderation.QueueQuery{
		Tab:         moderation.QueueTab(q.Get("tab")),
		ContentType: moderation.ContentType(q.Get("type")),
		Status:      moderation.ContentStatus(q.Get("status")),
		Search:      q.Get("search"),
		SortBy:      moderation.SortField(q.Get("sortBy")),
		SortOrder:   moderation.SortOrder(q.Get("sortOrder")),
		Page:        page,
		PageSize:    limit,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	items := make([]ContentResponse, len(result.Items))
	for i := range result.Items {
		items[i] = contentResponse(&result.Items[i])
	}
	writeJSON(w, http.StatusOK, moderation.Page[ContentResponse]{
		Items:      items,
		Total:      result.Total,
		TotalPages: result.TotalPages,
		Page:       result.Page,
		PageSize:   result.PageSize,
	})
}

// HandleContentGet returns one projected item
func (h *Handler) HandleContentGet(w http.ResponseWriter, r *http.Request) {
	item, err := h.engine.GetContent(r.Context(), actor(r), pathRef(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, contentResponse(item))
}

// HandleContentAction returns the handler for a single moderation action
func (h *Handler) HandleContentAction(action moderation.Action) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req ActionRequest
		if err := decodeJSON(r, &req); err != nil {
			badRequest(w, r, "%s", err)
			return
		}

		result, err := h.engine.Apply(r.Context(), moderation.ModerationAction{
			Content: pathRef(r),
			Action:  action,
			Reason:  req.Reason,
			ActorID: actor(r),
		})
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, result)
	}
}

// HandleContentBulk applies one action to many items
func (h *Handler) HandleContentBulk(w http.ResponseWriter, r *http.Request) {
	var req BulkRequest
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w, r, "%s", err)
		return
	}

	items := make([]moderation.ContentRef, 0, len(req.ContentIDs)+len(req.Items))
	for _, id := range req.ContentIDs {
		items = append(items, moderation.ContentRef{Type: moderation.ContentType(req.ContentType), ID: id})
	}
	for _, item := range req.Items {
		items = append(items, moderation.ContentRef{Type: moderation.ContentType(item.Type), ID: item.ID})
	}

	result, err := h.engine.ApplyBulk(r.Context(), moderation.BulkAction{
		Items:   items,
		Action:  moderation.Action(req.Action),
		Reason:  req.Reason,
		ActorID: actor(r),
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// HandleContentHistory returns the audit trail of one item, oldest first
func (h *Handler) HandleContentHistory(w http.ResponseWriter, r *http.Request) {
	entries, err := h.engine.History(r.Context(), actor(r), pathRef(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if entries == nil {
		entries = []moderation.AuditEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

// HandleContentSync refreshes one item from the content store and classifier
func (h *Handler) HandleContentSync(w http.ResponseWriter, r *http.Request) {
	item, err := h.engine.Sync(r.Context(), actor(r), pathRef(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, contentResponse(item))
}

// HandleContentResetReports zeroes the report count of one item
func (h *Handler) HandleContentResetReports(w http.ResponseWriter, r *http.Request) {
	var req ActionRequest
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w, r, "%s", err)
		return
	}
	item, err := h.engine.ResetReports(r.Context(), actor(r), pathRef(r), req.Reason)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, contentResponse(item))
}

// HandleAuditLog lists the most recent audit entries across all content
func (h *Handler) HandleAuditLog(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit")
	if err != nil {
		badRequest(w, r, "%s", err)
		return
	}
	entries, err := h.engine.AuditLog(r.Context(), actor(r), limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if entries == nil {
		entries = []moderation.AuditEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}
