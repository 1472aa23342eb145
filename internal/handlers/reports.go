package handlers

import (
	"net/http"

	"forumguard/internal/moderation"
)

// CreateReportRequest is the body of POST /reports
type CreateReportRequest struct {
	ReportableType string `json:"reportableType"`
	ReportableID   string `json:"reportableId"`
	Reason         string `json:"reason"`
	Description    string `json:"description,omitempty"`
}

// ResolveReportRequest is the body of PUT /reports/{id}/resolve
type ResolveReportRequest struct {
	Status         string `json:"status"`
	ResolutionNote string `json:"resolutionNote,omitempty"`
}

// HandleReportCreate files a report on behalf of the calling actor
func (h *Handler) HandleReportCreate(w http.ResponseWriter, r *http.Request) {
	var req CreateReportRequest
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w, r, "%s", err)
		return
	}

	ref := moderation.ContentRef{Type: moderation.ContentType(req.ReportableType), ID: req.ReportableID}
	report, err := h.engine.FileReport(r.Context(), actor(r), ref, moderation.ReportReason(req.Reason), req.Description)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, report)
}

// HandleReportList lists reports with filters, sorting and paging
func (h *Handler) HandleReportList(w http.ResponseWriter, r *http.Request) {
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

	result, err := h.engine.ListReports(r.Context(), actor(r), moderation.ReportQuery{
		Status:      moderation.ReportStatus(q.Get("status")),
		Reason:      moderation.ReportReason(q.Get("reason")),
		ContentType: moderation.ContentType(q.Get("reportableType")),
		Page:        page,
		PageSize:    limit,
		SortBy:      moderation.ReportSortField(q.Get("sortBy")),
		SortOrder:   moderation.SortOrder(q.Get("sortOrder")),
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// HandleReportGet returns a report with related reports on the same content
func (h *Handler) HandleReportGet(w http.ResponseWriter, r *http.Request) {
	detail, err := h.engine.GetReport(r.Context(), actor(r), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

// HandleReportResolve closes a single report
func (h *Handler) HandleReportResolve(w http.ResponseWriter, r *http.Request) {
	var req ResolveReportRequest
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w, r, "%s", err)
		return
	}

	report, err := h.engine.ResolveReport(r.Context(), actor(r), r.PathValue("id"), moderation.ReportResolution(req.Status), req.ResolutionNote)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// HandleReportStatistics returns aggregate report counts
func (h *Handler) HandleReportStatistics(w http.ResponseWriter, r *http.Request) {
	stats, err := h.engine.ReportStatistics(r.Context(), actor(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}
