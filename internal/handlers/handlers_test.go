package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"forumguard/internal/moderation"
	"forumguard/internal/spamscore"

	"github.com/google/go-querystring/query"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// queueParams mirrors the query string of GET /content
type queueParams struct {
	Tab       string `url:"tab,omitempty"`
	Type      string `url:"type,omitempty"`
	Status    string `url:"status,omitempty"`
	Search    string `url:"search,omitempty"`
	SortBy    string `url:"sortBy,omitempty"`
	SortOrder string `url:"sortOrder,omitempty"`
	Page      int    `url:"page,omitempty"`
	Limit     int    `url:"limit,omitempty"`
}

func queuePath(t *testing.T, p queueParams) string {
	v, err := query.Values(p)
	require.NoError(t, err)
	return "/content?" + v.Encode()
}

func TestWriteError(t *testing.T) {
	tests := []struct {
		err    error
		status int
		code   string
	}{
		{fmt.Errorf("%w: bad", moderation.ErrValidation), http.StatusBadRequest, "ValidationFailed"},
		{&moderation.RateLimitError{Policy: "reports", RetryAfter: 1500 * time.Millisecond}, http.StatusTooManyRequests, "RateLimited"},
		{moderation.ErrContentNotFound, http.StatusNotFound, "ContentNotFound"},
		{moderation.ErrReportNotFound, http.StatusNotFound, "ReportNotFound"},
		{moderation.ErrInvalidStateTransition, http.StatusConflict, "InvalidStateTransition"},
		{moderation.ErrConflict, http.StatusConflict, "Conflict"},
		{moderation.ErrUnauthorized, http.StatusForbidden, "Unauthorized"},
		{moderation.ErrCanceled, http.StatusServiceUnavailable, "Canceled"},
		{errors.New("bolt: timeout"), http.StatusServiceUnavailable, "StorageUnavailable"},
	}
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			rec := httptest.NewRecorder()
			writeError(rec, httptest.NewRequest(http.MethodGet, "/", nil), tt.err)
			assert.Equal(t, tt.status, rec.Code)

			body := decodeBody[ErrorResponse](t, rec)
			assert.Equal(t, "error", body.Status)
			assert.Equal(t, tt.code, body.Code)
			assert.NotEmpty(t, body.Message)

			if tt.status == http.StatusTooManyRequests {
				assert.Equal(t, "2", rec.Header().Get("Retry-After"))
			}
		})
	}
}

func TestReportLifecycle(t *testing.T) {
	tc := NewTestContext(t)
	h := tc.Handler
	tc.AddContent(moderation.ContentTypeArticle, "A1", "Cheap watches")

	// file a report
	rec := httptest.NewRecorder()
	h.HandleReportCreate(rec, NewActorRequest(t, http.MethodPost, "/reports", "U1", CreateReportRequest{
		ReportableType: "article",
		ReportableID:   "A1",
		Reason:         "spam",
		Description:    "promotional spam links",
	}))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	report := decodeBody[moderation.Report](t, rec)
	assert.Equal(t, moderation.ReportStatusPending, report.Status)

	// queue shows it on the reported tab
	rec = httptest.NewRecorder()
	h.HandleQueue(rec, NewActorRequest(t, http.MethodGet, queuePath(t, queueParams{Tab: "reported"}), "mod-1", nil))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	page := decodeBody[moderation.Page[ContentResponse]](t, rec)
	require.Len(t, page.Items, 1)
	assert.Equal(t, 1, page.Items[0].ReportCount)
	assert.Equal(t, spamscore.BandUnscored, page.Items[0].SpamBand)

	// report list and detail
	rec = httptest.NewRecorder()
	h.HandleReportList(rec, NewActorRequest(t, http.MethodGet, "/reports?status=pending&reportableType=article", "mod-1", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	reports := decodeBody[moderation.Page[moderation.Report]](t, rec)
	assert.Equal(t, 1, reports.Total)

	req := NewActorRequest(t, http.MethodGet, "/reports/"+report.ID, "mod-1", nil)
	req.SetPathValue("id", report.ID)
	rec = httptest.NewRecorder()
	h.HandleReportGet(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	detail := decodeBody[moderation.ReportDetail](t, rec)
	assert.Equal(t, report.ID, detail.Report.ID)
	assert.Equal(t, 0, detail.RelatedTotal)

	// reject the content
	req = NewActorRequest(t, http.MethodPut, "/content/article/A1/reject", "mod-1", ActionRequest{Reason: "policy violation"})
	req.SetPathValue("type", "article")
	req.SetPathValue("id", "A1")
	rec = httptest.NewRecorder()
	h.HandleContentAction(moderation.ActionReject)(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	result := decodeBody[moderation.ModerationResult](t, rec)
	assert.Equal(t, moderation.StatusRejected, result.ToStatus)
	assert.Equal(t, 1, result.ResolvedReports)

	// history needs view_audit_log
	req = NewActorRequest(t, http.MethodGet, "/content/article/A1/history", "mod-1", nil)
	req.SetPathValue("type", "article")
	req.SetPathValue("id", "A1")
	rec = httptest.NewRecorder()
	h.HandleContentHistory(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	req = NewActorRequest(t, http.MethodGet, "/content/article/A1/history", "admin-1", nil)
	req.SetPathValue("type", "article")
	req.SetPathValue("id", "A1")
	rec = httptest.NewRecorder()
	h.HandleContentHistory(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	history := decodeBody[struct {
		Entries []moderation.AuditEntry `json:"entries"`
	}](t, rec)
	require.Len(t, history.Entries, 1)
	assert.Equal(t, moderation.AuditActionReject, history.Entries[0].Action)
	assert.Equal(t, "policy violation", history.Entries[0].Reason)

	// approving a rejected item is an invalid transition
	req = NewActorRequest(t, http.MethodPut, "/content/article/A1/approve", "mod-1", nil)
	req.SetPathValue("type", "article")
	req.SetPathValue("id", "A1")
	rec = httptest.NewRecorder()
	h.HandleContentAction(moderation.ActionApprove)(rec, req)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "InvalidStateTransition", decodeBody[ErrorResponse](t, rec).Code)
}

func TestHandleReportCreate_Errors(t *testing.T) {
	tc := NewTestContext(t)
	h := tc.Handler
	tc.AddContent(moderation.ContentTypeTopic, "t1", "Topic")

	tests := []struct {
		name   string
		body   any
		status int
	}{
		{"unknown reason", CreateReportRequest{ReportableType: "topic", ReportableID: "t1", Reason: "boring"}, http.StatusBadRequest},
		{"unknown type", CreateReportRequest{ReportableType: "poll", ReportableID: "t1", Reason: "spam"}, http.StatusBadRequest},
		{"missing content", CreateReportRequest{ReportableType: "topic", ReportableID: "nope", Reason: "spam"}, http.StatusNotFound},
		{"malformed body", "not an object", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			h.HandleReportCreate(rec, NewActorRequest(t, http.MethodPost, "/reports", "reporter-x", tt.body))
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
		})
	}
}

func TestHandleReportCreate_RateLimited(t *testing.T) {
	tc := NewTestContext(t)
	h := tc.Handler
	tc.AddContent(moderation.ContentTypeReply, "r1", "Reply")

	for i := 0; i < 10; i++ {
		rec := httptest.NewRecorder()
		h.HandleReportCreate(rec, NewActorRequest(t, http.MethodPost, "/reports", "U1", CreateReportRequest{ReportableType: "reply", ReportableID: "r1", Reason: "spam"}))
		require.Equal(t, http.StatusCreated, rec.Code, "report %d: %s", i+1, rec.Body.String())
	}

	rec := httptest.NewRecorder()
	h.HandleReportCreate(rec, NewActorRequest(t, http.MethodPost, "/reports", "U1", CreateReportRequest{ReportableType: "reply", ReportableID: "r1", Reason: "spam"}))
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
	assert.Equal(t, "RateLimited", decodeBody[ErrorResponse](t, rec).Code)
}

func TestHandleReportResolve(t *testing.T) {
	tc := NewTestContext(t)
	h := tc.Handler
	ref := tc.AddContent(moderation.ContentTypeJob, "j1", "Job")

	report, err := tc.Engine.FileReport(t.Context(), "U1", ref, moderation.ReasonMisinformation, "")
	require.NoError(t, err)

	resolve := func(actor string, body ResolveReportRequest) *httptest.ResponseRecorder {
		req := NewActorRequest(t, http.MethodPut, "/reports/"+report.ID+"/resolve", actor, body)
		req.SetPathValue("id", report.ID)
		rec := httptest.NewRecorder()
		h.HandleReportResolve(rec, req)
		return rec
	}

	assert.Equal(t, http.StatusBadRequest, resolve("mod-1", ResolveReportRequest{Status: "closed"}).Code)

	rec := resolve("mod-1", ResolveReportRequest{Status: "resolved_no_action", ResolutionNote: "accurate listing"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resolved := decodeBody[moderation.Report](t, rec)
	assert.Equal(t, moderation.ReportStatusResolved, resolved.Status)
	assert.Equal(t, moderation.OutcomeNoAction, resolved.Outcome)
	assert.NotNil(t, resolved.ResolvedAt)

	assert.Equal(t, http.StatusConflict, resolve("mod-1", ResolveReportRequest{Status: "dismissed"}).Code)

	rec = httptest.NewRecorder()
	h.HandleReportStatistics(rec, NewActorRequest(t, http.MethodGet, "/reports/statistics", "mod-1", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	stats := decodeBody[moderation.ReportStats](t, rec)
	assert.Equal(t, 1, stats.Total)
	assert.Equal(t, 1, stats.ByStatus[moderation.ReportStatusResolved])
}

func TestHandleContentBulk(t *testing.T) {
	tc := NewTestContext(t)
	h := tc.Handler
	for _, id := range []string{"T1", "T2", "T3"} {
		tc.AddContent(moderation.ContentTypeTopic, id, "Topic "+id)
	}
	_, err := tc.Engine.Apply(t.Context(), moderation.ModerationAction{
		Content: moderation.ContentRef{Type: moderation.ContentTypeTopic, ID: "T2"},
		Action:  moderation.ActionDelete,
		ActorID: "admin-1",
	})
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	h.HandleContentBulk(rec, NewActorRequest(t, http.MethodPost, "/content/bulk", "mod-1", BulkRequest{
		ContentType: "topic",
		ContentIDs:  []string{"T1", "T2", "T3"},
		Action:      "approve",
	}))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	result := decodeBody[moderation.BulkResult](t, rec)
	assert.Equal(t, 2, result.AffectedCount)
	require.Len(t, result.Failures, 1)
	assert.Equal(t, "T2", result.Failures[0].ID)
	assert.Equal(t, "InvalidStateTransition", result.Failures[0].Code)

	t.Run("mixed types", func(t *testing.T) {
		tc.AddContent(moderation.ContentTypeJob, "j1", "Job")
		rec := httptest.NewRecorder()
		h.HandleContentBulk(rec, NewActorRequest(t, http.MethodPost, "/content/bulk", "mod-1", BulkRequest{
			Items:  []BulkItem{{Type: "job", ID: "j1"}, {Type: "topic", ID: "T1"}},
			Action: "hide",
			Reason: "cleanup",
		}))
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		assert.Equal(t, 2, decodeBody[moderation.BulkResult](t, rec).AffectedCount)
	})

	t.Run("empty batch", func(t *testing.T) {
		rec := httptest.NewRecorder()
		h.HandleContentBulk(rec, NewActorRequest(t, http.MethodPost, "/content/bulk", "mod-1", BulkRequest{ContentType: "topic", Action: "hide"}))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("delete needs permission", func(t *testing.T) {
		rec := httptest.NewRecorder()
		h.HandleContentBulk(rec, NewActorRequest(t, http.MethodPost, "/content/bulk", "mod-1", BulkRequest{ContentType: "topic", ContentIDs: []string{"T1"}, Action: "delete"}))
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})
}

func TestHandleContentGetAndSync(t *testing.T) {
	tc := NewTestContext(t)
	h := tc.Handler
	ref := tc.AddContent(moderation.ContentTypeJob, "j9", "Work from home")
	tc.Scores.Set(ref, 93)

	newReq := func(method, path, actor string) *http.Request {
		req := NewActorRequest(t, method, path, actor, nil)
		req.SetPathValue("type", "job")
		req.SetPathValue("id", "j9")
		return req
	}

	rec := httptest.NewRecorder()
	h.HandleContentGet(rec, newReq(http.MethodGet, "/content/job/j9", "mod-1"))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	h.HandleContentSync(rec, newReq(http.MethodPost, "/content/job/j9/sync", "admin-1"))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = httptest.NewRecorder()
	h.HandleContentGet(rec, newReq(http.MethodGet, "/content/job/j9", "mod-1"))
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody[struct {
		moderation.ContentItem
		SpamBand string `json:"spamBand"`
	}](t, rec)
	assert.Equal(t, "critical", body.SpamBand)
	assert.Equal(t, moderation.StatusFlagged, body.Status)
	assert.Equal(t, "Work from home", body.Title)

	rec = httptest.NewRecorder()
	h.HandleContentResetReports(rec, newReq(http.MethodPut, "/content/job/j9/reset-reports", "admin-1"))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	h.HandleAuditLog(rec, NewActorRequest(t, http.MethodGet, "/audit?limit=5", "admin-1", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	audit := decodeBody[struct {
		Entries []moderation.AuditEntry `json:"entries"`
	}](t, rec)
	require.Len(t, audit.Entries, 1)
	assert.Equal(t, moderation.AuditActionFlag, audit.Entries[0].Action)
	assert.True(t, audit.Entries[0].AutoMod)
}

func TestHandleQueue_SpamBand(t *testing.T) {
	tc := NewTestContext(t)
	ctx := context.Background()
	for id, score := range map[string]int{"j1": 93, "j2": 45} {
		ref := tc.AddContent(moderation.ContentTypeJob, id, "Job "+id)
		tc.Scores.Set(ref, score)
		_, err := tc.Engine.FileReport(ctx, "U1", ref, moderation.ReasonSpam, "")
		require.NoError(t, err)
	}

	rec := httptest.NewRecorder()
	tc.Handler.HandleQueue(rec, NewActorRequest(t, http.MethodGet, queuePath(t, queueParams{SortBy: "highest_spam", SortOrder: "desc"}), "mod-1", nil))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	page := decodeBody[moderation.Page[ContentResponse]](t, rec)
	require.Len(t, page.Items, 2)
	assert.Equal(t, "j1", page.Items[0].ID)
	assert.Equal(t, spamscore.BandCritical, page.Items[0].SpamBand)
	assert.Equal(t, moderation.StatusFlagged, page.Items[0].Status)
	assert.Equal(t, "j2", page.Items[1].ID)
	assert.Equal(t, spamscore.BandMedium, page.Items[1].SpamBand)
}

func TestHandleQueue_BadParams(t *testing.T) {
	tc := NewTestContext(t)

	for _, path := range []string{
		queuePath(t, queueParams{Tab: "archived"}),
		queuePath(t, queueParams{SortBy: "votes"}),
		"/content?page=two",
		"/content?limit=x",
	} {
		rec := httptest.NewRecorder()
		tc.Handler.HandleQueue(rec, NewActorRequest(t, http.MethodGet, path, "mod-1", nil))
		assert.Equal(t, http.StatusBadRequest, rec.Code, path)
	}

	rec := httptest.NewRecorder()
	tc.Handler.HandleQueue(rec, NewActorRequest(t, http.MethodGet, "/content", "stranger", nil))
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestHandleEvents_Disabled(t *testing.T) {
	tc := NewTestContext(t)
	rec := httptest.NewRecorder()
	tc.Handler.HandleEvents(rec, httptest.NewRequest(http.MethodGet, "/events", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleHealthz(t *testing.T) {
	tc := NewTestContext(t)
	rec := httptest.NewRecorder()
	tc.Handler.HandleHealthz(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)
}

func TestHandleMe(t *testing.T) {
	tc := NewTestContext(t)

	tests := []struct {
		actor     string
		moderator bool
		admin     bool
		role      moderation.RoleName
		perms     int
	}{
		{"admin-1", true, true, moderation.RoleAdmin, len(moderation.AllPermissions())},
		{"mod-1", true, false, moderation.RoleModerator, 4},
		{"reporter-7", false, false, "", 0},
	}
	for _, tt := range tests {
		t.Run(tt.actor, func(t *testing.T) {
			rec := httptest.NewRecorder()
			tc.Handler.HandleMe(rec, NewActorRequest(t, http.MethodGet, "/me", tt.actor, nil))
			require.Equal(t, http.StatusOK, rec.Code)

			me := decodeBody[MeResponse](t, rec)
			assert.Equal(t, tt.actor, me.ActorID)
			assert.Equal(t, tt.moderator, me.Moderator)
			assert.Equal(t, tt.admin, me.Admin)
			assert.Equal(t, tt.role, me.Role)
			assert.NotNil(t, me.Permissions)
			assert.Len(t, me.Permissions, tt.perms)
		})
	}

	rec := httptest.NewRecorder()
	tc.Handler.HandleMe(rec, NewActorRequest(t, http.MethodGet, "/me", "admin-1", nil))
	assert.Equal(t, "alice", decodeBody[MeResponse](t, rec).Handle)
}
