package sqlitestore

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"forumguard/internal/moderation"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestStore(t *testing.T) *ModerationStore {
	db, err := Open(context.Background(), filepath.Join(t.TempDir(), "moderation.db"))
	require.NoError(t, err)

	store := NewModerationStore(db)
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

func seed(t *testing.T, store *ModerationStore, ref moderation.ContentRef) {
	t.Helper()
	_, err := store.UpsertContent(context.Background(), moderation.ContentItem{
		Type:      ref.Type,
		ID:        ref.ID,
		Title:     "Hiring Go engineers",
		Excerpt:   "remote friendly",
		AuthorID:  "author-9",
		CreatedAt: time.Date(2026, 2, 3, 4, 5, 6, 7, time.UTC),
	})
	require.NoError(t, err)
}

func TestContent(t *testing.T) {
	ctx := context.Background()
	store := setupTestStore(t)
	ref := moderation.ContentRef{Type: moderation.ContentTypeJob, ID: "j1"}
	seed(t, store, ref)

	got, err := store.GetContent(ctx, ref)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, moderation.StatusPending, got.Status)
	assert.Equal(t, "remote friendly", got.Excerpt)
	assert.Equal(t, time.Date(2026, 2, 3, 4, 5, 6, 7, time.UTC), got.CreatedAt)
	assert.Nil(t, got.SpamScore)

	t.Run("refresh keeps status, count and createdAt", func(t *testing.T) {
		_, err := store.CompareAndSetStatus(ctx, ref, moderation.StatusPending, moderation.StatusFlagged)
		require.NoError(t, err)
		require.NoError(t, store.SetSpamScore(ctx, ref, 91))

		updated, err := store.UpsertContent(ctx, moderation.ContentItem{Type: ref.Type, ID: ref.ID, Title: "Edited"})
		require.NoError(t, err)
		assert.Equal(t, "Edited", updated.Title)
		assert.Equal(t, moderation.StatusFlagged, updated.Status)
		assert.Equal(t, got.CreatedAt, updated.CreatedAt)
		require.NotNil(t, updated.SpamScore)
		assert.Equal(t, 91, *updated.SpamScore)
	})

	t.Run("compare and set", func(t *testing.T) {
		_, err := store.CompareAndSetStatus(ctx, ref, moderation.StatusPending, moderation.StatusApproved)
		assert.ErrorIs(t, err, moderation.ErrConflict)

		_, err = store.CompareAndSetStatus(ctx, moderation.ContentRef{Type: moderation.ContentTypeJob, ID: "nope"}, moderation.StatusPending, moderation.StatusApproved)
		assert.ErrorIs(t, err, moderation.ErrContentNotFound)
	})

	t.Run("list", func(t *testing.T) {
		seed(t, store, moderation.ContentRef{Type: moderation.ContentTypeArticle, ID: "a1"})

		jobs, err := store.ListContent(ctx, moderation.ContentTypeJob)
		require.NoError(t, err)
		assert.Len(t, jobs, 1)

		all, err := store.ListContent(ctx, "")
		require.NoError(t, err)
		assert.Len(t, all, 2)
	})

	t.Run("missing", func(t *testing.T) {
		got, err := store.GetContent(ctx, moderation.ContentRef{Type: moderation.ContentTypeJob, ID: "nope"})
		require.NoError(t, err)
		assert.Nil(t, got)
		assert.ErrorIs(t, store.ResetReportCount(ctx, moderation.ContentRef{Type: moderation.ContentTypeJob, ID: "nope"}), moderation.ErrContentNotFound)
	})
}

func TestReports(t *testing.T) {
	ctx := context.Background()
	store := setupTestStore(t)
	ref := moderation.ContentRef{Type: moderation.ContentTypeTopic, ID: "t1"}
	seed(t, store, ref)

	for i, reporter := range []string{"u1", "u2", "u1"} {
		n, err := store.CreateReport(ctx, moderation.Report{
			ID:         fmt.Sprintf("r%d", i+1),
			Content:    ref,
			ReporterID: reporter,
			Reason:     moderation.ReasonOffTopic,
			Status:     moderation.ReportStatusPending,
			CreatedAt:  time.Now(),
		})
		require.NoError(t, err)
		assert.Equal(t, i+1, n)
	}

	_, err := store.CreateReport(ctx, moderation.Report{ID: "orphan", Content: moderation.ContentRef{Type: moderation.ContentTypeTopic, ID: "ghost"}, Status: moderation.ReportStatusPending})
	assert.ErrorIs(t, err, moderation.ErrContentNotFound)
	orphan, err := store.GetReport(ctx, "orphan")
	require.NoError(t, err)
	assert.Nil(t, orphan)

	item, err := store.GetContent(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, 3, item.ReportCount)
	assert.Equal(t, moderation.ReasonOffTopic, item.LastReportReason)

	byU1, err := store.ListReportsByReporter(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, byU1, 2)

	n, err := store.CountReportsFromUserSince(ctx, "u1", time.Now().Add(-time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	resolved, err := store.ResolveReport(ctx, "r2", moderation.Resolution{
		Status:     moderation.ReportStatusResolved,
		Outcome:    moderation.OutcomeNoAction,
		ResolvedBy: "mod-1",
		Note:       "fine",
		ResolvedAt: time.Now(),
	})
	require.NoError(t, err)
	assert.Equal(t, moderation.OutcomeNoAction, resolved.Outcome)
	require.NotNil(t, resolved.ResolvedAt)

	_, err = store.ResolveReport(ctx, "r2", moderation.Resolution{Status: moderation.ReportStatusDismissed, ResolvedAt: time.Now()})
	assert.ErrorIs(t, err, moderation.ErrInvalidStateTransition)
	_, err = store.ResolveReport(ctx, "missing", moderation.Resolution{Status: moderation.ReportStatusDismissed, ResolvedAt: time.Now()})
	assert.ErrorIs(t, err, moderation.ErrReportNotFound)

	count, err := store.ResolvePendingReports(ctx, ref, moderation.Resolution{
		Status:     moderation.ReportStatusResolved,
		Outcome:    moderation.OutcomeViolation,
		ResolvedBy: "mod-2",
		Note:       "policy violation",
		ResolvedAt: time.Now(),
	})
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	reports, err := store.ListReportsForContent(ctx, ref)
	require.NoError(t, err)
	require.Len(t, reports, 3)
	for _, r := range reports {
		assert.Equal(t, moderation.ReportStatusResolved, r.Status)
		assert.NotNil(t, r.ResolvedAt)
	}

	stats, err := store.ReportStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Total)
	assert.Equal(t, 3, stats.ByStatus[moderation.ReportStatusResolved])
	assert.Equal(t, 3, stats.ByReason[moderation.ReasonOffTopic])
	assert.Equal(t, 0, stats.ByReason[moderation.ReasonSpam])
	assert.Equal(t, 3, stats.ByContentType[moderation.ContentTypeTopic])
}

func TestCreateReport_ConcurrentCount(t *testing.T) {
	ctx := context.Background()
	store := setupTestStore(t)
	ref := moderation.ContentRef{Type: moderation.ContentTypeReply, ID: "hot"}
	seed(t, store, ref)

	const n = 20
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := store.CreateReport(ctx, moderation.Report{
				ID:         fmt.Sprintf("c%02d", i),
				Content:    ref,
				ReporterID: fmt.Sprintf("u%d", i),
				Reason:     moderation.ReasonSpam,
				Status:     moderation.ReportStatusPending,
				CreatedAt:  time.Now(),
			})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	item, err := store.GetContent(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, n, item.ReportCount)
}

func TestAuditLog(t *testing.T) {
	ctx := context.Background()
	store := setupTestStore(t)
	ref := moderation.ContentRef{Type: moderation.ContentTypeArticle, ID: "a1"}
	other := moderation.ContentRef{Type: moderation.ContentTypeArticle, ID: "a2"}
	ts := time.Now()

	require.NoError(t, store.Record(ctx, moderation.AuditEntry{ID: "e1", Content: ref, Action: moderation.AuditActionFlag, ActorID: moderation.AutoModActor, AutoMod: true, FromStatus: moderation.StatusPending, ToStatus: moderation.StatusFlagged, Timestamp: ts}))
	require.NoError(t, store.Record(ctx, moderation.AuditEntry{ID: "e2", Content: other, Action: moderation.AuditActionApprove, ActorID: "mod-1", Timestamp: ts}))
	require.NoError(t, store.Record(ctx, moderation.AuditEntry{ID: "e3", Content: ref, Action: moderation.AuditActionDelete, ActorID: "mod-1", Reason: "spam", Timestamp: ts}))

	history, err := store.History(ctx, ref)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "e1", history[0].ID)
	assert.True(t, history[0].AutoMod)
	assert.Equal(t, moderation.StatusFlagged, history[0].ToStatus)
	assert.Equal(t, "e3", history[1].ID)

	recent, err := store.ListAuditLog(ctx, 10)
	require.NoError(t, err)
	require.Len(t, recent, 3)
	assert.Equal(t, "e3", recent[0].ID)
	assert.Equal(t, "e1", recent[2].ID)

	// ids are unique
	assert.Error(t, store.Record(ctx, moderation.AuditEntry{ID: "e1", Content: ref, Action: moderation.AuditActionFlag, ActorID: "x", Timestamp: ts}))
}
