package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"forumguard/internal/database/boltstore"
	"forumguard/internal/middleware"
	"forumguard/internal/moderation"
	"forumguard/internal/ratelimit"
	"forumguard/internal/spamscore"

	"github.com/stretchr/testify/require"
)

// staticSource serves content items from memory
type staticSource struct {
	mu    sync.Mutex
	items map[moderation.ContentRef]moderation.ContentItem
}

func (s *staticSource) LookupContent(_ context.Context, ref moderation.ContentRef) (*moderation.ContentItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.items[ref]
	if !ok {
		return nil, nil
	}
	return &item, nil
}

// TestContext contains test dependencies
type TestContext struct {
	Handler *Handler
	Engine  *moderation.Engine
	Source  *staticSource
	Scores  *spamscore.StaticProvider
}

// NewTestContext creates a handler over a real engine with a temporary bolt store
func NewTestContext(t *testing.T) *TestContext {
	t.Helper()

	db, err := boltstore.Open(boltstore.Options{Path: filepath.Join(t.TempDir(), "test.db")})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	auth, err := moderation.NewServiceFromConfig(moderation.Config{
		Roles: map[moderation.RoleName]*moderation.Role{
			moderation.RoleAdmin: {Permissions: moderation.AllPermissions()},
			moderation.RoleModerator: {Permissions: []moderation.Permission{
				moderation.PermissionViewQueue,
				moderation.PermissionModerate,
				moderation.PermissionViewReports,
				moderation.PermissionResolveReport,
			}},
		},
		Users: []moderation.ModeratorUser{
			{ID: "admin-1", Handle: "alice", Role: moderation.RoleAdmin},
			{ID: "mod-1", Role: moderation.RoleModerator},
		},
	})
	require.NoError(t, err)

	engine := moderation.NewEngine(db.ModerationStore(), auth, ratelimit.New(ratelimit.NewMemoryStore()), moderation.Options{
		AuditRetryInterval: time.Millisecond,
	})
	source := &staticSource{items: make(map[moderation.ContentRef]moderation.ContentItem)}
	scores := spamscore.NewStaticProvider()
	engine.SetContentSource(source)
	engine.SetScoreProvider(scores)

	h := NewHandler(engine)
	h.SetRoster(auth)

	return &TestContext{
		Handler: h,
		Engine:  engine,
		Source:  source,
		Scores:  scores,
	}
}

// AddContent makes an item known to the external content store
func (tc *TestContext) AddContent(contentType moderation.ContentType, id, title string) moderation.ContentRef {
	ref := moderation.ContentRef{Type: contentType, ID: id}
	tc.Source.mu.Lock()
	defer tc.Source.mu.Unlock()
	tc.Source.items[ref] = moderation.ContentItem{
		Type:      contentType,
		ID:        id,
		Title:     title,
		AuthorID:  "author-" + id,
		CreatedAt: time.Now().Add(-time.Hour),
	}
	return ref
}

// NewActorRequest creates a request carrying actor in its context, with body encoded as JSON
func NewActorRequest(t *testing.T, method, path, actor string, body any) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if actor != "" {
		req = req.WithContext(middleware.WithActor(req.Context(), actor))
	}
	return req
}

// decodeBody decodes a recorded JSON response into a value of type T
func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}
