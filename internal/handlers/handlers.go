// Package handlers exposes the moderation engine over HTTP with JSON bodies.
package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"
	"time"

	"forumguard/internal/middleware"
	"forumguard/internal/moderation"

	"github.com/rs/zerolog/log"
)

// Handler contains all HTTP handler methods and their dependencies.
type Handler struct {
	engine *moderation.Engine

	// events serves the live event feed (optional)
	events http.Handler

	// roster answers GET /me (optional)
	roster Roster
}

// Roster resolves an actor to its moderator grant. *moderation.Service implements it.
type Roster interface {
	Lookup(actorID string) (moderation.Grant, bool)
}

// NewHandler creates a new Handler for engine
func NewHandler(engine *moderation.Engine) *Handler {
	return &Handler{engine: engine}
}

// SetEventFeed configures the handler that serves GET /events
func (h *Handler) SetEventFeed(feed http.Handler) {
	h.events = feed
}

// SetRoster configures the moderator roster behind GET /me
func (h *Handler) SetRoster(r Roster) {
	h.roster = r
}

// ErrorResponse is the body of every failed request
type ErrorResponse struct {
	Status  string `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// writeJSON encodes and writes a JSON response
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("Failed to encode response")
	}
}

// statusFor maps an engine error code to an HTTP status
func statusFor(code string) int {
	switch code {
	case "ValidationFailed":
		return http.StatusBadRequest
	case "RateLimited":
		return http.StatusTooManyRequests
	case "ContentNotFound", "ReportNotFound":
		return http.StatusNotFound
	case "InvalidStateTransition", "Conflict":
		return http.StatusConflict
	case "Unauthorized":
		return http.StatusForbidden
	default:
		return http.StatusServiceUnavailable
	}
}

// writeError writes the JSON error envelope for an engine error
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := moderation.ErrorCode(err)
	status := statusFor(code)

	var rl *moderation.RateLimitError
	if errors.As(err, &rl) {
		secs := int(math.Ceil(rl.RetryAfter.Seconds()))
		w.Header().Set("Retry-After", strconv.Itoa(max(secs, 1)))
	}

	if status >= 500 {
		log.Error().Err(err).Str("path", r.URL.Path).Str("code", code).Msg("Request failed")
	}

	writeJSON(w, status, ErrorResponse{Status: "error", Code: code, Message: err.Error()})
}

func badRequest(w http.ResponseWriter, r *http.Request, format string, args ...any) {
	writeError(w, r, fmt.Errorf("%w: %s", moderation.ErrValidation, fmt.Sprintf(format, args...)))
}

// decodeJSON reads an optional JSON body into v. An empty body leaves v untouched.
func decodeJSON(r *http.Request, v any) error {
	if r.Body == nil {
		return nil
	}
	err := json.NewDecoder(r.Body).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return fmt.Errorf("request body exceeds %d bytes", maxErr.Limit)
		}
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	return nil
}

// queryInt parses an optional integer query parameter
func queryInt(r *http.Request, name string) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer", name)
	}
	return n, nil
}

// pathRef builds a content ref from the {type} and {id} path values
func pathRef(r *http.Request) moderation.ContentRef {
	return moderation.ContentRef{
		Type: moderation.ContentType(r.PathValue("type")),
		ID:   r.PathValue("id"),
	}
}

func actor(r *http.Request) string {
	return middleware.ActorFromContext(r.Context())
}

// HandleHealthz reports liveness
func (h *Handler) HandleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

// HandleEvents upgrades to the live event feed
func (h *Handler) HandleEvents(w http.ResponseWriter, r *http.Request) {
	if h.events == nil {
		writeJSON(w, http.StatusNotFound, ErrorResponse{Status: "error", Code: "NotFound", Message: "event feed is not enabled"})
		return
	}
	h.events.ServeHTTP(w, r)
}

// MeResponse describes the calling actor's moderation capabilities
type MeResponse struct {
	ActorID     string                  `json:"actorId"`
	Moderator   bool                    `json:"moderator"`
	Admin       bool                    `json:"admin"`
	Role        moderation.RoleName     `json:"role,omitempty"`
	Handle      string                  `json:"handle,omitempty"`
	Permissions []moderation.Permission `json:"permissions"`
}

// HandleMe returns the caller's role and permissions so clients can decide
// which moderation controls to show. Non-moderators get an empty permission set.
func (h *Handler) HandleMe(w http.ResponseWriter, r *http.Request) {
	resp := MeResponse{ActorID: actor(r), Permissions: []moderation.Permission{}}
	if h.roster != nil {
		if g, ok := h.roster.Lookup(resp.ActorID); ok {
			resp.Moderator = true
			resp.Admin = g.Admin()
			resp.Role = g.Role
			resp.Handle = g.Actor.Handle
			resp.Permissions = g.Permissions
		}
	}
	writeJSON(w, http.StatusOK, resp)
}
