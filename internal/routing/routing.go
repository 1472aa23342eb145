// Package routing wires HTTP routes and middleware for the moderation API.
package routing

import (
	"net/http"
	"time"

	"forumguard/internal/handlers"
	"forumguard/internal/metrics"
	"forumguard/internal/middleware"
	"forumguard/internal/moderation"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Config holds the configuration needed for setting up routes
type Config struct {
	Handlers *handlers.Handler
	Logger   zerolog.Logger

	// RequestTimeout bounds the context of API requests. Zero disables it.
	RequestTimeout time.Duration
}

// SetupRouter creates and configures the HTTP router with all routes and middleware
func SetupRouter(cfg Config) http.Handler {
	h := cfg.Handlers
	mux := http.NewServeMux()

	// api wraps a moderation endpoint: the caller must identify itself and the
	// request context carries a deadline.
	timeout := middleware.TimeoutMiddleware(cfg.RequestTimeout)
	api := func(fn http.HandlerFunc) http.Handler {
		return middleware.RequireActor(timeout(fn))
	}

	// Public routes
	mux.HandleFunc("GET /healthz", h.HandleHealthz)
	mux.Handle("GET /metrics", promhttp.Handler())

	// Caller capabilities
	mux.Handle("GET /me", api(h.HandleMe))

	// Reports
	mux.Handle("POST /reports", api(h.HandleReportCreate))
	mux.Handle("GET /reports", api(h.HandleReportList))
	mux.Handle("GET /reports/statistics", api(h.HandleReportStatistics))
	mux.Handle("GET /reports/{id}", api(h.HandleReportGet))
	mux.Handle("PUT /reports/{id}/resolve", api(h.HandleReportResolve))

	// Moderation queue and content actions
	mux.Handle("GET /content", api(h.HandleQueue))
	mux.Handle("POST /content/bulk", api(h.HandleContentBulk))
	mux.Handle("GET /content/{type}/{id}", api(h.HandleContentGet))
	mux.Handle("PUT /content/{type}/{id}/approve", api(h.HandleContentAction(moderation.ActionApprove)))
	mux.Handle("PUT /content/{type}/{id}/reject", api(h.HandleContentAction(moderation.ActionReject)))
	mux.Handle("PUT /content/{type}/{id}/hide", api(h.HandleContentAction(moderation.ActionHide)))
	mux.Handle("DELETE /content/{type}/{id}", api(h.HandleContentAction(moderation.ActionDelete)))
	mux.Handle("GET /content/{type}/{id}/history", api(h.HandleContentHistory))
	mux.Handle("POST /content/{type}/{id}/sync", api(h.HandleContentSync))
	mux.Handle("PUT /content/{type}/{id}/reset-reports", api(h.HandleContentResetReports))

	// Audit log
	mux.Handle("GET /audit", api(h.HandleAuditLog))

	// Live event feed. Long lived, so no request deadline.
	mux.Handle("GET /events", middleware.RequireActor(http.HandlerFunc(h.HandleEvents)))

	// Apply middleware in order (outermost first, innermost last)
	var handler http.Handler = mux

	// 1. Limit request body size (innermost - runs first on request)
	handler = middleware.LimitBodyMiddleware(handler)

	// 2. Apply logging middleware
	handler = middleware.LoggingMiddleware(cfg.Logger)(handler)

	// 3. Trace every request (outermost)
	handler = otelhttp.NewHandler(handler, "forumguard",
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + metrics.NormalizePath(r.URL.Path)
		}),
	)

	return handler
}
