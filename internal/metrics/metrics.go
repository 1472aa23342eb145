package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTP metrics
var (
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "forumguard_http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "forumguard_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
	}, []string{"method", "path"})
)

// Engine event counters (incremented on occurrence)
var (
	ReportsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "forumguard_reports_total",
		Help: "Total number of user reports submitted",
	}, []string{"reason", "content_type"})

	ReportsResolvedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "forumguard_reports_resolved_total",
		Help: "Total number of reports closed, by resulting status",
	}, []string{"status"})

	ModerationActionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "forumguard_moderation_actions_total",
		Help: "Total number of moderation actions by outcome (changed, unchanged, failed)",
	}, []string{"action", "outcome"})

	BulkActionItems = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "forumguard_bulk_action_items",
		Help:    "Number of distinct items per bulk moderation call",
		Buckets: []float64{1, 5, 10, 25, 50, 100},
	})

	AutoFlagsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "forumguard_auto_flags_total",
		Help: "Total number of items flagged automatically, by trigger",
	}, []string{"trigger"})

	RateLimitRejectionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "forumguard_rate_limit_rejections_total",
		Help: "Total number of calls rejected by a rate limit policy",
	}, []string{"policy"})

	AuditWriteRetriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "forumguard_audit_write_retries_total",
		Help: "Total number of retried audit log writes",
	})

	AuditWriteFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "forumguard_audit_write_failures_total",
		Help: "Total number of audit log writes that failed after all retries",
	})

	SpamScoreCacheHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "forumguard_spam_score_cache_hits_total",
		Help: "Total number of spam score cache hits",
	})

	SpamScoreCacheMissesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "forumguard_spam_score_cache_misses_total",
		Help: "Total number of spam score cache misses",
	})

	WebhookDeliveriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "forumguard_webhook_deliveries_total",
		Help: "Total number of webhook deliveries by result",
	}, []string{"result"})

	EventSubscribers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "forumguard_event_subscribers",
		Help: "Number of connected live event feed subscribers",
	})
)

// Queue gauges (updated periodically by collector)
var (
	ReportsByStatus = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "forumguard_reports_by_status",
		Help: "Number of stored reports by status",
	}, []string{"status"})

	ContentByStatus = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "forumguard_content_by_status",
		Help: "Number of tracked content items by type and moderation status",
	}, []string{"content_type", "status"})
)

// NormalizePath reduces high-cardinality path labels by replacing dynamic
// segments with placeholders. This keeps the metric label space bounded.
func NormalizePath(path string) string {
	segments := splitPath(path)
	if len(segments) < 2 {
		return path
	}

	switch segments[0] {
	case "reports":
		if len(segments) == 2 {
			if segments[1] == "statistics" {
				return path
			}
			return "/reports/:id"
		}
		if len(segments) == 3 && segments[2] == "resolve" {
			return "/reports/:id/resolve"
		}
	case "content":
		kind := segments[1]
		if !contentTypes[kind] {
			kind = ":type"
		}
		switch len(segments) {
		case 2:
			if segments[1] == "bulk" {
				return path
			}
			return "/content/" + kind
		case 3:
			return "/content/" + kind + "/:id"
		case 4:
			switch segments[3] {
			case "approve", "reject", "hide", "history", "sync", "reset-reports":
				return "/content/" + kind + "/:id/" + segments[3]
			}
			return "/content/" + kind + "/:id/*"
		}
	}

	return path
}

// contentTypes bounds the type segment of /content routes
var contentTypes = map[string]bool{"article": true, "topic": true, "reply": true, "job": true}

func splitPath(path string) []string {
	// Skip leading slash
	if len(path) > 0 && path[0] == '/' {
		path = path[1:]
	}
	// Split on /
	var segments []string
	start := 0
	for i := 0; i < len(path); i++ {
		if path[i] == '/' {
			if i > start {
				segments = append(segments, path[start:i])
			}
			start = i + 1
		}
	}
	if start < len(path) {
		segments = append(segments, path[start:])
	}
	return segments
}
