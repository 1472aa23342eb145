package metrics

import (
	"context"
	"errors"
	"testing"

	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizePath(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		// Exact routes (no normalization needed)
		{"/", "/"},
		{"/healthz", "/healthz"},
		{"/metrics", "/metrics"},
		{"/reports", "/reports"},
		{"/content", "/content"},
		{"/audit", "/audit"},
		{"/events", "/events"},

		// Reports
		{"/reports/statistics", "/reports/statistics"},
		{"/reports/3lbcxyz2abc22", "/reports/:id"},
		{"/reports/3lbcxyz2abc22/resolve", "/reports/:id/resolve"},

		// Content
		{"/content/bulk", "/content/bulk"},
		{"/content/article/a1", "/content/article/:id"},
		{"/content/topic/t1/approve", "/content/topic/:id/approve"},
		{"/content/reply/r9/reject", "/content/reply/:id/reject"},
		{"/content/job/j2/hide", "/content/job/:id/hide"},
		{"/content/article/a1/history", "/content/article/:id/history"},
		{"/content/article/a1/sync", "/content/article/:id/sync"},
		{"/content/article/a1/reset-reports", "/content/article/:id/reset-reports"},
		{"/content/article/a1/unknown", "/content/article/:id/*"},

		// Unknown content types must not blow up label cardinality
		{"/content/podcast/p1", "/content/:type/:id"},
		{"/content/podcast", "/content/:type"},
		{"/content/whatever/p1/approve", "/content/:type/:id/approve"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, NormalizePath(tt.input))
		})
	}
}

func gaugeValue(t *testing.T, g interface{ Write(*dto.Metric) error }) float64 {
	t.Helper()
	var m dto.Metric
	require.NoError(t, g.Write(&m))
	return m.GetGauge().GetValue()
}

func TestCollect(t *testing.T) {
	collect(context.Background(), StatsSource{
		ReportCountByStatus: func(context.Context) (map[string]int, error) {
			return map[string]int{"pending": 4, "resolved": 2}, nil
		},
		ContentCountByStatus: func(context.Context) (map[string]map[string]int, error) {
			return map[string]map[string]int{"article": {"flagged": 3}}, nil
		},
	})

	assert.Equal(t, 4.0, gaugeValue(t, ReportsByStatus.WithLabelValues("pending")))
	assert.Equal(t, 2.0, gaugeValue(t, ReportsByStatus.WithLabelValues("resolved")))
	assert.Equal(t, 3.0, gaugeValue(t, ContentByStatus.WithLabelValues("article", "flagged")))
}

func TestCollect_SourceErrorKeepsPreviousValue(t *testing.T) {
	ReportsByStatus.WithLabelValues("dismissed").Set(7)

	collect(context.Background(), StatsSource{
		ReportCountByStatus: func(context.Context) (map[string]int, error) {
			return nil, errors.New("store closed")
		},
	})

	assert.Equal(t, 7.0, gaugeValue(t, ReportsByStatus.WithLabelValues("dismissed")))
}
