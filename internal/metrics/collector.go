package metrics

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// StatsSource provides functions to retrieve current counts for gauge metrics.
// A nil function is skipped.
type StatsSource struct {
	ReportCountByStatus  func(ctx context.Context) (map[string]int, error)
	ContentCountByStatus func(ctx context.Context) (map[string]map[string]int, error)
}

// StartCollector launches a goroutine that periodically updates gauge metrics.
// It runs every interval until the context is cancelled.
func StartCollector(ctx context.Context, src StatsSource, interval time.Duration) {
	// Do an initial collection immediately
	collect(ctx, src)

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				collect(ctx, src)
			}
		}
	}()

	log.Info().Dur("interval", interval).Msg("Metrics collector started")
}

func collect(ctx context.Context, src StatsSource) {
	if src.ReportCountByStatus != nil {
		counts, err := src.ReportCountByStatus(ctx)
		if err != nil {
			log.Warn().Err(err).Msg("metrics: failed to collect report counts")
		} else {
			for status, n := range counts {
				ReportsByStatus.WithLabelValues(status).Set(float64(n))
			}
		}
	}
	if src.ContentCountByStatus != nil {
		counts, err := src.ContentCountByStatus(ctx)
		if err != nil {
			log.Warn().Err(err).Msg("metrics: failed to collect content counts")
		} else {
			for contentType, byStatus := range counts {
				for status, n := range byStatus {
					ContentByStatus.WithLabelValues(contentType, status).Set(float64(n))
				}
			}
		}
	}
}
