package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"forumguard/internal/database/boltstore"
	"forumguard/internal/database/sqlitestore"
	"forumguard/internal/handlers"
	"forumguard/internal/metrics"
	"forumguard/internal/moderation"
	"forumguard/internal/notify"
	"forumguard/internal/ratelimit"
	"forumguard/internal/routing"
	"forumguard/internal/spamscore"
	"forumguard/internal/tracing"
	"forumguard/internal/upstream"

	"github.com/rs/zerolog/log"
	cli "github.com/urfave/cli/v2"
)

// webhookDrainTimeout bounds how long shutdown waits for queued webhook deliveries
const webhookDrainTimeout = 30 * time.Second

var serveCmd = &cli.Command{
	Name:  "serve",
	Usage: "run the moderation API",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:    "listen",
			Usage:   "address for the HTTP API",
			Value:   ":18920",
			EnvVars: []string{"FORUMGUARD_LISTEN"},
		},
		&cli.StringFlag{
			Name:    "store",
			Usage:   "storage backend: bolt or sqlite",
			Value:   "bolt",
			EnvVars: []string{"FORUMGUARD_STORE"},
		},
		&cli.StringFlag{
			Name:    "db-path",
			Usage:   "path of the database file",
			Value:   "data/forumguard.db",
			EnvVars: []string{"FORUMGUARD_DB_PATH"},
		},
		&cli.StringFlag{
			Name:    "moderators-config",
			Usage:   "JSON file with moderation roles and users",
			EnvVars: []string{"FORUMGUARD_MODERATORS_CONFIG"},
		},
		&cli.StringFlag{
			Name:    "redis-url",
			Usage:   "redis URL for shared rate-limit counters; in-memory when empty",
			EnvVars: []string{"REDIS_URL"},
		},
		&cli.IntFlag{
			Name:    "report-limit",
			Usage:   "reports a user may file per report window",
			Value:   moderation.DefaultReportPolicy().MaxRequests,
			EnvVars: []string{"FORUMGUARD_REPORT_LIMIT"},
		},
		&cli.DurationFlag{
			Name:    "report-window",
			Value:   moderation.DefaultReportPolicy().Window,
			EnvVars: []string{"FORUMGUARD_REPORT_WINDOW"},
		},
		&cli.IntFlag{
			Name:    "action-limit",
			Usage:   "mutating calls a moderator may make per action window",
			Value:   moderation.DefaultActionPolicy().MaxRequests,
			EnvVars: []string{"FORUMGUARD_ACTION_LIMIT"},
		},
		&cli.DurationFlag{
			Name:    "action-window",
			Value:   moderation.DefaultActionPolicy().Window,
			EnvVars: []string{"FORUMGUARD_ACTION_WINDOW"},
		},
		&cli.IntFlag{
			Name:    "flag-threshold",
			Usage:   "spam score above which content is auto-flagged",
			Value:   moderation.DefaultFlagThreshold,
			EnvVars: []string{"FORUMGUARD_FLAG_THRESHOLD"},
		},
		&cli.IntFlag{
			Name:    "report-flag-threshold",
			Usage:   "report count at which content is auto-flagged; negative disables",
			Value:   moderation.DefaultReportFlagThreshold,
			EnvVars: []string{"FORUMGUARD_REPORT_FLAG_THRESHOLD"},
		},
		&cli.IntFlag{
			Name:    "bulk-concurrency",
			Value:   moderation.DefaultBulkConcurrency,
			EnvVars: []string{"FORUMGUARD_BULK_CONCURRENCY"},
		},
		&cli.UintFlag{
			Name:    "audit-retry-attempts",
			Value:   moderation.DefaultAuditRetryAttempts,
			EnvVars: []string{"FORUMGUARD_AUDIT_RETRY_ATTEMPTS"},
		},
		&cli.DurationFlag{
			Name:    "request-timeout",
			Value:   10 * time.Second,
			EnvVars: []string{"FORUMGUARD_REQUEST_TIMEOUT"},
		},
		&cli.StringFlag{
			Name:    "content-url",
			Usage:   "base URL of the content service",
			EnvVars: []string{"FORUMGUARD_CONTENT_URL"},
		},
		&cli.StringFlag{
			Name:    "classifier-url",
			Usage:   "base URL of the spam classifier",
			EnvVars: []string{"FORUMGUARD_CLASSIFIER_URL"},
		},
		&cli.DurationFlag{
			Name:    "score-cache-ttl",
			Value:   5 * time.Minute,
			EnvVars: []string{"FORUMGUARD_SCORE_CACHE_TTL"},
		},
		&cli.IntFlag{
			Name:    "upstream-retries",
			Value:   3,
			EnvVars: []string{"FORUMGUARD_UPSTREAM_RETRIES"},
		},
		&cli.StringFlag{
			Name:    "webhook-url",
			Usage:   "URL receiving moderation events as JSON",
			EnvVars: []string{"FORUMGUARD_WEBHOOK_URL"},
		},
		&cli.StringFlag{
			Name:    "webhook-token",
			EnvVars: []string{"FORUMGUARD_WEBHOOK_TOKEN"},
		},
		&cli.BoolFlag{
			Name:    "events",
			Usage:   "serve the live websocket event feed",
			Value:   true,
			EnvVars: []string{"FORUMGUARD_EVENTS"},
		},
		&cli.DurationFlag{
			Name:    "metrics-interval",
			Value:   30 * time.Second,
			EnvVars: []string{"FORUMGUARD_METRICS_INTERVAL"},
		},
		&cli.StringFlag{
			Name:    "otlp-endpoint",
			Usage:   "OTLP HTTP endpoint; tracing is disabled when empty",
			EnvVars: []string{"OTEL_EXPORTER_OTLP_ENDPOINT"},
		},
	},
	Action: runServe,
}

// openStore opens the configured moderation store
func openStore(ctx context.Context, backend, path string) (moderation.Store, io.Closer, error) {
	switch backend {
	case "bolt":
		db, err := boltstore.Open(boltstore.Options{Path: path})
		if err != nil {
			return nil, nil, err
		}
		return db.ModerationStore(), db, nil
	case "sqlite":
		db, err := sqlitestore.Open(ctx, path)
		if err != nil {
			return nil, nil, err
		}
		store := sqlitestore.NewModerationStore(db)
		return store, store, nil
	}
	return nil, nil, fmt.Errorf("unknown store backend %q", backend)
}

// openCounters returns the rate-limit counter store: redis when configured, memory otherwise.
// The memory store's sweeper stops with ctx, so its closer is a no-op.
func openCounters(ctx context.Context, redisURL string) (ratelimit.CounterStore, io.Closer, error) {
	if redisURL == "" {
		mem := ratelimit.NewMemoryStore()
		mem.StartSweeper(ctx, time.Minute)
		return mem, closerFunc(func() error { return nil }), nil
	}
	rs, err := ratelimit.NewRedisStore(ctx, redisURL)
	if err != nil {
		return nil, nil, fmt.Errorf("connect redis: %w", err)
	}
	return rs, rs, nil
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

// engineOptions builds engine options from flags
func engineOptions(cctx *cli.Context) (moderation.Options, error) {
	opts := moderation.Options{
		ReportPolicy: ratelimit.Policy{
			Name:        "reports",
			Window:      cctx.Duration("report-window"),
			MaxRequests: cctx.Int("report-limit"),
		},
		ActionPolicy: ratelimit.Policy{
			Name:        "moderator_actions",
			Window:      cctx.Duration("action-window"),
			MaxRequests: cctx.Int("action-limit"),
		},
		FlagThreshold:       cctx.Int("flag-threshold"),
		ReportFlagThreshold: cctx.Int("report-flag-threshold"),
		BulkConcurrency:     cctx.Int("bulk-concurrency"),
		AuditRetryAttempts:  cctx.Uint("audit-retry-attempts"),
	}
	if err := opts.ReportPolicy.Validate(); err != nil {
		return opts, fmt.Errorf("report policy: %w", err)
	}
	if err := opts.ActionPolicy.Validate(); err != nil {
		return opts, fmt.Errorf("action policy: %w", err)
	}
	if opts.FlagThreshold < 0 || opts.FlagThreshold > 100 {
		return opts, fmt.Errorf("flag threshold must be between 0 and 100, got %d", opts.FlagThreshold)
	}
	return opts, nil
}

func runServe(cctx *cli.Context) error {
	ctx, stop := signal.NotifyContext(cctx.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Info().Msg("Starting forumguard")

	if endpoint := cctx.String("otlp-endpoint"); endpoint != "" {
		tp, err := tracing.Init(ctx, endpoint)
		if err != nil {
			return fmt.Errorf("init tracing: %w", err)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := tp.Shutdown(shutdownCtx); err != nil {
				log.Error().Err(err).Msg("Failed to flush traces")
			}
		}()
		log.Info().Str("endpoint", endpoint).Msg("Tracing enabled")
	}

	opts, err := engineOptions(cctx)
	if err != nil {
		return err
	}

	store, closer, err := openStore(ctx, cctx.String("store"), cctx.String("db-path"))
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer closer.Close()
	log.Info().Str("backend", cctx.String("store")).Str("path", cctx.String("db-path")).Msg("Database opened")

	counters, countersCloser, err := openCounters(ctx, cctx.String("redis-url"))
	if err != nil {
		return err
	}
	defer func() {
		if err := countersCloser.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to close rate limit store")
		}
	}()

	auth, err := moderation.NewService(cctx.String("moderators-config"))
	if err != nil {
		return fmt.Errorf("load moderators config: %w", err)
	}
	if !auth.IsEnabled() {
		log.Warn().Msg("No moderators configured; every moderation call will be unauthorized")
	}

	go reloadOnHangup(ctx, auth)

	engine := moderation.NewEngine(store, auth, ratelimit.New(counters), opts)

	httpClient := upstream.NewHTTPClient(cctx.Int("upstream-retries"), 10*time.Second)
	if u := cctx.String("content-url"); u != "" {
		engine.SetContentSource(upstream.NewContentClient(u, httpClient))
		log.Info().Str("url", u).Msg("Content service configured")
	}
	if u := cctx.String("classifier-url"); u != "" {
		classifier := upstream.NewClassifierClient(u, httpClient)
		engine.SetScoreProvider(spamscore.NewCachedProvider(classifier, 10_000, cctx.Duration("score-cache-ttl")))
		log.Info().Str("url", u).Msg("Spam classifier configured")
	}

	// The webhook outlives the signal context so events from requests still
	// in flight during shutdown are delivered.
	webhookCtx, stopWebhook := context.WithCancel(context.WithoutCancel(ctx))
	defer stopWebhook()
	webhookDone := make(chan struct{})

	var dispatchers notify.Multi
	if u := cctx.String("webhook-url"); u != "" {
		wh := notify.NewWebhook(u, cctx.String("webhook-token"), httpClient, notify.DefaultWebhookQueueSize)
		go func() {
			defer close(webhookDone)
			wh.Run(webhookCtx)
		}()
		dispatchers = append(dispatchers, wh)
		log.Info().Str("url", u).Msg("Webhook dispatcher configured")
	}

	h := handlers.NewHandler(engine)
	h.SetRoster(auth)
	if cctx.Bool("events") {
		hub := notify.NewHub()
		dispatchers = append(dispatchers, hub)
		h.SetEventFeed(hub)
	}
	if len(dispatchers) > 0 {
		engine.SetDispatcher(dispatchers)
	}

	metrics.StartCollector(ctx, metrics.StatsSource{
		ReportCountByStatus:  engine.ReportStatusCounts,
		ContentCountByStatus: engine.ContentStatusCounts,
	}, cctx.Duration("metrics-interval"))

	srv := &http.Server{
		Addr: cctx.String("listen"),
		Handler: routing.SetupRouter(routing.Config{
			Handlers:       h,
			Logger:         log.Logger,
			RequestTimeout: cctx.Duration("request-timeout"),
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("address", srv.Addr).Msg("Starting HTTP server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	case <-ctx.Done():
		log.Info().Msg("Shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}

	if cctx.String("webhook-url") != "" {
		stopWebhook()
		select {
		case <-webhookDone:
			log.Info().Msg("Webhook queue drained")
		case <-time.After(webhookDrainTimeout):
			log.Warn().Dur("timeout", webhookDrainTimeout).Msg("Gave up waiting for webhook queue to drain")
		}
	}
	return nil
}

// reloadOnHangup reloads the moderators config on SIGHUP until ctx is done
func reloadOnHangup(ctx context.Context, auth *moderation.Service) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			if err := auth.Reload(); err != nil {
				log.Error().Err(err).Msg("Failed to reload moderators config")
				continue
			}
			log.Info().Int("moderators", len(auth.ListModerators())).Msg("Moderators config reloaded")
		}
	}
}
