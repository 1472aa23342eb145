package main

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"forumguard/internal/moderation"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigureLogging(t *testing.T) {
	originalLogger := log.Logger
	originalLevel := zerolog.GlobalLevel()
	t.Cleanup(func() {
		log.Logger = originalLogger
		zerolog.SetGlobalLevel(originalLevel)
	})

	tests := []struct {
		level string
		want  zerolog.Level
	}{
		{"debug", zerolog.DebugLevel},
		{"info", zerolog.InfoLevel},
		{"warn", zerolog.WarnLevel},
		{"error", zerolog.ErrorLevel},
		{"", zerolog.InfoLevel},
		{"verbose", zerolog.InfoLevel},
	}
	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			configureLogging(tt.level, "json")
			assert.Equal(t, tt.want, zerolog.GlobalLevel())
		})
	}
}

func TestOpenStore(t *testing.T) {
	ctx := context.Background()
	ref := moderation.ContentRef{Type: moderation.ContentTypeTopic, ID: "t1"}

	for _, backend := range []string{"bolt", "sqlite"} {
		t.Run(backend, func(t *testing.T) {
			store, closer, err := openStore(ctx, backend, filepath.Join(t.TempDir(), "forumguard.db"))
			require.NoError(t, err)
			defer closer.Close()

			_, err = store.UpsertContent(ctx, moderation.ContentItem{Type: ref.Type, ID: ref.ID, Title: "hello", Status: moderation.StatusPending})
			require.NoError(t, err)
			got, err := store.GetContent(ctx, ref)
			require.NoError(t, err)
			require.NotNil(t, got)
			assert.Equal(t, "hello", got.Title)
		})
	}

	_, _, err := openStore(ctx, "postgres", "")
	assert.ErrorContains(t, err, "unknown store backend")
}

func TestOpenCounters(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	counters, closer, err := openCounters(ctx, "")
	require.NoError(t, err)
	require.NotNil(t, closer)
	start := time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)
	n, err := counters.Increment(ctx, "reports:u1", start, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.NoError(t, closer.Close())

	_, closer, err = openCounters(ctx, "not a redis url")
	assert.ErrorContains(t, err, "connect redis")
	assert.Nil(t, closer)
}

func TestRun_RejectsBadConfig(t *testing.T) {
	originalLogger := log.Logger
	t.Cleanup(func() { log.Logger = originalLogger })

	dbPath := filepath.Join(t.TempDir(), "forumguard.db")

	err := run([]string{"forumguard", "--log-format", "json", "serve", "--store", "memcached", "--db-path", dbPath})
	assert.ErrorContains(t, err, "unknown store backend")

	err = run([]string{"forumguard", "--log-format", "json", "serve", "--flag-threshold", "150", "--db-path", dbPath})
	assert.ErrorContains(t, err, "flag threshold")

	err = run([]string{"forumguard", "--log-format", "json", "serve", "--report-limit", "-1", "--db-path", dbPath})
	assert.ErrorContains(t, err, "report policy")

	err = run([]string{"forumguard", "--log-format", "json", "serve", "--moderators-config", filepath.Join(t.TempDir(), "missing.json"), "--db-path", dbPath})
	assert.ErrorContains(t, err, "moderators config")
}
