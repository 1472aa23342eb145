package moderation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"forumguard/internal/metrics"
	"forumguard/internal/tracing"
)

const (
	DefaultAuditListLimit = 50
	MaxAuditListLimit     = 500
)

// recordAudit appends entry, retrying transient store failures with exponential
// backoff. Callers pass a context detached from the request so an entry for an
// already applied change is still written after the client goes away.
func (e *Engine) recordAudit(ctx context.Context, entry AuditEntry) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = e.opts.AuditRetryInterval
	b.MaxInterval = 2 * time.Second

	attempt := 0
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		attempt++
		err := e.store.Record(ctx, entry)
		if err == nil {
			return struct{}{}, nil
		}
		if errors.Is(err, ErrValidation) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(e.opts.AuditRetryAttempts),
		backoff.WithNotify(func(err error, next time.Duration) {
			metrics.AuditWriteRetriesTotal.Inc()
			log.Warn().Err(err).
				Str("content", entry.Content.Key()).
				Str("action", string(entry.Action)).
				Dur("retry_in", next).
				Msg("moderation: audit write failed, retrying")
		}),
	)
	if err != nil {
		metrics.AuditWriteFailuresTotal.Inc()
		log.Error().Err(err).
			Str("content", entry.Content.Key()).
			Str("action", string(entry.Action)).
			Str("actor", entry.ActorID).
			Str("audit_id", entry.ID).
			Int("attempts", attempt).
			Msg("moderation: audit write failed after retries, state change is unaudited")
		return storageError("record audit entry", err)
	}
	return nil
}

// History returns the audit trail of ref, oldest first
func (e *Engine) History(ctx context.Context, actorID string, ref ContentRef) ([]AuditEntry, error) {
	if err := validateRef(ref); err != nil {
		return nil, err
	}
	if err := e.authorize(actorID, PermissionViewAuditLog); err != nil {
		return nil, err
	}

	entries, err := e.store.History(ctx, ref)
	if err != nil {
		return nil, storageError("audit history", err)
	}
	if len(entries) == 0 {
		item, err := e.store.GetContent(ctx, ref)
		if err != nil {
			return nil, storageError("get content", err)
		}
		if item == nil {
			return nil, fmt.Errorf("%w: %s", ErrContentNotFound, ref)
		}
	}
	return entries, nil
}

// AuditLog returns the most recent entries across all content, newest first
func (e *Engine) AuditLog(ctx context.Context, actorID string, limit int) ([]AuditEntry, error) {
	if err := e.authorize(actorID, PermissionViewAuditLog); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = DefaultAuditListLimit
	}
	if limit > MaxAuditListLimit {
		limit = MaxAuditListLimit
	}

	entries, err := e.store.ListAuditLog(ctx, limit)
	if err != nil {
		return nil, storageError("list audit log", err)
	}
	return entries, nil
}

func tracingSpan(ctx context.Context, op, actorID string, ref ContentRef) (context.Context, trace.Span) {
	var attrs []attribute.KeyValue
	if ref.ID != "" {
		attrs = append(attrs, attribute.String("moderation.content", ref.Key()))
	}
	return tracing.EngineSpan(ctx, op, actorID, attrs...)
}

func endSpan(span trace.Span, err error) {
	tracing.EndWithError(span, err)
	span.End()
}
