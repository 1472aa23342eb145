package moderation

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"forumguard/internal/metrics"
)

// ModerationAction is a moderator decision on one content item
type ModerationAction struct {
	Content ContentRef
	Action  Action
	Reason  string
	ActorID string
}

// ModerationResult describes the outcome of a single action
type ModerationResult struct {
	Success         bool          `json:"success"`
	Changed         bool          `json:"changed"`
	Content         ContentRef    `json:"content"`
	FromStatus      ContentStatus `json:"fromStatus"`
	ToStatus        ContentStatus `json:"toStatus"`
	Message         string        `json:"message"`
	ResolvedReports int           `json:"resolvedReports"`
}

// BulkAction applies one action to many items. Items may mix content types;
// each item is processed independently.
type BulkAction struct {
	Items   []ContentRef
	Action  Action
	Reason  string
	ActorID string
}

// BulkFailure records why one item of a bulk call was not applied
type BulkFailure struct {
	Type   ContentType `json:"type"`
	ID     string      `json:"id"`
	Code   string      `json:"code"`
	Reason string      `json:"reason"`
}

// BulkResult aggregates per-item outcomes of a bulk call
type BulkResult struct {
	AffectedCount  int           `json:"affectedCount"`
	UnchangedCount int           `json:"unchangedCount"`
	Failures       []BulkFailure `json:"failures"`
	Message        string        `json:"message"`
}

func validateReason(reason string) (string, error) {
	reason = strings.TrimSpace(reason)
	if utf8.RuneCountInString(reason) > MaxReasonLength {
		return "", validationError("reason must be at most %d characters", MaxReasonLength)
	}
	return reason, nil
}

// Apply performs a single moderation action
func (e *Engine) Apply(ctx context.Context, a ModerationAction) (result *ModerationResult, err error) {
	ctx, span := tracingSpan(ctx, "apply", a.ActorID, a.Content)
	span.SetAttributes(attribute.String("moderation.action", string(a.Action)))
	defer func() { endSpan(span, err) }()

	action, err := ParseAction(string(a.Action))
	if err != nil {
		return nil, err
	}
	if err := validateRef(a.Content); err != nil {
		return nil, err
	}
	reason, err := validateReason(a.Reason)
	if err != nil {
		return nil, err
	}
	if err := e.authorize(a.ActorID, action.Permission()); err != nil {
		return nil, err
	}
	if err := e.admit(ctx, e.opts.ActionPolicy, a.ActorID); err != nil {
		return nil, err
	}

	result, err = e.applyOne(ctx, a.Content, action, reason, a.ActorID)
	recordActionOutcome(action, result, err)
	return result, err
}

// ApplyBulk applies one action to up to MaxBulkItems distinct items in parallel.
// Per-item failures are collected in the result; an error is returned only when
// the whole call is rejected.
func (e *Engine) ApplyBulk(ctx context.Context, b BulkAction) (result *BulkResult, err error) {
	ctx, span := tracingSpan(ctx, "apply_bulk", b.ActorID, ContentRef{})
	defer func() { endSpan(span, err) }()

	action, err := ParseAction(string(b.Action))
	if err != nil {
		return nil, err
	}
	reason, err := validateReason(b.Reason)
	if err != nil {
		return nil, err
	}

	items := make([]ContentRef, 0, len(b.Items))
	seen := make(map[ContentRef]bool, len(b.Items))
	for _, ref := range b.Items {
		if err := validateRef(ref); err != nil {
			return nil, err
		}
		if seen[ref] {
			continue
		}
		seen[ref] = true
		items = append(items, ref)
	}
	if len(items) == 0 {
		return nil, validationError("at least one content id is required")
	}
	if len(items) > MaxBulkItems {
		return nil, validationError("at most %d content ids per bulk action", MaxBulkItems)
	}

	if err := e.authorize(b.ActorID, action.Permission()); err != nil {
		return nil, err
	}
	if err := e.admit(ctx, e.opts.ActionPolicy, b.ActorID); err != nil {
		return nil, err
	}

	span.SetAttributes(
		attribute.String("moderation.action", string(action)),
		attribute.Int("moderation.bulk_items", len(items)),
	)
	metrics.BulkActionItems.Observe(float64(len(items)))

	type outcome struct {
		res *ModerationResult
		err error
	}
	outcomes := make([]outcome, len(items))

	var g errgroup.Group
	g.SetLimit(e.opts.BulkConcurrency)
	for i, ref := range items {
		if ctx.Err() != nil {
			outcomes[i].err = fmt.Errorf("%w: not processed", ErrCanceled)
			continue
		}
		g.Go(func() error {
			if ctx.Err() != nil {
				outcomes[i].err = fmt.Errorf("%w: not processed", ErrCanceled)
				return nil
			}
			res, err := e.applyOne(ctx, ref, action, reason, b.ActorID)
			recordActionOutcome(action, res, err)
			outcomes[i] = outcome{res: res, err: err}
			return nil
		})
	}
	_ = g.Wait()

	result = &BulkResult{Failures: []BulkFailure{}}
	for i, o := range outcomes {
		switch {
		case o.err != nil:
			result.Failures = append(result.Failures, BulkFailure{
				Type:   items[i].Type,
				ID:     items[i].ID,
				Code:   ErrorCode(o.err),
				Reason: o.err.Error(),
			})
		case o.res.Changed:
			result.AffectedCount++
		default:
			result.UnchangedCount++
		}
	}
	result.Message = fmt.Sprintf("%d of %d items %s", result.AffectedCount, len(items), action.PastTense())
	if result.UnchangedCount > 0 {
		result.Message += fmt.Sprintf(", %d already %s", result.UnchangedCount, action.PastTense())
	}
	if n := len(result.Failures); n > 0 {
		result.Message += fmt.Sprintf(", %d failed", n)
	}

	log.Info().
		Str("moderator", b.ActorID).
		Str("action", string(action)).
		Int("items", len(items)).
		Int("affected", result.AffectedCount).
		Int("unchanged", result.UnchangedCount).
		Int("failed", len(result.Failures)).
		Msg("moderation: bulk action applied")

	return result, nil
}

// applyOne runs the state machine for a single item. Authorization and rate
// limiting are the caller's job.
func (e *Engine) applyOne(ctx context.Context, ref ContentRef, action Action, reason, actorID string) (*ModerationResult, error) {
	// The moderator's action is the only audited change, so a first-seen item
	// is projected without the automod pass.
	item, _, err := e.projectContent(ctx, ref)
	if err != nil {
		return nil, err
	}

	to, changed, err := Transition(item.Status, action)
	if err != nil {
		return nil, err
	}

	result := &ModerationResult{
		Success:    true,
		Changed:    changed,
		Content:    ref,
		FromStatus: item.Status,
		ToStatus:   to,
	}

	// Once the status is written the remaining steps must run to completion.
	detached := context.WithoutCancel(ctx)
	now := e.now()

	if changed {
		if _, err := e.store.CompareAndSetStatus(ctx, ref, item.Status, to); err != nil {
			return nil, storageError("set status", err)
		}

		entry := AuditEntry{
			ID:         newTID(),
			Content:    ref,
			Action:     action.AuditAction(),
			ActorID:    actorID,
			Reason:     reason,
			FromStatus: item.Status,
			ToStatus:   to,
			Timestamp:  now,
		}
		if err := e.recordAudit(detached, entry); err != nil {
			return nil, err
		}
		result.Message = fmt.Sprintf("Content %s", action.PastTense())
	} else {
		result.Message = fmt.Sprintf("Content already %s", to)
	}

	// Pending reports are closed on no-ops too, so a retried call converges.
	resolved, err := e.store.ResolvePendingReports(detached, ref, Resolution{
		Status:     ReportStatusResolved,
		Outcome:    action.Outcome(),
		ResolvedBy: actorID,
		Note:       reason,
		ResolvedAt: now,
	})
	if err != nil {
		log.Error().Err(err).Str("content", ref.Key()).Msg("moderation: failed to resolve pending reports")
		return nil, storageError("resolve pending reports", err)
	}
	result.ResolvedReports = resolved
	if resolved > 0 {
		metrics.ReportsResolvedTotal.WithLabelValues(string(ReportStatusResolved)).Add(float64(resolved))
	}

	if changed {
		log.Info().
			Str("content", ref.Key()).
			Str("moderator", actorID).
			Str("action", string(action)).
			Str("from", string(item.Status)).
			Str("to", string(to)).
			Int("resolved_reports", resolved).
			Msg("moderation: content moderated")

		e.emit(detached, Event{
			Type:       EventContentModerated,
			Content:    ref,
			AuthorID:   item.AuthorID,
			ActorID:    actorID,
			Action:     action.AuditAction(),
			Status:     to,
			Reason:     reason,
			OccurredAt: now,
		})
	}

	return result, nil
}

func recordActionOutcome(action Action, res *ModerationResult, err error) {
	outcome := "failed"
	if err == nil {
		outcome = "unchanged"
		if res.Changed {
			outcome = "changed"
		}
	}
	metrics.ModerationActionsTotal.WithLabelValues(string(action), outcome).Inc()
}
