package moderation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bluesky-social/indigo/atproto/syntax"
	"github.com/rs/zerolog/log"

	"forumguard/internal/metrics"
	"forumguard/internal/ratelimit"
)

// Report and audit ids are TIDs so they sort by creation time
var tidClock = syntax.NewTIDClock(0)

func newTID() string {
	return tidClock.Next().String()
}

const (
	DefaultFlagThreshold       = 70
	DefaultReportFlagThreshold = 3
	DefaultBulkConcurrency     = 8
	DefaultAuditRetryAttempts  = 5
	DefaultAuditRetryInterval  = 50 * time.Millisecond

	// MaxBulkItems bounds the number of distinct items in one bulk call
	MaxBulkItems = 100
	// MaxReasonLength bounds moderator reasons and resolution notes
	MaxReasonLength = 1000
)

// DefaultReportPolicy allows 10 reports per hour per reporter
func DefaultReportPolicy() ratelimit.Policy {
	return ratelimit.Policy{Name: "reports", Window: time.Hour, MaxRequests: 10}
}

// DefaultActionPolicy allows 100 mutating moderator calls per hour per moderator
func DefaultActionPolicy() ratelimit.Policy {
	return ratelimit.Policy{Name: "moderator_actions", Window: time.Hour, MaxRequests: 100}
}

// RateLimiter admits or rejects a call for an actor under a policy.
// *ratelimit.Limiter implements it.
type RateLimiter interface {
	Admit(ctx context.Context, actorKey string, policy ratelimit.Policy) (ratelimit.Result, error)
}

// Options tunes the engine. Zero values fall back to the defaults above.
type Options struct {
	ReportPolicy ratelimit.Policy
	ActionPolicy ratelimit.Policy

	// FlagThreshold is the spam score above which pending items are auto-flagged
	// and shown on the flagged tab.
	FlagThreshold int
	// ReportFlagThreshold is the report count at which a pending item is
	// auto-flagged. Negative disables report-driven flagging.
	ReportFlagThreshold int

	BulkConcurrency    int
	AuditRetryAttempts uint
	AuditRetryInterval time.Duration

	Now func() time.Time
}

func (o Options) withDefaults() Options {
	if o.ReportPolicy.Name == "" {
		o.ReportPolicy = DefaultReportPolicy()
	}
	if o.ActionPolicy.Name == "" {
		o.ActionPolicy = DefaultActionPolicy()
	}
	if o.FlagThreshold <= 0 {
		o.FlagThreshold = DefaultFlagThreshold
	}
	if o.ReportFlagThreshold == 0 {
		o.ReportFlagThreshold = DefaultReportFlagThreshold
	}
	if o.BulkConcurrency <= 0 {
		o.BulkConcurrency = DefaultBulkConcurrency
	}
	if o.AuditRetryAttempts == 0 {
		o.AuditRetryAttempts = DefaultAuditRetryAttempts
	}
	if o.AuditRetryInterval <= 0 {
		o.AuditRetryInterval = DefaultAuditRetryInterval
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// Engine ingests reports, serves the moderation queue and applies moderator decisions.
type Engine struct {
	store      Store
	auth       Authorizer
	limiter    RateLimiter
	content    ContentSource
	scores     ScoreProvider
	dispatcher Dispatcher
	opts       Options
}

// NewEngine creates an engine. The content source, score provider and dispatcher
// are optional and can be attached with the setters.
func NewEngine(store Store, auth Authorizer, limiter RateLimiter, opts Options) *Engine {
	return &Engine{
		store:      store,
		auth:       auth,
		limiter:    limiter,
		dispatcher: nopDispatcher{},
		opts:       opts.withDefaults(),
	}
}

// SetContentSource attaches the external content lookup used for items not yet projected
func (e *Engine) SetContentSource(src ContentSource) {
	e.content = src
}

// SetScoreProvider attaches the spam score provider
func (e *Engine) SetScoreProvider(p ScoreProvider) {
	e.scores = p
}

// SetDispatcher attaches the event dispatcher
func (e *Engine) SetDispatcher(d Dispatcher) {
	if d == nil {
		d = nopDispatcher{}
	}
	e.dispatcher = d
}

// FlagThreshold returns the configured spam flag threshold
func (e *Engine) FlagThreshold() int {
	return e.opts.FlagThreshold
}

func (e *Engine) now() time.Time {
	return e.opts.Now().UTC()
}

type nopDispatcher struct{}

func (nopDispatcher) Dispatch(context.Context, Event) error { return nil }

// RateLimitError is returned when a rate limit policy rejects a call.
// It matches ErrRateLimited.
type RateLimitError struct {
	Policy     string
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("%s: %s limit exceeded, retry in %s", ErrRateLimited, e.Policy, e.RetryAfter.Round(time.Second))
}

func (e *RateLimitError) Unwrap() error {
	return ErrRateLimited
}

// admit consumes one call of policy for actorKey. A limiter failure rejects the call.
func (e *Engine) admit(ctx context.Context, policy ratelimit.Policy, actorKey string) error {
	res, err := e.limiter.Admit(ctx, actorKey, policy)
	if err != nil {
		if ctx.Err() == nil {
			log.Error().Err(err).Str("policy", policy.Name).Str("actor", actorKey).Msg("moderation: rate limiter unavailable, rejecting write")
		}
		return storageError("rate limit", err)
	}
	if !res.Allowed {
		metrics.RateLimitRejectionsTotal.WithLabelValues(policy.Name).Inc()
		log.Debug().Str("policy", policy.Name).Str("actor", actorKey).Int64("count", res.Count).Msg("moderation: rate limited")
		return &RateLimitError{Policy: policy.Name, RetryAfter: res.RetryAfter(e.opts.Now())}
	}
	return nil
}

func (e *Engine) authorize(actorID string, perm Permission) error {
	if actorID == "" {
		return fmt.Errorf("%w: no actor", ErrUnauthorized)
	}
	if !e.auth.HasPermission(actorID, perm) {
		return fmt.Errorf("%w: %s lacks %s", ErrUnauthorized, actorID, perm)
	}
	return nil
}

func (e *Engine) emit(ctx context.Context, evt Event) {
	if evt.OccurredAt.IsZero() {
		evt.OccurredAt = e.now()
	}
	if err := e.dispatcher.Dispatch(ctx, evt); err != nil {
		log.Warn().Err(err).Str("type", string(evt.Type)).Str("content", evt.Content.Key()).Msg("moderation: failed to dispatch event")
	}
}

func validateRef(ref ContentRef) error {
	if !ref.Type.Valid() {
		return validationError("unknown content type %q", ref.Type)
	}
	if ref.ID == "" {
		return validationError("content id is required")
	}
	return nil
}

// resolveContent returns the projection for ref, creating it from the content
// source the first time the engine sees the item. A newly projected item whose
// score exceeds the flag threshold is auto-flagged.
func (e *Engine) resolveContent(ctx context.Context, ref ContentRef) (*ContentItem, error) {
	item, created, err := e.projectContent(ctx, ref)
	if err != nil {
		return nil, err
	}
	if created && item.SpamScore != nil && *item.SpamScore > e.opts.FlagThreshold {
		return e.autoFlag(ctx, item, "spam_score", fmt.Sprintf("spam score %d exceeds threshold %d", *item.SpamScore, e.opts.FlagThreshold))
	}
	return item, nil
}

// projectContent is resolveContent without the auto-flag step. created reports
// whether the projection was written by this call.
func (e *Engine) projectContent(ctx context.Context, ref ContentRef) (item *ContentItem, created bool, err error) {
	item, err = e.store.GetContent(ctx, ref)
	if err != nil {
		return nil, false, storageError("get content", err)
	}
	if item != nil {
		return item, false, nil
	}
	if e.content == nil {
		return nil, false, fmt.Errorf("%w: %s", ErrContentNotFound, ref)
	}

	ext, err := e.content.LookupContent(ctx, ref)
	if err != nil {
		return nil, false, storageError("lookup content", err)
	}
	if ext == nil {
		return nil, false, fmt.Errorf("%w: %s", ErrContentNotFound, ref)
	}

	fresh := *ext
	fresh.Type, fresh.ID = ref.Type, ref.ID
	fresh.Status = StatusPending
	fresh.ReportCount = 0
	fresh.UpdatedAt = e.now()
	if score, ok := e.lookupScore(ctx, ref); ok {
		fresh.SpamScore = &score
	}

	stored, err := e.store.UpsertContent(ctx, fresh)
	if err != nil {
		return nil, false, storageError("upsert content", err)
	}
	log.Debug().Str("content", ref.Key()).Msg("moderation: content entered moderation view")
	return stored, true, nil
}

// lookupScore asks the score provider for ref. Provider failures are logged and
// treated as "not scored yet" so reports are never blocked on the classifier.
func (e *Engine) lookupScore(ctx context.Context, ref ContentRef) (int, bool) {
	if e.scores == nil {
		return 0, false
	}
	score, ok, err := e.scores.Score(ctx, ref)
	if err != nil {
		log.Warn().Err(err).Str("content", ref.Key()).Msg("moderation: spam score lookup failed")
		return 0, false
	}
	if !ok {
		return 0, false
	}
	return clampScore(score), true
}

func clampScore(score int) int {
	switch {
	case score < 0:
		return 0
	case score > 100:
		return 100
	}
	return score
}

// autoFlag moves a pending item to flagged on behalf of automod. Items in any
// other status are returned unchanged.
func (e *Engine) autoFlag(ctx context.Context, item *ContentItem, trigger, reason string) (*ContentItem, error) {
	if item.Status != StatusPending {
		return item, nil
	}

	ref := item.Ref()
	updated, err := e.store.CompareAndSetStatus(ctx, ref, StatusPending, StatusFlagged)
	if errors.Is(err, ErrConflict) {
		// A moderator got there first; their decision wins.
		current, gerr := e.store.GetContent(ctx, ref)
		if gerr != nil {
			return nil, storageError("get content", gerr)
		}
		return current, nil
	}
	if err != nil {
		return nil, storageError("flag content", err)
	}

	now := e.now()
	entry := AuditEntry{
		ID:         newTID(),
		Content:    ref,
		Action:     AuditActionFlag,
		ActorID:    AutoModActor,
		Reason:     reason,
		FromStatus: StatusPending,
		ToStatus:   StatusFlagged,
		Timestamp:  now,
		AutoMod:    true,
	}
	if err := e.recordAudit(context.WithoutCancel(ctx), entry); err != nil {
		return updated, err
	}

	metrics.AutoFlagsTotal.WithLabelValues(trigger).Inc()
	log.Info().Str("content", ref.Key()).Str("trigger", trigger).Msg("moderation: content auto-flagged")

	e.emit(ctx, Event{
		Type:       EventContentFlagged,
		Content:    ref,
		AuthorID:   updated.AuthorID,
		ActorID:    AutoModActor,
		Action:     AuditActionFlag,
		Status:     StatusFlagged,
		Reason:     reason,
		OccurredAt: now,
	})
	return updated, nil
}

// Sync refreshes the projection of ref from the content source and the spam score
// provider, auto-flagging pending items whose score exceeds the flag threshold.
func (e *Engine) Sync(ctx context.Context, actorID string, ref ContentRef) (item *ContentItem, err error) {
	ctx, span := tracingSpan(ctx, "sync", actorID, ref)
	defer func() { endSpan(span, err) }()

	if err := validateRef(ref); err != nil {
		return nil, err
	}
	if err := e.authorize(actorID, PermissionSyncContent); err != nil {
		return nil, err
	}
	if actorID != AutoModActor {
		if err := e.admit(ctx, e.opts.ActionPolicy, actorID); err != nil {
			return nil, err
		}
	}

	existing, err := e.store.GetContent(ctx, ref)
	if err != nil {
		return nil, storageError("get content", err)
	}

	var ext *ContentItem
	if e.content != nil {
		ext, err = e.content.LookupContent(ctx, ref)
		if err != nil {
			return nil, storageError("lookup content", err)
		}
	}
	if ext == nil && existing == nil {
		return nil, fmt.Errorf("%w: %s", ErrContentNotFound, ref)
	}

	if ext != nil {
		fresh := *ext
		fresh.Type, fresh.ID = ref.Type, ref.ID
		fresh.Status = StatusPending
		fresh.ReportCount = 0
		fresh.SpamScore = nil
		fresh.UpdatedAt = e.now()
		if existing, err = e.store.UpsertContent(ctx, fresh); err != nil {
			return nil, storageError("upsert content", err)
		}
	}

	if inv, ok := e.scores.(ScoreInvalidator); ok {
		inv.Invalidate(ref)
	}
	if score, ok := e.lookupScore(ctx, ref); ok {
		if err := e.store.SetSpamScore(ctx, ref, score); err != nil {
			return nil, storageError("set spam score", err)
		}
		existing.SpamScore = &score
	}

	if existing.SpamScore != nil && *existing.SpamScore > e.opts.FlagThreshold {
		return e.autoFlag(ctx, existing, "spam_score", fmt.Sprintf("spam score %d exceeds threshold %d", *existing.SpamScore, e.opts.FlagThreshold))
	}
	return existing, nil
}

// GetContent returns the projection of a single item
func (e *Engine) GetContent(ctx context.Context, actorID string, ref ContentRef) (*ContentItem, error) {
	if err := validateRef(ref); err != nil {
		return nil, err
	}
	if err := e.authorize(actorID, PermissionViewQueue); err != nil {
		return nil, err
	}
	item, err := e.store.GetContent(ctx, ref)
	if err != nil {
		return nil, storageError("get content", err)
	}
	if item == nil {
		return nil, fmt.Errorf("%w: %s", ErrContentNotFound, ref)
	}
	return item, nil
}

// ContentStatusCounts returns the number of tracked items by type and status
func (e *Engine) ContentStatusCounts(ctx context.Context) (map[string]map[string]int, error) {
	items, err := e.store.ListContent(ctx, "")
	if err != nil {
		return nil, storageError("list content", err)
	}
	counts := make(map[string]map[string]int)
	for _, item := range items {
		byStatus, ok := counts[string(item.Type)]
		if !ok {
			byStatus = make(map[string]int)
			counts[string(item.Type)] = byStatus
		}
		byStatus[string(item.Status)]++
	}
	return counts, nil
}

// ReportStatusCounts returns the number of stored reports by status
func (e *Engine) ReportStatusCounts(ctx context.Context) (map[string]int, error) {
	stats, err := e.store.ReportStats(ctx)
	if err != nil {
		return nil, storageError("report stats", err)
	}
	counts := make(map[string]int, len(stats.ByStatus))
	for status, n := range stats.ByStatus {
		counts[string(status)] = n
	}
	return counts, nil
}
