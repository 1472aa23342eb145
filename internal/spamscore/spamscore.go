// Package spamscore bands externally computed spam scores into risk tiers and
// caches provider lookups.
package spamscore

import (
	"context"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"forumguard/internal/metrics"
	"forumguard/internal/moderation"
)

// Band is a risk tier derived from a 0-100 spam score
type Band string

const (
	BandUnscored Band = "unscored"
	BandLow      Band = "low"
	BandMedium   Band = "medium"
	BandHigh     Band = "high"
	BandCritical Band = "critical"
)

// BandFor maps a score to its band. Scores outside 0-100 are clamped.
func BandFor(score *int) Band {
	if score == nil {
		return BandUnscored
	}
	switch s := *score; {
	case s >= 90:
		return BandCritical
	case s >= 70:
		return BandHigh
	case s >= 40:
		return BandMedium
	default:
		return BandLow
	}
}

type cacheEntry struct {
	score int
	ok    bool
}

// CachedProvider wraps a ScoreProvider with an expiring LRU. Misses ("not scored
// yet") are cached too so a slow classifier is not hammered for new content.
type CachedProvider struct {
	inner moderation.ScoreProvider
	cache *expirable.LRU[moderation.ContentRef, cacheEntry]
}

var (
	_ moderation.ScoreProvider    = (*CachedProvider)(nil)
	_ moderation.ScoreInvalidator = (*CachedProvider)(nil)
)

// NewCachedProvider caches up to capacity lookups for ttl
func NewCachedProvider(inner moderation.ScoreProvider, capacity int, ttl time.Duration) *CachedProvider {
	return &CachedProvider{
		inner: inner,
		cache: expirable.NewLRU[moderation.ContentRef, cacheEntry](capacity, nil, ttl),
	}
}

func (p *CachedProvider) Score(ctx context.Context, ref moderation.ContentRef) (int, bool, error) {
	if e, ok := p.cache.Get(ref); ok {
		metrics.SpamScoreCacheHitsTotal.Inc()
		return e.score, e.ok, nil
	}
	metrics.SpamScoreCacheMissesTotal.Inc()

	score, ok, err := p.inner.Score(ctx, ref)
	if err != nil {
		return 0, false, err
	}
	p.cache.Add(ref, cacheEntry{score: score, ok: ok})
	return score, ok, nil
}

// Invalidate drops the cached score of ref so the next lookup hits the provider
func (p *CachedProvider) Invalidate(ref moderation.ContentRef) {
	p.cache.Remove(ref)
}

// StaticProvider serves scores from memory. It backs tests and deployments
// without a classifier.
type StaticProvider struct {
	mu     sync.RWMutex
	scores map[moderation.ContentRef]int
}

var _ moderation.ScoreProvider = (*StaticProvider)(nil)

// NewStaticProvider creates an empty static provider
func NewStaticProvider() *StaticProvider {
	return &StaticProvider{scores: make(map[moderation.ContentRef]int)}
}

// Set records the score of ref
func (p *StaticProvider) Set(ref moderation.ContentRef, score int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.scores[ref] = score
}

func (p *StaticProvider) Score(ctx context.Context, ref moderation.ContentRef) (int, bool, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	score, ok := p.scores[ref]
	return score, ok, nil
}
