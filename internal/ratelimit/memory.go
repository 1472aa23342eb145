package ratelimit

import (
	"context"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
)

type windowCounter struct {
	start time.Time
	count int64
	// expires is when the counter can be dropped by Sweep
	expires time.Time
}

// MemoryStore keeps counters in process memory. State is lost on restart, which
// at worst briefly relaxes a limit.
type MemoryStore struct {
	counters *xsync.MapOf[string, windowCounter]
}

var _ CounterStore = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory counter store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		counters: xsync.NewMapOf[string, windowCounter](),
	}
}

// Increment atomically bumps the counter for key, restarting it when the window moved on.
func (s *MemoryStore) Increment(ctx context.Context, key string, windowStart time.Time, window time.Duration) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	next, _ := s.counters.Compute(key, func(old windowCounter, loaded bool) (windowCounter, bool) {
		if !loaded || !old.start.Equal(windowStart) {
			return windowCounter{start: windowStart, count: 1, expires: windowStart.Add(window)}, false
		}
		old.count++
		return old, false
	})
	return next.count, nil
}

// Sweep drops counters whose window ended before now and returns how many were removed.
func (s *MemoryStore) Sweep(now time.Time) int {
	removed := 0
	s.counters.Range(func(key string, c windowCounter) bool {
		if !now.Before(c.expires) {
			s.counters.Compute(key, func(old windowCounter, loaded bool) (windowCounter, bool) {
				// Recheck under the bucket lock; a concurrent Increment may have renewed it.
				if loaded && !now.Before(old.expires) {
					removed++
					return old, true
				}
				return old, !loaded
			})
		}
		return true
	})
	return removed
}

// StartSweeper periodically removes expired counters until ctx is cancelled.
func (s *MemoryStore) StartSweeper(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				s.Sweep(now)
			}
		}
	}()
}

// Len returns the number of live counters
func (s *MemoryStore) Len() int {
	return s.counters.Size()
}
