package cache

import (
	"sync"
	"time"

	"lecrec/internal/logger"
)

// DefaultRetention is how long a segment identifier stays in the cache after it
// was first seen.
const DefaultRetention = 60 * time.Second

// SegmentCache remembers recently seen segment identifiers so each one is
// claimed at most once while it is inside the retention window. An entry first
// seen at T is retained over [T, T+retention).
type SegmentCache struct {
	mutex     sync.Mutex
	firstSeen map[string]time.Time
	retention time.Duration
	logger    logger.Logger
}

// New creates and returns a new SegmentCache.
func New(log logger.Logger, retention time.Duration) *SegmentCache {
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &SegmentCache{
		firstSeen: make(map[string]time.Time),
		retention: retention,
		logger:    log,
	}
}

// Evict drops every entry whose age at now is at least the retention window.
// Entries with a zero timestamp are always dropped.
func (sc *SegmentCache) Evict(now time.Time) int {
	sc.mutex.Lock()
	defer sc.mutex.Unlock()

	evictedCount := 0
	for id, seen := range sc.firstSeen {
		if !seen.IsZero() && now.Sub(seen) < sc.retention {
			continue
		}
		delete(sc.firstSeen, id)
		evictedCount++
	}

	if evictedCount > 0 {
		sc.logger.Debugf("Evicted %d segment ids from cache. Current cache size: %d.", evictedCount, len(sc.firstSeen))
	}
	return evictedCount
}

// Claim returns the ids not already cached, in input order, and records them
// as seen at now. Filtering and inserting happen under one lock so concurrent
// callers never claim the same id.
func (sc *SegmentCache) Claim(ids []string, now time.Time) []string {
	sc.mutex.Lock()
	defer sc.mutex.Unlock()

	var claimed []string
	for _, id := range ids {
		if _, found := sc.firstSeen[id]; found {
			continue
		}
		sc.firstSeen[id] = now
		claimed = append(claimed, id)
	}
	return claimed
}

// Contains reports whether id is currently cached.
func (sc *SegmentCache) Contains(id string) bool {
	sc.mutex.Lock()
	defer sc.mutex.Unlock()
	_, found := sc.firstSeen[id]
	return found
}

// Len returns the number of cached ids.
func (sc *SegmentCache) Len() int {
	sc.mutex.Lock()
	defer sc.mutex.Unlock()
	return len(sc.firstSeen)
}
