// Package cacheutil holds the shared read-through caching helper used by
// callers that poll slow upstreams.
package cacheutil

import (
	"sync"
	"time"
)

// CachedValue pairs a value with the time it was fetched.
type CachedValue[T any] struct {
	Value     T
	FetchedAt time.Time
}

// ReadThrough checks the cache under a read lock, and on a miss re-checks
// under the write lock before fetching, so concurrent callers for the same
// key trigger a single upstream fetch.
func ReadThrough[T any](
	mu *sync.RWMutex,
	checkCache func(now time.Time) (T, bool),
	fetchAndCache func(now time.Time) (T, error),
) (T, error) {
	now := time.Now()
	mu.RLock()
	if value, ok := checkCache(now); ok {
		mu.RUnlock()
		return value, nil
	}
	mu.RUnlock()

	mu.Lock()
	defer mu.Unlock()

	// Another goroutine may have filled the entry between the two locks;
	// re-check with a fresh timestamp so its entry is not seen as expired.
	nowAfterLock := time.Now()
	if value, ok := checkCache(nowAfterLock); ok {
		return value, nil
	}
	return fetchAndCache(nowAfterLock)
}
