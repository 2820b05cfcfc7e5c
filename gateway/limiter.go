package gateway

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

// ConcurrencyLimiter gates how many sessions may be simultaneously
// mid-IDENTIFY. The Manager sizes it from
// Configuration.MaxConcurrentIdentifies, not from the max_concurrency
// reported by /gateway/bot. Wait blocks until a ticket is free;
// FreeTicket must be called once the session reaches
// AWAITING_LOGIN_CONFIRMATION.
type ConcurrencyLimiter struct {
	sem *semaphore.Weighted
}

// NewConcurrencyLimiter creates a limiter with room for n concurrent
// identifies.
func NewConcurrencyLimiter(n int) *ConcurrencyLimiter {
	if n <= 0 {
		n = 1
	}
	return &ConcurrencyLimiter{sem: semaphore.NewWeighted(int64(n))}
}

// Wait blocks until a ticket is available and returns it.
func (c *ConcurrencyLimiter) Wait(ctx context.Context) error {
	return c.sem.Acquire(ctx, 1)
}

// FreeTicket releases one previously acquired ticket.
func (c *ConcurrencyLimiter) FreeTicket() {
	c.sem.Release(1)
}

// BucketStore tracks the last-used time of named rate-limit buckets
// and blocks callers until one cooldown has elapsed, used to enforce
// the 5-second global IDENTIFY spacing per max_concurrency bucket.
type BucketStore struct {
	mu      sync.Mutex
	lastUse map[string]time.Time
}

// NewBucketStore creates an empty bucket store.
func NewBucketStore() *BucketStore {
	return &BucketStore{lastUse: make(map[string]time.Time)}
}

// CreateWaitForBucket blocks the caller until at least `window` has
// elapsed since the named bucket was last used, then marks it used.
// limit is reserved for future multi-token buckets; the gateway only
// ever needs a 1-token bucket per IDENTIFY.
func (b *BucketStore) CreateWaitForBucket(key string, limit int, window time.Duration) {
	_ = limit

	b.mu.Lock()
	last, ok := b.lastUse[key]
	now := time.Now()
	if ok {
		if wait := window - now.Sub(last); wait > 0 {
			b.mu.Unlock()
			time.Sleep(wait)
			b.mu.Lock()
			now = time.Now()
		}
	}
	b.lastUse[key] = now
	b.mu.Unlock()
}

// bucketKey builds the per-shard identify bucket name the arbiter
// spaces 5 seconds apart within, matching Discord's max_concurrency
// buckets: shards in different buckets never wait on each other.
func bucketKey(maxConcurrency, shardID int) string {
	if maxConcurrency <= 0 {
		maxConcurrency = 1
	}
	return fmt.Sprintf("identify:%d", shardID%maxConcurrency)
}
