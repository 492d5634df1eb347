package helix

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"
)

// maxInflightPerBucket caps concurrent requests per bucket so a burst of
// callers cannot blow through the remaining budget before any response
// headers come back.
const maxInflightPerBucket = 16

// BucketKey derives the rate-limit bucket identity. App-token calls share a
// bucket keyed by client id alone; user-token calls get one per user.
func BucketKey(clientID, userID string) string {
	if userID == "" {
		return clientID
	}
	return clientID + ":" + userID
}

// RateLimiter tracks the server's token bucket per (client id, user id) and
// gates outbound requests against it. State reflects the most recent
// Ratelimit-* response headers; before the first response a bucket admits
// optimistically.
type RateLimiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	logger  zerolog.Logger
}

type bucket struct {
	sem *semaphore.Weighted

	mu        sync.Mutex
	known     bool // headers seen at least once
	remaining int
	resetAt   time.Time
}

// NewRateLimiter builds an empty limiter.
func NewRateLimiter(logger zerolog.Logger) *RateLimiter {
	return &RateLimiter{
		buckets: make(map[string]*bucket),
		logger:  logger,
	}
}

func (rl *RateLimiter) bucket(key string) *bucket {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	b, ok := rl.buckets[key]
	if !ok {
		b = &bucket{sem: semaphore.NewWeighted(maxInflightPerBucket)}
		rl.buckets[key] = b
	}
	return b
}

// Acquire admits one request against the bucket. With budget remaining it
// decrements optimistically; with the bucket exhausted it sleeps until the
// server-announced reset, respecting cancellation. The caller must pair
// every successful Acquire with Release.
func (rl *RateLimiter) Acquire(ctx context.Context, key string) error {
	b := rl.bucket(key)
	if err := b.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	for {
		b.mu.Lock()
		if !b.known || b.remaining > 0 || !time.Now().Before(b.resetAt) {
			if b.known && b.remaining > 0 {
				b.remaining--
			} else if b.known {
				// Reset instant passed; budget is fresh but its size is
				// unknown until the next response.
				b.known = false
			}
			b.mu.Unlock()
			return nil
		}
		wait := time.Until(b.resetAt)
		b.mu.Unlock()

		rl.logger.Debug().Str("bucket", key).Dur("wait", wait).Msg("rate-limit budget exhausted, waiting for reset")
		if err := sleep(ctx, wait); err != nil {
			b.sem.Release(1)
			return err
		}
	}
}

// Release records the response headers, if present, and frees the inflight
// slot.
func (rl *RateLimiter) Release(key string, hdr http.Header) {
	b := rl.bucket(key)
	if hdr != nil {
		if rem, ok := headerInt(hdr, "Ratelimit-Remaining"); ok {
			reset, _ := headerInt(hdr, "Ratelimit-Reset")
			b.mu.Lock()
			b.known = true
			b.remaining = rem
			if reset > 0 {
				b.resetAt = time.Unix(int64(reset), 0)
			}
			b.mu.Unlock()
		}
	}
	b.sem.Release(1)
}

// WaitUntil parks the caller until the given reset instant, used for the
// single automatic retry after a 429. The bucket is marked exhausted so
// concurrent callers queue behind the same instant.
func (rl *RateLimiter) WaitUntil(ctx context.Context, key string, resetAt time.Time) error {
	b := rl.bucket(key)
	b.mu.Lock()
	b.known = true
	b.remaining = 0
	if resetAt.After(b.resetAt) {
		b.resetAt = resetAt
	}
	b.mu.Unlock()
	return sleep(ctx, time.Until(resetAt))
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func headerInt(hdr http.Header, name string) (int, bool) {
	v := hdr.Get(name)
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}

// resetInstant extracts the Ratelimit-Reset header as an absolute time.
func resetInstant(hdr http.Header) (time.Time, bool) {
	n, ok := headerInt(hdr, "Ratelimit-Reset")
	if !ok {
		return time.Time{}, false
	}
	return time.Unix(int64(n), 0), true
}
