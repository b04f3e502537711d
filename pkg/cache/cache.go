package cache

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"time"
)

// Store is a small key-value abstraction over the shared cache used for
// response memoization, rate-limit counters, and monitoring snapshots.
// Implementations return errors instead of failing silently; callers decide
// whether an outage fails open or closed.
type Store interface {
	// Get returns the value for key and whether it was present.
	Get(ctx context.Context, key string) (string, bool, error)
	// Set stores value under key with the given TTL (0 = no expiry).
	Set(ctx context.Context, key string, value string, ttl time.Duration) error
	// Del removes a key. Deleting a missing key is not an error.
	Del(ctx context.Context, key string) error
	// Incr atomically increments the counter at key and returns the new
	// value. The TTL is applied only when the counter is created, so a
	// window of calls shares one expiry.
	Incr(ctx context.Context, key string, ttl time.Duration) (int64, error)
	// Ping reports whether the store is reachable.
	Ping(ctx context.Context) error
}

// RenderKey builds the memoization key for a rendered widget response.
func RenderKey(widgetID string, page int, filtersHash string) string {
	return fmt.Sprintf("render:%s:%d:%s", widgetID, page, filtersHash)
}

// RateLimitKey builds the counter key for a fixed rate-limit window.
// Windows are aligned to epoch multiples of the window size, so a burst
// straddling a boundary can see up to twice the nominal limit.
func RateLimitKey(keyID string, window time.Duration, now time.Time) string {
	bucket := now.Unix() / int64(window.Seconds())
	return fmt.Sprintf("ratelimit:%s:%d", keyID, bucket)
}

// HashParams produces a short stable hash of request parameters for use in
// cache keys and ETags.
func HashParams(parts ...string) string {
	h := sha1.New()
	for _, p := range parts {
		h.Write([]byte(p))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))[:16]
}
