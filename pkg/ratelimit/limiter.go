package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// bucket is a token bucket for one key plus the last time it was used
type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter manages one token bucket per key
type RateLimiter struct {
	buckets  map[string]*bucket
	capacity int
	limit    rate.Limit
	mu       sync.Mutex
	ttl      time.Duration // Time to live for inactive buckets
	stop     chan struct{}
	stopOnce sync.Once
}

// NewRateLimiter creates a new rate limiter
// capacity: Maximum number of requests allowed in a burst per key
// refillRate: Number of requests allowed per second per key
// ttl: Time to keep inactive buckets in memory (0 = forever)
func NewRateLimiter(capacity int, refillRate float64, ttl time.Duration) *RateLimiter {
	rl := &RateLimiter{
		buckets:  make(map[string]*bucket),
		capacity: capacity,
		limit:    rate.Limit(refillRate),
		ttl:      ttl,
		stop:     make(chan struct{}),
	}

	if ttl > 0 {
		go rl.cleanup()
	}

	return rl
}

// Allow checks if a request for the given key should be allowed now
func (rl *RateLimiter) Allow(key string) bool {
	return rl.AllowAt(key, time.Now())
}

// AllowAt checks if a request for the given key should be allowed at t
func (rl *RateLimiter) AllowAt(key string, t time.Time) bool {
	rl.mu.Lock()
	b, exists := rl.buckets[key]
	if !exists {
		b = &bucket{limiter: rate.NewLimiter(rl.limit, rl.capacity)}
		rl.buckets[key] = b
	}
	b.lastSeen = t
	rl.mu.Unlock()

	return b.limiter.AllowN(t, 1)
}

// Reset forgets the bucket for a key so the next request starts full
func (rl *RateLimiter) Reset(key string) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	delete(rl.buckets, key)
}

// Sweep removes buckets idle for longer than the TTL and returns how many were removed
func (rl *RateLimiter) Sweep(now time.Time) int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	removed := 0
	for key, b := range rl.buckets {
		if now.Sub(b.lastSeen) > rl.ttl {
			delete(rl.buckets, key)
			removed++
		}
	}
	return removed
}

// Close stops the cleanup goroutine
func (rl *RateLimiter) Close() {
	rl.stopOnce.Do(func() { close(rl.stop) })
}

// cleanup periodically removes inactive buckets
func (rl *RateLimiter) cleanup() {
	ticker := time.NewTicker(rl.ttl)
	defer ticker.Stop()

	for {
		select {
		case now := <-ticker.C:
			rl.Sweep(now)
		case <-rl.stop:
			return
		}
	}
}

// Stats returns statistics about the rate limiter
type Stats struct {
	ActiveBuckets int
	TotalCapacity int
	RefillRate    float64
}

// GetStats returns current statistics
func (rl *RateLimiter) GetStats() Stats {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	return Stats{
		ActiveBuckets: len(rl.buckets),
		TotalCapacity: rl.capacity,
		RefillRate:    float64(rl.limit),
	}
}
