package agent

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	defaultRateBurst     = 5
	defaultRatePerMinute = 30.0
)

// RateLimiter throttles submissions per key (a chat, a connection) with a
// token bucket each.
type RateLimiter struct {
	mu      sync.Mutex
	limit   rate.Limit
	burst   int
	buckets map[string]*rate.Limiter
}

func NewRateLimiter(maxBurst int, ratePerMinute float64) *RateLimiter {
	if maxBurst <= 0 {
		maxBurst = defaultRateBurst
	}
	if ratePerMinute <= 0 {
		ratePerMinute = defaultRatePerMinute
	}
	return &RateLimiter{
		limit:   rate.Every(time.Duration(float64(time.Minute) / ratePerMinute)),
		burst:   maxBurst,
		buckets: make(map[string]*rate.Limiter),
	}
}

// Allow reports whether key may submit now, consuming a token if so.
func (rl *RateLimiter) Allow(key string) bool {
	return rl.bucket(key).Allow()
}

// Forget drops the bucket for key.
func (rl *RateLimiter) Forget(key string) {
	rl.mu.Lock()
	delete(rl.buckets, key)
	rl.mu.Unlock()
}

func (rl *RateLimiter) bucket(key string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	l, ok := rl.buckets[key]
	if !ok {
		l = rate.NewLimiter(rl.limit, rl.burst)
		rl.buckets[key] = l
	}
	return l
}
