package ratelimit

import (
	"sync"

	"golang.org/x/time/rate"
)

// Limiter keeps one token bucket per caller
type Limiter struct {
	limiters  map[string]*rate.Limiter
	mu        sync.Mutex
	rate      rate.Limit
	burst     int
	perMinute int
}

// NewLimiter creates a limiter allowing requestsPerMinute per caller with
// bursts of up to burst requests
func NewLimiter(requestsPerMinute int, burst int) *Limiter {
	return &Limiter{
		limiters:  make(map[string]*rate.Limiter),
		rate:      rate.Limit(float64(requestsPerMinute) / 60.0),
		burst:     burst,
		perMinute: requestsPerMinute,
	}
}

// GetLimiter returns the bucket for key, creating it on first use
func (l *Limiter) GetLimiter(key string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	limiter, exists := l.limiters[key]
	if !exists {
		limiter = rate.NewLimiter(l.rate, l.burst)
		l.limiters[key] = limiter
	}
	return limiter
}

// Allow reports whether key may make a request now
func (l *Limiter) Allow(key string) bool {
	return l.GetLimiter(key).Allow()
}

// Tokens returns the requests key has left in its bucket
func (l *Limiter) Tokens(key string) float64 {
	return l.GetLimiter(key).Tokens()
}

// PerMinute is the sustained rate, used for response headers
func (l *Limiter) PerMinute() int {
	return l.perMinute
}
