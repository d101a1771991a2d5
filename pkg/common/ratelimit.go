package common

import "golang.org/x/time/rate"

// RateLimiter bounds how often an event may happen. Device enumeration on a scanning
// HAL is slow and serialized with captures, so callers that poll for devices go
// through a RateLimiter first.
type RateLimiter struct {
	limiter *rate.Limiter
}

// NewRateLimiter creates a RateLimiter with the specified requests per second (rps)
// and burst size. A non-positive rps disables limiting.
func NewRateLimiter(rps float64, burst int) *RateLimiter {
	limit := rate.Limit(rps)
	if rps <= 0 {
		limit = rate.Inf
	}
	return &RateLimiter{limiter: rate.NewLimiter(limit, max(burst, 1))}
}

// Allow reports whether an event may happen now without waiting.
func (rl *RateLimiter) Allow() bool { return rl.limiter.Allow() }
