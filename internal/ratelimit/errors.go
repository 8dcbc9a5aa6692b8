package ratelimit

import "errors"

var (
	// ErrRateLimited is returned by Check when the limit is exceeded.
	ErrRateLimited = errors.New("rate limit exceeded")

	// ErrRedisUnavailable wraps every backend failure.
	ErrRedisUnavailable = errors.New("rate limiter backend unavailable")
)
