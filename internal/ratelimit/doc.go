// Package ratelimit throttles requests with fixed-window counters in Redis.
//
// Each (scope, key) pair gets one counter per window. The first hit in a
// window creates the counter and sets its expiry; later hits only
// increment it. A request is allowed while the counter is at or below the
// scope's limit.
//
// The limiter fails open. When Redis cannot be reached the request is
// allowed and the error is returned alongside the decision so the caller
// can log it.
package ratelimit
