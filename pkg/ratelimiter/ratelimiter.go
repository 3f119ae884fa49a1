package ratelimiter

// RateLimiter gates access to a shared external resource. Allow reports
// whether one more request may proceed right now; callers that get false are
// expected to wait and ask again.
type RateLimiter interface {
	Allow() bool
}
