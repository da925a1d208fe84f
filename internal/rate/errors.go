package rate

import "errors"

var (
	// ErrRateLimited is returned when the bucket has no token left.
	ErrRateLimited = errors.New("rate limited")
	// ErrRedisUnavailable wraps backend failures.
	ErrRedisUnavailable = errors.New("redis unavailable")
	// ErrUnknownClass is returned for a class without a configured policy.
	ErrUnknownClass = errors.New("unknown rate limit class")
)
