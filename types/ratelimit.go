package types

import (
	"context"
	"time"
)

// RateLimiter admits calls against a global token bucket and, when configured,
// an additional bucket dedicated to the operation name. Both buckets must hold
// enough tokens for a call to proceed; debits are all-or-nothing.
type RateLimiter interface {
	// AllowRequest is non-blocking. It refills both buckets lazily and, if
	// both can cover cost, debits both and reports true. On refusal neither
	// bucket is touched.
	AllowRequest(name string, cost float64) bool

	// Acquire blocks up to timeout for admission. On refusal it reports the
	// remaining wait estimate for the more constrained bucket. A zero timeout
	// makes Acquire equivalent to AllowRequest plus an estimate.
	Acquire(ctx context.Context, name string, cost float64, timeout time.Duration) (bool, time.Duration)

	// RetryAfter estimates, without mutating token state, how long until a
	// single-unit request for name would succeed. Best-effort: under
	// contention the bucket may change before the caller retries.
	RetryAfter(name string) time.Duration
}

type BucketSpec struct {
	CallsPerSecond float64 `json:"calls_per_second"`
	Burst          int     `json:"burst"`
}
