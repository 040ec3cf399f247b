// Package ratelimit provides per-caller sliding-window admission control.
package ratelimit

import (
	"context"
	"time"
)

// Decision is the outcome of one admission check.
type Decision struct {
	Allowed   bool
	Remaining int
	// RetryAfter is how long until the oldest counted request leaves the window. Zero when allowed.
	RetryAfter time.Duration
}

// Limiter admits at most a fixed number of requests per key within a sliding window.
// Rejected requests do not consume quota.
type Limiter interface {
	Allow(ctx context.Context, key string) (Decision, error)
}

// Rule is a capacity per window.
type Rule struct {
	Limit  int
	Window time.Duration
}
