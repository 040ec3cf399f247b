package ratelimit

import (
	"context"
	"sync"
	"time"
)

// sweepEvery bounds how often idle keys are dropped from the map.
const sweepEvery = 1024

// MemoryLimiter keeps a timestamp log per key in process memory. It is not shared across instances.
type MemoryLimiter struct {
	rule Rule
	now  func() time.Time

	mu     sync.Mutex
	hits   map[string][]time.Time
	checks int
}

func NewMemoryLimiter(rule Rule) *MemoryLimiter {
	return &MemoryLimiter{
		rule: rule,
		now:  time.Now,
		hits: make(map[string][]time.Time),
	}
}

func (l *MemoryLimiter) Allow(_ context.Context, key string) (Decision, error) {
	now := l.now()
	cutoff := now.Add(-l.rule.Window)

	l.mu.Lock()
	defer l.mu.Unlock()

	l.checks++
	if l.checks%sweepEvery == 0 {
		l.sweep(cutoff)
	}

	fresh := prune(l.hits[key], cutoff)
	if len(fresh) >= l.rule.Limit {
		l.hits[key] = fresh
		return Decision{
			Allowed:    false,
			Remaining:  0,
			RetryAfter: fresh[0].Sub(cutoff),
		}, nil
	}

	fresh = append(fresh, now)
	l.hits[key] = fresh
	return Decision{Allowed: true, Remaining: l.rule.Limit - len(fresh)}, nil
}

// prune drops timestamps at or before cutoff. hits is ordered oldest first.
func prune(hits []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(hits) && !hits[i].After(cutoff) {
		i++
	}
	return hits[i:]
}

func (l *MemoryLimiter) sweep(cutoff time.Time) {
	for key, hits := range l.hits {
		if fresh := prune(hits, cutoff); len(fresh) == 0 {
			delete(l.hits, key)
		} else {
			l.hits[key] = fresh
		}
	}
}
