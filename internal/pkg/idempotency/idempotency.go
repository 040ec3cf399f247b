// Package idempotency provides short-lived in-flight claims on a key.
//
// Claims only stop two handlers from working on the same key at the same moment; the durable
// processed-event ledger stays the authority on whether work was already done.
package idempotency

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

type Claimer interface {
	// Claim returns true when the caller now holds key for at most ttl.
	Claim(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key string) error
}

// MemoryClaimer holds claims in process memory.
type MemoryClaimer struct {
	mu     sync.Mutex
	claims map[string]time.Time
	now    func() time.Time
}

func NewMemoryClaimer() *MemoryClaimer {
	return &MemoryClaimer{claims: make(map[string]time.Time), now: time.Now}
}

func (m *MemoryClaimer) Claim(_ context.Context, key string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if exp, ok := m.claims[key]; ok && exp.After(now) {
		return false, nil
	}
	m.claims[key] = now.Add(ttl)
	return true, nil
}

func (m *MemoryClaimer) Release(_ context.Context, key string) error {
	m.mu.Lock()
	delete(m.claims, key)
	m.mu.Unlock()
	return nil
}

const redisClaimPrefix = "claim:"

// RedisClaimer holds claims in Redis with SET NX PX so every instance sees them.
type RedisClaimer struct {
	client *redis.Client
}

func NewRedisClaimer(client *redis.Client) *RedisClaimer {
	return &RedisClaimer{client: client}
}

func (r *RedisClaimer) Claim(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return r.client.SetNX(ctx, redisClaimPrefix+key, time.Now().UnixMilli(), ttl).Result()
}

func (r *RedisClaimer) Release(ctx context.Context, key string) error {
	return r.client.Del(ctx, redisClaimPrefix+key).Err()
}
