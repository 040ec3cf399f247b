// Package counter keeps running totals of reconciliation outcomes (orders paid, purchases completed,
// mismatches) for the stats endpoint.
package counter

import (
	"context"
	"strconv"
	"sync"

	"github.com/redis/go-redis/v9"
)

const outcomesKey = "passgate:counters:outcomes"

const (
	ChargeCreated     = "charge_created"
	PaymentConfirmed  = "payment_confirmed"
	PaymentFailed     = "payment_failed"
	PaymentRefunded   = "payment_refunded"
	PurchaseSucceeded = "purchase_succeeded"
	PurchaseOwned     = "purchase_already_owned"
	PurchaseFailed    = "purchase_failed"
	PurchaseMismatch  = "purchase_mismatch"
	PurchaseReplayed  = "purchase_replayed"
	EventDuplicate    = "event_duplicate"
	EventIgnored      = "event_ignored"
)

type Recorder interface {
	Add(ctx context.Context, outcome string) error
	Snapshot(ctx context.Context) (map[string]int64, error)
}

// RedisCounter increments fields of a single Redis hash so totals survive restarts and are shared
// across instances.
type RedisCounter struct {
	client *redis.Client
	key    string
}

func NewRedisCounter(client *redis.Client) *RedisCounter {
	return &RedisCounter{client: client, key: outcomesKey}
}

func (c *RedisCounter) Add(ctx context.Context, outcome string) error {
	return c.client.HIncrBy(ctx, c.key, outcome, 1).Err()
}

func (c *RedisCounter) Snapshot(ctx context.Context) (map[string]int64, error) {
	data, err := c.client.HGetAll(ctx, c.key).Result()
	if err != nil {
		return nil, err
	}
	out := make(map[string]int64, len(data))
	for k, v := range data {
		n, perr := strconv.ParseInt(v, 10, 64)
		if perr != nil {
			continue
		}
		out[k] = n
	}
	return out, nil
}

// MemoryCounter is the single-instance fallback.
type MemoryCounter struct {
	mu     sync.Mutex
	counts map[string]int64
}

func NewMemoryCounter() *MemoryCounter {
	return &MemoryCounter{counts: make(map[string]int64)}
}

func (c *MemoryCounter) Add(_ context.Context, outcome string) error {
	c.mu.Lock()
	c.counts[outcome]++
	c.mu.Unlock()
	return nil
}

func (c *MemoryCounter) Snapshot(_ context.Context) (map[string]int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]int64, len(c.counts))
	for k, v := range c.counts {
		out[k] = v
	}
	return out, nil
}

// Nop discards everything.
type Nop struct{}

func (Nop) Add(context.Context, string) error { return nil }

func (Nop) Snapshot(context.Context) (map[string]int64, error) { return map[string]int64{}, nil }
