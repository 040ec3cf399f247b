package idempotency

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/passgate/passgate/internal/pkg/cache/cachetest"
)

func exerciseClaimer(t *testing.T, c Claimer) {
	t.Helper()
	ctx := context.Background()

	ok, err := c.Claim(ctx, "evt_1", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = c.Claim(ctx, "evt_1", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok, "second claim while held must fail")

	ok, _ = c.Claim(ctx, "evt_2", time.Minute)
	assert.True(t, ok, "other keys are independent")

	require.NoError(t, c.Release(ctx, "evt_1"))
	ok, _ = c.Claim(ctx, "evt_1", time.Minute)
	assert.True(t, ok, "released key can be claimed again")
}

func TestMemoryClaimer(t *testing.T) {
	exerciseClaimer(t, NewMemoryClaimer())
}

func TestMemoryClaimerExpires(t *testing.T) {
	now := time.Now()
	c := NewMemoryClaimer()
	c.now = func() time.Time { return now }

	ok, _ := c.Claim(context.Background(), "k", time.Second)
	assert.True(t, ok)
	now = now.Add(2 * time.Second)
	ok, _ = c.Claim(context.Background(), "k", time.Second)
	assert.True(t, ok, "expired claims do not block")
}

func TestRedisClaimer(t *testing.T) {
	client := cachetest.NewClient(t, cachetest.DBIdempotency)
	exerciseClaimer(t, NewRedisClaimer(client))
}
