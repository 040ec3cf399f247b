package roblox

import (
	"context"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gofiber/fiber/v2/log"
)

const csrfHeader = "X-CSRF-Token"

// Token is an anti-forgery token and its local expiry.
type Token struct {
	Value     string
	ExpiresAt time.Time
}

// TokenSource provides anti-forgery tokens for mutating calls.
//
// ForceRefresh returns a fresh token without caching it; it is meant for exactly one sensitive call.
// RefreshAndCache stores the fresh token for reuse by non-sensitive calls.
type TokenSource interface {
	Cached() (string, bool)
	ForceRefresh(ctx context.Context) (string, error)
	RefreshAndCache(ctx context.Context) (string, error)
	Invalidate()
}

// TokenFetcher obtains a fresh token from the platform.
type TokenFetcher func(ctx context.Context) (string, error)

// CSRFCache is a process-wide, lock-free token cache. Concurrent callers that miss the cache each
// refresh independently; the last writer wins.
type CSRFCache struct {
	current atomic.Pointer[Token]
	fetch   TokenFetcher
	ttl     time.Duration
	now     func() time.Time
}

func NewCSRFCache(fetch TokenFetcher, ttl time.Duration) *CSRFCache {
	return &CSRFCache{fetch: fetch, ttl: ttl, now: time.Now}
}

func (c *CSRFCache) Cached() (string, bool) {
	t := c.current.Load()
	if t == nil || !t.ExpiresAt.After(c.now()) {
		return "", false
	}
	return t.Value, true
}

func (c *CSRFCache) ForceRefresh(ctx context.Context) (string, error) {
	return c.fetch(ctx)
}

func (c *CSRFCache) RefreshAndCache(ctx context.Context) (string, error) {
	v, err := c.fetch(ctx)
	if err != nil {
		return "", err
	}
	c.current.Store(&Token{Value: v, ExpiresAt: c.now().Add(c.ttl)})
	return v, nil
}

func (c *CSRFCache) Invalidate() {
	c.current.Store(nil)
}

// fetchCSRFToken posts an empty body to a catalog endpoint that rejects the call but echoes a fresh
// token in its response headers, without ending the session.
func (c *Client) fetchCSRFToken(ctx context.Context) (string, error) {
	header, err := c.sessionHeaders(true)
	if err != nil {
		return "", err
	}
	url := c.endpoints.Catalog + "/v1/catalog/items/details"
	resp, err := c.do(ctx, c.retry.attempts(2), http.MethodPost, url, header, []byte("{}"))
	if err != nil {
		return "", fmt.Errorf("obtain X-CSRF-Token: %w", err)
	}
	if token := resp.Header.Get(csrfHeader); token != "" {
		return token, nil
	}
	log.Warnf("[Roblox] Token endpoint answered %d without %s", resp.StatusCode, csrfHeader)
	return "", fmt.Errorf("obtain X-CSRF-Token: status %d %s", resp.StatusCode, resp.snippet(180))
}
