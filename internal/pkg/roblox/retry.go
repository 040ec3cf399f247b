package roblox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"time"
)

const maxResponseBody = 2 << 20

// RetryPolicy bounds the shared retry wrapper used by every upstream call.
// Timeouts, 429 and 5xx are retried; every other status returns immediately.
type RetryPolicy struct {
	MaxAttempts int
	MinWait     time.Duration
	MaxWait     time.Duration
	// Timeout applies to each attempt separately.
	Timeout time.Duration
}

var DefaultRetryPolicy = RetryPolicy{
	MaxAttempts: 3,
	MinWait:     250 * time.Millisecond,
	MaxWait:     1200 * time.Millisecond,
	Timeout:     10 * time.Second,
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = DefaultRetryPolicy.MaxAttempts
	}
	if p.MinWait <= 0 {
		p.MinWait = DefaultRetryPolicy.MinWait
	}
	if p.MaxWait < p.MinWait {
		p.MaxWait = p.MinWait
	}
	if p.Timeout <= 0 {
		p.Timeout = DefaultRetryPolicy.Timeout
	}
	return p
}

// attempts returns a copy limited to n attempts.
func (p RetryPolicy) attempts(n int) RetryPolicy {
	p.MaxAttempts = n
	return p
}

// backoff returns a jittered wait in [MinWait, MaxWait] scaled by the attempt index.
func (p RetryPolicy) backoff(attempt int) time.Duration {
	wait := p.MinWait
	if span := p.MaxWait - p.MinWait; span > 0 {
		wait += rand.N(span)
	}
	return wait * time.Duration(attempt+1)
}

type response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

func (r *response) ok() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

func (r *response) snippet(n int) string {
	s := string(bytes.TrimSpace(r.Body))
	if len(s) > n {
		return s[:n]
	}
	return s
}

func retryableStatus(code int) bool {
	return code == http.StatusTooManyRequests || (code >= 500 && code <= 599)
}

// do issues a request through the retry wrapper. A retryable status that survives every attempt is
// returned as a response, transport failures as an error.
func (c *Client) do(ctx context.Context, policy RetryPolicy, method, url string, header http.Header, body []byte) (*response, error) {
	var lastErr error
	for attempt := 0; attempt < policy.MaxAttempts; attempt++ {
		resp, err := c.once(ctx, policy.Timeout, method, url, header, body)
		last := attempt == policy.MaxAttempts-1
		switch {
		case err != nil:
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr = err
			if last {
				return nil, fmt.Errorf("%s %s: %w", method, url, lastErr)
			}
		case retryableStatus(resp.StatusCode) && !last:
			lastErr = fmt.Errorf("%s %s: status %d", method, url, resp.StatusCode)
		default:
			return resp, nil
		}

		if err := sleepContext(ctx, policy.backoff(attempt)); err != nil {
			return nil, err
		}
	}
	return nil, lastErr
}

func (c *Client) once(ctx context.Context, timeout time.Duration, method, url string, header http.Header, body []byte) (*response, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(attemptCtx, method, url, reader)
	if err != nil {
		return nil, err
	}
	for k, v := range header {
		req.Header[k] = v
	}

	res, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	data, err := io.ReadAll(io.LimitReader(res.Body, maxResponseBody))
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	return &response{StatusCode: res.StatusCode, Header: res.Header, Body: data}, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
