// Package finnhub is a rate-limit aware client for the Finnhub REST API.
//
// Every request draws the next key from a CredentialPool. HTTP 429 responses
// are retried with linear backoff on the following key; any other failure is
// returned immediately as a typed error so callers can tell "no data this
// cycle" apart from "no events".
package finnhub

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/rewired-gh/finnwatch/internal/logger"
)

const dateLayout = "2006-01-02"

// ClientConfig holds optional tuning for Client.
type ClientConfig struct {
	MaxRetries     int           // attempts per request when rate limited
	RetryDelayBase time.Duration // backoff after attempt n is n * RetryDelayBase
	// MinInterval is the cooperative spacing between requests. Zero derives
	// it from the pool size; negative disables pacing.
	MinInterval time.Duration
	Transport   http.RoundTripper
}

// Client provides access to the Finnhub API.
type Client struct {
	baseURL        string
	pool           *CredentialPool
	httpClient     *http.Client
	maxRetries     int
	retryDelayBase time.Duration
	limiter        *rate.Limiter
	sleep          func(ctx context.Context, d time.Duration) error
}

// DefaultMinInterval keeps a pool of n free-tier keys under 60 requests per
// minute per key with some headroom.
func DefaultMinInterval(n int) time.Duration {
	if n > 1 {
		return 400 * time.Millisecond
	}
	return time.Second
}

// NewClient creates a new Finnhub client.
func NewClient(baseURL string, pool *CredentialPool, timeout time.Duration, cfg ClientConfig) *Client {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryDelayBase <= 0 {
		cfg.RetryDelayBase = 5 * time.Second
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	limit := rate.Inf
	switch {
	case cfg.MinInterval == 0:
		limit = rate.Every(DefaultMinInterval(pool.Len()))
	case cfg.MinInterval > 0:
		limit = rate.Every(cfg.MinInterval)
	}

	return &Client{
		baseURL:        strings.TrimRight(baseURL, "/"),
		pool:           pool,
		httpClient:     &http.Client{Timeout: timeout, Transport: cfg.Transport},
		maxRetries:     cfg.MaxRetries,
		retryDelayBase: cfg.RetryDelayBase,
		limiter:        rate.NewLimiter(limit, 1),
		sleep:          sleepContext,
	}
}

// Credentials returns the number of keys the client rotates through.
func (c *Client) Credentials() int {
	return c.pool.Len()
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

// getJSON performs GET endpoint?params and decodes the body into out.
func (c *Client) getJSON(ctx context.Context, endpoint string, params url.Values, out any) error {
	for attempt := 1; attempt <= c.maxRetries; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}

		resp, err := c.doRequest(ctx, endpoint, params)
		if err != nil {
			return fmt.Errorf("finnhub %s: %w", endpoint, err)
		}

		if resp.StatusCode == http.StatusTooManyRequests {
			drainAndClose(resp)
			if attempt == c.maxRetries {
				break
			}
			wait := c.retryDelayBase * time.Duration(attempt)
			logger.Warn("Rate limit hit on %s, waiting %v (attempt %d/%d)", endpoint, wait, attempt, c.maxRetries)
			if err := c.sleep(ctx, wait); err != nil {
				return err
			}
			continue
		}

		return decodeResponse(endpoint, resp, out)
	}
	return fmt.Errorf("finnhub %s after %d attempts: %w", endpoint, c.maxRetries, ErrRateLimited)
}

func (c *Client) doRequest(ctx context.Context, endpoint string, params url.Values) (*http.Response, error) {
	q := url.Values{}
	for k, v := range params {
		q[k] = v
	}
	q.Set("token", c.pool.Next())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+endpoint+"?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	return c.httpClient.Do(req)
}

func decodeResponse(endpoint string, resp *http.Response, out any) error {
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return &APIError{
			Endpoint:   endpoint,
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(body)),
		}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("finnhub %s: %w: %v", endpoint, errDecode, err)
	}
	return nil
}

func drainAndClose(resp *http.Response) {
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
}

func dateRange(from, to time.Time) url.Values {
	q := url.Values{}
	if !from.IsZero() {
		q.Set("from", from.Format(dateLayout))
	}
	if !to.IsZero() {
		q.Set("to", to.Format(dateLayout))
	}
	return q
}
