// Package discord delivers embeds to a Discord webhook in bounded batches.
package discord

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rewired-gh/finnwatch/internal/logger"
)

// MaxBatch is the largest number of embeds Discord accepts per message.
const MaxBatch = 10

// ErrNoWebhook is returned by Deliver when the client has no URL.
var ErrNoWebhook = errors.New("discord webhook URL not configured")

// Options tunes a Client. Zero values take the defaults.
type Options struct {
	Timeout   time.Duration // per request, default 10s
	BatchSize int           // default and upper bound MaxBatch
	Cooldown  time.Duration // wait before the single 429 retry, default 2s
	Interval  time.Duration // pause between batches, default 1s
	Transport http.RoundTripper
}

// Result is the outcome of one Deliver call, counted in embeds.
type Result struct {
	Sent          int
	Failed        int
	Batches       int
	FailedBatches int
}

// OK reports whether the delivery counts as a success: something was sent,
// or there was nothing to send.
func (r Result) OK() bool {
	return r.Sent > 0 || r.Failed == 0
}

// Client posts embeds to one webhook.
type Client struct {
	webhookURL string
	httpClient *http.Client
	batchSize  int
	cooldown   time.Duration
	interval   time.Duration
	sleep      func(ctx context.Context, d time.Duration) error
}

// NewClient creates a webhook client. An empty URL is accepted; Deliver then
// fails with ErrNoWebhook before any network call.
func NewClient(webhookURL string, opts Options) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.BatchSize <= 0 || opts.BatchSize > MaxBatch {
		opts.BatchSize = MaxBatch
	}
	if opts.Cooldown <= 0 {
		opts.Cooldown = 2 * time.Second
	}
	if opts.Interval <= 0 {
		opts.Interval = time.Second
	}
	return &Client{
		webhookURL: webhookURL,
		httpClient: &http.Client{Timeout: opts.Timeout, Transport: opts.Transport},
		batchSize:  opts.BatchSize,
		cooldown:   opts.Cooldown,
		interval:   opts.Interval,
		sleep:      sleepContext,
	}
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

// Deliver sends embeds in order, in batches. A failed batch never stops the
// remaining ones. The returned error is non-nil only for a missing webhook or
// a canceled context; per-batch failures are reported through Result.
func (c *Client) Deliver(ctx context.Context, embeds []Embed) (Result, error) {
	var res Result
	if len(embeds) == 0 {
		return res, nil
	}
	if c.webhookURL == "" {
		return Result{Failed: len(embeds)}, ErrNoWebhook
	}

	for start := 0; start < len(embeds); start += c.batchSize {
		end := min(start+c.batchSize, len(embeds))
		batch := embeds[start:end]

		if start > 0 {
			if err := c.sleep(ctx, c.interval); err != nil {
				res.Failed += len(embeds) - start
				return res, err
			}
		}

		res.Batches++
		if err := c.sendBatch(ctx, batch); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				res.Failed += len(embeds) - start
				return res, ctxErr
			}
			logger.Error("Discord batch %d (%d embeds) failed: %v", res.Batches, len(batch), err)
			res.Failed += len(batch)
			res.FailedBatches++
			continue
		}
		res.Sent += len(batch)
	}

	logger.Info("Discord delivery: %d sent, %d failed in %d batch(es)", res.Sent, res.Failed, res.Batches)
	return res, nil
}

// sendBatch posts one batch, retrying exactly once after the cooldown when
// the webhook answers 429.
func (c *Client) sendBatch(ctx context.Context, batch []Embed) error {
	body, err := json.Marshal(message{Embeds: batch})
	if err != nil {
		return fmt.Errorf("failed to encode batch: %w", err)
	}

	status, err := c.post(ctx, body)
	if err != nil {
		return err
	}
	if status == http.StatusTooManyRequests {
		logger.Warn("Discord rate limit hit, retrying in %v", c.cooldown)
		if err := c.sleep(ctx, c.cooldown); err != nil {
			return err
		}
		status, err = c.post(ctx, body)
		if err != nil {
			return err
		}
	}
	if status < 200 || status >= 300 {
		return fmt.Errorf("webhook returned HTTP %d", status)
	}
	return nil
}

func (c *Client) post(ctx context.Context, body []byte) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.webhookURL, bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, err
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
	return resp.StatusCode, nil
}
