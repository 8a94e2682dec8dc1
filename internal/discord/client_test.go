package discord

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const hookURL = "https://discord.test/api/webhooks/1/abc"

func newTestClient() (*Client, *httpmock.MockTransport, *[]time.Duration) {
	mt := httpmock.NewMockTransport()
	c := NewClient(hookURL, Options{Transport: mt})
	var slept []time.Duration
	c.sleep = func(ctx context.Context, d time.Duration) error {
		slept = append(slept, d)
		return ctx.Err()
	}
	return c, mt, &slept
}

func embeds(n int) []Embed {
	out := make([]Embed, n)
	for i := range out {
		out[i] = Embed{Title: fmt.Sprintf("alert %d", i), Color: ColorBlue}
	}
	return out
}

func TestDeliverRetriesRateLimitedBatchOnce(t *testing.T) {
	c, mt, slept := newTestClient()

	var sizes []int
	calls := 0
	mt.RegisterResponder(http.MethodPost, hookURL, func(req *http.Request) (*http.Response, error) {
		calls++
		raw, _ := io.ReadAll(req.Body)
		var msg message
		if err := json.Unmarshal(raw, &msg); err != nil {
			return httpmock.NewStringResponse(http.StatusBadRequest, ""), nil
		}
		sizes = append(sizes, len(msg.Embeds))
		if calls == 2 {
			return httpmock.NewStringResponse(http.StatusTooManyRequests, `{"retry_after":1.5}`), nil
		}
		return httpmock.NewStringResponse(http.StatusNoContent, ""), nil
	})

	res, err := c.Deliver(context.Background(), embeds(23))
	require.NoError(t, err)

	assert.Equal(t, 23, res.Sent)
	assert.Equal(t, 0, res.Failed)
	assert.Equal(t, 3, res.Batches)
	assert.True(t, res.OK())
	assert.Equal(t, 4, calls)
	assert.Equal(t, []int{10, 10, 10, 3}, sizes)
	// interval, cooldown, interval
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, time.Second}, *slept)
}

func TestDeliverPartialFailureContinues(t *testing.T) {
	c, mt, _ := newTestClient()

	calls := 0
	mt.RegisterResponder(http.MethodPost, hookURL, func(req *http.Request) (*http.Response, error) {
		calls++
		if calls == 1 {
			return httpmock.NewStringResponse(http.StatusInternalServerError, ""), nil
		}
		return httpmock.NewStringResponse(http.StatusOK, ""), nil
	})

	res, err := c.Deliver(context.Background(), embeds(15))
	require.NoError(t, err)
	assert.Equal(t, Result{Sent: 5, Failed: 10, Batches: 2, FailedBatches: 1}, res)
	assert.True(t, res.OK())
}

func TestDeliverRateLimitedTwiceGivesUp(t *testing.T) {
	c, mt, _ := newTestClient()
	mt.RegisterResponder(http.MethodPost, hookURL, httpmock.NewStringResponder(http.StatusTooManyRequests, ""))

	res, err := c.Deliver(context.Background(), embeds(4))
	require.NoError(t, err)
	assert.Equal(t, 0, res.Sent)
	assert.Equal(t, 4, res.Failed)
	assert.False(t, res.OK())
	assert.Equal(t, 2, mt.GetTotalCallCount())
}

func TestDeliverTransportError(t *testing.T) {
	c, mt, _ := newTestClient()
	mt.RegisterResponder(http.MethodPost, hookURL, httpmock.NewErrorResponder(errors.New("dial tcp: refused")))

	res, err := c.Deliver(context.Background(), embeds(12))
	require.NoError(t, err)
	assert.Equal(t, Result{Failed: 12, Batches: 2, FailedBatches: 2}, res)
}

func TestDeliverNoWebhook(t *testing.T) {
	mt := httpmock.NewMockTransport()
	c := NewClient("", Options{Transport: mt})

	res, err := c.Deliver(context.Background(), embeds(3))
	assert.ErrorIs(t, err, ErrNoWebhook)
	assert.Equal(t, 3, res.Failed)
	assert.Zero(t, mt.GetTotalCallCount())
}

func TestDeliverNothing(t *testing.T) {
	c, mt, _ := newTestClient()

	res, err := c.Deliver(context.Background(), nil)
	require.NoError(t, err)
	assert.True(t, res.OK())
	assert.Zero(t, mt.GetTotalCallCount())
}

func TestDeliverCanceledBetweenBatches(t *testing.T) {
	c, mt, _ := newTestClient()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	mt.RegisterResponder(http.MethodPost, hookURL, httpmock.NewStringResponder(http.StatusNoContent, ""))
	c.sleep = func(ctx context.Context, _ time.Duration) error {
		cancel()
		return ctx.Err()
	}

	res, err := c.Deliver(ctx, embeds(25))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 10, res.Sent)
	assert.Equal(t, 15, res.Failed)
	assert.Equal(t, 1, mt.GetTotalCallCount())
}

func TestEmbedJSON(t *testing.T) {
	e := Embed{Title: "AAPL", Color: ColorGreen, Footer: &Footer{Text: "Insider Transactions"}}
	e.AddField("Shares", "12,000", true).AddField("Value", "$1.2M", true)

	raw, err := json.Marshal(message{Embeds: []Embed{e}})
	require.NoError(t, err)
	assert.JSONEq(t, `{"embeds":[{"title":"AAPL","color":3066993,
		"fields":[{"name":"Shares","value":"12,000","inline":true},{"name":"Value","value":"$1.2M","inline":true}],
		"footer":{"text":"Insider Transactions"}}]}`, string(raw))
}
