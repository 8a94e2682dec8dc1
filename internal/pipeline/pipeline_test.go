package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/rewired-gh/finnwatch/internal/discord"
	"github.com/rewired-gh/finnwatch/internal/finnhub"
	"github.com/rewired-gh/finnwatch/internal/history"
	"github.com/rewired-gh/finnwatch/internal/metrics"
	"github.com/rewired-gh/finnwatch/internal/storage"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type event struct {
	Symbol string  `json:"symbol"`
	Date   string  `json:"date"`
	Value  float64 `json:"value"`
}

type fakeDeliverer struct {
	calls  [][]discord.Embed
	fail   bool
	onSend func()
}

func (f *fakeDeliverer) Deliver(_ context.Context, embeds []discord.Embed) (discord.Result, error) {
	f.calls = append(f.calls, embeds)
	if f.onSend != nil {
		f.onSend()
	}
	if f.fail {
		return discord.Result{Failed: len(embeds), Batches: 1, FailedBatches: 1}, nil
	}
	return discord.Result{Sent: len(embeds), Batches: 1}, nil
}

func (f *fakeDeliverer) titles() []string {
	var out []string
	for _, call := range f.calls {
		for _, e := range call {
			out = append(out, e.Title)
		}
	}
	return out
}

// testFeed serves data[symbol] for each symbol in order.
func testFeed(symbols []string, data map[string][]event) Feed[event] {
	return Feed[event]{
		Name: "test",
		Queries: func(time.Time) []Query {
			qs := make([]Query, len(symbols))
			for i, s := range symbols {
				qs[i] = Query{Symbol: s}
			}
			return qs
		},
		Fetch: func(_ context.Context, q Query) ([]event, error) {
			return data[q.Symbol], nil
		},
		Key:         func(e event) string { return e.Symbol + "_" + e.Date },
		Significant: func(e event) bool { return e.Value >= 100 },
		Format: func(_ context.Context, e event) discord.Embed {
			return discord.Embed{Title: e.Symbol + " " + e.Date}
		},
	}
}

type harness struct {
	path string
	now  time.Time
	out  *fakeDeliverer
	rec  *metrics.Recorder
}

func newHarness(t *testing.T) *harness {
	return &harness{
		path: filepath.Join(t.TempDir(), "history.json"),
		now:  time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
		out:  &fakeDeliverer{},
		rec:  metrics.New(),
	}
}

func (h *harness) run(ctx context.Context, feed Feed[event], policy history.Policy) (Summary, error) {
	store := history.New(storage.NewJSONFile(h.path), policy)
	now := h.now
	return Run(ctx, feed, Deps{
		History:  store,
		Delivery: h.out,
		Metrics:  h.rec,
		Now:      func() time.Time { return now },
	})
}

func (h *harness) stored(t *testing.T) *history.Store {
	t.Helper()
	s := history.New(storage.NewJSONFile(h.path), history.Policy{})
	s.Load(context.Background())
	return s
}

var simple = history.Policy{Mode: history.ModeSimple}

func TestRunIsIdempotentAcrossRuns(t *testing.T) {
	h := newHarness(t)
	feed := testFeed([]string{"AAPL", "MSFT"}, map[string][]event{
		"AAPL": {{"AAPL", "2024-04-30", 500}, {"AAPL", "2024-04-29", 5}},
		"MSFT": {{"MSFT", "2024-04-30", 150}},
	})

	sum, err := h.run(context.Background(), feed, simple)
	require.NoError(t, err)
	assert.Equal(t, 3, sum.Observed)
	assert.Equal(t, 2, sum.Significant)
	assert.Equal(t, 2, sum.Notified)
	assert.Equal(t, 3, sum.HistoryRecords)
	assert.Equal(t, []string{"AAPL 2024-04-30", "MSFT 2024-04-30"}, h.out.titles())

	h.now = h.now.Add(time.Hour)
	sum, err = h.run(context.Background(), feed, simple)
	require.NoError(t, err)
	assert.Zero(t, sum.Notified)
	assert.Equal(t, 2, sum.Suppressed)
	assert.Len(t, h.out.calls, 1, "nothing delivered on the second run")

	rec, ok := h.stored(t).Get("AAPL_2024-04-30")
	require.True(t, ok)
	assert.True(t, rec.Alerted)
	assert.Equal(t, time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC), rec.FirstSeen.UTC())
	assert.Equal(t, time.Date(2024, 5, 1, 13, 0, 0, 0, time.UTC), rec.LastSeen.UTC())

	rec, ok = h.stored(t).Get("AAPL_2024-04-29")
	require.True(t, ok)
	assert.False(t, rec.Alerted, "insignificant events are recorded, not alerted")
}

func TestRunWindowedRealert(t *testing.T) {
	windowed := history.Policy{Mode: history.ModeWindowed, Window: 48 * time.Hour}
	data := map[string][]event{"NVDA": {{"NVDA", "2024Q1", 10}}}
	feed := testFeed([]string{"NVDA"}, data)
	h := newHarness(t)

	// estimate still settling: observed but not significant
	sum, err := h.run(context.Background(), feed, windowed)
	require.NoError(t, err)
	assert.Zero(t, sum.Notified)

	data["NVDA"][0].Value = 900
	h.now = h.now.Add(10 * time.Hour)
	sum, err = h.run(context.Background(), feed, windowed)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Notified, "became significant within the window")

	h.now = h.now.Add(time.Hour)
	sum, err = h.run(context.Background(), feed, windowed)
	require.NoError(t, err)
	assert.Zero(t, sum.Notified, "alerts at most once")
}

func TestRunWindowedExpired(t *testing.T) {
	windowed := history.Policy{Mode: history.ModeWindowed, Window: 48 * time.Hour}
	data := map[string][]event{"NVDA": {{"NVDA", "2024Q1", 10}}}
	feed := testFeed([]string{"NVDA"}, data)
	h := newHarness(t)

	_, err := h.run(context.Background(), feed, windowed)
	require.NoError(t, err)

	data["NVDA"][0].Value = 900
	h.now = h.now.Add(100 * time.Hour)
	sum, err := h.run(context.Background(), feed, windowed)
	require.NoError(t, err)
	assert.Zero(t, sum.Notified)
	assert.Equal(t, 1, sum.Suppressed)
}

func TestRunEvictionMakesKeyNewAgain(t *testing.T) {
	h := newHarness(t)
	feed := testFeed([]string{"TSLA"}, map[string][]event{"TSLA": {{"TSLA", "2024-04-01", 1000}}})
	feed.Retention = 30 * 24 * time.Hour

	sum, err := h.run(context.Background(), feed, simple)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Notified)

	h.now = h.now.Add(10 * 24 * time.Hour)
	sum, err = h.run(context.Background(), feed, simple)
	require.NoError(t, err)
	assert.Zero(t, sum.Notified)
	assert.Zero(t, sum.Evicted)

	h.now = h.now.Add(21 * 24 * time.Hour)
	sum, err = h.run(context.Background(), feed, simple)
	require.NoError(t, err)
	assert.Zero(t, sum.Notified, "eviction happens after the run's lookups")
	assert.Equal(t, 1, sum.Evicted)
	assert.Zero(t, sum.HistoryRecords)

	h.now = h.now.Add(time.Hour)
	sum, err = h.run(context.Background(), feed, simple)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Notified, "an evicted key is new again")
	assert.Equal(t, 1, sum.HistoryRecords)
}

func TestRunCorruptHistory(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, os.WriteFile(h.path, []byte("{{ not json"), 0o644))

	feed := testFeed([]string{"AMD"}, map[string][]event{"AMD": {{"AMD", "2024-04-30", 300}}})

	sum, err := h.run(context.Background(), feed, simple)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Notified)

	sum, err = h.run(context.Background(), feed, simple)
	require.NoError(t, err)
	assert.Zero(t, sum.Notified, "snapshot was rewritten")
	assert.True(t, h.stored(t).Contains("AMD_2024-04-30"))
}

func TestRunCapMarksOverflowSeen(t *testing.T) {
	h := newHarness(t)
	var items []event
	for d := 1; d <= 8; d++ {
		items = append(items, event{"META", fmt.Sprintf("2024-04-%02d", d), 200})
	}
	feed := testFeed([]string{"META"}, map[string][]event{"META": items})
	feed.MaxAlerts = 5
	feed.Less = func(a, b event) bool { return a.Date > b.Date }

	sum, err := h.run(context.Background(), feed, simple)
	require.NoError(t, err)
	assert.Equal(t, 5, sum.Notified)
	assert.Equal(t, 3, sum.Capped)
	assert.Equal(t, []string{
		"META 2024-04-08", "META 2024-04-07", "META 2024-04-06", "META 2024-04-05", "META 2024-04-04",
	}, h.out.titles())

	sum, err = h.run(context.Background(), feed, simple)
	require.NoError(t, err)
	assert.Zero(t, sum.Notified, "capped events are never re-alerted")

	rec, ok := h.stored(t).Get("META_2024-04-01")
	require.True(t, ok)
	assert.True(t, rec.Alerted)
}

func TestRunPerQueryLimit(t *testing.T) {
	h := newHarness(t)
	var items []event
	for d := 1; d <= 10; d++ {
		items = append(items, event{"ORCL", fmt.Sprintf("2024-04-%02d", d), 200})
	}
	feed := testFeed([]string{"ORCL"}, map[string][]event{"ORCL": items})
	feed.PerQueryLimit = 7

	sum, err := h.run(context.Background(), feed, simple)
	require.NoError(t, err)
	assert.Equal(t, 7, sum.Observed)
	assert.Equal(t, 7, sum.HistoryRecords)
}

func TestRunDuplicateWithinRun(t *testing.T) {
	h := newHarness(t)
	dup := event{"NEWCO", "2024-05-10", 5000}
	feed := testFeed([]string{"recent", "upcoming"}, map[string][]event{
		"recent":   {dup},
		"upcoming": {dup},
	})

	sum, err := h.run(context.Background(), feed, simple)
	require.NoError(t, err)
	assert.Equal(t, 2, sum.Observed)
	assert.Equal(t, 1, sum.Notified)
	assert.Equal(t, 1, sum.Suppressed)
}

func TestRunFetchFailureContinues(t *testing.T) {
	h := newHarness(t)
	feed := testFeed([]string{"A", "B", "C"}, map[string][]event{
		"A": {{"A", "d", 100}},
		"C": {{"C", "d", 100}},
	})
	fetch := feed.Fetch
	feed.Fetch = func(ctx context.Context, q Query) ([]event, error) {
		if q.Symbol == "B" {
			return nil, fmt.Errorf("finnhub /stock/x after 3 attempts: %w", finnhub.ErrRateLimited)
		}
		return fetch(ctx, q)
	}

	sum, err := h.run(context.Background(), feed, simple)
	require.NoError(t, err)
	assert.Equal(t, 3, sum.Queries)
	assert.Equal(t, 1, sum.FailedQueries)
	assert.Equal(t, []string{"A d", "C d"}, h.out.titles())
}

func TestRunAllQueriesFailed(t *testing.T) {
	h := newHarness(t)
	feed := testFeed([]string{"A", "B"}, nil)
	feed.Fetch = func(context.Context, Query) ([]event, error) {
		return nil, &finnhub.APIError{Endpoint: "/stock/x", StatusCode: 503}
	}

	sum, err := h.run(context.Background(), feed, simple)
	assert.ErrorIs(t, err, ErrNoData)
	assert.Equal(t, 2, sum.FailedQueries)
	assert.Empty(t, h.out.calls)
	assert.FileExists(t, h.path, "history is still persisted")
}

func TestRunDeliveryFailure(t *testing.T) {
	h := newHarness(t)
	h.out.fail = true
	feed := testFeed([]string{"PLTR"}, map[string][]event{"PLTR": {{"PLTR", "d", 100}}})

	sum, err := h.run(context.Background(), feed, simple)
	assert.ErrorIs(t, err, ErrDeliveryFailed)
	assert.Equal(t, 1, sum.Delivery.Failed)
	assert.True(t, h.stored(t).Contains("PLTR_d"), "history saved despite delivery failure")
}

func TestRunCanceledSkipsDeliveryAndSave(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	feed := testFeed([]string{"A", "B"}, map[string][]event{
		"A": {{"A", "d", 100}},
		"B": {{"B", "d", 100}},
	})
	fetch := feed.Fetch
	feed.Fetch = func(ctx context.Context, q Query) ([]event, error) {
		if q.Symbol == "B" {
			cancel()
			return nil, ctx.Err()
		}
		return fetch(ctx, q)
	}

	_, err := h.run(ctx, feed, simple)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, h.out.calls)
	assert.NoFileExists(t, h.path)
}

func TestRunCanceledDuringDeliverySkipsSave(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.out.onSend = cancel

	feed := testFeed([]string{"A"}, map[string][]event{"A": {{"A", "d", 100}}})

	_, err := h.run(ctx, feed, simple)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Len(t, h.out.calls, 1)
	assert.NoFileExists(t, h.path)
}

func TestRunnerInterface(t *testing.T) {
	h := newHarness(t)
	var r Runner = testFeed([]string{"A"}, map[string][]event{"A": {{"A", "d", 100}}})
	assert.Equal(t, "test", r.FeedName())

	sum, err := r.Run(context.Background(), Deps{
		History:  history.New(storage.NewJSONFile(h.path), simple),
		Delivery: h.out,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Notified)
}

func TestQueryString(t *testing.T) {
	assert.Equal(t, "AAPL", Query{Symbol: "AAPL"}.String())
	from := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, "2024-05-01..2024-06-30", Query{From: from, To: from.AddDate(0, 0, 60)}.String())
}
