// Package pipeline runs one feed end to end: fetch every query in order,
// evaluate significance, consult and update history, deliver the selected
// alerts in batches and persist history.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/rewired-gh/finnwatch/internal/discord"
	"github.com/rewired-gh/finnwatch/internal/finnhub"
	"github.com/rewired-gh/finnwatch/internal/history"
	"github.com/rewired-gh/finnwatch/internal/logger"
	"github.com/rewired-gh/finnwatch/internal/metrics"
)

var (
	// ErrNoData is returned when every query of a run failed to fetch.
	ErrNoData = errors.New("every upstream query failed")
	// ErrDeliveryFailed is returned when alerts were selected but none was
	// delivered.
	ErrDeliveryFailed = errors.New("no notification delivered")
)

// Query is one upstream request of a feed run.
type Query struct {
	Symbol string
	From   time.Time
	To     time.Time
}

func (q Query) String() string {
	if q.Symbol != "" {
		return q.Symbol
	}
	return q.From.Format("2006-01-02") + ".." + q.To.Format("2006-01-02")
}

// Feed describes one kind of event. T is the upstream record type.
type Feed[T any] struct {
	Name        string
	Queries     func(now time.Time) []Query
	Fetch       func(ctx context.Context, q Query) ([]T, error)
	Key         func(T) string
	Significant func(T) bool
	Format      func(ctx context.Context, item T) discord.Embed

	// Less orders the selected alerts before capping. Nil keeps fetch order.
	Less func(a, b T) bool
	// PerQueryLimit keeps only the first n records of each query; 0 keeps all.
	PerQueryLimit int
	// MaxAlerts caps notifications per run. Events past the cap are still
	// marked alerted. 0 means no cap.
	MaxAlerts int
	// Retention evicts records first seen longer ago; 0 keeps them forever.
	Retention time.Duration
}

// Deliverer sends formatted alerts.
type Deliverer interface {
	Deliver(ctx context.Context, embeds []discord.Embed) (discord.Result, error)
}

// Deps are the collaborators of a run.
type Deps struct {
	History  *history.Store
	Delivery Deliverer
	Metrics  *metrics.Recorder
	Now      func() time.Time
}

func (d Deps) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now()
}

// Summary reports what a run did.
type Summary struct {
	Feed           string
	Queries        int
	FailedQueries  int
	Observed       int
	Significant    int
	Notified       int
	Suppressed     int
	Capped         int
	Evicted        int
	HistoryRecords int
	Delivery       discord.Result
	Duration       time.Duration
}

// Runner is a feed with its record type erased.
type Runner interface {
	FeedName() string
	Run(ctx context.Context, deps Deps) (Summary, error)
}

// FeedName implements Runner.
func (f Feed[T]) FeedName() string { return f.Name }

// Run implements Runner.
func (f Feed[T]) Run(ctx context.Context, deps Deps) (Summary, error) {
	return Run(ctx, f, deps)
}

// Run executes one pass of feed. Fetch failures only lose the failed query;
// delivery failures are counted. History is saved unless ctx is canceled,
// in which case the last saved snapshot stays authoritative.
func Run[T any](ctx context.Context, feed Feed[T], deps Deps) (Summary, error) {
	start := deps.now()
	now := start
	sum := Summary{Feed: feed.Name}
	store := deps.History

	store.Load(ctx)
	logger.Info("[%s] Loaded %d history records (%s dedup)", feed.Name, store.Len(), store.Policy().Mode)

	var selected []T
	for _, q := range feed.Queries(now) {
		if err := ctx.Err(); err != nil {
			return sum, err
		}

		sum.Queries++
		items, err := feed.Fetch(ctx, q)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return sum, ctxErr
			}
			sum.FailedQueries++
			kind := finnhub.Kind(err)
			logger.Warn("[%s] Fetch %s failed (%s): %v", feed.Name, q, kind, err)
			deps.Metrics.FetchFailed(feed.Name, kind)
			continue
		}
		if feed.PerQueryLimit > 0 && len(items) > feed.PerQueryLimit {
			items = items[:feed.PerQueryLimit]
		}

		for _, item := range items {
			key := feed.Key(item)
			if key == "" {
				logger.Debug("[%s] Skipping record without key from %s", feed.Name, q)
				continue
			}
			sum.Observed++

			significant := feed.Significant(item)
			if significant {
				sum.Significant++
			}

			alert := store.ShouldAlert(key, significant, now)
			store.Upsert(key, encodePayload(item), now)
			if alert {
				store.MarkAlerted(key, now)
				selected = append(selected, item)
			} else if significant {
				sum.Suppressed++
			}
		}
	}

	if feed.Less != nil {
		sort.SliceStable(selected, func(i, j int) bool { return feed.Less(selected[i], selected[j]) })
	}
	if feed.MaxAlerts > 0 && len(selected) > feed.MaxAlerts {
		sum.Capped = len(selected) - feed.MaxAlerts
		sum.Suppressed += sum.Capped
		selected = selected[:feed.MaxAlerts]
	}
	sum.Notified = len(selected)

	var deliveryErr error
	if len(selected) > 0 {
		embeds := make([]discord.Embed, 0, len(selected))
		for _, item := range selected {
			embeds = append(embeds, feed.Format(ctx, item))
		}
		if err := ctx.Err(); err != nil {
			return sum, err
		}

		res, err := deps.Delivery.Deliver(ctx, embeds)
		sum.Delivery = res
		if ctxErr := ctx.Err(); ctxErr != nil {
			return sum, ctxErr
		}
		if err != nil || !res.OK() {
			deliveryErr = fmt.Errorf("[%s] %w: %d of %d failed", feed.Name, ErrDeliveryFailed, res.Failed, len(embeds))
			if err != nil {
				deliveryErr = fmt.Errorf("%w (%v)", deliveryErr, err)
			}
		}
	}

	if feed.Retention > 0 {
		sum.Evicted = store.EvictOlderThan(feed.Retention, now)
	}
	if err := store.Save(ctx); err != nil {
		return sum, err
	}
	sum.HistoryRecords = store.Len()
	sum.Duration = deps.now().Sub(start)

	deps.Metrics.ObserveRun(feed.Name, metrics.RunStats{
		Observed:       sum.Observed,
		Notified:       sum.Notified,
		Suppressed:     sum.Suppressed,
		Sent:           sum.Delivery.Sent,
		Failed:         sum.Delivery.Failed,
		HistoryRecords: sum.HistoryRecords,
		Finished:       deps.now(),
	})

	logger.Info("[%s] Run complete: %d queries (%d failed), %d observed, %d significant, %d notified, %d suppressed, %d sent, %d evicted",
		feed.Name, sum.Queries, sum.FailedQueries, sum.Observed, sum.Significant, sum.Notified,
		sum.Suppressed, sum.Delivery.Sent, sum.Evicted)

	if deliveryErr != nil {
		return sum, deliveryErr
	}
	if sum.Queries > 0 && sum.FailedQueries == sum.Queries {
		return sum, fmt.Errorf("[%s] %w (%d queries)", feed.Name, ErrNoData, sum.Queries)
	}
	return sum, nil
}

func encodePayload(item any) json.RawMessage {
	raw, err := json.Marshal(item)
	if err != nil {
		logger.Debug("Could not encode history payload: %v", err)
		return nil
	}
	return raw
}
