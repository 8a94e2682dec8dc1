// Package feeds defines the monitored Finnhub feeds as pipeline.Feed
// instances: what to query, how to key and judge each record, and how to
// render it.
package feeds

import (
	"fmt"
	"time"

	"github.com/rewired-gh/finnwatch/internal/edgar"
	"github.com/rewired-gh/finnwatch/internal/finnhub"
	"github.com/rewired-gh/finnwatch/internal/pipeline"
	"github.com/rewired-gh/finnwatch/internal/significance"
)

// Feed names, also used as config keys and metric labels.
const (
	InsiderTransactions = "insider_transactions"
	InsiderSentiment    = "insider_sentiment"
	EPSSurprises        = "eps_surprises"
	IPOCalendar         = "ipo_calendar"
	Form4               = "form4"
	Form8K              = "form8k"
)

// Names lists every feed in run order.
func Names() []string {
	return []string{InsiderTransactions, InsiderSentiment, EPSSurprises, IPOCalendar, Form4, Form8K}
}

// Sources are the upstream clients shared by all feeds of a process.
type Sources struct {
	Finnhub   *finnhub.Client
	EDGAR     *edgar.Client
	Watchlist []string
	Now       func() time.Time
}

func (s Sources) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// Settings tune one feed.
type Settings struct {
	Lookback      time.Duration
	Lookahead     time.Duration
	MinPrimary    float64
	MinSecondary  float64
	Missing       significance.MissingPolicy
	PerQueryLimit int
	MaxAlerts     int
	Retention     time.Duration
}

// Build returns the named feed.
func Build(name string, src Sources, s Settings) (pipeline.Runner, error) {
	switch name {
	case InsiderTransactions:
		return NewInsiderTransactions(src, s), nil
	case InsiderSentiment:
		return NewInsiderSentiment(src, s), nil
	case EPSSurprises:
		return NewEPSSurprises(src, s), nil
	case IPOCalendar:
		return NewIPOCalendar(src, s), nil
	case Form4:
		return NewForm4(src, s), nil
	case Form8K:
		return NewForm8K(src, s), nil
	default:
		return nil, fmt.Errorf("unknown feed %q", name)
	}
}

// watchlistQueries queries every symbol over [now-lookback, now]. A zero
// lookback leaves the range to the API.
func watchlistQueries(symbols []string, lookback time.Duration) func(time.Time) []pipeline.Query {
	return func(now time.Time) []pipeline.Query {
		qs := make([]pipeline.Query, 0, len(symbols))
		for _, sym := range symbols {
			q := pipeline.Query{Symbol: sym}
			if lookback > 0 {
				q.From = now.Add(-lookback)
				q.To = now
			}
			qs = append(qs, q)
		}
		return qs
	}
}
