package feeds

import (
	"context"
	"fmt"
	"time"

	"github.com/rewired-gh/finnwatch/internal/discord"
	"github.com/rewired-gh/finnwatch/internal/finnhub"
	"github.com/rewired-gh/finnwatch/internal/pipeline"
	"github.com/rewired-gh/finnwatch/internal/significance"
)

// NewIPOCalendar alerts on large IPOs, both recently priced (within lookback)
// and upcoming (within lookahead). The two ranges share today, so an IPO may
// be fetched twice; history collapses it into one alert.
func NewIPOCalendar(src Sources, s Settings) pipeline.Feed[finnhub.IPO] {
	threshold := significance.Existence{Min: s.MinPrimary, Missing: s.Missing}

	return pipeline.Feed[finnhub.IPO]{
		Name: IPOCalendar,
		Queries: func(now time.Time) []pipeline.Query {
			return []pipeline.Query{
				{From: now.Add(-s.Lookback), To: now},
				{From: now, To: now.Add(s.Lookahead)},
			}
		},
		Fetch: func(ctx context.Context, q pipeline.Query) ([]finnhub.IPO, error) {
			return src.Finnhub.IPOCalendar(ctx, q.From, q.To)
		},
		Key: func(ipo finnhub.IPO) string {
			id := ipo.Symbol
			if id == "" {
				id = ipo.Name
			}
			if id == "" {
				return ""
			}
			return fmt.Sprintf("%s_%s", id, ipo.Date)
		},
		Significant: func(ipo finnhub.IPO) bool {
			return threshold.Significant(ipo.TotalSharesValue)
		},
		Format: func(_ context.Context, ipo finnhub.IPO) discord.Embed {
			return formatIPO(ipo, src.now())
		},
		PerQueryLimit: s.PerQueryLimit,
		MaxAlerts:     s.MaxAlerts,
		Retention:     s.Retention,
	}
}

func formatIPO(ipo finnhub.IPO, now time.Time) discord.Embed {
	title, color := "🆕 Recent IPO", discord.ColorGreen
	if ipo.Date > now.UTC().Format("2006-01-02") {
		title, color = "📅 Upcoming IPO", discord.ColorBlue
	}

	valuation := notAvailable
	if v := deref(ipo.TotalSharesValue); v > 0 {
		valuation = billions(v)
	}

	e := discord.Embed{
		Title:       fmt.Sprintf("%s: %s", title, orNA(ipo.Symbol)),
		Description: fmt.Sprintf("**%s**", orNA(ipo.Name)),
		Color:       color,
		Footer:      &discord.Footer{Text: "Finnhub IPO Calendar"},
		Timestamp:   timestamp(now),
	}
	e.AddField("Date", orNA(ipo.Date), true).
		AddField("Exchange", orNA(ipo.Exchange), true).
		AddField("Valuation", valuation, true).
		AddField("Status", orNA(ipo.Status), true)
	if ipo.Price != "" {
		e.AddField("Price", "$"+ipo.Price, true)
	}
	return e
}
