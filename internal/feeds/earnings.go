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

// NewEPSSurprises alerts when the latest reported quarter beat or missed the
// consensus estimate by a wide margin. Estimates keep settling after a report
// is first published, so this feed is meant for windowed dedup.
func NewEPSSurprises(src Sources, s Settings) pipeline.Feed[finnhub.EarningsSurprise] {
	threshold := significance.Magnitude{MinPrimary: s.MinPrimary}
	limit := s.PerQueryLimit
	if limit <= 0 {
		limit = 1
	}

	return pipeline.Feed[finnhub.EarningsSurprise]{
		Name:    EPSSurprises,
		Queries: watchlistQueries(src.Watchlist, 0),
		Fetch: func(ctx context.Context, q pipeline.Query) ([]finnhub.EarningsSurprise, error) {
			return src.Finnhub.Earnings(ctx, q.Symbol, limit)
		},
		Key: func(e finnhub.EarningsSurprise) string {
			if e.Period == "" {
				return ""
			}
			return fmt.Sprintf("%s_%s", e.Symbol, e.Period)
		},
		Significant: func(e finnhub.EarningsSurprise) bool {
			if e.Actual == nil {
				return false
			}
			return threshold.Significant(e.SurprisePct(), 0)
		},
		Format: func(_ context.Context, e finnhub.EarningsSurprise) discord.Embed {
			return formatEarnings(e, src.now())
		},
		PerQueryLimit: limit,
		MaxAlerts:     s.MaxAlerts,
		Retention:     s.Retention,
	}
}

func deref(p *float64) float64 {
	if p == nil {
		return 0
	}
	return *p
}

func formatEarnings(e finnhub.EarningsSurprise, now time.Time) discord.Embed {
	actual, estimate := deref(e.Actual), deref(e.Estimate)

	result, emoji, color := "🟡 MET", "➡️", discord.ColorYellow
	switch {
	case actual > estimate:
		result, emoji, color = "🟢 BEAT", "📈", discord.ColorGreen
	case actual < estimate:
		result, emoji, color = "🔴 MISS", "📉", discord.ColorRed
	}

	surprise := actual - estimate
	if e.Surprise != nil {
		surprise = *e.Surprise
	}

	d := discord.Embed{
		Title:       fmt.Sprintf("%s Earnings %s: %s", emoji, result, e.Symbol),
		Description: fmt.Sprintf("**%s**", orNA(e.Period)),
		Color:       color,
		Footer:      &discord.Footer{Text: "Finnhub Earnings Surprises"},
		Timestamp:   timestamp(now),
	}
	d.AddField("Actual EPS", fmt.Sprintf("$%.2f", actual), true).
		AddField("Estimated EPS", fmt.Sprintf("$%.2f", estimate), true).
		AddField("Surprise", fmt.Sprintf("$%.2f", surprise), true).
		AddField("Surprise %", fmt.Sprintf("%+.2f%%", e.SurprisePct()), true)
	return d
}
