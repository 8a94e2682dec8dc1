package feeds

import (
	"context"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/rewired-gh/finnwatch/internal/discord"
	"github.com/rewired-gh/finnwatch/internal/finnhub"
	"github.com/rewired-gh/finnwatch/internal/pipeline"
	"github.com/rewired-gh/finnwatch/internal/significance"
)

// NewInsiderTransactions alerts on insider trades whose dollar value or share
// delta is large.
func NewInsiderTransactions(src Sources, s Settings) pipeline.Feed[finnhub.InsiderTransaction] {
	threshold := significance.Magnitude{MinPrimary: s.MinPrimary, MinSecondary: s.MinSecondary}

	return pipeline.Feed[finnhub.InsiderTransaction]{
		Name:    InsiderTransactions,
		Queries: watchlistQueries(src.Watchlist, s.Lookback),
		Fetch: func(ctx context.Context, q pipeline.Query) ([]finnhub.InsiderTransaction, error) {
			return src.Finnhub.InsiderTransactions(ctx, q.Symbol, q.From, q.To)
		},
		Key: func(t finnhub.InsiderTransaction) string {
			return fmt.Sprintf("%s_%s_%s_%s_%s_%s", t.Symbol, t.Name, t.TransactionDate, keyNum(t.Share), keyNum(t.Change), t.TransactionCode)
		},
		Significant: func(t finnhub.InsiderTransaction) bool {
			return threshold.Significant(t.Value(), t.Change)
		},
		Format: func(_ context.Context, t finnhub.InsiderTransaction) discord.Embed {
			return formatInsiderTransaction(t, src.now())
		},
		PerQueryLimit: s.PerQueryLimit,
		MaxAlerts:     s.MaxAlerts,
		Retention:     s.Retention,
	}
}

func formatInsiderTransaction(t finnhub.InsiderTransaction, now time.Time) discord.Embed {
	kind, color := "📊 "+orNA(t.TransactionCode), discord.ColorBlue
	switch {
	case t.Change > 0:
		kind, color = "🟢 BUY", discord.ColorGreen
	case t.Change < 0:
		kind, color = "🔴 SELL", discord.ColorRed
	}

	held := notAvailable
	if t.Share != 0 {
		held = humanize.Commaf(t.Share)
	}
	price := notAvailable
	if t.TransactionPrice != 0 {
		price = fmt.Sprintf("$%.2f", t.TransactionPrice)
	}

	e := discord.Embed{
		Title:       fmt.Sprintf("%s - %s", kind, t.Symbol),
		Description: fmt.Sprintf("**%s**", orNA(t.Name)),
		Color:       color,
		Footer:      &discord.Footer{Text: "Finnhub Insider Transactions"},
		Timestamp:   timestamp(now),
	}
	e.AddField("Change", signedComma(t.Change), true).
		AddField("Transaction Value", dollars(t.Change*t.TransactionPrice), true).
		AddField("Transaction Price", price, true).
		AddField("Shares Held After", held, true).
		AddField("Transaction Code", fmt.Sprintf("%s - %s", orNA(t.TransactionCode), transactionCode(t.TransactionCode)), false).
		AddField("Transaction Date", orNA(t.TransactionDate), true).
		AddField("Filing Date", orNA(t.FilingDate), true)
	return e
}

// NewInsiderSentiment alerts on months with a strong monthly share purchase
// ratio or a large net insider share change.
func NewInsiderSentiment(src Sources, s Settings) pipeline.Feed[finnhub.InsiderSentiment] {
	threshold := significance.Magnitude{MinPrimary: s.MinPrimary, MinSecondary: s.MinSecondary}

	return pipeline.Feed[finnhub.InsiderSentiment]{
		Name:    InsiderSentiment,
		Queries: watchlistQueries(src.Watchlist, s.Lookback),
		Fetch: func(ctx context.Context, q pipeline.Query) ([]finnhub.InsiderSentiment, error) {
			return src.Finnhub.InsiderSentiment(ctx, q.Symbol, q.From, q.To)
		},
		Key: func(m finnhub.InsiderSentiment) string {
			return fmt.Sprintf("%s_%d_%d", m.Symbol, m.Year, m.Month)
		},
		Significant: func(m finnhub.InsiderSentiment) bool {
			return threshold.Significant(m.MSPR, m.Change)
		},
		Format: func(_ context.Context, m finnhub.InsiderSentiment) discord.Embed {
			return formatInsiderSentiment(m, src.now())
		},
		PerQueryLimit: s.PerQueryLimit,
		MaxAlerts:     s.MaxAlerts,
		Retention:     s.Retention,
	}
}

func formatInsiderSentiment(m finnhub.InsiderSentiment, now time.Time) discord.Embed {
	label, emoji, color := "🟡 NEUTRAL", "➡️", discord.ColorYellow
	switch {
	case m.MSPR > 0 && m.Change > 0:
		label, emoji, color = "🟢 BULLISH", "📈", discord.ColorGreen
	case m.MSPR < 0 && m.Change < 0:
		label, emoji, color = "🔴 BEARISH", "📉", discord.ColorRed
	}

	period := fmt.Sprintf("%d %d", m.Month, m.Year)
	if m.Month >= 1 && m.Month <= 12 {
		period = fmt.Sprintf("%s %d", time.Month(m.Month), m.Year)
	}

	e := discord.Embed{
		Title:       fmt.Sprintf("%s Insider Sentiment %s: %s", emoji, label, m.Symbol),
		Description: fmt.Sprintf("**%s**", period),
		Color:       color,
		Footer:      &discord.Footer{Text: "Finnhub Insider Sentiment"},
		Timestamp:   timestamp(now),
	}
	e.AddField("MSPR (Monthly Share Purchase Ratio)", fmt.Sprintf("%.2f", m.MSPR), true).
		AddField("Change", fmt.Sprintf("%+.2f", m.Change), true).
		AddField("Period", period, true)
	return e
}
