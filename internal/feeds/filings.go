package feeds

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/rewired-gh/finnwatch/internal/discord"
	"github.com/rewired-gh/finnwatch/internal/edgar"
	"github.com/rewired-gh/finnwatch/internal/finnhub"
	"github.com/rewired-gh/finnwatch/internal/pipeline"
	"github.com/rewired-gh/finnwatch/internal/significance"
)

// NewForm4 alerts on the most recently filed insider trades worth at least
// MinPrimary dollars, linking each to its SEC document. Trades without a
// price are judged by the missing-value policy.
func NewForm4(src Sources, s Settings) pipeline.Feed[finnhub.InsiderTransaction] {
	threshold := significance.Existence{Min: s.MinPrimary, Missing: s.Missing}

	return pipeline.Feed[finnhub.InsiderTransaction]{
		Name:    Form4,
		Queries: watchlistQueries(src.Watchlist, s.Lookback),
		Fetch: func(ctx context.Context, q pipeline.Query) ([]finnhub.InsiderTransaction, error) {
			return src.Finnhub.InsiderTransactions(ctx, q.Symbol, q.From, q.To)
		},
		Key: func(t finnhub.InsiderTransaction) string {
			return fmt.Sprintf("%s_%s_%s_%s_%s", t.Symbol, t.Name, t.TransactionDate, keyNum(math.Abs(t.Change)), keyNum(t.Change))
		},
		Significant: func(t finnhub.InsiderTransaction) bool {
			v := t.Value()
			return threshold.Significant(&v)
		},
		Less: func(a, b finnhub.InsiderTransaction) bool {
			return a.FilingDate > b.FilingDate
		},
		Format: func(ctx context.Context, t finnhub.InsiderTransaction) discord.Embed {
			link := ""
			if src.EDGAR != nil {
				link = src.EDGAR.Form4URL(ctx, t.Symbol, t.FilingDate)
			}
			return formatForm4(t, link, src.now())
		},
		PerQueryLimit: s.PerQueryLimit,
		MaxAlerts:     s.MaxAlerts,
		Retention:     s.Retention,
	}
}

func formatForm4(t finnhub.InsiderTransaction, link string, now time.Time) discord.Embed {
	title, verb, color := "🔴 INSIDER SELL", "is selling", discord.ColorRed
	signal := "⚠️ Insider is selling"
	if t.Change > 0 {
		title, verb, color = "🟢 INSIDER BUY", "is buying", discord.ColorGreen
		signal = "Bullish - Insider is buying"
	}

	shares := math.Abs(t.Change)
	price, total := "Not available", "Not available"
	if t.TransactionPrice > 0 {
		price = fmt.Sprintf("$%.2f", t.TransactionPrice)
		total = "$" + humanize.Comma(int64(math.Round(shares*t.TransactionPrice)))
	}

	details := fmt.Sprintf("**Code:** %s - %s\n**Shares:** %s\n**Price/Share:** %s\n**Total Value:** %s",
		orNA(t.TransactionCode), transactionCode(t.TransactionCode), humanize.Commaf(shares), price, total)

	e := discord.Embed{
		Title:       fmt.Sprintf("%s: %s", title, t.Symbol),
		Description: fmt.Sprintf("**%s** %s shares", orNA(t.Name), verb),
		Color:       color,
		Footer:      &discord.Footer{Text: "Form 4 Alert • Insider Trading Monitor"},
		Timestamp:   timestamp(now),
	}
	e.AddField("📊 Transaction Details", details, false).
		AddField("📅 Dates", fmt.Sprintf("**Transaction:** %s\n**Filed:** %s", orNA(t.TransactionDate), orNA(t.FilingDate)), true).
		AddField("💼 After Transaction", "**Shares Owned:** "+humanize.Commaf(t.Share), true).
		AddField("💡 Signal", signal, false)
	if link != "" {
		e.AddField("🔗 SEC Filing", fmt.Sprintf("[View Form 4 on SEC EDGAR](%s)", link), false)
	}
	return e
}

// NewForm8K alerts on every new 8-K filing, listing the item codes found in
// the report.
func NewForm8K(src Sources, s Settings) pipeline.Feed[finnhub.Filing] {
	return pipeline.Feed[finnhub.Filing]{
		Name:    Form8K,
		Queries: watchlistQueries(src.Watchlist, 0),
		Fetch: func(ctx context.Context, q pipeline.Query) ([]finnhub.Filing, error) {
			return src.Finnhub.Filings(ctx, q.Symbol, "8-K")
		},
		Key: func(f finnhub.Filing) string {
			return fmt.Sprintf("%s_%s_%s", f.Symbol, f.AcceptedDate, f.AccessNumber)
		},
		Significant: func(finnhub.Filing) bool {
			return significance.Always()
		},
		Format: func(ctx context.Context, f finnhub.Filing) discord.Embed {
			var items []string
			if src.EDGAR != nil {
				items = src.EDGAR.ItemCodes(ctx, f.ReportURL)
			}
			return formatForm8K(f, items, src.now())
		},
		PerQueryLimit: s.PerQueryLimit,
		MaxAlerts:     s.MaxAlerts,
		Retention:     s.Retention,
	}
}

func formatForm8K(f finnhub.Filing, items []string, now time.Time) discord.Embed {
	itemsText := "Material event requiring SEC disclosure"
	if len(items) > 0 {
		var b strings.Builder
		for _, code := range items {
			fmt.Fprintf(&b, "**Item %s:** %s\n", code, edgar.ItemDescription(code))
		}
		itemsText = strings.TrimRight(b.String(), "\n")
	}

	link := "Link not available"
	if f.ReportURL != "" {
		link = fmt.Sprintf("[View Full Filing on SEC](%s)", f.ReportURL)
	}

	form := f.Form
	if form == "" {
		form = "8-K"
	}

	e := discord.Embed{
		Title:       fmt.Sprintf("📋 FORM 8-K FILED: %s", f.Symbol),
		Description: fmt.Sprintf("**%s** filing detected", form),
		Color:       discord.ColorBlue,
		Footer:      &discord.Footer{Text: "Form 8-K Alert • Material Events Monitor"},
		Timestamp:   timestamp(now),
	}
	e.AddField("📋 Items Filed", itemsText, false).
		AddField("📅 Filing Information", fmt.Sprintf("**Filed:** %s\n**Accepted:** %s", orNA(f.FiledDate), orNA(f.AcceptedDate)), false).
		AddField("🔗 SEC Filing", link, false)
	return e
}
