package finnhub

import (
	"context"
	"math"
	"net/url"
	"strconv"
	"time"
)

// InsiderTransaction is one Form 4 line item.
type InsiderTransaction struct {
	Symbol           string  `json:"symbol"`
	Name             string  `json:"name"`
	Share            float64 `json:"share"`  // shares held after the transaction
	Change           float64 `json:"change"` // signed share delta, may be fractional
	FilingDate       string  `json:"filingDate"`
	TransactionDate  string  `json:"transactionDate"`
	TransactionCode  string  `json:"transactionCode"`
	TransactionPrice float64 `json:"transactionPrice"`
}

// Value is the absolute dollar value of the transaction, zero when the price
// is unknown.
func (t InsiderTransaction) Value() float64 {
	return math.Abs(t.Change * t.TransactionPrice)
}

// InsiderSentiment is one month of the monthly share purchase ratio.
type InsiderSentiment struct {
	Symbol string  `json:"symbol"`
	Year   int     `json:"year"`
	Month  int     `json:"month"`
	Change float64 `json:"change"`
	MSPR   float64 `json:"mspr"`
}

// EarningsSurprise is one reported quarter. Values are nil until published.
type EarningsSurprise struct {
	Symbol          string   `json:"symbol"`
	Period          string   `json:"period"`
	Year            int      `json:"year"`
	Quarter         int      `json:"quarter"`
	Actual          *float64 `json:"actual"`
	Estimate        *float64 `json:"estimate"`
	Surprise        *float64 `json:"surprise"`
	SurprisePercent *float64 `json:"surprisePercent"`
}

// SurprisePct returns the reported surprise percentage, or computes it from
// actual and estimate when the report omits it.
func (e EarningsSurprise) SurprisePct() float64 {
	if e.SurprisePercent != nil && *e.SurprisePercent != 0 {
		return *e.SurprisePercent
	}
	if e.Actual == nil || e.Estimate == nil || *e.Estimate == 0 {
		return 0
	}
	return (*e.Actual - *e.Estimate) / math.Abs(*e.Estimate) * 100
}

// IPO is one IPO calendar entry.
type IPO struct {
	Symbol           string   `json:"symbol"`
	Name             string   `json:"name"`
	Date             string   `json:"date"`
	Exchange         string   `json:"exchange"`
	Status           string   `json:"status"`
	Price            string   `json:"price"`
	NumberOfShares   *float64 `json:"numberOfShares"`
	TotalSharesValue *float64 `json:"totalSharesValue"`
}

// Filing is one SEC filing.
type Filing struct {
	AccessNumber string `json:"accessNumber"`
	Symbol       string `json:"symbol"`
	CIK          string `json:"cik"`
	Form         string `json:"form"`
	FiledDate    string `json:"filedDate"`
	AcceptedDate string `json:"acceptedDate"`
	ReportURL    string `json:"reportUrl"`
	FilingURL    string `json:"filingUrl"`
}

// InsiderTransactions fetches Form 4 transactions for symbol. A zero from/to
// leaves the range to the API default.
func (c *Client) InsiderTransactions(ctx context.Context, symbol string, from, to time.Time) ([]InsiderTransaction, error) {
	q := dateRange(from, to)
	q.Set("symbol", symbol)

	var body struct {
		Data []InsiderTransaction `json:"data"`
	}
	if err := c.getJSON(ctx, "/stock/insider-transactions", q, &body); err != nil {
		return nil, err
	}
	for i := range body.Data {
		if body.Data[i].Symbol == "" {
			body.Data[i].Symbol = symbol
		}
	}
	return body.Data, nil
}

// InsiderSentiment fetches monthly insider sentiment for symbol.
func (c *Client) InsiderSentiment(ctx context.Context, symbol string, from, to time.Time) ([]InsiderSentiment, error) {
	q := dateRange(from, to)
	q.Set("symbol", symbol)

	var body struct {
		Data []InsiderSentiment `json:"data"`
	}
	if err := c.getJSON(ctx, "/stock/insider-sentiment", q, &body); err != nil {
		return nil, err
	}
	for i := range body.Data {
		if body.Data[i].Symbol == "" {
			body.Data[i].Symbol = symbol
		}
	}
	return body.Data, nil
}

// Earnings fetches reported quarters for symbol, newest first. limit <= 0
// leaves the count to the API.
func (c *Client) Earnings(ctx context.Context, symbol string, limit int) ([]EarningsSurprise, error) {
	q := url.Values{}
	q.Set("symbol", symbol)
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}

	var out []EarningsSurprise
	if err := c.getJSON(ctx, "/stock/earnings", q, &out); err != nil {
		return nil, err
	}
	for i := range out {
		if out[i].Symbol == "" {
			out[i].Symbol = symbol
		}
	}
	return out, nil
}

// IPOCalendar fetches IPOs dated within [from, to].
func (c *Client) IPOCalendar(ctx context.Context, from, to time.Time) ([]IPO, error) {
	var body struct {
		IPOCalendar []IPO `json:"ipoCalendar"`
	}
	if err := c.getJSON(ctx, "/calendar/ipo", dateRange(from, to), &body); err != nil {
		return nil, err
	}
	return body.IPOCalendar, nil
}

// Filings fetches SEC filings for symbol, optionally restricted to form.
func (c *Client) Filings(ctx context.Context, symbol, form string) ([]Filing, error) {
	q := url.Values{}
	q.Set("symbol", symbol)
	if form != "" {
		q.Set("form", form)
	}

	var out []Filing
	if err := c.getJSON(ctx, "/stock/filings", q, &out); err != nil {
		return nil, err
	}
	for i := range out {
		if out[i].Symbol == "" {
			out[i].Symbol = symbol
		}
	}
	return out, nil
}
