// Package edgar resolves SEC EDGAR links and 8-K item codes for filings
// reported by Finnhub.
package edgar

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"

	"github.com/rewired-gh/finnwatch/internal/logger"
)

const (
	DefaultTickersURL     = "https://www.sec.gov/files/company_tickers.json"
	DefaultSubmissionsURL = "https://data.sec.gov/submissions"
	DefaultArchivesURL    = "https://www.sec.gov"

	tickersKey = "tickers"
	tickerTTL  = 24 * time.Hour
)

// Config configures a Client. Zero values take the SEC defaults.
type Config struct {
	UserAgent      string
	TickersURL     string
	SubmissionsURL string
	ArchivesURL    string
	MinInterval    time.Duration // spacing between requests, default 150ms
	Timeout        time.Duration
	Transport      http.RoundTripper
}

// Client talks to EDGAR. The SEC requires a descriptive User-Agent and at
// most 10 requests per second.
type Client struct {
	userAgent      string
	tickersURL     string
	submissionsURL string
	archivesURL    string
	httpClient     *http.Client
	limiter        *rate.Limiter
	cache          *cache.Cache
}

// NewClient creates an EDGAR client.
func NewClient(cfg Config) *Client {
	if cfg.UserAgent == "" {
		cfg.UserAgent = "finnwatch admin@example.com"
	}
	if cfg.TickersURL == "" {
		cfg.TickersURL = DefaultTickersURL
	}
	if cfg.SubmissionsURL == "" {
		cfg.SubmissionsURL = DefaultSubmissionsURL
	}
	if cfg.ArchivesURL == "" {
		cfg.ArchivesURL = DefaultArchivesURL
	}
	if cfg.MinInterval == 0 {
		cfg.MinInterval = 150 * time.Millisecond
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}

	limit := rate.Inf
	if cfg.MinInterval > 0 {
		limit = rate.Every(cfg.MinInterval)
	}

	return &Client{
		userAgent:      cfg.UserAgent,
		tickersURL:     cfg.TickersURL,
		submissionsURL: strings.TrimRight(cfg.SubmissionsURL, "/"),
		archivesURL:    strings.TrimRight(cfg.ArchivesURL, "/"),
		httpClient:     &http.Client{Timeout: cfg.Timeout, Transport: cfg.Transport},
		limiter:        rate.NewLimiter(limit, 1),
		cache:          cache.New(tickerTTL, 0),
	}
}

func (c *Client) get(ctx context.Context, url string) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("GET %s: HTTP %d", url, resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

func (c *Client) tickers(ctx context.Context) (map[string]int64, error) {
	if v, ok := c.cache.Get(tickersKey); ok {
		return v.(map[string]int64), nil
	}

	body, err := c.get(ctx, c.tickersURL)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch ticker map: %w", err)
	}

	var raw map[string]struct {
		CIK    int64  `json:"cik_str"`
		Ticker string `json:"ticker"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("failed to decode ticker map: %w", err)
	}

	m := make(map[string]int64, len(raw))
	for _, e := range raw {
		if e.Ticker != "" {
			m[strings.ToUpper(e.Ticker)] = e.CIK
		}
	}
	c.cache.Set(tickersKey, m, cache.DefaultExpiration)
	return m, nil
}

// CIK returns the central index key for ticker, or 0 when unknown.
func (c *Client) CIK(ctx context.Context, ticker string) (int64, error) {
	m, err := c.tickers(ctx)
	if err != nil {
		return 0, err
	}
	return m[strings.ToUpper(ticker)], nil
}

// Form4URL returns the primary document of the Form 4 filed on filingDate
// (YYYY-MM-DD). It falls back to the newest Form 4, then to an EDGAR search
// page, and never fails.
func (c *Client) Form4URL(ctx context.Context, symbol, filingDate string) string {
	cik, err := c.CIK(ctx, symbol)
	if err != nil {
		logger.Debug("CIK lookup for %s failed: %v", symbol, err)
	}
	if cik == 0 {
		return fmt.Sprintf("%s/cgi-bin/browse-edgar?action=getcompany&company=%s&type=4&dateb=&owner=include&count=10", c.archivesURL, symbol)
	}
	browse := fmt.Sprintf("%s/cgi-bin/browse-edgar?action=getcompany&CIK=%d&type=4&dateb=&owner=include&count=10", c.archivesURL, cik)

	body, err := c.get(ctx, fmt.Sprintf("%s/CIK%010d.json", c.submissionsURL, cik))
	if err != nil {
		logger.Debug("EDGAR submissions for %s failed: %v", symbol, err)
		return browse
	}

	var sub struct {
		Filings struct {
			Recent struct {
				Form            []string `json:"form"`
				FilingDate      []string `json:"filingDate"`
				AccessionNumber []string `json:"accessionNumber"`
				PrimaryDocument []string `json:"primaryDocument"`
			} `json:"recent"`
		} `json:"filings"`
	}
	if err := json.Unmarshal(body, &sub); err != nil {
		logger.Debug("EDGAR submissions for %s malformed: %v", symbol, err)
		return browse
	}

	recent := sub.Filings.Recent
	fallback := ""
	for i, form := range recent.Form {
		if form != "4" {
			continue
		}
		acc := at(recent.AccessionNumber, i)
		doc := at(recent.PrimaryDocument, i)
		if acc == "" || doc == "" {
			continue
		}
		u := fmt.Sprintf("%s/Archives/edgar/data/%d/%s/%s", c.archivesURL, cik, strings.ReplaceAll(acc, "-", ""), doc)
		if fallback == "" {
			fallback = u
		}
		if at(recent.FilingDate, i) == filingDate {
			return u
		}
	}
	if fallback != "" {
		return fallback
	}
	return browse
}

func at(s []string, i int) string {
	if i < len(s) {
		return s[i]
	}
	return ""
}

var itemPattern = regexp.MustCompile(`ITEM\s+(\d+\.\d+)`)

var validItems = map[string]bool{
	"1.01": true, "1.02": true, "1.03": true, "1.04": true,
	"2.01": true, "2.02": true, "2.03": true, "2.04": true, "2.05": true, "2.06": true,
	"3.01": true, "3.02": true, "3.03": true,
	"4.01": true, "4.02": true,
	"5.01": true, "5.02": true, "5.03": true, "5.04": true, "5.05": true, "5.06": true, "5.07": true, "5.08": true,
	"6.01": true, "6.02": true, "6.03": true, "6.04": true, "6.05": true,
	"7.01": true, "8.01": true, "9.01": true,
}

// ParseItemCodes extracts the distinct valid 8-K item numbers mentioned in a
// filing document, sorted.
func ParseItemCodes(doc string) []string {
	seen := make(map[string]bool)
	var codes []string
	for _, m := range itemPattern.FindAllStringSubmatch(strings.ToUpper(doc), -1) {
		code := m[1]
		if validItems[code] && !seen[code] {
			seen[code] = true
			codes = append(codes, code)
		}
	}
	sort.Strings(codes)
	return codes
}

// ItemCodes downloads an 8-K report and returns its item codes. Failures
// yield nil.
func (c *Client) ItemCodes(ctx context.Context, reportURL string) []string {
	if reportURL == "" {
		return nil
	}
	body, err := c.get(ctx, reportURL)
	if err != nil {
		logger.Debug("8-K report %s unavailable: %v", reportURL, err)
		return nil
	}
	return ParseItemCodes(string(body))
}

// ItemDescription returns a short human label for an 8-K item code.
func ItemDescription(code string) string {
	if d, ok := itemDescriptions[code]; ok {
		return d
	}
	return "Material event"
}

var itemDescriptions = map[string]string{
	"1.01": "Material agreement entered",
	"1.02": "Material agreement terminated",
	"1.03": "Bankruptcy or receivership",
	"2.01": "Acquisition or disposition of assets",
	"2.02": "Results of operations",
	"2.03": "New direct financial obligation",
	"2.04": "Obligation accelerated",
	"2.05": "Exit or restructuring costs",
	"2.06": "Material impairments",
	"3.01": "Delisting notice",
	"3.02": "Unregistered equity sale",
	"3.03": "Security holder rights modified",
	"4.01": "Auditor changed",
	"4.02": "Prior financials no longer reliable",
	"5.01": "Change in control",
	"5.02": "Director or officer change",
	"5.03": "Articles or bylaws amended",
	"5.04": "Benefit plan trading suspended",
	"5.05": "Code of ethics amended",
	"7.01": "Regulation FD disclosure",
	"8.01": "Other events",
	"9.01": "Financial statements and exhibits",
}
