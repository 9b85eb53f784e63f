// Package tiingo provides a client for the Tiingo market data API: daily
// equity bars, daily forex bars (precious metals trade as forex pairs),
// and quarterly statement dates from the fundamentals endpoint.
package tiingo

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/trapline/internal/domain"
)

const dateLayout = "2006-01-02"

// Client for the Tiingo API. The free tier allows 500 requests/hour.
type Client struct {
	baseURL string
	apiKey  string
	client  *http.Client
	log     zerolog.Logger
}

// NewClient creates a new Tiingo client.
func NewClient(apiKey string, log zerolog.Logger) *Client {
	return &Client{
		baseURL: "https://api.tiingo.com",
		apiKey:  apiKey,
		client:  &http.Client{Timeout: 30 * time.Second},
		log:     log.With().Str("client", "tiingo").Logger(),
	}
}

// dailyPrice mirrors one element of the Tiingo daily prices payload.
// Adjusted fields are ignored: bars are stored raw.
type dailyPrice struct {
	Date   string  `json:"date"`
	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close"`
	Volume float64 `json:"volume"`
}

// DailyPrices fetches daily OHLCV bars for an equity or ETF ticker
// between start and end (both inclusive), oldest first.
func (c *Client) DailyPrices(ctx context.Context, ticker string, start, end time.Time) ([]domain.Bar, error) {
	q := url.Values{}
	q.Set("startDate", start.Format(dateLayout))
	q.Set("endDate", end.Format(dateLayout))
	q.Set("token", c.apiKey)

	reqURL := fmt.Sprintf("%s/tiingo/daily/%s/prices?%s", c.baseURL, url.PathEscape(ticker), q.Encode())

	var prices []dailyPrice
	if err := c.getJSON(ctx, reqURL, ticker, &prices); err != nil {
		return nil, err
	}
	if len(prices) == 0 {
		return nil, fmt.Errorf("tiingo returned no bars for %s", ticker)
	}

	return c.toBars(ticker, prices), nil
}

// DailyForexPrices fetches daily OHLC bars from the Tiingo forex
// endpoint. Forex has no centralized volume, so Volume is zero.
// The ticker is lowercased for the API (XAUUSD -> xauusd).
func (c *Client) DailyForexPrices(ctx context.Context, ticker string, start, end time.Time) ([]domain.Bar, error) {
	q := url.Values{}
	q.Set("startDate", start.Format(dateLayout))
	q.Set("endDate", end.Format(dateLayout))
	q.Set("resampleFreq", "1day")
	q.Set("token", c.apiKey)

	reqURL := fmt.Sprintf("%s/tiingo/fx/%s/prices?%s", c.baseURL, url.PathEscape(strings.ToLower(ticker)), q.Encode())

	var prices []dailyPrice
	if err := c.getJSON(ctx, reqURL, ticker, &prices); err != nil {
		return nil, err
	}
	if len(prices) == 0 {
		return nil, fmt.Errorf("tiingo returned no bars for %s", ticker)
	}

	return c.toBars(ticker, prices), nil
}

// getJSON performs a GET request and decodes the JSON body into out.
func (c *Client) getJSON(ctx context.Context, reqURL, ticker string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("tiingo request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("tiingo returned status %d for %s: %s", resp.StatusCode, ticker, string(body))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to parse tiingo response: %w", err)
	}
	return nil
}

// toBars converts raw price rows to bars sorted oldest first. Rows with
// unparseable dates are skipped with a warning.
func (c *Client) toBars(ticker string, prices []dailyPrice) []domain.Bar {
	bars := make([]domain.Bar, 0, len(prices))
	for _, p := range prices {
		date, err := parseDate(p.Date)
		if err != nil {
			c.log.Warn().Str("ticker", ticker).Str("date", p.Date).Msg("Skipping bar with unparseable date")
			continue
		}
		bars = append(bars, domain.Bar{
			Date:   date,
			Open:   p.Open,
			High:   p.High,
			Low:    p.Low,
			Close:  p.Close,
			Volume: p.Volume,
		})
	}
	sort.Slice(bars, func(i, j int) bool { return bars[i].Date.Before(bars[j].Date) })

	c.log.Debug().
		Str("ticker", ticker).
		Int("count", len(bars)).
		Msg("Fetched daily bars")

	return bars
}

// parseDate handles Tiingo's ISO datetime strings ("2026-03-06T00:00:00.000Z")
// by taking the date part only, normalized to UTC midnight.
func parseDate(s string) (time.Time, error) {
	if len(s) < len(dateLayout) {
		return time.Time{}, fmt.Errorf("date too short: %q", s)
	}
	return time.Parse(dateLayout, s[:len(dateLayout)])
}
