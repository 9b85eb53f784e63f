// Package fred provides a client for the FRED (Federal Reserve Economic
// Data) observations API, used for macro series such as VIXCLS and T10Y2Y.
package fred

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rs/zerolog"
)

const dateLayout = "2006-01-02"

// Observation is a single dated value from a FRED series.
type Observation struct {
	Date  time.Time
	Value float64
}

// Client for the FRED API.
type Client struct {
	baseURL string
	apiKey  string
	client  *http.Client
	log     zerolog.Logger
}

// NewClient creates a new FRED client.
// API keys are free at https://fred.stlouisfed.org/docs/api/.
func NewClient(apiKey string, log zerolog.Logger) *Client {
	return &Client{
		baseURL: "https://api.stlouisfed.org/fred",
		apiKey:  apiKey,
		client:  &http.Client{Timeout: 30 * time.Second},
		log:     log.With().Str("client", "fred").Logger(),
	}
}

// observationsResponse mirrors the FRED series/observations payload.
// Values arrive as strings; missing observations are the literal ".".
type observationsResponse struct {
	Observations []struct {
		Date  string `json:"date"`
		Value string `json:"value"`
	} `json:"observations"`
}

// Observations fetches dated values for a series between start and end
// (both inclusive). Missing values (FRED's ".") are dropped.
func (c *Client) Observations(ctx context.Context, seriesID string, start, end time.Time) ([]Observation, error) {
	q := url.Values{}
	q.Set("series_id", seriesID)
	q.Set("api_key", c.apiKey)
	q.Set("file_type", "json")
	q.Set("observation_start", start.Format(dateLayout))
	q.Set("observation_end", end.Format(dateLayout))

	reqURL := fmt.Sprintf("%s/series/observations?%s", c.baseURL, q.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("FRED request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("FRED returned status %d for %s: %s", resp.StatusCode, seriesID, string(body))
	}

	var payload observationsResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("failed to parse FRED response: %w", err)
	}

	if len(payload.Observations) == 0 {
		return nil, fmt.Errorf("FRED returned no observations for %s", seriesID)
	}

	observations := make([]Observation, 0, len(payload.Observations))
	for _, raw := range payload.Observations {
		if raw.Value == "." {
			continue
		}
		date, err := time.Parse(dateLayout, raw.Date)
		if err != nil {
			c.log.Warn().Str("series", seriesID).Str("date", raw.Date).Msg("Skipping observation with unparseable date")
			continue
		}
		value, err := strconv.ParseFloat(raw.Value, 64)
		if err != nil {
			c.log.Warn().Str("series", seriesID).Str("value", raw.Value).Msg("Skipping observation with unparseable value")
			continue
		}
		observations = append(observations, Observation{Date: date, Value: value})
	}

	c.log.Debug().
		Str("series", seriesID).
		Int("count", len(observations)).
		Msg("Fetched observations")

	return observations, nil
}
