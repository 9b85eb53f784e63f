package tiingo

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"time"
)

// statement mirrors one element of the Tiingo fundamentals statements
// payload. Only the release date and quarter number matter here.
type statement struct {
	Date    string `json:"date"`
	Quarter int    `json:"quarter"`
}

// StatementDates fetches quarterly statement release dates for a ticker
// between start and end, sorted ascending. Annual reports (quarter 0)
// are excluded. These dates feed the earnings blackout calendar.
func (c *Client) StatementDates(ctx context.Context, ticker string, start, end time.Time) ([]time.Time, error) {
	q := url.Values{}
	q.Set("startDate", start.Format(dateLayout))
	q.Set("endDate", end.Format(dateLayout))
	q.Set("token", c.apiKey)

	reqURL := fmt.Sprintf("%s/tiingo/fundamentals/%s/statements?%s", c.baseURL, url.PathEscape(ticker), q.Encode())

	var statements []statement
	if err := c.getJSON(ctx, reqURL, ticker, &statements); err != nil {
		return nil, err
	}
	if len(statements) == 0 {
		return nil, fmt.Errorf("tiingo returned no statements for %s", ticker)
	}

	dates := make([]time.Time, 0, len(statements))
	for _, s := range statements {
		if s.Quarter == 0 {
			continue
		}
		date, err := parseDate(s.Date)
		if err != nil {
			c.log.Warn().Str("ticker", ticker).Str("date", s.Date).Msg("Skipping statement with unparseable date")
			continue
		}
		dates = append(dates, date)
	}
	sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })

	c.log.Debug().
		Str("ticker", ticker).
		Int("count", len(dates)).
		Msg("Fetched statement dates")

	return dates, nil
}
