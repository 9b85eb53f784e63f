package marketdata

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/aristath/trapline/internal/database"
	"github.com/rs/zerolog"
)

// Economic event types tracked for the macro blackout.
const (
	EventFOMC = "FOMC"
	EventNFP  = "NFP"
	EventCPI  = "CPI"
)

// Fallback inter-report interval when a symbol has a single known
// earnings date.
const defaultEarningsIntervalDays = 90

// EconomicEvent is one scheduled macro release.
type EconomicEvent struct {
	Type        string    `json:"type"`
	Date        time.Time `json:"date"`
	Description string    `json:"description,omitempty"`
}

// Calendar answers the blackout-window queries behind the earnings and
// macro guards. It implements domain.CalendarProvider.
type Calendar struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewCalendar creates a calendar over universe.db.
func NewCalendar(db *sql.DB, log zerolog.Logger) *Calendar {
	return &Calendar{
		db:  db,
		log: log.With().Str("component", "calendar").Logger(),
	}
}

// ReplaceEarnings swaps a symbol's historical statement dates for a fresh
// set and stamps the symbol as synced.
func (c *Calendar) ReplaceEarnings(symbol string, dates []time.Time) error {
	err := database.WithTransaction(c.db, func(tx *sql.Tx) error {
		if _, err := tx.Exec("DELETE FROM earnings_events WHERE symbol = ?", symbol); err != nil {
			return fmt.Errorf("failed to clear earnings for %s: %w", symbol, err)
		}
		for _, d := range dates {
			if _, err := tx.Exec(
				"INSERT OR REPLACE INTO earnings_events (symbol, event_date) VALUES (?, ?)",
				symbol, d.UTC().Format(dateLayout),
			); err != nil {
				return fmt.Errorf("failed to insert earnings date: %w", err)
			}
		}
		if _, err := tx.Exec(`
			INSERT INTO earnings_sync (symbol, synced_at) VALUES (?, ?)
			ON CONFLICT(symbol) DO UPDATE SET synced_at = excluded.synced_at`,
			symbol, time.Now().UTC().Format(tsLayout),
		); err != nil {
			return fmt.Errorf("failed to stamp earnings sync: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	c.log.Info().Str("symbol", symbol).Int("dates", len(dates)).Msg("Earnings calendar synced")
	return nil
}

// NextEarnings projects the next earnings date for a symbol. A known
// future date wins; otherwise the last date is stepped forward by the
// average inter-report interval until it clears asOf.
func (c *Calendar) NextEarnings(symbol string, asOf time.Time) (time.Time, bool, error) {
	dates, err := c.earningsDates(symbol)
	if err != nil {
		return time.Time{}, false, err
	}
	if len(dates) == 0 {
		return time.Time{}, false, nil
	}

	today := dateOnly(asOf)
	last := dates[len(dates)-1]
	if last.After(today) {
		return last, true, nil
	}

	interval := averageIntervalDays(dates)
	projected := last.AddDate(0, 0, interval)
	for projected.Before(today) {
		projected = projected.AddDate(0, 0, interval)
	}
	return projected, true, nil
}

// DaysToEarnings implements domain.CalendarProvider. known is false when
// the symbol has no calendar history to project from.
func (c *Calendar) DaysToEarnings(symbol string, asOf time.Time) (int, bool, time.Time, error) {
	syncedAt, _, err := c.earningsSyncedAt(symbol)
	if err != nil {
		return 0, false, time.Time{}, err
	}

	next, known, err := c.NextEarnings(symbol, asOf)
	if err != nil || !known {
		return 0, false, syncedAt, err
	}
	return daysBetween(asOf, next), true, syncedAt, nil
}

// ReplaceEconomicEvents swaps the whole economic calendar for a fresh
// one and stamps it synced. The sync job regenerates the current and
// following year on every pass, so a full replace keeps the table exact.
func (c *Calendar) ReplaceEconomicEvents(events []EconomicEvent) error {
	err := database.WithTransaction(c.db, func(tx *sql.Tx) error {
		if _, err := tx.Exec("DELETE FROM economic_events"); err != nil {
			return fmt.Errorf("failed to clear economic events: %w", err)
		}
		for _, e := range events {
			if _, err := tx.Exec(
				"INSERT OR REPLACE INTO economic_events (event_type, event_date, description) VALUES (?, ?, ?)",
				e.Type, e.Date.UTC().Format(dateLayout), e.Description,
			); err != nil {
				return fmt.Errorf("failed to insert economic event: %w", err)
			}
		}
		if _, err := tx.Exec(`
			INSERT INTO economic_sync (id, synced_at) VALUES (1, ?)
			ON CONFLICT(id) DO UPDATE SET synced_at = excluded.synced_at`,
			time.Now().UTC().Format(tsLayout),
		); err != nil {
			return fmt.Errorf("failed to stamp economic sync: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	c.log.Info().Int("events", len(events)).Msg("Economic calendar synced")
	return nil
}

// NextEconomicEvent returns the nearest event on or after asOf's date.
func (c *Calendar) NextEconomicEvent(asOf time.Time) (EconomicEvent, bool, error) {
	var eventType, dateStr, description string
	err := c.db.QueryRow(`
		SELECT event_type, event_date, description FROM economic_events
		WHERE event_date >= ? ORDER BY event_date, event_type LIMIT 1`,
		dateOnly(asOf).Format(dateLayout),
	).Scan(&eventType, &dateStr, &description)
	if errors.Is(err, sql.ErrNoRows) {
		return EconomicEvent{}, false, nil
	}
	if err != nil {
		return EconomicEvent{}, false, fmt.Errorf("failed to read next economic event: %w", err)
	}

	date, err := time.Parse(dateLayout, dateStr)
	if err != nil {
		return EconomicEvent{}, false, fmt.Errorf("failed to parse event date: %w", err)
	}
	return EconomicEvent{Type: eventType, Date: date, Description: description}, true, nil
}

// DaysToMacroEvent implements domain.CalendarProvider. known is false
// when nothing is scheduled, which a fresh calendar legitimately reports.
func (c *Calendar) DaysToMacroEvent(asOf time.Time) (int, bool, time.Time, error) {
	syncedAt, _, err := c.economicSyncedAt()
	if err != nil {
		return 0, false, time.Time{}, err
	}

	event, known, err := c.NextEconomicEvent(asOf)
	if err != nil || !known {
		return 0, false, syncedAt, err
	}
	return daysBetween(asOf, event.Date), true, syncedAt, nil
}

// UpcomingEconomicEvents lists events within the horizon for reporting.
func (c *Calendar) UpcomingEconomicEvents(asOf time.Time, horizonDays int) ([]EconomicEvent, error) {
	from := dateOnly(asOf)
	to := from.AddDate(0, 0, horizonDays)
	rows, err := c.db.Query(`
		SELECT event_type, event_date, description FROM economic_events
		WHERE event_date >= ? AND event_date <= ?
		ORDER BY event_date, event_type`,
		from.Format(dateLayout), to.Format(dateLayout),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query economic events: %w", err)
	}
	defer rows.Close()

	var events []EconomicEvent
	for rows.Next() {
		var e EconomicEvent
		var dateStr string
		if err := rows.Scan(&e.Type, &dateStr, &e.Description); err != nil {
			return nil, fmt.Errorf("failed to scan economic event: %w", err)
		}
		if d, perr := time.Parse(dateLayout, dateStr); perr == nil {
			e.Date = d
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating economic events: %w", err)
	}
	return events, nil
}

func (c *Calendar) earningsDates(symbol string) ([]time.Time, error) {
	rows, err := c.db.Query(
		"SELECT event_date FROM earnings_events WHERE symbol = ? ORDER BY event_date",
		symbol,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query earnings dates: %w", err)
	}
	defer rows.Close()

	var dates []time.Time
	for rows.Next() {
		var dateStr string
		if err := rows.Scan(&dateStr); err != nil {
			return nil, fmt.Errorf("failed to scan earnings date: %w", err)
		}
		d, err := time.Parse(dateLayout, dateStr)
		if err != nil {
			return nil, fmt.Errorf("failed to parse earnings date: %w", err)
		}
		dates = append(dates, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating earnings dates: %w", err)
	}
	return dates, nil
}

func (c *Calendar) earningsSyncedAt(symbol string) (time.Time, bool, error) {
	var ts string
	err := c.db.QueryRow(
		"SELECT synced_at FROM earnings_sync WHERE symbol = ?", symbol,
	).Scan(&ts)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("failed to read earnings sync stamp: %w", err)
	}
	syncedAt, err := time.Parse(tsLayout, ts)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("failed to parse earnings sync stamp: %w", err)
	}
	return syncedAt, true, nil
}

func (c *Calendar) economicSyncedAt() (time.Time, bool, error) {
	var ts string
	err := c.db.QueryRow("SELECT synced_at FROM economic_sync WHERE id = 1").Scan(&ts)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("failed to read economic sync stamp: %w", err)
	}
	syncedAt, err := time.Parse(tsLayout, ts)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("failed to parse economic sync stamp: %w", err)
	}
	return syncedAt, true, nil
}

// averageIntervalDays is the mean gap between consecutive dates, floored
// at one day so projection always advances.
func averageIntervalDays(dates []time.Time) int {
	if len(dates) < 2 {
		return defaultEarningsIntervalDays
	}
	total := 0
	for i := 1; i < len(dates); i++ {
		total += daysBetween(dates[i-1], dates[i])
	}
	avg := total / (len(dates) - 1)
	if avg < 1 {
		return 1
	}
	return avg
}

func dateOnly(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func daysBetween(from, to time.Time) int {
	return int(dateOnly(to).Sub(dateOnly(from)) / (24 * time.Hour))
}
