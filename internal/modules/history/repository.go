// Package history stores and serves daily OHLCV bars. It backs both the
// indicator pipeline (bar series) and correlation control (return series).
package history

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/trapline/internal/domain"
)

const dateLayout = "2006-01-02"

// Repository provides access to the prices table in universe.db.
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a price history repository.
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("component", "history_repository").Logger(),
	}
}

// UpsertBars writes daily bars for a symbol in one transaction.
func (r *Repository) UpsertBars(symbol string, bars []domain.Bar) error {
	if len(bars) == 0 {
		return nil
	}

	tx, err := r.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT OR REPLACE INTO prices (symbol, date, open, high, low, close, volume)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, b := range bars {
		_, err := stmt.Exec(symbol, b.Date.UTC().Format(dateLayout), b.Open, b.High, b.Low, b.Close, b.Volume)
		if err != nil {
			return fmt.Errorf("failed to insert bar %s %s: %w", symbol, b.Date.Format(dateLayout), err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	r.log.Debug().
		Str("symbol", symbol).
		Int("count", len(bars)).
		Msg("Synced daily bars")

	return nil
}

// DailyBars returns up to limit bars for a symbol at or before asOf, in
// ascending date order.
func (r *Repository) DailyBars(symbol string, limit int, asOf time.Time) ([]domain.Bar, error) {
	rows, err := r.db.Query(`
		SELECT date, open, high, low, close, volume
		FROM prices
		WHERE symbol = ? AND date <= ?
		ORDER BY date DESC
		LIMIT ?
	`, symbol, asOf.UTC().Format(dateLayout), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query bars: %w", err)
	}
	defer rows.Close()

	var bars []domain.Bar
	for rows.Next() {
		var b domain.Bar
		var date string
		if err := rows.Scan(&date, &b.Open, &b.High, &b.Low, &b.Close, &b.Volume); err != nil {
			return nil, fmt.Errorf("failed to scan bar: %w", err)
		}
		b.Date, err = time.Parse(dateLayout, date)
		if err != nil {
			return nil, fmt.Errorf("failed to parse bar date %q: %w", date, err)
		}
		bars = append(bars, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating bars: %w", err)
	}

	// Query descends for the LIMIT; callers consume ascending series.
	for i, j := 0, len(bars)-1; i < j; i, j = i+1, j-1 {
		bars[i], bars[j] = bars[j], bars[i]
	}
	return bars, nil
}

// DailyReturns returns the trailing n daily close-to-close returns at or
// before asOf, ascending. A shorter history yields a shorter slice; the
// consumer decides whether that is disqualifying.
func (r *Repository) DailyReturns(symbol string, n int, asOf time.Time) ([]float64, error) {
	bars, err := r.DailyBars(symbol, n+1, asOf)
	if err != nil {
		return nil, err
	}
	if len(bars) < 2 {
		return nil, nil
	}

	returns := make([]float64, 0, len(bars)-1)
	for i := 1; i < len(bars); i++ {
		prev := bars[i-1].Close
		if prev <= 0 {
			returns = append(returns, domain.Undefined())
			continue
		}
		returns = append(returns, bars[i].Close/prev-1)
	}
	return returns, nil
}

// LatestDate returns the most recent bar date for a symbol.
func (r *Repository) LatestDate(symbol string) (time.Time, bool, error) {
	var date string
	err := r.db.QueryRow(
		"SELECT date FROM prices WHERE symbol = ? ORDER BY date DESC LIMIT 1", symbol,
	).Scan(&date)
	if err == sql.ErrNoRows {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("failed to query latest date: %w", err)
	}

	t, err := time.Parse(dateLayout, date)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("failed to parse latest date %q: %w", date, err)
	}
	return t, true, nil
}

// BarCount returns the number of stored bars for a symbol.
func (r *Repository) BarCount(symbol string) (int, error) {
	var count int
	if err := r.db.QueryRow("SELECT COUNT(*) FROM prices WHERE symbol = ?", symbol).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count bars: %w", err)
	}
	return count, nil
}

// Prune deletes bars older than the cutoff across all symbols. Keeps the
// universe database bounded; the pipeline never needs more than three
// years of history.
func (r *Repository) Prune(cutoff time.Time) (int64, error) {
	res, err := r.db.Exec("DELETE FROM prices WHERE date < ?", cutoff.UTC().Format(dateLayout))
	if err != nil {
		return 0, fmt.Errorf("failed to prune bars: %w", err)
	}
	deleted, _ := res.RowsAffected()
	if deleted > 0 {
		r.log.Info().
			Int64("rows_deleted", deleted).
			Str("cutoff", cutoff.Format(dateLayout)).
			Msg("Pruned price history")
	}
	return deleted, nil
}
