// Package marketdata owns the cross-asset inputs in universe.db: FRED
// macro series, the earnings calendar, the FOMC/NFP/CPI economic
// calendar, and the assembled MarketContext. Every datum carries a sync
// timestamp so consumers can fail closed on staleness.
package marketdata

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/aristath/trapline/internal/database"
	"github.com/rs/zerolog"
)

// FRED series tracked by the macro store.
const (
	SeriesVIX        = "VIXCLS"
	SeriesYieldCurve = "T10Y2Y"
	SeriesFedFunds   = "FEDFUNDS"
	SeriesCPI        = "CPIAUCSL"
)

const dateLayout = "2006-01-02"
const tsLayout = time.RFC3339

// seriesStaleness is the per-series refresh budget. Daily series go stale
// after a day; monthly releases get ~35 days.
var seriesStaleness = map[string]time.Duration{
	SeriesVIX:        24 * time.Hour,
	SeriesYieldCurve: 24 * time.Hour,
	SeriesFedFunds:   840 * time.Hour,
	SeriesCPI:        840 * time.Hour,
}

// StalenessFor returns the refresh budget for a series; unknown series
// get the daily budget.
func StalenessFor(seriesID string) time.Duration {
	if d, ok := seriesStaleness[seriesID]; ok {
		return d
	}
	return 24 * time.Hour
}

// Observation is one dated value of a macro series.
type Observation struct {
	Date  time.Time `json:"date"`
	Value float64   `json:"value"`
}

// SeriesStatus is one series' latest value plus its freshness, as shown
// in reports and the health endpoint.
type SeriesStatus struct {
	SeriesID string    `json:"series_id"`
	Value    float64   `json:"value"`
	Date     time.Time `json:"date"`
	SyncedAt time.Time `json:"synced_at"`
	Stale    bool      `json:"stale"`
}

// MacroStore persists FRED observations with per-series sync stamps.
type MacroStore struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewMacroStore creates a new macro series store.
func NewMacroStore(db *sql.DB, log zerolog.Logger) *MacroStore {
	return &MacroStore{
		db:  db,
		log: log.With().Str("component", "macro_store").Logger(),
	}
}

// UpsertObservations writes a batch of observations and stamps the
// series as synced. An empty batch still refreshes the stamp: the
// provider answered, there was just nothing new.
func (s *MacroStore) UpsertObservations(seriesID string, obs []Observation) error {
	err := database.WithTransaction(s.db, func(tx *sql.Tx) error {
		stmt, err := tx.Prepare(
			"INSERT OR REPLACE INTO macro_series (series_id, date, value) VALUES (?, ?, ?)",
		)
		if err != nil {
			return fmt.Errorf("failed to prepare macro insert: %w", err)
		}
		defer stmt.Close()

		for _, o := range obs {
			if _, err := stmt.Exec(seriesID, o.Date.UTC().Format(dateLayout), o.Value); err != nil {
				return fmt.Errorf("failed to insert observation: %w", err)
			}
		}

		if _, err := tx.Exec(`
			INSERT INTO macro_sync (series_id, synced_at) VALUES (?, ?)
			ON CONFLICT(series_id) DO UPDATE SET synced_at = excluded.synced_at`,
			seriesID, time.Now().UTC().Format(tsLayout),
		); err != nil {
			return fmt.Errorf("failed to stamp macro sync: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.log.Info().Str("series", seriesID).Int("observations", len(obs)).Msg("Macro series synced")
	return nil
}

// Latest returns the most recent observation of a series.
func (s *MacroStore) Latest(seriesID string) (Observation, bool, error) {
	var dateStr string
	var value float64
	err := s.db.QueryRow(
		"SELECT date, value FROM macro_series WHERE series_id = ? ORDER BY date DESC LIMIT 1",
		seriesID,
	).Scan(&dateStr, &value)
	if errors.Is(err, sql.ErrNoRows) {
		return Observation{}, false, nil
	}
	if err != nil {
		return Observation{}, false, fmt.Errorf("failed to read latest %s: %w", seriesID, err)
	}

	date, err := time.Parse(dateLayout, dateStr)
	if err != nil {
		return Observation{}, false, fmt.Errorf("failed to parse %s date: %w", seriesID, err)
	}
	return Observation{Date: date, Value: value}, true, nil
}

// SyncedAt returns when a series was last refreshed from its provider.
func (s *MacroStore) SyncedAt(seriesID string) (time.Time, bool, error) {
	var ts string
	err := s.db.QueryRow(
		"SELECT synced_at FROM macro_sync WHERE series_id = ?", seriesID,
	).Scan(&ts)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("failed to read sync stamp for %s: %w", seriesID, err)
	}
	syncedAt, err := time.Parse(tsLayout, ts)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("failed to parse sync stamp for %s: %w", seriesID, err)
	}
	return syncedAt, true, nil
}

// Stale reports whether a series needs a refresh at asOf. Never-synced
// and unreadable series count as stale.
func (s *MacroStore) Stale(seriesID string, asOf time.Time) bool {
	syncedAt, ok, err := s.SyncedAt(seriesID)
	if err != nil {
		s.log.Warn().Str("series", seriesID).Err(err).Msg("Staleness check failed, treating as stale")
		return true
	}
	if !ok {
		return true
	}
	return asOf.Sub(syncedAt) > StalenessFor(seriesID)
}

// Snapshot returns the status of every tracked series for reporting.
func (s *MacroStore) Snapshot(asOf time.Time) ([]SeriesStatus, error) {
	series := []string{SeriesVIX, SeriesYieldCurve, SeriesFedFunds, SeriesCPI}
	statuses := make([]SeriesStatus, 0, len(series))
	for _, id := range series {
		status := SeriesStatus{SeriesID: id, Stale: true}
		obs, ok, err := s.Latest(id)
		if err != nil {
			return nil, err
		}
		if ok {
			status.Value = obs.Value
			status.Date = obs.Date
		}
		if syncedAt, ok, err := s.SyncedAt(id); err == nil && ok {
			status.SyncedAt = syncedAt
			status.Stale = asOf.Sub(syncedAt) > StalenessFor(id)
		}
		statuses = append(statuses, status)
	}
	return statuses, nil
}
