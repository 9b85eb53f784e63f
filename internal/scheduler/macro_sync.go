package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/trapline/internal/modules/marketdata"
)

// macroBootstrapDays is the initial fetch window for a series with no
// stored observations. 400 days covers a year of daily series and a
// dozen monthly releases.
const macroBootstrapDays = 400

// trackedSeries are the FRED series the guards and the market context
// read.
var trackedSeries = []string{
	marketdata.SeriesVIX,
	marketdata.SeriesYieldCurve,
	marketdata.SeriesFedFunds,
	marketdata.SeriesCPI,
}

// MacroSyncJob refreshes the FRED macro series and rebuilds the
// economic event calendar from the published FOMC/NFP/CPI schedules.
type MacroSyncJob struct {
	log      zerolog.Logger
	source   MacroSource
	macro    MacroWriter
	events   EventWriter
	schedule marketdata.FedSchedule

	nowFunc func() time.Time
}

// MacroSyncConfig holds the macro sync job dependencies.
type MacroSyncConfig struct {
	Log    zerolog.Logger
	Source MacroSource
	Macro  MacroWriter
	Events EventWriter
}

// NewMacroSyncJob creates the macro sync job.
func NewMacroSyncJob(cfg MacroSyncConfig) *MacroSyncJob {
	return &MacroSyncJob{
		log:     cfg.Log.With().Str("job", "macro_sync").Logger(),
		source:  cfg.Source,
		macro:   cfg.Macro,
		events:  cfg.Events,
		nowFunc: time.Now,
	}
}

// Name returns the job name.
func (j *MacroSyncJob) Name() string {
	return "macro_sync"
}

// Run syncs every tracked series and then the event calendar. A series
// failure is logged and skipped; stale data trips the consuming guards
// on their own. The job fails only when every step failed.
func (j *MacroSyncJob) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), syncTimeout)
	defer cancel()

	started := time.Now()

	var synced, failed int
	for _, seriesID := range trackedSeries {
		n, err := j.syncSeries(ctx, seriesID)
		if err != nil {
			j.log.Error().Err(err).Str("series", seriesID).Msg("Macro sync failed for series")
			failed++
			continue
		}
		synced++
		if n > 0 {
			j.log.Debug().Str("series", seriesID).Int("observations", n).Msg("Series updated")
		}
	}

	calendarErr := j.syncCalendar()
	if calendarErr != nil {
		j.log.Error().Err(calendarErr).Msg("Economic calendar refresh failed")
	}

	j.log.Info().
		Int("series", synced).
		Int("failed", failed).
		Dur("duration", time.Since(started)).
		Msg("Macro sync completed")

	if synced == 0 && calendarErr != nil {
		return fmt.Errorf("macro sync failed for all %d series and the calendar", failed)
	}
	return nil
}

// syncSeries fetches observations newer than the last stored one, or a
// bootstrap window for an empty series.
func (j *MacroSyncJob) syncSeries(ctx context.Context, seriesID string) (int, error) {
	now := j.nowFunc().UTC()
	start := now.AddDate(0, 0, -macroBootstrapDays)

	latest, ok, err := j.macro.Latest(seriesID)
	if err != nil {
		return 0, fmt.Errorf("failed to read latest observation: %w", err)
	}
	if ok {
		start = latest.Date.AddDate(0, 0, 1)
	}
	if start.After(now) {
		return 0, nil
	}

	obs, err := j.source.Observations(ctx, seriesID, start, now)
	if err != nil {
		return 0, err
	}
	if len(obs) == 0 {
		return 0, nil
	}

	converted := make([]marketdata.Observation, len(obs))
	for i, o := range obs {
		converted[i] = marketdata.Observation{Date: o.Date, Value: o.Value}
	}
	if err := j.macro.UpsertObservations(seriesID, converted); err != nil {
		return 0, fmt.Errorf("failed to store observations: %w", err)
	}
	return len(converted), nil
}

// syncCalendar replaces the economic calendar with this year's and next
// year's scheduled events, so a December run still sees January.
func (j *MacroSyncJob) syncCalendar() error {
	year := j.nowFunc().UTC().Year()
	events := j.schedule.Events(year)
	events = append(events, j.schedule.Events(year+1)...)
	return j.events.ReplaceEconomicEvents(events)
}
