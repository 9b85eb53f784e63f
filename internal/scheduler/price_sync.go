package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/trapline/internal/domain"
	"github.com/aristath/trapline/internal/modules/universe"
)

const (
	// syncTimeout bounds one full provider sync pass.
	syncTimeout = 10 * time.Minute

	// bootstrapLookbackDays is how far back a first-time symbol fetch
	// reaches. The pipeline loads 600 sessions per asset; 1000 calendar
	// days clears that with margin for holidays.
	bootstrapLookbackDays = 1000

	// earningsLookbackYears is the statement history used to project
	// the next earnings date from the average reporting interval.
	earningsLookbackYears = 2

	// earningsRefreshInterval is how long a fetched statement calendar
	// counts as fresh. Statement dates move quarterly; the fundamentals
	// endpoint is the quota-bound one, so daily runs skip it.
	earningsRefreshInterval = 7 * 24 * time.Hour
)

// PriceSyncJob refreshes daily bars for every active asset and the
// regime/benchmark indexes, then refreshes earnings dates for assets
// with the event guard enabled. Runs after the US close, before the
// pipeline.
type PriceSyncJob struct {
	log      zerolog.Logger
	profiles domain.ProfileStore
	source   PriceSource
	bars     BarStore
	earnings EarningsStore
	throttle SyncThrottle

	nowFunc func() time.Time
}

// PriceSyncConfig holds the price sync job dependencies. Throttle may
// be nil, in which case every run refetches the earnings calendar.
type PriceSyncConfig struct {
	Log      zerolog.Logger
	Profiles domain.ProfileStore
	Source   PriceSource
	Bars     BarStore
	Earnings EarningsStore
	Throttle SyncThrottle
}

// NewPriceSyncJob creates the price sync job.
func NewPriceSyncJob(cfg PriceSyncConfig) *PriceSyncJob {
	return &PriceSyncJob{
		log:      cfg.Log.With().Str("job", "price_sync").Logger(),
		profiles: cfg.Profiles,
		source:   cfg.Source,
		bars:     cfg.Bars,
		earnings: cfg.Earnings,
		throttle: cfg.Throttle,
		nowFunc:  time.Now,
	}
}

// Name returns the job name.
func (j *PriceSyncJob) Name() string {
	return "price_sync"
}

// Run syncs prices for all tracked symbols, then earnings calendars.
// Per-symbol failures are logged and skipped; the job fails only when
// the universe cannot be listed or no symbol synced at all.
func (j *PriceSyncJob) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), syncTimeout)
	defer cancel()

	started := time.Now()

	profiles, err := j.profiles.Active()
	if err != nil {
		return fmt.Errorf("failed to list active profiles: %w", err)
	}
	if len(profiles) == 0 {
		j.log.Warn().Msg("No active profiles, nothing to sync")
		return nil
	}

	symbols := trackedSymbols(profiles)
	var synced, failed, bars int
	for _, sym := range symbols {
		n, err := j.syncSymbol(ctx, sym.symbol, sym.source)
		if err != nil {
			j.log.Error().Err(err).Str("symbol", sym.symbol).Msg("Price sync failed for symbol")
			failed++
			continue
		}
		synced++
		bars += n
	}

	j.syncEarnings(ctx, profiles)

	j.log.Info().
		Int("symbols", synced).
		Int("failed", failed).
		Int("bars", bars).
		Dur("duration", time.Since(started)).
		Msg("Price sync completed")

	if synced == 0 {
		return fmt.Errorf("price sync failed for all %d symbols", failed)
	}
	return nil
}

// trackedSymbol pairs a symbol with the provider endpoint that serves
// it. Assets keep the source from their profile; regime and benchmark
// indexes default to the EOD endpoint.
type trackedSymbol struct {
	symbol string
	source string
}

func trackedSymbols(profiles []domain.AssetProfile) []trackedSymbol {
	seen := make(map[string]bool, len(profiles))
	out := make([]trackedSymbol, 0, len(profiles)*2)

	for _, p := range profiles {
		if seen[p.AssetID] {
			continue
		}
		seen[p.AssetID] = true
		out = append(out, trackedSymbol{symbol: p.AssetID, source: p.DataSource})
	}
	for _, p := range profiles {
		for _, idx := range []string{p.RegimeIndex, p.BenchmarkIndex} {
			if idx == "" || seen[idx] {
				continue
			}
			seen[idx] = true
			out = append(out, trackedSymbol{symbol: idx, source: universe.SourceTiingo})
		}
	}
	return out
}

// syncSymbol fetches bars from the day after the last stored bar, or a
// full bootstrap window for a symbol with no history yet.
func (j *PriceSyncJob) syncSymbol(ctx context.Context, symbol, source string) (int, error) {
	now := j.nowFunc().UTC()
	start := now.AddDate(0, 0, -bootstrapLookbackDays)

	last, ok, err := j.bars.LatestDate(symbol)
	if err != nil {
		return 0, fmt.Errorf("failed to read latest bar date: %w", err)
	}
	if ok {
		start = last.AddDate(0, 0, 1)
	}
	if start.After(now) {
		j.log.Debug().Str("symbol", symbol).Msg("History already current")
		return 0, nil
	}

	var fetched []domain.Bar
	switch source {
	case universe.SourceTiingoForex:
		fetched, err = j.source.DailyForexPrices(ctx, symbol, start, now)
	default:
		fetched, err = j.source.DailyPrices(ctx, symbol, start, now)
	}
	if err != nil {
		return 0, err
	}
	if len(fetched) == 0 {
		return 0, nil
	}

	if err := j.bars.UpsertBars(symbol, fetched); err != nil {
		return 0, fmt.Errorf("failed to store bars: %w", err)
	}
	return len(fetched), nil
}

// syncEarnings refreshes statement dates for equity assets that run the
// earnings blackout guard. Non-critical: failures leave the previous
// calendar in place and the guard degrades through its own staleness
// handling.
func (j *PriceSyncJob) syncEarnings(ctx context.Context, profiles []domain.AssetProfile) {
	now := j.nowFunc().UTC()
	start := now.AddDate(-earningsLookbackYears, 0, 0)

	for _, p := range profiles {
		if !p.EventGuard || p.AssetClass != domain.AssetClassEquity {
			continue
		}
		key := "earnings:" + p.AssetID
		if j.throttle != nil && j.throttle.Fresh(key, now) {
			j.log.Debug().Str("symbol", p.AssetID).Msg("Earnings calendar still fresh")
			continue
		}
		dates, err := j.source.StatementDates(ctx, p.AssetID, start, now)
		if err != nil {
			j.log.Warn().Err(err).Str("symbol", p.AssetID).Msg("Earnings sync failed for symbol")
			continue
		}
		if err := j.earnings.ReplaceEarnings(p.AssetID, dates); err != nil {
			j.log.Warn().Err(err).Str("symbol", p.AssetID).Msg("Failed to store earnings dates")
			continue
		}
		if j.throttle != nil {
			if err := j.throttle.Mark(key, now.Add(earningsRefreshInterval)); err != nil {
				j.log.Warn().Err(err).Str("symbol", p.AssetID).Msg("Failed to mark earnings sync")
			}
		}
	}
}
