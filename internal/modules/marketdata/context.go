package marketdata

import (
	"fmt"
	"time"

	"github.com/aristath/trapline/internal/domain"
	talib "github.com/markcheno/go-talib"
	"github.com/rs/zerolog"
)

const (
	indexSMAPeriod = 200
	// indexBarWindow leaves slack over the SMA period for holidays.
	indexBarWindow = 220
)

// ContextBuilder assembles the MarketContext for a run: the VIX level
// from the macro store plus close and SMA200 for every index referenced
// by an active profile. It implements domain.ContextProvider.
type ContextBuilder struct {
	macro    *MacroStore
	bars     domain.BarProvider
	profiles domain.ProfileStore
	log      zerolog.Logger
}

// NewContextBuilder creates a context builder.
func NewContextBuilder(macro *MacroStore, bars domain.BarProvider, profiles domain.ProfileStore, log zerolog.Logger) *ContextBuilder {
	return &ContextBuilder{
		macro:    macro,
		bars:     bars,
		profiles: profiles,
		log:      log.With().Str("component", "context_builder").Logger(),
	}
}

// MarketContext builds the cross-asset inputs as of a run time. Missing
// data surfaces as undefined values with zero timestamps; the guards
// decide what that means.
func (b *ContextBuilder) MarketContext(asOf time.Time) (domain.MarketContext, error) {
	ctx := domain.MarketContext{
		VIX:     domain.ContextField{Value: domain.Undefined()},
		Indexes: make(map[string]domain.IndexLevel),
	}

	if obs, ok, err := b.macro.Latest(SeriesVIX); err != nil {
		return domain.MarketContext{}, err
	} else if ok {
		ctx.VIX.Value = obs.Value
	}
	if syncedAt, ok, err := b.macro.SyncedAt(SeriesVIX); err != nil {
		return domain.MarketContext{}, err
	} else if ok {
		ctx.VIX.AsOf = syncedAt
	}

	for _, symbol := range b.indexSymbols() {
		level, ok, err := b.indexLevel(symbol, asOf)
		if err != nil {
			return domain.MarketContext{}, err
		}
		if ok {
			ctx.Indexes[symbol] = level
		}
	}

	return ctx, nil
}

// indexSymbols collects the distinct regime and benchmark indices of the
// active universe.
func (b *ContextBuilder) indexSymbols() []string {
	profiles, err := b.profiles.Active()
	if err != nil {
		b.log.Error().Err(err).Msg("Failed to load profiles for context indices")
		return nil
	}

	seen := make(map[string]bool)
	var symbols []string
	add := func(symbol string) {
		if symbol != "" && !seen[symbol] {
			seen[symbol] = true
			symbols = append(symbols, symbol)
		}
	}
	for _, p := range profiles {
		add(p.RegimeIndex)
		add(p.BenchmarkIndex)
	}
	return symbols
}

func (b *ContextBuilder) indexLevel(symbol string, asOf time.Time) (domain.IndexLevel, bool, error) {
	bars, err := b.bars.DailyBars(symbol, indexBarWindow, asOf)
	if err != nil {
		return domain.IndexLevel{}, false, fmt.Errorf("failed to load %s bars: %w", symbol, err)
	}
	if len(bars) == 0 {
		b.log.Warn().Str("symbol", symbol).Msg("No bars for context index")
		return domain.IndexLevel{}, false, nil
	}

	last := bars[len(bars)-1]
	level := domain.IndexLevel{
		Close:  last.Close,
		SMA200: domain.Undefined(),
		AsOf:   last.Date,
	}

	if len(bars) >= indexSMAPeriod {
		closes := make([]float64, len(bars))
		for i, bar := range bars {
			closes[i] = bar.Close
		}
		sma := talib.Sma(closes, indexSMAPeriod)
		level.SMA200 = sma[len(sma)-1]
	}

	return level, true, nil
}
