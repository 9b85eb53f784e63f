// Package scoring computes the six-component momentum composite: raw
// component series are normalized to rolling z-scores and combined into a
// weighted sum, classified against fixed standard-deviation thresholds.
package scoring

import (
	"fmt"
	"math"

	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/stat"

	"github.com/aristath/trapline/internal/domain"
)

// ZWindow is the rolling z-score normalization window, matched to the
// momentum lookback.
const ZWindow = 252

// Classification thresholds, in standard deviations.
const (
	StrongBuyThreshold  = 2.0
	BuyThreshold        = 1.5
	SellThreshold       = -1.5
	StrongSellThreshold = -2.0
)

// Component names.
const (
	CompMomentum   = "momentum"
	CompTrend      = "trend"
	CompRSI        = "rsi"
	CompVolume     = "volume"
	CompVolatility = "volatility"
	CompSR         = "sr"
)

var weightsWithVolume = map[string]float64{
	CompMomentum:   0.40,
	CompTrend:      0.20,
	CompRSI:        0.15,
	CompVolume:     0.10,
	CompVolatility: 0.10,
	CompSR:         0.05,
}

// weightsFor returns the component weights. When volume features are
// disabled the volume weight is redistributed proportionally across the
// remaining five components.
func weightsFor(volumeFeatures bool) map[string]float64 {
	out := make(map[string]float64, len(weightsWithVolume))
	if volumeFeatures {
		for k, v := range weightsWithVolume {
			out[k] = v
		}
		return out
	}
	var total float64
	for k, v := range weightsWithVolume {
		if k != CompVolume {
			total += v
		}
	}
	for k, v := range weightsWithVolume {
		if k != CompVolume {
			out[k] = v / total
		}
	}
	return out
}

// Scorer computes composite scores from daily bar history.
type Scorer struct {
	log zerolog.Logger
}

// NewScorer creates a composite scorer.
func NewScorer(log zerolog.Logger) *Scorer {
	return &Scorer{
		log: log.With().Str("component", "composite_scorer").Logger(),
	}
}

// Score computes the composite for the final bar of the series. Histories
// shorter than MinBars produce an undefined composite classified NEUTRAL;
// downstream treats that fail-closed, never as a numeric zero.
func (s *Scorer) Score(bars []domain.Bar, profile domain.AssetProfile) (*domain.CompositeResult, error) {
	if len(bars) == 0 {
		return nil, fmt.Errorf("no bars for %s", profile.AssetID)
	}

	result := &domain.CompositeResult{
		Classification: domain.ClassNeutral,
		Bars:           len(bars),
	}
	if len(bars) < MinBars {
		s.log.Debug().
			Str("asset", profile.AssetID).
			Int("bars", len(bars)).
			Int("min_bars", MinBars).
			Msg("Insufficient history, composite undefined")
		return result, nil
	}

	closes := make([]float64, len(bars))
	highs := make([]float64, len(bars))
	lows := make([]float64, len(bars))
	volumes := make([]float64, len(bars))
	for i, b := range bars {
		closes[i] = b.Close
		highs[i] = b.High
		lows[i] = b.Low
		volumes[i] = b.Volume
	}

	raw := map[string][]float64{
		CompMomentum:   momentumSeries(closes),
		CompTrend:      trendSeries(closes),
		CompRSI:        rsiScoreSeries(closes),
		CompVolatility: volatilityScoreSeries(highs, lows, closes),
		CompSR:         srSeries(highs, lows, closes),
	}
	if profile.VolumeFeatures {
		raw[CompVolume] = volumeScoreSeries(volumes)
	}

	weights := weightsFor(profile.VolumeFeatures)
	components := make(map[string]float64, len(weights))

	// Components still inside their z-warm-up contribute zero to the
	// weighted sum but are excluded from the reported component map.
	var composite float64
	for name, w := range weights {
		z := zScoreLast(raw[name], ZWindow)
		if math.IsNaN(z) {
			continue
		}
		components[name] = z
		composite += w * z
	}

	result.Score = composite
	result.Defined = true
	result.Classification = classify(composite)
	result.Components = components
	result.Weights = weights

	s.log.Debug().
		Str("asset", profile.AssetID).
		Float64("composite", composite).
		Str("classification", string(result.Classification)).
		Int("components", len(components)).
		Msg("Composite scored")

	return result, nil
}

// zScoreLast is the rolling z-score of the final value. Undefined until
// the trailing window is fully populated with defined observations; zero
// when the window deviation is defined and zero (constant series).
func zScoreLast(series []float64, window int) float64 {
	if len(series) < window {
		return math.NaN()
	}
	w := series[len(series)-window:]
	for _, v := range w {
		if math.IsNaN(v) {
			return math.NaN()
		}
	}
	mean := stat.Mean(w, nil)
	std := stat.StdDev(w, nil)
	if std == 0 {
		return 0
	}
	return (w[len(w)-1] - mean) / std
}

func classify(score float64) domain.Classification {
	switch {
	case math.IsNaN(score):
		return domain.ClassNeutral
	case score > StrongBuyThreshold:
		return domain.ClassStrongBuy
	case score > BuyThreshold:
		return domain.ClassBuy
	case score < StrongSellThreshold:
		return domain.ClassStrongSell
	case score < SellThreshold:
		return domain.ClassSell
	default:
		return domain.ClassNeutral
	}
}
