// Package features computes the per-asset daily feature vector.
//
// Every indicator guards its own warm-up window: a value that cannot be
// computed from the available history is added as undefined, never as zero
// or another in-range number. go-talib zero-fills warm-up indices, so the
// length guards here are what keep warm-up values out of the vector.
package features

import (
	"fmt"

	"github.com/markcheno/go-talib"
	"github.com/rs/zerolog"

	"github.com/aristath/trapline/internal/domain"
)

// Feature names, in vector order.
const (
	FeatRSI14       = "rsi_14"
	FeatEMA8        = "ema_8"
	FeatEMA20       = "ema_20"
	FeatEMA50       = "ema_50"
	FeatSMA200      = "sma_200"
	FeatMACDHist    = "macd_hist"
	FeatADX14       = "adx_14"
	FeatATR14       = "atr_14"
	FeatEMAFan      = "ema_fan"
	FeatDist52wLow  = "dist_52w_low"
	FeatVolumeRatio = "volume_ratio"
	FeatOBV         = "obv"
	FeatRS63        = "rs_63"
)

// Indicator periods.
const (
	rsiPeriod   = 14
	adxPeriod   = 14
	atrPeriod   = 14
	macdFast    = 12
	macdSlow    = 26
	macdSignal  = 9
	lowWindow   = 252 // 52 trading weeks
	volumeShort = 20
	volumeLong  = 50
	rsWindow    = 63 // one quarter
)

// Engine computes feature vectors from daily bars.
type Engine struct {
	log zerolog.Logger
}

// NewEngine creates a feature engine.
func NewEngine(log zerolog.Logger) *Engine {
	return &Engine{
		log: log.With().Str("component", "feature_engine").Logger(),
	}
}

// Compute builds the feature vector for the final bar of the series.
// Base vector is 10 entries; volume-enabled profiles add 2, profiles with
// a relative-strength benchmark add 1 (10-13 entries, order fixed).
func (e *Engine) Compute(bars []domain.Bar, profile domain.AssetProfile, benchmark []domain.Bar) (*domain.FeatureVector, error) {
	if len(bars) == 0 {
		return nil, fmt.Errorf("no bars for %s", profile.AssetID)
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

	v := domain.NewFeatureVector(13)

	v.Add(FeatRSI14, lastRSI(closes))
	ema8 := lastEMA(closes, 8)
	ema20 := lastEMA(closes, 20)
	ema50 := lastEMA(closes, 50)
	v.Add(FeatEMA8, ema8)
	v.Add(FeatEMA20, ema20)
	v.Add(FeatEMA50, ema50)
	v.Add(FeatSMA200, lastSMA(closes, 200))
	v.Add(FeatMACDHist, lastMACDHist(closes))
	v.Add(FeatADX14, lastADX(highs, lows, closes))
	v.Add(FeatATR14, lastATR(highs, lows, closes))
	v.Add(FeatEMAFan, emaFan(ema8, ema20, ema50))
	v.Add(FeatDist52wLow, distFromLow(lows, closes))

	if profile.VolumeFeatures {
		v.Add(FeatVolumeRatio, volumeRatio(volumes))
		v.Add(FeatOBV, lastOBV(closes, volumes))
	}

	if profile.BenchmarkIndex != "" {
		v.Add(FeatRS63, relativeStrength(closes, benchmark))
	}

	return v, nil
}

func lastRSI(closes []float64) float64 {
	if len(closes) < rsiPeriod+1 {
		return domain.Undefined()
	}
	s := talib.Rsi(closes, rsiPeriod)
	return s[len(s)-1]
}

func lastEMA(closes []float64, period int) float64 {
	if len(closes) < period {
		return domain.Undefined()
	}
	s := talib.Ema(closes, period)
	return s[len(s)-1]
}

func lastSMA(closes []float64, period int) float64 {
	if len(closes) < period {
		return domain.Undefined()
	}
	s := talib.Sma(closes, period)
	return s[len(s)-1]
}

func lastMACDHist(closes []float64) float64 {
	// First defined histogram index is slow + signal - 2
	if len(closes) < macdSlow+macdSignal {
		return domain.Undefined()
	}
	_, _, hist := talib.Macd(closes, macdFast, macdSlow, macdSignal)
	return hist[len(hist)-1]
}

func lastADX(highs, lows, closes []float64) float64 {
	// ADX unstable period is 2*period - 1
	if len(closes) < 2*adxPeriod {
		return domain.Undefined()
	}
	s := talib.Adx(highs, lows, closes, adxPeriod)
	return s[len(s)-1]
}

func lastATR(highs, lows, closes []float64) float64 {
	if len(closes) < atrPeriod+1 {
		return domain.Undefined()
	}
	s := talib.Atr(highs, lows, closes, atrPeriod)
	return s[len(s)-1]
}

func lastOBV(closes, volumes []float64) float64 {
	if len(closes) < 2 {
		return domain.Undefined()
	}
	s := talib.Obv(closes, volumes)
	return s[len(s)-1]
}

// emaFan is 1.0 when the fast/mid/slow EMAs are stacked bullishly
// (8 above 20 above 50), 0.0 otherwise. Undefined until all three exist.
func emaFan(ema8, ema20, ema50 float64) float64 {
	if !domain.IsDefined(ema8) || !domain.IsDefined(ema20) || !domain.IsDefined(ema50) {
		return domain.Undefined()
	}
	if ema8 > ema20 && ema20 > ema50 {
		return 1.0
	}
	return 0.0
}

// distFromLow is the fractional distance of the close above the 52-week
// low. Undefined until the full window exists or when the low is not
// positive (the denominator rule: fall back only on defined denominators).
func distFromLow(lows, closes []float64) float64 {
	if len(lows) < lowWindow {
		return domain.Undefined()
	}
	low := lows[len(lows)-lowWindow]
	for _, l := range lows[len(lows)-lowWindow:] {
		if l < low {
			low = l
		}
	}
	if low <= 0 {
		return domain.Undefined()
	}
	return (closes[len(closes)-1] - low) / low
}

// volumeRatio is the 20-session volume average over the 50-session one.
// A defined-and-zero long average yields the neutral ratio 1.0; insufficient
// history stays undefined.
func volumeRatio(volumes []float64) float64 {
	if len(volumes) < volumeLong {
		return domain.Undefined()
	}
	short := mean(volumes[len(volumes)-volumeShort:])
	long := mean(volumes[len(volumes)-volumeLong:])
	if long <= 0 {
		return 1.0
	}
	return short / long
}

func mean(vals []float64) float64 {
	var sum float64
	for _, v := range vals {
		sum += v
	}
	return sum / float64(len(vals))
}

// relativeStrength is the asset's trailing quarter return minus the
// benchmark's over the same window.
func relativeStrength(closes []float64, benchmark []domain.Bar) float64 {
	if len(closes) < rsWindow+1 || len(benchmark) < rsWindow+1 {
		return domain.Undefined()
	}
	assetPast := closes[len(closes)-rsWindow-1]
	benchLast := benchmark[len(benchmark)-1].Close
	benchPast := benchmark[len(benchmark)-rsWindow-1].Close
	if assetPast <= 0 || benchPast <= 0 {
		return domain.Undefined()
	}
	assetRet := closes[len(closes)-1]/assetPast - 1
	benchRet := benchLast/benchPast - 1
	return assetRet - benchRet
}
