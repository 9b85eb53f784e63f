package scoring

import (
	"math"

	"github.com/markcheno/go-talib"
)

// Component lookbacks. The momentum component drives the overall minimum:
// a 12-month return with a 1-month skip needs 273 daily bars.
const (
	momentumLookback = 252
	momentumSkip     = 21
	trendSMAPeriod   = 200
	srPeriod         = 20
	rsiPeriod        = 14
	atrPeriod        = 14
	volumeShort      = 20
	volumeLong       = 50
)

// MinBars is the shortest history the composite can be scored on.
const MinBars = momentumLookback + momentumSkip

func nanSlice(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = math.NaN()
	}
	return out
}

// momentumSeries is the average of the 12-month and 6-month returns, both
// skipping the most recent 21 sessions to sidestep short-term reversal.
func momentumSeries(closes []float64) []float64 {
	out := nanSlice(len(closes))
	for i := momentumSkip + momentumLookback; i < len(closes); i++ {
		ref := closes[i-momentumSkip]
		base12 := closes[i-momentumSkip-momentumLookback]
		base6 := closes[i-momentumSkip-momentumLookback/2]
		if base12 <= 0 || base6 <= 0 {
			continue
		}
		ret12 := ref/base12 - 1
		ret6 := ref/base6 - 1
		out[i] = (ret12 + ret6) / 2
	}
	return out
}

// trendSeries is the close relative to its 200-session mean, centered so
// positive means price above trend.
func trendSeries(closes []float64) []float64 {
	out := nanSlice(len(closes))
	sma := rollingMean(closes, trendSMAPeriod)
	for i := range closes {
		if math.IsNaN(sma[i]) || sma[i] <= 0 {
			continue
		}
		out[i] = closes[i]/sma[i] - 1
	}
	return out
}

// rsiScoreSeries rewards RSI near the midpoint: 50 - |RSI - 50|, ranging
// from 0 at the extremes to 50 at 50.
func rsiScoreSeries(closes []float64) []float64 {
	out := nanSlice(len(closes))
	if len(closes) <= rsiPeriod {
		return out
	}
	rsi := talib.Rsi(closes, rsiPeriod)
	for i := rsiPeriod; i < len(rsi); i++ {
		out[i] = 50.0 - math.Abs(rsi[i]-50.0)
	}
	return out
}

// volumeScoreSeries is the 20/50-session volume ratio centered around 0.
// A defined-and-zero long average substitutes the neutral ratio rather
// than propagating undefined.
func volumeScoreSeries(volumes []float64) []float64 {
	out := nanSlice(len(volumes))
	short := rollingMean(volumes, volumeShort)
	long := rollingMean(volumes, volumeLong)
	for i := range volumes {
		if math.IsNaN(long[i]) || math.IsNaN(short[i]) {
			continue
		}
		ratio := 1.0
		if long[i] > 0 {
			ratio = short[i] / long[i]
		}
		out[i] = ratio - 1.0
	}
	return out
}

// volatilityScoreSeries is the negated ATR-to-price ratio, so calmer
// instruments score higher. Non-positive closes mark corrupt data and
// stay undefined.
func volatilityScoreSeries(highs, lows, closes []float64) []float64 {
	out := nanSlice(len(closes))
	if len(closes) <= atrPeriod {
		return out
	}
	atr := talib.Atr(highs, lows, closes, atrPeriod)
	for i := atrPeriod; i < len(atr); i++ {
		if closes[i] <= 0 {
			continue
		}
		out[i] = -(atr[i] / closes[i])
	}
	return out
}

// srSeries measures proximity to 20-session Donchian support: 1 at the
// channel low, 0 at the high. A defined-and-zero channel range (flat
// market) substitutes the neutral midpoint 0.5.
func srSeries(highs, lows, closes []float64) []float64 {
	out := nanSlice(len(closes))
	hi := rollingMax(highs, srPeriod)
	lo := rollingMin(lows, srPeriod)
	for i := range closes {
		if math.IsNaN(hi[i]) || math.IsNaN(lo[i]) {
			continue
		}
		span := hi[i] - lo[i]
		pos := 0.5
		if span > 0 {
			pos = (closes[i] - lo[i]) / span
		}
		out[i] = 1.0 - pos
	}
	return out
}

func rollingMean(vals []float64, window int) []float64 {
	out := nanSlice(len(vals))
	if len(vals) < window {
		return out
	}
	var sum float64
	for i, v := range vals {
		sum += v
		if i >= window {
			sum -= vals[i-window]
		}
		if i >= window-1 {
			out[i] = sum / float64(window)
		}
	}
	return out
}

func rollingMax(vals []float64, window int) []float64 {
	out := nanSlice(len(vals))
	for i := window - 1; i < len(vals); i++ {
		max := vals[i-window+1]
		for _, v := range vals[i-window+2 : i+1] {
			if v > max {
				max = v
			}
		}
		out[i] = max
	}
	return out
}

func rollingMin(vals []float64, window int) []float64 {
	out := nanSlice(len(vals))
	for i := window - 1; i < len(vals); i++ {
		min := vals[i-window+1]
		for _, v := range vals[i-window+2 : i+1] {
			if v < min {
				min = v
			}
		}
		out[i] = min
	}
	return out
}
