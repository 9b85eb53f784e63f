package scoring

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMomentumSeriesWarmup(t *testing.T) {
	closes := make([]float64, 300)
	for i := range closes {
		closes[i] = 100 + float64(i)
	}
	m := momentumSeries(closes)
	require.Len(t, m, 300)

	// First defined index needs the full skip+lookback behind it.
	for i := 0; i < momentumSkip+momentumLookback; i++ {
		assert.True(t, math.IsNaN(m[i]), "index %d should be warm-up", i)
	}
	assert.False(t, math.IsNaN(m[momentumSkip+momentumLookback]))
}

func TestMomentumSeriesValue(t *testing.T) {
	// Doubling over 12 months, flat over the last 6: 12m return 1.0,
	// 6m return 0.0, averaged to 0.5.
	n := momentumSkip + momentumLookback + 1
	closes := make([]float64, n)
	for i := range closes {
		switch {
		case i <= momentumLookback/2:
			closes[i] = 100
		default:
			closes[i] = 200
		}
	}
	// Make the 6-month base exactly the final reference value.
	closes[n-1-momentumSkip-momentumLookback/2] = 200
	closes[n-1-momentumSkip-momentumLookback] = 100

	m := momentumSeries(closes)
	assert.InDelta(t, 0.5, m[n-1], 1e-9)
}

func TestTrendSeries(t *testing.T) {
	closes := make([]float64, 250)
	for i := range closes {
		closes[i] = 100
	}
	tr := trendSeries(closes)

	assert.True(t, math.IsNaN(tr[trendSMAPeriod-2]))
	assert.InDelta(t, 0.0, tr[249], 1e-9) // price exactly on trend
}

func TestRSIScoreSeriesRange(t *testing.T) {
	closes := make([]float64, 100)
	for i := range closes {
		closes[i] = 100 + math.Sin(float64(i)/5)*10
	}
	rs := rsiScoreSeries(closes)

	for i := 0; i < rsiPeriod; i++ {
		assert.True(t, math.IsNaN(rs[i]))
	}
	for i := rsiPeriod; i < len(rs); i++ {
		if math.IsNaN(rs[i]) {
			continue
		}
		assert.GreaterOrEqual(t, rs[i], 0.0)
		assert.LessOrEqual(t, rs[i], 50.0)
	}
}

func TestVolumeScoreSeriesNeutralOnZero(t *testing.T) {
	// All-zero volume: the long average is defined and zero, so the
	// ratio substitutes neutral and the score is 0, not NaN.
	volumes := make([]float64, 80)
	vs := volumeScoreSeries(volumes)

	assert.True(t, math.IsNaN(vs[volumeLong-2]), "warm-up stays undefined")
	assert.Equal(t, 0.0, vs[79])
}

func TestSRSeriesFlatChannelNeutral(t *testing.T) {
	n := 40
	highs := make([]float64, n)
	lows := make([]float64, n)
	closes := make([]float64, n)
	for i := range closes {
		highs[i], lows[i], closes[i] = 100, 100, 100
	}
	sr := srSeries(highs, lows, closes)

	assert.True(t, math.IsNaN(sr[srPeriod-2]), "warm-up stays undefined")
	// Zero channel range substitutes the neutral midpoint.
	assert.Equal(t, 0.5, sr[n-1])
}

func TestSRSeriesProximity(t *testing.T) {
	n := 40
	highs := make([]float64, n)
	lows := make([]float64, n)
	closes := make([]float64, n)
	for i := range closes {
		highs[i], lows[i] = 110, 90
		closes[i] = 100
	}
	closes[n-1] = 90 // at support
	sr := srSeries(highs, lows, closes)
	assert.InDelta(t, 1.0, sr[n-1], 1e-9)

	closes[n-1] = 110 // at resistance
	sr = srSeries(highs, lows, closes)
	assert.InDelta(t, 0.0, sr[n-1], 1e-9)
}

func TestRollingMean(t *testing.T) {
	vals := []float64{1, 2, 3, 4, 5}
	m := rollingMean(vals, 3)

	assert.True(t, math.IsNaN(m[0]))
	assert.True(t, math.IsNaN(m[1]))
	assert.InDelta(t, 2.0, m[2], 1e-9)
	assert.InDelta(t, 4.0, m[4], 1e-9)
}

func TestRollingMaxMin(t *testing.T) {
	vals := []float64{3, 1, 4, 1, 5, 9, 2, 6}
	hi := rollingMax(vals, 3)
	lo := rollingMin(vals, 3)

	assert.True(t, math.IsNaN(hi[1]))
	assert.Equal(t, 4.0, hi[2])
	assert.Equal(t, 9.0, hi[5])
	assert.Equal(t, 1.0, lo[2])
	assert.Equal(t, 2.0, lo[7])
}
