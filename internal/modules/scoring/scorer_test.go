package scoring

import (
	"math"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/trapline/internal/domain"
)

func mkBars(n int, price func(i int) float64) []domain.Bar {
	bars := make([]domain.Bar, n)
	day := time.Date(2023, 1, 2, 0, 0, 0, 0, time.UTC)
	for i := 0; i < n; i++ {
		p := price(i)
		bars[i] = domain.Bar{
			Date:   day.AddDate(0, 0, i),
			Open:   p,
			High:   p * 1.01,
			Low:    p * 0.99,
			Close:  p,
			Volume: 10000,
		}
	}
	return bars
}

// flatBars have zero intraday range so every component series is exactly
// constant. The usual 1% high/low band leaves representation dust in the
// ATR recursion, which defeats the zero-deviation collapse to z = 0.
func flatBars(n int) []domain.Bar {
	bars := make([]domain.Bar, n)
	day := time.Date(2023, 1, 2, 0, 0, 0, 0, time.UTC)
	for i := 0; i < n; i++ {
		bars[i] = domain.Bar{
			Date:   day.AddDate(0, 0, i),
			Open:   100,
			High:   100,
			Low:    100,
			Close:  100,
			Volume: 10000,
		}
	}
	return bars
}

func equityProfile() domain.AssetProfile {
	return domain.AssetProfile{
		AssetID:        "ASML.AS",
		AssetClass:     domain.AssetClassEquity,
		VolumeFeatures: true,
	}
}

func TestWeightsSumToOne(t *testing.T) {
	for _, volume := range []bool{true, false} {
		w := weightsFor(volume)
		var total float64
		for _, v := range w {
			total += v
		}
		assert.InDelta(t, 1.0, total, 1e-10)
	}
}

func TestWeightsWithoutVolume(t *testing.T) {
	w := weightsFor(false)
	_, ok := w[CompVolume]
	assert.False(t, ok)
	assert.Len(t, w, 5)
	// 0.40 redistributed over the 0.90 non-volume mass.
	assert.InDelta(t, 0.40/0.90, w[CompMomentum], 1e-10)
	assert.InDelta(t, 0.05/0.90, w[CompSR], 1e-10)

	assert.Len(t, weightsFor(true), 6)
}

func TestZScoreLast(t *testing.T) {
	t.Run("constant series is zero", func(t *testing.T) {
		series := make([]float64, 300)
		for i := range series {
			series[i] = 100
		}
		assert.Equal(t, 0.0, zScoreLast(series, 252))
	})

	t.Run("short series is undefined", func(t *testing.T) {
		assert.True(t, math.IsNaN(zScoreLast(make([]float64, 100), 252)))
	})

	t.Run("warmup NaN in window is undefined", func(t *testing.T) {
		series := make([]float64, 252)
		series[0] = math.NaN()
		assert.True(t, math.IsNaN(zScoreLast(series, 252)))
	})

	t.Run("known value", func(t *testing.T) {
		// Sample std of 1..4 is ~1.29099, z = (4 - 2.5) / 1.29099.
		z := zScoreLast([]float64{1, 2, 3, 4}, 4)
		assert.InDelta(t, 1.1619, z, 1e-4)
	})
}

func TestClassify(t *testing.T) {
	cases := []struct {
		score float64
		want  domain.Classification
	}{
		{2.5, domain.ClassStrongBuy},
		{1.7, domain.ClassBuy},
		{1.4, domain.ClassNeutral},
		{0.0, domain.ClassNeutral},
		{-1.4, domain.ClassNeutral},
		{-1.7, domain.ClassSell},
		{-2.5, domain.ClassStrongSell},
		// Thresholds are strict: exact values fall to the weaker class.
		{2.0, domain.ClassBuy},
		{1.5, domain.ClassNeutral},
		{-1.5, domain.ClassNeutral},
		{-2.0, domain.ClassSell},
		{math.NaN(), domain.ClassNeutral},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, classify(tc.score), "score %.2f", tc.score)
	}
}

func TestScoreInsufficientHistory(t *testing.T) {
	scorer := NewScorer(zerolog.Nop())

	res, err := scorer.Score(flatBars(MinBars-1), equityProfile())
	require.NoError(t, err)

	assert.False(t, res.Defined)
	assert.Equal(t, domain.ClassNeutral, res.Classification)
	assert.Empty(t, res.Components)
	assert.Equal(t, MinBars-1, res.Bars)
}

func TestScoreNoBars(t *testing.T) {
	scorer := NewScorer(zerolog.Nop())
	_, err := scorer.Score(nil, equityProfile())
	require.Error(t, err)
}

func TestScoreFlatMarket(t *testing.T) {
	// A long constant series has zero deviation everywhere: every
	// component z-score collapses to 0 and the composite is a defined 0.
	scorer := NewScorer(zerolog.Nop())

	res, err := scorer.Score(flatBars(600), equityProfile())
	require.NoError(t, err)

	assert.True(t, res.Defined)
	assert.InDelta(t, 0.0, res.Score, 1e-9)
	assert.Equal(t, domain.ClassNeutral, res.Classification)
}

func TestScoreMinBarsExactlyDefined(t *testing.T) {
	// At exactly MinBars the composite is defined; components still in
	// their z-warm-up simply contribute zero.
	scorer := NewScorer(zerolog.Nop())

	res, err := scorer.Score(flatBars(MinBars), equityProfile())
	require.NoError(t, err)
	assert.True(t, res.Defined)
}

func TestScoreRecentSurge(t *testing.T) {
	// Flat for two years, then a strong recent rally: momentum, trend
	// and the composite should come out positive.
	scorer := NewScorer(zerolog.Nop())
	bars := mkBars(700, func(i int) float64 {
		if i < 600 {
			return 100
		}
		return 100 + float64(i-600)*0.5
	})

	res, err := scorer.Score(bars, equityProfile())
	require.NoError(t, err)

	require.True(t, res.Defined)
	assert.Greater(t, res.Score, 0.0)
	z, ok := res.Components[CompTrend]
	require.True(t, ok)
	assert.Greater(t, z, 0.0)
}

func TestScoreDeterministic(t *testing.T) {
	scorer := NewScorer(zerolog.Nop())
	bars := mkBars(700, func(i int) float64 { return 100 + math.Sin(float64(i)/10)*5 + float64(i)*0.02 })

	a, err := scorer.Score(bars, equityProfile())
	require.NoError(t, err)
	b, err := scorer.Score(bars, equityProfile())
	require.NoError(t, err)

	assert.Equal(t, a.Score, b.Score)
	assert.Equal(t, a.Classification, b.Classification)
	assert.Equal(t, a.Components, b.Components)
}

func TestScoreVolumeDisabledOmitsComponent(t *testing.T) {
	scorer := NewScorer(zerolog.Nop())
	profile := equityProfile()
	profile.VolumeFeatures = false

	res, err := scorer.Score(flatBars(600), profile)
	require.NoError(t, err)

	require.True(t, res.Defined)
	_, ok := res.Weights[CompVolume]
	assert.False(t, ok)
	_, ok = res.Components[CompVolume]
	assert.False(t, ok)
}
