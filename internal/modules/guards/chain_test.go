package guards

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/trapline/internal/domain"
	"github.com/aristath/trapline/internal/modules/features"
)

var asOf = time.Date(2026, 3, 6, 22, 0, 0, 0, time.UTC)

// passingInputs builds a context in which every guard passes.
func passingInputs() Inputs {
	fresh := asOf.Add(-2 * time.Hour)

	v := domain.NewFeatureVector(4)
	v.Add(features.FeatADX14, 28.0)
	v.Add(features.FeatEMA20, 100.0)
	v.Add(features.FeatATR14, 2.0)

	return Inputs{
		AsOf: asOf,
		Profile: domain.AssetProfile{
			AssetID:         "ASML.AS",
			AssetClass:      domain.AssetClassEquity,
			RegimeIndex:     "SPY",
			RegimeDirection: domain.RegimeBull,
			VIXGuard:        true,
			EventGuard:      true,
			MacroGuard:      true,
		},
		Features: v,
		Close:    101.0,
		Context: domain.MarketContext{
			VIX: domain.ContextField{Value: 18.5, AsOf: fresh},
			Indexes: map[string]domain.IndexLevel{
				"SPY": {Close: 520.0, SMA200: 480.0, AsOf: fresh},
				"UUP": {Close: 27.0, SMA200: 28.5, AsOf: fresh},
			},
		},
		OpenPositions:    1,
		MaxPositions:     5,
		RiskStatus:       domain.RiskNormal,
		DaysToEarnings:   30,
		EarningsKnown:    true,
		EarningsSyncedAt: fresh,
		DaysToMacro:      10,
		MacroKnown:       true,
		MacroSyncedAt:    fresh,
	}
}

func TestChainAllPass(t *testing.T) {
	chain := NewChain(zerolog.Nop())
	results := chain.Evaluate(passingInputs())

	require.Len(t, results, 8)
	assert.True(t, Passed(results))

	wantOrder := []string{
		GuardRegime, GuardVolatility, GuardExposureCap, GuardTrendStrength,
		GuardEventBlackout, GuardMacroBlackout, GuardPullback, GuardDrawdown,
	}
	for i, r := range results {
		assert.Equal(t, wantOrder[i], r.ID)
	}
}

func TestChainIdempotent(t *testing.T) {
	chain := NewChain(zerolog.Nop())
	in := passingInputs()

	first := chain.Evaluate(in)
	second := chain.Evaluate(in)
	assert.Equal(t, first, second)
}

func TestChainShortCircuits(t *testing.T) {
	// VIX at 34 with the guard enabled: chain stops at guard 2, nothing
	// after it is evaluated.
	chain := NewChain(zerolog.Nop())
	in := passingInputs()
	in.Context.VIX.Value = 34.0

	results := chain.Evaluate(in)

	require.Len(t, results, 2)
	assert.True(t, results[0].Passed)
	failure, ok := FirstFailure(results)
	require.True(t, ok)
	assert.Equal(t, GuardVolatility, failure.ID)
	assert.Contains(t, failure.Reason, "34.0")
}

func TestChainSkipsInapplicableGuards(t *testing.T) {
	chain := NewChain(zerolog.Nop())
	in := passingInputs()
	in.Profile.RegimeDirection = domain.RegimeAny
	in.Profile.VIXGuard = false
	in.Profile.EventGuard = false
	in.Profile.MacroGuard = false

	results := chain.Evaluate(in)

	require.Len(t, results, 4)
	wantOrder := []string{GuardExposureCap, GuardTrendStrength, GuardPullback, GuardDrawdown}
	for i, r := range results {
		assert.Equal(t, wantOrder[i], r.ID)
	}
}

func TestRegimeGuard(t *testing.T) {
	chain := NewChain(zerolog.Nop())

	t.Run("bull blocked below average", func(t *testing.T) {
		in := passingInputs()
		in.Context.Indexes["SPY"] = domain.IndexLevel{Close: 470, SMA200: 480, AsOf: asOf.Add(-time.Hour)}
		failure, ok := FirstFailure(chain.Evaluate(in))
		require.True(t, ok)
		assert.Equal(t, GuardRegime, failure.ID)
	})

	t.Run("bear requires below average", func(t *testing.T) {
		in := passingInputs()
		in.Profile.RegimeIndex = "UUP"
		in.Profile.RegimeDirection = domain.RegimeBear
		results := chain.Evaluate(in)
		assert.True(t, Passed(results))

		in.Context.Indexes["UUP"] = domain.IndexLevel{Close: 29, SMA200: 28.5, AsOf: asOf.Add(-time.Hour)}
		failure, ok := FirstFailure(chain.Evaluate(in))
		require.True(t, ok)
		assert.Equal(t, GuardRegime, failure.ID)
	})

	t.Run("equal close and average blocks both directions", func(t *testing.T) {
		in := passingInputs()
		in.Context.Indexes["SPY"] = domain.IndexLevel{Close: 480, SMA200: 480, AsOf: asOf.Add(-time.Hour)}
		_, blocked := FirstFailure(chain.Evaluate(in))
		assert.True(t, blocked)
	})

	t.Run("missing benchmark fails closed", func(t *testing.T) {
		in := passingInputs()
		in.Profile.RegimeIndex = "^STOXX50E"
		failure, ok := FirstFailure(chain.Evaluate(in))
		require.True(t, ok)
		assert.Equal(t, GuardRegime, failure.ID)
		assert.Contains(t, failure.Reason, "missing")
	})

	t.Run("stale benchmark fails closed", func(t *testing.T) {
		in := passingInputs()
		in.Context.Indexes["SPY"] = domain.IndexLevel{Close: 520, SMA200: 480, AsOf: asOf.Add(-30 * time.Hour)}
		failure, ok := FirstFailure(chain.Evaluate(in))
		require.True(t, ok)
		assert.Equal(t, GuardRegime, failure.ID)
		assert.Contains(t, failure.Reason, "stale")
	})

	t.Run("undefined sma fails closed", func(t *testing.T) {
		in := passingInputs()
		in.Context.Indexes["SPY"] = domain.IndexLevel{Close: 520, SMA200: domain.Undefined(), AsOf: asOf.Add(-time.Hour)}
		failure, ok := FirstFailure(chain.Evaluate(in))
		require.True(t, ok)
		assert.Equal(t, GuardRegime, failure.ID)
	})
}

func TestVolatilityPanicGuard(t *testing.T) {
	chain := NewChain(zerolog.Nop())

	t.Run("scenario: vix 34 blocks", func(t *testing.T) {
		in := passingInputs()
		in.Context.VIX.Value = 34.0
		failure, ok := FirstFailure(chain.Evaluate(in))
		require.True(t, ok)
		assert.Equal(t, GuardVolatility, failure.ID)
	})

	t.Run("ceiling is exclusive", func(t *testing.T) {
		in := passingInputs()
		in.Context.VIX.Value = 30.0
		failure, ok := FirstFailure(chain.Evaluate(in))
		require.True(t, ok)
		assert.Equal(t, GuardVolatility, failure.ID)

		in.Context.VIX.Value = 29.9
		assert.True(t, Passed(chain.Evaluate(in)))
	})

	t.Run("stale vix fails closed even when calm", func(t *testing.T) {
		in := passingInputs()
		in.Context.VIX = domain.ContextField{Value: 12.0, AsOf: asOf.Add(-25 * time.Hour)}
		failure, ok := FirstFailure(chain.Evaluate(in))
		require.True(t, ok)
		assert.Equal(t, GuardVolatility, failure.ID)
		assert.Contains(t, failure.Reason, "stale")
	})

	t.Run("never synced fails closed", func(t *testing.T) {
		in := passingInputs()
		in.Context.VIX = domain.ContextField{Value: 12.0}
		failure, ok := FirstFailure(chain.Evaluate(in))
		require.True(t, ok)
		assert.Contains(t, failure.Reason, "never synced")
	})
}

func TestExposureCapGuard(t *testing.T) {
	chain := NewChain(zerolog.Nop())

	in := passingInputs()
	in.OpenPositions = 5
	in.MaxPositions = 5
	failure, ok := FirstFailure(chain.Evaluate(in))
	require.True(t, ok)
	assert.Equal(t, GuardExposureCap, failure.ID)

	in.OpenPositions = 4
	assert.True(t, Passed(chain.Evaluate(in)))
}

func TestTrendStrengthGuard(t *testing.T) {
	chain := NewChain(zerolog.Nop())

	t.Run("floor is exclusive", func(t *testing.T) {
		in := passingInputs()
		in.Features = domain.NewFeatureVector(2)
		in.Features.Add(features.FeatADX14, 20.0)
		in.Features.Add(features.FeatEMA20, 100.0)
		failure, ok := FirstFailure(chain.Evaluate(in))
		require.True(t, ok)
		assert.Equal(t, GuardTrendStrength, failure.ID)
	})

	t.Run("undefined adx fails closed", func(t *testing.T) {
		in := passingInputs()
		in.Features = domain.NewFeatureVector(2)
		in.Features.Add(features.FeatADX14, domain.Undefined())
		in.Features.Add(features.FeatEMA20, 100.0)
		failure, ok := FirstFailure(chain.Evaluate(in))
		require.True(t, ok)
		assert.Equal(t, GuardTrendStrength, failure.ID)
		assert.Contains(t, failure.Reason, "undefined")
	})
}

func TestEventBlackoutGuard(t *testing.T) {
	chain := NewChain(zerolog.Nop())

	t.Run("inside window blocks", func(t *testing.T) {
		in := passingInputs()
		in.DaysToEarnings = 6
		failure, ok := FirstFailure(chain.Evaluate(in))
		require.True(t, ok)
		assert.Equal(t, GuardEventBlackout, failure.ID)
	})

	t.Run("boundary day passes", func(t *testing.T) {
		in := passingInputs()
		in.DaysToEarnings = 7
		assert.True(t, Passed(chain.Evaluate(in)))
	})

	t.Run("unknown event fails closed", func(t *testing.T) {
		in := passingInputs()
		in.EarningsKnown = false
		failure, ok := FirstFailure(chain.Evaluate(in))
		require.True(t, ok)
		assert.Equal(t, GuardEventBlackout, failure.ID)
	})

	t.Run("stale calendar fails closed", func(t *testing.T) {
		in := passingInputs()
		in.EarningsSyncedAt = asOf.Add(-48 * time.Hour)
		failure, ok := FirstFailure(chain.Evaluate(in))
		require.True(t, ok)
		assert.Equal(t, GuardEventBlackout, failure.ID)
	})
}

func TestMacroBlackoutGuard(t *testing.T) {
	chain := NewChain(zerolog.Nop())

	t.Run("one day out blocks", func(t *testing.T) {
		in := passingInputs()
		in.DaysToMacro = 1
		failure, ok := FirstFailure(chain.Evaluate(in))
		require.True(t, ok)
		assert.Equal(t, GuardMacroBlackout, failure.ID)
	})

	t.Run("two days out passes", func(t *testing.T) {
		in := passingInputs()
		in.DaysToMacro = 2
		assert.True(t, Passed(chain.Evaluate(in)))
	})

	t.Run("fresh calendar with nothing scheduled passes", func(t *testing.T) {
		in := passingInputs()
		in.MacroKnown = false
		assert.True(t, Passed(chain.Evaluate(in)))
	})

	t.Run("stale calendar fails closed", func(t *testing.T) {
		in := passingInputs()
		in.MacroSyncedAt = asOf.Add(-48 * time.Hour)
		failure, ok := FirstFailure(chain.Evaluate(in))
		require.True(t, ok)
		assert.Equal(t, GuardMacroBlackout, failure.ID)
	})
}

func TestPullbackGuard(t *testing.T) {
	chain := NewChain(zerolog.Nop())

	t.Run("extended price blocks", func(t *testing.T) {
		in := passingInputs()
		in.Close = 105.1 // ema_20 is 100
		failure, ok := FirstFailure(chain.Evaluate(in))
		require.True(t, ok)
		assert.Equal(t, GuardPullback, failure.ID)
	})

	t.Run("boundary passes", func(t *testing.T) {
		in := passingInputs()
		in.Close = 105.0
		assert.True(t, Passed(chain.Evaluate(in)))
	})

	t.Run("below average passes", func(t *testing.T) {
		in := passingInputs()
		in.Close = 92.0
		assert.True(t, Passed(chain.Evaluate(in)))
	})
}

func TestDrawdownGuard(t *testing.T) {
	chain := NewChain(zerolog.Nop())

	t.Run("halt blocks", func(t *testing.T) {
		in := passingInputs()
		in.RiskStatus = domain.RiskHalt
		failure, ok := FirstFailure(chain.Evaluate(in))
		require.True(t, ok)
		assert.Equal(t, GuardDrawdown, failure.ID)
	})

	t.Run("caution passes but is recorded", func(t *testing.T) {
		in := passingInputs()
		in.RiskStatus = domain.RiskCaution
		results := chain.Evaluate(in)
		require.True(t, Passed(results))

		last := results[len(results)-1]
		assert.Equal(t, GuardDrawdown, last.ID)
		assert.Contains(t, last.Reason, "CAUTION")
	})
}
