package trap

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/trapline/internal/domain"
)

func TestCalculateSmallAccount(t *testing.T) {
	// €3,000 account at no drawdown: 1% risk budget, 15% position cap.
	// The concentration cap is the tighter constraint here.
	c := NewCalculator(zerolog.Nop())

	p, ok, err := c.Calculate("ASML.AS", 100.0, 2.0, 28.0, Sizing{
		Equity:       3_000,
		RiskBudget:   30,
		RiskFraction: 0.01,
		CapFraction:  0.15,
	})
	require.NoError(t, err)
	require.True(t, ok)

	assert.InDelta(t, 100.04, p.Entry, 1e-9)
	assert.InDelta(t, 96.04, p.Stop, 1e-9)
	assert.InDelta(t, 2.0+28.0/30.0, p.TargetMultiple, 1e-9)
	assert.InDelta(t, 105.9067, p.Target, 1e-4)
	// Volatility sizing allows 30/4 = 7.5 units; the 15% notional cap
	// allows 450/100.04 ≈ 4.4982. The tighter bound wins.
	assert.InDelta(t, 4.4982, p.Size, 1e-4)
	assert.Equal(t, 2.0, p.TrailingATRMult)
	assert.Equal(t, 1, p.ValidSessions)
	assert.InDelta(t, 30.0, p.RiskAmount, 1e-9)
}

func TestCalculateVolatilityBound(t *testing.T) {
	// High volatility relative to budget: the ATR constraint wins.
	c := NewCalculator(zerolog.Nop())

	p, ok, err := c.Calculate("XAGUSD", 30.0, 3.0, 25.0, Sizing{
		Equity:       25_000,
		RiskBudget:   500,
		RiskFraction: 0.02,
		CapFraction:  0.25,
	})
	require.NoError(t, err)
	require.True(t, ok)

	// 500/(2×3) ≈ 83.3 vs 0.25×25000/30.06 ≈ 207.9.
	assert.InDelta(t, 500.0/6.0, p.Size, 1e-6)
}

func TestCalculateDualConstraintNeverExceeded(t *testing.T) {
	c := NewCalculator(zerolog.Nop())

	cases := []struct {
		high, atr, adx float64
		s              Sizing
	}{
		{100, 2, 28, Sizing{Equity: 3_000, RiskBudget: 30, RiskFraction: 0.01, CapFraction: 0.15}},
		{50, 0.5, 40, Sizing{Equity: 10_000, RiskBudget: 75, RiskFraction: 0.0075, CapFraction: 0.20}},
		{2_500, 60, 22, Sizing{Equity: 40_000, RiskBudget: 800, RiskFraction: 0.02, CapFraction: 0.25}},
	}
	for _, tc := range cases {
		p, ok, err := c.Calculate("X", tc.high, tc.atr, tc.adx, tc.s)
		require.NoError(t, err)
		require.True(t, ok)
		assert.LessOrEqual(t, p.Size, tc.s.RiskBudget/(StopDistanceATR*tc.atr)+1e-12)
		assert.LessOrEqual(t, p.Size, tc.s.CapFraction*tc.s.Equity/p.Entry+1e-12)
	}
}

func TestTargetMultipleClamp(t *testing.T) {
	c := NewCalculator(zerolog.Nop())
	sizing := Sizing{Equity: 10_000, RiskBudget: 150, RiskFraction: 0.015, CapFraction: 0.20}

	p, _, err := c.Calculate("X", 100, 2, 10, sizing) // 2 + 10/30 ≈ 2.33
	require.NoError(t, err)
	assert.Equal(t, TargetMultipleMin, p.TargetMultiple)

	p, _, err = c.Calculate("X", 100, 2, 90, sizing) // 2 + 3 = 5
	require.NoError(t, err)
	assert.Equal(t, TargetMultipleMax, p.TargetMultiple)
}

func TestCalculateSizeUnderflow(t *testing.T) {
	c := NewCalculator(zerolog.Nop())

	p, ok, err := c.Calculate("X", 100, 2, 28, Sizing{
		Equity:       400,
		RiskBudget:   0.02,
		RiskFraction: 0.00005,
		CapFraction:  0.15,
	})
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 0.0, p.Size)
}

func TestCalculateRejectsUnusableInputs(t *testing.T) {
	c := NewCalculator(zerolog.Nop())
	sizing := Sizing{Equity: 3_000, RiskBudget: 30, RiskFraction: 0.01, CapFraction: 0.15}

	cases := []struct {
		name           string
		high, atr, adx float64
	}{
		{"undefined atr", 100, domain.Undefined(), 28},
		{"zero atr", 100, 0, 28},
		{"negative atr", 100, -1, 28},
		{"undefined adx", 100, 2, domain.Undefined()},
		{"undefined high", domain.Undefined(), 2, 28},
		{"zero high", 0, 2, 28},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, ok, err := c.Calculate("X", tc.high, tc.atr, tc.adx, sizing)
			require.Error(t, err)
			assert.False(t, ok)
		})
	}
}

func TestResolveFill(t *testing.T) {
	entry := 100.04
	day := time.Date(2026, 3, 9, 0, 0, 0, 0, time.UTC)

	cases := []struct {
		name string
		bar  domain.Bar
		want FillOutcome
	}{
		{"gap over entry misses", domain.Bar{Date: day, Open: 100.10, High: 101, Low: 99, Close: 100.5}, FillGapThrough},
		{"traded through fills", domain.Bar{Date: day, Open: 100.00, High: 100.50, Low: 99.8, Close: 100.3}, FillFilled},
		{"open exactly at entry fills", domain.Bar{Date: day, Open: 100.04, High: 100.20, Low: 99.9, Close: 100.1}, FillFilled},
		{"high exactly at entry fills", domain.Bar{Date: day, Open: 99.9, High: 100.04, Low: 99.5, Close: 99.9}, FillFilled},
		{"never reached expires", domain.Bar{Date: day, Open: 99.5, High: 100.03, Low: 99.1, Close: 99.6}, FillExpired},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, ResolveFill(entry, tc.bar))
		})
	}
}
