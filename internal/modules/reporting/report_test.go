package reporting

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/trapline/internal/domain"
	"github.com/aristath/trapline/internal/modules/pipeline"
	testingpkg "github.com/aristath/trapline/internal/testing"
)

var reportAsOf = time.Date(2026, 3, 6, 22, 10, 0, 0, time.UTC)

func reportContext() domain.MarketContext {
	return domain.MarketContext{
		VIX: domain.ContextField{Value: 17.5, AsOf: reportAsOf},
		Indexes: map[string]domain.IndexLevel{
			"SPY":    {Close: 512.40, SMA200: 488.10, AsOf: reportAsOf},
			"^GDAXI": {Close: 18100, SMA200: 18500, AsOf: reportAsOf},
		},
	}
}

// fullResult covers every report section: one signal, grouped blocks, an
// expired reservation to resolve, and a leftover unconfirmed order.
func fullResult() *pipeline.Result {
	signal := domain.SignalDecision{
		AssetID: "XAUUSD",
		Outcome: domain.OutcomeSignal,
		Composite: &domain.CompositeResult{
			Score: 3.54, Defined: true, Classification: domain.ClassStrongBuy,
		},
		Trap: &domain.TrapOrderParams{
			Entry: 161.64, Stop: 157.64, Target: 167.3067, Size: 2.784, RiskFraction: 0.01,
		},
	}
	return &pipeline.Result{
		Run: domain.Run{
			ID:          "0a1b2c3d-4e5f-6071-8293-a4b5c6d7e8f9",
			Date:        "2026-03-06",
			Status:      domain.RunComplete,
			AssetsTotal: 4,
			Signals:     1,
			DurationMS:  840,
		},
		Decisions: []domain.SignalDecision{
			{AssetID: "NATGAS", Outcome: domain.OutcomeNoTrade, Reason: domain.ReasonDataError},
			{AssetID: "USOIL", Outcome: domain.OutcomeNoTrade, Reason: domain.ReasonNeutral},
			{AssetID: "XAGUSD", Outcome: domain.OutcomeNoTrade, Reason: domain.ReasonNeutral},
			signal,
		},
		Snapshot: &pipeline.Snapshot{
			RunID:   "0a1b2c3d-4e5f-6071-8293-a4b5c6d7e8f9",
			RunDate: "2026-03-06",
			AsOf:    reportAsOf,
			State: domain.PortfolioState{
				Cash:       2500,
				Equity:     3000,
				PeakEquity: 3063,
				Status:     domain.RiskNormal,
				Positions: []domain.Position{
					{AssetID: "SIE.DE", Size: 3, EntryPrice: 166, RiskFraction: 0.01},
				},
				PendingOrders: []domain.PendingOrder{
					{
						ID: "stale-1", AssetID: "USOIL", Entry: 52,
						Status:     domain.OrderExpired,
						CreatedAt:  time.Date(2026, 3, 4, 22, 10, 0, 0, time.UTC),
						ValidUntil: time.Date(2026, 3, 5, 22, 10, 0, 0, time.UTC),
					},
					{
						ID: "live-1", AssetID: "XAGUSD", Entry: 24.80,
						Status:     domain.OrderPending,
						CreatedAt:  time.Date(2026, 3, 5, 22, 10, 0, 0, time.UTC),
						ValidUntil: time.Date(2026, 3, 9, 22, 10, 0, 0, time.UTC),
					},
				},
				AsOf: reportAsOf,
			},
			ExpireOrderIDs: []string{"stale-1"},
			Context:        reportContext(),
		},
		Commit: domain.CommitSet{
			NewOrders: []domain.PendingOrder{
				{
					ID: "id-2", AssetID: "XAUUSD", Entry: 161.64,
					Status:     domain.OrderPending,
					ValidUntil: time.Date(2026, 3, 9, 22, 10, 0, 0, time.UTC),
				},
			},
		},
	}
}

func TestRenderFullReport(t *testing.T) {
	bars := testingpkg.NewMockBarProvider()
	bars.SetBars("USOIL", []domain.Bar{
		{Date: time.Date(2026, 3, 5, 0, 0, 0, 0, time.UTC), Open: 51, High: 52.5, Low: 50.8, Close: 52.2},
	})
	r := NewReporter(bars, zerolog.Nop())

	text := r.Render(fullResult())

	assert.Contains(t, text, "TRAPLINE EOD 2026-03-06")
	assert.Contains(t, text, "Run 0a1b2c3d COMPLETE, 4 assets in 840 ms")

	assert.Contains(t, text, "VIX 17.5")
	assert.Contains(t, text, "SPY 512.40 vs SMA200 488.10 (BULL)")
	assert.Contains(t, text, "^GDAXI 18100.00 vs SMA200 18500.00 (BEAR)")

	assert.Contains(t, text, "Status NORMAL, drawdown 2.1%")
	assert.Contains(t, text, "Equity 3000.00 EUR (peak 3063.00), tier COMPACT")
	assert.Contains(t, text, "Budget 30.00 EUR per trade, positions 1/3")
	assert.Contains(t, text, "Open: SIE.DE")

	assert.Contains(t, text, "SIGNALS (1)")
	assert.Contains(t, text, "XAUUSD STRONG_BUY +3.54")
	assert.Contains(t, text, "buy-stop 161.64, stop 157.64, target 167.31, size 2.7840, valid until Mon 2026-03-09")

	assert.Contains(t, text, "NO TRADE (3)")
	assert.Contains(t, text, "2 neutral: USOIL, XAGUSD")
	assert.Contains(t, text, "1 data-error: NATGAS")

	assert.Contains(t, text, "TRAP RESOLUTION (1)")
	assert.Contains(t, text, "USOIL entry 52.00: FILLED (open 51.00, high 52.50)")

	assert.Contains(t, text, "UNCONFIRMED ORDERS (1)")
	assert.Contains(t, text, "XAGUSD buy-stop 24.80, valid until Mon 2026-03-09")
}

func TestRenderMarketWithWarmingUpIndex(t *testing.T) {
	// An index without 200 sessions of history has no SMA yet; the report
	// shows the close without calling a regime side.
	res := fullResult()
	res.Snapshot.Context.Indexes["^N225"] = domain.IndexLevel{
		Close: 39800, SMA200: domain.Undefined(), AsOf: reportAsOf,
	}

	r := NewReporter(testingpkg.NewMockBarProvider(), zerolog.Nop())
	text := r.Render(res)

	assert.Contains(t, text, "^N225 39800.00, SMA200 n/a")
	assert.NotContains(t, text, "^N225 39800.00 vs")
}

func TestRenderQuietDay(t *testing.T) {
	res := fullResult()
	res.Run.Signals = 0
	res.Decisions = nil
	res.Commit.NewOrders = nil
	res.Snapshot.State.Positions = nil
	res.Snapshot.State.PendingOrders = nil
	res.Snapshot.ExpireOrderIDs = nil

	r := NewReporter(testingpkg.NewMockBarProvider(), zerolog.Nop())
	text := r.Render(res)

	assert.Contains(t, text, "SIGNALS\nNo new signals.")
	assert.Contains(t, text, "NO TRADE\nNone.")
	assert.NotContains(t, text, "TRAP RESOLUTION")
	assert.NotContains(t, text, "UNCONFIRMED ORDERS")
	assert.NotContains(t, text, "Open:")
}

func TestRenderResolvesGapThrough(t *testing.T) {
	bars := testingpkg.NewMockBarProvider()
	bars.SetBars("USOIL", []domain.Bar{
		{Date: time.Date(2026, 3, 5, 0, 0, 0, 0, time.UTC), Open: 53, High: 54, Low: 52.5, Close: 53.8},
	})
	r := NewReporter(bars, zerolog.Nop())

	text := r.Render(fullResult())
	assert.Contains(t, text, "USOIL entry 52.00: GAP_THROUGH (open 53.00, high 54.00)")
}

func TestRenderResolutionWithoutSessionBar(t *testing.T) {
	// Only a bar from before the order was staged exists; the outcome
	// cannot be derived from it.
	bars := testingpkg.NewMockBarProvider()
	bars.SetBars("USOIL", []domain.Bar{
		{Date: time.Date(2026, 3, 4, 0, 0, 0, 0, time.UTC), Open: 51, High: 51.5, Low: 50.5, Close: 51},
	})
	r := NewReporter(bars, zerolog.Nop())

	text := r.Render(fullResult())
	assert.Contains(t, text, "USOIL entry 52.00: no session bar, resolve manually")
}

func TestRenderNilResult(t *testing.T) {
	r := NewReporter(testingpkg.NewMockBarProvider(), zerolog.Nop())
	require.Equal(t, "", r.Render(nil))
	require.Equal(t, "", r.Render(&pipeline.Result{}))
}
