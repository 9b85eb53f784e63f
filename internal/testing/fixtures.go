package testing

import (
	"time"

	"github.com/aristath/trapline/internal/domain"
)

// NewProfileFixtures returns a small multi-class universe covering the
// template spread: two equities, a haven pair sharing a concentration
// group, and an unguarded index tracker.
func NewProfileFixtures() []domain.AssetProfile {
	return []domain.AssetProfile{
		{
			AssetID:         "ASML.AS",
			AssetClass:      domain.AssetClassEquity,
			RegimeIndex:     "SPY",
			RegimeDirection: domain.RegimeBull,
			VIXGuard:        true,
			EventGuard:      true,
			VolumeFeatures:  true,
			BenchmarkIndex:  "SPY",
			Broker:          domain.BrokerIBKR,
			TaxRate:         0.33,
			DataSource:      "tiingo",
		},
		{
			AssetID:         "SIE.DE",
			AssetClass:      domain.AssetClassEquity,
			RegimeIndex:     "SPY",
			RegimeDirection: domain.RegimeBull,
			VIXGuard:        true,
			EventGuard:      true,
			VolumeFeatures:  true,
			BenchmarkIndex:  "SPY",
			Broker:          domain.BrokerIBKR,
			TaxRate:         0.33,
			DataSource:      "tiingo",
		},
		{
			AssetID:            "XAUUSD",
			AssetClass:         domain.AssetClassCommodity,
			RegimeIndex:        "UUP",
			RegimeDirection:    domain.RegimeBear,
			MacroGuard:         true,
			BenchmarkIndex:     "UUP",
			ConcentrationGroup: "PRECIOUS_METALS",
			Broker:             domain.BrokerIG,
			DataSource:         "tiingo_forex",
		},
		{
			AssetID:            "XAGUSD",
			AssetClass:         domain.AssetClassCommodity,
			RegimeIndex:        "UUP",
			RegimeDirection:    domain.RegimeBear,
			MacroGuard:         true,
			BenchmarkIndex:     "UUP",
			ConcentrationGroup: "PRECIOUS_METALS",
			Broker:             domain.BrokerIG,
			DataSource:         "tiingo_forex",
		},
		{
			AssetID:         "SPY",
			AssetClass:      domain.AssetClassIndex,
			RegimeDirection: domain.RegimeAny,
			VolumeFeatures:  true,
			Broker:          domain.BrokerPaper,
			DataSource:      "tiingo",
		},
	}
}

// NewBarFixtures builds n daily bars ending at end, with closes produced
// by price(i) and a 2% high/low band.
func NewBarFixtures(n int, end time.Time, price func(i int) float64) []domain.Bar {
	bars := make([]domain.Bar, n)
	start := end.AddDate(0, 0, -(n - 1))
	for i := 0; i < n; i++ {
		p := price(i)
		bars[i] = domain.Bar{
			Date:   start.AddDate(0, 0, i),
			Open:   p,
			High:   p * 1.01,
			Low:    p * 0.99,
			Close:  p,
			Volume: 25_000,
		}
	}
	return bars
}

// NewPortfolioFixture returns a healthy small account with no positions.
func NewPortfolioFixture(equity float64) domain.PortfolioState {
	return domain.PortfolioState{
		Cash:       equity,
		Equity:     equity,
		PeakEquity: equity,
		Status:     domain.RiskNormal,
		AsOf:       time.Date(2026, 3, 5, 22, 0, 0, 0, time.UTC),
	}
}
