package risk

// Tier is one capital tier: sizing and exposure limits selected by
// current equity. Smaller accounts run tighter risk and hold a larger
// cash reserve.
type Tier struct {
	Name                string
	RiskFraction        float64 // per-trade risk, fraction of equity
	MaxPositions        int     // concurrent position ceiling
	PositionCapFraction float64 // single-position notional cap, fraction of equity
	MaxHeat             float64 // aggregate open risk ceiling, fraction of equity
	CashReserve         float64 // minimum cash floor, fraction of equity
}

// Equity boundaries between tiers.
const (
	StandardTierMin = 5_000.0
	FullTierMin     = 25_000.0
)

var (
	compactTier = Tier{
		Name:                "COMPACT",
		RiskFraction:        0.010,
		MaxPositions:        3,
		PositionCapFraction: 0.15,
		MaxHeat:             0.06,
		CashReserve:         0.20,
	}
	standardTier = Tier{
		Name:                "STANDARD",
		RiskFraction:        0.015,
		MaxPositions:        5,
		PositionCapFraction: 0.20,
		MaxHeat:             0.09,
		CashReserve:         0.10,
	}
	fullTier = Tier{
		Name:                "FULL",
		RiskFraction:        0.020,
		MaxPositions:        8,
		PositionCapFraction: 0.25,
		MaxHeat:             0.12,
		CashReserve:         0.05,
	}
)

// TierFor selects the capital tier for the given equity.
func TierFor(equity float64) Tier {
	switch {
	case equity >= FullTierMin:
		return fullTier
	case equity >= StandardTierMin:
		return standardTier
	default:
		return compactTier
	}
}
