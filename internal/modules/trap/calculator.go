// Package trap derives stop-limit entry parameters for admitted signals.
// The entry "trap" sits just above the signal-day high: it fills only on
// confirmed continuation and a gap through the level is a deliberate miss.
package trap

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/aristath/trapline/internal/domain"
)

// Order geometry constants, all in ATR multiples.
const (
	EntryOffsetATR  = 0.02
	StopDistanceATR = 2.0
	TrailingATRMult = 2.0

	// Target multiple scales with trend strength: 2 + ADX/30, clamped.
	TargetMultipleMin = 2.5
	TargetMultipleMax = 4.5

	// ValidSessions is the order lifetime after staging.
	ValidSessions = 1

	// MinSize is the smallest emittable order; anything below is a
	// size underflow.
	MinSize = 0.01
)

// Sizing is the budget context for one calculation.
type Sizing struct {
	Equity       float64
	RiskBudget   float64 // currency at risk for this trade
	RiskFraction float64 // RiskBudget as a fraction of equity
	CapFraction  float64 // tier single-position notional cap
}

// Calculator derives trap order parameters.
type Calculator struct {
	log zerolog.Logger
}

// NewCalculator creates a trap order calculator.
func NewCalculator(log zerolog.Logger) *Calculator {
	return &Calculator{
		log: log.With().Str("component", "trap_calculator").Logger(),
	}
}

// Calculate derives entry, stop, target and the dual-constraint size for a
// signal. Undefined or non-positive ATR, ADX or high are data errors: the
// caller converts them to a NO_TRADE, never to a defaulted order. A size
// below MinSize comes back as Size=0 with ok=false (underflow).
func (c *Calculator) Calculate(assetID string, high, atr, adx float64, s Sizing) (domain.TrapOrderParams, bool, error) {
	var p domain.TrapOrderParams

	if !domain.IsDefined(atr) || atr <= 0 {
		return p, false, fmt.Errorf("%s: atr %.4f not usable for sizing", assetID, atr)
	}
	if !domain.IsDefined(adx) || adx < 0 {
		return p, false, fmt.Errorf("%s: adx %.4f not usable for target", assetID, adx)
	}
	if !domain.IsDefined(high) || high <= 0 {
		return p, false, fmt.Errorf("%s: signal-day high %.4f not usable for entry", assetID, high)
	}

	p.Entry = high + EntryOffsetATR*atr
	p.Stop = p.Entry - StopDistanceATR*atr
	p.TargetMultiple = clamp(2+adx/30, TargetMultipleMin, TargetMultipleMax)
	p.Target = p.Entry + p.TargetMultiple*atr
	p.TrailingATRMult = TrailingATRMult
	p.ValidSessions = ValidSessions
	p.RiskFraction = s.RiskFraction
	p.RiskAmount = s.RiskBudget

	volatilitySize := s.RiskBudget / (StopDistanceATR * atr)
	concentrationSize := s.CapFraction * s.Equity / p.Entry
	p.Size = min(volatilitySize, concentrationSize)

	if p.Size < MinSize {
		c.log.Debug().
			Str("asset", assetID).
			Float64("size", p.Size).
			Float64("atr", atr).
			Msg("Size below minimum tradable unit")
		p.Size = 0
		return p, false, nil
	}

	return p, true, nil
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
