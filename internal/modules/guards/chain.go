// Package guards evaluates the ordered pre-trade guard chain. Guards are
// declarative specs run by a single interpreter: evaluation order is fixed,
// the first failure short-circuits, and a guard whose required input is
// stale fails closed with staleness as the reason.
package guards

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/trapline/internal/domain"
)

// Guard IDs, in chain order. A failing guard's ID becomes the decision
// reason, so these double as reason codes.
const (
	GuardRegime        = "regime"
	GuardVolatility    = "volatility-panic"
	GuardExposureCap   = "exposure-cap"
	GuardTrendStrength = "trend-strength"
	GuardEventBlackout = "event-blackout"
	GuardMacroBlackout = "macro-blackout"
	GuardPullback      = "pullback"
	GuardDrawdown      = "drawdown"
)

// Guard thresholds.
const (
	VIXPanicCeiling    = 30.0
	ADXFloor           = 20.0
	PullbackMaxStretch = 0.05
	EarningsMinDays    = 7
	MacroMinDays       = 2
)

// Inputs is the full evaluation context for one asset on one day. All
// values are resolved from the run snapshot before evaluation; guards
// never reach out to live state.
type Inputs struct {
	AsOf    time.Time
	Profile domain.AssetProfile

	Features *domain.FeatureVector
	Close    float64 // signal-day close

	Context domain.MarketContext

	// Exposure resolved against the active capital tier. OpenPositions
	// includes provisional reservations from higher-ranked candidates.
	OpenPositions int
	MaxPositions  int

	RiskStatus domain.RiskStatus

	DaysToEarnings   int
	EarningsKnown    bool
	EarningsSyncedAt time.Time

	DaysToMacro   int
	MacroKnown    bool
	MacroSyncedAt time.Time
}

// Spec is one declarative guard: an identifier, an applicability predicate
// and the check itself. Checks return the result without the ID; the
// interpreter stamps it.
type Spec struct {
	ID      string
	Applies func(in Inputs) bool
	Check   func(in Inputs) domain.GuardResult
}

// Chain is the ordered guard set.
type Chain struct {
	specs []Spec
	log   zerolog.Logger
}

// NewChain builds the guard chain in its contractual order.
func NewChain(log zerolog.Logger) *Chain {
	return &Chain{
		log: log.With().Str("component", "guard_chain").Logger(),
		specs: []Spec{
			regimeGuard(),
			volatilityPanicGuard(),
			exposureCapGuard(),
			trendStrengthGuard(),
			eventBlackoutGuard(),
			macroBlackoutGuard(),
			pullbackGuard(),
			drawdownGuard(),
		},
	}
}

// Evaluate runs applicable guards in order and stops at the first failure.
// The returned slice holds every evaluated guard, so the last element is
// the failing one when the chain did not complete. Inapplicable guards are
// skipped entirely and do not appear.
func (c *Chain) Evaluate(in Inputs) []domain.GuardResult {
	results := make([]domain.GuardResult, 0, len(c.specs))
	for _, spec := range c.specs {
		if spec.Applies != nil && !spec.Applies(in) {
			continue
		}
		res := spec.Check(in)
		res.ID = spec.ID
		results = append(results, res)
		if !res.Passed {
			c.log.Debug().
				Str("asset", in.Profile.AssetID).
				Str("guard", res.ID).
				Str("reason", res.Reason).
				Msg("Guard blocked")
			break
		}
	}
	return results
}

// Passed reports whether every evaluated guard passed.
func Passed(results []domain.GuardResult) bool {
	for _, r := range results {
		if !r.Passed {
			return false
		}
	}
	return true
}

// FirstFailure returns the blocking guard, if any.
func FirstFailure(results []domain.GuardResult) (domain.GuardResult, bool) {
	for _, r := range results {
		if !r.Passed {
			return r, true
		}
	}
	return domain.GuardResult{}, false
}

func pass() domain.GuardResult {
	return domain.GuardResult{Passed: true}
}

func fail(format string, args ...any) domain.GuardResult {
	return domain.GuardResult{Passed: false, Reason: fmt.Sprintf(format, args...)}
}

// staleReason returns a fail-closed staleness reason when the observation
// is missing or older than the threshold.
func staleReason(name string, asOf, observedAt time.Time, max time.Duration) (string, bool) {
	if observedAt.IsZero() {
		return fmt.Sprintf("%s never synced", name), true
	}
	if age := asOf.Sub(observedAt); age > max {
		return fmt.Sprintf("%s stale: age %s exceeds %s", name, age.Round(time.Minute), max), true
	}
	return "", false
}
