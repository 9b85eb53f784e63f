// Package decision combines per-asset evaluation results into terminal
// decisions. Phase one runs per asset and short-circuits on the first
// disqualifier (guard failure, neutral or sell classification, correlation
// block). Phase two runs once per batch after the barrier join, where the
// cross-asset effects are resolved: group promotion, sequential budget
// staging and trap sizing. Both phases are deterministic over a frozen
// snapshot, so replaying a run reproduces identical decisions.
package decision

import (
	"fmt"
	"sort"

	"github.com/rs/zerolog"

	"github.com/aristath/trapline/internal/domain"
	"github.com/aristath/trapline/internal/modules/correlation"
	"github.com/aristath/trapline/internal/modules/features"
	"github.com/aristath/trapline/internal/modules/guards"
	"github.com/aristath/trapline/internal/modules/risk"
	"github.com/aristath/trapline/internal/modules/scoring"
	"github.com/aristath/trapline/internal/modules/trap"
)

// heatTolerance absorbs float representation error when staged heat lands
// exactly on the tier ceiling; such an admission is allowed.
const heatTolerance = 1e-9

// AssetInput is everything phase one needs for one asset, resolved from
// the run snapshot before evaluation starts.
type AssetInput struct {
	Guards     guards.Inputs
	Bars       []domain.Bar         // full daily history, oldest first
	Returns    map[string][]float64 // trailing daily returns, candidate + open positions
	OpenAssets []string             // open-position asset IDs, sorted
}

// Candidate is a phase-one survivor: guards passed, classification is a
// buy, correlation clear. It carries what phase two needs for sizing.
type Candidate struct {
	Profile   domain.AssetProfile
	Composite *domain.CompositeResult
	Guards    []domain.GuardResult
	High      float64 // signal-day high
	ATR       float64
	ADX       float64
}

// Aggregator owns the evaluation sequence for both phases.
type Aggregator struct {
	chain  *guards.Chain
	scorer *scoring.Scorer
	corr   *correlation.Checker
	trap   *trap.Calculator
	log    zerolog.Logger
}

// NewAggregator creates an aggregator with its component evaluators.
func NewAggregator(log zerolog.Logger) *Aggregator {
	return &Aggregator{
		chain:  guards.NewChain(log),
		scorer: scoring.NewScorer(log),
		corr:   correlation.NewChecker(log),
		trap:   trap.NewCalculator(log),
		log:    log.With().Str("component", "decision_aggregator").Logger(),
	}
}

// Evaluate runs phase one for a single asset. Exactly one return value is
// non-nil: a candidate for phase two, or a terminal NO_TRADE decision.
func (a *Aggregator) Evaluate(in AssetInput) (*Candidate, *domain.SignalDecision) {
	assetID := in.Guards.Profile.AssetID

	results := a.chain.Evaluate(in.Guards)
	if failure, failed := guards.FirstFailure(results); failed {
		return nil, &domain.SignalDecision{
			AssetID:   assetID,
			Outcome:   domain.OutcomeNoTrade,
			Reason:    failure.ID,
			Guards:    results,
			Reasoning: failure.Reason,
		}
	}

	composite, err := a.scorer.Score(in.Bars, in.Guards.Profile)
	if err != nil {
		a.log.Error().Err(err).Str("asset", assetID).Msg("Scoring failed")
		return nil, &domain.SignalDecision{
			AssetID:   assetID,
			Outcome:   domain.OutcomeNoTrade,
			Reason:    domain.ReasonDataError,
			Guards:    results,
			Reasoning: fmt.Sprintf("scoring failed: %v", err),
		}
	}

	if !composite.Defined {
		return nil, &domain.SignalDecision{
			AssetID:   assetID,
			Outcome:   domain.OutcomeNoTrade,
			Reason:    domain.ReasonNeutral,
			Composite: composite,
			Guards:    results,
			Reasoning: fmt.Sprintf("composite undefined after %d bars", composite.Bars),
		}
	}

	switch composite.Classification {
	case domain.ClassNeutral:
		return nil, &domain.SignalDecision{
			AssetID:   assetID,
			Outcome:   domain.OutcomeNoTrade,
			Reason:    domain.ReasonNeutral,
			Composite: composite,
			Guards:    results,
			Reasoning: fmt.Sprintf("composite %.2fσ inside the neutral band", composite.Score),
		}
	case domain.ClassSell, domain.ClassStrongSell:
		return nil, &domain.SignalDecision{
			AssetID:   assetID,
			Outcome:   domain.OutcomeNoTrade,
			Reason:    domain.ReasonClassification,
			Composite: composite,
			Guards:    results,
			Reasoning: fmt.Sprintf("composite %.2fσ classifies %s; the book is long-only", composite.Score, composite.Classification),
		}
	}

	if res := a.corr.Check(assetID, in.Returns, in.OpenAssets); res.Blocked {
		return nil, &domain.SignalDecision{
			AssetID:   assetID,
			Outcome:   domain.OutcomeNoTrade,
			Reason:    domain.ReasonCorrelation,
			Composite: composite,
			Guards:    results,
			Reasoning: res.Reason,
		}
	}

	last := in.Bars[len(in.Bars)-1]
	atr, _ := in.Guards.Features.Get(features.FeatATR14)
	adx, _ := in.Guards.Features.Get(features.FeatADX14)

	return &Candidate{
		Profile:   in.Guards.Profile,
		Composite: composite,
		Guards:    results,
		High:      last.High,
		ATR:       atr,
		ADX:       adx,
	}, nil
}

// Finalize runs phase two over all phase-one survivors: per-group
// promotion, then sequential staging against headroom and heat in
// descending composite order, then trap sizing. Decisions come back
// sorted by asset ID.
func (a *Aggregator) Finalize(candidates []Candidate, state domain.PortfolioState, assessment risk.Assessment) []domain.SignalDecision {
	decisions := make([]domain.SignalDecision, 0, len(candidates))

	promoted := a.promote(candidates, state, &decisions)

	// Highest conviction claims budget first; equal scores resolve to the
	// lower asset ID so reruns stage identically.
	sort.Slice(promoted, func(i, j int) bool {
		if promoted[i].Composite.Score != promoted[j].Composite.Score {
			return promoted[i].Composite.Score > promoted[j].Composite.Score
		}
		return promoted[i].Profile.AssetID < promoted[j].Profile.AssetID
	})

	headroom := assessment.MaxNew
	heat := state.Heat()

	for _, c := range promoted {
		assetID := c.Profile.AssetID

		if headroom <= 0 {
			decisions = append(decisions, demoted(c, domain.ReasonRiskBudget,
				"no admission headroom left this run"))
			continue
		}
		if heat+assessment.RiskFraction > assessment.Tier.MaxHeat+heatTolerance {
			decisions = append(decisions, demoted(c, domain.ReasonRiskBudget,
				fmt.Sprintf("portfolio heat %.1f%% + %.1f%% would exceed the %.1f%% ceiling",
					heat*100, assessment.RiskFraction*100, assessment.Tier.MaxHeat*100)))
			continue
		}

		sizing := trap.Sizing{
			Equity:       state.Equity,
			RiskBudget:   assessment.RiskBudget,
			RiskFraction: assessment.RiskFraction,
			CapFraction:  assessment.Tier.PositionCapFraction,
		}
		params, ok, err := a.trap.Calculate(assetID, c.High, c.ATR, c.ADX, sizing)
		if err != nil {
			a.log.Error().Err(err).Str("asset", assetID).Msg("Trap sizing failed")
			decisions = append(decisions, demoted(c, domain.ReasonDataError,
				fmt.Sprintf("trap sizing failed: %v", err)))
			continue
		}
		if !ok {
			// No order materializes, so nothing is consumed: the next
			// candidate still sees the full remaining budget.
			decisions = append(decisions, demoted(c, domain.ReasonSizeUnderflow,
				"calculated size below the minimum tradable unit"))
			continue
		}

		headroom--
		heat += assessment.RiskFraction

		decisions = append(decisions, domain.SignalDecision{
			AssetID:   assetID,
			Outcome:   domain.OutcomeSignal,
			Composite: c.Composite,
			Guards:    c.Guards,
			Trap:      &params,
			Reasoning: fmt.Sprintf("%s at %.2fσ; guards clear; entry %.4f stop %.4f target %.4f size %.4f (%.2f%% risk)",
				c.Composite.Classification, c.Composite.Score,
				params.Entry, params.Stop, params.Target, params.Size, params.RiskFraction*100),
		})
	}

	sort.Slice(decisions, func(i, j int) bool { return decisions[i].AssetID < decisions[j].AssetID })
	return decisions
}

// promote applies the concentration rules: an occupied group admits no
// candidate at all, an open group admits only its highest composite.
// Demotions are appended to decisions; survivors are returned.
func (a *Aggregator) promote(candidates []Candidate, state domain.PortfolioState, decisions *[]domain.SignalDecision) []Candidate {
	best := make(map[string]Candidate)
	for _, c := range candidates {
		group := c.Profile.ConcentrationGroup
		if group == "" {
			continue
		}
		current, seen := best[group]
		if !seen || outranks(c, current) {
			best[group] = c
		}
	}

	promoted := make([]Candidate, 0, len(candidates))
	for _, c := range candidates {
		group := c.Profile.ConcentrationGroup
		if group == "" {
			promoted = append(promoted, c)
			continue
		}
		if state.GroupOccupied(group) {
			*decisions = append(*decisions, demoted(c, domain.ReasonConcentration,
				fmt.Sprintf("group %s already holds a position or live reservation", group)))
			continue
		}
		if winner := best[group]; winner.Profile.AssetID != c.Profile.AssetID {
			*decisions = append(*decisions, demoted(c, domain.ReasonConcentration,
				fmt.Sprintf("outranked in group %s by %s (%.2fσ vs %.2fσ)",
					group, winner.Profile.AssetID, winner.Composite.Score, c.Composite.Score)))
			continue
		}
		promoted = append(promoted, c)
	}
	return promoted
}

// outranks reports whether a beats b for group promotion: strictly higher
// composite, or the lexicographically smaller asset ID on an exact tie.
func outranks(a, b Candidate) bool {
	if a.Composite.Score != b.Composite.Score {
		return a.Composite.Score > b.Composite.Score
	}
	return a.Profile.AssetID < b.Profile.AssetID
}

func demoted(c Candidate, reason, reasoning string) domain.SignalDecision {
	return domain.SignalDecision{
		AssetID:   c.Profile.AssetID,
		Outcome:   domain.OutcomeNoTrade,
		Reason:    reason,
		Composite: c.Composite,
		Guards:    c.Guards,
		Reasoning: reasoning,
	}
}
