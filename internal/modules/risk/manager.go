// Package risk derives the capital tier, risk status, and per-trade risk
// budget from the portfolio snapshot. The status machine only ever tightens
// in response to drawdown; recovery runs through asymmetric exit thresholds
// so the status does not flap at a boundary, and HALT never auto-reverts.
package risk

import (
	"github.com/rs/zerolog"

	"github.com/aristath/trapline/internal/domain"
)

// Drawdown thresholds. Enter thresholds are inclusive; a status exits only
// once drawdown recovers below its stricter exit threshold.
const (
	CautionEnter = 0.08
	TightEnter   = 0.12
	HaltEnter    = 0.15
	CautionExit  = 0.06
	TightExit    = 0.08
)

// cautionMultiplier halves the per-trade risk fraction in both CAUTION
// states. Risk never increases in response to drawdown.
const cautionMultiplier = 0.5

// Assessment is the risk manager's verdict for one run.
type Assessment struct {
	Tier           Tier
	Status         domain.RiskStatus
	Drawdown       float64
	RiskMultiplier float64
	RiskFraction   float64 // tier fraction × multiplier
	RiskBudget     float64 // RiskFraction × equity, in account currency
	MaxNew         int     // new admissions permitted this run
}

// Manager evaluates portfolio risk state.
type Manager struct {
	log zerolog.Logger
}

// NewManager creates a risk manager.
func NewManager(log zerolog.Logger) *Manager {
	return &Manager{
		log: log.With().Str("component", "risk_manager").Logger(),
	}
}

// Assess derives the active tier, the next risk status from the stored one
// plus current drawdown, and the per-trade budget under that status.
func (m *Manager) Assess(state domain.PortfolioState) Assessment {
	dd := state.Drawdown()
	status := NextStatus(state.Status, dd)
	tier := TierFor(state.Equity)

	a := Assessment{
		Tier:     tier,
		Status:   status,
		Drawdown: dd,
	}

	headroom := tier.MaxPositions - state.OpenExposure()
	if headroom < 0 {
		headroom = 0
	}

	switch status {
	case domain.RiskNormal:
		a.RiskMultiplier = 1.0
		a.MaxNew = headroom
	case domain.RiskCaution:
		a.RiskMultiplier = cautionMultiplier
		a.MaxNew = headroom
	case domain.RiskCautionTight:
		a.RiskMultiplier = cautionMultiplier
		a.MaxNew = min(headroom, 1)
	case domain.RiskHalt:
		a.RiskMultiplier = 0
		a.MaxNew = 0
	}

	a.RiskFraction = tier.RiskFraction * a.RiskMultiplier
	a.RiskBudget = a.RiskFraction * state.Equity

	if status != state.Status {
		m.log.Warn().
			Str("from", string(state.Status)).
			Str("to", string(status)).
			Float64("drawdown", dd).
			Msg("Risk status transition")
	}

	return a
}

// NextStatus advances the risk status one step for the observed drawdown.
// Escalation is immediate from any state; recovery steps down one state
// per run and only once drawdown clears the exit threshold. HALT holds
// until ResumeStatus is invoked manually.
func NextStatus(current domain.RiskStatus, dd float64) domain.RiskStatus {
	switch current {
	case domain.RiskHalt:
		return domain.RiskHalt
	case domain.RiskCautionTight:
		switch {
		case dd >= HaltEnter:
			return domain.RiskHalt
		case dd < TightExit:
			return domain.RiskCaution
		default:
			return domain.RiskCautionTight
		}
	case domain.RiskCaution:
		switch {
		case dd >= HaltEnter:
			return domain.RiskHalt
		case dd >= TightEnter:
			return domain.RiskCautionTight
		case dd < CautionExit:
			return domain.RiskNormal
		default:
			return domain.RiskCaution
		}
	default: // NORMAL, or an unset status on a fresh portfolio
		switch {
		case dd >= HaltEnter:
			return domain.RiskHalt
		case dd >= TightEnter:
			return domain.RiskCautionTight
		case dd >= CautionEnter:
			return domain.RiskCaution
		default:
			return domain.RiskNormal
		}
	}
}

// ResumeStatus re-derives the status from entry thresholds after a manual
// HALT release. A portfolio still beyond the halt threshold stays halted.
func ResumeStatus(dd float64) domain.RiskStatus {
	switch {
	case dd >= HaltEnter:
		return domain.RiskHalt
	case dd >= TightEnter:
		return domain.RiskCautionTight
	case dd >= CautionEnter:
		return domain.RiskCaution
	default:
		return domain.RiskNormal
	}
}
