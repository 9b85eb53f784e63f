package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/aristath/trapline/internal/domain"
	"github.com/aristath/trapline/internal/events"
	"github.com/aristath/trapline/internal/modules/portfolio"
	"github.com/aristath/trapline/internal/modules/reporting"
	"github.com/aristath/trapline/internal/modules/risk"
	"github.com/aristath/trapline/internal/modules/universe"
)

// Handlers serves the run, decision, risk, portfolio, and universe
// routes.
type Handlers struct {
	log      zerolog.Logger
	journal  *reporting.Journal
	store    *portfolio.Store
	profiles *universe.ProfileRepository
	riskMgr  *risk.Manager
	bus      *events.Bus
}

// NewHandlers creates the REST handlers.
func NewHandlers(
	log zerolog.Logger,
	journal *reporting.Journal,
	store *portfolio.Store,
	profiles *universe.ProfileRepository,
	bus *events.Bus,
) *Handlers {
	return &Handlers{
		log:      log.With().Str("component", "api").Logger(),
		journal:  journal,
		store:    store,
		profiles: profiles,
		riskMgr:  risk.NewManager(log),
		bus:      bus,
	}
}

// runWithDecisions is the payload for the run detail endpoints.
type runWithDecisions struct {
	Run       domain.Run                 `json:"run"`
	Decisions []reporting.DecisionRecord `json:"decisions"`
}

// HandleListRuns serves GET /api/runs.
func (h *Handlers) HandleListRuns(w http.ResponseWriter, r *http.Request) {
	limit := queryLimit(r, 20)

	runs, err := h.journal.Runs(limit)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to list runs")
		writeError(h.log, w, http.StatusInternalServerError, "failed to list runs")
		return
	}
	writeJSON(h.log, w, http.StatusOK, map[string]any{"runs": runs})
}

// HandleGetRun serves GET /api/runs/{id}.
func (h *Handlers) HandleGetRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	run, err := h.journal.Run(id)
	if err != nil {
		h.log.Error().Err(err).Str("run_id", id).Msg("Failed to read run")
		writeError(h.log, w, http.StatusInternalServerError, "failed to read run")
		return
	}
	if run == nil {
		writeError(h.log, w, http.StatusNotFound, "run not found")
		return
	}
	writeJSON(h.log, w, http.StatusOK, run)
}

// HandleRunDecisions serves GET /api/runs/{id}/decisions.
func (h *Handlers) HandleRunDecisions(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	run, err := h.journal.Run(id)
	if err != nil {
		h.log.Error().Err(err).Str("run_id", id).Msg("Failed to read run")
		writeError(h.log, w, http.StatusInternalServerError, "failed to read run")
		return
	}
	if run == nil {
		writeError(h.log, w, http.StatusNotFound, "run not found")
		return
	}

	decisions, err := h.journal.Decisions(id)
	if err != nil {
		h.log.Error().Err(err).Str("run_id", id).Msg("Failed to read decisions")
		writeError(h.log, w, http.StatusInternalServerError, "failed to read decisions")
		return
	}
	writeJSON(h.log, w, http.StatusOK, runWithDecisions{Run: *run, Decisions: decisions})
}

// HandleLatestDecisions serves GET /api/decisions/latest.
func (h *Handlers) HandleLatestDecisions(w http.ResponseWriter, r *http.Request) {
	run, err := h.journal.Latest()
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to read latest run")
		writeError(h.log, w, http.StatusInternalServerError, "failed to read latest run")
		return
	}
	if run == nil {
		writeError(h.log, w, http.StatusNotFound, "no runs recorded yet")
		return
	}

	decisions, err := h.journal.Decisions(run.ID)
	if err != nil {
		h.log.Error().Err(err).Str("run_id", run.ID).Msg("Failed to read decisions")
		writeError(h.log, w, http.StatusInternalServerError, "failed to read decisions")
		return
	}
	writeJSON(h.log, w, http.StatusOK, runWithDecisions{Run: *run, Decisions: decisions})
}

// riskStatusResponse is the payload for GET /api/risk/status.
type riskStatusResponse struct {
	Status         domain.RiskStatus `json:"status"`
	Drawdown       float64           `json:"drawdown"`
	Tier           string            `json:"tier"`
	RiskMultiplier float64           `json:"risk_multiplier"`
	RiskFraction   float64           `json:"risk_fraction"`
	RiskBudget     float64           `json:"risk_budget"`
	MaxNew         int               `json:"max_new"`
	MaxPositions   int               `json:"max_positions"`
	Equity         float64           `json:"equity"`
	PeakEquity     float64           `json:"peak_equity"`
}

// HandleRiskStatus serves GET /api/risk/status.
func (h *Handlers) HandleRiskStatus(w http.ResponseWriter, r *http.Request) {
	state, err := h.store.Snapshot()
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to read portfolio state")
		writeError(h.log, w, http.StatusInternalServerError, "failed to read portfolio state")
		return
	}

	a := h.riskMgr.Assess(state)
	writeJSON(h.log, w, http.StatusOK, riskStatusResponse{
		Status:         a.Status,
		Drawdown:       a.Drawdown,
		Tier:           a.Tier.Name,
		RiskMultiplier: a.RiskMultiplier,
		RiskFraction:   a.RiskFraction,
		RiskBudget:     a.RiskBudget,
		MaxNew:         a.MaxNew,
		MaxPositions:   a.Tier.MaxPositions,
		Equity:         state.Equity,
		PeakEquity:     state.PeakEquity,
	})
}

// HandleRiskResume serves POST /api/risk/resume: the manual release of
// a sticky HALT. The status falls back to whatever the current
// drawdown implies, which is HALT again if the drawdown still exceeds
// the halt threshold.
func (h *Handlers) HandleRiskResume(w http.ResponseWriter, r *http.Request) {
	state, err := h.store.Snapshot()
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to read portfolio state")
		writeError(h.log, w, http.StatusInternalServerError, "failed to read portfolio state")
		return
	}
	if state.Status != domain.RiskHalt {
		writeError(h.log, w, http.StatusConflict, "trading is not halted")
		return
	}

	dd := state.Drawdown()
	resumed := risk.ResumeStatus(dd)
	if err := h.store.SetRiskStatus(resumed); err != nil {
		h.log.Error().Err(err).Msg("Failed to update risk status")
		writeError(h.log, w, http.StatusInternalServerError, "failed to update risk status")
		return
	}

	h.log.Info().
		Str("old", string(domain.RiskHalt)).
		Str("new", string(resumed)).
		Float64("drawdown", dd).
		Msg("Manual risk resume")
	h.bus.Emit("risk", &events.RiskStatusChangedData{
		Old:      string(domain.RiskHalt),
		New:      string(resumed),
		Drawdown: dd,
	})

	writeJSON(h.log, w, http.StatusOK, map[string]any{
		"old":      domain.RiskHalt,
		"new":      resumed,
		"drawdown": dd,
	})
}

// portfolioResponse augments the stored state with the derived risk
// figures the dashboard shows.
type portfolioResponse struct {
	domain.PortfolioState
	Drawdown     float64 `json:"drawdown"`
	OpenExposure int     `json:"open_exposure"`
	Heat         float64 `json:"heat"`
}

// HandlePortfolio serves GET /api/portfolio.
func (h *Handlers) HandlePortfolio(w http.ResponseWriter, r *http.Request) {
	state, err := h.store.Snapshot()
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to read portfolio state")
		writeError(h.log, w, http.StatusInternalServerError, "failed to read portfolio state")
		return
	}
	writeJSON(h.log, w, http.StatusOK, portfolioResponse{
		PortfolioState: state,
		Drawdown:       state.Drawdown(),
		OpenExposure:   state.OpenExposure(),
		Heat:           state.Heat(),
	})
}

// HandleListOrders serves GET /api/portfolio/orders.
func (h *Handlers) HandleListOrders(w http.ResponseWriter, r *http.Request) {
	limit := queryLimit(r, 50)

	orders, err := h.store.Orders(limit)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to list orders")
		writeError(h.log, w, http.StatusInternalServerError, "failed to list orders")
		return
	}
	writeJSON(h.log, w, http.StatusOK, map[string]any{"orders": orders})
}

// confirmOrderRequest is the optional body of the confirm endpoint. A
// missing or non-positive fill price confirms at the planned entry.
type confirmOrderRequest struct {
	FillPrice float64 `json:"fill_price"`
}

// HandleConfirmOrder serves POST /api/portfolio/orders/{id}/confirm.
func (h *Handlers) HandleConfirmOrder(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req confirmOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(h.log, w, http.StatusBadRequest, "invalid request body")
		return
	}

	position, err := h.store.ConfirmOrder(id, req.FillPrice)
	if err != nil {
		h.writeOrderError(w, id, err)
		return
	}
	writeJSON(h.log, w, http.StatusOK, map[string]any{
		"status":   "confirmed",
		"position": position,
	})
}

// HandleCancelOrder serves POST /api/portfolio/orders/{id}/cancel.
func (h *Handlers) HandleCancelOrder(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := h.store.CancelOrder(id); err != nil {
		h.writeOrderError(w, id, err)
		return
	}
	writeJSON(h.log, w, http.StatusOK, map[string]string{"status": "cancelled"})
}

func (h *Handlers) writeOrderError(w http.ResponseWriter, id string, err error) {
	switch {
	case errors.Is(err, portfolio.ErrOrderNotFound):
		writeError(h.log, w, http.StatusNotFound, "order not found")
	case errors.Is(err, portfolio.ErrOrderNotPending):
		writeError(h.log, w, http.StatusConflict, "order is not pending")
	default:
		h.log.Error().Err(err).Str("order_id", id).Msg("Order action failed")
		writeError(h.log, w, http.StatusInternalServerError, "order action failed")
	}
}

// HandleListProfiles serves GET /api/universe/profiles.
func (h *Handlers) HandleListProfiles(w http.ResponseWriter, r *http.Request) {
	profiles, err := h.profiles.Active()
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to list profiles")
		writeError(h.log, w, http.StatusInternalServerError, "failed to list profiles")
		return
	}
	writeJSON(h.log, w, http.StatusOK, map[string]any{"profiles": profiles})
}

// profileRequest accepts either a template instantiation or a full
// profile. When Template is set, the named template provides every
// field except the asset ID.
type profileRequest struct {
	Template string `json:"template,omitempty"`
	domain.AssetProfile
}

// HandleUpsertProfile serves POST /api/universe/profiles.
func (h *Handlers) HandleUpsertProfile(w http.ResponseWriter, r *http.Request) {
	var req profileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(h.log, w, http.StatusBadRequest, "invalid request body")
		return
	}

	profile := req.AssetProfile
	if req.Template != "" {
		built, err := universe.FromTemplate(req.Template, req.AssetID)
		if err != nil {
			writeError(h.log, w, http.StatusBadRequest, err.Error())
			return
		}
		profile = built
	}

	if err := profile.Validate(); err != nil {
		writeError(h.log, w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.profiles.Upsert(profile); err != nil {
		h.log.Error().Err(err).Str("asset_id", profile.AssetID).Msg("Failed to store profile")
		writeError(h.log, w, http.StatusInternalServerError, "failed to store profile")
		return
	}
	writeJSON(h.log, w, http.StatusCreated, profile)
}

// queryLimit reads a positive ?limit=, falling back to a default.
func queryLimit(r *http.Request, fallback int) int {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return fallback
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 1 {
		return fallback
	}
	if limit > 500 {
		return 500
	}
	return limit
}
