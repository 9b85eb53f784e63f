// Package pipeline executes the end-of-day batch run: freeze a snapshot
// of every input, fan per-asset evaluation out over a bounded worker
// pool, join, resolve the cross-asset phase, and commit the staged
// mutations atomically. A malformed asset is isolated to a data-error
// NO_TRADE; it never takes the batch down. Because evaluation reads only
// the frozen snapshot, replaying a stored snapshot reproduces the run's
// decisions exactly.
package pipeline

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/aristath/trapline/internal/domain"
	"github.com/aristath/trapline/internal/events"
	"github.com/aristath/trapline/internal/modules/decision"
	"github.com/aristath/trapline/internal/modules/guards"
	"github.com/aristath/trapline/internal/modules/portfolio"
	"github.com/aristath/trapline/internal/modules/risk"
)

const dateLayout = "2006-01-02"

// defaultWorkers is the evaluation fan-out when the configured worker
// count is not positive.
const defaultWorkers = 4

// Result is one completed pipeline execution. Snapshot is the frozen
// input the decisions were computed from; the daily report reads the
// market context, portfolio state, and expired reservations out of it.
type Result struct {
	Run       domain.Run
	Decisions []domain.SignalDecision
	Snapshot  *Snapshot
	Commit    domain.CommitSet
}

// Runner orchestrates the daily batch.
type Runner struct {
	profiles  domain.ProfileStore
	bars      domain.BarProvider
	returns   domain.ReturnsProvider
	context   domain.ContextProvider
	calendar  domain.CalendarProvider
	state     domain.StateStore
	journal   domain.DecisionJournal
	features  domain.FeatureEngine
	snapshots *SnapshotStore
	bus       *events.Bus

	agg     *decision.Aggregator
	riskMgr *risk.Manager

	workers int
	log     zerolog.Logger

	nowFunc func() time.Time
	idFunc  func() string
}

// NewRunner creates a pipeline runner with all dependencies.
func NewRunner(
	profiles domain.ProfileStore,
	bars domain.BarProvider,
	returns domain.ReturnsProvider,
	context domain.ContextProvider,
	calendar domain.CalendarProvider,
	state domain.StateStore,
	journal domain.DecisionJournal,
	features domain.FeatureEngine,
	snapshots *SnapshotStore,
	bus *events.Bus,
	workers int,
	log zerolog.Logger,
) *Runner {
	if workers < 1 {
		workers = defaultWorkers
	}
	return &Runner{
		profiles:  profiles,
		bars:      bars,
		returns:   returns,
		context:   context,
		calendar:  calendar,
		state:     state,
		journal:   journal,
		features:  features,
		snapshots: snapshots,
		bus:       bus,
		agg:       decision.NewAggregator(log),
		riskMgr:   risk.NewManager(log),
		workers:   workers,
		log:       log.With().Str("component", "pipeline").Logger(),
		nowFunc:   time.Now,
		idFunc:    uuid.NewString,
	}
}

// Run executes one batch: snapshot, evaluate, finalize, commit, journal.
// Events are emitted only after the portfolio commit has been applied.
func (r *Runner) Run() (*Result, error) {
	started := r.nowFunc().UTC()
	runID := r.idFunc()
	log := r.log.With().Str("run_id", runID).Logger()

	snap, err := r.buildSnapshot(runID, started)
	if err != nil {
		return nil, fmt.Errorf("snapshot failed: %w", err)
	}
	log.Info().
		Str("run_date", snap.RunDate).
		Int("assets", len(snap.Assets)).
		Str("risk_status", string(snap.State.Status)).
		Float64("equity", snap.State.Equity).
		Msg("Pipeline run starting")

	run := domain.Run{
		ID:          runID,
		Date:        snap.RunDate,
		Status:      domain.RunRunning,
		AssetsTotal: len(snap.Assets),
		StartedAt:   started,
	}
	if err := r.journal.StartRun(run); err != nil {
		return nil, fmt.Errorf("failed to open run journal: %w", err)
	}
	r.bus.Emit("pipeline", &events.RunStartedData{
		RunID:   runID,
		RunDate: snap.RunDate,
		Assets:  len(snap.Assets),
	})
	if err := r.snapshots.Save(snap); err != nil {
		r.failRun(&run, err)
		return nil, fmt.Errorf("snapshot persistence failed: %w", err)
	}

	decisions := r.evaluate(snap)
	commit := r.buildCommit(snap, decisions)
	if err := r.state.Commit(commit); err != nil {
		r.failRun(&run, err)
		return nil, fmt.Errorf("portfolio commit failed: %w", err)
	}

	signals := 0
	for _, d := range decisions {
		if d.IsSignal() {
			signals++
		}
		if err := r.journal.RecordDecision(runID, d); err != nil {
			log.Error().Err(err).Str("asset", d.AssetID).Msg("Failed to journal decision")
		}
	}

	finished := r.nowFunc().UTC()
	run.Status = domain.RunComplete
	run.Signals = signals
	run.DurationMS = finished.Sub(started).Milliseconds()
	run.FinishedAt = finished
	if err := r.journal.FinishRun(run); err != nil {
		log.Error().Err(err).Msg("Failed to close run journal")
	}

	r.emitRunEvents(snap, run, decisions)
	log.Info().
		Int("signals", signals).
		Int("no_trades", len(decisions)-signals).
		Int64("duration_ms", run.DurationMS).
		Msg("Pipeline run complete")

	return &Result{Run: run, Decisions: decisions, Snapshot: snap, Commit: commit}, nil
}

// Replay re-executes the evaluation from a stored snapshot. No state is
// written and no events fire; the output must match the original run.
func (r *Runner) Replay(runID string) ([]domain.SignalDecision, error) {
	snap, err := r.snapshots.Load(runID)
	if err != nil {
		return nil, err
	}
	r.log.Info().
		Str("run_id", runID).
		Str("run_date", snap.RunDate).
		Msg("Replaying run from stored snapshot")
	return r.evaluate(snap), nil
}

// buildSnapshot freezes every input the run will read: active profiles
// with their bar history and calendar answers, the market context, and
// the portfolio marked to market with the risk status advanced and
// lapsed reservations expired.
func (r *Runner) buildSnapshot(runID string, asOf time.Time) (*Snapshot, error) {
	profiles, err := r.profiles.Active()
	if err != nil {
		return nil, fmt.Errorf("failed to load universe: %w", err)
	}

	state, err := r.state.Snapshot()
	if err != nil {
		return nil, fmt.Errorf("failed to load portfolio: %w", err)
	}
	prevStatus := state.Status
	state = portfolio.MarkToMarket(state, r.latestCloses(state.Positions, asOf))
	state.Status = r.riskMgr.Assess(state).Status
	state.AsOf = asOf

	var expire []string
	for i := range state.PendingOrders {
		o := &state.PendingOrders[i]
		if o.Status == domain.OrderPending && !o.ValidUntil.After(asOf) {
			o.Status = domain.OrderExpired
			expire = append(expire, o.ID)
		}
	}

	mctx, err := r.context.MarketContext(asOf)
	if err != nil {
		return nil, fmt.Errorf("failed to assemble market context: %w", err)
	}

	snap := &Snapshot{
		RunID:          runID,
		RunDate:        asOf.Format(dateLayout),
		AsOf:           asOf,
		PrevStatus:     prevStatus,
		State:          state,
		ExpireOrderIDs: expire,
		Context:        mctx,
		Macro:          r.macroAnswer(asOf),
		Assets:         make([]AssetSnapshot, 0, len(profiles)),
		Benchmarks:     make(map[string][]domain.Bar),
		Returns:        make(map[string][]float64),
	}

	for _, p := range state.Positions {
		snap.OpenAssets = append(snap.OpenAssets, p.AssetID)
		r.loadReturns(snap, p.AssetID, asOf)
	}
	sort.Strings(snap.OpenAssets)

	for _, profile := range profiles {
		bars, err := r.bars.DailyBars(profile.AssetID, HistoryWindow, asOf)
		if err != nil {
			// The asset still enters the snapshot; evaluation turns the
			// missing history into a data-error NO_TRADE.
			r.log.Warn().Err(err).Str("asset", profile.AssetID).Msg("Failed to load bars")
			bars = nil
		}
		asset := AssetSnapshot{Profile: profile, Bars: bars}
		if profile.EventGuard {
			asset.Earnings = r.earningsAnswer(profile.AssetID, asOf)
		}
		if profile.BenchmarkIndex != "" {
			r.loadBenchmark(snap, profile.BenchmarkIndex, asOf)
		}
		r.loadReturns(snap, profile.AssetID, asOf)
		snap.Assets = append(snap.Assets, asset)
	}

	return snap, nil
}

// latestCloses fetches the newest close per open position for the
// mark-to-market. A position without a quote keeps its entry price.
func (r *Runner) latestCloses(positions []domain.Position, asOf time.Time) map[string]float64 {
	closes := make(map[string]float64, len(positions))
	for _, p := range positions {
		bars, err := r.bars.DailyBars(p.AssetID, 1, asOf)
		if err != nil || len(bars) == 0 {
			r.log.Warn().Err(err).Str("asset", p.AssetID).Msg("No quote for open position")
			continue
		}
		closes[p.AssetID] = bars[len(bars)-1].Close
	}
	return closes
}

func (r *Runner) macroAnswer(asOf time.Time) CalendarAnswer {
	days, known, syncedAt, err := r.calendar.DaysToMacroEvent(asOf)
	if err != nil {
		// Treated as never-synced; the macro guard fails closed.
		r.log.Warn().Err(err).Msg("Macro calendar query failed")
		return CalendarAnswer{}
	}
	return CalendarAnswer{Days: days, Known: known, SyncedAt: syncedAt}
}

func (r *Runner) earningsAnswer(assetID string, asOf time.Time) CalendarAnswer {
	days, known, syncedAt, err := r.calendar.DaysToEarnings(assetID, asOf)
	if err != nil {
		r.log.Warn().Err(err).Str("asset", assetID).Msg("Earnings calendar query failed")
		return CalendarAnswer{}
	}
	return CalendarAnswer{Days: days, Known: known, SyncedAt: syncedAt}
}

func (r *Runner) loadBenchmark(snap *Snapshot, symbol string, asOf time.Time) {
	if _, ok := snap.Benchmarks[symbol]; ok {
		return
	}
	bars, err := r.bars.DailyBars(symbol, HistoryWindow, asOf)
	if err != nil {
		r.log.Warn().Err(err).Str("symbol", symbol).Msg("Failed to load benchmark bars")
		return
	}
	snap.Benchmarks[symbol] = bars
}

func (r *Runner) loadReturns(snap *Snapshot, assetID string, asOf time.Time) {
	if _, ok := snap.Returns[assetID]; ok {
		return
	}
	series, err := r.returns.DailyReturns(assetID, ReturnsWindow, asOf)
	if err != nil {
		// Left absent: correlation control blocks the asset as undefined.
		r.log.Warn().Err(err).Str("asset", assetID).Msg("Failed to load return series")
		return
	}
	snap.Returns[assetID] = series
}

// evalOutcome is one worker's result: exactly one field is set.
type evalOutcome struct {
	candidate *decision.Candidate
	decision  *domain.SignalDecision
}

// evaluate runs phase one over the worker pool, joins, and resolves
// phase two. Workers only read the shared snapshot and write disjoint
// result slots, so no locking is needed.
func (r *Runner) evaluate(snap *Snapshot) []domain.SignalDecision {
	assessment := r.riskMgr.Assess(snap.State)

	results := make([]evalOutcome, len(snap.Assets))
	jobs := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < r.workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				results[i] = r.evaluateAsset(snap, assessment, snap.Assets[i])
			}
		}()
	}
	for i := range snap.Assets {
		jobs <- i
	}
	close(jobs)
	wg.Wait()

	candidates := make([]decision.Candidate, 0, len(results))
	decisions := make([]domain.SignalDecision, 0, len(results))
	for _, res := range results {
		if res.candidate != nil {
			candidates = append(candidates, *res.candidate)
		} else if res.decision != nil {
			decisions = append(decisions, *res.decision)
		}
	}

	decisions = append(decisions, r.agg.Finalize(candidates, snap.State, assessment)...)
	sort.Slice(decisions, func(i, j int) bool { return decisions[i].AssetID < decisions[j].AssetID })
	return decisions
}

// evaluateAsset computes features and runs phase one for a single asset.
// A panic is contained here: the asset resolves to a data-error NO_TRADE
// and the rest of the batch is unaffected.
func (r *Runner) evaluateAsset(snap *Snapshot, assessment risk.Assessment, asset AssetSnapshot) (out evalOutcome) {
	assetID := asset.Profile.AssetID
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Error().Str("asset", assetID).Interface("panic", rec).Msg("Asset evaluation panicked")
			out = evalOutcome{decision: &domain.SignalDecision{
				AssetID:   assetID,
				Outcome:   domain.OutcomeNoTrade,
				Reason:    domain.ReasonDataError,
				Reasoning: fmt.Sprintf("evaluation panicked: %v", rec),
			}}
		}
	}()

	if len(asset.Bars) == 0 {
		return evalOutcome{decision: &domain.SignalDecision{
			AssetID:   assetID,
			Outcome:   domain.OutcomeNoTrade,
			Reason:    domain.ReasonDataError,
			Reasoning: "no price history available",
		}}
	}

	features, err := r.features.Compute(asset.Bars, asset.Profile, snap.Benchmarks[asset.Profile.BenchmarkIndex])
	if err != nil {
		r.log.Error().Err(err).Str("asset", assetID).Msg("Feature computation failed")
		return evalOutcome{decision: &domain.SignalDecision{
			AssetID:   assetID,
			Outcome:   domain.OutcomeNoTrade,
			Reason:    domain.ReasonDataError,
			Reasoning: fmt.Sprintf("feature computation failed: %v", err),
		}}
	}

	last := asset.Bars[len(asset.Bars)-1]
	cand, dec := r.agg.Evaluate(decision.AssetInput{
		Guards: guards.Inputs{
			AsOf:             snap.AsOf,
			Profile:          asset.Profile,
			Features:         features,
			Close:            last.Close,
			Context:          snap.Context,
			OpenPositions:    snap.State.OpenExposure(),
			MaxPositions:     assessment.Tier.MaxPositions,
			RiskStatus:       snap.State.Status,
			DaysToEarnings:   asset.Earnings.Days,
			EarningsKnown:    asset.Earnings.Known,
			EarningsSyncedAt: asset.Earnings.SyncedAt,
			DaysToMacro:      snap.Macro.Days,
			MacroKnown:       snap.Macro.Known,
			MacroSyncedAt:    snap.Macro.SyncedAt,
		},
		Bars:       asset.Bars,
		Returns:    snap.Returns,
		OpenAssets: snap.OpenAssets,
	})
	return evalOutcome{candidate: cand, decision: dec}
}

// buildCommit stages the run's portfolio mutation: the marked account
// row, the expired reservations, and one pending trap order per SIGNAL.
func (r *Runner) buildCommit(snap *Snapshot, decisions []domain.SignalDecision) domain.CommitSet {
	commit := domain.CommitSet{
		Equity:         snap.State.Equity,
		PeakEquity:     snap.State.PeakEquity,
		Status:         snap.State.Status,
		ExpireOrderIDs: snap.ExpireOrderIDs,
		AsOf:           snap.AsOf,
	}

	groups := make(map[string]string, len(snap.Assets))
	for _, a := range snap.Assets {
		groups[a.Profile.AssetID] = a.Profile.ConcentrationGroup
	}

	for _, d := range decisions {
		if !d.IsSignal() || d.Trap == nil {
			continue
		}
		commit.NewOrders = append(commit.NewOrders, domain.PendingOrder{
			ID:           r.idFunc(),
			RunID:        snap.RunID,
			AssetID:      d.AssetID,
			Entry:        d.Trap.Entry,
			Stop:         d.Trap.Stop,
			Target:       d.Trap.Target,
			Size:         d.Trap.Size,
			RiskFraction: d.Trap.RiskFraction,
			Group:        groups[d.AssetID],
			Status:       domain.OrderPending,
			ValidUntil:   nextSessions(snap.AsOf, d.Trap.ValidSessions),
			CreatedAt:    snap.AsOf,
		})
	}
	return commit
}

// failRun closes the journal row and announces the failure.
func (r *Runner) failRun(run *domain.Run, cause error) {
	finished := r.nowFunc().UTC()
	run.Status = domain.RunFailed
	run.DurationMS = finished.Sub(run.StartedAt).Milliseconds()
	run.FinishedAt = finished
	if err := r.journal.FinishRun(*run); err != nil {
		r.log.Error().Err(err).Str("run_id", run.ID).Msg("Failed to close run journal")
	}
	r.bus.Emit("pipeline", &events.RunFailedData{RunID: run.ID, Error: cause.Error()})
}

func (r *Runner) emitRunEvents(snap *Snapshot, run domain.Run, decisions []domain.SignalDecision) {
	if snap.PrevStatus != snap.State.Status {
		r.bus.Emit("pipeline", &events.RiskStatusChangedData{
			Old:      string(snap.PrevStatus),
			New:      string(snap.State.Status),
			Drawdown: snap.State.Drawdown(),
		})
	}
	if len(snap.ExpireOrderIDs) > 0 {
		r.bus.Emit("pipeline", &events.OrdersExpiredData{Count: len(snap.ExpireOrderIDs)})
	}
	for _, d := range decisions {
		data := &events.AssetEvaluatedData{
			RunID:   run.ID,
			AssetID: d.AssetID,
			Outcome: string(d.Outcome),
			Reason:  d.Reason,
		}
		if d.Composite != nil && d.Composite.Defined {
			score := d.Composite.Score
			data.Composite = &score
		}
		r.bus.Emit("pipeline", data)
	}
	r.bus.Emit("pipeline", &events.RunCompletedData{
		RunID:      run.ID,
		RunDate:    run.Date,
		Signals:    run.Signals,
		NoTrades:   run.AssetsTotal - run.Signals,
		DurationMs: float64(run.DurationMS),
	})
}

// nextSessions advances n trading sessions, skipping weekends. The
// returned instant keeps the run's time of day, so an order staged after
// Friday's close stays live through Monday's session and expires at
// Monday's run.
func nextSessions(asOf time.Time, n int) time.Time {
	t := asOf
	for i := 0; i < n; i++ {
		t = t.AddDate(0, 0, 1)
		for t.Weekday() == time.Saturday || t.Weekday() == time.Sunday {
			t = t.AddDate(0, 0, 1)
		}
	}
	return t
}
