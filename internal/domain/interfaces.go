package domain

import "time"

// FeatureEngine produces a FeatureVector per asset per day.
// Insufficient-history values are explicitly undefined, never zero or
// another in-range value.
type FeatureEngine interface {
	Compute(bars []Bar, profile AssetProfile, benchmark []Bar) (*FeatureVector, error)
}

// ContextProvider assembles the cross-asset MarketContext for a run.
// Every field carries its own observation timestamp so consuming guards
// can fail closed on staleness.
type ContextProvider interface {
	MarketContext(asOf time.Time) (MarketContext, error)
}

// BarProvider returns trailing daily bars for a symbol, oldest first,
// ending at or before asOf.
type BarProvider interface {
	DailyBars(symbol string, limit int, asOf time.Time) ([]Bar, error)
}

// ReturnsProvider returns the trailing n daily returns for a symbol,
// oldest first. Fewer than n available returns are returned as-is;
// correlation control treats a short series as undefined.
type ReturnsProvider interface {
	DailyReturns(symbol string, n int, asOf time.Time) ([]float64, error)
}

// ProfileStore enumerates the tradable universe. Malformed profiles are
// skipped with a per-asset error, not a batch-wide failure.
type ProfileStore interface {
	Active() ([]AssetProfile, error)
}

// StateStore reads the portfolio snapshot at run start and applies the
// staged mutation as a single atomic commit at run end.
type StateStore interface {
	Snapshot() (PortfolioState, error)
	Commit(commit CommitSet) error
}

// CalendarProvider answers blackout-window queries. The syncedAt
// timestamp lets guards fail closed when calendar data is stale; known is
// false when no upcoming event could be determined, which the earnings
// guard treats as a data gap and the macro guard as an empty calendar.
type CalendarProvider interface {
	DaysToEarnings(symbol string, asOf time.Time) (days int, known bool, syncedAt time.Time, err error)
	DaysToMacroEvent(asOf time.Time) (days int, known bool, syncedAt time.Time, err error)
}

// DecisionJournal persists the immutable run history: one row per run,
// one row per asset decision.
type DecisionJournal interface {
	StartRun(run Run) error
	RecordDecision(runID string, decision SignalDecision) error
	FinishRun(run Run) error
}

// Notifier delivers the daily report to the outside world.
type Notifier interface {
	SendReport(text string) error
}
