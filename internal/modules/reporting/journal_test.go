package reporting

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/trapline/internal/domain"
	testingpkg "github.com/aristath/trapline/internal/testing"
)

func newTestJournal(t *testing.T) *Journal {
	t.Helper()
	db, cleanup := testingpkg.NewTestDB(t, "decisions")
	t.Cleanup(cleanup)
	return NewJournal(db.Conn(), zerolog.Nop())
}

func startedRun(id, date string, startedAt time.Time) domain.Run {
	return domain.Run{
		ID:          id,
		Date:        date,
		Status:      domain.RunRunning,
		AssetsTotal: 12,
		StartedAt:   startedAt,
	}
}

func TestJournalRunLifecycle(t *testing.T) {
	j := newTestJournal(t)
	startedAt := time.Date(2026, 3, 6, 22, 10, 0, 0, time.UTC)

	require.NoError(t, j.StartRun(startedRun("run-1", "2026-03-06", startedAt)))

	open, err := j.Run("run-1")
	require.NoError(t, err)
	require.NotNil(t, open)
	assert.Equal(t, domain.RunRunning, open.Status)
	assert.Equal(t, 12, open.AssetsTotal)
	assert.True(t, open.StartedAt.Equal(startedAt))
	assert.True(t, open.FinishedAt.IsZero())

	closed := startedRun("run-1", "2026-03-06", startedAt)
	closed.Status = domain.RunComplete
	closed.Signals = 2
	closed.DurationMS = 840
	closed.FinishedAt = startedAt.Add(840 * time.Millisecond)
	require.NoError(t, j.FinishRun(closed))

	got, err := j.Run("run-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, domain.RunComplete, got.Status)
	assert.Equal(t, 2, got.Signals)
	assert.Equal(t, int64(840), got.DurationMS)
	assert.True(t, got.FinishedAt.Equal(closed.FinishedAt.Truncate(time.Second)))
}

func TestJournalRunsNewestFirst(t *testing.T) {
	j := newTestJournal(t)
	base := time.Date(2026, 3, 4, 22, 0, 0, 0, time.UTC)
	require.NoError(t, j.StartRun(startedRun("run-1", "2026-03-04", base)))
	require.NoError(t, j.StartRun(startedRun("run-2", "2026-03-05", base.AddDate(0, 0, 1))))
	require.NoError(t, j.StartRun(startedRun("run-3", "2026-03-06", base.AddDate(0, 0, 2))))

	runs, err := j.Runs(2)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "run-3", runs[0].ID)
	assert.Equal(t, "run-2", runs[1].ID)

	latest, err := j.Latest()
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, "run-3", latest.ID)
}

func TestJournalMissingRun(t *testing.T) {
	j := newTestJournal(t)

	run, err := j.Run("nope")
	require.NoError(t, err)
	assert.Nil(t, run)

	latest, err := j.Latest()
	require.NoError(t, err)
	assert.Nil(t, latest)
}

func TestJournalRecordsDecisionShapes(t *testing.T) {
	j := newTestJournal(t)
	startedAt := time.Date(2026, 3, 6, 22, 10, 0, 0, time.UTC)
	require.NoError(t, j.StartRun(startedRun("run-1", "2026-03-06", startedAt)))

	signal := domain.SignalDecision{
		AssetID: "XAUUSD",
		Outcome: domain.OutcomeSignal,
		Composite: &domain.CompositeResult{
			Score:          3.54,
			Defined:        true,
			Classification: domain.ClassStrongBuy,
		},
		Guards: []domain.GuardResult{
			{ID: "regime", Passed: true},
			{ID: "volatility-panic", Passed: true},
		},
		Trap: &domain.TrapOrderParams{
			Entry:        161.64,
			Stop:         157.64,
			Target:       167.31,
			Size:         2.784,
			RiskFraction: 0.01,
		},
		Reasoning: "strong momentum, all guards clear",
	}
	blocked := domain.SignalDecision{
		AssetID: "XAGUSD",
		Outcome: domain.OutcomeNoTrade,
		Reason:  domain.ReasonNeutral,
		Composite: &domain.CompositeResult{
			Score:          0.2,
			Defined:        true,
			Classification: domain.ClassNeutral,
		},
		Reasoning: "composite inside the neutral band",
	}
	undefined := domain.SignalDecision{
		AssetID: "NATGAS",
		Outcome: domain.OutcomeNoTrade,
		Reason:  domain.ReasonCorrelation,
		Composite: &domain.CompositeResult{
			Classification: domain.ClassNeutral,
		},
		Reasoning: "return series unavailable",
	}

	require.NoError(t, j.RecordDecision("run-1", signal))
	require.NoError(t, j.RecordDecision("run-1", blocked))
	require.NoError(t, j.RecordDecision("run-1", undefined))

	records, err := j.Decisions("run-1")
	require.NoError(t, err)
	require.Len(t, records, 3)

	// Ordered by asset: NATGAS, XAGUSD, XAUUSD.
	assert.Equal(t, "NATGAS", records[0].AssetID)
	assert.Nil(t, records[0].Composite)
	assert.Equal(t, "NEUTRAL", records[0].Classification)
	assert.Empty(t, records[0].Guards)

	assert.Equal(t, "XAGUSD", records[1].AssetID)
	require.NotNil(t, records[1].Composite)
	assert.InDelta(t, 0.2, *records[1].Composite, 1e-9)
	assert.Nil(t, records[1].Entry)

	got := records[2]
	assert.Equal(t, "XAUUSD", got.AssetID)
	assert.Equal(t, domain.OutcomeSignal, got.Outcome)
	assert.Equal(t, "STRONG_BUY", got.Classification)
	require.NotNil(t, got.Composite)
	assert.InDelta(t, 3.54, *got.Composite, 1e-9)
	require.NotNil(t, got.Entry)
	assert.InDelta(t, 161.64, *got.Entry, 1e-9)
	require.NotNil(t, got.RiskFraction)
	assert.InDelta(t, 0.01, *got.RiskFraction, 1e-9)
	require.Len(t, got.Guards, 2)
	assert.Equal(t, "volatility-panic", got.Guards[1].ID)
	assert.NotEmpty(t, got.CreatedAt)
}

func TestJournalPruneDropsOldRuns(t *testing.T) {
	j := newTestJournal(t)
	now := time.Now().UTC()

	old := startedRun("run-old", now.AddDate(0, 0, -400).Format("2006-01-02"), now.AddDate(0, 0, -400))
	keep := startedRun("run-new", now.Format("2006-01-02"), now)
	require.NoError(t, j.StartRun(old))
	require.NoError(t, j.StartRun(keep))
	require.NoError(t, j.RecordDecision("run-old", domain.SignalDecision{
		AssetID: "XAUUSD", Outcome: domain.OutcomeNoTrade, Reason: domain.ReasonNeutral,
	}))

	removed, err := j.Prune(365)
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	gone, err := j.Run("run-old")
	require.NoError(t, err)
	assert.Nil(t, gone)
	kept, err := j.Run("run-new")
	require.NoError(t, err)
	assert.NotNil(t, kept)

	records, err := j.Decisions("run-old")
	require.NoError(t, err)
	assert.Empty(t, records)
}
