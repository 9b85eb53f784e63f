// Package reporting persists the decision audit trail and renders the
// daily operator report. Every run and every per-asset decision lands in
// decisions.db; the report turns the latest run into the text the
// operator acts on each evening.
package reporting

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/trapline/internal/domain"
)

// runColumns is the column list shared by every run SELECT. Order must
// match scanRun.
const runColumns = `id, run_date, status, assets_total, signals, duration_ms,
started_at, finished_at`

// DecisionRecord is one journaled decision exactly as stored: trap
// parameters and composite are null for decisions that never produced
// them.
type DecisionRecord struct {
	RunID          string               `json:"run_id"`
	AssetID        string               `json:"asset_id"`
	Outcome        domain.Outcome       `json:"outcome"`
	Reason         string               `json:"reason,omitempty"`
	Classification string               `json:"classification,omitempty"`
	Composite      *float64             `json:"composite,omitempty"`
	Guards         []domain.GuardResult `json:"guards"`
	Entry          *float64             `json:"entry,omitempty"`
	Stop           *float64             `json:"stop,omitempty"`
	Target         *float64             `json:"target,omitempty"`
	Size           *float64             `json:"size,omitempty"`
	RiskFraction   *float64             `json:"risk_fraction,omitempty"`
	Reasoning      string               `json:"reasoning"`
	CreatedAt      string               `json:"created_at"`
}

// Journal writes runs and decisions to decisions.db and serves the
// queries behind the runs API.
type Journal struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewJournal creates a decision journal.
func NewJournal(db *sql.DB, log zerolog.Logger) *Journal {
	return &Journal{
		db:  db,
		log: log.With().Str("component", "decision_journal").Logger(),
	}
}

// StartRun opens the journal row for a run.
func (j *Journal) StartRun(run domain.Run) error {
	_, err := j.db.Exec(`
		INSERT INTO runs (id, run_date, status, assets_total, started_at)
		VALUES (?, ?, ?, ?, ?)`,
		run.ID,
		run.Date,
		string(run.Status),
		run.AssetsTotal,
		run.StartedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to open run %s: %w", run.ID, err)
	}
	return nil
}

// FinishRun closes the journal row with the run outcome.
func (j *Journal) FinishRun(run domain.Run) error {
	_, err := j.db.Exec(`
		UPDATE runs
		SET status = ?, signals = ?, duration_ms = ?, finished_at = ?
		WHERE id = ?`,
		string(run.Status),
		run.Signals,
		run.DurationMS,
		run.FinishedAt.UTC().Format(time.RFC3339),
		run.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to close run %s: %w", run.ID, err)
	}
	return nil
}

// RecordDecision appends one decision to the run's audit trail.
func (j *Journal) RecordDecision(runID string, d domain.SignalDecision) error {
	var classification string
	var composite *float64
	if d.Composite != nil {
		classification = string(d.Composite.Classification)
		if d.Composite.Defined {
			score := d.Composite.Score
			composite = &score
		}
	}

	var entry, stop, target, size, riskFraction *float64
	if d.Trap != nil {
		entry = &d.Trap.Entry
		stop = &d.Trap.Stop
		target = &d.Trap.Target
		size = &d.Trap.Size
		riskFraction = &d.Trap.RiskFraction
	}

	_, err := j.db.Exec(`
		INSERT INTO decisions
			(run_id, asset_id, outcome, reason, classification, composite,
			 guards, entry, stop, target, size, risk_fraction, reasoning)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		runID,
		d.AssetID,
		string(d.Outcome),
		d.Reason,
		classification,
		composite,
		marshalGuards(d.Guards),
		entry,
		stop,
		target,
		size,
		riskFraction,
		d.Reasoning,
	)
	if err != nil {
		return fmt.Errorf("failed to record decision for %s: %w", d.AssetID, err)
	}
	return nil
}

// Runs returns the most recent runs, newest first.
func (j *Journal) Runs(limit int) ([]domain.Run, error) {
	if limit < 1 {
		limit = 20
	}
	rows, err := j.db.Query(
		"SELECT "+runColumns+" FROM runs ORDER BY started_at DESC LIMIT ?",
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var runs []domain.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating runs: %w", err)
	}
	return runs, nil
}

// Run returns one run by ID, or nil when unknown.
func (j *Journal) Run(id string) (*domain.Run, error) {
	rows, err := j.db.Query("SELECT "+runColumns+" FROM runs WHERE id = ?", id)
	if err != nil {
		return nil, fmt.Errorf("failed to query run: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, rows.Err()
	}
	run, err := scanRun(rows)
	if err != nil {
		return nil, fmt.Errorf("failed to scan run: %w", err)
	}
	return &run, nil
}

// Latest returns the most recent run, or nil when nothing has run yet.
func (j *Journal) Latest() (*domain.Run, error) {
	rows, err := j.db.Query("SELECT " + runColumns + " FROM runs ORDER BY started_at DESC LIMIT 1")
	if err != nil {
		return nil, fmt.Errorf("failed to query latest run: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, rows.Err()
	}
	run, err := scanRun(rows)
	if err != nil {
		return nil, fmt.Errorf("failed to scan run: %w", err)
	}
	return &run, nil
}

// Decisions returns a run's decisions ordered by asset ID.
func (j *Journal) Decisions(runID string) ([]DecisionRecord, error) {
	rows, err := j.db.Query(`
		SELECT run_id, asset_id, outcome, reason, classification, composite,
		       guards, entry, stop, target, size, risk_fraction, reasoning,
		       created_at
		FROM decisions
		WHERE run_id = ?
		ORDER BY asset_id`,
		runID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query decisions: %w", err)
	}
	defer rows.Close()

	var records []DecisionRecord
	for rows.Next() {
		var rec DecisionRecord
		var outcome, guards string
		var composite, entry, stop, target, size, riskFraction sql.NullFloat64
		err := rows.Scan(
			&rec.RunID,
			&rec.AssetID,
			&outcome,
			&rec.Reason,
			&rec.Classification,
			&composite,
			&guards,
			&entry,
			&stop,
			&target,
			&size,
			&riskFraction,
			&rec.Reasoning,
			&rec.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan decision: %w", err)
		}
		rec.Outcome = domain.Outcome(outcome)
		rec.Composite = nullableFloat(composite)
		rec.Entry = nullableFloat(entry)
		rec.Stop = nullableFloat(stop)
		rec.Target = nullableFloat(target)
		rec.Size = nullableFloat(size)
		rec.RiskFraction = nullableFloat(riskFraction)
		if err := json.Unmarshal([]byte(guards), &rec.Guards); err != nil {
			j.log.Warn().
				Str("asset_id", rec.AssetID).
				Err(err).
				Msg("Unreadable guard trail in journal")
			rec.Guards = []domain.GuardResult{}
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating decisions: %w", err)
	}
	return records, nil
}

// Prune removes runs (and their decisions) older than the retention
// window, measured in days against the run date.
func (j *Journal) Prune(retentionDays int) (int64, error) {
	if retentionDays < 1 {
		return 0, nil
	}
	cutoff := time.Now().UTC().AddDate(0, 0, -retentionDays).Format("2006-01-02")
	res, err := j.db.Exec(`
		DELETE FROM decisions WHERE run_id IN
			(SELECT id FROM runs WHERE run_date < ?)`,
		cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to prune decisions: %w", err)
	}
	removed, _ := res.RowsAffected()
	if _, err := j.db.Exec("DELETE FROM runs WHERE run_date < ?", cutoff); err != nil {
		return removed, fmt.Errorf("failed to prune runs: %w", err)
	}
	return removed, nil
}

func scanRun(rows *sql.Rows) (domain.Run, error) {
	var run domain.Run
	var status, startedAt string
	var finishedAt sql.NullString
	err := rows.Scan(
		&run.ID,
		&run.Date,
		&status,
		&run.AssetsTotal,
		&run.Signals,
		&run.DurationMS,
		&startedAt,
		&finishedAt,
	)
	if err != nil {
		return domain.Run{}, err
	}
	run.Status = domain.RunStatus(status)
	if t, err := time.Parse(time.RFC3339, startedAt); err == nil {
		run.StartedAt = t
	}
	if finishedAt.Valid {
		if t, err := time.Parse(time.RFC3339, finishedAt.String); err == nil {
			run.FinishedAt = t
		}
	}
	return run, nil
}

func marshalGuards(guards []domain.GuardResult) string {
	if len(guards) == 0 {
		return "[]"
	}
	b, err := json.Marshal(guards)
	if err != nil {
		return "[]"
	}
	return string(b)
}

func nullableFloat(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}
