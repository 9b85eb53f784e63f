package portfolio

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/aristath/trapline/internal/database"
)

// Cash flow kinds.
const (
	FlowDeposit    = "DEPOSIT"
	FlowWithdrawal = "WITHDRAWAL"
)

var (
	// ErrInvalidAmount marks a non-positive cash flow amount.
	ErrInvalidAmount = errors.New("cash flow amount must be positive")
	// ErrInsufficientCash marks a withdrawal larger than free cash.
	ErrInsufficientCash = errors.New("insufficient cash")
)

// CashFlow is one recorded external money movement.
type CashFlow struct {
	ID         int64     `json:"id"`
	Amount     float64   `json:"amount"`
	Kind       string    `json:"kind"`
	Note       string    `json:"note,omitempty"`
	RecordedAt time.Time `json:"recorded_at"`
}

// RecordDeposit adds external cash. Peak equity shifts up by the same
// amount so the deposit neither creates nor erases drawdown.
func (s *Store) RecordDeposit(amount float64, note string) error {
	if amount <= 0 {
		return fmt.Errorf("%w: %.2f", ErrInvalidAmount, amount)
	}
	err := database.WithTransaction(s.db, func(tx *sql.Tx) error {
		if err := ensureAccount(tx); err != nil {
			return err
		}
		if _, err := tx.Exec(`
			UPDATE account SET
				cash        = cash + ?,
				equity      = equity + ?,
				peak_equity = peak_equity + ?,
				updated_at  = ?
			WHERE id = 1`,
			amount, amount, amount, time.Now().UTC().Format(tsLayout),
		); err != nil {
			return fmt.Errorf("failed to apply deposit: %w", err)
		}
		return insertFlow(tx, amount, FlowDeposit, note)
	})
	if err != nil {
		return err
	}
	s.log.Info().Float64("amount", amount).Msg("Deposit recorded")
	return nil
}

// RecordWithdrawal removes external cash. Only free cash can leave. Peak
// equity shifts down by the same amount, floored at the new equity, so
// taking money out does not register as performance drawdown.
func (s *Store) RecordWithdrawal(amount float64, note string) error {
	if amount <= 0 {
		return fmt.Errorf("%w: %.2f", ErrInvalidAmount, amount)
	}
	err := database.WithTransaction(s.db, func(tx *sql.Tx) error {
		var cash, equity, peak float64
		err := tx.QueryRow(
			"SELECT cash, equity, peak_equity FROM account WHERE id = 1",
		).Scan(&cash, &equity, &peak)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: no account", ErrInsufficientCash)
		}
		if err != nil {
			return fmt.Errorf("failed to read account: %w", err)
		}
		if amount > cash {
			return fmt.Errorf("%w: %.2f requested, %.2f available", ErrInsufficientCash, amount, cash)
		}

		newEquity := equity - amount
		newPeak := peak - amount
		if newPeak < newEquity {
			newPeak = newEquity
		}
		if _, err := tx.Exec(`
			UPDATE account SET
				cash        = cash - ?,
				equity      = ?,
				peak_equity = ?,
				updated_at  = ?
			WHERE id = 1`,
			amount, newEquity, newPeak, time.Now().UTC().Format(tsLayout),
		); err != nil {
			return fmt.Errorf("failed to apply withdrawal: %w", err)
		}
		return insertFlow(tx, -amount, FlowWithdrawal, note)
	})
	if err != nil {
		return err
	}
	s.log.Info().Float64("amount", amount).Msg("Withdrawal recorded")
	return nil
}

// CashFlows returns the most recent flows, newest first.
func (s *Store) CashFlows(limit int) ([]CashFlow, error) {
	rows, err := s.db.Query(
		"SELECT id, amount, kind, note, recorded_at FROM cash_flows ORDER BY id DESC LIMIT ?",
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query cash flows: %w", err)
	}
	defer rows.Close()

	var flows []CashFlow
	for rows.Next() {
		var f CashFlow
		var recordedAt string
		if err := rows.Scan(&f.ID, &f.Amount, &f.Kind, &f.Note, &recordedAt); err != nil {
			return nil, fmt.Errorf("failed to scan cash flow: %w", err)
		}
		if ts, perr := time.Parse(tsLayout, recordedAt); perr == nil {
			f.RecordedAt = ts
		}
		flows = append(flows, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating cash flows: %w", err)
	}
	return flows, nil
}

func insertFlow(tx *sql.Tx, amount float64, kind, note string) error {
	if _, err := tx.Exec(
		"INSERT INTO cash_flows (amount, kind, note, recorded_at) VALUES (?, ?, ?, ?)",
		amount, kind, note, time.Now().UTC().Format(tsLayout),
	); err != nil {
		return fmt.Errorf("failed to record cash flow: %w", err)
	}
	return nil
}

func ensureAccount(tx *sql.Tx) error {
	if _, err := tx.Exec(`
		INSERT INTO account (id, cash, equity, peak_equity, risk_status, updated_at)
		VALUES (1, 0, 0, 0, 'NORMAL', ?)
		ON CONFLICT(id) DO NOTHING`,
		time.Now().UTC().Format(tsLayout),
	); err != nil {
		return fmt.Errorf("failed to ensure account row: %w", err)
	}
	return nil
}
