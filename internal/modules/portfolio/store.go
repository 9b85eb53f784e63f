// Package portfolio owns the account state in portfolio.db: cash, equity,
// peak equity, risk status, open positions, and staged trap orders. A run
// reads the state once as an immutable snapshot and writes back exactly
// once through an atomic commit. Outside runs the state changes only
// through the manual order lifecycle and recorded cash flows.
package portfolio

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/aristath/trapline/internal/database"
	"github.com/aristath/trapline/internal/domain"
	"github.com/rs/zerolog"
)

const tsLayout = time.RFC3339

// Store reads and mutates the account state. It implements
// domain.StateStore.
type Store struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewStore creates a new portfolio store.
func NewStore(db *sql.DB, log zerolog.Logger) *Store {
	return &Store{
		db:  db,
		log: log.With().Str("component", "portfolio_store").Logger(),
	}
}

// Snapshot returns the current account state: cash, equity, peak, risk
// status, open positions and live (PENDING) reservations. A fresh
// database yields a zero account in NORMAL status.
func (s *Store) Snapshot() (domain.PortfolioState, error) {
	state := domain.PortfolioState{Status: domain.RiskNormal}

	var status, updatedAt string
	err := s.db.QueryRow(
		"SELECT cash, equity, peak_equity, risk_status, updated_at FROM account WHERE id = 1",
	).Scan(&state.Cash, &state.Equity, &state.PeakEquity, &status, &updatedAt)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		// No account row yet: empty book.
	case err != nil:
		return domain.PortfolioState{}, fmt.Errorf("failed to read account: %w", err)
	default:
		state.Status = domain.RiskStatus(status)
		if ts, perr := time.Parse(tsLayout, updatedAt); perr == nil {
			state.AsOf = ts
		}
	}

	positions, err := s.positions()
	if err != nil {
		return domain.PortfolioState{}, err
	}
	state.Positions = positions

	orders, err := s.PendingOrders()
	if err != nil {
		return domain.PortfolioState{}, err
	}
	state.PendingOrders = orders

	return state, nil
}

// Commit applies one run's staged mutation atomically: the account row,
// order expirations, and new reservations all land in a single
// transaction or not at all.
func (s *Store) Commit(commit domain.CommitSet) error {
	err := database.WithTransaction(s.db, func(tx *sql.Tx) error {
		if err := writeAccount(tx, commit); err != nil {
			return err
		}

		for _, id := range commit.ExpireOrderIDs {
			if _, err := tx.Exec(
				"UPDATE pending_orders SET status = ? WHERE id = ? AND status = ?",
				domain.OrderExpired, id, domain.OrderPending,
			); err != nil {
				return fmt.Errorf("failed to expire order %s: %w", id, err)
			}
		}

		for _, order := range commit.NewOrders {
			if err := insertOrder(tx, order); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.log.Info().
		Float64("equity", commit.Equity).
		Str("risk_status", string(commit.Status)).
		Int("new_orders", len(commit.NewOrders)).
		Int("expired_orders", len(commit.ExpireOrderIDs)).
		Msg("Portfolio commit applied")
	return nil
}

// SetRiskStatus overwrites the stored risk status. Used by the manual
// resume path after a HALT; runs write status through Commit instead.
func (s *Store) SetRiskStatus(status domain.RiskStatus) error {
	_, err := s.db.Exec(
		"UPDATE account SET risk_status = ?, updated_at = ? WHERE id = 1",
		string(status), time.Now().UTC().Format(tsLayout),
	)
	if err != nil {
		return fmt.Errorf("failed to set risk status: %w", err)
	}
	s.log.Warn().Str("risk_status", string(status)).Msg("Risk status set manually")
	return nil
}

func writeAccount(tx *sql.Tx, commit domain.CommitSet) error {
	_, err := tx.Exec(`
		INSERT INTO account (id, cash, equity, peak_equity, risk_status, updated_at)
		VALUES (1, 0, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			equity      = excluded.equity,
			peak_equity = excluded.peak_equity,
			risk_status = excluded.risk_status,
			updated_at  = excluded.updated_at`,
		commit.Equity,
		commit.PeakEquity,
		string(commit.Status),
		commit.AsOf.UTC().Format(tsLayout),
	)
	if err != nil {
		return fmt.Errorf("failed to write account: %w", err)
	}
	return nil
}

func insertOrder(tx *sql.Tx, order domain.PendingOrder) error {
	_, err := tx.Exec(`
		INSERT INTO pending_orders
			(id, run_id, asset_id, entry, stop, target, size, risk_fraction,
			 concentration_group, status, valid_until, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		order.ID,
		order.RunID,
		order.AssetID,
		order.Entry,
		order.Stop,
		order.Target,
		order.Size,
		order.RiskFraction,
		order.Group,
		string(order.Status),
		order.ValidUntil.UTC().Format(tsLayout),
		order.CreatedAt.UTC().Format(tsLayout),
	)
	if err != nil {
		return fmt.Errorf("failed to insert order %s: %w", order.ID, err)
	}
	return nil
}

func (s *Store) positions() ([]domain.Position, error) {
	rows, err := s.db.Query(`
		SELECT asset_id, size, entry_price, concentration_group, risk_fraction, opened_at
		FROM positions ORDER BY asset_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query positions: %w", err)
	}
	defer rows.Close()

	var positions []domain.Position
	for rows.Next() {
		var p domain.Position
		var openedAt string
		if err := rows.Scan(&p.AssetID, &p.Size, &p.EntryPrice, &p.Group, &p.RiskFraction, &openedAt); err != nil {
			return nil, fmt.Errorf("failed to scan position: %w", err)
		}
		if ts, perr := time.Parse(tsLayout, openedAt); perr == nil {
			p.OpenedAt = ts
		}
		positions = append(positions, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating positions: %w", err)
	}
	return positions, nil
}

// MarkToMarket revalues equity from the given closes: equity is cash plus
// open positions at the latest close, entry price standing in for assets
// without a quote. Peak only ratchets upward here; withdrawals are the
// one path that lowers it.
func MarkToMarket(state domain.PortfolioState, closes map[string]float64) domain.PortfolioState {
	equity := state.Cash
	for _, p := range state.Positions {
		price := p.EntryPrice
		if c, ok := closes[p.AssetID]; ok && c > 0 {
			price = c
		}
		equity += p.Size * price
	}
	state.Equity = equity
	if equity > state.PeakEquity {
		state.PeakEquity = equity
	}
	return state
}
