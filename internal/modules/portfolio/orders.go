package portfolio

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/aristath/trapline/internal/database"
	"github.com/aristath/trapline/internal/domain"
)

var (
	// ErrOrderNotFound marks an unknown order ID.
	ErrOrderNotFound = errors.New("order not found")
	// ErrOrderNotPending marks a lifecycle action on an already-resolved
	// order.
	ErrOrderNotPending = errors.New("order is not pending")
)

const orderColumns = `id, run_id, asset_id, entry, stop, target, size,
risk_fraction, concentration_group, status, valid_until, created_at`

// PendingOrders returns the live reservations, oldest first.
func (s *Store) PendingOrders() ([]domain.PendingOrder, error) {
	return s.queryOrders(
		"SELECT "+orderColumns+" FROM pending_orders WHERE status = ? ORDER BY created_at, id",
		string(domain.OrderPending),
	)
}

// Orders returns the most recent orders in any status, newest first.
func (s *Store) Orders(limit int) ([]domain.PendingOrder, error) {
	return s.queryOrders(
		"SELECT "+orderColumns+" FROM pending_orders ORDER BY created_at DESC, id LIMIT ?",
		limit,
	)
}

// Order returns one order by ID, or ErrOrderNotFound.
func (s *Store) Order(id string) (domain.PendingOrder, error) {
	orders, err := s.queryOrders(
		"SELECT "+orderColumns+" FROM pending_orders WHERE id = ?", id,
	)
	if err != nil {
		return domain.PendingOrder{}, err
	}
	if len(orders) == 0 {
		return domain.PendingOrder{}, fmt.Errorf("%w: %s", ErrOrderNotFound, id)
	}
	return orders[0], nil
}

// ConfirmOrder records that the trap order filled at the broker: the
// reservation becomes an open position and the position cost leaves cash.
// A non-positive fillPrice confirms at the planned entry.
func (s *Store) ConfirmOrder(id string, fillPrice float64) (*domain.Position, error) {
	var position domain.Position

	err := database.WithTransaction(s.db, func(tx *sql.Tx) error {
		order, err := orderForUpdate(tx, id)
		if err != nil {
			return err
		}

		fill := fillPrice
		if fill <= 0 {
			fill = order.Entry
		}
		position = domain.Position{
			AssetID:      order.AssetID,
			Size:         order.Size,
			EntryPrice:   fill,
			Group:        order.Group,
			RiskFraction: order.RiskFraction,
			OpenedAt:     time.Now().UTC(),
		}

		if _, err := tx.Exec(`
			INSERT INTO positions (asset_id, size, entry_price, concentration_group, risk_fraction, opened_at)
			VALUES (?, ?, ?, ?, ?, ?)`,
			position.AssetID,
			position.Size,
			position.EntryPrice,
			position.Group,
			position.RiskFraction,
			position.OpenedAt.Format(tsLayout),
		); err != nil {
			return fmt.Errorf("failed to open position for %s: %w", order.AssetID, err)
		}

		// Cash turns into holdings at the fill; equity is unchanged
		// until the next mark to market.
		if _, err := tx.Exec(
			"UPDATE account SET cash = cash - ?, updated_at = ? WHERE id = 1",
			position.Size*fill, time.Now().UTC().Format(tsLayout),
		); err != nil {
			return fmt.Errorf("failed to debit cash: %w", err)
		}

		return setOrderStatus(tx, id, domain.OrderConfirmed)
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Str("order_id", id).
		Str("asset_id", position.AssetID).
		Float64("fill", position.EntryPrice).
		Float64("size", position.Size).
		Msg("Order confirmed")
	return &position, nil
}

// CancelOrder voids a pending order without a fill.
func (s *Store) CancelOrder(id string) error {
	err := database.WithTransaction(s.db, func(tx *sql.Tx) error {
		if _, err := orderForUpdate(tx, id); err != nil {
			return err
		}
		return setOrderStatus(tx, id, domain.OrderCancelled)
	})
	if err != nil {
		return err
	}
	s.log.Info().Str("order_id", id).Msg("Order cancelled")
	return nil
}

// ExpireDue expires every pending order whose validity window has closed.
// Returns the number of orders expired.
func (s *Store) ExpireDue(asOf time.Time) (int64, error) {
	res, err := s.db.Exec(
		"UPDATE pending_orders SET status = ? WHERE status = ? AND valid_until <= ?",
		string(domain.OrderExpired),
		string(domain.OrderPending),
		asOf.UTC().Format(tsLayout),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to expire orders: %w", err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		s.log.Info().Int64("expired", n).Msg("Expired stale orders")
	}
	return n, nil
}

func orderForUpdate(tx *sql.Tx, id string) (domain.PendingOrder, error) {
	row := tx.QueryRow(
		"SELECT "+orderColumns+" FROM pending_orders WHERE id = ?", id,
	)
	order, err := scanOrder(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.PendingOrder{}, fmt.Errorf("%w: %s", ErrOrderNotFound, id)
	}
	if err != nil {
		return domain.PendingOrder{}, fmt.Errorf("failed to read order: %w", err)
	}
	if order.Status != domain.OrderPending {
		return domain.PendingOrder{}, fmt.Errorf("%w: %s is %s", ErrOrderNotPending, id, order.Status)
	}
	return order, nil
}

func setOrderStatus(tx *sql.Tx, id string, status domain.OrderStatus) error {
	if _, err := tx.Exec(
		"UPDATE pending_orders SET status = ? WHERE id = ?", string(status), id,
	); err != nil {
		return fmt.Errorf("failed to update order status: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (domain.PendingOrder, error) {
	var o domain.PendingOrder
	var status, validUntil, createdAt string
	err := row.Scan(
		&o.ID, &o.RunID, &o.AssetID, &o.Entry, &o.Stop, &o.Target, &o.Size,
		&o.RiskFraction, &o.Group, &status, &validUntil, &createdAt,
	)
	if err != nil {
		return domain.PendingOrder{}, err
	}
	o.Status = domain.OrderStatus(status)
	if ts, perr := time.Parse(tsLayout, validUntil); perr == nil {
		o.ValidUntil = ts
	}
	if ts, perr := time.Parse(tsLayout, createdAt); perr == nil {
		o.CreatedAt = ts
	}
	return o, nil
}

func (s *Store) queryOrders(query string, args ...any) ([]domain.PendingOrder, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query orders: %w", err)
	}
	defer rows.Close()

	var orders []domain.PendingOrder
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan order: %w", err)
		}
		orders = append(orders, order)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating orders: %w", err)
	}
	return orders, nil
}
