package store

import (
	"context"
	"database/sql"
	"fmt"

	"storefront/internal/order"
)

// Record appends a status change to order_status_history.
func (s *Store) Record(ctx context.Context, c order.StatusChange) error {
	if c.ChangedAt.IsZero() {
		c.ChangedAt = nowUTC()
	}
	if _, err := s.exec(ctx, `
		INSERT INTO order_status_history (order_id, changed_at, status, payment_status, reason)
		VALUES (?, ?, ?, ?, ?)
	`, c.OrderID, c.ChangedAt, c.Status, c.PaymentStatus, nilIfEmpty(c.Reason)); err != nil {
		return fmt.Errorf("insert status history: %w", err)
	}
	return nil
}

// List returns the status history for an order, most recent first.
func (s *Store) List(ctx context.Context, orderID string) ([]order.StatusChange, error) {
	rows, err := s.query(ctx, `
		SELECT order_id, changed_at, status, payment_status, reason
		FROM order_status_history
		WHERE order_id = ?
		ORDER BY changed_at DESC
	`, orderID)
	if err != nil {
		return nil, fmt.Errorf("get order history: %w", err)
	}
	defer rows.Close()

	history := make([]order.StatusChange, 0)
	for rows.Next() {
		var (
			c      order.StatusChange
			reason sql.NullString
		)
		if err := rows.Scan(&c.OrderID, &c.ChangedAt, &c.Status, &c.PaymentStatus, &reason); err != nil {
			return nil, fmt.Errorf("get order history: %w", err)
		}
		c.Reason = reason.String
		history = append(history, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("get order history: %w", err)
	}
	return history, nil
}
