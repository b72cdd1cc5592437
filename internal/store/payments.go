package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"storefront/internal/order"
)

// FindPaymentByReference returns the canonical payment row for a provider's
// own payment id. Returns order.ErrPaymentNotFound when absent.
func (s *Store) FindPaymentByReference(ctx context.Context, provider, reference string) (*order.Payment, error) {
	var (
		p   order.Payment
		raw sql.NullString
	)
	err := s.queryRow(ctx, `
		SELECT id, order_id, provider, provider_reference, amount, currency, status, raw_payload, created_at, updated_at
		FROM payments WHERE provider = ? AND provider_reference = ?
	`, provider, reference).Scan(
		&p.ID, &p.OrderID, &p.Provider, &p.ProviderReference, &p.Amount, &p.Currency, &p.Status,
		&raw, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, order.ErrPaymentNotFound
		}
		return nil, fmt.Errorf("find payment: %w", err)
	}
	if raw.Valid {
		p.RawPayload = []byte(raw.String)
	}
	return &p, nil
}

// ApplyPaymentOutcome moves a payment, its order and the order's inventory
// to the requested outcome in one transaction, then marks the webhook event
// processed when out.EventID is set.
//
// Every status write is forward-only. Inventory is decremented at most once
// per order line: the inventory_ledger row keyed by order_item_id is the
// claim, and the decrement only runs when that row is newly inserted.
func (s *Store) ApplyPaymentOutcome(ctx context.Context, out order.Outcome) (order.Applied, error) {
	var applied order.Applied
	at := out.At
	if at.IsZero() {
		at = nowUTC()
	}

	err := s.inTx(ctx, func(t tx) error {
		applied = order.Applied{}

		var chargeStatus string
		err := t.queryRow(ctx, `SELECT order_id, status FROM payments WHERE id = ?`+t.d.forUpdate, out.PaymentID).
			Scan(&applied.OrderID, &chargeStatus)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return order.ErrPaymentNotFound
			}
			return fmt.Errorf("lock payment: %w", err)
		}

		if out.ChargeStatus != "" && order.CanAdvanceCharge(chargeStatus, out.ChargeStatus) {
			if _, err := t.exec(ctx, `
				UPDATE payments SET status = ?, raw_payload = COALESCE(?, raw_payload), updated_at = ? WHERE id = ?
			`, out.ChargeStatus, nilIfEmptyJSON(out.ProviderPayload), at, out.PaymentID); err != nil {
				return fmt.Errorf("update payment: %w", err)
			}
			applied.Captured = out.ChargeStatus == order.ChargeCaptured
			chargeStatus = out.ChargeStatus
		}
		applied.ChargeStatus = chargeStatus

		var orderStatus, paymentStatus string
		err = t.queryRow(ctx, `SELECT status, payment_status FROM orders WHERE id = ?`+t.d.forUpdate, applied.OrderID).
			Scan(&orderStatus, &paymentStatus)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return order.ErrOrderNotFound
			}
			return fmt.Errorf("lock order: %w", err)
		}

		changed := false
		if out.OrderStatus != "" && order.CanTransition(orderStatus, out.OrderStatus) {
			orderStatus = out.OrderStatus
			changed = true
		}
		if out.PaymentStatus != "" && order.CanAdvancePaymentStatus(paymentStatus, out.PaymentStatus) {
			paymentStatus = out.PaymentStatus
			changed = true
		}
		if changed {
			if _, err := t.exec(ctx, `
				UPDATE orders SET status = ?, payment_status = ?, updated_at = ? WHERE id = ?
			`, orderStatus, paymentStatus, at, applied.OrderID); err != nil {
				return fmt.Errorf("update order: %w", err)
			}
			applied.Changes = append(applied.Changes, order.StatusChange{
				OrderID:       applied.OrderID,
				Status:        orderStatus,
				PaymentStatus: paymentStatus,
				Reason:        out.Reason,
				ChangedAt:     at,
			})
		}
		applied.OrderStatus = orderStatus
		applied.PaymentStatus = paymentStatus

		if chargeStatus == order.ChargeCaptured {
			if err := decrementInventory(ctx, t, applied.OrderID, at, &applied); err != nil {
				return err
			}
		}

		if out.EventID != "" {
			if _, err := t.exec(ctx, `
				UPDATE webhook_events SET processed = ?, processed_at = ?, error_message = NULL WHERE event_id = ?
			`, true, at, out.EventID); err != nil {
				return fmt.Errorf("mark event processed: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return order.Applied{}, err
	}
	return applied, nil
}

type ledgerLine struct {
	itemID    string
	variantID string
	quantity  int
}

func decrementInventory(ctx context.Context, t tx, orderID string, at time.Time, applied *order.Applied) error {
	rows, err := t.query(ctx, `
		SELECT id, variant_id, quantity FROM order_items
		WHERE order_id = ? AND variant_id IS NOT NULL
		ORDER BY id
	`, orderID)
	if err != nil {
		return fmt.Errorf("list order items: %w", err)
	}
	var lines []ledgerLine
	for rows.Next() {
		var l ledgerLine
		if err := rows.Scan(&l.itemID, &l.variantID, &l.quantity); err != nil {
			rows.Close()
			return fmt.Errorf("scan order item: %w", err)
		}
		lines = append(lines, l)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return fmt.Errorf("list order items: %w", err)
	}
	rows.Close()

	for _, l := range lines {
		res, err := t.exec(ctx, `
			INSERT INTO inventory_ledger (order_item_id, variant_id, quantity, created_at)
			VALUES (?, ?, ?, ?)
			ON CONFLICT (order_item_id) DO NOTHING
		`, l.itemID, l.variantID, l.quantity, at)
		if err != nil {
			return fmt.Errorf("claim inventory line %s: %w", l.itemID, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("claim inventory line %s: %w", l.itemID, err)
		}
		if n == 0 {
			continue
		}

		var available int
		err = t.queryRow(ctx, `SELECT quantity_available FROM product_variants WHERE id = ?`+t.d.forUpdate, l.variantID).
			Scan(&available)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("decrement %s: %w", l.variantID, order.ErrVariantNotFound)
			}
			return fmt.Errorf("decrement %s: %w", l.variantID, err)
		}
		remaining := available - l.quantity
		if remaining < 0 {
			remaining = 0
			applied.Oversold = append(applied.Oversold, l.variantID)
		}
		if _, err := t.exec(ctx, `
			UPDATE product_variants SET quantity_available = ?, updated_at = ? WHERE id = ?
		`, remaining, at, l.variantID); err != nil {
			return fmt.Errorf("decrement %s: %w", l.variantID, err)
		}
		applied.Decremented++
	}
	return nil
}
