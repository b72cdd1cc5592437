package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"storefront/internal/order"
)

// CreateShipment inserts the shipment and advances its order from paid to
// processing in one transaction. The order's resulting status change, if
// any, is returned for the history journal.
func (s *Store) CreateShipment(ctx context.Context, sh order.Shipment) (*order.StatusChange, error) {
	if sh.CreatedAt.IsZero() {
		sh.CreatedAt = nowUTC()
	}
	var change *order.StatusChange
	err := s.inTx(ctx, func(t tx) error {
		change = nil

		var status, paymentStatus string
		err := t.queryRow(ctx, `SELECT status, payment_status FROM orders WHERE id = ?`+t.d.forUpdate, sh.OrderID).
			Scan(&status, &paymentStatus)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return order.ErrOrderNotFound
			}
			return fmt.Errorf("lock order: %w", err)
		}

		if _, err := t.exec(ctx, `
			INSERT INTO shipments (id, order_id, carrier, tracking_number, status, label_url, pickup_point_id, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`, sh.ID, sh.OrderID, sh.Carrier, sh.TrackingNumber, sh.Status,
			nilIfEmpty(sh.LabelURL), nilIfEmpty(sh.PickupPointID), sh.CreatedAt,
		); err != nil {
			return fmt.Errorf("insert shipment: %w", err)
		}

		if !order.CanTransition(status, order.StatusProcessing) {
			return nil
		}
		if _, err := t.exec(ctx, `
			UPDATE orders SET status = ?, updated_at = ? WHERE id = ?
		`, order.StatusProcessing, sh.CreatedAt, sh.OrderID); err != nil {
			return fmt.Errorf("advance order: %w", err)
		}
		change = &order.StatusChange{
			OrderID:       sh.OrderID,
			Status:        order.StatusProcessing,
			PaymentStatus: paymentStatus,
			Reason:        "shipment created: " + sh.Carrier + " " + sh.TrackingNumber,
			ChangedAt:     sh.CreatedAt,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return change, nil
}

// FindShipmentByTracking returns order.ErrShipmentNotFound when absent.
func (s *Store) FindShipmentByTracking(ctx context.Context, trackingNumber string) (*order.Shipment, error) {
	var (
		sh                 order.Shipment
		labelURL, pickupID sql.NullString
	)
	err := s.queryRow(ctx, `
		SELECT id, order_id, carrier, tracking_number, status, label_url, pickup_point_id, created_at
		FROM shipments WHERE tracking_number = ?
	`, trackingNumber).Scan(&sh.ID, &sh.OrderID, &sh.Carrier, &sh.TrackingNumber, &sh.Status, &labelURL, &pickupID, &sh.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, order.ErrShipmentNotFound
		}
		return nil, fmt.Errorf("find shipment: %w", err)
	}
	sh.LabelURL = labelURL.String
	sh.PickupPointID = pickupID.String
	return &sh, nil
}

// CountShipments returns how many shipments exist for an order.
func (s *Store) CountShipments(ctx context.Context, orderID string) (int, error) {
	var n int
	if err := s.queryRow(ctx, `SELECT COUNT(*) FROM shipments WHERE order_id = ?`, orderID).Scan(&n); err != nil {
		return 0, fmt.Errorf("count shipments: %w", err)
	}
	return n, nil
}
