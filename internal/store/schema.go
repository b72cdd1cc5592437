package store

import (
	"context"
	"fmt"
	"strings"
)

func (d dialect) schema() []string {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS addresses (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			email TEXT,
			phone TEXT,
			country TEXT NOT NULL,
			postal_code TEXT,
			city TEXT,
			street TEXT,
			created_at {ts} NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS orders (
			id TEXT PRIMARY KEY,
			customer_email TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'pending' CHECK (status IN ('pending','paid','processing','shipped','delivered','cancelled','refunded')),
			payment_status TEXT NOT NULL DEFAULT 'pending' CHECK (payment_status IN ('pending','paid','failed')),
			net_total NUMERIC(12,2) NOT NULL,
			vat_total NUMERIC(12,2) NOT NULL,
			gross_total NUMERIC(12,2) NOT NULL,
			currency TEXT NOT NULL,
			shipping_method TEXT,
			pickup_point_id TEXT,
			shipping_address_id TEXT REFERENCES addresses(id),
			billing_address_id TEXT REFERENCES addresses(id),
			coupon_code TEXT,
			created_at {ts} NOT NULL,
			updated_at {ts} NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS product_variants (
			id TEXT PRIMARY KEY,
			sku TEXT,
			weight_grams INTEGER,
			quantity_available INTEGER NOT NULL DEFAULT 0,
			updated_at {ts} NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS order_items (
			id TEXT PRIMARY KEY,
			order_id TEXT NOT NULL REFERENCES orders(id),
			variant_id TEXT,
			name TEXT NOT NULL,
			quantity INTEGER NOT NULL CHECK (quantity > 0),
			unit_price NUMERIC(12,2) NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS payments (
			id TEXT PRIMARY KEY,
			order_id TEXT NOT NULL REFERENCES orders(id),
			provider TEXT NOT NULL,
			provider_reference TEXT NOT NULL,
			amount NUMERIC(12,2) NOT NULL,
			currency TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'pending' CHECK (status IN ('pending','captured','failed')),
			raw_payload {json},
			created_at {ts} NOT NULL,
			updated_at {ts} NOT NULL,
			UNIQUE (provider, provider_reference)
		)`,
		`CREATE TABLE IF NOT EXISTS webhook_events (
			event_id TEXT PRIMARY KEY,
			provider TEXT NOT NULL,
			event_type TEXT NOT NULL,
			payload {json},
			processed BOOLEAN NOT NULL DEFAULT FALSE,
			processed_at {ts},
			error_message TEXT,
			created_at {ts} NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS inventory_ledger (
			order_item_id TEXT PRIMARY KEY REFERENCES order_items(id),
			variant_id TEXT NOT NULL,
			quantity INTEGER NOT NULL,
			created_at {ts} NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS shipments (
			id TEXT PRIMARY KEY,
			order_id TEXT NOT NULL REFERENCES orders(id),
			carrier TEXT NOT NULL,
			tracking_number TEXT NOT NULL UNIQUE,
			status TEXT NOT NULL DEFAULT 'pending',
			label_url TEXT,
			pickup_point_id TEXT,
			created_at {ts} NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS order_status_history (
			order_id TEXT NOT NULL,
			changed_at {ts} NOT NULL,
			status TEXT NOT NULL,
			payment_status TEXT NOT NULL,
			reason TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_order_items_order ON order_items (order_id)`,
		`CREATE INDEX IF NOT EXISTS idx_payments_order ON payments (order_id)`,
		`CREATE INDEX IF NOT EXISTS idx_webhook_events_pending ON webhook_events (processed, created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_shipments_order ON shipments (order_id)`,
		`CREATE INDEX IF NOT EXISTS idx_status_history_order ON order_status_history (order_id, changed_at)`,
	}
	r := strings.NewReplacer("{ts}", d.timestamp, "{json}", d.json)
	for i, stmt := range stmts {
		stmts[i] = r.Replace(stmt)
	}
	return stmts
}

// Migrate creates every table and index if missing. Safe to run repeatedly.
func (s *Store) Migrate(ctx context.Context) error {
	for _, stmt := range s.d.schema() {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}
