package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"storefront/internal/order"
)

// CreateOrder inserts the addresses, the order, its items and the initial
// payment row in a single transaction. Ids must already be assigned.
func (s *Store) CreateOrder(ctx context.Context, o *order.Order, p *order.Payment) error {
	return s.inTx(ctx, func(t tx) error {
		for _, addr := range []*order.Address{o.ShippingAddress, o.BillingAddress} {
			if addr == nil || addr.ID == "" {
				continue
			}
			if _, err := t.exec(ctx, `
				INSERT INTO addresses (id, name, email, phone, country, postal_code, city, street, created_at)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
				ON CONFLICT (id) DO NOTHING
			`, addr.ID, addr.Name, nilIfEmpty(addr.Email), nilIfEmpty(addr.Phone), addr.Country,
				nilIfEmpty(addr.PostalCode), nilIfEmpty(addr.City), nilIfEmpty(addr.Street), o.CreatedAt,
			); err != nil {
				return fmt.Errorf("insert address: %w", err)
			}
		}

		if _, err := t.exec(ctx, `
			INSERT INTO orders (id, customer_email, status, payment_status, net_total, vat_total, gross_total,
				currency, shipping_method, pickup_point_id, shipping_address_id, billing_address_id, coupon_code,
				created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, o.ID, o.CustomerEmail, o.Status, o.PaymentStatus, o.NetTotal, o.VATTotal, o.GrossTotal,
			o.Currency, nilIfEmpty(o.ShippingMethod), nilIfEmpty(o.PickupPointID),
			nilIfEmpty(o.ShippingAddressID), nilIfEmpty(o.BillingAddressID), nilIfEmpty(o.CouponCode),
			o.CreatedAt, o.UpdatedAt,
		); err != nil {
			return fmt.Errorf("insert order: %w", err)
		}

		for _, it := range o.Items {
			if _, err := t.exec(ctx, `
				INSERT INTO order_items (id, order_id, variant_id, name, quantity, unit_price)
				VALUES (?, ?, ?, ?, ?, ?)
			`, it.ID, o.ID, nilIfEmpty(it.VariantID), it.Name, it.Quantity, it.UnitPrice); err != nil {
				return fmt.Errorf("insert order item: %w", err)
			}
		}

		if p != nil {
			if _, err := t.exec(ctx, `
				INSERT INTO payments (id, order_id, provider, provider_reference, amount, currency, status, raw_payload, created_at, updated_at)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			`, p.ID, o.ID, p.Provider, p.ProviderReference, p.Amount, p.Currency, p.Status,
				nilIfEmptyJSON(p.RawPayload), p.CreatedAt, p.UpdatedAt,
			); err != nil {
				return fmt.Errorf("insert payment: %w", err)
			}
		}
		return nil
	})
}

// GetOrder loads an order with its items (including variant weights) and
// addresses. Returns order.ErrOrderNotFound when absent.
func (s *Store) GetOrder(ctx context.Context, id string) (*order.Order, error) {
	var (
		o                                   order.Order
		shippingMethod, pickupPoint, coupon sql.NullString
		shippingAddrID, billingAddrID       sql.NullString
	)
	err := s.queryRow(ctx, `
		SELECT id, customer_email, status, payment_status, net_total, vat_total, gross_total, currency,
			shipping_method, pickup_point_id, shipping_address_id, billing_address_id, coupon_code,
			created_at, updated_at
		FROM orders WHERE id = ?
	`, id).Scan(
		&o.ID, &o.CustomerEmail, &o.Status, &o.PaymentStatus, &o.NetTotal, &o.VATTotal, &o.GrossTotal, &o.Currency,
		&shippingMethod, &pickupPoint, &shippingAddrID, &billingAddrID, &coupon,
		&o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, order.ErrOrderNotFound
		}
		return nil, fmt.Errorf("get order: %w", err)
	}
	o.ShippingMethod = shippingMethod.String
	o.PickupPointID = pickupPoint.String
	o.ShippingAddressID = shippingAddrID.String
	o.BillingAddressID = billingAddrID.String
	o.CouponCode = coupon.String

	items, err := s.orderItems(ctx, o.ID)
	if err != nil {
		return nil, err
	}
	o.Items = items

	if o.ShippingAddressID != "" {
		if o.ShippingAddress, err = s.address(ctx, o.ShippingAddressID); err != nil {
			return nil, err
		}
	}
	if o.BillingAddressID != "" {
		if o.BillingAddress, err = s.address(ctx, o.BillingAddressID); err != nil {
			return nil, err
		}
	}
	return &o, nil
}

func (s *Store) orderItems(ctx context.Context, orderID string) ([]order.Item, error) {
	rows, err := s.query(ctx, `
		SELECT i.id, i.order_id, i.variant_id, i.name, i.quantity, i.unit_price, v.weight_grams
		FROM order_items i
		LEFT JOIN product_variants v ON v.id = i.variant_id
		WHERE i.order_id = ?
		ORDER BY i.id
	`, orderID)
	if err != nil {
		return nil, fmt.Errorf("list order items: %w", err)
	}
	defer rows.Close()

	items := make([]order.Item, 0)
	for rows.Next() {
		var (
			it        order.Item
			variantID sql.NullString
			weight    sql.NullInt64
		)
		if err := rows.Scan(&it.ID, &it.OrderID, &variantID, &it.Name, &it.Quantity, &it.UnitPrice, &weight); err != nil {
			return nil, fmt.Errorf("scan order item: %w", err)
		}
		it.VariantID = variantID.String
		it.WeightGrams = int(weight.Int64)
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list order items: %w", err)
	}
	return items, nil
}

func (s *Store) address(ctx context.Context, id string) (*order.Address, error) {
	var (
		a                                      order.Address
		email, phone, postalCode, city, street sql.NullString
	)
	err := s.queryRow(ctx, `
		SELECT id, name, email, phone, country, postal_code, city, street
		FROM addresses WHERE id = ?
	`, id).Scan(&a.ID, &a.Name, &email, &phone, &a.Country, &postalCode, &city, &street)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get address: %w", err)
	}
	a.Email = email.String
	a.Phone = phone.String
	a.PostalCode = postalCode.String
	a.City = city.String
	a.Street = street.String
	return &a, nil
}

// UpsertVariant creates or replaces a product variant's stock and weight.
func (s *Store) UpsertVariant(ctx context.Context, v order.Variant) error {
	var weight any
	if v.WeightGrams > 0 {
		weight = v.WeightGrams
	}
	_, err := s.exec(ctx, `
		INSERT INTO product_variants (id, sku, weight_grams, quantity_available, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			sku = excluded.sku,
			weight_grams = excluded.weight_grams,
			quantity_available = excluded.quantity_available,
			updated_at = excluded.updated_at
	`, v.ID, nilIfEmpty(v.SKU), weight, v.QuantityAvailable, nowUTC())
	if err != nil {
		return fmt.Errorf("upsert variant: %w", err)
	}
	return nil
}

// Variant returns a product variant. Returns order.ErrVariantNotFound when absent.
func (s *Store) Variant(ctx context.Context, id string) (order.Variant, error) {
	var (
		v      order.Variant
		sku    sql.NullString
		weight sql.NullInt64
	)
	err := s.queryRow(ctx, `
		SELECT id, sku, weight_grams, quantity_available FROM product_variants WHERE id = ?
	`, id).Scan(&v.ID, &sku, &weight, &v.QuantityAvailable)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return order.Variant{}, order.ErrVariantNotFound
		}
		return order.Variant{}, fmt.Errorf("get variant: %w", err)
	}
	v.SKU = sku.String
	v.WeightGrams = int(weight.Int64)
	return v, nil
}
