package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"storefront/internal/order"
)

// ClaimWebhookEvent inserts the event unless its event_id already exists and
// returns the stored row. created is true only for the delivery whose insert
// won; the primary key on event_id makes concurrent claims converge on one row.
func (s *Store) ClaimWebhookEvent(ctx context.Context, ev order.WebhookEvent) (stored order.WebhookEvent, created bool, err error) {
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = nowUTC()
	}
	res, err := s.exec(ctx, `
		INSERT INTO webhook_events (event_id, provider, event_type, payload, processed, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (event_id) DO NOTHING
	`, ev.EventID, ev.Provider, ev.EventType, nilIfEmptyJSON(ev.Payload), false, ev.CreatedAt)
	if err != nil {
		return order.WebhookEvent{}, false, fmt.Errorf("claim webhook event: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return order.WebhookEvent{}, false, fmt.Errorf("claim webhook event: %w", err)
	}

	stored, err = s.GetWebhookEvent(ctx, ev.EventID)
	if err != nil {
		return order.WebhookEvent{}, false, err
	}
	return stored, n > 0, nil
}

// GetWebhookEvent returns order.ErrEventNotFound when absent.
func (s *Store) GetWebhookEvent(ctx context.Context, eventID string) (order.WebhookEvent, error) {
	row := s.queryRow(ctx, `
		SELECT event_id, provider, event_type, payload, processed, processed_at, error_message, created_at
		FROM webhook_events WHERE event_id = ?
	`, eventID)
	ev, err := scanWebhookEvent(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return order.WebhookEvent{}, order.ErrEventNotFound
		}
		return order.WebhookEvent{}, fmt.Errorf("get webhook event: %w", err)
	}
	return ev, nil
}

// RecordWebhookError stores the latest failure reason without touching the
// processed flag.
func (s *Store) RecordWebhookError(ctx context.Context, eventID, message string) error {
	if _, err := s.exec(ctx, `
		UPDATE webhook_events SET error_message = ? WHERE event_id = ? AND processed = ?
	`, message, eventID, false); err != nil {
		return fmt.Errorf("record webhook error: %w", err)
	}
	return nil
}

// ListPendingWebhookEvents returns unprocessed events for a provider,
// oldest first.
func (s *Store) ListPendingWebhookEvents(ctx context.Context, provider string, limit int) ([]order.WebhookEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.query(ctx, `
		SELECT event_id, provider, event_type, payload, processed, processed_at, error_message, created_at
		FROM webhook_events
		WHERE provider = ? AND processed = ?
		ORDER BY created_at ASC, event_id ASC
		LIMIT ?
	`, provider, false, limit)
	if err != nil {
		return nil, fmt.Errorf("list pending webhook events: %w", err)
	}
	defer rows.Close()

	var events []order.WebhookEvent
	for rows.Next() {
		ev, err := scanWebhookEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan webhook event: %w", err)
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list pending webhook events: %w", err)
	}
	return events, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanWebhookEvent(row rowScanner) (order.WebhookEvent, error) {
	var (
		ev          order.WebhookEvent
		payload     sql.NullString
		processedAt sql.NullTime
		errMsg      sql.NullString
	)
	if err := row.Scan(&ev.EventID, &ev.Provider, &ev.EventType, &payload, &ev.Processed, &processedAt, &errMsg, &ev.CreatedAt); err != nil {
		return order.WebhookEvent{}, err
	}
	if payload.Valid {
		ev.Payload = []byte(payload.String)
	}
	if processedAt.Valid {
		t := processedAt.Time
		ev.ProcessedAt = &t
	}
	ev.ErrorMessage = errMsg.String
	return ev, nil
}
