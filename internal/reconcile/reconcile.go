// Package reconcile applies payment gateway notifications to the order
// store. A notification only names a payment; the gateway is queried for
// the authoritative state before anything is written.
package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/text/language"

	"storefront/internal/history"
	"storefront/internal/lock"
	"storefront/internal/logging"
	"storefront/internal/notify"
	"storefront/internal/order"
	"storefront/internal/payment"
)

const EventTypePaymentStatusChanged = "payment_status_changed"

var ErrMissingPaymentID = errors.New("PaymentId is required")

// ProviderError wraps a failed gateway status query.
type ProviderError struct {
	Provider string
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("query %s payment state: %v", e.Provider, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// Store is the slice of the order store the reconciler needs.
type Store interface {
	ClaimWebhookEvent(ctx context.Context, ev order.WebhookEvent) (order.WebhookEvent, bool, error)
	GetWebhookEvent(ctx context.Context, eventID string) (order.WebhookEvent, error)
	RecordWebhookError(ctx context.Context, eventID, message string) error
	ListPendingWebhookEvents(ctx context.Context, provider string, limit int) ([]order.WebhookEvent, error)
	FindPaymentByReference(ctx context.Context, provider, reference string) (*order.Payment, error)
	ApplyPaymentOutcome(ctx context.Context, out order.Outcome) (order.Applied, error)
	GetOrder(ctx context.Context, id string) (*order.Order, error)
}

// Notification is one webhook delivery.
type Notification struct {
	PaymentID string
	Payload   json.RawMessage
}

type Result struct {
	EventID string
	// Duplicate is set when the event had already been fully processed.
	Duplicate     bool
	OrderID       string
	PaymentStatus string
	OrderStatus   string
	Oversold      []string
}

type Options struct {
	Journal  history.Journal
	Mailer   notify.Mailer
	Logger   *slog.Logger
	LockTTL  time.Duration
	Language language.Tag
}

type Reconciler struct {
	store    Store
	provider payment.Provider
	locker   lock.Locker
	journal  history.Journal
	mailer   notify.Mailer
	logger   *slog.Logger
	lockTTL  time.Duration
	lang     language.Tag
	now      func() time.Time
}

func New(store Store, provider payment.Provider, locker lock.Locker, opts Options) *Reconciler {
	r := &Reconciler{
		store:    store,
		provider: provider,
		locker:   locker,
		journal:  opts.Journal,
		mailer:   opts.Mailer,
		logger:   opts.Logger,
		lockTTL:  opts.LockTTL,
		lang:     opts.Language,
		now:      func() time.Time { return time.Now().UTC() },
	}
	if r.mailer == nil {
		r.mailer = notify.Noop{Logger: opts.Logger}
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	if r.lockTTL <= 0 {
		r.lockTTL = 30 * time.Second
	}
	if r.lang == language.Und {
		r.lang = language.Hungarian
	}
	return r
}

// EventID derives the ledger key for a provider payment. Every redelivery
// of the same payment maps to the same id.
func EventID(provider, paymentID string) string {
	return provider + "-" + paymentID
}

// Reconcile processes one notification. An error leaves the webhook event
// unprocessed so a redelivery or Replay can finish the work.
func (r *Reconciler) Reconcile(ctx context.Context, n Notification) (Result, error) {
	paymentID := strings.TrimSpace(n.PaymentID)
	if paymentID == "" {
		return Result{}, ErrMissingPaymentID
	}
	provider := r.provider.Name()
	eventID := EventID(provider, paymentID)
	logger := logging.FromContext(ctx, r.logger).With("event_id", eventID, "payment_id", paymentID)

	ev, created, err := r.store.ClaimWebhookEvent(ctx, order.WebhookEvent{
		EventID:   eventID,
		Provider:  provider,
		EventType: EventTypePaymentStatusChanged,
		Payload:   n.Payload,
		CreatedAt: r.now(),
	})
	if err != nil {
		return Result{}, err
	}
	if ev.Processed {
		logger.Info("webhook already processed")
		return Result{EventID: eventID, Duplicate: true}, nil
	}
	if !created {
		logger.Info("retrying unprocessed webhook event", "last_error", ev.ErrorMessage)
	}

	unlock, err := r.locker.Acquire(ctx, "webhook_lock:"+eventID, r.lockTTL)
	if err != nil {
		return Result{}, fmt.Errorf("lock webhook event: %w", err)
	}
	defer func() {
		if err := unlock(context.WithoutCancel(ctx)); err != nil {
			logger.Warn("failed to release webhook lock", "error", err)
		}
	}()

	// A concurrent delivery may have finished while we waited for the lock.
	ev, err = r.store.GetWebhookEvent(ctx, eventID)
	if err != nil {
		return Result{}, err
	}
	if ev.Processed {
		logger.Info("webhook processed by a concurrent delivery")
		return Result{EventID: eventID, Duplicate: true}, nil
	}

	res, err := r.apply(ctx, logger, eventID, paymentID)
	if err != nil {
		if recErr := r.store.RecordWebhookError(context.WithoutCancel(ctx), eventID, err.Error()); recErr != nil {
			logger.Error("failed to record webhook error", "error", recErr)
		}
		return Result{}, err
	}
	return res, nil
}

func (r *Reconciler) apply(ctx context.Context, logger *slog.Logger, eventID, paymentID string) (Result, error) {
	provider := r.provider.Name()

	state, err := r.provider.GetPaymentState(ctx, paymentID)
	if err != nil {
		return Result{}, &ProviderError{Provider: provider, Err: err}
	}

	p, err := r.store.FindPaymentByReference(ctx, provider, paymentID)
	if err != nil {
		return Result{}, err
	}
	logger = logger.With("order_id", p.OrderID)

	m := MapStatus(state.Status)
	out := order.Outcome{
		PaymentID:       p.ID,
		ChargeStatus:    m.ChargeStatus,
		OrderStatus:     m.OrderStatus,
		PaymentStatus:   m.PaymentStatus,
		ProviderPayload: state.Raw,
		Reason:          provider + " status " + state.Status,
		At:              r.now(),
	}
	// The event id is per payment, not per status, so an intermediate
	// status must not close the event or the final callback would be
	// acknowledged as a duplicate.
	if m.Final {
		out.EventID = eventID
	}

	applied, err := r.store.ApplyPaymentOutcome(ctx, out)
	if err != nil {
		return Result{}, err
	}

	logger.Info("payment reconciled",
		"provider_status", state.Status,
		"payment_status", applied.ChargeStatus,
		"order_status", applied.OrderStatus,
		"decremented_lines", applied.Decremented,
	)
	if len(applied.Oversold) > 0 {
		logger.Warn("stock clamped at zero", "variants", applied.Oversold)
	}
	closed := applied.Captured && order.IsTerminal(applied.OrderStatus)
	if closed {
		logger.Warn("payment captured on a closed order, refund required", "order_status", applied.OrderStatus)
	}

	if r.journal != nil {
		for _, c := range applied.Changes {
			if err := r.journal.Record(ctx, c); err != nil {
				logger.Error("failed to record status history", "error", err)
			}
		}
	}
	if applied.Captured && !closed {
		if err := notify.SendOrderConfirmation(ctx, r.store, r.mailer, r.lang, applied.OrderID); err != nil {
			logger.Error("failed to send confirmation email", "error", err)
		} else {
			logger.Info("confirmation email sent")
		}
	}

	return Result{
		EventID:       eventID,
		OrderID:       applied.OrderID,
		PaymentStatus: applied.ChargeStatus,
		OrderStatus:   applied.OrderStatus,
		Oversold:      applied.Oversold,
	}, nil
}

// ReplayReport summarizes a Replay run.
type ReplayReport struct {
	Attempted int `json:"attempted"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
}

// Replay re-runs unprocessed events of this provider, oldest first.
func (r *Reconciler) Replay(ctx context.Context, limit int) (ReplayReport, error) {
	provider := r.provider.Name()
	events, err := r.store.ListPendingWebhookEvents(ctx, provider, limit)
	if err != nil {
		return ReplayReport{}, err
	}

	var report ReplayReport
	for _, ev := range events {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		report.Attempted++
		paymentID := strings.TrimPrefix(ev.EventID, provider+"-")
		if _, err := r.Reconcile(ctx, Notification{PaymentID: paymentID, Payload: ev.Payload}); err != nil {
			report.Failed++
			r.logger.Warn("replay failed", "event_id", ev.EventID, "error", err)
			continue
		}
		report.Succeeded++
	}
	return report, nil
}
