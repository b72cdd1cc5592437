// Package checkout turns a cart into an order and its first payment. The
// payment is either settled on the spot (mock mode) or opened at the
// gateway and left for the webhook reconciler to settle (live mode).
package checkout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/text/language"

	"storefront/internal/history"
	"storefront/internal/logging"
	"storefront/internal/notify"
	"storefront/internal/order"
	"storefront/internal/payment"
)

const (
	ModeMock = "mock"
	ModeLive = "live"

	ProviderMock = "mock"
)

var (
	ErrEmptyCart        = errors.New("cart is empty")
	ErrInvalidEmail     = errors.New("customer email is invalid")
	ErrInvalidItem      = errors.New("invalid cart item")
	ErrOutOfStock       = errors.New("not enough stock")
	ErrUnknownMode      = errors.New("unknown payment mode")
	ErrMissingRecipient = errors.New("shipping address name and country are required")
)

type Store interface {
	Variant(ctx context.Context, id string) (order.Variant, error)
	CreateOrder(ctx context.Context, o *order.Order, p *order.Payment) error
	ApplyPaymentOutcome(ctx context.Context, out order.Outcome) (order.Applied, error)
	GetOrder(ctx context.Context, id string) (*order.Order, error)
}

type Item struct {
	VariantID string          `json:"variantId"`
	Name      string          `json:"name"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unitPrice"`
}

type Request struct {
	CustomerEmail   string         `json:"customerEmail"`
	ShippingAddress order.Address  `json:"shippingAddress"`
	BillingAddress  *order.Address `json:"billingAddress,omitempty"`
	ShippingMethod  string         `json:"shippingMethod"`
	PickupPointID   string         `json:"pickupPointId,omitempty"`
	CouponCode      string         `json:"couponCode,omitempty"`
	Items           []Item         `json:"items"`
}

type Totals struct {
	Net         decimal.Decimal `json:"net"`
	VAT         decimal.Decimal `json:"vat"`
	Gross       decimal.Decimal `json:"gross"`
	ShippingFee decimal.Decimal `json:"shippingFee"`
	Currency    string          `json:"currency"`
}

type Result struct {
	OrderID       string `json:"orderId"`
	PaymentID     string `json:"paymentId"`
	Status        string `json:"status"`
	PaymentStatus string `json:"paymentStatus"`
	Totals        Totals `json:"totals"`
	GatewayURL    string `json:"gatewayUrl,omitempty"`
}

type Config struct {
	Mode         string
	Currency     string
	VATRate      decimal.Decimal
	ShippingFees map[string]decimal.Decimal
	RedirectURL  string
	CallbackURL  string
}

type Options struct {
	Journal  history.Journal
	Mailer   notify.Mailer
	Logger   *slog.Logger
	Language language.Tag
}

type Service struct {
	cfg     Config
	store   Store
	starter payment.Starter
	journal history.Journal
	mailer  notify.Mailer
	logger  *slog.Logger
	lang    language.Tag
	now     func() time.Time
	newID   func() string
}

// New builds a checkout Service. starter is required only in live mode.
func New(cfg Config, store Store, starter payment.Starter, opts Options) (*Service, error) {
	switch cfg.Mode {
	case ModeMock:
	case ModeLive:
		if starter == nil {
			return nil, errors.New("checkout: live mode needs a payment starter")
		}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMode, cfg.Mode)
	}
	if cfg.Currency == "" {
		cfg.Currency = "HUF"
	}
	s := &Service{
		cfg:     cfg,
		store:   store,
		starter: starter,
		journal: opts.Journal,
		mailer:  opts.Mailer,
		logger:  opts.Logger,
		lang:    opts.Language,
		now:     func() time.Time { return time.Now().UTC() },
		newID:   uuid.NewString,
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.mailer == nil {
		s.mailer = notify.Noop{Logger: s.logger}
	}
	if s.lang == language.Und {
		s.lang = language.Hungarian
	}
	return s, nil
}

// SplitVAT derives net and VAT from a VAT-inclusive gross amount. Net is
// rounded to two places and VAT takes the remainder, so net+vat == gross.
func SplitVAT(gross, rate decimal.Decimal) (net, vat decimal.Decimal) {
	net = gross.Div(decimal.NewFromInt(1).Add(rate)).Round(2)
	return net, gross.Sub(net)
}

// Totals prices the cart including the shipping fee of the chosen method.
func (s *Service) Totals(req Request) Totals {
	gross := decimal.Zero
	for _, it := range req.Items {
		gross = gross.Add(it.UnitPrice.Mul(decimal.NewFromInt(int64(it.Quantity))))
	}
	fee := s.cfg.ShippingFees[strings.ToLower(req.ShippingMethod)]
	gross = gross.Add(fee)
	net, vat := SplitVAT(gross, s.cfg.VATRate)
	return Totals{Net: net, VAT: vat, Gross: gross, ShippingFee: fee, Currency: s.cfg.Currency}
}

func (s *Service) validate(ctx context.Context, req Request) error {
	if _, err := mail.ParseAddress(req.CustomerEmail); err != nil {
		return fmt.Errorf("%w: %q", ErrInvalidEmail, req.CustomerEmail)
	}
	if strings.TrimSpace(req.ShippingAddress.Name) == "" || strings.TrimSpace(req.ShippingAddress.Country) == "" {
		return ErrMissingRecipient
	}
	if len(req.Items) == 0 {
		return ErrEmptyCart
	}
	// Lines for the same variant draw on one stock figure.
	var variants []string
	requested := make(map[string]int)
	for i, it := range req.Items {
		if it.VariantID == "" || it.Quantity <= 0 || it.UnitPrice.IsNegative() {
			return fmt.Errorf("%w: line %d", ErrInvalidItem, i+1)
		}
		if _, seen := requested[it.VariantID]; !seen {
			variants = append(variants, it.VariantID)
		}
		requested[it.VariantID] += it.Quantity
	}
	for _, id := range variants {
		v, err := s.store.Variant(ctx, id)
		if err != nil {
			if errors.Is(err, order.ErrVariantNotFound) {
				return fmt.Errorf("%w: %w", ErrInvalidItem, err)
			}
			return err
		}
		if v.QuantityAvailable < requested[id] {
			return fmt.Errorf("%w: %s has %d, %d requested", ErrOutOfStock, id, v.QuantityAvailable, requested[id])
		}
	}
	return nil
}

// build assembles the order and its addresses. Ids are assigned here.
func (s *Service) build(req Request, totals Totals) *order.Order {
	now := s.now()
	o := &order.Order{
		ID:             s.newID(),
		CustomerEmail:  strings.TrimSpace(req.CustomerEmail),
		Status:         order.StatusPending,
		PaymentStatus:  order.PaymentStatusPending,
		NetTotal:       totals.Net,
		VATTotal:       totals.VAT,
		GrossTotal:     totals.Gross,
		Currency:       totals.Currency,
		ShippingMethod: strings.ToLower(strings.TrimSpace(req.ShippingMethod)),
		PickupPointID:  strings.TrimSpace(req.PickupPointID),
		CouponCode:     strings.TrimSpace(req.CouponCode),
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	shipping := req.ShippingAddress
	shipping.ID = s.newID()
	o.ShippingAddress = &shipping
	o.ShippingAddressID = shipping.ID
	if req.BillingAddress != nil {
		billing := *req.BillingAddress
		billing.ID = s.newID()
		o.BillingAddress = &billing
		o.BillingAddressID = billing.ID
	} else {
		o.BillingAddress = &shipping
		o.BillingAddressID = shipping.ID
	}

	for _, it := range req.Items {
		o.Items = append(o.Items, order.Item{
			ID:        s.newID(),
			OrderID:   o.ID,
			VariantID: it.VariantID,
			Name:      it.Name,
			Quantity:  it.Quantity,
			UnitPrice: it.UnitPrice,
		})
	}
	return o
}

// Checkout validates the cart, stores the order and collects payment in
// the configured mode.
func (s *Service) Checkout(ctx context.Context, req Request) (Result, error) {
	if err := s.validate(ctx, req); err != nil {
		return Result{}, err
	}
	totals := s.Totals(req)
	o := s.build(req, totals)
	logger := logging.FromContext(ctx, s.logger).With("order_id", o.ID, "payment_mode", s.cfg.Mode)

	if s.cfg.Mode == ModeLive {
		return s.checkoutLive(ctx, logger, o, totals)
	}
	return s.checkoutMock(ctx, logger, o, totals)
}

func (s *Service) checkoutMock(ctx context.Context, logger *slog.Logger, o *order.Order, totals Totals) (Result, error) {
	p := &order.Payment{
		ID:                s.newID(),
		Provider:          ProviderMock,
		ProviderReference: "MOCK-" + s.newID(),
		Amount:            totals.Gross,
		Currency:          totals.Currency,
		Status:            order.ChargePending,
		CreatedAt:         o.CreatedAt,
		UpdatedAt:         o.CreatedAt,
	}
	if err := s.store.CreateOrder(ctx, o, p); err != nil {
		return Result{}, err
	}

	applied, err := s.store.ApplyPaymentOutcome(ctx, order.Outcome{
		PaymentID:     p.ID,
		ChargeStatus:  order.ChargeCaptured,
		OrderStatus:   order.StatusPaid,
		PaymentStatus: order.PaymentStatusPaid,
		Reason:        "mock payment captured at checkout",
		At:            s.now(),
	})
	if err != nil {
		return Result{}, err
	}
	logger.Info("order placed", "payment_reference", p.ProviderReference, "gross", totals.Gross.String())
	if len(applied.Oversold) > 0 {
		logger.Warn("stock clamped at zero", "variants", applied.Oversold)
	}
	s.record(ctx, logger, applied.Changes)
	if applied.Captured {
		if err := notify.SendOrderConfirmation(ctx, s.store, s.mailer, s.lang, o.ID); err != nil {
			logger.Error("failed to send confirmation email", "error", err)
		}
	}

	return Result{
		OrderID:       o.ID,
		PaymentID:     p.ProviderReference,
		Status:        applied.OrderStatus,
		PaymentStatus: applied.PaymentStatus,
		Totals:        totals,
	}, nil
}

func (s *Service) checkoutLive(ctx context.Context, logger *slog.Logger, o *order.Order, totals Totals) (Result, error) {
	items := make([]payment.LineItem, 0, len(o.Items)+1)
	for _, it := range o.Items {
		items = append(items, payment.LineItem{Name: it.Name, SKU: it.VariantID, Quantity: it.Quantity, UnitPrice: it.UnitPrice})
	}
	if totals.ShippingFee.IsPositive() {
		items = append(items, payment.LineItem{Name: "Szállítás", SKU: "shipping-" + o.ShippingMethod, Quantity: 1, UnitPrice: totals.ShippingFee})
	}

	started, err := s.starter.StartPayment(ctx, payment.StartRequest{
		OrderID:     o.ID,
		PayerEmail:  o.CustomerEmail,
		Currency:    totals.Currency,
		Total:       totals.Gross,
		Items:       items,
		RedirectURL: s.cfg.RedirectURL,
		CallbackURL: s.cfg.CallbackURL,
	})
	if err != nil {
		return Result{}, err
	}

	p := &order.Payment{
		ID:                s.newID(),
		Provider:          payment.ProviderBarion,
		ProviderReference: started.PaymentID,
		Amount:            totals.Gross,
		Currency:          totals.Currency,
		Status:            order.ChargePending,
		RawPayload:        started.Raw,
		CreatedAt:         o.CreatedAt,
		UpdatedAt:         o.CreatedAt,
	}
	if err := s.store.CreateOrder(ctx, o, p); err != nil {
		logger.Error("gateway payment opened but order not stored", "payment_id", started.PaymentID, "error", err)
		return Result{}, err
	}
	logger.Info("order placed", "payment_id", started.PaymentID, "gross", totals.Gross.String())
	s.record(ctx, logger, []order.StatusChange{{
		OrderID:       o.ID,
		Status:        o.Status,
		PaymentStatus: o.PaymentStatus,
		Reason:        "order created, awaiting " + payment.ProviderBarion + " payment",
		ChangedAt:     o.CreatedAt,
	}})

	return Result{
		OrderID:       o.ID,
		PaymentID:     started.PaymentID,
		Status:        o.Status,
		PaymentStatus: o.PaymentStatus,
		Totals:        totals,
		GatewayURL:    started.GatewayURL,
	}, nil
}

func (s *Service) record(ctx context.Context, logger *slog.Logger, changes []order.StatusChange) {
	if s.journal == nil {
		return
	}
	for _, c := range changes {
		if err := s.journal.Record(ctx, c); err != nil {
			logger.Error("failed to record status history", "error", err)
		}
	}
}
