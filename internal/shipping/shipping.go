// Package shipping registers parcels for paid orders and answers pickup
// point and tracking queries.
package shipping

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"storefront/internal/carrier"
	"storefront/internal/history"
	"storefront/internal/logging"
	"storefront/internal/order"
)

var (
	ErrMissingOrderID  = errors.New("orderId is required")
	ErrMissingCarrier  = errors.New("carrier is required")
	ErrMissingTracking = errors.New("tracking is required")
	ErrOrderNotPaid    = errors.New("order is not paid")
)

const DefaultCountry = "HU"

type Store interface {
	GetOrder(ctx context.Context, id string) (*order.Order, error)
	CreateShipment(ctx context.Context, sh order.Shipment) (*order.StatusChange, error)
	FindShipmentByTracking(ctx context.Context, trackingNumber string) (*order.Shipment, error)
	CountShipments(ctx context.Context, orderID string) (int, error)
}

type Request struct {
	OrderID       string `json:"orderId"`
	Carrier       string `json:"carrier"`
	PickupPointID string `json:"pickupPointId,omitempty"`
}

type Result struct {
	Shipment       order.Shipment `json:"shipment"`
	TrackingNumber string         `json:"trackingNumber"`
	LabelURL       string         `json:"labelUrl"`
	TrackingURL    string         `json:"trackingUrl"`
}

type Tracking struct {
	Shipment    order.Shipment `json:"shipment"`
	TrackingURL string         `json:"trackingUrl"`
}

type Service struct {
	store    Store
	carriers *carrier.Registry
	journal  history.Journal
	logger   *slog.Logger
	now      func() time.Time
}

// New builds a Service. journal may be nil.
func New(store Store, carriers *carrier.Registry, journal history.Journal, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:    store,
		carriers: carriers,
		journal:  journal,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// CreateShipment registers a parcel for a paid order and stores the
// resulting shipment. A carrier rejection writes nothing.
func (s *Service) CreateShipment(ctx context.Context, req Request) (Result, error) {
	orderID := strings.TrimSpace(req.OrderID)
	if orderID == "" {
		return Result{}, ErrMissingOrderID
	}
	logger := logging.FromContext(ctx, s.logger).With("order_id", orderID)

	o, err := s.store.GetOrder(ctx, orderID)
	if err != nil {
		return Result{}, err
	}
	if o.PaymentStatus != order.PaymentStatusPaid {
		return Result{}, fmt.Errorf("%w: payment status is %s", ErrOrderNotPaid, o.PaymentStatus)
	}
	// A second parcel for one order is allowed (split or replacement
	// shipments) but is usually a double click.
	existing, err := s.store.CountShipments(ctx, o.ID)
	if err != nil {
		return Result{}, err
	}
	if existing > 0 {
		logger.Warn("order already has shipments, registering another parcel", "existing_shipments", existing)
	}

	name := req.Carrier
	if strings.TrimSpace(name) == "" {
		name = o.ShippingMethod
	}
	if strings.TrimSpace(name) == "" {
		return Result{}, ErrMissingCarrier
	}
	c, err := s.carriers.Get(name)
	if err != nil {
		return Result{}, err
	}

	pickupPointID := strings.TrimSpace(req.PickupPointID)
	if pickupPointID == "" {
		pickupPointID = o.PickupPointID
	}

	parcel := carrier.Parcel{
		OrderID:       o.ID,
		Recipient:     recipient(o),
		PickupPointID: pickupPointID,
		Value:         o.GrossTotal,
		Currency:      o.Currency,
		WeightKg:      carrier.WeightKg(o.Items),
	}
	label, err := c.CreateParcel(ctx, parcel)
	if err != nil {
		return Result{}, err
	}
	logger = logger.With("carrier", c.Name(), "tracking_number", label.TrackingNumber)

	sh := order.Shipment{
		ID:             uuid.NewString(),
		OrderID:        o.ID,
		Carrier:        c.Name(),
		TrackingNumber: label.TrackingNumber,
		Status:         order.ShipmentPending,
		LabelURL:       label.LabelURL,
		PickupPointID:  pickupPointID,
		CreatedAt:      s.now(),
	}
	change, err := s.store.CreateShipment(ctx, sh)
	if err != nil {
		// The carrier already holds the parcel; the tracking number is
		// only recoverable from this log line.
		logger.Error("parcel registered but shipment not stored", "error", err)
		return Result{}, err
	}
	logger.Info("shipment created", "weight_kg", parcel.WeightKg)

	if change != nil && s.journal != nil {
		if err := s.journal.Record(ctx, *change); err != nil {
			logger.Error("failed to record status history", "error", err)
		}
	}

	return Result{
		Shipment:       sh,
		TrackingNumber: sh.TrackingNumber,
		LabelURL:       sh.LabelURL,
		TrackingURL:    c.TrackingURL(sh.TrackingNumber),
	}, nil
}

func recipient(o *order.Order) carrier.Recipient {
	addr := o.ShippingAddress
	if addr == nil {
		addr = o.BillingAddress
	}
	r := carrier.Recipient{Email: o.CustomerEmail}
	if addr != nil {
		r.Name = addr.Name
		r.Phone = addr.Phone
		r.Country = addr.Country
		r.PostalCode = addr.PostalCode
		r.City = addr.City
		r.Street = addr.Street
		if addr.Email != "" {
			r.Email = addr.Email
		}
	}
	return r
}

// PickupPoints passes the carrier's list through. Unknown carriers yield
// an empty list rather than an error.
func (s *Service) PickupPoints(ctx context.Context, carrierName, country string) ([]carrier.PickupPoint, error) {
	if strings.TrimSpace(country) == "" {
		country = DefaultCountry
	}
	c, err := s.carriers.Get(carrierName)
	if err != nil {
		if errors.Is(err, carrier.ErrUnsupportedCarrier) {
			return []carrier.PickupPoint{}, nil
		}
		return nil, err
	}
	return c.PickupPoints(ctx, strings.ToUpper(country))
}

// Track resolves a tracking number to the stored shipment.
func (s *Service) Track(ctx context.Context, trackingNumber string) (Tracking, error) {
	trackingNumber = strings.TrimSpace(trackingNumber)
	if trackingNumber == "" {
		return Tracking{}, ErrMissingTracking
	}
	sh, err := s.store.FindShipmentByTracking(ctx, trackingNumber)
	if err != nil {
		return Tracking{}, err
	}
	t := Tracking{Shipment: *sh}
	if c, err := s.carriers.Get(sh.Carrier); err == nil {
		t.TrackingURL = c.TrackingURL(sh.TrackingNumber)
	}
	return t, nil
}
