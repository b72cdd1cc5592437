package order

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// Order lifecycle statuses.
const (
	StatusPending    = "pending"
	StatusPaid       = "paid"
	StatusProcessing = "processing"
	StatusShipped    = "shipped"
	StatusDelivered  = "delivered"
	StatusCancelled  = "cancelled"
	StatusRefunded   = "refunded"
)

// Order payment_status values.
const (
	PaymentStatusPending = "pending"
	PaymentStatusPaid    = "paid"
	PaymentStatusFailed  = "failed"
)

// Payment row statuses. A payment is one collection attempt, so it
// uses charge vocabulary rather than order vocabulary.
const (
	ChargePending  = "pending"
	ChargeCaptured = "captured"
	ChargeFailed   = "failed"
)

// Shipment statuses written by this service.
const (
	ShipmentPending = "pending"
)

var (
	ErrOrderNotFound        = errors.New("order not found")
	ErrPaymentNotFound      = errors.New("payment not found")
	ErrShipmentNotFound     = errors.New("shipment not found")
	ErrEventNotFound        = errors.New("webhook event not found")
	ErrVariantNotFound      = errors.New("product variant not found")
	ErrTransitionNotAllowed = errors.New("state transition not allowed")
)

type Address struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Email      string `json:"email,omitempty"`
	Phone      string `json:"phone,omitempty"`
	Country    string `json:"country"`
	PostalCode string `json:"postalCode,omitempty"`
	City       string `json:"city,omitempty"`
	Street     string `json:"street,omitempty"`
}

type Item struct {
	ID        string          `json:"id"`
	OrderID   string          `json:"orderId"`
	VariantID string          `json:"variantId,omitempty"`
	Name      string          `json:"name"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unitPrice"`
	// WeightGrams comes from the variant; zero means no recorded weight.
	WeightGrams int `json:"weightGrams,omitempty"`
}

type Order struct {
	ID                string          `json:"id"`
	CustomerEmail     string          `json:"customerEmail"`
	Status            string          `json:"status"`
	PaymentStatus     string          `json:"paymentStatus"`
	NetTotal          decimal.Decimal `json:"netTotal"`
	VATTotal          decimal.Decimal `json:"vatTotal"`
	GrossTotal        decimal.Decimal `json:"grossTotal"`
	Currency          string          `json:"currency"`
	ShippingMethod    string          `json:"shippingMethod,omitempty"`
	PickupPointID     string          `json:"pickupPointId,omitempty"`
	ShippingAddressID string          `json:"shippingAddressId,omitempty"`
	BillingAddressID  string          `json:"billingAddressId,omitempty"`
	CouponCode        string          `json:"couponCode,omitempty"`
	Items             []Item          `json:"items"`
	ShippingAddress   *Address        `json:"shippingAddress,omitempty"`
	BillingAddress    *Address        `json:"billingAddress,omitempty"`
	CreatedAt         time.Time       `json:"createdAt"`
	UpdatedAt         time.Time       `json:"updatedAt"`
}

type Payment struct {
	ID                string          `json:"id"`
	OrderID           string          `json:"orderId"`
	Provider          string          `json:"provider"`
	ProviderReference string          `json:"providerReference"`
	Amount            decimal.Decimal `json:"amount"`
	Currency          string          `json:"currency"`
	Status            string          `json:"status"`
	RawPayload        json.RawMessage `json:"rawPayload,omitempty"`
	CreatedAt         time.Time       `json:"createdAt"`
	UpdatedAt         time.Time       `json:"updatedAt"`
}

// WebhookEvent is the ledger row for one logical provider notification.
// EventID is derived from provider and provider payment id, so every
// redelivery maps to the same row.
type WebhookEvent struct {
	EventID      string          `json:"eventId"`
	Provider     string          `json:"provider"`
	EventType    string          `json:"eventType"`
	Payload      json.RawMessage `json:"payload,omitempty"`
	Processed    bool            `json:"processed"`
	ProcessedAt  *time.Time      `json:"processedAt,omitempty"`
	ErrorMessage string          `json:"errorMessage,omitempty"`
	CreatedAt    time.Time       `json:"createdAt"`
}

type Shipment struct {
	ID             string    `json:"id"`
	OrderID        string    `json:"orderId"`
	Carrier        string    `json:"carrier"`
	TrackingNumber string    `json:"trackingNumber"`
	Status         string    `json:"status"`
	LabelURL       string    `json:"labelUrl,omitempty"`
	PickupPointID  string    `json:"pickupPointId,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
}

type Variant struct {
	ID                string `json:"id"`
	SKU               string `json:"sku,omitempty"`
	WeightGrams       int    `json:"weightGrams,omitempty"`
	QuantityAvailable int    `json:"quantityAvailable"`
}

type StatusChange struct {
	OrderID       string    `json:"orderId"`
	Status        string    `json:"status"`
	PaymentStatus string    `json:"paymentStatus"`
	Reason        string    `json:"reason"`
	ChangedAt     time.Time `json:"changedAt"`
}

// Outcome is the state a payment notification asks the store to reach.
// Empty OrderStatus or PaymentStatus leaves that column unchanged.
type Outcome struct {
	PaymentID       string
	EventID         string
	ChargeStatus    string
	OrderStatus     string
	PaymentStatus   string
	ProviderPayload json.RawMessage
	Reason          string
	At              time.Time
}

// Applied reports what ApplyPaymentOutcome actually wrote.
type Applied struct {
	OrderID       string
	ChargeStatus  string
	OrderStatus   string
	PaymentStatus string
	// Captured is true only when this call moved the payment into captured.
	Captured    bool
	Decremented int
	Oversold    []string
	Changes     []StatusChange
}
