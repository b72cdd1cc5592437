// Package payment adapts payment gateways behind a provider-neutral API.
// The gateway's own state is authoritative; webhook bodies are only triggers.
package payment

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
)

// Provider status values reported by Barion.
const (
	StatusPrepared           = "Prepared"
	StatusStarted            = "Started"
	StatusInProgress         = "InProgress"
	StatusWaiting            = "Waiting"
	StatusReserved           = "Reserved"
	StatusAuthorized         = "Authorized"
	StatusSucceeded          = "Succeeded"
	StatusPartiallySucceeded = "PartiallySucceeded"
	StatusFailed             = "Failed"
	StatusCanceled           = "Canceled"
	StatusExpired            = "Expired"
)

// State is the gateway's current view of one payment.
type State struct {
	PaymentID        string          `json:"PaymentId"`
	PaymentRequestID string          `json:"PaymentRequestId"`
	OrderNumber      string          `json:"OrderNumber"`
	Status           string          `json:"Status"`
	Total            decimal.Decimal `json:"Total"`
	Currency         string          `json:"Currency"`
	// Raw is the undecoded response body, kept for audit.
	Raw json.RawMessage `json:"-"`
}

// Provider queries authoritative payment state.
type Provider interface {
	Name() string
	GetPaymentState(ctx context.Context, paymentID string) (State, error)
}

// LineItem is one purchased line as presented to the gateway.
type LineItem struct {
	Name      string
	SKU       string
	Quantity  int
	UnitPrice decimal.Decimal
}

// StartRequest opens a gateway payment for an order.
type StartRequest struct {
	OrderID     string
	PayerEmail  string
	Currency    string
	Total       decimal.Decimal
	Items       []LineItem
	RedirectURL string
	CallbackURL string
}

// StartResult is what the customer needs to complete the payment.
type StartResult struct {
	PaymentID  string
	GatewayURL string
	Status     string
	Raw        json.RawMessage
}

// Starter opens payments at the gateway.
type Starter interface {
	StartPayment(ctx context.Context, req StartRequest) (StartResult, error)
}

// APIError is a non-success answer from the gateway.
type APIError struct {
	Provider   string
	StatusCode int
	Message    string
	Body       json.RawMessage
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s api error (status %d): %s", e.Provider, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s api error (status %d)", e.Provider, e.StatusCode)
}
