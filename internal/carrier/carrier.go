// Package carrier registers parcels and lists pickup points with parcel
// carriers. Each carrier is a thin HTTP client; no local state is kept.
package carrier

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
)

const (
	Packeta = "packeta"
	Foxpost = "foxpost"
)

var (
	ErrUnsupportedCarrier  = errors.New("unsupported carrier")
	ErrPickupPointRequired = errors.New("pickup point is required")
	ErrIncompleteRecipient = errors.New("recipient address is incomplete")
)

type Recipient struct {
	Name       string
	Email      string
	Phone      string
	Country    string
	PostalCode string
	City       string
	Street     string
}

// Parcel is the carrier-neutral description of one shipment.
type Parcel struct {
	OrderID       string
	Recipient     Recipient
	PickupPointID string
	Value         decimal.Decimal
	Currency      string
	WeightKg      int
}

// Label is the carrier's answer to a parcel registration.
type Label struct {
	TrackingNumber string
	LabelURL       string
	Raw            json.RawMessage
}

type PickupPoint struct {
	ID      string  `json:"id"`
	Carrier string  `json:"carrier"`
	Name    string  `json:"name"`
	Country string  `json:"country"`
	City    string  `json:"city"`
	Zip     string  `json:"zip"`
	Street  string  `json:"street"`
	Lat     float64 `json:"lat"`
	Lng     float64 `json:"lng"`
}

type Carrier interface {
	Name() string
	CreateParcel(ctx context.Context, p Parcel) (Label, error)
	PickupPoints(ctx context.Context, country string) ([]PickupPoint, error)
	TrackingURL(trackingNumber string) string
}

// APIError is a rejection from the carrier. Body carries the carrier's
// own error document as JSON.
type APIError struct {
	Carrier    string
	StatusCode int
	Message    string
	Body       json.RawMessage
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s api error (status %d): %s", e.Carrier, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s api error (status %d)", e.Carrier, e.StatusCode)
}

// Registry resolves carriers by name.
type Registry struct {
	carriers map[string]Carrier
}

func NewRegistry(carriers ...Carrier) *Registry {
	r := &Registry{carriers: make(map[string]Carrier, len(carriers))}
	for _, c := range carriers {
		r.carriers[c.Name()] = c
	}
	return r
}

// Get returns ErrUnsupportedCarrier for unknown names.
func (r *Registry) Get(name string) (Carrier, error) {
	c, ok := r.carriers[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedCarrier, name)
	}
	return c, nil
}

// Names lists the registered carriers in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.carriers))
	for n := range r.carriers {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// rawBody returns b as a JSON value: b itself when it is valid JSON,
// otherwise b quoted as a string.
func rawBody(b []byte) json.RawMessage {
	if len(b) == 0 {
		return nil
	}
	if json.Valid(b) {
		return b
	}
	quoted, _ := json.Marshal(string(b))
	return quoted
}

func splitName(full string) (first, last string) {
	full = strings.TrimSpace(full)
	i := strings.LastIndex(full, " ")
	if i < 0 {
		return full, full
	}
	return strings.TrimSpace(full[:i]), strings.TrimSpace(full[i+1:])
}

func sortPoints(points []PickupPoint) {
	sort.Slice(points, func(i, j int) bool {
		if points[i].City != points[j].City {
			return points[i].City < points[j].City
		}
		return points[i].ID < points[j].ID
	})
}
