package checkout

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storefront/internal/notify"
	"storefront/internal/order"
	"storefront/internal/payment"
	"storefront/internal/store"
)

type fakeStarter struct {
	requests []payment.StartRequest
	err      error
}

func (f *fakeStarter) StartPayment(_ context.Context, req payment.StartRequest) (payment.StartResult, error) {
	f.requests = append(f.requests, req)
	if f.err != nil {
		return payment.StartResult{}, f.err
	}
	return payment.StartResult{
		PaymentID:  "BARION-PAY-1",
		GatewayURL: "https://secure.test.barion.com/Pay?Id=BARION-PAY-1",
		Status:     payment.StatusPrepared,
		Raw:        []byte(`{"PaymentId":"BARION-PAY-1","Status":"Prepared"}`),
	}, nil
}

type captureMailer struct {
	sent []notify.Message
}

func (m *captureMailer) Send(_ context.Context, msg notify.Message) error {
	m.sent = append(m.sent, msg)
	return nil
}

func newStore(t *testing.T) *store.Store {
	t.Helper()
	ctx := context.Background()
	s, err := store.Open(ctx, store.DriverSQLite, filepath.Join(t.TempDir(), "checkout.db"), store.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	require.NoError(t, s.Migrate(ctx))
	require.NoError(t, s.UpsertVariant(ctx, order.Variant{ID: "var-shirt", WeightGrams: 300, QuantityAvailable: 5}))
	require.NoError(t, s.UpsertVariant(ctx, order.Variant{ID: "var-jeans", QuantityAvailable: 1}))
	return s
}

func newService(t *testing.T, s Store, mode string, starter payment.Starter, mailer notify.Mailer) *Service {
	t.Helper()
	svc, err := New(Config{
		Mode:         mode,
		Currency:     "HUF",
		VATRate:      decimal.RequireFromString("0.27"),
		ShippingFees: map[string]decimal.Decimal{"packeta": decimal.NewFromInt(1000)},
		RedirectURL:  "https://shop.example/thanks",
		CallbackURL:  "https://shop.example/webhooks/barion",
	}, s, starter, Options{Mailer: mailer})
	require.NoError(t, err)
	n := 0
	svc.newID = func() string {
		n++
		return fmt.Sprintf("id-%02d", n)
	}
	return svc
}

func cart() Request {
	return Request{
		CustomerEmail:   "anna@example.com",
		ShippingAddress: order.Address{Name: "Kiss Anna", Country: "HU", PostalCode: "1051", City: "Budapest", Street: "Nador u. 1"},
		ShippingMethod:  "Packeta",
		PickupPointID:   "4321",
		Items: []Item{
			{VariantID: "var-shirt", Name: "Shirt", Quantity: 2, UnitPrice: decimal.NewFromInt(3000)},
			{VariantID: "var-jeans", Name: "Jeans", Quantity: 1, UnitPrice: decimal.NewFromInt(3000)},
		},
	}
}

func TestSplitVAT(t *testing.T) {
	tests := []struct {
		gross, rate, net, vat string
	}{
		{"10000", "0.27", "7874.02", "2125.98"},
		{"1270", "0.27", "1000", "270"},
		{"99.99", "0.05", "95.23", "4.76"},
		{"0", "0.27", "0", "0"},
	}
	for _, tt := range tests {
		t.Run(tt.gross+"@"+tt.rate, func(t *testing.T) {
			net, vat := SplitVAT(decimal.RequireFromString(tt.gross), decimal.RequireFromString(tt.rate))
			assert.Equal(t, tt.net, net.String())
			assert.Equal(t, tt.vat, vat.String())
			assert.True(t, net.Add(vat).Equal(decimal.RequireFromString(tt.gross)))
		})
	}
}

func TestCheckoutMock(t *testing.T) {
	s := newStore(t)
	mailer := &captureMailer{}
	svc := newService(t, s, ModeMock, nil, mailer)
	ctx := context.Background()

	res, err := svc.Checkout(ctx, cart())
	require.NoError(t, err)
	assert.Equal(t, "id-01", res.OrderID)
	assert.True(t, strings.HasPrefix(res.PaymentID, "MOCK-"))
	assert.Equal(t, order.StatusPaid, res.Status)
	assert.Equal(t, order.PaymentStatusPaid, res.PaymentStatus)
	assert.Equal(t, "10000", res.Totals.Gross.String())
	assert.Equal(t, "1000", res.Totals.ShippingFee.String())
	assert.Equal(t, "7874.02", res.Totals.Net.String())
	assert.Equal(t, "2125.98", res.Totals.VAT.String())

	o, err := s.GetOrder(ctx, res.OrderID)
	require.NoError(t, err)
	assert.Equal(t, order.StatusPaid, o.Status)
	assert.Equal(t, "packeta", o.ShippingMethod)
	assert.Equal(t, "4321", o.PickupPointID)
	require.NotNil(t, o.ShippingAddress)
	assert.Equal(t, "Budapest", o.ShippingAddress.City)
	assert.Equal(t, o.ShippingAddressID, o.BillingAddressID)
	assert.Len(t, o.Items, 2)

	p, err := s.FindPaymentByReference(ctx, ProviderMock, res.PaymentID)
	require.NoError(t, err)
	assert.Equal(t, order.ChargeCaptured, p.Status)

	shirt, err := s.Variant(ctx, "var-shirt")
	require.NoError(t, err)
	assert.Equal(t, 3, shirt.QuantityAvailable)
	jeans, err := s.Variant(ctx, "var-jeans")
	require.NoError(t, err)
	assert.Zero(t, jeans.QuantityAvailable)

	require.Len(t, mailer.sent, 1)
	assert.Equal(t, []string{"anna@example.com"}, mailer.sent[0].To)
}

func TestCheckoutLive(t *testing.T) {
	s := newStore(t)
	starter := &fakeStarter{}
	mailer := &captureMailer{}
	svc := newService(t, s, ModeLive, starter, mailer)
	ctx := context.Background()

	res, err := svc.Checkout(ctx, cart())
	require.NoError(t, err)
	assert.Equal(t, "BARION-PAY-1", res.PaymentID)
	assert.Equal(t, "https://secure.test.barion.com/Pay?Id=BARION-PAY-1", res.GatewayURL)
	assert.Equal(t, order.StatusPending, res.Status)
	assert.Equal(t, order.PaymentStatusPending, res.PaymentStatus)

	require.Len(t, starter.requests, 1)
	req := starter.requests[0]
	assert.Equal(t, res.OrderID, req.OrderID)
	assert.Equal(t, "anna@example.com", req.PayerEmail)
	assert.Equal(t, "10000", req.Total.String())
	require.Len(t, req.Items, 3)
	assert.Equal(t, "1000", req.Items[2].UnitPrice.String())
	assert.Equal(t, "https://shop.example/webhooks/barion", req.CallbackURL)

	p, err := s.FindPaymentByReference(ctx, payment.ProviderBarion, "BARION-PAY-1")
	require.NoError(t, err)
	assert.Equal(t, order.ChargePending, p.Status)
	assert.Equal(t, res.OrderID, p.OrderID)

	shirt, err := s.Variant(ctx, "var-shirt")
	require.NoError(t, err)
	assert.Equal(t, 5, shirt.QuantityAvailable)
	assert.Empty(t, mailer.sent)
}

func TestCheckoutLiveGatewayFailure(t *testing.T) {
	s := newStore(t)
	starter := &fakeStarter{err: &payment.APIError{Provider: payment.ProviderBarion, StatusCode: 400, Message: "InvalidPosKey"}}
	svc := newService(t, s, ModeLive, starter, nil)
	ctx := context.Background()

	_, err := svc.Checkout(ctx, cart())
	var apiErr *payment.APIError
	require.ErrorAs(t, err, &apiErr)

	_, err = s.GetOrder(ctx, "id-01")
	assert.ErrorIs(t, err, order.ErrOrderNotFound)
}

func TestCheckoutValidation(t *testing.T) {
	s := newStore(t)
	svc := newService(t, s, ModeMock, nil, nil)
	ctx := context.Background()

	tests := []struct {
		name   string
		mutate func(*Request)
		want   error
	}{
		{"bad email", func(r *Request) { r.CustomerEmail = "not-an-email" }, ErrInvalidEmail},
		{"no recipient", func(r *Request) { r.ShippingAddress.Name = "" }, ErrMissingRecipient},
		{"empty cart", func(r *Request) { r.Items = nil }, ErrEmptyCart},
		{"zero quantity", func(r *Request) { r.Items[0].Quantity = 0 }, ErrInvalidItem},
		{"unknown variant", func(r *Request) { r.Items[0].VariantID = "var-ghost" }, order.ErrVariantNotFound},
		{"out of stock", func(r *Request) { r.Items[1].Quantity = 2 }, ErrOutOfStock},
		{"same variant over stock across lines", func(r *Request) { r.Items = append(r.Items, r.Items[1]) }, ErrOutOfStock},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := cart()
			tt.mutate(&req)
			_, err := svc.Checkout(ctx, req)
			assert.True(t, errors.Is(err, tt.want), "got %v", err)
		})
	}
}

func TestCheckoutUnknownVariantIsInvalidItem(t *testing.T) {
	s := newStore(t)
	svc := newService(t, s, ModeMock, nil, nil)

	req := cart()
	req.Items[0].VariantID = "var-ghost"
	_, err := svc.Checkout(context.Background(), req)
	assert.ErrorIs(t, err, ErrInvalidItem)
	assert.ErrorIs(t, err, order.ErrVariantNotFound)
}

func TestCheckoutSumsLinesPerVariant(t *testing.T) {
	s := newStore(t)
	svc := newService(t, s, ModeMock, nil, nil)
	ctx := context.Background()

	req := cart()
	req.Items = []Item{
		{VariantID: "var-shirt", Name: "Shirt", Quantity: 3, UnitPrice: decimal.NewFromInt(3000)},
		{VariantID: "var-shirt", Name: "Shirt", Quantity: 3, UnitPrice: decimal.NewFromInt(3000)},
	}
	_, err := svc.Checkout(ctx, req)
	require.ErrorIs(t, err, ErrOutOfStock)
	assert.Contains(t, err.Error(), "var-shirt has 5, 6 requested")

	_, err = s.GetOrder(ctx, "id-01")
	assert.ErrorIs(t, err, order.ErrOrderNotFound)

	req.Items[1].Quantity = 2
	res, err := svc.Checkout(ctx, req)
	require.NoError(t, err)
	shirt, err := s.Variant(ctx, "var-shirt")
	require.NoError(t, err)
	assert.Zero(t, shirt.QuantityAvailable)
	assert.Equal(t, order.StatusPaid, res.Status)
}

func TestNewRejectsUnknownMode(t *testing.T) {
	_, err := New(Config{Mode: "cash"}, nil, nil, Options{})
	require.ErrorIs(t, err, ErrUnknownMode)

	_, err = New(Config{Mode: ModeLive}, nil, nil, Options{})
	require.Error(t, err)
}
