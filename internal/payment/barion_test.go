package payment

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBarion(t *testing.T, h http.HandlerFunc) *Barion {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	b, err := NewBarion(BarionConfig{BaseURL: srv.URL, POSKey: "pos-key", Payee: "shop@example.com"}, srv.Client())
	require.NoError(t, err)
	return b
}

func TestNewBarion_RequiresPOSKey(t *testing.T) {
	_, err := NewBarion(BarionConfig{}, nil)
	assert.Error(t, err)
}

func TestBarion_GetPaymentState(t *testing.T) {
	b := newBarion(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/v2/Payment/GetPaymentState", r.URL.Path)
		assert.Equal(t, "pos-key", r.URL.Query().Get("POSKey"))
		assert.Equal(t, "PAY123", r.URL.Query().Get("PaymentId"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"PaymentId":"PAY123","PaymentRequestId":"ord-1","Status":"Succeeded","Total":10000,"Currency":"HUF","Errors":[]}`))
	})

	st, err := b.GetPaymentState(context.Background(), "PAY123")
	require.NoError(t, err)
	assert.Equal(t, "PAY123", st.PaymentID)
	assert.Equal(t, StatusSucceeded, st.Status)
	assert.True(t, st.Total.Equal(decimal.NewFromInt(10000)))
	assert.Equal(t, "HUF", st.Currency)
	assert.True(t, json.Valid(st.Raw))
	assert.Equal(t, ProviderBarion, b.Name())
}

func TestBarion_GetPaymentState_ErrorsArray(t *testing.T) {
	b := newBarion(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"Errors":[{"ErrorCode":"PaymentNotFound","Title":"Payment not found","Description":"No payment with this id"}]}`))
	})

	_, err := b.GetPaymentState(context.Background(), "PAY404")
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
	assert.Equal(t, "PaymentNotFound: No payment with this id", apiErr.Message)
	assert.Contains(t, string(apiErr.Body), "PaymentNotFound")
}

func TestBarion_GetPaymentState_ErrorsWithOKStatus(t *testing.T) {
	b := newBarion(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"Errors":[{"ErrorCode":"AuthenticationFailed","Title":"Invalid POSKey"}]}`))
	})

	_, err := b.GetPaymentState(context.Background(), "PAY1")
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, "AuthenticationFailed: Invalid POSKey", apiErr.Message)
}

func TestBarion_GetPaymentState_NonJSONError(t *testing.T) {
	b := newBarion(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad gateway", http.StatusBadGateway)
	})

	_, err := b.GetPaymentState(context.Background(), "PAY1")
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusBadGateway, apiErr.StatusCode)
	assert.True(t, json.Valid(apiErr.Body))
}

func TestBarion_StartPayment(t *testing.T) {
	b := newBarion(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v2/Payment/Start", r.URL.Path)

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "pos-key", body["POSKey"])
		assert.Equal(t, "Immediate", body["PaymentType"])
		assert.Equal(t, "ord-1", body["PaymentRequestId"])
		assert.Equal(t, "HUF", body["Currency"])
		txs := body["Transactions"].([]any)
		require.Len(t, txs, 1)
		tx := txs[0].(map[string]any)
		assert.Equal(t, "shop@example.com", tx["Payee"])
		assert.EqualValues(t, 10000, tx["Total"])
		items := tx["Items"].([]any)
		require.Len(t, items, 1)
		assert.EqualValues(t, 6000, items[0].(map[string]any)["ItemTotal"])

		_, _ = w.Write([]byte(`{"PaymentId":"PAY999","Status":"Prepared","GatewayUrl":"https://secure.test.barion.com/Pay?Id=PAY999","Errors":[]}`))
	})

	res, err := b.StartPayment(context.Background(), StartRequest{
		OrderID:  "ord-1",
		Currency: "HUF",
		Total:    decimal.NewFromInt(10000),
		Items:    []LineItem{{Name: "Shirt", Quantity: 2, UnitPrice: decimal.NewFromInt(3000)}},
	})
	require.NoError(t, err)
	assert.Equal(t, "PAY999", res.PaymentID)
	assert.Equal(t, "https://secure.test.barion.com/Pay?Id=PAY999", res.GatewayURL)
}

func TestBarion_StartPayment_MissingGatewayURL(t *testing.T) {
	b := newBarion(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"PaymentId":"PAY999","Status":"Prepared"}`))
	})

	_, err := b.StartPayment(context.Background(), StartRequest{OrderID: "ord-1", Currency: "HUF", Total: decimal.NewFromInt(1)})
	var apiErr *APIError
	assert.True(t, errors.As(err, &apiErr))
}
