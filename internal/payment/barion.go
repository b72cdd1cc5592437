package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const (
	ProviderBarion = "barion"

	// BarionTestURL is the sandbox API.
	BarionTestURL = "https://api.test.barion.com"
	// BarionLiveURL is the production API.
	BarionLiveURL = "https://api.barion.com"
)

// BarionConfig holds the shop's POS credentials.
type BarionConfig struct {
	BaseURL string
	POSKey  string
	// Payee is the e-mail of the Barion wallet receiving the funds.
	Payee   string
	Locale  string
	Timeout time.Duration
}

// Barion talks to the Barion Smart Gateway v2 API.
type Barion struct {
	baseURL string
	posKey  string
	payee   string
	locale  string
	client  *http.Client
}

// NewBarion builds a client. A nil httpClient gets one with cfg.Timeout.
func NewBarion(cfg BarionConfig, httpClient *http.Client) (*Barion, error) {
	if strings.TrimSpace(cfg.POSKey) == "" {
		return nil, errors.New("barion: POS key is required")
	}
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = BarionTestURL
	}
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 15 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	locale := cfg.Locale
	if locale == "" {
		locale = "hu-HU"
	}
	return &Barion{baseURL: base, posKey: cfg.POSKey, payee: cfg.Payee, locale: locale, client: httpClient}, nil
}

func (b *Barion) Name() string { return ProviderBarion }

// GetPaymentState calls GET /v2/Payment/GetPaymentState.
func (b *Barion) GetPaymentState(ctx context.Context, paymentID string) (State, error) {
	q := url.Values{}
	q.Set("POSKey", b.posKey)
	q.Set("PaymentId", paymentID)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.baseURL+"/v2/Payment/GetPaymentState?"+q.Encode(), nil)
	if err != nil {
		return State{}, fmt.Errorf("barion: build request: %w", err)
	}
	raw, err := b.do(req)
	if err != nil {
		return State{}, err
	}

	var st State
	if err := json.Unmarshal(raw, &st); err != nil {
		return State{}, fmt.Errorf("barion: decode payment state: %w", err)
	}
	if st.Status == "" {
		return State{}, &APIError{Provider: ProviderBarion, StatusCode: http.StatusOK, Message: "response has no Status", Body: raw}
	}
	st.Raw = raw
	return st, nil
}

// Barion takes amounts as JSON numbers.
type barionItem struct {
	Name        string  `json:"Name"`
	Description string  `json:"Description"`
	Quantity    int     `json:"Quantity"`
	Unit        string  `json:"Unit"`
	UnitPrice   float64 `json:"UnitPrice"`
	ItemTotal   float64 `json:"ItemTotal"`
	SKU         string  `json:"SKU,omitempty"`
}

type barionTransaction struct {
	POSTransactionID string       `json:"POSTransactionId"`
	Payee            string       `json:"Payee"`
	Total            float64      `json:"Total"`
	Items            []barionItem `json:"Items"`
}

type barionStart struct {
	POSKey           string              `json:"POSKey"`
	PaymentType      string              `json:"PaymentType"`
	GuestCheckOut    bool                `json:"GuestCheckOut"`
	FundingSources   []string            `json:"FundingSources"`
	PaymentRequestID string              `json:"PaymentRequestId"`
	OrderNumber      string              `json:"OrderNumber"`
	PayerHint        string              `json:"PayerHint,omitempty"`
	Locale           string              `json:"Locale"`
	Currency         string              `json:"Currency"`
	RedirectURL      string              `json:"RedirectUrl"`
	CallbackURL      string              `json:"CallbackUrl"`
	Transactions     []barionTransaction `json:"Transactions"`
}

// StartPayment calls POST /v2/Payment/Start for an immediate payment.
func (b *Barion) StartPayment(ctx context.Context, sr StartRequest) (StartResult, error) {
	items := make([]barionItem, 0, len(sr.Items))
	for _, it := range sr.Items {
		items = append(items, barionItem{
			Name:        it.Name,
			Description: it.Name,
			Quantity:    it.Quantity,
			Unit:        "db",
			UnitPrice:   it.UnitPrice.InexactFloat64(),
			ItemTotal:   it.UnitPrice.Mul(decimal.NewFromInt(int64(it.Quantity))).InexactFloat64(),
			SKU:         it.SKU,
		})
	}
	body, err := json.Marshal(barionStart{
		POSKey:           b.posKey,
		PaymentType:      "Immediate",
		GuestCheckOut:    true,
		FundingSources:   []string{"All"},
		PaymentRequestID: sr.OrderID,
		OrderNumber:      sr.OrderID,
		PayerHint:        sr.PayerEmail,
		Locale:           b.locale,
		Currency:         sr.Currency,
		RedirectURL:      sr.RedirectURL,
		CallbackURL:      sr.CallbackURL,
		Transactions: []barionTransaction{{
			POSTransactionID: sr.OrderID,
			Payee:            b.payee,
			Total:            sr.Total.InexactFloat64(),
			Items:            items,
		}},
	})
	if err != nil {
		return StartResult{}, fmt.Errorf("barion: encode start request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+"/v2/Payment/Start", bytes.NewReader(body))
	if err != nil {
		return StartResult{}, fmt.Errorf("barion: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	raw, err := b.do(req)
	if err != nil {
		return StartResult{}, err
	}

	var out struct {
		PaymentID  string `json:"PaymentId"`
		Status     string `json:"Status"`
		GatewayURL string `json:"GatewayUrl"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return StartResult{}, fmt.Errorf("barion: decode start response: %w", err)
	}
	if out.PaymentID == "" || out.GatewayURL == "" {
		return StartResult{}, &APIError{Provider: ProviderBarion, StatusCode: http.StatusOK, Message: "response has no PaymentId or GatewayUrl", Body: raw}
	}
	return StartResult{PaymentID: out.PaymentID, GatewayURL: out.GatewayURL, Status: out.Status, Raw: raw}, nil
}

type barionErrors struct {
	Errors []struct {
		ErrorCode   string `json:"ErrorCode"`
		Title       string `json:"Title"`
		Description string `json:"Description"`
	} `json:"Errors"`
}

// do sends req and returns the body of a successful answer. Barion reports
// failures either with a non-2xx status or with a non-empty Errors array.
func (b *Barion) do(req *http.Request) ([]byte, error) {
	req.Header.Set("Accept", "application/json")
	resp, err := b.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("barion: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("barion: read response: %w", err)
	}

	var be barionErrors
	_ = json.Unmarshal(raw, &be)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 || len(be.Errors) > 0 {
		apiErr := &APIError{Provider: ProviderBarion, StatusCode: resp.StatusCode}
		if json.Valid(raw) {
			apiErr.Body = raw
		} else if len(raw) > 0 {
			apiErr.Body, _ = json.Marshal(string(raw))
		}
		if len(be.Errors) > 0 {
			e := be.Errors[0]
			apiErr.Message = strings.TrimSpace(e.ErrorCode + ": " + firstNonEmpty(e.Description, e.Title))
		}
		return nil, apiErr
	}
	return raw, nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
