package carrier

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
)

const (
	foxpostAPIURL  = "https://webapi.foxpost.hu"
	foxpostFeedURL = "https://cdn.foxpost.hu/foxplus.json"
	foxpostTrack   = "https://foxpost.hu/csomagkovetes/?code="
)

type FoxpostConfig struct {
	APIURL   string
	FeedURL  string
	Username string
	Password string
	APIKey   string
	Timeout  time.Duration
}

// FoxpostClient registers parcels through the Foxpost web API. Parcels go
// to an APM locker when a pickup point is given and to the recipient's
// address otherwise. Foxpost only operates in Hungary.
type FoxpostClient struct {
	apiURL   string
	feedURL  string
	username string
	password string
	apiKey   string
	client   *http.Client
}

func NewFoxpost(cfg FoxpostConfig, httpClient *http.Client) (*FoxpostClient, error) {
	if cfg.Username == "" || cfg.Password == "" || cfg.APIKey == "" {
		return nil, errors.New("foxpost: username, password and api key are required")
	}
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 20 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	apiURL := strings.TrimRight(cfg.APIURL, "/")
	if apiURL == "" {
		apiURL = foxpostAPIURL
	}
	feedURL := cfg.FeedURL
	if feedURL == "" {
		feedURL = foxpostFeedURL
	}
	return &FoxpostClient{
		apiURL:   apiURL,
		feedURL:  feedURL,
		username: cfg.Username,
		password: cfg.Password,
		apiKey:   cfg.APIKey,
		client:   httpClient,
	}, nil
}

func (f *FoxpostClient) Name() string { return Foxpost }

func (f *FoxpostClient) TrackingURL(trackingNumber string) string {
	return foxpostTrack + url.QueryEscape(trackingNumber)
}

type foxpostParcel struct {
	RecipientName    string `json:"recipientName"`
	RecipientPhone   string `json:"recipientPhone"`
	RecipientEmail   string `json:"recipientEmail"`
	Destination      string `json:"destination,omitempty"`
	RecipientCity    string `json:"recipientCity,omitempty"`
	RecipientZip     string `json:"recipientZip,omitempty"`
	RecipientAddress string `json:"recipientAddress,omitempty"`
	Size             string `json:"size"`
	Weight           int    `json:"weight"`
	Cod              int    `json:"cod"`
	RefCode          string `json:"refCode"`
}

type foxpostFieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

type foxpostResponse struct {
	Valid   bool `json:"valid"`
	Parcels []struct {
		ClFoxID string              `json:"clFoxId"`
		RefCode string              `json:"refCode"`
		Errors  []foxpostFieldError `json:"errors"`
	} `json:"parcels"`
	Errors []foxpostFieldError `json:"errors"`
}

// foxpostSize picks the smallest locker size that fits the weight.
func foxpostSize(kg int) string {
	switch {
	case kg <= 1:
		return "xs"
	case kg <= 5:
		return "s"
	case kg <= 10:
		return "m"
	case kg <= 15:
		return "l"
	default:
		return "xl"
	}
}

// CreateParcel posts a single-parcel batch to /api/parcel. The clFoxId of
// the created parcel becomes the tracking number.
func (f *FoxpostClient) CreateParcel(ctx context.Context, parcel Parcel) (Label, error) {
	r := parcel.Recipient
	fp := foxpostParcel{
		RecipientName:  r.Name,
		RecipientPhone: r.Phone,
		RecipientEmail: r.Email,
		Size:           foxpostSize(parcel.WeightKg),
		Weight:         parcel.WeightKg,
		RefCode:        parcel.OrderID,
	}
	if parcel.PickupPointID != "" {
		fp.Destination = parcel.PickupPointID
	} else {
		if r.City == "" || r.PostalCode == "" || r.Street == "" {
			return Label{}, fmt.Errorf("foxpost: %w", ErrIncompleteRecipient)
		}
		fp.RecipientCity = r.City
		fp.RecipientZip = r.PostalCode
		fp.RecipientAddress = r.Street
	}

	body, err := json.Marshal([]foxpostParcel{fp})
	if err != nil {
		return Label{}, fmt.Errorf("foxpost: encode parcel: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.apiURL+"/api/parcel?isWeb=false", bytes.NewReader(body))
	if err != nil {
		return Label{}, fmt.Errorf("foxpost: build request: %w", err)
	}
	req.SetBasicAuth(f.username, f.password)
	req.Header.Set("api-key", f.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return Label{}, fmt.Errorf("foxpost: %w", err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Label{}, fmt.Errorf("foxpost: read response: %w", err)
	}

	var out foxpostResponse
	decodeErr := json.Unmarshal(raw, &out)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 || decodeErr != nil || !out.Valid || len(out.Parcels) == 0 {
		return Label{}, &APIError{Carrier: Foxpost, StatusCode: resp.StatusCode, Message: foxpostMessage(out), Body: rawBody(raw)}
	}
	created := out.Parcels[0]
	if len(created.Errors) > 0 || created.ClFoxID == "" {
		return Label{}, &APIError{Carrier: Foxpost, StatusCode: resp.StatusCode, Message: foxpostMessage(out), Body: rawBody(raw)}
	}
	return Label{TrackingNumber: created.ClFoxID, Raw: raw}, nil
}

func foxpostMessage(out foxpostResponse) string {
	errs := out.Errors
	for _, p := range out.Parcels {
		errs = append(errs, p.Errors...)
	}
	if len(errs) == 0 {
		return ""
	}
	parts := make([]string, 0, len(errs))
	for _, e := range errs {
		if e.Field != "" {
			parts = append(parts, e.Field+": "+e.Message)
		} else {
			parts = append(parts, e.Message)
		}
	}
	return strings.Join(parts, "; ")
}

type foxpostAPM struct {
	PlaceID    json.Number `json:"place_id"`
	OperatorID string      `json:"operator_id"`
	Name       string      `json:"name"`
	Country    string      `json:"country"`
	Zip        string      `json:"zip"`
	City       string      `json:"city"`
	Street     string      `json:"street"`
	Geolat     float64     `json:"geolat"`
	Geolng     float64     `json:"geolng"`
}

// PickupPoints reads the Foxpost APM feed. Any country other than HU
// yields an empty list without a request.
func (f *FoxpostClient) PickupPoints(ctx context.Context, country string) ([]PickupPoint, error) {
	if country != "" && !strings.EqualFold(country, "HU") {
		return []PickupPoint{}, nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.feedURL, nil)
	if err != nil {
		return nil, fmt.Errorf("foxpost: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("foxpost: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		return nil, &APIError{Carrier: Foxpost, StatusCode: resp.StatusCode, Message: "apm feed unavailable", Body: rawBody(raw)}
	}

	var apms []foxpostAPM
	if err := json.NewDecoder(resp.Body).Decode(&apms); err != nil {
		return nil, fmt.Errorf("foxpost: decode apm feed: %w", err)
	}

	points := make([]PickupPoint, 0, len(apms))
	for _, a := range apms {
		id := a.OperatorID
		if id == "" {
			id = a.PlaceID.String()
		}
		points = append(points, PickupPoint{
			ID:      id,
			Carrier: Foxpost,
			Name:    a.Name,
			Country: "HU",
			City:    a.City,
			Zip:     a.Zip,
			Street:  a.Street,
			Lat:     a.Geolat,
			Lng:     a.Geolng,
		})
	}
	sortPoints(points)
	return points, nil
}
