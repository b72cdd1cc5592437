package carrier

import (
	"bytes"
	"context"
	"encoding/json"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const (
	packetaAPIURL  = "https://www.zasilkovna.cz/api/rest"
	packetaFeedURL = "https://www.zasilkovna.cz"
	packetaTrack   = "https://tracking.packeta.com/hu/?id="
)

type PacketaConfig struct {
	APIURL      string
	FeedURL     string
	APIKey      string
	APIPassword string
	// Eshop is the sender label registered in the Packeta client section.
	Eshop   string
	Timeout time.Duration
}

// PacketaClient registers packets through the Packeta XML REST API and
// reads pickup points from the public branch feed.
type PacketaClient struct {
	apiURL      string
	feedURL     string
	apiKey      string
	apiPassword string
	eshop       string
	client      *http.Client
}

func NewPacketa(cfg PacketaConfig, httpClient *http.Client) (*PacketaClient, error) {
	if cfg.APIPassword == "" {
		return nil, errors.New("packeta: api password is required")
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
		apiURL = packetaAPIURL
	}
	feedURL := strings.TrimRight(cfg.FeedURL, "/")
	if feedURL == "" {
		feedURL = packetaFeedURL
	}
	return &PacketaClient{
		apiURL:      apiURL,
		feedURL:     feedURL,
		apiKey:      cfg.APIKey,
		apiPassword: cfg.APIPassword,
		eshop:       cfg.Eshop,
		client:      httpClient,
	}, nil
}

func (p *PacketaClient) Name() string { return Packeta }

func (p *PacketaClient) TrackingURL(trackingNumber string) string {
	return packetaTrack + url.QueryEscape(trackingNumber)
}

type packetAttributes struct {
	Number    string `xml:"number"`
	Name      string `xml:"name"`
	Surname   string `xml:"surname"`
	Email     string `xml:"email,omitempty"`
	Phone     string `xml:"phone,omitempty"`
	AddressID string `xml:"addressId"`
	Value     string `xml:"value"`
	Currency  string `xml:"currency"`
	Weight    int    `xml:"weight"`
	Eshop     string `xml:"eshop,omitempty"`
}

type createPacketRequest struct {
	XMLName     xml.Name         `xml:"createPacket"`
	APIPassword string           `xml:"apiPassword"`
	Attributes  packetAttributes `xml:"packetAttributes"`
}

type packetaResponse struct {
	XMLName xml.Name `xml:"response"`
	Status  string   `xml:"status"`
	Fault   string   `xml:"fault"`
	String  string   `xml:"string"`
	Result  struct {
		ID          string `xml:"id"`
		Barcode     string `xml:"barcode"`
		BarcodeText string `xml:"barcodeText"`
	} `xml:"result"`
}

// CreateParcel sends createPacket. Packeta delivers to pickup points, so
// PickupPointID is mandatory. The packet id becomes the tracking number.
func (p *PacketaClient) CreateParcel(ctx context.Context, parcel Parcel) (Label, error) {
	if parcel.PickupPointID == "" {
		return Label{}, fmt.Errorf("packeta: %w", ErrPickupPointRequired)
	}
	first, last := splitName(parcel.Recipient.Name)
	body, err := xml.Marshal(createPacketRequest{
		APIPassword: p.apiPassword,
		Attributes: packetAttributes{
			Number:    parcel.OrderID,
			Name:      first,
			Surname:   last,
			Email:     parcel.Recipient.Email,
			Phone:     parcel.Recipient.Phone,
			AddressID: parcel.PickupPointID,
			Value:     parcel.Value.StringFixed(2),
			Currency:  parcel.Currency,
			Weight:    parcel.WeightKg,
			Eshop:     p.eshop,
		},
	})
	if err != nil {
		return Label{}, fmt.Errorf("packeta: encode packet: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.apiURL, bytes.NewReader(body))
	if err != nil {
		return Label{}, fmt.Errorf("packeta: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/xml")

	resp, err := p.client.Do(req)
	if err != nil {
		return Label{}, fmt.Errorf("packeta: %w", err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Label{}, fmt.Errorf("packeta: read response: %w", err)
	}

	var out packetaResponse
	decodeErr := xml.Unmarshal(raw, &out)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 || decodeErr != nil || out.Status != "ok" {
		apiErr := &APIError{Carrier: Packeta, StatusCode: resp.StatusCode, Body: rawBody(raw)}
		switch {
		case out.Fault != "":
			apiErr.Message = strings.TrimSpace(out.Fault + ": " + out.String)
		case decodeErr != nil:
			apiErr.Message = "unreadable response"
		}
		return Label{}, apiErr
	}
	if out.Result.ID == "" {
		return Label{}, &APIError{Carrier: Packeta, StatusCode: resp.StatusCode, Message: "response has no packet id", Body: rawBody(raw)}
	}

	labelRaw, _ := json.Marshal(map[string]string{
		"id":          out.Result.ID,
		"barcode":     out.Result.Barcode,
		"barcodeText": out.Result.BarcodeText,
	})
	return Label{TrackingNumber: out.Result.ID, Raw: labelRaw}, nil
}

type packetaBranch struct {
	ID        string      `json:"id"`
	Name      string      `json:"name"`
	Place     string      `json:"place"`
	Street    string      `json:"street"`
	City      string      `json:"city"`
	Zip       string      `json:"zip"`
	Country   string      `json:"country"`
	Latitude  json.Number `json:"latitude"`
	Longitude json.Number `json:"longitude"`
}

// PickupPoints reads the v4 branch feed and keeps the given country.
// The feed's data member is either an array or an object keyed by id.
func (p *PacketaClient) PickupPoints(ctx context.Context, country string) ([]PickupPoint, error) {
	if p.apiKey == "" {
		return nil, errors.New("packeta: api key is required for the branch feed")
	}
	feed := fmt.Sprintf("%s/api/v4/%s/branch.json?lang=hu", p.feedURL, url.PathEscape(p.apiKey))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, feed, nil)
	if err != nil {
		return nil, fmt.Errorf("packeta: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("packeta: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		return nil, &APIError{Carrier: Packeta, StatusCode: resp.StatusCode, Message: "branch feed unavailable", Body: rawBody(raw)}
	}

	var envelope struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return nil, fmt.Errorf("packeta: decode branch feed: %w", err)
	}

	var branches []packetaBranch
	if err := json.Unmarshal(envelope.Data, &branches); err != nil {
		byID := map[string]packetaBranch{}
		if err := json.Unmarshal(envelope.Data, &byID); err != nil {
			return nil, fmt.Errorf("packeta: decode branch feed: %w", err)
		}
		for _, b := range byID {
			branches = append(branches, b)
		}
	}

	points := make([]PickupPoint, 0, len(branches))
	for _, b := range branches {
		if country != "" && !strings.EqualFold(b.Country, country) {
			continue
		}
		lat, _ := strconv.ParseFloat(b.Latitude.String(), 64)
		lng, _ := strconv.ParseFloat(b.Longitude.String(), 64)
		name := b.Name
		if name == "" {
			name = b.Place
		}
		points = append(points, PickupPoint{
			ID:      b.ID,
			Carrier: Packeta,
			Name:    name,
			Country: strings.ToUpper(b.Country),
			City:    b.City,
			Zip:     b.Zip,
			Street:  b.Street,
			Lat:     lat,
			Lng:     lng,
		})
	}
	sortPoints(points)
	return points, nil
}
