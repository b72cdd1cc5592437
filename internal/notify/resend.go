package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const resendURL = "https://api.resend.com"

type ResendConfig struct {
	BaseURL string
	APIKey  string
	From    string
	Timeout time.Duration
}

// Resend sends mail through the Resend HTTP API.
type Resend struct {
	baseURL string
	apiKey  string
	from    string
	client  *http.Client
}

func NewResend(cfg ResendConfig, httpClient *http.Client) (*Resend, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("resend: api key is required")
	}
	if cfg.From == "" {
		return nil, errors.New("resend: sender address is required")
	}
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = resendURL
	}
	return &Resend{baseURL: base, apiKey: cfg.APIKey, from: cfg.From, client: httpClient}, nil
}

// Send posts to /emails. An empty From uses the configured sender.
func (r *Resend) Send(ctx context.Context, m Message) error {
	if len(m.To) == 0 {
		return errors.New("resend: message has no recipient")
	}
	if m.From == "" {
		m.From = r.from
	}
	body, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("resend: encode message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+"/emails", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("resend: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+r.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("resend: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		var apiErr struct {
			Message string `json:"message"`
		}
		_ = json.Unmarshal(raw, &apiErr)
		if apiErr.Message == "" {
			apiErr.Message = strings.TrimSpace(string(raw))
		}
		return fmt.Errorf("resend: status %d: %s", resp.StatusCode, apiErr.Message)
	}
	return nil
}
