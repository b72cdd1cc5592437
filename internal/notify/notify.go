// Package notify sends transactional e-mail. Sending is fire-and-forget
// from the caller's point of view: there is no retry here.
package notify

import (
	"context"
	"log/slog"
)

type Message struct {
	From    string   `json:"from"`
	To      []string `json:"to"`
	Subject string   `json:"subject"`
	HTML    string   `json:"html,omitempty"`
	Text    string   `json:"text,omitempty"`
}

type Mailer interface {
	Send(ctx context.Context, m Message) error
}

// Noop logs and drops every message. Used when no provider is configured.
type Noop struct {
	Logger *slog.Logger
}

func (n Noop) Send(_ context.Context, m Message) error {
	logger := n.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Debug("email not sent, no mail provider configured", "to", m.To, "subject", m.Subject)
	return nil
}
