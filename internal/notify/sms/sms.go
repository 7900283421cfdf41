// Package sms sends price alerts through an HTTP SMS gateway.
package sms

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/JakeFAU/realtime-price-tracker/internal/notify"
	"github.com/JakeFAU/realtime-price-tracker/internal/tracker"
)

// DefaultFrom is the sender name shown on the handset.
const DefaultFrom = "PriceTracker"

// Config points at the gateway.
type Config struct {
	Endpoint string
	APIKey   string
	From     string
	Timeout  time.Duration
}

type payload struct {
	APIKey  string `json:"api_key"`
	To      string `json:"to"`
	Message string `json:"message"`
	From    string `json:"from"`
}

// Notifier implements tracker.Notifier for the sms channel.
type Notifier struct {
	cfg    Config
	client *http.Client
}

// New validates cfg.
func New(cfg Config) (*Notifier, error) {
	if cfg.Endpoint == "" || cfg.APIKey == "" {
		return nil, errors.New("notify.sms requires endpoint and api_key")
	}
	if cfg.From == "" {
		cfg.From = DefaultFrom
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Notifier{cfg: cfg, client: &http.Client{Timeout: cfg.Timeout}}, nil
}

// SendPriceAlert implements tracker.Notifier.
func (n *Notifier) SendPriceAlert(ctx context.Context, intent tracker.NotificationIntent) error {
	return notify.PostJSON(ctx, n.client, n.cfg.Endpoint, nil, payload{
		APIKey:  n.cfg.APIKey,
		To:      intent.Recipient.Address,
		Message: notify.Subject(intent) + "\n" + notify.Body(intent),
		From:    n.cfg.From,
	})
}
