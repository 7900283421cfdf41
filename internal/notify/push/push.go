// Package push sends price alerts to a push notification webhook.
package push

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/JakeFAU/realtime-price-tracker/internal/notify"
	"github.com/JakeFAU/realtime-price-tracker/internal/tracker"
)

// Config points at the push provider.
type Config struct {
	Endpoint string
	Token    string
	Timeout  time.Duration
}

type data struct {
	URL          string  `json:"url"`
	CurrentPrice float64 `json:"current_price"`
	TargetPrice  float64 `json:"target_price"`
}

type payload struct {
	To    string `json:"to"`
	Title string `json:"title"`
	Body  string `json:"body"`
	Data  data   `json:"data"`
}

// Notifier implements tracker.Notifier for the push channel.
type Notifier struct {
	cfg    Config
	client *http.Client
}

// New validates cfg.
func New(cfg Config) (*Notifier, error) {
	if cfg.Endpoint == "" || cfg.Token == "" {
		return nil, errors.New("notify.push requires endpoint and token")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Notifier{cfg: cfg, client: &http.Client{Timeout: cfg.Timeout}}, nil
}

// SendPriceAlert implements tracker.Notifier.
func (n *Notifier) SendPriceAlert(ctx context.Context, intent tracker.NotificationIntent) error {
	header := http.Header{}
	header.Set("Authorization", "Bearer "+n.cfg.Token)
	return notify.PostJSON(ctx, n.client, n.cfg.Endpoint, header, payload{
		To:    intent.Recipient.Address,
		Title: notify.Subject(intent),
		Body:  notify.Body(intent),
		Data: data{
			URL:          intent.ProductURL,
			CurrentPrice: intent.CurrentPrice,
			TargetPrice:  intent.TargetPrice,
		},
	})
}
