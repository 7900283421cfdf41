// Package notify delivers price alerts. Router dispatches each intent to the
// notifier registered for the recipient's channel; the subpackages hold one
// notifier per transport.
package notify

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-price-tracker/internal/telemetry"
	"github.com/JakeFAU/realtime-price-tracker/internal/tracker"
)

var (
	// ErrNoRoute is returned when no notifier serves the recipient's channel.
	ErrNoRoute = errors.New("notify: no notifier for channel")
	// ErrNoAddress is returned when the recipient has no contact on the channel.
	ErrNoAddress = errors.New("notify: recipient has no address for channel")
)

// Router implements tracker.Notifier by channel.
type Router struct {
	routes map[tracker.Channel]tracker.Notifier
	logger *zap.Logger
}

var _ tracker.Notifier = (*Router)(nil)

// NewRouter returns an empty router.
func NewRouter(logger *zap.Logger) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Router{routes: make(map[tracker.Channel]tracker.Notifier), logger: logger}
}

// Register binds n to ch, replacing any previous binding.
func (r *Router) Register(ch tracker.Channel, n tracker.Notifier) {
	r.routes[ch] = n
}

// Channels reports which channels have a notifier.
func (r *Router) Channels() []tracker.Channel {
	out := make([]tracker.Channel, 0, len(r.routes))
	for _, ch := range []tracker.Channel{tracker.ChannelEmail, tracker.ChannelSMS, tracker.ChannelPush} {
		if _, ok := r.routes[ch]; ok {
			out = append(out, ch)
		}
	}
	return out
}

// SendPriceAlert implements tracker.Notifier.
func (r *Router) SendPriceAlert(ctx context.Context, intent tracker.NotificationIntent) error {
	ch := intent.Recipient.Channel
	err := r.send(ctx, intent)
	telemetry.ObserveNotification(string(ch), err)
	if err != nil {
		return err
	}
	r.logger.Info("price alert sent",
		zap.Int64("alert_id", intent.AlertID),
		zap.Int64("product_id", intent.ProductID),
		zap.String("channel", string(ch)),
	)
	return nil
}

func (r *Router) send(ctx context.Context, intent tracker.NotificationIntent) error {
	ch := intent.Recipient.Channel
	n, ok := r.routes[ch]
	if !ok {
		return fmt.Errorf("%w %q", ErrNoRoute, ch)
	}
	if intent.Recipient.Address == "" {
		return fmt.Errorf("%w %q (user %d)", ErrNoAddress, ch, intent.Recipient.UserID)
	}
	if err := n.SendPriceAlert(ctx, intent); err != nil {
		return fmt.Errorf("send %s alert %d: %w", ch, intent.AlertID, err)
	}
	return nil
}

// Subject is the headline shared by every channel.
func Subject(intent tracker.NotificationIntent) string {
	return "Price Alert: " + intent.ProductName
}

// Body is the plain text message shared by every channel.
func Body(intent tracker.NotificationIntent) string {
	return fmt.Sprintf("%s is now %s (your target: %s).\n%s",
		intent.ProductName,
		FormatPrice(intent.CurrentPrice, intent.Currency),
		FormatPrice(intent.TargetPrice, intent.Currency),
		intent.ProductURL,
	)
}

// FormatPrice renders a price with two decimals and its currency code.
func FormatPrice(v float64, currency string) string {
	if currency == "" {
		currency = tracker.DefaultCurrency
	}
	return strconv.FormatFloat(v, 'f', 2, 64) + " " + currency
}
