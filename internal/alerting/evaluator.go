// Package alerting decides which price alerts fire for a new observation and
// resolves each firing alert into a deliverable notification intent.
package alerting

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-price-tracker/internal/tracker"
)

// Firing pairs an alert with the intent built for it.
type Firing struct {
	Alert  tracker.Alert
	Intent tracker.NotificationIntent
}

// Evaluator selects firing alerts. Alerts are never mutated, so an alert
// whose condition still holds fires again on every check.
type Evaluator struct {
	store  tracker.AlertStore
	logger *zap.Logger
}

// New builds an Evaluator.
func New(store tracker.AlertStore, logger *zap.Logger) *Evaluator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Evaluator{store: store, logger: logger}
}

// comparisonPlaces drops binary floating point noise below a millionth.
const comparisonPlaces = 6

// Fires reports whether a price satisfies a target. Both sides are compared
// as decimals so 50.00 against a target of 50 fires and float noise such as
// 0.1+0.2 does not push a price over its target.
func Fires(currentPrice, targetPrice float64) bool {
	current := decimal.NewFromFloat(currentPrice).Round(comparisonPlaces)
	target := decimal.NewFromFloat(targetPrice).Round(comparisonPlaces)
	return current.LessThanOrEqual(target)
}

// Evaluate returns the firing alerts for the product at currentPrice. An
// alert whose recipient cannot be resolved is logged and skipped without
// affecting the others.
func (e *Evaluator) Evaluate(ctx context.Context, product tracker.Product, currentPrice float64) ([]Firing, error) {
	alerts, err := e.store.ActiveAlertsForProduct(ctx, product.ID)
	if err != nil {
		return nil, fmt.Errorf("load alerts for product %d: %w", product.ID, err)
	}
	currency := product.Currency
	if currency == "" {
		currency = tracker.DefaultCurrency
	}

	var out []Firing
	for _, alert := range alerts {
		if !alert.Active || !Fires(currentPrice, alert.TargetPrice) {
			continue
		}
		recipient, err := e.store.ResolveRecipient(ctx, alert)
		if err == nil && recipient.Address == "" {
			err = fmt.Errorf("user %d has no %s contact", alert.UserID, alert.Channel)
		}
		if err != nil {
			e.logger.Warn("alert recipient unresolved",
				zap.Int64("alert_id", alert.ID),
				zap.Int64("product_id", product.ID),
				zap.String("channel", string(alert.Channel)),
				zap.String("failure", string(tracker.KindNotification)),
				zap.Error(err),
			)
			continue
		}
		out = append(out, Firing{
			Alert: alert,
			Intent: tracker.NotificationIntent{
				AlertID:      alert.ID,
				ProductID:    product.ID,
				Recipient:    recipient,
				ProductName:  product.Name,
				ProductURL:   product.URL,
				CurrentPrice: currentPrice,
				TargetPrice:  alert.TargetPrice,
				Currency:     currency,
			},
		})
	}
	return out, nil
}
