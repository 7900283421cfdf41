// Package memory provides an in-process notifier that records every alert.
package memory

import (
	"context"
	"sync"

	"github.com/JakeFAU/realtime-price-tracker/internal/tracker"
)

// Notifier records delivered intents. Fail makes every send return err.
type Notifier struct {
	mu   sync.Mutex
	sent []tracker.NotificationIntent
	err  error
}

// New returns an empty notifier.
func New() *Notifier {
	return &Notifier{}
}

// Fail makes subsequent sends return err; nil restores success.
func (n *Notifier) Fail(err error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.err = err
}

// SendPriceAlert implements tracker.Notifier.
func (n *Notifier) SendPriceAlert(ctx context.Context, intent tracker.NotificationIntent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	n.sent = append(n.sent, intent)
	return nil
}

// Sent returns a copy of the delivered intents.
func (n *Notifier) Sent() []tracker.NotificationIntent {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]tracker.NotificationIntent(nil), n.sent...)
}
