// Package retrain forwards model retraining requests to the modeling
// collaborator over a message transport.
package retrain

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-price-tracker/internal/telemetry"
	"github.com/JakeFAU/realtime-price-tracker/internal/tracker"
)

// Reasons attached to a request.
const (
	ReasonDrift     = "drift"
	ReasonScheduled = "scheduled"
	ReasonManual    = "manual"
)

// Request is the message body consumed by the modeling service.
type Request struct {
	ProductID   int64     `json:"product_id"`
	Reason      string    `json:"reason"`
	RequestedAt time.Time `json:"requested_at"`
}

// Publisher sends one keyed payload and returns the transport's message id.
type Publisher interface {
	Publish(ctx context.Context, key string, payload any) (string, error)
}

// Trigger implements tracker.Retrainer on top of a Publisher.
type Trigger struct {
	pub    Publisher
	logger *zap.Logger
	now    func() time.Time
}

var _ tracker.Retrainer = (*Trigger)(nil)

// NewTrigger wraps pub.
func NewTrigger(pub Publisher, logger *zap.Logger) (*Trigger, error) {
	if pub == nil {
		return nil, errors.New("retrain publisher is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Trigger{pub: pub, logger: logger, now: time.Now}, nil
}

// TriggerRetrain implements tracker.Retrainer. Requests are keyed by product so
// ordered transports keep one product's requests together.
func (t *Trigger) TriggerRetrain(ctx context.Context, productID int64, reason string) error {
	req := Request{ProductID: productID, Reason: reason, RequestedAt: t.now().UTC()}
	id, err := t.pub.Publish(ctx, strconv.FormatInt(productID, 10), req)
	telemetry.ObserveRetrain(err)
	if err != nil {
		return fmt.Errorf("publish retrain request for product %d: %w", productID, err)
	}
	t.logger.Info("retrain requested",
		zap.Int64("product_id", productID),
		zap.String("reason", reason),
		zap.String("message_id", id),
	)
	return nil
}

// LogPublisher only logs requests. It serves deployments without a modeling
// service attached.
type LogPublisher struct {
	Logger *zap.Logger
	seq    atomic.Uint64
}

// Publish implements Publisher.
func (l *LogPublisher) Publish(_ context.Context, key string, payload any) (string, error) {
	id := "log-" + strconv.FormatUint(l.seq.Add(1), 10)
	if l.Logger != nil {
		l.Logger.Info("retrain request not forwarded", zap.String("key", key), zap.Any("payload", payload), zap.String("message_id", id))
	}
	return id, nil
}
