package tracker

import (
	"context"
	"io"
	"time"
)

// ProductStore reads products and records completed checks.
type ProductStore interface {
	GetProduct(ctx context.Context, id int64) (Product, error)
	ListActiveProducts(ctx context.Context) ([]Product, error)
	// ListSnapshots returns the product's snapshots observed at or after since,
	// ordered by observation time.
	ListSnapshots(ctx context.Context, productID int64, since time.Time) ([]PriceSnapshot, error)
	// RecordCheck appends the snapshot and moves the product's current price
	// and last-checked time as one atomic unit.
	RecordCheck(ctx context.Context, snapshot PriceSnapshot) error
}

// AlertStore reads alerts and resolves their recipients.
type AlertStore interface {
	ActiveAlertsForProduct(ctx context.Context, productID int64) ([]Alert, error)
	ResolveRecipient(ctx context.Context, alert Alert) (Recipient, error)
}

// Store is the full persistence surface used by the pipeline.
type Store interface {
	ProductStore
	AlertStore
	Close() error
}

// Fetcher retrieves a page.
type Fetcher interface {
	Fetch(ctx context.Context, req FetchRequest) (FetchResponse, error)
}

// Notifier delivers a price alert on one channel.
type Notifier interface {
	SendPriceAlert(ctx context.Context, intent NotificationIntent) error
}

// Retrainer forwards retraining requests to the modeling collaborator.
type Retrainer interface {
	TriggerRetrain(ctx context.Context, productID int64, reason string) error
}

// BlobStore persists raw artifacts.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, r io.Reader) (string, error)
}

// Queue buffers check requests between producers and workers.
type Queue interface {
	// Enqueue blocks until the request is accepted or ctx ends.
	Enqueue(ctx context.Context, req CheckRequest) error
	// TryEnqueue accepts the request only if capacity is available.
	TryEnqueue(req CheckRequest) error
	Dequeue(ctx context.Context) (CheckRequest, error)
}

// Limiter paces outbound fetches per host.
type Limiter interface {
	Wait(ctx context.Context, url string) error
}

// Hasher hashes content.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time.
type Clock interface {
	Now() time.Time
}

// IDGenerator produces unique identifiers.
type IDGenerator interface {
	NewID() (string, error)
}
