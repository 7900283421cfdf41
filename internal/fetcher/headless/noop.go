package headless

import (
	"context"
	"errors"

	"github.com/JakeFAU/realtime-price-tracker/internal/tracker"
)

// ErrDisabled is returned by Noop.
var ErrDisabled = errors.New("headless fetcher not configured")

// Noop stands in when headless rendering is turned off.
type Noop struct{}

// NewNoop creates a Noop fetcher.
func NewNoop() *Noop {
	return &Noop{}
}

// Fetch always fails with ErrDisabled.
func (Noop) Fetch(context.Context, tracker.FetchRequest) (tracker.FetchResponse, error) {
	return tracker.FetchResponse{}, ErrDisabled
}
