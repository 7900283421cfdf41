package progress

import "context"

// Sink consumes batches of events. Implementations must be safe for
// sequential calls from the hub goroutine and should honour ctx deadlines.
type Sink interface {
	Consume(ctx context.Context, batch []Event) error
	Close(ctx context.Context) error
}

// Emitter is the producer-side view of the hub.
type Emitter interface {
	Emit(Event)
}

// Discard is an Emitter that drops every event.
var Discard Emitter = discard{}

type discard struct{}

func (discard) Emit(Event) {}
