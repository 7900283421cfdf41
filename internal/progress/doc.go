// Package progress carries price-check lifecycle events from workers to
// observers. Workers emit one Event per state transition; a Hub batches them
// on a background goroutine and fans each batch out to the configured sinks
// (structured logs, Prometheus, the analytics mirror, live WebSocket clients).
package progress
