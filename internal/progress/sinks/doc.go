// Package sinks implements progress consumers: structured logging, Prometheus
// collectors and a WebSocket broadcaster for live dashboards. Each type
// satisfies progress.Sink.
package sinks
