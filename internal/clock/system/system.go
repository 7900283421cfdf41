// Package system provides the wall clock.
package system

import "time"

// Clock implements tracker.Clock. Readings are UTC and truncated to the
// microsecond so a timestamp read back from Postgres or SQLite compares
// equal to the one that was written.
type Clock struct{}

// New creates a new Clock.
func New() *Clock {
	return &Clock{}
}

// Now returns the current time without a monotonic reading.
func (Clock) Now() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}
