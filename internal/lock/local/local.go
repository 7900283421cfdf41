// Package local is the single-process slot lock.
package local

import (
	"context"
	"sync"
	"time"

	"github.com/JakeFAU/realtime-price-tracker/internal/clock/system"
	"github.com/JakeFAU/realtime-price-tracker/internal/lock"
	"github.com/JakeFAU/realtime-price-tracker/internal/tracker"
)

// Locker keeps claimed keys in memory until they expire.
type Locker struct {
	mu      sync.Mutex
	clock   tracker.Clock
	expires map[string]time.Time
}

var _ lock.Locker = (*Locker)(nil)

// New returns a Locker. A nil clock uses the system clock.
func New(clock tracker.Clock) *Locker {
	if clock == nil {
		clock = system.New()
	}
	return &Locker{clock: clock, expires: make(map[string]time.Time)}
}

func (l *Locker) TryLock(_ context.Context, key string, ttl time.Duration) (bool, error) {
	now := l.clock.Now()
	l.mu.Lock()
	defer l.mu.Unlock()
	for k, exp := range l.expires {
		if !exp.After(now) {
			delete(l.expires, k)
		}
	}
	if _, held := l.expires[key]; held {
		return false, nil
	}
	l.expires[key] = now.Add(ttl)
	return true, nil
}
