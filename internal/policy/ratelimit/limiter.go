// Package ratelimit spaces out requests per retailer host with token buckets.
package ratelimit

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/JakeFAU/realtime-price-tracker/internal/telemetry"
)

// HostLimit overrides the default bucket for hosts ending in a suffix.
type HostLimit struct {
	RPS   float64
	Burst int
}

// Config holds rate limiter configuration. Overrides are matched by host
// suffix, so "amazon.com" also covers "www.amazon.com"; the longest suffix
// wins.
type Config struct {
	DefaultRPS   float64
	DefaultBurst int
	Overrides    map[string]HostLimit
}

// Limiter keeps one token bucket per hostname.
type Limiter struct {
	mu        sync.Mutex
	limiters  map[string]*rate.Limiter
	fallback  HostLimit
	overrides map[string]HostLimit
}

// New creates a Limiter. A non-positive RPS disables limiting for that bucket.
func New(cfg Config) *Limiter {
	overrides := make(map[string]HostLimit, len(cfg.Overrides))
	for suffix, hl := range cfg.Overrides {
		overrides[strings.ToLower(strings.TrimPrefix(suffix, "."))] = hl
	}
	return &Limiter{
		limiters:  make(map[string]*rate.Limiter),
		fallback:  HostLimit{RPS: cfg.DefaultRPS, Burst: cfg.DefaultBurst},
		overrides: overrides,
	}
}

// Wait blocks until the bucket for rawURL's host yields a token or ctx ends.
func (l *Limiter) Wait(ctx context.Context, rawURL string) error {
	host := hostOf(rawURL)
	limiter := l.bucket(host)

	start := time.Now()
	if err := limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait for %s: %w", host, err)
	}
	if waited := time.Since(start); waited > time.Millisecond {
		telemetry.ObserveRateLimitDelay(host, waited)
	}
	return nil
}

func (l *Limiter) bucket(host string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	if limiter, ok := l.limiters[host]; ok {
		return limiter
	}
	hl := l.limitFor(host)
	limit := rate.Limit(hl.RPS)
	if hl.RPS <= 0 {
		limit = rate.Inf
	}
	burst := hl.Burst
	if burst <= 0 {
		burst = 1
	}
	limiter := rate.NewLimiter(limit, burst)
	l.limiters[host] = limiter
	return limiter
}

func (l *Limiter) limitFor(host string) HostLimit {
	best, bestLen := l.fallback, -1
	for suffix, hl := range l.overrides {
		if (host == suffix || strings.HasSuffix(host, "."+suffix)) && len(suffix) > bestLen {
			best, bestLen = hl, len(suffix)
		}
	}
	return best
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}
