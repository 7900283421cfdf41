package tracker

import (
	"math"
	"time"
)

// RetryPolicy decides whether a failed check is attempted again and when.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Multiplier  float64
	MaxDelay    time.Duration
}

// DefaultRetryPolicy allows three attempts spaced by a fixed minute.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		BaseDelay:   time.Minute,
		Multiplier:  1,
		MaxDelay:    10 * time.Minute,
	}
}

// ShouldRetry reports whether another attempt follows attemptsMade failed
// attempts ending in err.
func (p RetryPolicy) ShouldRetry(err error, attemptsMade int) bool {
	if err == nil || !IsRetryable(err) {
		return false
	}
	return attemptsMade < p.MaxAttempts
}

// Backoff returns the wait before the attempt following attemptsMade.
func (p RetryPolicy) Backoff(attemptsMade int) time.Duration {
	if p.BaseDelay <= 0 {
		return 0
	}
	mult := p.Multiplier
	if mult < 1 {
		mult = 1
	}
	exp := attemptsMade - 1
	if exp < 0 {
		exp = 0
	}
	delay := float64(p.BaseDelay) * math.Pow(mult, float64(exp))
	if p.MaxDelay > 0 && delay > float64(p.MaxDelay) {
		delay = float64(p.MaxDelay)
	}
	return time.Duration(delay)
}
