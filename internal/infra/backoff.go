package infra

import (
	"time"
)

const (
	// Reconnect backoff constants
	baseDelay = 1 * time.Second
	maxDelay  = 30 * time.Second
)

// Backoff describes an exponential reconnect schedule.
type Backoff struct {
	Base time.Duration
	Max  time.Duration
}

// DefaultBackoff is 1s doubling up to 30s.
func DefaultBackoff() Backoff {
	return Backoff{Base: baseDelay, Max: maxDelay}
}

// Delay returns min(Base * 2^retryCount, Max).
// A negative retryCount returns Base.
func (b Backoff) Delay(retryCount int) time.Duration {
	if retryCount < 0 {
		return b.Base
	}

	// 2^30 * 1ns already exceeds any sane cap; avoid shift overflow.
	if retryCount > 30 {
		return b.Max
	}

	d := b.Base * time.Duration(1<<retryCount)
	if d > b.Max || d <= 0 {
		return b.Max
	}
	return d
}
