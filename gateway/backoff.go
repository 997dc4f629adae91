package gateway

import (
	"math/rand/v2"
	"time"
)

const (
	// maxRetries bounds how many times a single rate-limited request is
	// replayed before Send gives up with ErrTooManyRequests.
	maxRetries   = 5
	initialDelay = 30 * time.Second
	maxDelay     = 500 * time.Second
	maxJitter    = time.Second
)

// rateLimitPolicy implements backoff.BackOff with the delay recurrence
// d(0) = initialDelay, d(n) = min(d(n-1)*2 + jitter(0..maxJitter), maxDelay).
// The additive jitter keeps the sequence monotonically non-decreasing, which
// backoff.ExponentialBackOff's multiplicative randomization does not
// guarantee.
type rateLimitPolicy struct {
	prev time.Duration
}

func newRateLimitPolicy() *rateLimitPolicy {
	return &rateLimitPolicy{prev: 0}
}

func (p *rateLimitPolicy) NextBackOff() time.Duration {
	if p.prev == 0 {
		p.prev = initialDelay
		return p.prev
	}
	next := p.prev*2 + time.Duration(rand.Int64N(int64(maxJitter))) //nolint:gosec
	if next > maxDelay {
		next = maxDelay
	}
	p.prev = next
	return next
}

func (p *rateLimitPolicy) Reset() {
	p.prev = 0
}
