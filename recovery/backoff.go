package recovery

import "time"

// Backoff is a geometrically growing wait interval capped at a maximum.
//
// It is not safe for concurrent use.
type Backoff struct {
	initial time.Duration
	max     time.Duration
	cur     time.Duration
}

// NewBackoff returns a Backoff starting at initial and capped at maxDelay.
func NewBackoff(initial, maxDelay time.Duration) *Backoff {
	if maxDelay < initial {
		maxDelay = initial
	}

	return &Backoff{initial: initial, max: maxDelay, cur: initial}
}

// Current returns the current wait interval.
func (b *Backoff) Current() time.Duration {
	return b.cur
}

// Grow doubles the interval, capped at the maximum, and returns it.
func (b *Backoff) Grow() time.Duration {
	b.cur = min(b.max, b.cur*2)
	return b.cur
}

// Reset restores the initial interval.
func (b *Backoff) Reset() {
	b.cur = b.initial
}
