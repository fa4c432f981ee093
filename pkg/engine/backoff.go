package engine

import (
	"time"

	"github.com/cenkalti/backoff/v5"
)

// BackoffPolicy computes the delay before a retry. Jitter is always zero so
// delays are reproducible.
type BackoffPolicy struct {
	Initial    time.Duration
	Multiplier float64
	Max        time.Duration
}

func DefaultBackoff() BackoffPolicy {
	return BackoffPolicy{
		Initial:    time.Second,
		Multiplier: 2,
		Max:        30 * time.Second,
	}
}

// Delay returns the wait before the retry that follows the given failed attempt (1-based).
func (p BackoffPolicy) Delay(attempt int) time.Duration {
	b := &backoff.ExponentialBackOff{
		InitialInterval:     p.Initial,
		RandomizationFactor: 0,
		Multiplier:          p.Multiplier,
		MaxInterval:         p.Max,
	}
	b.Reset()

	delay := p.Initial
	for range max(attempt, 1) {
		delay = b.NextBackOff()
	}

	return delay
}
