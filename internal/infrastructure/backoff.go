package infrastructure

import (
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
)

const defaultRandomizationFactor = 0.5

// newExponentialBackoff returns a jittered exponential schedule that starts at
// min and never exceeds max.
func newExponentialBackoff(factor float64, min, max time.Duration) *backoff.ExponentialBackOff {
	if max < min {
		max = min
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = min
	b.Multiplier = factor
	b.MaxInterval = max
	b.RandomizationFactor = defaultRandomizationFactor
	b.Reset()

	return b
}

// attemptBackoff adapts an exponential schedule to callbacks that only know
// the attempt number, such as the nats reconnect hook.
type attemptBackoff struct {
	mu      sync.Mutex
	backoff *backoff.ExponentialBackOff
	max     time.Duration
}

func newAttemptBackoff(factor float64, min, max time.Duration) *attemptBackoff {
	return &attemptBackoff{
		backoff: newExponentialBackoff(factor, min, max),
		max:     max,
	}
}

func (a *attemptBackoff) Delay(attempt int) time.Duration {
	a.mu.Lock()
	defer a.mu.Unlock()

	if attempt <= 1 {
		a.backoff.Reset()
	}

	delay := a.backoff.NextBackOff()
	if delay == backoff.Stop || delay > a.max {
		return a.max
	}

	return delay
}
