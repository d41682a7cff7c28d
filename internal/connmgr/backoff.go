package connmgr

import (
	"math"
	"math/rand"
	"time"
)

// Backoff computes reconnect delays: exponential with a cap and
// optional jitter. Defaults used by the runner: initial 1000ms, cap
// 30000ms, multiplier 2.0, jitter enabled.
type Backoff struct {
	Initial    time.Duration
	Max        time.Duration
	Multiplier float64
	Jitter     bool

	attempt int
}

// NewBackoff returns a Backoff configured with the spec's defaults.
func NewBackoff() *Backoff {
	return &Backoff{
		Initial:    time.Second,
		Max:        30 * time.Second,
		Multiplier: 2.0,
		Jitter:     true,
	}
}

// Next returns the delay to wait before the next reconnect attempt and
// advances the internal attempt counter.
func (b *Backoff) Next() time.Duration {
	d := float64(b.Initial) * math.Pow(b.Multiplier, float64(b.attempt))
	if max := float64(b.Max); d > max {
		d = max
	}
	b.attempt++
	dur := time.Duration(d)
	if b.Jitter {
		dur = time.Duration(float64(dur) * (0.5 + rand.Float64()*0.5))
	}
	return dur
}

// Attempt reports the number of attempts made since the last Reset.
func (b *Backoff) Attempt() int { return b.attempt }

// Reset zeros the attempt counter, called on a successful connection.
func (b *Backoff) Reset() { b.attempt = 0 }
