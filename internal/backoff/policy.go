// Package backoff computes exponential retry delays with jitter.
package backoff

import (
	"math"
	"math/rand"
	"time"
)

// Policy parameterizes exponential backoff.
type Policy struct {
	// InitialMs is the first delay in milliseconds.
	InitialMs float64
	// MaxMs caps the computed delay.
	MaxMs float64
	// Factor multiplies the delay per attempt.
	Factor float64
	// Jitter is the randomization fraction in [0, 1].
	Jitter float64
}

// Delay returns the backoff for attempt (1-based):
// min(MaxMs, InitialMs * Factor^(attempt-1) * (1 + Jitter*rand)).
func (p Policy) Delay(attempt int) time.Duration {
	return p.DelayWithRand(attempt, rand.Float64()) // #nosec G404 -- jitter does not need crypto randomness
}

// DelayWithRand computes the delay with a caller-supplied random value in
// [0, 1), which keeps tests deterministic.
func (p Policy) DelayWithRand(attempt int, randomValue float64) time.Duration {
	exp := math.Max(float64(attempt-1), 0)
	base := p.InitialMs * math.Pow(p.Factor, exp)
	total := math.Min(p.MaxMs, base+base*p.Jitter*randomValue)
	return time.Duration(math.Round(total)) * time.Millisecond
}

// DefaultPolicy suits provider retries: 250ms initial, 30s cap, doubling,
// 10% jitter.
func DefaultPolicy() Policy {
	return Policy{
		InitialMs: 250,
		MaxMs:     30000,
		Factor:    2,
		Jitter:    0.1,
	}
}

// SupervisorPolicy suits agent restarts: 500ms initial, 60s cap.
func SupervisorPolicy() Policy {
	return Policy{
		InitialMs: 500,
		MaxMs:     60000,
		Factor:    2,
		Jitter:    0.2,
	}
}
