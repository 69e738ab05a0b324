package backoff

import (
	"testing"
	"time"
)

func TestDelayWithRand(t *testing.T) {
	p := Policy{InitialMs: 100, MaxMs: 1000, Factor: 2, Jitter: 0.1}

	tests := []struct {
		name    string
		attempt int
		random  float64
		want    time.Duration
	}{
		{"first attempt no jitter", 1, 0, 100 * time.Millisecond},
		{"first attempt full jitter", 1, 1, 110 * time.Millisecond},
		{"second attempt doubles", 2, 0, 200 * time.Millisecond},
		{"fourth attempt", 4, 0, 800 * time.Millisecond},
		{"clamped to max", 6, 0, 1000 * time.Millisecond},
		{"zero attempt treated as first", 0, 0, 100 * time.Millisecond},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := p.DelayWithRand(tt.attempt, tt.random)
			if got != tt.want {
				t.Errorf("DelayWithRand(%d, %v) = %v, want %v", tt.attempt, tt.random, got, tt.want)
			}
		})
	}
}

func TestDelayWithinJitterBounds(t *testing.T) {
	p := DefaultPolicy()
	for attempt := 1; attempt <= 10; attempt++ {
		d := p.Delay(attempt)
		min := p.DelayWithRand(attempt, 0)
		max := p.DelayWithRand(attempt, 1)
		if d < min || d > max {
			t.Errorf("attempt %d: delay %v outside [%v, %v]", attempt, d, min, max)
		}
	}
}
