package ssh

import (
	"math/rand"
	"time"
)

// BackoffPolicy shapes the reconnect schedule: exponential growth from
// Initial by Multiplier, capped at Max, with optional full jitter.
// MaxAttempts of zero retries until cancelled ("keep trying").
type BackoffPolicy struct {
	Initial     time.Duration
	Multiplier  float64
	Max         time.Duration
	MaxAttempts int
	Jitter      bool
}

// DefaultBackoff is the standard reconnect schedule: 1s, 2s, 4s ... capped
// at 30s, jittered, unbounded.
func DefaultBackoff() BackoffPolicy {
	return BackoffPolicy{
		Initial:    time.Second,
		Multiplier: 2.0,
		Max:        30 * time.Second,
		Jitter:     true,
	}
}

// Delay returns the wait before attempt n (1-based).
func (p BackoffPolicy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := float64(p.Initial)
	for i := 1; i < attempt; i++ {
		d *= p.Multiplier
		if d >= float64(p.Max) {
			d = float64(p.Max)
			break
		}
	}
	if d > float64(p.Max) {
		d = float64(p.Max)
	}
	if p.Jitter {
		// Full jitter: uniform in [d/2, d]. Keeps a floor so a fleet of
		// clients still spreads out without hammering instantly.
		d = d/2 + rand.Float64()*d/2
	}
	return time.Duration(d)
}

// Exhausted reports whether attempt n exceeds the attempt budget.
func (p BackoffPolicy) Exhausted(attempt int) bool {
	return p.MaxAttempts > 0 && attempt > p.MaxAttempts
}
