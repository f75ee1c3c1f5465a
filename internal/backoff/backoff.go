// Package backoff computes retry delays for failed stage attempts. The
// policy is a pure function of the attempt number so tests never need real
// clocks.
package backoff

import (
	"math"
	"time"
)

// Policy computes the delay before retrying a failed attempt as
// Base * Rate^(attempt-1).
type Policy struct {
	Base time.Duration
	Rate float64
}

// Default returns the standard policy: 30s base doubling per attempt.
func Default() Policy {
	return Policy{Base: 30 * time.Second, Rate: 2}
}

// FromSettings builds a policy from configured base seconds and rate,
// falling back to defaults for non-positive values.
func FromSettings(baseSeconds int, rate float64) Policy {
	policy := Default()
	if baseSeconds > 0 {
		policy.Base = time.Duration(baseSeconds) * time.Second
	}
	if rate >= 1 {
		policy.Rate = rate
	}
	return policy
}

// Delay returns the wait before attempt+1. Attempt is 1-based; values below
// 1 yield no delay.
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 1 || p.Base <= 0 {
		return 0
	}
	factor := math.Pow(p.Rate, float64(attempt-1))
	return time.Duration(float64(p.Base) * factor)
}
