package domain

import (
	"math/rand"
	"time"
)

// BackoffPolicy bounds the retry delay curve.
type BackoffPolicy struct {
	Base time.Duration
	Max  time.Duration
}

func DefaultBackoffPolicy() BackoffPolicy {
	return BackoffPolicy{
		Base: 500 * time.Millisecond,
		Max:  30 * time.Second,
	}
}

// Delay computes the retry delay for a zero-based attempt index:
//
//	min(base * 2^attempt, max) + uniform(0, base)
//
// The jitter stays bounded by base rather than by the capped exponential
// term, which decorrelates devices retrying after a shared outage.
func Delay(attempt int, p BackoffPolicy) time.Duration {
	base := p.Base
	if base <= 0 {
		base = time.Millisecond
	}

	factor := int64(1)
	if attempt > 0 {
		if attempt > 30 {
			// Cap the exponent to avoid overflow.
			factor = 1 << 30
		} else {
			factor = 1 << attempt
		}
	}

	delay := time.Duration(int64(base) * factor)
	if delay > p.Max || delay < 0 {
		delay = p.Max
	}

	return delay + time.Duration(rand.Int63n(int64(base)))
}
