// Package backoff computes retry delays shared by the cache reconnect loop
// and the upstream speech client.
package backoff

import (
	"math"
	"math/rand"
	"time"
)

const (
	defaultBase = 100 * time.Millisecond

	// 2^10 = 1024x multiplier is more than enough
	maxExponent = 10
)

// FullJitter returns a random delay in [0, min(base*2^attempt, limit)].
//
// Full jitter spreads retries from many callers across the whole window
// instead of synchronizing them on the same instants.
//
// Example progression (base=100ms):
// Attempt 0: 0-100ms
// Attempt 1: 0-200ms
// Attempt 2: 0-400ms
// ...capped at limit
func FullJitter(base, limit time.Duration, attempt int) time.Duration {
	ceiling := Ceiling(base, limit, attempt)
	return time.Duration(rand.Float64() * float64(ceiling))
}

// Ceiling is the upper bound FullJitter draws from for the given attempt.
func Ceiling(base, limit time.Duration, attempt int) time.Duration {
	if base <= 0 {
		base = defaultBase
	}
	if attempt < 0 {
		attempt = 0
	}
	if attempt > maxExponent {
		attempt = maxExponent
	}

	ceiling := time.Duration(float64(base) * math.Pow(2, float64(attempt)))
	if limit > 0 && ceiling > limit {
		ceiling = limit
	}
	return ceiling
}
