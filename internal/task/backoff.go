package task

import (
	"time"

	"github.com/sethvargo/go-retry"
)

// ExponentialBackoff returns the delay before retry number attempt (1-based):
// base, 2*base, 4*base ... capped at max.
func ExponentialBackoff(base, max time.Duration) func(attempt int) time.Duration {
	if base <= 0 {
		base = time.Second
	}
	if max < base {
		max = base
	}
	return func(attempt int) time.Duration {
		if attempt < 1 {
			attempt = 1
		}
		b := retry.WithCappedDuration(max, retry.NewExponential(base))
		var d time.Duration
		for i := 0; i < attempt; i++ {
			next, stop := b.Next()
			if stop {
				break
			}
			d = next
		}
		return d
	}
}
