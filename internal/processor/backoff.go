// internal/processor/backoff.go
package processor

import "time"

// Backoff returns base * 2^retryCount, capped at max. retryCount is the
// job's count before the failed attempt is recorded, so the first retry
// waits base.
func Backoff(retryCount int, base, max time.Duration) time.Duration {
	if base <= 0 {
		return 0
	}
	if retryCount < 0 {
		retryCount = 0
	}

	d := base
	for i := 0; i < retryCount; i++ {
		if max > 0 && d >= max {
			return max
		}
		d *= 2
	}
	if max > 0 && d > max {
		return max
	}
	return d
}
