package binance

import (
	"context"
	"math"
	"time"
)

const defaultReconnectDelay = 5 * time.Second

// Backoff returns base * multiplier^attempt, capped at max when max > 0.
//
//	attempt 0 -> 5s
//	attempt 1 -> 7.5s
//	attempt 2 -> 11.25s
func Backoff(base time.Duration, multiplier float64, attempt int, max time.Duration) time.Duration {
	if base <= 0 {
		base = defaultReconnectDelay
	}
	if multiplier < 1 {
		multiplier = 1
	}
	if attempt < 0 {
		attempt = 0
	}

	delay := float64(base) * math.Pow(multiplier, float64(attempt))
	if max > 0 && delay > float64(max) {
		return max
	}
	if delay > float64(math.MaxInt64) {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(delay)
}

// waitForReconnect sleeps for delay and reports true when ctx ended first.
func waitForReconnect(ctx context.Context, delay time.Duration) bool {
	if delay <= 0 {
		delay = defaultReconnectDelay
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return true
	case <-timer.C:
		return false
	}
}
