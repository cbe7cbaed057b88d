package retry

import (
	"context"
	"errors"
	"log/slog"
	"math/rand"
	"time"
)

var ErrInvalidMaxAttempts = errors.New("max attempts must be positive")

// Do retries an operation with exponential backoff and jitter. Only
// transient errors are retried; a permanent error aborts immediately and is
// returned as-is. The delay doubles each attempt and every sleep is spread
// uniformly over [delay/2, delay] so concurrent workers don't retry in
// lockstep against a struggling provider.
func Do(ctx context.Context, operation func() error, maxAttempts int, baseDelay time.Duration) error {
	if maxAttempts <= 0 {
		return ErrInvalidMaxAttempts
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		lastErr = operation()
		if lastErr == nil {
			if attempt > 1 {
				slog.Debug("Operation succeeded after retry", "attempt", attempt)
			}
			return nil
		}

		if !IsTransient(lastErr) {
			return lastErr
		}

		if attempt == maxAttempts {
			break
		}

		slog.Debug("Operation failed, will retry",
			"attempt", attempt, "max_attempts", maxAttempts, "error", lastErr)

		if err := Backoff(ctx, attempt, baseDelay); err != nil {
			return err
		}
	}

	return lastErr
}

// Backoff sleeps for the delay that follows a failed attempt (1-based). The
// delay doubles per attempt and is jittered over [delay/2, delay]. Returns
// early with the context's error if it is cancelled mid-sleep.
func Backoff(ctx context.Context, attempt int, baseDelay time.Duration) error {
	delay := baseDelay << uint(attempt-1)
	delay = delay/2 + time.Duration(rand.Int63n(int64(delay/2)+1))

	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
