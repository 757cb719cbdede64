package util

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Retry calls fn up to maxAttempts times, doubling the delay after each
// failure starting from baseDelay. It stops early on success or when ctx is
// cancelled. Failed attempts are logged at Warn on log (nil is allowed).
func Retry(ctx context.Context, log *slog.Logger, maxAttempts int, baseDelay time.Duration, fn func() error) error {
	var err error
	delay := baseDelay

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		if log != nil {
			log.Warn("attempt failed", "attempt", attempt, "of", maxAttempts, "error", err)
		}
		if attempt == maxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}

	return fmt.Errorf("giving up after %d attempts: %w", maxAttempts, err)
}
