// Package retry provides bounded retry with per-attempt delays for
// transient failures, mainly outbound HTTP calls.
package retry

import (
	"context"
	"fmt"
	"time"
)

// Config bounds the retry loop.
type Config struct {
	MaxAttempts int
	Delays      []time.Duration
}

// WithRetry runs fn up to MaxAttempts times. Delays are applied between
// attempts; when the schedule is shorter than the attempt count the last
// delay repeats. Context cancellation aborts the wait immediately.
func WithRetry(ctx context.Context, cfg Config, fn func() error) error {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < cfg.MaxAttempts; attempt++ {
		if attempt > 0 && len(cfg.Delays) > 0 {
			idx := attempt - 1
			if idx >= len(cfg.Delays) {
				idx = len(cfg.Delays) - 1
			}
			select {
			case <-time.After(cfg.Delays[idx]):
			case <-ctx.Done():
				return fmt.Errorf("retry cancelled: %w", ctx.Err())
			}
		}

		if err := fn(); err == nil {
			return nil
		} else {
			lastErr = err
		}
	}

	return fmt.Errorf("failed after %d attempts: %w", cfg.MaxAttempts, lastErr)
}
