package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

type Config struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
}

// DefaultConfig gives three attempts at 1s then 2s.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:  3,
		InitialDelay: time.Second,
		MaxDelay:     10 * time.Second,
		Multiplier:   2.0,
	}
}

// permanent marks an error that must not be retried.
type permanent struct {
	err error
}

func (p permanent) Error() string { return p.err.Error() }
func (p permanent) Unwrap() error { return p.err }

// Permanent wraps err so WithExponentialBackoff returns it immediately.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return permanent{err: err}
}

// WithExponentialBackoff runs fn until it succeeds, returns a Permanent error,
// the attempts run out, or ctx is done.
func WithExponentialBackoff(ctx context.Context, cfg Config, logger *slog.Logger, operation string, fn func() error) error {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	var lastErr error
	delay := cfg.InitialDelay
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		if ctx.Err() != nil {
			return fmt.Errorf("%s cancelled: %w", operation, ctx.Err())
		}
		err := fn()
		if err == nil {
			if attempt > 1 {
				logger.Info("retry succeeded", slog.String("operation", operation), slog.Int("attempt", attempt))
			}
			return nil
		}
		var p permanent
		if errors.As(err, &p) {
			return p.err
		}
		lastErr = err
		logger.Warn("attempt failed", slog.String("operation", operation), slog.Int("attempt", attempt),
			slog.Int("max_attempts", cfg.MaxAttempts), slog.String("error", err.Error()))
		if attempt >= cfg.MaxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("%s cancelled during retry: %w", operation, ctx.Err())
		case <-time.After(delay):
			delay = time.Duration(float64(delay) * cfg.Multiplier)
			if cfg.MaxDelay > 0 && delay > cfg.MaxDelay {
				delay = cfg.MaxDelay
			}
		}
	}
	return fmt.Errorf("%s failed after %d attempts: %w", operation, cfg.MaxAttempts, lastErr)
}
