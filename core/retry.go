package core

import (
	"context"
	"fmt"
	"time"
)

// RetryConfig parameterizes the retry driver.
type RetryConfig struct {
	MaxRetries   int
	IsAutonomous bool
	RoleName     string
}

// InteractiveRetry is the default profile for a human-driven session: a
// small retry budget with the fast-growing interactive backoff.
func InteractiveRetry() RetryConfig {
	return RetryConfig{MaxRetries: 5, IsAutonomous: false, RoleName: "interactive"}
}

// AutonomousRetry is the default profile for a long-running unattended
// task: a larger retry budget spread over minutes so the run rides out
// multi-minute provider outages.
func AutonomousRetry(roleName string) RetryConfig {
	return RetryConfig{MaxRetries: 10, IsAutonomous: true, RoleName: roleName}
}

// RetryNotifier receives the error kind and the attempt counter for each
// retry attempt. The turn loop's UI writer
// implements this.
type RetryNotifier interface {
	NotifyRetry(kind ErrorKind, attempt, maxRetries int)
}

// WithRetry wraps a fallible operation in a bounded retry loop using the
// error classifier (C1). NonRecoverable errors return immediately; a
// Recoverable error sleeps for the configured backoff, notifies via
// notifier (if non-nil), and retries. The context is checked at every
// suspension point so cancellation is observed promptly.
func WithRetry[T any](ctx context.Context, cfg RetryConfig, notifier RetryNotifier, f func(context.Context) (T, error)) (T, error) {
	var zero T
	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 1
	}

	mode := RetryModeInteractive
	if cfg.IsAutonomous {
		mode = RetryModeAutonomous
	}

	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}

		result, err := f(ctx)
		if err == nil {
			return result, nil
		}
		lastErr = err

		classification := Classify(err)
		if !classification.Recoverable {
			return zero, err
		}
		if attempt == maxRetries-1 {
			break
		}

		if notifier != nil {
			notifier.NotifyRetry(classification.Kind, attempt+1, maxRetries)
		}

		delay := BackoffDelay(attempt, mode, maxRetries)
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, ctx.Err()
		case <-timer.C:
		}
	}

	return zero, fmt.Errorf("%s: exhausted %d retries: %w", cfg.RoleName, maxRetries, lastErr)
}
