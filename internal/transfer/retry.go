package transfer

import (
	"context"
	"fmt"
	"time"

	"github.com/italolelis/batch_downloader/internal/logctx"
)

// RetryPolicy retries transient failures with exponential backoff. Permanent
// failures and cancellation propagate immediately.
type RetryPolicy struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration

	// OnRetry, when set, is invoked before each backoff sleep.
	OnRetry func(attempt int, err error)
}

// DefaultRetryPolicy matches the posture flaky document hosts tolerate
// well: three attempts, one second doubling to a ten second cap.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:  3,
		InitialDelay: time.Second,
		MaxDelay:     10 * time.Second,
	}
}

// Do runs op until it succeeds, fails permanently, exhausts attempts, or the
// context ends. The final error wraps the last attempt's error so callers
// can still classify it with errors.As.
func (p RetryPolicy) Do(ctx context.Context, op func(ctx context.Context) error) error {
	logger := logctx.LoggerFromContext(ctx)

	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	delay := p.InitialDelay
	if delay <= 0 {
		delay = time.Second
	}

	var lastErr error

	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = op(ctx)
		if lastErr == nil {
			return nil
		}

		if !IsTransient(lastErr) {
			return lastErr
		}

		if attempt == attempts {
			break
		}

		if p.OnRetry != nil {
			p.OnRetry(attempt, lastErr)
		}

		logger.Warn("transient failure, backing off",
			"attempt", attempt,
			"delay", delay.String(),
			"err", lastErr)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()

			return ctx.Err()
		case <-timer.C:
		}

		delay *= 2
		if p.MaxDelay > 0 && delay > p.MaxDelay {
			delay = p.MaxDelay
		}
	}

	return fmt.Errorf("all %d attempts failed: %w", attempts, lastErr)
}
