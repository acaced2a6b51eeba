package errs

import (
	"context"
	"math"
	"math/rand"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
)

// BackoffConfig controls the exponential-backoff-with-full-jitter retry
// wrapper used by the Commit Protocol (§4.5) for transient storage errors.
type BackoffConfig struct {
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	MaxRetries int
}

// DefaultBackoff matches §4.5: base 100ms, cap 30s, full jitter, 10 retries.
func DefaultBackoff() BackoffConfig {
	return BackoffConfig{
		BaseDelay:  100 * time.Millisecond,
		MaxDelay:   30 * time.Second,
		MaxRetries: 10,
	}
}

// delay returns the full-jitter backoff delay for the given attempt (0-based).
func (c BackoffConfig) delay(attempt int) time.Duration {
	exp := float64(c.BaseDelay) * math.Pow(2, float64(attempt))
	capped := math.Min(exp, float64(c.MaxDelay))
	return time.Duration(rand.Int63n(int64(capped) + 1))
}

// Retry calls fn until it succeeds, returns a non-retryable error, or the
// retry budget/context is exhausted. It logs each retry at Debug.
func Retry(ctx context.Context, logger log.Logger, cfg BackoffConfig, op string, fn func(attempt int) error) error {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	var lastErr error
	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		lastErr = fn(attempt)
		if lastErr == nil {
			return nil
		}
		if !IsRetryable(lastErr) {
			return lastErr
		}
		if attempt == cfg.MaxRetries {
			break
		}
		d := cfg.delay(attempt)
		level.Debug(logger).Log(
			"msg", "retrying after transient error",
			"op", op,
			"attempt", attempt,
			"backoff", d,
			"err", lastErr,
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(d):
		}
	}
	return lastErr
}
