package breaker

import (
	"context"
	"math"
	"math/rand"
	"time"
)

// RetryConfig controls the retry budget for guarded calls.
type RetryConfig struct {
	// MaxAttempts is the total number of attempts, including the first.
	MaxAttempts int `yaml:"maxAttempts"`

	// BaseDelay is the delay before the first retry.
	BaseDelay time.Duration `yaml:"baseDelay"`

	// MaxDelay caps the computed backoff delay.
	MaxDelay time.Duration `yaml:"maxDelay"`

	// ExponentialBase is the backoff multiplier between attempts.
	ExponentialBase float64 `yaml:"exponentialBase"`

	// Jitter adds up to 25% randomization to each delay when enabled,
	// preventing synchronized retry storms across callers.
	Jitter bool `yaml:"jitter"`
}

// SetDefaults fills zero fields with production defaults.
func (c *RetryConfig) SetDefaults() {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = 100 * time.Millisecond
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = 5 * time.Second
	}
	if c.ExponentialBase <= 0 {
		c.ExponentialBase = 2.0
	}
}

// Delay returns the backoff delay before retry number attempt.
//
// The first retry is attempt 0. The delay grows as
// base * exponentialBase^attempt, capped at MaxDelay, with optional jitter.
func (c *RetryConfig) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}

	delay := float64(c.BaseDelay) * math.Pow(c.ExponentialBase, float64(attempt))
	if delay > float64(c.MaxDelay) {
		delay = float64(c.MaxDelay)
	}

	if c.Jitter {
		// Uniform in [0.75, 1.25) of the computed delay.
		delay *= 0.75 + rand.Float64()*0.5 //nolint:gosec // not used for crypto
		if delay > float64(c.MaxDelay) {
			delay = float64(c.MaxDelay)
		}
	}

	return time.Duration(delay)
}

// sleep waits for d or until ctx is done, whichever comes first.
//
// Returns:
//   - error: ctx.Err() when the context ended the wait, nil otherwise
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
