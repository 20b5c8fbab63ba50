package breaker

import (
	"context"
	"errors"
	"fmt"

	"github.com/arloliu/streamd/types"
)

// Guard wraps calls with the breaker check and retry budget for their
// service key.
//
// A guarded call runs in three phases:
//
//  1. Breaker gate: an open breaker rejects the call with ErrBreakerOpen
//     before any attempt is made.
//  2. Retry loop: transient errors are retried with exponential backoff
//     until the budget runs out; application errors return immediately.
//  3. Outcome: exactly one success or failure is recorded on the breaker
//     for the whole call, never one per retry attempt.
type Guard struct {
	registry *Registry
	retry    RetryConfig

	// transient classifies an error as retriable. Application errors
	// (validation, capacity, not-found) are not transient and count as
	// breaker successes: the service answered, the answer was no.
	transient func(error) bool

	logger  types.Logger
	metrics types.BreakerMetrics
}

// NewGuard creates a guard over the given breaker registry.
//
// Parameters:
//   - registry: Per-service-key breakers
//   - retry: Retry budget shared by all guarded calls
//   - transient: Classifier for retriable errors
//   - logger: Structured logger
//   - metrics: Breaker metrics sink
func NewGuard(registry *Registry, retry RetryConfig, transient func(error) bool, logger types.Logger, metrics types.BreakerMetrics) *Guard {
	retry.SetDefaults()

	return &Guard{
		registry:  registry,
		retry:     retry,
		transient: transient,
		logger:    logger,
		metrics:   metrics,
	}
}

// Do runs fn under the breaker and retry policy for key.
//
// Transient errors consume the retry budget; the last error is wrapped with
// ErrRetryBudgetExhausted when the budget runs out. Non-transient errors
// return immediately and count as a breaker success. Context cancellation
// stops retrying and records no breaker outcome.
//
// Parameters:
//   - ctx: Cancels waiting between retries and the call itself
//   - key: Service key selecting the breaker (e.g. "storage")
//   - fn: The guarded operation
//
// Returns:
//   - error: nil, the application error, ErrBreakerOpen, or the wrapped
//     last transient error
func (g *Guard) Do(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	brk := g.registry.Get(key)

	if err := brk.Allow(); err != nil {
		g.metrics.RecordBreakerShortCircuit(key)
		g.logger.Debug("call short-circuited by open breaker", "service_key", key)

		return fmt.Errorf("%s: %w", key, err)
	}

	var lastErr error

	for attempt := 0; attempt < g.retry.MaxAttempts; attempt++ {
		if attempt > 0 {
			delay := g.retry.Delay(attempt - 1)
			g.metrics.RecordRetryAttempt(key)
			g.metrics.RecordRetryBackoff(key, delay.Seconds())
			g.logger.Debug("retrying guarded call",
				"service_key", key,
				"attempt", attempt+1,
				"max_attempts", g.retry.MaxAttempts,
				"backoff", delay.String(),
				"error", lastErr)

			if err := sleep(ctx, delay); err != nil {
				brk.RecordCancellation()

				return fmt.Errorf("%s: %w", key, err)
			}
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			brk.RecordSuccess()

			return nil
		}

		if isCanceled(lastErr) {
			// The caller walked away; this says nothing about service
			// health.
			brk.RecordCancellation()

			return lastErr
		}

		if !g.transient(lastErr) {
			// Application error: the service is reachable and answered.
			brk.RecordSuccess()

			return lastErr
		}
	}

	brk.RecordFailure()

	return fmt.Errorf("%s: %w after %d attempts: %w", key, types.ErrRetryBudgetExhausted, g.retry.MaxAttempts, lastErr)
}

// isCanceled reports whether err stems from caller cancellation rather than
// a service fault.
func isCanceled(err error) bool {
	return errors.Is(err, context.Canceled)
}
