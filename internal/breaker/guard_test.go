package breaker

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/arloliu/streamd/internal/logging"
	"github.com/arloliu/streamd/types"
)

// captureMetrics records breaker metric calls for assertions.
type captureMetrics struct {
	mu            sync.Mutex
	shortCircuits int
	retryAttempts int
}

func (m *captureMetrics) RecordBreakerState(_ /* serviceKey */, _ /* state */ string) {}

func (m *captureMetrics) RecordBreakerShortCircuit(_ /* serviceKey */ string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.shortCircuits++
}

func (m *captureMetrics) RecordRetryAttempt(_ /* serviceKey */ string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.retryAttempts++
}

func (m *captureMetrics) RecordRetryBackoff(_ /* serviceKey */ string, _ /* seconds */ float64) {}

func newTestGuard(breakerCfg Config, retryCfg RetryConfig) (*Guard, *Registry, *captureMetrics) {
	capture := &captureMetrics{}
	logger := logging.NewNop()
	registry := NewRegistry(breakerCfg, nil, logger, capture)
	guard := NewGuard(registry, retryCfg, types.IsRetriable, logger, capture)

	return guard, registry, capture
}

func fastRetry(maxAttempts int) RetryConfig {
	return RetryConfig{
		MaxAttempts:     maxAttempts,
		BaseDelay:       time.Millisecond,
		MaxDelay:        5 * time.Millisecond,
		ExponentialBase: 2.0,
	}
}

func TestGuard_SuccessFirstAttempt(t *testing.T) {
	guard, registry, _ := newTestGuard(Config{FailureThreshold: 3}, fastRetry(3))

	calls := 0
	err := guard.Do(t.Context(), KeyStorage, func(_ context.Context) error {
		calls++

		return nil
	})

	require.NoError(t, err)
	require.Equal(t, 1, calls)
	require.Equal(t, StateClosed, registry.Get(KeyStorage).State())
}

func TestGuard_TransientErrorRetriesThenSucceeds(t *testing.T) {
	guard, registry, capture := newTestGuard(Config{FailureThreshold: 3}, fastRetry(3))

	calls := 0
	err := guard.Do(t.Context(), KeyStorage, func(_ context.Context) error {
		calls++
		if calls < 3 {
			return types.ErrConnectivity
		}

		return nil
	})

	require.NoError(t, err)
	require.Equal(t, 3, calls)
	require.Equal(t, 2, capture.retryAttempts)

	// The call succeeded overall, so no breaker failure was recorded.
	require.Equal(t, 0, registry.Get(KeyStorage).Failures())
}

func TestGuard_RetryBudgetExhausted(t *testing.T) {
	guard, registry, _ := newTestGuard(Config{FailureThreshold: 3}, fastRetry(3))

	calls := 0
	err := guard.Do(t.Context(), KeyStorage, func(_ context.Context) error {
		calls++

		return types.ErrStoreBusy
	})

	require.Equal(t, 3, calls)
	require.ErrorIs(t, err, types.ErrRetryBudgetExhausted)
	require.ErrorIs(t, err, types.ErrStoreBusy, "the last underlying error stays inspectable")

	// Three failed attempts count as one breaker failure, not three.
	require.Equal(t, 1, registry.Get(KeyStorage).Failures())
}

func TestGuard_ApplicationErrorReturnsImmediately(t *testing.T) {
	guard, registry, capture := newTestGuard(Config{FailureThreshold: 3}, fastRetry(3))

	calls := 0
	err := guard.Do(t.Context(), KeyStorage, func(_ context.Context) error {
		calls++

		return types.ErrUnknownInstance
	})

	require.ErrorIs(t, err, types.ErrUnknownInstance)
	require.Equal(t, 1, calls, "application errors must not be retried")
	require.Equal(t, 0, capture.retryAttempts)

	// The service answered; the breaker records a success.
	require.Equal(t, 0, registry.Get(KeyStorage).Failures())
	require.Equal(t, StateClosed, registry.Get(KeyStorage).State())
}

func TestGuard_OpensAfterThresholdAndShortCircuits(t *testing.T) {
	guard, registry, capture := newTestGuard(
		Config{FailureThreshold: 3, RecoveryTimeout: 30 * time.Second},
		fastRetry(1),
	)

	// Three consecutive failing calls trip the breaker.
	for i := 0; i < 3; i++ {
		err := guard.Do(t.Context(), KeyStorage, func(_ context.Context) error {
			return types.ErrConnectivity
		})
		require.Error(t, err)
	}

	require.Equal(t, StateOpen, registry.Get(KeyStorage).State())

	// The fourth call fails immediately without reaching the operation.
	calls := 0
	err := guard.Do(t.Context(), KeyStorage, func(_ context.Context) error {
		calls++

		return nil
	})

	require.ErrorIs(t, err, types.ErrBreakerOpen)
	require.Equal(t, 0, calls)
	require.Equal(t, 1, capture.shortCircuits)
}

func TestGuard_ProbeClosesBreakerOnSuccess(t *testing.T) {
	guard, registry, _ := newTestGuard(
		Config{FailureThreshold: 1, RecoveryTimeout: 10 * time.Second},
		fastRetry(1),
	)

	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	brk := registry.Get(KeyStorage)
	brk.now = clock.Now

	err := guard.Do(t.Context(), KeyStorage, func(_ context.Context) error {
		return types.ErrConnectivity
	})
	require.Error(t, err)
	require.Equal(t, StateOpen, brk.State())

	clock.Advance(11 * time.Second)

	// Exactly one probe is admitted and its success closes the breaker.
	calls := 0
	err = guard.Do(t.Context(), KeyStorage, func(_ context.Context) error {
		calls++

		return nil
	})

	require.NoError(t, err)
	require.Equal(t, 1, calls)
	require.Equal(t, StateClosed, brk.State())
}

func TestGuard_ProbeReopensBreakerOnFailure(t *testing.T) {
	guard, registry, _ := newTestGuard(
		Config{FailureThreshold: 1, RecoveryTimeout: 10 * time.Second},
		fastRetry(1),
	)

	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	brk := registry.Get(KeyStorage)
	brk.now = clock.Now

	err := guard.Do(t.Context(), KeyStorage, func(_ context.Context) error {
		return types.ErrConnectivity
	})
	require.Error(t, err)

	clock.Advance(11 * time.Second)

	err = guard.Do(t.Context(), KeyStorage, func(_ context.Context) error {
		return types.ErrConnectivity
	})
	require.ErrorIs(t, err, types.ErrRetryBudgetExhausted)
	require.Equal(t, StateOpen, brk.State())
}

func TestGuard_ContextCanceledRecordsNoOutcome(t *testing.T) {
	guard, registry, _ := newTestGuard(
		Config{FailureThreshold: 3},
		RetryConfig{MaxAttempts: 3, BaseDelay: time.Minute, MaxDelay: time.Minute, ExponentialBase: 2.0},
	)

	ctx, cancel := context.WithCancel(t.Context())

	calls := 0
	done := make(chan error, 1)
	go func() {
		done <- guard.Do(ctx, KeyStorage, func(_ context.Context) error {
			calls++

			return types.ErrConnectivity
		})
	}()

	// Cancel while the guard waits out the first backoff.
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("guard did not return after cancellation")
	}

	require.Equal(t, 1, calls)
	require.Equal(t, 0, registry.Get(KeyStorage).Failures(), "cancellation is not a breaker outcome")
}

func TestGuard_IndependentServiceKeys(t *testing.T) {
	guard, registry, _ := newTestGuard(
		Config{FailureThreshold: 1, RecoveryTimeout: 30 * time.Second},
		fastRetry(1),
	)

	err := guard.Do(t.Context(), KeyStorage, func(_ context.Context) error {
		return types.ErrConnectivity
	})
	require.Error(t, err)
	require.Equal(t, StateOpen, registry.Get(KeyStorage).State())

	// The catalog breaker is unaffected by storage failures.
	err = guard.Do(t.Context(), KeyCatalog, func(_ context.Context) error {
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, StateClosed, registry.Get(KeyCatalog).State())
}

func TestRegistry_PerKeyOverrides(t *testing.T) {
	registry := NewRegistry(
		Config{FailureThreshold: 5, RecoveryTimeout: 30 * time.Second},
		map[string]Config{
			KeyStorage: {FailureThreshold: 2, RecoveryTimeout: 10 * time.Second},
		},
		logging.NewNop(),
		&captureMetrics{},
	)

	storage := registry.Get(KeyStorage)
	storage.RecordFailure()
	storage.RecordFailure()
	require.Equal(t, StateOpen, storage.State(), "override threshold of 2 applies")

	catalog := registry.Get(KeyCatalog)
	catalog.RecordFailure()
	catalog.RecordFailure()
	require.Equal(t, StateClosed, catalog.State(), "default threshold of 5 applies")

	states := registry.States()
	require.Equal(t, "open", states[KeyStorage])
	require.Equal(t, "closed", states[KeyCatalog])
}
