package breaker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/arloliu/streamd/internal/logging"
	"github.com/arloliu/streamd/metrics"
	"github.com/arloliu/streamd/types"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.now = c.now.Add(d)
}

func newTestBreaker(cfg Config) (*Breaker, *fakeClock) {
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	brk := New("storage", cfg, logging.NewNop(), metrics.NewNop())
	brk.now = clock.Now

	return brk, clock
}

func TestState_String(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{StateClosed, "closed"},
		{StateOpen, "open"},
		{StateHalfOpen, "half-open"},
		{State(99), "unknown"},
	}

	for _, tt := range tests {
		require.Equal(t, tt.want, tt.state.String())
	}
}

func TestBreaker_OpensAfterConsecutiveFailures(t *testing.T) {
	brk, _ := newTestBreaker(Config{FailureThreshold: 3, RecoveryTimeout: 30 * time.Second})

	for i := 0; i < 2; i++ {
		require.NoError(t, brk.Allow())
		brk.RecordFailure()
		require.Equal(t, StateClosed, brk.State(), "breaker must stay closed below the threshold")
	}

	require.NoError(t, brk.Allow())
	brk.RecordFailure()
	require.Equal(t, StateOpen, brk.State())

	// Open breaker rejects without attempting the underlying operation.
	err := brk.Allow()
	require.ErrorIs(t, err, types.ErrBreakerOpen)
}

func TestBreaker_SuccessResetsFailureCount(t *testing.T) {
	brk, _ := newTestBreaker(Config{FailureThreshold: 3, RecoveryTimeout: 30 * time.Second})

	brk.RecordFailure()
	brk.RecordFailure()
	require.Equal(t, 2, brk.Failures())

	brk.RecordSuccess()
	require.Equal(t, 0, brk.Failures())

	// The old failures no longer count toward the threshold.
	brk.RecordFailure()
	brk.RecordFailure()
	require.Equal(t, StateClosed, brk.State())
}

func TestBreaker_StaysOpenUntilRecoveryTimeout(t *testing.T) {
	brk, clock := newTestBreaker(Config{FailureThreshold: 1, RecoveryTimeout: 30 * time.Second})

	brk.RecordFailure()
	require.Equal(t, StateOpen, brk.State())

	clock.Advance(29 * time.Second)
	require.ErrorIs(t, brk.Allow(), types.ErrBreakerOpen)

	clock.Advance(2 * time.Second)
	require.NoError(t, brk.Allow(), "recovery timeout elapsed, probe must be admitted")
	require.Equal(t, StateHalfOpen, brk.State())
}

func TestBreaker_HalfOpenAdmitsSingleProbe(t *testing.T) {
	brk, clock := newTestBreaker(Config{FailureThreshold: 1, RecoveryTimeout: 10 * time.Second})

	brk.RecordFailure()
	clock.Advance(11 * time.Second)

	require.NoError(t, brk.Allow())

	// A second caller while the probe is in flight is rejected.
	require.ErrorIs(t, brk.Allow(), types.ErrBreakerOpen)

	brk.RecordSuccess()
	require.Equal(t, StateClosed, brk.State())
	require.Equal(t, 0, brk.Failures())
	require.NoError(t, brk.Allow())
}

func TestBreaker_FailedProbeReopens(t *testing.T) {
	brk, clock := newTestBreaker(Config{FailureThreshold: 1, RecoveryTimeout: 10 * time.Second})

	brk.RecordFailure()
	clock.Advance(11 * time.Second)

	require.NoError(t, brk.Allow())
	brk.RecordFailure()
	require.Equal(t, StateOpen, brk.State())

	// The reopened breaker starts a fresh recovery window.
	require.ErrorIs(t, brk.Allow(), types.ErrBreakerOpen)
	clock.Advance(11 * time.Second)
	require.NoError(t, brk.Allow())
}

func TestBreaker_CancellationReleasesProbeSlot(t *testing.T) {
	brk, clock := newTestBreaker(Config{FailureThreshold: 1, RecoveryTimeout: 10 * time.Second})

	brk.RecordFailure()
	clock.Advance(11 * time.Second)

	require.NoError(t, brk.Allow())
	require.ErrorIs(t, brk.Allow(), types.ErrBreakerOpen)

	// The probe call was canceled; the state is unchanged but the next
	// caller may probe.
	brk.RecordCancellation()
	require.Equal(t, StateHalfOpen, brk.State())
	require.NoError(t, brk.Allow())
}

func TestBreaker_IllegalTransitionRejected(t *testing.T) {
	require.False(t, isValidTransition(StateClosed, StateHalfOpen))
	require.False(t, isValidTransition(StateOpen, StateClosed))
	require.True(t, isValidTransition(StateClosed, StateOpen))
	require.True(t, isValidTransition(StateOpen, StateHalfOpen))
	require.True(t, isValidTransition(StateHalfOpen, StateClosed))
	require.True(t, isValidTransition(StateHalfOpen, StateOpen))
}
