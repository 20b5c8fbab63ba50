package types

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSentinelErrors(t *testing.T) {
	t.Run("errors.Is works correctly", func(t *testing.T) {
		require.True(t, errors.Is(ErrUnknownInstance, ErrUnknownInstance))
		require.False(t, errors.Is(ErrUnknownInstance, ErrInvalidRegistration))

		// Wrapped errors maintain identity.
		wrapped := fmt.Errorf("heartbeat for relay-7: %w", ErrUnknownInstance)
		require.True(t, errors.Is(wrapped, ErrUnknownInstance))
	})

	t.Run("all errors are distinct", func(t *testing.T) {
		allErrors := []error{
			// Orchestrator errors
			ErrInvalidConfig,
			ErrNATSConnectionRequired,
			ErrStreamSourceRequired,
			ErrAlreadyStarted,
			ErrNotStarted,
			ErrNotLeader,
			ErrConnectivity,
			ErrReplicaIDClaimFailed,
			// Store errors
			ErrStoreBusy,
			ErrRevisionConflict,
			ErrNotFound,
			ErrStreamTaken,
			// Breaker errors
			ErrBreakerOpen,
			ErrRetryBudgetExhausted,
			// Registry errors
			ErrInvalidRegistration,
			ErrUnknownInstance,
			ErrInstanceInactive,
			ErrMonitorAlreadyStarted,
			ErrMonitorNotStarted,
			// Balance errors
			ErrNoInstancesAvailable,
			ErrRebalanceCooldown,
			ErrRebalanceInProgress,
			// Election errors
			ErrElectionFailed,
		}

		seen := make(map[string]bool, len(allErrors))
		for _, err := range allErrors {
			msg := err.Error()
			require.False(t, seen[msg], "duplicate error message: %s", msg)
			seen[msg] = true
		}
	})
}

func TestIsRetriable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"store busy", ErrStoreBusy, true},
		{"revision conflict", ErrRevisionConflict, true},
		{"connectivity", ErrConnectivity, true},
		{"wrapped store busy", fmt.Errorf("grant: %w", ErrStoreBusy), true},
		{"unknown instance", ErrUnknownInstance, false},
		{"breaker open", ErrBreakerOpen, false},
		{"nil", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, IsRetriable(tt.err))
		})
	}
}
