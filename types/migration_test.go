package types

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMigrationReasonBasePriority(t *testing.T) {
	t.Parallel()

	// Failure-driven migrations outrank every planned trigger.
	require.Equal(t, 100, ReasonInstanceFailure.BasePriority())
	require.Equal(t, 80, ReasonPerformanceDegradation.BasePriority())
	require.Equal(t, 70, ReasonLoadImbalance.BasePriority())
	require.Equal(t, 60, ReasonManual.BasePriority())
	require.Equal(t, 50, ReasonNewInstance.BasePriority())
	require.Equal(t, 0, MigrationReason("bogus").BasePriority())

	require.Greater(t, ReasonInstanceFailure.BasePriority(), ReasonPerformanceDegradation.BasePriority())
	require.Greater(t, ReasonPerformanceDegradation.BasePriority(), ReasonLoadImbalance.BasePriority())
	require.Greater(t, ReasonLoadImbalance.BasePriority(), ReasonManual.BasePriority())
	require.Greater(t, ReasonManual.BasePriority(), ReasonNewInstance.BasePriority())
}

func TestMigrationPriority(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		reason MigrationReason
		score  float64
		want   int
	}{
		{"failure with perfect target", ReasonInstanceFailure, 1.0, 120},
		{"failure with weak target", ReasonInstanceFailure, 0.1, 102},
		{"imbalance rounds half up", ReasonLoadImbalance, 0.525, 81},
		{"manual mid-score", ReasonManual, 0.5, 70},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, MigrationPriority(tt.reason, tt.score))
		})
	}
}

func TestMigrationPlanTotalStreams(t *testing.T) {
	t.Parallel()

	plan := &MigrationPlan{
		Migrations: []Migration{
			{FromServerID: "relay-1", ToServerID: "relay-2", StreamCount: 3},
			{FromServerID: "relay-1", ToServerID: "relay-3", StreamCount: 2},
		},
	}
	require.Equal(t, 5, plan.TotalStreams())

	empty := &MigrationPlan{}
	require.Equal(t, 0, empty.TotalStreams())
}
