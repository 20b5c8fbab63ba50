package types

// HealthState is the heartbeat monitor's per-instance state.
//
// States progress as heartbeat age grows:
//
//	HealthActive → HealthWarning → HealthFailed → HealthEmergency
//
// A failed or emergency instance returns to HealthActive only after a fresh
// heartbeat arrives AND its stream counter has been resynchronized from the
// assignment ledger.
type HealthState int

const (
	// HealthActive means heartbeats are arriving within the warning window.
	HealthActive HealthState = iota

	// HealthWarning means heartbeat age exceeded the warning threshold.
	// Informational only; no corrective action is taken.
	HealthWarning

	// HealthFailed means heartbeat age exceeded the timeout (or the
	// consecutive-miss ceiling was reached). The instance is marked
	// inactive and its assignments are queued for redistribution.
	HealthFailed

	// HealthEmergency means heartbeat age exceeded the emergency
	// threshold. All the instance's assignments are force-released
	// immediately, bypassing the normal recovery retry cadence.
	HealthEmergency
)

// String returns the string representation of the health state.
func (s HealthState) String() string {
	switch s {
	case HealthActive:
		return "Active"
	case HealthWarning:
		return "Warning"
	case HealthFailed:
		return "Failed"
	case HealthEmergency:
		return "Emergency"
	default:
		return "Unknown"
	}
}

// SystemHealth summarizes orchestrator-wide health, derived from the
// proportion of registered instances currently failed.
type SystemHealth string

const (
	// SystemHealthy means the failed proportion is below the degraded ratio.
	SystemHealthy SystemHealth = "healthy"

	// SystemDegraded means a notable share of instances are failed.
	SystemDegraded SystemHealth = "degraded"

	// SystemCritical means failures dominate and capacity is at risk.
	SystemCritical SystemHealth = "critical"
)
