package testutil

import (
	"time"

	"github.com/arloliu/streamd"
)

// TimingProfile encapsulates a set of tuned timing parameters for integration
// tests. Profiles centralize commonly used shortened intervals so tests
// remain consistent and easy to adjust globally without touching every file.
//
// The profile follows the configuration constraints:
//   - Monitor.Timeout = TimeoutMultiplier * PollInterval, and > PollInterval
//   - Monitor.EmergencyThreshold = EmergencyMultiplier * Timeout, and >= Timeout
//   - Store.HeartbeatTTL > Monitor.Timeout
//   - ElectionTimeout <= Store.LeaderTTL
//
// Only fields that differ from test defaults should be set; ApplyTo merges
// with defaults and repairs constraint violations. Use MakeFast() for
// aggressive failure detection timings; MakeBaseline() mirrors
// IntegrationTestConfig.
type TimingProfile struct {
	PollInterval        time.Duration
	WarningMultiplier   float64 // applied to PollInterval for Monitor.WarningThreshold
	TimeoutMultiplier   float64 // applied to PollInterval for Monitor.Timeout
	EmergencyMultiplier float64 // applied to Monitor.Timeout for Monitor.EmergencyThreshold
	RecoveryBaseDelay   time.Duration
	ElectionTimeout     time.Duration
	LeaderTTL           time.Duration
	ReplicaIDTTL        time.Duration
	StartupTimeout      time.Duration
	ShutdownTimeout     time.Duration
	RebalanceCooldown   time.Duration
	BalancerInterval    time.Duration
	ConsistencyInterval time.Duration
}

// MakeFast returns an aggressive profile for failure detection and recovery
// tests: a dead instance is classified within about 1.5 seconds.
func MakeFast() TimingProfile {
	return TimingProfile{
		PollInterval:        100 * time.Millisecond,
		WarningMultiplier:   5.0,  // 500ms
		TimeoutMultiplier:   15.0, // 1.5s
		EmergencyMultiplier: 2.0,  // 3s
		RecoveryBaseDelay:   50 * time.Millisecond,
		ElectionTimeout:     2 * time.Second,
		LeaderTTL:           5 * time.Second,
		ReplicaIDTTL:        5 * time.Second,
		StartupTimeout:      10 * time.Second,
		ShutdownTimeout:     5 * time.Second,
		RebalanceCooldown:   200 * time.Millisecond,
		BalancerInterval:    time.Hour, // scenario tests drive rebalances explicitly
		ConsistencyInterval: time.Hour,
	}
}

// MakeBaseline returns a stable baseline similar to IntegrationTestConfig
// for general scenarios with heartbeating instance fleets.
func MakeBaseline() TimingProfile {
	return TimingProfile{
		PollInterval:        200 * time.Millisecond,
		WarningMultiplier:   10.0, // 2s
		TimeoutMultiplier:   25.0, // 5s
		EmergencyMultiplier: 2.0,  // 10s
		RecoveryBaseDelay:   50 * time.Millisecond,
		ElectionTimeout:     2 * time.Second,
		LeaderTTL:           5 * time.Second,
		ReplicaIDTTL:        5 * time.Second,
		StartupTimeout:      10 * time.Second,
		ShutdownTimeout:     5 * time.Second,
		RebalanceCooldown:   500 * time.Millisecond,
		BalancerInterval:    time.Hour,
		ConsistencyInterval: time.Hour,
	}
}

// ApplyTo applies the timing profile to an existing streamd.Config,
// respecting defaults and computing derived fields. Fields with zero values
// or multipliers <= 0 are skipped. Returns the mutated config pointer for
// chaining.
func (tp TimingProfile) ApplyTo(cfg *streamd.Config) *streamd.Config {
	// Base defaults
	streamd.SetDefaults(cfg)

	if tp.PollInterval > 0 {
		cfg.Monitor.PollInterval = tp.PollInterval
	}
	if tp.WarningMultiplier > 0 && tp.PollInterval > 0 {
		cfg.Monitor.WarningThreshold = time.Duration(float64(tp.PollInterval) * tp.WarningMultiplier)
	}
	if tp.TimeoutMultiplier > 0 && tp.PollInterval > 0 {
		cfg.Monitor.Timeout = time.Duration(float64(tp.PollInterval) * tp.TimeoutMultiplier)
	}
	if tp.EmergencyMultiplier > 0 {
		cfg.Monitor.EmergencyThreshold = time.Duration(float64(cfg.Monitor.Timeout) * tp.EmergencyMultiplier)
	}
	if tp.RecoveryBaseDelay > 0 {
		cfg.Monitor.RecoveryBaseDelay = tp.RecoveryBaseDelay
	}
	if tp.ElectionTimeout > 0 {
		cfg.ElectionTimeout = tp.ElectionTimeout
	}
	if tp.LeaderTTL > 0 {
		cfg.Store.LeaderTTL = tp.LeaderTTL
	}
	if tp.ReplicaIDTTL > 0 {
		cfg.ReplicaIDTTL = tp.ReplicaIDTTL
	}
	if tp.StartupTimeout > 0 {
		cfg.StartupTimeout = tp.StartupTimeout
	}
	if tp.ShutdownTimeout > 0 {
		cfg.ShutdownTimeout = tp.ShutdownTimeout
	}
	if tp.RebalanceCooldown > 0 {
		cfg.Balancer.MinRebalanceInterval = tp.RebalanceCooldown
	}
	if tp.BalancerInterval > 0 {
		cfg.Balancer.CheckInterval = tp.BalancerInterval
	}
	if tp.ConsistencyInterval > 0 {
		cfg.Consistency.CheckInterval = tp.ConsistencyInterval
	}

	// Invariant adjustments / sanity:
	// Ensure Monitor.Timeout > PollInterval
	if cfg.Monitor.Timeout <= cfg.Monitor.PollInterval {
		cfg.Monitor.Timeout = 2 * cfg.Monitor.PollInterval
	}
	// Ensure EmergencyThreshold >= Timeout
	if cfg.Monitor.EmergencyThreshold < cfg.Monitor.Timeout {
		cfg.Monitor.EmergencyThreshold = cfg.Monitor.Timeout
	}
	// Ensure heartbeat rows outlive failure detection
	if cfg.Store.HeartbeatTTL <= cfg.Monitor.Timeout {
		cfg.Store.HeartbeatTTL = 4 * cfg.Monitor.Timeout
	}
	// Ensure lease renewal beats key expiry
	if cfg.ElectionTimeout > cfg.Store.LeaderTTL {
		cfg.Store.LeaderTTL = cfg.ElectionTimeout
	}
	// The checker's stale threshold follows the monitor's warning threshold
	cfg.Consistency.WarningThreshold = cfg.Monitor.WarningThreshold

	return cfg
}

// NewConfigFromProfile creates a streamd.Config with test defaults applied
// and then profile overrides. The test bucket prefix is preserved so
// OrchestratorCluster.Ledger reads the same buckets.
func NewConfigFromProfile(tp TimingProfile) streamd.Config {
	cfg := streamd.TestConfig()
	cfg.ReplicaIDPrefix = "orch"
	cfg.ReplicaIDMax = 10

	return *tp.ApplyTo(&cfg)
}
