package streamd

import (
	"fmt"
	"time"

	"github.com/arloliu/streamd/internal/balance"
	"github.com/arloliu/streamd/internal/breaker"
	"github.com/arloliu/streamd/internal/consistency"
	"github.com/arloliu/streamd/internal/registry"
	"github.com/arloliu/streamd/internal/store"
)

// Sub-component configuration types, re-exported so callers can populate a
// Config without importing internal packages.
type (
	// StoreConfig controls the storage access layer (bucket prefix,
	// in-flight pool, CAS retries, bucket TTLs).
	StoreConfig = store.Config

	// BreakerConfig controls circuit breaker thresholds per service key.
	BreakerConfig = breaker.Config

	// RetryConfig controls the retry budget for guarded storage calls.
	RetryConfig = breaker.RetryConfig

	// MonitorConfig controls heartbeat monitoring and failure recovery.
	MonitorConfig = registry.Config

	// BalancerConfig controls load evaluation and stream migration.
	BalancerConfig = balance.Config

	// ConsistencyConfig controls ledger verification and auto-recovery.
	ConsistencyConfig = consistency.Config
)

// ============================================================================
// Timing Configuration Model
// ============================================================================
//
// The orchestrator runs three periodic loops on the leader replica, each with
// its own cadence, plus two identity leases renewed in the background:
//
// ┌─────────────────────────────────────────────────────────────────────────┐
// │ TIER 1: Liveness - How fast instance failures are noticed              │
// ├─────────────────────────────────────────────────────────────────────────┤
// │ • Monitor.PollInterval: 30s sweep (KV watcher reacts faster)           │
// │ • Monitor.Timeout: 300s heartbeat age → instance classified failed     │
// │ • Monitor.EmergencyThreshold: 600s → assignments force-released        │
// └─────────────────────────────────────────────────────────────────────────┘
//
// ┌─────────────────────────────────────────────────────────────────────────┐
// │ TIER 2: Rebalancing - How often load is evened out                     │
// ├─────────────────────────────────────────────────────────────────────────┤
// │ • Balancer.CheckInterval: 60s fleet evaluation                         │
// │ • Balancer.MinRebalanceInterval: 5m cooldown between executed plans,   │
// │   enforced across replicas through the rebalance journal               │
// └─────────────────────────────────────────────────────────────────────────┘
//
// ┌─────────────────────────────────────────────────────────────────────────┐
// │ TIER 3: Consistency - How often the ledger is audited                  │
// ├─────────────────────────────────────────────────────────────────────────┤
// │ • Consistency.CheckInterval: 120s verification pass + auto-recovery    │
// └─────────────────────────────────────────────────────────────────────────┘
//
// Identity leases:
//   - ReplicaIDTTL: stable replica ID claim, renewed every ReplicaIDTTL/3
//   - ElectionTimeout: leadership cadence; leaders renew and followers
//     campaign every ElectionTimeout/3, expiry enforced by Store.LeaderTTL
//
// Configuration Constraints:
//   - ElectionTimeout <= Store.LeaderTTL (renewal must beat key expiry)
//   - Monitor.Timeout < Store.HeartbeatTTL (rows must outlive detection)
//   - Store.AcquireTimeout < Breaker.RecoveryTimeout (pool exhaustion is
//     one breaker failure, not a stuck probe)
//
// ============================================================================

// Config is the configuration for the Orchestrator.
//
// All duration fields accept standard Go duration strings like "30s", "5m",
// "1h" when loaded from YAML.
type Config struct {
	// ReplicaIDPrefix is the prefix for replica IDs (e.g. "replica"
	// produces "replica-0", "replica-1").
	ReplicaIDPrefix string `yaml:"replicaIdPrefix"`

	// ReplicaIDMin is the minimum stable ID number (inclusive).
	// Set to 0 for most use cases.
	ReplicaIDMin int `yaml:"replicaIdMin"`

	// ReplicaIDMax is the maximum stable ID number (inclusive).
	// Determines the maximum number of concurrent orchestrator replicas:
	// (ReplicaIDMax - ReplicaIDMin + 1).
	ReplicaIDMax int `yaml:"replicaIdMax"`

	// ReplicaIDTTL is how long a replica ID claim remains valid in the
	// key-value store. Renewed automatically at ReplicaIDTTL/3.
	ReplicaIDTTL time.Duration `yaml:"replicaIdTtl"`

	// ElectionTimeout is the leadership lease duration. The leader renews
	// at ElectionTimeout/3 and followers campaign on the same cadence.
	// The election key's hard expiry is Store.LeaderTTL.
	ElectionTimeout time.Duration `yaml:"electionTimeout"`

	// DisableElection runs the orchestrator in single-node mode: this
	// replica considers itself leader immediately and all periodic loops
	// run locally. Only for deployments with exactly one replica; two
	// single-node orchestrators on one storage domain will both drive
	// migrations.
	DisableElection bool `yaml:"disableElection"`

	// StartupTimeout is the maximum time to wait for Start to complete.
	// Covers bucket creation, replica ID claiming and leader election.
	StartupTimeout time.Duration `yaml:"startupTimeout"`

	// ShutdownTimeout is the maximum time Stop waits for background
	// goroutines after releasing leases.
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`

	// Store controls the storage access layer.
	Store StoreConfig `yaml:"store"`

	// Breaker controls circuit breaker thresholds, shared by every
	// service key unless overridden.
	Breaker BreakerConfig `yaml:"breaker"`

	// Retry controls the retry budget wrapped around guarded calls.
	Retry RetryConfig `yaml:"retry"`

	// Monitor controls heartbeat monitoring and failure recovery.
	Monitor MonitorConfig `yaml:"monitor"`

	// Balancer controls load evaluation and stream migration.
	Balancer BalancerConfig `yaml:"balancer"`

	// Consistency controls ledger verification and auto-recovery.
	Consistency ConsistencyConfig `yaml:"consistency"`
}

// DefaultConfig returns a Config with production defaults.
//
// Returns:
//   - Config: Configuration with default values
func DefaultConfig() Config {
	cfg := Config{}
	SetDefaults(&cfg)

	return cfg
}

// SetDefaults fills in missing configuration values with production defaults.
//
// Parameters:
//   - cfg: Config to apply defaults to (modified in place)
func SetDefaults(cfg *Config) {
	if cfg.ReplicaIDPrefix == "" {
		cfg.ReplicaIDPrefix = "replica"
	}
	if cfg.ReplicaIDMax == 0 {
		cfg.ReplicaIDMax = 99
	}
	if cfg.ReplicaIDTTL == 0 {
		cfg.ReplicaIDTTL = 30 * time.Second
	}
	if cfg.ElectionTimeout == 0 {
		cfg.ElectionTimeout = 15 * time.Second
	}
	if cfg.StartupTimeout == 0 {
		cfg.StartupTimeout = 30 * time.Second
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}

	cfg.Store.SetDefaults()
	cfg.Breaker.SetDefaults()
	cfg.Retry.SetDefaults()
	cfg.Monitor.SetDefaults()
	cfg.Balancer.SetDefaults()
	cfg.Consistency.SetDefaults()

	// The replica ID bucket TTL must match the claim TTL the claimer
	// renews against, so the top-level knob is the single source.
	cfg.Store.ReplicaIDTTL = cfg.ReplicaIDTTL
}

// Validate checks configuration constraints and returns an error for invalid
// values.
//
// Hard Validation Rules:
//   - ReplicaIDMin >= 0 and ReplicaIDMax >= ReplicaIDMin (valid ID range)
//   - ElectionTimeout <= Store.LeaderTTL (renewal must beat key expiry)
//   - Monitor.Timeout < Store.HeartbeatTTL (heartbeat rows must survive
//     long enough for failure classification to see them age)
//   - Monitor.Timeout > Monitor.PollInterval (at least one sweep per window)
//   - Monitor.EmergencyThreshold >= Monitor.Timeout (escalation ordering)
//   - Store.AcquireTimeout < Breaker.RecoveryTimeout (pool exhaustion must
//     count as one breaker failure, not outlast the recovery window)
//
// Returns:
//   - error: Validation error with clear explanation, nil if valid
func (cfg *Config) Validate() error {
	if cfg.ReplicaIDMin < 0 {
		return fmt.Errorf("ReplicaIDMin must be >= 0, got %d", cfg.ReplicaIDMin)
	}
	if cfg.ReplicaIDMax < cfg.ReplicaIDMin {
		return fmt.Errorf(
			"ReplicaIDMax (%d) must be >= ReplicaIDMin (%d)",
			cfg.ReplicaIDMax, cfg.ReplicaIDMin,
		)
	}

	if cfg.ElectionTimeout > cfg.Store.LeaderTTL {
		return fmt.Errorf(
			"ElectionTimeout (%v) must be <= Store.LeaderTTL (%v) so lease renewal beats key expiry",
			cfg.ElectionTimeout, cfg.Store.LeaderTTL,
		)
	}

	if cfg.Monitor.Timeout >= cfg.Store.HeartbeatTTL {
		return fmt.Errorf(
			"Monitor.Timeout (%v) must be < Store.HeartbeatTTL (%v) so heartbeat rows outlive failure detection",
			cfg.Monitor.Timeout, cfg.Store.HeartbeatTTL,
		)
	}

	if cfg.Monitor.Timeout <= cfg.Monitor.PollInterval {
		return fmt.Errorf(
			"Monitor.Timeout (%v) must be > Monitor.PollInterval (%v) to guarantee a sweep per detection window",
			cfg.Monitor.Timeout, cfg.Monitor.PollInterval,
		)
	}

	if cfg.Monitor.EmergencyThreshold < cfg.Monitor.Timeout {
		return fmt.Errorf(
			"Monitor.EmergencyThreshold (%v) must be >= Monitor.Timeout (%v)",
			cfg.Monitor.EmergencyThreshold, cfg.Monitor.Timeout,
		)
	}

	if cfg.Store.AcquireTimeout >= cfg.Breaker.RecoveryTimeout {
		return fmt.Errorf(
			"Store.AcquireTimeout (%v) must be < Breaker.RecoveryTimeout (%v)",
			cfg.Store.AcquireTimeout, cfg.Breaker.RecoveryTimeout,
		)
	}

	return nil
}

// ValidateWithWarnings checks configuration and logs warnings for
// non-recommended values.
//
// Called after Validate() in NewOrchestrator() to provide operator guidance.
//
// Parameters:
//   - logger: Logger instance for warning output
func (cfg *Config) ValidateWithWarnings(logger Logger) {
	// The checker flags assignments whose owner's heartbeat is older than
	// its own threshold; diverging from the monitor's reads confusingly.
	if cfg.Consistency.WarningThreshold != cfg.Monitor.WarningThreshold {
		logger.Warn(
			"Consistency.WarningThreshold differs from Monitor.WarningThreshold, stale flags will not line up",
			"consistency", cfg.Consistency.WarningThreshold,
			"monitor", cfg.Monitor.WarningThreshold,
		)
	}

	if cfg.Balancer.MinRebalanceInterval < 5*time.Second {
		logger.Warn(
			"Balancer.MinRebalanceInterval is very short, may cause frequent migration churn",
			"cooldown", cfg.Balancer.MinRebalanceInterval,
			"recommended", "5m or higher",
		)
	}

	if cfg.ReplicaIDTTL < 3*cfg.ElectionTimeout/2 {
		logger.Warn(
			"ReplicaIDTTL is close to ElectionTimeout, replica identity may expire during leadership churn",
			"replicaIDTTL", cfg.ReplicaIDTTL,
			"electionTimeout", cfg.ElectionTimeout,
		)
	}
}

// TestConfig returns a configuration optimized for fast test execution.
//
// Test timings are 10-100x faster than production defaults to enable rapid
// iteration without sacrificing coverage. Use DefaultConfig() for
// production deployments.
//
// Returns:
//   - Config: Configuration with fast timings for tests
//
// Example:
//
//	cfg := streamd.TestConfig()
//	cfg.ReplicaIDPrefix = "test-replica"
//	orch, err := streamd.NewOrchestrator(&cfg, nc, source)
func TestConfig() Config {
	cfg := DefaultConfig()

	cfg.ReplicaIDTTL = 5 * time.Second
	cfg.ElectionTimeout = 2 * time.Second
	cfg.StartupTimeout = 10 * time.Second
	cfg.ShutdownTimeout = 5 * time.Second

	cfg.Store.BucketPrefix = "streamdtest"
	cfg.Store.AcquireTimeout = 500 * time.Millisecond
	cfg.Store.HeartbeatTTL = time.Minute
	cfg.Store.LeaderTTL = 5 * time.Second

	cfg.Breaker.RecoveryTimeout = 2 * time.Second

	cfg.Retry.BaseDelay = 10 * time.Millisecond
	cfg.Retry.MaxDelay = 50 * time.Millisecond

	cfg.Monitor.PollInterval = 100 * time.Millisecond
	cfg.Monitor.WarningThreshold = 500 * time.Millisecond
	cfg.Monitor.Timeout = 1500 * time.Millisecond
	cfg.Monitor.EmergencyThreshold = 3 * time.Second
	cfg.Monitor.RecoveryBaseDelay = 50 * time.Millisecond

	cfg.Balancer.CheckInterval = 500 * time.Millisecond
	cfg.Balancer.MinRebalanceInterval = 200 * time.Millisecond

	cfg.Consistency.CheckInterval = time.Second
	cfg.Consistency.WarningThreshold = 500 * time.Millisecond

	return cfg
}
