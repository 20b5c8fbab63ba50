package streamd

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	require.Equal(t, "replica", cfg.ReplicaIDPrefix)
	require.Equal(t, 0, cfg.ReplicaIDMin)
	require.Equal(t, 99, cfg.ReplicaIDMax)
	require.Equal(t, 30*time.Second, cfg.ReplicaIDTTL)
	require.Equal(t, 15*time.Second, cfg.ElectionTimeout)
	require.False(t, cfg.DisableElection)

	// Section defaults applied through each component's own SetDefaults.
	require.Equal(t, "streamd", cfg.Store.BucketPrefix)
	require.Equal(t, 5, cfg.Breaker.FailureThreshold)
	require.Equal(t, 3, cfg.Retry.MaxAttempts)
	require.Equal(t, 300*time.Second, cfg.Monitor.Timeout)
	require.Equal(t, 5*time.Minute, cfg.Balancer.MinRebalanceInterval)
	require.Equal(t, 120*time.Second, cfg.Consistency.CheckInterval)

	require.NoError(t, cfg.Validate())
}

func TestSetDefaults_PreservesExplicitValues(t *testing.T) {
	cfg := Config{
		ReplicaIDPrefix: "orch",
		ReplicaIDMax:    7,
		ElectionTimeout: 20 * time.Second,
	}
	cfg.Store.BucketPrefix = "custom"
	cfg.Monitor.Timeout = 120 * time.Second

	SetDefaults(&cfg)

	require.Equal(t, "orch", cfg.ReplicaIDPrefix)
	require.Equal(t, 7, cfg.ReplicaIDMax)
	require.Equal(t, 20*time.Second, cfg.ElectionTimeout)
	require.Equal(t, "custom", cfg.Store.BucketPrefix)
	require.Equal(t, 120*time.Second, cfg.Monitor.Timeout)

	// Untouched fields still get defaults.
	require.Equal(t, 30*time.Second, cfg.ReplicaIDTTL)
	require.Equal(t, 32, cfg.Store.MaxInFlight)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(cfg *Config)
		wantErr string
	}{
		{
			name:   "defaults are valid",
			mutate: func(_ *Config) {},
		},
		{
			name:    "negative replica ID min",
			mutate:  func(cfg *Config) { cfg.ReplicaIDMin = -1 },
			wantErr: "ReplicaIDMin",
		},
		{
			name: "inverted replica ID range",
			mutate: func(cfg *Config) {
				cfg.ReplicaIDMin = 10
				cfg.ReplicaIDMax = 5
			},
			wantErr: "ReplicaIDMax",
		},
		{
			name: "election timeout exceeds leader TTL",
			mutate: func(cfg *Config) {
				cfg.ElectionTimeout = time.Minute
				cfg.Store.LeaderTTL = 30 * time.Second
			},
			wantErr: "ElectionTimeout",
		},
		{
			name: "monitor timeout exceeds heartbeat TTL",
			mutate: func(cfg *Config) {
				cfg.Monitor.Timeout = 15 * time.Minute
				cfg.Monitor.EmergencyThreshold = 20 * time.Minute
				cfg.Store.HeartbeatTTL = 10 * time.Minute
			},
			wantErr: "Monitor.Timeout",
		},
		{
			name: "monitor timeout below poll interval",
			mutate: func(cfg *Config) {
				cfg.Monitor.PollInterval = 5 * time.Minute
				cfg.Monitor.Timeout = time.Minute
			},
			wantErr: "Monitor.Timeout",
		},
		{
			name: "emergency threshold below timeout",
			mutate: func(cfg *Config) {
				cfg.Monitor.EmergencyThreshold = time.Minute
				cfg.Monitor.Timeout = 5 * time.Minute
			},
			wantErr: "EmergencyThreshold",
		},
		{
			name: "acquire timeout outlasts breaker recovery",
			mutate: func(cfg *Config) {
				cfg.Store.AcquireTimeout = time.Minute
				cfg.Breaker.RecoveryTimeout = 30 * time.Second
			},
			wantErr: "AcquireTimeout",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			require.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestTestConfig_IsValid(t *testing.T) {
	cfg := TestConfig()

	require.NoError(t, cfg.Validate())
	require.Equal(t, "streamdtest", cfg.Store.BucketPrefix)

	// Fast timings must stay internally consistent, not just fast.
	require.Less(t, cfg.Monitor.PollInterval, cfg.Monitor.Timeout)
	require.Less(t, cfg.Monitor.Timeout, cfg.Store.HeartbeatTTL)
	require.LessOrEqual(t, cfg.ElectionTimeout, cfg.Store.LeaderTTL)
}

func TestConfig_YAMLDurationStrings(t *testing.T) {
	doc := `
replicaIdPrefix: orch
replicaIdMax: 15
replicaIdTtl: 45s
electionTimeout: 10s
disableElection: true
store:
  bucketPrefix: prod
  maxInFlight: 64
  heartbeatTTL: 15m
  leaderTTL: 20s
breaker:
  failureThreshold: 3
  recoveryTimeout: 1m
retry:
  maxAttempts: 4
  baseDelay: 250ms
monitor:
  pollInterval: 10s
  timeout: 2m
  emergencyThreshold: 5m
balancer:
  imbalanceThreshold: 0.3
  minRebalanceInterval: 10m
consistency:
  checkInterval: 3m
  disableAutoRecover: true
`

	var cfg Config
	require.NoError(t, yaml.Unmarshal([]byte(doc), &cfg))

	require.Equal(t, "orch", cfg.ReplicaIDPrefix)
	require.Equal(t, 15, cfg.ReplicaIDMax)
	require.Equal(t, 45*time.Second, cfg.ReplicaIDTTL)
	require.Equal(t, 10*time.Second, cfg.ElectionTimeout)
	require.True(t, cfg.DisableElection)
	require.Equal(t, "prod", cfg.Store.BucketPrefix)
	require.Equal(t, 64, cfg.Store.MaxInFlight)
	require.Equal(t, 15*time.Minute, cfg.Store.HeartbeatTTL)
	require.Equal(t, 20*time.Second, cfg.Store.LeaderTTL)
	require.Equal(t, 3, cfg.Breaker.FailureThreshold)
	require.Equal(t, time.Minute, cfg.Breaker.RecoveryTimeout)
	require.Equal(t, 4, cfg.Retry.MaxAttempts)
	require.Equal(t, 250*time.Millisecond, cfg.Retry.BaseDelay)
	require.Equal(t, 10*time.Second, cfg.Monitor.PollInterval)
	require.Equal(t, 2*time.Minute, cfg.Monitor.Timeout)
	require.Equal(t, 5*time.Minute, cfg.Monitor.EmergencyThreshold)
	require.InDelta(t, 0.3, cfg.Balancer.ImbalanceThreshold, 1e-9)
	require.Equal(t, 10*time.Minute, cfg.Balancer.MinRebalanceInterval)
	require.Equal(t, 3*time.Minute, cfg.Consistency.CheckInterval)
	require.True(t, cfg.Consistency.DisableAutoRecover)

	// Unset fields still default and validate after loading.
	SetDefaults(&cfg)
	require.NoError(t, cfg.Validate())
}

func TestConfig_YAMLRoundTrip(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ReplicaIDPrefix = "orch"
	cfg.DisableElection = true
	cfg.Balancer.MaxMigrationsPerCycle = 25

	out, err := yaml.Marshal(&cfg)
	require.NoError(t, err)

	var decoded Config
	require.NoError(t, yaml.Unmarshal(out, &decoded))
	require.Equal(t, cfg, decoded)
}
