// Package store is the storage access layer over NATS JetStream KV.
//
// All orchestrator state lives in a small set of KV buckets: instance rows,
// the assignment ledger, heartbeat timestamps, failure records, and the
// rebalance journal. Every operation runs through a bounded in-flight pool
// and the "storage" circuit breaker, and multi-writer rows are updated with
// revision compare-and-swap loops so concurrent orchestrator replicas never
// silently overwrite each other.
package store

import (
	"context"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/arloliu/streamd/internal/breaker"
	"github.com/arloliu/streamd/types"
)

// Config controls pool sizing and CAS behavior for the storage layer.
type Config struct {
	// BucketPrefix prefixes every bucket name, isolating multiple
	// deployments on one JetStream domain.
	BucketPrefix string `yaml:"bucketPrefix"`

	// MaxInFlight bounds concurrent KV operations.
	MaxInFlight int `yaml:"maxInFlight"`

	// AcquireTimeout bounds how long an operation waits for an in-flight
	// permit before failing with ErrStoreBusy.
	AcquireTimeout time.Duration `yaml:"acquireTimeout"`

	// CASMaxRetries bounds compare-and-swap retries on revision conflicts
	// within a single call.
	CASMaxRetries int `yaml:"casMaxRetries"`

	// Replicas is the JetStream replica count for every bucket.
	Replicas int `yaml:"replicas"`

	// HeartbeatTTL expires heartbeat rows server-side. Instance rows keep
	// the authoritative last-heartbeat timestamp, so expiry only trims the
	// watch bucket. Must exceed the monitor's failure timeout.
	HeartbeatTTL time.Duration `yaml:"heartbeatTTL"`

	// LeaderTTL expires the election bucket's leader key, bounding how
	// long a dead replica can hold leadership.
	LeaderTTL time.Duration `yaml:"leaderTTL"`

	// ReplicaIDTTL expires replica ID claims, so a crashed replica's ID
	// returns to the pool. Live replicas renew their claim at a third of
	// this interval.
	ReplicaIDTTL time.Duration `yaml:"replicaIDTTL"`
}

// SetDefaults fills zero fields with production defaults.
func (c *Config) SetDefaults() {
	if c.BucketPrefix == "" {
		c.BucketPrefix = "streamd"
	}
	if c.MaxInFlight <= 0 {
		c.MaxInFlight = 32
	}
	if c.AcquireTimeout <= 0 {
		c.AcquireTimeout = 2 * time.Second
	}
	if c.CASMaxRetries <= 0 {
		c.CASMaxRetries = 5
	}
	if c.Replicas <= 0 {
		c.Replicas = 1
	}
	if c.HeartbeatTTL <= 0 {
		c.HeartbeatTTL = 10 * time.Minute
	}
	if c.LeaderTTL <= 0 {
		c.LeaderTTL = 30 * time.Second
	}
	if c.ReplicaIDTTL <= 0 {
		c.ReplicaIDTTL = 30 * time.Second
	}
}

// Store owns the JetStream handle and the orchestrator's KV buckets.
type Store struct {
	js  jetstream.JetStream
	cfg Config

	instances   jetstream.KeyValue
	assignments jetstream.KeyValue
	heartbeats  jetstream.KeyValue
	failures    jetstream.KeyValue
	journal     jetstream.KeyValue
	election    jetstream.KeyValue
	replicaIDs  jetstream.KeyValue

	guard   *breaker.Guard
	permits chan struct{}
	locks   *KeyLock

	logger  types.Logger
	metrics types.StoreMetrics
}

// New creates a storage layer over an existing JetStream handle.
//
// EnsureBuckets must be called before any accessor is used.
//
// Parameters:
//   - js: JetStream handle
//   - cfg: Pool and CAS configuration; zero fields are defaulted
//   - guard: Circuit breaker guard wrapping every operation
//   - logger: Structured logger
//   - metrics: Store metrics sink
//
// Returns:
//   - *Store: Storage layer, buckets not yet ensured
func New(js jetstream.JetStream, cfg Config, guard *breaker.Guard, logger types.Logger, metrics types.StoreMetrics) *Store {
	cfg.SetDefaults()

	return &Store{
		js:      js,
		cfg:     cfg,
		guard:   guard,
		permits: make(chan struct{}, cfg.MaxInFlight),
		locks:   NewKeyLock(),
		logger:  logger,
		metrics: metrics,
	}
}

// Locks returns the in-process per-key lock set used to serialize grant and
// release paths per server.
func (s *Store) Locks() *KeyLock {
	return s.locks
}

// ElectionBucket returns the leader election bucket.
func (s *Store) ElectionBucket() jetstream.KeyValue {
	return s.election
}

// ReplicaIDBucket returns the stable replica ID bucket.
func (s *Store) ReplicaIDBucket() jetstream.KeyValue {
	return s.replicaIDs
}

// do runs one storage operation under the breaker guard and the in-flight
// pool.
//
// Permit acquisition happens inside the guarded function so that a full
// pool consumes the retry budget (permits may free up between attempts) and
// a final ErrStoreBusy counts as exactly one breaker failure.
func (s *Store) do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	return s.guard.Do(ctx, breaker.KeyStorage, func(ctx context.Context) error {
		if err := s.acquire(ctx); err != nil {
			return err
		}
		defer s.release()

		start := time.Now()
		err := fn(ctx)
		s.metrics.RecordStoreOperation(op, time.Since(start).Seconds(), err == nil)

		return err
	})
}

// acquire takes one in-flight permit, waiting up to AcquireTimeout.
func (s *Store) acquire(ctx context.Context) error {
	start := time.Now()

	select {
	case s.permits <- struct{}{}:
		s.metrics.RecordStoreWait(time.Since(start).Seconds())

		return nil
	default:
	}

	timer := time.NewTimer(s.cfg.AcquireTimeout)
	defer timer.Stop()

	select {
	case s.permits <- struct{}{}:
		s.metrics.RecordStoreWait(time.Since(start).Seconds())

		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		s.metrics.RecordStoreExhausted()
		s.logger.Warn("storage access pool exhausted",
			"max_in_flight", s.cfg.MaxInFlight,
			"acquire_timeout", s.cfg.AcquireTimeout.String())

		return types.ErrStoreBusy
	}
}

// release returns one in-flight permit.
func (s *Store) release() {
	<-s.permits
}
