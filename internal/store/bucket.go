package store

import (
	"context"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/arloliu/streamd/internal/kvutil"
)

// Bucket name suffixes. Full names are prefixed with Config.BucketPrefix.
const (
	bucketInstances   = "instances"
	bucketAssignments = "assignments"
	bucketHeartbeats  = "heartbeats"
	bucketFailures    = "failures"
	bucketJournal     = "rebalances"
	bucketElection    = "election"
	bucketReplicaIDs  = "replica_ids"
)

func (s *Store) bucketName(suffix string) string {
	return s.cfg.BucketPrefix + "_" + suffix
}

// EnsureBuckets creates or opens every orchestrator bucket.
//
// Creation is race-safe across concurrently starting replicas and retried
// with exponential backoff on transient errors. Instance and assignment
// rows never expire; heartbeat, election, and replica ID rows carry
// server-side TTLs.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//
// Returns:
//   - error: Any error that survived the per-bucket retries
func (s *Store) EnsureBuckets(ctx context.Context) error {
	buckets := []struct {
		suffix      string
		description string
		ttl         time.Duration
		target      *jetstream.KeyValue
	}{
		{bucketInstances, "stream relay instance registry", 0, &s.instances},
		{bucketAssignments, "stream assignment ledger", 0, &s.assignments},
		{bucketHeartbeats, "instance heartbeat timestamps", s.cfg.HeartbeatTTL, &s.heartbeats},
		{bucketFailures, "instance failure episodes", 0, &s.failures},
		{bucketJournal, "rebalance journal", 0, &s.journal},
		{bucketElection, "orchestrator leader election", s.cfg.LeaderTTL, &s.election},
		{bucketReplicaIDs, "stable orchestrator replica IDs", s.cfg.ReplicaIDTTL, &s.replicaIDs},
	}

	for _, b := range buckets {
		kv, err := kvutil.EnsureKVBucketWithRetry(ctx, s.js, jetstream.KeyValueConfig{
			Bucket:      s.bucketName(b.suffix),
			Description: b.description,
			TTL:         b.ttl,
			Replicas:    s.cfg.Replicas,
		}, 3)
		if err != nil {
			return err
		}

		*b.target = kv
	}

	s.logger.Info("storage buckets ready",
		"prefix", s.cfg.BucketPrefix,
		"replicas", s.cfg.Replicas)

	return nil
}
