package election

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/arloliu/streamd/types"
)

// Common errors for election operations.
var (
	ErrNotLeader       = errors.New("not the leader")
	ErrLeadershipLost  = errors.New("leadership was lost")
	ErrInvalidDuration = errors.New("invalid lease duration")
)

// NATSElection implements leader election between orchestrator replicas on
// top of a NATS KV bucket.
//
// The election key is the lease: Create acquires it atomically, Update with
// the held revision renews it, Delete releases it. The bucket's TTL expires
// the key when a leader dies silently, which is what lets a follower take
// over without any explicit handoff.
//
// The struct keeps one piece of local state, the lease it believes it holds.
// The lease value is immutable once stored; methods swap the whole pointer
// under mu, so readers never observe a half-updated lease.
type NATSElection struct {
	kv  jetstream.KeyValue
	key string

	mu   sync.RWMutex
	held *lease // nil when this replica does not hold the key
}

// lease captures the KV revision under which leadership was granted.
type lease struct {
	replicaID string
	revision  uint64
}

// Compile-time assertion that NATSElection implements ElectionAgent.
var _ types.ElectionAgent = (*NATSElection)(nil)

// NewNATSElection creates a new NATS KV-based election agent.
//
// The KV bucket should carry a short TTL (10-30s) so a crashed leader's key
// expires and another replica can claim it.
//
// Parameters:
//   - kv: JetStream KV bucket for election coordination
//   - key: Key name for the leadership claim (e.g., "leader")
//
// Returns:
//   - *NATSElection: New election agent instance
//
// Example:
//
//	kv, _ := js.CreateKeyValue(ctx, jetstream.KeyValueConfig{
//	    Bucket:  "streamd_election",
//	    TTL:     30 * time.Second,
//	    Storage: jetstream.FileStorage,
//	})
//	agent := election.NewNATSElection(kv, "leader")
func NewNATSElection(kv jetstream.KeyValue, key string) *NATSElection {
	return &NATSElection{kv: kv, key: key}
}

// RequestLeadership attempts to acquire or maintain leadership.
//
// A replica that already holds the lease renews it; everyone else contends
// with an atomic Create. Losing the contention is not an error: the method
// reports false and the caller keeps following.
//
// Parameters:
//   - ctx: Context for timeout
//   - replicaID: The replica ID requesting leadership
//   - leaseDuration: Lease duration in seconds (enforced by the bucket TTL)
//
// Returns:
//   - bool: true if leadership was acquired or is still held
//   - error: Election error or context cancellation
func (e *NATSElection) RequestLeadership(ctx context.Context, replicaID string, leaseDuration int64) (bool, error) {
	if leaseDuration <= 0 {
		return false, ErrInvalidDuration
	}

	if cur := e.current(); cur != nil && cur.replicaID == replicaID {
		if err := e.RenewLeadership(ctx); err == nil {
			return true, nil
		}
		// The lease slipped away between sweeps; contend for it again below.
	}

	revision, err := e.kv.Create(ctx, e.key, leaseValue(replicaID))
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyExists) {
			// Another replica holds the lease.
			return false, nil
		}

		return false, fmt.Errorf("create leader key: %w", err)
	}

	e.swap(&lease{replicaID: replicaID, revision: revision})

	return true, nil
}

// RenewLeadership extends the held lease.
//
// The renewal updates the key against the revision recorded at acquisition,
// so it fails when another replica has claimed the key in the meantime.
//
// Parameters:
//   - ctx: Context for timeout
//
// Returns:
//   - error: ErrNotLeader when no lease is held, ErrLeadershipLost when the
//     renewal loses the revision race, nil on success
func (e *NATSElection) RenewLeadership(ctx context.Context) error {
	cur := e.current()
	if cur == nil {
		return ErrNotLeader
	}

	revision, err := e.kv.Update(ctx, e.key, leaseValue(cur.replicaID), cur.revision)
	if err != nil {
		e.swap(nil)

		return fmt.Errorf("%w: %w", ErrLeadershipLost, err)
	}

	e.swap(&lease{replicaID: cur.replicaID, revision: revision})

	return nil
}

// ReleaseLeadership voluntarily gives up the lease.
//
// Deleting the key lets another replica take over immediately instead of
// waiting out the TTL. A key that already expired counts as released.
//
// Parameters:
//   - ctx: Context for timeout
//
// Returns:
//   - error: ErrNotLeader when no lease is held, otherwise the delete error
func (e *NATSElection) ReleaseLeadership(ctx context.Context) error {
	if e.current() == nil {
		return ErrNotLeader
	}

	err := e.kv.Delete(ctx, e.key)
	if err != nil && !errors.Is(err, jetstream.ErrKeyNotFound) {
		return fmt.Errorf("delete leader key: %w", err)
	}

	e.swap(nil)

	return nil
}

// IsLeader verifies the held lease against the KV store.
//
// A lease is only trusted when the key still exists at the recorded
// revision; a missing key or a foreign revision drops the local lease.
//
// Parameters:
//   - ctx: Context for timeout
//
// Returns:
//   - bool: true if this replica still holds the leadership key
//   - error: Lookup error or context cancellation
func (e *NATSElection) IsLeader(ctx context.Context) (bool, error) {
	cur := e.current()
	if cur == nil {
		return false, nil
	}

	entry, err := e.kv.Get(ctx, e.key)
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			e.swap(nil)

			return false, nil
		}

		return false, fmt.Errorf("get leader key: %w", err)
	}

	if entry.Revision() != cur.revision {
		e.swap(nil)

		return false, nil
	}

	return true, nil
}

// ReplicaID returns the leader's replica ID as known locally.
//
// Returns:
//   - string: Replica ID if this replica holds the lease, empty otherwise
func (e *NATSElection) ReplicaID() string {
	if cur := e.current(); cur != nil {
		return cur.replicaID
	}

	return ""
}

func (e *NATSElection) current() *lease {
	e.mu.RLock()
	defer e.mu.RUnlock()

	return e.held
}

func (e *NATSElection) swap(l *lease) {
	e.mu.Lock()
	e.held = l
	e.mu.Unlock()
}

// leaseValue records the holder and claim time, for operators inspecting the
// election bucket. The content is informational; correctness rides on the
// revision alone.
func leaseValue(replicaID string) []byte {
	return fmt.Appendf(nil, "%s:%d", replicaID, time.Now().Unix())
}
