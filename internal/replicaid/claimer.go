// Package replicaid provides stable replica ID claiming for orchestrator
// replicas.
//
// Every replica needs a compact, stable identity ("replica-0", "replica-1")
// for journal attribution and log correlation. Identities come from a fixed
// pool and are claimed through atomic KV creates under a TTL lease, so a
// crashed replica's slot frees itself one TTL later.
package replicaid

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/arloliu/streamd/internal/logging"
	"github.com/arloliu/streamd/types"
)

// Common errors returned by the claimer.
var (
	ErrNoAvailableID = errors.New("no available replica ID in pool")
	ErrNotClaimed    = errors.New("replica ID not claimed")
)

// Claimer claims one identity from the pool and keeps its lease alive.
//
// A Claimer is single-owner: Claim, StartRenewal, and Release are called in
// that order from one goroutine (the orchestrator lifecycle). Only the
// internal renewal goroutine runs concurrently with the owner, and it never
// touches replicaID after Release joins it.
type Claimer struct {
	kv     jetstream.KeyValue
	prefix string
	minID  int
	maxID  int
	ttl    time.Duration
	logger types.Logger

	replicaID string
	renewing  bool
	stopCh    chan struct{}
	doneCh    chan struct{}
}

// NewClaimer creates a claimer over the pool [minID, maxID].
//
// Parameters:
//   - kv: NATS KV bucket holding replica ID leases
//   - prefix: Identity prefix (e.g., "replica" claims "replica-0", ...)
//   - minID: Lowest ID number (inclusive)
//   - maxID: Highest ID number (inclusive)
//   - ttl: Lease duration; should match the bucket's TTL
//   - logger: Logger for claim/renewal diagnostics (nil for none)
//
// Returns:
//   - *Claimer: New claimer, nothing claimed yet
func NewClaimer(kv jetstream.KeyValue, prefix string, minID, maxID int, ttl time.Duration, logger types.Logger) *Claimer {
	if logger == nil {
		logger = logging.NewNop()
	}

	return &Claimer{
		kv:     kv,
		prefix: prefix,
		minID:  minID,
		maxID:  maxID,
		ttl:    ttl,
		logger: logger,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
}

// Claim walks the pool from minID upward and takes the first free slot.
//
// Low numbers are preferred, so a restarted replica usually gets its old
// identity back once its previous lease expires. The atomic Create is the
// claim itself; two replicas can never win the same slot.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//
// Returns:
//   - string: Claimed identity (e.g., "replica-2")
//   - error: ErrNoAvailableID when every slot is leased, or the KV error
func (c *Claimer) Claim(ctx context.Context) (string, error) {
	c.logger.Debug("replica ID claim starting",
		"prefix", c.prefix, "min", c.minID, "max", c.maxID, "ttl", c.ttl)

	for id := c.minID; id <= c.maxID; id++ {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}

		candidate := fmt.Sprintf("%s-%d", c.prefix, id)

		revision, err := c.kv.Create(ctx, candidate, leaseStamp())
		switch {
		case err == nil:
			c.replicaID = candidate
			c.logger.Info("replica ID claimed",
				"replica_id", candidate, "revision", revision, "attempts", id-c.minID+1)

			return candidate, nil

		case errors.Is(err, jetstream.ErrKeyExists):
			// Slot leased by another replica; keep walking.

		default:
			return "", fmt.Errorf("claim ID %s: %w", candidate, err)
		}
	}

	c.logger.Error("replica ID pool exhausted",
		"prefix", c.prefix, "pool_size", c.maxID-c.minID+1)

	return "", ErrNoAvailableID
}

// StartRenewal launches background lease renewal for the claimed ID.
//
// The lease is re-stamped every ttl/3, so two consecutive failed renewals
// still leave margin before expiry. The context bounds the individual
// renewal writes and stops the loop when cancelled; Release stops it
// explicitly during shutdown.
//
// Parameters:
//   - ctx: Lifecycle context for the renewal loop
//
// Returns:
//   - error: ErrNotClaimed when no ID is held
func (c *Claimer) StartRenewal(ctx context.Context) error {
	if c.replicaID == "" {
		return ErrNotClaimed
	}

	c.renewing = true

	go func() {
		defer close(c.doneCh)

		ticker := time.NewTicker(c.ttl / 3)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-c.stopCh:
				return
			case <-ticker.C:
				// Put, not Update: re-stamp regardless of revision so
				// renewal survives a lapse-and-reclaim of the same slot.
				if _, err := c.kv.Put(ctx, c.replicaID, leaseStamp()); err != nil {
					c.logger.Warn("replica ID renewal failed", "replica_id", c.replicaID, "error", err)
				}
			}
		}
	}()

	return nil
}

// Release stops renewal and frees the claimed slot for the next replica.
//
// Parameters:
//   - ctx: Context for timeout
//
// Returns:
//   - error: ErrNotClaimed when no ID is held, or the KV delete error
func (c *Claimer) Release(ctx context.Context) error {
	if c.replicaID == "" {
		return ErrNotClaimed
	}

	if c.renewing {
		close(c.stopCh)

		select {
		case <-c.doneCh:
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(5 * time.Second):
			// Renewal loop stuck in a slow write; delete the key anyway.
		}

		// Renewal is down for good; a retried Release must not close again.
		c.renewing = false
	}

	if err := c.kv.Delete(ctx, c.replicaID); err != nil {
		return fmt.Errorf("release ID %s: %w", c.replicaID, err)
	}

	c.replicaID = ""

	return nil
}

// ReplicaID returns the claimed identity, or the empty string before Claim.
func (c *Claimer) ReplicaID() string {
	return c.replicaID
}

// leaseStamp is the KV value for a held slot: the claim or renewal time,
// for operators inspecting the bucket.
func leaseStamp() []byte {
	return []byte(time.Now().Format(time.RFC3339))
}
