package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/arloliu/streamd/internal/natsutil"
	"github.com/arloliu/streamd/types"
)

// GetAssignment reads one ledger row.
//
// Returns:
//   - *types.StreamAssignment: The row, active or released
//   - error: ErrNotFound when the stream was never assigned
func (s *Store) GetAssignment(ctx context.Context, streamID string) (*types.StreamAssignment, error) {
	var asgn *types.StreamAssignment

	err := s.do(ctx, "get", func(ctx context.Context) error {
		entry, err := s.getEntry(ctx, s.assignments, streamID)
		if err != nil {
			return err
		}

		asgn = &types.StreamAssignment{}
		if err := json.Unmarshal(entry.Value(), asgn); err != nil {
			return fmt.Errorf("failed to decode assignment %s: %w", streamID, err)
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	return asgn, nil
}

// ClaimAssignment binds a stream to an instance.
//
// The claim is atomic at the KV layer: a missing row is created with
// Create (first writer wins) and a released row is flipped active with a
// revision compare-and-swap. Exactly one concurrent claimer succeeds; the
// rest get ErrStreamTaken and move on to their next candidate.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//   - streamID: Stream to claim
//   - serverID: Claiming instance
//
// Returns:
//   - *types.StreamAssignment: The active row as written
//   - error: ErrStreamTaken when another instance holds or just won the
//     stream
func (s *Store) ClaimAssignment(ctx context.Context, streamID, serverID string) (*types.StreamAssignment, error) {
	claim := &types.StreamAssignment{
		StreamID:   streamID,
		ServerID:   serverID,
		Status:     types.AssignmentActive,
		AssignedAt: time.Now().UTC(),
	}

	data, err := json.Marshal(claim)
	if err != nil {
		return nil, fmt.Errorf("failed to encode assignment %s: %w", streamID, err)
	}

	err = s.do(ctx, "update", func(ctx context.Context) error {
		entry, err := s.assignments.Get(ctx, streamID)
		if err != nil {
			if !natsutil.IsKeyNotFound(err) {
				return fmt.Errorf("failed to read assignment %s: %w", streamID, err)
			}

			// Never assigned: first writer wins.
			if _, err := s.assignments.Create(ctx, streamID, data); err != nil {
				if natsutil.IsKeyExists(err) {
					s.metrics.RecordCASConflict("assignment_claim")

					return fmt.Errorf("stream %s: %w", streamID, types.ErrStreamTaken)
				}

				return fmt.Errorf("failed to create assignment %s: %w", streamID, err)
			}

			return nil
		}

		current := &types.StreamAssignment{}
		if err := json.Unmarshal(entry.Value(), current); err != nil {
			return fmt.Errorf("failed to decode assignment %s: %w", streamID, err)
		}

		if current.Active() {
			return fmt.Errorf("stream %s held by %s: %w", streamID, current.ServerID, types.ErrStreamTaken)
		}

		// Released: flip back to active against the observed revision.
		if _, err := s.assignments.Update(ctx, streamID, data, entry.Revision()); err != nil {
			if natsutil.IsWrongRevision(err) {
				s.metrics.RecordCASConflict("assignment_claim")

				return fmt.Errorf("stream %s: %w", streamID, types.ErrStreamTaken)
			}

			return fmt.Errorf("failed to claim assignment %s: %w", streamID, err)
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	return claim, nil
}

// ReleaseAssignment flips one ledger row from active to released.
//
// Releasing is idempotent: a missing row, an already released row, or a row
// owned by a different instance all return false with no error. Released
// rows keep their history; nothing is deleted.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//   - streamID: Stream to release
//   - serverID: Expected owner; empty releases regardless of owner (used by
//     failure recovery and orphan repair)
//
// Returns:
//   - bool: true when this call flipped the row
//   - error: ErrRevisionConflict after exhausting the CAS budget
func (s *Store) ReleaseAssignment(ctx context.Context, streamID, serverID string) (bool, error) {
	released := false

	err := s.do(ctx, "update", func(ctx context.Context) error {
		for attempt := 0; attempt < s.cfg.CASMaxRetries; attempt++ {
			entry, err := s.assignments.Get(ctx, streamID)
			if err != nil {
				if natsutil.IsKeyNotFound(err) {
					return nil
				}

				return fmt.Errorf("failed to read assignment %s: %w", streamID, err)
			}

			asgn := &types.StreamAssignment{}
			if err := json.Unmarshal(entry.Value(), asgn); err != nil {
				return fmt.Errorf("failed to decode assignment %s: %w", streamID, err)
			}

			if !asgn.Active() {
				return nil
			}
			if serverID != "" && asgn.ServerID != serverID {
				return nil
			}

			asgn.Status = types.AssignmentReleased
			asgn.ReleasedAt = time.Now().UTC()

			data, err := json.Marshal(asgn)
			if err != nil {
				return fmt.Errorf("failed to encode assignment %s: %w", streamID, err)
			}

			_, err = s.assignments.Update(ctx, streamID, data, entry.Revision())
			if err == nil {
				released = true

				return nil
			}
			if !natsutil.IsWrongRevision(err) {
				return fmt.Errorf("failed to release assignment %s: %w", streamID, err)
			}

			s.metrics.RecordCASConflict("assignment_release")
		}

		return fmt.Errorf("assignment %s: %w", streamID, types.ErrRevisionConflict)
	})
	if err != nil {
		return false, err
	}

	return released, nil
}

// ResolveDuplicate releases every active row claiming streamID except the
// most recently assigned one.
//
// Rows are matched by their decoded stream ID rather than their bucket
// key, so a conflicting claim written under a corrupt or foreign key is
// found and retired too. The newest AssignedAt survives; ties break on the
// bucket key so concurrent passes retire the same rows.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//   - streamID: Stream with conflicting active claims
//
// Returns:
//   - string: Server ID of the surviving claim, empty when none is active
//   - int: Rows flipped to released
//   - error: Scan failure; individual CAS losses are skipped, not errors
func (s *Store) ResolveDuplicate(ctx context.Context, streamID string) (string, int, error) {
	kept := ""
	released := 0

	err := s.do(ctx, "update", func(ctx context.Context) error {
		keys, err := s.listKeys(ctx, s.assignments)
		if err != nil {
			return err
		}

		type claim struct {
			key  string
			asgn *types.StreamAssignment
			rev  uint64
		}

		var claims []claim
		for _, key := range keys {
			entry, err := s.getEntry(ctx, s.assignments, key)
			if err != nil {
				continue
			}

			asgn := &types.StreamAssignment{}
			if err := json.Unmarshal(entry.Value(), asgn); err != nil {
				return fmt.Errorf("failed to decode assignment %s: %w", key, err)
			}
			if asgn.StreamID != streamID || !asgn.Active() {
				continue
			}

			claims = append(claims, claim{key: key, asgn: asgn, rev: entry.Revision()})
		}

		if len(claims) == 0 {
			return nil
		}

		sort.Slice(claims, func(i, j int) bool {
			if !claims[i].asgn.AssignedAt.Equal(claims[j].asgn.AssignedAt) {
				return claims[i].asgn.AssignedAt.After(claims[j].asgn.AssignedAt)
			}

			return claims[i].key < claims[j].key
		})

		kept = claims[0].asgn.ServerID

		for _, c := range claims[1:] {
			c.asgn.Status = types.AssignmentReleased
			c.asgn.ReleasedAt = time.Now().UTC()

			data, err := json.Marshal(c.asgn)
			if err != nil {
				return fmt.Errorf("failed to encode assignment %s: %w", c.key, err)
			}

			if _, err := s.assignments.Update(ctx, c.key, data, c.rev); err != nil {
				if natsutil.IsWrongRevision(err) {
					// The row moved under us; the next pass re-evaluates.
					s.metrics.RecordCASConflict("assignment_release")

					continue
				}

				return fmt.Errorf("failed to release duplicate claim %s: %w", c.key, err)
			}

			released++
		}

		return nil
	})
	if err != nil {
		return "", 0, err
	}

	return kept, released, nil
}

// ListAssignments reads the whole ledger, sorted by stream ID.
func (s *Store) ListAssignments(ctx context.Context) ([]types.StreamAssignment, error) {
	var assignments []types.StreamAssignment

	err := s.do(ctx, "list", func(ctx context.Context) error {
		keys, err := s.listKeys(ctx, s.assignments)
		if err != nil {
			return err
		}

		assignments = make([]types.StreamAssignment, 0, len(keys))
		for _, key := range keys {
			entry, err := s.getEntry(ctx, s.assignments, key)
			if err != nil {
				continue
			}

			var asgn types.StreamAssignment
			if err := json.Unmarshal(entry.Value(), &asgn); err != nil {
				return fmt.Errorf("failed to decode assignment %s: %w", key, err)
			}

			assignments = append(assignments, asgn)
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(assignments, func(i, j int) bool {
		return assignments[i].StreamID < assignments[j].StreamID
	})

	return assignments, nil
}

// ListActiveByServer reads the active rows owned by one instance, sorted by
// assignment age, oldest first.
func (s *Store) ListActiveByServer(ctx context.Context, serverID string) ([]types.StreamAssignment, error) {
	all, err := s.ListAssignments(ctx)
	if err != nil {
		return nil, err
	}

	var active []types.StreamAssignment
	for _, asgn := range all {
		if asgn.Active() && asgn.ServerID == serverID {
			active = append(active, asgn)
		}
	}

	sort.SliceStable(active, func(i, j int) bool {
		return active[i].AssignedAt.Before(active[j].AssignedAt)
	})

	return active, nil
}

// CountActiveByServer counts the active rows owned by one instance.
//
// This ledger-derived count is the authority the instance counter is
// resynchronized from.
func (s *Store) CountActiveByServer(ctx context.Context, serverID string) (int, error) {
	active, err := s.ListActiveByServer(ctx, serverID)
	if err != nil {
		return 0, err
	}

	return len(active), nil
}
