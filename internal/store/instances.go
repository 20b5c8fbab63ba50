package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/arloliu/streamd/internal/natsutil"
	"github.com/arloliu/streamd/types"
)

// GetInstance reads one instance row.
//
// Returns:
//   - *types.Instance: The row, or nil with ErrNotFound
//   - error: ErrNotFound when the server ID was never registered
func (s *Store) GetInstance(ctx context.Context, serverID string) (*types.Instance, error) {
	var inst *types.Instance

	err := s.do(ctx, "get", func(ctx context.Context) error {
		entry, err := s.getEntry(ctx, s.instances, serverID)
		if err != nil {
			return err
		}

		inst = &types.Instance{}
		if err := json.Unmarshal(entry.Value(), inst); err != nil {
			return fmt.Errorf("failed to decode instance %s: %w", serverID, err)
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	return inst, nil
}

// PutInstance creates one instance row.
//
// Returns:
//   - error: ErrAlreadyExists when the row is present; callers fall back to
//     UpdateInstance
func (s *Store) PutInstance(ctx context.Context, inst *types.Instance) error {
	data, err := json.Marshal(inst)
	if err != nil {
		return fmt.Errorf("failed to encode instance %s: %w", inst.ServerID, err)
	}

	return s.do(ctx, "put", func(ctx context.Context) error {
		if _, err := s.instances.Create(ctx, inst.ServerID, data); err != nil {
			if natsutil.IsKeyExists(err) {
				return fmt.Errorf("instance %s: %w", inst.ServerID, types.ErrAlreadyExists)
			}

			return fmt.Errorf("failed to create instance %s: %w", inst.ServerID, err)
		}

		return nil
	})
}

// UpdateInstance applies fn to one instance row under a compare-and-swap
// loop.
//
// The row is re-read and fn re-applied on every revision conflict, up to
// CASMaxRetries. fn must be side-effect free.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//   - serverID: Row to update
//   - apply: Mutation applied to the freshly read row
//
// Returns:
//   - *types.Instance: The row as written
//   - error: ErrNotFound, an error from apply, or ErrRevisionConflict after
//     exhausting the CAS budget
func (s *Store) UpdateInstance(ctx context.Context, serverID string, apply func(*types.Instance) error) (*types.Instance, error) {
	var updated *types.Instance

	err := s.do(ctx, "update", func(ctx context.Context) error {
		for attempt := 0; attempt < s.cfg.CASMaxRetries; attempt++ {
			entry, err := s.getEntry(ctx, s.instances, serverID)
			if err != nil {
				return err
			}

			inst := &types.Instance{}
			if err := json.Unmarshal(entry.Value(), inst); err != nil {
				return fmt.Errorf("failed to decode instance %s: %w", serverID, err)
			}

			if err := apply(inst); err != nil {
				return err
			}

			data, err := json.Marshal(inst)
			if err != nil {
				return fmt.Errorf("failed to encode instance %s: %w", serverID, err)
			}

			_, err = s.instances.Update(ctx, serverID, data, entry.Revision())
			if err == nil {
				updated = inst

				return nil
			}
			if !natsutil.IsWrongRevision(err) {
				return fmt.Errorf("failed to update instance %s: %w", serverID, err)
			}

			s.metrics.RecordCASConflict("instance_update")
			s.logger.Debug("instance update lost revision race, retrying",
				"server_id", serverID,
				"attempt", attempt+1)
		}

		return fmt.Errorf("instance %s: %w", serverID, types.ErrRevisionConflict)
	})
	if err != nil {
		return nil, err
	}

	return updated, nil
}

// ListInstances reads every instance row, sorted by server ID.
func (s *Store) ListInstances(ctx context.Context) ([]types.Instance, error) {
	var instances []types.Instance

	err := s.do(ctx, "list", func(ctx context.Context) error {
		keys, err := s.listKeys(ctx, s.instances)
		if err != nil {
			return err
		}

		instances = make([]types.Instance, 0, len(keys))
		for _, key := range keys {
			entry, err := s.getEntry(ctx, s.instances, key)
			if err != nil {
				// Rows cannot expire; a vanished key mid-scan means a
				// concurrent purge, skip it.
				continue
			}

			var inst types.Instance
			if err := json.Unmarshal(entry.Value(), &inst); err != nil {
				return fmt.Errorf("failed to decode instance %s: %w", key, err)
			}

			instances = append(instances, inst)
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(instances, func(i, j int) bool {
		return instances[i].ServerID < instances[j].ServerID
	})

	return instances, nil
}

// getEntry reads one KV entry, mapping missing keys to ErrNotFound.
func (s *Store) getEntry(ctx context.Context, kv jetstream.KeyValue, key string) (jetstream.KeyValueEntry, error) {
	entry, err := kv.Get(ctx, key)
	if err != nil {
		if natsutil.IsKeyNotFound(err) {
			return nil, fmt.Errorf("%s: %w", key, types.ErrNotFound)
		}

		return nil, fmt.Errorf("failed to read %s: %w", key, err)
	}

	return entry, nil
}

// listKeys collects every live key in a bucket. An empty bucket is not an
// error.
func (s *Store) listKeys(ctx context.Context, kv jetstream.KeyValue) ([]string, error) {
	lister, err := kv.ListKeys(ctx)
	if err != nil {
		if errors.Is(err, jetstream.ErrNoKeysFound) {
			return nil, nil
		}

		return nil, fmt.Errorf("failed to list keys: %w", err)
	}

	var keys []string
	for key := range lister.Keys() {
		keys = append(keys, key)
	}

	return keys, nil
}
