package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/arloliu/streamd/internal/natsutil"
	"github.com/arloliu/streamd/types"
)

// PutFailureRecord writes one failure episode, overwriting any previous
// record for the same server.
func (s *Store) PutFailureRecord(ctx context.Context, rec *types.FailureRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode failure record for %s: %w", rec.ServerID, err)
	}

	return s.do(ctx, "put", func(ctx context.Context) error {
		if _, err := s.failures.Put(ctx, rec.ServerID, data); err != nil {
			return fmt.Errorf("failed to write failure record for %s: %w", rec.ServerID, err)
		}

		return nil
	})
}

// GetFailureRecord reads one failure episode.
//
// Returns:
//   - *types.FailureRecord: The episode, or nil with ErrNotFound
//   - error: ErrNotFound when no episode is open for the server
func (s *Store) GetFailureRecord(ctx context.Context, serverID string) (*types.FailureRecord, error) {
	var rec *types.FailureRecord

	err := s.do(ctx, "get", func(ctx context.Context) error {
		entry, err := s.getEntry(ctx, s.failures, serverID)
		if err != nil {
			return err
		}

		rec = &types.FailureRecord{}
		if err := json.Unmarshal(entry.Value(), rec); err != nil {
			return fmt.Errorf("failed to decode failure record for %s: %w", serverID, err)
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	return rec, nil
}

// DeleteFailureRecord closes one failure episode. Deleting a missing record
// is a no-op.
func (s *Store) DeleteFailureRecord(ctx context.Context, serverID string) error {
	return s.do(ctx, "delete", func(ctx context.Context) error {
		if err := s.failures.Delete(ctx, serverID); err != nil {
			if natsutil.IsKeyNotFound(err) {
				return nil
			}

			return fmt.Errorf("failed to delete failure record for %s: %w", serverID, err)
		}

		return nil
	})
}

// ListFailureRecords reads every open failure episode, sorted by server ID.
func (s *Store) ListFailureRecords(ctx context.Context) ([]types.FailureRecord, error) {
	var records []types.FailureRecord

	err := s.do(ctx, "list", func(ctx context.Context) error {
		keys, err := s.listKeys(ctx, s.failures)
		if err != nil {
			return err
		}

		records = make([]types.FailureRecord, 0, len(keys))
		for _, key := range keys {
			entry, err := s.getEntry(ctx, s.failures, key)
			if err != nil {
				continue
			}

			var rec types.FailureRecord
			if err := json.Unmarshal(entry.Value(), &rec); err != nil {
				return fmt.Errorf("failed to decode failure record for %s: %w", key, err)
			}

			records = append(records, rec)
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(records, func(i, j int) bool {
		return records[i].ServerID < records[j].ServerID
	})

	return records, nil
}
