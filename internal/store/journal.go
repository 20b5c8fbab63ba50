package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/arloliu/streamd/internal/natsutil"
	"github.com/arloliu/streamd/types"
)

const journalLastKey = "last"

func journalSeqKey(version int64) string {
	return "seq." + strconv.FormatInt(version, 10)
}

// AppendRebalance appends one entry to the rebalance journal.
//
// Versions are allocated with a Create race across replicas, so every
// executed rebalance gets a unique, strictly increasing version even when
// two leaders briefly overlap. The "last" pointer row feeds the
// cross-replica cooldown check.
//
// Returns:
//   - int64: The version assigned to the entry
//   - error: ErrRevisionConflict after exhausting the allocation budget
func (s *Store) AppendRebalance(ctx context.Context, rec *types.RebalanceRecord) (int64, error) {
	err := s.do(ctx, "update", func(ctx context.Context) error {
		for attempt := 0; attempt < s.cfg.CASMaxRetries; attempt++ {
			version := int64(1)
			var lastRev uint64

			entry, err := s.journal.Get(ctx, journalLastKey)
			if err == nil {
				var last types.RebalanceRecord
				if err := json.Unmarshal(entry.Value(), &last); err != nil {
					return fmt.Errorf("failed to decode journal pointer: %w", err)
				}
				version = last.Version + 1
				lastRev = entry.Revision()
			} else if !natsutil.IsKeyNotFound(err) {
				return fmt.Errorf("failed to read journal pointer: %w", err)
			}

			rec.Version = version
			if rec.ExecutedAt.IsZero() {
				rec.ExecutedAt = time.Now().UTC()
			}

			data, err := json.Marshal(rec)
			if err != nil {
				return fmt.Errorf("failed to encode journal entry: %w", err)
			}

			if _, err := s.journal.Create(ctx, journalSeqKey(version), data); err != nil {
				if natsutil.IsKeyExists(err) {
					// Another replica took this version; allocate the next.
					s.metrics.RecordCASConflict("journal_append")

					continue
				}

				return fmt.Errorf("failed to append journal entry %d: %w", version, err)
			}

			s.advanceJournalPointer(ctx, data, version, lastRev)

			return nil
		}

		return fmt.Errorf("journal append: %w", types.ErrRevisionConflict)
	})
	if err != nil {
		return 0, err
	}

	return rec.Version, nil
}

// advanceJournalPointer moves the "last" row forward to version, leaving it
// alone when a concurrent append already advanced it further. Best-effort:
// the sequence rows stay authoritative either way.
func (s *Store) advanceJournalPointer(ctx context.Context, data []byte, version int64, lastRev uint64) {
	for attempt := 0; attempt < s.cfg.CASMaxRetries; attempt++ {
		var err error
		if lastRev == 0 {
			_, err = s.journal.Create(ctx, journalLastKey, data)
		} else {
			_, err = s.journal.Update(ctx, journalLastKey, data, lastRev)
		}
		if err == nil {
			return
		}
		if !natsutil.IsWrongRevision(err) && !natsutil.IsKeyExists(err) {
			s.logger.Warn("failed to advance journal pointer", "version", version, "error", err)

			return
		}

		entry, err := s.journal.Get(ctx, journalLastKey)
		if err != nil {
			s.logger.Warn("failed to re-read journal pointer", "version", version, "error", err)

			return
		}

		var current types.RebalanceRecord
		if err := json.Unmarshal(entry.Value(), &current); err != nil || current.Version >= version {
			// A newer append owns the pointer.
			return
		}

		lastRev = entry.Revision()
	}
}

// LastRebalance reads the most recent journal entry.
//
// Returns:
//   - *types.RebalanceRecord: The entry, or nil with ErrNotFound
//   - error: ErrNotFound when no rebalance has ever run
func (s *Store) LastRebalance(ctx context.Context) (*types.RebalanceRecord, error) {
	var rec *types.RebalanceRecord

	err := s.do(ctx, "get", func(ctx context.Context) error {
		entry, err := s.getEntry(ctx, s.journal, journalLastKey)
		if err != nil {
			return err
		}

		rec = &types.RebalanceRecord{}
		if err := json.Unmarshal(entry.Value(), rec); err != nil {
			return fmt.Errorf("failed to decode journal pointer: %w", err)
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	return rec, nil
}

// ListRebalances reads journal entries sorted newest first.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//   - limit: Maximum entries to return; 0 means all
func (s *Store) ListRebalances(ctx context.Context, limit int) ([]types.RebalanceRecord, error) {
	var records []types.RebalanceRecord

	err := s.do(ctx, "list", func(ctx context.Context) error {
		keys, err := s.listKeys(ctx, s.journal)
		if err != nil {
			return err
		}

		versions := make([]int64, 0, len(keys))
		for _, key := range keys {
			suffix, ok := strings.CutPrefix(key, "seq.")
			if !ok {
				continue
			}

			version, err := strconv.ParseInt(suffix, 10, 64)
			if err != nil {
				continue
			}

			versions = append(versions, version)
		}

		sort.Slice(versions, func(i, j int) bool { return versions[i] > versions[j] })
		if limit > 0 && len(versions) > limit {
			versions = versions[:limit]
		}

		records = make([]types.RebalanceRecord, 0, len(versions))
		for _, version := range versions {
			entry, err := s.getEntry(ctx, s.journal, journalSeqKey(version))
			if err != nil {
				continue
			}

			var rec types.RebalanceRecord
			if err := json.Unmarshal(entry.Value(), &rec); err != nil {
				return fmt.Errorf("failed to decode journal entry %d: %w", version, err)
			}

			records = append(records, rec)
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	return records, nil
}
