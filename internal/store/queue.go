package store

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"go.etcd.io/bbolt"

	"github.com/dev-console/sidecar-proxy/internal/model"
)

// EnqueueOp appends a durable QueueRow with status pending, attempts 0.
// Returns after the write is durable (spec §4.3 enqueue).
func (s *Store) EnqueueOp(op model.Operation, payload []byte) (model.QueueRow, error) {
	var row model.QueueRow
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucketSyncQueue))
		id, err := b.NextSequence()
		if err != nil {
			return err
		}
		row = model.QueueRow{
			ID:        id,
			Operation: op,
			Payload:   append([]byte(nil), payload...),
			CreatedAt: time.Now(),
			Status:    model.QueuePending,
		}
		encoded, err := json.Marshal(row)
		if err != nil {
			return err
		}
		return b.Put(queueKey(id), encoded)
	})
	if err != nil {
		return model.QueueRow{}, fmt.Errorf("store: enqueue: %w", err)
	}
	return row, nil
}

func queueKey(id uint64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, id)
	return buf
}

// PendingCount returns the count of rows with status pending.
func (s *Store) PendingCount() (int, error) {
	rows, err := s.ListQueue(model.QueuePending)
	if err != nil {
		return 0, err
	}
	return len(rows), nil
}

// ListQueue returns all queue rows in the given status, ordered by
// CreatedAt ascending (submission order), as spec §4.3 replay requires.
func (s *Store) ListQueue(status model.QueueState) ([]model.QueueRow, error) {
	var rows []model.QueueRow
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucketSyncQueue))
		return b.ForEach(func(_, v []byte) error {
			var row model.QueueRow
			if err := json.Unmarshal(v, &row); err != nil {
				return err
			}
			if row.Status == status {
				rows = append(rows, row)
			}
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("store: list queue: %w", err)
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].CreatedAt.Before(rows[j].CreatedAt) })
	return rows, nil
}

// DeleteQueueRow removes a completed row (spec §4.3: "Completed rows are
// deleted at end of each replay pass").
func (s *Store) DeleteQueueRow(id uint64) error {
	err := s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(bucketSyncQueue)).Delete(queueKey(id))
	})
	if err != nil {
		return fmt.Errorf("store: delete queue row: %w", err)
	}
	return nil
}

// MarkQueueRetry records a failed attempt that has not yet exhausted
// maxAttempts: attempts += 1, lastAttemptAt = now, lastError = message,
// status stays pending (spec §4.3).
func (s *Store) MarkQueueRetry(id uint64, errMsg string) error {
	return s.updateQueueRow(id, func(row *model.QueueRow) {
		now := time.Now()
		row.Attempts++
		row.LastAttemptAt = &now
		row.LastError = errMsg
		row.Status = model.QueuePending
	})
}

// MarkQueueFailed records a terminal failure: attempts == maxAttempts,
// status = failed (spec §4.3).
func (s *Store) MarkQueueFailed(id uint64, errMsg string) error {
	return s.updateQueueRow(id, func(row *model.QueueRow) {
		now := time.Now()
		row.Attempts++
		row.LastAttemptAt = &now
		row.LastError = errMsg
		row.Status = model.QueueFailed
	})
}

// RetryQueueRow resets a failed row back to pending with attempts and
// lastError cleared (spec §4.3 retry(id)).
func (s *Store) RetryQueueRow(id uint64) error {
	return s.updateQueueRow(id, func(row *model.QueueRow) {
		row.Attempts = 0
		row.LastError = ""
		row.LastAttemptAt = nil
		row.Status = model.QueuePending
	})
}

func (s *Store) updateQueueRow(id uint64, mutate func(*model.QueueRow)) error {
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucketSyncQueue))
		raw := b.Get(queueKey(id))
		if raw == nil {
			return fmt.Errorf("queue row %d not found", id)
		}
		var row model.QueueRow
		if err := json.Unmarshal(raw, &row); err != nil {
			return err
		}
		mutate(&row)
		encoded, err := json.Marshal(row)
		if err != nil {
			return err
		}
		return b.Put(queueKey(id), encoded)
	})
	if err != nil {
		return fmt.Errorf("store: update queue row: %w", err)
	}
	return nil
}

// ClearFailed bulk-deletes every row with status failed (spec §4.3
// clearFailed()).
func (s *Store) ClearFailed() (int, error) {
	var deleted int
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucketSyncQueue))
		var keys [][]byte
		err := b.ForEach(func(k, v []byte) error {
			var row model.QueueRow
			if err := json.Unmarshal(v, &row); err != nil {
				return err
			}
			if row.Status == model.QueueFailed {
				keys = append(keys, append([]byte(nil), k...))
			}
			return nil
		})
		if err != nil {
			return err
		}
		for _, k := range keys {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		deleted = len(keys)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("store: clear failed: %w", err)
	}
	return deleted, nil
}

// QueueStats reports pending, failed, and total queue row counts (spec
// §4.3 stats()).
type QueueStats struct {
	Pending int
	Failed  int
	Total   int
}

func (s *Store) QueueStatsSnapshot() (QueueStats, error) {
	var stats QueueStats
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucketSyncQueue))
		return b.ForEach(func(_, v []byte) error {
			var row model.QueueRow
			if err := json.Unmarshal(v, &row); err != nil {
				return err
			}
			stats.Total++
			switch row.Status {
			case model.QueuePending:
				stats.Pending++
			case model.QueueFailed:
				stats.Failed++
			}
			return nil
		})
	})
	if err != nil {
		return QueueStats{}, fmt.Errorf("store: queue stats: %w", err)
	}
	return stats, nil
}
