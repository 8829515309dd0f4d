package store

import (
	"encoding/binary"
	"encoding/json"
	"fmt"

	"go.etcd.io/bbolt"

	"github.com/dev-console/sidecar-proxy/internal/model"
)

// maxHealthLogRows bounds the best-effort connection_log so a flapping
// connection can't grow the database file without limit.
const maxHealthLogRows = 500

// AppendHealth records a best-effort connection-health entry (spec §3
// HealthRow). Failures here never propagate past ConnectionSupervisor —
// the log is diagnostic, not load-bearing.
func (s *Store) AppendHealth(row model.HealthRow) error {
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucketConnectionLog))
		key := make([]byte, 8)
		binary.BigEndian.PutUint64(key, uint64(row.Timestamp.UnixNano()))
		encoded, err := json.Marshal(row)
		if err != nil {
			return err
		}
		if err := b.Put(key, encoded); err != nil {
			return err
		}
		return trimOldest(b, maxHealthLogRows)
	})
	if err != nil {
		return fmt.Errorf("store: append health: %w", err)
	}
	return nil
}

func trimOldest(b *bbolt.Bucket, limit int) error {
	if b.Stats().KeyN <= limit {
		return nil
	}
	cursor := b.Cursor()
	excess := b.Stats().KeyN - limit
	for k, _ := cursor.First(); k != nil && excess > 0; k, _ = cursor.Next() {
		if err := b.Delete(k); err != nil {
			return err
		}
		excess--
	}
	return nil
}

// RecentHealth returns up to limit most recent health rows, newest first.
func (s *Store) RecentHealth(limit int) ([]model.HealthRow, error) {
	var rows []model.HealthRow
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucketConnectionLog))
		cursor := b.Cursor()
		for k, v := cursor.Last(); k != nil && len(rows) < limit; k, v = cursor.Prev() {
			var row model.HealthRow
			if err := json.Unmarshal(v, &row); err != nil {
				return err
			}
			rows = append(rows, row)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("store: recent health: %w", err)
	}
	return rows, nil
}
