package store

import (
	"fmt"

	"go.etcd.io/bbolt"
)

// evictLocked implements the ensureCapacity eviction scan (spec §4.2) inside
// an already-open bbolt write transaction, so an insert-then-evict is one
// atomic operation. It never inspects or deletes critical rows because
// those never appear in the dynamic_lru index in the first place.
//
// A single item larger than the whole dynamic budget is still accepted —
// eviction just empties the rest of the tier instead of refusing the write
// (spec §4.2 step 3, §9 "single-item oversize policy").
func (s *Store) evictLocked(tx *bbolt.Tx, requiredBytes int64) (freedBytes int64, evicted []EvictedRow, err error) {
	budget := s.dynamicBudget()
	current := s.currentDynamicBytes()

	if current+requiredBytes <= budget {
		return 0, nil, nil
	}
	toEvict := current + requiredBytes - budget

	lru := tx.Bucket([]byte(bucketDynamicLRU))
	cursor := lru.Cursor()

	var toDeleteIndexKeys [][]byte
	for k, v := cursor.First(); k != nil && freedBytes < toEvict; k, v = cursor.Next() {
		ptr, decodeErr := decodePointer(v)
		if decodeErr != nil {
			return 0, nil, fmt.Errorf("evict: decode pointer: %w", decodeErr)
		}
		row := tx.Bucket([]byte(ptr.Bucket))
		if err := row.Delete(ptr.Key); err != nil {
			return 0, nil, fmt.Errorf("evict: delete row: %w", err)
		}
		freedBytes += ptr.SizeBytes
		evicted = append(evicted, EvictedRow{Bucket: ptr.Bucket, Key: ptr.Key})
		toDeleteIndexKeys = append(toDeleteIndexKeys, append([]byte(nil), k...))
	}
	for _, k := range toDeleteIndexKeys {
		if err := lru.Delete(k); err != nil {
			return 0, nil, fmt.Errorf("evict: delete index entry: %w", err)
		}
	}
	return freedBytes, evicted, nil
}
