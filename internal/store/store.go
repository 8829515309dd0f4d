// Package store is the persisted layer backing the cache engine and write
// queue (spec §4.1, §6). It wraps a single embedded bbolt database file —
// chosen over the teacher's in-memory-only Capture buffers because this
// component's whole purpose, unlike the teacher's, is to survive a restart.
package store

import (
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"go.etcd.io/bbolt"
)

// Bucket names. One embedded database file, four logical tables plus one
// auxiliary LRU index (spec §6).
const (
	bucketDocuments     = "documents"
	bucketMemories      = "memories"
	bucketSyncQueue     = "sync_queue"
	bucketConnectionLog = "connection_log"
	bucketDynamicLRU    = "dynamic_lru"
	bucketMeta          = "meta"
)

const metaSchemaVersionKey = "schema_version"

// Store is the transactional persistent map backing CacheRows, QueueRows,
// and the health log. All multi-row mutations run inside a single bbolt
// transaction (spec §4.1).
type Store struct {
	db *bbolt.DB

	mu             sync.Mutex
	criticalCount  int64
	criticalBytes  int64
	dynamicCount   int64
	dynamicBytes   int64
	nextTouchSeq   uint64
	maxDynamicByte int64
}

// Stats is the snapshot returned by CacheEngine.Stats (spec §4.2).
type Stats struct {
	CriticalCount int64
	CriticalBytes int64
	DynamicCount  int64
	DynamicBytes  int64
	TotalCount    int64
	TotalBytes    int64
}

// Open opens (creating if absent) the bbolt database at path, runs pending
// migrations, and recomputes the in-memory byte/count accounting from the
// persisted rows.
func Open(path string, maxDynamicBytes int64) (*Store, error) {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	s := &Store{db: db, maxDynamicByte: maxDynamicBytes}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: migrate: %w", err)
	}
	if err := s.recomputeAccounting(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: recompute accounting: %w", err)
	}
	return s, nil
}

// Close releases the underlying database file.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate applies the numbered migration sequence idempotently (spec §6).
// Migration failures here are fatal to startup, per spec §7.
func (s *Store) migrate() error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		for _, name := range []string{bucketDocuments, bucketMemories, bucketSyncQueue, bucketConnectionLog, bucketDynamicLRU, bucketMeta} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return fmt.Errorf("create bucket %s: %w", name, err)
			}
		}
		meta := tx.Bucket([]byte(bucketMeta))
		if meta.Get([]byte(metaSchemaVersionKey)) == nil {
			buf := make([]byte, 8)
			binary.BigEndian.PutUint64(buf, 1)
			if err := meta.Put([]byte(metaSchemaVersionKey), buf); err != nil {
				return err
			}
		}
		return nil
	})
}

// recomputeAccounting rebuilds the in-memory critical/dynamic counters and
// the touch-sequence high-water mark from persisted rows. Called once at
// Open so a restart doesn't need to trust a persisted running total.
func (s *Store) recomputeAccounting() error {
	var criticalCount, criticalBytes, dynamicCount, dynamicBytes int64
	var maxSeq uint64

	err := s.db.View(func(tx *bbolt.Tx) error {
		for _, bucketName := range []string{bucketDocuments, bucketMemories} {
			b := tx.Bucket([]byte(bucketName))
			cursor := b.Cursor()
			for k, v := cursor.First(); k != nil; k, v = cursor.Next() {
				row, err := decodeRow(v)
				if err != nil {
					return fmt.Errorf("decode row in %s: %w", bucketName, err)
				}
				if row.TouchSeq > maxSeq {
					maxSeq = row.TouchSeq
				}
				if row.IsCritical {
					criticalCount++
					criticalBytes += row.SizeBytes
				} else {
					dynamicCount++
					dynamicBytes += row.SizeBytes
				}
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.criticalCount, s.criticalBytes = criticalCount, criticalBytes
	s.dynamicCount, s.dynamicBytes = dynamicCount, dynamicBytes
	s.nextTouchSeq = maxSeq + 1
	s.mu.Unlock()
	return nil
}

// Stats returns the current cache accounting snapshot (spec §4.2 stats()).
func (s *Store) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{
		CriticalCount: s.criticalCount,
		CriticalBytes: s.criticalBytes,
		DynamicCount:  s.dynamicCount,
		DynamicBytes:  s.dynamicBytes,
		TotalCount:    s.criticalCount + s.dynamicCount,
		TotalBytes:    s.criticalBytes + s.dynamicBytes,
	}
}

// accountingDelta captures the effect of a committed transaction on the
// in-memory counters. Applied only after the bbolt transaction has actually
// committed, so a rolled-back write never corrupts accounting.
type accountingDelta struct {
	criticalCountDelta int64
	criticalBytesDelta int64
	dynamicCountDelta  int64
	dynamicBytesDelta  int64
}

func (s *Store) applyDelta(d accountingDelta) {
	if d == (accountingDelta{}) {
		return
	}
	s.mu.Lock()
	s.criticalCount += d.criticalCountDelta
	s.criticalBytes += d.criticalBytesDelta
	s.dynamicCount += d.dynamicCountDelta
	s.dynamicBytes += d.dynamicBytesDelta
	s.mu.Unlock()
}

// nextSeq hands out the next monotonic touch-sequence value. Guarded by the
// same mutex as the counters; called from inside an in-flight bbolt
// transaction closure, never across a suspension point.
func (s *Store) nextSeq() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	v := s.nextTouchSeq
	s.nextTouchSeq++
	return v
}

func (s *Store) dynamicBudget() int64 {
	return s.maxDynamicByte
}

func (s *Store) currentDynamicBytes() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dynamicBytes
}
