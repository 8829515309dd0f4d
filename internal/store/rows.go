package store

import (
	"fmt"
	"time"

	"go.etcd.io/bbolt"

	"github.com/dev-console/sidecar-proxy/internal/model"
)

// GetDocument looks up a document by its composite key, bumping
// lastAccessedAt atomically with the read (spec §4.2 getDocument).
func (s *Store) GetDocument(docType, name, project string) (model.CacheRow, bool, error) {
	return s.getRow(bucketDocuments, documentKey(docType, name, project))
}

// GetMemory is the memory-row counterpart of GetDocument.
func (s *Store) GetMemory(name, project string) (model.CacheRow, bool, error) {
	return s.getRow(bucketMemories, memoryKey(name, project))
}

func (s *Store) getRow(bucketName string, key []byte) (model.CacheRow, bool, error) {
	var (
		found bool
		row   model.CacheRow
		delta accountingDelta
	)

	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucketName))
		raw := b.Get(key)
		if raw == nil {
			return nil
		}
		found = true
		existing, err := decodeRow(raw)
		if err != nil {
			return err
		}

		now := time.Now()
		newSeq := s.nextSeq()

		if !existing.IsCritical {
			lru := tx.Bucket([]byte(bucketDynamicLRU))
			if err := lru.Delete(lruIndexKey(existing.LastAccessedAt.UnixNano(), existing.TouchSeq)); err != nil {
				return err
			}
			if err := lru.Put(lruIndexKey(now.UnixNano(), newSeq), encodePointer(lruPointer{
				Bucket: bucketName, Key: append([]byte(nil), key...), SizeBytes: existing.SizeBytes,
			})); err != nil {
				return err
			}
		}

		existing.LastAccessedAt = now
		existing.TouchSeq = newSeq
		encoded, err := encodeRow(existing)
		if err != nil {
			return err
		}
		if err := b.Put(key, encoded); err != nil {
			return err
		}
		row = existing
		return nil
	})
	if err != nil {
		return model.CacheRow{}, false, fmt.Errorf("store: get row: %w", err)
	}
	s.applyDelta(delta) // touch never changes tier counts
	return row, found, nil
}

// setRowParams bundles the fields SetDocument/SetMemory need to build a row.
type setRowParams struct {
	bucketName string
	key        []byte
	docType    string // empty for memories
	name       string
	project    string
	content    []byte
	metadata   []byte
	isMemory   bool
}

// SetDocument inserts or updates a document row, running ensureCapacity
// first when the row is non-critical (spec §4.2 setDocument).
func (s *Store) SetDocument(docType, name, project string, content, metadata []byte) (model.CacheRow, []EvictedRow, error) {
	return s.setRow(setRowParams{
		bucketName: bucketDocuments,
		key:        documentKey(docType, name, project),
		docType:    docType,
		name:       name,
		project:    project,
		content:    content,
		metadata:   metadata,
	})
}

// SetMemory inserts or updates a memory row. Memories are always
// non-critical (spec §4.2 setMemory).
func (s *Store) SetMemory(name, project string, content, metadata []byte) (model.CacheRow, []EvictedRow, error) {
	return s.setRow(setRowParams{
		bucketName: bucketMemories,
		key:        memoryKey(name, project),
		name:       name,
		project:    project,
		content:    content,
		metadata:   metadata,
		isMemory:   true,
	})
}

// EvictedRow identifies a row removed by ensureCapacity during a set.
type EvictedRow struct {
	Bucket string
	Key    []byte
}

func (s *Store) setRow(p setRowParams) (model.CacheRow, []EvictedRow, error) {
	isCritical := !p.isMemory && model.IsCriticalDocType(p.docType)
	sizeBytes := int64(len(p.content))

	var (
		result  model.CacheRow
		delta   accountingDelta
		evicted []EvictedRow
	)

	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(p.bucketName))
		lru := tx.Bucket([]byte(bucketDynamicLRU))

		var existing *model.CacheRow
		if raw := b.Get(p.key); raw != nil {
			row, err := decodeRow(raw)
			if err != nil {
				return err
			}
			existing = &row
		}

		if !isCritical {
			freed, ev, err := s.evictLocked(tx, sizeBytes)
			if err != nil {
				return err
			}
			evicted = ev
			delta.dynamicBytesDelta -= freed
			delta.dynamicCountDelta -= int64(len(ev))
		}

		now := time.Now()
		cachedAt := now
		if existing != nil {
			// Removing the prior version of this exact row first keeps the
			// running totals correct regardless of whether it was critical.
			if existing.IsCritical {
				delta.criticalCountDelta--
				delta.criticalBytesDelta -= existing.SizeBytes
			} else {
				if err := lru.Delete(lruIndexKey(existing.LastAccessedAt.UnixNano(), existing.TouchSeq)); err != nil {
					return err
				}
				delta.dynamicCountDelta--
				delta.dynamicBytesDelta -= existing.SizeBytes
			}
		}

		newSeq := s.nextSeq()
		row := model.CacheRow{
			Kind:           kindFor(p.isMemory),
			DocType:        p.docType,
			Name:           p.name,
			Project:        p.project,
			Content:        append([]byte(nil), p.content...),
			Metadata:       append([]byte(nil), p.metadata...),
			CachedAt:       cachedAt,
			LastAccessedAt: now,
			IsCritical:     isCritical,
			SizeBytes:      sizeBytes,
			TouchSeq:       newSeq,
		}
		encoded, err := encodeRow(row)
		if err != nil {
			return err
		}
		if err := b.Put(p.key, encoded); err != nil {
			return err
		}
		if !isCritical {
			if err := lru.Put(lruIndexKey(now.UnixNano(), newSeq), encodePointer(lruPointer{
				Bucket: p.bucketName, Key: append([]byte(nil), p.key...), SizeBytes: sizeBytes,
			})); err != nil {
				return err
			}
			delta.dynamicCountDelta++
			delta.dynamicBytesDelta += sizeBytes
		} else {
			delta.criticalCountDelta++
			delta.criticalBytesDelta += sizeBytes
		}

		result = row
		return nil
	})
	if err != nil {
		return model.CacheRow{}, nil, fmt.Errorf("store: set row: %w", err)
	}
	s.applyDelta(delta)
	return result, evicted, nil
}

func kindFor(isMemory bool) model.Kind {
	if isMemory {
		return model.KindMemory
	}
	return model.KindDocument
}

// InvalidateDocument hard-deletes a document row. Idempotent: a missing row
// is not an error (spec §4.2 invalidateDocument).
func (s *Store) InvalidateDocument(docType, name, project string) error {
	return s.invalidateRow(bucketDocuments, documentKey(docType, name, project))
}

// InvalidateMemory hard-deletes a memory row. Idempotent (spec §4.2
// invalidateMemory).
func (s *Store) InvalidateMemory(name, project string) error {
	return s.invalidateRow(bucketMemories, memoryKey(name, project))
}

func (s *Store) invalidateRow(bucketName string, key []byte) error {
	var delta accountingDelta
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucketName))
		raw := b.Get(key)
		if raw == nil {
			return nil
		}
		row, err := decodeRow(raw)
		if err != nil {
			return err
		}
		if err := b.Delete(key); err != nil {
			return err
		}
		if row.IsCritical {
			delta.criticalCountDelta--
			delta.criticalBytesDelta -= row.SizeBytes
		} else {
			lru := tx.Bucket([]byte(bucketDynamicLRU))
			if err := lru.Delete(lruIndexKey(row.LastAccessedAt.UnixNano(), row.TouchSeq)); err != nil {
				return err
			}
			delta.dynamicCountDelta--
			delta.dynamicBytesDelta -= row.SizeBytes
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("store: invalidate row: %w", err)
	}
	s.applyDelta(delta)
	return nil
}
