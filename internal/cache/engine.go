// Package cache implements the two-tier persistent cache described in
// spec §4.2: a critical tier exempt from eviction, and a size-bounded LRU
// dynamic tier. It is a thin, typed wrapper over internal/store — the store
// owns the transactional bbolt mechanics, this package owns the public
// contract (CachedItem, age calculation, Stats).
package cache

import (
	"fmt"
	"time"

	"github.com/dev-console/sidecar-proxy/internal/model"
	"github.com/dev-console/sidecar-proxy/internal/store"
)

// CachedItem is a cache hit: the row plus its age in seconds (spec §4.2
// getDocument/getMemory).
type CachedItem struct {
	Content    []byte
	Metadata   []byte
	IsCritical bool
	AgeSeconds int64
}

// Stats mirrors store.Stats under the names spec §4.2 stats() uses.
type Stats struct {
	CriticalCount int64
	CriticalBytes int64
	DynamicCount  int64
	DynamicBytes  int64
	TotalCount    int64
	TotalBytes    int64
}

// Engine is the CacheEngine component (spec §4.2).
type Engine struct {
	store *store.Store
}

// New wraps an already-open store.Store as a CacheEngine.
func New(s *store.Store) *Engine {
	return &Engine{store: s}
}

// GetDocument returns the cached document for (docType, name, project), or
// ok=false on a miss. On hit, lastAccessedAt is bumped atomically with the
// read.
func (e *Engine) GetDocument(docType, name, project string) (CachedItem, bool, error) {
	row, ok, err := e.store.GetDocument(docType, name, project)
	if err != nil {
		return CachedItem{}, false, fmt.Errorf("cache: get document: %w", err)
	}
	if !ok {
		return CachedItem{}, false, nil
	}
	return toCachedItem(row), true, nil
}

// GetMemory is the memory counterpart of GetDocument.
func (e *Engine) GetMemory(name, project string) (CachedItem, bool, error) {
	row, ok, err := e.store.GetMemory(name, project)
	if err != nil {
		return CachedItem{}, false, fmt.Errorf("cache: get memory: %w", err)
	}
	if !ok {
		return CachedItem{}, false, nil
	}
	return toCachedItem(row), true, nil
}

// SetDocument inserts or updates a document row, evicting dynamic-tier
// rows first if the row is non-critical and capacity demands it (spec
// §4.2 setDocument).
func (e *Engine) SetDocument(docType, name, project string, content, metadata []byte) error {
	_, _, err := e.store.SetDocument(docType, name, project, content, metadata)
	if err != nil {
		return fmt.Errorf("cache: set document: %w", err)
	}
	return nil
}

// SetMemory inserts or updates a memory row. Memories are always
// non-critical (spec §4.2 setMemory).
func (e *Engine) SetMemory(name, project string, content, metadata []byte) error {
	_, _, err := e.store.SetMemory(name, project, content, metadata)
	if err != nil {
		return fmt.Errorf("cache: set memory: %w", err)
	}
	return nil
}

// InvalidateDocument hard-deletes a document row. Idempotent.
func (e *Engine) InvalidateDocument(docType, name, project string) error {
	if err := e.store.InvalidateDocument(docType, name, project); err != nil {
		return fmt.Errorf("cache: invalidate document: %w", err)
	}
	return nil
}

// InvalidateMemory hard-deletes a memory row. Idempotent.
func (e *Engine) InvalidateMemory(name, project string) error {
	if err := e.store.InvalidateMemory(name, project); err != nil {
		return fmt.Errorf("cache: invalidate memory: %w", err)
	}
	return nil
}

// Stats reports the current critical/dynamic accounting (spec §4.2
// stats()).
func (e *Engine) Stats() Stats {
	s := e.store.Stats()
	return Stats{
		CriticalCount: s.CriticalCount,
		CriticalBytes: s.CriticalBytes,
		DynamicCount:  s.DynamicCount,
		DynamicBytes:  s.DynamicBytes,
		TotalCount:    s.TotalCount,
		TotalBytes:    s.TotalBytes,
	}
}

func toCachedItem(row model.CacheRow) CachedItem {
	age := time.Since(row.CachedAt)
	if age < 0 {
		age = 0
	}
	return CachedItem{
		Content:    row.Content,
		Metadata:   row.Metadata,
		IsCritical: row.IsCritical,
		AgeSeconds: int64(age.Seconds()),
	}
}
