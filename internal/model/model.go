// Package model defines the persisted row shapes shared by the cache,
// write queue, and health log (spec §3).
package model

import "time"

// Kind distinguishes the two CacheRow namespaces.
type Kind string

const (
	KindDocument Kind = "document"
	KindMemory   Kind = "memory"
)

// criticalDocTypes are the docType values that make a document row
// critical-tier: durable, rarely-changing content exempt from LRU eviction.
var criticalDocTypes = map[string]bool{
	"workflow": true,
	"rule":     true,
	"agent":    true,
	"template": true,
}

// IsCriticalDocType reports whether docType belongs to the critical tier.
// Memories are never critical, regardless of any "type" a caller invents.
func IsCriticalDocType(docType string) bool {
	return criticalDocTypes[docType]
}

// CacheRow is a single cached document or memory (spec §3).
type CacheRow struct {
	Kind     Kind   `json:"kind"`
	DocType  string `json:"doc_type,omitempty"`
	Name     string `json:"name"`
	Project  string `json:"project"`
	Content  []byte `json:"content"`
	Metadata []byte `json:"metadata,omitempty"`

	CachedAt       time.Time `json:"cached_at"`
	LastAccessedAt time.Time `json:"last_accessed_at"`
	IsCritical     bool      `json:"is_critical"`
	SizeBytes      int64     `json:"size_bytes"`

	// TouchSeq is the monotonic counter stamped on every insert and every
	// access-driven touch. It exists purely to break lastAccessedAt ties in
	// the LRU ordering deterministically; it has no meaning outside the
	// store package. See SPEC_FULL.md "Store" for the rationale.
	TouchSeq uint64 `json:"touch_seq"`
}

// QueueRow is a single durable write-ahead queue entry (spec §3).
type QueueRow struct {
	ID            uint64     `json:"id"`
	Operation     Operation  `json:"operation"`
	Payload       []byte     `json:"payload"`
	CreatedAt     time.Time  `json:"created_at"`
	Status        QueueState `json:"status"`
	Attempts      int        `json:"attempts"`
	LastAttemptAt *time.Time `json:"last_attempt_at,omitempty"`
	LastError     string     `json:"last_error,omitempty"`
}

// Operation is one of the six durable mutation kinds the write queue replays.
type Operation string

const (
	OpCreateDocument Operation = "create_document"
	OpUpdateDocument Operation = "update_document"
	OpDeleteDocument Operation = "delete_document"
	OpSetMemory      Operation = "set_memory"
	OpUpdateMemory   Operation = "update_memory"
	OpDeleteMemory   Operation = "delete_memory"
)

// QueueState is a QueueRow's lifecycle state.
type QueueState string

const (
	QueuePending   QueueState = "pending"
	QueueCompleted QueueState = "completed"
	QueueFailed    QueueState = "failed"
)

// HealthRow is a best-effort connection-health log entry (spec §3).
type HealthRow struct {
	Timestamp    time.Time `json:"timestamp"`
	State        string    `json:"state"`
	LatencyMs    int64     `json:"latency_ms,omitempty"`
	ErrorMessage string    `json:"error_message,omitempty"`
}

// DocumentPayload is the enqueued payload for create/update/delete_document.
type DocumentPayload struct {
	DocType  string `json:"doc_type"`
	Name     string `json:"name"`
	Project  string `json:"project"`
	Content  []byte `json:"content,omitempty"`
	Metadata []byte `json:"metadata,omitempty"`
}

// MemoryPayload is the enqueued payload for set/update/delete_memory.
type MemoryPayload struct {
	Name     string `json:"name"`
	Project  string `json:"project"`
	Content  []byte `json:"content,omitempty"`
	Metadata []byte `json:"metadata,omitempty"`
}
