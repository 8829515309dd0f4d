package store

import (
	"encoding/binary"
	"encoding/json"
	"fmt"

	"github.com/dev-console/sidecar-proxy/internal/model"
)

const keySep = "\x00"

// documentKey builds the composite-unique-key bytes for a document row:
// (kind, docType, name, project) — kind is implicit in the bucket.
func documentKey(docType, name, project string) []byte {
	return []byte(docType + keySep + name + keySep + project)
}

// memoryKey builds the composite-unique-key bytes for a memory row:
// (kind, name, project) — kind is implicit in the bucket.
func memoryKey(name, project string) []byte {
	return []byte(name + keySep + project)
}

func encodeRow(row model.CacheRow) ([]byte, error) {
	b, err := json.Marshal(row)
	if err != nil {
		return nil, fmt.Errorf("encode row: %w", err)
	}
	return b, nil
}

func decodeRow(v []byte) (model.CacheRow, error) {
	var row model.CacheRow
	if err := json.Unmarshal(v, &row); err != nil {
		return model.CacheRow{}, fmt.Errorf("decode row: %w", err)
	}
	return row, nil
}

// lruPointer is the value stored in the dynamic_lru index: enough to find
// and delete the real row without re-deriving its key.
type lruPointer struct {
	Bucket    string `json:"bucket"`
	Key       []byte `json:"key"`
	SizeBytes int64  `json:"size_bytes"`
}

// lruIndexKey orders ascending by (lastAccessedAtUnixNano, touchSeq), giving
// exactly the LRU scan order spec §4.2 requires, with touchSeq as the
// ascending tiebreaker for same-nanosecond touches.
func lruIndexKey(lastAccessedAtUnixNano int64, touchSeq uint64) []byte {
	buf := make([]byte, 16)
	binary.BigEndian.PutUint64(buf[0:8], uint64(lastAccessedAtUnixNano))
	binary.BigEndian.PutUint64(buf[8:16], touchSeq)
	return buf
}

func encodePointer(p lruPointer) []byte {
	b, _ := json.Marshal(p)
	return b
}

func decodePointer(v []byte) (lruPointer, error) {
	var p lruPointer
	if err := json.Unmarshal(v, &p); err != nil {
		return lruPointer{}, fmt.Errorf("decode lru pointer: %w", err)
	}
	return p, nil
}
