// Package queue implements the durable write-ahead queue: operations
// captured while the upstream is unreachable are persisted via
// internal/store and replayed, strictly in submission order, once the
// connection returns.
package queue

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/dev-console/sidecar-proxy/internal/model"
	"github.com/dev-console/sidecar-proxy/internal/store"
	"github.com/dev-console/sidecar-proxy/internal/upstream"
)

// DefaultMaxAttempts is the bounded-retry ceiling before a row moves to
// the terminal failed bucket.
const DefaultMaxAttempts = 3

// ReplayResult reports how a replay pass disposed of the rows it selected.
type ReplayResult struct {
	Synced int
	Failed int
}

// WriteQueue is the WriteQueue component (spec §4.3).
type WriteQueue struct {
	store       *store.Store
	upstream    upstream.Client
	maxAttempts int

	replaying atomic.Bool
}

// New builds a WriteQueue over an already-open store and an upstream
// client. maxAttempts <= 0 falls back to DefaultMaxAttempts.
func New(s *store.Store, client upstream.Client, maxAttempts int) *WriteQueue {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	return &WriteQueue{store: s, upstream: client, maxAttempts: maxAttempts}
}

// Enqueue durably appends a pending mutation. Returns once the write is
// durable (spec §4.3 enqueue).
func (q *WriteQueue) Enqueue(op model.Operation, payload []byte) (model.QueueRow, error) {
	row, err := q.store.EnqueueOp(op, payload)
	if err != nil {
		return model.QueueRow{}, fmt.Errorf("queue: enqueue: %w", err)
	}
	return row, nil
}

// PendingCount returns the number of rows awaiting replay.
func (q *WriteQueue) PendingCount() (int, error) {
	n, err := q.store.PendingCount()
	if err != nil {
		return 0, fmt.Errorf("queue: pending count: %w", err)
	}
	return n, nil
}

// ListFailed returns every row in the terminal failed bucket.
func (q *WriteQueue) ListFailed() ([]model.QueueRow, error) {
	rows, err := q.store.ListQueue(model.QueueFailed)
	if err != nil {
		return nil, fmt.Errorf("queue: list failed: %w", err)
	}
	return rows, nil
}

// Retry resets a failed row back to pending so the next replay pass
// attempts it again (spec §4.3 retry(id)).
func (q *WriteQueue) Retry(id uint64) error {
	if err := q.store.RetryQueueRow(id); err != nil {
		return fmt.Errorf("queue: retry: %w", err)
	}
	return nil
}

// ClearFailed bulk-deletes every row in the failed bucket.
func (q *WriteQueue) ClearFailed() (int, error) {
	n, err := q.store.ClearFailed()
	if err != nil {
		return 0, fmt.Errorf("queue: clear failed: %w", err)
	}
	return n, nil
}

// Stats reports pending/failed/total row counts.
func (q *WriteQueue) Stats() (store.QueueStats, error) {
	stats, err := q.store.QueueStatsSnapshot()
	if err != nil {
		return store.QueueStats{}, fmt.Errorf("queue: stats: %w", err)
	}
	return stats, nil
}

// Replay selects all pending rows ordered by createdAt ascending and
// dispatches each to the upstream client in strict sequence (spec §4.3
// replay()). A second concurrent call observes the guard already held and
// returns a zero ReplayResult without touching the store — this is the
// "single in-process guard" spec §4.3 and property 10 require.
func (q *WriteQueue) Replay(ctx context.Context) (ReplayResult, error) {
	if !q.replaying.CompareAndSwap(false, true) {
		return ReplayResult{}, nil
	}
	defer q.replaying.Store(false)

	rows, err := q.store.ListQueue(model.QueuePending)
	if err != nil {
		return ReplayResult{}, fmt.Errorf("queue: replay: list pending: %w", err)
	}

	var result ReplayResult
	for _, row := range rows {
		mutateErr := q.upstream.Mutate(ctx, string(row.Operation), row.Payload)
		if mutateErr == nil {
			if err := q.store.DeleteQueueRow(row.ID); err != nil {
				return result, fmt.Errorf("queue: replay: delete row %d: %w", row.ID, err)
			}
			result.Synced++
			continue
		}

		if row.Attempts+1 < q.maxAttempts {
			if err := q.store.MarkQueueRetry(row.ID, mutateErr.Error()); err != nil {
				return result, fmt.Errorf("queue: replay: mark retry row %d: %w", row.ID, err)
			}
		} else {
			if err := q.store.MarkQueueFailed(row.ID, mutateErr.Error()); err != nil {
				return result, fmt.Errorf("queue: replay: mark failed row %d: %w", row.ID, err)
			}
		}
		result.Failed++
	}
	return result, nil
}
