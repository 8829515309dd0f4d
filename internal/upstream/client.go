// Package upstream defines the abstract tool-invocation transport that sits
// between the sidecar and the remote knowledge/code-intelligence server, and
// provides three interchangeable concrete implementations of it.
package upstream

import (
	"context"
	"errors"
	"fmt"
)

// Client is the single contract ConnectionSupervisor, WriteQueue, and
// Dispatcher depend on. All four methods return a transport error wrapped in
// *Error when the upstream is unreachable or rejects the call; callers
// never need to know which concrete transport is in play.
type Client interface {
	// Fetch retrieves a document or memory by logical key. kind is either
	// "document" or "memory"; docType is empty for memories.
	Fetch(ctx context.Context, kind, docType, name, project string) ([]byte, []byte, error)

	// Mutate performs a durable write (create/update/delete of a document
	// or memory). op names the operation exactly as model.Operation does.
	Mutate(ctx context.Context, op string, payload []byte) error

	// Invoke calls an arbitrary named tool with its arguments and returns
	// the raw JSON result, for tools outside the cache/queue fast paths.
	Invoke(ctx context.Context, name string, args []byte) ([]byte, error)

	// Probe performs a cheap liveness check and reports round-trip
	// latency. Used by ConnectionSupervisor's periodic health check.
	Probe(ctx context.Context) error
}

// Error wraps a transport-level failure so callers can distinguish it from
// a successful-but-erroring upstream response (spec §6 TOOL_ERROR vs a
// connection-state transition trigger).
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("upstream: %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// NewError wraps err as a transport failure attributed to op. Returns nil
// if err is nil, so call sites can write `return NewError("fetch", err)`
// unconditionally.
func NewError(op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Op: op, Err: err}
}

// ErrUnavailable is returned by transports that cannot even attempt a call
// (e.g. the subprocess has exited, the socket was never dialed).
var ErrUnavailable = errors.New("upstream transport unavailable")
