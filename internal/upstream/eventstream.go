// eventstream.go — bidirectional event-stream transport: requests and
// responses are correlated JSON frames pushed over a single long-lived
// websocket connection, mirroring the teacher's connection-tracking idiom
// (a map of in-flight work keyed by a correlation id) applied to outbound
// calls instead of inbound capture.
package upstream

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/dev-console/sidecar-proxy/internal/mcp"
)

// EventStream is an upstream.Client backed by a single websocket
// connection. The server pushes responses asynchronously; this type
// correlates them back to the call that issued the request.
type EventStream struct {
	conn   *websocket.Conn
	nextID atomic.Int64

	writeMu sync.Mutex

	pendingMu sync.Mutex
	pending   map[string]chan mcp.JSONRPCResponse

	closeOnce sync.Once
	closed    chan struct{}
}

// DialEventStream opens a websocket connection to url and starts the
// background read loop that demultiplexes responses.
func DialEventStream(ctx context.Context, url string, header map[string][]string) (*EventStream, error) {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, url, header)
	if err != nil {
		return nil, fmt.Errorf("upstream: dial event stream: %w", err)
	}
	es := &EventStream{
		conn:    conn,
		pending: make(map[string]chan mcp.JSONRPCResponse),
		closed:  make(chan struct{}),
	}
	go es.readLoop()
	return es, nil
}

// Close closes the underlying websocket connection.
func (es *EventStream) Close() error {
	var err error
	es.closeOnce.Do(func() {
		close(es.closed)
		err = es.conn.Close()
	})
	return err
}

func (es *EventStream) readLoop() {
	for {
		_, data, err := es.conn.ReadMessage()
		if err != nil {
			es.failAllPending()
			return
		}
		var resp mcp.JSONRPCResponse
		if err := json.Unmarshal(data, &resp); err != nil {
			continue
		}
		id := fmt.Sprintf("%v", resp.ID)
		es.pendingMu.Lock()
		ch, ok := es.pending[id]
		if ok {
			delete(es.pending, id)
		}
		es.pendingMu.Unlock()
		if ok {
			ch <- resp
		}
	}
}

func (es *EventStream) failAllPending() {
	es.pendingMu.Lock()
	defer es.pendingMu.Unlock()
	for id, ch := range es.pending {
		close(ch)
		delete(es.pending, id)
	}
}

func (es *EventStream) call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	id := fmt.Sprintf("%d", es.nextID.Add(1))
	paramsJSON, err := json.Marshal(params)
	if err != nil {
		return nil, NewError(method, err)
	}
	req := mcp.JSONRPCRequest{JSONRPC: "2.0", ID: id, Method: method, Params: paramsJSON}

	ch := make(chan mcp.JSONRPCResponse, 1)
	es.pendingMu.Lock()
	es.pending[id] = ch
	es.pendingMu.Unlock()

	es.writeMu.Lock()
	err = es.conn.WriteJSON(req)
	es.writeMu.Unlock()
	if err != nil {
		es.pendingMu.Lock()
		delete(es.pending, id)
		es.pendingMu.Unlock()
		return nil, NewError(method, err)
	}

	select {
	case <-ctx.Done():
		es.pendingMu.Lock()
		delete(es.pending, id)
		es.pendingMu.Unlock()
		return nil, NewError(method, ctx.Err())
	case <-es.closed:
		return nil, NewError(method, ErrUnavailable)
	case resp, ok := <-ch:
		if !ok {
			return nil, NewError(method, ErrUnavailable)
		}
		if resp.Error != nil {
			return nil, NewError(method, fmt.Errorf("%s (code %d)", resp.Error.Message, resp.Error.Code))
		}
		return resp.Result, nil
	}
}

// Fetch requests a document or memory by logical key.
func (es *EventStream) Fetch(ctx context.Context, kind, docType, name, project string) ([]byte, []byte, error) {
	result, err := es.call(ctx, "tools/call", fetchParams(kind, docType, name, project))
	if err != nil {
		return nil, nil, err
	}
	return splitFetchResult(result)
}

// Mutate sends a durable write operation.
func (es *EventStream) Mutate(ctx context.Context, op string, payload []byte) error {
	_, err := es.call(ctx, "tools/call", map[string]any{"name": op, "arguments": json.RawMessage(payload)})
	return err
}

// Invoke calls an arbitrary named tool.
func (es *EventStream) Invoke(ctx context.Context, name string, args []byte) ([]byte, error) {
	return es.call(ctx, "tools/call", map[string]any{"name": name, "arguments": json.RawMessage(args)})
}

// Probe issues a cheap round trip to confirm liveness.
func (es *EventStream) Probe(ctx context.Context) error {
	_, err := es.call(ctx, "tools/list", map[string]any{})
	return err
}
