// childprocess.go — stdio JSON-RPC transport: the upstream is a child
// process speaking line/Content-Length framed MCP over its stdin/stdout,
// framed with the same reader internal/bridge uses for the front door's
// own stdio transport.
package upstream

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/dev-console/sidecar-proxy/internal/bridge"
	"github.com/dev-console/sidecar-proxy/internal/mcp"
)

// maxChildBodyBytes bounds a single Content-Length framed body the child
// process may send, guarding against a runaway or malicious upstream.
const maxChildBodyBytes = 32 << 20

// ChildProcess is an upstream.Client backed by a subprocess. Requests are
// written Content-Length framed on stdin; responses are read the same way
// off stdout and matched back to callers by JSON-RPC id.
type ChildProcess struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout *bufio.Reader

	writeMu sync.Mutex
	nextID  atomic.Int64

	pendingMu sync.Mutex
	pending   map[string]chan mcp.JSONRPCResponse

	closeOnce sync.Once
	closed    chan struct{}
}

// StartChildProcess launches name with args and begins reading its
// stdout in a background goroutine.
func StartChildProcess(ctx context.Context, name string, args ...string) (*ChildProcess, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("upstream: child stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("upstream: child stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("upstream: start child: %w", err)
	}

	c := &ChildProcess{
		cmd:     cmd,
		stdin:   stdin,
		stdout:  bufio.NewReader(stdout),
		pending: make(map[string]chan mcp.JSONRPCResponse),
		closed:  make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

// Close terminates the child process and releases its pipes.
func (c *ChildProcess) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closed)
		_ = c.stdin.Close()
		err = c.cmd.Wait()
	})
	return err
}

func (c *ChildProcess) readLoop() {
	for {
		body, err := bridge.ReadStdioMessage(c.stdout, maxChildBodyBytes)
		if err != nil {
			c.failAllPending(err)
			return
		}
		var resp mcp.JSONRPCResponse
		if err := json.Unmarshal(body, &resp); err != nil {
			continue
		}
		id := fmt.Sprintf("%v", resp.ID)
		c.pendingMu.Lock()
		ch, ok := c.pending[id]
		if ok {
			delete(c.pending, id)
		}
		c.pendingMu.Unlock()
		if ok {
			ch <- resp
		}
	}
}

func (c *ChildProcess) failAllPending(err error) {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()
	for id, ch := range c.pending {
		close(ch)
		delete(c.pending, id)
	}
	_ = err
}

func (c *ChildProcess) call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	id := strconv.FormatInt(c.nextID.Add(1), 10)
	paramsJSON, err := json.Marshal(params)
	if err != nil {
		return nil, NewError(method, err)
	}
	req := mcp.JSONRPCRequest{JSONRPC: "2.0", ID: id, Method: method, Params: paramsJSON}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, NewError(method, err)
	}

	ch := make(chan mcp.JSONRPCResponse, 1)
	c.pendingMu.Lock()
	c.pending[id] = ch
	c.pendingMu.Unlock()

	if err := c.writeFramed(body); err != nil {
		c.pendingMu.Lock()
		delete(c.pending, id)
		c.pendingMu.Unlock()
		return nil, NewError(method, err)
	}

	select {
	case <-ctx.Done():
		c.pendingMu.Lock()
		delete(c.pending, id)
		c.pendingMu.Unlock()
		return nil, NewError(method, ctx.Err())
	case <-c.closed:
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

func (c *ChildProcess) writeFramed(body []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	header := fmt.Sprintf("Content-Length: %d\r\n\r\n", len(body))
	if _, err := io.WriteString(c.stdin, header); err != nil {
		return err
	}
	_, err := c.stdin.Write(body)
	return err
}

// Fetch issues a tools/call for the read-side tool matching kind/docType.
func (c *ChildProcess) Fetch(ctx context.Context, kind, docType, name, project string) ([]byte, []byte, error) {
	result, err := c.call(ctx, "tools/call", fetchParams(kind, docType, name, project))
	if err != nil {
		return nil, nil, err
	}
	return splitFetchResult(result)
}

// Mutate issues a tools/call naming op as the tool and payload as args.
func (c *ChildProcess) Mutate(ctx context.Context, op string, payload []byte) error {
	_, err := c.call(ctx, "tools/call", map[string]any{"name": op, "arguments": json.RawMessage(payload)})
	return err
}

// Invoke issues a raw tools/call and returns the result verbatim.
func (c *ChildProcess) Invoke(ctx context.Context, name string, args []byte) ([]byte, error) {
	return c.call(ctx, "tools/call", map[string]any{"name": name, "arguments": json.RawMessage(args)})
}

// Probe issues a cheap tools/list to confirm the child is responsive.
func (c *ChildProcess) Probe(ctx context.Context) error {
	_, err := c.call(ctx, "tools/list", map[string]any{})
	return err
}

func fetchParams(kind, docType, name, project string) map[string]any {
	args := map[string]any{"name": name, "project": project}
	if docType != "" {
		args["doc_type"] = docType
	}
	toolName := "fetch_memory"
	if kind == "document" {
		toolName = "fetch_document"
	}
	return map[string]any{"name": toolName, "arguments": args}
}

func splitFetchResult(raw json.RawMessage) ([]byte, []byte, error) {
	var parsed struct {
		Content  json.RawMessage `json:"content"`
		Metadata json.RawMessage `json:"metadata"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, nil, NewError("fetch", err)
	}
	return []byte(parsed.Content), []byte(parsed.Metadata), nil
}
