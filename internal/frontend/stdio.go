// stdio.go — the stdio MCP front door: reads framed JSON-RPC requests from
// an input stream and writes framed responses back, mirroring whichever
// framing the caller used (spec §1's "front-side tool-invocation server"
// external collaborator, reduced to the thin contract we need to drive the
// Dispatcher end to end).
package frontend

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/dev-console/sidecar-proxy/internal/bridge"
	"github.com/dev-console/sidecar-proxy/internal/mcp"
)

const maxStdioBodyBytes = 16 << 20

// ServeStdio reads one JSON-RPC message at a time from in and writes the
// response to out, until in is exhausted or ctx is cancelled. Only one
// response is ever in flight — the teacher's wrapper holds the same
// invariant via mcpStdoutMu.
func (s *Server) ServeStdio(ctx context.Context, in io.Reader, out io.Writer) error {
	reader := bufio.NewReader(in)
	var writeMu sync.Mutex

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		payload, framing, err := bridge.ReadStdioMessageWithMode(reader, maxStdioBodyBytes)
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return fmt.Errorf("frontend: read stdio message: %w", err)
		}

		var req mcp.JSONRPCRequest
		if jsonErr := json.Unmarshal(payload, &req); jsonErr != nil {
			writeFramed(out, &writeMu, framing, errorResponse(nil, -32700, "parse error: "+jsonErr.Error()))
			continue
		}

		resp := s.handleRequest(ctx, req)
		writeFramed(out, &writeMu, framing, resp)
	}
}

func writeFramed(out io.Writer, mu *sync.Mutex, framing bridge.StdioFraming, resp mcp.JSONRPCResponse) {
	body, err := json.Marshal(resp)
	if err != nil {
		body = []byte(`{"jsonrpc":"2.0","id":null,"error":{"code":-32603,"message":"internal error: failed to marshal response"}}`)
	}
	body = bytes.TrimSpace(body)

	mu.Lock()
	defer mu.Unlock()
	if framing == bridge.StdioFramingContentLength {
		_, _ = fmt.Fprintf(out, "Content-Length: %d\r\nContent-Type: application/json\r\n\r\n%s", len(body), body)
		return
	}
	_, _ = out.Write(body)
	_, _ = out.Write([]byte("\n"))
}
