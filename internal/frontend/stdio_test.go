package frontend

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/dev-console/sidecar-proxy/internal/connection"
	"github.com/dev-console/sidecar-proxy/internal/mcp"
)

func TestServeStdio_LineFramedRoundTrip(t *testing.T) {
	d := &fakeDispatcher{tools: nil}
	s := newTestServer(d, connection.StateConnected)

	req := mcp.JSONRPCRequest{JSONRPC: "2.0", ID: float64(1), Method: "initialize"}
	reqJSON, _ := json.Marshal(req)

	in := strings.NewReader(string(reqJSON) + "\n")
	var out bytes.Buffer

	if err := s.ServeStdio(context.Background(), in, &out); err != nil {
		t.Fatalf("ServeStdio: %v", err)
	}

	var resp mcp.JSONRPCResponse
	if err := json.Unmarshal(bytes.TrimSpace(out.Bytes()), &resp); err != nil {
		t.Fatalf("unmarshal response %q: %v", out.String(), err)
	}
	if resp.Error != nil {
		t.Fatalf("unexpected error: %+v", resp.Error)
	}
}

func TestServeStdio_ContentLengthFramedRoundTrip(t *testing.T) {
	d := &fakeDispatcher{}
	s := newTestServer(d, connection.StateConnected)

	req := mcp.JSONRPCRequest{JSONRPC: "2.0", ID: float64(2), Method: "tools/list"}
	reqJSON, _ := json.Marshal(req)

	var in bytes.Buffer
	in.WriteString("Content-Length: ")
	in.WriteString(itoa(len(reqJSON)))
	in.WriteString("\r\n\r\n")
	in.Write(reqJSON)

	var out bytes.Buffer
	if err := s.ServeStdio(context.Background(), &in, &out); err != nil {
		t.Fatalf("ServeStdio: %v", err)
	}
	if !strings.Contains(out.String(), "Content-Length:") {
		t.Fatalf("expected content-length framed response, got %q", out.String())
	}
}

func itoa(n int) string {
	b, _ := json.Marshal(n)
	return string(b)
}
