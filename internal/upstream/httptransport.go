// httptransport.go — plain request/response HTTP transport, hitting the
// upstream's /mcp/* endpoints one call at a time. Adapted from the
// teacher's bridge.DoHTTP helper (request construction, health probe).
package upstream

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/dev-console/sidecar-proxy/internal/bridge"
)

const (
	routeDocument = "/mcp/document"
	routeMemory   = "/mcp/memory"
	routeTool     = "/mcp/tool"
	routeTools    = "/mcp/tools"
	routeHealth   = "/health"
)

// HTTPTransport is an upstream.Client backed by plain HTTP request/response
// calls, one per operation, against a base URL.
type HTTPTransport struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewHTTPTransport builds a transport against baseURL using the given
// *http.Client (or http.DefaultClient's equivalent timeout if nil). apiKey,
// if non-empty, is sent as "Authorization: Bearer <apiKey>" on every
// request (spec §6).
func NewHTTPTransport(baseURL, apiKey string, client *http.Client) *HTTPTransport {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &HTTPTransport{baseURL: baseURL, apiKey: apiKey, client: client}
}

type fetchRequest struct {
	Kind    string `json:"kind"`
	DocType string `json:"doc_type,omitempty"`
	Name    string `json:"name"`
	Project string `json:"project"`
}

type fetchResponse struct {
	Content  []byte `json:"content"`
	Metadata []byte `json:"metadata"`
}

type mutateRequest struct {
	Operation string          `json:"operation"`
	Payload   json.RawMessage `json:"payload"`
}

type toolRequest struct {
	Name string          `json:"name"`
	Args json.RawMessage `json:"args"`
}

// Fetch issues POST /mcp/document or /mcp/memory depending on kind.
func (h *HTTPTransport) Fetch(ctx context.Context, kind, docType, name, project string) ([]byte, []byte, error) {
	route := routeMemory
	if kind == "document" {
		route = routeDocument
	}
	var resp fetchResponse
	if err := h.postJSON(ctx, "fetch", route, fetchRequest{Kind: kind, DocType: docType, Name: name, Project: project}, &resp); err != nil {
		return nil, nil, err
	}
	return resp.Content, resp.Metadata, nil
}

// Mutate issues POST /mcp/tool with the operation name and payload.
func (h *HTTPTransport) Mutate(ctx context.Context, op string, payload []byte) error {
	return h.postJSON(ctx, "mutate", routeTool, mutateRequest{Operation: op, Payload: payload}, nil)
}

// Invoke issues POST /mcp/tool with an arbitrary tool name and arguments.
func (h *HTTPTransport) Invoke(ctx context.Context, name string, args []byte) ([]byte, error) {
	var raw json.RawMessage
	if err := h.postJSON(ctx, "invoke", routeTool, toolRequest{Name: name, Args: args}, &raw); err != nil {
		return nil, err
	}
	return raw, nil
}

// Probe issues GET /health and fails if the status is not 200.
func (h *HTTPTransport) Probe(ctx context.Context) error {
	resp, err := bridge.DoHTTP(ctx, h.client, http.MethodGet, h.baseURL+routeHealth, nil, h.headers())
	if err != nil {
		return NewError("probe", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return NewError("probe", fmt.Errorf("unhealthy status %d", resp.StatusCode))
	}
	return nil
}

func (h *HTTPTransport) headers() map[string]string {
	if h.apiKey == "" {
		return nil
	}
	return map[string]string{"Authorization": "Bearer " + h.apiKey}
}

func (h *HTTPTransport) postJSON(ctx context.Context, op, route string, body any, out any) error {
	encoded, err := json.Marshal(body)
	if err != nil {
		return NewError(op, err)
	}

	resp, err := bridge.DoHTTP(ctx, h.client, http.MethodPost, h.baseURL+route, encoded, h.headers())
	if err != nil {
		return NewError(op, err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return NewError(op, err)
	}
	if resp.StatusCode >= 400 {
		return NewError(op, fmt.Errorf("status %d: %s", resp.StatusCode, string(respBody)))
	}
	if out == nil || len(respBody) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return NewError(op, err)
	}
	return nil
}
