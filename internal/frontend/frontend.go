// Package frontend is the thin "front-side tool-invocation server" spec §1
// names as an external collaborator: a stdio JSON-RPC loop plus an optional
// HTTP+SSE surface, both driving the same Dispatcher. It mirrors the
// teacher's cmd/dev-console/main.go + sse.go shape without reproducing the
// teacher's browser-devtools tool surface.
package frontend

import (
	"context"
	"encoding/json"

	"github.com/dev-console/sidecar-proxy/internal/connection"
	"github.com/dev-console/sidecar-proxy/internal/dispatch"
	"github.com/dev-console/sidecar-proxy/internal/mcp"
	"github.com/dev-console/sidecar-proxy/internal/model"
)

const protocolVersion = "2024-11-05"

// Logger is satisfied by *zap.SugaredLogger.
type Logger interface {
	Infow(msg string, keysAndValues ...any)
	Warnw(msg string, keysAndValues ...any)
}

// Dispatcher is the subset of dispatch.Dispatcher the front door drives.
type Dispatcher interface {
	ListTools() []dispatch.ToolDescriptor
	CallTool(ctx context.Context, name string, args json.RawMessage) dispatch.Envelope
}

// StateSource reports the connection state shown on /health and pushed
// over /sse/events.
type StateSource interface {
	State() connection.State
}

// HealthSource backs /health/log with the store's best-effort
// connection-health history (spec §3 HealthRow).
type HealthSource interface {
	RecentHealth(limit int) ([]model.HealthRow, error)
}

// Server is the front-side tool-invocation surface.
type Server struct {
	dispatcher Dispatcher
	state      StateSource
	health     HealthSource
	log        Logger
	serverName string
	events     *eventBroadcaster
}

// New builds a Server over an already-wired Dispatcher. The returned
// Server's Router() also serves /sse/events; call StateChangeHook and wire
// its result as connection.Events.OnStateChange to feed that stream. health
// may be nil, in which case /health/log answers 501.
func New(dispatcher Dispatcher, state StateSource, health HealthSource, log Logger) *Server {
	return &Server{dispatcher: dispatcher, state: state, health: health, log: log, serverName: "sidecar-proxy", events: newEventBroadcaster()}
}

// StateChangeHook returns the callback to wire as
// connection.Events.OnStateChange so /sse/events reflects live transitions.
func (s *Server) StateChangeHook() func(from, to connection.State) {
	return s.events.OnStateChange
}

func (s *Server) handleRequest(ctx context.Context, req mcp.JSONRPCRequest) mcp.JSONRPCResponse {
	if req.HasInvalidID() {
		return errorResponse(nil, -32600, "invalid request: id must be a string, number, or omitted")
	}
	switch req.Method {
	case "initialize":
		return s.handleInitialize(req)
	case "tools/list":
		return s.handleToolsList(req)
	case "tools/call":
		return s.handleToolsCall(ctx, req)
	default:
		if !req.HasID() {
			return mcp.JSONRPCResponse{} // a notification carries no id and wants no reply
		}
		return errorResponse(req.ID, -32601, "method not found: "+req.Method)
	}
}

func (s *Server) handleInitialize(req mcp.JSONRPCRequest) mcp.JSONRPCResponse {
	result := mcp.MCPInitializeResult{
		ProtocolVersion: protocolVersion,
		ServerInfo:      mcp.MCPServerInfo{Name: s.serverName, Version: "0.1.0"},
		Capabilities:    mcp.MCPCapabilities{Tools: mcp.MCPToolsCapability{}},
	}
	return okResponse(req.ID, result)
}

func (s *Server) handleToolsList(req mcp.JSONRPCRequest) mcp.JSONRPCResponse {
	descriptors := s.dispatcher.ListTools()
	tools := make([]mcp.MCPTool, len(descriptors))
	for i, d := range descriptors {
		tools[i] = mcp.MCPTool{Name: d.Name, Description: d.Description, InputSchema: genericObjectSchema()}
	}
	return okResponse(req.ID, mcp.MCPToolsListResult{Tools: tools})
}

type toolCallParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

func (s *Server) handleToolsCall(ctx context.Context, req mcp.JSONRPCRequest) mcp.JSONRPCResponse {
	var params toolCallParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return errorResponse(req.ID, -32602, "invalid params: "+err.Error())
	}
	if len(params.Arguments) == 0 {
		params.Arguments = json.RawMessage(`{}`)
	}

	envelope := s.dispatcher.CallTool(ctx, params.Name, params.Arguments)

	// maxErrorMessageLen bounds how much upstream-derived error text an LLM
	// client has to read; long stack traces or echoed payloads are trimmed.
	const maxErrorMessageLen = 2000

	var resultJSON json.RawMessage
	if envelope.Error != nil {
		envelope.Error.Message = mcp.Truncate(envelope.Error.Message, maxErrorMessageLen)
		resultJSON = mcp.JSONErrorResponse("", envelope)
	} else {
		resultJSON = mcp.JSONResponse("", envelope)
	}
	resp := mcp.JSONRPCResponse{JSONRPC: "2.0", ID: req.ID, Result: resultJSON}
	if envelope.Metadata.Warning != "" {
		resp = mcp.AppendWarningsToResponse(resp, []string{envelope.Metadata.Warning})
	}
	return resp
}

func genericObjectSchema() map[string]any {
	return map[string]any{"type": "object"}
}

func okResponse(id any, result any) mcp.JSONRPCResponse {
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return errorResponse(id, -32603, "internal error: failed to marshal result")
	}
	return mcp.JSONRPCResponse{JSONRPC: "2.0", ID: id, Result: resultJSON}
}

func errorResponse(id any, code int, message string) mcp.JSONRPCResponse {
	return mcp.JSONRPCResponse{
		JSONRPC: "2.0",
		ID:      id,
		Error:   &mcp.JSONRPCError{Code: code, Message: message},
	}
}
