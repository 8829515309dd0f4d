// http.go — the optional HTTP surface: a single /mcp JSON-RPC endpoint for
// non-stdio clients, /health, and /sse/events (connection-state push),
// mirroring the teacher's server_routes.go + sse.go shape over a
// go-chi/chi/v5 mux instead of teacher's hand-rolled net/http switch.
package frontend

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/dev-console/sidecar-proxy/internal/connection"
	"github.com/dev-console/sidecar-proxy/internal/mcp"
	"github.com/dev-console/sidecar-proxy/internal/util"
)

// sseClient is one registered /sse/events connection, identified the way
// the teacher's SSERegistry identifies connections — except the session id
// comes from google/uuid rather than the teacher's crypto/rand hex scheme.
type sseClient struct {
	id string
	ch chan string
}

// eventBroadcaster fans connection-state changes out to every connected
// SSE client. Registered as connection.Events.OnStateChange.
type eventBroadcaster struct {
	mu      sync.Mutex
	clients map[string]*sseClient
}

func newEventBroadcaster() *eventBroadcaster {
	return &eventBroadcaster{clients: make(map[string]*sseClient)}
}

func (b *eventBroadcaster) register() *sseClient {
	c := &sseClient{id: uuid.NewString(), ch: make(chan string, 16)}
	b.mu.Lock()
	b.clients[c.id] = c
	b.mu.Unlock()
	return c
}

func (b *eventBroadcaster) unregister(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if c, ok := b.clients[id]; ok {
		close(c.ch)
		delete(b.clients, id)
	}
}

func (b *eventBroadcaster) broadcast(event string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, c := range b.clients {
		select {
		case c.ch <- event:
		default: // slow client, drop rather than block the state machine
		}
	}
}

// OnStateChange formats a connection-state transition as an SSE data line
// and fans it out. Safe to wire directly as connection.Events.OnStateChange.
func (b *eventBroadcaster) OnStateChange(from, to connection.State) {
	payload, _ := json.Marshal(map[string]string{"from": string(from), "to": string(to)})
	b.broadcast(fmt.Sprintf("event: connection:state\ndata: %s\n\n", payload))
}

// Router builds the chi mux for the HTTP surface.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Get("/health", s.handleHealth)
	r.Get("/health/log", s.handleHealthLog)
	r.Post("/mcp", s.handleMCPPost)
	r.Get("/sse/events", s.handleSSE)
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "unknown"
	if s.state != nil {
		status = string(s.state.State())
	}
	util.JSONResponse(w, http.StatusOK, map[string]string{"status": status})
}

// handleHealthLog answers the best-effort connection-health history (spec
// §3 HealthRow / connection_log bucket) the ConnectionSupervisor's lifecycle
// callbacks append to on every state transition.
func (s *Server) handleHealthLog(w http.ResponseWriter, r *http.Request) {
	if s.health == nil {
		http.Error(w, "health log not configured", http.StatusNotImplemented)
		return
	}
	const defaultLimit = 50
	rows, err := s.health.RecentHealth(defaultLimit)
	if err != nil {
		util.JSONResponse(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	util.JSONResponse(w, http.StatusOK, rows)
}

func (s *Server) handleMCPPost(w http.ResponseWriter, r *http.Request) {
	var req mcp.JSONRPCRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		util.JSONResponse(w, http.StatusBadRequest, errorResponse(nil, -32700, "parse error: "+err.Error()))
		return
	}
	resp := s.handleRequest(r.Context(), req)
	util.JSONResponse(w, http.StatusOK, resp)
}

// handleSSE streams connection-state change events to the caller, matching
// spec §4.5's invalidation stream in spirit: named events over a long-lived
// GET, reconnect is the caller's responsibility.
func (s *Server) handleSSE(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	if s.events == nil {
		http.Error(w, "event stream not configured", http.StatusNotImplemented)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	client := s.events.register()
	defer s.events.unregister(client.id)

	ctx := r.Context()
	keepalive := time.NewTicker(30 * time.Second)
	defer keepalive.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-keepalive.C:
			_, _ = fmt.Fprint(w, ": keepalive\n\n")
			flusher.Flush()
		case event, ok := <-client.ch:
			if !ok {
				return
			}
			_, _ = fmt.Fprint(w, event)
			flusher.Flush()
		}
	}
}
