// Package dispatch implements the Dispatcher: it fuses the static tool
// catalog, CacheEngine, WriteQueue, UpstreamClient, and ConnectionSupervisor
// to answer every tool call with a uniform envelope (spec §4.6).
package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/dev-console/sidecar-proxy/internal/cache"
	"github.com/dev-console/sidecar-proxy/internal/connection"
	"github.com/dev-console/sidecar-proxy/internal/mcp"
	"github.com/dev-console/sidecar-proxy/internal/model"
	"github.com/dev-console/sidecar-proxy/internal/queue"
	"github.com/dev-console/sidecar-proxy/internal/redaction"
	"github.com/dev-console/sidecar-proxy/internal/upstream"
	"github.com/dev-console/sidecar-proxy/internal/util"
)

// errorRedactor strips bearer tokens, API keys, and other credential
// shapes out of upstream error text before it reaches a TOOL_ERROR
// envelope — an upstream that echoes a failed request back in its error
// body must not leak the Authorization header it was sent.
var errorRedactor = redaction.NewRedactionEngine("")

// Logger is satisfied by *zap.SugaredLogger.
type Logger interface {
	Warnw(msg string, keysAndValues ...any)
	Errorw(msg string, keysAndValues ...any)
}

// PreloadFunc fetches configured critical lists (e.g. all workflows, all
// rules) and inserts them via CacheEngine, on a Connected transition.
type PreloadFunc func(ctx context.Context)

// Dispatcher is the Dispatcher component.
type Dispatcher struct {
	cache      *cache.Engine
	queue      *queue.WriteQueue
	upstream   upstream.Client
	supervisor *connection.Supervisor
	preload    PreloadFunc
	log        Logger
}

// New wires a Dispatcher over its four collaborators. preload may be nil
// to skip the optional preload sweep.
func New(c *cache.Engine, q *queue.WriteQueue, u upstream.Client, sup *connection.Supervisor, preload PreloadFunc, log Logger) *Dispatcher {
	return &Dispatcher{cache: c, queue: q, upstream: u, supervisor: sup, preload: preload, log: log}
}

// ListTools returns the static catalog verbatim, regardless of connection
// state (spec §4.6).
func (d *Dispatcher) ListTools() []ToolDescriptor {
	return Catalog()
}

// OnConnected fires the two asynchronous tasks spec §4.6 says the
// Dispatcher triggers on a Connected transition: replay, then an optional
// preload sweep. Intended to be wired as connection.Events.OnConnected.
func (d *Dispatcher) OnConnected(latencyMs int64) {
	util.SafeGo(func() {
		if _, err := d.queue.Replay(context.Background()); err != nil {
			d.logWarn("dispatch: queue replay failed", "error", err)
		}
	})
	if d.preload != nil {
		util.SafeGo(func() { d.preload(context.Background()) })
	}
}

// CallTool routes name to the read, write, or pass-through path and
// always returns a well-formed Envelope — no error escapes this boundary
// (spec §7 "every tool call terminates with a well-formed envelope").
func (d *Dispatcher) CallTool(ctx context.Context, name string, args json.RawMessage) Envelope {
	switch {
	case isReadTool(name):
		return d.dispatchRead(ctx, name, args)
	case isWriteTool(name):
		return d.dispatchWrite(ctx, name, args)
	default:
		return d.dispatchPassThrough(ctx, name, args)
	}
}

func (d *Dispatcher) status() string {
	return string(d.supervisor.State())
}

func (d *Dispatcher) connected() bool {
	return d.supervisor.State() == connection.StateConnected
}

// readArgs is the argument shape shared by get_workflow/get_document/get_memory.
type readArgs struct {
	DocType string `json:"doc_type,omitempty"`
	Name    string `json:"name"`
	Project string `json:"project,omitempty"`
}

func (d *Dispatcher) dispatchRead(ctx context.Context, name string, raw json.RawMessage) Envelope {
	var args readArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return d.unavailable("invalid arguments: " + err.Error())
	}

	kind := "memory"
	docType := ""
	if name == "get_workflow" {
		kind, docType = "document", "workflow"
	} else if name == "get_document" {
		kind, docType = "document", args.DocType
	}

	// 1. CacheEngine lookup.
	if kind == "document" {
		if item, ok, err := d.cache.GetDocument(docType, args.Name, args.Project); err == nil && ok {
			return d.cacheHitEnvelope(docType, args.Name, args.Project, item)
		}
	} else {
		if item, ok, err := d.cache.GetMemory(args.Name, args.Project); err == nil && ok {
			return d.memoryHitEnvelope(args.Name, args.Project, item)
		}
	}

	// 2. Miss and Connected: fetch from upstream, populate cache.
	if d.connected() {
		var content, metadata []byte
		fetchErr := d.supervisor.Execute(ctx, func(ctx context.Context) error {
			var err error
			content, metadata, err = d.upstream.Fetch(ctx, kind, docType, args.Name, args.Project)
			return err
		})
		if fetchErr == nil {
			if kind == "document" {
				if err := d.cache.SetDocument(docType, args.Name, args.Project, content, metadata); err != nil {
					return d.toolError(err)
				}
			} else {
				if err := d.cache.SetMemory(args.Name, args.Project, content, metadata); err != nil {
					return d.toolError(err)
				}
			}
			return Envelope{
				Data:     readResultPayload(kind, docType, args.Name, args.Project, content, metadata),
				Metadata: Metadata{Source: SourceLive, Status: d.status()},
			}
		}
	}

	// 3. Miss and not Connected, or upstream fetch failed.
	return d.unavailable(fmt.Sprintf("%s %q not cached and upstream unavailable", kind, args.Name))
}

func readResultPayload(kind, docType, name, project string, content, metadata []byte) map[string]any {
	payload := map[string]any{"name": name, "project": project, "content": string(content)}
	if kind == "document" {
		payload["doc_type"] = docType
	}
	if len(metadata) > 0 {
		payload["metadata"] = json.RawMessage(metadata)
	}
	return payload
}

func (d *Dispatcher) cacheHitEnvelope(docType, name, project string, item cache.CachedItem) Envelope {
	return Envelope{
		Data:     readResultPayload("document", docType, name, project, item.Content, item.Metadata),
		Metadata: Metadata{Source: SourceCache, AgeSeconds: ageSeconds(item.AgeSeconds), Status: d.status()},
	}
}

func (d *Dispatcher) memoryHitEnvelope(name, project string, item cache.CachedItem) Envelope {
	return Envelope{
		Data:     readResultPayload("memory", "", name, project, item.Content, item.Metadata),
		Metadata: Metadata{Source: SourceCache, AgeSeconds: ageSeconds(item.AgeSeconds), Status: d.status()},
	}
}

// writeArgs is the argument shape shared by every write tool.
type writeArgs struct {
	DocType  string          `json:"doc_type,omitempty"`
	Name     string          `json:"name"`
	Project  string          `json:"project,omitempty"`
	Content  string          `json:"content,omitempty"`
	Metadata json.RawMessage `json:"metadata,omitempty"`
}

var writeOperations = map[string]model.Operation{
	"create_document": model.OpCreateDocument,
	"update_document": model.OpUpdateDocument,
	"delete_document": model.OpDeleteDocument,
	"set_memory":       model.OpSetMemory,
	"update_memory":    model.OpUpdateMemory,
	"delete_memory":    model.OpDeleteMemory,
}

func (d *Dispatcher) dispatchWrite(ctx context.Context, name string, raw json.RawMessage) Envelope {
	var args writeArgs
	paramWarnings, err := mcp.UnmarshalWithWarnings(raw, &args)
	if err != nil {
		return d.unavailable("invalid arguments: " + err.Error())
	}
	paramWarning := strings.Join(paramWarnings, "; ")

	isDocument := name == "create_document" || name == "update_document" || name == "delete_document"
	isDelete := name == "delete_document" || name == "delete_memory"

	// 1. Apply to CacheEngine locally first.
	var applyErr error
	switch {
	case isDocument && isDelete:
		applyErr = d.cache.InvalidateDocument(args.DocType, args.Name, args.Project)
	case isDocument:
		applyErr = d.cache.SetDocument(args.DocType, args.Name, args.Project, []byte(args.Content), args.Metadata)
	case isDelete:
		applyErr = d.cache.InvalidateMemory(args.Name, args.Project)
	default:
		applyErr = d.cache.SetMemory(args.Name, args.Project, []byte(args.Content), args.Metadata)
	}
	if applyErr != nil {
		return d.toolError(applyErr)
	}

	op := writeOperations[name]
	payload := buildWritePayload(isDocument, args)

	// 2. If Connected, execute the upstream mutation.
	if d.connected() {
		execErr := d.supervisor.Execute(ctx, func(ctx context.Context) error {
			return d.upstream.Mutate(ctx, string(op), payload)
		})
		if execErr == nil {
			return Envelope{
				Data:     map[string]any{"success": true},
				Metadata: Metadata{Source: SourceLive, Status: d.status(), Warning: paramWarning},
			}
		}
	}

	// 3. Not Connected, or upstream mutation failed: enqueue for replay.
	if _, err := d.queue.Enqueue(op, payload); err != nil {
		return d.toolError(err)
	}
	return Envelope{
		Data: map[string]any{"success": true, "queued": true},
		Metadata: Metadata{
			Source:  SourceCache,
			Status:  d.status(),
			Warning: combineWarnings("Operation queued — will sync when connection restored", paramWarning),
		},
	}
}

// combineWarnings joins non-empty warning strings with "; ".
func combineWarnings(parts ...string) string {
	var nonEmpty []string
	for _, p := range parts {
		if p != "" {
			nonEmpty = append(nonEmpty, p)
		}
	}
	return strings.Join(nonEmpty, "; ")
}

func buildWritePayload(isDocument bool, args writeArgs) []byte {
	if isDocument {
		payload := model.DocumentPayload{
			DocType: args.DocType, Name: args.Name, Project: args.Project,
			Content: []byte(args.Content), Metadata: args.Metadata,
		}
		encoded, _ := json.Marshal(payload)
		return encoded
	}
	payload := model.MemoryPayload{
		Name: args.Name, Project: args.Project,
		Content: []byte(args.Content), Metadata: args.Metadata,
	}
	encoded, _ := json.Marshal(payload)
	return encoded
}

func (d *Dispatcher) dispatchPassThrough(ctx context.Context, name string, args json.RawMessage) Envelope {
	if !d.connected() {
		return Envelope{
			Error:    &ErrorInfo{Code: CodeOffline, Message: "upstream not connected", Suggestions: offlineSuggestions()},
			Metadata: Metadata{Source: SourceCache, Status: d.status()},
		}
	}

	var result []byte
	execErr := d.supervisor.Execute(ctx, func(ctx context.Context) error {
		var err error
		result, err = d.upstream.Invoke(ctx, name, args)
		return err
	})
	if execErr != nil {
		return d.toolError(execErr)
	}
	return Envelope{
		Data:     json.RawMessage(result),
		Metadata: Metadata{Source: SourceLive, Status: d.status()},
	}
}

func (d *Dispatcher) unavailable(message string) Envelope {
	return Envelope{
		Error:    &ErrorInfo{Code: CodeUnavailable, Message: message, Suggestions: unavailableSuggestions()},
		Metadata: Metadata{Source: SourceCache, Status: d.status()},
	}
}

func (d *Dispatcher) toolError(err error) Envelope {
	return Envelope{
		Error:    &ErrorInfo{Code: CodeToolError, Message: errorRedactor.Redact(err.Error())},
		Metadata: Metadata{Source: SourceCache, Status: d.status()},
	}
}

func unavailableSuggestions() []string {
	return []string{"check connection", "wait for reconnection", "workflows may be served from a local fallback copy"}
}

func offlineSuggestions() []string {
	return []string{"check connection", "wait for reconnection", "cached tools work offline"}
}

func (d *Dispatcher) logWarn(msg string, kv ...any) {
	if d.log != nil {
		d.log.Warnw(msg, kv...)
	}
}
