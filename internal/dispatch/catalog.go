// catalog.go — the static tool catalog exposed verbatim on every
// list-tools request regardless of connection state (spec §4.6).
package dispatch

// ToolDescriptor is one entry of the compile-time tool catalog.
type ToolDescriptor struct {
	Name        string
	Description string
}

// readTools are handled entirely by local CacheEngine/UpstreamClient read
// paths (spec §4.6 "Cacheable-read tools").
var readTools = map[string]bool{
	"get_workflow": true,
	"get_document": true,
	"get_memory":   true,
}

// writeTools are handled by the write-path algorithm (spec §4.6 "Write
// tools").
var writeTools = map[string]bool{
	"create_document": true,
	"update_document": true,
	"set_memory":      true,
	"update_memory":   true,
	"delete_document": true,
	"delete_memory":   true,
}

// catalog is the exact enumeration spec §4.6 names — no more, no fewer.
var catalog = []ToolDescriptor{
	{Name: "get_workflow", Description: "Fetch a workflow document by name, served from cache when possible."},
	{Name: "get_document", Description: "Fetch a document by type and name, served from cache when possible."},
	{Name: "get_memory", Description: "Fetch a memory entry by name, served from cache when possible."},
	{Name: "create_document", Description: "Create a document, queued for sync if the upstream is unreachable."},
	{Name: "update_document", Description: "Update a document, queued for sync if the upstream is unreachable."},
	{Name: "set_memory", Description: "Set a memory entry, queued for sync if the upstream is unreachable."},
	{Name: "update_memory", Description: "Update a memory entry, queued for sync if the upstream is unreachable."},
	{Name: "delete_document", Description: "Delete a document, queued for sync if the upstream is unreachable."},
	{Name: "delete_memory", Description: "Delete a memory entry, queued for sync if the upstream is unreachable."},
}

// Catalog returns the static tool catalog (spec §4.6: "exposed verbatim on
// every list-tools request regardless of ConnectionSupervisor state").
func Catalog() []ToolDescriptor {
	out := make([]ToolDescriptor, len(catalog))
	copy(out, catalog)
	return out
}

func isReadTool(name string) bool  { return readTools[name] }
func isWriteTool(name string) bool { return writeTools[name] }
