package plugin

import (
	"sync"

	"github.com/mark3labs/mcp-go/mcp"
)

// LocalTool pairs an advertised tool description with the handler a plugin
// registered for it.
type LocalTool struct {
	PluginID string
	Tool     mcp.Tool
	Handler  ToolHandler
}

// Registry is the host-wide table of locally-implemented tools, keyed by
// their final namespaced name (the same key space as the namespace
// manager's mapping table, spec §4.3). Dispatch checks this table before
// falling back to an upstream or subprocess forward.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]LocalTool
}

// NewRegistry constructs an empty Registry.
func NewRegistry() *Registry {
	return &Registry{tools: map[string]LocalTool{}}
}

// Register installs tool under mappedName, overwriting any prior
// registration under the same name.
func (r *Registry) Register(mappedName string, tool LocalTool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[mappedName] = tool
}

// Lookup returns the tool registered under mappedName, if any.
func (r *Registry) Lookup(mappedName string) (LocalTool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[mappedName]
	return t, ok
}

// RemovePlugin unregisters every tool owned by pluginID, used when a plugin
// is unloaded (spec §4.8's stopped state teardown).
func (r *Registry) RemovePlugin(pluginID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for name, t := range r.tools {
		if t.PluginID == pluginID {
			delete(r.tools, name)
		}
	}
}

// All returns the advertised mcp.Tool for every currently registered local
// tool, for inclusion in a tools/list response alongside upstream tools.
func (r *Registry) All() []mcp.Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]mcp.Tool, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, t.Tool)
	}
	return out
}
