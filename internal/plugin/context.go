package plugin

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/hatago/gateway/internal/capability"
)

// ToolHandler is the signature a plugin registers for one local tool. It
// receives the calling session's id so it can reach into that session's
// capability.KVStore view without the host threading a wider context object
// through every call.
type ToolHandler func(ctx context.Context, sessionID string, args map[string]any) (*mcp.CallToolResult, error)

// Context is handed to a plugin's entry constructor at load time (spec
// §4.8). It exposes exactly the capability bundle the manifest requested
// and the runtime could build, plus the one thing a plugin is allowed to do
// to the outside world at load time: register local tools under its own
// namespace.
type Context struct {
	PluginID     string
	Capabilities *capability.Bundle
	Register     func(name string, tool mcp.Tool, handler ToolHandler)
}
