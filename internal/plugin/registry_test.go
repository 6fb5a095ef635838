package plugin

import (
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/require"
)

func TestRegistry_RegisterLookupRemove(t *testing.T) {
	r := NewRegistry()
	r.Register("echo:say", LocalTool{PluginID: "echo", Tool: mcp.Tool{Name: "echo:say"}})
	r.Register("echo:shout", LocalTool{PluginID: "echo", Tool: mcp.Tool{Name: "echo:shout"}})
	r.Register("other:ping", LocalTool{PluginID: "other", Tool: mcp.Tool{Name: "other:ping"}})

	require.Len(t, r.All(), 3)

	_, ok := r.Lookup("echo:say")
	require.True(t, ok)

	r.RemovePlugin("echo")
	require.Len(t, r.All(), 1)
	_, ok = r.Lookup("echo:say")
	require.False(t, ok)
	_, ok = r.Lookup("other:ping")
	require.True(t, ok)
}
