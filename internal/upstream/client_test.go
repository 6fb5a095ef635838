package upstream_test

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/stretchr/testify/require"

	"github.com/hatago/gateway/internal/config"
	"github.com/hatago/gateway/internal/upstream"
)

func newTestUpstream(t *testing.T) (*httptest.Server, func()) {
	t.Helper()
	s := server.NewMCPServer("test-upstream", "1.0.0", server.WithToolCapabilities(true))
	s.AddTool(mcp.NewTool("echo", mcp.WithDescription("echoes back"), mcp.WithString("text", mcp.Required())), func(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		text, err := req.RequireString("text")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return mcp.NewToolResultText(text), nil
	})

	streamable := server.NewStreamableHTTPServer(s)
	httpServer := httptest.NewServer(streamable)
	return httpServer, func() { httpServer.Close() }
}

func TestConnectListToolsCallTool(t *testing.T) {
	httpServer, cleanup := newTestUpstream(t)
	defer cleanup()

	cfg := &config.UpstreamServerConfig{ID: "test", Endpoint: httpServer.URL, Timeout: 5 * time.Second}
	client := upstream.New(cfg, "hatago-test", testLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.NoError(t, client.Connect(ctx))
	defer client.Disconnect()

	tools, err := client.ListTools(ctx)
	require.NoError(t, err)
	require.Len(t, tools, 1)
	require.Equal(t, "echo", tools[0].Name)

	result, err := client.CallTool(ctx, "echo", map[string]any{"text": "hi"}, nil)
	require.NoError(t, err)
	require.False(t, result.IsError)
}

func TestConnectIsIdempotent(t *testing.T) {
	httpServer, cleanup := newTestUpstream(t)
	defer cleanup()

	cfg := &config.UpstreamServerConfig{ID: "test", Endpoint: httpServer.URL, Timeout: 5 * time.Second}
	client := upstream.New(cfg, "hatago-test", testLogger())

	ctx := context.Background()
	require.NoError(t, client.Connect(ctx))
	require.NoError(t, client.Connect(ctx)) // no-op, must not error
	require.NoError(t, client.Disconnect())
}

func TestHealthCheck(t *testing.T) {
	httpServer, cleanup := newTestUpstream(t)
	defer cleanup()

	cfg := &config.UpstreamServerConfig{ID: "test", Endpoint: httpServer.URL, Timeout: 5 * time.Second}
	client := upstream.New(cfg, "hatago-test", testLogger())
	require.NoError(t, client.HealthCheck(context.Background()))
}
