// Package testutil provides an in-process fake upstream MCP server for
// exercising internal/gateway end to end, adapted from kagenti-mcp-gateway's
// internal/tests/server2 (itself based on mark3labs/mcp-go's basics sample):
// same hooks/tool set, trimmed to the HTTP streamable transport only and
// renamed around what each tool demonstrates rather than "server2"'s
// generic numbering.
package testutil

import (
	"context"
	"fmt"
	"net/http/httptest"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// Upstream is a fake MCP server listening on an httptest server, exposing a
// small fixed tool set (greet, current_time, echo_headers, require_bearer,
// wait_seconds) that exercises forwarding, auth header passthrough and
// progress notifications.
type Upstream struct {
	*httptest.Server
	mcpServer *server.MCPServer
}

// NewUpstream starts an Upstream and returns it; callers must Close it.
func NewUpstream() *Upstream {
	hooks := &server.Hooks{}
	s := server.NewMCPServer("fixture-upstream", "1.0.0", server.WithHooks(hooks), server.WithToolCapabilities(true))

	s.AddTool(mcp.NewTool("greet",
		mcp.WithDescription("Say hello to someone"),
		mcp.WithString("name", mcp.Required(), mcp.Description("name of the person to greet")),
	), greetHandler)

	s.AddTool(mcp.NewTool("current_time", mcp.WithDescription("get the current time")), timeHandler)

	s.AddTool(mcp.NewTool("echo_headers", mcp.WithDescription("echo the HTTP headers received")), echoHeadersHandler)

	s.AddTool(mcp.NewTool("require_bearer", mcp.WithDescription("succeed only with Authorization: bearer test-token")), requireBearerHandler)

	s.AddTool(mcp.NewTool("wait_seconds",
		mcp.WithDescription("wait N seconds, reporting progress"),
		mcp.WithString("seconds", mcp.Required(), mcp.Description("number of seconds to wait")),
	), waitSecondsHandler)

	streamable := server.NewStreamableHTTPServer(s)
	httpSrv := httptest.NewServer(streamable)

	return &Upstream{Server: httpSrv, mcpServer: s}
}

// Endpoint returns the base MCP endpoint URL (http://host:port/mcp).
func (u *Upstream) Endpoint() string { return u.Server.URL + "/mcp" }

func greetHandler(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name, err := req.RequireString("name")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Hello, %s!", name)), nil
}

func timeHandler(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultText(time.Now().String()), nil
}

func echoHeadersHandler(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var content []mcp.Content
	for k, v := range req.Header {
		content = append(content, mcp.TextContent{Type: "text", Text: fmt.Sprintf("%s: %v", k, v)})
	}
	return &mcp.CallToolResult{Content: content}, nil
}

func requireBearerHandler(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	auth := strings.ToLower(req.Header.Get("Authorization"))
	if auth != "bearer test-token" {
		return nil, fmt.Errorf("requires Authorization: bearer test-token, got %q", auth)
	}
	return mcp.NewToolResultText("authorized"), nil
}

func waitSecondsHandler(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	seconds, err := req.RequireInt("seconds")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	var progressToken mcp.ProgressToken
	if req.Params.Meta != nil {
		progressToken = req.Params.Meta.ProgressToken
	}
	srv := server.ServerFromContext(ctx)

	start := time.Now()
	for {
		waited := int(time.Since(start).Seconds())
		if waited >= seconds {
			break
		}
		if progressToken != nil && srv != nil {
			_ = srv.SendNotificationToClient(ctx, "notifications/progress", map[string]any{
				"progress":      waited,
				"progressToken": progressToken,
				"message":       fmt.Sprintf("waited %d seconds...", waited),
			})
		}
		time.Sleep(100 * time.Millisecond)
	}
	return mcp.NewToolResultText("done"), nil
}
