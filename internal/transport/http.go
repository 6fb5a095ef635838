package transport

import (
	"log/slog"
	"net/http"

	"github.com/mark3labs/mcp-go/server"

	"github.com/hatago/gateway/internal/config"
)

// DefaultEndpointPath is where the gateway mounts the streamable HTTP/SSE
// MCP endpoint, matching the teacher's "/mcp" mount point
// (cmd/mcp-broker-router/main.go's mux.Handle("/mcp", ...)).
const DefaultEndpointPath = "/mcp"

// NewHTTPHandler wires mark3labs/mcp-go's own StreamableHTTPServer — which
// owns SSE stream bookkeeping, event ids, and Last-Event-ID replay — behind
// GuardMiddleware's method/DNS-rebinding/body-size checks, and mints session
// ids through sessionIDs instead of the teacher's JWTManager. Grounded on
// cmd/mcp-broker-router/main.go's setUpBroker: server.NewStreamableHTTPServer
// paired with server.WithSessionIdManager and mounted at a fixed path.
// eventStore backs resumability (spec §4.7): a client reconnecting with
// Last-Event-ID receives everything stored after it, or falls back to a
// fresh stream once that range has been evicted (ErrEventsGone).
func NewHTTPHandler(cfg *config.GatewayConfig, mcpServer *server.MCPServer, sessionIDs *SessionIDManager, eventStore *EventStore, logger *slog.Logger) http.Handler {
	streamable := server.NewStreamableHTTPServer(
		mcpServer,
		server.WithSessionIdManager(sessionIDs),
		server.WithEndpointPath(DefaultEndpointPath),
		server.WithEventStore(eventStore),
	)

	mux := http.NewServeMux()
	mux.Handle(DefaultEndpointPath, GuardMiddleware(cfg, streamable))
	return mux
}
