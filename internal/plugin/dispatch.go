// Dispatch routes a tools/call request to whichever side owns the name: a
// locally-registered plugin tool in the Registry, or a remote tool (a
// namespace manager mapping) forwarded to the upstream/subprocess client
// that owns it (spec §4.8 step 3).
//
// kagenti-mcp-gateway's broker.toolToServerTool wires every tool handler to
// a stub that returns "Kagenti MCP Broker doesn't forward tool calls" —
// actual forwarding happened out-of-process, through an Envoy ext_proc
// sidecar this gateway does not have. Dispatcher.Dispatch is the real
// forward that stub was standing in for.
package plugin

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/hatago/gateway/internal/errkind"
	"github.com/hatago/gateway/internal/namespace"
	"github.com/hatago/gateway/internal/upstream"
)

// Caller is anything Dispatcher can forward a tools/call to: both
// *upstream.Client (C4) and the adapter below wrapping a subprocess's raw
// *client.Client (C5) implement it.
type Caller interface {
	CallTool(ctx context.Context, name string, args map[string]any, onProgress upstream.ProgressFunc) (*mcp.CallToolResult, error)
}

// SubprocessCaller adapts a subprocess.Process's raw mark3labs/mcp-go
// client (which exposes the wire-level CallTool(ctx, mcp.CallToolRequest)
// signature) to the Caller interface upstream.Client already satisfies
// natively.
type SubprocessCaller struct {
	Client *client.Client
}

// CallTool implements Caller.
func (s SubprocessCaller) CallTool(ctx context.Context, name string, args map[string]any, onProgress upstream.ProgressFunc) (*mcp.CallToolResult, error) {
	if s.Client == nil {
		return nil, errkind.New(errkind.UpstreamProtocolError, "subprocess client not connected")
	}
	if onProgress != nil {
		s.Client.OnNotification(func(n mcp.JSONRPCNotification) {
			if n.Method == "notifications/progress" {
				onProgress(n)
			}
		})
	}
	return s.Client.CallTool(ctx, mcp.CallToolRequest{Params: mcp.CallToolParams{Name: name, Arguments: args}})
}

// CallerLookup resolves an upstream server id to the Caller currently
// connected for it. Implementations report ok=false for a server that is
// not presently connected (e.g. mid-reconnect or mid-restart).
type CallerLookup func(serverID string) (Caller, bool)

// Dispatcher implements spec §4.8's dispatch step: look up the mapped tool
// name, prefer a local plugin handler, otherwise forward to the owning
// upstream.
type Dispatcher struct {
	namespaces *namespace.Manager
	registry   *Registry
	callers    CallerLookup
}

// NewDispatcher constructs a Dispatcher.
func NewDispatcher(namespaces *namespace.Manager, registry *Registry, callers CallerLookup) *Dispatcher {
	return &Dispatcher{namespaces: namespaces, registry: registry, callers: callers}
}

// Dispatch resolves mappedName and invokes it, relaying any progress
// notifications the remote forward observes to onProgress in arrival order.
// Local tool handlers never produce progress notifications of their own;
// onProgress is simply unused on that path.
func (d *Dispatcher) Dispatch(ctx context.Context, sessionID, mappedName string, args map[string]any, onProgress upstream.ProgressFunc) (*mcp.CallToolResult, error) {
	if local, ok := d.registry.Lookup(mappedName); ok {
		return local.Handler(WithSessionID(ctx, sessionID), sessionID, args)
	}

	mapping, ok := d.namespaces.Lookup(mappedName)
	if !ok {
		return nil, errkind.New(errkind.BadRequest, fmt.Sprintf("unknown tool %q", mappedName))
	}

	caller, ok := d.callers(mapping.SourceServerID)
	if !ok {
		return nil, errkind.New(errkind.UpstreamProtocolError, fmt.Sprintf("upstream %q is not connected", mapping.SourceServerID))
	}
	return caller.CallTool(ctx, mapping.OriginalName, args, onProgress)
}
