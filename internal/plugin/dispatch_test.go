package plugin

import (
	"context"
	"log/slog"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/require"

	"github.com/hatago/gateway/internal/errkind"
	"github.com/hatago/gateway/internal/namespace"
	"github.com/hatago/gateway/internal/upstream"
)

type fakeCaller struct {
	calledName string
	calledArgs map[string]any
	result     *mcp.CallToolResult
	err        error
}

func (f *fakeCaller) CallTool(ctx context.Context, name string, args map[string]any, onProgress upstream.ProgressFunc) (*mcp.CallToolResult, error) {
	f.calledName = name
	f.calledArgs = args
	return f.result, f.err
}

func TestDispatch_PrefersLocalTool(t *testing.T) {
	registry := NewRegistry()
	registry.Register("local:echo", LocalTool{
		PluginID: "echo",
		Tool:     mcp.Tool{Name: "local:echo"},
		Handler: func(ctx context.Context, sessionID string, args map[string]any) (*mcp.CallToolResult, error) {
			return mcp.NewToolResultText("local"), nil
		},
	})
	nsmgr := namespace.NewManager(true, slog.New(slog.DiscardHandler))
	d := NewDispatcher(nsmgr, registry, func(string) (Caller, bool) { return nil, false })

	result, err := d.Dispatch(context.Background(), "s1", "local:echo", nil, nil)
	require.NoError(t, err)
	require.NotNil(t, result)
}

func TestDispatch_ForwardsToUpstream(t *testing.T) {
	registry := NewRegistry()
	nsmgr := namespace.NewManager(true, slog.New(slog.DiscardHandler))
	_, err := nsmgr.Register(&namespace.ServerConfig{ID: "weather"}, "forecast")
	require.NoError(t, err)

	caller := &fakeCaller{result: mcp.NewToolResultText("ok")}
	d := NewDispatcher(nsmgr, registry, func(id string) (Caller, bool) {
		if id == "weather" {
			return caller, true
		}
		return nil, false
	})

	result, err := d.Dispatch(context.Background(), "s1", "weather:forecast", map[string]any{"city": "tokyo"}, nil)
	require.NoError(t, err)
	require.NotNil(t, result)
	require.Equal(t, "forecast", caller.calledName)
	require.Equal(t, "tokyo", caller.calledArgs["city"])
}

func TestDispatch_UnknownTool(t *testing.T) {
	nsmgr := namespace.NewManager(true, slog.New(slog.DiscardHandler))
	d := NewDispatcher(nsmgr, NewRegistry(), func(string) (Caller, bool) { return nil, false })

	_, err := d.Dispatch(context.Background(), "s1", "nope", nil, nil)
	require.Error(t, err)
	kind, _ := errkind.Of(err)
	require.Equal(t, errkind.BadRequest, kind)
}

func TestDispatch_UpstreamNotConnected(t *testing.T) {
	nsmgr := namespace.NewManager(true, slog.New(slog.DiscardHandler))
	_, err := nsmgr.Register(&namespace.ServerConfig{ID: "weather"}, "forecast")
	require.NoError(t, err)

	d := NewDispatcher(nsmgr, NewRegistry(), func(string) (Caller, bool) { return nil, false })

	_, err = d.Dispatch(context.Background(), "s1", "weather:forecast", nil, nil)
	require.Error(t, err)
	kind, _ := errkind.Of(err)
	require.Equal(t, errkind.UpstreamProtocolError, kind)
}
