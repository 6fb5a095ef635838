package gateway

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/hatago/gateway/internal/config"
	"github.com/hatago/gateway/internal/namespace"
	"github.com/hatago/gateway/internal/subprocess"
	"github.com/hatago/gateway/internal/upstream"
)

// connectAll brings up every configured upstream concurrently (spec §5)
// and installs whatever tools each one successfully enumerates. A single
// upstream's connection failure is logged and does not block the others
// (spec §4.8's failure semantics) or fail gateway construction.
func (g *Gateway) connectAll(ctx context.Context) {
	var wg sync.WaitGroup
	for _, sc := range g.cfg.Servers {
		if !sc.Enabled {
			continue
		}
		wg.Add(1)
		go func(sc *config.UpstreamServerConfig) {
			defer wg.Done()
			if sc.IsSubprocess() {
				g.connectSubprocess(ctx, sc)
			} else {
				g.connectUpstream(ctx, sc)
			}
		}(sc)
	}
	wg.Wait()
}

func nsConfig(sc *config.UpstreamServerConfig) *namespace.ServerConfig {
	return &namespace.ServerConfig{
		ID:        sc.UniqueID(),
		Namespace: sc.Namespace.Name,
		Include:   sc.Namespace.Include,
		Exclude:   sc.Namespace.Exclude,
		Rename:    sc.Namespace.Rename,
		Strategy:  sc.Namespace.Strategy,
		Collision: sc.Namespace.Collision,
		Separator: sc.Namespace.Separator,
	}
}

// connectUpstream connects one network upstream (C4) with bounded retry,
// then registers its tools. Failure is logged, never fatal (spec §4.8).
func (g *Gateway) connectUpstream(ctx context.Context, sc *config.UpstreamServerConfig) {
	c := upstream.New(sc, g.cfg.Name, g.logger)
	if err := c.Connect(ctx); err != nil {
		g.logger.Warn("gateway: initial connect failed, retrying in background", "upstream", sc.UniqueID(), "error", err)
		go g.retryConnectUpstream(ctx, sc, c)
		return
	}
	g.mu.Lock()
	g.upstreamClients[sc.UniqueID()] = c
	g.mu.Unlock()
	g.registerUpstreamTools(ctx, sc, c)
}

// retryConnectUpstream implements the supplemented background discovery
// retry (SPEC_FULL §C.3), generalizing teacher's retryDiscovery/
// ConfigureBackOff to C4.
func (g *Gateway) retryConnectUpstream(ctx context.Context, sc *config.UpstreamServerConfig, c *upstream.Client) {
	backoff := upstream.Backoff(0, 0, 0, 0)
	if err := upstream.RetryConnect(ctx, c, backoff); err != nil {
		g.logger.Error("gateway: upstream connect exhausted retries, not registered", "upstream", sc.UniqueID(), "error", err)
		return
	}
	g.mu.Lock()
	g.upstreamClients[sc.UniqueID()] = c
	g.mu.Unlock()
	g.registerUpstreamTools(ctx, sc, c)
}

func (g *Gateway) registerUpstreamTools(ctx context.Context, sc *config.UpstreamServerConfig, c *upstream.Client) {
	tools, err := c.ListTools(ctx)
	if err != nil {
		g.logger.Warn("gateway: tools/list failed for upstream", "upstream", sc.UniqueID(), "error", err)
		return
	}
	g.installTools(sc, tools)
}

// connectSubprocess spawns one child-process upstream (C5). Restart and
// crash handling is Process's own job; its tools are enumerated by
// handleSubprocessEvent each time the child reaches running, on the first
// start and after every restart.
func (g *Gateway) connectSubprocess(ctx context.Context, sc *config.UpstreamServerConfig) {
	opts := subprocess.Options{
		RestartOnFailure: sc.Launch != nil,
		MaxRestarts:      g.cfg.MaxRestarts,
		GatewayName:      g.cfg.Name,
	}
	id := sc.UniqueID()
	p := subprocess.New(id, sc.Launch, opts, func(ev subprocess.Event) {
		g.handleSubprocessEvent(ctx, sc, ev)
	}, g.logger)

	g.mu.Lock()
	g.subprocesses[id] = p
	g.mu.Unlock()

	if err := p.Start(ctx); err != nil {
		g.logger.Error("gateway: failed to start subprocess upstream", "upstream", id, "error", err)
	}
}

func (g *Gateway) registerSubprocessTools(ctx context.Context, sc *config.UpstreamServerConfig, p *subprocess.Process) {
	c := p.Client()
	if c == nil {
		return
	}
	res, err := c.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		g.logger.Warn("gateway: tools/list failed for subprocess upstream", "upstream", sc.UniqueID(), "error", err)
		return
	}
	g.installTools(sc, res.Tools)
}

// handleSubprocessEvent logs the supervisor's event stream (spec §4.5) and
// (re-)enumerates tools each time the child settles into running, on the
// first start and after every restart.
func (g *Gateway) handleSubprocessEvent(ctx context.Context, sc *config.UpstreamServerConfig, ev subprocess.Event) {
	switch ev.Kind {
	case subprocess.EventStateChange:
		g.logger.Info("gateway: subprocess state change", "upstream", sc.UniqueID(), "state", ev.State)
		if ev.State == subprocess.StateRunning {
			g.namespaces.RemoveServer(sc.UniqueID())
			g.mu.Lock()
			p := g.subprocesses[sc.UniqueID()]
			g.mu.Unlock()
			if p != nil {
				go g.registerSubprocessTools(ctx, sc, p)
			}
		}
	case subprocess.EventOutput:
		g.logger.Debug("gateway: subprocess output", "upstream", sc.UniqueID(), "line", ev.Line)
	case subprocess.EventError:
		g.logger.Warn("gateway: subprocess error", "upstream", sc.UniqueID(), "error", ev.Err)
	case subprocess.EventRestart:
		g.logger.Warn("gateway: subprocess restarting", "upstream", sc.UniqueID(), "attempt", ev.RestartCount)
	}
}

// installTools runs every remote tool through the namespace manager (C3)
// and installs the ones that resolve a name successfully, forwarding their
// calls through the dispatcher (spec §4.3 step 6, §4.8 step 3). A single
// tool's filter/rename/collision failure never aborts enumeration of the
// rest (spec §4.8).
func (g *Gateway) installTools(sc *config.UpstreamServerConfig, tools []mcp.Tool) {
	cfg := nsConfig(sc)
	serverTools := make([]server.ServerTool, 0, len(tools))
	for _, t := range tools {
		mapping, err := g.namespaces.Register(cfg, t.Name)
		if err != nil {
			g.logger.Debug("gateway: tool not registered", "upstream", sc.UniqueID(), "tool", t.Name, "error", err)
			continue
		}
		mapped := t
		mapped.Name = mapping.MappedName
		serverTools = append(serverTools, server.ServerTool{
			Tool:    mapped,
			Handler: g.toolHandler(mapping.MappedName),
		})
	}
	if len(serverTools) > 0 {
		g.mcpServer.AddTools(serverTools...)
	}
}

// toolHandler builds the mark3labs/mcp-go tool handler for one mapped name,
// forwarding to the dispatcher and relaying any progress notifications onto
// the calling session's own stream in arrival order (spec §4.4, §5).
func (g *Gateway) toolHandler(mappedName string) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		g.inFlight.Add(1)
		defer g.inFlight.Done()

		sessionID := ""
		if cs := server.ClientSessionFromContext(ctx); cs != nil {
			sessionID = cs.SessionID()
		}

		onProgress := func(n mcp.JSONRPCNotification) {
			if sessionID == "" {
				return
			}
			q := g.queues.queueFor(sessionID)
			if err := q.Enqueue(n); err != nil {
				g.logger.Warn("gateway: dropping progress notification", "session_id", redact(sessionID), "error", err)
				return
			}
			if err := q.Drain(func(item any) error {
				notif := item.(mcp.JSONRPCNotification)
				mcpSrv := server.ServerFromContext(ctx)
				if mcpSrv == nil {
					return fmt.Errorf("no server in context")
				}
				params, _ := notif.Params.(map[string]any)
				return mcpSrv.SendNotificationToClient(ctx, string(notif.Method), params)
			}); err != nil {
				g.logger.Warn("gateway: progress stream write failed", "session_id", redact(sessionID), "error", err)
			}
		}

		result, err := g.dispatcher.Dispatch(ctx, sessionID, mappedName, req.GetArguments(), onProgress)
		if err != nil {
			return errorResult(err), nil
		}
		return result, nil
	}
}

// OnConfigChange implements config.Observer: re-enumerate tools for every
// currently-enabled upstream and tear down ones no longer in cfg (spec
// §4.9's "construct C6... for each upstream" applied again on reload).
func (g *Gateway) OnConfigChange(ctx context.Context, cfg *config.GatewayConfig) {
	g.mu.Lock()
	known := map[string]bool{}
	for id := range g.upstreamClients {
		known[id] = true
	}
	for id := range g.subprocesses {
		known[id] = true
	}
	g.mu.Unlock()

	stillConfigured := map[string]bool{}
	for _, sc := range cfg.Servers {
		stillConfigured[sc.UniqueID()] = true
	}
	for id := range known {
		if !stillConfigured[id] {
			g.removeUpstream(id)
		}
	}

	g.cfg = cfg
	g.connectAll(ctx)
}

func (g *Gateway) removeUpstream(id string) {
	g.mu.Lock()
	c, hasClient := g.upstreamClients[id]
	p, hasProc := g.subprocesses[id]
	delete(g.upstreamClients, id)
	delete(g.subprocesses, id)
	g.mu.Unlock()

	g.namespaces.RemoveServer(id)
	if hasClient {
		_ = c.Disconnect()
	}
	if hasProc {
		_ = p.Stop(context.Background())
	}
}

// healthCheckAll probes every connected upstream (spec §4.4's HealthCheck)
// for /status and /health/ready; disconnected upstreams are not probed and
// have no entry in the result.
func (g *Gateway) healthCheckAll(ctx context.Context) map[string]error {
	g.mu.Lock()
	clients := make(map[string]*upstream.Client, len(g.upstreamClients))
	for id, c := range g.upstreamClients {
		clients[id] = c
	}
	g.mu.Unlock()

	results := make(map[string]error, len(clients))
	var mu sync.Mutex
	var wg sync.WaitGroup
	for id, c := range clients {
		wg.Add(1)
		go func(id string, c *upstream.Client) {
			defer wg.Done()
			checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()
			err := c.HealthCheck(checkCtx)
			mu.Lock()
			results[id] = err
			mu.Unlock()
		}(id, c)
	}
	wg.Wait()
	return results
}
