// Package gateway implements the gateway's C9 component: the orchestrator
// that wires the session manager (C6), namespace manager (C3), upstream
// clients (C4), subprocess supervisors (C5) and plugin host (C8) behind the
// MCP endpoint, and drives startup and graceful shutdown (spec §4.9).
//
// Grounded on kagenti-mcp-gateway's internal/broker/broker.go for the
// overall wiring shape (NewBroker, OnConfigChange, RegisterServerWithConfig
// enumerating tools and installing them on a single listening
// *server.MCPServer), internal/broker/status.go for the supplemented
// /status endpoint, and internal/broker/virtual_server_handler.go for the
// supplemented virtual-server tools/list scoping. broker.toolToServerTool's
// handler stub ("Kagenti MCP Broker doesn't forward tool calls") is
// replaced here with a real forward through internal/plugin.Dispatcher.
package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/hatago/gateway/internal/capability"
	"github.com/hatago/gateway/internal/config"
	"github.com/hatago/gateway/internal/errkind"
	"github.com/hatago/gateway/internal/namespace"
	"github.com/hatago/gateway/internal/plugin"
	"github.com/hatago/gateway/internal/session"
	"github.com/hatago/gateway/internal/subprocess"
	"github.com/hatago/gateway/internal/transport"
	"github.com/hatago/gateway/internal/upstream"
)

// Gateway is one running instance of the core: an injected value with a
// defined lifetime (spec §9's critique of teacher's module-scoped singleton
// session manager), not a process-wide global. Callers construct one with
// New, call Start, and call Shutdown exactly once.
type Gateway struct {
	cfg    *config.GatewayConfig
	logger *slog.Logger

	sessions   *session.Manager
	namespaces *namespace.Manager
	registry   *plugin.Registry
	dispatcher *plugin.Dispatcher
	host       *plugin.Host
	mcpServer  *server.MCPServer
	sessionIDs *transport.SessionIDManager
	events     *transport.EventStore
	queues     *outboundQueueRegistry
	handler    http.Handler

	mu              sync.Mutex
	upstreamClients map[string]*upstream.Client
	subprocesses    map[string]*subprocess.Process

	inFlight  sync.WaitGroup
	startedAt time.Time
	draining  atomic.Bool
}

// New constructs a Gateway from an already-validated cfg (spec non-goal:
// "configuration file parsing and validation... out of scope" — cfg is the
// core's one input). It connects every configured upstream concurrently
// (spec §5's "each upstream is contacted concurrently during enumeration"),
// installing whatever tools each one successfully advertises; a failing
// upstream is logged and skipped, never fatal to the others (spec §4.8's
// failure semantics).
func New(ctx context.Context, cfg *config.GatewayConfig, logger *slog.Logger) (*Gateway, error) {
	if logger == nil {
		logger = slog.Default()
	}

	store, err := session.NewStore(ctx)
	if err != nil {
		return nil, fmt.Errorf("gateway: failed to construct session store: %w", err)
	}
	sessions := session.NewManager(logger.With("component", "session"), store, cfg.MaxSessions, cfg.SessionTTL, cfg.SessionCleanup)

	g := &Gateway{
		cfg:             cfg,
		logger:          logger,
		sessions:        sessions,
		namespaces:      namespace.NewManager(true, logger.With("component", "namespace")),
		registry:        plugin.NewRegistry(),
		upstreamClients: map[string]*upstream.Client{},
		subprocesses:    map[string]*subprocess.Process{},
		startedAt:       time.Now(),
	}
	g.dispatcher = plugin.NewDispatcher(g.namespaces, g.registry, g.callerFor)
	g.events = transport.NewEventStore(0)
	g.queues = newOutboundQueueRegistry(cfg.MaxQueueSize)

	builder := capability.NewBuilder(
		capability.Runtime{TimerAvailable: true},
		logger,
		capability.NewHTTPFetcher(nil),
		g.kvStoreFor,
		capability.NewWallTimer(),
		capability.NewStdCrypto(),
	)
	g.host = plugin.NewHost(logger.With("component", "plugin-host"), builder, g.registry)

	hooks := &server.Hooks{}
	hooks.AddOnRegisterSession(func(_ context.Context, s server.ClientSession) {
		logger.Info("gateway: client session registered", "session_id", redact(s.SessionID()))
	})
	hooks.AddOnUnregisterSession(func(_ context.Context, s server.ClientSession) {
		logger.Info("gateway: client session unregistered", "session_id", redact(s.SessionID()))
		g.queues.remove(s.SessionID())
	})
	hooks.AddBeforeAny(func(_ context.Context, _ any, method mcp.MCPMethod, _ any) {
		logger.Debug("gateway: processing request", "method", method)
	})
	hooks.AddOnError(func(_ context.Context, _ any, method mcp.MCPMethod, _ any, err error) {
		logger.Warn("gateway: request error", "method", method, "error", err)
	})
	hooks.AddAfterListTools(g.filterTrustedHeaderTools)

	gwName := cfg.Name
	if gwName == "" {
		gwName = "hatago"
	}
	g.mcpServer = server.NewMCPServer(gwName, "0.1.0", server.WithHooks(hooks), server.WithToolCapabilities(true))

	g.sessionIDs = transport.NewSessionIDManager(sessions, logger.With("component", "transport"))
	g.handler = g.buildHandler()

	g.connectAll(ctx)
	cfg.RegisterObserver(g)

	return g, nil
}

func redact(id string) string {
	if len(id) <= 8 {
		return "***"
	}
	return id[:8] + "***"
}

// Handler returns the HTTP handler serving the MCP endpoint plus the
// supplemented /status endpoint and health/drain surfaces (spec §6).
func (g *Gateway) Handler() http.Handler { return g.handler }

func (g *Gateway) buildHandler() http.Handler {
	mux := http.NewServeMux()
	mcpHandler := transport.NewHTTPHandler(g.cfg, g.mcpServer, g.sessionIDs, g.events, g.logger)
	mux.Handle(transport.DefaultEndpointPath, NewVirtualServerMiddleware(mcpHandler, g.cfg, g.logger))
	mux.Handle("/status", NewStatusHandler(g, g.logger))
	mux.Handle("/status/", NewStatusHandler(g, g.logger))
	mux.HandleFunc("/health/live", g.handleLive)
	mux.HandleFunc("/health/ready", g.handleReady)
	mux.HandleFunc("/health/startup", g.handleStartup)
	mux.HandleFunc("/drain", g.handleDrain)
	return mux
}

// StdioHandler constructs the stdio transport (spec §4.7, SPEC_FULL §D's
// one-process-one-session degenerate case), sharing the same dispatcher,
// namespace manager and session manager as the HTTP surface.
func (g *Gateway) StdioHandler() *server.StdioServer {
	if _, err := g.sessions.CreatePinned("stdio", nil); err != nil {
		g.logger.Warn("gateway: failed to create stdio session record", "error", err)
	}
	return server.NewStdioServer(g.mcpServer)
}

// callerFor implements plugin.CallerLookup: resolve serverID to whichever
// of an upstream HTTP client or a subprocess's stdio client is currently
// connected for it.
func (g *Gateway) callerFor(serverID string) (plugin.Caller, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if c, ok := g.upstreamClients[serverID]; ok {
		return c, true
	}
	if p, ok := g.subprocesses[serverID]; ok {
		if c := p.Client(); c != nil {
			return plugin.SubprocessCaller{Client: c}, true
		}
	}
	return nil, false
}

// kvStoreFor builds the per-plugin capability.KVStore view (C2) backed by
// the session manager's plugin data store (C6), scoping every read/write to
// PluginDataKey's "plugin:<pluginId>:<userKey>" isolation (spec §3).
func (g *Gateway) kvStoreFor(pluginID string) capability.KVStore {
	return pluginKV{pluginID: pluginID, sessions: g.sessions}
}

type pluginKV struct {
	pluginID string
	sessions *session.Manager
}

func (k pluginKV) key(userKey string) string {
	return fmt.Sprintf("plugin:%s:%s", k.pluginID, userKey)
}

func (k pluginKV) Get(ctx context.Context, key string) (string, bool, error) {
	sessionID, ok := plugin.SessionIDFromContext(ctx)
	if !ok {
		return "", false, errkind.New(errkind.BadRequest, "kv capability used outside a session-scoped tool call")
	}
	return k.sessions.GetPluginData(ctx, sessionID, k.key(key))
}

func (k pluginKV) Set(ctx context.Context, key, value string) error {
	sessionID, ok := plugin.SessionIDFromContext(ctx)
	if !ok {
		return errkind.New(errkind.BadRequest, "kv capability used outside a session-scoped tool call")
	}
	return k.sessions.SetPluginData(ctx, sessionID, k.key(key), value)
}

func (k pluginKV) Delete(ctx context.Context, key string) error {
	sessionID, ok := plugin.SessionIDFromContext(ctx)
	if !ok {
		return errkind.New(errkind.BadRequest, "kv capability used outside a session-scoped tool call")
	}
	return k.sessions.DeletePluginData(ctx, sessionID, k.key(key))
}

// Sessions exposes C6 for transports and tests.
func (g *Gateway) Sessions() *session.Manager { return g.sessions }

// Namespaces exposes C3 for /status and tests.
func (g *Gateway) Namespaces() *namespace.Manager { return g.namespaces }

// LoadPlugin loads a capability-gated local plugin (C8) from manifest JSON,
// registering whatever tools its entry constructor installs into the shared
// registry the dispatcher already consults.
func (g *Gateway) LoadPlugin(manifestJSON []byte) (*plugin.Instance, error) {
	return g.host.Load(manifestJSON)
}

// Shutdown implements spec §4.9's graceful shutdown: mark draining (so
// /health/ready starts failing), stop accepting new sessions implicitly by
// refusing new registrations is the HTTP server's job, wait up to
// gracefulTimeout for in-flight work to drain (returning as soon as it does,
// not always for the full timeout), then tear down every owned resource. On
// timeout it proceeds straight to abortive teardown, per spec §4.9.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.draining.Store(true)

	timeout := g.cfg.GracefulTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	drainCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	drained := make(chan struct{})
	go func() {
		g.inFlight.Wait()
		close(drained)
	}()
	select {
	case <-drained:
	case <-drainCtx.Done():
		g.logger.Warn("gateway: graceful timeout elapsed with requests still in flight, proceeding to abortive shutdown")
	}

	g.sessions.Destroy()

	g.mu.Lock()
	clients := make([]*upstream.Client, 0, len(g.upstreamClients))
	for _, c := range g.upstreamClients {
		clients = append(clients, c)
	}
	procs := make([]*subprocess.Process, 0, len(g.subprocesses))
	for _, p := range g.subprocesses {
		procs = append(procs, p)
	}
	g.mu.Unlock()

	for _, c := range clients {
		if err := c.Disconnect(); err != nil {
			g.logger.Warn("gateway: error disconnecting upstream during shutdown", "upstream", c.ID(), "error", err)
		}
	}
	var wg sync.WaitGroup
	for _, p := range procs {
		wg.Add(1)
		go func(p *subprocess.Process) {
			defer wg.Done()
			if err := p.Stop(ctx); err != nil {
				g.logger.Warn("gateway: error stopping subprocess during shutdown", "server", p.ID(), "error", err)
			}
		}(p)
	}
	wg.Wait()
	return nil
}

// errorResult renders err as a tool-call error result carrying its errkind
// Kind so a conformant client can branch on a stable string (spec §7).
func errorResult(err error) *mcp.CallToolResult {
	kind, ok := errkind.Of(err)
	if !ok {
		return mcp.NewToolResultError(err.Error())
	}
	return mcp.NewToolResultError(fmt.Sprintf("%s: %s", kind, err.Error()))
}
