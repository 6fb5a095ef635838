// Package upstream implements the gateway's C4 component: a JSON-RPC 2.0
// client to one remote MCP server over streaming HTTP (spec §4.4).
//
// Grounded on kagenti-mcp-gateway's internal/broker/upstream/mcp.go
// (NewUpstreamMCP/Connect), internal/broker/broker.go's createMCPClient
// (auth header construction, client type handling) and internal/mcp/client.go
// (InitializeMCPClient/ListTools helpers). Retry/backoff is adapted from
// broker.go's ConfigureBackOff/retryDiscovery.
package upstream

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"time"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	"github.com/mark3labs/mcp-go/mcp"
	"k8s.io/apimachinery/pkg/util/wait"

	"github.com/hatago/gateway/internal/config"
	"github.com/hatago/gateway/internal/errkind"
)

// defaultTimeout is spec §4.4's default request timeout.
const defaultTimeout = 30 * time.Second

// Client wraps a connection to one upstream MCP server, the way teacher's
// upstream.MCPServer wraps config+client+headers+init state.
type Client struct {
	cfg     *config.UpstreamServerConfig
	headers map[string]string
	timeout time.Duration
	logger  *slog.Logger

	mcpClient *client.Client
	init      *mcp.InitializeResult
}

// New constructs a Client for cfg. It does not connect; call Connect.
func New(cfg *config.UpstreamServerConfig, gatewayName string, logger *slog.Logger) *Client {
	headers := map[string]string{
		"user-agent":        gatewayName,
		"gateway-server-id": cfg.UniqueID(),
	}
	if cfg.Auth != nil {
		applyAuthHeaders(headers, cfg.Auth)
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = defaultTimeout
	}
	return &Client{cfg: cfg, headers: headers, timeout: timeout, logger: logger}
}

// applyAuthHeaders sets the Authorization/custom headers per spec §4.4's
// auth variant table.
func applyAuthHeaders(headers map[string]string, auth *config.Auth) {
	switch auth.Type {
	case config.AuthBearer:
		headers["Authorization"] = "Bearer " + auth.Credential()
	case config.AuthBasic:
		headers["Authorization"] = "Basic " + basicAuthValue(auth.Username, auth.Password)
	case config.AuthCustom:
		for k, v := range auth.Headers {
			headers[k] = v
		}
	}
}

func basicAuthValue(username, password string) string {
	// mirrors net/http.Request.SetBasicAuth's encoding without requiring an
	// *http.Request to hang it off.
	return base64.StdEncoding.EncodeToString([]byte(username + ":" + password))
}

// Connect establishes the streamable HTTP connection and performs the MCP
// initialize handshake. A no-op if already connected (teacher's Connect
// semantics).
func (c *Client) Connect(ctx context.Context) error {
	if c.mcpClient != nil {
		return nil
	}
	options := []transport.StreamableHTTPCOption{
		transport.WithContinuousListening(),
		transport.WithHTTPHeaders(c.headers),
	}
	httpClient, err := client.NewStreamableHttpClient(c.cfg.Endpoint, options...)
	if err != nil {
		return errkind.Wrap(errkind.UpstreamProtocolError, "failed to create upstream client", err)
	}
	if err := httpClient.Start(ctx); err != nil {
		return errkind.Wrap(errkind.UpstreamProtocolError, "failed to start upstream client", err)
	}

	connectCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	initResp, err := httpClient.Initialize(connectCtx, mcp.InitializeRequest{
		Params: mcp.InitializeParams{
			ProtocolVersion: mcp.LATEST_PROTOCOL_VERSION,
			Capabilities: mcp.ClientCapabilities{
				Roots: &struct {
					ListChanged bool `json:"listChanged,omitempty"`
				}{ListChanged: true},
			},
			ClientInfo: mcp.Implementation{Name: "hatago", Version: "0.1.0"},
		},
	})
	if err != nil {
		if connectCtx.Err() != nil {
			return errkind.Wrap(errkind.UpstreamTimeout, fmt.Sprintf("initialize timed out for upstream %s", c.cfg.UniqueID()), err)
		}
		return errkind.Wrap(errkind.UpstreamProtocolError, fmt.Sprintf("failed to initialize upstream %s", c.cfg.UniqueID()), err)
	}
	c.init = initResp
	c.mcpClient = httpClient
	return nil
}

// Disconnect closes the underlying connection. No-op if not connected.
func (c *Client) Disconnect() error {
	if c.mcpClient == nil {
		return nil
	}
	err := c.mcpClient.Close()
	c.mcpClient = nil
	return err
}

// ListTools enumerates the upstream's tool catalog.
func (c *Client) ListTools(ctx context.Context) ([]mcp.Tool, error) {
	if c.mcpClient == nil {
		return nil, errkind.New(errkind.UpstreamProtocolError, "client not connected")
	}
	res, err := c.mcpClient.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		return nil, errkind.Wrap(errkind.UpstreamProtocolError, "tools/list failed", err)
	}
	return res.Tools, nil
}

// ProgressFunc is invoked for every notifications/progress message observed
// while a call is outstanding (spec §4.4, §4.8 step 3). Notifications
// arrive as raw mcp.JSONRPCNotification values, the same shape teacher's
// broker.go and tests/e2e's NotifyingMCPClient register against.
type ProgressFunc func(mcp.JSONRPCNotification)

// CallTool forwards a tools/call to the upstream, relaying progress
// notifications to onProgress in arrival order before returning the final
// result (spec §4.4's SSE accumulation, §5's ordering guarantee).
func (c *Client) CallTool(ctx context.Context, name string, args map[string]any, onProgress ProgressFunc) (*mcp.CallToolResult, error) {
	if c.mcpClient == nil {
		return nil, errkind.New(errkind.UpstreamProtocolError, "client not connected")
	}

	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if onProgress != nil {
		c.mcpClient.OnNotification(func(n mcp.JSONRPCNotification) {
			if n.Method == "notifications/progress" {
				onProgress(n)
			}
		})
	}

	result, err := c.mcpClient.CallTool(callCtx, mcp.CallToolRequest{
		Params: mcp.CallToolParams{Name: name, Arguments: args},
	})
	if err != nil {
		if callCtx.Err() != nil {
			return nil, errkind.Wrap(errkind.UpstreamTimeout, fmt.Sprintf("tools/call %q timed out", name), err)
		}
		return nil, errkind.Wrap(errkind.UpstreamProtocolError, fmt.Sprintf("tools/call %q failed", name), err)
	}
	return result, nil
}

// HealthCheck is defined as a successful initialize (spec §4.4).
func (c *Client) HealthCheck(ctx context.Context) error {
	probe := New(c.cfg, "hatago-healthcheck", c.logger)
	defer func() { _ = probe.Disconnect() }()
	return probe.Connect(ctx)
}

// ID returns the stable identifier of the upstream this client targets.
func (c *Client) ID() string { return c.cfg.UniqueID() }

// Backoff builds the retry schedule used for discovery/reconnect attempts,
// adapted from teacher's broker.ConfigureBackOff (wait.Backoff shape).
func Backoff(steps int, duration, cap time.Duration, factor float64) wait.Backoff {
	if steps <= 0 {
		steps = 5
	}
	if duration <= 0 {
		duration = 500 * time.Millisecond
	}
	if cap <= 0 {
		cap = 30 * time.Second
	}
	if factor <= 1 {
		factor = 2
	}
	return wait.Backoff{Duration: duration, Factor: factor, Steps: steps, Cap: cap}
}

// RetryConnect retries Connect under backoff until it succeeds or the
// backoff is exhausted, mirroring teacher's retryDiscovery.
func RetryConnect(ctx context.Context, c *Client, backoff wait.Backoff) error {
	var lastErr error
	err := wait.ExponentialBackoffWithContext(ctx, backoff, func(ctx context.Context) (bool, error) {
		if err := c.Connect(ctx); err != nil {
			lastErr = err
			c.logger.Warn("upstream: connect attempt failed, retrying", "upstream", c.ID(), "error", err)
			return false, nil
		}
		return true, nil
	})
	if err != nil {
		if lastErr != nil {
			return lastErr
		}
		return err
	}
	return nil
}
