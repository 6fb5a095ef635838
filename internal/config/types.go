// Package config holds the gateway's already-validated configuration value
// (spec: "the core receives an already-validated configuration value" — file
// parsing and validation belongs to the out-of-scope command-line front end
// in cmd/hatago). Adapted from kagenti-mcp-gateway's internal/config
// (types.go, mcpservers.go): same Observer/Notify shape, generalized from a
// single flat MCPServer list into the richer UpstreamServerConfig spec §3
// describes (auth variants, launch commands, include/exclude/rename,
// namespace strategy, health checks).
package config

import (
	"context"
	"fmt"
	"time"

	"github.com/hatago/gateway/internal/namespace"
)

// AuthType selects how an upstream client authenticates (spec §4.4 table).
type AuthType string

// The upstream auth variants spec §4.4 names.
const (
	AuthNone   AuthType = ""
	AuthBearer AuthType = "bearer"
	AuthBasic  AuthType = "basic"
	AuthCustom AuthType = "custom"
)

// Auth describes the credential to attach to upstream requests.
type Auth struct {
	Type     AuthType
	Token    string            // bearer
	Username string            // basic
	Password string            // basic
	Headers  map[string]string // custom
	// CredentialEnvVar, when set, is read at connect time instead of Token
	// (teacher's pattern of reading auth material from the process
	// environment rather than storing it in the config value directly).
	CredentialEnvVar string
}

// LaunchCommand describes how to spawn an upstream as a child process
// instead of reaching it over the network (feeds C5).
type LaunchCommand struct {
	Command string
	Args    []string
	Env     map[string]string
}

// HealthCheck configures the periodic liveness probe for an upstream.
type HealthCheck struct {
	Interval time.Duration
	Timeout  time.Duration
}

// NamespaceConfig carries the per-upstream naming policy consumed by
// internal/namespace.ServerConfig.
type NamespaceConfig struct {
	Name      string
	Strategy  namespace.Strategy
	Collision namespace.Collision
	Separator string
	Include   []string
	Exclude   []string
	Rename    map[string]string
}

// UpstreamServerConfig is spec §3's UpstreamServerConfig: { id, endpoint |
// launchCommand, auth?, timeout, include?, exclude?, rename?, healthCheck?,
// namespace? }.
type UpstreamServerConfig struct {
	ID        string
	Endpoint  string // mutually exclusive with Launch
	Launch    *LaunchCommand
	Auth      *Auth
	Timeout   time.Duration
	Namespace NamespaceConfig

	HealthCheck *HealthCheck

	Enabled bool
}

// IsSubprocess reports whether this upstream should be reached by spawning
// a child process (C5) rather than an HTTP client (C4).
func (u *UpstreamServerConfig) IsSubprocess() bool {
	return u.Launch != nil
}

// UniqueID returns a stable identifier, defaulting from the launch command
// or endpoint when the caller did not assign an explicit one — mirrors
// teacher's MCPServer.ID() combining identifying fields.
func (u *UpstreamServerConfig) UniqueID() string {
	if u.ID != "" {
		return u.ID
	}
	if u.Launch != nil {
		return fmt.Sprintf("%s:%v", u.Launch.Command, u.Launch.Args)
	}
	return u.Endpoint
}

// VirtualServer names a subset of the aggregate tool catalog exposed as its
// own tools/list view (SPEC_FULL §C.4, teacher's config.VirtualServer).
type VirtualServer struct {
	Name  string
	Tools []string
}

// TrustedHeaderFilter configures the optional signed tools/list allow-list
// filter (SPEC_FULL §C.2, teacher's filtered_tools_handler.go).
type TrustedHeaderFilter struct {
	Enabled      bool
	PublicKeyPEM string
	HeaderName   string // defaults to "x-authorized-tools"
}

// GatewayConfig is the root already-validated configuration value the core
// is constructed from.
type GatewayConfig struct {
	Name           string
	Servers        []*UpstreamServerConfig
	VirtualServers []*VirtualServer
	TrustedHeaders TrustedHeaderFilter

	MaxSessions       int
	SessionTTL        time.Duration
	SessionCleanup    time.Duration
	MaxQueueSize      int
	MaxMessageSize    int64
	MaxRestarts       int
	GracefulTimeout   time.Duration
	AllowedHosts      []string
	AllowedOrigins    []string
	DNSRebindingGuard bool

	observers []Observer
}

// RegisterObserver registers obs to be notified of future config changes
// (mirrors teacher's MCPServersConfig.RegisterObserver).
func (c *GatewayConfig) RegisterObserver(obs Observer) {
	c.observers = append(c.observers, obs)
}

// Notify fans a config change out to every registered observer
// concurrently, matching teacher's Notify.
func (c *GatewayConfig) Notify(ctx context.Context) {
	for _, observer := range c.observers {
		go observer.OnConfigChange(ctx, c)
	}
}

// GetServer returns the upstream config with the given id, or nil.
func (c *GatewayConfig) GetServer(id string) *UpstreamServerConfig {
	for _, s := range c.Servers {
		if s.UniqueID() == id {
			return s
		}
	}
	return nil
}

// GetVirtualServer returns the named virtual server, or nil.
func (c *GatewayConfig) GetVirtualServer(name string) *VirtualServer {
	for _, vs := range c.VirtualServers {
		if vs.Name == name {
			return vs
		}
	}
	return nil
}

// Observer is notified when the configuration changes, mirroring teacher's
// config.Observer.
type Observer interface {
	OnConfigChange(ctx context.Context, cfg *GatewayConfig)
}
