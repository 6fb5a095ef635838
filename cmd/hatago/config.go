package main

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hatago/gateway/internal/config"
	"github.com/hatago/gateway/internal/namespace"
)

// fileServer is the YAML shape of one entry under "servers:" in the config
// file. cmd/hatago owns parsing and validation (spec non-goal: "configuration
// file parsing and validation... out of scope" for the core); it builds the
// already-validated config.GatewayConfig the core is constructed from.
type fileServer struct {
	ID       string            `yaml:"id"`
	Endpoint string            `yaml:"endpoint"`
	Launch   *fileLaunch       `yaml:"launchCommand"`
	Auth     *fileAuth         `yaml:"auth"`
	Timeout  string            `yaml:"timeout"`
	Enabled  *bool             `yaml:"enabled"`
	Include  []string          `yaml:"include"`
	Exclude  []string          `yaml:"exclude"`
	Rename   map[string]string `yaml:"rename"`
	Namespace struct {
		Name      string `yaml:"name"`
		Strategy  string `yaml:"strategy"`
		Collision string `yaml:"collision"`
		Separator string `yaml:"separator"`
	} `yaml:"namespace"`
	HealthCheck *struct {
		Interval string `yaml:"interval"`
		Timeout  string `yaml:"timeout"`
	} `yaml:"healthCheck"`
}

type fileLaunch struct {
	Command string            `yaml:"command"`
	Args    []string          `yaml:"args"`
	Env     map[string]string `yaml:"env"`
}

type fileAuth struct {
	Type             string            `yaml:"type"`
	Token            string            `yaml:"token"`
	Username         string            `yaml:"username"`
	Password         string            `yaml:"password"`
	Headers          map[string]string `yaml:"headers"`
	CredentialEnvVar string            `yaml:"credentialEnvVar"`
}

type fileVirtualServer struct {
	Name  string   `yaml:"name"`
	Tools []string `yaml:"tools"`
}

type fileTrustedHeaders struct {
	Enabled      bool   `yaml:"enabled"`
	PublicKeyPEM string `yaml:"publicKeyPem"`
	HeaderName   string `yaml:"headerName"`
}

type fileConfig struct {
	Name           string              `yaml:"name"`
	Servers        []fileServer        `yaml:"servers"`
	VirtualServers []fileVirtualServer `yaml:"virtualServers"`
	TrustedHeaders *fileTrustedHeaders `yaml:"trustedHeaders"`

	MaxSessions       int      `yaml:"maxSessions"`
	SessionTTL        string   `yaml:"sessionTTL"`
	SessionCleanup    string   `yaml:"sessionCleanup"`
	MaxQueueSize      int      `yaml:"maxQueueSize"`
	MaxMessageSize    int64    `yaml:"maxMessageSize"`
	MaxRestarts       int      `yaml:"maxRestarts"`
	GracefulTimeout   string   `yaml:"gracefulTimeout"`
	AllowedHosts      []string `yaml:"allowedHosts"`
	AllowedOrigins    []string `yaml:"allowedOrigins"`
	DNSRebindingGuard bool     `yaml:"dnsRebindingGuard"`
}

// loadConfig reads and validates path, producing an already-validated
// config.GatewayConfig (everything this process hands to gateway.New).
func loadConfig(path string) (*config.GatewayConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("hatago: failed to read config file %s: %w", path, err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(raw, &fc); err != nil {
		return nil, fmt.Errorf("hatago: failed to parse config file %s: %w", path, err)
	}

	return validateConfig(&fc)
}

func validateConfig(fc *fileConfig) (*config.GatewayConfig, error) {
	cfg := &config.GatewayConfig{
		Name:              fc.Name,
		MaxSessions:       fc.MaxSessions,
		MaxQueueSize:      fc.MaxQueueSize,
		MaxMessageSize:    fc.MaxMessageSize,
		MaxRestarts:       fc.MaxRestarts,
		AllowedHosts:      fc.AllowedHosts,
		AllowedOrigins:    fc.AllowedOrigins,
		DNSRebindingGuard: fc.DNSRebindingGuard,
	}

	var err error
	if cfg.SessionTTL, err = parseDuration(fc.SessionTTL, time.Hour); err != nil {
		return nil, fmt.Errorf("hatago: invalid sessionTTL: %w", err)
	}
	if cfg.SessionCleanup, err = parseDuration(fc.SessionCleanup, time.Minute); err != nil {
		return nil, fmt.Errorf("hatago: invalid sessionCleanup: %w", err)
	}
	if cfg.GracefulTimeout, err = parseDuration(fc.GracefulTimeout, 30*time.Second); err != nil {
		return nil, fmt.Errorf("hatago: invalid gracefulTimeout: %w", err)
	}

	seen := map[string]bool{}
	for i := range fc.Servers {
		sc, err := validateServer(&fc.Servers[i])
		if err != nil {
			return nil, fmt.Errorf("hatago: server[%d]: %w", i, err)
		}
		id := sc.UniqueID()
		if seen[id] {
			return nil, fmt.Errorf("hatago: duplicate server id %q", id)
		}
		seen[id] = true
		cfg.Servers = append(cfg.Servers, sc)
	}

	for _, vs := range fc.VirtualServers {
		if vs.Name == "" {
			return nil, fmt.Errorf("hatago: virtual server missing name")
		}
		cfg.VirtualServers = append(cfg.VirtualServers, &config.VirtualServer{Name: vs.Name, Tools: vs.Tools})
	}

	if fc.TrustedHeaders != nil {
		cfg.TrustedHeaders = config.TrustedHeaderFilter{
			Enabled:      fc.TrustedHeaders.Enabled,
			PublicKeyPEM: fc.TrustedHeaders.PublicKeyPEM,
			HeaderName:   fc.TrustedHeaders.HeaderName,
		}
	}

	return cfg, nil
}

func validateServer(fs *fileServer) (*config.UpstreamServerConfig, error) {
	if fs.Endpoint == "" && fs.Launch == nil {
		return nil, fmt.Errorf("server %q: must set endpoint or launchCommand", fs.ID)
	}
	if fs.Endpoint != "" && fs.Launch != nil {
		return nil, fmt.Errorf("server %q: endpoint and launchCommand are mutually exclusive", fs.ID)
	}

	timeout, err := parseDuration(fs.Timeout, 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("invalid timeout: %w", err)
	}

	sc := &config.UpstreamServerConfig{
		ID:       fs.ID,
		Endpoint: fs.Endpoint,
		Timeout:  timeout,
		Enabled:  fs.Enabled == nil || *fs.Enabled,
		Namespace: config.NamespaceConfig{
			Name:      fs.Namespace.Name,
			Strategy:  namespace.Strategy(fs.Namespace.Strategy),
			Collision: namespace.Collision(fs.Namespace.Collision),
			Separator: fs.Namespace.Separator,
			Include:   fs.Include,
			Exclude:   fs.Exclude,
			Rename:    fs.Rename,
		},
	}

	if fs.Launch != nil {
		sc.Launch = &config.LaunchCommand{Command: fs.Launch.Command, Args: fs.Launch.Args, Env: fs.Launch.Env}
	}

	if fs.Auth != nil {
		sc.Auth = &config.Auth{
			Type:             config.AuthType(fs.Auth.Type),
			Token:            fs.Auth.Token,
			Username:         fs.Auth.Username,
			Password:         fs.Auth.Password,
			Headers:          fs.Auth.Headers,
			CredentialEnvVar: fs.Auth.CredentialEnvVar,
		}
	}

	if fs.HealthCheck != nil {
		interval, err := parseDuration(fs.HealthCheck.Interval, 30*time.Second)
		if err != nil {
			return nil, fmt.Errorf("invalid healthCheck.interval: %w", err)
		}
		hcTimeout, err := parseDuration(fs.HealthCheck.Timeout, 5*time.Second)
		if err != nil {
			return nil, fmt.Errorf("invalid healthCheck.timeout: %w", err)
		}
		sc.HealthCheck = &config.HealthCheck{Interval: interval, Timeout: hcTimeout}
	}

	return sc, nil
}

func parseDuration(s string, fallback time.Duration) (time.Duration, error) {
	if s == "" {
		return fallback, nil
	}
	return time.ParseDuration(s)
}
