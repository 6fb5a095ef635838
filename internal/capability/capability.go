// Package capability builds the per-plugin capability bundle the plugin
// host hands to each loaded plugin: exactly the handles the manifest
// declares and the runtime can actually provide, nothing else. Capabilities
// absent from the bundle are absent at construction time rather than
// rejected at call time, so there is no proxy-trap layer to audit.
package capability

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Name identifies one of the fixed set of host-provided capabilities.
type Name string

// The fixed capability vocabulary (spec §1, §4.2).
const (
	CapLogger Name = "logger"
	CapFetch  Name = "fetch"
	CapKV     Name = "kv"
	CapTimer  Name = "timer"
	CapCrypto Name = "crypto"
)

// All enumerates the complete vocabulary, in the order capabilities are
// validated.
var All = []Name{CapLogger, CapFetch, CapKV, CapTimer, CapCrypto}

// Logger is the capability handle for structured logging, always present.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Fetcher is the capability handle for outbound HTTP.
type Fetcher interface {
	Fetch(ctx context.Context, req *FetchRequest) (*FetchResponse, error)
}

// FetchRequest is the capability-scoped description of an outbound request.
type FetchRequest struct {
	Method  string
	URL     string
	Headers map[string]string
	Body    []byte
}

// FetchResponse is the capability-scoped outbound response.
type FetchResponse struct {
	StatusCode int
	Headers    map[string]string
	Body       []byte
}

// KVStore is the capability handle for the plugin's isolated key/value view,
// backed by the session manager's plugin data store (C6).
type KVStore interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
}

// Timer is the capability handle for scheduled callbacks. Not every runtime
// supports it (spec §4.2); unavailable in e.g. a one-shot CLI invocation.
type Timer interface {
	After(d time.Duration) <-chan time.Time
}

// Crypto is the capability handle for cryptographic primitives a plugin may
// need without reaching into the standard library directly (so outbound use
// can be tagged for audit the same way fetch and kv are).
type Crypto interface {
	RandomBytes(n int) ([]byte, error)
	SHA256(data []byte) []byte
}

// Bundle holds only the capability handles a plugin's manifest requested and
// the runtime could provide. A nil field means the capability is absent;
// callers must not probe further than a nil check.
type Bundle struct {
	PluginID string
	Logger   Logger
	Fetch    Fetcher
	KV       KVStore
	Timer    Timer
	Crypto   Crypto
}

// Has reports whether the bundle carries the named capability.
func (b *Bundle) Has(name Name) bool {
	switch name {
	case CapLogger:
		return b.Logger != nil
	case CapFetch:
		return b.Fetch != nil
	case CapKV:
		return b.KV != nil
	case CapTimer:
		return b.Timer != nil
	case CapCrypto:
		return b.Crypto != nil
	default:
		return false
	}
}

// Runtime describes what the hosting runtime can actually supply,
// independent of what any one plugin manifest requests. Timer is the only
// capability expected to vary across runtimes (spec §4.2); the others are
// provided by Builder directly.
type Runtime struct {
	// TimerAvailable is false in runtimes without scheduled callbacks (e.g.
	// a one-shot stdio invocation that exits after the first response).
	TimerAvailable bool
}

// Builder constructs bundles for a fixed runtime and a fixed set of
// host-level capability providers, reused across every plugin load.
type Builder struct {
	runtime Runtime
	fetch   Fetcher
	kvFor   func(pluginID string) KVStore
	timer   Timer
	crypto  Crypto
	baseLog *slog.Logger
}

// NewBuilder constructs a Builder. kvFor must return a KVStore scoped to the
// given plugin id (see internal/session's PluginDataKey isolation).
func NewBuilder(runtime Runtime, logger *slog.Logger, fetch Fetcher, kvFor func(pluginID string) KVStore, timer Timer, crypto Crypto) *Builder {
	return &Builder{runtime: runtime, fetch: fetch, kvFor: kvFor, timer: timer, crypto: crypto, baseLog: logger}
}

// auditLogger tags every log line with the owning plugin id.
type auditLogger struct {
	*slog.Logger
}

// Build produces a Bundle containing exactly the capabilities in requested
// that the runtime can provide. logger is always included. Requesting
// "timer" when the runtime cannot provide scheduled callbacks fails the
// whole build with an unavailable-capability error (spec §4.2); this must
// abort plugin load rather than silently omit the capability.
func (b *Builder) Build(pluginID string, requested []Name) (*Bundle, error) {
	bundle := &Bundle{
		PluginID: pluginID,
		Logger:   auditLogger{b.baseLog.With("plugin", pluginID)},
	}
	for _, name := range requested {
		switch name {
		case CapLogger:
			// already always present
		case CapFetch:
			if b.fetch == nil {
				return nil, fmt.Errorf("unavailable capability: %s", name)
			}
			bundle.Fetch = b.fetch
		case CapKV:
			bundle.KV = b.kvFor(pluginID)
		case CapTimer:
			if !b.runtime.TimerAvailable || b.timer == nil {
				return nil, fmt.Errorf("unavailable capability: %s", name)
			}
			bundle.Timer = b.timer
		case CapCrypto:
			if b.crypto == nil {
				return nil, fmt.Errorf("unavailable capability: %s", name)
			}
			bundle.Crypto = b.crypto
		default:
			return nil, fmt.Errorf("unavailable capability: %s", name)
		}
	}
	return bundle, nil
}
