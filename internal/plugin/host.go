// Host state machine (spec §3, §9): idle -> loading on Load, loading ->
// running on a successful entry invocation or loading -> error on failure,
// and running|error -> stopped on Unload. Step is a pure reducer returning
// the next state plus the effects the caller must perform — the same
// "reducer returns effects, caller performs them" split spec §9 calls out
// as the fix for kagenti-mcp-gateway's broker mixing state transitions and
// I/O directly inside its handler methods (internal/broker/broker.go's
// onRegisterSession/onUnregisterSession do both at once).
package plugin

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/hatago/gateway/internal/capability"
	"github.com/hatago/gateway/internal/errkind"
)

// State is one point in a plugin instance's lifecycle.
type State string

// The lifecycle states spec §4.8 names.
const (
	StateIdle    State = "idle"
	StateLoading State = "loading"
	StateRunning State = "running"
	StateError   State = "error"
	StateStopped State = "stopped"
)

// Event drives a State transition.
type Event string

// The events Step accepts.
const (
	EventLoad       Event = "load"
	EventLoaded     Event = "loaded"
	EventLoadFailed Event = "load_failed"
	EventStop       Event = "stop"
)

// EffectKind names a side effect Step asks its caller to perform. Step
// itself never builds a capability bundle, invokes an entry function, or
// logs anything; it only decides what state comes next and what the caller
// owes the world because of it.
type EffectKind string

// The effect kinds Step can emit.
const (
	EffectBuildCapabilities EffectKind = "build_capabilities"
	EffectInvokeEntry       EffectKind = "invoke_entry"
	EffectTeardown          EffectKind = "teardown"
	EffectLog               EffectKind = "log"
)

// Effect is one action Step's caller must carry out after a transition.
type Effect struct {
	Kind    EffectKind
	Message string
}

// Step computes the next state and the effects owed for transitioning
// state on event. An event with no valid transition from state is an error;
// Step never silently ignores an event.
func Step(state State, event Event) (State, []Effect, error) {
	switch state {
	case StateIdle:
		if event == EventLoad {
			return StateLoading, []Effect{{Kind: EffectBuildCapabilities}, {Kind: EffectInvokeEntry}}, nil
		}
	case StateLoading:
		switch event {
		case EventLoaded:
			return StateRunning, nil, nil
		case EventLoadFailed:
			return StateError, []Effect{{Kind: EffectLog, Message: "plugin failed to load"}}, nil
		}
	case StateRunning, StateError:
		if event == EventStop {
			return StateStopped, []Effect{{Kind: EffectTeardown}}, nil
		}
	}
	return state, nil, fmt.Errorf("plugin: event %q is invalid in state %q", event, state)
}

// Instance is one loaded (or attempting-to-load) plugin.
type Instance struct {
	Manifest *Manifest
	State    State
	Bundle   *capability.Bundle
	Err      error
}

// Host drives the Step reducer for every plugin it has been asked to load,
// performing the effects Step asks for: building each plugin's capability
// bundle, invoking its entry constructor, and tearing down its registered
// tools on unload.
type Host struct {
	logger   *slog.Logger
	builder  *capability.Builder
	registry *Registry

	mu        sync.Mutex
	instances map[string]*Instance
}

// NewHost constructs a Host. builder supplies capability bundles; registry
// is the shared local-tool table plugins register into.
func NewHost(logger *slog.Logger, builder *capability.Builder, registry *Registry) *Host {
	return &Host{
		logger:    logger,
		builder:   builder,
		registry:  registry,
		instances: map[string]*Instance{},
	}
}

// Load parses, validates, and loads a plugin from manifest bytes, running
// it through idle -> loading -> running|error. On success the plugin's
// entry constructor has already registered its local tools into the shared
// Registry; on failure nothing is registered.
func (h *Host) Load(manifestJSON []byte) (*Instance, error) {
	manifest, err := ParseManifest(manifestJSON)
	if err != nil {
		return nil, err
	}
	return h.LoadManifest(manifest)
}

// LoadManifest loads an already-parsed manifest, the entry point tests and
// callers holding a Manifest in hand use directly.
func (h *Host) LoadManifest(manifest *Manifest) (*Instance, error) {
	h.mu.Lock()
	if _, exists := h.instances[manifest.Name]; exists {
		h.mu.Unlock()
		return nil, errkind.New(errkind.ManifestInvalid, fmt.Sprintf("plugin %q is already loaded", manifest.Name))
	}
	inst := &Instance{Manifest: manifest, State: StateIdle}
	h.instances[manifest.Name] = inst
	h.mu.Unlock()

	next, effects, err := Step(inst.State, EventLoad)
	if err != nil {
		return nil, err
	}
	inst.State = next

	for _, eff := range effects {
		switch eff.Kind {
		case EffectBuildCapabilities:
			bundle, err := h.builder.Build(manifest.Name, manifest.Capabilities)
			if err != nil {
				return h.fail(inst, errkind.Wrap(errkind.CapabilityUnavailable, fmt.Sprintf("plugin %q requested an unavailable capability", manifest.Name), err))
			}
			inst.Bundle = bundle
		case EffectInvokeEntry:
			entry, ok := lookupEntry(manifest.Entry.Default)
			if !ok {
				return h.fail(inst, errkind.New(errkind.EntryLoadFailed, fmt.Sprintf("plugin %q names unknown entry %q", manifest.Name, manifest.Entry.Default)))
			}
			var registered []string
			pc := &Context{
				PluginID:     manifest.Name,
				Capabilities: inst.Bundle,
				Register: func(name string, tool mcp.Tool, handler ToolHandler) {
					h.registry.Register(name, LocalTool{PluginID: manifest.Name, Tool: tool, Handler: handler})
					registered = append(registered, name)
				},
			}
			if err := entry(pc); err != nil {
				if len(registered) > 0 {
					h.registry.RemovePlugin(manifest.Name)
				}
				return h.fail(inst, errkind.Wrap(errkind.EntryLoadFailed, fmt.Sprintf("plugin %q entry constructor failed", manifest.Name), err))
			}
		}
	}

	next, effects, err = Step(inst.State, EventLoaded)
	if err != nil {
		return nil, err
	}
	h.mu.Lock()
	inst.State = next
	h.mu.Unlock()
	for _, eff := range effects {
		h.runEffect(inst, eff)
	}
	return inst, nil
}

// fail drives inst from loading to error via Step, runs the resulting
// effects, records err on the instance, and returns it as the call's error.
func (h *Host) fail(inst *Instance, err error) (*Instance, error) {
	next, effects, stepErr := Step(inst.State, EventLoadFailed)
	if stepErr != nil {
		return nil, stepErr
	}
	h.mu.Lock()
	inst.State = next
	inst.Err = err
	h.mu.Unlock()
	for _, eff := range effects {
		h.runEffect(inst, eff)
	}
	return inst, err
}

func (h *Host) runEffect(inst *Instance, eff Effect) {
	if eff.Kind != EffectLog || h.logger == nil {
		return
	}
	h.logger.Warn("plugin: "+eff.Message, "plugin", inst.Manifest.Name, "error", inst.Err)
}

// Unload stops a running or errored plugin, removing every tool it
// registered from the shared Registry (spec §4.8: stopped tears down
// everything the plugin installed).
func (h *Host) Unload(pluginID string) error {
	h.mu.Lock()
	inst, ok := h.instances[pluginID]
	if !ok {
		h.mu.Unlock()
		return errkind.New(errkind.EntryLoadFailed, fmt.Sprintf("plugin %q is not loaded", pluginID))
	}
	h.mu.Unlock()

	next, effects, err := Step(inst.State, EventStop)
	if err != nil {
		return err
	}
	h.mu.Lock()
	inst.State = next
	h.mu.Unlock()

	for _, eff := range effects {
		if eff.Kind == EffectTeardown {
			h.registry.RemovePlugin(pluginID)
		}
	}
	return nil
}

// Instances returns a snapshot of every plugin the host knows about, keyed
// by plugin name.
func (h *Host) Instances() map[string]*Instance {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make(map[string]*Instance, len(h.instances))
	for k, v := range h.instances {
		cp := *v
		out[k] = &cp
	}
	return out
}
