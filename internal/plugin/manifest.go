// Package plugin implements the gateway's C8 component: plugin manifests,
// the capability-gated load/unload state machine, the local tool registry,
// and tools/call dispatch to either a locally-registered handler or an
// upstream/subprocess client (spec §4.8).
package plugin

import (
	"encoding/json"
	"fmt"

	"github.com/hatago/gateway/internal/capability"
	"github.com/hatago/gateway/internal/errkind"
)

// Engines names the host runtime a manifest targets, mirroring npm's
// package.json convention the way spec §4.8 describes it.
type Engines struct {
	Hatago string `json:"hatago"`
}

// Entry names the plugin's construction function (spec §4.8: "entry.default
// identifies the exported constructor the host invokes to load the
// plugin"). Hatago never loads arbitrary code at runtime — a core gateway
// has no dynamic-plugin non-goal to violate, and Go has no portable
// equivalent of dlopen; Entry.Default is instead a lookup key into the set
// of constructors registered with RegisterBuiltin at program init.
type Entry struct {
	Default string `json:"default"`
}

// Manifest is a plugin's declared identity, required runtime version, and
// capability requests (spec §3, §4.8).
type Manifest struct {
	Name         string            `json:"name"`
	Version      string            `json:"version"`
	Description  string            `json:"description"`
	Engines      Engines           `json:"engines"`
	Capabilities []capability.Name `json:"capabilities"`
	Entry        Entry             `json:"entry"`
}

// ParseManifest decodes raw manifest JSON and validates its shape. A loosely
// typed pass runs first so a type mistake in the source document (e.g.
// "capabilities": "fetch" instead of an array) is reported as
// manifest_invalid rather than surfacing a generic JSON decode error that
// would be much harder for a plugin author to act on.
func ParseManifest(data []byte) (*Manifest, error) {
	var loose map[string]any
	if err := json.Unmarshal(data, &loose); err != nil {
		return nil, errkind.Wrap(errkind.ManifestInvalid, "manifest is not valid JSON", err)
	}
	if caps, ok := loose["capabilities"]; ok {
		if _, isArray := caps.([]any); !isArray {
			return nil, errkind.New(errkind.ManifestInvalid, "capabilities must be an array")
		}
	}

	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, errkind.Wrap(errkind.ManifestInvalid, "failed to decode manifest", err)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// Validate checks the required-field rules spec §4.8 names. Whether the
// runtime can actually supply a requested capability is a separate
// question, deferred to Host.Load, since answering it needs the runtime's
// capability.Runtime value rather than anything the manifest itself carries.
func (m *Manifest) Validate() error {
	switch {
	case m.Name == "":
		return errkind.New(errkind.ManifestInvalid, "manifest is missing name")
	case m.Version == "":
		return errkind.New(errkind.ManifestInvalid, "manifest is missing version")
	case m.Description == "":
		return errkind.New(errkind.ManifestInvalid, "manifest is missing description")
	case m.Engines.Hatago == "":
		return errkind.New(errkind.ManifestInvalid, "manifest is missing engines.hatago")
	case m.Entry.Default == "":
		return errkind.New(errkind.ManifestInvalid, "manifest is missing entry.default")
	}
	for _, c := range m.Capabilities {
		if !validCapability(c) {
			return errkind.New(errkind.ManifestInvalid, fmt.Sprintf("manifest declares unknown capability %q", c))
		}
	}
	return nil
}

func validCapability(c capability.Name) bool {
	for _, known := range capability.All {
		if c == known {
			return true
		}
	}
	return false
}
