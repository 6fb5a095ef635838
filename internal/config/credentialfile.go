package config

import (
	"os"
	"path/filepath"
	"strings"
)

// credentialMountPath is the standard mount path for file-based secrets,
// adapted from kagenti-mcp-gateway's pkg/credentials (its MountPath
// constant) for the case where an upstream's credential arrives as a
// Kubernetes-mounted secret file rather than a process environment
// variable.
const credentialMountPath = "/etc/mcp-credentials"

// credentialFromFile reads name from credentialMountPath, mirroring
// pkg/credentials.Get. Absence of the file is not an error here — it just
// means this tier of Credential's fallback chain has nothing to offer.
func credentialFromFile(name string) string {
	if name == "" {
		return ""
	}
	data, err := os.ReadFile(filepath.Join(credentialMountPath, name)) //nolint:gosec // reading kubernetes mounted secrets
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}
