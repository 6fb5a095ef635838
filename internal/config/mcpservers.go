package config

import "os"

// Credential resolves the bearer/basic secret material for an upstream's
// auth config: a mounted env var, then a mounted secret file under
// /etc/mcp-credentials (kagenti-mcp-gateway's pkg/credentials pattern,
// adapted here rather than kept as a standalone package since its one
// caller is this resolution chain), then the inline value as a last resort.
func (a *Auth) Credential() string {
	if a == nil {
		return ""
	}
	if a.CredentialEnvVar != "" {
		if v := os.Getenv(a.CredentialEnvVar); v != "" {
			return v
		}
		if v := credentialFromFile(a.CredentialEnvVar); v != "" {
			return v
		}
	}
	return a.Token
}

// Changed reports whether existing differs from u in any field that should
// trigger a reconnect/re-enumeration on config reload — mirrors teacher's
// MCPServer.ConfigChanged, generalized to the richer UpstreamServerConfig.
func (u *UpstreamServerConfig) Changed(existing *UpstreamServerConfig) bool {
	if existing == nil {
		return true
	}
	return existing.Endpoint != u.Endpoint ||
		existing.Enabled != u.Enabled ||
		existing.Namespace.Name != u.Namespace.Name ||
		existing.Timeout != u.Timeout
}
