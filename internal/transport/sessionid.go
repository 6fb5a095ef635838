// Package transport implements the gateway's C7 component: the HTTP/SSE
// and stdio surfaces a client actually talks to (spec §4.7).
//
// Grounded on kagenti-mcp-gateway's cmd/mcp-broker-router/main.go
// (server.NewStreamableHTTPServer(mcpBroker.MCPServer(), ...) mounted under
// "/mcp") and internal/session/jwt.go (JWTManager implementing
// mark3labs/mcp-go's server.SessionIdManager) — the session id mechanism
// itself is replaced (spec §4.1 forbids JWTs as session ids; SessionIDManager
// below mints raw 256-bit hex instead), but the SessionIdManager plumbing
// point and the StreamableHTTPServer wiring are kept exactly as taught.
package transport

import (
	"context"
	"log/slog"

	"github.com/hatago/gateway/internal/errkind"
	"github.com/hatago/gateway/internal/idgen"
	"github.com/hatago/gateway/internal/session"
)

// SessionIDManager implements mark3labs/mcp-go's server.SessionIdManager
// using internal/idgen's raw random hex ids and the gateway's own session
// manager (C6), so every id minted for an HTTP client is the one spec §4.1
// requires: indistinguishable from random, carrying no embedded claims a
// JWT would expose.
type SessionIDManager struct {
	sessions *session.Manager
	logger   *slog.Logger
}

// NewSessionIDManager constructs a SessionIDManager.
func NewSessionIDManager(sessions *session.Manager, logger *slog.Logger) *SessionIDManager {
	return &SessionIDManager{sessions: sessions, logger: logger}
}

// Generate mints a fresh session id for an initialize request and creates
// its SessionRecord in the session manager (spec §4.6), so that later
// requests carrying the id pass Validate. It returns "" when either step
// fails.
func (m *SessionIDManager) Generate() string {
	id, err := idgen.New()
	if err != nil {
		if m.logger != nil {
			m.logger.Error("transport: failed to generate session id", "error", err)
		}
		return ""
	}
	if _, err := m.sessions.Create(id, nil); err != nil {
		if m.logger != nil {
			m.logger.Error("transport: failed to create session record", "error", err)
		}
		return ""
	}
	return id
}

// Validate fulfils server.SessionIdManager: isNotAllowed is true when id is
// malformed or names no live (unexpired) session record.
func (m *SessionIDManager) Validate(id string) (isNotAllowed bool, err error) {
	if !idgen.Valid(id) {
		return true, errkind.New(errkind.BadSession, "malformed session id")
	}
	if _, err := m.sessions.Access(id); err != nil {
		return true, err
	}
	return false, nil
}

// Terminate fulfils server.SessionIdManager: delete the session record
// (spec §4.6's explicit termination path, e.g. an HTTP DELETE to /mcp).
func (m *SessionIDManager) Terminate(id string) (isNotAllowed bool, err error) {
	if err := m.sessions.Delete(context.Background(), id); err != nil {
		return false, err
	}
	return false, nil
}
