// Guard implements spec §4.7's request validation that must run before any
// MCP-specific parsing: an HTTP method allow-list, the DNS-rebinding guard
// (Host/Origin checked against configured allow-lists), then a hard cap on
// request body size. Content-Type/Accept negotiation and session-header
// matching are mark3labs/mcp-go's own StreamableHTTPServer's job once a
// request clears this middleware.
package transport

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/hatago/gateway/internal/config"
	"github.com/hatago/gateway/internal/errkind"
)

// defaultMaxBody bounds a request body when the gateway config leaves
// MaxMessageSize unset.
const defaultMaxBody = 4 << 20 // 4 MiB

// GuardMiddleware wraps next with the method/DNS-rebinding/body-size checks
// spec §4.7 requires to run first, in that order.
func GuardMiddleware(cfg *config.GatewayConfig, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet, http.MethodPost, http.MethodDelete:
		default:
			w.Header().Set("Allow", "GET, POST, DELETE")
			writeGatewayError(w, http.StatusMethodNotAllowed, errkind.New(errkind.MethodNotAllowed, fmt.Sprintf("method %s not allowed", r.Method)))
			return
		}

		if cfg != nil && cfg.DNSRebindingGuard {
			if err := checkRebinding(cfg, r); err != nil {
				writeGatewayError(w, http.StatusForbidden, err)
				return
			}
		}

		limit := int64(defaultMaxBody)
		if cfg != nil && cfg.MaxMessageSize > 0 {
			limit = cfg.MaxMessageSize
		}
		if r.Body != nil {
			data, err := io.ReadAll(io.LimitReader(r.Body, limit+1))
			if err != nil {
				writeGatewayError(w, http.StatusBadRequest, errkind.Wrap(errkind.BadRequest, "failed to read request body", err))
				return
			}
			if int64(len(data)) > limit {
				writeGatewayError(w, http.StatusRequestEntityTooLarge, errkind.New(errkind.MessageTooLarge, fmt.Sprintf("request body exceeds %d byte limit", limit)))
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(data))
		}

		next.ServeHTTP(w, r)
	})
}

func checkRebinding(cfg *config.GatewayConfig, r *http.Request) error {
	if len(cfg.AllowedHosts) > 0 && !hostAllowed(r.Host, cfg.AllowedHosts) {
		return errkind.New(errkind.DNSRebindingBlocked, fmt.Sprintf("host %q is not allowed", r.Host))
	}
	if origin := r.Header.Get("Origin"); origin != "" && len(cfg.AllowedOrigins) > 0 && !hostAllowed(origin, cfg.AllowedOrigins) {
		return errkind.New(errkind.DNSRebindingBlocked, fmt.Sprintf("origin %q is not allowed", origin))
	}
	return nil
}

// hostAllowed strips any scheme/path/port from value and compares the bare
// host against allowed, case-insensitively. allowed entries are normalized
// the same way, so a naturally-formatted allow-list entry like
// "https://trusted.example.com" matches an Origin header of the same form.
func hostAllowed(value string, allowed []string) bool {
	host := bareHost(value)
	for _, a := range allowed {
		if strings.EqualFold(bareHost(a), host) {
			return true
		}
	}
	return false
}

func bareHost(value string) string {
	host := value
	if i := strings.Index(host, "://"); i >= 0 {
		host = host[i+3:]
	}
	if i := strings.IndexByte(host, '/'); i >= 0 {
		host = host[:i]
	}
	return strings.SplitN(host, ":", 2)[0]
}

// httpRefusalCode maps an errkind.Kind onto the JSON-RPC error code a
// refusal at this layer must carry (spec §4.7 step 1, §6, §7):
// method_not_allowed gets exactly -32000; every other HTTP-layer refusal
// gets its own code in the -327xx band so a client can still distinguish
// them without string-matching message.
func httpRefusalCode(kind errkind.Kind) int {
	switch kind {
	case errkind.MethodNotAllowed:
		return -32000
	case errkind.DNSRebindingBlocked:
		return -32701
	case errkind.MessageTooLarge:
		return -32702
	case errkind.BadRequest:
		return -32703
	default:
		return -32700
	}
}

// httpRefusalMessage returns the exact wording spec §4.7 step 1 names for
// method_not_allowed and otherwise falls back to the error's own message.
func httpRefusalMessage(kind errkind.Kind, err error) string {
	if kind == errkind.MethodNotAllowed {
		return "Method not allowed"
	}
	return err.Error()
}

// writeGatewayError writes a JSON-RPC 2.0 error response: refusals at this
// layer never reach MCP method dispatch, so there is no request id to echo
// and id is always null (spec §4.7, §6, §7).
func writeGatewayError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	kind, _ := errkind.Of(err)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"jsonrpc": "2.0",
		"id":      nil,
		"error": map[string]any{
			"code":    httpRefusalCode(kind),
			"message": httpRefusalMessage(kind, err),
		},
	})
}
