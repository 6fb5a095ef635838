// VirtualServerMiddleware scopes a tools/list response to one named subset
// of the aggregate catalog (SPEC_FULL §C.4), adapted directly from
// kagenti-mcp-gateway's internal/broker/virtual_server_handler.go: same
// response-capturing http.ResponseWriter wrapper and tools/list interception,
// generalized from the broker's package-level config.MCPServersConfig to a
// per-Gateway *config.GatewayConfig.
package gateway

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"slices"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/hatago/gateway/internal/config"
)

// virtualServerHeader is the request header naming which virtual server's
// tool subset a tools/list call should be scoped to.
const virtualServerHeader = "mcp-virtual-server"

type virtualServerMiddleware struct {
	next   http.Handler
	cfg    *config.GatewayConfig
	logger *slog.Logger
}

// NewVirtualServerMiddleware wraps next so any tools/list request carrying
// the virtualServerHeader gets its result filtered down to that virtual
// server's named tools (SPEC_FULL §C.4). Requests without the header, and
// every other method, pass through untouched.
func NewVirtualServerMiddleware(next http.Handler, cfg *config.GatewayConfig, logger *slog.Logger) http.Handler {
	return &virtualServerMiddleware{next: next, cfg: cfg, logger: logger}
}

func (h *virtualServerMiddleware) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.next.ServeHTTP(w, r)
		return
	}

	name := r.Header.Get(virtualServerHeader)
	if name == "" {
		h.next.ServeHTTP(w, r)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "failed to read request", http.StatusBadRequest)
		return
	}

	var req mcp.JSONRPCRequest
	if err := json.Unmarshal(body, &req); err != nil || req.Method != "tools/list" {
		r.Body = io.NopCloser(bytes.NewReader(body))
		h.next.ServeHTTP(w, r)
		return
	}

	h.logger.Debug("gateway: scoping tools/list to virtual server", "virtualServer", name)
	r.Body = io.NopCloser(bytes.NewReader(body))
	h.serveFiltered(w, r, req, name)
}

func (h *virtualServerMiddleware) serveFiltered(w http.ResponseWriter, r *http.Request, req mcp.JSONRPCRequest, name string) {
	capture := &responseCapture{header: make(http.Header), body: &bytes.Buffer{}}
	h.next.ServeHTTP(capture, r)

	var rpcErr mcp.JSONRPCError
	if err := json.Unmarshal(capture.body.Bytes(), &rpcErr); err == nil && rpcErr.Error.Code != 0 {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(capture.statusCode)
		_, _ = w.Write(capture.body.Bytes())
		return
	}

	var resp mcp.JSONRPCResponse
	if err := json.Unmarshal(capture.body.Bytes(), &resp); err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	resultBytes, err := json.Marshal(resp.Result)
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	var listResult mcp.ListToolsResult
	if err := json.Unmarshal(resultBytes, &listResult); err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	vs := h.cfg.GetVirtualServer(name)
	var filtered []mcp.Tool
	if vs == nil {
		h.logger.Warn("gateway: virtual server not found", "virtualServer", name)
		filtered = []mcp.Tool{}
	} else {
		for _, t := range listResult.Tools {
			if slices.Contains(vs.Tools, t.Name) {
				filtered = append(filtered, t)
			}
		}
	}

	filteredResp := mcp.JSONRPCResponse{
		JSONRPC: resp.JSONRPC,
		ID:      resp.ID,
		Result:  mcp.ListToolsResult{Tools: filtered},
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(filteredResp)
}

// responseCapture buffers a downstream handler's response so it can be
// rewritten before reaching the real client.
type responseCapture struct {
	header     http.Header
	body       *bytes.Buffer
	statusCode int
}

func (rw *responseCapture) Header() http.Header { return rw.header }

func (rw *responseCapture) Write(data []byte) (int, error) {
	if rw.statusCode == 0 {
		rw.statusCode = http.StatusOK
	}
	return rw.body.Write(data)
}

func (rw *responseCapture) WriteHeader(statusCode int) { rw.statusCode = statusCode }
