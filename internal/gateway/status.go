// StatusHandler implements the supplemented GET /status endpoint
// (SPEC_FULL §C.1), grounded directly on kagenti-mcp-gateway's
// internal/broker/status.go (ServerValidationStatus, ToolConflict,
// StatusResponse) but driven by the namespace manager's live conflict
// counters (C3) and the upstream/subprocess connection state (C4/C5)
// instead of broker's own bespoke validation pass.
package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/hatago/gateway/internal/subprocess"
)

// ConnectionStatus reports one upstream's reachability, mirrors teacher's
// broker.ConnectionStatus.
type ConnectionStatus struct {
	IsReachable bool   `json:"isReachable"`
	Error       string `json:"error,omitempty"`
}

// ServerStatus is one upstream's entry in a /status response.
type ServerStatus struct {
	ID               string           `json:"id"`
	Namespace        string           `json:"namespace"`
	Kind             string           `json:"kind"` // "http" or "subprocess"
	ConnectionStatus ConnectionStatus `json:"connectionStatus"`
	ToolCount        int              `json:"toolCount"`
	LastChecked      time.Time        `json:"lastChecked"`
}

// ToolConflict mirrors teacher's broker.ToolConflict: one mapped name two
// upstreams both wanted.
type ToolConflict struct {
	MappedName    string   `json:"mappedName"`
	ConflictsWith []string `json:"conflictsWith"`
}

// StatusResponse is the root /status payload (SPEC_FULL §C.1).
type StatusResponse struct {
	Servers       []ServerStatus `json:"servers"`
	OverallValid  bool           `json:"overallValid"`
	TotalServers  int            `json:"totalServers"`
	HealthyCount  int            `json:"healthyServers"`
	ToolConflicts int            `json:"toolConflicts"`
	Timestamp     time.Time      `json:"timestamp"`
}

// StatusHandler serves GET /status and GET /status/<id>, the latter
// returning one upstream's entry (teacher's handleSingleServerByName).
type StatusHandler struct {
	gw     *Gateway
	logger *slog.Logger
}

// NewStatusHandler constructs a StatusHandler.
func NewStatusHandler(gw *Gateway, logger *slog.Logger) *StatusHandler {
	return &StatusHandler{gw: gw, logger: logger}
}

func (h *StatusHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "method not allowed"})
		return
	}

	resp := h.build(r.Context())

	if id := strings.TrimPrefix(strings.TrimPrefix(r.URL.Path, "/status"), "/"); id != "" {
		for _, s := range resp.Servers {
			if s.ID == id {
				_ = json.NewEncoder(w).Encode(s)
				return
			}
		}
		w.WriteHeader(http.StatusNotFound)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "server not found: " + id})
		return
	}

	_ = json.NewEncoder(w).Encode(resp)
}

func (h *StatusHandler) build(ctx context.Context) StatusResponse {
	health := h.gw.healthCheckAll(ctx)

	h.gw.mu.Lock()
	servers := make([]ServerStatus, 0, len(h.gw.cfg.Servers))
	for _, sc := range h.gw.cfg.Servers {
		id := sc.UniqueID()
		status := ServerStatus{ID: id, Namespace: sc.Namespace.Name, LastChecked: time.Now()}
		if sc.IsSubprocess() {
			status.Kind = "subprocess"
			if p, ok := h.gw.subprocesses[id]; ok {
				status.ConnectionStatus.IsReachable = p.State() == subprocess.StateRunning
				if !status.ConnectionStatus.IsReachable {
					status.ConnectionStatus.Error = string(p.State())
				}
			}
		} else {
			status.Kind = "http"
			if _, ok := h.gw.upstreamClients[id]; ok {
				if err, checked := health[id]; checked {
					status.ConnectionStatus.IsReachable = err == nil
					if err != nil {
						status.ConnectionStatus.Error = err.Error()
					}
				} else {
					status.ConnectionStatus.IsReachable = true
				}
			} else {
				status.ConnectionStatus.Error = "not connected"
			}
		}
		servers = append(servers, status)
	}
	h.gw.mu.Unlock()

	mappings := h.gw.namespaces.All()
	perServer := map[string]int{}
	for _, m := range mappings {
		perServer[m.SourceServerID]++
	}
	for i := range servers {
		servers[i].ToolCount = perServer[servers[i].ID]
	}

	stats := h.gw.namespaces.Stats()
	healthy := 0
	for _, s := range servers {
		if s.ConnectionStatus.IsReachable {
			healthy++
		}
	}

	return StatusResponse{
		Servers:       servers,
		OverallValid:  healthy == len(servers),
		TotalServers:  len(servers),
		HealthyCount:  healthy,
		ToolConflicts: stats.Conflicts,
		Timestamp:     time.Now(),
	}
}
