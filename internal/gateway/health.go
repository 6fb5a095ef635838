// Health and drain endpoints per spec §6: liveness, readiness, startup and
// a draining switch. Shaped directly from the JSON bodies spec §6 names;
// kagenti-mcp-gateway has no equivalent endpoint, so these carry no teacher
// grounding beyond the logging idiom the rest of the package uses.
package gateway

import (
	"encoding/json"
	"net/http"
	"time"
)

type livenessResponse struct {
	Status    string    `json:"status"`
	Uptime    float64   `json:"uptime"`
	Timestamp time.Time `json:"timestamp"`
}

func (g *Gateway) handleLive(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, livenessResponse{
		Status:    "pass",
		Uptime:    time.Since(g.startedAt).Seconds(),
		Timestamp: time.Now(),
	})
}

type readinessResponse struct {
	Status string                    `json:"status"`
	Checks map[string]map[string]any `json:"checks"`
}

// handleReady fails once Shutdown has begun draining (spec §4.9: "mark the
// gateway draining (health/ready becomes false)"), and otherwise reports
// every connected upstream's current health, probed on each request.
func (g *Gateway) handleReady(w http.ResponseWriter, r *http.Request) {
	checks := map[string]map[string]any{}

	status := "pass"
	if g.draining.Load() {
		status = "fail"
		checks["draining"] = map[string]any{"status": "fail"}
	}

	for id, err := range g.healthCheckAll(r.Context()) {
		entry := map[string]any{"status": "pass"}
		if err != nil {
			entry["status"] = "fail"
			entry["error"] = err.Error()
			status = "fail"
		}
		checks[id] = entry
	}

	code := http.StatusOK
	if status == "fail" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, readinessResponse{Status: status, Checks: checks})
}

type startupResponse struct {
	Status      string `json:"status"`
	Initialized bool   `json:"initialized"`
}

func (g *Gateway) handleStartup(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, startupResponse{Status: "pass", Initialized: true})
}

// handleDrain implements spec §6's "POST /drain — marks the gateway
// draining; idempotent." Repeated calls are a no-op once draining is set.
func (g *Gateway) handleDrain(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	g.draining.Store(true)
	writeJSON(w, http.StatusOK, map[string]bool{"draining": true})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
