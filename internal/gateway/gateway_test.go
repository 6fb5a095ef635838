package gateway_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hatago/gateway/internal/config"
	"github.com/hatago/gateway/internal/gateway"
	"github.com/hatago/gateway/internal/testutil"
)

func newTestConfig(upstreamEndpoint string) *config.GatewayConfig {
	return &config.GatewayConfig{
		Name: "test-gateway",
		Servers: []*config.UpstreamServerConfig{
			{
				ID:       "fixture",
				Endpoint: upstreamEndpoint,
				Enabled:  true,
				Timeout:  5 * time.Second,
				Namespace: config.NamespaceConfig{
					Name:      "fixture",
					Strategy:  "prefix",
					Collision: "rename",
					Separator: ":",
				},
			},
		},
		MaxSessions:     100,
		SessionTTL:      time.Hour,
		SessionCleanup:  time.Minute,
		GracefulTimeout: time.Second,
	}
}

func TestGatewayEnumeratesAndNamespacesUpstreamTools(t *testing.T) {
	up := testutil.NewUpstream()
	defer up.Close()

	cfg := newTestConfig(up.Endpoint())
	gw, err := gateway.New(context.Background(), cfg, nil)
	require.NoError(t, err)

	srv := httptest.NewServer(gw.Handler())
	defer srv.Close()

	require.Eventually(t, func() bool {
		return len(gw.Namespaces().All()) > 0
	}, 2*time.Second, 10*time.Millisecond, "expected upstream tools to be enumerated")

	mappings := gw.Namespaces().All()
	var greetMapped string
	for _, m := range mappings {
		if m.OriginalName == "greet" {
			greetMapped = m.MappedName
		}
	}
	require.NotEmpty(t, greetMapped, "expected greet tool to be namespaced and registered")
	assert.Contains(t, greetMapped, "fixture")
}

func TestGatewayStatusEndpointReportsUpstreamHealth(t *testing.T) {
	up := testutil.NewUpstream()
	defer up.Close()

	cfg := newTestConfig(up.Endpoint())
	gw, err := gateway.New(context.Background(), cfg, nil)
	require.NoError(t, err)

	srv := httptest.NewServer(gw.Handler())
	defer srv.Close()

	require.Eventually(t, func() bool {
		return len(gw.Namespaces().All()) > 0
	}, 2*time.Second, 10*time.Millisecond)

	resp, err := http.Get(srv.URL + "/status")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var status gateway.StatusResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&status))
	require.Len(t, status.Servers, 1)
	assert.Equal(t, "fixture", status.Servers[0].ID)
}

func TestGatewayHealthEndpoints(t *testing.T) {
	cfg := newTestConfig("")
	cfg.Servers = nil
	gw, err := gateway.New(context.Background(), cfg, nil)
	require.NoError(t, err)

	srv := httptest.NewServer(gw.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/health/live")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp2, err := http.Get(srv.URL + "/health/ready")
	require.NoError(t, err)
	defer resp2.Body.Close()
	assert.Equal(t, http.StatusOK, resp2.StatusCode)

	resp3, err := http.Post(srv.URL+"/drain", "application/json", nil)
	require.NoError(t, err)
	defer resp3.Body.Close()
	assert.Equal(t, http.StatusOK, resp3.StatusCode)

	resp4, err := http.Get(srv.URL + "/health/ready")
	require.NoError(t, err)
	defer resp4.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp4.StatusCode)
}
