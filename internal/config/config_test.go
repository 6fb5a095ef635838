package config_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/hatago/gateway/internal/config"
	"github.com/stretchr/testify/assert"
)

type recordingObserver struct {
	mu    sync.Mutex
	calls int
}

func (r *recordingObserver) OnConfigChange(_ context.Context, _ *config.GatewayConfig) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
}

func (r *recordingObserver) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

func TestNotifyFansOutToObservers(t *testing.T) {
	cfg := &config.GatewayConfig{Name: "test"}
	obs := &recordingObserver{}
	cfg.RegisterObserver(obs)

	cfg.Notify(context.Background())

	assert.Eventually(t, func() bool { return obs.count() == 1 }, time.Second, time.Millisecond)
}

func TestGetServerByUniqueID(t *testing.T) {
	cfg := &config.GatewayConfig{
		Servers: []*config.UpstreamServerConfig{
			{ID: "a", Endpoint: "http://a"},
			{ID: "b", Endpoint: "http://b"},
		},
	}
	assert.Equal(t, "http://b", cfg.GetServer("b").Endpoint)
	assert.Nil(t, cfg.GetServer("missing"))
}

func TestUniqueIDFallsBackToLaunchOrEndpoint(t *testing.T) {
	withEndpoint := &config.UpstreamServerConfig{Endpoint: "http://x"}
	assert.Equal(t, "http://x", withEndpoint.UniqueID())

	withLaunch := &config.UpstreamServerConfig{Launch: &config.LaunchCommand{Command: "mytool", Args: []string{"--flag"}}}
	assert.Contains(t, withLaunch.UniqueID(), "mytool")
}

func TestAuthCredentialPrefersEnvVar(t *testing.T) {
	t.Setenv("HATAGO_TEST_TOKEN", "from-env")
	auth := &config.Auth{Type: config.AuthBearer, Token: "inline", CredentialEnvVar: "HATAGO_TEST_TOKEN"}
	assert.Equal(t, "from-env", auth.Credential())

	inlineOnly := &config.Auth{Type: config.AuthBearer, Token: "inline"}
	assert.Equal(t, "inline", inlineOnly.Credential())
}

func TestAuthCredentialFallsBackToInlineWhenEnvVarUnset(t *testing.T) {
	auth := &config.Auth{Type: config.AuthBearer, Token: "inline", CredentialEnvVar: "HATAGO_TEST_TOKEN_UNSET"}
	assert.Equal(t, "inline", auth.Credential())
}
