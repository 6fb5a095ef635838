package capability_test

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/hatago/gateway/internal/capability"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type noopFetch struct{}

func (noopFetch) Fetch(context.Context, *capability.FetchRequest) (*capability.FetchResponse, error) {
	return &capability.FetchResponse{StatusCode: 200}, nil
}

type noopTimer struct{}

func (noopTimer) After(d time.Duration) <-chan time.Time { return time.After(d) }

type noopCrypto struct{}

func (noopCrypto) RandomBytes(n int) ([]byte, error) { return make([]byte, n), nil }
func (noopCrypto) SHA256(data []byte) []byte         { return nil }

type memKV struct{ m map[string]string }

func (k *memKV) Get(_ context.Context, key string) (string, bool, error) {
	v, ok := k.m[key]
	return v, ok, nil
}
func (k *memKV) Set(_ context.Context, key, value string) error { k.m[key] = value; return nil }
func (k *memKV) Delete(_ context.Context, key string) error     { delete(k.m, key); return nil }

func newTestBuilder(timerAvailable bool) *capability.Builder {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return capability.NewBuilder(
		capability.Runtime{TimerAvailable: timerAvailable},
		logger,
		noopFetch{},
		func(pluginID string) capability.KVStore { return &memKV{m: map[string]string{}} },
		noopTimer{},
		noopCrypto{},
	)
}

func TestBuildContainsExactlyRequested(t *testing.T) {
	b := newTestBuilder(true)
	bundle, err := b.Build("plugin-a", []capability.Name{capability.CapFetch, capability.CapKV})
	require.NoError(t, err)

	assert.NotNil(t, bundle.Logger, "logger is always provided")
	assert.NotNil(t, bundle.Fetch)
	assert.NotNil(t, bundle.KV)
	assert.Nil(t, bundle.Timer)
	assert.Nil(t, bundle.Crypto)

	assert.True(t, bundle.Has(capability.CapFetch))
	assert.False(t, bundle.Has(capability.CapTimer))
}

func TestBuildRejectsUnavailableTimer(t *testing.T) {
	b := newTestBuilder(false)
	_, err := b.Build("plugin-b", []capability.Name{capability.CapTimer})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unavailable capability: timer")
}

func newBuilderWithNilProviders() *capability.Builder {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return capability.NewBuilder(
		capability.Runtime{TimerAvailable: true},
		logger,
		nil,
		func(pluginID string) capability.KVStore { return &memKV{m: map[string]string{}} },
		nil,
		nil,
	)
}

func TestBuildRejectsFetchWhenProviderNil(t *testing.T) {
	b := newBuilderWithNilProviders()
	_, err := b.Build("plugin-d", []capability.Name{capability.CapFetch})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unavailable capability: fetch")
}

func TestBuildRejectsTimerWhenProviderNilEvenIfRuntimeAvailable(t *testing.T) {
	b := newBuilderWithNilProviders()
	_, err := b.Build("plugin-e", []capability.Name{capability.CapTimer})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unavailable capability: timer")
}

func TestBuildRejectsCryptoWhenProviderNil(t *testing.T) {
	b := newBuilderWithNilProviders()
	_, err := b.Build("plugin-f", []capability.Name{capability.CapCrypto})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unavailable capability: crypto")
}

func TestBuildGrantsNoExtraCapabilities(t *testing.T) {
	b := newTestBuilder(true)
	bundle, err := b.Build("plugin-c", []capability.Name{capability.CapCrypto})
	require.NoError(t, err)
	for _, name := range capability.All {
		if name == capability.CapLogger || name == capability.CapCrypto {
			assert.True(t, bundle.Has(name))
			continue
		}
		assert.False(t, bundle.Has(name), "capability %s must be absent", name)
	}
}
