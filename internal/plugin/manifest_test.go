package plugin

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hatago/gateway/internal/errkind"
)

func validManifestJSON() []byte {
	return []byte(`{
		"name": "echo",
		"version": "1.0.0",
		"description": "echoes its input",
		"engines": {"hatago": "^1.0"},
		"capabilities": ["logger", "kv"],
		"entry": {"default": "echo"}
	}`)
}

func TestParseManifest_Valid(t *testing.T) {
	m, err := ParseManifest(validManifestJSON())
	require.NoError(t, err)
	require.Equal(t, "echo", m.Name)
	require.Equal(t, "echo", m.Entry.Default)
}

func TestParseManifest_MissingName(t *testing.T) {
	_, err := ParseManifest([]byte(`{"version":"1.0.0","description":"d","engines":{"hatago":"^1"},"entry":{"default":"e"}}`))
	require.Error(t, err)
	kind, _ := errkind.Of(err)
	require.Equal(t, errkind.ManifestInvalid, kind)
}

func TestParseManifest_MissingEnginesHatago(t *testing.T) {
	_, err := ParseManifest([]byte(`{"name":"n","version":"1.0.0","description":"d","entry":{"default":"e"}}`))
	require.Error(t, err)
	kind, _ := errkind.Of(err)
	require.Equal(t, errkind.ManifestInvalid, kind)
}

func TestParseManifest_CapabilitiesNotArray(t *testing.T) {
	_, err := ParseManifest([]byte(`{"name":"n","version":"1.0.0","description":"d","engines":{"hatago":"^1"},"capabilities":"kv","entry":{"default":"e"}}`))
	require.Error(t, err)
	kind, _ := errkind.Of(err)
	require.Equal(t, errkind.ManifestInvalid, kind)
}

func TestParseManifest_MissingEntryDefault(t *testing.T) {
	_, err := ParseManifest([]byte(`{"name":"n","version":"1.0.0","description":"d","engines":{"hatago":"^1"}}`))
	require.Error(t, err)
	kind, _ := errkind.Of(err)
	require.Equal(t, errkind.ManifestInvalid, kind)
}

func TestParseManifest_UnknownCapability(t *testing.T) {
	_, err := ParseManifest([]byte(`{"name":"n","version":"1.0.0","description":"d","engines":{"hatago":"^1"},"capabilities":["teleport"],"entry":{"default":"e"}}`))
	require.Error(t, err)
	kind, _ := errkind.Of(err)
	require.Equal(t, errkind.ManifestInvalid, kind)
}

func TestParseManifest_NotJSON(t *testing.T) {
	_, err := ParseManifest([]byte(`not json`))
	require.Error(t, err)
	kind, _ := errkind.Of(err)
	require.Equal(t, errkind.ManifestInvalid, kind)
}
