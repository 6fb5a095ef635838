package namespace_test

import (
	"strings"
	"testing"

	"github.com/hatago/gateway/internal/errkind"
	"github.com/hatago/gateway/internal/namespace"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scenario 2: namespace conflict with rename, same namespace collides twice.
func TestCollisionRenameAcrossServers(t *testing.T) {
	m := namespace.NewManager(true, nil)

	cfgA := &namespace.ServerConfig{ID: "A", Strategy: namespace.StrategyPrefix, Collision: namespace.CollisionRename, Separator: ":"}
	cfgB := &namespace.ServerConfig{ID: "B", Strategy: namespace.StrategyPrefix, Collision: namespace.CollisionRename, Separator: ":"}

	mapA, err := m.Register(cfgA, "calc")
	require.NoError(t, err)
	assert.Equal(t, "A:calc", mapA.MappedName)

	mapB, err := m.Register(cfgB, "calc")
	require.NoError(t, err)
	assert.Equal(t, "B:calc", mapB.MappedName)

	// now force an identical-namespace collision
	cfgA2 := &namespace.ServerConfig{ID: "A", Namespace: "shared", Strategy: namespace.StrategyPrefix, Collision: namespace.CollisionRename, Separator: ":"}
	cfgB2 := &namespace.ServerConfig{ID: "B", Namespace: "shared", Strategy: namespace.StrategyPrefix, Collision: namespace.CollisionRename, Separator: ":"}

	first, err := m.Register(cfgA2, "ping")
	require.NoError(t, err)
	assert.Equal(t, "shared:ping", first.MappedName)

	second, err := m.Register(cfgB2, "ping")
	require.NoError(t, err)
	assert.Equal(t, "shared:ping:2", second.MappedName)
}

// scenario 3: filter + rename.
func TestFilterIncludeExcludeRename(t *testing.T) {
	m := namespace.NewManager(true, nil)
	cfg := &namespace.ServerConfig{
		ID:        "srv",
		Include:   []string{"calc.*"},
		Exclude:   []string{"debug.*"},
		Rename:    map[string]string{"calc.add": "sum"},
		Strategy:  namespace.StrategyPrefix,
		Collision: namespace.CollisionError,
		Separator: ":",
	}

	mapping, err := m.Register(cfg, "calc.add")
	require.NoError(t, err)
	assert.Equal(t, "srv:sum", mapping.MappedName)

	_, err = m.Register(cfg, "calc.debug.dump")
	require.Error(t, err)
	kind, ok := errkind.Of(err)
	require.True(t, ok)
	assert.Equal(t, errkind.Excluded, kind)

	_, err = m.Register(cfg, "other.ping")
	require.Error(t, err)
	kind, ok = errkind.Of(err)
	require.True(t, ok)
	assert.Equal(t, errkind.Excluded, kind)
}

func TestIncludeEmptyMeansIncludeAll(t *testing.T) {
	m := namespace.NewManager(true, nil)
	cfg := &namespace.ServerConfig{ID: "srv", Strategy: namespace.StrategyPrefix, Separator: ":"}
	mapping, err := m.Register(cfg, "anything")
	require.NoError(t, err)
	assert.Equal(t, "srv:anything", mapping.MappedName)
}

func TestCollisionErrorPolicy(t *testing.T) {
	m := namespace.NewManager(true, nil)
	cfg := &namespace.ServerConfig{ID: "srv", Strategy: namespace.StrategyPrefix, Collision: namespace.CollisionError, Separator: ":"}
	_, err := m.Register(cfg, "tool")
	require.NoError(t, err)
	_, err = m.Register(cfg, "tool")
	require.Error(t, err)
	kind, _ := errkind.Of(err)
	assert.Equal(t, errkind.Conflict, kind)
}

func TestCollisionSkipPolicy(t *testing.T) {
	m := namespace.NewManager(true, nil)
	cfg := &namespace.ServerConfig{ID: "srv", Strategy: namespace.StrategyPrefix, Collision: namespace.CollisionSkip, Separator: ":"}
	_, err := m.Register(cfg, "tool")
	require.NoError(t, err)
	_, err = m.Register(cfg, "tool")
	require.Error(t, err)
	kind, _ := errkind.Of(err)
	assert.Equal(t, errkind.Skipped, kind)
}

func TestValidateRejectsLongAndInvalidNames(t *testing.T) {
	m := namespace.NewManager(true, nil)
	cfg := &namespace.ServerConfig{ID: "srv", Strategy: namespace.StrategyCustom, Separator: ":",
		Compose: func(ns, sep, base string) string { return base + "!!invalid" }}
	_, err := m.Register(cfg, "tool")
	require.Error(t, err)
	kind, _ := errkind.Of(err)
	assert.Equal(t, errkind.NameInvalid, kind)

	// "srv:" plus 70 characters is 74, over the 64-character limit.
	long := &namespace.ServerConfig{ID: "srv", Strategy: namespace.StrategyPrefix, Separator: ":"}
	_, err = m.Register(long, strings.Repeat("a", 70))
	require.Error(t, err)
	kind, _ = errkind.Of(err)
	assert.Equal(t, errkind.NameTooLong, kind)
}

func TestRemoveServerInvalidatesMappings(t *testing.T) {
	m := namespace.NewManager(true, nil)
	cfg := &namespace.ServerConfig{ID: "srv", Strategy: namespace.StrategyPrefix, Separator: ":"}
	_, err := m.Register(cfg, "tool")
	require.NoError(t, err)

	m.RemoveServer("srv")
	_, ok := m.Lookup("srv:tool")
	assert.False(t, ok)
}

func TestMappedNameUniqueUnderCasePolicy(t *testing.T) {
	m := namespace.NewManager(false, nil) // case-insensitive
	cfg := &namespace.ServerConfig{ID: "srv", Strategy: namespace.StrategyPrefix, Collision: namespace.CollisionError, Separator: ":"}
	_, err := m.Register(cfg, "Tool")
	require.NoError(t, err)
	_, err = m.Register(cfg, "tool")
	require.Error(t, err)
}
