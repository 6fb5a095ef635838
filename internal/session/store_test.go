package session

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStore_SetGet(t *testing.T) {
	ctx := context.Background()
	store, err := NewStore(ctx)
	require.NoError(t, err)

	_, ok, err := store.Get(ctx, "s1", "plugin:echo:count")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, store.Set(ctx, "s1", "plugin:echo:count", "1"))
	val, ok, err := store.Get(ctx, "s1", "plugin:echo:count")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "1", val)
}

func TestStore_SetOverwritesLastWriterWins(t *testing.T) {
	ctx := context.Background()
	store, err := NewStore(ctx)
	require.NoError(t, err)

	require.NoError(t, store.Set(ctx, "s1", "k", "a"))
	require.NoError(t, store.Set(ctx, "s1", "k", "b"))
	val, ok, err := store.Get(ctx, "s1", "k")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "b", val)
}

func TestStore_DeleteIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store, err := NewStore(ctx)
	require.NoError(t, err)

	require.NoError(t, store.Set(ctx, "s1", "k", "v"))
	require.NoError(t, store.Delete(ctx, "s1", "k"))
	require.NoError(t, store.Delete(ctx, "s1", "k"))

	_, ok, err := store.Get(ctx, "s1", "k")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestStore_PluginIsolation(t *testing.T) {
	ctx := context.Background()
	store, err := NewStore(ctx)
	require.NoError(t, err)

	require.NoError(t, store.Set(ctx, "s1", "plugin:a:count", "1"))
	require.NoError(t, store.Set(ctx, "s1", "plugin:b:count", "2"))

	a, _, err := store.Get(ctx, "s1", "plugin:a:count")
	require.NoError(t, err)
	b, _, err := store.Get(ctx, "s1", "plugin:b:count")
	require.NoError(t, err)
	require.Equal(t, "1", a)
	require.Equal(t, "2", b)
}

func TestStore_Rekey(t *testing.T) {
	ctx := context.Background()
	store, err := NewStore(ctx)
	require.NoError(t, err)

	require.NoError(t, store.Set(ctx, "old", "plugin:a:k", "v1"))
	require.NoError(t, store.Set(ctx, "old", "plugin:b:k", "v2"))

	require.NoError(t, store.Rekey(ctx, "old", "new"))

	exists, err := store.KeyExists(ctx, "old")
	require.NoError(t, err)
	require.False(t, exists)

	fields, err := store.All(ctx, "new")
	require.NoError(t, err)
	require.Equal(t, "v1", fields["plugin:a:k"])
	require.Equal(t, "v2", fields["plugin:b:k"])
}

func TestStore_DeleteSessionRemovesAllFields(t *testing.T) {
	ctx := context.Background()
	store, err := NewStore(ctx)
	require.NoError(t, err)

	require.NoError(t, store.Set(ctx, "s1", "k1", "v1"))
	require.NoError(t, store.Set(ctx, "s1", "k2", "v2"))
	require.NoError(t, store.DeleteSession(ctx, "s1"))

	fields, err := store.All(ctx, "s1")
	require.NoError(t, err)
	require.Empty(t, fields)
}
