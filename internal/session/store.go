// Package session implements the gateway's C6 component: the session
// manager (spec §4.6) and its plugin-data store.
//
// Store is adapted from kagenti-mcp-gateway's internal/session.Cache: the
// same dual in-memory/Redis hash-map design, generalized from a fixed
// mcpServerID -> mcpSession mapping into the spec's arbitrary
// PluginDataKey -> opaque value mapping (spec §3). Each gateway session id
// is a Redis hash (or an in-memory map) whose fields are plugin data keys.
package session

import (
	"context"
	"sync"

	redis "github.com/redis/go-redis/v9"
)

// Store holds the per-session plugin data map described in spec §3:
// "data: mapping pluginKey -> opaque value". It is backed either by a
// plain in-memory sync.Map (the default) or, when configured with a
// connection string, an external Redis instance — the same two-backend
// shape as teacher's session.Cache.
type Store struct {
	connectionString string
	inmemory         *sync.Map
	extClient        *redis.Client
}

// NewStore returns a new plugin data store. With no options it is
// in-memory; WithConnectionString switches it to a Redis-backed store.
func NewStore(ctx context.Context, opts ...func(*Store)) (*Store, error) {
	s := &Store{}
	for _, opt := range opts {
		opt(s)
	}
	if s.connectionString != "" {
		redisOpts, err := redis.ParseURL(s.connectionString)
		if err != nil {
			return nil, err
		}
		s.extClient = redis.NewClient(redisOpts)
		return s, s.extClient.Ping(ctx).Err()
	}
	s.inmemory = &sync.Map{}
	return s, nil
}

// WithConnectionString switches the store to a Redis backend, e.g.
// "redis://<user>:<pass>@localhost:6379/<db>".
func WithConnectionString(url string) func(*Store) {
	return func(s *Store) {
		s.inmemory = nil
		s.connectionString = url
	}
}

// KeyExists reports whether sessionID has any plugin data recorded at all.
func (s *Store) KeyExists(ctx context.Context, sessionID string) (bool, error) {
	if s.inmemory != nil {
		_, ok := s.inmemory.Load(sessionID)
		return ok, nil
	}
	count, err := s.extClient.Exists(ctx, sessionID).Result()
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// All returns every plugin-data field recorded for sessionID.
func (s *Store) All(ctx context.Context, sessionID string) (map[string]string, error) {
	if s.inmemory != nil {
		val, ok := s.inmemory.Load(sessionID)
		if ok {
			return val.(map[string]string), nil
		}
		return map[string]string{}, nil
	}
	return s.extClient.HGetAll(ctx, sessionID).Result()
}

// Get returns one plugin-data field (spec §3's PluginDataKey) for
// sessionID, with ok=false when absent.
func (s *Store) Get(ctx context.Context, sessionID, pluginKey string) (string, bool, error) {
	fields, err := s.All(ctx, sessionID)
	if err != nil {
		return "", false, err
	}
	val, ok := fields[pluginKey]
	return val, ok, nil
}

// Set writes one plugin-data field, creating the session's entry if this
// is its first write (spec §4.6: "last writer wins on concurrent writes to
// the same key").
func (s *Store) Set(ctx context.Context, sessionID, pluginKey, value string) error {
	if s.inmemory != nil {
		fields, err := s.All(ctx, sessionID)
		if err != nil {
			return err
		}
		fields[pluginKey] = value
		s.inmemory.Store(sessionID, fields)
		return nil
	}
	return s.extClient.HSet(ctx, sessionID, pluginKey, value).Err()
}

// Delete removes one plugin-data field. A missing field is not an error
// (spec §8: "deletePluginData(k); getPluginData(k) == absent" must be
// idempotent).
func (s *Store) Delete(ctx context.Context, sessionID, pluginKey string) error {
	if s.inmemory != nil {
		fields, err := s.All(ctx, sessionID)
		if err != nil {
			return err
		}
		delete(fields, pluginKey)
		s.inmemory.Store(sessionID, fields)
		return nil
	}
	return s.extClient.HDel(ctx, sessionID, pluginKey).Err()
}

// DeleteSession removes every plugin-data field recorded for each of the
// given session ids.
func (s *Store) DeleteSession(ctx context.Context, sessionID ...string) error {
	if s.inmemory != nil {
		for _, id := range sessionID {
			s.inmemory.Delete(id)
		}
		return nil
	}
	return s.extClient.Del(ctx, sessionID...).Err()
}

// Rekey moves every plugin-data field from oldID to newID, used by
// Manager.Rotate to carry a session's plugin data across a rotation
// (spec §4.6).
func (s *Store) Rekey(ctx context.Context, oldID, newID string) error {
	fields, err := s.All(ctx, oldID)
	if err != nil {
		return err
	}
	for key, value := range fields {
		if err := s.Set(ctx, newID, key, value); err != nil {
			return err
		}
	}
	return s.DeleteSession(ctx, oldID)
}

// Close releases the underlying Redis connection, if any.
func (s *Store) Close() error {
	if s.inmemory != nil {
		return nil
	}
	return s.extClient.Close()
}
