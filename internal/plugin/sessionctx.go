package plugin

import "context"

// sessionIDKey is the unexported context key carrying the calling session's
// id alongside a tool handler invocation, so a capability.KVStore bound at
// plugin-load time (one Bundle per plugin, shared across every session that
// calls into it) can still scope reads/writes to the session that is
// actually calling (spec §3's PluginDataKey isolation is per plugin AND per
// session).
type sessionIDKey struct{}

// WithSessionID returns a copy of ctx carrying sessionID, set by Dispatcher
// before invoking a local tool handler.
func WithSessionID(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, sessionIDKey{}, sessionID)
}

// SessionIDFromContext returns the session id set by WithSessionID, if any.
func SessionIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(sessionIDKey{}).(string)
	return id, ok
}
