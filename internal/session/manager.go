// Manager implements spec §4.6: an owned map of SessionRecord values with
// three bounded operations (create, access, rotate), LRU eviction at
// capacity, TTL expiry, and a background sweep. Adapted from teacher's
// "class with private cleanup timer" idea (spec §9) applied to
// kagenti-mcp-gateway's plain "map + mutex" style elsewhere (broker.mcpServers,
// broker.toolMapping) — here the map is LRU-ordered via container/list so
// eviction-at-capacity is O(1), matching spec §5's "one logical lock...
// per operation" discipline. No third-party LRU package appears anywhere
// in the retrieval pack, so this stays on sync.Mutex + container/list.
package session

import (
	"container/list"
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/hatago/gateway/internal/errkind"
)

// Transport is the minimal lifecycle a session's transport must expose so
// the manager can close it on eviction, rotation, or destroy.
type Transport interface {
	Close() error
}

// Record is spec §3's SessionRecord: { id, transport, data, createdAt,
// lastAccessedAt, expiresAt }. Data itself lives in the Manager's Store,
// keyed by id, so it survives independently of this struct's lifetime
// until the session is deleted.
type Record struct {
	ID             string
	Transport      Transport
	CreatedAt      time.Time
	LastAccessedAt time.Time
	ExpiresAt      time.Time

	// Pinned exempts a record from TTL expiry, in both the background sweep
	// and Access: the stdio transport's one-process-one-session degenerate
	// case (SPEC_FULL §D) lives until it is deleted or the manager is
	// destroyed.
	Pinned bool

	elem *list.Element // this record's node in Manager.order; back = LRU
}

// Manager owns every live SessionRecord for one gateway instance. It is an
// injected value with a defined lifetime (spec §9's "module-scoped
// singleton" critique), not a process-wide global: a caller constructs one
// per gateway and calls Destroy on shutdown.
type Manager struct {
	logger *slog.Logger
	store  *Store

	maxSessions     int
	ttl             time.Duration
	cleanupInterval time.Duration

	mu        sync.Mutex
	records   map[string]*Record
	order     *list.List // front = most recently accessed, back = LRU
	destroyed bool

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewManager constructs a Manager and starts its single sweeper
// goroutine, which removes expired, unpinned records every
// cleanupInterval (spec §4.6, §9). Call Destroy to stop it.
func NewManager(logger *slog.Logger, store *Store, maxSessions int, ttl, cleanupInterval time.Duration) *Manager {
	if cleanupInterval <= 0 {
		cleanupInterval = time.Minute
	}
	m := &Manager{
		logger:          logger,
		store:           store,
		maxSessions:     maxSessions,
		ttl:             ttl,
		cleanupInterval: cleanupInterval,
		records:         map[string]*Record{},
		order:           list.New(),
		stopCh:          make(chan struct{}),
		doneCh:          make(chan struct{}),
	}
	go m.sweepLoop()
	return m
}

func (m *Manager) sweepLoop() {
	defer close(m.doneCh)
	ticker := time.NewTicker(m.cleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.sweep()
		}
	}
}

func (m *Manager) sweep() {
	now := time.Now()
	var expired []*Record
	m.mu.Lock()
	for _, rec := range m.records {
		if !rec.Pinned && now.After(rec.ExpiresAt) {
			expired = append(expired, rec)
		}
	}
	for _, rec := range expired {
		m.removeLocked(rec)
	}
	m.mu.Unlock()
	for _, rec := range expired {
		m.closeTransport(rec)
		if m.logger != nil {
			m.logger.Debug("session: swept expired session", "session_id", redactID(rec.ID))
		}
	}
}

// redactID never echoes a full session id in logs (spec §4.1).
func redactID(id string) string {
	if len(id) <= 8 {
		return "***"
	}
	return id[:8] + "***"
}

func (m *Manager) closeTransport(rec *Record) {
	if rec.Transport == nil {
		return
	}
	if err := rec.Transport.Close(); err != nil && m.logger != nil {
		m.logger.Warn("session: error closing transport", "session_id", redactID(rec.ID), "error", err)
	}
}

// removeLocked deletes rec from both the map and the LRU list. Caller
// must hold m.mu.
func (m *Manager) removeLocked(rec *Record) {
	delete(m.records, rec.ID)
	if rec.elem != nil {
		m.order.Remove(rec.elem)
	}
}

// Create registers a new session id with transport, evicting the LRU
// record if the manager is at capacity (spec §4.6, §5, §8:
// "maxSessions=0 rejects all creations with capacity_exceeded").
func (m *Manager) Create(id string, transport Transport) (*Record, error) {
	return m.create(id, transport, false)
}

// CreatePinned is the stdio degenerate case (SPEC_FULL §D): one process,
// one session, exempt from the TTL sweep.
func (m *Manager) CreatePinned(id string, transport Transport) (*Record, error) {
	return m.create(id, transport, true)
}

func (m *Manager) create(id string, transport Transport, pinned bool) (*Record, error) {
	m.mu.Lock()
	if m.destroyed {
		m.mu.Unlock()
		return nil, errkind.New(errkind.SessionNotFound, "session manager is destroyed")
	}
	if m.maxSessions <= 0 {
		m.mu.Unlock()
		return nil, errkind.New(errkind.CapacityExceeded, "maxSessions is 0")
	}

	var evicted *Record
	if len(m.records) >= m.maxSessions {
		back := m.order.Back()
		if back == nil {
			m.mu.Unlock()
			return nil, errkind.New(errkind.CapacityExceeded, "at capacity")
		}
		evicted = back.Value.(*Record)
		m.removeLocked(evicted)
	}

	now := time.Now()
	rec := &Record{
		ID:             id,
		Transport:      transport,
		CreatedAt:      now,
		LastAccessedAt: now,
		ExpiresAt:      now.Add(m.ttl),
		Pinned:         pinned,
	}
	rec.elem = m.order.PushFront(rec)
	m.records[id] = rec
	m.mu.Unlock()

	if evicted != nil {
		m.closeTransport(evicted)
		if m.logger != nil {
			m.logger.Info("session: evicted LRU session at capacity", "evicted", redactID(evicted.ID))
		}
	}
	return rec, nil
}

// Access looks up id, refreshing its lastAccessedAt/expiresAt on success
// (spec §4.6: "every access updates lastAccessedAt and extends expiresAt
// to now + TTL"). Expired records are invisible to callers (spec §3).
func (m *Manager) Access(id string) (*Record, error) {
	m.mu.Lock()
	rec, ok := m.records[id]
	if !ok {
		m.mu.Unlock()
		return nil, errkind.New(errkind.SessionNotFound, "session not found")
	}
	now := time.Now()
	if !rec.Pinned && now.After(rec.ExpiresAt) {
		m.removeLocked(rec)
		m.mu.Unlock()
		m.closeTransport(rec)
		return nil, errkind.New(errkind.SessionExpired, "session expired")
	}
	rec.LastAccessedAt = now
	rec.ExpiresAt = now.Add(m.ttl)
	m.order.MoveToFront(rec.elem)
	m.mu.Unlock()
	return rec, nil
}

// Rotate atomically replaces oldID with a freshly-minted newID, preserving
// CreatedAt and plugin data and refreshing LastAccessedAt/ExpiresAt (spec
// §4.6). Exactly one concurrent Rotate(oldID, *) succeeds: the map delete
// happens inside the single critical section below, so every other racing
// caller finds no record and gets rotation_lost (spec §8's rotation
// property). The old
// transport is closed best-effort; errors are logged, never returned.
func (m *Manager) Rotate(ctx context.Context, oldID, newID string, newTransport Transport) (*Record, error) {
	m.mu.Lock()
	old, ok := m.records[oldID]
	if !ok {
		m.mu.Unlock()
		// No record for oldID: either another concurrent Rotate(oldID, *)
		// already won and removed it, or it was never live. Both report
		// rotation_lost (spec §7: the losing side's kind).
		return nil, errkind.New(errkind.RotationLost, "session rotation lost to a concurrent rotate")
	}
	m.removeLocked(old)
	m.mu.Unlock()

	m.closeTransport(old)

	now := time.Now()
	newRec := &Record{
		ID:             newID,
		Transport:      newTransport,
		CreatedAt:      old.CreatedAt,
		LastAccessedAt: now,
		ExpiresAt:      now.Add(m.ttl),
		Pinned:         old.Pinned,
	}

	m.mu.Lock()
	var evicted *Record
	if len(m.records) >= m.maxSessions {
		if back := m.order.Back(); back != nil {
			evicted = back.Value.(*Record)
			m.removeLocked(evicted)
		}
	}
	newRec.elem = m.order.PushFront(newRec)
	m.records[newID] = newRec
	m.mu.Unlock()

	if evicted != nil {
		m.closeTransport(evicted)
	}

	if m.store != nil {
		if err := m.store.Rekey(ctx, oldID, newID); err != nil && m.logger != nil {
			m.logger.Warn("session: failed to carry plugin data across rotation", "error", err)
		}
	}
	return newRec, nil
}

// Delete removes id, closing its transport best-effort. Idempotent: a
// missing id is not an error (spec §4.6: "destruction is idempotent;
// subsequent operations return not found deterministically").
func (m *Manager) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	rec, ok := m.records[id]
	if ok {
		m.removeLocked(rec)
	}
	m.mu.Unlock()
	if !ok {
		return nil
	}
	m.closeTransport(rec)
	if m.store != nil {
		_ = m.store.DeleteSession(ctx, id)
	}
	return nil
}

// Len returns the current number of live records. For tests and /status.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records)
}

// Destroy stops the sweeper and closes every remaining session's
// transport, draining the manager (spec §9).
func (m *Manager) Destroy() {
	m.mu.Lock()
	if m.destroyed {
		m.mu.Unlock()
		return
	}
	m.destroyed = true
	records := make([]*Record, 0, len(m.records))
	for _, rec := range m.records {
		records = append(records, rec)
	}
	m.records = map[string]*Record{}
	m.order.Init()
	m.mu.Unlock()

	close(m.stopCh)
	<-m.doneCh

	for _, rec := range records {
		m.closeTransport(rec)
	}
	if m.store != nil {
		_ = m.store.Close()
	}
}

// --- plugin data (spec §4.6's setPluginData/getPluginData/deletePluginData) ---

// SetPluginData writes one plugin-scoped value for sessionID.
func (m *Manager) SetPluginData(ctx context.Context, sessionID, pluginKey, value string) error {
	return m.store.Set(ctx, sessionID, pluginKey, value)
}

// GetPluginData reads one plugin-scoped value for sessionID.
func (m *Manager) GetPluginData(ctx context.Context, sessionID, pluginKey string) (string, bool, error) {
	return m.store.Get(ctx, sessionID, pluginKey)
}

// DeletePluginData removes one plugin-scoped value for sessionID.
// Idempotent (spec §8).
func (m *Manager) DeletePluginData(ctx context.Context, sessionID, pluginKey string) error {
	return m.store.Delete(ctx, sessionID, pluginKey)
}
