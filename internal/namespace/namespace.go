// Package namespace implements Hatago's tool-naming pipeline (spec §4.3):
// filter an upstream's advertised tool names through include/exclude globs,
// apply a rename table, attach a namespace, validate the result, and resolve
// collisions against the mapping table already built from earlier upstreams.
//
// Grounded on kagenti-mcp-gateway's internal/broker/broker.go
// (populateToolMapping, checkToolConflicts, diffTools) generalized to the
// full strategy/collision-resolution algorithm those functions only
// partially implement (they prefix-and-go; this package adds filtering,
// rename, per-strategy composition, and pluggable collision policies).
package namespace

import (
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/hatago/gateway/internal/errkind"
)

// Strategy selects how a namespace and a base tool name are combined.
type Strategy string

const (
	// StrategyPrefix produces "{ns}{sep}{base}".
	StrategyPrefix Strategy = "prefix"
	// StrategySuffix produces "{base}{sep}{ns}".
	StrategySuffix Strategy = "suffix"
	// StrategyCustom delegates composition to a caller-supplied function
	// (ServerConfig.Compose).
	StrategyCustom Strategy = "custom"
)

// Collision selects how a name collision against the mapping table is
// resolved (spec §4.3 step 5).
type Collision string

const (
	// CollisionError fails enumeration of the colliding tool with "conflict".
	CollisionError Collision = "error"
	// CollisionSkip omits the colliding tool with "skipped"; the conflict is
	// logged as a warning.
	CollisionSkip Collision = "skip"
	// CollisionRename tries n = 2, 3, ... until the name is unique: it
	// appends {sep}{n}, or, when PrefixFormat is set, puts the templated
	// prefix and separator in front of the name.
	CollisionRename Collision = "rename"
)

// maxRenameAttempts bounds the rename-until-unique loop (spec §4.3 step 5).
const maxRenameAttempts = 100

// defaultMaxLength is the default maximum mapped-name length (spec §4.3
// step 4).
const defaultMaxLength = 64

var validNamePattern = regexp.MustCompile(`^[A-Za-z0-9_:.\-]+$`)

// ServerConfig is the per-upstream configuration that drives filtering and
// naming for that upstream's tools (a view onto spec's UpstreamServerConfig).
type ServerConfig struct {
	ID        string
	Namespace string // defaults to ID when empty
	Include   []string
	Exclude   []string
	Rename    map[string]string
	Strategy  Strategy
	Collision Collision
	Separator string // defaults to ":"
	// PrefixFormat is used by CollisionRename when the plain "{candidate}
	// {sep}{n}" form is not requested; it may reference {server} and
	// {index}.
	PrefixFormat string
	// Compose implements StrategyCustom; ns and base are passed verbatim.
	Compose func(ns, sep, base string) string
}

func (c *ServerConfig) namespace() string {
	if c.Namespace != "" {
		return c.Namespace
	}
	return c.ID
}

func (c *ServerConfig) separator() string {
	if c.Separator != "" {
		return c.Separator
	}
	return ":"
}

func (c *ServerConfig) maxLength() int {
	return defaultMaxLength
}

// ToolMapping records one resolved name assignment (spec §3).
type ToolMapping struct {
	OriginalName   string
	MappedName     string
	Namespace      string
	SourceServerID string
	Metadata       map[string]any
}

// Stats tracks enumeration totals for observability.
type Stats struct {
	Total        int
	Conflicts    int
	PerServer    map[string]int
	PerCategory  map[errkind.Kind]int
}

// Manager owns the live mapping table built by successive calls to
// Register, across every upstream configured for a gateway instance.
type Manager struct {
	// CaseSensitive governs both include/exclude glob matching and
	// collision detection (the Open Question decision in SPEC_FULL §D:
	// one flag for both, not two).
	CaseSensitive bool

	mu       sync.Mutex
	byName   map[string]*ToolMapping // key folded per CaseSensitive
	byServer map[string][]*ToolMapping
	stats    Stats
	logger   *slog.Logger
}

// NewManager constructs an empty Manager. logger may be nil, in which case
// mapping events are not logged.
func NewManager(caseSensitive bool, logger *slog.Logger) *Manager {
	return &Manager{
		CaseSensitive: caseSensitive,
		byName:        map[string]*ToolMapping{},
		byServer:      map[string][]*ToolMapping{},
		stats:         Stats{PerServer: map[string]int{}, PerCategory: map[errkind.Kind]int{}},
		logger:        logger,
	}
}

func (m *Manager) fold(s string) string {
	if m.CaseSensitive {
		return s
	}
	return strings.ToLower(s)
}

func globToRegexp(pattern string) (*regexp.Regexp, error) {
	var b strings.Builder
	for _, r := range pattern {
		switch r {
		case '*':
			b.WriteString(".*")
		case '?':
			b.WriteString(".")
		default:
			b.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	return regexp.Compile(b.String())
}

func (m *Manager) matchAny(patterns []string, name string) (bool, error) {
	folded := m.fold(name)
	for _, p := range patterns {
		re, err := globToRegexp(m.fold(p))
		if err != nil {
			return false, fmt.Errorf("namespace: invalid glob %q: %w", p, err)
		}
		if re.MatchString(folded) {
			return true, nil
		}
	}
	return false, nil
}

// Register runs the full pipeline (spec §4.3 steps 1-6) for one remote tool
// name against cfg, inserting a ToolMapping into the table on success.
func (m *Manager) Register(cfg *ServerConfig, remoteName string) (*ToolMapping, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.stats.Total++
	m.stats.PerServer[cfg.ID]++

	// 1. Filter
	if excluded, err := m.matchAny(cfg.Exclude, remoteName); err != nil {
		return nil, err
	} else if excluded {
		m.recordFailure(errkind.Excluded)
		return nil, errkind.New(errkind.Excluded, fmt.Sprintf("tool %q excluded by upstream %s", remoteName, cfg.ID))
	}
	if len(cfg.Include) > 0 {
		included, err := m.matchAny(cfg.Include, remoteName)
		if err != nil {
			return nil, err
		}
		if !included {
			m.recordFailure(errkind.Excluded)
			return nil, errkind.New(errkind.Excluded, fmt.Sprintf("tool %q not in include list for upstream %s", remoteName, cfg.ID))
		}
	}

	// 2. Rename
	base := remoteName
	if renamed, ok := cfg.Rename[remoteName]; ok {
		base = renamed
	}

	// 3. Namespace strategy
	ns := cfg.namespace()
	sep := cfg.separator()
	candidate, err := compose(cfg, ns, sep, base)
	if err != nil {
		return nil, err
	}

	// 4. Validate
	if err := m.validate(candidate, cfg.maxLength()); err != nil {
		m.recordFailureFromErr(err)
		return nil, err
	}

	// 5. Resolve collision
	resolved, conflictID, err := m.resolveCollision(cfg, sep, candidate)
	if err != nil {
		m.recordFailureFromErr(err)
		return nil, err
	}

	// 6. Register
	mapping := &ToolMapping{
		OriginalName:   remoteName,
		MappedName:     resolved,
		Namespace:      ns,
		SourceServerID: cfg.ID,
	}
	if conflictID != "" {
		mapping.Metadata = map[string]any{"conflict_id": conflictID}
	}
	m.byName[m.fold(resolved)] = mapping
	m.byServer[cfg.ID] = append(m.byServer[cfg.ID], mapping)
	if m.logger != nil {
		m.logger.Info("namespace: registered tool mapping", "original", remoteName, "mapped", resolved, "server", cfg.ID)
	}
	return mapping, nil
}

func compose(cfg *ServerConfig, ns, sep, base string) (string, error) {
	switch cfg.Strategy {
	case StrategySuffix:
		return fmt.Sprintf("%s%s%s", base, sep, ns), nil
	case StrategyCustom:
		if cfg.Compose == nil {
			return "", fmt.Errorf("namespace: strategy custom requires Compose")
		}
		return cfg.Compose(ns, sep, base), nil
	case StrategyPrefix, "":
		return fmt.Sprintf("%s%s%s", ns, sep, base), nil
	default:
		return "", fmt.Errorf("namespace: unknown strategy %q", cfg.Strategy)
	}
}

func (m *Manager) validate(name string, maxLength int) error {
	if !validNamePattern.MatchString(name) {
		return errkind.New(errkind.NameInvalid, fmt.Sprintf("tool name %q contains invalid characters", name))
	}
	if len(name) > maxLength {
		return errkind.New(errkind.NameTooLong, fmt.Sprintf("tool name %q exceeds max length %d", name, maxLength))
	}
	return nil
}

// resolveCollision returns the name to register plus a conflict
// correlation id when a collision actually occurred (empty when candidate
// was free), so Register can thread it onto the mapping log and the
// mapping's own Metadata (spec §4.3 step 6: "emit mapping log").
func (m *Manager) resolveCollision(cfg *ServerConfig, sep, candidate string) (string, string, error) {
	if _, exists := m.byName[m.fold(candidate)]; !exists {
		return candidate, "", nil
	}
	m.stats.Conflicts++
	conflictID := NewConflictID()
	if m.logger != nil {
		m.logger.Warn("namespace: tool name conflict", "conflict_id", conflictID, "candidate", candidate, "server", cfg.ID, "policy", cfg.Collision)
	}
	switch cfg.Collision {
	case CollisionSkip:
		return "", "", errkind.New(errkind.Skipped, fmt.Sprintf("tool name %q skipped due to collision", candidate)).WithData(conflictID)
	case CollisionRename:
		for n := 2; n <= maxRenameAttempts+1; n++ {
			var next string
			if cfg.PrefixFormat != "" {
				prefix := strings.NewReplacer("{server}", cfg.ID, "{index}", fmt.Sprintf("%d", n)).Replace(cfg.PrefixFormat)
				next = fmt.Sprintf("%s%s%s", prefix, sep, candidate)
			} else {
				next = fmt.Sprintf("%s%s%d", candidate, sep, n)
			}
			if err := m.validate(next, cfg.maxLength()); err != nil {
				return "", "", err
			}
			if _, exists := m.byName[m.fold(next)]; !exists {
				return next, conflictID, nil
			}
		}
		return "", "", errkind.New(errkind.Conflict, fmt.Sprintf("tool name %q could not be resolved after %d rename attempts", candidate, maxRenameAttempts)).WithData(conflictID)
	case CollisionError, "":
		return "", "", errkind.New(errkind.Conflict, fmt.Sprintf("tool name %q conflicts with an existing mapping", candidate)).WithData(conflictID)
	default:
		return "", "", fmt.Errorf("namespace: unknown collision policy %q", cfg.Collision)
	}
}

func (m *Manager) recordFailure(kind errkind.Kind) {
	m.stats.PerCategory[kind]++
}

func (m *Manager) recordFailureFromErr(err error) {
	if kind, ok := errkind.Of(err); ok {
		m.recordFailure(kind)
	}
}

// Lookup resolves a client-visible tool name to its mapping, or ok=false.
func (m *Manager) Lookup(mappedName string) (*ToolMapping, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	mapping, ok := m.byName[m.fold(mappedName)]
	return mapping, ok
}

// RemoveServer invalidates every mapping sourced from serverID (spec §3:
// "invalidated only when the owning upstream is removed").
func (m *Manager) RemoveServer(serverID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, mapping := range m.byServer[serverID] {
		delete(m.byName, m.fold(mapping.MappedName))
	}
	delete(m.byServer, serverID)
}

// Clear removes every mapping, resetting the manager to its initial state.
func (m *Manager) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byName = map[string]*ToolMapping{}
	m.byServer = map[string][]*ToolMapping{}
	m.stats = Stats{PerServer: map[string]int{}, PerCategory: map[errkind.Kind]int{}}
}

// All returns every current mapping grouped by server, each server's
// mappings in registration order; the order of the servers is not defined.
// The slice is a defensive copy.
func (m *Manager) All() []*ToolMapping {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*ToolMapping, 0, len(m.byName))
	for _, list := range m.byServer {
		out = append(out, list...)
	}
	return out
}

// Stats returns a snapshot of enumeration counters.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := Stats{
		Total:       m.stats.Total,
		Conflicts:   m.stats.Conflicts,
		PerServer:   make(map[string]int, len(m.stats.PerServer)),
		PerCategory: make(map[errkind.Kind]int, len(m.stats.PerCategory)),
	}
	for k, v := range m.stats.PerServer {
		cp.PerServer[k] = v
	}
	for k, v := range m.stats.PerCategory {
		cp.PerCategory[k] = v
	}
	return cp
}

// NewConflictID returns a correlation id for a conflict log entry.
func NewConflictID() string {
	return uuid.NewString()
}
