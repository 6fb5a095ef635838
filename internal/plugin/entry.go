package plugin

import "sync"

// EntryFunc is a plugin's construction function: given its Context it
// registers whatever local tools it implements and returns. An error aborts
// the load (spec §4.8: loading -> error on any entry failure).
type EntryFunc func(pc *Context) error

var (
	builtinsMu sync.RWMutex
	builtins   = map[string]EntryFunc{}
)

// RegisterBuiltin makes fn reachable as a manifest's entry.default value.
// Called from an init() in each built-in plugin's package, the way
// database/sql drivers register themselves — Hatago has no out-of-process
// plugin loader (spec §1's Non-goals), so every entry.default this process
// will ever resolve is known at link time.
func RegisterBuiltin(name string, fn EntryFunc) {
	builtinsMu.Lock()
	defer builtinsMu.Unlock()
	builtins[name] = fn
}

func lookupEntry(name string) (EntryFunc, bool) {
	builtinsMu.RLock()
	defer builtinsMu.RUnlock()
	fn, ok := builtins[name]
	return fn, ok
}
