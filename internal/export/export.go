// Package export is the Go-idiomatic substitute for the linker-ordered
// module-export section described in spec §6 ("Module export section"):
// ELF's fimo_module section, Mach-O's __DATA,__fimo_module, and PE/COFF's
// fi_mod$a/u/z triplet all rely on the linker placing pointer-sized slots
// in a contiguous, iterable run. Go exposes no equivalent linker feature,
// and per spec §9 Design Notes (c) a rewrite should refuse to build rather
// than silently skip modules on platforms without section ordering — so
// instead of faking one, this package gives modules a supported mechanism
// to register themselves: a shared-object built with `go build
// -buildmode=plugin` calls Register from its own init() the moment
// plugin.Open loads it, and Registered(path) returns exactly the records
// that plugin contributed, in registration order (which, for a single
// plugin's init() chain, is deterministic per the Go spec).
package export

import "sync"

var (
	mu  sync.Mutex
	all = map[string][]any{}
)

// Register records a module export declaration under path, the shared
// object that contributed it. Called from a plugin's init().
func Register(path string, rec any) {
	mu.Lock()
	defer mu.Unlock()
	all[path] = append(all[path], rec)
}

// Registered returns every export declaration registered under path, in
// registration order. Null/skipped slots don't arise in this model since
// Register only ever appends live records.
func Registered(path string) []any {
	mu.Lock()
	defer mu.Unlock()
	out := make([]any, len(all[path]))
	copy(out, all[path])
	return out
}
