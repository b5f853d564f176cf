package module

import (
	"context"
	"sync"

	"github.com/alphadose/haxmap"
	"github.com/panjf2000/ants/v2"

	errs "github.com/fimoengine/fimo-sub001/errors"
	"github.com/fimoengine/fimo-sub001/lock/flock"
	"github.com/fimoengine/fimo-sub001/tracing"
	"github.com/fimoengine/fimo-sub001/version"
)

// Registry is the process-wide module registry from spec §4.3: a
// name-keyed map of loaded modules, "read-mostly" — lookups must not
// contend with each other, only with the rarer commit/unload writers (spec
// §5 "Shared resources"). There is no separate symbol table: FindBySymbol
// walks every loaded module's own export table.
//
// The module-name table uses github.com/alphadose/haxmap, a lock-free
// concurrent map, so find_by_name/load_symbol/parameter reads never block
// behind a mutex; writeMu below serializes only the multi-step write
// sequences (set_finish, unload, dependency mutation) against each other.
type Registry struct {
	modules *haxmap.Map[string, *Info]

	// writeMu is the writer-exclusive lock from spec §5: set_finish,
	// unload, and explicit dependency mutation all hold it for their
	// entire multi-step sequence so the registry never observes a
	// half-committed or half-torn-down state.
	writeMu sync.Mutex

	pool    *ants.Pool
	tracing *tracing.State

	// pathLocks holds one flock-backed lock.Locker per shared-object path,
	// so two overlapping set_append_modules scans of the same file (even
	// across processes) serialize instead of racing the export scan.
	pathLocks sync.Map // path string -> *flock.Lock
}

// NewRegistry builds an empty registry. poolSize bounds the worker pool
// used to scan multiple set_append_modules paths concurrently (spec §4.3
// "set_append_modules", parallelized per SPEC_FULL §2).
func NewRegistry(poolSize int, tr *tracing.State) (*Registry, error) {
	if poolSize <= 0 {
		poolSize = 1
	}
	pool, err := ants.NewPool(poolSize)
	if err != nil {
		return nil, errs.Wrap(errs.Internal, err, "create module scan pool")
	}
	return &Registry{
		modules: haxmap.New[string, *Info](),
		pool:    pool,
		tracing: tr,
	}, nil
}

// Close releases the worker pool. Modules still in the registry are not
// unloaded and their destructors are not run; Context.Release calls this
// during teardown.
func (r *Registry) Close() {
	r.pool.Release()
}

// FindByName returns the Info for a loaded module (spec §4.3, "find_by_*").
func (r *Registry) FindByName(name string) (*Info, error) {
	info, ok := r.modules.Get(name)
	if !ok {
		return nil, errs.New(errs.NotFound, "module %q is not loaded", name)
	}
	return info, nil
}

// FindBySymbol resolves (name, ns) to the exporting module's Info,
// requiring the export to be compatible with required (spec §4.3,
// "find_by_symbol" via the context vtable).
func (r *Registry) FindBySymbol(name, ns string, required version.Version) (*Info, error) {
	var found *Info
	r.modules.ForEach(func(_ string, info *Info) bool {
		m := info.moduleRef()
		if m == nil {
			return true
		}
		m.mu.RLock()
		sym, ok := m.exports[SymbolKey{Name: name, Namespace: ns}]
		m.mu.RUnlock()
		if ok && version.Compatible(sym.decl.Version, required) {
			found = info
			return false
		}
		return true
	})
	if found == nil {
		return nil, errs.New(errs.NotFound, "no compatible export of %q in namespace %q", name, ns)
	}
	return found, nil
}

// NamespaceExists reports whether any loaded module exports a symbol in ns.
func (r *Registry) NamespaceExists(ns string) bool {
	exists := false
	r.modules.ForEach(func(_ string, info *Info) bool {
		m := info.moduleRef()
		if m == nil {
			return true
		}
		m.mu.RLock()
		for k := range m.exports {
			if k.Namespace == ns {
				exists = true
				m.mu.RUnlock()
				return false
			}
		}
		m.mu.RUnlock()
		return true
	})
	return exists
}

// Each calls fn for every currently loaded module's Info, in no particular
// order. Used by inspection tooling (cmd/fimoctl) rather than by any
// hot-path subsystem code.
func (r *Registry) Each(fn func(*Info)) {
	r.modules.ForEach(func(_ string, info *Info) bool {
		fn(info)
		return true
	})
}

func (r *Registry) lookupLocked(name string) (*Info, bool) {
	return r.modules.Get(name)
}

// lockPath acquires the path-scan lock for path, returning an unlock
// function the caller must defer. Guards concurrent set_append_modules
// scans of the same shared object (spec §2 domain stack: "Cross-process
// mutual exclusion while scanning a shared-object path").
func (r *Registry) lockPath(ctx context.Context, path string) (func(), error) {
	v, _ := r.pathLocks.LoadOrStore(path, flock.New(path))
	l := v.(*flock.Lock)
	if err := l.Lock(ctx); err != nil {
		return nil, errs.Wrap(errs.Internal, err, "lock export scan path %q", path)
	}
	return func() { _ = l.Unlock(ctx) }, nil
}
