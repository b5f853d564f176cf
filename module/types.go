// Package module implements the module subsystem from spec §4.3: a
// registry of modules, symbols, namespaces and parameters; transactional
// loading sets; a dependency graph; and symbol acquisition under lock.
package module

import (
	"sync"
	"sync/atomic"

	"github.com/fimoengine/fimo-sub001/refcount"
	"github.com/fimoengine/fimo-sub001/version"
)

// ParamType is the scalar width/signedness of a declared parameter (spec
// §3 "Parameter").
type ParamType int

const (
	ParamU8 ParamType = iota
	ParamU16
	ParamU32
	ParamU64
	ParamI8
	ParamI16
	ParamI32
	ParamI64
)

// ParamAccess is one of the three access classes a parameter's read or
// write side can be configured with (spec §3 "Parameter").
type ParamAccess int

const (
	AccessPublic ParamAccess = iota
	AccessDependency
	AccessPrivate
)

// ParamDecl is a declared parameter as it appears in an ExportRecord: name,
// type, default value (stored as the type's raw bit pattern,
// sign-extension applied on read for signed types), and independent
// read/write access classes.
type ParamDecl struct {
	Name    string
	Type    ParamType
	Default uint64
	Read    ParamAccess
	Write   ParamAccess
}

// Param is the live, atomically-accessed instance of a declared parameter,
// owned by exactly one module (spec §3 "Parameter", §4.3 "Parameter access
// control").
type Param struct {
	owner *Module
	typ   ParamType
	read  ParamAccess
	write ParamAccess
	value atomic.Uint64
}

// Type returns the parameter's declared scalar type.
func (p *Param) Type() ParamType { return p.typ }

// SymbolKey identifies an exported symbol by (name, namespace), per spec
// §3 "Symbol": "identified by the triple (name, namespace,
// version-at-export)" — the version is carried alongside the key rather
// than inside it, since a given (name, namespace) exports exactly one
// version at a time.
type SymbolKey struct {
	Name      string
	Namespace string
}

// SymbolExportDecl is a static or dynamic export declared in an
// ExportRecord: the compatibility baseline version plus the value the
// constructor (for dynamic exports) or the declaration itself (for static
// exports) provides.
type SymbolExportDecl struct {
	Name      string
	Namespace string
	Version   version.Version
	// Value is used directly for a static export. For a dynamic export,
	// Value is only the initial value: the constructor replaces it via
	// LoadingSet.BindDynamicExport.
	Value any
	// Dynamic marks an export whose value is only known once the
	// constructor runs (spec §6 "Module export record": "tables of...
	// static symbol exports, dynamic symbol exports").
	Dynamic bool
}

// SymbolImportDecl is a statically declared import: the importer requires
// a compatible export to exist before its constructor can run (spec §4.3
// "Loading Set lifecycle", step 4a).
type SymbolImportDecl struct {
	Name      string
	Namespace string
	Required  version.Version
}

// ConstructorFunc allocates per-module state. Returning a non-nil error
// aborts the owning loading set's commit and triggers rollback (spec §4.3
// "Loading Set lifecycle", step 4c). set lets the constructor bind dynamic
// exports via set.BindDynamicExport.
type ConstructorFunc func(m *Module, set *LoadingSet) (state any, err error)

// DestructorFunc releases per-module state. Invoked on unload, and on
// rollback for any module whose constructor already ran in this commit.
type DestructorFunc func(m *Module, state any)

// ExportRecord is a module's declaration, the Go analogue of
// FimoModuleExport (spec §6 "Module export record"). A module built as a
// Go plugin registers one of these via internal/export.Register from its
// own init().
type ExportRecord struct {
	Name        string
	Description string
	Author      string
	License     string
	Version     version.Version

	Params           []ParamDecl
	Resources        map[string]string
	NamespaceImports []string
	SymbolImports    []SymbolImportDecl
	Exports          []SymbolExportDecl

	Constructor ConstructorFunc
	Destructor  DestructorFunc
}

type exportedSymbol struct {
	decl      SymbolExportDecl
	value     any
	lockCount atomic.Int64
}

// Info is the public, reference-counted module descriptor from spec §3
// "Module Info": {acquire, release, is_loaded, lock_unload, unlock_unload}.
type Info struct {
	name    string
	version version.Version
	rc      *refcount.AtomicCount

	registry *Registry

	// unloadPins counts outstanding lock_unload calls; Unload refuses to
	// proceed while it is nonzero.
	unloadPins atomic.Int64

	// mu guards the module pointer transition at unload time.
	mu     sync.RWMutex
	module *Module // nil once unloaded
}

// Name returns the module's unique name.
func (i *Info) Name() string { return i.name }

// Version returns the module's declared version.
func (i *Info) Version() version.Version { return i.version }

// Acquire increments the strong reference count.
func (i *Info) Acquire() { i.rc.IncStrong() }

// Release decrements the strong reference count. The registry itself holds
// one strong reference for the lifetime of a loaded module, so reaching
// zero here is a programming error (it would mean a caller released a
// reference that was never acquired); the tracked count therefore matches
// spec §8 invariant 3 ("M is in the registry iff M has strong refcount ≥
// 1 ..."): as long as the module is loaded, refcount never drops below 1.
func (i *Info) Release() { i.rc.DecStrong() }

// IsLoaded reports whether the module still has a live Module behind it.
func (i *Info) IsLoaded() bool {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.module != nil
}

// LockUnload pins the module against concurrent unload.
func (i *Info) LockUnload() { i.unloadPins.Add(1) }

// UnlockUnload releases a prior LockUnload pin.
func (i *Info) UnlockUnload() { i.unloadPins.Add(-1) }

func (i *Info) moduleRef() *Module {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.module
}

// Module returns the loaded Module behind this Info, or nil if it has
// since been unloaded.
func (i *Info) Module() *Module { return i.moduleRef() }

// Module is a loaded unit, identified by a unique name (spec §3 "Module").
type Module struct {
	info *Info

	mu sync.RWMutex

	params    map[string]*Param
	resources map[string]string

	// imports maps a symbol key to the resolved, version-checked exporter
	// this module imported it from.
	imports map[SymbolKey]*Info

	staticNamespaces map[string]struct{}
	dynNamespaces    map[string]int

	exports map[SymbolKey]*exportedSymbol

	// staticDeps/explicitDeps are dependency edges keyed by the target's
	// name. Static edges cannot be relinquished (spec §3 "Dependency
	// edge").
	staticDeps   map[string]struct{}
	explicitDeps map[string]struct{}

	state any
	destructor DestructorFunc
}

// Info returns the module's public descriptor.
func (m *Module) Info() *Info { return m.info }

// Name returns the module's unique name.
func (m *Module) Name() string { return m.info.name }

// State returns the opaque module-defined state returned by the
// constructor.
func (m *Module) State() any { return m.state }

// Resource returns the resource path registered under key.
func (m *Module) Resource(key string) (string, bool) {
	p, ok := m.resources[key]
	return p, ok
}

// DependencyNames returns the names of every module this one currently
// depends on, static and explicit edges combined.
func (m *Module) DependencyNames() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.staticDeps)+len(m.explicitDeps))
	for n := range m.staticDeps {
		names = append(names, n)
	}
	for n := range m.explicitDeps {
		names = append(names, n)
	}
	return names
}
