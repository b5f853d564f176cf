package module

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	errs "github.com/fimoengine/fimo-sub001/errors"
	"github.com/fimoengine/fimo-sub001/internal/export"
	"github.com/fimoengine/fimo-sub001/refcount"
	"github.com/fimoengine/fimo-sub001/tracing"
	"github.com/fimoengine/fimo-sub001/version"
)

type lsState int

const (
	lsOpen lsState = iota
	lsDismissed
	lsFinished
	lsFailed
)

// SuccessCallback is invoked once set_finish commits, for every module that
// registered one via AppendCallback.
type SuccessCallback func(info *Info)

// ErrorCallback is invoked when a module's constructor fails, or when its
// successful construction is rolled back because a later module in the
// same set failed.
type ErrorCallback func(rec ExportRecord)

type callbackEntry struct {
	onSuccess SuccessCallback
	onError   ErrorCallback
}

type stagedModule struct {
	rec    ExportRecord
	fromNS string // shared-object path the record was scanned from, empty for freestanding

	// populated during commit
	info   *Info
	module *Module
}

// LoadingSet is the transactional staging area from spec §3 "Loading Set"
// and §4.3 "Loading Set lifecycle". It is either open (accepting appends),
// dismissed (rolled back, no callbacks run), finished (committed), or
// failed (Finish returned an error); only an open set accepts calls.
type LoadingSet struct {
	id       uuid.UUID
	registry *Registry
	tracing  *tracing.State

	mu      sync.Mutex // guards staged/staged2 against concurrent AppendModulesConcurrent scans
	state   lsState
	staged  []*stagedModule
	staged2 map[string]*stagedModule // name -> stagedModule, for O(1) lookup
	cbs     map[string]*callbackEntry
}

// NewLoadingSet opens a new set bound to r (spec §4.3 "set_new").
func NewLoadingSet(r *Registry, tr *tracing.State) *LoadingSet {
	return &LoadingSet{
		id:       uuid.New(),
		registry: r,
		tracing:  tr,
		state:    lsOpen,
		staged2:  map[string]*stagedModule{},
		cbs:      map[string]*callbackEntry{},
	}
}

func (s *LoadingSet) requireOpen() error {
	if s.state != lsOpen {
		return errs.New(errs.InvalidArgument, "loading set is not open")
	}
	return nil
}

// HasModule reports whether name is already staged in this set.
func (s *LoadingSet) HasModule(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.staged2[name]
	return ok
}

// HasSymbol reports whether a staged module in this set declares an export
// with the given name and namespace, whatever its version.
func (s *LoadingSet) HasSymbol(name, ns string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sm := range s.staged {
		for _, e := range sm.rec.Exports {
			if e.Name == name && e.Namespace == ns {
				return true
			}
		}
	}
	return false
}

// AppendModules scans the export declarations registered under path (see
// internal/export), invokes filter on each, and appends every accepted
// declaration to the set (spec §4.3 "set_append_modules").
func (s *LoadingSet) AppendModules(path string, filter func(ExportRecord) bool) error {
	if err := s.requireOpen(); err != nil {
		return err
	}
	unlock, err := s.registry.lockPath(context.Background(), path)
	if err != nil {
		return err
	}
	defer unlock()

	for _, raw := range export.Registered(path) {
		rec, ok := raw.(ExportRecord)
		if !ok {
			continue
		}
		if filter != nil && !filter(rec) {
			continue
		}
		if err := s.stage(rec, path); err != nil {
			return err
		}
	}
	return nil
}

// AppendModulesConcurrent scans several shared-object paths concurrently —
// the parallelizable phase of loading-set staging mentioned in SPEC_FULL
// §1 ("export-section scanning across multiple set_append_modules paths")
// — before the strictly sequential commit in Finish. At most as many paths
// as the registry's scan pool capacity are scanned at once.
func (s *LoadingSet) AppendModulesConcurrent(paths []string, filter func(ExportRecord) bool) error {
	if err := s.requireOpen(); err != nil {
		return err
	}
	g := new(errgroup.Group)
	g.SetLimit(s.registry.pool.Cap())
	for _, path := range paths {
		path := path
		g.Go(func() error { return s.AppendModules(path, filter) })
	}
	return g.Wait()
}

// AppendFreestandingModule appends a single in-process export declaration
// contributed by origin (an already-loaded module acting as a dynamic
// module factory), per spec §4.3 "set_append_freestanding_module".
func (s *LoadingSet) AppendFreestandingModule(origin *Module, rec ExportRecord) error {
	if err := s.requireOpen(); err != nil {
		return err
	}
	_ = origin // origin is not used by this port
	return s.stage(rec, "")
}

func (s *LoadingSet) stage(rec ExportRecord, from string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rec.Name == "" {
		return errs.New(errs.InvalidArgument, "export record has no name")
	}
	if _, ok := s.staged2[rec.Name]; ok {
		return errs.New(errs.AlreadyExists, "module %q is already staged in this set", rec.Name)
	}
	if _, err := s.registry.FindByName(rec.Name); err == nil {
		return errs.New(errs.AlreadyExists, "module %q is already loaded", rec.Name)
	}
	sm := &stagedModule{rec: rec, fromNS: from}
	s.staged = append(s.staged, sm)
	s.staged2[rec.Name] = sm
	return nil
}

// AppendCallback registers success/error callbacks for a module named
// moduleName, which must already be (or will be) staged before Finish runs
// (spec §4.3 "set_append_callback").
func (s *LoadingSet) AppendCallback(moduleName string, onSuccess SuccessCallback, onError ErrorCallback) error {
	if err := s.requireOpen(); err != nil {
		return err
	}
	s.cbs[moduleName] = &callbackEntry{onSuccess: onSuccess, onError: onError}
	return nil
}

// Dismiss discards the set: no callbacks run, staged exports are released
// (spec §4.3 "set_dismiss").
func (s *LoadingSet) Dismiss() error {
	if err := s.requireOpen(); err != nil {
		return err
	}
	s.state = lsDismissed
	s.staged = nil
	s.staged2 = nil
	s.cbs = nil
	return nil
}

// Finish commits the set: resolve imports, topologically order, construct
// in order, rolling back on first failure (spec §4.3 "Loading Set
// lifecycle", step 4, the commit algorithm).
func (s *LoadingSet) Finish() error {
	if err := s.requireOpen(); err != nil {
		return err
	}

	// Phase 1: independent per-module structural validation, parallelized
	// since no staged module depends on another's validation outcome yet.
	if err := s.validateStaged(); err != nil {
		s.state = lsFailed
		return err
	}

	// Phase 2 (sequential, needs the full staged+registry view): resolve
	// static imports, then topologically order by those edges.
	order, err := s.topoOrder()
	if err != nil {
		s.state = lsFailed
		return err
	}

	// Phase 3 (strictly sequential per spec §4.3.4c): construct in order,
	// rolling back everything already committed in this call on first
	// failure.
	committed := make([]*stagedModule, 0, len(order))
	for _, sm := range order {
		info, mod, cerr := s.construct(sm)
		if cerr != nil {
			s.invokeError(sm, cerr)
			s.rollback(committed)
			s.state = lsFailed
			return errs.Wrap(errs.Internal, cerr, "construct module %q", sm.rec.Name)
		}
		sm.info, sm.module = info, mod
		committed = append(committed, sm)
	}

	// Commit: publish into the registry, bump static-dependency refcounts,
	// fire on_success callbacks in topological order (spec's Open Question
	// (b): "some order consistent with the topological order").
	for _, sm := range committed {
		s.publish(sm)
	}
	for _, sm := range committed {
		for target := range sm.module.staticDeps {
			if depInfo, derr := s.registry.FindByName(target); derr == nil {
				depInfo.Acquire()
			}
		}
	}
	for _, sm := range committed {
		if cb, ok := s.cbs[sm.rec.Name]; ok && cb.onSuccess != nil {
			cb.onSuccess(sm.info)
		}
	}

	s.state = lsFinished
	return nil
}

func (s *LoadingSet) validateStaged() error {
	g := new(errgroup.Group)
	for _, sm := range s.staged {
		sm := sm
		g.Go(func() error {
			if sm.rec.Constructor == nil {
				return errs.New(errs.InvalidArgument, "module %q has no constructor", sm.rec.Name)
			}
			seen := map[string]struct{}{}
			for _, p := range sm.rec.Params {
				if _, dup := seen[p.Name]; dup {
					return errs.New(errs.AlreadyExists, "module %q declares parameter %q twice", sm.rec.Name, p.Name)
				}
				seen[p.Name] = struct{}{}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return nil
}

func (s *LoadingSet) topoOrder() ([]*stagedModule, error) {
	// Build edges: importer -> exporter name, derived from each staged
	// module's declared SymbolImports' namespace/name resolving to a
	// staged or already-loaded exporter.
	deps := map[string]map[string]struct{}{}
	for _, sm := range s.staged {
		deps[sm.rec.Name] = map[string]struct{}{}
		for _, imp := range sm.rec.SymbolImports {
			exporterName, err := s.exporterOf(imp)
			if err != nil {
				return nil, errs.New(errs.Unresolved, "module %q: %v", sm.rec.Name, err)
			}
			if exporterName != "" && exporterName != sm.rec.Name {
				if _, stillStaged := s.staged2[exporterName]; stillStaged {
					deps[sm.rec.Name][exporterName] = struct{}{}
				}
			}
		}
	}

	// Kahn's algorithm.
	indeg := map[string]int{}
	for name := range deps {
		indeg[name] = 0
	}
	// indeg[x] = number of modules x depends on (edges point importer->exporter;
	// we need exporter constructed before importer, i.e. process exporters
	// first, so treat "depends on" as the in-degree driver for the importer).
	for name, edges := range deps {
		indeg[name] = len(edges)
	}

	// Walking s.staged (append order) rather than ranging over the maps
	// keeps the resulting order deterministic: Go map iteration order is
	// randomized, and a stable order is what makes rollback side effects
	// (which modules got constructed before a later failure) predictable.
	var ready []string
	for _, sm := range s.staged {
		if indeg[sm.rec.Name] == 0 {
			ready = append(ready, sm.rec.Name)
		}
	}
	// reverse-edges: exporter -> importers waiting on it
	waiting := map[string][]string{}
	for _, sm := range s.staged {
		for exporter := range deps[sm.rec.Name] {
			waiting[exporter] = append(waiting[exporter], sm.rec.Name)
		}
	}

	var order []string
	for len(ready) > 0 {
		name := ready[0]
		ready = ready[1:]
		order = append(order, name)
		for _, importer := range waiting[name] {
			indeg[importer]--
			if indeg[importer] == 0 {
				ready = append(ready, importer)
			}
		}
	}
	if len(order) != len(deps) {
		return nil, errs.New(errs.Cycle, "dependency cycle detected among staged modules")
	}

	result := make([]*stagedModule, 0, len(order))
	for _, name := range order {
		result = append(result, s.staged2[name])
	}
	return result, nil
}

func (s *LoadingSet) exporterOf(imp SymbolImportDecl) (string, error) {
	for _, sm := range s.staged {
		for _, e := range sm.rec.Exports {
			if e.Name == imp.Name && e.Namespace == imp.Namespace && version.Compatible(e.Version, imp.Required) {
				return sm.rec.Name, nil
			}
		}
	}
	if info, err := s.registry.FindBySymbol(imp.Name, imp.Namespace, imp.Required); err == nil {
		return info.Name(), nil
	}
	return "", fmt.Errorf("unresolved import %s/%s", imp.Namespace, imp.Name)
}

func (s *LoadingSet) construct(sm *stagedModule) (*Info, *Module, error) {
	info := &Info{name: sm.rec.Name, version: sm.rec.Version, registry: s.registry}
	info.rc = refcount.NewAtomic()

	m := &Module{
		info:             info,
		params:           map[string]*Param{},
		resources:        map[string]string{},
		imports:          map[SymbolKey]*Info{},
		staticNamespaces: map[string]struct{}{},
		dynNamespaces:    map[string]int{},
		exports:          map[SymbolKey]*exportedSymbol{},
		staticDeps:       map[string]struct{}{},
		explicitDeps:     map[string]struct{}{},
		destructor:       sm.rec.Destructor,
	}
	info.module = m

	for _, pd := range sm.rec.Params {
		p := &Param{owner: m, typ: pd.Type, read: pd.Read, write: pd.Write}
		p.value.Store(pd.Default)
		m.params[pd.Name] = p
	}
	for name, path := range sm.rec.Resources {
		m.resources[name] = path
	}
	for _, ns := range sm.rec.NamespaceImports {
		m.staticNamespaces[ns] = struct{}{}
	}
	for _, e := range sm.rec.Exports {
		key := SymbolKey{Name: e.Name, Namespace: e.Namespace}
		m.exports[key] = &exportedSymbol{decl: e, value: e.Value}
	}
	// Record static dependency edges and bind static imports.
	for _, imp := range sm.rec.SymbolImports {
		exporterName, _ := s.exporterOf(imp)
		var exporterInfo *Info
		if other, ok := s.staged2[exporterName]; ok && other.info != nil {
			exporterInfo = other.info
		} else if info, err := s.registry.FindByName(exporterName); err == nil {
			exporterInfo = info
		}
		if exporterInfo != nil {
			m.imports[SymbolKey{Name: imp.Name, Namespace: imp.Namespace}] = exporterInfo
			m.staticDeps[exporterName] = struct{}{}
		}
	}

	state, err := sm.rec.Constructor(m, s)
	if err != nil {
		return nil, nil, err
	}
	m.state = state
	return info, m, nil
}

// BindDynamicExport lets a constructor supply the runtime value of an
// export declared Dynamic (spec §6 "Module export record").
func (s *LoadingSet) BindDynamicExport(m *Module, name, ns string, value any) error {
	key := SymbolKey{Name: name, Namespace: ns}
	m.mu.Lock()
	defer m.mu.Unlock()
	sym, ok := m.exports[key]
	if !ok {
		return errs.New(errs.NotFound, "module %q declares no export %s/%s", m.Name(), ns, name)
	}
	if !sym.decl.Dynamic {
		return errs.New(errs.InvalidArgument, "export %s/%s is static, not dynamic", ns, name)
	}
	sym.value = value
	return nil
}

func (s *LoadingSet) publish(sm *stagedModule) {
	s.registry.modules.Set(sm.rec.Name, sm.info)
}

func (s *LoadingSet) invokeError(sm *stagedModule, _ error) {
	if cb, ok := s.cbs[sm.rec.Name]; ok && cb.onError != nil {
		cb.onError(sm.rec)
	}
}

// rollback undoes already-committed (constructed) modules in reverse
// order: destructor, then on_error — per spec §4.3.4c.
func (s *LoadingSet) rollback(committed []*stagedModule) {
	for i := len(committed) - 1; i >= 0; i-- {
		sm := committed[i]
		if sm.module.destructor != nil {
			sm.module.destructor(sm.module, sm.module.state)
		}
		s.invokeError(sm, nil)
	}
}
