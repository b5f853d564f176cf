package module

import errs "github.com/fimoengine/fimo-sub001/errors"

// AcquireDependency adds an explicit dependency edge from m to target,
// incrementing target's strong refcount. Explicit edges, unlike the static
// edges resolved at commit time, can later be relinquished (spec §3
// "Dependency edge").
func (m *Module) AcquireDependency(target *Info) error {
	if target == nil || !target.IsLoaded() {
		return errs.New(errs.NotFound, "dependency target is not loaded")
	}
	if target.Name() == m.Name() {
		return errs.New(errs.InvalidArgument, "module %q cannot depend on itself", m.Name())
	}
	if reaches(target, m.Name(), map[string]struct{}{}) {
		return errs.New(errs.Cycle, "acquiring %q from %q would create a dependency cycle", target.Name(), m.Name())
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.staticDeps[target.Name()]; ok {
		return nil // already a static (stronger) edge
	}
	if _, ok := m.explicitDeps[target.Name()]; ok {
		return errs.New(errs.AlreadyExists, "module %q already depends on %q", m.Name(), target.Name())
	}
	target.Acquire()
	m.explicitDeps[target.Name()] = struct{}{}
	return nil
}

// RelinquishDependency removes a previously acquired explicit edge,
// decrementing target's strong refcount. Relinquishing a static edge fails
// with Static (spec §3 "Dependency edge": static edges are
// non-relinquishable).
func (m *Module) RelinquishDependency(target *Info) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.staticDeps[target.Name()]; ok {
		return errs.New(errs.Static, "module %q statically depends on %q", m.Name(), target.Name())
	}
	if _, ok := m.explicitDeps[target.Name()]; !ok {
		return errs.New(errs.NotFound, "module %q does not depend on %q", m.Name(), target.Name())
	}
	delete(m.explicitDeps, target.Name())
	target.Release()
	return nil
}

// HasDependency reports whether m currently depends on targetName, either
// statically or explicitly.
func (m *Module) HasDependency(targetName string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if _, ok := m.staticDeps[targetName]; ok {
		return true
	}
	_, ok := m.explicitDeps[targetName]
	return ok
}

// reaches walks target's own dependency edges looking for wantName,
// refusing an acquire that would close a cycle back to the acquiring
// module (spec §4.3 "Loading Set lifecycle" step 4b extends the same
// acyclicity requirement to post-load explicit acquisition).
func reaches(target *Info, wantName string, seen map[string]struct{}) bool {
	if _, visited := seen[target.Name()]; visited {
		return false
	}
	seen[target.Name()] = struct{}{}

	m := target.moduleRef()
	if m == nil {
		return false
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	for name := range m.staticDeps {
		if name == wantName {
			return true
		}
	}
	for name := range m.explicitDeps {
		if name == wantName {
			return true
		}
	}
	for name := range m.staticDeps {
		if dep, err := target.registry.FindByName(name); err == nil && reaches(dep, wantName, seen) {
			return true
		}
	}
	for name := range m.explicitDeps {
		if dep, err := target.registry.FindByName(name); err == nil && reaches(dep, wantName, seen) {
			return true
		}
	}
	return false
}
