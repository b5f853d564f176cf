package module

import errs "github.com/fimoengine/fimo-sub001/errors"

// IncludeNamespace dynamically includes ns for m, letting it load symbols
// exported under ns (spec §3 "Namespace"). Idempotent: including an
// already-included namespace (static or dynamic) just bumps the dynamic
// reference count, except a namespace declared statically in the export
// record never needs a dynamic count since it can't be excluded anyway.
func (m *Module) IncludeNamespace(ns string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, static := m.staticNamespaces[ns]; static {
		return nil
	}
	m.dynNamespaces[ns]++
	return nil
}

// ExcludeNamespace undoes one IncludeNamespace call. Excluding a namespace
// the module declared statically fails with Static: static inclusions
// are part of the export record and cannot be relinquished (spec §3
// "Dependency edge", applied analogously to namespace inclusion).
func (m *Module) ExcludeNamespace(ns string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, static := m.staticNamespaces[ns]; static {
		return errs.New(errs.Static, "namespace %q was statically included by %q", ns, m.Name())
	}
	n, ok := m.dynNamespaces[ns]
	if !ok || n == 0 {
		return errs.New(errs.NotFound, "namespace %q is not included by %q", ns, m.Name())
	}
	if n == 1 {
		delete(m.dynNamespaces, ns)
	} else {
		m.dynNamespaces[ns] = n - 1
	}
	return nil
}

// NamespaceIncluded reports whether ns is included (dynamically or
// statically) and whether that inclusion is static (spec §4.3
// "namespace_included").
func (m *Module) NamespaceIncluded(ns string) (included bool, static bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if _, ok := m.staticNamespaces[ns]; ok {
		return true, true
	}
	n, ok := m.dynNamespaces[ns]
	return ok && n > 0, false
}
