package module

import errs "github.com/fimoengine/fimo-sub001/errors"

// Unload removes a module from the registry, invoking its destructor. It
// requires the registry's own strong reference to be the last one
// outstanding (spec §8 invariant 3: "M is in the registry iff M has strong
// refcount ≥ 1 ...", so unload is only safe once external acquirers have
// released down to that floor) and no outstanding lock_unload pins from
// in-flight symbol loads (spec §4.3 "Symbol loading").
func (r *Registry) Unload(name string) error {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	info, ok := r.lookupLocked(name)
	if !ok {
		return errs.New(errs.NotFound, "module %q is not loaded", name)
	}
	if info.unloadPins.Load() != 0 {
		return errs.New(errs.Busy, "module %q has outstanding symbol locks", name)
	}
	if !info.rc.IsUnique() {
		return errs.New(errs.Busy, "module %q still has external references", name)
	}

	info.mu.Lock()
	m := info.module
	info.module = nil
	info.mu.Unlock()
	if m == nil {
		return nil
	}

	m.mu.RLock()
	staticTargets := make([]string, 0, len(m.staticDeps))
	for target := range m.staticDeps {
		staticTargets = append(staticTargets, target)
	}
	explicitTargets := make([]string, 0, len(m.explicitDeps))
	for target := range m.explicitDeps {
		explicitTargets = append(explicitTargets, target)
	}
	m.mu.RUnlock()

	if m.destructor != nil {
		m.destructor(m, m.state)
	}

	for _, target := range staticTargets {
		if depInfo, err := r.FindByName(target); err == nil {
			depInfo.Release()
		}
	}
	for _, target := range explicitTargets {
		if depInfo, err := r.FindByName(target); err == nil {
			depInfo.Release()
		}
	}

	r.modules.Del(name)
	return nil
}
