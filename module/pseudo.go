package module

import (
	"github.com/fimoengine/fimo-sub001/refcount"
	"github.com/fimoengine/fimo-sub001/version"
)

// NewPseudoModule creates a host-owned stand-in module with no declared
// parameters, resources or exports, and no constructor/destructor (spec §3
// "Pseudo-module"). It exists only so host code can participate in
// dependency and symbol acquisition through the same Module API real
// modules use, and is published into r directly since it never goes
// through a LoadingSet commit.
func NewPseudoModule(r *Registry, name string) (*Info, *Module, error) {
	info := &Info{name: name, version: version.New(0, 0, 0), registry: r}
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
	}
	info.module = m

	r.modules.Set(name, info)
	return info, m, nil
}

// DestroyPseudoModule unwinds every explicit dependency edge the
// pseudo-module still holds and removes it from the registry (spec §3
// "Pseudo-module"). It returns only an error; no Context handle is
// returned.
func DestroyPseudoModule(r *Registry, info *Info) error {
	m := info.moduleRef()
	if m != nil {
		m.mu.Lock()
		targets := make([]string, 0, len(m.explicitDeps))
		for target := range m.explicitDeps {
			targets = append(targets, target)
		}
		for _, target := range targets {
			delete(m.explicitDeps, target)
		}
		m.mu.Unlock()

		for _, target := range targets {
			if depInfo, err := r.FindByName(target); err == nil {
				depInfo.Release()
			}
		}
	}
	r.modules.Del(info.Name())
	return nil
}
