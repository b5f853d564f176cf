package module

import (
	errs "github.com/fimoengine/fimo-sub001/errors"
	"github.com/fimoengine/fimo-sub001/version"
)

// SymbolLock pins an exported symbol against unload for as long as it is
// held. Release must be called exactly once (spec §4.3 "Symbol loading":
// "acquiring a symbol blocks the exporter's unload until released").
type SymbolLock struct {
	exporter *Info
	sym      *exportedSymbol
	value    any
	released bool
}

// Value returns the symbol's bound value: the static declaration's Value,
// or whatever the constructor supplied via LoadingSet.BindDynamicExport for
// a dynamic export.
func (l *SymbolLock) Value() any { return l.value }

// Release unpins the symbol. Safe to call once; a second call is a no-op.
func (l *SymbolLock) Release() {
	if l.released {
		return
	}
	l.released = true
	l.sym.lockCount.Add(-1)
	l.exporter.UnlockUnload()
}

// LoadSymbol resolves (name, ns) against importer's declared static or
// dynamic namespace inclusions and dependency edges, checks version
// compatibility, and returns a SymbolLock pinning the exporter (spec §4.3
// "Symbol loading"). The importer must already depend on the exporter (a
// static import, or an acquired explicit dependency) and must have the
// symbol's namespace included.
func LoadSymbol(importer *Module, name, ns string, required version.Version) (*SymbolLock, error) {
	importer.mu.RLock()
	_, nsIncluded := importer.staticNamespaces[ns]
	if !nsIncluded {
		_, nsIncluded = importer.dynNamespaces[ns]
	}
	importer.mu.RUnlock()
	if !nsIncluded {
		return nil, errs.New(errs.NotFound, "namespace %q is not included by %q", ns, importer.Name())
	}

	key := SymbolKey{Name: name, Namespace: ns}
	if exp, ok := importer.imports[key]; ok {
		return lockFrom(exp, key, required)
	}

	importer.mu.RLock()
	deps := make([]string, 0, len(importer.staticDeps)+len(importer.explicitDeps))
	for d := range importer.staticDeps {
		deps = append(deps, d)
	}
	for d := range importer.explicitDeps {
		deps = append(deps, d)
	}
	registry := importer.info.registry
	importer.mu.RUnlock()

	for _, depName := range deps {
		info, err := registry.FindByName(depName)
		if err != nil {
			continue
		}
		if lock, err := lockFrom(info, key, required); err == nil {
			return lock, nil
		}
	}
	return nil, errs.New(errs.NotFound, "no acquired dependency of %q exports %s/%s", importer.Name(), ns, name)
}

func lockFrom(exporter *Info, key SymbolKey, required version.Version) (*SymbolLock, error) {
	exporter.LockUnload()
	m := exporter.moduleRef()
	if m == nil {
		exporter.UnlockUnload()
		return nil, errs.New(errs.NotFound, "module %q is unloaded", exporter.Name())
	}

	m.mu.RLock()
	sym, ok := m.exports[key]
	m.mu.RUnlock()
	if !ok {
		exporter.UnlockUnload()
		return nil, errs.New(errs.NotFound, "module %q exports no %s/%s", exporter.Name(), key.Namespace, key.Name)
	}
	if !version.Compatible(sym.decl.Version, required) {
		exporter.UnlockUnload()
		return nil, errs.New(errs.VersionMismatch, "export %s/%s version %s incompatible with required %s",
			key.Namespace, key.Name, sym.decl.Version, required)
	}

	sym.lockCount.Add(1)
	return &SymbolLock{exporter: exporter, sym: sym, value: sym.value}, nil
}
