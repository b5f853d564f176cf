package module

import (
	"testing"

	"github.com/stretchr/testify/require"

	errs "github.com/fimoengine/fimo-sub001/errors"
	"github.com/fimoengine/fimo-sub001/version"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	r, err := NewRegistry(2, nil)
	require.NoError(t, err)
	t.Cleanup(r.Close)
	return r
}

func constructorOK(state any) ConstructorFunc {
	return func(m *Module, set *LoadingSet) (any, error) { return state, nil }
}

func TestLoadingSetCommitResolvesStaticImportAndAcquiresSymbol(t *testing.T) {
	r := newTestRegistry(t)
	set := NewLoadingSet(r, nil)

	provider := ExportRecord{
		Name:    "provider",
		Version: version.New(1, 0, 0),
		Exports: []SymbolExportDecl{
			{Name: "greet", Namespace: "ns", Version: version.New(1, 0, 0), Value: "hello"},
		},
		Constructor: constructorOK(nil),
	}
	consumer := ExportRecord{
		Name:    "consumer",
		Version: version.New(1, 0, 0),
		NamespaceImports: []string{"ns"},
		SymbolImports: []SymbolImportDecl{
			{Name: "greet", Namespace: "ns", Required: version.New(1, 0, 0)},
		},
		Constructor: constructorOK(nil),
	}

	require.NoError(t, set.AppendFreestandingModule(nil, provider))
	require.NoError(t, set.AppendFreestandingModule(nil, consumer))
	require.NoError(t, set.Finish())

	providerInfo, err := r.FindByName("provider")
	require.NoError(t, err)
	consumerInfo, err := r.FindByName("consumer")
	require.NoError(t, err)

	// The commit bumped provider's strong refcount for consumer's static edge.
	require.EqualValues(t, 2, providerInfo.rc.Strong())

	lock, err := LoadSymbol(consumerInfo.module, "greet", "ns", version.New(1, 0, 0))
	require.NoError(t, err)
	require.Equal(t, "hello", lock.Value())

	// Provider is pinned while the lock is outstanding.
	require.Error(t, r.Unload("provider"))
	lock.Release()

	// Unloading consumer releases its static edge on provider, bringing
	// provider back down to the registry's own reference.
	require.NoError(t, r.Unload("consumer"))
	require.NoError(t, r.Unload("provider"))
}

func TestLoadingSetRollsBackOnConstructorFailure(t *testing.T) {
	r := newTestRegistry(t)
	set := NewLoadingSet(r, nil)

	var destroyedA, destroyedB bool
	a := ExportRecord{
		Name:        "a",
		Version:     version.New(1, 0, 0),
		Constructor: constructorOK(nil),
		Destructor:  func(m *Module, state any) { destroyedA = true },
	}
	b := ExportRecord{
		Name:        "b",
		Version:     version.New(1, 0, 0),
		Constructor: constructorOK(nil),
		Destructor:  func(m *Module, state any) { destroyedB = true },
	}
	failing := ExportRecord{
		Name:    "failing",
		Version: version.New(1, 0, 0),
		Constructor: func(m *Module, set *LoadingSet) (any, error) {
			return nil, errs.New(errs.Internal, "boom")
		},
	}

	require.NoError(t, set.AppendFreestandingModule(nil, a))
	require.NoError(t, set.AppendFreestandingModule(nil, b))
	require.NoError(t, set.AppendFreestandingModule(nil, failing))

	var erroredNames []string
	require.NoError(t, set.AppendCallback("a", nil, func(rec ExportRecord) { erroredNames = append(erroredNames, rec.Name) }))
	require.NoError(t, set.AppendCallback("b", nil, func(rec ExportRecord) { erroredNames = append(erroredNames, rec.Name) }))
	require.NoError(t, set.AppendCallback("failing", nil, func(rec ExportRecord) { erroredNames = append(erroredNames, rec.Name) }))

	err := set.Finish()
	require.Error(t, err)
	require.True(t, destroyedA)
	require.True(t, destroyedB)
	require.ElementsMatch(t, []string{"a", "b", "failing"}, erroredNames)

	_, err = r.FindByName("a")
	require.Error(t, err)
	_, err = r.FindByName("failing")
	require.Error(t, err)
}

func TestLoadingSetRefusesUnresolvedImport(t *testing.T) {
	r := newTestRegistry(t)
	set := NewLoadingSet(r, nil)

	consumer := ExportRecord{
		Name:    "consumer",
		Version: version.New(1, 0, 0),
		SymbolImports: []SymbolImportDecl{
			{Name: "missing", Namespace: "ns", Required: version.New(1, 0, 0)},
		},
		Constructor: constructorOK(nil),
	}
	require.NoError(t, set.AppendFreestandingModule(nil, consumer))
	err := set.Finish()
	require.Error(t, err)
	require.Equal(t, errs.Unresolved, errs.CodeOf(err))
}

func TestDependencyAcquireRefusesCycle(t *testing.T) {
	r := newTestRegistry(t)
	aInfo, aMod, err := NewPseudoModule(r, "a")
	require.NoError(t, err)
	bInfo, bMod, err := NewPseudoModule(r, "b")
	require.NoError(t, err)

	require.NoError(t, aMod.AcquireDependency(bInfo))
	err = bMod.AcquireDependency(aInfo)
	require.Error(t, err)
	require.Equal(t, errs.Cycle, errs.CodeOf(err))

	require.NoError(t, aMod.RelinquishDependency(bInfo))
}

func TestExportFilterDataFilter(t *testing.T) {
	fd, err := DecodeFilterData(map[string]any{
		"names_allowed":     []string{"wanted"},
		"min_version_major": 1,
	})
	require.NoError(t, err)
	filter := fd.Filter()

	require.True(t, filter(ExportRecord{Name: "wanted", Version: version.New(1, 0, 0)}))
	require.False(t, filter(ExportRecord{Name: "unwanted", Version: version.New(1, 0, 0)}))
	require.False(t, filter(ExportRecord{Name: "wanted", Version: version.New(0, 5, 0)}))
}

func TestDestroyPseudoModuleUnwindsExplicitDeps(t *testing.T) {
	r := newTestRegistry(t)
	aInfo, aMod, err := NewPseudoModule(r, "a")
	require.NoError(t, err)
	bInfo, _, err := NewPseudoModule(r, "b")
	require.NoError(t, err)

	require.NoError(t, aMod.AcquireDependency(bInfo))
	require.EqualValues(t, 2, bInfo.rc.Strong()) // registry + a's explicit edge

	require.NoError(t, DestroyPseudoModule(r, aInfo))
	require.EqualValues(t, 1, bInfo.rc.Strong()) // edge released, only registry's own left

	_, err = r.FindByName("a")
	require.Error(t, err)
}

func TestParamAccessMatrix(t *testing.T) {
	owner := &Module{info: &Info{name: "owner"}, params: map[string]*Param{}}
	other := &Module{info: &Info{name: "other"}, params: map[string]*Param{}}

	priv := &Param{owner: owner, typ: ParamU32, read: AccessPrivate, write: AccessPrivate}
	priv.value.Store(7)

	v, err := priv.Get(owner)
	require.NoError(t, err)
	require.EqualValues(t, 7, v)

	_, err = priv.Get(other)
	require.Error(t, err)
	require.Equal(t, errs.Forbidden, errs.CodeOf(err))

	dep := &Param{owner: owner, typ: ParamU32, read: AccessDependency, write: AccessPrivate}
	_, err = dep.Get(other)
	require.Error(t, err)

	other.staticDeps = map[string]struct{}{}
	other.explicitDeps = map[string]struct{}{owner.Name(): {}}
	_, err = dep.Get(other)
	require.NoError(t, err)

	pub := &Param{owner: owner, typ: ParamU32, read: AccessPublic, write: AccessPublic}
	require.NoError(t, pub.Set(other, 42))
	v, err = pub.Get(other)
	require.NoError(t, err)
	require.EqualValues(t, 42, v)
}

func TestNamespaceIncludeExclude(t *testing.T) {
	m := &Module{
		info:             &Info{name: "m"},
		staticNamespaces: map[string]struct{}{"static-ns": {}},
		dynNamespaces:    map[string]int{},
	}
	require.NoError(t, m.IncludeNamespace("dyn-ns"))
	included, static := m.NamespaceIncluded("dyn-ns")
	require.True(t, included)
	require.False(t, static)

	require.NoError(t, m.ExcludeNamespace("dyn-ns"))
	included, _ = m.NamespaceIncluded("dyn-ns")
	require.False(t, included)

	err := m.ExcludeNamespace("static-ns")
	require.Error(t, err)
	require.Equal(t, errs.Static, errs.CodeOf(err))
}
