package context

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fimoengine/fimo-sub001/config"
	"github.com/fimoengine/fimo-sub001/module"
	"github.com/fimoengine/fimo-sub001/version"
)

func TestInitAndRelease(t *testing.T) {
	ctx, err := Init(config.Default(), nil)
	require.NoError(t, err)
	require.NotNil(t, ctx.Modules())
	require.NotNil(t, ctx.Tracing())

	clone := ctx.Acquire()
	require.Same(t, ctx, clone)

	clone.Release()
	ctx.Release()
}

func TestCheckVersionRejectsIncompatibleMajor(t *testing.T) {
	ctx, err := Init(config.Default(), nil)
	require.NoError(t, err)
	defer ctx.Release()

	require.NoError(t, ctx.CheckVersion(version.New(0, 1, 0)))
	require.Error(t, ctx.CheckVersion(version.New(9, 0, 0)))
}

func TestLoadingSetThroughContext(t *testing.T) {
	ctx, err := Init(config.Default(), nil)
	require.NoError(t, err)
	defer ctx.Release()

	set := ctx.NewLoadingSet()
	rec := module.ExportRecord{
		Name:        "demo",
		Version:     version.New(1, 0, 0),
		Constructor: func(m *module.Module, s *module.LoadingSet) (any, error) { return nil, nil },
	}
	require.NoError(t, set.AppendFreestandingModule(nil, rec))
	require.NoError(t, set.Finish())

	info, err := ctx.Modules().FindByName("demo")
	require.NoError(t, err)
	require.Equal(t, "demo", info.Name())
}
